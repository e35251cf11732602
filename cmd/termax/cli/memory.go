package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/termax/internal/memory"
)

var (
	peekLimit   int
	searchLimit int
	confirmed   bool
)

var memoryCmd = &cobra.Command{
	Use:   "memory",
	Short: "Inspect and manage remembered commands",
}

// withMemory opens the configured memory for the duration of fn.
func withMemory(cmd *cobra.Command, fn func(h *memoryHandle) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	obs := newObserver(cmd)
	defer obs.Close()

	h, err := openMemory(cmd.Context(), cfg, obs)
	if err != nil {
		return err
	}
	defer h.Close()
	return fn(h)
}

var memoryCountCmd = &cobra.Command{
	Use:   "count",
	Short: "Print the number of remembered commands",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withMemory(cmd, func(h *memoryHandle) error {
			n, err := h.Size(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), n)
			return nil
		})
	},
}

var memoryPeekCmd = &cobra.Command{
	Use:   "peek",
	Short: "List the oldest remembered commands",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withMemory(cmd, func(h *memoryHandle) error {
			items, err := h.Peek(cmd.Context(), peekLimit)
			if err != nil {
				return err
			}
			return printInteractions(cmd.OutOrStdout(), items, false)
		})
	},
}

var memorySearchCmd = &cobra.Command{
	Use:   "search [text...]",
	Short: "Show the remembered requests most similar to text",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withMemory(cmd, func(h *memoryHandle) error {
			items, err := h.Recall(cmd.Context(), strings.Join(args, " "), searchLimit)
			if err != nil {
				return err
			}
			return printInteractions(cmd.OutOrStdout(), items, true)
		})
	},
}

var memoryGetCmd = &cobra.Command{
	Use:   "get [id]",
	Short: "Show one remembered command",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withMemory(cmd, func(h *memoryHandle) error {
			item, err := h.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printInteractions(cmd.OutOrStdout(), []memory.Interaction{item}, false)
		})
	},
}

var memoryForgetCmd = &cobra.Command{
	Use:   "forget",
	Short: "Drop every remembered command of the current collection",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withMemory(cmd, func(h *memoryHandle) error {
			n, err := h.Forget(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Forgot %d commands\n", n)
			return nil
		})
	},
}

var memoryResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Delete every collection in the memory database",
	Long: `Delete every collection in the memory database. Requires --yes and
general.allow_reset (or TERMAX_ALLOW_RESET=true).`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if !confirmed {
			return fmt.Errorf("refusing to reset without --yes")
		}
		return withMemory(cmd, func(h *memoryHandle) error {
			if err := h.index.Reset(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Memory reset")
			return nil
		})
	},
}

func printInteractions(out io.Writer, items []memory.Interaction, scored bool) error {
	if jsonOutput {
		if items == nil {
			items = []memory.Interaction{}
		}
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(items)
	}

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	header := "ID\tCREATED\tREQUEST\tCOMMAND"
	if scored {
		header = "SCORE\t" + header
	}
	fmt.Fprintln(w, header)
	for _, it := range items {
		row := fmt.Sprintf("%s\t%s\t%s\t%s", it.ID, it.CreatedAt.Local().Format(time.DateTime), it.Query, it.Response)
		if scored {
			row = fmt.Sprintf("%.3f\t%s", it.Score, row)
		}
		fmt.Fprintln(w, row)
	}
	return w.Flush()
}

func init() {
	RootCmd.AddCommand(memoryCmd)
	memoryCmd.AddCommand(memoryCountCmd, memoryPeekCmd, memorySearchCmd, memoryGetCmd, memoryForgetCmd, memoryResetCmd)
	memoryPeekCmd.Flags().IntVarP(&peekLimit, "limit", "n", memory.DefaultPeekLimit, "Number of entries")
	memorySearchCmd.Flags().IntVarP(&searchLimit, "top", "k", memory.DefaultRecallLimit, "Number of results")
	memoryResetCmd.Flags().BoolVar(&confirmed, "yes", false, "Confirm deleting all memory")
}
