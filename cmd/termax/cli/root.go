package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/termax/internal/pipeline"
	_ "github.com/felixgeelhaar/termax/internal/plugin"
	"github.com/felixgeelhaar/termax/internal/shell"
	"github.com/felixgeelhaar/termax/internal/ui"
	"github.com/felixgeelhaar/termax/internal/ui/tui"
)

var (
	verbose     bool
	jsonOutput  bool
	platform    string
	modelName   string
	showCommand bool
	noExec      bool
	dryRun      bool
	timeout     time.Duration
	interactive bool
)

// RootCmd represents the base command when called without any subcommands
var RootCmd = &cobra.Command{
	Use:   "termax [request...]",
	Short: "Turn natural language into shell commands",
	Long: `termax asks a language model for a shell command that does what you
describe, runs it, and remembers the result so similar requests get better
answers next time.`,
	Args:          cobra.ArbitraryArgs,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runGenerate,
}

var generateCmd = &cobra.Command{
	Use:     "generate [request...]",
	Aliases: []string{"g"},
	Short:   "Generate (and by default run) a command",
	Args:    cobra.MinimumNArgs(1),
	RunE:    runGenerate,
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := RootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, tui.RenderError("Error: "+err.Error()))
		os.Exit(1)
	}
}

func init() {
	RootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	RootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Machine-readable output and JSON logs")

	for _, c := range []*cobra.Command{RootCmd, generateCmd} {
		f := c.Flags()
		f.StringVarP(&platform, "platform", "p", "", "Model platform (overrides general.platform)")
		f.StringVarP(&modelName, "model", "m", "", "Model name for the selected platform")
		f.BoolVarP(&showCommand, "show", "s", false, "Print the command before running it")
		f.BoolVarP(&noExec, "no-exec", "n", false, "Print the command without running it")
		f.BoolVar(&dryRun, "dry-run", false, "Use the offline stub model; nothing is run or remembered")
		f.DurationVar(&timeout, "timeout", 0, "Abort after this long (0 means no limit)")
		f.BoolVarP(&interactive, "interactive", "i", false, "Show a progress spinner")
	}

	RootCmd.AddCommand(generateCmd)
}

func runGenerate(cmd *cobra.Command, args []string) error {
	request := strings.TrimSpace(strings.Join(args, " "))
	if request == "" {
		return cmd.Help()
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	obs := newObserver(cmd)
	defer obs.Close()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	selected := cfg.General.Platform
	if platform != "" {
		selected = platform
	}
	cfg.Settings = cfg.Settings.WithModel(selected, modelName)
	if showCommand {
		cfg.General.ShowCommand = true
	}
	if noExec || dryRun {
		cfg.General.AutoExecute = false
	}
	if dryRun {
		selected = "stub"
	}

	out := cmd.OutOrStdout()
	var u ui.UI = ui.SilentUI{}
	if interactive && !jsonOutput {
		t := tui.Start(cmd.ErrOrStderr(), "termax", cancel)
		defer t.Release()
		u = t
	}

	executor := shell.New()
	executor.Stdout = out
	executor.Stderr = cmd.ErrOrStderr()
	executor.Stdin = cmd.InOrStdin()

	runner := NewRunner(cfg, obs, executor, u)
	runner.Platform = selected
	runner.ReadOnly = dryRun
	if cfg.General.ShowCommand && !jsonOutput {
		runner.OnExecute = func(c string) {
			fmt.Fprintln(out, tui.RenderCommand(c))
		}
	}

	res, err := runner.Run(ctx, request)
	u.Release()
	if err != nil {
		if res == nil {
			obs.Log().Error().Str("platform", selected).Err(err).Msg("synthesize failed")
			return err
		}
		obs.Log().Error().Str("record_id", res.RecordID).Err(err).Msg("interaction not recorded")
	}

	if jsonOutput {
		if werr := writeJSON(out, res); werr != nil {
			return werr
		}
	} else {
		report(out, cmd.ErrOrStderr(), res)
	}

	if err != nil {
		return err
	}
	if res.ExecErr != nil {
		if errors.Is(res.ExecErr, context.Canceled) {
			return fmt.Errorf("interrupted")
		}
		return res.ExecErr
	}
	return nil
}

// report prints what happened for a human reader.
func report(out, errOut io.Writer, res *pipeline.Result) {
	switch {
	case res.Command == "":
		fmt.Fprintln(errOut, tui.RenderNotice("No command found in the model's answer."))
		if verbose {
			fmt.Fprintln(errOut, res.Raw)
		}
	case res.Blocked != "":
		fmt.Fprintln(out, tui.RenderCommand(res.Command))
		fmt.Fprintln(errOut, tui.RenderError("Not executed: "+res.Blocked))
	case !res.Executed:
		fmt.Fprintln(out, tui.RenderCommand(res.Command))
	}
}

type jsonResult struct {
	*pipeline.Result
	ExecError string `json:"exec_error,omitempty"`
}

func writeJSON(out io.Writer, res *pipeline.Result) error {
	r := jsonResult{Result: res}
	if res.ExecErr != nil {
		r.ExecError = res.ExecErr.Error()
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}
