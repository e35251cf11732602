package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/termax/internal/config"
	"github.com/felixgeelhaar/termax/internal/embed"
	"github.com/felixgeelhaar/termax/internal/memory"
	"github.com/felixgeelhaar/termax/internal/observe"
	"github.com/felixgeelhaar/termax/internal/store"
)

func loadConfig() (*config.Config, error) {
	home, err := config.Home()
	if err != nil {
		return nil, err
	}
	cfg, err := config.Load(home)
	if err != nil {
		return nil, fmt.Errorf("invalid configuration in %s: %w", config.Path(home), err)
	}
	return cfg, nil
}

// newObserver logs to stderr so stdout stays reserved for results.
func newObserver(cmd *cobra.Command) *observe.Observer {
	if jsonOutput {
		return observe.NewJSON(cmd.ErrOrStderr(), verbose)
	}
	return observe.New(cmd.ErrOrStderr(), verbose)
}

// memoryHandle bundles the memory store with the index and embedder it
// owns.
type memoryHandle struct {
	*memory.Store
	index  *store.SQLiteStore
	closer []func()
}

func (h *memoryHandle) Close() {
	for i := len(h.closer) - 1; i >= 0; i-- {
		h.closer[i]()
	}
}

func openMemory(ctx context.Context, cfg *config.Config, obs *observe.Observer) (*memoryHandle, error) {
	h := &memoryHandle{}

	e, err := embed.New(ctx, cfg.General.Embedder, cfg.Settings)
	if err != nil {
		return nil, fmt.Errorf("embedder: %w", err)
	}
	if c, ok := e.(io.Closer); ok {
		h.closer = append(h.closer, func() { c.Close() })
	}

	if cfg.General.EmbedCacheSize > 0 {
		cached, err := embed.NewCached(e, int64(cfg.General.EmbedCacheSize))
		if err != nil {
			h.Close()
			return nil, fmt.Errorf("embedding cache: %w", err)
		}
		h.closer = append(h.closer, cached.Close)
		e = cached
	}

	idx, err := store.NewSQLiteStore(cfg.DBPath(), e, store.WithAllowReset(cfg.General.AllowReset))
	if err != nil {
		h.Close()
		return nil, err
	}
	h.index = idx
	h.closer = append(h.closer, func() { idx.Close() })

	policy, err := memory.ParsePolicy(cfg.General.Eviction)
	if err != nil {
		h.Close()
		return nil, err
	}
	h.Store = memory.New(idx, memory.WithPolicy(policy))

	obs.Log().Debug().
		Str("db", cfg.DBPath()).
		Str("embedder", e.Name()).
		Str("eviction", string(policy)).
		Msg("memory opened")
	return h, nil
}
