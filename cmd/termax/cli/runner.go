package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/felixgeelhaar/termax/internal/config"
	"github.com/felixgeelhaar/termax/internal/guard"
	"github.com/felixgeelhaar/termax/internal/observe"
	"github.com/felixgeelhaar/termax/internal/pipeline"
	"github.com/felixgeelhaar/termax/internal/prompt"
	"github.com/felixgeelhaar/termax/internal/provider"
	"github.com/felixgeelhaar/termax/internal/ui"
)

// Runner performs one synthesize call with everything built from config.
type Runner struct {
	Config   *config.Config
	Observer *observe.Observer
	Platform string
	Executor pipeline.Executor
	UI       ui.UI
	// ReadOnly skips recording, for dry runs.
	ReadOnly bool
	// OnExecute is called with the command right before it runs.
	OnExecute func(cmd string)
}

func NewRunner(cfg *config.Config, obs *observe.Observer, exec pipeline.Executor, u ui.UI) *Runner {
	if u == nil {
		u = ui.SilentUI{}
	}
	return &Runner{
		Config:   cfg,
		Observer: obs,
		Platform: cfg.General.Platform,
		Executor: exec,
		UI:       u,
	}
}

func (r *Runner) Run(ctx context.Context, request string) (*pipeline.Result, error) {
	g := r.Config.General

	r.UI.UpdateStatus("loading memory")
	mem, err := openMemory(ctx, r.Config, r.Observer)
	if err != nil {
		return nil, err
	}
	defer mem.Close()

	r.UI.UpdateStatus("connecting to " + r.Platform)
	p, err := provider.New(ctx, r.Platform, r.Config.Settings)
	if err != nil {
		return nil, err
	}
	if c, ok := p.(io.Closer); ok {
		defer c.Close()
	}

	instructions, err := prompt.DefaultInstructions(prompt.CurrentEnvironment())
	if err != nil {
		return nil, fmt.Errorf("failed to render instructions: %w", err)
	}

	exec := r.Executor
	if exec != nil && r.OnExecute != nil {
		exec = announcingExecutor{Executor: exec, announce: r.OnExecute}
	}

	pl := pipeline.New(mem, p, exec, r.Observer, pipeline.Options{
		StorageSize:  g.StorageSize,
		RecallLimit:  g.RecallLimit,
		AutoExecute:  g.AutoExecute,
		Instructions: instructions,
		ReadOnly:     r.ReadOnly,
	})
	pl.SetGuard(guard.New(guard.Policy{DeniedCommands: g.DeniedCommands}))
	pl.SetUI(r.UI)

	pl.Bus().SubscribeAll(func(e pipeline.Event) {
		r.Observer.Log().Debug().
			Str("event", string(e.Type)).
			Str("request_id", e.RequestID).
			Msg(fmt.Sprint(e.Data))
	})

	r.Observer.Log().Info().
		Str("platform", p.Name()).
		Int("storage_size", g.StorageSize).
		Msg("synthesizing command")

	return pl.Synthesize(ctx, request)
}

type announcingExecutor struct {
	pipeline.Executor
	announce func(cmd string)
}

func (a announcingExecutor) Run(ctx context.Context, cmd string) error {
	a.announce(cmd)
	return a.Executor.Run(ctx, cmd)
}
