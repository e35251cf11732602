// Package pipeline turns a natural-language request into a shell command:
// recall similar past requests, ask the model, extract the command,
// optionally run it, and remember the result.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/felixgeelhaar/termax/internal/extract"
	"github.com/felixgeelhaar/termax/internal/guard"
	"github.com/felixgeelhaar/termax/internal/memory"
	"github.com/felixgeelhaar/termax/internal/observe"
	"github.com/felixgeelhaar/termax/internal/prompt"
	"github.com/felixgeelhaar/termax/internal/provider"
	"github.com/felixgeelhaar/termax/internal/ui"
)

var ErrEmptyRequest = errors.New("empty request")

// Executor runs an extracted command.
type Executor interface {
	Run(ctx context.Context, command string) error
}

type Options struct {
	// StorageSize is the capacity enforced after every recorded interaction.
	StorageSize int
	RecallLimit int
	AutoExecute bool
	// Instructions becomes the system message; empty means none.
	Instructions string
	// ReadOnly consults memory without recording the result.
	ReadOnly bool
}

// Result describes one synthesize call.
type Result struct {
	RequestID string `json:"request_id"`
	Request   string `json:"request"`
	Raw       string `json:"raw"`
	Command   string `json:"command"`
	Recalled  int    `json:"recalled"`
	Executed  bool   `json:"executed"`
	Blocked   string `json:"blocked,omitempty"`
	ExecErr   error  `json:"-"`
	RecordID  string `json:"record_id,omitempty"`
	Evicted   int    `json:"evicted"`
}

// Pipeline wires memory, model and executor together.
type Pipeline struct {
	memory   memory.Memory
	provider provider.Provider
	executor Executor
	guard    *guard.Guard
	observe  *observe.Observer
	ui       ui.UI
	bus      *EventBus
	machine  *Machine
	opts     Options
}

func New(m memory.Memory, p provider.Provider, e Executor, o *observe.Observer, opts Options) *Pipeline {
	bus := NewEventBus()
	pl := &Pipeline{
		memory:   m,
		provider: p,
		executor: e,
		observe:  o,
		ui:       ui.SilentUI{},
		bus:      bus,
		machine:  NewMachine(bus),
		opts:     opts,
	}
	bus.SubscribeAll(pl.forward)
	return pl
}

func (p *Pipeline) SetUI(u ui.UI) {
	if u != nil {
		p.ui = u
	}
}

// SetGuard installs the policy consulted before auto-execution.
func (p *Pipeline) SetGuard(g *guard.Guard) {
	p.guard = g
}

// Bus exposes the event bus for additional subscribers.
func (p *Pipeline) Bus() *EventBus {
	return p.bus
}

// State reports the state machine's current state.
func (p *Pipeline) State() State {
	return p.machine.State()
}

// Synthesize runs one request through the pipeline. A non-empty command is
// recorded exactly once, after execution, even if ctx is canceled while the
// command runs. Failures before extraction leave memory untouched.
func (p *Pipeline) Synthesize(ctx context.Context, request string) (res *Result, err error) {
	request = strings.TrimSpace(request)
	if request == "" {
		return nil, ErrEmptyRequest
	}
	if p.opts.StorageSize < 0 || p.opts.RecallLimit < 0 {
		return nil, fmt.Errorf("invalid options: storage_size %d, recall_limit %d", p.opts.StorageSize, p.opts.RecallLimit)
	}

	id := uuid.NewString()
	ctx, span := p.observe.StartSpan(ctx, "Synthesize")
	defer span.End()
	span.SetAttributes(
		attribute.String("termax.request_id", id),
		attribute.String("termax.provider", p.provider.Name()),
	)

	log := p.observe.Log().With().Str("request_id", id).Logger()

	if err := p.machine.Begin(id); err != nil {
		return nil, err
	}
	defer p.machine.Reset()

	defer func() {
		if err != nil {
			fail(span, err)
			p.bus.PublishWithData(EventError, id, map[string]any{"error": err.Error()})
		}
	}()

	res = &Result{RequestID: id, Request: request}

	history, err := p.recall(ctx, id, request)
	if err != nil {
		log.Error().Err(err).Msg("recall failed")
		return nil, fmt.Errorf("recall: %w", err)
	}
	res.Recalled = len(history)

	if err := p.machine.Transition(StateGenerating); err != nil {
		return nil, err
	}
	raw, err := p.generate(ctx, id, request, history)
	if err != nil {
		log.Error().Err(err).Msg("generation failed")
		return nil, fmt.Errorf("generate: %w", err)
	}
	res.Raw = raw

	if err := p.machine.Transition(StateExtracting); err != nil {
		return nil, err
	}
	res.Command = p.extract(ctx, id, raw)
	if res.Command == "" {
		log.Warn().Str("platform", p.provider.Name()).Msg("no command found in model output")
		return res, nil
	}

	if !p.opts.ReadOnly {
		defer func() {
			recErr := p.record(context.WithoutCancel(ctx), res)
			if recErr != nil {
				log.Error().Err(recErr).Msg("recording failed")
				if err == nil {
					err = fmt.Errorf("record: %w", recErr)
				}
			}
		}()
	}

	if p.opts.AutoExecute && p.executor != nil {
		p.execute(ctx, res)
		if res.ExecErr != nil {
			log.Warn().Err(res.ExecErr).Msg("command failed")
		}
	}

	return res, nil
}

func (p *Pipeline) recall(ctx context.Context, id, request string) ([]prompt.Exemplar, error) {
	ctx, span := p.observe.StartSpan(ctx, "Recall")
	defer span.End()

	past, err := p.memory.Recall(ctx, request, p.opts.RecallLimit)
	if err != nil {
		fail(span, err)
		return nil, err
	}

	history := make([]prompt.Exemplar, 0, len(past))
	for _, in := range past {
		history = append(history, prompt.Exemplar{Query: in.Query, Response: in.Response})
	}
	span.SetAttributes(attribute.Int("termax.recalled", len(history)))
	p.bus.PublishWithData(EventRecalled, id, map[string]any{"count": len(history)})
	return history, nil
}

func (p *Pipeline) generate(ctx context.Context, id, request string, history []prompt.Exemplar) (string, error) {
	ctx, span := p.observe.StartSpan(ctx, "Generate")
	defer span.End()

	messages := prompt.Build(p.opts.Instructions, request, history)
	resp, err := p.provider.Chat(ctx, messages)
	if err != nil {
		fail(span, err)
		return "", err
	}

	span.SetAttributes(
		attribute.Int("termax.messages", len(messages)),
		attribute.Int("termax.total_tokens", resp.Usage.TotalTokens),
	)
	p.bus.PublishWithData(EventGenerated, id, map[string]any{
		"provider": p.provider.Name(),
		"tokens":   resp.Usage.TotalTokens,
	})
	return resp.Content, nil
}

func (p *Pipeline) extract(ctx context.Context, id, raw string) string {
	_, span := p.observe.StartSpan(ctx, "Extract")
	defer span.End()

	cmd := extract.Command(raw)
	span.SetAttributes(attribute.Bool("termax.empty", cmd == ""))
	p.bus.PublishWithData(EventExtracted, id, map[string]any{"command": cmd})
	return cmd
}

// execute runs the command unless the guard denies it. Execution failures
// are reported on the result, not as pipeline errors.
func (p *Pipeline) execute(ctx context.Context, res *Result) {
	if v := p.guard.CheckCommand(res.Command); v != nil {
		res.Blocked = v.Message
		p.observe.Log().Warn().Str("request_id", res.RequestID).Str("rule", v.Rule).Str("program", v.Program).Msg("command blocked")
		p.bus.PublishWithData(EventBlocked, res.RequestID, map[string]any{"rule": v.Rule, "program": v.Program})
		return
	}

	p.ui.Release()
	if err := p.machine.Transition(StateExecuting); err != nil {
		res.ExecErr = err
		return
	}

	ctx, span := p.observe.StartSpan(ctx, "Execute")
	defer span.End()

	res.Executed = true
	res.ExecErr = p.executor.Run(ctx, res.Command)
	if res.ExecErr != nil {
		fail(span, res.ExecErr)
	}
	p.bus.PublishWithData(EventExecuted, res.RequestID, map[string]any{"failed": res.ExecErr != nil})
}

// record stores the pair and enforces capacity.
func (p *Pipeline) record(ctx context.Context, res *Result) error {
	if err := p.machine.Transition(StateRecording); err != nil {
		return err
	}

	ctx, span := p.observe.StartSpan(ctx, "Record")
	defer span.End()

	recordID, err := p.memory.Remember(ctx, res.Request, res.Command)
	if err != nil {
		fail(span, err)
		return err
	}
	res.RecordID = recordID
	p.bus.PublishWithData(EventRecorded, res.RequestID, map[string]any{"id": recordID})

	evicted, err := p.memory.EnforceCapacity(ctx, p.opts.StorageSize)
	if err != nil {
		fail(span, err)
		return fmt.Errorf("enforce capacity: %w", err)
	}
	res.Evicted = evicted
	if evicted > 0 {
		p.observe.Log().Info().Str("request_id", res.RequestID).Int("evicted", evicted).Msg("memory capacity enforced")
		p.bus.PublishWithData(EventEvicted, res.RequestID, map[string]any{"count": evicted})
	}

	return p.machine.Transition(StateIdle)
}

// forward mirrors events to the UI.
func (p *Pipeline) forward(e Event) {
	switch e.Type {
	case EventStateChanged:
		if to, ok := e.Data["to"].(State); ok && to != StateIdle {
			p.ui.UpdateStatus(string(to))
		}
	case EventRecalled:
		p.ui.Log(fmt.Sprintf("recalled %v similar requests", e.Data["count"]))
	case EventGenerated:
		p.ui.Log(fmt.Sprintf("%v responded", e.Data["provider"]))
	case EventBlocked:
		p.ui.Log(fmt.Sprintf("blocked by %v: %v", e.Data["rule"], e.Data["program"]))
	case EventEvicted:
		p.ui.Log(fmt.Sprintf("evicted %v old entries", e.Data["count"]))
	}
}

func fail(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
