package pipeline

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"testing"

	"github.com/felixgeelhaar/termax/internal/embed"
	"github.com/felixgeelhaar/termax/internal/guard"
	"github.com/felixgeelhaar/termax/internal/memory"
	"github.com/felixgeelhaar/termax/internal/observe"
	"github.com/felixgeelhaar/termax/internal/provider"
	"github.com/felixgeelhaar/termax/internal/store"
)

type fakeExecutor struct {
	commands []string
	err      error
	run      func(ctx context.Context) error
}

func (f *fakeExecutor) Run(ctx context.Context, command string) error {
	f.commands = append(f.commands, command)
	if f.run != nil {
		return f.run(ctx)
	}
	return f.err
}

type faultyMemory struct {
	memory.Memory
	recallErr   error
	rememberErr error
}

func (f *faultyMemory) Recall(ctx context.Context, q string, k int) ([]memory.Interaction, error) {
	if f.recallErr != nil {
		return nil, f.recallErr
	}
	return f.Memory.Recall(ctx, q, k)
}

func (f *faultyMemory) Remember(ctx context.Context, q, r string) (string, error) {
	if f.rememberErr != nil {
		return "", f.rememberErr
	}
	return f.Memory.Remember(ctx, q, r)
}

type recordingUI struct {
	statuses []string
	logs     []string
	released int
}

func (r *recordingUI) UpdateStatus(s string) { r.statuses = append(r.statuses, s) }
func (r *recordingUI) Log(msg string)        { r.logs = append(r.logs, msg) }
func (r *recordingUI) Release()              { r.released++ }

func newMemory(t *testing.T, opts ...memory.Option) *memory.Store {
	t.Helper()
	idx, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "termax.db"), embed.NewHashing(0))
	if err != nil {
		t.Fatalf("failed to open index: %v", err)
	}
	t.Cleanup(func() { idx.Close() })
	return memory.New(idx, opts...)
}

func defaultOptions() Options {
	return Options{StorageSize: 10, RecallLimit: 5, AutoExecute: true, Instructions: "sys"}
}

func reply(content string) provider.Response {
	return provider.Response{Content: content, Usage: provider.Usage{TotalTokens: 7}}
}

func TestPipeline_Synthesize(t *testing.T) {
	ctx := context.Background()
	o := observe.NewJSON(io.Discard, true)

	t.Run("ExecutesAndRecords", func(t *testing.T) {
		mem := newMemory(t)
		p := provider.NewStubProvider(reply("Here is the command:\n```bash\nls -la /tmp\n```"))
		exec := &fakeExecutor{}
		u := &recordingUI{}

		pl := New(mem, p, exec, o, defaultOptions())
		pl.SetUI(u)

		res, err := pl.Synthesize(ctx, "  list tmp  ")
		if err != nil {
			t.Fatalf("Synthesize failed: %v", err)
		}
		if res.Command != "ls -la /tmp" {
			t.Errorf("expected 'ls -la /tmp', got %q", res.Command)
		}
		if !res.Executed || res.ExecErr != nil {
			t.Errorf("expected successful execution, got %+v", res)
		}
		if len(exec.commands) != 1 || exec.commands[0] != "ls -la /tmp" {
			t.Errorf("unexpected executed commands %v", exec.commands)
		}
		if res.RecordID == "" {
			t.Error("expected record id")
		}

		got, err := mem.Get(ctx, res.RecordID)
		if err != nil || got.Query != "list tmp" || got.Response != "ls -la /tmp" {
			t.Errorf("unexpected stored interaction %+v (%v)", got, err)
		}

		want := []string{"recalling", "generating", "extracting", "executing", "recording"}
		if len(u.statuses) != len(want) {
			t.Fatalf("expected statuses %v, got %v", want, u.statuses)
		}
		for i := range want {
			if u.statuses[i] != want[i] {
				t.Errorf("status %d: expected %s, got %s", i, want[i], u.statuses[i])
			}
		}
		if u.released != 1 {
			t.Errorf("expected UI released once, got %d", u.released)
		}
		if pl.State() != StateIdle {
			t.Errorf("expected idle, got %s", pl.State())
		}
	})

	t.Run("RecalledExemplars", func(t *testing.T) {
		mem := newMemory(t)
		mem.Remember(ctx, "list files", "ls")
		mem.Remember(ctx, "restart the docker daemon", "sudo systemctl restart docker")

		p := provider.NewStubProvider(reply("```\nls -a\n```"))
		opts := defaultOptions()
		opts.RecallLimit = 1
		opts.AutoExecute = false
		pl := New(mem, p, nil, o, opts)

		res, err := pl.Synthesize(ctx, "list files")
		if err != nil {
			t.Fatalf("Synthesize failed: %v", err)
		}
		if res.Recalled != 1 {
			t.Errorf("expected 1 recalled, got %d", res.Recalled)
		}

		msgs := p.Calls[0]
		if len(msgs) != 4 {
			t.Fatalf("expected 4 messages, got %d: %v", len(msgs), msgs)
		}
		if msgs[0].Role != provider.RoleSystem || msgs[0].Content != "sys" {
			t.Errorf("unexpected system message %+v", msgs[0])
		}
		if msgs[1].Content != "list files" || msgs[2].Content != "```bash\nls\n```" {
			t.Errorf("unexpected exemplar %+v %+v", msgs[1], msgs[2])
		}
		if msgs[3].Role != provider.RoleUser || msgs[3].Content != "list files" {
			t.Errorf("unexpected request message %+v", msgs[3])
		}
	})

	t.Run("EmptyExtractionNotRecorded", func(t *testing.T) {
		mem := newMemory(t)
		p := provider.NewStubProvider(reply("I cannot help with that."))
		exec := &fakeExecutor{}
		pl := New(mem, p, exec, o, defaultOptions())

		res, err := pl.Synthesize(ctx, "do something impossible")
		if err != nil {
			t.Fatalf("Synthesize failed: %v", err)
		}
		if res.Command != "" || res.Executed || res.RecordID != "" {
			t.Errorf("expected nothing to happen, got %+v", res)
		}
		if len(exec.commands) != 0 {
			t.Errorf("executor must not run, got %v", exec.commands)
		}
		if n, _ := mem.Size(ctx); n != 0 {
			t.Errorf("expected size 0, got %d", n)
		}
		if pl.State() != StateIdle {
			t.Errorf("expected idle, got %s", pl.State())
		}
	})

	t.Run("NoAutoExecute", func(t *testing.T) {
		mem := newMemory(t)
		exec := &fakeExecutor{}
		opts := defaultOptions()
		opts.AutoExecute = false
		pl := New(mem, provider.NewStubProvider(reply("`date`")), exec, o, opts)

		res, err := pl.Synthesize(ctx, "what time is it")
		if err != nil {
			t.Fatalf("Synthesize failed: %v", err)
		}
		if res.Command != "date" || res.Executed {
			t.Errorf("unexpected result %+v", res)
		}
		if len(exec.commands) != 0 {
			t.Error("executor must not run")
		}
		if n, _ := mem.Size(ctx); n != 1 {
			t.Errorf("expected size 1, got %d", n)
		}
	})

	t.Run("BlockedByGuard", func(t *testing.T) {
		mem := newMemory(t)
		exec := &fakeExecutor{}
		pl := New(mem, provider.NewStubProvider(reply("```bash\nsudo reboot\n```")), exec, o, defaultOptions())
		pl.SetGuard(guard.New(guard.DefaultPolicy))

		var blocked []Event
		pl.Bus().Subscribe(EventBlocked, func(e Event) { blocked = append(blocked, e) })

		res, err := pl.Synthesize(ctx, "reboot")
		if err != nil {
			t.Fatalf("Synthesize failed: %v", err)
		}
		if res.Blocked == "" || res.Executed {
			t.Errorf("expected blocked command, got %+v", res)
		}
		if len(exec.commands) != 0 {
			t.Error("blocked command must not run")
		}
		if len(blocked) != 1 || blocked[0].Data["program"] != "reboot" {
			t.Errorf("expected one blocked event for reboot, got %v", blocked)
		}
		if n, _ := mem.Size(ctx); n != 1 {
			t.Errorf("blocked commands are still recorded, size %d", n)
		}
	})

	t.Run("ExecutionFailureStillRecorded", func(t *testing.T) {
		mem := newMemory(t)
		exec := &fakeExecutor{err: errors.New("exit status 1")}
		pl := New(mem, provider.NewStubProvider(reply("```bash\nfalse\n```")), exec, o, defaultOptions())

		res, err := pl.Synthesize(ctx, "fail")
		if err != nil {
			t.Fatalf("execution errors are not pipeline errors: %v", err)
		}
		if res.ExecErr == nil || !res.Executed {
			t.Errorf("expected ExecErr, got %+v", res)
		}
		if n, _ := mem.Size(ctx); n != 1 {
			t.Errorf("expected size 1, got %d", n)
		}
	})

	t.Run("InterruptedExecutionStillRecorded", func(t *testing.T) {
		mem := newMemory(t)
		cctx, cancel := context.WithCancel(ctx)
		defer cancel()
		exec := &fakeExecutor{run: func(ctx context.Context) error {
			cancel()
			<-ctx.Done()
			return ctx.Err()
		}}
		pl := New(mem, provider.NewStubProvider(reply("```bash\nsleep 100\n```")), exec, o, defaultOptions())

		res, err := pl.Synthesize(cctx, "wait a while")
		if err != nil {
			t.Fatalf("Synthesize failed: %v", err)
		}
		if !errors.Is(res.ExecErr, context.Canceled) {
			t.Errorf("expected canceled execution, got %v", res.ExecErr)
		}
		if res.RecordID == "" {
			t.Error("expected interaction to be recorded after interrupt")
		}
		if n, _ := mem.Size(ctx); n != 1 {
			t.Errorf("expected size 1, got %d", n)
		}
	})

	t.Run("GenerationFailure", func(t *testing.T) {
		mem := newMemory(t)
		p := provider.NewStubProvider()
		p.Err = errors.New("rate limited")
		exec := &fakeExecutor{}
		pl := New(mem, p, exec, o, defaultOptions())

		var errorsSeen int
		pl.Bus().Subscribe(EventError, func(Event) { errorsSeen++ })

		res, err := pl.Synthesize(ctx, "list files")
		if !errors.Is(err, provider.ErrGeneration) {
			t.Fatalf("expected ErrGeneration, got %v", err)
		}
		if res != nil {
			t.Errorf("expected nil result, got %+v", res)
		}
		if n, _ := mem.Size(ctx); n != 0 {
			t.Errorf("expected no memory write, size %d", n)
		}
		if errorsSeen != 1 {
			t.Errorf("expected one error event, got %d", errorsSeen)
		}
		if pl.State() != StateIdle {
			t.Errorf("expected idle after failure, got %s", pl.State())
		}
	})

	t.Run("RecallFailure", func(t *testing.T) {
		mem := &faultyMemory{Memory: newMemory(t), recallErr: store.ErrEmbedding}
		p := provider.NewStubProvider()
		pl := New(mem, p, &fakeExecutor{}, o, defaultOptions())

		if _, err := pl.Synthesize(ctx, "list files"); !errors.Is(err, store.ErrEmbedding) {
			t.Fatalf("expected ErrEmbedding, got %v", err)
		}
		if len(p.Calls) != 0 {
			t.Error("provider must not be called after recall failure")
		}
	})

	t.Run("RecordFailure", func(t *testing.T) {
		mem := &faultyMemory{Memory: newMemory(t), rememberErr: store.ErrStorage}
		exec := &fakeExecutor{}
		pl := New(mem, provider.NewStubProvider(reply("`pwd`")), exec, o, defaultOptions())

		res, err := pl.Synthesize(ctx, "where am i")
		if !errors.Is(err, store.ErrStorage) {
			t.Fatalf("expected ErrStorage, got %v", err)
		}
		if res == nil || !res.Executed {
			t.Errorf("expected executed result alongside the error, got %+v", res)
		}
		if pl.State() != StateIdle {
			t.Errorf("expected idle, got %s", pl.State())
		}
	})

	t.Run("CapacityEnforced", func(t *testing.T) {
		mem := newMemory(t, memory.WithPolicy(memory.PolicyWindow))
		p := provider.NewStubProvider(reply("`echo 1`"), reply("`echo 2`"), reply("`echo 3`"))
		opts := defaultOptions()
		opts.StorageSize = 2
		opts.AutoExecute = false
		pl := New(mem, p, nil, o, opts)

		var last *Result
		for _, q := range []string{"one", "two", "three"} {
			res, err := pl.Synthesize(ctx, q)
			if err != nil {
				t.Fatalf("Synthesize failed: %v", err)
			}
			last = res
		}
		if last.Evicted != 1 {
			t.Errorf("expected 1 eviction on the third request, got %d", last.Evicted)
		}
		if n, _ := mem.Size(ctx); n != 2 {
			t.Errorf("expected size 2, got %d", n)
		}
	})

	t.Run("PartitionEviction", func(t *testing.T) {
		mem := newMemory(t, memory.WithPolicy(memory.PolicyPartition))
		opts := defaultOptions()
		opts.StorageSize = 3
		opts.AutoExecute = false
		pl := New(mem, provider.NewStubProvider(), nil, o, opts)

		for i, want := range []int{1, 2, 3, 0, 1} {
			if _, err := pl.Synthesize(ctx, "say hi"); err != nil {
				t.Fatalf("Synthesize %d failed: %v", i, err)
			}
			if n, _ := mem.Size(ctx); n != want {
				t.Errorf("after request %d: expected size %d, got %d", i+1, want, n)
			}
		}
	})

	t.Run("ReadOnly", func(t *testing.T) {
		mem := newMemory(t)
		exec := &fakeExecutor{}
		opts := defaultOptions()
		opts.ReadOnly = true
		pl := New(mem, provider.NewStubProvider(), exec, o, opts)

		res, err := pl.Synthesize(ctx, "say hi")
		if err != nil {
			t.Fatalf("Synthesize failed: %v", err)
		}
		if res.Command != "echo termax" || !res.Executed || res.RecordID != "" {
			t.Errorf("unexpected result %+v", res)
		}
		if n, _ := mem.Size(ctx); n != 0 {
			t.Errorf("read-only run must not record, size %d", n)
		}
		if pl.State() != StateIdle {
			t.Errorf("expected idle, got %s", pl.State())
		}
	})

	t.Run("InvalidInput", func(t *testing.T) {
		pl := New(newMemory(t), provider.NewStubProvider(), nil, o, defaultOptions())
		if _, err := pl.Synthesize(ctx, "   "); !errors.Is(err, ErrEmptyRequest) {
			t.Errorf("expected ErrEmptyRequest, got %v", err)
		}

		bad := New(newMemory(t), provider.NewStubProvider(), nil, o, Options{StorageSize: -1})
		if _, err := bad.Synthesize(ctx, "ls"); err == nil {
			t.Error("expected error for negative storage size")
		}
	})
}
