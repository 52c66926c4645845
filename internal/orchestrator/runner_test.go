package orchestrator

import (
	"context"
	"errors"
	"sync"
	"testing"

	"go.uber.org/zap"

	"github.com/nidhogg/pastoralscape/internal/config"
	"github.com/nidhogg/pastoralscape/internal/environment"
	"github.com/nidhogg/pastoralscape/internal/sim"
)

type recordingBus struct {
	mu     sync.Mutex
	events []RunEvent
}

func (b *recordingBus) Publish(_ context.Context, ev *RunEvent) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, *ev)
	return nil
}

func (b *recordingBus) types(runID string) []EventType {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []EventType
	for _, ev := range b.events {
		if ev.RunID == runID {
			out = append(out, ev.Type)
		}
	}
	return out
}

func fakeRun(ctx context.Context, p *config.Params, _ *environment.Field, seed uint64) (*sim.Output, error) {
	out := &sim.Output{RunID: sim.RunID(p.Hash(), seed), Seed: seed, ParamsHash: p.Hash()}
	out.Summary.Epochs = 3
	digest, err := sim.Digest(out)
	if err != nil {
		return nil, err
	}
	out.Digest = digest
	return out, nil
}

func params() *config.Params {
	p := config.DefaultParams()
	return &p
}

func TestRunnerCompletesAndPublishes(t *testing.T) {
	bus := &recordingBus{}
	var consumed []string
	sink := SinkFunc("memo", func(_ context.Context, out *sim.Output) error {
		consumed = append(consumed, out.RunID)
		return nil
	})
	r := NewRunner(fakeRun, bus, []Sink{sink}, 1, zap.NewNop())

	job, err := r.Submit(context.Background(), Request{Params: params(), Seed: 7})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	r.Wait()

	got, err := r.Job(job.ID)
	if err != nil {
		t.Fatalf("job: %v", err)
	}
	if got.Status != JobDone {
		t.Fatalf("status = %s, want done", got.Status)
	}
	if got.Digest == "" || got.CompletedAt == nil || got.StartedAt == nil {
		t.Errorf("incomplete job record: %+v", got)
	}
	if len(consumed) != 1 || consumed[0] != job.ID {
		t.Errorf("sink consumed %v", consumed)
	}
	types := bus.types(job.ID)
	if len(types) != 2 || types[0] != EventStarted || types[1] != EventCompleted {
		t.Errorf("events = %v", types)
	}
}

func TestRunnerDeduplicates(t *testing.T) {
	var mu sync.Mutex
	calls := 0
	run := func(ctx context.Context, p *config.Params, f *environment.Field, seed uint64) (*sim.Output, error) {
		mu.Lock()
		calls++
		mu.Unlock()
		return fakeRun(ctx, p, f, seed)
	}
	r := NewRunner(run, nil, nil, 2, zap.NewNop())

	a, _ := r.Submit(context.Background(), Request{Params: params(), Seed: 1})
	b, _ := r.Submit(context.Background(), Request{Params: params(), Seed: 1})
	c, _ := r.Submit(context.Background(), Request{Params: params(), Seed: 2})
	r.Wait()

	if a.ID != b.ID {
		t.Errorf("same params and seed gave ids %s and %s", a.ID, b.ID)
	}
	if a.ID == c.ID {
		t.Error("different seeds share a run id")
	}
	if calls != 2 {
		t.Errorf("run executed %d times, want 2", calls)
	}
	if n := len(r.Jobs()); n != 2 {
		t.Errorf("jobs = %d, want 2", n)
	}
}

func TestRunnerFailureAndSinkErrors(t *testing.T) {
	bus := &recordingBus{}
	boom := errors.New("boom")
	failing := func(context.Context, *config.Params, *environment.Field, uint64) (*sim.Output, error) {
		return nil, boom
	}
	r := NewRunner(failing, bus, nil, 1, zap.NewNop())
	job, _ := r.Submit(context.Background(), Request{Params: params(), Seed: 3})
	r.Wait()

	got, _ := r.Job(job.ID)
	if got.Status != JobFailed || got.Error != "boom" {
		t.Errorf("job = %+v, want failed with boom", got)
	}
	if types := bus.types(job.ID); len(types) != 2 || types[1] != EventFailed {
		t.Errorf("events = %v", types)
	}

	sink := SinkFunc("db", func(context.Context, *sim.Output) error { return errors.New("down") })
	r2 := NewRunner(fakeRun, nil, []Sink{sink}, 1, zap.NewNop())
	job, _ = r2.Submit(context.Background(), Request{Params: params(), Seed: 3})
	r2.Wait()
	got, _ = r2.Job(job.ID)
	if got.Status != JobDone {
		t.Fatalf("sink failure changed status to %s", got.Status)
	}
	if len(got.SinkErrors) != 1 || got.SinkErrors[0] != "db: down" {
		t.Errorf("sink errors = %v", got.SinkErrors)
	}
}

func TestRunnerBoundsConcurrency(t *testing.T) {
	var mu sync.Mutex
	active, peak := 0, 0
	release := make(chan struct{})
	run := func(ctx context.Context, p *config.Params, f *environment.Field, seed uint64) (*sim.Output, error) {
		mu.Lock()
		active++
		if active > peak {
			peak = active
		}
		mu.Unlock()
		<-release
		mu.Lock()
		active--
		mu.Unlock()
		return fakeRun(ctx, p, f, seed)
	}
	r := NewRunner(run, nil, nil, 2, zap.NewNop())
	for seed := uint64(0); seed < 6; seed++ {
		if _, err := r.Submit(context.Background(), Request{Params: params(), Seed: seed}); err != nil {
			t.Fatal(err)
		}
	}
	close(release)
	r.Wait()

	if peak > 2 {
		t.Errorf("peak concurrency %d exceeds pool size 2", peak)
	}
	if len(r.Running()) != 0 {
		t.Error("jobs still running after Wait")
	}
}

func TestRunnerUnknownJob(t *testing.T) {
	r := NewRunner(fakeRun, nil, nil, 1, zap.NewNop())
	if _, err := r.Job("missing"); !errors.Is(err, ErrJobNotFound) {
		t.Errorf("err = %v, want ErrJobNotFound", err)
	}
	if _, err := r.Submit(context.Background(), Request{}); err == nil {
		t.Error("nil params accepted")
	}
}
