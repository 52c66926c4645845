package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/nidhogg/pastoralscape/internal/config"
	"github.com/nidhogg/pastoralscape/internal/environment"
	"github.com/nidhogg/pastoralscape/internal/sim"
	"go.uber.org/zap"
)

// ErrJobNotFound is returned for lookups of unknown run ids.
var ErrJobNotFound = errors.New("job not found")

// RunFunc executes one model run.
type RunFunc func(ctx context.Context, params *config.Params, field *environment.Field, seed uint64) (*sim.Output, error)

// Sink consumes completed run output (database, archive, graph, cache).
// A failing sink is logged and recorded on the job; it never fails the run.
type Sink interface {
	Name() string
	Consume(ctx context.Context, out *sim.Output) error
}

type sinkFunc struct {
	name string
	fn   func(ctx context.Context, out *sim.Output) error
}

func (s sinkFunc) Name() string { return s.name }

func (s sinkFunc) Consume(ctx context.Context, out *sim.Output) error { return s.fn(ctx, out) }

// SinkFunc adapts a function to a Sink.
func SinkFunc(name string, fn func(ctx context.Context, out *sim.Output) error) Sink {
	return sinkFunc{name: name, fn: fn}
}

// Request describes one run to execute.
type Request struct {
	Params *config.Params
	Field  *environment.Field
	Seed   uint64
}

// Runner executes submitted runs on a bounded goroutine pool.
type Runner struct {
	run    RunFunc
	bus    Publisher
	sinks  []Sink
	mu     sync.RWMutex
	jobs   map[string]*Job
	pool   chan struct{} // semaphore-based pool
	wg     sync.WaitGroup
	logger *zap.Logger
}

// NewRunner creates a runner with at most poolSize concurrent runs. A nil
// run function uses sim.RunOnce; bus may be nil.
func NewRunner(run RunFunc, bus Publisher, sinks []Sink, poolSize int, logger *zap.Logger) *Runner {
	if poolSize <= 0 {
		poolSize = 2
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if run == nil {
		run = func(ctx context.Context, p *config.Params, f *environment.Field, seed uint64) (*sim.Output, error) {
			return sim.RunOnce(ctx, p, f, seed, sim.WithLogger(logger))
		}
	}
	return &Runner{
		run:    run,
		bus:    bus,
		sinks:  sinks,
		jobs:   make(map[string]*Job),
		pool:   make(chan struct{}, poolSize),
		logger: logger,
	}
}

// Submit queues a run and returns its job. Submitting a parameter set and
// seed that is already pending, running or done returns the existing job;
// failed or cancelled jobs are retried.
func (r *Runner) Submit(ctx context.Context, req Request) (Job, error) {
	if req.Params == nil {
		return Job{}, fmt.Errorf("submit run: nil params")
	}
	hash := req.Params.Hash()
	id := sim.RunID(hash, req.Seed)

	r.mu.Lock()
	if j, ok := r.jobs[id]; ok && j.Status != JobFailed && j.Status != JobCancelled {
		cp := *j
		r.mu.Unlock()
		return cp, nil
	}
	job := &Job{
		ID:         id,
		ParamsHash: hash,
		Seed:       req.Seed,
		Status:     JobPending,
		CreatedAt:  time.Now(),
	}
	r.jobs[id] = job
	cp := *job
	r.mu.Unlock()

	// The run outlives the submitting request.
	runCtx := context.WithoutCancel(ctx)

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.pool <- struct{}{}        // acquire slot
		defer func() { <-r.pool }() // release slot

		r.execute(runCtx, job, req)
	}()

	return cp, nil
}

func (r *Runner) execute(ctx context.Context, job *Job, req Request) {
	start := time.Now()
	r.update(job, func(j *Job) {
		j.Status = JobRunning
		j.StartedAt = &start
	})
	r.publish(ctx, &RunEvent{RunID: job.ID, Type: EventStarted, Seed: job.Seed, Timestamp: start})

	r.logger.Info("executing run",
		zap.String("run", job.ID),
		zap.Uint64("seed", job.Seed))

	out, err := r.run(ctx, req.Params, req.Field, req.Seed)
	done := time.Now()
	if err != nil {
		status := JobFailed
		if errors.Is(err, context.Canceled) {
			status = JobCancelled
		}
		r.update(job, func(j *Job) {
			j.Status = status
			j.Error = err.Error()
			j.CompletedAt = &done
		})
		r.logger.Warn("run failed", zap.String("run", job.ID), zap.Error(err))
		r.publish(ctx, &RunEvent{RunID: job.ID, Type: EventFailed, Seed: job.Seed, Error: err.Error(), Timestamp: done})
		return
	}

	var sinkErrs []string
	for _, s := range r.sinks {
		if err := s.Consume(ctx, out); err != nil {
			r.logger.Warn("sink failed",
				zap.String("run", job.ID),
				zap.String("sink", s.Name()),
				zap.Error(err))
			sinkErrs = append(sinkErrs, fmt.Sprintf("%s: %v", s.Name(), err))
		}
	}

	r.update(job, func(j *Job) {
		j.Status = JobDone
		j.Digest = out.Digest
		j.SinkErrors = sinkErrs
		j.CompletedAt = &done
	})
	r.logger.Info("run complete",
		zap.String("run", job.ID),
		zap.Int("epochs", out.Summary.Epochs),
		zap.Duration("elapsed", done.Sub(start)))
	r.publish(ctx, &RunEvent{
		RunID:     job.ID,
		Type:      EventCompleted,
		Seed:      job.Seed,
		Digest:    out.Digest,
		Epochs:    out.Summary.Epochs,
		Timestamp: done,
	})
}

func (r *Runner) update(job *Job, fn func(*Job)) {
	r.mu.Lock()
	fn(job)
	r.mu.Unlock()
}

func (r *Runner) publish(ctx context.Context, ev *RunEvent) {
	if r.bus == nil {
		return
	}
	if err := r.bus.Publish(ctx, ev); err != nil {
		r.logger.Warn("publish run event", zap.String("run", ev.RunID), zap.Error(err))
	}
}

// Job returns a copy of the job with the given id.
func (r *Runner) Job(id string) (Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	j, ok := r.jobs[id]
	if !ok {
		return Job{}, ErrJobNotFound
	}
	return *j, nil
}

// Jobs returns copies of every known job, newest first.
func (r *Runner) Jobs() []Job {
	r.mu.RLock()
	jobs := make([]Job, 0, len(r.jobs))
	for _, j := range r.jobs {
		jobs = append(jobs, *j)
	}
	r.mu.RUnlock()
	sort.Slice(jobs, func(a, b int) bool {
		if !jobs[a].CreatedAt.Equal(jobs[b].CreatedAt) {
			return jobs[a].CreatedAt.After(jobs[b].CreatedAt)
		}
		return jobs[a].ID < jobs[b].ID
	})
	return jobs
}

// Running returns the jobs currently executing.
func (r *Runner) Running() []Job {
	r.mu.RLock()
	defer r.mu.RUnlock()
	jobs := make([]Job, 0)
	for _, j := range r.jobs {
		if j.Status == JobRunning {
			jobs = append(jobs, *j)
		}
	}
	return jobs
}

// Wait blocks until every submitted run has finished.
func (r *Runner) Wait() {
	r.wg.Wait()
}
