package sim

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/stat"

	"github.com/nidhogg/pastoralscape/internal/config"
	"github.com/nidhogg/pastoralscape/internal/decision"
	"github.com/nidhogg/pastoralscape/internal/environment"
	"github.com/nidhogg/pastoralscape/internal/herd"
	"github.com/nidhogg/pastoralscape/internal/rationality"
	"github.com/nidhogg/pastoralscape/internal/world"
)

// Option customizes a run.
type Option func(*runner)

// WithLogger sets the run logger.
func WithLogger(logger *zap.Logger) Option {
	return func(r *runner) { r.logger = logger }
}

// runner owns the mutable state of a single run.
type runner struct {
	params *config.Params
	field  *environment.Field
	seed   uint64
	logger *zap.Logger

	arena        *arena
	engine       *decision.Engine
	mover        *herd.Mover
	diseaseIndex map[string]int
	trigger      *world.EpochTrigger
	days         int
	out          *Output
	errs         []error
	gaps         int
}

// RunOnce runs the model over the configured horizon. A run is fully
// determined by (seed, params, field); the result does not depend on
// params.Workers. Every error it returns is a *RunError.
func RunOnce(ctx context.Context, params *config.Params, field *environment.Field, seed uint64, opts ...Option) (*Output, error) {
	r := &runner{params: params, field: field, seed: seed, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(r)
	}
	fail := func(err error) (*Output, error) { return nil, &RunError{Seed: seed, Err: err} }

	if params == nil {
		return fail(&config.ConfigurationError{Problems: []string{"params are required"}})
	}
	if err := params.Validate(); err != nil {
		return fail(err)
	}
	if err := checkCoverage(params, field); err != nil {
		return fail(err)
	}

	start, end := params.Start(), params.End()
	clock, err := world.NewClock(start, end, r.logger)
	if err != nil {
		return fail(&config.ConfigurationError{Problems: []string{err.Error()}})
	}
	r.days = clock.Days()

	r.arena, err = newArena(params, field, seed, r.logger)
	if err != nil {
		return fail(err)
	}
	r.diseaseIndex = make(map[string]int, len(params.Diseases))
	for i, d := range params.Diseases {
		r.diseaseIndex[d.Name] = i
	}
	rule, _ := rationality.ParseRule(params.Decision.Aggregation)
	r.engine = decision.NewEngine(decision.Config{
		Rule:           rule,
		PriorVaccinate: params.Decision.Prior.Vaccinate,
		PriorDecline:   params.Decision.Prior.Decline,
		SignalWeight:   params.Decision.SignalWeight,
		SocialWeight:   params.Decision.SocialWeight,
		PublicField:    params.Decision.PublicField,
	}, r.logger)
	r.mover = herd.NewMover(params.Herd.Config, params.Diseases, field, start, r.logger)
	r.errs = make([]error, len(r.arena.herds))

	hash := params.Hash()
	r.out = &Output{
		RunID:      RunID(hash, seed),
		Seed:       seed,
		ParamsHash: hash,
		Start:      start,
		End:        end,
	}
	for _, ag := range r.arena.agents {
		r.out.Agents = append(r.out.Agents, ag.info())
	}

	// Per-day order: booster expiry, epoch decisions, herd updates, snapshots.
	r.trigger = world.NewEpochTrigger(params.Epoch.IntervalDays, params.Epoch.OffsetDays, r.onEpoch)
	clock.AddListener(world.DayFunc(r.expire))
	clock.AddListener(r.trigger)
	clock.AddListener(world.DayFunc(r.stepHerds))
	clock.AddListener(world.DayFunc(r.snapshot))

	r.logger.Info("run started",
		zap.String("run_id", r.out.RunID),
		zap.Uint64("seed", seed),
		zap.Time("start", start),
		zap.Time("end", end),
		zap.Int("agents", len(r.arena.agents)),
		zap.Int("herds", len(r.arena.herds)))

	if err := clock.Run(ctx); err != nil {
		var runErr *RunError
		if errors.As(err, &runErr) {
			return nil, runErr
		}
		return nil, &RunError{Seed: seed, Date: clock.Date(), Err: err}
	}

	r.summarize()
	digest, err := Digest(r.out)
	if err != nil {
		return nil, &RunError{Seed: seed, Date: clock.Date(), Err: err}
	}
	r.out.Digest = digest
	r.logger.Info("run finished",
		zap.String("run_id", r.out.RunID),
		zap.Int("epochs", r.out.Summary.Epochs),
		zap.Int("decisions", len(r.out.Decisions)),
		zap.String("digest", r.out.Digest))
	return r.out, nil
}

// RunID derives a stable run identifier from the parameter hash and seed.
func RunID(paramsHash string, seed uint64) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(fmt.Sprintf("pastoralscape/%s/%d", paramsHash, seed))).String()
}

// checkCoverage rejects horizons the environment data cannot serve.
func checkCoverage(p *config.Params, field *environment.Field) error {
	if field == nil {
		return &config.ConfigurationError{Problems: []string{"environment field is required"}}
	}
	start, end := p.Start(), p.End()
	if !field.Overlaps(start, end) {
		return &config.ConfigurationError{Problems: []string{fmt.Sprintf(
			"horizon %s..%s does not overlap environment data %s..%s",
			start.Format(time.DateOnly), end.Format(time.DateOnly),
			field.Start().Format(time.DateOnly), field.End().Format(time.DateOnly))}}
	}
	if p.Environment.GapPolicy.Mode == environment.GapPropagate && !field.Covers(start, end) {
		return &config.ConfigurationError{Problems: []string{fmt.Sprintf(
			"horizon %s..%s exceeds environment data %s..%s and gap policy is %s",
			start.Format(time.DateOnly), end.Format(time.DateOnly),
			field.Start().Format(time.DateOnly), field.End().Format(time.DateOnly), environment.GapPropagate)}}
	}
	if !field.Has(environment.VarForage) {
		return &config.ConfigurationError{Problems: []string{"environment data has no forage variable"}}
	}
	return nil
}

func (r *runner) expire(_ context.Context, _ int, date time.Time) error {
	for _, ag := range r.arena.agents {
		changed := false
		for i := range ag.topics {
			t := &ag.topics[i]
			next := decision.Expire(t.vaccine.Kind, t.status, t.expiresAt, date)
			if next != t.status {
				r.logger.Debug("protection lapsed",
					zap.Int("agent", ag.id),
					zap.String("topic", t.vaccine.Name),
					zap.Time("date", date))
				t.status = next
				changed = true
			}
		}
		if changed {
			ag.updateProtection(r.diseaseIndex)
		}
	}
	return nil
}

func (r *runner) onEpoch(_ context.Context, epoch int, date time.Time) error {
	agents := r.arena.agents

	// Neighbour adoption is read from statuses before anyone decides.
	protected := make(map[string]int)
	for _, ag := range agents {
		for _, t := range ag.topics {
			if t.status.Protected() {
				protected[t.vaccine.Name]++
			}
		}
	}

	adoption := EpochAdoption{Epoch: epoch, Date: date, Protected: map[string]int{}, Vaccinated: map[string]int{}}
	gaps := 0
	for _, ag := range agents {
		r.realize(ag, date)
		ag.memory.Sweep(date)

		req := decision.Request{
			AgentID:  ag.id,
			Date:     date,
			Lambda:   ag.lambda,
			Memory:   ag.memory,
			Exposure: r.exposure(ag),
			Adoption: make(map[string]float64, len(ag.topics)),
		}
		var idx []int
		for i, t := range ag.topics {
			if !t.vaccine.Available(date) {
				continue
			}
			idx = append(idx, i)
			req.Topics = append(req.Topics, decision.Topic{Vaccine: t.vaccine, Status: t.status})
			if n := len(agents) - 1; n > 0 {
				self := 0
				if t.status.Protected() {
					self = 1
				}
				req.Adoption[t.vaccine.Name] = float64(protected[t.vaccine.Name]-self) / float64(n)
			}
		}

		d, err := r.engine.Decide(req, ag.rng)
		if err != nil {
			return &RunError{Seed: r.seed, Date: date, AgentID: ag.id, Err: err}
		}
		for k, td := range d.Topics {
			t := &ag.topics[idx[k]]
			t.status = td.After
			if td.Action == decision.Vaccinate {
				t.expiresAt = decision.ExpiresAt(t.vaccine.Kind, date, t.vaccine.ProtectionFor(ag.rng))
				adoption.Vaccinated[td.Topic]++
			}
			if td.Action != decision.None {
				cost := 0.0
				if td.Action == decision.Vaccinate {
					cost = t.vaccine.Cost
				}
				ag.pending = append(ag.pending, pending{topic: td.Topic, action: td.Action, date: date, cost: cost})
			}
			r.out.Decisions = append(r.out.Decisions, DecisionRecord{
				Epoch:         epoch,
				Date:          date,
				AgentID:       ag.id,
				Topic:         td.Topic,
				Kind:          string(td.Kind),
				Action:        string(td.Action),
				Before:        string(td.Before),
				After:         string(td.After),
				Utilities:     td.Utilities,
				Probabilities: td.Probabilities,
				MemorySize:    ag.memory.Len(td.Topic),
			})
		}
		ag.updateProtection(r.diseaseIndex)

		for _, hi := range ag.herds {
			gaps += r.arena.herds[hi].Epoch.GapsFilled
			r.arena.herds[hi].ResetEpoch()
		}
		for _, t := range ag.topics {
			if t.status.Protected() {
				adoption.Protected[t.vaccine.Name]++
			}
		}
	}
	r.out.Summary.Adoption = append(r.out.Summary.Adoption, adoption)

	r.gaps += gaps
	if gaps > 0 {
		r.logger.Warn("data gaps filled by fallback policy",
			zap.Int("epoch", epoch),
			zap.Int("samples", gaps),
			zap.String("policy", string(r.params.Environment.GapPolicy.Mode)))
	}
	r.logger.Info("epoch complete",
		zap.Int("epoch", epoch),
		zap.Time("date", date),
		zap.Any("protected", adoption.Protected),
		zap.Any("vaccinated", adoption.Vaccinated))
	return nil
}

// realize writes the outcomes of last epoch's choices into memory. Choices
// made at the final epoch are never realized.
func (r *runner) realize(ag *agent, date time.Time) {
	if len(ag.pending) == 0 {
		return
	}
	var condSum float64
	var lost, startSize, n int
	for _, hi := range ag.herds {
		acc := r.arena.herds[hi].Epoch
		if acc.Days > 0 {
			condSum += acc.MeanCondition()
			n++
		}
		lost += acc.DiseaseDeaths + acc.StarvationDeaths
		startSize += acc.StartSize
	}
	meanCond := 0.0
	if n > 0 {
		meanCond = condSum / float64(n)
	}
	lossFrac := 0.0
	if startSize > 0 {
		lossFrac = float64(lost) / float64(startSize)
	}
	base := r.params.Decision.ConditionWeight*meanCond - r.params.Decision.LossWeight*lossFrac

	for _, pd := range ag.pending {
		outcome := base - pd.cost
		ag.memory.Record(pd.topic, date, string(pd.action), outcome)
		r.out.Outcomes = append(r.out.Outcomes, OutcomeRecord{
			Date:      date,
			AgentID:   ag.id,
			Topic:     pd.topic,
			Action:    string(pd.action),
			DecidedOn: pd.date,
			Outcome:   outcome,
		})
	}
	ag.pending = ag.pending[:0]
}

// exposure is the mean accumulated pressure per disease over the agent's herds.
func (r *runner) exposure(ag *agent) map[string]float64 {
	out := make(map[string]float64, len(r.arena.diseases))
	if len(ag.herds) == 0 {
		return out
	}
	for i, d := range r.arena.diseases {
		var sum float64
		for _, hi := range ag.herds {
			sum += r.arena.herds[hi].Epoch.Exposure[i]
		}
		out[d.Name] = sum / float64(len(ag.herds))
	}
	return out
}

// stepHerds advances every herd by one day. Herds touch only their own
// state, so they may run on several workers; the first error by herd index
// is reported.
func (r *runner) stepHerds(_ context.Context, _ int, date time.Time) error {
	herds := r.arena.herds
	step := func(i int) {
		h := herds[i]
		r.errs[i] = r.mover.Step(h, date, r.arena.agents[h.Owner].protection)
	}

	if r.params.Workers > 1 {
		var g errgroup.Group
		g.SetLimit(r.params.Workers)
		for i := range herds {
			g.Go(func() error {
				step(i)
				return nil
			})
		}
		_ = g.Wait()
	} else {
		for i := range herds {
			step(i)
		}
	}

	for i, err := range r.errs {
		if err != nil {
			return &RunError{Seed: r.seed, Date: date, AgentID: r.arena.agents[herds[i].Owner].id, Err: err}
		}
	}
	return nil
}

func (r *runner) snapshot(_ context.Context, day int, date time.Time) error {
	every := r.params.SnapshotEveryDays
	last := day == r.days-1
	if !last && (every <= 0 || day%every != 0) {
		return nil
	}
	for _, h := range r.arena.herds {
		r.out.Snapshots = append(r.out.Snapshots, HerdSnapshot{
			Day:       day,
			Date:      date,
			HerdID:    h.ID,
			AgentID:   r.arena.agents[h.Owner].id,
			X:         h.Pos.X,
			Y:         h.Pos.Y,
			Size:      h.Size,
			Infected:  h.InfectedTotal(),
			Condition: h.Condition,
		})
	}
	return nil
}

func (r *runner) summarize() {
	s := &r.out.Summary
	s.Agents = len(r.arena.agents)
	s.Herds = len(r.arena.herds)
	s.Epochs = r.trigger.Fired()
	s.GapsFilled = r.gaps

	conditions := make([]float64, 0, len(r.arena.herds))
	for _, h := range r.arena.herds {
		s.DiseaseDeaths += h.Total.DiseaseDeaths
		s.StarvationDeaths += h.Total.StarvationDeaths
		s.OldAgeDeaths += h.Total.OldAgeDeaths
		s.Births += h.Total.Births
		s.Distance += h.Total.Distance
		s.FinalHerdSize += h.Size
		s.GapsFilled += h.Epoch.GapsFilled
		conditions = append(conditions, h.Condition)
	}
	if len(conditions) > 0 {
		s.MeanCondition = stat.Mean(conditions, nil)
	}
	if len(conditions) > 1 {
		s.ConditionStdDev = stat.StdDev(conditions, nil)
	}
}
