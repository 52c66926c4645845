package sim

import (
	"context"
	"errors"
	"math"
	"reflect"
	"testing"

	"go.uber.org/zap"

	"github.com/nidhogg/pastoralscape/internal/config"
	"github.com/nidhogg/pastoralscape/internal/decision"
	"github.com/nidhogg/pastoralscape/internal/environment"
	"github.com/nidhogg/pastoralscape/internal/rationality"
)

// smallParams is a three-year, six-household run that exercises disease,
// movement and both vaccine kinds.
func smallParams() *config.Params {
	p := config.DefaultParams()
	p.Horizon = config.Horizon{Start: "2001-01-01", End: "2004-01-01"}
	p.Epoch.IntervalDays = 180
	p.SnapshotEveryDays = 60
	p.Environment.Synthetic.Width = 6
	p.Environment.Synthetic.Height = 6
	p.Population.Agents = 6
	p.Population.HerdsPerAgent = 2
	p.Rationality = rationality.Population{Kind: rationality.DistUniform, Min: 0.5, Max: 5}
	p.Decision.SocialWeight = 0.5
	p.Herd.InitialInfected = 2
	p.Herd.BirthRate = 0.3
	return &p
}

func mustRun(t *testing.T, p *config.Params, seed uint64) *Output {
	t.Helper()
	field, err := LoadField(p)
	if err != nil {
		t.Fatalf("load field: %v", err)
	}
	out, err := RunOnce(context.Background(), p, field, seed, WithLogger(zap.NewNop()))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	return out
}

func TestRunDeterministic(t *testing.T) {
	a := mustRun(t, smallParams(), 42)
	b := mustRun(t, smallParams(), 42)

	if a.Digest == "" || a.Digest != b.Digest {
		t.Fatalf("digests differ: %q vs %q", a.Digest, b.Digest)
	}
	if !reflect.DeepEqual(a, b) {
		t.Fatal("outputs of identical runs differ")
	}
	if a.RunID != RunID(a.ParamsHash, 42) {
		t.Errorf("run id %s is not derived from params hash and seed", a.RunID)
	}
}

func TestRunWorkerInvariant(t *testing.T) {
	serial := smallParams()
	parallel := smallParams()
	parallel.Workers = 4

	a := mustRun(t, serial, 7)
	b := mustRun(t, parallel, 7)
	if !reflect.DeepEqual(a.Decisions, b.Decisions) || !reflect.DeepEqual(a.Snapshots, b.Snapshots) {
		t.Fatal("worker count changed the trajectory")
	}
	if a.Digest != b.Digest {
		t.Fatal("worker count changed the digest")
	}
}

func TestRunDecisionOrder(t *testing.T) {
	out := mustRun(t, smallParams(), 1)
	if len(out.Decisions) == 0 {
		t.Fatal("no decisions recorded")
	}
	for i := 1; i < len(out.Decisions); i++ {
		prev, cur := out.Decisions[i-1], out.Decisions[i]
		switch {
		case cur.Epoch < prev.Epoch:
		case cur.Epoch == prev.Epoch && cur.AgentID < prev.AgentID:
		case cur.Epoch == prev.Epoch && cur.AgentID == prev.AgentID && cur.Topic <= prev.Topic:
		default:
			continue
		}
		t.Fatalf("decision %d out of order: %+v after %+v", i, cur, prev)
	}
	if out.Summary.Epochs != 7 {
		t.Errorf("got %d epochs, want 7", out.Summary.Epochs)
	}
}

func TestOnceForLifeIsTerminal(t *testing.T) {
	p := smallParams()
	p.Decision.Prior.Vaccinate = 1
	out := mustRun(t, p, 3)

	protected := map[int]bool{}
	seen := false
	for _, d := range out.Decisions {
		if d.Topic != "lifelong" {
			continue
		}
		if protected[d.AgentID] {
			seen = true
			if d.Action != string(decision.None) || d.After != string(decision.OnceForLifeProtected) {
				t.Fatalf("agent %d left the terminal state: %+v", d.AgentID, d)
			}
		}
		if d.After == string(decision.OnceForLifeProtected) {
			protected[d.AgentID] = true
		}
	}
	if !seen {
		t.Fatal("no agent made a second decision after lifelong adoption")
	}
}

func TestFirstEpochDefined(t *testing.T) {
	out := mustRun(t, smallParams(), 5)
	for _, d := range out.Decisions {
		if d.Epoch != 0 {
			break
		}
		if d.MemorySize != 0 {
			t.Fatalf("first epoch memory not empty: %+v", d)
		}
		sum := 0.0
		for i, u := range d.Utilities {
			if math.IsNaN(u) || math.IsNaN(d.Probabilities[i]) {
				t.Fatalf("undefined utility: %+v", d)
			}
			sum += d.Probabilities[i]
		}
		if math.Abs(sum-1) > 1e-9 {
			t.Fatalf("probabilities sum to %v: %+v", sum, d)
		}
	}
}

func TestMemoryBounded(t *testing.T) {
	p := smallParams()
	p.Epoch.IntervalDays = 30
	p.Memory.Capacity = 2
	out := mustRun(t, p, 11)

	maxSeen := 0
	for _, d := range out.Decisions {
		if d.MemorySize > p.Memory.Capacity {
			t.Fatalf("memory holds %d records for %s, capacity %d", d.MemorySize, d.Topic, p.Memory.Capacity)
		}
		maxSeen = max(maxSeen, d.MemorySize)
	}
	if maxSeen == 0 {
		t.Fatal("memory was never written")
	}
	if len(out.Outcomes) == 0 {
		t.Fatal("no outcomes realized")
	}
}

// gapField has forage 0.9 everywhere except day 4, which is 0.3, and a
// missing sample on day 5 at the herd's cell.
func gapField(t *testing.T, days int) *environment.Field {
	t.Helper()
	start := smallParams().Start()
	f, err := environment.NewBuilder(start, days, 3, 3).
		Fill(environment.VarForage, func(d int, _ environment.Location) float64 {
			if d == 4 {
				return 0.3
			}
			return 0.9
		}).
		Gap(environment.VarForage, 5, environment.Location{X: 1, Y: 1}).
		Build()
	if err != nil {
		t.Fatalf("build field: %v", err)
	}
	return f
}

func gapParams(mode environment.GapMode) *config.Params {
	p := config.DefaultParams()
	p.Horizon = config.Horizon{Start: "2001-01-01", End: "2001-01-21"}
	p.Epoch.IntervalDays = 10
	p.SnapshotEveryDays = 1
	p.Environment.GapPolicy = environment.GapPolicy{Mode: mode}
	p.Diseases = nil
	for i := range p.Vaccines {
		p.Vaccines[i].Disease = ""
	}
	p.Herd.MoveThreshold = 0
	p.Herd.ForageNeed = 1
	p.Herd.HealthFed = 0.1
	p.Herd.HealthStarve = 0.1
	p.Herd.InitialCondition = 0.5
	p.Agents = []config.AgentParams{{ID: 1, Position: &environment.Location{X: 1, Y: 1}, HerdSize: 10}}
	p.Population.HerdsPerAgent = 1
	return &p
}

func TestGapCarryForward(t *testing.T) {
	p := gapParams(environment.GapCarryForward)
	out, err := RunOnce(context.Background(), p, gapField(t, 20), 42)
	if err != nil {
		t.Fatalf("run aborted: %v", err)
	}

	cond := map[int]float64{}
	for _, s := range out.Snapshots {
		cond[s.Day] = s.Condition
	}
	// Day 5 reuses day 4's forage of 0.3: +0.1*0.3 - 0.1*0.7.
	if got := cond[5] - cond[4]; math.Abs(got-(-0.04)) > 1e-9 {
		t.Errorf("day 5 condition change = %v, want -0.04", got)
	}
	if got := cond[6] - cond[5]; math.Abs(got-0.08) > 1e-9 {
		t.Errorf("day 6 condition change = %v, want 0.08", got)
	}
	if out.Summary.GapsFilled != 1 {
		t.Errorf("got %d gaps filled, want 1", out.Summary.GapsFilled)
	}
}

func TestGapPropagateAborts(t *testing.T) {
	p := gapParams(environment.GapPropagate)
	_, err := RunOnce(context.Background(), p, gapField(t, 20), 42)

	var runErr *RunError
	if !errors.As(err, &runErr) {
		t.Fatalf("got %v, want *RunError", err)
	}
	var gap *environment.DataGapError
	if !errors.As(err, &gap) {
		t.Fatalf("got %v, want a DataGapError inside", err)
	}
	if runErr.AgentID != 1 || environment.DaysBetween(p.Start(), runErr.Date) != 5 {
		t.Errorf("got agent %d date %s, want agent 1 on day 5", runErr.AgentID, runErr.Date)
	}
}

func TestHorizonCoverage(t *testing.T) {
	cases := []struct {
		name  string
		mode  environment.GapMode
		start string
		end   string
	}{
		{"disjoint", environment.GapCarryForward, "2005-01-01", "2005-02-01"},
		{"propagate past extent", environment.GapPropagate, "2001-01-01", "2001-02-01"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := gapParams(tc.mode)
			p.Horizon = config.Horizon{Start: tc.start, End: tc.end}
			_, err := RunOnce(context.Background(), p, gapField(t, 20), 1)
			var cfgErr *config.ConfigurationError
			if !errors.As(err, &cfgErr) {
				t.Fatalf("got %v, want *ConfigurationError", err)
			}
		})
	}

	p := gapParams(environment.GapCarryForward)
	p.Horizon.End = "2001-02-01"
	if _, err := RunOnce(context.Background(), p, gapField(t, 20), 1); err != nil {
		t.Fatalf("carry_forward past the extent should run: %v", err)
	}
}

func TestBackgroundDeathsAndJitter(t *testing.T) {
	p := smallParams()
	p.Herd.DeathRate = 5
	p.Vaccines[1].ProtectionJitterDays = 45

	a := mustRun(t, p, 11)
	if a.Summary.OldAgeDeaths == 0 {
		t.Error("got no old-age deaths with a positive death rate")
	}
	b := mustRun(t, p, 11)
	if a.Digest != b.Digest {
		t.Errorf("jittered runs differ: %q vs %q", a.Digest, b.Digest)
	}
}

func TestDigestRejectsNaN(t *testing.T) {
	out := &Output{RunID: "r1"}
	if _, err := Digest(out); err != nil {
		t.Fatalf("digest of empty output: %v", err)
	}
	out.Summary.MeanCondition = math.NaN()
	d, err := Digest(out)
	if err == nil || d != "" {
		t.Fatalf("got %q, %v; want an error for a NaN summary", d, err)
	}
}

func TestInvalidParams(t *testing.T) {
	p := smallParams()
	p.Memory.Capacity = 0
	_, err := RunOnce(context.Background(), p, gapField(t, 20), 1)
	var cfgErr *config.ConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("got %v, want *ConfigurationError", err)
	}
}

func TestPositionOutsideGrid(t *testing.T) {
	p := gapParams(environment.GapCarryForward)
	p.Agents[0].Position = &environment.Location{X: 9, Y: 0}
	_, err := RunOnce(context.Background(), p, gapField(t, 20), 1)
	var cfgErr *config.ConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("got %v, want *ConfigurationError", err)
	}
}

func TestRunCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p := smallParams()
	field, err := LoadField(p)
	if err != nil {
		t.Fatal(err)
	}
	_, err = RunOnce(ctx, p, field, 1)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("got %v, want context.Canceled", err)
	}
}
