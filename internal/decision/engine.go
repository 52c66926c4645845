package decision

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"

	"github.com/nidhogg/pastoralscape/internal/memory"
	"github.com/nidhogg/pastoralscape/internal/rationality"
)

// Vaccine describes one product a household can choose. The vaccine name is
// the memory topic.
type Vaccine struct {
	Name           string
	Kind           VaccineKind
	Disease        string
	Efficacy       float64
	Cost           float64
	AvailableFrom  time.Time
	ProtectionDays int

	// ProtectionJitterDays is the standard deviation of a booster's
	// protection window. Zero keeps every window at ProtectionDays.
	ProtectionJitterDays float64
}

// Available reports whether the vaccine can be chosen on date.
func (v Vaccine) Available(date time.Time) bool {
	return !date.Before(v.AvailableFrom)
}

// ProtectionFor draws the protection window, in days, for a booster bought
// now. The window is at least one day. Only a jittered booster consumes a
// draw from rng.
func (v Vaccine) ProtectionFor(rng *rand.Rand) int {
	if v.Kind != AnnualBooster || v.ProtectionJitterDays <= 0 {
		return v.ProtectionDays
	}
	days := float64(v.ProtectionDays) + v.ProtectionJitterDays*rng.NormFloat64()
	return max(1, int(math.Round(days)))
}

// Config holds the utility model shared by all households. PublicField is
// a bias toward vaccination per disease that every household sees.
type Config struct {
	Rule           rationality.Rule
	PriorVaccinate float64
	PriorDecline   float64
	SignalWeight   float64
	SocialWeight   float64
	PublicField    map[string]float64
}

// Topic is one vaccine the household is eligible for, with its current status.
type Topic struct {
	Vaccine Vaccine
	Status  Status
}

// Request is everything a household decision may look at. Exposure is the
// herd pressure accumulated per disease over the last epoch; Adoption is the
// share of neighbours protected per topic at the previous epoch.
type Request struct {
	AgentID  int
	Date     time.Time
	Lambda   float64
	Topics   []Topic
	Memory   *memory.Store
	Exposure map[string]float64
	Adoption map[string]float64
}

// TopicDecision is the committed choice on one topic.
type TopicDecision struct {
	Topic         string
	Kind          VaccineKind
	Action        Action
	Before        Status
	After         Status
	Utilities     []float64
	Probabilities []float64
}

// Decision is one household's immutable result for one epoch.
type Decision struct {
	AgentID int
	Date    time.Time
	Topics  []TopicDecision
}

// Engine turns memories and signals into choices. It reads memory but never
// writes it, so Decide depends only on its arguments.
type Engine struct {
	cfg    Config
	logger *zap.Logger
}

// NewEngine creates a decision engine.
func NewEngine(cfg Config, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{cfg: cfg, logger: logger}
}

// Decide takes one decision per topic in the order given, drawing from rng.
func (e *Engine) Decide(req Request, rng *rand.Rand) (Decision, error) {
	out := Decision{AgentID: req.AgentID, Date: req.Date, Topics: make([]TopicDecision, 0, len(req.Topics))}
	model := rationality.Model{Lambda: req.Lambda}

	for _, t := range req.Topics {
		td := TopicDecision{Topic: t.Vaccine.Name, Kind: t.Vaccine.Kind, Before: t.Status}
		actions := Actions(t.Status)
		if len(actions) == 1 && actions[0] == None {
			td.Action, td.After = None, t.Status
			out.Topics = append(out.Topics, td)
			continue
		}

		utilities := make([]float64, len(actions))
		for i, a := range actions {
			utilities[i] = e.utility(req, t, a)
		}
		probs, err := model.Distribution(utilities)
		if err != nil {
			var inst *rationality.NumericInstabilityError
			if errors.As(err, &inst) {
				inst.AgentID = req.AgentID
				inst.Epoch = req.Date.Format(time.DateOnly)
			}
			return Decision{}, fmt.Errorf("decide %s: %w", t.Vaccine.Name, err)
		}
		choice := actions[rationality.Choose(probs, rng.Float64())]

		after, err := Transition(t.Vaccine.Kind, t.Status, choice)
		if err != nil {
			return Decision{}, fmt.Errorf("decide %s: %w", t.Vaccine.Name, err)
		}
		td.Action, td.After = choice, after
		td.Utilities, td.Probabilities = utilities, probs
		out.Topics = append(out.Topics, td)

		e.logger.Debug("topic decided",
			zap.Int("agent", req.AgentID),
			zap.String("topic", t.Vaccine.Name),
			zap.String("action", string(choice)),
			zap.String("status", string(after)),
			zap.Float64s("utilities", utilities))
	}
	return out, nil
}

// utility is the expected payoff of action: the aggregate of remembered
// outcomes for that action (or the prior) plus, for vaccination, the risk
// signal, the social signal and the public field.
func (e *Engine) utility(req Request, t Topic, action Action) float64 {
	var samples []rationality.Sample
	if req.Memory != nil {
		decay := req.Memory.Decay()
		for r := range req.Memory.Recall(t.Vaccine.Name, req.Date) {
			if r.Action != string(action) {
				continue
			}
			samples = append(samples, rationality.Sample{Outcome: r.Outcome, Weight: decay.Weight(r, req.Date)})
		}
	}

	prior := e.cfg.PriorDecline
	if action == Vaccinate {
		prior = e.cfg.PriorVaccinate
	}
	u := rationality.Aggregate(e.cfg.Rule, samples, prior)

	if action == Vaccinate {
		risk := 1 - math.Exp(-req.Exposure[t.Vaccine.Disease])
		u += e.cfg.SignalWeight*risk*t.Vaccine.Efficacy + e.cfg.SocialWeight*req.Adoption[t.Vaccine.Name]
		u += e.cfg.PublicField[t.Vaccine.Disease]
	}
	return u
}
