package sim

import (
	"fmt"
	"math/rand/v2"
	"slices"
	"sort"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/nidhogg/pastoralscape/internal/config"
	"github.com/nidhogg/pastoralscape/internal/decision"
	"github.com/nidhogg/pastoralscape/internal/environment"
	"github.com/nidhogg/pastoralscape/internal/herd"
	"github.com/nidhogg/pastoralscape/internal/memory"
)

// Random stream ids. Each agent and herd draws from its own PCG stream so
// results do not depend on processing order or worker count.
const (
	streamSetup = 0
	streamAgent = 1 << 32
	streamHerd  = 2 << 32
)

type topicState struct {
	vaccine   decision.Vaccine
	status    decision.Status
	expiresAt time.Time
}

type pending struct {
	topic  string
	action decision.Action
	date   time.Time
	cost   float64
}

// agent is one household. Herds are indices into arena.herds.
type agent struct {
	id         int
	lambda     float64
	topics     []topicState // ascending by vaccine name
	memory     *memory.Store
	herds      []int
	rng        *rand.Rand
	pending    []pending
	protection []float64 // per disease
}

type arena struct {
	agents   []*agent
	herds    []*herd.Herd
	diseases []herd.Disease
}

// newArena builds agents and herds from params. All setup draws come from
// the setup stream in ascending agent order.
func newArena(p *config.Params, field *environment.Field, seed uint64, logger *zap.Logger) (*arena, error) {
	setup := rand.New(rand.NewPCG(seed, streamSetup))
	vaccines := p.DecisionVaccines()
	sort.Slice(vaccines, func(i, j int) bool { return vaccines[i].Name < vaccines[j].Name })
	byName := make(map[string]decision.Vaccine, len(vaccines))
	for _, v := range vaccines {
		byName[v.Name] = v
	}

	agentsCfg := p.Agents
	if len(agentsCfg) == 0 {
		agentsCfg = make([]config.AgentParams, p.Population.Agents)
		for i := range agentsCfg {
			agentsCfg[i].ID = i + 1
		}
	} else {
		agentsCfg = slices.Clone(agentsCfg)
		sort.Slice(agentsCfg, func(i, j int) bool { return agentsCfg[i].ID < agentsCfg[j].ID })
	}

	a := &arena{diseases: p.Diseases}
	diseaseIndex := make(map[string]int, len(p.Diseases))
	for i, d := range p.Diseases {
		diseaseIndex[d.Name] = i
	}

	for _, ap := range agentsCfg {
		lambda := p.Rationality.Draw(setup)
		if ap.Rationality != nil {
			lambda = *ap.Rationality
		}

		var topics []topicState
		if len(ap.Vaccines) == 0 {
			for _, v := range vaccines {
				topics = append(topics, topicState{vaccine: v, status: decision.Unvaccinated})
			}
		} else {
			names := slices.Clone(ap.Vaccines)
			sort.Strings(names)
			for _, name := range slices.Compact(names) {
				topics = append(topics, topicState{vaccine: byName[name], status: decision.Unvaccinated})
			}
		}

		pos := environment.Location{X: setup.IntN(field.Width()), Y: setup.IntN(field.Height())}
		if ap.Position != nil {
			pos = *ap.Position
			if !field.InBounds(pos) {
				return nil, &config.ConfigurationError{Problems: []string{
					fmt.Sprintf("agent %d position (%d,%d) is outside the %dx%d environment grid",
						ap.ID, pos.X, pos.Y, field.Width(), field.Height()),
				}}
			}
		}

		mem, err := memory.NewStore(p.Memory.Capacity, p.Memory.Decay, logger.With(zap.Int("agent", ap.ID)))
		if err != nil {
			return nil, &config.ConfigurationError{Problems: []string{err.Error()}}
		}

		ag := &agent{
			id:         ap.ID,
			lambda:     lambda,
			topics:     topics,
			memory:     mem,
			rng:        rand.New(rand.NewPCG(seed, streamAgent|uint64(ap.ID))),
			protection: make([]float64, len(p.Diseases)),
		}

		for range p.Population.HerdsPerAgent {
			size := ap.HerdSize
			if size == 0 {
				size = p.Population.HerdSizeMin + setup.IntN(p.Population.HerdSizeMax-p.Population.HerdSizeMin+1)
			}
			id := len(a.herds)
			h := herd.New(id, len(a.agents), pos, size, p.Herd.InitialCondition, len(p.Diseases),
				environment.NewSampler(field, p.Environment.GapPolicy),
				rand.NewPCG(seed, streamHerd|uint64(id)))
			for i := range h.Infected {
				h.Infected[i] = min(p.Herd.InitialInfected, size)
			}
			a.herds = append(a.herds, h)
			ag.herds = append(ag.herds, id)
		}
		ag.updateProtection(diseaseIndex)
		a.agents = append(a.agents, ag)
	}
	return a, nil
}

// updateProtection recomputes the share of each disease's pressure the
// household's current vaccination statuses remove.
func (ag *agent) updateProtection(diseaseIndex map[string]int) {
	clear(ag.protection)
	for _, t := range ag.topics {
		if !t.status.Protected() {
			continue
		}
		if i, ok := diseaseIndex[t.vaccine.Disease]; ok {
			ag.protection[i] = max(ag.protection[i], t.vaccine.Efficacy)
		}
	}
}

func (ag *agent) topicNames() []string {
	out := make([]string, len(ag.topics))
	for i, t := range ag.topics {
		out[i] = t.vaccine.Name
	}
	return out
}

func (ag *agent) info() AgentInfo {
	return AgentInfo{
		ID:       ag.id,
		Lambda:   strconv.FormatFloat(ag.lambda, 'g', -1, 64),
		Vaccines: ag.topicNames(),
		Herds:    slices.Clone(ag.herds),
	}
}
