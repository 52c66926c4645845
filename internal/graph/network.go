package graph

import (
	"sort"

	"github.com/nidhogg/pastoralscape/internal/sim"
)

// Household is one agent node in the exported social network.
type Household struct {
	ID     int    `json:"id"`
	Lambda string `json:"lambda"`
	Herds  int    `json:"herds"`
	// Status holds the final vaccination status per topic.
	Status map[string]string `json:"status"`
	// Vaccinations counts vaccinate actions per topic over the run.
	Vaccinations map[string]int `json:"vaccinations"`
}

// Tie is an undirected social link between two households, From < To.
type Tie struct {
	From   int     `json:"from"`
	To     int     `json:"to"`
	Weight float64 `json:"weight"`
}

// Network is the household graph of one run.
type Network struct {
	RunID      string      `json:"run_id"`
	Households []Household `json:"households"`
	Ties       []Tie       `json:"ties"`
}

// BuildNetwork derives the household network from run output. Households
// form a complete graph with the given tie weight.
func BuildNetwork(out *sim.Output, weight float64) Network {
	n := Network{RunID: out.RunID}
	for _, a := range out.Agents {
		n.Households = append(n.Households, Household{
			ID:           a.ID,
			Lambda:       a.Lambda,
			Herds:        len(a.Herds),
			Status:       make(map[string]string),
			Vaccinations: make(map[string]int),
		})
	}
	sort.Slice(n.Households, func(i, j int) bool { return n.Households[i].ID < n.Households[j].ID })
	index := make(map[int]int, len(n.Households))
	for i, h := range n.Households {
		index[h.ID] = i
	}

	// Decisions are in epoch order, so the last write per topic wins.
	for _, d := range out.Decisions {
		i, ok := index[d.AgentID]
		if !ok {
			continue
		}
		h := &n.Households[i]
		h.Status[d.Topic] = d.After
		if d.Action == "vaccinate" {
			h.Vaccinations[d.Topic]++
		}
	}

	for i := range n.Households {
		for j := i + 1; j < len(n.Households); j++ {
			n.Ties = append(n.Ties, Tie{
				From:   n.Households[i].ID,
				To:     n.Households[j].ID,
				Weight: weight,
			})
		}
	}
	return n
}

// Neighbours returns the ids tied to household id, ascending.
func (n Network) Neighbours(id int) []int {
	var out []int
	for _, t := range n.Ties {
		switch id {
		case t.From:
			out = append(out, t.To)
		case t.To:
			out = append(out, t.From)
		}
	}
	sort.Ints(out)
	return out
}
