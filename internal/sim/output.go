package sim

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"
)

// Output is the complete, deterministically ordered result of one run.
type Output struct {
	RunID      string           `json:"run_id"`
	Seed       uint64           `json:"seed"`
	ParamsHash string           `json:"params_hash"`
	Start      time.Time        `json:"start"`
	End        time.Time        `json:"end"`
	Decisions  []DecisionRecord `json:"decisions"`
	Outcomes   []OutcomeRecord  `json:"outcomes"`
	Snapshots  []HerdSnapshot   `json:"snapshots"`
	Agents     []AgentInfo      `json:"agents"`
	Summary    Summary          `json:"summary"`
	Digest     string           `json:"digest"`
}

// DecisionRecord is one agent's choice on one topic at one epoch, in
// ascending (epoch, agent, topic) order.
type DecisionRecord struct {
	Epoch         int       `json:"epoch"`
	Date          time.Time `json:"date"`
	AgentID       int       `json:"agent_id"`
	Topic         string    `json:"topic"`
	Kind          string    `json:"kind"`
	Action        string    `json:"action"`
	Before        string    `json:"before"`
	After         string    `json:"after"`
	Utilities     []float64 `json:"utilities,omitempty"`
	Probabilities []float64 `json:"probabilities,omitempty"`
	MemorySize    int       `json:"memory_size"`
}

// OutcomeRecord is a realized utility written to memory one epoch after
// the decision that produced it.
type OutcomeRecord struct {
	Date      time.Time `json:"date"`
	AgentID   int       `json:"agent_id"`
	Topic     string    `json:"topic"`
	Action    string    `json:"action"`
	DecidedOn time.Time `json:"decided_on"`
	Outcome   float64   `json:"outcome"`
}

// HerdSnapshot is a herd's state at the end of a day.
type HerdSnapshot struct {
	Day       int       `json:"day"`
	Date      time.Time `json:"date"`
	HerdID    int       `json:"herd_id"`
	AgentID   int       `json:"agent_id"`
	X         int       `json:"x"`
	Y         int       `json:"y"`
	Size      int       `json:"size"`
	Infected  int       `json:"infected"`
	Condition float64   `json:"condition"`
}

// AgentInfo describes a household as set up at the start of the run.
type AgentInfo struct {
	ID       int      `json:"id"`
	Lambda   string   `json:"lambda"`
	Vaccines []string `json:"vaccines"`
	Herds    []int    `json:"herds"`
}

// Summary aggregates the run.
type Summary struct {
	Agents           int             `json:"agents"`
	Herds            int             `json:"herds"`
	Epochs           int             `json:"epochs"`
	DiseaseDeaths    int             `json:"disease_deaths"`
	StarvationDeaths int             `json:"starvation_deaths"`
	OldAgeDeaths     int             `json:"old_age_deaths,omitempty"`
	Births           int             `json:"births"`
	Distance         int             `json:"distance"`
	FinalHerdSize    int             `json:"final_herd_size"`
	MeanCondition    float64         `json:"mean_condition"`
	ConditionStdDev  float64         `json:"condition_std_dev"`
	GapsFilled       int             `json:"gaps_filled"`
	Adoption         []EpochAdoption `json:"adoption"`
}

// EpochAdoption counts protected households and vaccinations per topic
// right after an epoch's decisions.
type EpochAdoption struct {
	Epoch      int            `json:"epoch"`
	Date       time.Time      `json:"date"`
	Protected  map[string]int `json:"protected"`
	Vaccinated map[string]int `json:"vaccinated"`
}

// Digest hashes everything a run produced except its identity fields, so
// two runs with the same inputs have the same digest. It fails when the
// output holds a value JSON cannot encode, such as a NaN.
func Digest(o *Output) (string, error) {
	payload := struct {
		Decisions []DecisionRecord `json:"decisions"`
		Outcomes  []OutcomeRecord  `json:"outcomes"`
		Snapshots []HerdSnapshot   `json:"snapshots"`
		Agents    []AgentInfo      `json:"agents"`
		Summary   Summary          `json:"summary"`
	}{o.Decisions, o.Outcomes, o.Snapshots, o.Agents, o.Summary}
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("digest run %s: %w", o.RunID, err)
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:]), nil
}
