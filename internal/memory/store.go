package memory

import (
	"errors"
	"fmt"
	"iter"
	"math"
	"slices"
	"sort"
	"time"

	"go.uber.org/zap"
)

// ErrInvalidCapacity is returned when a store is created with room for
// fewer than one record per topic.
var ErrInvalidCapacity = errors.New("memory capacity must be at least 1")

// Record is one remembered (action, outcome) pair for a decision topic.
type Record struct {
	Topic   string    `json:"topic"`
	Date    time.Time `json:"date"`
	Action  string    `json:"action"`
	Outcome float64   `json:"outcome"`
}

// Store is a household's bounded, decaying memory. Each topic holds at most
// capacity records; older and less striking experiences are forgotten first.
// A Store is owned by one agent and is not safe for concurrent use.
type Store struct {
	capacity int
	decay    DecayConfig
	topics   map[string][]Record
	logger   *zap.Logger
}

// NewStore creates an empty store.
func NewStore(capacity int, decay DecayConfig, logger *zap.Logger) (*Store, error) {
	if capacity < 1 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidCapacity, capacity)
	}
	if err := decay.Validate(); err != nil {
		return nil, fmt.Errorf("memory decay: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		capacity: capacity,
		decay:    decay,
		topics:   make(map[string][]Record),
		logger:   logger,
	}, nil
}

// Capacity returns the per-topic record limit.
func (s *Store) Capacity() int { return s.capacity }

// Decay returns the store's decay configuration.
func (s *Store) Decay() DecayConfig { return s.decay }

// Record remembers an outcome, then forgets records whose salience at date
// fell below the floor and trims the topic back to capacity.
func (s *Store) Record(topic string, date time.Time, action string, outcome float64) {
	rec := Record{Topic: topic, Date: date, Action: action, Outcome: outcome}
	s.topics[topic] = append(s.topics[topic], rec)

	evicted := s.sweepTopic(topic, date)
	recs := s.topics[topic]
	for len(recs) > s.capacity {
		i := s.weakest(recs, date)
		recs = slices.Delete(recs, i, i+1)
		evicted++
	}
	s.topics[topic] = recs

	if evicted > 0 {
		s.logger.Debug("memory evicted",
			zap.String("topic", topic),
			zap.Time("date", date),
			zap.Int("evicted", evicted),
			zap.Int("kept", len(recs)))
	}
}

// weakest returns the index of the record to forget next: lowest salience,
// then oldest, then smallest outcome magnitude.
func (s *Store) weakest(recs []Record, asOf time.Time) int {
	idx := 0
	best := s.decay.Salience(recs[0], asOf)
	for i := 1; i < len(recs); i++ {
		sal := s.decay.Salience(recs[i], asOf)
		switch {
		case sal < best:
		case sal > best:
			continue
		case recs[i].Date.Before(recs[idx].Date):
		case recs[i].Date.After(recs[idx].Date):
			continue
		case math.Abs(recs[i].Outcome) < math.Abs(recs[idx].Outcome):
		default:
			continue
		}
		idx, best = i, sal
	}
	return idx
}

// Recall yields the surviving records of topic, most salient first (ties:
// newest first). Records dated after asOf are not visible. The sequence
// takes a private snapshot on every iteration and never mutates the store.
func (s *Store) Recall(topic string, asOf time.Time) iter.Seq[Record] {
	return func(yield func(Record) bool) {
		type scored struct {
			rec Record
			sal float64
		}
		snap := make([]scored, 0, len(s.topics[topic]))
		for _, r := range s.topics[topic] {
			if r.Date.After(asOf) {
				continue
			}
			sal := s.decay.Salience(r, asOf)
			if sal < s.decay.MinSalience {
				continue
			}
			snap = append(snap, scored{rec: r, sal: sal})
		}
		sort.SliceStable(snap, func(i, j int) bool {
			if snap[i].sal != snap[j].sal {
				return snap[i].sal > snap[j].sal
			}
			return snap[i].rec.Date.After(snap[j].rec.Date)
		})
		for _, sc := range snap {
			if !yield(sc.rec) {
				return
			}
		}
	}
}

// Sweep forgets below-threshold records across all topics and returns how
// many were dropped.
func (s *Store) Sweep(asOf time.Time) int {
	total := 0
	for _, topic := range s.Topics() {
		total += s.sweepTopic(topic, asOf)
	}
	if total > 0 {
		s.logger.Debug("memory sweep complete", zap.Time("as_of", asOf), zap.Int("evicted", total))
	}
	return total
}

func (s *Store) sweepTopic(topic string, asOf time.Time) int {
	recs := s.topics[topic]
	before := len(recs)
	recs = slices.DeleteFunc(recs, func(r Record) bool {
		return s.decay.Salience(r, asOf) < s.decay.MinSalience
	})
	s.topics[topic] = recs
	return before - len(recs)
}

// Len returns the number of records currently held for topic.
func (s *Store) Len(topic string) int { return len(s.topics[topic]) }

// Topics returns every topic with a record slot, sorted.
func (s *Store) Topics() []string {
	out := make([]string, 0, len(s.topics))
	for t := range s.topics {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}
