package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/nidhogg/pastoralscape/internal/sim"
)

// ErrRunNotFound is returned when no run has the requested id.
var ErrRunNotFound = errors.New("run not found")

// RunRecord is a persisted run header.
type RunRecord struct {
	ID         string      `json:"id"`
	ParamsHash string      `json:"params_hash"`
	Seed       uint64      `json:"seed"`
	Digest     string      `json:"digest"`
	Start      time.Time   `json:"start"`
	End        time.Time   `json:"end"`
	Summary    sim.Summary `json:"summary"`
	CreatedAt  time.Time   `json:"created_at"`
}

// SaveRun upserts a run header and replaces its decisions.
func (s *Store) SaveRun(ctx context.Context, out *sim.Output) error {
	summary, err := json.Marshal(out.Summary)
	if err != nil {
		return fmt.Errorf("marshal summary: %w", err)
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin save run: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx, `
		INSERT INTO runs (id, params_hash, seed, digest, start_date, end_date, summary)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			digest = EXCLUDED.digest,
			summary = EXCLUDED.summary`,
		out.RunID, out.ParamsHash, int64(out.Seed), out.Digest, out.Start, out.End, summary,
	)
	if err != nil {
		return fmt.Errorf("save run %s: %w", out.RunID, err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM decisions WHERE run_id = $1`, out.RunID); err != nil {
		return fmt.Errorf("clear decisions %s: %w", out.RunID, err)
	}

	rows := make([][]any, 0, len(out.Decisions))
	for _, d := range out.Decisions {
		rows = append(rows, []any{
			out.RunID, d.Epoch, d.Date, d.AgentID, d.Topic, d.Kind, d.Action, d.Before, d.After, d.MemorySize,
		})
	}
	n, err := tx.CopyFrom(ctx, pgx.Identifier{"decisions"},
		[]string{"run_id", "epoch", "decided_on", "agent_id", "topic", "kind", "action", "status_before", "status_after", "memory_size"},
		pgx.CopyFromRows(rows))
	if err != nil {
		return fmt.Errorf("copy decisions %s: %w", out.RunID, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit run %s: %w", out.RunID, err)
	}

	s.logger.Info("run persisted", zap.String("run_id", out.RunID), zap.Int64("decisions", n))
	return nil
}

// GetRun retrieves a run header by id.
func (s *Store) GetRun(ctx context.Context, id string) (*RunRecord, error) {
	row := s.db.QueryRow(ctx, `
		SELECT id::text, params_hash, seed, digest, start_date, end_date, summary, created_at
		FROM runs WHERE id = $1`, id)

	var (
		r       RunRecord
		seed    int64
		summary []byte
	)
	err := row.Scan(&r.ID, &r.ParamsHash, &seed, &r.Digest, &r.Start, &r.End, &summary, &r.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrRunNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get run %s: %w", id, err)
	}
	r.Seed = uint64(seed)
	if err := json.Unmarshal(summary, &r.Summary); err != nil {
		return nil, fmt.Errorf("decode summary %s: %w", id, err)
	}
	return &r, nil
}

// ListRuns returns run headers, newest first.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]RunRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(ctx, `
		SELECT id::text, params_hash, seed, digest, start_date, end_date, summary, created_at
		FROM runs ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var out []RunRecord
	for rows.Next() {
		var (
			r       RunRecord
			seed    int64
			summary []byte
		)
		if err := rows.Scan(&r.ID, &r.ParamsHash, &seed, &r.Digest, &r.Start, &r.End, &summary, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		r.Seed = uint64(seed)
		if err := json.Unmarshal(summary, &r.Summary); err != nil {
			return nil, fmt.Errorf("decode summary %s: %w", r.ID, err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ListDecisions returns a run's decisions in epoch, agent, topic order.
// agentID 0 returns every agent.
func (s *Store) ListDecisions(ctx context.Context, runID string, agentID int) ([]sim.DecisionRecord, error) {
	rows, err := s.db.Query(ctx, `
		SELECT epoch, decided_on, agent_id, topic, kind, action, status_before, status_after, memory_size
		FROM decisions
		WHERE run_id = $1 AND ($2 = 0 OR agent_id = $2)
		ORDER BY epoch, agent_id, topic`, runID, agentID)
	if err != nil {
		return nil, fmt.Errorf("list decisions %s: %w", runID, err)
	}
	defer rows.Close()

	var out []sim.DecisionRecord
	for rows.Next() {
		var d sim.DecisionRecord
		if err := rows.Scan(&d.Epoch, &d.Date, &d.AgentID, &d.Topic, &d.Kind, &d.Action, &d.Before, &d.After, &d.MemorySize); err != nil {
			return nil, fmt.Errorf("scan decision: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}
