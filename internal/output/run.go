package output

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/nidhogg/pastoralscape/internal/sim"
)

// File names written under a run directory.
const (
	DecisionsFile = "decisions.jsonl.zst"
	OutcomesFile  = "outcomes.jsonl.zst"
	SnapshotsFile = "snapshots.jsonl.zst"
	SummaryFile   = "summary.json"
)

// RunWriter writes a run's records into dir/<run id>/.
type RunWriter struct {
	baseDir string
	logger  *zap.Logger
}

// NewRunWriter creates a writer rooted at baseDir.
func NewRunWriter(baseDir string, logger *zap.Logger) *RunWriter {
	return &RunWriter{baseDir: baseDir, logger: logger}
}

// Write stores out and returns the run directory.
func (w *RunWriter) Write(out *sim.Output) (string, error) {
	dir := filepath.Join(w.baseDir, out.RunID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create run dir: %w", err)
	}

	if err := writeAll(filepath.Join(dir, DecisionsFile), out.Decisions); err != nil {
		return "", fmt.Errorf("write decisions: %w", err)
	}
	if err := writeAll(filepath.Join(dir, OutcomesFile), out.Outcomes); err != nil {
		return "", fmt.Errorf("write outcomes: %w", err)
	}
	if err := writeAll(filepath.Join(dir, SnapshotsFile), out.Snapshots); err != nil {
		return "", fmt.Errorf("write snapshots: %w", err)
	}

	header := struct {
		RunID      string          `json:"run_id"`
		Seed       uint64          `json:"seed"`
		ParamsHash string          `json:"params_hash"`
		Digest     string          `json:"digest"`
		Agents     []sim.AgentInfo `json:"agents"`
		Summary    sim.Summary     `json:"summary"`
	}{out.RunID, out.Seed, out.ParamsHash, out.Digest, out.Agents, out.Summary}
	raw, err := json.MarshalIndent(header, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode summary: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, SummaryFile), raw, 0o644); err != nil {
		return "", fmt.Errorf("write summary: %w", err)
	}

	w.logger.Info("run output written",
		zap.String("run_id", out.RunID),
		zap.String("dir", dir),
		zap.Int("decisions", len(out.Decisions)),
		zap.Int("snapshots", len(out.Snapshots)))
	return dir, nil
}

func writeAll[T any](path string, records []T) error {
	w, err := NewJSONLZstdWriter(path)
	if err != nil {
		return err
	}
	for _, r := range records {
		if err := w.Write(r); err != nil {
			_ = w.Close()
			return err
		}
	}
	return w.Close()
}
