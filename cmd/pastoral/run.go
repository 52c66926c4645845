package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/nidhogg/pastoralscape/internal/archive"
	"github.com/nidhogg/pastoralscape/internal/output"
	"github.com/nidhogg/pastoralscape/internal/sim"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Execute one run and write its output",
	Long: `Runs the model once for a parameter set and seed, writes the decision,
outcome and snapshot streams as zstd-compressed JSON lines, records the run
in the local archive and prints the summary.`,
	RunE: runOnce,
}

func init() {
	runCmd.Flags().String("params", "", "model parameter file (YAML or JSON)")
	runCmd.Flags().Uint64("seed", 0, "random seed (default: the params seed)")
	runCmd.Flags().String("env", "", "environment CSV (default: synthetic field)")
	runCmd.Flags().String("out", "", "output directory (default: config output.dir)")
	runCmd.Flags().String("archive", "", "sqlite run archive (default: config archive.path)")
	runCmd.Flags().Int("workers", 0, "herd update workers (default: the params value)")
}

func runOnce(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg.Server.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	paramsPath, _ := cmd.Flags().GetString("params")
	params, err := loadParams(paramsPath, cfg)
	if err != nil {
		return err
	}
	envPath, _ := cmd.Flags().GetString("env")
	if envPath == "" {
		envPath = cfg.EnvPath
	}
	if envPath != "" {
		params.Environment.CSV = envPath
	}
	if w, _ := cmd.Flags().GetInt("workers"); w > 0 {
		params.Workers = w
	}
	if err := params.Validate(); err != nil {
		return err
	}

	seed := params.Seed
	if cmd.Flags().Changed("seed") {
		seed, _ = cmd.Flags().GetUint64("seed")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	archivePath, _ := cmd.Flags().GetString("archive")
	if archivePath == "" {
		archivePath = cfg.Archive.Path
	}
	var arc *archive.SQLiteArchive
	if archivePath != "" {
		arc, err = archive.OpenSQLite(archivePath)
		if err != nil {
			return err
		}
		defer arc.Close()
		if err := arc.Check(ctx, params.Hash(), seed); err != nil {
			return err
		}
	}

	field, err := sim.LoadField(params)
	if err != nil {
		return err
	}

	logger.Info("starting run",
		zap.Uint64("seed", seed),
		zap.String("start", params.Horizon.Start),
		zap.String("end", params.Horizon.End))

	out, err := sim.RunOnce(ctx, params, field, seed, sim.WithLogger(logger))
	if err != nil {
		return err
	}

	outDir, _ := cmd.Flags().GetString("out")
	if outDir == "" {
		outDir = cfg.Output.Dir
	}
	if outDir != "" {
		dir, err := output.NewRunWriter(outDir, logger).Write(out)
		if err != nil {
			return err
		}
		logger.Info("output written", zap.String("dir", dir))
	}
	if arc != nil {
		if err := arc.Record(ctx, out); err != nil {
			return fmt.Errorf("archive run: %w", err)
		}
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(struct {
		RunID   string      `json:"run_id"`
		Seed    uint64      `json:"seed"`
		Digest  string      `json:"digest"`
		Summary sim.Summary `json:"summary"`
	}{out.RunID, out.Seed, out.Digest, out.Summary})
}
