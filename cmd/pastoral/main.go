package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/nidhogg/pastoralscape/internal/config"
)

var (
	// Version is set at build time via -ldflags "-X main.Version=X.Y.Z"
	Version = "0.0.0-dev"

	configPath string
	jsonLogs   bool
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:   "pastoral",
	Short: "PastoralScape - vaccination decisions of pastoralist households",
	Long: `PastoralScape simulates pastoralist households deciding whether to
vaccinate their herds, driven by bounded-rational choice over remembered
outcomes, herd movement over a forage field and livestock disease.

Commands:
  run     Execute one run and write its output
  serve   Start the HTTP run service

Examples:
  pastoral run --params configs/params.yaml --seed 7 --out runs
  pastoral serve --config configs/pastoral.json`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "service config file (default $CONFIG_PATH or configs/pastoral.json)")
	rootCmd.PersistentFlags().BoolVar(&jsonLogs, "json", false, "emit production JSON logs")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(serveCmd)
}

func main() {
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewDevelopmentConfig()
	if jsonLogs {
		cfg = zap.NewProductionConfig()
	}
	lvl := zapcore.InfoLevel
	if level != "" {
		if err := lvl.Set(level); err != nil {
			return nil, fmt.Errorf("log level %q: %w", level, err)
		}
	}
	if verbose {
		lvl = zapcore.DebugLevel
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	return cfg.Build()
}

// loadConfig reads the service config. A missing default file is not an
// error; an explicitly named one is.
func loadConfig() (*config.Config, error) {
	path := configPath
	explicit := path != ""
	if path == "" {
		path = os.Getenv("CONFIG_PATH")
		explicit = path != ""
	}
	if path == "" {
		path = "configs/pastoral.json"
	}
	cfg, err := config.Load(path)
	if err == nil {
		return cfg, nil
	}
	if !explicit {
		if _, statErr := os.Stat(path); os.IsNotExist(statErr) {
			return config.Default(), nil
		}
	}
	return nil, err
}

// loadParams reads the model parameter file, falling back to the config's
// params path and then to built-in defaults.
func loadParams(path string, cfg *config.Config) (*config.Params, error) {
	if path == "" {
		path = cfg.ParamsPath
	}
	if path == "" {
		p := config.DefaultParams()
		return &p, nil
	}
	return config.LoadParams(path)
}
