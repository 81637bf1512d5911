package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/san-kum/patchsim/internal/config"
	"github.com/san-kum/patchsim/internal/version"
)

var (
	configFile string
	preset     string
	dataDir    string
	engineName string
	verbose    bool
	logFormat  string

	// design overrides
	freqHz       float64
	permittivity float64
	lossTangent  float64
	thicknessMM  float64
	impedanceOhm float64
)

// main registers the patchsim commands and executes the root command,
// exiting with status 1 on error.
func main() {
	rootCmd := &cobra.Command{
		Use:           "patchsim",
		Short:         "microstrip patch antenna synthesis and simulation",
		Version:       version.String(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&configFile, "config", "", "config file path (yaml)")
	pf.StringVar(&preset, "preset", "", "start from a named design preset")
	pf.StringVar(&dataDir, "data", config.DefaultDataDir, "data directory")
	pf.StringVar(&engineName, "engine", config.DefaultEngine, "engine: cavity or bridge")
	pf.BoolVarP(&verbose, "verbose", "v", false, "debug logging")
	pf.StringVar(&logFormat, "log-format", "text", "log format: text or json")

	rootCmd.AddCommand(
		doctorCmd(),
		synthCmd(),
		runCmd(),
		optimizeCmd(),
		tuneCmd(),
		listCmd(),
		plotCmd(),
		exportCmd(),
		deleteCmd(),
		presetsCmd(),
		serveEngineCmd(),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		stop()
		os.Exit(1)
	}
}

// addDesignFlags registers the design overrides shared by synth, run,
// optimize and tune.
func addDesignFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.Float64Var(&freqHz, "freq", config.DefaultFrequencyHz, "design frequency in Hz")
	f.Float64Var(&permittivity, "er", config.DefaultPermittivity, "substrate relative permittivity")
	f.Float64Var(&lossTangent, "tand", config.DefaultLossTangent, "substrate loss tangent")
	f.Float64Var(&thicknessMM, "h", config.DefaultThicknessMM, "substrate thickness in mm")
	f.Float64Var(&impedanceOhm, "z0", 50, "feed impedance in ohms")
}

// loadConfig layers defaults, preset, config file, environment and finally
// flags the user explicitly set.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg := config.DefaultConfig()
	if preset != "" {
		cfg = config.GetPreset(preset)
		if cfg == nil {
			return nil, fmt.Errorf("unknown preset: %s (available: %v)", preset, config.ListPresets())
		}
	}
	if configFile != "" {
		loaded, err := config.Load(configFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
		if preset != "" && !designSet(loaded) {
			loaded.Design = cfg.Design
		}
		cfg = loaded
	}
	cfg.ApplyEnv()

	flags := cmd.Flags()
	if flags.Changed("data") || cfg.Output.Dir == "" {
		cfg.Output.Dir = dataDir
	}
	if flags.Changed("engine") {
		cfg.Engine.Name = engineName
	}
	if flags.Changed("verbose") {
		cfg.Logging.Verbose = verbose
	}
	if flags.Changed("log-format") {
		cfg.Logging.Format = logFormat
	}
	if flags.Lookup("freq") != nil {
		if flags.Changed("freq") {
			cfg.Design.FrequencyHz = freqHz
		}
		if flags.Changed("er") {
			cfg.Design.Permittivity = permittivity
		}
		if flags.Changed("tand") {
			cfg.Design.LossTangent = lossTangent
		}
		if flags.Changed("h") {
			cfg.Design.ThicknessMM = thicknessMM
		}
		if flags.Changed("z0") {
			cfg.Design.ImpedanceOhm = impedanceOhm
		}
	}
	return cfg, nil
}

// loadValidConfig is loadConfig for commands that will synthesize or solve.
func loadValidConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	return cfg, cfg.Validate()
}

// designSet reports whether a loaded file changed the design section from
// the defaults, in which case it wins over --preset.
func designSet(cfg *config.Config) bool {
	return cfg.Design != config.DefaultConfig().Design
}
