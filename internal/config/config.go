// Package config loads the YAML run configuration and maps it onto the
// design spec, orchestrator and engine settings.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/san-kum/patchsim/internal/antenna"
	"github.com/san-kum/patchsim/internal/engine"
	"github.com/san-kum/patchsim/internal/logging"
	"github.com/san-kum/patchsim/internal/orchestrator"
)

const (
	DefaultFrequencyHz  = 2.4e9
	DefaultPermittivity = 4.4
	DefaultLossTangent  = 0.02
	DefaultThicknessMM  = 1.6
	DefaultDataDir      = ".patchsim"
	DefaultEngine       = "cavity"

	EnvEnginePath    = "PATCHSIM_ENGINE_PATH"
	EnvLicenseServer = "PATCHSIM_LICENSE_SERVER"
)

var ErrInvalid = errors.New("config: invalid")

type Config struct {
	Design   DesignConfig   `yaml:"design"`
	Sweep    SweepConfig    `yaml:"sweep"`
	Setup    SetupConfig    `yaml:"setup"`
	Engine   EngineConfig   `yaml:"engine"`
	Retry    RetryConfig    `yaml:"retry"`
	FarField FarFieldConfig `yaml:"far_field"`
	Logging  LoggingConfig  `yaml:"logging"`
	Output   OutputConfig   `yaml:"output"`
}

type DesignConfig struct {
	FrequencyHz          float64 `yaml:"frequency_hz"`
	Permittivity         float64 `yaml:"permittivity"`
	LossTangent          float64 `yaml:"loss_tangent"`
	ThicknessMM          float64 `yaml:"thickness_mm"`
	ImpedanceOhm         float64 `yaml:"impedance_ohm"`
	ConductorThicknessMM float64 `yaml:"conductor_thickness_mm"`
	Substrate            string  `yaml:"substrate,omitempty"`
}

// SweepConfig leaves StartHz/StopHz at zero to derive the band from the
// design frequency.
type SweepConfig struct {
	StartHz float64 `yaml:"start_hz"`
	StopHz  float64 `yaml:"stop_hz"`
	Points  int     `yaml:"points"`
	Type    string  `yaml:"type"`
}

type SetupConfig struct {
	MaxPasses int     `yaml:"max_passes"`
	MinPasses int     `yaml:"min_passes"`
	MaxDeltaS float64 `yaml:"max_delta_s"`
}

type EngineConfig struct {
	Name              string `yaml:"name"`
	Path              string `yaml:"path,omitempty"`
	Args              string `yaml:"args,omitempty"`
	LicenseServer     string `yaml:"license_server,omitempty"`
	VersionConstraint string `yaml:"version_constraint"`
	Seats             int    `yaml:"seats"`
}

type RetryConfig struct {
	MaxAttempts    int           `yaml:"max_attempts"`
	InitialBackoff time.Duration `yaml:"initial_backoff"`
	MaxBackoff     time.Duration `yaml:"max_backoff"`
	Multiplier     float64       `yaml:"multiplier"`
	// MaxElapsed caps one retried call; zero means attempts alone bound it.
	MaxElapsed time.Duration `yaml:"max_elapsed"`
}

type FarFieldConfig struct {
	Disabled     bool      `yaml:"disabled"`
	FrequencyHz  float64   `yaml:"frequency_hz"`
	ThetaStepDeg float64   `yaml:"theta_step_deg"`
	PhiDeg       []float64 `yaml:"phi_deg"`
}

type LoggingConfig struct {
	Level   string `yaml:"level"`
	Format  string `yaml:"format"`
	Verbose bool   `yaml:"verbose"`
}

type OutputConfig struct {
	Dir  string `yaml:"dir"`
	Save bool   `yaml:"save"`
}

func DefaultConfig() *Config {
	oc := orchestrator.DefaultConfig()
	return &Config{
		Design: DesignConfig{
			FrequencyHz:          DefaultFrequencyHz,
			Permittivity:         DefaultPermittivity,
			LossTangent:          DefaultLossTangent,
			ThicknessMM:          DefaultThicknessMM,
			ImpedanceOhm:         antenna.DefaultImpedanceOhm,
			ConductorThicknessMM: antenna.DefaultConductorThicknessMM,
			Substrate:            "FR4",
		},
		Sweep: SweepConfig{
			Points: oc.Sweep.Points,
			Type:   string(oc.Sweep.Type),
		},
		Setup: SetupConfig{
			MaxPasses: oc.Setup.MaxPasses,
			MinPasses: oc.Setup.MinPasses,
			MaxDeltaS: oc.Setup.MaxDeltaS,
		},
		Engine: EngineConfig{
			Name:              DefaultEngine,
			VersionConstraint: oc.VersionConstraint,
			Seats:             1,
		},
		Retry: RetryConfig{
			MaxAttempts:    oc.MaxRetries,
			InitialBackoff: oc.InitialBackoff,
			MaxBackoff:     oc.MaxBackoff,
			Multiplier:     oc.BackoffMultiplier,
			MaxElapsed:     oc.MaxRetryElapsed,
		},
		FarField: FarFieldConfig{
			ThetaStepDeg: oc.Grid.ThetaStep,
			PhiDeg:       append([]float64(nil), oc.Grid.PhiValues...),
		},
		Logging: LoggingConfig{Level: "info", Format: "text"},
		Output:  OutputConfig{Dir: DefaultDataDir, Save: true},
	}
}

// Load reads path over the defaults, so a file only needs the fields it changes.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// ApplyEnv fills unset engine and logging fields from the environment.
func (c *Config) ApplyEnv() {
	if c.Engine.Path == "" {
		c.Engine.Path = os.Getenv(EnvEnginePath)
	}
	if c.Engine.LicenseServer == "" {
		c.Engine.LicenseServer = os.Getenv(EnvLicenseServer)
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" && c.Logging.Level == "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" && c.Logging.Format == "" {
		c.Logging.Format = v
	}
}

// Validate checks the whole file, reporting the first problem found.
func (c *Config) Validate() error {
	spec, err := c.DesignSpec()
	if err != nil {
		return err
	}
	oc := c.Orchestrator()
	if err := oc.Validate(); err != nil {
		return err
	}
	setup := oc.Setup
	setup.FrequencyHz = spec.FrequencyHz
	if err := setup.Validate(); err != nil {
		return err
	}
	sweep := oc.Sweep
	if sweep.StartHz == 0 && sweep.StopHz == 0 {
		sweep.StartHz = orchestrator.DefaultSweepLowRatio * spec.FrequencyHz
		sweep.StopHz = orchestrator.DefaultSweepHighRatio * spec.FrequencyHz
	}
	if err := sweep.Validate(); err != nil {
		return err
	}
	switch c.Engine.Name {
	case "cavity":
	case "bridge":
		if c.Engine.Path == "" {
			return fmt.Errorf("%w: engine.path is required for the bridge engine (or set %s)", ErrInvalid, EnvEnginePath)
		}
	default:
		return fmt.Errorf("%w: unknown engine %q", ErrInvalid, c.Engine.Name)
	}
	if c.Engine.Seats < 1 {
		return fmt.Errorf("%w: engine.seats=%d must be >= 1", ErrInvalid, c.Engine.Seats)
	}
	if c.FarField.FrequencyHz < 0 {
		return fmt.Errorf("%w: far_field.frequency_hz must be >= 0", ErrInvalid)
	}
	return nil
}

// DesignSpec returns the validated design intent.
func (c *Config) DesignSpec() (antenna.DesignSpec, error) {
	d := c.Design
	spec := antenna.DesignSpec{
		FrequencyHz:          d.FrequencyHz,
		Permittivity:         d.Permittivity,
		LossTangent:          d.LossTangent,
		ThicknessMM:          d.ThicknessMM,
		ImpedanceOhm:         d.ImpedanceOhm,
		ConductorThicknessMM: d.ConductorThicknessMM,
		SubstrateMaterial:    d.Substrate,
	}
	if err := spec.Validate(); err != nil {
		return antenna.DesignSpec{}, err
	}
	return spec, nil
}

// Orchestrator maps the file onto orchestrator settings.
func (c *Config) Orchestrator() orchestrator.Config {
	oc := orchestrator.DefaultConfig()
	oc.Verbose = c.Logging.Verbose
	oc.MaxRetries = c.Retry.MaxAttempts
	oc.InitialBackoff = c.Retry.InitialBackoff
	oc.MaxBackoff = c.Retry.MaxBackoff
	oc.BackoffMultiplier = c.Retry.Multiplier
	oc.MaxRetryElapsed = c.Retry.MaxElapsed

	oc.Setup.MaxPasses = c.Setup.MaxPasses
	oc.Setup.MinPasses = c.Setup.MinPasses
	oc.Setup.MaxDeltaS = c.Setup.MaxDeltaS

	oc.Sweep.StartHz = c.Sweep.StartHz
	oc.Sweep.StopHz = c.Sweep.StopHz
	oc.Sweep.Points = c.Sweep.Points
	oc.Sweep.Type = engine.SweepType(c.Sweep.Type)

	if c.FarField.Disabled {
		oc.Grid = nil
	} else {
		grid := engine.DefaultGrid()
		if c.FarField.ThetaStepDeg > 0 {
			grid.ThetaStep = c.FarField.ThetaStepDeg
		}
		if len(c.FarField.PhiDeg) > 0 {
			grid.PhiValues = append([]float64(nil), c.FarField.PhiDeg...)
		}
		oc.Grid = &grid
	}
	oc.FarFieldHz = c.FarField.FrequencyHz
	oc.VersionConstraint = c.Engine.VersionConstraint
	oc.EngineName = c.Engine.Name
	return oc
}

// EngineOptions are the registry factory options for the configured engine.
func (c *Config) EngineOptions() map[string]string {
	opts := map[string]string{"seats": strconv.Itoa(c.Engine.Seats)}
	if c.Engine.Path != "" {
		opts["path"] = c.Engine.Path
	}
	if c.Engine.Args != "" {
		opts["args"] = c.Engine.Args
	}
	if c.Engine.LicenseServer != "" {
		opts["license_server"] = c.Engine.LicenseServer
	}
	return opts
}

// LoggerConfig maps the logging section, raising the level to debug when
// verbose is set.
func (c *Config) LoggerConfig() logging.Config {
	lc := logging.Config{Level: c.Logging.Level, Format: c.Logging.Format}
	if c.Logging.Verbose {
		lc.Level = "debug"
	}
	return lc
}
