package orchestrator

import (
	"fmt"
	"time"

	"github.com/san-kum/patchsim/internal/engine"
)

// Default sweep span relative to the design frequency when none is set.
const (
	DefaultSweepLowRatio  = 0.625
	DefaultSweepHighRatio = 1.4583333333333333
	DefaultSweepPoints    = 401
)

// Config drives one Orchestrator. Zero frequencies in Setup, Sweep and
// FarFieldHz are filled from the design spec at run time.
type Config struct {
	Verbose bool

	// MaxRetries is the total number of attempts for a transient failure.
	// Launch, apply and configure draw their retries from one per-session
	// budget of MaxRetries-1.
	MaxRetries        int
	InitialBackoff    time.Duration
	MaxBackoff        time.Duration
	BackoffMultiplier float64
	// MaxRetryElapsed caps the wall time of one retried call. Zero leaves
	// MaxRetries as the only bound.
	MaxRetryElapsed time.Duration

	Setup      engine.SetupConfig
	Sweep      engine.SweepConfig
	Grid       *engine.AngularGrid
	FarFieldHz float64

	// VersionConstraint is a semver range the engine must satisfy, e.g. ">=1.2, <2".
	VersionConstraint string
	EngineName        string
}

func DefaultConfig() Config {
	grid := engine.DefaultGrid()
	return Config{
		MaxRetries:        5,
		InitialBackoff:    500 * time.Millisecond,
		MaxBackoff:        30 * time.Second,
		BackoffMultiplier: 2,
		Setup: engine.SetupConfig{
			Name:      "Setup1",
			MaxPasses: engine.DefaultMaxPasses,
			MinPasses: engine.DefaultMinPasses,
			MaxDeltaS: engine.DefaultMaxDeltaS,
		},
		Sweep: engine.SweepConfig{
			Name:   "Sweep1",
			Points: DefaultSweepPoints,
			Type:   engine.SweepFast,
		},
		Grid:              &grid,
		VersionConstraint: ">=1.0.0, <2.0.0",
	}
}

func (c Config) Validate() error {
	switch {
	case c.MaxRetries < 1:
		return fmt.Errorf("%w: max_retries=%d must be >= 1", ErrInvalidConfig, c.MaxRetries)
	case c.InitialBackoff < 0 || c.MaxBackoff < 0 || c.MaxRetryElapsed < 0:
		return fmt.Errorf("%w: backoff intervals must be >= 0", ErrInvalidConfig)
	case c.BackoffMultiplier != 0 && c.BackoffMultiplier < 1:
		return fmt.Errorf("%w: backoff_multiplier=%v must be >= 1", ErrInvalidConfig, c.BackoffMultiplier)
	case c.Setup.Name == "" || c.Sweep.Name == "":
		return fmt.Errorf("%w: setup and sweep need names", ErrInvalidConfig)
	}
	if c.Grid != nil {
		if err := c.Grid.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// resolve fills spec-relative defaults and validates the result.
func (c Config) resolve(frequencyHz float64) (engine.SetupConfig, engine.SweepConfig, float64, error) {
	setup, sweep := c.Setup, c.Sweep
	if setup.FrequencyHz == 0 {
		setup.FrequencyHz = frequencyHz
	}
	if sweep.StartHz == 0 && sweep.StopHz == 0 {
		sweep.StartHz = DefaultSweepLowRatio * frequencyHz
		sweep.StopHz = DefaultSweepHighRatio * frequencyHz
	}
	if sweep.Points == 0 {
		sweep.Points = DefaultSweepPoints
	}
	if sweep.Type == "" {
		sweep.Type = engine.SweepFast
	}
	ff := c.FarFieldHz
	if ff == 0 {
		ff = frequencyHz
	}
	if err := setup.Validate(); err != nil {
		return setup, sweep, ff, err
	}
	if err := sweep.Validate(); err != nil {
		return setup, sweep, ff, err
	}
	return setup, sweep, ff, nil
}
