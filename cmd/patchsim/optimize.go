package main

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/san-kum/patchsim/internal/logging"
	"github.com/san-kum/patchsim/internal/optim"
	"github.com/san-kum/patchsim/internal/viz"
)

// parseBound reads field=min:max.
func parseBound(s string) (optim.Field, optim.Range, error) {
	name, span, ok := strings.Cut(s, "=")
	if !ok {
		return "", optim.Range{}, fmt.Errorf("bound %q: want field=min:max", s)
	}
	f, err := optim.ParseField(name)
	if err != nil {
		return "", optim.Range{}, err
	}
	loText, hiText, ok := strings.Cut(span, ":")
	if !ok {
		return "", optim.Range{}, fmt.Errorf("bound %q: want field=min:max", s)
	}
	lo, err := strconv.ParseFloat(loText, 64)
	if err != nil {
		return "", optim.Range{}, fmt.Errorf("bound %q: %w", s, err)
	}
	hi, err := strconv.ParseFloat(hiText, 64)
	if err != nil {
		return "", optim.Range{}, fmt.Errorf("bound %q: %w", s, err)
	}
	return f, optim.Range{Min: lo, Max: hi}, nil
}

// parseGrid reads field=v1,v2,v3.
func parseGrid(s string) (optim.Field, []float64, error) {
	name, list, ok := strings.Cut(s, "=")
	if !ok {
		return "", nil, fmt.Errorf("grid %q: want field=v1,v2,...", s)
	}
	f, err := optim.ParseField(name)
	if err != nil {
		return "", nil, err
	}
	var vals []float64
	for _, part := range strings.Split(list, ",") {
		v, err := strconv.ParseFloat(strings.TrimSpace(part), 64)
		if err != nil {
			return "", nil, fmt.Errorf("grid %q: %w", s, err)
		}
		vals = append(vals, v)
	}
	return f, vals, nil
}

func optimizeCmd() *cobra.Command {
	var (
		bounds     []string
		grid       []string
		expr       string
		targetHz   float64
		iterations int
		seats      int
		minStep    float64
	)
	cmd := &cobra.Command{
		Use:   "optimize",
		Short: "search design parameters against an objective",
		Example: `  patchsim optimize --bound permittivity=4.0:4.8 --bound thickness_mm=0.8:3.2
  patchsim optimize --objective 'min_s11_db + (resonance_error_hz / 1000000.0) * (resonance_error_hz / 1000000.0)'
  patchsim optimize --grid thickness_mm=0.8,1.6,3.2 --grid permittivity=2.2,4.4`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadValidConfig(cmd)
			if err != nil {
				return err
			}
			spec, err := cfg.DesignSpec()
			if err != nil {
				return err
			}
			if targetHz == 0 {
				targetHz = spec.FrequencyHz
			}

			objective := optim.MinimizeS11At(targetHz)
			if expr != "" {
				if objective, err = optim.CompileObjective(expr, targetHz); err != nil {
					return err
				}
			}

			ctx := cmd.Context()
			a, err := newApp(ctx, cfg, appOptions{seats: seats})
			if err != nil {
				return err
			}
			defer a.Close()
			o, err := a.orchestrator()
			if err != nil {
				return err
			}
			eval := optim.FromOrchestrator(o)

			var res *optim.Result
			if len(grid) > 0 {
				var (
					fields []optim.Field
					values [][]float64
				)
				for _, g := range grid {
					f, vals, err := parseGrid(g)
					if err != nil {
						return err
					}
					fields = append(fields, f)
					values = append(values, vals)
				}
				gs, err := optim.NewGridSearch(fields, values)
				if err != nil {
					return err
				}
				a.logger.Info(ctx, "grid search", logging.Int("candidates", gs.Size()), logging.Int("limit", a.pool.Size()))
				res, err = gs.Search(ctx, eval, spec, objective, a.pool.Size())
				if err != nil {
					return err
				}
			} else {
				b := optim.Bounds{}
				if len(bounds) == 0 {
					b[optim.FieldFrequency] = optim.Range{Min: 0.9 * spec.FrequencyHz, Max: 1.1 * spec.FrequencyHz}
				}
				for _, s := range bounds {
					f, r, err := parseBound(s)
					if err != nil {
						return err
					}
					b[f] = r
				}
				opts := []optim.Option{
					optim.WithLogger(a.logger),
					optim.WithTrialObserver(func(t optim.Trial) {
						mark := " "
						if t.Failed() {
							mark = color.RedString("✗")
						}
						fmt.Printf("%s trial %3d  score %-12.5g %s\n", mark, t.Index, t.Score, describe(t))
					}),
				}
				if minStep > 0 {
					opts = append(opts, optim.WithMinStep(minStep))
				}
				res, err = optim.Search(ctx, eval, spec, b, objective, iterations, opts...)
				if err != nil && res == nil {
					return err
				}
				if err != nil {
					a.logger.Warn(ctx, "search interrupted, reporting best so far", logging.Err(err))
				}
			}

			best := res.Best
			failed := 0
			for _, t := range res.Trials {
				if t.Failed() {
					failed++
				}
			}
			fmt.Printf("\n%s after %d trials (%d failed), score %.5g\n",
				color.New(color.Bold).Sprint("best design"), len(res.Trials), failed, best.Score)
			fmt.Printf("  %s\n", describe(best))
			if best.Record != nil {
				fmt.Println()
				fmt.Println(viz.S11Plot(best.Record, viz.PlotOptions{}))
			}
			return nil
		},
	}
	addDesignFlags(cmd)
	f := cmd.Flags()
	f.StringArrayVar(&bounds, "bound", nil, "search bound field=min:max (repeatable)")
	f.StringArrayVar(&grid, "grid", nil, "grid axis field=v1,v2,... (repeatable); runs an exhaustive grid instead")
	f.StringVar(&expr, "objective", "", "CEL expression to minimise over "+strings.Join(optim.ObjectiveVariables, ", "))
	f.Float64Var(&targetHz, "target", 0, "target frequency in Hz (defaults to the design frequency)")
	f.IntVar(&iterations, "iterations", 40, "maximum number of evaluations")
	f.IntVar(&seats, "seats", 0, "concurrent engine sessions (defaults to engine.seats)")
	f.Float64Var(&minStep, "min-step", 0, "stop when every step falls below this fraction of its range")
	return cmd
}

func describe(t optim.Trial) string {
	s := t.Spec
	out := fmt.Sprintf("f=%s εr=%.4g h=%.4g mm tanδ=%.3g z0=%.4g", hz(s.FrequencyHz), s.Permittivity, s.ThicknessMM, s.LossTangent, s.ImpedanceOhm)
	if t.Err != nil {
		out += "  (" + t.Err.Error() + ")"
	}
	return out
}

func tuneCmd() *cobra.Command {
	var (
		toleranceHz float64
		iterations  int
	)
	cmd := &cobra.Command{
		Use:   "tune",
		Short: "shift the design frequency until the simulated resonance is on target",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadValidConfig(cmd)
			if err != nil {
				return err
			}
			spec, err := cfg.DesignSpec()
			if err != nil {
				return err
			}
			if toleranceHz <= 0 {
				toleranceHz = 0.002 * spec.FrequencyHz
			}
			ctx := cmd.Context()
			a, err := newApp(ctx, cfg, appOptions{})
			if err != nil {
				return err
			}
			defer a.Close()
			o, err := a.orchestrator()
			if err != nil {
				return err
			}

			res, err := optim.Tune(ctx, optim.FromOrchestrator(o), spec, toleranceHz, iterations)
			if res != nil {
				for i, s := range res.Steps {
					fmt.Printf("step %d  design %s  resonance %s  error %+.3f MHz  S11 %.2f dB\n",
						i+1, hz(s.DesignHz), hz(s.ResonanceHz), (s.ResonanceHz-res.TargetHz)/1e6, s.MinS11DB)
				}
			}
			if err != nil {
				return err
			}
			ratio := res.Spec.FrequencyHz / res.TargetHz
			fmt.Printf("\n%s design at %s (x%.4f) resonates at %s\n",
				color.GreenString("tuned:"), hz(res.Spec.FrequencyHz), ratio, hz(res.Steps[len(res.Steps)-1].ResonanceHz))
			if math.Abs(ratio-1) > 0.1 {
				color.Yellow("warning: design frequency moved more than 10%%; check substrate parameters")
			}
			return nil
		},
	}
	addDesignFlags(cmd)
	cmd.Flags().Float64Var(&toleranceHz, "tolerance", 0, "resonance tolerance in Hz (defaults to 0.2% of the design frequency)")
	cmd.Flags().IntVar(&iterations, "iterations", 6, "maximum number of solves")
	return cmd
}
