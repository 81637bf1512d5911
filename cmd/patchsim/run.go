package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/san-kum/patchsim/internal/antenna"
	"github.com/san-kum/patchsim/internal/geometry"
	"github.com/san-kum/patchsim/internal/orchestrator"
	"github.com/san-kum/patchsim/internal/viz"
)

func synthCmd() *cobra.Command {
	var (
		format  string
		svgPath string
	)
	cmd := &cobra.Command{
		Use:   "synth",
		Short: "synthesize dimensions and geometry without running the engine",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadValidConfig(cmd)
			if err != nil {
				return err
			}
			spec, err := cfg.DesignSpec()
			if err != nil {
				return err
			}
			params, err := antenna.Synthesize(spec)
			if err != nil {
				return err
			}
			oc := cfg.Orchestrator()
			lowest := oc.Sweep.StartHz
			if lowest == 0 {
				lowest = orchestrator.DefaultSweepLowRatio * spec.FrequencyHz
			}
			seq, err := geometry.Build(params, geometry.WithLowestFrequency(lowest))
			if err != nil {
				return err
			}
			digest, err := geometry.Digest(seq)
			if err != nil {
				return err
			}

			if svgPath != "" {
				if err := os.WriteFile(svgPath, []byte(viz.LayoutSVG(params, 8)), 0644); err != nil {
					return err
				}
			}

			switch format {
			case "yaml":
				out, err := geometry.MarshalYAML(seq)
				if err != nil {
					return err
				}
				_, err = os.Stdout.Write(out)
				return err
			case "json":
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(struct {
					Parameters antenna.GeometricParameters `json:"parameters"`
					Commands   geometry.Sequence           `json:"commands"`
					Digest     string                      `json:"digest"`
				}{params, seq, digest})
			case "text", "":
			default:
				return fmt.Errorf("unknown format %q (text, yaml, json)", format)
			}

			fmt.Printf("%s %s on εr=%.3g, h=%.3g mm, %g Ω\n\n",
				color.New(color.Bold).Sprint("design"), hz(spec.FrequencyHz), spec.Permittivity, spec.ThicknessMM, spec.ImpedanceOhm)
			fmt.Println(viz.DimensionTable(params))
			fmt.Println()
			fmt.Print(viz.Layout(params, 40, 14))
			fmt.Printf("\n%d geometry commands, digest %s\n", len(seq), digest[:16])
			return nil
		},
	}
	addDesignFlags(cmd)
	cmd.Flags().StringVarP(&format, "output", "o", "text", "output: text, yaml or json")
	cmd.Flags().StringVar(&svgPath, "svg", "", "write the layout as SVG to this path")
	return cmd
}

func runCmd() *cobra.Command {
	var (
		watch       bool
		metricsAddr string
		plot        bool
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "synthesize, solve and extract one design",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadValidConfig(cmd)
			if err != nil {
				return err
			}
			spec, err := cfg.DesignSpec()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			a, err := newApp(ctx, cfg, appOptions{metricsAddr: metricsAddr})
			if err != nil {
				return err
			}
			defer a.Close()

			var out *orchestrator.Outcome
			if watch && stdoutIsTerminal() {
				mon := viz.NewMonitor(fmt.Sprintf("patchsim run %s", hz(spec.FrequencyHz)))
				o, err := a.orchestrator(orchestrator.WithObserver(mon))
				if err != nil {
					return err
				}
				err = mon.Run(ctx, func(ctx context.Context) error {
					var rerr error
					out, rerr = o.Run(ctx, spec)
					return rerr
				})
				if err != nil {
					return err
				}
			} else {
				o, err := a.orchestrator()
				if err != nil {
					return err
				}
				if out, err = o.Run(ctx, spec); err != nil {
					return err
				}
			}

			printOutcome(out)
			if plot {
				fmt.Println()
				fmt.Println(viz.S11Plot(out.Record, viz.PlotOptions{}))
			}
			return nil
		},
	}
	addDesignFlags(cmd)
	cmd.Flags().BoolVar(&watch, "watch", false, "show a live state monitor")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	cmd.Flags().BoolVar(&plot, "plot", true, "plot S11 after the run")
	return cmd
}

func printOutcome(out *orchestrator.Outcome) {
	status := color.New(color.FgGreen, color.Bold).Sprint("matched")
	if out.Merit.BandwidthHz == 0 {
		status = color.New(color.FgYellow, color.Bold).Sprint("not matched")
	}
	fmt.Printf("%s  session %s, %d retries, engine %s %s\n",
		status, out.Session.ID, out.Session.Retries, out.Record.Meta.Engine, out.Record.Meta.EngineVersion)
	if out.RunID != "" {
		fmt.Printf("run %s\n", out.RunID)
	}
	fmt.Println()
	fmt.Println(viz.DimensionTable(out.Parameters))
	fmt.Println()
	fmt.Println(viz.MeritTable(out.Merit))
}

func hz(f float64) string {
	switch {
	case f >= 1e9:
		return fmt.Sprintf("%.4g GHz", f/1e9)
	case f >= 1e6:
		return fmt.Sprintf("%.4g MHz", f/1e6)
	}
	return fmt.Sprintf("%g Hz", f)
}
