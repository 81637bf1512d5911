package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/san-kum/patchsim/internal/config"
	"github.com/san-kum/patchsim/internal/storage"
	"github.com/san-kum/patchsim/internal/viz"
)

func openStore(cmd *cobra.Command) (*storage.Store, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	st := storage.New(cfg.Output.Dir)
	if err := st.Init(); err != nil {
		return nil, err
	}
	return st, nil
}

func listCmd() *cobra.Command {
	var (
		filter  storage.Filter
		reindex bool
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "list saved runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openStore(cmd)
			if err != nil {
				return err
			}
			defer st.Close()
			ctx := cmd.Context()

			if reindex {
				n, err := st.Reindex(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(os.Stderr, "reindexed %d runs\n", n)
			}
			runs, err := st.List(ctx, filter)
			if err != nil {
				return err
			}
			if len(runs) == 0 {
				fmt.Println("no runs found")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tTIME\tDESIGN\tεr\tH\tRESONANCE\tS11\tBW\tENGINE")
			for _, run := range runs {
				bw := "-"
				if run.Matched() {
					bw = fmt.Sprintf("%.1f MHz", run.Merit.BandwidthHz/1e6)
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%.3g\t%.3g mm\t%s\t%.2f dB\t%s\t%s %s\n",
					run.ID,
					run.CreatedAt.Local().Format("2006-01-02 15:04:05"),
					hz(run.Spec.FrequencyHz),
					run.Spec.Permittivity,
					run.Spec.ThicknessMM,
					hz(run.Merit.ResonanceHz),
					run.Merit.MinS11DB,
					bw,
					run.Engine, run.EngineVersion,
				)
			}
			return w.Flush()
		},
	}
	f := cmd.Flags()
	f.IntVarP(&filter.Limit, "limit", "n", 0, "show at most n runs")
	f.BoolVar(&filter.MatchedOnly, "matched", false, "only runs reaching -10 dB")
	f.Float64Var(&filter.MinHz, "min-freq", 0, "lowest design frequency in Hz")
	f.Float64Var(&filter.MaxHz, "max-freq", 0, "highest design frequency in Hz")
	f.BoolVar(&reindex, "reindex", false, "rebuild the index from run directories first")
	return cmd
}

func plotCmd() *cobra.Command {
	var (
		what    string
		svgPath string
		width   int
		height  int
	)
	cmd := &cobra.Command{
		Use:   "plot [run_id]",
		Short: "plot a saved run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openStore(cmd)
			if err != nil {
				return err
			}
			defer st.Close()

			b, err := st.LoadBundle(args[0])
			if err != nil {
				return err
			}
			if svgPath != "" {
				if err := os.WriteFile(svgPath, []byte(viz.S11SVG(b.Record, 640, 360)), 0644); err != nil {
					return err
				}
				fmt.Fprintf(os.Stderr, "wrote %s\n", svgPath)
			}

			opts := viz.PlotOptions{Width: width, Height: height}
			switch what {
			case "s11":
				fmt.Println(viz.S11Plot(b.Record, opts))
			case "vswr":
				fmt.Println(viz.VSWRPlot(b.Record, 10, opts))
			case "pattern":
				fmt.Println(viz.PatternPlot(b.Record, opts))
			case "zin":
				fmt.Println(viz.ImpedancePlot(b.Record, 0, opts))
			case "all":
				fmt.Println(viz.S11Plot(b.Record, opts))
				fmt.Println()
				fmt.Println(viz.VSWRPlot(b.Record, 10, opts))
				fmt.Println()
				fmt.Println(viz.ImpedancePlot(b.Record, 0, opts))
				fmt.Println()
				fmt.Println(viz.PatternPlot(b.Record, opts))
			default:
				return fmt.Errorf("unknown plot %q (s11, vswr, zin, pattern, all)", what)
			}
			fmt.Println()
			fmt.Println(viz.MeritTable(b.Merit))
			if b.Parameters != nil {
				fmt.Println()
				fmt.Print(viz.Layout(*b.Parameters, 40, 14))
			}
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&what, "what", "s11", "s11, vswr, zin, pattern or all")
	f.StringVar(&svgPath, "svg", "", "also write S11 as SVG to this path")
	f.IntVar(&width, "width", 0, "plot width in columns")
	f.IntVar(&height, "height", 0, "plot height in rows")
	return cmd
}

func exportCmd() *cobra.Command {
	var (
		format string
		output string
	)
	cmd := &cobra.Command{
		Use:   "export [run_id]",
		Short: "export a saved run as Touchstone, CSV, JSON or its geometry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openStore(cmd)
			if err != nil {
				return err
			}
			defer st.Close()

			var f storage.Format
			switch {
			case format != "":
				f, err = storage.ParseFormat(format)
			case output != "":
				f, err = storage.FormatFromPath(output)
			default:
				f = storage.FormatTouchstone
			}
			if err != nil {
				return err
			}

			if output == "" {
				return st.Export(os.Stdout, args[0], f)
			}
			if err := st.ExportFile(output, args[0], f); err != nil {
				return err
			}
			fmt.Printf("exported %s to %s\n", args[0], output)
			return nil
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", "", "touchstone, csv, json or geometry (default from -o extension, else touchstone)")
	cmd.Flags().StringVarP(&output, "output", "o", "", "output file (default stdout)")
	return cmd
}

func deleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete [run_id...]",
		Short: "remove saved runs and their index rows",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openStore(cmd)
			if err != nil {
				return err
			}
			defer st.Close()
			for _, id := range args {
				if err := st.Delete(cmd.Context(), id); err != nil {
					return err
				}
				fmt.Printf("deleted %s\n", id)
			}
			return nil
		},
	}
}

func presetsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "presets",
		Short: "list design presets",
		RunE: func(cmd *cobra.Command, args []string) error {
			names := config.ListPresets()
			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tFREQUENCY\tεr\tTANδ\tH\tDESCRIPTION")
			for _, name := range names {
				p := config.Presets[name]
				d := p.Design
				fmt.Fprintf(w, "%s\t%s\t%.3g\t%.3g\t%.3g mm\t%s\n",
					name, hz(d.FrequencyHz), d.Permittivity, d.LossTangent, d.ThicknessMM, p.Description)
			}
			return w.Flush()
		},
	}
}
