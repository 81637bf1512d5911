package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/san-kum/patchsim/internal/diag"
)

func doctorCmd() *cobra.Command {
	var (
		quiet   bool
		timeout time.Duration
	)
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "check the engine install, version, license server and data directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			checker := diag.NewChecker(cfg, newRegistry())
			checker.Timeout = timeout
			report := checker.Run(cmd.Context())

			for _, c := range report {
				if quiet && c.Status == diag.OK {
					continue
				}
				var mark string
				switch c.Status {
				case diag.OK:
					mark = color.GreenString(c.Status.String())
				case diag.Warn:
					mark = color.YellowString(c.Status.String())
				default:
					mark = color.RedString(c.Status.String())
				}
				line := fmt.Sprintf("%s %-16s", mark, c.Name)
				if c.Details != "" {
					line += c.Details
				}
				fmt.Fprintln(os.Stdout, line)
			}
			if report.HasErrors() {
				return errors.New("doctor found problems")
			}
			return nil
		},
	}
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "only print warnings and failures")
	cmd.Flags().DurationVar(&timeout, "timeout", 3*time.Second, "per-check network and engine timeout")
	return cmd
}
