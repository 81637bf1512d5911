package main

import (
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/san-kum/patchsim/internal/engine/bridge"
	"github.com/san-kum/patchsim/internal/engine/cavity"
)

// serveEngineCmd exposes the cavity engine over the bridge protocol on
// stdin/stdout, so "--engine bridge" can drive a separate process.
func serveEngineCmd() *cobra.Command {
	var (
		seats        int
		engineVer    string
		passDuration time.Duration
	)
	cmd := &cobra.Command{
		Use:    "serve-engine",
		Short:  "serve the cavity engine over the bridge protocol on stdio",
		Hidden: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			logger := newLogger(cfg)
			opts := []cavity.Option{cavity.WithSeats(seats), cavity.WithLogger(logger)}
			if engineVer != "" {
				opts = append(opts, cavity.WithVersion(engineVer))
			}
			if passDuration > 0 {
				opts = append(opts, cavity.WithPassDuration(passDuration))
			}
			return bridge.Serve(cmd.Context(), os.Stdin, os.Stdout, cavity.New(opts...), logger)
		},
	}
	cmd.Flags().IntVar(&seats, "seats", 1, "license seats")
	cmd.Flags().StringVar(&engineVer, "engine-version", "", "version reported to clients")
	cmd.Flags().DurationVar(&passDuration, "pass-duration", 0, "simulated time per adaptive pass")
	return cmd
}
