package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kavymi/meepo/internal/config"
	"github.com/kavymi/meepo/internal/doctor"
)

func buildDoctorCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Run boot-time health checks",
		Long: `Run the fixed set of health checks: config file presence, database
directory writability, sandbox runtime availability, required
credentials, the git command, home and temp directory access, and a scan of the state
directory for credential-shaped substrings.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()

			cfg, err := config.Load(configPath)
			if err != nil {
				fmt.Fprintf(out, "warning: could not load %s: %v (running checks with defaults)\n", configPath, err)
				cfg = &config.Config{}
			}

			report := doctor.Run(cmd.Context(), doctor.Options{
				ConfigPath:   configPath,
				DBPath:       cfg.Knowledge.DBPath,
				APIKeyEnvVar: cfg.Doctor.APIKeyEnvVar,
				StateDir:     cfg.Doctor.StateDir,
			})

			for _, check := range report.Checks {
				fmt.Fprintf(out, "[%s] %s: %s\n", check.Status, check.Name, check.Message)
				if check.FixHint != "" {
					fmt.Fprintf(out, "       fix: %s\n", check.FixHint)
				}
			}
			fmt.Fprintln(out, report.Summary())

			if !report.Healthy() {
				return fmt.Errorf("doctor: %d check(s) failed", report.FailCount)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "meepo.yaml", "Path to YAML configuration file")
	return cmd
}
