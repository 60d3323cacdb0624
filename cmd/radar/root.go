package main

import (
	"errors"
	"fmt"
	"io/fs"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

const envPrefix = "RADAR_"

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "radar",
		Short: "Discover nearby peers and range against them",

		SilenceUsage: true,

		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			envFile, _ := cmd.Flags().GetString("env-file")
			if err := godotenv.Load(envFile); err != nil {
				// The default file is optional; an explicit one is not.
				if !errors.Is(err, fs.ErrNotExist) || cmd.Flags().Changed("env-file") {
					return fmt.Errorf("failed to load %s: %w", envFile, err)
				}
			}

			if err := applyEnv(cmd.Flags(), envLookup); err != nil {
				return err
			}

			_, err := resolveLogLevel(cmd)
			return err
		},
	}
	cmd.PersistentFlags().String("env-file", ".env", "File of KEY=VALUE lines loaded into the environment")
	cmd.PersistentFlags().String("log-level", "info", "Log level: debug|info|warn|error")
	cmd.PersistentFlags().String("log-format", "text", "Log format: text|json")

	cmd.AddCommand(newRunCmd())
	cmd.AddCommand(newVersionCmd())
	return cmd
}

// applyEnv sets every flag not given on the command line
// from its RADAR_* environment variable, if present.
// The variable name is the flag name upper-cased with dashes as underscores,
// e.g. --max-attempts reads RADAR_MAX_ATTEMPTS.
func applyEnv(fset *pflag.FlagSet, lookup func(string) (string, bool)) error {
	var errs error
	fset.VisitAll(func(f *pflag.Flag) {
		if f.Changed || f.Name == "env-file" {
			return
		}
		v, ok := lookup(envName(f.Name))
		if !ok {
			return
		}
		if err := f.Value.Set(v); err != nil {
			errs = errors.Join(errs, fmt.Errorf("invalid %s=%q: %w", envName(f.Name), v, err))
		}
	})
	return errs
}
