package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var envFile string

var rootCmd = &cobra.Command{
	Use:   "pmbdctl",
	Short: "pmbdctl activates, benchmarks, and inspects pmbd devices.",
	Long: `pmbdctl is the operator-facing front end for the pmbd emulator core: ` +
		`it activates named devices, drives synthetic benchmark load against ` +
		`one, and queries a running device's diagnostic HTTP surface.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if envFile == "" {
			return nil
		}
		if err := godotenv.Load(envFile); err != nil {
			return fmt.Errorf("pmbdctl: load env file %s: %w", envFile, err)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", "",
		"load environment variables from this dotenv file before the command runs")
}

// Execute runs the root command, exiting the process with status 1 on
// failure.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
