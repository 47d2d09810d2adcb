package cmd

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"school-service/internal/config"
	"school-service/internal/util"
)

var (
	version string

	flagOutput  string
	flagVerbose bool

	cfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "schoolctl",
	Short: "Operator CLI for school-service",
	Long: `schoolctl reads the same environment and .env file as the server.

It hashes seed passwords, reads and summarises the audit trail,
and runs the request pattern inspector against sample input.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		cfg = config.LoadConfig()
		level := "warn"
		if flagVerbose {
			level = "debug"
		}
		// stdout carries command output
		util.InitWith(util.Options{Environment: "development", Level: level, Format: "console", Output: "stderr"})
	},
}

// Execute runs the root command.
func Execute() error {
	defer util.Sync()
	return rootCmd.Execute()
}

// SetVersion sets the CLI version from build flags.
func SetVersion(v string) {
	version = v
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the CLI version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), "schoolctl", version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&flagOutput, "output", "o", "text", "Output format: text, json")
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "Enable verbose output")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(hashPasswordCmd)
	rootCmd.AddCommand(inspectCmd)
	rootCmd.AddCommand(logsCmd)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
