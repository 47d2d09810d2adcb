package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"school-service/internal/inspect"
)

var inspectCmd = &cobra.Command{
	Use:   "inspect <text>...",
	Short: "Run the payload signatures against text",
	Long: `Run the payload signatures, including EXTRA_PATTERN_SIGNATURES, against
each argument and print every signature that matches. With --url the
argument is treated as a request path and query.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runInspect,
}

func init() {
	inspectCmd.Flags().Bool("url", false, "Inspect arguments as request URLs with the URL profile")
}

type inspectResult struct {
	Input      string   `json:"input"`
	Suspicious bool     `json:"suspicious"`
	Matches    []string `json:"matches"`
}

func runInspect(cmd *cobra.Command, args []string) error {
	inspector, err := inspect.New(cfg.Security.ExtraSignatures...)
	if err != nil {
		return err
	}
	asURL, _ := cmd.Flags().GetBool("url")

	results := make([]inspectResult, 0, len(args))
	for _, arg := range args {
		res := inspectResult{Input: arg, Matches: []string{}}
		if asURL {
			path, query, _ := strings.Cut(arg, "?")
			if m := inspector.InspectURL(path, query); m.Suspicious {
				res.Matches = append(res.Matches, m.String())
			}
		} else {
			for _, m := range inspector.InspectAll(arg) {
				res.Matches = append(res.Matches, m.String())
			}
		}
		res.Suspicious = len(res.Matches) > 0
		results = append(results, res)
	}

	if flagOutput == "json" {
		return printJSON(cmd.OutOrStdout(), results)
	}
	for _, res := range results {
		status := "clean"
		if res.Suspicious {
			status = "SUSPICIOUS " + strings.Join(res.Matches, ", ")
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%-40q %s\n", res.Input, status)
	}
	return nil
}
