package cmd

import (
	"context"
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/CodeMonkeyCybersecurity/paramhunt/internal/workflow"
)

var classifyCmd = &cobra.Command{
	Use:   "classify",
	Short: "Classify every unclassified parameter",
	Long: `Assigns a category and risk tier to each parameter not yet classified.
Rules are matched in order and the first match wins; names matching no rule
are Unknown (low risk). Writes parameters/classification.json with every
stored name grouped by category.

The rule table comes from classification.rules or classification.rules_file.`,
	RunE: runClassify,
}

func init() {
	rootCmd.AddCommand(classifyCmd)
	classifyCmd.Flags().Bool("json", false, "print the report as JSON")
}

func runClassify(cmd *cobra.Command, args []string) error {
	asJSON, _ := cmd.Flags().GetBool("json")

	return withProject(cmd, func(ctx context.Context, p *workflow.Project) error {
		report, err := p.ClassifyPending(ctx)
		if err != nil {
			return err
		}

		w := cmd.OutOrStdout()
		if asJSON {
			return printJSON(w, report)
		}

		if report.Classified == 0 {
			fmt.Fprintln(w, "No unclassified parameters")
		} else {
			color.New(color.FgGreen).Fprintf(w, "Classified %d parameters\n", report.Classified)
			printCounts(w, "By category", report.ByCategory)
		}
		fmt.Fprintf(w, "Grouped names written to %s\n", report.OutputFile)
		return nil
	})
}
