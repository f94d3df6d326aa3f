package cmd

import (
	"context"
	"fmt"
	"io"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/CodeMonkeyCybersecurity/paramhunt/internal/workflow"
)

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Import recon output into the project store",
	Long: `Import parameter names collected by recon tools. Entries outside the project
scope are skipped. Re-importing the same file changes nothing.`,
}

var importURLsCmd = &cobra.Command{
	Use:   "urls <file>",
	Short: "Import a URL list (gau, waybackurls, crawler output)",
	Long: `Records the origin of every in-scope URL as a target and every query
parameter name under the aggregated URL "multiple". Writes
reconnaissance/urls.txt and parameters/extracted_params.txt.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runImport(cmd, func(ctx context.Context, p *workflow.Project) (*workflow.ImportReport, error) {
			return p.ImportURLs(ctx, args[0])
		})
	},
}

var importParamsCmd = &cobra.Command{
	Use:   "params <file>",
	Short: "Import a parameter name wordlist",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runImport(cmd, func(ctx context.Context, p *workflow.Project) (*workflow.ImportReport, error) {
			return p.ImportParameterNames(ctx, args[0])
		})
	},
}

var importArjunCmd = &cobra.Command{
	Use:   "arjun <file>",
	Short: "Import hidden parameters from an arjun JSON report",
	Long: `Accepts both report shapes:

  {"https://acme.test/api": {"params": ["user_id", "debug"]}}
  {"params": ["user_id", "debug"]}   (use --target to name the endpoint)`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		target, _ := cmd.Flags().GetString("target")
		return runImport(cmd, func(ctx context.Context, p *workflow.Project) (*workflow.ImportReport, error) {
			return p.ImportArjun(ctx, args[0], target)
		})
	},
}

var importFormsCmd = &cobra.Command{
	Use:   "forms <file.html>",
	Short: "Import the named inputs of every form on a saved HTML page",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		pageURL, _ := cmd.Flags().GetString("page-url")
		return runImport(cmd, func(ctx context.Context, p *workflow.Project) (*workflow.ImportReport, error) {
			return p.ImportForms(ctx, args[0], pageURL)
		})
	},
}

func init() {
	rootCmd.AddCommand(importCmd)
	importCmd.AddCommand(importURLsCmd)
	importCmd.AddCommand(importParamsCmd)
	importCmd.AddCommand(importArjunCmd)
	importCmd.AddCommand(importFormsCmd)

	importCmd.PersistentFlags().Bool("json", false, "print the import report as JSON")
	importArjunCmd.Flags().String("target", "", "endpoint URL for flat arjun reports")
	importFormsCmd.Flags().String("page-url", "", "URL the page was saved from (resolves form actions)")
	importFormsCmd.MarkFlagRequired("page-url")
}

func runImport(cmd *cobra.Command, fn func(ctx context.Context, p *workflow.Project) (*workflow.ImportReport, error)) error {
	asJSON, _ := cmd.Flags().GetBool("json")

	return withProject(cmd, func(ctx context.Context, p *workflow.Project) error {
		report, err := fn(ctx, p)
		if err != nil {
			return err
		}
		if asJSON {
			return printJSON(cmd.OutOrStdout(), report)
		}
		printImportReport(cmd.OutOrStdout(), report)
		return nil
	})
}

func printImportReport(w io.Writer, r *workflow.ImportReport) {
	color.New(color.FgGreen).Fprintf(w, "Imported %s from %s\n", r.Source, r.File)
	if r.URLs > 0 {
		fmt.Fprintf(w, "  URLs:          %d\n", r.URLs)
	}
	if r.Targets > 0 {
		fmt.Fprintf(w, "  Targets:       %d\n", r.Targets)
	}
	fmt.Fprintf(w, "  Parameters:    %d\n", r.Parameters)
	if r.OutOfScope > 0 {
		color.New(color.FgYellow).Fprintf(w, "  Out of scope:  %d\n", r.OutOfScope)
	}
	if len(r.Rejected) > 0 {
		color.New(color.FgYellow).Fprintf(w, "  Rejected:      %d\n", len(r.Rejected))
		for _, line := range r.Rejected {
			fmt.Fprintf(w, "    %s\n", line)
		}
	}
}
