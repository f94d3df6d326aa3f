package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/CodeMonkeyCybersecurity/paramhunt/internal/validation"
	"github.com/CodeMonkeyCybersecurity/paramhunt/internal/workflow"
)

var projectCmd = &cobra.Command{
	Use:   "project",
	Short: "Create and inspect projects",
	Long: `A project is a directory under projects.root holding project.json, the
finding store (results.db) and the working directories for each phase:

  reconnaissance/  parameters/  testing/  business_logic/  advanced/
  validation/      reports/     evidence/ tools/`,
}

var projectCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create a project and its store",
	Args:  cobra.ExactArgs(1),
	RunE:  runProjectCreate,
}

var projectInfoCmd = &cobra.Command{
	Use:   "info",
	Short: "Show project metadata and store counts",
	RunE:  runProjectInfo,
}

var projectListCmd = &cobra.Command{
	Use:   "list",
	Short: "List projects under projects.root",
	RunE:  runProjectList,
}

var projectScopeCmd = &cobra.Command{
	Use:   "scope [target] [entries...]",
	Short: "Show or replace the project target and scope",
	Long: `Without arguments, prints the current target and scope.

Scope entries are domains, wildcards (*.acme.test), IPs, CIDR ranges or URL
prefixes. Prefix an entry with ! to exclude it:

  paramhunt -p acme project scope acme.test acme.test '*.acme.test' '!admin.acme.test'
  paramhunt -p acme project scope acme.test --file program.scope`,
	RunE: runProjectScope,
}

func init() {
	rootCmd.AddCommand(projectCmd)
	projectCmd.AddCommand(projectCreateCmd)
	projectCmd.AddCommand(projectInfoCmd)
	projectCmd.AddCommand(projectListCmd)
	projectCmd.AddCommand(projectScopeCmd)

	projectCreateCmd.Flags().String("target", "", "primary target domain or URL")
	projectCreateCmd.Flags().StringSlice("scope", nil, "scope entries (repeat or comma separate)")
	projectCreateCmd.Flags().String("scope-file", "", "read scope entries from a file")
	projectInfoCmd.Flags().Bool("json", false, "print as JSON")
	projectScopeCmd.Flags().String("file", "", "read scope entries from a file")
}

func runProjectCreate(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	target, _ := cmd.Flags().GetString("target")
	scope, _ := cmd.Flags().GetStringSlice("scope")
	scopeFile, _ := cmd.Flags().GetString("scope-file")

	entries, err := scopeEntries(scope, scopeFile)
	if err != nil {
		return err
	}

	p, err := workflow.CreateProject(ctx, cfg, args[0], projectOptions()...)
	if err != nil {
		return err
	}
	defer p.Close()

	if target != "" || len(entries) > 0 {
		if err := p.SetScope(target, entries); err != nil {
			return err
		}
	}

	w := cmd.OutOrStdout()
	color.New(color.FgGreen).Fprintf(w, "Project %s created\n", p.Name)
	fmt.Fprintf(w, "  Root:  %s\n", p.Root)
	fmt.Fprintf(w, "  Store: %s\n", p.Meta.StoreKind)
	if p.Meta.Target != "" {
		fmt.Fprintf(w, "  Target: %s\n", p.Meta.Target)
	}
	fmt.Fprintf(w, "\nNext: paramhunt -p %s import urls <file>\n", p.Name)
	return nil
}

func runProjectInfo(cmd *cobra.Command, args []string) error {
	asJSON, _ := cmd.Flags().GetBool("json")

	return withProject(cmd, func(ctx context.Context, p *workflow.Project) error {
		stats, err := p.Store.Stats(ctx)
		if err != nil {
			return err
		}

		w := cmd.OutOrStdout()
		if asJSON {
			return printJSON(w, map[string]interface{}{
				"project": p.Meta,
				"root":    p.Root,
				"stats":   stats,
			})
		}

		color.New(color.FgCyan, color.Bold).Fprintf(w, "%s\n", p.Name)
		fmt.Fprintf(w, "  Root:     %s\n", p.Root)
		fmt.Fprintf(w, "  Status:   %s\n", p.Meta.Status)
		fmt.Fprintf(w, "  Target:   %s\n", valueOr(p.Meta.Target, "-"))
		fmt.Fprintf(w, "  Scope:    %d entries\n", len(p.Meta.Scope))
		fmt.Fprintf(w, "  Created:  %s\n", p.Meta.Created.Format(time.RFC3339))
		fmt.Fprintf(w, "  Updated:  %s\n\n", p.Meta.Updated.Format(time.RFC3339))

		fmt.Fprintf(w, "  Targets:          %d\n", stats.Targets)
		fmt.Fprintf(w, "  Parameters:       %d (%d unclassified)\n", stats.Parameters, stats.Unclassified)
		fmt.Fprintf(w, "  Vulnerabilities:  %d (%d verified)\n\n", stats.Vulnerabilities, stats.Verified)

		printCounts(w, "By category", stats.ByCategory)
		bySeverity := make(map[string]int, len(stats.BySeverity))
		for sev, n := range stats.BySeverity {
			bySeverity[string(sev)] = n
		}
		printCounts(w, "By severity", bySeverity)
		return nil
	})
}

func runProjectList(cmd *cobra.Command, args []string) error {
	entries, err := os.ReadDir(cfg.Projects.Root)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(cmd.OutOrStdout(), "No projects under %s\n", cfg.Projects.Root)
			return nil
		}
		return fmt.Errorf("failed to read projects root: %w", err)
	}

	var names []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if _, err := os.Stat(filepath.Join(cfg.Projects.Root, e.Name(), "project.json")); err == nil {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	w := cmd.OutOrStdout()
	if len(names) == 0 {
		fmt.Fprintf(w, "No projects under %s\n", cfg.Projects.Root)
		return nil
	}
	for _, n := range names {
		fmt.Fprintln(w, n)
	}
	return nil
}

func runProjectScope(cmd *cobra.Command, args []string) error {
	file, _ := cmd.Flags().GetString("file")

	return withProject(cmd, func(ctx context.Context, p *workflow.Project) error {
		w := cmd.OutOrStdout()

		if len(args) == 0 && file == "" {
			fmt.Fprintf(w, "Target: %s\n", valueOr(p.Meta.Target, "-"))
			if len(p.Meta.Scope) == 0 {
				fmt.Fprintln(w, "Scope:  (empty, every host allowed)")
				return nil
			}
			fmt.Fprintln(w, "Scope:")
			for _, e := range p.Meta.Scope {
				fmt.Fprintf(w, "  %s\n", e)
			}
			return nil
		}

		target := p.Meta.Target
		var lines []string
		if len(args) > 0 {
			target = args[0]
			lines = args[1:]
		}

		entries, err := scopeEntries(lines, file)
		if err != nil {
			return err
		}
		if err := p.SetScope(target, entries); err != nil {
			return err
		}

		color.New(color.FgGreen).Fprintf(w, "Scope updated: %d entries\n", len(p.Meta.Scope))
		return nil
	})
}

// scopeEntries combines inline entries with the entries of a scope file.
func scopeEntries(inline []string, file string) ([]string, error) {
	entries := append([]string(nil), inline...)
	if file == "" {
		return entries, nil
	}
	scope, err := validation.LoadScopeFile(file)
	if err != nil {
		return nil, err
	}
	return append(entries, scope.Entries()...), nil
}

func valueOr(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}
