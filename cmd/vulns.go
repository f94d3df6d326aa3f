package cmd

import (
	"context"
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/CodeMonkeyCybersecurity/paramhunt/internal/core"
	"github.com/CodeMonkeyCybersecurity/paramhunt/internal/workflow"
	"github.com/CodeMonkeyCybersecurity/paramhunt/pkg/types"
)

var vulnsCmd = &cobra.Command{
	Use:     "vulns",
	Aliases: []string{"vulnerabilities"},
	Short:   "List, verify and delete recorded vulnerabilities",
}

var vulnsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List vulnerabilities",
	RunE:  runVulnsList,
}

var vulnsVerifyCmd = &cobra.Command{
	Use:   "verify <id>",
	Short: "Mark a vulnerability as manually verified",
	Args:  cobra.ExactArgs(1),
	RunE:  runVulnsVerify,
}

var vulnsDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a vulnerability",
	Args:  cobra.ExactArgs(1),
	RunE:  runVulnsDelete,
}

func init() {
	rootCmd.AddCommand(vulnsCmd)
	vulnsCmd.AddCommand(vulnsListCmd)
	vulnsCmd.AddCommand(vulnsVerifyCmd)
	vulnsCmd.AddCommand(vulnsDeleteCmd)

	vulnsListCmd.Flags().Int64("param-id", 0, "only vulnerabilities of this parameter")
	vulnsListCmd.Flags().String("type", "", "only this vulnerability type (e.g. IDOR)")
	vulnsListCmd.Flags().String("severity", "", "only this severity")
	vulnsListCmd.Flags().Bool("verified", false, "only verified vulnerabilities")
	vulnsListCmd.Flags().Bool("unverified", false, "only unverified vulnerabilities")
	vulnsListCmd.Flags().Int("limit", 0, "maximum rows (0 for all)")
	vulnsListCmd.Flags().Bool("json", false, "print as JSON")
	vulnsListCmd.MarkFlagsMutuallyExclusive("verified", "unverified")

	vulnsVerifyCmd.Flags().Bool("unset", false, "clear the verified flag instead")
}

func runVulnsList(cmd *cobra.Command, args []string) error {
	paramID, _ := cmd.Flags().GetInt64("param-id")
	vulnType, _ := cmd.Flags().GetString("type")
	severity, _ := cmd.Flags().GetString("severity")
	verified, _ := cmd.Flags().GetBool("verified")
	unverified, _ := cmd.Flags().GetBool("unverified")
	limit, _ := cmd.Flags().GetInt("limit")
	asJSON, _ := cmd.Flags().GetBool("json")

	filter := core.VulnerabilityFilter{
		ParameterID: paramID,
		Type:        vulnType,
		Limit:       limit,
	}
	if severity != "" {
		sev := types.Severity(severity)
		if !sev.IsValid() {
			return fmt.Errorf("%w: unknown severity %q", core.ErrValidation, severity)
		}
		filter.Severity = sev
	}
	switch {
	case verified:
		v := true
		filter.Verified = &v
	case unverified:
		v := false
		filter.Verified = &v
	}

	return withProject(cmd, func(ctx context.Context, p *workflow.Project) error {
		vulns, err := p.Store.ListVulnerabilities(ctx, filter)
		if err != nil {
			return err
		}

		w := cmd.OutOrStdout()
		if asJSON {
			if vulns == nil {
				vulns = []types.Vulnerability{}
			}
			return printJSON(w, vulns)
		}

		if len(vulns) == 0 {
			fmt.Fprintln(w, "No vulnerabilities found")
			return nil
		}

		for _, v := range vulns {
			fmt.Fprintf(w, "[%s] #%d %s on parameter %d %s\n",
				colorSeverity(v.Severity), v.ID, v.Type, v.ParameterID, colorCheck(v.Verified))
			if v.PoC != "" {
				fmt.Fprintf(w, "    PoC: %s\n", v.PoC)
			}
		}
		fmt.Fprintf(w, "\n%d vulnerabilities\n", len(vulns))
		return nil
	})
}

func runVulnsVerify(cmd *cobra.Command, args []string) error {
	id, err := parseID(args[0])
	if err != nil {
		return err
	}
	unset, _ := cmd.Flags().GetBool("unset")

	return withProject(cmd, func(ctx context.Context, p *workflow.Project) error {
		if err := p.Store.SetVerified(ctx, id, !unset); err != nil {
			return err
		}
		state := "verified"
		if unset {
			state = "unverified"
		}
		color.New(color.FgGreen).Fprintf(cmd.OutOrStdout(), "Vulnerability %d marked %s\n", id, state)
		return nil
	})
}

func runVulnsDelete(cmd *cobra.Command, args []string) error {
	id, err := parseID(args[0])
	if err != nil {
		return err
	}

	return withProject(cmd, func(ctx context.Context, p *workflow.Project) error {
		if err := p.Store.DeleteVulnerability(ctx, id); err != nil {
			return err
		}
		color.New(color.FgGreen).Fprintf(cmd.OutOrStdout(), "Vulnerability %d deleted\n", id)
		return nil
	})
}
