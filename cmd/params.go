package cmd

import (
	"context"
	"fmt"
	"strconv"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/CodeMonkeyCybersecurity/paramhunt/internal/core"
	"github.com/CodeMonkeyCybersecurity/paramhunt/internal/workflow"
	"github.com/CodeMonkeyCybersecurity/paramhunt/pkg/types"
)

var paramsCmd = &cobra.Command{
	Use:   "params",
	Short: "List and delete stored parameters",
}

var paramsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List parameters",
	Example: `  paramhunt -p acme params list --risk high
  paramhunt -p acme params list --category Authentication --json
  paramhunt -p acme params list --url-prefix https://acme.test/api`,
	RunE: runParamsList,
}

var paramsDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a parameter with no recorded vulnerabilities",
	Args:  cobra.ExactArgs(1),
	RunE:  runParamsDelete,
}

func init() {
	rootCmd.AddCommand(paramsCmd)
	paramsCmd.AddCommand(paramsListCmd)
	paramsCmd.AddCommand(paramsDeleteCmd)

	paramsListCmd.Flags().String("category", "", "only this category")
	paramsListCmd.Flags().String("risk", "", "only this risk tier (high, medium, low)")
	paramsListCmd.Flags().String("url-prefix", "", "only parameters whose URL starts with this prefix")
	paramsListCmd.Flags().Bool("unclassified", false, "only parameters not yet classified")
	paramsListCmd.Flags().Int("limit", 0, "maximum rows (0 for all)")
	paramsListCmd.Flags().Bool("json", false, "print as JSON")
}

func runParamsList(cmd *cobra.Command, args []string) error {
	category, _ := cmd.Flags().GetString("category")
	risk, _ := cmd.Flags().GetString("risk")
	urlPrefix, _ := cmd.Flags().GetString("url-prefix")
	unclassified, _ := cmd.Flags().GetBool("unclassified")
	limit, _ := cmd.Flags().GetInt("limit")
	asJSON, _ := cmd.Flags().GetBool("json")

	filter := core.ParameterFilter{
		Category:     category,
		URLPrefix:    urlPrefix,
		Unclassified: unclassified,
		Limit:        limit,
	}
	if risk != "" {
		tier := types.RiskTier(risk)
		if !tier.IsValid() {
			return fmt.Errorf("%w: unknown risk tier %q", core.ErrValidation, risk)
		}
		filter.RiskTier = tier
	}

	return withProject(cmd, func(ctx context.Context, p *workflow.Project) error {
		params, err := p.Store.ListParameters(ctx, filter)
		if err != nil {
			return err
		}

		w := cmd.OutOrStdout()
		if asJSON {
			if params == nil {
				params = []types.Parameter{}
			}
			return printJSON(w, params)
		}

		if len(params) == 0 {
			fmt.Fprintln(w, "No parameters found")
			return nil
		}

		fmt.Fprintf(w, "%-6s %-24s %-16s %-8s %s\n", "ID", "NAME", "CATEGORY", "RISK", "URL")
		for _, prm := range params {
			fmt.Fprintf(w, "%-6d %-24s %-16s %-8s %s\n",
				prm.ID, prm.Name, orDash(prm.Category), colorRisk(prm.RiskTier), prm.URL)
		}
		fmt.Fprintf(w, "\n%d parameters\n", len(params))
		return nil
	})
}

func runParamsDelete(cmd *cobra.Command, args []string) error {
	id, err := parseID(args[0])
	if err != nil {
		return err
	}

	return withProject(cmd, func(ctx context.Context, p *workflow.Project) error {
		if err := p.Store.DeleteParameter(ctx, id); err != nil {
			return err
		}
		color.New(color.FgGreen).Fprintf(cmd.OutOrStdout(), "Parameter %d deleted\n", id)
		return nil
	})
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: invalid id %q", core.ErrValidation, s)
	}
	return id, nil
}
