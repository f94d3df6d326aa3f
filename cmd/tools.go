package cmd

import (
	"fmt"
	"os/exec"
	"sort"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var toolsCmd = &cobra.Command{
	Use:   "tools",
	Short: "External recon tool helpers",
}

var toolsCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Report which configured recon binaries are on PATH",
	Long: `Looks up every binary configured under tools.* (arjun, sqlmap, ffuf, gau,
waybackurls, nuclei, subfinder). paramhunt only imports their output; missing
tools limit which import sources you can produce.`,
	RunE: runToolsCheck,
}

func init() {
	rootCmd.AddCommand(toolsCmd)
	toolsCmd.AddCommand(toolsCheckCmd)
	toolsCheckCmd.Flags().Bool("strict", false, "exit with an error when any tool is missing")
}

// ToolStatus is the lookup result for one configured binary.
type ToolStatus struct {
	Name  string `json:"name"`
	Path  string `json:"path"`
	Found string `json:"found,omitempty"`
}

// lookupTools resolves each configured binary with lookPath, sorted by name.
func lookupTools(binaries map[string]string, lookPath func(string) (string, error)) []ToolStatus {
	statuses := make([]ToolStatus, 0, len(binaries))
	for name, path := range binaries {
		st := ToolStatus{Name: name, Path: path}
		if found, err := lookPath(path); err == nil {
			st.Found = found
		}
		statuses = append(statuses, st)
	}
	sort.Slice(statuses, func(i, j int) bool { return statuses[i].Name < statuses[j].Name })
	return statuses
}

func runToolsCheck(cmd *cobra.Command, args []string) error {
	strict, _ := cmd.Flags().GetBool("strict")
	w := cmd.OutOrStdout()

	var missing []string
	for _, st := range lookupTools(cfg.Tools.Binaries(), exec.LookPath) {
		if st.Found == "" {
			missing = append(missing, st.Name)
			fmt.Fprintf(w, "%s %-12s %s\n", colorCheck(false), st.Name, color.New(color.FgRed).Sprintf("not found (%s)", st.Path))
			continue
		}
		fmt.Fprintf(w, "%s %-12s %s\n", colorCheck(true), st.Name, st.Found)
	}

	if len(missing) == 0 {
		color.New(color.FgGreen).Fprintln(w, "\nAll tools available")
		return nil
	}

	log.Warnw("Recon tools missing", "tools", missing)
	color.New(color.FgYellow).Fprintf(w, "\n%d tools missing\n", len(missing))
	if strict {
		return fmt.Errorf("missing tools: %v", missing)
	}
	return nil
}
