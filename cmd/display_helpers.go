package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/fatih/color"

	"github.com/CodeMonkeyCybersecurity/paramhunt/internal/probe"
	"github.com/CodeMonkeyCybersecurity/paramhunt/pkg/types"
)

func colorSeverity(severity types.Severity) string {
	switch severity {
	case types.SeverityCritical:
		return color.New(color.FgRed, color.Bold).Sprint("CRITICAL")
	case types.SeverityHigh:
		return color.New(color.FgRed).Sprint("HIGH")
	case types.SeverityMedium:
		return color.New(color.FgYellow).Sprint("MEDIUM")
	case types.SeverityLow:
		return color.New(color.FgCyan).Sprint("LOW")
	case types.SeverityInfo:
		return color.New(color.FgWhite).Sprint("INFO")
	default:
		return string(severity)
	}
}

// colorRisk renders a parameter's risk tier; unclassified parameters show a dash.
func colorRisk(tier *types.RiskTier) string {
	if tier == nil {
		return "-"
	}
	switch *tier {
	case types.RiskHigh:
		return color.New(color.FgRed).Sprint("high")
	case types.RiskMedium:
		return color.New(color.FgYellow).Sprint("medium")
	case types.RiskLow:
		return color.New(color.FgCyan).Sprint("low")
	default:
		return string(*tier)
	}
}

func colorVerdict(r probe.Result) string {
	label := probe.Label(r.Verdict, r.StatusCode)
	switch r.Verdict {
	case probe.VerdictAccessible:
		if r.PotentialIDOR {
			return color.New(color.FgRed, color.Bold).Sprint(label + " (potential IDOR)")
		}
		return color.New(color.FgGreen).Sprint(label)
	case probe.VerdictForbidden, probe.VerdictNotFound:
		return color.New(color.FgWhite).Sprint(label)
	case probe.VerdictProbeFailed:
		return color.New(color.FgYellow).Sprint(label)
	default:
		return label
	}
}

func colorCheck(ok bool) string {
	if ok {
		return color.New(color.FgGreen).Sprint("✓")
	}
	return color.New(color.FgRed).Sprint("✗")
}

func orDash(s *string) string {
	if s == nil || *s == "" {
		return "-"
	}
	return *s
}

func printJSON(w io.Writer, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal output: %w", err)
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

// printCounts prints a "key: n" line per entry, sorted by key.
func printCounts(w io.Writer, title string, counts map[string]int) {
	if len(counts) == 0 {
		return
	}
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	fmt.Fprintf(w, "%s:\n", title)
	for _, k := range keys {
		fmt.Fprintf(w, "  %-20s %d\n", k, counts[k])
	}
}

func joinIDs(ids []int64) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = fmt.Sprint(id)
	}
	return strings.Join(parts, ", ")
}
