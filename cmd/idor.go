package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/CodeMonkeyCybersecurity/paramhunt/internal/core"
	"github.com/CodeMonkeyCybersecurity/paramhunt/internal/httpclient"
	"github.com/CodeMonkeyCybersecurity/paramhunt/internal/probe"
	"github.com/CodeMonkeyCybersecurity/paramhunt/internal/progress"
	"github.com/CodeMonkeyCybersecurity/paramhunt/internal/workflow"
	"github.com/CodeMonkeyCybersecurity/paramhunt/pkg/types"
)

var idorCmd = &cobra.Command{
	Use:   "idor",
	Short: "Probe sequential object IDs for broken access control",
	Long: `Requests every integer value in [start, end] for one parameter and reports
the verdict per value: Accessible (200), Forbidden (403), NotFound (404),
Other(status) or ProbeFailed.

Run as an identity that does not own the objects (--non-owning) and every
Accessible value is flagged as a potential IDOR. Progress is checkpointed
under testing/checkpoints; an interrupted run continues with "idor resume".`,
}

var idorRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Probe a range of IDs",
	Example: `  paramhunt -p acme idor run --param-id 3 --start 1 --end 500
  paramhunt -p acme idor run --url 'https://acme.test/api/orders/{}' --param id \
      --start 1 --end 50 --non-owning --identity bob --header 'Cookie: session=abc' --record`,
	RunE: runIDORRun,
}

var idorResumeCmd = &cobra.Command{
	Use:   "resume <run-id>",
	Short: "Continue an interrupted run (full id or unique suffix)",
	Args:  cobra.ExactArgs(1),
	RunE:  runIDORResume,
}

var idorCheckpointsCmd = &cobra.Command{
	Use:   "checkpoints",
	Short: "List saved probe runs",
	RunE:  runIDORCheckpoints,
}

func init() {
	rootCmd.AddCommand(idorCmd)
	idorCmd.AddCommand(idorRunCmd)
	idorCmd.AddCommand(idorResumeCmd)
	idorCmd.AddCommand(idorCheckpointsCmd)

	for _, c := range []*cobra.Command{idorRunCmd, idorResumeCmd} {
		c.Flags().String("identity", "", "name of the identity the requests run as")
		c.Flags().StringArrayP("header", "H", nil, `identity header "Name: value" (repeatable)`)
		c.Flags().Bool("record", false, "record one IDOR vulnerability per Accessible value")
		c.Flags().String("severity", string(types.SeverityHigh), "severity for recorded vulnerabilities")
		c.Flags().Bool("json", false, "print the run as JSON")
	}

	idorRunCmd.Flags().Int64("param-id", 0, "stored parameter to probe")
	idorRunCmd.Flags().String("url", "", "URL template; {} is replaced, otherwise the value is set as the query parameter")
	idorRunCmd.Flags().String("param", "", "parameter name (defaults to the stored parameter's name)")
	idorRunCmd.Flags().Int64("start", 1, "first ID (inclusive)")
	idorRunCmd.Flags().Int64("end", 0, "last ID (inclusive)")
	idorRunCmd.Flags().Bool("non-owning", false, "the identity does not own the probed objects")
	idorRunCmd.MarkFlagRequired("end")

	idorCheckpointsCmd.Flags().Duration("cleanup", 0, "delete checkpoints older than this age")
	idorCheckpointsCmd.Flags().String("delete", "", "delete one checkpoint by run id or suffix")
}

// identityFlags reads --identity and --header.
func identityFlags(cmd *cobra.Command) (httpclient.Identity, error) {
	name, _ := cmd.Flags().GetString("identity")
	raw, _ := cmd.Flags().GetStringArray("header")

	headers, err := parseHeaders(raw)
	if err != nil {
		return httpclient.Identity{}, err
	}
	return httpclient.Identity{Name: name, Headers: headers}, nil
}

// parseHeaders turns "Name: value" pairs into a header map with canonical names.
func parseHeaders(raw []string) (map[string]string, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	headers := make(map[string]string, len(raw))
	for _, h := range raw {
		name, value, ok := strings.Cut(h, ":")
		name = strings.TrimSpace(name)
		if !ok || name == "" || strings.ContainsAny(name, " \t") {
			return nil, fmt.Errorf("%w: header %q is not in \"Name: value\" form", core.ErrValidation, h)
		}
		headers[http.CanonicalHeaderKey(name)] = strings.TrimSpace(value)
	}
	return headers, nil
}

func runIDORRun(cmd *cobra.Command, args []string) error {
	identity, err := identityFlags(cmd)
	if err != nil {
		return err
	}

	req := workflow.IDORRequest{Identity: identity}
	req.ParameterID, _ = cmd.Flags().GetInt64("param-id")
	req.Template, _ = cmd.Flags().GetString("url")
	req.ParamName, _ = cmd.Flags().GetString("param")
	req.Start, _ = cmd.Flags().GetInt64("start")
	req.End, _ = cmd.Flags().GetInt64("end")
	req.NonOwning, _ = cmd.Flags().GetBool("non-owning")

	if req.ParameterID == 0 && (req.Template == "" || req.ParamName == "") {
		return fmt.Errorf("%w: either --param-id or both --url and --param are required", core.ErrValidation)
	}

	severity, err := severityFlag(cmd)
	if err != nil {
		return err
	}

	return withProject(cmd, func(ctx context.Context, p *workflow.Project) error {
		// Findings need a parameter row to reference.
		if severity != "" && req.ParameterID == 0 {
			id, err := p.Store.UpsertParameter(ctx, req.Template, req.ParamName)
			if err != nil {
				return err
			}
			req.ParameterID = id
		}

		tracker := newTracker(cmd)
		req.Progress = tracker.Update
		run, runErr := p.ProbeIDOR(ctx, req)
		tracker.Finish()
		return finishIDOR(ctx, cmd, p, run, runErr, severity)
	})
}

func runIDORResume(cmd *cobra.Command, args []string) error {
	identity, err := identityFlags(cmd)
	if err != nil {
		return err
	}
	severity, err := severityFlag(cmd)
	if err != nil {
		return err
	}

	return withProject(cmd, func(ctx context.Context, p *workflow.Project) error {
		tracker := newTracker(cmd)
		run, runErr := p.ResumeIDOR(ctx, workflow.ResumeRequest{
			RunID:    args[0],
			Identity: identity,
			Progress: tracker.Update,
		})
		tracker.Finish()
		return finishIDOR(ctx, cmd, p, run, runErr, severity)
	})
}

// newTracker draws probe progress on stderr when it is a terminal and the
// output is not JSON.
func newTracker(cmd *cobra.Command) *progress.Tracker {
	asJSON, _ := cmd.Flags().GetBool("json")
	return progress.New(cmd.ErrOrStderr(), "idor", !asJSON && !color.NoColor)
}

// severityFlag returns the --severity to record with, or "" without --record.
func severityFlag(cmd *cobra.Command) (types.Severity, error) {
	record, _ := cmd.Flags().GetBool("record")
	if !record {
		return "", nil
	}
	raw, _ := cmd.Flags().GetString("severity")
	sev := types.Severity(strings.ToLower(raw))
	if !sev.IsValid() {
		return "", fmt.Errorf("%w: unknown severity %q", core.ErrValidation, raw)
	}
	return sev, nil
}

func finishIDOR(ctx context.Context, cmd *cobra.Command, p *workflow.Project, run *workflow.IDORRun, runErr error, severity types.Severity) error {
	if run == nil {
		return runErr
	}

	w := cmd.OutOrStdout()
	asJSON, _ := cmd.Flags().GetBool("json")
	if asJSON {
		if err := printJSON(w, run); err != nil {
			return err
		}
	} else {
		printIDORRun(w, run)
	}

	if runErr != nil {
		if errors.Is(runErr, context.Canceled) || errors.Is(runErr, context.DeadlineExceeded) {
			color.New(color.FgYellow).Fprintf(cmd.ErrOrStderr(),
				"\nRun interrupted after %d results. Resume with: paramhunt -p %s idor resume %s\n",
				len(run.Results), p.Name, shortRunID(run.RunID))
		}
		return runErr
	}

	// Findings of a finished run were recorded, if at all, when it finished.
	if run.AlreadyCompleted {
		if severity != "" {
			fmt.Fprintf(w, "Run %s was already completed, nothing recorded\n", run.RunID)
		}
		return nil
	}

	if severity == "" || len(run.Summary.Accessible) == 0 {
		return nil
	}
	if run.ParameterID == 0 {
		return fmt.Errorf("%w: --record needs a stored parameter, rerun with --param-id", core.ErrValidation)
	}

	ids, err := p.RecordIDOR(ctx, run.ParameterID, run.Results, severity)
	if err != nil {
		return err
	}
	color.New(color.FgRed).Fprintf(w, "Recorded %d IDOR vulnerabilities: %s\n", len(ids), joinIDs(ids))
	return nil
}

func printIDORRun(w io.Writer, run *workflow.IDORRun) {
	for _, r := range run.Results {
		line := fmt.Sprintf("  %-8d %s", r.Value, colorVerdict(r))
		if r.Verdict == probe.VerdictAccessible {
			line += fmt.Sprintf("  %d bytes", r.BodyLength)
		}
		if r.Error != "" {
			line += "  " + r.Error
		}
		fmt.Fprintln(w, line)
	}

	s := run.Summary
	fmt.Fprintf(w, "\nRun %s: %d probed", run.RunID, s.Total)
	for _, v := range []probe.Verdict{probe.VerdictAccessible, probe.VerdictForbidden, probe.VerdictNotFound, probe.VerdictOther, probe.VerdictProbeFailed} {
		if n := s.ByVerdict[v]; n > 0 {
			fmt.Fprintf(w, ", %d %s", n, v)
		}
	}
	fmt.Fprintln(w)

	if len(s.PotentialIDOR) > 0 {
		color.New(color.FgRed, color.Bold).Fprintf(w, "Potential IDOR on %d IDs\n", len(s.PotentialIDOR))
	}
	if len(s.Accessible) > 1 && s.DistinctAccessibleBodies == 1 {
		color.New(color.FgYellow).Fprintln(w, "All Accessible responses share one body; likely a generic page")
	}
	fmt.Fprintf(w, "Checkpoint: %s\n", run.Checkpoint)
}

func runIDORCheckpoints(cmd *cobra.Command, args []string) error {
	cleanup, _ := cmd.Flags().GetDuration("cleanup")
	del, _ := cmd.Flags().GetString("delete")

	return withProject(cmd, func(ctx context.Context, p *workflow.Project) error {
		mgr, err := p.Checkpoints()
		if err != nil {
			return err
		}
		w := cmd.OutOrStdout()

		if del != "" {
			state, err := mgr.Load(ctx, del)
			if err != nil {
				return err
			}
			if err := mgr.Delete(ctx, state.RunID); err != nil {
				return err
			}
			fmt.Fprintf(w, "Deleted checkpoint %s\n", state.RunID)
			return nil
		}

		if cleanup > 0 {
			n, err := mgr.CleanupOld(ctx, cleanup)
			if err != nil {
				return err
			}
			fmt.Fprintf(w, "Deleted %d checkpoints older than %s\n", n, cleanup)
		}

		states, err := mgr.List(ctx)
		if err != nil {
			return err
		}
		if len(states) == 0 {
			fmt.Fprintln(w, "No checkpoints")
			return nil
		}
		for _, s := range states {
			status := color.New(color.FgYellow).Sprint("interrupted")
			if s.Completed {
				status = color.New(color.FgGreen).Sprint("completed")
			}
			fmt.Fprintf(w, "%s  %-11s  %5.1f%%  %s=[%d..%d]  %s\n",
				shortRunID(s.RunID), status, s.Progress(), s.ParamName, s.Start, s.End,
				s.UpdatedAt.Local().Format(time.DateTime))
		}
		return nil
	})
}

// shortRunID is the 8-character suffix accepted by "idor resume".
func shortRunID(runID string) string {
	if len(runID) <= 8 {
		return runID
	}
	return runID[len(runID)-8:]
}
