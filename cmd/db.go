package cmd

import (
	"bufio"
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/CodeMonkeyCybersecurity/paramhunt/internal/database"
	"github.com/CodeMonkeyCybersecurity/paramhunt/internal/workflow"
)

var dbCmd = &cobra.Command{
	Use:   "db",
	Short: "Finding store maintenance",
	Long: `Commands for the selected project's finding store. Opening a project
already applies pending migrations; these commands inspect and undo them.`,
}

var dbMigrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending schema migrations",
	RunE:  runDBMigrate,
}

var dbStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show schema migration status",
	RunE:  runDBStatus,
}

var dbRollbackCmd = &cobra.Command{
	Use:   "rollback <version>",
	Short: "Roll back one migration",
	Long: `Roll back one applied migration version.

Warning: this drops the schema objects the migration created, including their
rows. The next command that opens the project re-applies it on an empty table.`,
	Args: cobra.ExactArgs(1),
	RunE: runDBRollback,
}

func init() {
	rootCmd.AddCommand(dbCmd)
	dbCmd.AddCommand(dbMigrateCmd)
	dbCmd.AddCommand(dbStatusCmd)
	dbCmd.AddCommand(dbRollbackCmd)

	dbRollbackCmd.Flags().BoolP("yes", "y", false, "do not ask for confirmation")
}

func migrationRunner(p *workflow.Project) *database.MigrationRunner {
	return database.NewMigrationRunner(p.Store.DB(), p.Store.Driver(), log.WithComponent("db"))
}

func runDBMigrate(cmd *cobra.Command, args []string) error {
	return withProject(cmd, func(ctx context.Context, p *workflow.Project) error {
		ctx, cancel := context.WithTimeout(ctx, 60*time.Second)
		defer cancel()

		if err := migrationRunner(p).RunMigrations(ctx); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
		color.New(color.FgGreen).Fprintln(cmd.OutOrStdout(), "Finding store is up to date")
		return nil
	})
}

func runDBStatus(cmd *cobra.Command, args []string) error {
	return withProject(cmd, func(ctx context.Context, p *workflow.Project) error {
		ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()

		status, err := migrationRunner(p).GetMigrationStatus(ctx)
		if err != nil {
			return fmt.Errorf("failed to get migration status: %w", err)
		}

		w := cmd.OutOrStdout()
		fmt.Fprintln(w, "Finding Store Migration Status")
		fmt.Fprintln(w, "==============================")
		fmt.Fprintf(w, "Driver:           %s\n", p.Store.Driver())
		fmt.Fprintf(w, "Current Version:  %d\n", status.CurrentVersion)
		fmt.Fprintf(w, "Latest Version:   %d\n", status.LatestVersion)
		fmt.Fprintf(w, "Applied:          %d migrations\n", status.AppliedCount)
		fmt.Fprintf(w, "Available:        %d migrations\n", status.AvailableCount)
		fmt.Fprintf(w, "Pending:          %d migrations\n", status.PendingCount)

		if status.UpToDate() {
			color.New(color.FgGreen).Fprintln(w, "\nStatus: up to date")
		} else {
			color.New(color.FgYellow).Fprintln(w, "\nStatus: pending migrations, run 'paramhunt db migrate'")
		}
		return nil
	})
}

func runDBRollback(cmd *cobra.Command, args []string) error {
	version, err := strconv.Atoi(args[0])
	if err != nil {
		return fmt.Errorf("invalid version number: %s", args[0])
	}
	yes, _ := cmd.Flags().GetBool("yes")

	if !yes {
		w := cmd.OutOrStdout()
		color.New(color.FgYellow).Fprintf(w, "WARNING: rolling back migration %d drops the data it holds.\n", version)
		fmt.Fprint(w, "Type 'yes' to continue: ")

		answer, _ := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
		if strings.TrimSpace(strings.ToLower(answer)) != "yes" {
			fmt.Fprintln(w, "Aborted")
			return nil
		}
	}

	return withProject(cmd, func(ctx context.Context, p *workflow.Project) error {
		ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()

		if err := migrationRunner(p).RollbackMigration(ctx, version); err != nil {
			return fmt.Errorf("rollback failed: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Migration %d rolled back\n", version)
		return nil
	})
}
