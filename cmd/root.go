package cmd

// paramhunt root command.
//
// Configuration is layered by viper: defaults from config.DefaultConfig,
// then ~/.paramhunt/config.yaml (or --config), then PARAMHUNT_* environment
// variables, then flags. Every subcommand except "project create" and
// "tools check" operates on the project selected with --project.

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/CodeMonkeyCybersecurity/paramhunt/internal/config"
	"github.com/CodeMonkeyCybersecurity/paramhunt/internal/core"
	"github.com/CodeMonkeyCybersecurity/paramhunt/internal/logger"
	"github.com/CodeMonkeyCybersecurity/paramhunt/internal/telemetry"
	"github.com/CodeMonkeyCybersecurity/paramhunt/internal/workflow"
)

var (
	cfg     *config.Config
	log     *logger.Logger
	tel     core.Telemetry
	cfgFile string
)

var rootCmd = &cobra.Command{
	Use:   "paramhunt",
	Short: "Parameter discovery, classification and IDOR probing",
	Long: `paramhunt - parameter hunting for authorized web application testing

Collects request parameter names from recon output, classifies them by
category and risk, probes numeric IDs for broken object-level access
control, and keeps every finding in a per-project store.

WORKFLOW:
  paramhunt project create acme --target acme.test --scope acme.test
  paramhunt -p acme import urls gau.txt
  paramhunt -p acme import arjun arjun.json
  paramhunt -p acme classify
  paramhunt -p acme params list --risk high
  paramhunt -p acme idor run --param-id 3 --start 1 --end 100 --non-owning \
      --identity attacker --header "Cookie: session=..." --record
  paramhunt -p acme vulns list

Only test systems you are authorized to test.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "help" {
			return nil
		}

		if err := initConfig(); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}

		var err error
		log, err = logger.New(cfg.Logger)
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}

		tel, err = telemetry.New(cmd.Context(), cfg.Telemetry)
		if err != nil {
			log.Warnw("Telemetry disabled", "error", err)
			tel = telemetry.NewNoop()
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if log != nil {
			// Sync errors on stdout/stderr are expected on Linux.
			if err := log.Sync(); err != nil && !isStdSyncError(err) {
				fmt.Fprintf(os.Stderr, "Warning: failed to sync logger: %v\n", err)
			}
		}
		if tel != nil {
			if err := tel.Close(); err != nil {
				fmt.Fprintf(os.Stderr, "Warning: failed to flush telemetry: %v\n", err)
			}
		}
	},
}

// Execute runs the root command. SIGINT and SIGTERM cancel the command
// context, which stops a probe run after the in-flight request.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	defaults := config.DefaultConfig()
	flags := rootCmd.PersistentFlags()

	flags.StringVar(&cfgFile, "config", "", "config file (default $HOME/.paramhunt/config.yaml)")
	flags.StringP("project", "p", "", "project name under projects.root, or a project directory")
	flags.String("projects-root", defaults.Projects.Root, "directory holding projects")
	viper.BindPFlag("project", flags.Lookup("project"))
	viper.BindPFlag("projects.root", flags.Lookup("projects-root"))

	// Logging
	flags.String("log-level", defaults.Logger.Level, "log level (debug, info, warn, error)")
	flags.String("log-format", defaults.Logger.Format, "log format (json, console)")
	viper.BindPFlag("logger.level", flags.Lookup("log-level"))
	viper.BindPFlag("logger.format", flags.Lookup("log-format"))

	// Store
	flags.String("db-driver", defaults.Database.Driver, "finding store driver (sqlite3, postgres)")
	flags.String("db-dsn", "", "postgres connection string (sqlite3 always uses <project>/results.db)")
	viper.BindPFlag("database.driver", flags.Lookup("db-driver"))
	viper.BindPFlag("database.dsn", flags.Lookup("db-dsn"))
	viper.BindEnv("database.dsn", "PARAMHUNT_DATABASE_DSN", "DATABASE_URL")

	// Probing
	flags.Float64("rate-limit", defaults.RateLimit.RequestsPerSecond, "requests per second per host (0 disables)")
	flags.Int("rate-burst", defaults.RateLimit.BurstSize, "rate limit burst size")
	flags.Duration("timeout", defaults.Probe.RequestTimeout, "per-request timeout")
	flags.Int("concurrency", defaults.Probe.Concurrency, "parallel requests per probe run")
	flags.String("proxy", "", "HTTP proxy URL for probe requests")
	viper.BindPFlag("rate_limit.requests_per_second", flags.Lookup("rate-limit"))
	viper.BindPFlag("rate_limit.burst_size", flags.Lookup("rate-burst"))
	viper.BindPFlag("probe.request_timeout", flags.Lookup("timeout"))
	viper.BindPFlag("probe.concurrency", flags.Lookup("concurrency"))
	viper.BindPFlag("http.proxy", flags.Lookup("proxy"))

	setDefaults(defaults)
}

// setDefaults registers every scalar key so AutomaticEnv can resolve it.
func setDefaults(d *config.Config) {
	viper.SetDefault("logger.level", d.Logger.Level)
	viper.SetDefault("logger.format", d.Logger.Format)
	viper.SetDefault("logger.output_paths", d.Logger.OutputPaths)

	viper.SetDefault("database.driver", d.Database.Driver)
	viper.SetDefault("database.dsn", d.Database.DSN)
	viper.SetDefault("database.max_connections", d.Database.MaxConnections)
	viper.SetDefault("database.max_idle_conns", d.Database.MaxIdleConns)
	viper.SetDefault("database.conn_max_lifetime", d.Database.ConnMaxLifetime)
	viper.SetDefault("database.busy_timeout", d.Database.BusyTimeout)

	viper.SetDefault("telemetry.enabled", d.Telemetry.Enabled)
	viper.SetDefault("telemetry.service_name", d.Telemetry.ServiceName)
	viper.SetDefault("telemetry.exporter_type", d.Telemetry.ExporterType)
	viper.SetDefault("telemetry.endpoint", d.Telemetry.Endpoint)
	viper.SetDefault("telemetry.sample_rate", d.Telemetry.SampleRate)

	viper.SetDefault("rate_limit.requests_per_second", d.RateLimit.RequestsPerSecond)
	viper.SetDefault("rate_limit.burst_size", d.RateLimit.BurstSize)
	viper.SetDefault("rate_limit.min_delay", d.RateLimit.MinDelay)

	viper.SetDefault("http.timeout", d.HTTP.Timeout)
	viper.SetDefault("http.user_agent", d.HTTP.UserAgent)
	viper.SetDefault("http.proxy", d.HTTP.Proxy)
	viper.SetDefault("http.follow_redirects", d.HTTP.FollowRedirects)
	viper.SetDefault("http.max_body_bytes", d.HTTP.MaxBodyBytes)
	viper.SetDefault("http.block_private_ips", d.HTTP.BlockPrivateIPs)

	viper.SetDefault("probe.max_range", d.Probe.MaxRange)
	viper.SetDefault("probe.concurrency", d.Probe.Concurrency)
	viper.SetDefault("probe.request_timeout", d.Probe.RequestTimeout)
	viper.SetDefault("probe.checkpoint_every", d.Probe.CheckpointEvery)

	viper.SetDefault("projects.root", d.Projects.Root)

	viper.SetDefault("tools.arjun", d.Tools.Arjun)
	viper.SetDefault("tools.sqlmap", d.Tools.SQLMap)
	viper.SetDefault("tools.ffuf", d.Tools.FFUF)
	viper.SetDefault("tools.gau", d.Tools.GAU)
	viper.SetDefault("tools.waybackurls", d.Tools.WaybackURLs)
	viper.SetDefault("tools.nuclei", d.Tools.Nuclei)
	viper.SetDefault("tools.subfinder", d.Tools.Subfinder)

	viper.SetDefault("classification.rules_file", d.Classification.RulesFile)
}

func initConfig() error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		if home, err := os.UserHomeDir(); err == nil {
			viper.AddConfigPath(filepath.Join(home, ".paramhunt"))
		}
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("PARAMHUNT")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			return fmt.Errorf("failed to read config file: %w", err)
		}
	}

	loaded := config.DefaultConfig()
	// A rule table from the config file replaces the stock table instead of
	// being merged into it element by element.
	if viper.IsSet("classification.rules") {
		loaded.Classification.Rules = nil
	}
	if err := viper.Unmarshal(loaded); err != nil {
		return fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := loaded.Validate(); err != nil {
		return err
	}

	cfg = loaded
	return nil
}

func isStdSyncError(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "/dev/stdout") || strings.Contains(msg, "/dev/stderr")
}

// projectRoot resolves --project: a value containing a path separator or
// naming an existing directory is used as is, anything else is a project
// name under projects.root.
func projectRoot(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", fmt.Errorf("%w: no project selected, use --project or PARAMHUNT_PROJECT", core.ErrValidation)
	}
	if strings.ContainsAny(name, `/\`) {
		return filepath.Clean(name), nil
	}
	if info, err := os.Stat(filepath.Join(name, "project.json")); err == nil && !info.IsDir() {
		return name, nil
	}
	return filepath.Join(cfg.Projects.Root, name), nil
}

// openProject opens the project selected with --project. Callers must Close it.
func openProject(ctx context.Context) (*workflow.Project, error) {
	root, err := projectRoot(viper.GetString("project"))
	if err != nil {
		return nil, err
	}
	return workflow.OpenProject(ctx, cfg, root, projectOptions()...)
}

func projectOptions() []workflow.Option {
	return []workflow.Option{workflow.WithLogger(log), workflow.WithTelemetry(tel)}
}

// withProject opens the selected project, runs fn and closes the project.
func withProject(cmd *cobra.Command, fn func(ctx context.Context, p *workflow.Project) error) error {
	ctx := cmd.Context()
	p, err := openProject(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := p.Close(); cerr != nil {
			log.Warnw("Failed to close project store", "error", cerr)
		}
	}()
	return fn(ctx, p)
}
