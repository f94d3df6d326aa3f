package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"golang.org/x/net/publicsuffix"

	"github.com/CodeMonkeyCybersecurity/paramhunt/internal/config"
	"github.com/CodeMonkeyCybersecurity/paramhunt/internal/core"
	"github.com/CodeMonkeyCybersecurity/paramhunt/internal/logger"
	"github.com/CodeMonkeyCybersecurity/paramhunt/pkg/types"
)

// Store is the sqlx-backed FindingStore. Writes are serialized through mu and
// each one commits before returning.
type Store struct {
	db     *sqlx.DB
	cfg    config.DatabaseConfig
	logger *logger.Logger
	mu     sync.Mutex
}

var _ core.FindingStore = (*Store)(nil)

// NewStore connects to the configured backend and brings the schema up to
// date. For sqlite3, cfg.DSN is the database file path.
func NewStore(ctx context.Context, cfg config.DatabaseConfig, log *logger.Logger) (*Store, error) {
	if log == nil {
		log = logger.NewNop()
	}
	log = log.WithComponent("database")

	start := time.Now()
	ctx, span := log.StartOperation(ctx, "database.NewStore",
		"driver", cfg.Driver,
		"dsn_masked", maskDSN(cfg.DSN),
	)
	var err error
	defer func() {
		log.FinishOperation(ctx, span, "database.NewStore", start, err)
	}()

	db, err := Open(cfg)
	if err != nil {
		return nil, err
	}

	store := &Store{
		db:     db,
		cfg:    cfg,
		logger: log,
	}

	migrateStart := time.Now()
	if err = NewMigrationRunner(db, cfg.Driver, log).RunMigrations(ctx); err != nil {
		db.Close()
		err = fmt.Errorf("%w: failed to run migrations: %w", core.ErrStoreIO, err)
		return nil, err
	}
	log.LogDuration(ctx, "database.Migrate", migrateStart, "driver", cfg.Driver)

	log.WithContext(ctx).Debugw("Finding store initialized",
		"driver", cfg.Driver,
		"total_init_duration_ms", time.Since(start).Milliseconds(),
	)

	return store, nil
}

// Open connects and configures the pool without running migrations.
func Open(cfg config.DatabaseConfig) (*sqlx.DB, error) {
	dsn := cfg.DSN
	if cfg.Driver == "sqlite3" {
		if dsn == "" {
			return nil, fmt.Errorf("%w: sqlite3 requires a database path", core.ErrStoreIO)
		}
		dsn = sqliteDSN(dsn, cfg.BusyTimeout)
	}

	db, err := sqlx.Connect(cfg.Driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to connect to database: %w", core.ErrStoreIO, err)
	}

	maxConns := cfg.MaxConnections
	if cfg.Driver == "sqlite3" {
		// One connection keeps sqlite writers from tripping over SQLITE_BUSY.
		maxConns = 1
	}
	if maxConns > 0 {
		db.SetMaxOpenConns(maxConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	return db, nil
}

// sqliteDSN turns a file path into a DSN with foreign keys, WAL and full
// fsync enabled.
func sqliteDSN(path string, busyTimeout time.Duration) string {
	if busyTimeout <= 0 {
		busyTimeout = 5 * time.Second
	}
	params := fmt.Sprintf("_foreign_keys=on&_busy_timeout=%d&_journal_mode=WAL&_synchronous=FULL",
		busyTimeout.Milliseconds())

	if !strings.HasPrefix(path, "file:") {
		path = "file:" + path
	}
	if strings.Contains(path, "?") {
		return path + "&" + params
	}
	return path + "?" + params
}

// maskDSN hides credentials in DSNs for logging
func maskDSN(dsn string) string {
	if len(dsn) > 10 {
		return dsn[:5] + "***" + dsn[len(dsn)-5:]
	}
	return "***"
}

// DB exposes the underlying connection for maintenance commands.
func (s *Store) DB() *sqlx.DB {
	return s.db
}

func (s *Store) Driver() string {
	return s.cfg.Driver
}

func (s *Store) Close() error {
	return s.db.Close()
}

func storeErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", core.ErrStoreIO, op, err)
}

// domainOf derives the registrable domain of a target URL. Hosts without a
// known public suffix fall back to the bare hostname.
func domainOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		u, err = url.Parse("//" + raw)
		if err != nil {
			return ""
		}
	}
	host := strings.ToLower(u.Hostname())
	if host == "" || net.ParseIP(host) != nil {
		return host
	}
	if d, err := publicsuffix.EffectiveTLDPlusOne(host); err == nil {
		return d
	}
	return host
}

func (s *Store) UpsertTarget(ctx context.Context, targetURL string) (id int64, err error) {
	start := time.Now()
	ctx, span := s.logger.StartOperation(ctx, "database.UpsertTarget", "url", targetURL)
	defer func() {
		s.logger.FinishOperation(ctx, span, "database.UpsertTarget", start, err, "target_id", id)
	}()

	targetURL = strings.TrimSpace(targetURL)
	if targetURL == "" {
		return 0, fmt.Errorf("%w: target url is empty", core.ErrValidation)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, storeErr("begin upsert target", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, tx.Rebind(`
		INSERT INTO targets (url, domain, discovered_at)
		VALUES (?, ?, ?)
		ON CONFLICT (url) DO NOTHING
	`), targetURL, domainOf(targetURL), time.Now().UTC())
	if err != nil {
		return 0, storeErr("insert target", err)
	}

	if err = tx.GetContext(ctx, &id, tx.Rebind("SELECT id FROM targets WHERE url = ?"), targetURL); err != nil {
		return 0, storeErr("select target id", err)
	}

	if err = tx.Commit(); err != nil {
		return 0, storeErr("commit target", err)
	}

	rows, _ := res.RowsAffected()
	s.logger.LogDatabaseOperation(ctx, "UPSERT", "targets", rows, time.Since(start), "target_id", id)
	return id, nil
}

func (s *Store) ListTargets(ctx context.Context) ([]types.Target, error) {
	targets := []types.Target{}
	query := "SELECT id, url, domain, discovered_at FROM targets ORDER BY id"
	if err := s.db.SelectContext(ctx, &targets, query); err != nil {
		return nil, storeErr("list targets", err)
	}
	return targets, nil
}

func (s *Store) UpsertParameter(ctx context.Context, paramURL, name string) (id int64, err error) {
	start := time.Now()
	ctx, span := s.logger.StartOperation(ctx, "database.UpsertParameter", "url", paramURL, "name", name)
	defer func() {
		s.logger.FinishOperation(ctx, span, "database.UpsertParameter", start, err, "parameter_id", id)
	}()

	paramURL = strings.TrimSpace(paramURL)
	name = strings.TrimSpace(name)
	if name == "" {
		return 0, fmt.Errorf("%w: parameter name is empty", core.ErrValidation)
	}
	if paramURL == "" {
		paramURL = types.AggregatedURL
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, storeErr("begin upsert parameter", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, tx.Rebind(`
		INSERT INTO parameters (url, name, discovered_at)
		VALUES (?, ?, ?)
		ON CONFLICT (url, name) DO NOTHING
	`), paramURL, name, time.Now().UTC())
	if err != nil {
		return 0, storeErr("insert parameter", err)
	}

	err = tx.GetContext(ctx, &id, tx.Rebind("SELECT id FROM parameters WHERE url = ? AND name = ?"), paramURL, name)
	if err != nil {
		return 0, storeErr("select parameter id", err)
	}

	if err = tx.Commit(); err != nil {
		return 0, storeErr("commit parameter", err)
	}

	rows, _ := res.RowsAffected()
	s.logger.LogDatabaseOperation(ctx, "UPSERT", "parameters", rows, time.Since(start), "parameter_id", id)
	return id, nil
}

const parameterColumns = "id, url, name, category, risk_tier, discovered_at"

func (s *Store) GetParameter(ctx context.Context, id int64) (*types.Parameter, error) {
	var p types.Parameter
	query := s.db.Rebind("SELECT " + parameterColumns + " FROM parameters WHERE id = ?")
	if err := s.db.GetContext(ctx, &p, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: parameter %d", core.ErrNotFound, id)
		}
		return nil, storeErr("get parameter", err)
	}
	return &p, nil
}

func (s *Store) ClassifyParameter(ctx context.Context, id int64, category string, tier types.RiskTier) (err error) {
	start := time.Now()
	ctx, span := s.logger.StartOperation(ctx, "database.ClassifyParameter",
		"parameter_id", id,
		"category", category,
		"risk_tier", string(tier),
	)
	defer func() {
		s.logger.FinishOperation(ctx, span, "database.ClassifyParameter", start, err)
	}()

	if category == "" {
		return fmt.Errorf("%w: category is empty", core.ErrValidation)
	}
	if !tier.IsValid() {
		return fmt.Errorf("%w: unknown risk tier %q", core.ErrValidation, tier)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		s.db.Rebind("UPDATE parameters SET category = ?, risk_tier = ? WHERE id = ?"),
		category, string(tier), id)
	if err != nil {
		return storeErr("classify parameter", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return storeErr("classify parameter", err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: parameter %d", core.ErrNotFound, id)
	}

	s.logger.LogDatabaseOperation(ctx, "UPDATE", "parameters", rows, time.Since(start), "parameter_id", id)
	return nil
}

func (s *Store) ListParameters(ctx context.Context, filter core.ParameterFilter) ([]types.Parameter, error) {
	query := "SELECT " + parameterColumns + " FROM parameters WHERE 1=1"
	var args []interface{}

	if filter.Category != "" {
		query += " AND category = ?"
		args = append(args, filter.Category)
	}
	if filter.RiskTier != "" {
		query += " AND risk_tier = ?"
		args = append(args, string(filter.RiskTier))
	}
	if filter.URLPrefix != "" {
		// substr instead of LIKE: sqlite LIKE is case-insensitive and treats % and _ as wildcards.
		query += " AND substr(url, 1, ?) = ?"
		args = append(args, utf8.RuneCountInString(filter.URLPrefix), filter.URLPrefix)
	}
	if filter.Unclassified {
		query += " AND category IS NULL"
	}

	query += " ORDER BY id"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	params := []types.Parameter{}
	if err := s.db.SelectContext(ctx, &params, s.db.Rebind(query), args...); err != nil {
		return nil, storeErr("list parameters", err)
	}
	return params, nil
}

// DeleteParameter removes a parameter that has no vulnerabilities. Parameters
// with findings are rejected with core.ErrHasDependents.
func (s *Store) DeleteParameter(ctx context.Context, id int64) (err error) {
	start := time.Now()
	ctx, span := s.logger.StartOperation(ctx, "database.DeleteParameter", "parameter_id", id)
	defer func() {
		s.logger.FinishOperation(ctx, span, "database.DeleteParameter", start, err)
	}()

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return storeErr("begin delete parameter", err)
	}
	defer tx.Rollback()

	if err = requireParameter(ctx, tx, id); err != nil {
		return err
	}

	var dependents int
	err = tx.GetContext(ctx, &dependents, tx.Rebind("SELECT COUNT(*) FROM vulnerabilities WHERE parameter_id = ?"), id)
	if err != nil {
		return storeErr("count dependents", err)
	}
	if dependents > 0 {
		return fmt.Errorf("%w: parameter %d has %d vulnerabilities", core.ErrHasDependents, id, dependents)
	}

	res, err := tx.ExecContext(ctx, tx.Rebind("DELETE FROM parameters WHERE id = ?"), id)
	if err != nil {
		return storeErr("delete parameter", err)
	}
	if err = tx.Commit(); err != nil {
		return storeErr("commit delete parameter", err)
	}

	rows, _ := res.RowsAffected()
	s.logger.LogDatabaseOperation(ctx, "DELETE", "parameters", rows, time.Since(start), "parameter_id", id)
	return nil
}

func requireParameter(ctx context.Context, tx *sqlx.Tx, id int64) error {
	var exists int
	err := tx.GetContext(ctx, &exists, tx.Rebind("SELECT 1 FROM parameters WHERE id = ?"), id)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: parameter %d", core.ErrNotFound, id)
	}
	if err != nil {
		return storeErr("lookup parameter", err)
	}
	return nil
}

func (s *Store) RecordVulnerability(ctx context.Context, vuln types.NewVulnerability) (id int64, err error) {
	start := time.Now()
	ctx, span := s.logger.StartOperation(ctx, "database.RecordVulnerability",
		"parameter_id", vuln.ParameterID,
		"type", vuln.Type,
		"severity", string(vuln.Severity),
	)
	defer func() {
		s.logger.FinishOperation(ctx, span, "database.RecordVulnerability", start, err, "vulnerability_id", id)
	}()

	if strings.TrimSpace(vuln.Type) == "" {
		return 0, fmt.Errorf("%w: vulnerability type is empty", core.ErrValidation)
	}
	if !vuln.Severity.IsValid() {
		return 0, fmt.Errorf("%w: unknown severity %q", core.ErrValidation, vuln.Severity)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, storeErr("begin record vulnerability", err)
	}
	defer tx.Rollback()

	if err = requireParameter(ctx, tx, vuln.ParameterID); err != nil {
		return 0, err
	}

	err = tx.QueryRowxContext(ctx, tx.Rebind(`
		INSERT INTO vulnerabilities (parameter_id, vulnerability_type, severity, poc, verified, discovered_at)
		VALUES (?, ?, ?, ?, ?, ?)
		RETURNING id
	`), vuln.ParameterID, vuln.Type, string(vuln.Severity), vuln.PoC, vuln.Verified, time.Now().UTC()).Scan(&id)
	if err != nil {
		return 0, storeErr("insert vulnerability", err)
	}

	if err = tx.Commit(); err != nil {
		return 0, storeErr("commit vulnerability", err)
	}

	s.logger.LogDatabaseOperation(ctx, "INSERT", "vulnerabilities", 1, time.Since(start), "vulnerability_id", id)
	s.logger.LogVulnerability(ctx, vuln.Type, string(vuln.Severity),
		"parameter_id", vuln.ParameterID,
		"vulnerability_id", id,
	)
	return id, nil
}

func (s *Store) ListVulnerabilities(ctx context.Context, filter core.VulnerabilityFilter) ([]types.Vulnerability, error) {
	query := `SELECT id, parameter_id, vulnerability_type, severity, poc, verified, discovered_at
		FROM vulnerabilities WHERE 1=1`
	var args []interface{}

	if filter.ParameterID > 0 {
		query += " AND parameter_id = ?"
		args = append(args, filter.ParameterID)
	}
	if filter.Type != "" {
		query += " AND vulnerability_type = ?"
		args = append(args, filter.Type)
	}
	if filter.Severity != "" {
		query += " AND severity = ?"
		args = append(args, string(filter.Severity))
	}
	if filter.Verified != nil {
		query += " AND verified = ?"
		args = append(args, *filter.Verified)
	}

	query += " ORDER BY id"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	vulns := []types.Vulnerability{}
	if err := s.db.SelectContext(ctx, &vulns, s.db.Rebind(query), args...); err != nil {
		return nil, storeErr("list vulnerabilities", err)
	}
	return vulns, nil
}

func (s *Store) SetVerified(ctx context.Context, id int64, verified bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	start := time.Now()
	res, err := s.db.ExecContext(ctx, s.db.Rebind("UPDATE vulnerabilities SET verified = ? WHERE id = ?"), verified, id)
	if err != nil {
		return storeErr("set verified", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return storeErr("set verified", err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: vulnerability %d", core.ErrNotFound, id)
	}

	s.logger.LogDatabaseOperation(ctx, "UPDATE", "vulnerabilities", rows, time.Since(start),
		"vulnerability_id", id,
		"verified", verified,
	)
	return nil
}

func (s *Store) DeleteVulnerability(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	start := time.Now()
	res, err := s.db.ExecContext(ctx, s.db.Rebind("DELETE FROM vulnerabilities WHERE id = ?"), id)
	if err != nil {
		return storeErr("delete vulnerability", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return storeErr("delete vulnerability", err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: vulnerability %d", core.ErrNotFound, id)
	}

	s.logger.LogDatabaseOperation(ctx, "DELETE", "vulnerabilities", rows, time.Since(start), "vulnerability_id", id)
	return nil
}

func (s *Store) Stats(ctx context.Context) (*core.StoreStats, error) {
	stats := &core.StoreStats{
		ByCategory: make(map[string]int),
		BySeverity: make(map[types.Severity]int),
	}

	counts := []struct {
		dest  *int
		query string
	}{
		{&stats.Targets, "SELECT COUNT(*) FROM targets"},
		{&stats.Parameters, "SELECT COUNT(*) FROM parameters"},
		{&stats.Unclassified, "SELECT COUNT(*) FROM parameters WHERE category IS NULL"},
		{&stats.Vulnerabilities, "SELECT COUNT(*) FROM vulnerabilities"},
		{&stats.Verified, "SELECT COUNT(*) FROM vulnerabilities WHERE verified = TRUE"},
	}
	for _, c := range counts {
		if err := s.db.GetContext(ctx, c.dest, c.query); err != nil {
			return nil, storeErr("stats", err)
		}
	}

	var categories []struct {
		Category string `db:"category"`
		Count    int    `db:"n"`
	}
	err := s.db.SelectContext(ctx, &categories,
		"SELECT category, COUNT(*) AS n FROM parameters WHERE category IS NOT NULL GROUP BY category")
	if err != nil {
		return nil, storeErr("stats by category", err)
	}
	for _, c := range categories {
		stats.ByCategory[c.Category] = c.Count
	}

	var severities []struct {
		Severity types.Severity `db:"severity"`
		Count    int            `db:"n"`
	}
	err = s.db.SelectContext(ctx, &severities,
		"SELECT severity, COUNT(*) AS n FROM vulnerabilities GROUP BY severity")
	if err != nil {
		return nil, storeErr("stats by severity", err)
	}
	for _, sv := range severities {
		stats.BySeverity[sv.Severity] = sv.Count
	}

	return stats, nil
}
