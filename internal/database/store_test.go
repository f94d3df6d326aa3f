package database

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/CodeMonkeyCybersecurity/paramhunt/internal/config"
	"github.com/CodeMonkeyCybersecurity/paramhunt/internal/core"
	"github.com/CodeMonkeyCybersecurity/paramhunt/internal/logger"
	"github.com/CodeMonkeyCybersecurity/paramhunt/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sqliteConfig(path string) config.DatabaseConfig {
	return config.DatabaseConfig{
		Driver: "sqlite3",
		DSN:    path,
	}
}

func newTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "results.db")
	store, err := NewStore(context.Background(), sqliteConfig(path), logger.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store, path
}

func TestUpsertTargetIsIdempotent(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	first, err := store.UpsertTarget(ctx, "https://app.acme.co.uk/login")
	require.NoError(t, err)
	second, err := store.UpsertTarget(ctx, "https://app.acme.co.uk/login")
	require.NoError(t, err)
	assert.Equal(t, first, second)

	targets, err := store.ListTargets(ctx)
	require.NoError(t, err)
	require.Len(t, targets, 1)
	assert.Equal(t, "acme.co.uk", targets[0].Domain)
	assert.False(t, targets[0].DiscoveredAt.IsZero())
}

func TestUpsertTargetRejectsEmpty(t *testing.T) {
	store, _ := newTestStore(t)

	_, err := store.UpsertTarget(context.Background(), "   ")
	assert.ErrorIs(t, err, core.ErrValidation)
}

func TestDomainOf(t *testing.T) {
	tests := []struct {
		raw  string
		want string
	}{
		{"https://acme.test", "acme.test"},
		{"https://api.shop.example.com:8443/v1", "example.com"},
		{"acme.test", "acme.test"},
		{"http://127.0.0.1:8080/", "127.0.0.1"},
		{"http://localhost/", "localhost"},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			assert.Equal(t, tt.want, domainOf(tt.raw))
		})
	}
}

func TestUpsertParameterIsIdempotent(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	first, err := store.UpsertParameter(ctx, "https://acme.test?id=1", "id")
	require.NoError(t, err)
	second, err := store.UpsertParameter(ctx, "https://acme.test?id=1", "id")
	require.NoError(t, err)
	assert.Equal(t, first, second)

	other, err := store.UpsertParameter(ctx, "https://acme.test/other", "id")
	require.NoError(t, err)
	assert.NotEqual(t, first, other)

	params, err := store.ListParameters(ctx, core.ParameterFilter{})
	require.NoError(t, err)
	assert.Len(t, params, 2)
}

func TestUpsertParameterDefaultsToAggregatedURL(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	id, err := store.UpsertParameter(ctx, "", "token")
	require.NoError(t, err)

	p, err := store.GetParameter(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, types.AggregatedURL, p.URL)
	assert.False(t, p.Classified())

	_, err = store.UpsertParameter(ctx, "https://acme.test", "")
	assert.ErrorIs(t, err, core.ErrValidation)
}

func TestClassifyParameter(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	id, err := store.UpsertParameter(ctx, "https://acme.test", "session")
	require.NoError(t, err)

	require.NoError(t, store.ClassifyParameter(ctx, id, "Authentication", types.RiskHigh))

	p, err := store.GetParameter(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, p.Category)
	require.NotNil(t, p.RiskTier)
	assert.Equal(t, "Authentication", *p.Category)
	assert.Equal(t, types.RiskHigh, *p.RiskTier)

	// Re-classification overwrites.
	require.NoError(t, store.ClassifyParameter(ctx, id, types.CategoryUnknown, types.RiskLow))
	p, err = store.GetParameter(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, types.CategoryUnknown, *p.Category)

	err = store.ClassifyParameter(ctx, 9999, "Authentication", types.RiskHigh)
	assert.ErrorIs(t, err, core.ErrNotFound)

	err = store.ClassifyParameter(ctx, id, "Authentication", types.RiskTier("extreme"))
	assert.ErrorIs(t, err, core.ErrValidation)
}

func TestGetParameterNotFound(t *testing.T) {
	store, _ := newTestStore(t)

	_, err := store.GetParameter(context.Background(), 42)
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestListParametersFilters(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	seed := []struct {
		url, name, category string
		tier                types.RiskTier
	}{
		{"https://acme.test/login", "password", "Authentication", types.RiskHigh},
		{"https://acme.test/search", "q", "Search/Filter", types.RiskLow},
		{"https://other.test/cart", "price", "Business Logic", types.RiskHigh},
		{"https://acme.test/x_y", "lang", "", ""},
	}
	for _, s := range seed {
		id, err := store.UpsertParameter(ctx, s.url, s.name)
		require.NoError(t, err)
		if s.category != "" {
			require.NoError(t, store.ClassifyParameter(ctx, id, s.category, s.tier))
		}
	}

	names := func(ps []types.Parameter) []string {
		var out []string
		for _, p := range ps {
			out = append(out, p.Name)
		}
		return out
	}

	all, err := store.ListParameters(ctx, core.ParameterFilter{})
	require.NoError(t, err)
	assert.Equal(t, []string{"password", "q", "price", "lang"}, names(all), "discovery order")

	high, err := store.ListParameters(ctx, core.ParameterFilter{RiskTier: types.RiskHigh})
	require.NoError(t, err)
	assert.Equal(t, []string{"password", "price"}, names(high))

	auth, err := store.ListParameters(ctx, core.ParameterFilter{Category: "Authentication"})
	require.NoError(t, err)
	assert.Equal(t, []string{"password"}, names(auth))

	acme, err := store.ListParameters(ctx, core.ParameterFilter{URLPrefix: "https://acme.test/"})
	require.NoError(t, err)
	assert.Equal(t, []string{"password", "q", "lang"}, names(acme))

	// Underscore is matched literally, not as a wildcard.
	literal, err := store.ListParameters(ctx, core.ParameterFilter{URLPrefix: "https://acme.test/x_"})
	require.NoError(t, err)
	assert.Equal(t, []string{"lang"}, names(literal))

	pending, err := store.ListParameters(ctx, core.ParameterFilter{Unclassified: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"lang"}, names(pending))

	limited, err := store.ListParameters(ctx, core.ParameterFilter{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, limited, 2)
}

func TestRecordVulnerabilityUnknownParameter(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	before, err := store.ListVulnerabilities(ctx, core.VulnerabilityFilter{})
	require.NoError(t, err)

	_, err = store.RecordVulnerability(ctx, types.NewVulnerability{
		ParameterID: 12345,
		Type:        "IDOR",
		Severity:    types.SeverityHigh,
	})
	assert.ErrorIs(t, err, core.ErrNotFound)

	after, err := store.ListVulnerabilities(ctx, core.VulnerabilityFilter{})
	require.NoError(t, err)
	assert.Equal(t, len(before), len(after))
}

func TestRecordVulnerabilityValidation(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	pid, err := store.UpsertParameter(ctx, "https://acme.test", "id")
	require.NoError(t, err)

	_, err = store.RecordVulnerability(ctx, types.NewVulnerability{ParameterID: pid, Severity: types.SeverityLow})
	assert.ErrorIs(t, err, core.ErrValidation)

	_, err = store.RecordVulnerability(ctx, types.NewVulnerability{ParameterID: pid, Type: "SQLi", Severity: "bad"})
	assert.ErrorIs(t, err, core.ErrValidation)
}

func TestVulnerabilityLifecycle(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	pid, err := store.UpsertParameter(ctx, "https://acme.test/users?id=1", "id")
	require.NoError(t, err)

	vid, err := store.RecordVulnerability(ctx, types.NewVulnerability{
		ParameterID: pid,
		Type:        "IDOR",
		Severity:    types.SeverityHigh,
		PoC:         "https://acme.test/users?id=3",
	})
	require.NoError(t, err)

	vulns, err := store.ListVulnerabilities(ctx, core.VulnerabilityFilter{ParameterID: pid})
	require.NoError(t, err)
	require.Len(t, vulns, 1)
	assert.Equal(t, vid, vulns[0].ID)
	assert.Equal(t, "IDOR", vulns[0].Type)
	assert.False(t, vulns[0].Verified)
	assert.Equal(t, "https://acme.test/users?id=3", vulns[0].PoC)

	require.NoError(t, store.SetVerified(ctx, vid, true))

	verified := true
	vulns, err = store.ListVulnerabilities(ctx, core.VulnerabilityFilter{Verified: &verified})
	require.NoError(t, err)
	require.Len(t, vulns, 1)
	assert.True(t, vulns[0].Verified)

	assert.ErrorIs(t, store.SetVerified(ctx, 999, true), core.ErrNotFound)

	// Parameters with findings cannot be deleted.
	err = store.DeleteParameter(ctx, pid)
	assert.ErrorIs(t, err, core.ErrHasDependents)

	require.NoError(t, store.DeleteVulnerability(ctx, vid))
	assert.ErrorIs(t, store.DeleteVulnerability(ctx, vid), core.ErrNotFound)

	require.NoError(t, store.DeleteParameter(ctx, pid))
	_, err = store.GetParameter(ctx, pid)
	assert.ErrorIs(t, err, core.ErrNotFound)
	assert.ErrorIs(t, store.DeleteParameter(ctx, pid), core.ErrNotFound)
}

func TestListVulnerabilitiesFilters(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	pid, err := store.UpsertParameter(ctx, "https://acme.test", "file")
	require.NoError(t, err)

	for _, v := range []types.NewVulnerability{
		{ParameterID: pid, Type: "LFI", Severity: types.SeverityCritical},
		{ParameterID: pid, Type: "IDOR", Severity: types.SeverityHigh},
		{ParameterID: pid, Type: "IDOR", Severity: types.SeverityMedium, Verified: true},
	} {
		_, err := store.RecordVulnerability(ctx, v)
		require.NoError(t, err)
	}

	idor, err := store.ListVulnerabilities(ctx, core.VulnerabilityFilter{Type: "IDOR"})
	require.NoError(t, err)
	assert.Len(t, idor, 2)

	critical, err := store.ListVulnerabilities(ctx, core.VulnerabilityFilter{Severity: types.SeverityCritical})
	require.NoError(t, err)
	require.Len(t, critical, 1)
	assert.Equal(t, "LFI", critical[0].Type)

	unverified := false
	open, err := store.ListVulnerabilities(ctx, core.VulnerabilityFilter{Verified: &unverified})
	require.NoError(t, err)
	assert.Len(t, open, 2)

	stats, err := store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Parameters)
	assert.Equal(t, 1, stats.Unclassified)
	assert.Equal(t, 3, stats.Vulnerabilities)
	assert.Equal(t, 1, stats.Verified)
	assert.Equal(t, 2, stats.BySeverity[types.SeverityHigh]+stats.BySeverity[types.SeverityMedium])
}

func TestStorePersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "results.db")
	ctx := context.Background()

	store, err := NewStore(ctx, sqliteConfig(path), logger.NewNop())
	require.NoError(t, err)

	pid, err := store.UpsertParameter(ctx, "https://acme.test", "debug")
	require.NoError(t, err)
	require.NoError(t, store.ClassifyParameter(ctx, pid, "Debug/Admin", types.RiskHigh))
	_, err = store.RecordVulnerability(ctx, types.NewVulnerability{ParameterID: pid, Type: "Info Leak", Severity: types.SeverityLow})
	require.NoError(t, err)
	require.NoError(t, store.Close())

	reopened, err := NewStore(ctx, sqliteConfig(path), logger.NewNop())
	require.NoError(t, err)
	defer reopened.Close()

	p, err := reopened.GetParameter(ctx, pid)
	require.NoError(t, err)
	assert.Equal(t, "Debug/Admin", *p.Category)

	again, err := reopened.UpsertParameter(ctx, "https://acme.test", "debug")
	require.NoError(t, err)
	assert.Equal(t, pid, again)

	vulns, err := reopened.ListVulnerabilities(ctx, core.VulnerabilityFilter{})
	require.NoError(t, err)
	assert.Len(t, vulns, 1)

	status, err := NewMigrationRunner(reopened.DB(), "sqlite3", logger.NewNop()).GetMigrationStatus(ctx)
	require.NoError(t, err)
	assert.True(t, status.UpToDate())
	assert.Equal(t, 2, status.CurrentVersion)
}

func TestConcurrentUpsertsDoNotDuplicate(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	ids := make([]int64, 16)
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id, err := store.UpsertParameter(ctx, "https://acme.test", "token")
			assert.NoError(t, err)
			ids[i] = id
		}(i)
	}
	wg.Wait()

	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}

	params, err := store.ListParameters(ctx, core.ParameterFilter{})
	require.NoError(t, err)
	assert.Len(t, params, 1)
}

func TestSqliteDSN(t *testing.T) {
	dsn := sqliteDSN("/tmp/p/results.db", 0)
	assert.Equal(t, "file:/tmp/p/results.db?_foreign_keys=on&_busy_timeout=5000&_journal_mode=WAL&_synchronous=FULL", dsn)

	dsn = sqliteDSN("file:x.db?cache=shared", 0)
	assert.Contains(t, dsn, "file:x.db?cache=shared&_foreign_keys=on")
}

func TestNewStoreRequiresPath(t *testing.T) {
	_, err := NewStore(context.Background(), sqliteConfig(""), logger.NewNop())
	assert.ErrorIs(t, err, core.ErrStoreIO)
}

func TestRollbackLatestMigration(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	runner := NewMigrationRunner(store.DB(), "sqlite3", logger.NewNop())

	require.NoError(t, runner.RollbackMigration(ctx, 2))
	status, err := runner.GetMigrationStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, status.PendingCount)

	require.NoError(t, runner.RunMigrations(ctx))
	status, err = runner.GetMigrationStatus(ctx)
	require.NoError(t, err)
	assert.True(t, status.UpToDate())

	assert.Error(t, runner.RollbackMigration(ctx, 7))
}

func TestMigrationsRecordScriptChecksums(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	var recorded []struct {
		Version  int    `db:"version"`
		Checksum string `db:"checksum"`
	}
	require.NoError(t, store.DB().SelectContext(ctx, &recorded,
		`SELECT version, checksum FROM schema_migrations ORDER BY version`))

	migrations := GetAllMigrations("sqlite3")
	require.Len(t, recorded, len(migrations))
	for i, m := range migrations {
		assert.Equal(t, m.Version, recorded[i].Version)
		assert.Equal(t, m.Checksum(), recorded[i].Checksum)
		assert.Len(t, recorded[i].Checksum, 16)
	}
	assert.NotEqual(t, migrations[0].Checksum(), migrations[1].Checksum())
}
