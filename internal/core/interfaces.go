package core

import (
	"context"

	"github.com/CodeMonkeyCybersecurity/paramhunt/pkg/types"
)

// FindingStore is the persistent source of truth for targets, parameters and
// vulnerabilities. Every write is committed before the call returns.
type FindingStore interface {
	UpsertTarget(ctx context.Context, url string) (int64, error)
	ListTargets(ctx context.Context) ([]types.Target, error)

	UpsertParameter(ctx context.Context, url, name string) (int64, error)
	GetParameter(ctx context.Context, id int64) (*types.Parameter, error)
	ClassifyParameter(ctx context.Context, id int64, category string, tier types.RiskTier) error
	ListParameters(ctx context.Context, filter ParameterFilter) ([]types.Parameter, error)
	DeleteParameter(ctx context.Context, id int64) error

	RecordVulnerability(ctx context.Context, vuln types.NewVulnerability) (int64, error)
	ListVulnerabilities(ctx context.Context, filter VulnerabilityFilter) ([]types.Vulnerability, error)
	SetVerified(ctx context.Context, id int64, verified bool) error
	DeleteVulnerability(ctx context.Context, id int64) error

	Stats(ctx context.Context) (*StoreStats, error)
	Close() error
}

// ParameterFilter narrows ListParameters. Zero values mean "any".
type ParameterFilter struct {
	Category     string
	RiskTier     types.RiskTier
	URLPrefix    string
	Unclassified bool
	Limit        int
}

type VulnerabilityFilter struct {
	ParameterID int64
	Type        string
	Severity    types.Severity
	Verified    *bool
	Limit       int
}

type StoreStats struct {
	Targets         int
	Parameters      int
	Unclassified    int
	Vulnerabilities int
	Verified        int
	ByCategory      map[string]int
	BySeverity      map[types.Severity]int
}

// Telemetry records counters for the operations the core performs.
type Telemetry interface {
	RecordProbe(verdict string)
	RecordVulnerability(severity types.Severity)
	RecordClassification(category string)
	Close() error
}
