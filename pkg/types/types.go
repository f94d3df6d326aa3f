package types

import (
	"time"
)

type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
	SeverityInfo     Severity = "info"
)

// IsValid reports whether s is one of the known severity levels.
func (s Severity) IsValid() bool {
	switch s {
	case SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow, SeverityInfo:
		return true
	}
	return false
}

// RiskTier is the coarse risk assigned to a parameter by its classification category.
type RiskTier string

const (
	RiskHigh   RiskTier = "high"
	RiskMedium RiskTier = "medium"
	RiskLow    RiskTier = "low"
)

func (r RiskTier) IsValid() bool {
	switch r {
	case RiskHigh, RiskMedium, RiskLow:
		return true
	}
	return false
}

// AggregatedURL is stored as a parameter's URL when the name was observed
// across many URLs (or the source did not say which one).
const AggregatedURL = "multiple"

// CategoryUnknown is assigned to names that match no classification rule.
const CategoryUnknown = "Unknown"

type Target struct {
	ID           int64     `json:"id" db:"id"`
	URL          string    `json:"url" db:"url"`
	Domain       string    `json:"domain" db:"domain"`
	DiscoveredAt time.Time `json:"discovered_at" db:"discovered_at"`
}

// Parameter is a named request input observed on an endpoint.
// Category and RiskTier stay nil until the parameter is classified.
type Parameter struct {
	ID           int64     `json:"id" db:"id"`
	URL          string    `json:"url" db:"url"`
	Name         string    `json:"name" db:"name"`
	Category     *string   `json:"category,omitempty" db:"category"`
	RiskTier     *RiskTier `json:"risk_tier,omitempty" db:"risk_tier"`
	DiscoveredAt time.Time `json:"discovered_at" db:"discovered_at"`
}

// Classified reports whether classification fields have been set.
func (p Parameter) Classified() bool {
	return p.Category != nil
}

type Vulnerability struct {
	ID           int64     `json:"id" db:"id"`
	ParameterID  int64     `json:"parameter_id" db:"parameter_id"`
	Type         string    `json:"type" db:"vulnerability_type"`
	Severity     Severity  `json:"severity" db:"severity"`
	PoC          string    `json:"poc,omitempty" db:"poc"`
	Verified     bool      `json:"verified" db:"verified"`
	DiscoveredAt time.Time `json:"discovered_at" db:"discovered_at"`
}

// NewVulnerability carries the caller-supplied fields of a finding to record.
type NewVulnerability struct {
	ParameterID int64
	Type        string
	Severity    Severity
	PoC         string
	Verified    bool
}
