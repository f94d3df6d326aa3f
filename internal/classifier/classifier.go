// Package classifier maps parameter names to a category and risk tier using an
// ordered substring rule table. The first category with any matching pattern
// wins, so rule order is part of the configuration.
package classifier

import (
	"fmt"
	"strings"

	"github.com/CodeMonkeyCybersecurity/paramhunt/internal/config"
	"github.com/CodeMonkeyCybersecurity/paramhunt/internal/core"
	"github.com/CodeMonkeyCybersecurity/paramhunt/pkg/types"
)

// Rule is one compiled row of the rule table.
type Rule struct {
	Category string
	Patterns []string
	Risk     types.RiskTier
}

// Result is the classification of a single parameter name.
type Result struct {
	Name     string         `json:"name"`
	Category string         `json:"category"`
	Risk     types.RiskTier `json:"risk"`
}

// Classifier is immutable after construction and safe for concurrent use.
type Classifier struct {
	rules       []Rule
	unknownRisk types.RiskTier
}

// New compiles rules in the given order. Patterns are lowercased; a rule with
// no patterns, an empty category or an unknown risk tier is rejected.
func New(rules []config.ClassificationRule) (*Classifier, error) {
	if len(rules) == 0 {
		return nil, fmt.Errorf("%w: rule table is empty", core.ErrValidation)
	}

	seen := make(map[string]bool, len(rules))
	compiled := make([]Rule, 0, len(rules))
	for i, r := range rules {
		if strings.TrimSpace(r.Category) == "" {
			return nil, fmt.Errorf("%w: rule %d has no category", core.ErrValidation, i)
		}
		if r.Category == types.CategoryUnknown {
			return nil, fmt.Errorf("%w: %q is reserved", core.ErrValidation, types.CategoryUnknown)
		}
		if seen[r.Category] {
			return nil, fmt.Errorf("%w: duplicate category %q", core.ErrValidation, r.Category)
		}
		seen[r.Category] = true

		risk := types.RiskTier(strings.ToLower(r.Risk))
		if !risk.IsValid() {
			return nil, fmt.Errorf("%w: category %q has unknown risk %q", core.ErrValidation, r.Category, r.Risk)
		}

		patterns := make([]string, 0, len(r.Patterns))
		for _, p := range r.Patterns {
			p = strings.ToLower(strings.TrimSpace(p))
			if p != "" {
				patterns = append(patterns, p)
			}
		}
		if len(patterns) == 0 {
			return nil, fmt.Errorf("%w: category %q has no patterns", core.ErrValidation, r.Category)
		}

		compiled = append(compiled, Rule{Category: r.Category, Patterns: patterns, Risk: risk})
	}

	return &Classifier{rules: compiled, unknownRisk: types.RiskLow}, nil
}

// NewDefault returns a classifier over config.DefaultClassificationRules.
func NewDefault() *Classifier {
	c, err := New(config.DefaultClassificationRules())
	if err != nil {
		panic(err)
	}
	return c
}

func (c *Classifier) Rules() []Rule {
	out := make([]Rule, len(c.rules))
	copy(out, c.rules)
	return out
}

// Classify returns the category and risk tier for name.
func (c *Classifier) Classify(name string) (string, types.RiskTier, error) {
	normalized := strings.ToLower(strings.TrimSpace(name))
	if normalized == "" {
		return "", "", fmt.Errorf("%w: parameter name is empty", core.ErrValidation)
	}

	for _, rule := range c.rules {
		for _, p := range rule.Patterns {
			if strings.Contains(normalized, p) {
				return rule.Category, rule.Risk, nil
			}
		}
	}
	return types.CategoryUnknown, c.unknownRisk, nil
}

// ClassifyAll classifies names in input order. It stops at the first invalid name.
func (c *Classifier) ClassifyAll(names []string) ([]Result, error) {
	results := make([]Result, 0, len(names))
	for _, n := range names {
		category, risk, err := c.Classify(n)
		if err != nil {
			return nil, err
		}
		results = append(results, Result{Name: n, Category: category, Risk: risk})
	}
	return results, nil
}

// Group buckets names by category. Categories appear in rule order followed
// by Unknown; names keep their input order and duplicates are dropped.
func (c *Classifier) Group(names []string) (map[string][]string, []string, error) {
	results, err := c.ClassifyAll(names)
	if err != nil {
		return nil, nil, err
	}

	grouped := make(map[string][]string)
	seen := make(map[string]bool)
	for _, r := range results {
		key := r.Category + "\x00" + r.Name
		if seen[key] {
			continue
		}
		seen[key] = true
		grouped[r.Category] = append(grouped[r.Category], r.Name)
	}

	var order []string
	for _, rule := range c.rules {
		if _, ok := grouped[rule.Category]; ok {
			order = append(order, rule.Category)
		}
	}
	if _, ok := grouped[types.CategoryUnknown]; ok {
		order = append(order, types.CategoryUnknown)
	}

	return grouped, order, nil
}
