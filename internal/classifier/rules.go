package classifier

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/CodeMonkeyCybersecurity/paramhunt/internal/config"
	"github.com/CodeMonkeyCybersecurity/paramhunt/internal/core"
)

type rulesFile struct {
	Rules []config.ClassificationRule `yaml:"rules"`
}

// LoadRulesFile reads an ordered rule table from YAML:
//
//	rules:
//	  - category: Authentication
//	    risk: high
//	    patterns: [token, session]
func LoadRulesFile(path string) ([]config.ClassificationRule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: rules file %s", core.ErrNotFound, path)
		}
		return nil, fmt.Errorf("failed to read rules file: %w", err)
	}

	var f rulesFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: failed to parse rules file %s: %v", core.ErrValidation, path, err)
	}
	if len(f.Rules) == 0 {
		return nil, fmt.Errorf("%w: rules file %s defines no rules", core.ErrValidation, path)
	}
	return f.Rules, nil
}

// FromConfig builds a classifier from the classification section, preferring
// the rules file when one is configured.
func FromConfig(cfg config.ClassificationConfig) (*Classifier, error) {
	rules := cfg.Rules
	if cfg.RulesFile != "" {
		loaded, err := LoadRulesFile(cfg.RulesFile)
		if err != nil {
			return nil, err
		}
		rules = loaded
	}
	return New(rules)
}
