package workflow

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/CodeMonkeyCybersecurity/paramhunt/internal/core"
	"github.com/CodeMonkeyCybersecurity/paramhunt/pkg/types"
)

// ClassificationReport describes one ClassifyPending pass.
type ClassificationReport struct {
	Classified int            `json:"classified"`
	ByCategory map[string]int `json:"by_category"`
	OutputFile string         `json:"output_file"`
}

// ClassifyPending classifies every unclassified parameter in the store and
// rewrites parameters/classification.json with all stored names grouped by
// category.
func (p *Project) ClassifyPending(ctx context.Context) (report *ClassificationReport, err error) {
	start := time.Now()
	ctx, span := p.log.StartOperation(ctx, "workflow.ClassifyPending")
	defer func() {
		p.log.FinishOperation(ctx, span, "workflow.ClassifyPending", start, err)
	}()

	pending, err := p.Store.ListParameters(ctx, core.ParameterFilter{Unclassified: true})
	if err != nil {
		return nil, err
	}

	report = &ClassificationReport{ByCategory: make(map[string]int)}
	for _, param := range pending {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		category, tier, err := p.Classifier.Classify(param.Name)
		if err != nil {
			return report, fmt.Errorf("classify parameter %d (%q): %w", param.ID, param.Name, err)
		}
		if err := p.Store.ClassifyParameter(ctx, param.ID, category, tier); err != nil {
			return report, err
		}

		p.telemetry.RecordClassification(category)
		report.Classified++
		report.ByCategory[category]++
	}

	all, err := p.Store.ListParameters(ctx, core.ParameterFilter{})
	if err != nil {
		return report, err
	}

	report.OutputFile = p.Path("parameters", "classification.json")
	if err := p.writeClassification(report.OutputFile, all); err != nil {
		return report, err
	}

	p.log.Infow("Parameters classified",
		"classified", report.Classified,
		"categories", len(report.ByCategory),
	)
	return report, nil
}

// writeClassification groups every stored name with the current rule table
// and writes category -> sorted distinct names. Categories are written in
// rule order followed by Unknown, each present even when empty.
func (p *Project) writeClassification(path string, params []types.Parameter) error {
	names := make([]string, 0, len(params))
	for _, param := range params {
		names = append(names, param.Name)
	}
	sort.Strings(names)

	grouped, _, err := p.Classifier.Group(names)
	if err != nil {
		return err
	}

	categories := make([]string, 0, len(grouped)+1)
	for _, rule := range p.Classifier.Rules() {
		categories = append(categories, rule.Category)
	}
	categories = append(categories, types.CategoryUnknown)

	data, err := marshalGroups(categories, grouped)
	if err != nil {
		return fmt.Errorf("failed to marshal classification: %w", err)
	}
	return writeFileAtomic(path, data)
}

// marshalGroups renders grouped as an indented JSON object whose keys follow
// order. encoding/json sorts map keys, which would lose the rule order.
func marshalGroups(order []string, grouped map[string][]string) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString("{\n")
	for i, category := range order {
		key, err := json.Marshal(category)
		if err != nil {
			return nil, err
		}
		names := grouped[category]
		if names == nil {
			names = []string{}
		}
		value, err := json.MarshalIndent(names, "  ", "  ")
		if err != nil {
			return nil, err
		}
		fmt.Fprintf(&buf, "  %s: %s", key, value)
		if i < len(order)-1 {
			buf.WriteByte(',')
		}
		buf.WriteByte('\n')
	}
	buf.WriteString("}\n")
	return buf.Bytes(), nil
}
