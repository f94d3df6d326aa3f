package workflow

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/CodeMonkeyCybersecurity/paramhunt/internal/core"
	"github.com/CodeMonkeyCybersecurity/paramhunt/internal/discovery"
	"github.com/CodeMonkeyCybersecurity/paramhunt/internal/validation"
	"github.com/CodeMonkeyCybersecurity/paramhunt/pkg/types"
)

// ImportReport counts what one recon import added to the store.
type ImportReport struct {
	Source     discovery.Source `json:"source"`
	File       string           `json:"file"`
	URLs       int              `json:"urls,omitempty"`
	Rejected   []string         `json:"rejected,omitempty"`
	OutOfScope int              `json:"out_of_scope,omitempty"`
	Targets    int              `json:"targets,omitempty"`
	Parameters int              `json:"parameters"`
}

// ImportURLs reads a URL list (gau, waybackurls, crawler output), records each
// in-scope origin as a target and every query parameter name under the
// aggregated URL. The accepted URLs are copied to reconnaissance/urls.txt and
// the names to parameters/extracted_params.txt.
func (p *Project) ImportURLs(ctx context.Context, path string) (report *ImportReport, err error) {
	start := time.Now()
	ctx, span := p.log.StartOperation(ctx, "workflow.ImportURLs", "file", path)
	defer func() {
		p.log.FinishOperation(ctx, span, "workflow.ImportURLs", start, err)
	}()

	var list *discovery.URLList
	err = withFile(path, func(r io.Reader) error {
		var rerr error
		list, rerr = discovery.ReadURLs(r)
		return rerr
	})
	if err != nil {
		return nil, err
	}

	report = &ImportReport{Source: discovery.SourceURLList, File: path, Rejected: list.Rejected}

	var inScope, origins []string
	seen := make(map[string]struct{})
	for _, u := range list.URLs {
		if !p.scope.IsInScope(u) {
			report.OutOfScope++
			continue
		}
		inScope = append(inScope, u)
		origin := originOf(u)
		if _, dup := seen[origin]; origin == "" || dup {
			continue
		}
		seen[origin] = struct{}{}
		origins = append(origins, origin)
	}
	report.URLs = len(inScope)

	// Target IDs follow origin order.
	sort.Strings(origins)
	for _, origin := range origins {
		if _, err := p.Store.UpsertTarget(ctx, origin); err != nil {
			return report, err
		}
		report.Targets++
	}

	obs := discovery.ExtractParams(inScope)
	if report.Parameters, err = p.upsertObservations(ctx, obs); err != nil {
		return report, err
	}

	if err := writeLines(p.Path("reconnaissance", "urls.txt"), inScope); err != nil {
		return report, err
	}
	if err := writeLines(p.Path("parameters", "extracted_params.txt"), discovery.Names(obs)); err != nil {
		return report, err
	}

	p.log.Infow("Imported URL list",
		"file", path,
		"urls", report.URLs,
		"rejected", len(report.Rejected),
		"out_of_scope", report.OutOfScope,
		"parameters", report.Parameters,
	)
	return report, nil
}

// ImportParameterNames records every name of a wordlist under the aggregated URL.
func (p *Project) ImportParameterNames(ctx context.Context, path string) (*ImportReport, error) {
	var obs []discovery.Observation
	err := withFile(path, func(r io.Reader) error {
		var rerr error
		obs, rerr = discovery.ReadParameterNames(r)
		return rerr
	})
	if err != nil {
		return nil, err
	}

	report := &ImportReport{Source: discovery.SourceParamList, File: path}
	if report.Parameters, err = p.upsertObservations(ctx, obs); err != nil {
		return report, err
	}

	p.log.Infow("Imported parameter names", "file", path, "parameters", report.Parameters)
	return report, nil
}

// ImportArjun records the hidden parameters from an arjun JSON report. target
// names the endpoint for reports in the flat {"params": [...]} form.
func (p *Project) ImportArjun(ctx context.Context, path, target string) (*ImportReport, error) {
	if target != "" {
		if res := validation.ValidateURL(target); !res.Valid {
			return nil, res.Error
		}
	}

	var obs []discovery.Observation
	err := withFile(path, func(r io.Reader) error {
		var rerr error
		obs, rerr = discovery.ReadArjun(r, target)
		return rerr
	})
	if err != nil {
		return nil, err
	}

	report := &ImportReport{Source: discovery.SourceArjun, File: path}
	obs = p.filterScope(obs, report)

	if report.Parameters, err = p.upsertObservations(ctx, obs); err != nil {
		return report, err
	}

	p.log.Infow("Imported arjun report", "file", path, "parameters", report.Parameters, "out_of_scope", report.OutOfScope)
	return report, nil
}

// ImportForms records the named inputs of every form on a saved HTML page,
// each under its resolved form action.
func (p *Project) ImportForms(ctx context.Context, htmlPath, pageURL string) (*ImportReport, error) {
	res := validation.ValidateURL(pageURL)
	if !res.Valid {
		return nil, res.Error
	}

	var obs []discovery.Observation
	err := withFile(htmlPath, func(r io.Reader) error {
		var rerr error
		obs, rerr = discovery.ExtractForms(r, res.NormalizedURL)
		return rerr
	})
	if err != nil {
		return nil, err
	}

	report := &ImportReport{Source: discovery.SourceForm, File: htmlPath}
	obs = p.filterScope(obs, report)

	if report.Parameters, err = p.upsertObservations(ctx, obs); err != nil {
		return report, err
	}

	p.log.Infow("Imported form inputs", "file", htmlPath, "page", res.NormalizedURL, "parameters", report.Parameters)
	return report, nil
}

func (p *Project) filterScope(obs []discovery.Observation, report *ImportReport) []discovery.Observation {
	kept := obs[:0]
	for _, o := range obs {
		if o.URL != types.AggregatedURL && !p.scope.IsInScope(o.URL) {
			report.OutOfScope++
			continue
		}
		kept = append(kept, o)
	}
	return kept
}

func (p *Project) upsertObservations(ctx context.Context, obs []discovery.Observation) (int, error) {
	for i, o := range obs {
		if err := ctx.Err(); err != nil {
			return i, err
		}
		if _, err := p.Store.UpsertParameter(ctx, o.URL, o.Name); err != nil {
			return i, fmt.Errorf("failed to record parameter %q from %s: %w", o.Name, o.Source, err)
		}
	}
	return len(obs), nil
}

func withFile(path string, fn func(io.Reader) error) error {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: %s", core.ErrNotFound, path)
		}
		return fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()
	return fn(f)
}

func writeLines(path string, lines []string) error {
	var b strings.Builder
	for _, l := range lines {
		b.WriteString(l)
		b.WriteByte('\n')
	}
	return writeFileAtomic(path, []byte(b.String()))
}

func originOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return ""
	}
	return u.Scheme + "://" + u.Host
}
