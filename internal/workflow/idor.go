package workflow

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/CodeMonkeyCybersecurity/paramhunt/internal/core"
	"github.com/CodeMonkeyCybersecurity/paramhunt/internal/httpclient"
	"github.com/CodeMonkeyCybersecurity/paramhunt/internal/probe"
	"github.com/CodeMonkeyCybersecurity/paramhunt/internal/ratelimit"
	"github.com/CodeMonkeyCybersecurity/paramhunt/internal/validation"
	"github.com/CodeMonkeyCybersecurity/paramhunt/pkg/checkpoint"
	"github.com/CodeMonkeyCybersecurity/paramhunt/pkg/types"
)

// VulnTypeIDOR is the vulnerability type recorded for accessible IDs.
const VulnTypeIDOR = "IDOR"

// IDORRequest describes a sequential ID probe. When ParameterID is set, an
// empty Template or ParamName is taken from the stored parameter.
type IDORRequest struct {
	ParameterID int64
	Template    string
	ParamName   string
	Start       int64
	End         int64

	// NonOwning marks Identity as not owning the probed objects, so every
	// Accessible result is flagged as a potential IDOR.
	NonOwning bool
	Identity  httpclient.Identity

	// Transport overrides the default HTTP request function.
	Transport probe.RequestFunc

	// Progress, when set, is called after each result with the number of
	// values probed so far, resumed ones included.
	Progress func(done, total int64)
}

// ResumeRequest continues an interrupted run. Identity headers are not
// persisted in checkpoints and must be supplied again.
type ResumeRequest struct {
	RunID     string
	Identity  httpclient.Identity
	Transport probe.RequestFunc
	Progress  func(done, total int64)
}

// IDORRun is the outcome of a probe run.
type IDORRun struct {
	RunID       string         `json:"run_id"`
	ParameterID int64          `json:"parameter_id,omitempty"`
	Results     []probe.Result `json:"results"`
	Summary     probe.Summary  `json:"summary"`
	Completed   bool           `json:"completed"`
	Checkpoint  string         `json:"checkpoint"`

	// AlreadyCompleted is set when ResumeIDOR loaded a run that had
	// finished before; nothing was probed.
	AlreadyCompleted bool `json:"already_completed,omitempty"`
}

// Checkpoints returns the manager for this project's testing/checkpoints.
func (p *Project) Checkpoints() (*checkpoint.Manager, error) {
	return checkpoint.NewManager(p.Path("testing", "checkpoints"))
}

// ProbeIDOR probes [Start, End] and checkpoints progress under
// testing/checkpoints. On cancellation the partial run is returned with the
// context error and can be continued with ResumeIDOR.
func (p *Project) ProbeIDOR(ctx context.Context, req IDORRequest) (*IDORRun, error) {
	plan, err := p.planFor(ctx, req)
	if err != nil {
		return nil, err
	}

	state := checkpoint.NewState("idor-"+uuid.New().String(), plan)
	state.ParameterID = req.ParameterID
	state.Identity = req.Identity.Name

	return p.runIDOR(ctx, state, req.Identity, req.Transport, req.Progress)
}

// ResumeIDOR continues a checkpointed run by full run ID or unique suffix.
// Values already probed are not requested again.
func (p *Project) ResumeIDOR(ctx context.Context, req ResumeRequest) (*IDORRun, error) {
	mgr, err := p.Checkpoints()
	if err != nil {
		return nil, err
	}

	state, err := mgr.Load(ctx, req.RunID)
	if err != nil {
		return nil, err
	}

	if state.Completed {
		p.log.Infow("Run already completed, nothing to resume", "run_id", state.RunID)
		return &IDORRun{
			RunID:       state.RunID,
			ParameterID: state.ParameterID,
			Results:     state.Results,
			Summary:     probe.Summarize(state.Results),
			Completed:   true,
			Checkpoint:  mgr.Path(state.RunID),

			AlreadyCompleted: true,
		}, nil
	}

	identity := req.Identity
	if identity.Name == "" {
		identity.Name = state.Identity
	}
	return p.runIDOR(ctx, state, identity, req.Transport, req.Progress)
}

func (p *Project) planFor(ctx context.Context, req IDORRequest) (probe.Plan, error) {
	template, paramName := req.Template, req.ParamName

	if req.ParameterID != 0 {
		param, err := p.Store.GetParameter(ctx, req.ParameterID)
		if err != nil {
			return probe.Plan{}, err
		}
		if paramName == "" {
			paramName = param.Name
		}
		if template == "" {
			if param.URL == types.AggregatedURL {
				return probe.Plan{}, fmt.Errorf("%w: parameter %d has no concrete URL, a template is required",
					core.ErrValidation, param.ID)
			}
			template = param.URL
		}
	}

	plan := probe.Plan{
		Template:  template,
		ParamName: paramName,
		Start:     req.Start,
		End:       req.End,
		NonOwning: req.NonOwning,
	}
	if err := plan.Validate(); err != nil {
		return plan, err
	}

	if limit := p.cfg.Probe.MaxRange; limit > 0 && plan.Size() > limit {
		return plan, fmt.Errorf("%w: range of %d values exceeds probe.max_range %d", core.ErrValidation, plan.Size(), limit)
	}

	first, err := probe.BuildURL(plan.Template, plan.ParamName, plan.Start)
	if err != nil {
		return plan, err
	}
	if res := validation.ValidateURL(first); !res.Valid {
		return plan, res.Error
	}
	if !p.scope.IsInScope(first) {
		return plan, fmt.Errorf("%w: %s is out of project scope", core.ErrValidation, first)
	}

	return plan, nil
}

func (p *Project) runIDOR(ctx context.Context, state *checkpoint.State, identity httpclient.Identity, transport probe.RequestFunc, progress func(done, total int64)) (*IDORRun, error) {
	log := p.log.WithRunID(state.RunID)

	mgr, err := p.Checkpoints()
	if err != nil {
		return nil, err
	}

	fn := transport
	if fn == nil {
		if fn, err = p.defaultTransport(identity); err != nil {
			return nil, err
		}
	}

	plan := state.Plan()
	total := plan.Size()
	every := p.cfg.Probe.CheckpointEvery
	pending := 0
	onResult := func(r probe.Result) {
		state.Results = append(state.Results, r)
		if progress != nil {
			progress(int64(len(state.Results)), total)
		}
		pending++
		if every > 0 && pending >= every {
			pending = 0
			if err := mgr.Save(context.WithoutCancel(ctx), state); err != nil {
				log.Warnw("Failed to save checkpoint", "error", err)
			}
		}
	}

	engine := probe.NewEngine(probe.Options{
		RequestTimeout: p.cfg.Probe.RequestTimeout,
		Concurrency:    p.cfg.Probe.Concurrency,
		Limiter:        ratelimit.NewLimiter(ratelimit.FromConfig(p.cfg.RateLimit)),
		Logger:         log,
		Telemetry:      p.telemetry,
		OnResult:       onResult,
	})

	log.Infow("Starting IDOR probe",
		"template", plan.Template,
		"param", plan.ParamName,
		"start", plan.Start,
		"end", plan.End,
		"resumed_results", len(plan.Done),
		"identity", state.Identity,
		"non_owning", plan.NonOwning,
	)

	started := time.Now()
	results, runErr := engine.Run(ctx, plan, fn)
	if results != nil {
		state.Results = results
	}
	state.Completed = runErr == nil

	saveErr := mgr.Save(context.WithoutCancel(ctx), state)

	run := &IDORRun{
		RunID:       state.RunID,
		ParameterID: state.ParameterID,
		Results:     state.Results,
		Summary:     probe.Summarize(state.Results),
		Completed:   state.Completed,
		Checkpoint:  mgr.Path(state.RunID),
	}

	log.Infow("IDOR probe finished",
		"completed", run.Completed,
		"results", len(run.Results),
		"accessible", len(run.Summary.Accessible),
		"potential_idor", len(run.Summary.PotentialIDOR),
		"failed", len(run.Summary.Failed),
		"duration_ms", time.Since(started).Milliseconds(),
	)

	if runErr != nil {
		return run, runErr
	}
	if saveErr != nil {
		return run, saveErr
	}
	return run, nil
}

func (p *Project) defaultTransport(identity httpclient.Identity) (probe.RequestFunc, error) {
	client, err := httpclient.NewSecureClient(httpclient.FromConfig(p.cfg.HTTP))
	if err != nil {
		return nil, err
	}
	return httpclient.NewRequestFunc(client, httpclient.RequestOptions{
		UserAgent:    p.cfg.HTTP.UserAgent,
		Headers:      p.cfg.HTTP.Headers,
		Identity:     identity,
		MaxBodyBytes: p.cfg.HTTP.MaxBodyBytes,
		Logger:       p.log,
	}), nil
}

// RecordIDOR records one unverified IDOR vulnerability per Accessible result
// against parameterID, with the probed URL as proof of concept. It returns the
// ids of the recorded vulnerabilities.
func (p *Project) RecordIDOR(ctx context.Context, parameterID int64, results []probe.Result, severity types.Severity) ([]int64, error) {
	if !severity.IsValid() {
		return nil, fmt.Errorf("%w: unknown severity %q", core.ErrValidation, severity)
	}
	if _, err := p.Store.GetParameter(ctx, parameterID); err != nil {
		return nil, err
	}

	var ids []int64
	for _, r := range results {
		if r.Verdict != probe.VerdictAccessible {
			continue
		}

		id, err := p.Store.RecordVulnerability(ctx, types.NewVulnerability{
			ParameterID: parameterID,
			Type:        VulnTypeIDOR,
			Severity:    severity,
			PoC:         r.URL,
		})
		if err != nil {
			return ids, err
		}
		ids = append(ids, id)

		p.telemetry.RecordVulnerability(severity)
		p.log.WithContext(ctx).Debugw("IDOR finding stored",
			"vulnerability_id", id,
			"value", r.Value,
			"url", r.URL,
			"potential_idor", r.PotentialIDOR,
		)
	}
	return ids, nil
}
