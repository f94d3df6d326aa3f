// Package probe issues one request per value of an integer range and turns
// each response into a Verdict. A failed request never stops the range.
package probe

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/twmb/murmur3"
	"golang.org/x/sync/errgroup"

	"github.com/CodeMonkeyCybersecurity/paramhunt/internal/core"
	"github.com/CodeMonkeyCybersecurity/paramhunt/internal/logger"
	"github.com/CodeMonkeyCybersecurity/paramhunt/internal/telemetry"
)

// Placeholder in a URL template is replaced with the probed value.
const Placeholder = "{}"

// Result is the outcome for one probed value.
type Result struct {
	Value      int64         `json:"value"`
	URL        string        `json:"url"`
	Verdict    Verdict       `json:"verdict"`
	StatusCode int           `json:"status_code,omitempty"`
	BodyLength int           `json:"body_length,omitempty"`
	BodyHash   string        `json:"body_hash,omitempty"`
	Error      string        `json:"error,omitempty"`
	Duration   time.Duration `json:"duration"`

	// PotentialIDOR is set on Accessible results obtained under a non-owning identity.
	PotentialIDOR bool `json:"potential_idor,omitempty"`
}

func (r Result) String() string {
	return fmt.Sprintf("%d: %s", r.Value, Label(r.Verdict, r.StatusCode))
}

// Plan describes one range to probe.
type Plan struct {
	Template  string
	ParamName string
	Start     int64
	End       int64

	// NonOwning marks the requesting identity as not owning the probed objects.
	NonOwning bool

	// Done holds results from an earlier interrupted run. Their values are not
	// requested again and the results are merged into the output.
	Done []Result
}

// Size is the number of values in the range. See RangeSize.
func (p Plan) Size() int64 {
	return RangeSize(p.Start, p.End)
}

// RangeSize counts the values in [start, end] without overflowing: it is zero
// when start > end and saturates at math.MaxInt64.
func RangeSize(start, end int64) int64 {
	if start > end {
		return 0
	}
	span := uint64(end) - uint64(start)
	if span >= math.MaxInt64 {
		return math.MaxInt64
	}
	return int64(span) + 1
}

func (p Plan) Validate() error {
	if strings.TrimSpace(p.Template) == "" {
		return fmt.Errorf("%w: url template is empty", core.ErrValidation)
	}
	if p.Start > p.End {
		return fmt.Errorf("%w: range start %d is greater than end %d", core.ErrValidation, p.Start, p.End)
	}
	if p.Size() == math.MaxInt64 {
		return fmt.Errorf("%w: range [%d, %d] is too large", core.ErrValidation, p.Start, p.End)
	}
	if !strings.Contains(p.Template, Placeholder) {
		if strings.TrimSpace(p.ParamName) == "" {
			return fmt.Errorf("%w: template has no %s placeholder and no parameter name", core.ErrValidation, Placeholder)
		}
		if _, err := url.Parse(p.Template); err != nil {
			return fmt.Errorf("%w: invalid url template: %v", core.ErrValidation, err)
		}
	}
	return nil
}

// BuildURL substitutes value into the template. Templates without a
// placeholder get value as the paramName query parameter.
func BuildURL(template, paramName string, value int64) (string, error) {
	v := strconv.FormatInt(value, 10)
	if strings.Contains(template, Placeholder) {
		return strings.ReplaceAll(template, Placeholder, v), nil
	}

	u, err := url.Parse(template)
	if err != nil {
		return "", fmt.Errorf("%w: invalid url template: %v", core.ErrValidation, err)
	}
	q := u.Query()
	q.Set(paramName, v)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Waiter paces requests. *ratelimit.Limiter satisfies it.
type Waiter interface {
	WaitForURL(ctx context.Context, rawURL string) error
}

type Options struct {
	// RequestTimeout bounds each request. Zero means no per-request bound.
	RequestTimeout time.Duration

	// Concurrency above one probes values in parallel. Results are still
	// returned in increasing value order.
	Concurrency int

	Limiter   Waiter
	Logger    *logger.Logger
	Telemetry core.Telemetry

	// OnResult is called once per new result, never concurrently.
	OnResult func(Result)
}

type Engine struct {
	opts Options
	log  *logger.Logger
}

func NewEngine(opts Options) *Engine {
	if opts.Logger == nil {
		opts.Logger = logger.NewNop()
	}
	if opts.Telemetry == nil {
		opts.Telemetry = telemetry.NewNoop()
	}
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	return &Engine{
		opts: opts,
		log:  opts.Logger.WithComponent("probe"),
	}
}

// ProbeRange probes [start, end] sequentially with no pacing or timeout.
func ProbeRange(ctx context.Context, template, paramName string, start, end int64, fn RequestFunc) ([]Result, error) {
	return NewEngine(Options{}).Run(ctx, Plan{
		Template:  template,
		ParamName: paramName,
		Start:     start,
		End:       end,
	}, fn)
}

// Run probes every value of the plan's range. On cancellation it returns the
// results gathered so far together with the context error. A request that
// was interrupted by cancellation is not recorded.
func (e *Engine) Run(ctx context.Context, plan Plan, fn RequestFunc) (results []Result, err error) {
	if fn == nil {
		return nil, fmt.Errorf("%w: request function is nil", core.ErrValidation)
	}
	if err := plan.Validate(); err != nil {
		return nil, err
	}

	start := time.Now()
	ctx, span := e.log.StartOperation(ctx, "probe.Run",
		"template", plan.Template,
		"param", plan.ParamName,
		"start", plan.Start,
		"end", plan.End,
		"resumed", len(plan.Done),
		"concurrency", e.opts.Concurrency,
	)
	defer func() {
		e.log.FinishOperation(ctx, span, "probe.Run", start, err, "results", len(results))
	}()

	done := make(map[int64]Result, len(plan.Done))
	for _, r := range plan.Done {
		if r.Value >= plan.Start && r.Value <= plan.End {
			done[r.Value] = r
		}
	}

	if e.opts.Concurrency > 1 {
		return e.runParallel(ctx, plan, fn, done)
	}
	return e.runSequential(ctx, plan, fn, done)
}

func capacity(plan Plan) int {
	const maxPrealloc = 1 << 16
	if n := plan.Size(); n > 0 && n < maxPrealloc {
		return int(n)
	}
	return maxPrealloc
}

func (e *Engine) runSequential(ctx context.Context, plan Plan, fn RequestFunc, done map[int64]Result) ([]Result, error) {
	results := make([]Result, 0, capacity(plan))

	for v := plan.Start; ; v++ {
		if r, ok := done[v]; ok {
			results = append(results, r)
		} else {
			if err := ctx.Err(); err != nil {
				return results, err
			}
			r, ok := e.probeValue(ctx, plan, v, fn)
			if !ok {
				return results, ctx.Err()
			}
			results = append(results, r)
			e.emit(r)
		}
		if v == plan.End {
			break
		}
	}
	return results, nil
}

func (e *Engine) runParallel(ctx context.Context, plan Plan, fn RequestFunc, done map[int64]Result) ([]Result, error) {
	var (
		mu      sync.Mutex
		results = make([]Result, 0, capacity(plan))
	)
	for _, r := range done {
		results = append(results, r)
	}

	g := new(errgroup.Group)
	g.SetLimit(e.opts.Concurrency)

	for v := plan.Start; ; v++ {
		if _, ok := done[v]; !ok {
			if ctx.Err() != nil {
				break
			}
			value := v
			g.Go(func() error {
				if ctx.Err() != nil {
					return nil
				}
				r, ok := e.probeValue(ctx, plan, value, fn)
				if !ok {
					return nil
				}
				mu.Lock()
				results = append(results, r)
				e.emit(r)
				mu.Unlock()
				return nil
			})
		}
		if v == plan.End {
			break
		}
	}
	_ = g.Wait()

	sort.Slice(results, func(i, j int) bool { return results[i].Value < results[j].Value })
	if int64(len(results)) < plan.Size() {
		return results, ctx.Err()
	}
	return results, nil
}

func (e *Engine) emit(r Result) {
	e.opts.Telemetry.RecordProbe(string(r.Verdict))
	if e.opts.OnResult != nil {
		e.opts.OnResult(r)
	}
}

// probeValue issues the request for v. ok is false when the parent context
// was cancelled before a verdict could be recorded.
func (e *Engine) probeValue(ctx context.Context, plan Plan, v int64, fn RequestFunc) (Result, bool) {
	target, err := BuildURL(plan.Template, plan.ParamName, v)
	if err != nil {
		return Result{Value: v, Verdict: VerdictProbeFailed, Error: err.Error()}, true
	}

	if e.opts.Limiter != nil {
		if err := e.opts.Limiter.WaitForURL(ctx, target); err != nil {
			if ctx.Err() != nil {
				return Result{}, false
			}
			return Result{Value: v, URL: target, Verdict: VerdictProbeFailed, Error: err.Error()}, true
		}
	}

	start := time.Now()
	resp, err := e.call(ctx, target, fn)
	if err != nil && ctx.Err() != nil {
		return Result{}, false
	}

	verdict, status := Classify(resp, err)
	r := Result{
		Value:      v,
		URL:        target,
		Verdict:    verdict,
		StatusCode: status,
		Duration:   time.Since(start),
	}
	switch {
	case err != nil:
		r.Error = err.Error()
	case resp == nil:
		r.Error = "request function returned no response"
	default:
		r.BodyLength = len(resp.Body)
		r.BodyHash = fingerprint(resp.Body)
	}
	if verdict == VerdictAccessible && plan.NonOwning {
		r.PotentialIDOR = true
	}

	e.log.LogProbe(ctx, v, target, Label(verdict, status), r.Duration, r.Error)
	return r, true
}

var errRequestPanicked = errors.New("request function panicked")

// call runs fn under the per-request timeout. The wait is bounded even when
// fn ignores its context; a panic in fn becomes an error.
func (e *Engine) call(ctx context.Context, target string, fn RequestFunc) (*Response, error) {
	reqCtx, cancel := ctx, context.CancelFunc(func() {})
	if e.opts.RequestTimeout > 0 {
		reqCtx, cancel = context.WithTimeout(ctx, e.opts.RequestTimeout)
	}
	defer cancel()

	type outcome struct {
		resp *Response
		err  error
	}
	ch := make(chan outcome, 1)

	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				e.log.LogPanic(ctx, rec, "probe.request", "url", target)
				ch <- outcome{err: fmt.Errorf("%w: %v", errRequestPanicked, rec)}
			}
		}()
		resp, err := fn(reqCtx, target)
		ch <- outcome{resp: resp, err: err}
	}()

	select {
	case out := <-ch:
		return out.resp, out.err
	case <-reqCtx.Done():
		return nil, fmt.Errorf("%w: %w", core.ErrTransport, reqCtx.Err())
	}
}

func fingerprint(body []byte) string {
	if len(body) == 0 {
		return ""
	}
	return fmt.Sprintf("%016x", murmur3.Sum64(body))
}
