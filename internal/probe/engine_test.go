package probe

import (
	"context"
	"errors"
	"math"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/CodeMonkeyCybersecurity/paramhunt/internal/core"
	"github.com/CodeMonkeyCybersecurity/paramhunt/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const usersTemplate = "https://acme.test/users?id={}"

// statusByID returns a RequestFunc answering 200 for the given id and 403 otherwise.
func statusByID(accessible string) RequestFunc {
	return func(ctx context.Context, url string) (*Response, error) {
		if url == "https://acme.test/users?id="+accessible {
			return &Response{StatusCode: http.StatusOK, Body: []byte(`{"id":` + accessible + `}`)}, nil
		}
		return &Response{StatusCode: http.StatusForbidden}, nil
	}
}

func verdicts(results []Result) []Verdict {
	out := make([]Verdict, 0, len(results))
	for _, r := range results {
		out = append(out, r.Verdict)
	}
	return out
}

func values(results []Result) []int64 {
	out := make([]int64, 0, len(results))
	for _, r := range results {
		out = append(out, r.Value)
	}
	return out
}

func TestBuildURL(t *testing.T) {
	u, err := BuildURL(usersTemplate, "id", 42)
	require.NoError(t, err)
	assert.Equal(t, "https://acme.test/users?id=42", u)

	u, err = BuildURL("https://acme.test/orders/{}/items", "", 7)
	require.NoError(t, err)
	assert.Equal(t, "https://acme.test/orders/7/items", u)

	u, err = BuildURL("https://acme.test/users?id=1&fmt=json", "id", 9)
	require.NoError(t, err)
	assert.Equal(t, "https://acme.test/users?fmt=json&id=9", u)
}

func TestPlanValidate(t *testing.T) {
	tests := []struct {
		name string
		plan Plan
	}{
		{"reversed range", Plan{Template: usersTemplate, Start: 5, End: 1}},
		{"empty template", Plan{Template: " ", Start: 1, End: 1}},
		{"no placeholder and no param", Plan{Template: "https://acme.test/users", Start: 1, End: 1}},
		{"full int64 range", Plan{Template: usersTemplate, Start: math.MinInt64, End: math.MaxInt64}},
		{"range wider than int64", Plan{Template: usersTemplate, Start: -5e18, End: 5e18}},
		{"size of exactly MaxInt64", Plan{Template: usersTemplate, Start: 0, End: math.MaxInt64 - 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, tt.plan.Validate(), core.ErrValidation)
		})
	}

	_, err := NewEngine(Options{}).Run(context.Background(), Plan{Template: usersTemplate, Start: 1, End: 2}, nil)
	assert.ErrorIs(t, err, core.ErrValidation)
}

func TestRangeSize(t *testing.T) {
	tests := []struct {
		name       string
		start, end int64
		want       int64
	}{
		{"single value", 7, 7, 1},
		{"small range", 1, 5, 5},
		{"negative bounds", -3, 3, 7},
		{"reversed", 5, 1, 0},
		{"top of int64", math.MaxInt64 - 1, math.MaxInt64, 2},
		{"bottom of int64", math.MinInt64, math.MinInt64 + 9, 10},
		{"wider than int64 saturates", -5e18, 5e18, math.MaxInt64},
		{"full int64 range saturates", math.MinInt64, math.MaxInt64, math.MaxInt64},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, RangeSize(tt.start, tt.end))
			assert.Equal(t, tt.want, Plan{Start: tt.start, End: tt.end}.Size())
		})
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		resp    *Response
		err     error
		verdict Verdict
		label   string
	}{
		{&Response{StatusCode: 200}, nil, VerdictAccessible, "Accessible"},
		{&Response{StatusCode: 403}, nil, VerdictForbidden, "Forbidden"},
		{&Response{StatusCode: 404}, nil, VerdictNotFound, "NotFound"},
		{&Response{StatusCode: 302}, nil, VerdictOther, "Other(302)"},
		{&Response{StatusCode: 500}, nil, VerdictOther, "Other(500)"},
		{nil, errors.New("connection refused"), VerdictProbeFailed, "ProbeFailed"},
		{nil, nil, VerdictProbeFailed, "ProbeFailed"},
	}
	for _, tt := range tests {
		t.Run(tt.label, func(t *testing.T) {
			v, status := Classify(tt.resp, tt.err)
			assert.Equal(t, tt.verdict, v)
			assert.Equal(t, tt.label, Label(v, status))
		})
	}
}

func TestProbeRangeVerdictSequence(t *testing.T) {
	results, err := ProbeRange(context.Background(), usersTemplate, "id", 1, 5, statusByID("3"))
	require.NoError(t, err)

	assert.Equal(t, []int64{1, 2, 3, 4, 5}, values(results))
	assert.Equal(t, []Verdict{
		VerdictForbidden, VerdictForbidden, VerdictAccessible, VerdictForbidden, VerdictForbidden,
	}, verdicts(results))
	assert.Equal(t, "https://acme.test/users?id=3", results[2].URL)
	assert.NotEmpty(t, results[2].BodyHash)
	assert.False(t, results[2].PotentialIDOR, "owning identity is not flagged")
}

func TestRunFlagsPotentialIDORForNonOwningIdentity(t *testing.T) {
	results, err := NewEngine(Options{}).Run(context.Background(), Plan{
		Template:  usersTemplate,
		Start:     1,
		End:       5,
		NonOwning: true,
	}, statusByID("3"))
	require.NoError(t, err)

	for _, r := range results {
		assert.Equal(t, r.Value == 3, r.PotentialIDOR, "value %d", r.Value)
	}
	assert.Equal(t, []int64{3}, Summarize(results).PotentialIDOR)
}

func TestRunSingleValueRange(t *testing.T) {
	results, err := ProbeRange(context.Background(), usersTemplate, "id", 7, 7, statusByID("7"))
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, VerdictAccessible, results[0].Verdict)
}

func TestRunIsolatesFailures(t *testing.T) {
	fn := func(ctx context.Context, url string) (*Response, error) {
		switch url {
		case "https://acme.test/users?id=3":
			return nil, errors.New("connection reset")
		case "https://acme.test/users?id=5":
			panic("boom")
		}
		return &Response{StatusCode: http.StatusNotFound}, nil
	}

	results, err := ProbeRange(context.Background(), usersTemplate, "id", 1, 6, fn)
	require.NoError(t, err)
	require.Len(t, results, 6)

	assert.Equal(t, []Verdict{
		VerdictNotFound, VerdictNotFound, VerdictProbeFailed, VerdictNotFound, VerdictProbeFailed, VerdictNotFound,
	}, verdicts(results))
	assert.Contains(t, results[2].Error, "connection reset")
	assert.Contains(t, results[4].Error, "panicked")

	summary := Summarize(results)
	assert.Equal(t, []int64{3, 5}, summary.Failed)
	assert.Equal(t, 4, summary.ByVerdict[VerdictNotFound])
}

func TestRunRequestTimeoutIsProbeFailed(t *testing.T) {
	fn := func(ctx context.Context, url string) (*Response, error) {
		if url == "https://acme.test/users?id=2" {
			// Ignores its context entirely.
			time.Sleep(300 * time.Millisecond)
		}
		return &Response{StatusCode: http.StatusOK}, nil
	}

	engine := NewEngine(Options{RequestTimeout: 30 * time.Millisecond})
	start := time.Now()
	results, err := engine.Run(context.Background(), Plan{Template: usersTemplate, Start: 1, End: 3}, fn)
	require.NoError(t, err)

	assert.Less(t, time.Since(start), 250*time.Millisecond, "slow request must not stall the range")
	assert.Equal(t, []Verdict{VerdictAccessible, VerdictProbeFailed, VerdictAccessible}, verdicts(results))
	assert.Contains(t, results[1].Error, "deadline exceeded")
}

func TestRunCancellationReturnsPartialResults(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	engine := NewEngine(Options{
		OnResult: func(r Result) {
			if r.Value == 2 {
				cancel()
			}
		},
	})

	results, err := engine.Run(ctx, Plan{Template: usersTemplate, Start: 1, End: 10}, statusByID("1"))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, []int64{1, 2}, values(results))
	assert.Equal(t, VerdictAccessible, results[0].Verdict)
}

func TestRunCancellationDropsInFlightRequest(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fn := func(reqCtx context.Context, url string) (*Response, error) {
		if url == "https://acme.test/users?id=2" {
			go func() {
				time.Sleep(10 * time.Millisecond)
				cancel()
			}()
			<-reqCtx.Done()
			return nil, reqCtx.Err()
		}
		return &Response{StatusCode: http.StatusOK}, nil
	}

	results, err := NewEngine(Options{}).Run(ctx, Plan{Template: usersTemplate, Start: 1, End: 5}, fn)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, []int64{1}, values(results))
}

func TestRunResumesFromDoneResults(t *testing.T) {
	var calls []string
	var mu sync.Mutex
	fn := func(ctx context.Context, url string) (*Response, error) {
		mu.Lock()
		calls = append(calls, url)
		mu.Unlock()
		return &Response{StatusCode: http.StatusForbidden}, nil
	}

	done := []Result{
		{Value: 1, Verdict: VerdictForbidden},
		{Value: 2, Verdict: VerdictAccessible},
		{Value: 99, Verdict: VerdictAccessible}, // outside the range, ignored
	}
	results, err := NewEngine(Options{}).Run(context.Background(), Plan{
		Template: usersTemplate,
		Start:    1,
		End:      4,
		Done:     done,
	}, fn)
	require.NoError(t, err)

	assert.Equal(t, []int64{1, 2, 3, 4}, values(results))
	assert.Equal(t, VerdictAccessible, results[1].Verdict)
	assert.Equal(t, []string{
		"https://acme.test/users?id=3",
		"https://acme.test/users?id=4",
	}, calls)
}

func TestRunParallelProbesEachValueOnce(t *testing.T) {
	var mu sync.Mutex
	seen := make(map[string]int)
	var inFlight, maxInFlight int32

	fn := func(ctx context.Context, url string) (*Response, error) {
		n := atomic.AddInt32(&inFlight, 1)
		defer atomic.AddInt32(&inFlight, -1)
		for {
			m := atomic.LoadInt32(&maxInFlight)
			if n <= m || atomic.CompareAndSwapInt32(&maxInFlight, m, n) {
				break
			}
		}
		time.Sleep(2 * time.Millisecond)

		mu.Lock()
		seen[url]++
		mu.Unlock()
		return &Response{StatusCode: http.StatusNotFound}, nil
	}

	var hookCalls int32
	engine := NewEngine(Options{
		Concurrency: 4,
		OnResult:    func(Result) { atomic.AddInt32(&hookCalls, 1) },
	})
	results, err := engine.Run(context.Background(), Plan{Template: usersTemplate, Start: 1, End: 40}, fn)
	require.NoError(t, err)

	require.Len(t, results, 40)
	for i, r := range results {
		assert.Equal(t, int64(i+1), r.Value)
	}
	assert.Len(t, seen, 40)
	for url, n := range seen {
		assert.Equal(t, 1, n, url)
	}
	assert.LessOrEqual(t, atomic.LoadInt32(&maxInFlight), int32(4))
	assert.Equal(t, int32(40), atomic.LoadInt32(&hookCalls))
}

type countingWaiter struct {
	calls int32
	err   error
}

func (w *countingWaiter) WaitForURL(ctx context.Context, rawURL string) error {
	atomic.AddInt32(&w.calls, 1)
	return w.err
}

func TestRunUsesLimiter(t *testing.T) {
	w := &countingWaiter{}
	_, err := NewEngine(Options{Limiter: w}).Run(context.Background(),
		Plan{Template: usersTemplate, Start: 1, End: 3}, statusByID("2"))
	require.NoError(t, err)
	assert.Equal(t, int32(3), w.calls)

	failing := &countingWaiter{err: errors.New("limiter closed")}
	results, err := NewEngine(Options{Limiter: failing}).Run(context.Background(),
		Plan{Template: usersTemplate, Start: 1, End: 2}, statusByID("2"))
	require.NoError(t, err)
	assert.Equal(t, []Verdict{VerdictProbeFailed, VerdictProbeFailed}, verdicts(results))
}

type recordingTelemetry struct {
	mu       sync.Mutex
	verdicts map[string]int
}

func (r *recordingTelemetry) RecordProbe(verdict string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.verdicts[verdict]++
}
func (r *recordingTelemetry) RecordVulnerability(types.Severity) {}
func (r *recordingTelemetry) RecordClassification(string)      {}
func (r *recordingTelemetry) Close() error                     { return nil }

func TestRunRecordsTelemetry(t *testing.T) {
	tel := &recordingTelemetry{verdicts: make(map[string]int)}
	_, err := NewEngine(Options{Telemetry: tel}).Run(context.Background(),
		Plan{Template: usersTemplate, Start: 1, End: 5}, statusByID("3"))
	require.NoError(t, err)

	assert.Equal(t, 1, tel.verdicts["Accessible"])
	assert.Equal(t, 4, tel.verdicts["Forbidden"])
}

func TestSummarizeDistinctBodies(t *testing.T) {
	results := []Result{
		{Value: 1, Verdict: VerdictAccessible, BodyHash: "aa"},
		{Value: 2, Verdict: VerdictAccessible, BodyHash: "aa"},
		{Value: 3, Verdict: VerdictAccessible, BodyHash: "bb"},
		{Value: 4, Verdict: VerdictOther, StatusCode: 302},
	}
	s := Summarize(results)
	assert.Equal(t, 4, s.Total)
	assert.Equal(t, []int64{1, 2, 3}, s.Accessible)
	assert.Equal(t, 2, s.DistinctAccessibleBodies)
	assert.Equal(t, 1, s.ByVerdict[VerdictOther])
	assert.Equal(t, "4: Other(302)", results[3].String())
}
