package httpclient

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/CodeMonkeyCybersecurity/paramhunt/internal/core"
	"github.com/CodeMonkeyCybersecurity/paramhunt/internal/logger"
	"github.com/CodeMonkeyCybersecurity/paramhunt/internal/probe"
)

// Identity is the set of headers a probe is sent with, typically a session
// cookie or bearer token belonging to one test account.
type Identity struct {
	Name    string
	Headers map[string]string
}

type RequestOptions struct {
	UserAgent    string
	Headers      map[string]string
	Identity     Identity
	MaxBodyBytes int64
	Logger       *logger.Logger
}

// NewRequestFunc returns a probe.RequestFunc issuing GET requests through
// client. Transport failures are wrapped in core.ErrTransport; every HTTP
// status is returned as a response.
func NewRequestFunc(client *http.Client, opts RequestOptions) probe.RequestFunc {
	log := opts.Logger
	if log == nil {
		log = logger.NewNop()
	}
	log = log.WithComponent("httpclient")

	return func(ctx context.Context, target string) (*probe.Response, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
		if err != nil {
			return nil, fmt.Errorf("%w: build request: %w", core.ErrTransport, err)
		}

		if opts.UserAgent != "" {
			req.Header.Set("User-Agent", opts.UserAgent)
		}
		for k, v := range opts.Headers {
			req.Header.Set(k, v)
		}
		// Identity headers win over static ones.
		for k, v := range opts.Identity.Headers {
			req.Header.Set(k, v)
		}

		start := time.Now()
		resp, err := client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", core.ErrTransport, err)
		}
		defer CloseBody(resp)

		var body io.Reader = resp.Body
		if opts.MaxBodyBytes > 0 {
			body = io.LimitReader(resp.Body, opts.MaxBodyBytes)
		}
		data, err := io.ReadAll(body)
		if err != nil {
			return nil, fmt.Errorf("%w: read body: %w", core.ErrTransport, err)
		}

		log.LogHTTPRequest(ctx, http.MethodGet, target, resp.StatusCode, time.Since(start),
			"identity", opts.Identity.Name,
			"body_bytes", len(data),
		)

		return &probe.Response{
			StatusCode: resp.StatusCode,
			Body:       data,
			Header:     resp.Header,
		}, nil
	}
}
