package probe

import (
	"context"
	"fmt"
	"net/http"
)

// Verdict is the interpretation of one probed value's response.
type Verdict string

const (
	VerdictAccessible  Verdict = "Accessible"
	VerdictForbidden   Verdict = "Forbidden"
	VerdictNotFound    Verdict = "NotFound"
	VerdictProbeFailed Verdict = "ProbeFailed"
	VerdictOther       Verdict = "Other"
)

// Response is what a RequestFunc hands back for one request.
type Response struct {
	StatusCode int
	Body       []byte
	Header     http.Header
}

// RequestFunc issues one request for url. Transport failures are returned as
// errors; any HTTP status, including 4xx and 5xx, is a successful Response.
type RequestFunc func(ctx context.Context, url string) (*Response, error)

// Classify maps a transport outcome to a verdict. The returned status is the
// HTTP status code, or zero when the request failed.
func Classify(resp *Response, err error) (Verdict, int) {
	if err != nil || resp == nil {
		return VerdictProbeFailed, 0
	}
	switch resp.StatusCode {
	case http.StatusOK:
		return VerdictAccessible, resp.StatusCode
	case http.StatusForbidden:
		return VerdictForbidden, resp.StatusCode
	case http.StatusNotFound:
		return VerdictNotFound, resp.StatusCode
	default:
		return VerdictOther, resp.StatusCode
	}
}

// Label renders a verdict with its status for display, e.g. "Other(302)".
func Label(v Verdict, status int) string {
	if v == VerdictOther {
		return fmt.Sprintf("Other(%d)", status)
	}
	return string(v)
}
