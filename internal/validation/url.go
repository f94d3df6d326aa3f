package validation

import (
	"fmt"
	"net"
	"net/url"
	"regexp"
	"strings"

	"github.com/CodeMonkeyCybersecurity/paramhunt/internal/core"
)

// URLValidationResult contains the result of URL validation
type URLValidationResult struct {
	Valid         bool
	NormalizedURL string
	Host          string
	Private       bool
	Warnings      []string
	Error         error
}

var domainRegex = regexp.MustCompile(`^([a-zA-Z0-9]([a-zA-Z0-9\-]{0,61}[a-zA-Z0-9])?\.)+[a-zA-Z]{2,}$`)

// privateSuffixes are hostnames that never resolve on the public internet.
var privateSuffixes = []string{
	".local",
	".internal",
	".lan",
	".localhost",
}

// ValidateURL checks that raw is an absolute http(s) URL with a host. Private
// and loopback hosts are valid but flagged, so callers can refuse them when
// they probe outside a lab.
func ValidateURL(raw string) *URLValidationResult {
	result := &URLValidationResult{
		Warnings: []string{},
	}

	raw = strings.TrimSpace(raw)
	if raw == "" {
		result.Error = fmt.Errorf("%w: url cannot be empty", core.ErrValidation)
		return result
	}

	parsed, err := url.Parse(raw)
	if err != nil {
		result.Error = fmt.Errorf("%w: invalid URL format: %v", core.ErrValidation, err)
		return result
	}

	scheme := strings.ToLower(parsed.Scheme)
	if scheme != "http" && scheme != "https" {
		result.Error = fmt.Errorf("%w: unsupported scheme %q in %s", core.ErrValidation, parsed.Scheme, raw)
		return result
	}

	host := parsed.Hostname()
	if host == "" {
		result.Error = fmt.Errorf("%w: missing host in %s", core.ErrValidation, raw)
		return result
	}

	if !isIP(host) && !IsDomain(host) && !strings.EqualFold(host, "localhost") {
		result.Warnings = append(result.Warnings, "Host does not look like a domain name: "+host)
	}

	if IsPrivateHost(host) {
		result.Private = true
		result.Warnings = append(result.Warnings, "URL points to localhost, a private IP or an internal domain")
	}

	parsed.Scheme = scheme
	parsed.Host = strings.ToLower(parsed.Host)

	result.Valid = true
	result.Host = strings.ToLower(host)
	result.NormalizedURL = parsed.String()
	return result
}

// IsPrivateHost reports whether host is loopback, private, link-local or an
// internal-only name.
func IsPrivateHost(host string) bool {
	lower := strings.ToLower(strings.Trim(host, "[]"))

	if lower == "localhost" {
		return true
	}
	for _, suffix := range privateSuffixes {
		if strings.HasSuffix(lower, suffix) {
			return true
		}
	}

	ip := net.ParseIP(lower)
	if ip == nil {
		return false
	}
	return ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() || ip.IsUnspecified()
}

func isIP(s string) bool {
	return net.ParseIP(strings.Trim(s, "[]")) != nil
}

// IsDomain reports whether s is a syntactically valid domain name.
func IsDomain(s string) bool {
	return domainRegex.MatchString(s)
}
