package validation

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"net/url"
	"os"
	"strings"

	"github.com/CodeMonkeyCybersecurity/paramhunt/internal/core"
)

// Scope is the set of hosts a project is authorized to touch.
type Scope struct {
	InScope    []ScopeEntry
	OutOfScope []ScopeEntry
}

// ScopeEntry is a single scope line (domain, wildcard, IP, CIDR or URL prefix).
type ScopeEntry struct {
	Value string `json:"value"`
	Type  string `json:"type"` // "domain", "wildcard", "ip", "ip_range", "url"
}

// ParseScope builds a Scope from entries. A leading "!" marks an entry as out
// of scope. Blank lines and "#" comments are skipped; anything unparseable is
// a validation error.
func ParseScope(lines []string) (*Scope, error) {
	scope := &Scope{
		InScope:    []ScopeEntry{},
		OutOfScope: []ScopeEntry{},
	}

	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		out := strings.HasPrefix(line, "!")
		line = strings.TrimSpace(strings.TrimPrefix(line, "!"))

		entry := parseScopeEntry(line)
		if entry == nil {
			return nil, fmt.Errorf("%w: unrecognized scope entry %q", core.ErrValidation, line)
		}

		if out {
			scope.OutOfScope = append(scope.OutOfScope, *entry)
		} else {
			scope.InScope = append(scope.InScope, *entry)
		}
	}

	return scope, nil
}

// ReadScope parses scope entries from r, with [in-scope] and [out-of-scope]
// section headers switching the default.
func ReadScope(r io.Reader) (*Scope, error) {
	var lines []string
	outSection := false

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch strings.ToLower(line) {
		case "[in-scope]", "[inscope]":
			outSection = false
			continue
		case "[out-of-scope]", "[outofscope]":
			outSection = true
			continue
		}
		if outSection && line != "" && !strings.HasPrefix(line, "#") && !strings.HasPrefix(line, "!") {
			line = "!" + line
		}
		lines = append(lines, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading scope: %w", err)
	}

	return ParseScope(lines)
}

// LoadScopeFile loads and parses a scope file
func LoadScopeFile(path string) (*Scope, error) {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: scope file %s", core.ErrNotFound, path)
		}
		return nil, fmt.Errorf("failed to open scope file: %w", err)
	}
	defer file.Close()

	return ReadScope(file)
}

// Empty reports whether the scope has no in-scope entries. An empty scope
// allows everything not explicitly excluded.
func (s *Scope) Empty() bool {
	return s == nil || len(s.InScope) == 0
}

// Entries renders the scope back into the line form accepted by ParseScope.
func (s *Scope) Entries() []string {
	if s == nil {
		return nil
	}
	lines := make([]string, 0, len(s.InScope)+len(s.OutOfScope))
	for _, e := range s.InScope {
		lines = append(lines, e.Value)
	}
	for _, e := range s.OutOfScope {
		lines = append(lines, "!"+e.Value)
	}
	return lines
}

// IsInScope checks if a URL or bare host is within the scope
func (s *Scope) IsInScope(target string) bool {
	if s == nil {
		return true
	}

	host, rest := normalizeTarget(target)

	if matchesAny(host, rest, s.OutOfScope) {
		return false
	}
	if len(s.InScope) == 0 {
		return true
	}
	return matchesAny(host, rest, s.InScope)
}

func parseScopeEntry(line string) *ScopeEntry {
	if strings.Contains(line, "/") && !strings.Contains(line, "://") {
		if _, _, err := net.ParseCIDR(line); err == nil {
			return &ScopeEntry{Value: line, Type: "ip_range"}
		}
	}

	if net.ParseIP(line) != nil {
		return &ScopeEntry{Value: line, Type: "ip"}
	}

	if strings.HasPrefix(line, "*.") {
		if IsDomain(strings.TrimPrefix(line, "*.")) {
			return &ScopeEntry{Value: strings.ToLower(line), Type: "wildcard"}
		}
		return nil
	}

	if IsDomain(line) {
		return &ScopeEntry{Value: strings.ToLower(line), Type: "domain"}
	}

	if strings.HasPrefix(line, "http://") || strings.HasPrefix(line, "https://") {
		if res := ValidateURL(line); res.Valid {
			return &ScopeEntry{Value: line, Type: "url"}
		}
	}

	return nil
}

// normalizeTarget returns the lowercase host and the host+path form used for
// URL-prefix entries.
func normalizeTarget(target string) (string, string) {
	target = strings.TrimSpace(target)
	if strings.Contains(target, "://") {
		if u, err := url.Parse(target); err == nil {
			host := strings.ToLower(u.Hostname())
			return host, host + u.EscapedPath()
		}
	}
	host := strings.ToLower(strings.Split(target, "/")[0])
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	return host, host
}

func matchesAny(host, rest string, entries []ScopeEntry) bool {
	for _, entry := range entries {
		if matchesScopeEntry(host, rest, entry) {
			return true
		}
	}
	return false
}

func matchesScopeEntry(host, rest string, entry ScopeEntry) bool {
	value := strings.ToLower(entry.Value)

	switch entry.Type {
	case "domain":
		return host == value || strings.HasSuffix(host, "."+value)

	case "wildcard":
		// *.example.com matches subdomains only
		return strings.HasSuffix(host, strings.TrimPrefix(value, "*"))

	case "ip":
		return host == value

	case "ip_range":
		ip := net.ParseIP(host)
		if ip == nil {
			return false
		}
		_, ipNet, err := net.ParseCIDR(entry.Value)
		if err != nil {
			return false
		}
		return ipNet.Contains(ip)

	case "url":
		_, prefix := normalizeTarget(entry.Value)
		return strings.HasPrefix(rest, prefix)
	}

	return false
}
