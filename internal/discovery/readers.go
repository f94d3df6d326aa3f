package discovery

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"sort"
	"strings"

	"github.com/CodeMonkeyCybersecurity/paramhunt/internal/core"
	"github.com/CodeMonkeyCybersecurity/paramhunt/internal/validation"
	"github.com/CodeMonkeyCybersecurity/paramhunt/pkg/types"
)

// maxLineSize bounds a single line of a recon artifact. Wayback output can
// carry very long query strings.
const maxLineSize = 1 << 20

// URLList is the result of reading a newline-delimited URL file.
type URLList struct {
	URLs     []string
	Rejected []string
}

// ReadURLs reads one URL per line. Blank lines and "#" comments are skipped,
// duplicates are dropped and lines that are not absolute http(s) URLs are
// returned in Rejected.
func ReadURLs(r io.Reader) (*URLList, error) {
	list := &URLList{}
	seen := make(map[string]struct{})

	err := scanLines(r, func(line string) {
		res := validation.ValidateURL(line)
		if !res.Valid {
			list.Rejected = append(list.Rejected, line)
			return
		}
		if _, ok := seen[res.NormalizedURL]; ok {
			return
		}
		seen[res.NormalizedURL] = struct{}{}
		list.URLs = append(list.URLs, res.NormalizedURL)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read url list: %w", err)
	}
	return list, nil
}

// ExtractParams returns one observation per distinct query parameter name
// across urls. Names are aggregated under types.AggregatedURL and sorted.
func ExtractParams(urls []string) []Observation {
	names := make(map[string]struct{})
	for _, raw := range urls {
		u, err := url.Parse(raw)
		if err != nil || u.RawQuery == "" {
			continue
		}
		for _, pair := range strings.Split(u.RawQuery, "&") {
			name, _, found := strings.Cut(pair, "=")
			if !found {
				continue
			}
			if decoded, err := url.QueryUnescape(name); err == nil {
				name = decoded
			}
			name = strings.TrimSpace(name)
			if name == "" {
				continue
			}
			names[name] = struct{}{}
		}
	}

	sorted := make([]string, 0, len(names))
	for n := range names {
		sorted = append(sorted, n)
	}
	sort.Strings(sorted)

	obs := make([]Observation, 0, len(sorted))
	for _, n := range sorted {
		obs = append(obs, Observation{URL: types.AggregatedURL, Name: n, Source: SourceURLList})
	}
	return obs
}

// ReadParameterNames reads a wordlist of parameter names, one per line.
func ReadParameterNames(r io.Reader) ([]Observation, error) {
	var obs []Observation
	seen := make(map[string]struct{})

	err := scanLines(r, func(line string) {
		if _, ok := seen[line]; ok {
			return
		}
		seen[line] = struct{}{}
		obs = append(obs, Observation{URL: types.AggregatedURL, Name: line, Source: SourceParamList})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read parameter list: %w", err)
	}
	return obs, nil
}

type arjunEntry struct {
	Params []string `json:"params"`
}

// ReadArjun parses arjun JSON output. Both the per-URL form
// {"<url>": {"params": [...]}} and the flat {"params": [...]} form are
// accepted; the flat form is attributed to target, or to
// types.AggregatedURL when target is empty. Output is sorted by URL then name.
func ReadArjun(r io.Reader, target string) ([]Observation, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read arjun output: %w", err)
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: invalid arjun JSON: %v", core.ErrValidation, err)
	}

	byURL := make(map[string][]string)

	if flat, ok := raw["params"]; ok {
		var params []string
		if err := json.Unmarshal(flat, &params); err != nil {
			return nil, fmt.Errorf("%w: arjun params must be a list of strings: %v", core.ErrValidation, err)
		}
		if target == "" {
			target = types.AggregatedURL
		}
		byURL[target] = params
	} else {
		for u, msg := range raw {
			var entry arjunEntry
			if err := json.Unmarshal(msg, &entry); err != nil {
				return nil, fmt.Errorf("%w: arjun entry for %s: %v", core.ErrValidation, u, err)
			}
			byURL[u] = entry.Params
		}
	}

	urls := make([]string, 0, len(byURL))
	for u := range byURL {
		urls = append(urls, u)
	}
	sort.Strings(urls)

	var obs []Observation
	for _, u := range urls {
		params := append([]string(nil), byURL[u]...)
		sort.Strings(params)
		prev := ""
		for _, p := range params {
			p = strings.TrimSpace(p)
			if p == "" || p == prev {
				continue
			}
			prev = p
			obs = append(obs, Observation{URL: u, Name: p, Source: SourceArjun})
		}
	}
	return obs, nil
}

func scanLines(r io.Reader, fn func(line string)) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fn(line)
	}
	return scanner.Err()
}
