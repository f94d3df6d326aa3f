package discovery

import "sort"

// Source identifies which recon artifact a parameter came from.
type Source string

const (
	SourceURLList   Source = "url_list"
	SourceParamList Source = "param_list"
	SourceArjun     Source = "arjun"
	SourceForm      Source = "form"
)

// Observation is one (url, name) pair ready to be upserted into the store.
// URL is types.AggregatedURL when the name is not tied to a single endpoint.
type Observation struct {
	URL    string
	Name   string
	Source Source
}

// FormInfo is a single HTML form found on a saved page.
type FormInfo struct {
	Action string
	Method string
	Inputs []InputInfo
}

// InputInfo is a named form control.
type InputInfo struct {
	Name  string
	Type  string
	Value string
}

// Names returns the distinct parameter names in obs, sorted.
func Names(obs []Observation) []string {
	seen := make(map[string]struct{}, len(obs))
	names := make([]string, 0, len(obs))
	for _, o := range obs {
		if _, ok := seen[o.Name]; ok {
			continue
		}
		seen[o.Name] = struct{}{}
		names = append(names, o.Name)
	}
	sort.Strings(names)
	return names
}
