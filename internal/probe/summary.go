package probe

// Summary aggregates a verdict sequence. Deciding whether it amounts to a
// vulnerability is left to the caller.
type Summary struct {
	Total     int             `json:"total"`
	ByVerdict map[Verdict]int `json:"by_verdict"`

	Accessible    []int64 `json:"accessible,omitempty"`
	Failed        []int64 `json:"failed,omitempty"`
	PotentialIDOR []int64 `json:"potential_idor,omitempty"`

	// DistinctAccessibleBodies counts unique body fingerprints among
	// Accessible results. A value of one across many IDs usually means a
	// generic page rather than per-object data.
	DistinctAccessibleBodies int `json:"distinct_accessible_bodies"`
}

func Summarize(results []Result) Summary {
	s := Summary{
		Total:     len(results),
		ByVerdict: make(map[Verdict]int),
	}
	bodies := make(map[string]struct{})

	for _, r := range results {
		s.ByVerdict[r.Verdict]++
		switch r.Verdict {
		case VerdictAccessible:
			s.Accessible = append(s.Accessible, r.Value)
			bodies[r.BodyHash] = struct{}{}
		case VerdictProbeFailed:
			s.Failed = append(s.Failed, r.Value)
		}
		if r.PotentialIDOR {
			s.PotentialIDOR = append(s.PotentialIDOR, r.Value)
		}
	}
	s.DistinctAccessibleBodies = len(bodies)
	return s
}
