package model

import (
	"sort"
	"time"
)

// MergePersona applies upd to base and returns the merged profile. Scalar
// fields use last-write-wins and only change when the update carries a
// non-empty value. InterestedSectors is a set union: consolidation can grow
// the set but never shrink it.
func MergePersona(base *PersonaProfile, userID string, upd PersonaUpdate, now time.Time) *PersonaProfile {
	out := &PersonaProfile{UserID: userID}
	if base != nil {
		*out = *base
		out.InterestedSectors = append([]string(nil), base.InterestedSectors...)
	}
	if upd.RiskPreference != "" {
		out.RiskPreference = upd.RiskPreference
	}
	if upd.CorePrinciples != "" {
		out.CorePrinciples = upd.CorePrinciples
	}
	out.InterestedSectors = unionSorted(out.InterestedSectors, upd.InterestedSectors)
	out.LastUpdated = now
	return out
}

// unionSorted merges two string sets into a sorted, deduplicated slice.
// Sorted output keeps persona rendering and tests deterministic.
func unionSorted(a, b []string) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, s := range a {
		if s == "" {
			continue
		}
		if _, ok := seen[s]; !ok {
			seen[s] = struct{}{}
			out = append(out, s)
		}
	}
	for _, s := range b {
		if s == "" {
			continue
		}
		if _, ok := seen[s]; !ok {
			seen[s] = struct{}{}
			out = append(out, s)
		}
	}
	sort.Strings(out)
	return out
}
