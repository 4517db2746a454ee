// Package ranking computes percentile-style placements and leaderboards over
// the persisted trial set, within nested geographic scopes.
package ranking

import (
	"sort"
	"time"

	"github.com/BluceCao2018/funbenchmark.com/pkg/models"
)

// DefaultRetention is how long a trial participates in rankings.
const DefaultRetention = 24 * time.Hour

// DefaultLeaderboardSize caps leaderboard listings.
const DefaultLeaderboardSize = 10

// Scope is a named partition of trials. Each scope filters the full trial
// set independently on tag equality; it is never composed from finer scopes,
// so a trial missing a city tag can still rank in its country.
type Scope struct {
	Name        string
	CountryCode string
	Region      string
	City        string
}

// Global matches every trial.
var Global = Scope{Name: "global"}

// Country scopes trials to one country code.
func Country(code string) Scope {
	return Scope{Name: "country", CountryCode: code}
}

// Region scopes trials to one region within a country.
func Region(code, region string) Scope {
	return Scope{Name: "region", CountryCode: code, Region: region}
}

// City scopes trials to one city within a region.
func City(code, region, city string) Scope {
	return Scope{Name: "city", CountryCode: code, Region: region, City: city}
}

// Matches reports whether a trial belongs to the scope.
func (s Scope) Matches(t models.Trial) bool {
	if s.CountryCode == "" && s.Region == "" && s.City == "" {
		return true
	}
	loc := t.Location
	if loc == nil {
		return false
	}
	if s.CountryCode != "" && loc.CountryCode != s.CountryCode {
		return false
	}
	if s.Region != "" && loc.Region != s.Region {
		return false
	}
	if s.City != "" && loc.City != s.City {
		return false
	}
	return true
}

// Defined reports whether the scope carries every tag it filters on.
// An undefined scope (trial without a city tag asking for a city scope)
// produces no placement.
func (s Scope) Defined() bool {
	switch s.Name {
	case "country":
		return s.CountryCode != ""
	case "region":
		return s.CountryCode != "" && s.Region != ""
	case "city":
		return s.CountryCode != "" && s.Region != "" && s.City != ""
	}
	return true
}

// Placement is a trial's rank within one scope. Rank 1 is the best (lowest
// latency); ties get no special handling.
type Placement struct {
	Rank      int `json:"rank"`
	ScopeSize int `json:"scopeSize"`
}

// Rank places newTrial within the scoped subset of trials:
// count of trials with strictly lower latency, plus one. The new trial
// itself counts toward the scope size.
func Rank(newTrial models.Trial, trials []models.Trial, scope Scope) Placement {
	rank := 1
	size := 0
	for _, t := range trials {
		if !scope.Matches(t) {
			continue
		}
		size++
		if t.LatencyMs < newTrial.LatencyMs {
			rank++
		}
	}
	if scope.Matches(newTrial) {
		size++
	}
	return Placement{Rank: rank, ScopeSize: size}
}

// TopN returns the best n trials in the scope, ascending by latency. The
// sort is stable so repeated calls over an unchanged set yield identical
// output.
func TopN(trials []models.Trial, scope Scope, n int) []models.Trial {
	if n <= 0 {
		n = DefaultLeaderboardSize
	}
	matched := make([]models.Trial, 0, len(trials))
	for _, t := range trials {
		if scope.Matches(t) {
			matched = append(matched, t)
		}
	}
	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].LatencyMs < matched[j].LatencyMs
	})
	if len(matched) > n {
		matched = matched[:n]
	}
	return matched
}

// Fresh filters out trials older than the retention window. Callers persist
// the pruned slice on their next write so stale entries age out of the store.
func Fresh(trials []models.Trial, now time.Time, retention time.Duration) []models.Trial {
	cutoff := now.Add(-retention).UnixMilli()
	fresh := make([]models.Trial, 0, len(trials))
	for _, t := range trials {
		if t.TimestampMs >= cutoff {
			fresh = append(fresh, t)
		}
	}
	return fresh
}

// ScopesFor expands a trial's location into the scope hierarchy it belongs
// to, coarsest first. Undefined scopes (missing tags) are skipped.
func ScopesFor(t models.Trial) []Scope {
	scopes := []Scope{Global}
	loc := t.Location
	if loc == nil {
		return scopes
	}
	for _, s := range []Scope{
		Country(loc.CountryCode),
		Region(loc.CountryCode, loc.Region),
		City(loc.CountryCode, loc.Region, loc.City),
	} {
		if s.Defined() {
			scopes = append(scopes, s)
		}
	}
	return scopes
}
