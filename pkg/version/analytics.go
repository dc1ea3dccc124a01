package version

import (
	"sort"
	"strconv"
	"strings"
	"time"
)

// UnknownErrorType labels versions recorded without an error type
const UnknownErrorType = "Unknown"

// ErrorTypeCount is the number of versions recorded with one error type
type ErrorTypeCount struct {
	ErrorType string `json:"errorType"`
	Count     int    `json:"count"`
}

// BugFreeLatency summarizes how long versions waited for the next bug-free
// version at or after them
type BugFreeLatency struct {
	ResolvedCount   int     `json:"resolvedCount"`
	UnresolvedCount int     `json:"unresolvedCount"`
	MeanSeconds     float64 `json:"meanSeconds"`
	MedianSeconds   float64 `json:"medianSeconds"`
	MaxSeconds      float64 `json:"maxSeconds"`
}

// Report is the analytics view of a timeline
type Report struct {
	TotalCount   int              `json:"totalCount"`
	BugFreeCount int              `json:"bugFreeCount"`
	BugFreeRatio float64          `json:"bugFreeRatio"`
	ErrorTypes   []ErrorTypeCount `json:"errorTypes"`   // by count desc, then first seen
	MostFrequent *string          `json:"mostFrequent"` // nil for an empty timeline
	SortedCounts []string         `json:"sortedCounts"` // "label:count", alphabetical
	// Omitted until some version has a bug-free successor
	TimeToBugFree *BugFreeLatency `json:"timeToBugFree,omitempty"`
}

// BuildReport derives the report from versions in creation order
func BuildReport(versions []*Version) *Report {
	r := &Report{
		TotalCount:   len(versions),
		ErrorTypes:   []ErrorTypeCount{},
		SortedCounts: []string{},
	}

	// Labels group case-insensitively and keep their first spelling
	index := make(map[string]int)
	for _, v := range versions {
		if v.BugFree {
			r.BugFreeCount++
		}

		label := normalizeErrorType(v.ErrorType)
		key := strings.ToLower(label)
		if i, ok := index[key]; ok {
			r.ErrorTypes[i].Count++
			continue
		}
		index[key] = len(r.ErrorTypes)
		r.ErrorTypes = append(r.ErrorTypes, ErrorTypeCount{ErrorType: label, Count: 1})
	}

	if r.TotalCount > 0 {
		r.BugFreeRatio = float64(r.BugFreeCount) / float64(r.TotalCount)
	}

	alphabetical := make([]ErrorTypeCount, len(r.ErrorTypes))
	copy(alphabetical, r.ErrorTypes)
	sort.SliceStable(alphabetical, func(i, j int) bool {
		return strings.ToLower(alphabetical[i].ErrorType) < strings.ToLower(alphabetical[j].ErrorType)
	})
	for _, c := range alphabetical {
		r.SortedCounts = append(r.SortedCounts, c.ErrorType+":"+strconv.Itoa(c.Count))
	}

	sort.SliceStable(r.ErrorTypes, func(i, j int) bool {
		return r.ErrorTypes[i].Count > r.ErrorTypes[j].Count
	})
	if len(r.ErrorTypes) > 0 {
		top := r.ErrorTypes[0].ErrorType
		r.MostFrequent = &top
	}

	r.TimeToBugFree = bugFreeLatency(versions)
	return r
}

func normalizeErrorType(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return UnknownErrorType
	}
	return s
}

// bugFreeLatency walks backwards so each version sees the nearest bug-free
// version at or after it
func bugFreeLatency(versions []*Version) *BugFreeLatency {
	var waits []time.Duration
	unresolved := 0

	var next *Version
	for i := len(versions) - 1; i >= 0; i-- {
		v := versions[i]
		if v.BugFree {
			next = v
		}
		if next == nil {
			unresolved++
			continue
		}
		wait := next.Timestamp.Sub(v.Timestamp)
		if wait < 0 {
			wait = 0
		}
		waits = append(waits, wait)
	}

	if len(waits) == 0 {
		return nil
	}

	sort.Slice(waits, func(i, j int) bool { return waits[i] < waits[j] })

	var total time.Duration
	for _, w := range waits {
		total += w
	}

	n := len(waits)
	median := waits[n/2].Seconds()
	if n%2 == 0 {
		median = (waits[n/2-1].Seconds() + waits[n/2].Seconds()) / 2
	}

	return &BugFreeLatency{
		ResolvedCount:   n,
		UnresolvedCount: unresolved,
		MeanSeconds:     total.Seconds() / float64(n),
		MedianSeconds:   median,
		MaxSeconds:      waits[n-1].Seconds(),
	}
}
