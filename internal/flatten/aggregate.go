// ABOUTME: Single-pass aggregation of flattened records into the metrics summary.
// ABOUTME: Produces severity/status/risk counts, CVSS histogram, timeline, and top-N lists.

package flatten

import (
	"fmt"
	"sort"
	"strings"

	"github.com/PreethamGoud/SecureWatch/internal/types"
)

const (
	timelineMonths     = 24
	topPackagesLimit   = 20
	topReposLimit      = 15
	highlightsLimit    = 10
	highlightCVSSFloor = 8.0
)

// Aggregate computes the metrics summary over a flattened dataset. The primary
// bySeverity counts key on the raw severity string, while the timeline
// breakdown lowercases severities and folds "negligible" into "low"; that
// asymmetry is intentional and matched by the dashboard consumers.
// progress may be nil; updates cover the 50-100 range of the overall ingestion.
func Aggregate(records []types.FlatVulnerability, progress ProgressFunc) *types.Metrics {
	metrics := types.NewMetrics()
	metrics.Total = len(records)

	report := func(pct float64, msg string) {
		if progress != nil {
			progress(pct, msg)
		}
	}

	report(55, fmt.Sprintf("Aggregating %d records...", len(records)))

	for i := range records {
		v := &records[i]
		metrics.BySeverity[v.Severity]++
		metrics.ByKaiStatus[v.KaiStatus]++
		metrics.ByPackageType[v.PackageType]++
		for factor := range v.RiskFactors {
			metrics.ByRiskFactor[factor]++
		}
	}

	metrics.CVSSDistribution = cvssDistribution(records)
	report(75, "Building timeline...")
	metrics.Timeline = timeline(records)
	report(85, "Ranking packages and repositories...")
	metrics.TopPackages = topCounts(records, topPackagesLimit, func(v *types.FlatVulnerability) string { return v.PackageName })
	metrics.TopRepos = topCounts(records, topReposLimit, func(v *types.FlatVulnerability) string { return v.RepoName })
	report(95, "Selecting critical highlights...")
	metrics.CriticalHighlights = criticalHighlights(records)

	return metrics
}

// cvssDistribution buckets scores into the fixed 0-3, 3-5, 5-7, 7-9, 9-10
// histogram. Buckets are half-open except the last, which includes 10.
func cvssDistribution(records []types.FlatVulnerability) []types.CVSSBucket {
	buckets := []types.CVSSBucket{
		{Range: "0-3", Min: 0, Max: 3},
		{Range: "3-5", Min: 3, Max: 5},
		{Range: "5-7", Min: 5, Max: 7},
		{Range: "7-9", Min: 7, Max: 9},
		{Range: "9-10", Min: 9, Max: 10.1},
	}

	for i := range records {
		score := records[i].CVSS
		for b := range buckets {
			if score >= buckets[b].Min && score < buckets[b].Max {
				buckets[b].Count++
				break
			}
		}
	}

	return buckets
}

// timeline aggregates records by publish month with a severity breakdown,
// keeping only the most recent 24 months in ascending order.
func timeline(records []types.FlatVulnerability) []types.TimelineEntry {
	monthly := map[string]*types.TimelineEntry{}

	for i := range records {
		v := &records[i]
		if v.PublishedDate == nil {
			continue
		}

		key := v.PublishedDate.Format("2006-01")
		entry, ok := monthly[key]
		if !ok {
			entry = &types.TimelineEntry{Month: key}
			monthly[key] = entry
		}
		entry.Count++

		switch strings.TrimSpace(strings.ToLower(v.Severity)) {
		case "critical":
			entry.Critical++
		case "high":
			entry.High++
		case "medium":
			entry.Medium++
		case "low", "negligible":
			// negligible is grouped with low in the timeline only
			entry.Low++
		}
	}

	entries := make([]types.TimelineEntry, 0, len(monthly))
	for _, entry := range monthly {
		entries = append(entries, *entry)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Month < entries[j].Month })

	if len(entries) > timelineMonths {
		entries = entries[len(entries)-timelineMonths:]
	}
	return entries
}

// topCounts ranks records by the given key, descending by count with the name
// as deterministic tie-breaker, truncated to limit.
func topCounts(records []types.FlatVulnerability, limit int, key func(*types.FlatVulnerability) string) []types.NameCount {
	counts := map[string]int{}
	for i := range records {
		counts[key(&records[i])]++
	}

	ranked := make([]types.NameCount, 0, len(counts))
	for name, count := range counts {
		ranked = append(ranked, types.NameCount{Name: name, Count: count})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].Count != ranked[j].Count {
			return ranked[i].Count > ranked[j].Count
		}
		return ranked[i].Name < ranked[j].Name
	})

	if len(ranked) > limit {
		ranked = ranked[:limit]
	}
	return ranked
}

// criticalHighlights selects up to 10 critical/high records that either have a
// known exploit or score at least 8.0, sorted by CVSS descending.
func criticalHighlights(records []types.FlatVulnerability) []types.FlatVulnerability {
	highlights := []types.FlatVulnerability{}
	for i := range records {
		v := &records[i]
		severity := strings.ToLower(v.Severity)
		if severity != "critical" && severity != "high" {
			continue
		}
		if !v.HasExploit() && v.CVSS < highlightCVSSFloor {
			continue
		}
		highlights = append(highlights, *v)
	}

	sort.SliceStable(highlights, func(i, j int) bool { return highlights[i].CVSS > highlights[j].CVSS })

	if len(highlights) > highlightsLimit {
		highlights = highlights[:highlightsLimit]
	}
	return highlights
}
