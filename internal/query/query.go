// ABOUTME: Pure in-memory filter, sort, and derivation engine over flattened records.
// ABOUTME: Backs every interactive view; no I/O and deterministic for identical inputs.

package query

import (
	"sort"
	"strings"
	"time"

	"github.com/PreethamGoud/SecureWatch/internal/types"
	"golang.org/x/text/collate"
	"golang.org/x/text/language"
)

// DateRange bounds the published date. Either side may be nil for an
// open-ended range.
type DateRange struct {
	Start *time.Time
	End   *time.Time
}

// FilterCriteria collects every recognized filter. Criteria combine with AND
// semantics across categories; list-valued categories use membership (OR)
// semantics within the list. Zero values mean "not specified".
type FilterCriteria struct {
	SearchQuery            string
	Severities             []string
	KaiStatuses            []string
	ExcludeInvalidNoRisk   bool
	ExcludeAiInvalidNoRisk bool
	CVSSRange              *[2]float64
	PackageNames           []string
	PackageTypes           []string
	DateRange              *DateRange
	Groups                 []string
	Repos                  []string
	RiskFactors            []string
	HasExploit             *bool
	HasFix                 *bool
}

// ApplyFilters returns the subsequence of records satisfying every specified
// criterion. The input is never mutated.
func ApplyFilters(records []types.FlatVulnerability, filters FilterCriteria) []types.FlatVulnerability {
	result := []types.FlatVulnerability{}
	for i := range records {
		if matches(&records[i], &filters) {
			result = append(result, records[i])
		}
	}
	return result
}

func matches(v *types.FlatVulnerability, f *FilterCriteria) bool {
	if f.SearchQuery != "" {
		query := strings.ToLower(f.SearchQuery)
		searchable := strings.ToLower(strings.Join([]string{
			v.CVE, v.PackageName, v.Description, v.GroupName, v.RepoName,
		}, " "))
		if !strings.Contains(searchable, query) {
			return false
		}
	}

	if len(f.Severities) > 0 && !containsFold(f.Severities, v.Severity) {
		return false
	}

	if len(f.KaiStatuses) > 0 && !contains(f.KaiStatuses, v.KaiStatus) {
		return false
	}

	// The source data carries both "invalid - norisk" and "invalid-norisk"
	// spellings; normalize before comparing.
	if f.ExcludeInvalidNoRisk && types.NormalizeStatus(v.KaiStatus) == "invalid-norisk" {
		return false
	}
	if f.ExcludeAiInvalidNoRisk && types.NormalizeStatus(v.KaiStatus) == "ai-invalid-norisk" {
		return false
	}

	if f.CVSSRange != nil {
		if v.CVSS < f.CVSSRange[0] || v.CVSS > f.CVSSRange[1] {
			return false
		}
	}

	// A single package name is a substring search; multiple selections are
	// exact membership.
	if len(f.PackageNames) > 0 {
		if len(f.PackageNames) == 1 && f.PackageNames[0] != "" {
			term := strings.ToLower(f.PackageNames[0])
			if !strings.Contains(strings.ToLower(v.PackageName), term) {
				return false
			}
		} else if !contains(f.PackageNames, v.PackageName) {
			return false
		}
	}

	if len(f.PackageTypes) > 0 && !contains(f.PackageTypes, v.PackageType) {
		return false
	}

	if f.DateRange != nil && v.PublishedDate != nil {
		if f.DateRange.Start != nil && v.PublishedDate.Before(*f.DateRange.Start) {
			return false
		}
		if f.DateRange.End != nil && v.PublishedDate.After(*f.DateRange.End) {
			return false
		}
	}

	if len(f.Groups) > 0 && !contains(f.Groups, v.GroupName) {
		return false
	}

	if len(f.Repos) > 0 && !contains(f.Repos, v.RepoName) {
		return false
	}

	if len(f.RiskFactors) > 0 {
		found := false
		for _, rf := range f.RiskFactors {
			if _, ok := v.RiskFactors[rf]; ok {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}

	if f.HasExploit != nil && *f.HasExploit != v.HasExploit() {
		return false
	}

	if f.HasFix != nil && *f.HasFix != v.HasFix() {
		return false
	}

	return true
}

func contains(list []string, value string) bool {
	for _, item := range list {
		if item == value {
			return true
		}
	}
	return false
}

func containsFold(list []string, value string) bool {
	for _, item := range list {
		if strings.EqualFold(item, value) {
			return true
		}
	}
	return false
}

// SortConfig names the record field and direction for SortVulnerabilities.
type SortConfig struct {
	Field     string
	Direction string // "asc" or "desc"
}

// SortVulnerabilities returns a sorted copy of records. String fields compare
// with a locale-aware collator, numeric fields by difference, and date fields
// by time value; "desc" negates the comparison. The input is never mutated.
func SortVulnerabilities(records []types.FlatVulnerability, cfg SortConfig) []types.FlatVulnerability {
	sorted := make([]types.FlatVulnerability, len(records))
	copy(sorted, records)

	collator := collate.New(language.English)
	desc := cfg.Direction == "desc"

	sort.SliceStable(sorted, func(i, j int) bool {
		cmp := compareField(collator, &sorted[i], &sorted[j], cfg.Field)
		if desc {
			cmp = -cmp
		}
		return cmp < 0
	})

	return sorted
}

func compareField(collator *collate.Collator, a, b *types.FlatVulnerability, field string) int {
	switch field {
	case "cvss":
		switch {
		case a.CVSS < b.CVSS:
			return -1
		case a.CVSS > b.CVSS:
			return 1
		}
		return 0
	case "publishedDate", "published":
		return compareDates(a.PublishedDate, b.PublishedDate)
	case "fixedDate", "fixDate":
		return compareDates(a.FixedDate, b.FixedDate)
	case "layerDate", "layerTime":
		return compareDates(a.LayerDate, b.LayerDate)
	default:
		return collator.CompareString(stringField(a, field), stringField(b, field))
	}
}

func compareDates(a, b *time.Time) int {
	// Missing dates sort before present ones so they group together.
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	}
	switch {
	case a.Before(*b):
		return -1
	case a.After(*b):
		return 1
	}
	return 0
}

func stringField(v *types.FlatVulnerability, field string) string {
	switch field {
	case "cve":
		return v.CVE
	case "severity":
		return v.Severity
	case "packageName":
		return v.PackageName
	case "packageVersion":
		return v.PackageVersion
	case "packageType":
		return v.PackageType
	case "kaiStatus":
		return v.KaiStatus
	case "status":
		return v.Status
	case "groupName":
		return v.GroupName
	case "repoName":
		return v.RepoName
	case "imageName":
		return v.ImageName
	case "description":
		return v.Description
	default:
		return v.ID
	}
}

// Paginate slices one page out of the record list. page is zero-based; out of
// range pages yield an empty slice.
func Paginate(records []types.FlatVulnerability, page, pageSize int) []types.FlatVulnerability {
	if page < 0 || pageSize <= 0 {
		return []types.FlatVulnerability{}
	}
	start := page * pageSize
	if start >= len(records) {
		return []types.FlatVulnerability{}
	}
	end := start + pageSize
	if end > len(records) {
		end = len(records)
	}
	return records[start:end]
}

// FilterImpact summarizes how much of the dataset a filter removed.
type FilterImpact struct {
	Removed             int     `json:"removed"`
	Remaining           int     `json:"remaining"`
	PercentageRemoved   float64 `json:"percentageRemoved"`
	PercentageRemaining float64 `json:"percentageRemaining"`
}

// CalculateFilterImpact reports removed and remaining counts and their
// percentages of the original. An empty original set yields 0% removed and
// 100% remaining to avoid dividing by zero.
func CalculateFilterImpact(originalCount, filteredCount int) FilterImpact {
	removed := originalCount - filteredCount
	percentageRemoved := 0.0
	if originalCount > 0 {
		percentageRemoved = float64(removed) / float64(originalCount) * 100
	}

	return FilterImpact{
		Removed:             removed,
		Remaining:           filteredCount,
		PercentageRemoved:   percentageRemoved,
		PercentageRemaining: 100 - percentageRemoved,
	}
}

// GetUniqueValues returns the sorted distinct values of a string field, used
// to populate filter option lists.
func GetUniqueValues(records []types.FlatVulnerability, field string) []string {
	seen := map[string]struct{}{}
	for i := range records {
		if value := stringField(&records[i], field); value != "" {
			seen[value] = struct{}{}
		}
	}

	values := make([]string, 0, len(seen))
	for value := range seen {
		values = append(values, value)
	}
	sort.Strings(values)
	return values
}

// Suggestion is one typed autocomplete entry for the search box.
type Suggestion struct {
	Type  string `json:"type"`
	Value string `json:"value"`
	Label string `json:"label"`
}

// GetFilterSuggestions offers CVE and package-name completions for a partial
// query, capped at limit.
func GetFilterSuggestions(records []types.FlatVulnerability, queryText string, limit int) []Suggestion {
	suggestions := []Suggestion{}
	queryLower := strings.ToLower(queryText)

	cveCount := 0
	for i := range records {
		v := &records[i]
		if strings.Contains(strings.ToLower(v.CVE), queryLower) {
			suggestions = append(suggestions, Suggestion{
				Type:  "CVE",
				Value: v.CVE,
				Label: v.CVE + " (" + v.Severity + ")",
			})
			cveCount++
			if cveCount >= limit {
				break
			}
		}
	}

	seen := map[string]struct{}{}
	packages := []string{}
	for i := range records {
		name := records[i].PackageName
		if _, dup := seen[name]; dup {
			continue
		}
		if strings.Contains(strings.ToLower(name), queryLower) {
			seen[name] = struct{}{}
			packages = append(packages, name)
		}
	}
	if len(packages) > limit {
		packages = packages[:limit]
	}
	for _, pkg := range packages {
		suggestions = append(suggestions, Suggestion{Type: "Package", Value: pkg, Label: pkg})
	}

	if len(suggestions) > limit {
		suggestions = suggestions[:limit]
	}
	return suggestions
}

// CountBySeverity tallies records per raw severity string for quick stats.
func CountBySeverity(records []types.FlatVulnerability) map[string]int {
	counts := map[string]int{}
	for i := range records {
		counts[records[i].Severity]++
	}
	return counts
}

// GetHighPriorityVulnerabilities returns the critical/high records with CVSS
// of at least 7.0, sorted by score descending and capped at limit.
func GetHighPriorityVulnerabilities(records []types.FlatVulnerability, limit int) []types.FlatVulnerability {
	priority := []types.FlatVulnerability{}
	for i := range records {
		v := &records[i]
		severity := strings.ToLower(v.Severity)
		if (severity == "critical" || severity == "high") && v.CVSS >= 7.0 {
			priority = append(priority, *v)
		}
	}

	sort.SliceStable(priority, func(i, j int) bool { return priority[i].CVSS > priority[j].CVSS })

	if limit > 0 && len(priority) > limit {
		priority = priority[:limit]
	}
	return priority
}
