// ABOUTME: Common types shared across the SecureWatch system.
// ABOUTME: Defines the nested source document, flattened records, and metrics summaries.

package types

import (
	"strings"
	"time"
)

// SourceDocument is the nested vulnerability report as uploaded or fetched:
// groups -> repositories -> images -> vulnerability entries.
type SourceDocument struct {
	Groups map[string]Group `json:"groups"`
}

// Group holds all repositories belonging to one registry group.
type Group struct {
	Repos map[string]Repo `json:"repos"`
}

// Repo holds all scanned images of one repository.
type Repo struct {
	Images map[string]Image `json:"images"`
}

// Image is a single scanned container image with its raw findings.
type Image struct {
	CreateTime      string             `json:"createTime"`
	Vulnerabilities []RawVulnerability `json:"vulnerabilities"`
}

// RawVulnerability is one vulnerability entry exactly as it appears in the
// source document. Date-bearing fields stay raw strings here; they are parsed
// during flattening.
type RawVulnerability struct {
	CVE            string            `json:"cve"`
	Severity       string            `json:"severity"`
	CVSS           float64           `json:"cvss"`
	PackageName    string            `json:"packageName"`
	PackageVersion string            `json:"packageVersion"`
	PackageType    string            `json:"packageType"`
	KaiStatus      string            `json:"kaiStatus"`
	Status         string            `json:"status"`
	RiskFactors    map[string]string `json:"riskFactors,omitempty"`
	Published      string            `json:"published,omitempty"`
	FixDate        string            `json:"fixDate,omitempty"`
	LayerTime      string            `json:"layerTime,omitempty"`
	Exploit        string            `json:"exploit,omitempty"`
	Description    string            `json:"description,omitempty"`
	Link           string            `json:"link,omitempty"`
}

// FlatVulnerability is one row of the flattened dataset: a single vulnerability
// occurrence within one image, annotated with its provenance. The parsed date
// fields are in-memory only; at rest the record carries the raw strings.
type FlatVulnerability struct {
	ID string `json:"id"`

	RawVulnerability

	GroupName       string `json:"groupName"`
	RepoName        string `json:"repoName"`
	ImageName       string `json:"imageName"`
	ImageCreateTime string `json:"imageCreateTime,omitempty"`

	PublishedDate *time.Time `json:"-"`
	FixedDate     *time.Time `json:"-"`
	LayerDate     *time.Time `json:"-"`
}

// HasExploit reports whether the record carries a non-empty exploit indicator.
func (v *FlatVulnerability) HasExploit() bool {
	return v.Exploit != ""
}

// HasFix reports whether a fix date is recorded for this vulnerability.
func (v *FlatVulnerability) HasFix() bool {
	return v.FixDate != ""
}

// RehydrateDates re-parses the raw date strings into their in-memory date
// values. Called after reading records back from the store, where only the
// raw strings survive serialization.
func (v *FlatVulnerability) RehydrateDates() {
	v.PublishedDate = ParseDate(v.Published)
	v.FixedDate = ParseDate(v.FixDate)
	v.LayerDate = ParseDate(v.LayerTime)
}

// dateLayouts are tried in order when parsing the date-bearing source fields.
var dateLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ParseDate parses a raw date string from the source document. An empty or
// unparseable value yields nil rather than an error; records with unusable
// dates are still kept, they just drop out of date-based views.
func ParseDate(raw string) *time.Time {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return &t
		}
	}
	return nil
}

// NormalizeStatus canonicalizes an analysis status for the exclusion filters:
// lowercased with whitespace runs collapsed to a single dash, so that
// "Invalid - NoRisk" and "invalid-norisk" compare equal.
func NormalizeStatus(status string) string {
	return strings.Join(strings.Fields(strings.ToLower(status)), "-")
}

// Metrics is the derived aggregate over one flattened dataset. It is computed
// once per ingestion and cached in the store.
type Metrics struct {
	Total              int                 `json:"total"`
	BySeverity         map[string]int      `json:"bySeverity"`
	ByKaiStatus        map[string]int      `json:"byKaiStatus"`
	ByRiskFactor       map[string]int      `json:"byRiskFactor"`
	ByPackageType      map[string]int      `json:"byPackageType"`
	CVSSDistribution   []CVSSBucket        `json:"cvssDistribution"`
	Timeline           []TimelineEntry     `json:"timeline"`
	TopPackages        []NameCount         `json:"topPackages"`
	TopRepos           []NameCount         `json:"topRepos"`
	CriticalHighlights []FlatVulnerability `json:"criticalHighlights"`
}

// NewMetrics returns a Metrics value with all maps and slices allocated, so an
// empty dataset aggregates to zero counts rather than nulls in JSON.
func NewMetrics() *Metrics {
	return &Metrics{
		BySeverity:         map[string]int{},
		ByKaiStatus:        map[string]int{},
		ByRiskFactor:       map[string]int{},
		ByPackageType:      map[string]int{},
		CVSSDistribution:   []CVSSBucket{},
		Timeline:           []TimelineEntry{},
		TopPackages:        []NameCount{},
		TopRepos:           []NameCount{},
		CriticalHighlights: []FlatVulnerability{},
	}
}

// CVSSBucket is one bar of the fixed five-bucket CVSS score histogram.
type CVSSBucket struct {
	Range string  `json:"range"`
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Count int     `json:"count"`
}

// TimelineEntry aggregates one calendar month of published vulnerabilities
// with a per-severity breakdown.
type TimelineEntry struct {
	Month    string `json:"month"`
	Count    int    `json:"count"`
	Critical int    `json:"critical"`
	High     int    `json:"high"`
	Medium   int    `json:"medium"`
	Low      int    `json:"low"`
}

// NameCount is a name with an occurrence count, used for top-N rankings.
type NameCount struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}
