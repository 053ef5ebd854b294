// ABOUTME: Unit tests for document flattening: completeness, identity, and dates.
// ABOUTME: Covers duplicate CVE+package pairs and empty documents.

package flatten

import (
	"fmt"
	"testing"

	"github.com/PreethamGoud/SecureWatch/internal/types"
)

func testDocument() *types.SourceDocument {
	return &types.SourceDocument{
		Groups: map[string]types.Group{
			"platform": {
				Repos: map[string]types.Repo{
					"api": {
						Images: map[string]types.Image{
							"api:v1": {
								CreateTime: "2025-03-01T10:00:00Z",
								Vulnerabilities: []types.RawVulnerability{
									{CVE: "CVE-2025-0001", Severity: "critical", CVSS: 9.8, PackageName: "openssl", Published: "2025-01-15T00:00:00Z"},
									{CVE: "CVE-2025-0002", Severity: "high", CVSS: 7.4, PackageName: "zlib"},
									{CVE: "CVE-2025-0003", Severity: "low", CVSS: 2.1, PackageName: "bash"},
								},
							},
						},
					},
				},
			},
			"tools": {
				Repos: map[string]types.Repo{
					"ci": {
						Images: map[string]types.Image{
							"runner:v2": {
								Vulnerabilities: []types.RawVulnerability{
									{CVE: "CVE-2025-0001", Severity: "critical", CVSS: 9.8, PackageName: "openssl"},
									{CVE: "CVE-2025-0004", Severity: "high", CVSS: 8.8, PackageName: "curl"},
									{CVE: "CVE-2025-0005", Severity: "low", CVSS: 3.3, PackageName: "glibc"},
								},
							},
						},
					},
				},
			},
		},
	}
}

func TestFlattenCompleteness(t *testing.T) {
	doc := testDocument()

	expected := 0
	for _, group := range doc.Groups {
		for _, repo := range group.Repos {
			for _, image := range repo.Images {
				expected += len(image.Vulnerabilities)
			}
		}
	}

	records := Flatten(doc, nil)
	if len(records) != expected {
		t.Errorf("Flattened record count mismatch: got %d, want %d", len(records), expected)
	}
}

func TestFlattenIdentityUniqueness(t *testing.T) {
	// Two entries in the same image sharing CVE and package must still get
	// distinct identities via the occurrence index.
	doc := &types.SourceDocument{
		Groups: map[string]types.Group{
			"g": {Repos: map[string]types.Repo{
				"r": {Images: map[string]types.Image{
					"img:1": {Vulnerabilities: []types.RawVulnerability{
						{CVE: "CVE-2025-1111", Severity: "high", PackageName: "libfoo"},
						{CVE: "CVE-2025-1111", Severity: "high", PackageName: "libfoo"},
					}},
				}},
			}},
		},
	}

	records := Flatten(doc, nil)
	if len(records) != 2 {
		t.Fatalf("Expected 2 records, got %d", len(records))
	}

	seen := map[string]struct{}{}
	for _, record := range records {
		if _, dup := seen[record.ID]; dup {
			t.Errorf("Duplicate composite identity: %s", record.ID)
		}
		seen[record.ID] = struct{}{}
	}
}

func TestFlattenProvenanceAndDates(t *testing.T) {
	records := Flatten(testDocument(), nil)

	var withDate, withoutDate int
	for _, record := range records {
		if record.GroupName == "" || record.RepoName == "" || record.ImageName == "" {
			t.Errorf("Record %s missing provenance", record.ID)
		}
		if record.Published != "" {
			if record.PublishedDate == nil {
				t.Errorf("Record %s has raw published %q but no parsed date", record.ID, record.Published)
			}
			withDate++
		} else {
			if record.PublishedDate != nil {
				t.Errorf("Record %s has parsed date without a raw value", record.ID)
			}
			withoutDate++
		}
	}
	if withDate == 0 || withoutDate == 0 {
		t.Fatal("Test document should produce records both with and without published dates")
	}
}

func TestFlattenEmptyDocument(t *testing.T) {
	records := Flatten(&types.SourceDocument{Groups: map[string]types.Group{}}, nil)
	if len(records) != 0 {
		t.Errorf("Empty document should flatten to zero records, got %d", len(records))
	}

	metrics := Aggregate(records, nil)
	if metrics.Total != 0 {
		t.Errorf("Empty dataset should aggregate to total 0, got %d", metrics.Total)
	}
	if len(metrics.BySeverity) != 0 {
		t.Errorf("Empty dataset should have no severity counts, got %v", metrics.BySeverity)
	}
}

func TestFlattenProgressReporting(t *testing.T) {
	doc := &types.SourceDocument{Groups: map[string]types.Group{}}
	for i := 0; i < 25; i++ {
		doc.Groups[fmt.Sprintf("group-%02d", i)] = types.Group{
			Repos: map[string]types.Repo{
				"r": {Images: map[string]types.Image{
					"img:1": {Vulnerabilities: []types.RawVulnerability{{CVE: "CVE-2025-2222", Severity: "low", PackageName: "p"}}},
				}},
			},
		}
	}

	var updates []float64
	Flatten(doc, func(progress float64, _ string) {
		updates = append(updates, progress)
	})

	if len(updates) == 0 {
		t.Fatal("Expected progress updates for a 25-group document")
	}
	for i := 1; i < len(updates); i++ {
		if updates[i] < updates[i-1] {
			t.Errorf("Progress went backwards: %v", updates)
		}
	}
	final := updates[len(updates)-1]
	if final != 50 {
		t.Errorf("Flattening progress should end at 50, got %v", final)
	}
}
