// ABOUTME: Unit tests for CSV and JSON export of filtered record sets.
// ABOUTME: Verifies the fixed header, quoting, and the JSON export round trip.

package export

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"strings"
	"testing"

	"github.com/PreethamGoud/SecureWatch/internal/types"
)

func exportRecords() []types.FlatVulnerability {
	return []types.FlatVulnerability{
		{
			ID: "g|r|img:1|CVE-2025-0001|openssl|0",
			RawVulnerability: types.RawVulnerability{
				CVE: "CVE-2025-0001", Severity: "critical", CVSS: 9.8,
				PackageName: "openssl", PackageVersion: "3.0.1", PackageType: "os",
				KaiStatus: "pending", Status: "fixed in 3.0.2",
				Published: "2025-01-15T00:00:00Z", FixDate: "2025-02-01T00:00:00Z",
				Description: `buffer overflow, "critical" impact`,
				Link:        "https://nvd.nist.gov/vuln/detail/CVE-2025-0001",
			},
			GroupName: "platform", RepoName: "api", ImageName: "img:1",
		},
		{
			ID: "g|r|img:1|CVE-2025-0002|zlib|1",
			RawVulnerability: types.RawVulnerability{
				CVE: "CVE-2025-0002", Severity: "low", CVSS: 2.5,
				PackageName: "zlib", KaiStatus: "invalid - norisk",
			},
			GroupName: "platform", RepoName: "api", ImageName: "img:1",
		},
		{
			ID: "g|r|img:2|CVE-2025-0003|bash|0",
			RawVulnerability: types.RawVulnerability{
				CVE: "CVE-2025-0003", Severity: "medium", CVSS: 5.5,
				PackageName: "bash", Exploit: "public",
			},
			GroupName: "tools", RepoName: "ci", ImageName: "img:2",
		},
	}
}

func TestWriteCSVHeaderAndRows(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteCSV(&buf, exportRecords()); err != nil {
		t.Fatalf("WriteCSV failed: %v", err)
	}

	reader := csv.NewReader(&buf)
	rows, err := reader.ReadAll()
	if err != nil {
		t.Fatalf("Exported CSV is not parseable: %v", err)
	}

	if len(rows) != 4 {
		t.Fatalf("Expected header + 3 rows, got %d", len(rows))
	}

	header := rows[0]
	if len(header) != 17 {
		t.Errorf("Header has %d columns, want 17", len(header))
	}
	if header[0] != "CVE ID" || header[16] != "Link" {
		t.Errorf("Unexpected header boundaries: %q ... %q", header[0], header[16])
	}

	first := rows[1]
	if first[0] != "CVE-2025-0001" {
		t.Errorf("First row CVE = %q", first[0])
	}
	if first[1] != "CRITICAL" {
		t.Errorf("Severity must be uppercased in CSV, got %q", first[1])
	}
	if !strings.Contains(first[15], `"critical"`) {
		t.Errorf("Quoted description should survive the round trip, got %q", first[15])
	}
}

func TestWriteCSVEmptySet(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteCSV(&buf, nil); err != nil {
		t.Fatalf("WriteCSV failed: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Errorf("Empty export should contain only the header, got %d lines", len(lines))
	}
}

func TestWriteJSONRoundTrip(t *testing.T) {
	records := exportRecords()

	var buf bytes.Buffer
	if err := WriteJSON(&buf, records); err != nil {
		t.Fatalf("WriteJSON failed: %v", err)
	}

	var decoded []types.FlatVulnerability
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("Exported JSON is not parseable: %v", err)
	}

	if len(decoded) != len(records) {
		t.Fatalf("Round trip count mismatch: got %d, want %d", len(decoded), len(records))
	}

	for i := range records {
		if decoded[i].ID != records[i].ID ||
			decoded[i].CVE != records[i].CVE ||
			decoded[i].Severity != records[i].Severity ||
			decoded[i].CVSS != records[i].CVSS ||
			decoded[i].Published != records[i].Published ||
			decoded[i].Description != records[i].Description {
			t.Errorf("Record %d changed across the round trip:\n got %+v\nwant %+v", i, decoded[i], records[i])
		}
	}
}
