// ABOUTME: CSV and JSON export of the currently filtered vulnerability view.
// ABOUTME: Writes the fixed 17-column CSV layout and pretty-printed JSON arrays.

package export

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/PreethamGoud/SecureWatch/internal/types"
)

// csvHeader is the fixed column layout consumed by downstream spreadsheets.
var csvHeader = []string{
	"CVE ID",
	"Severity",
	"CVSS Score",
	"Package Name",
	"Package Version",
	"Package Type",
	"KAI Status",
	"Status",
	"Group",
	"Repository",
	"Image",
	"Published Date",
	"Fix Date",
	"Layer Time",
	"Exploit",
	"Description",
	"Link",
}

// WriteCSV writes records as CSV with the fixed header. Fields containing
// separators or quotes (descriptions in particular) are double-quote-escaped
// by the writer.
func WriteCSV(w io.Writer, records []types.FlatVulnerability) error {
	cw := csv.NewWriter(w)

	if err := cw.Write(csvHeader); err != nil {
		return fmt.Errorf("failed to write CSV header: %w", err)
	}

	for i := range records {
		v := &records[i]
		row := []string{
			v.CVE,
			strings.ToUpper(v.Severity),
			strconv.FormatFloat(v.CVSS, 'f', -1, 64),
			v.PackageName,
			v.PackageVersion,
			v.PackageType,
			v.KaiStatus,
			v.Status,
			v.GroupName,
			v.RepoName,
			v.ImageName,
			v.Published,
			v.FixDate,
			v.LayerTime,
			v.Exploit,
			v.Description,
			v.Link,
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("failed to write CSV row %d: %w", i, err)
		}
	}

	cw.Flush()
	return cw.Error()
}

// WriteJSON writes records as a pretty-printed JSON array. Date fields appear
// in their raw string form, matching the at-rest representation.
func WriteJSON(w io.Writer, records []types.FlatVulnerability) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(records); err != nil {
		return fmt.Errorf("failed to encode JSON export: %w", err)
	}
	return nil
}
