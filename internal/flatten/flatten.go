// ABOUTME: Flattens the nested group/repo/image document into queryable records.
// ABOUTME: Walks the document in traversal order and reports progress per group batch.

package flatten

import (
	"fmt"

	"github.com/PreethamGoud/SecureWatch/internal/types"
)

// ProgressFunc receives progress updates during flattening and aggregation.
// progress is a percentage of the overall ingestion: flattening reports
// 0-50, aggregation 50-100.
type ProgressFunc func(progress float64, message string)

// Flatten converts the nested source document into one record per
// (group, repo, image, vulnerability occurrence). The occurrence index is part
// of the composite ID so that duplicate CVE+package pairs within one image
// never collapse into a single record. progress may be nil.
func Flatten(doc *types.SourceDocument, progress ProgressFunc) []types.FlatVulnerability {
	flattened := []types.FlatVulnerability{}
	if doc == nil {
		return flattened
	}

	totalGroups := len(doc.Groups)
	processedGroups := 0
	totalVulns := 0

	for groupName, group := range doc.Groups {
		for repoName, repo := range group.Repos {
			for imageName, image := range repo.Images {
				for i, vuln := range image.Vulnerabilities {
					totalVulns++

					record := types.FlatVulnerability{
						ID:               CompositeID(groupName, repoName, imageName, vuln.CVE, vuln.PackageName, i),
						RawVulnerability: vuln,
						GroupName:        groupName,
						RepoName:         repoName,
						ImageName:        imageName,
						ImageCreateTime:  image.CreateTime,
					}
					record.RehydrateDates()

					flattened = append(flattened, record)
				}
			}
		}

		processedGroups++
		if progress != nil && (processedGroups%10 == 0 || processedGroups == totalGroups) {
			pct := float64(processedGroups) / float64(totalGroups) * 50
			progress(pct, fmt.Sprintf("Processing group %d/%d - %d vulnerabilities", processedGroups, totalGroups, totalVulns))
		}
	}

	return flattened
}

// CompositeID builds the unique identity of one vulnerability occurrence.
// index disambiguates repeated CVE+package pairs within the same image.
func CompositeID(group, repo, image, cve, pkg string, index int) string {
	return fmt.Sprintf("%s|%s|%s|%s|%s|%d", group, repo, image, cve, pkg, index)
}
