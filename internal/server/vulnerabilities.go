// ABOUTME: HTTP handlers for the filtered vulnerability view and its derivations.
// ABOUTME: Parses filter/sort query parameters and serves records, suggestions, and priorities.

package server

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/PreethamGoud/SecureWatch/internal/query"
	"github.com/PreethamGoud/SecureWatch/internal/types"
	"github.com/sirupsen/logrus"
)

const (
	maxSearchLength = 200
	maxLimit        = 10000
	defaultPageSize = 100
)

// VulnerabilitiesResponse is the envelope for the filtered view endpoint.
type VulnerabilitiesResponse struct {
	Vulnerabilities []types.FlatVulnerability `json:"vulnerabilities"`
	Summary         ViewSummary               `json:"summary"`
}

// ViewSummary describes the filtered view relative to the full dataset.
type ViewSummary struct {
	Total             int                `json:"total"`
	Filtered          int                `json:"filtered"`
	SeverityBreakdown map[string]int     `json:"severityBreakdown"`
	Impact            query.FilterImpact `json:"impact"`
}

func (s *Server) handleVulnerabilities(w http.ResponseWriter, r *http.Request) {
	logger := s.logger.WithField("endpoint", "/api/v1/vulnerabilities")

	filters, ok := s.parseFilters(w, r)
	if !ok {
		return
	}

	records, err := s.records.GetAll()
	if err != nil {
		logger.WithError(err).Error("Failed to read records")
		http.Error(w, "Storage unavailable", http.StatusServiceUnavailable)
		return
	}

	filtered := query.ApplyFilters(records, filters)

	if field := strings.TrimSpace(r.URL.Query().Get("sort")); field != "" {
		direction := strings.TrimSpace(r.URL.Query().Get("direction"))
		if direction != "desc" {
			direction = "asc"
		}
		filtered = query.SortVulnerabilities(filtered, query.SortConfig{Field: field, Direction: direction})
	}

	impact := query.CalculateFilterImpact(len(records), len(filtered))
	breakdown := query.CountBySeverity(filtered)

	view := filtered
	if pageParam := r.URL.Query().Get("page"); pageParam != "" {
		page, err := strconv.Atoi(pageParam)
		if err != nil || page < 0 {
			http.Error(w, "Invalid page parameter. Must be a non-negative integer", http.StatusBadRequest)
			return
		}
		pageSize := defaultPageSize
		if sizeParam := r.URL.Query().Get("pageSize"); sizeParam != "" {
			pageSize, err = strconv.Atoi(sizeParam)
			if err != nil || pageSize <= 0 || pageSize > maxLimit {
				http.Error(w, "Invalid pageSize parameter", http.StatusBadRequest)
				return
			}
		}
		view = query.Paginate(filtered, page, pageSize)
	} else if limit, ok := parseLimit(w, r); !ok {
		return
	} else if limit > 0 && len(view) > limit {
		view = view[:limit]
	}

	logger.WithFields(logrus.Fields{
		"total":    len(records),
		"filtered": len(filtered),
		"served":   len(view),
	}).Debug("Serving filtered vulnerability view")

	writeJSON(w, r, VulnerabilitiesResponse{
		Vulnerabilities: view,
		Summary: ViewSummary{
			Total:             len(records),
			Filtered:          len(filtered),
			SeverityBreakdown: breakdown,
			Impact:            impact,
		},
	}, logger)
}

func (s *Server) handleSuggestions(w http.ResponseWriter, r *http.Request) {
	logger := s.logger.WithField("endpoint", "/api/v1/vulnerabilities/suggestions")

	q := strings.TrimSpace(r.URL.Query().Get("q"))
	if q == "" {
		http.Error(w, "Missing q parameter", http.StatusBadRequest)
		return
	}
	if len(q) > maxSearchLength {
		http.Error(w, "Query too long. Maximum allowed is 200 characters", http.StatusBadRequest)
		return
	}

	limit := 10
	if limitParam := r.URL.Query().Get("limit"); limitParam != "" {
		parsed, err := strconv.Atoi(limitParam)
		if err != nil || parsed <= 0 || parsed > 100 {
			http.Error(w, "Invalid limit parameter. Must be between 1 and 100", http.StatusBadRequest)
			return
		}
		limit = parsed
	}

	records, err := s.records.GetAll()
	if err != nil {
		logger.WithError(err).Error("Failed to read records")
		http.Error(w, "Storage unavailable", http.StatusServiceUnavailable)
		return
	}

	writeJSON(w, r, query.GetFilterSuggestions(records, q, limit), logger)
}

func (s *Server) handleHighPriority(w http.ResponseWriter, r *http.Request) {
	logger := s.logger.WithField("endpoint", "/api/v1/vulnerabilities/high-priority")

	limit := 20
	if limitParam := r.URL.Query().Get("limit"); limitParam != "" {
		parsed, err := strconv.Atoi(limitParam)
		if err != nil || parsed <= 0 || parsed > maxLimit {
			http.Error(w, "Invalid limit parameter", http.StatusBadRequest)
			return
		}
		limit = parsed
	}

	records, err := s.records.GetAll()
	if err != nil {
		logger.WithError(err).Error("Failed to read records")
		http.Error(w, "Storage unavailable", http.StatusServiceUnavailable)
		return
	}

	writeJSON(w, r, query.GetHighPriorityVulnerabilities(records, limit), logger)
}

// parseFilters maps query parameters onto FilterCriteria. It writes an HTTP
// error and returns ok=false on invalid input.
func (s *Server) parseFilters(w http.ResponseWriter, r *http.Request) (query.FilterCriteria, bool) {
	params := r.URL.Query()
	filters := query.FilterCriteria{}

	filters.SearchQuery = strings.TrimSpace(params.Get("search"))
	if len(filters.SearchQuery) > maxSearchLength {
		http.Error(w, "Search query too long. Maximum allowed is 200 characters", http.StatusBadRequest)
		return filters, false
	}

	filters.Severities = splitParam(params.Get("severity"))
	filters.KaiStatuses = splitParam(params.Get("kaiStatus"))
	filters.PackageNames = splitParam(params.Get("package"))
	filters.PackageTypes = splitParam(params.Get("packageType"))
	filters.Groups = splitParam(params.Get("group"))
	filters.Repos = splitParam(params.Get("repo"))
	filters.RiskFactors = splitParam(params.Get("riskFactor"))

	filters.ExcludeInvalidNoRisk = params.Get("excludeInvalidNoRisk") == "true"
	filters.ExcludeAiInvalidNoRisk = params.Get("excludeAiInvalidNoRisk") == "true"

	minParam, maxParam := params.Get("cvssMin"), params.Get("cvssMax")
	if minParam != "" || maxParam != "" {
		cvssRange := [2]float64{0, 10}
		var err error
		if minParam != "" {
			if cvssRange[0], err = strconv.ParseFloat(minParam, 64); err != nil {
				http.Error(w, "Invalid cvssMin parameter", http.StatusBadRequest)
				return filters, false
			}
		}
		if maxParam != "" {
			if cvssRange[1], err = strconv.ParseFloat(maxParam, 64); err != nil {
				http.Error(w, "Invalid cvssMax parameter", http.StatusBadRequest)
				return filters, false
			}
		}
		filters.CVSSRange = &cvssRange
	}

	afterParam, beforeParam := params.Get("publishedAfter"), params.Get("publishedBefore")
	if afterParam != "" || beforeParam != "" {
		dateRange := query.DateRange{}
		if afterParam != "" {
			if dateRange.Start = types.ParseDate(afterParam); dateRange.Start == nil {
				http.Error(w, "Invalid publishedAfter date", http.StatusBadRequest)
				return filters, false
			}
		}
		if beforeParam != "" {
			if dateRange.End = types.ParseDate(beforeParam); dateRange.End == nil {
				http.Error(w, "Invalid publishedBefore date", http.StatusBadRequest)
				return filters, false
			}
		}
		filters.DateRange = &dateRange
	}

	if v := params.Get("hasExploit"); v != "" {
		b := v == "true"
		filters.HasExploit = &b
	}
	if v := params.Get("hasFix"); v != "" {
		b := v == "true"
		filters.HasFix = &b
	}

	return filters, true
}

func parseLimit(w http.ResponseWriter, r *http.Request) (int, bool) {
	limitParam := strings.TrimSpace(r.URL.Query().Get("limit"))
	if limitParam == "" {
		return 0, true
	}
	parsed, err := strconv.Atoi(limitParam)
	if err != nil || parsed < 0 {
		http.Error(w, "Invalid limit parameter. Must be a positive integer", http.StatusBadRequest)
		return 0, false
	}
	if parsed > maxLimit {
		http.Error(w, "Limit parameter too large. Maximum allowed is 10000", http.StatusBadRequest)
		return 0, false
	}
	return parsed, true
}

func splitParam(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	values := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			values = append(values, trimmed)
		}
	}
	return values
}

func writeJSON(w http.ResponseWriter, r *http.Request, payload any, logger *logrus.Entry) {
	w.Header().Set("Content-Type", "application/json")

	encoder := json.NewEncoder(w)
	if r.URL.Query().Get("pretty") != "" {
		encoder.SetIndent("", "  ")
	}
	if err := encoder.Encode(payload); err != nil {
		logger.WithError(err).Error("Failed to encode JSON response")
		http.Error(w, "Internal server error", http.StatusInternalServerError)
	}
}
