// ABOUTME: HTTP handlers for ingestion status, cached metrics, exports, and load triggers.
// ABOUTME: Exports always cover the current filtered view, never the raw dataset.

package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/PreethamGoud/SecureWatch/internal/export"
	"github.com/PreethamGoud/SecureWatch/internal/loader"
	"github.com/PreethamGoud/SecureWatch/internal/query"
	"github.com/gorilla/mux"
)

// StatusResponse reports the loading-state machine and storage footprint.
type StatusResponse struct {
	State          loader.State `json:"state"`
	DataAvailable  bool         `json:"dataAvailable"`
	StoreSizeBytes int64        `json:"storeSizeBytes,omitempty"`
}

// LoadRequest triggers a new ingestion from either a URL or a local file path.
type LoadRequest struct {
	URL  string `json:"url,omitempty"`
	File string `json:"file,omitempty"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	logger := s.logger.WithField("endpoint", "/api/v1/status")

	available, err := s.loader.IsDataAvailable()
	if err != nil {
		logger.WithError(err).Error("Failed to check data availability")
		http.Error(w, "Storage unavailable", http.StatusServiceUnavailable)
		return
	}

	response := StatusResponse{
		State:         s.loader.State(),
		DataAvailable: available,
	}

	// Size estimate is best effort; an error just leaves the field empty.
	if size, err := s.loader.StoreSize(); err == nil {
		response.StoreSizeBytes = size
	}

	writeJSON(w, r, response, logger)
}

func (s *Server) handleMetricsSummary(w http.ResponseWriter, r *http.Request) {
	logger := s.logger.WithField("endpoint", "/api/v1/metrics")

	summary, err := s.loader.CachedMetrics()
	if err != nil {
		logger.WithError(err).Error("Failed to read cached metrics")
		http.Error(w, "Storage unavailable", http.StatusServiceUnavailable)
		return
	}
	if summary == nil {
		http.Error(w, "No metrics available; load a dataset first", http.StatusNotFound)
		return
	}

	writeJSON(w, r, summary, logger)
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	format := mux.Vars(r)["format"]
	logger := s.logger.WithField("endpoint", "/api/v1/export/"+format)

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
	filename := fmt.Sprintf("vulnerabilities-%s.%s", time.Now().Format("2006-01-02"), format)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))

	switch format {
	case "csv":
		w.Header().Set("Content-Type", "text/csv")
		err = export.WriteCSV(w, filtered)
	case "json":
		w.Header().Set("Content-Type", "application/json")
		err = export.WriteJSON(w, filtered)
	}
	if err != nil {
		logger.WithError(err).Error("Export failed")
		return
	}

	logger.WithField("records", len(filtered)).Info("Served export")
}

func (s *Server) handleLoad(w http.ResponseWriter, r *http.Request) {
	logger := s.logger.WithField("endpoint", "/api/v1/load")

	var request LoadRequest
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		http.Error(w, "Invalid JSON body", http.StatusBadRequest)
		return
	}
	if (request.URL == "") == (request.File == "") {
		http.Error(w, "Exactly one of url or file must be set", http.StatusBadRequest)
		return
	}

	if state := s.loader.State(); state.Status == loader.StatusLoading || state.Status == loader.StatusProcessing {
		http.Error(w, "A data load is already in progress", http.StatusConflict)
		return
	}

	// Ingestion outlives the request; progress is observable on /api/v1/status.
	go func() {
		ctx := context.Background()
		var err error
		if request.URL != "" {
			err = s.loader.LoadFromURL(ctx, request.URL)
		} else {
			err = s.loader.LoadFromFile(ctx, request.File)
		}
		if err != nil && !errors.Is(err, loader.ErrLoadInProgress) {
			logger.WithError(err).Error("Triggered load failed")
		}
	}()

	w.WriteHeader(http.StatusAccepted)
	writeJSON(w, r, map[string]string{"status": "accepted"}, logger)
}
