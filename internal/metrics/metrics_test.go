// ABOUTME: Tests for Prometheus metrics exposition of the loaded dataset.
// ABOUTME: Verifies gauge values, loading state labels, and HTTP response format.

package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/PreethamGoud/SecureWatch/internal/loader"
	"github.com/PreethamGoud/SecureWatch/internal/types"
	"github.com/sirupsen/logrus"
)

type mockProvider struct {
	metrics *types.Metrics
	state   loader.State
	size    int64
}

func (m *mockProvider) CachedMetrics() (*types.Metrics, error) { return m.metrics, nil }
func (m *mockProvider) State() loader.State                    { return m.state }
func (m *mockProvider) StoreSize() (int64, error)              { return m.size, nil }

func scrape(t *testing.T, provider DatasetProvider) string {
	t.Helper()

	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)

	handler := NewHandler(provider, logger)
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, req)

	if recorder.Code != http.StatusOK {
		t.Fatalf("ServeHTTP() returned status %d, want %d", recorder.Code, http.StatusOK)
	}
	return recorder.Body.String()
}

func TestServeHTTPWithDataset(t *testing.T) {
	summary := types.NewMetrics()
	summary.Total = 42
	summary.BySeverity["critical"] = 5
	summary.BySeverity["high"] = 12
	summary.ByRiskFactor["Has fix"] = 30
	summary.ByPackageType["os"] = 25

	provider := &mockProvider{
		metrics: summary,
		state:   loader.State{Status: loader.StatusReady, Progress: 100},
		size:    8192,
	}

	body := scrape(t, provider)

	expected := []string{
		"securewatch_vulnerabilities_total 42",
		`securewatch_vulnerability_severity_count{severity="critical"} 5`,
		`securewatch_vulnerability_severity_count{severity="high"} 12`,
		`securewatch_vulnerability_risk_factor_count{risk_factor="Has fix"} 30`,
		`securewatch_vulnerability_package_type_count{package_type="os"} 25`,
		`securewatch_loading_state{state="ready"} 1`,
		`securewatch_loading_state{state="idle"} 0`,
		"securewatch_loading_progress 100",
		"securewatch_store_size_bytes 8192",
	}
	for _, want := range expected {
		if !strings.Contains(body, want) {
			t.Errorf("Metrics output missing %q", want)
		}
	}
}

func TestServeHTTPWithoutDataset(t *testing.T) {
	provider := &mockProvider{state: loader.State{Status: loader.StatusIdle}}

	body := scrape(t, provider)

	if !strings.Contains(body, "securewatch_vulnerabilities_total 0") {
		t.Error("Total gauge should read 0 before any ingestion")
	}
	if !strings.Contains(body, `securewatch_loading_state{state="idle"} 1`) {
		t.Error("Idle state should be the active label")
	}
}

func TestServeHTTPStaleLabelsCleared(t *testing.T) {
	summary := types.NewMetrics()
	summary.Total = 10
	summary.BySeverity["medium"] = 10

	provider := &mockProvider{metrics: summary, state: loader.State{Status: loader.StatusReady}}

	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	handler := NewHandler(provider, logger)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, req)

	// Second ingestion replaces the dataset; the medium label must not linger.
	replacement := types.NewMetrics()
	replacement.Total = 3
	replacement.BySeverity["critical"] = 3
	provider.metrics = replacement

	recorder = httptest.NewRecorder()
	handler.ServeHTTP(recorder, req)
	body := recorder.Body.String()

	if strings.Contains(body, `severity="medium"`) {
		t.Error("Stale severity label survived a dataset replacement")
	}
	if !strings.Contains(body, `securewatch_vulnerability_severity_count{severity="critical"} 3`) {
		t.Error("Replacement dataset severity count missing")
	}
}
