package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/harvestql/harvestql/internal/maintenance"
)

func TestRetentionRunPassesRelationFilter(t *testing.T) {
	cfg := loadConfig(t, map[string]string{})
	runner := &fakeMaintenance{retention: maintenance.RetentionSummary{RelationsScanned: 1, ExportsDeleted: 2}}
	h := NewHandler(cfg, Dependencies{Maintenance: runner})

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/v1/maintenance/retention?relation=harvest", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body.String())
	}
	if runner.lastRelation != "harvest" {
		t.Fatalf("relation = %q", runner.lastRelation)
	}
	summary := decodeBody(t, rr)["summary"].(map[string]any)
	if summary["exports_deleted"] != float64(2) {
		t.Fatalf("summary = %#v", summary)
	}
}

func TestIntegrityRunFailureIsRetryable(t *testing.T) {
	cfg := loadConfig(t, map[string]string{})
	runner := &fakeMaintenance{
		integrity: maintenance.IntegritySummary{ExportsChecked: 1, MissingObjects: 1},
		err:       errors.New("integrity check found 1 issue(s)"),
	}
	h := NewHandler(cfg, Dependencies{Maintenance: runner})

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/v1/maintenance/integrity", nil))
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", rr.Code)
	}
	body := decodeBody(t, rr)
	if body["error_code"] != "INTEGRITY_CHECK_FAILED" || body["retryable"] != true {
		t.Fatalf("body = %#v", body)
	}
	if runner.lastRelation != "" {
		t.Fatalf("relation = %q, want all relations", runner.lastRelation)
	}
}

func TestMaintenanceNotConfigured(t *testing.T) {
	cfg := loadConfig(t, map[string]string{})
	h := NewHandler(cfg, Dependencies{})

	for _, path := range []string{"/v1/maintenance/retention", "/v1/maintenance/integrity"} {
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, path, nil))
		if rr.Code != http.StatusNotImplemented {
			t.Fatalf("%s: status = %d", path, rr.Code)
		}
	}
}

type fakeMaintenance struct {
	retention    maintenance.RetentionSummary
	integrity    maintenance.IntegritySummary
	err          error
	lastRelation string
}

func (m *fakeMaintenance) RunRetentionOnce(_ context.Context, relationName string) (maintenance.RetentionSummary, error) {
	m.lastRelation = relationName
	return m.retention, m.err
}

func (m *fakeMaintenance) RunIntegrityCheckOnce(_ context.Context, relationName string) (maintenance.IntegritySummary, error) {
	m.lastRelation = relationName
	return m.integrity, m.err
}
