package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/harvestql/harvestql/internal/query"
)

func TestQueryEndpointReturnsResults(t *testing.T) {
	cfg := loadConfig(t, map[string]string{})
	engine := &fakeQueryEngine{result: query.Result{
		Columns:   []string{"timestamp", "value"},
		Rows:      [][]any{{int64(100), `{"v":1}`}},
		Relations: []string{"harvest"},
		Duration:  20 * time.Millisecond,
	}}
	h := NewHandler(cfg, Dependencies{QueryEngine: engine})

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/v1/query", strings.NewReader(`{"sql":"SELECT * FROM harvest"}`)))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body.String())
	}
	body := decodeBody(t, rr)
	if len(body["rows"].([]any)) != 1 {
		t.Fatalf("rows = %#v", body["rows"])
	}
	if len(engine.requests) != 1 || engine.requests[0].RowLimit != 1000 {
		t.Fatalf("requests = %#v", engine.requests)
	}
}

func TestQueryEndpointHonorsRowLimit(t *testing.T) {
	cfg := loadConfig(t, map[string]string{"HARVESTQL_QUERY_DEFAULT_ROW_LIMIT": "0"})
	engine := &fakeQueryEngine{}
	h := NewHandler(cfg, Dependencies{QueryEngine: engine})

	for _, body := range []string{`{"sql":"SELECT 1"}`, `{"sql":"SELECT 1","row_limit":5}`} {
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/v1/query", strings.NewReader(body)))
		if rr.Code != http.StatusOK {
			t.Fatalf("status = %d", rr.Code)
		}
	}
	if engine.requests[0].RowLimit != 0 || engine.requests[1].RowLimit != 5 {
		t.Fatalf("requests = %#v", engine.requests)
	}
}

func TestQueryEndpointRejectsInvalidRequests(t *testing.T) {
	cfg := loadConfig(t, map[string]string{})
	h := NewHandler(cfg, Dependencies{QueryEngine: &fakeQueryEngine{}})

	tests := map[string]string{
		`{"sql":""}`:                         "SQL_REQUIRED",
		`{"sql":"DROP VIEW harvest"}`:        "SQL_NOT_ALLOWED",
		`{"sql":"SELECT 1","row_limit":-1}`:  "INVALID_ROW_LIMIT",
		`{"sql":"SELECT 1","relation":"x"}`:  "INVALID_JSON",
		`not json`:                           "INVALID_JSON",
	}
	for body, code := range tests {
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/v1/query", strings.NewReader(body)))
		if rr.Code != http.StatusBadRequest {
			t.Fatalf("%s: status = %d", body, rr.Code)
		}
		if got := decodeBody(t, rr)["error_code"]; got != code {
			t.Fatalf("%s: error_code = %v, want %s", body, got, code)
		}
	}
}

func TestQueryEndpointMapsEngineErrors(t *testing.T) {
	cfg := loadConfig(t, map[string]string{})

	engine := &fakeQueryEngine{err: errors.New("Catalog Error: Table with name nope does not exist")}
	h := NewHandler(cfg, Dependencies{QueryEngine: engine})
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/v1/query", strings.NewReader(`{"sql":"SELECT * FROM nope"}`)))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rr.Code)
	}

	engine.err = context.DeadlineExceeded
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/v1/query", strings.NewReader(`{"sql":"SELECT 1"}`)))
	if rr.Code != http.StatusGatewayTimeout {
		t.Fatalf("timeout status = %d", rr.Code)
	}
}

func TestQueryEndpointNotConfigured(t *testing.T) {
	cfg := loadConfig(t, map[string]string{})
	h := NewHandler(cfg, Dependencies{})

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/v1/query", strings.NewReader(`{"sql":"SELECT 1"}`)))
	if rr.Code != http.StatusNotImplemented {
		t.Fatalf("status = %d", rr.Code)
	}
}

type fakeQueryEngine struct {
	result   query.Result
	err      error
	requests []query.Request
}

func (e *fakeQueryEngine) Execute(_ context.Context, request query.Request) (query.Result, error) {
	e.requests = append(e.requests, request)
	if e.err != nil {
		return query.Result{}, e.err
	}
	return e.result, nil
}
