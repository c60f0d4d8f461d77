package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHealthzAlwaysOK(t *testing.T) {
	t.Parallel()

	h := New()
	rec := httptest.NewRecorder()
	h.Healthz(rec, httptest.NewRequest("GET", "/healthz", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("want 200, got %d", rec.Code)
	}
	var body result
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Status != "ok" {
		t.Fatalf("want status ok, got %q", body.Status)
	}
}

func TestReadyzAllPass(t *testing.T) {
	t.Parallel()

	h := New(
		Checker{Name: "redis", Check: func(context.Context) error { return nil }},
		Checker{Name: "postgres", Check: func(context.Context) error { return nil }},
	)
	rec := httptest.NewRecorder()
	h.Readyz(rec, httptest.NewRequest("GET", "/readyz", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("want 200, got %d", rec.Code)
	}
	var body result
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Checks["redis"] != "ok" || body.Checks["postgres"] != "ok" {
		t.Fatalf("want both checks ok, got %+v", body.Checks)
	}
}

func TestReadyzFailingCheckerReturns503(t *testing.T) {
	t.Parallel()

	h := New(
		Checker{Name: "redis", Check: func(context.Context) error { return nil }},
		Checker{Name: "postgres", Check: func(context.Context) error {
			return errors.New("connection refused")
		}},
	)
	rec := httptest.NewRecorder()
	h.Readyz(rec, httptest.NewRequest("GET", "/readyz", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("want 503, got %d", rec.Code)
	}
	var body result
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Status != "fail" {
		t.Fatalf("want status fail, got %q", body.Status)
	}
	if body.Checks["postgres"] != "fail: connection refused" {
		t.Fatalf("want failure detail, got %q", body.Checks["postgres"])
	}
	if body.Checks["redis"] != "ok" {
		t.Fatalf("healthy check must still report ok, got %q", body.Checks["redis"])
	}
}
