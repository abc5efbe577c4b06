package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestRecordRequest(t *testing.T) {
	RecordRequest("GET", "/test", 200, 100*time.Millisecond)
	RecordRequest("POST", "/test", 201, 50*time.Millisecond)
	RecordRequest("GET", "/test", 404, 10*time.Millisecond)
}

func TestRecordSOSTrigger(t *testing.T) {
	RecordSOSTrigger("manual")
	RecordSOSTrigger("voice")
}

func TestRecordDispatchAttempt(t *testing.T) {
	RecordDispatchAttempt("webhook", "success")
	RecordDispatchAttempt("telegram", "failure")
	RecordDispatchAttempt("sms", "success")
}

func TestRecordTransmission(t *testing.T) {
	RecordTransmission("webhook")
	RecordTransmission("whatsapp")
}

func TestRecordComposeFallback(t *testing.T) {
	RecordComposeFallback()
}

func TestRecordClassifierError(t *testing.T) {
	RecordClassifierError()
}

func TestRecordRateLimitRejection(t *testing.T) {
	RecordRateLimitRejection("device-1")
	RecordRateLimitRejection("device-2")
}

func TestRecordIdempotencyHit(t *testing.T) {
	RecordIdempotencyHit()
}

func TestHandlerServesMetrics(t *testing.T) {
	handler := Handler()
	if handler == nil {
		t.Fatal("Handler should not return nil")
	}

	RecordSOSTrigger("manual")

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "guardian_sos_triggers_total") {
		t.Error("metrics output missing guardian_sos_triggers_total")
	}
}

func TestMiddlewareRecordsStatus(t *testing.T) {
	handler := Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	req := httptest.NewRequest(http.MethodGet, "/v1/sos", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusTeapot {
		t.Fatalf("status = %d, want 418", rec.Code)
	}
}
