package trace

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestMiddlewareTracksRequests(t *testing.T) {
	m := NewMiddleware(nil)

	var seenID string
	handler := m.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seenID = GetRequestID(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	for i := 0; i < 3; i++ {
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, httptest.NewRequest("GET", "/campaigns/1", nil))
		if rr.Code != http.StatusNoContent {
			t.Fatalf("status = %d, want 204", rr.Code)
		}
	}

	if seenID == "" {
		t.Error("handler should see a request id in context")
	}
	if !strings.HasPrefix(seenID, "req_") {
		t.Errorf("request id %q should have req_ prefix", seenID)
	}

	metrics := m.GetMetrics()
	if metrics.TotalRequests != 3 {
		t.Errorf("TotalRequests = %d, want 3", metrics.TotalRequests)
	}
}

func TestGetRequestIDMissing(t *testing.T) {
	r := httptest.NewRequest("GET", "/", nil)
	if id := GetRequestID(r.Context()); id != "" {
		t.Errorf("GetRequestID on bare context = %q, want empty", id)
	}
}

func TestGenerateRequestIDUnique(t *testing.T) {
	a := GenerateRequestID()
	b := GenerateRequestID()
	if a == b {
		t.Errorf("consecutive ids should differ, both %q", a)
	}
}
