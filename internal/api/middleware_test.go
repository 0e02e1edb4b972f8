package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
})

func serve(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestRequestID(t *testing.T) {
	rec := serve(RequestID(okHandler), httptest.NewRequest("GET", "/", nil))
	if id := rec.Header().Get("X-Request-ID"); len(id) != 16 {
		t.Errorf("generated X-Request-ID = %q, want 16 hex chars", id)
	}

	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("X-Request-ID", "job-trace-1")
	rec = serve(RequestID(okHandler), req)
	if id := rec.Header().Get("X-Request-ID"); id != "job-trace-1" {
		t.Errorf("X-Request-ID = %q, want job-trace-1", id)
	}
}

func TestLoggerWritesAccessLine(t *testing.T) {
	var buf bytes.Buffer
	h := Logger(zerolog.New(&buf))(okHandler)
	serve(h, httptest.NewRequest("POST", "/api/v1/sync", nil))

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("access log is not JSON: %v (%q)", err, buf.String())
	}
	if line["path"] != "/api/v1/sync" || line["method"] != "POST" {
		t.Errorf("access log = %v, want POST /api/v1/sync", line)
	}
	if line["status"] != float64(200) {
		t.Errorf("status = %v, want 200", line["status"])
	}
}

func TestCORSWithOrigins(t *testing.T) {
	tests := []struct {
		name       string
		origins    []string
		method     string
		origin     string
		wantCode   int
		wantAllow  string
		wantVary   bool
		wantCalled bool
	}{
		{"any_origin", nil, "GET", "", 200, "*", false, true},
		{"allowed_echoed", []string{"https://studio.example"}, "GET", "https://studio.example", 200, "https://studio.example", true, true},
		{"blank_entries_ignored", []string{" ", ""}, "GET", "https://other.example", 200, "*", false, true},
		{"disallowed_served_plain", []string{"https://studio.example"}, "GET", "https://other.example", 200, "", false, true},
		{"disallowed_preflight", []string{"https://studio.example"}, "OPTIONS", "https://other.example", 403, "", false, false},
		{"preflight", nil, "OPTIONS", "", 204, "*", false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			called := false
			inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true })
			req := httptest.NewRequest(tt.method, "/", nil)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			rec := serve(CORSWithOrigins(tt.origins)(inner), req)
			if rec.Code != tt.wantCode {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantCode)
			}
			if got := rec.Header().Get("Access-Control-Allow-Origin"); got != tt.wantAllow {
				t.Errorf("Access-Control-Allow-Origin = %q, want %q", got, tt.wantAllow)
			}
			if got := rec.Header().Get("Vary") == "Origin"; got != tt.wantVary {
				t.Errorf("Vary: Origin = %v, want %v", got, tt.wantVary)
			}
			if called != tt.wantCalled {
				t.Errorf("inner called = %v, want %v", called, tt.wantCalled)
			}
		})
	}
}

func TestRateLimiter(t *testing.T) {
	h := RateLimiter(1, 2)(okHandler)
	hit := func(addr string) *httptest.ResponseRecorder {
		req := httptest.NewRequest("GET", "/api/v1/jobs", nil)
		req.RemoteAddr = addr
		return serve(h, req)
	}

	for i := 0; i < 2; i++ {
		if rec := hit("10.1.0.1:5000"); rec.Code != http.StatusOK {
			t.Fatalf("request %d: status = %d, want 200", i, rec.Code)
		}
	}

	rec := hit("10.1.0.1:5001")
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", rec.Code)
	}
	if rec.Header().Get("Retry-After") != "1" {
		t.Errorf("Retry-After = %q, want 1", rec.Header().Get("Retry-After"))
	}
	var body ErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil || body.Error == "" {
		t.Errorf("429 body = %q, want JSON error", rec.Body.String())
	}

	if rec := hit("10.1.0.2:5000"); rec.Code != http.StatusOK {
		t.Errorf("other client status = %d, want 200", rec.Code)
	}
	if rec := hit("not-a-hostport"); rec.Code != http.StatusOK {
		t.Errorf("bare RemoteAddr status = %d, want 200", rec.Code)
	}
}

func TestBearerAuth(t *testing.T) {
	tests := []struct {
		name   string
		token  string
		header string
		query  string
		want   int
	}{
		{"disabled", "", "", "", 200},
		{"header", "s3cret", "Bearer s3cret", "", 200},
		{"wrong_header", "s3cret", "Bearer nope", "", 401},
		{"missing", "s3cret", "", "", 401},
		{"query_for_event_source", "s3cret", "", "s3cret", 200},
		{"wrong_query", "s3cret", "", "nope", 401},
		{"basic_scheme", "s3cret", "Basic czNjcmV0", "", 401},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			target := "/api/v1/events/stream"
			if tt.query != "" {
				target += "?token=" + tt.query
			}
			req := httptest.NewRequest("GET", target, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := serve(BearerAuth(tt.token)(okHandler), req)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}

func TestRecoverer(t *testing.T) {
	if rec := serve(Recoverer(okHandler), httptest.NewRequest("GET", "/", nil)); rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}

	panicker := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("fit worker exploded")
	})
	rec := serve(Recoverer(panicker), httptest.NewRequest("GET", "/", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}
	if !strings.Contains(rec.Body.String(), "internal server error") {
		t.Errorf("body = %q, want internal server error", rec.Body.String())
	}
}
