package httpserver

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestChain_Order(t *testing.T) {
	var order []string

	mw := func(name string) Middleware {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}

	h := Chain(okHandler(), mw("first"), mw("second"), mw("third"))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	h.ServeHTTP(httptest.NewRecorder(), req)

	if len(order) != 3 || order[0] != "first" || order[1] != "second" || order[2] != "third" {
		t.Errorf("middleware order = %v", order)
	}
}

func TestRequestID_Generated(t *testing.T) {
	var captured string
	h := Chain(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured = GetRequestIDFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}), RequestID())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if captured == "" {
		t.Fatal("request ID should be generated")
	}
	if !strings.HasPrefix(captured, "req-") {
		t.Errorf("request ID %q should have req- prefix", captured)
	}
	if rec.Header().Get("X-Request-ID") != captured {
		t.Error("request ID should be echoed in response header")
	}
}

func TestRequestID_Propagated(t *testing.T) {
	var captured string
	h := Chain(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured = GetRequestIDFromContext(r.Context())
	}), RequestID())

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "req-from-client")
	h.ServeHTTP(httptest.NewRecorder(), req)

	if captured != "req-from-client" {
		t.Errorf("request ID = %q, want req-from-client", captured)
	}
}

func TestRateLimit_Blocks(t *testing.T) {
	h := Chain(okHandler(), RateLimit(2))

	statuses := make([]int, 0, 4)
	for i := 0; i < 4; i++ {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = "10.0.0.1:12345"
		h.ServeHTTP(rec, req)
		statuses = append(statuses, rec.Code)
	}

	if statuses[0] != http.StatusOK || statuses[1] != http.StatusOK {
		t.Errorf("first two requests should pass, got %v", statuses)
	}
	if statuses[3] != http.StatusTooManyRequests {
		t.Errorf("burst-exceeding request should be limited, got %v", statuses)
	}
}

func TestRateLimit_PerIP(t *testing.T) {
	h := Chain(okHandler(), RateLimit(1))

	for _, ip := range []string{"10.0.0.1:1", "10.0.0.2:1", "10.0.0.3:1"} {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = ip
		h.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Errorf("first request from %s should pass, got %d", ip, rec.Code)
		}
	}
}

func TestRecover_Panic(t *testing.T) {
	h := Chain(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}), RequestID(), Recover(testLogger()))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
	if rec.Header().Get("X-Error-Code") != "PM-SYS-5000" {
		t.Errorf("X-Error-Code = %q", rec.Header().Get("X-Error-Code"))
	}
}

func TestCORS_AllowedOrigin(t *testing.T) {
	h := Chain(okHandler(), CORS([]string{"https://app.example.com"}))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Origin", "https://app.example.com")
	h.ServeHTTP(rec, req)

	if rec.Header().Get("Access-Control-Allow-Origin") != "https://app.example.com" {
		t.Error("allowed origin should be echoed")
	}
}

func TestCORS_DisallowedOrigin(t *testing.T) {
	h := Chain(okHandler(), CORS([]string{"https://app.example.com"}))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	h.ServeHTTP(rec, req)

	if rec.Header().Get("Access-Control-Allow-Origin") != "" {
		t.Error("disallowed origin should get no CORS headers")
	}
}

func TestCORS_Preflight(t *testing.T) {
	h := Chain(okHandler(), CORS(nil))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodOptions, "/", nil)
	req.Header.Set("Origin", "https://app.example.com")
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Errorf("preflight status = %d, want 204", rec.Code)
	}
}

func TestNetworkACL(t *testing.T) {
	tests := []struct {
		name      string
		allowList []string
		remote    string
		wantCode  int
	}{
		{"empty list allows all", nil, "203.0.113.7:1", http.StatusOK},
		{"single IP match", []string{"10.0.0.1"}, "10.0.0.1:1", http.StatusOK},
		{"single IP mismatch", []string{"10.0.0.1"}, "10.0.0.2:1", http.StatusForbidden},
		{"CIDR match", []string{"192.168.0.0/16"}, "192.168.5.9:1", http.StatusOK},
		{"CIDR mismatch", []string{"192.168.0.0/16"}, "172.16.0.1:1", http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := Chain(okHandler(), NetworkACL(&NetworkACLConfig{
				AllowList: tt.allowList,
				Logger:    testLogger(),
			}))

			rec := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, "/admin/v1/status/summary", nil)
			req.RemoteAddr = tt.remote
			h.ServeHTTP(rec, req)

			if rec.Code != tt.wantCode {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantCode)
			}
		})
	}
}

func TestAudit_LogsWithoutAltering(t *testing.T) {
	h := Chain(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	}), RequestID(), Audit(testLogger()))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/records", nil))

	if rec.Code != http.StatusCreated {
		t.Errorf("audit middleware altered status: %d", rec.Code)
	}
}

func TestGetClientIP(t *testing.T) {
	tests := []struct {
		name   string
		setup  func(*http.Request)
		remote string
		want   string
	}{
		{
			name:   "X-Forwarded-For first hop",
			setup:  func(r *http.Request) { r.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1") },
			remote: "10.0.0.2:1",
			want:   "203.0.113.7",
		},
		{
			name:   "X-Real-IP",
			setup:  func(r *http.Request) { r.Header.Set("X-Real-IP", "203.0.113.8") },
			remote: "10.0.0.2:1",
			want:   "203.0.113.8",
		},
		{
			name:   "RemoteAddr IPv4",
			setup:  func(r *http.Request) {},
			remote: "10.0.0.2:443",
			want:   "10.0.0.2",
		},
		{
			name:   "RemoteAddr IPv6",
			setup:  func(r *http.Request) {},
			remote: "[::1]:8080",
			want:   "::1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remote
			tt.setup(req)
			if got := getClientIP(req); got != tt.want {
				t.Errorf("getClientIP = %q, want %q", got, tt.want)
			}
		})
	}
}
