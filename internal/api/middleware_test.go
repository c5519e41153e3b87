package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestIsAllowedOrigin(t *testing.T) {
	allowed := []string{
		"http://localhost:3000",
		"http://localhost:8080",
		"http://localhost",
		"https://localhost:5173",
		"http://127.0.0.1:3000",
		"http://127.0.0.1",
		"http://[::1]:3000",
	}

	for _, origin := range allowed {
		if !isAllowedOrigin(origin) {
			t.Errorf("isAllowedOrigin(%q) = false, want true", origin)
		}
	}

	denied := []string{
		"https://evil.com",
		"http://localhost.evil.com",
		"http://192.168.1.1:3000",
		"",
		"null",
		"ftp://localhost:3000",
		"http://localhost:not-a-port",
		"http://localhost:0",
		"http://localhost:70000",
		"http://localhost:3000/path",
		"http://user@localhost:3000",
	}

	for _, origin := range denied {
		if isAllowedOrigin(origin) {
			t.Errorf("isAllowedOrigin(%q) = true, want false", origin)
		}
	}
}

func TestIsLoopbackRemoteAddr(t *testing.T) {
	cases := []struct {
		addr string
		want bool
	}{
		{"127.0.0.1:12345", true},
		{"[::1]:12345", true},
		{"::1", true},
		{"[::1]", true},
		{"127.0.0.1", true},
		{"8.8.8.8:12345", false},
		{"192.168.1.1:8080", false},
		{"not-an-ip:1234", false},
		{"", false},
		{"garbage", false},
	}

	for _, tc := range cases {
		if got := isLoopbackRemoteAddr(tc.addr); got != tc.want {
			t.Errorf("isLoopbackRemoteAddr(%q) = %v, want %v", tc.addr, got, tc.want)
		}
	}
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestCORSAllowlist_AllowedOrigin(t *testing.T) {
	handler := CORSAllowlist()(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	rr := httptest.NewRecorder()

	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusOK)
	}
	if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
		t.Errorf("ACAO = %q, want %q", got, "http://localhost:3000")
	}
	if got := rr.Header().Get("Vary"); got != "Origin" {
		t.Errorf("Vary = %q, want %q", got, "Origin")
	}
}

func TestCORSAllowlist_DeniedOrigin(t *testing.T) {
	handler := CORSAllowlist()(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "https://evil.com")
	rr := httptest.NewRecorder()

	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d (request still served, just no ACAO)", rr.Code, http.StatusOK)
	}
	if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("ACAO = %q, want empty for denied origin", got)
	}
}

func TestCORSAllowlist_DeniedPreflight(t *testing.T) {
	handler := CORSAllowlist()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not be called for denied preflight")
	}))

	req := httptest.NewRequest(http.MethodOptions, "/exports", nil)
	req.Header.Set("Origin", "https://evil.com")
	rr := httptest.NewRecorder()

	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusForbidden)
	}
}

func TestCORSAllowlist_NoOrigin(t *testing.T) {
	handler := CORSAllowlist()(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rr := httptest.NewRecorder()

	handler.ServeHTTP(rr, req)

	if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("ACAO = %q, want empty when no Origin header", got)
	}
	if got := rr.Header().Get("Vary"); got != "" {
		t.Errorf("Vary = %q, want empty when no Origin header", got)
	}
}

func TestCORSAllowlist_Preflight(t *testing.T) {
	handler := CORSAllowlist()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not be called for preflight")
	}))

	req := httptest.NewRequest(http.MethodOptions, "/exports", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", "POST")
	rr := httptest.NewRecorder()

	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusNoContent)
	}
	for header, want := range map[string][]string{
		"Access-Control-Allow-Headers":  {"Range", "Authorization", "Content-Type"},
		"Access-Control-Allow-Methods":  {"GET", "HEAD", "POST", "DELETE", "OPTIONS"},
		"Access-Control-Expose-Headers": {"Content-Range", "Accept-Ranges", "Content-Disposition"},
	} {
		got := rr.Header().Get(header)
		for _, w := range want {
			if !containsToken(got, w) {
				t.Errorf("%s missing %q, got %q", header, w, got)
			}
		}
	}
}

func TestCORSAllowlist_VaryIsAdditive(t *testing.T) {
	handler := CORSAllowlist()(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	rr := httptest.NewRecorder()
	rr.Header().Set("Vary", "Accept-Encoding")

	handler.ServeHTTP(rr, req)

	vary := strings.Join(rr.Header().Values("Vary"), ",")
	if !containsToken(vary, "Accept-Encoding") || !containsToken(vary, "Origin") {
		t.Errorf("Vary = %q, want Accept-Encoding and Origin", vary)
	}
}

func containsToken(list, target string) bool {
	for _, part := range strings.Split(list, ",") {
		if strings.TrimSpace(part) == target {
			return true
		}
	}
	return false
}

func TestLoopbackGuard(t *testing.T) {
	cases := []struct {
		remote string
		want   int
	}{
		{"127.0.0.1:12345", http.StatusOK},
		{"[::1]:12345", http.StatusOK},
		{"8.8.8.8:12345", http.StatusForbidden},
	}

	for _, tc := range cases {
		t.Run(tc.remote, func(t *testing.T) {
			handler := LoopbackGuard()(okHandler())
			req := httptest.NewRequest(http.MethodGet, "/exports/x/file", nil)
			req.RemoteAddr = tc.remote
			rr := httptest.NewRecorder()

			handler.ServeHTTP(rr, req)

			if rr.Code != tc.want {
				t.Fatalf("status = %d, want %d", rr.Code, tc.want)
			}
			if tc.want == http.StatusForbidden {
				body := decodeJSONBody(t, rr)
				if body["code"] != "FORBIDDEN" {
					t.Errorf("code = %v, want FORBIDDEN", body["code"])
				}
			}
		})
	}
}

type staticConfig struct {
	token string
	err   error
}

func (s staticConfig) GetConfig(ctx context.Context, key string) (string, error) {
	if key != AuthTokenKey {
		return "", nil
	}
	return s.token, s.err
}

func TestAuthMiddleware(t *testing.T) {
	cases := []struct {
		name   string
		store  staticConfig
		header string
		query  string
		want   int
	}{
		{"valid header", staticConfig{token: "secret"}, "Bearer secret", "", http.StatusOK},
		{"valid query", staticConfig{token: "secret"}, "", "?token=secret", http.StatusOK},
		{"missing", staticConfig{token: "secret"}, "", "", http.StatusUnauthorized},
		{"wrong scheme", staticConfig{token: "secret"}, "Basic secret", "", http.StatusUnauthorized},
		{"empty bearer", staticConfig{token: "secret"}, "Bearer ", "", http.StatusUnauthorized},
		{"wrong token", staticConfig{token: "secret"}, "Bearer nope", "", http.StatusUnauthorized},
		{"header wins over query", staticConfig{token: "secret"}, "Bearer nope", "?token=secret", http.StatusUnauthorized},
		{"no stored token", staticConfig{}, "Bearer secret", "", http.StatusInternalServerError},
		{"store error", staticConfig{err: errors.New("db closed")}, "Bearer secret", "", http.StatusInternalServerError},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			handler := AuthMiddleware(tc.store, testLogger())(okHandler())
			req := httptest.NewRequest(http.MethodGet, "/status"+tc.query, nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rr := httptest.NewRecorder()

			handler.ServeHTTP(rr, req)

			if rr.Code != tc.want {
				t.Fatalf("status = %d, want %d", rr.Code, tc.want)
			}
		})
	}
}

func TestRequestIDMiddleware(t *testing.T) {
	var seen string
	handler := RequestIDMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = r.Context().Value(RequestIDKey).(string)
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))

	if len(seen) != 8 {
		t.Fatalf("request id = %q, want 8 characters", seen)
	}
	if got := rr.Header().Get("X-Request-ID"); got != seen {
		t.Errorf("X-Request-ID = %q, want %q", got, seen)
	}
}

func TestRecoveryMiddleware(t *testing.T) {
	handler := RecoveryMiddleware(testLogger())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/status", nil))

	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusInternalServerError)
	}
	if body := decodeJSONBody(t, rr); body["code"] != "INTERNAL_ERROR" {
		t.Errorf("code = %v, want INTERNAL_ERROR", body["code"])
	}
}
