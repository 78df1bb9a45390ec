package chi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestBearerAuth_NoKeysPassThrough(t *testing.T) {
	for _, keys := range [][]string{nil, {"", "  "}} {
		handler := BearerAuthMiddleware(keys)(okHandler())

		req := httptest.NewRequest(http.MethodPost, "/v1/chat", http.NoBody)
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)

		if rr.Code != http.StatusOK {
			t.Errorf("keys %q: got %d, want %d", keys, rr.Code, http.StatusOK)
		}
	}
}

func TestBearerAuth(t *testing.T) {
	handler := BearerAuthMiddleware([]string{"key1", "key2"})(okHandler())

	tests := []struct {
		name   string
		path   string
		header string
		want   int
	}{
		{"missing header", "/v1/chat", "", http.StatusUnauthorized},
		{"basic scheme", "/v1/chat", "Basic dXNlcjpwYXNz", http.StatusUnauthorized},
		{"wrong key", "/v1/search", "Bearer nope", http.StatusUnauthorized},
		{"prefix of key", "/v1/search", "Bearer key", http.StatusUnauthorized},
		{"first key", "/v1/files", "Bearer key1", http.StatusOK},
		{"second key", "/v1/files", "Bearer key2", http.StatusOK},
		{"health is public", "/health", "", http.StatusOK},
		{"metrics is public", "/metrics", "", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, http.NoBody)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, req)

			if rr.Code != tt.want {
				t.Fatalf("got %d, want %d", rr.Code, tt.want)
			}
			if tt.want != http.StatusUnauthorized {
				return
			}
			var resp ErrorResponse
			if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
				t.Fatalf("decode error response: %v", err)
			}
			if resp.Code != ErrorCodeUnauthorized {
				t.Errorf("code = %s, want %s", resp.Code, ErrorCodeUnauthorized)
			}
		})
	}
}
