package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestCORS(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	tests := []struct {
		name        string
		allowed     []string
		method      string
		origin      string
		wantStatus  int
		wantAllowed bool
	}{
		{name: "listed origin", allowed: []string{"https://ops.example.com/"}, method: http.MethodGet, origin: "https://ops.example.com", wantStatus: http.StatusOK, wantAllowed: true},
		{name: "unlisted origin still served", allowed: []string{"https://ops.example.com"}, method: http.MethodGet, origin: "https://evil.example", wantStatus: http.StatusOK},
		{name: "preflight allowed", allowed: []string{"https://ops.example.com"}, method: http.MethodOptions, origin: "https://ops.example.com", wantStatus: http.StatusNoContent, wantAllowed: true},
		{name: "preflight refused", allowed: []string{"https://ops.example.com"}, method: http.MethodOptions, origin: "https://evil.example", wantStatus: http.StatusForbidden},
		{name: "wildcard", allowed: []string{"*"}, method: http.MethodGet, origin: "https://any.example", wantStatus: http.StatusOK, wantAllowed: true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(tc.method, "/v1/jobs/j1", nil)
			req.Header.Set("Origin", tc.origin)
			if tc.method == http.MethodOptions {
				req.Header.Set("Access-Control-Request-Method", http.MethodPatch)
			}
			rr := httptest.NewRecorder()
			CORS(tc.allowed)(next).ServeHTTP(rr, req)

			if rr.Code != tc.wantStatus {
				t.Fatalf("status = %d, want %d", rr.Code, tc.wantStatus)
			}
			got := rr.Header().Get("Access-Control-Allow-Origin") == tc.origin
			if got != tc.wantAllowed {
				t.Fatalf("allow-origin header = %q", rr.Header().Get("Access-Control-Allow-Origin"))
			}
		})
	}
}
