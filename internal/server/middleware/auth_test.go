package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestAdminAuth(t *testing.T) {
	tests := []struct {
		name    string
		key     string
		headers map[string]string
		want    int
	}{
		{"empty key disables check", "", nil, http.StatusOK},
		{"missing token", "s3cret", nil, http.StatusUnauthorized},
		{"bearer token", "s3cret", map[string]string{"Authorization": "Bearer s3cret"}, http.StatusOK},
		{"bearer case insensitive scheme", "s3cret", map[string]string{"Authorization": "bearer s3cret"}, http.StatusOK},
		{"api key header", "s3cret", map[string]string{"X-API-Key": "s3cret"}, http.StatusOK},
		{"wrong bearer token", "s3cret", map[string]string{"Authorization": "Bearer nope"}, http.StatusUnauthorized},
		{"wrong api key", "s3cret", map[string]string{"X-API-Key": "nope"}, http.StatusUnauthorized},
		{"basic scheme rejected", "s3cret", map[string]string{"Authorization": "Basic s3cret"}, http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/admin/test", nil)
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			rec := httptest.NewRecorder()
			AdminAuth(tt.key)(okHandler()).ServeHTTP(rec, req)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}

func TestIdentity(t *testing.T) {
	var got string
	h := Identity()(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		got = AccountID(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/account", nil)
	req.Header.Set("X-Account-ID", "  acct-9  ")
	h.ServeHTTP(httptest.NewRecorder(), req)
	if got != "acct-9" {
		t.Errorf("account id = %q, want acct-9", got)
	}

	got = ""
	req = httptest.NewRequest(http.MethodGet, "/api/account", nil)
	h.ServeHTTP(httptest.NewRecorder(), req)
	if got != "" {
		t.Errorf("account id = %q, want empty", got)
	}
}
