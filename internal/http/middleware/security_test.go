package middleware

import (
	"crypto/tls"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

func securityRouter(opt SecurityOptions, pre gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	if pre != nil {
		r.Use(pre)
	}
	r.Use(SecurityHeaders(opt))
	ok := func(c *gin.Context) { c.String(http.StatusOK, "ok") }
	r.GET("/v1/proposals", ok)
	r.GET("/v1/proposals/:id", ok)
	r.GET("/health", ok)
	return r
}

func TestSecurityHeaders_Baseline(t *testing.T) {
	r := securityRouter(SecurityOptions{}, nil)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	h := w.Header()
	if h.Get("X-Content-Type-Options") != "nosniff" ||
		h.Get("X-Frame-Options") != "DENY" ||
		h.Get("Referrer-Policy") != "no-referrer" {
		t.Fatalf("baseline headers missing: %#v", h)
	}
	if h.Get("Permissions-Policy") != "" || h.Get("Cache-Control") != "" || h.Get("Strict-Transport-Security") != "" {
		t.Fatalf("unexpected optional headers: %#v", h)
	}
	if h.Get("Access-Control-Expose-Headers") != "" {
		t.Fatalf("no expose list configured, got %q", h.Get("Access-Control-Expose-Headers"))
	}
}

func TestSecurityHeaders_NoStoreOnlyUnderPrefix(t *testing.T) {
	r := securityRouter(SecurityOptions{NoStorePrefixes: []string{"/v1"}}, nil)

	for _, path := range []string{"/v1/proposals", "/v1/proposals/7"} {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		h := w.Header()
		if h.Get("Cache-Control") != "no-store" || h.Get("Pragma") != "no-cache" || h.Get("Expires") != "0" {
			t.Fatalf("%s: missing no-store headers: %#v", path, h)
		}
	}

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	if w.Header().Get("Cache-Control") != "" {
		t.Fatalf("/health should stay cacheable, got %q", w.Header().Get("Cache-Control"))
	}
}

func TestSecurityHeaders_PolicyAndHSTS(t *testing.T) {
	r := securityRouter(SecurityOptions{
		EnableHSTS:   true,
		HSTSMaxAge:   24 * time.Hour,
		EnablePolicy: true,
	}, nil)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.TLS = &tls.ConnectionState{}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	h := w.Header()
	if h.Get("Permissions-Policy") == "" || h.Get("X-Permitted-Cross-Domain-Policies") != "none" {
		t.Fatalf("missing policy headers: %#v", h)
	}
	if got := h.Get("Strict-Transport-Security"); got != "max-age=86400; includeSubDomains; preload" {
		t.Fatalf("HSTS = %q", got)
	}

	// Plain HTTP never gets HSTS.
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	if w.Header().Get("Strict-Transport-Security") != "" {
		t.Fatalf("HSTS must not be sent over plain HTTP")
	}
}

func TestSecurityHeaders_HSTSDefaultMaxAgeBehindProxy(t *testing.T) {
	r := securityRouter(SecurityOptions{EnableHSTS: true}, nil)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Forwarded-Proto", "HTTPS")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if got := w.Header().Get("Strict-Transport-Security"); got != "max-age=15552000; includeSubDomains; preload" {
		t.Fatalf("HSTS = %q", got)
	}
}

func TestSecurityHeaders_ExposeMergesWithoutDuplicates(t *testing.T) {
	pre := func(c *gin.Context) {
		c.Header("Access-Control-Expose-Headers", "ETag, x-request-id")
		c.Next()
	}
	r := securityRouter(SecurityOptions{Expose: []string{"X-Request-ID", "Idempotency-Replayed"}}, pre)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	if got := w.Header().Get("Access-Control-Expose-Headers"); got != "ETag, x-request-id, Idempotency-Replayed" {
		t.Fatalf("expose = %q", got)
	}
}

func Test_hasAnyPrefix(t *testing.T) {
	cases := []struct {
		path     string
		prefixes []string
		want     bool
	}{
		{"/v1/proposals", []string{"/v1"}, true},
		{"/v1", []string{"/v1/"}, false},
		{"/v10/proposals", []string{"/v1"}, false},
		{"/anything", []string{"/"}, true},
		{"/health", []string{"", "/v1"}, false},
		{"/health", nil, false},
	}
	for _, tc := range cases {
		if got := hasAnyPrefix(tc.path, tc.prefixes); got != tc.want {
			t.Errorf("hasAnyPrefix(%q, %v) = %v, want %v", tc.path, tc.prefixes, got, tc.want)
		}
	}
}

func Test_isHTTPS(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if isHTTPS(req) {
		t.Fatalf("plain HTTP should not be https")
	}
	req.TLS = &tls.ConnectionState{}
	if !isHTTPS(req) {
		t.Fatalf("TLS request should be https")
	}
}
