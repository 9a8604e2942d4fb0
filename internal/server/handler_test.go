package server

import (
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"pixelgate/internal/config"
	"pixelgate/internal/limits"
	"pixelgate/internal/logging"
	"pixelgate/internal/metrics"
)

type backend struct {
	hits atomic.Int64
	host string
	xff  string
}

func (b *backend) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b.hits.Add(1)
		b.host = r.Host
		b.xff = r.Header.Get("X-Forwarded-For")
		_, _ = io.Copy(io.Discard, r.Body)
		_, _ = w.Write([]byte("proxied"))
	})
}

// gatewayFixture builds a handler fronting a live test backend with the
// deployment's route shape: static-first with a proxy fallback, plus an
// exact rule and an ACME webroot.
func gatewayFixture(t *testing.T) (*handler, *backend, string, string) {
	t.Helper()

	b := &backend{}
	srv := httptest.NewServer(b.handler())
	t.Cleanup(srv.Close)

	staticRoot := t.TempDir()
	if err := os.WriteFile(filepath.Join(staticRoot, "logo.png"), []byte("logo-bytes"), 0644); err != nil {
		t.Fatal(err)
	}
	webroot := t.TempDir()
	tokenDir := filepath.Join(webroot, ".well-known", "acme-challenge")
	if err := os.MkdirAll(tokenDir, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(tokenDir, "tok123"), []byte("tok123.thumbprint"), 0644); err != nil {
		t.Fatal(err)
	}

	cfg := &config.Config{
		Server: config.ServerConfig{HTTPListen: ":80"},
		Static: config.StaticConfig{Root: staticRoot},
		ACME: config.ACMEConfig{
			Mode:            "webroot",
			Webroot:         webroot,
			ChallengePrefix: "/.well-known/acme-challenge/",
		},
		Limits: config.LimitsConfig{
			MaxBodyBytes: 64,
			MaxURLLength: 2048,
		},
		Upstreams: []config.Upstream{
			{Name: "app", Addr: strings.TrimPrefix(srv.URL, "http://"), FailTimeoutSeconds: 10},
		},
		Routes: []config.Route{
			{Match: "exact", Path: "/api/direct", Action: "proxy", Upstream: "app"},
			{Match: "prefix", Path: "/", Action: "static", Fallback: "@app"},
			{Match: "fallback", Name: "@app", Action: "proxy", Upstream: "app"},
		},
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	h, err := newHandler(cfg, logging.NewWriter("json", io.Discard), metrics.NewRegistry())
	if err != nil {
		t.Fatalf("newHandler: %v", err)
	}
	return h, b, staticRoot, webroot
}

func get(h http.Handler, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	req.RemoteAddr = "203.0.113.7:51000"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestStaticHit(t *testing.T) {
	h, b, _, _ := gatewayFixture(t)

	rec := get(h, "/logo.png")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if rec.Body.String() != "logo-bytes" {
		t.Errorf("body = %q", rec.Body.String())
	}
	if b.hits.Load() != 0 {
		t.Error("static hit reached the backend")
	}
}

func TestStaticMissFallsBackToProxy(t *testing.T) {
	h, b, _, _ := gatewayFixture(t)

	req := httptest.NewRequest(http.MethodGet, "http://photos.example.org/images/42", nil)
	req.RemoteAddr = "203.0.113.7:51000"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK || rec.Body.String() != "proxied" {
		t.Fatalf("status = %d body = %q", rec.Code, rec.Body.String())
	}
	if b.hits.Load() != 1 {
		t.Fatalf("backend hits = %d", b.hits.Load())
	}
	if b.host != "photos.example.org" {
		t.Errorf("backend Host = %q", b.host)
	}
	if b.xff != "203.0.113.7" {
		t.Errorf("backend X-Forwarded-For = %q", b.xff)
	}
}

func TestExactRuleOutranksPrefix(t *testing.T) {
	h, b, staticRoot, _ := gatewayFixture(t)

	// Even with a file at that path, the exact proxy rule wins.
	if err := os.MkdirAll(filepath.Join(staticRoot, "api"), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(staticRoot, "api", "direct"), []byte("file"), 0644); err != nil {
		t.Fatal(err)
	}

	rec := get(h, "/api/direct")
	if rec.Body.String() != "proxied" {
		t.Errorf("body = %q, want proxied response", rec.Body.String())
	}
	if b.hits.Load() != 1 {
		t.Errorf("backend hits = %d", b.hits.Load())
	}
}

func TestChallengeHitServedFromWebroot(t *testing.T) {
	h, b, _, _ := gatewayFixture(t)

	rec := get(h, "/.well-known/acme-challenge/tok123")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if rec.Body.String() != "tok123.thumbprint" {
		t.Errorf("body = %q", rec.Body.String())
	}
	if b.hits.Load() != 0 {
		t.Error("challenge request reached the backend")
	}
}

func TestChallengeMissIs404NeverProxied(t *testing.T) {
	h, b, _, _ := gatewayFixture(t)

	rec := get(h, "/.well-known/acme-challenge/xyz")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
	if b.hits.Load() != 0 {
		t.Error("challenge miss leaked to the backend")
	}
}

func TestBodyTooLargeRejectedBeforeForward(t *testing.T) {
	h, b, _, _ := gatewayFixture(t)

	body := strings.Repeat("x", 65) // limit is 64
	req := httptest.NewRequest(http.MethodPost, "/images/upload", strings.NewReader(body))
	req.RemoteAddr = "203.0.113.7:51000"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("status = %d, want 413", rec.Code)
	}
	if b.hits.Load() != 0 {
		t.Error("oversize body reached the backend")
	}
}

func TestNoRuleIs404(t *testing.T) {
	b := &backend{}
	srv := httptest.NewServer(b.handler())
	t.Cleanup(srv.Close)

	cfg := &config.Config{
		ACME: config.ACMEConfig{ChallengePrefix: "/.well-known/acme-challenge/"},
		Upstreams: []config.Upstream{
			{Name: "app", Addr: strings.TrimPrefix(srv.URL, "http://")},
		},
		Routes: []config.Route{
			{Match: "prefix", Path: "/api/", Action: "proxy", Upstream: "app"},
		},
	}
	h, err := newHandler(cfg, logging.NewWriter("json", io.Discard), metrics.NewRegistry())
	if err != nil {
		t.Fatal(err)
	}

	rec := get(h, "/elsewhere")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d", rec.Code)
	}
	if b.hits.Load() != 0 {
		t.Error("unrouted request reached the backend")
	}
}

func TestUpstreamFailWindowYields503(t *testing.T) {
	sock := filepath.Join(t.TempDir(), "dead.sock")
	cfg := &config.Config{
		ACME: config.ACMEConfig{ChallengePrefix: "/.well-known/acme-challenge/"},
		Upstreams: []config.Upstream{
			{Name: "app", Addr: "unix:" + sock, FailTimeoutSeconds: 30},
		},
		Routes: []config.Route{
			{Match: "prefix", Path: "/", Action: "proxy", Upstream: "app"},
		},
	}
	h, err := newHandler(cfg, logging.NewWriter("json", io.Discard), metrics.NewRegistry())
	if err != nil {
		t.Fatal(err)
	}

	// First request dials, fails, opens the window: 502.
	if rec := get(h, "/a"); rec.Code != http.StatusBadGateway {
		t.Fatalf("first status = %d, want 502", rec.Code)
	}
	// Second request is refused without dialing: 503.
	if rec := get(h, "/b"); rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("second status = %d, want 503", rec.Code)
	}
}

func TestRateLimit(t *testing.T) {
	h, _, _, _ := gatewayFixture(t)
	h.rateLimiter = limits.NewRateLimiter(1, 1, time.Minute)

	if rec := get(h, "/logo.png"); rec.Code != http.StatusOK {
		t.Fatalf("first status = %d", rec.Code)
	}
	if rec := get(h, "/logo.png"); rec.Code != http.StatusTooManyRequests {
		t.Fatalf("second status = %d, want 429", rec.Code)
	}
}

func TestRequestIDAssigned(t *testing.T) {
	h, _, _, _ := gatewayFixture(t)

	rec := get(h, "/logo.png")
	if rec.Header().Get("X-Request-Id") == "" {
		t.Error("X-Request-Id not set")
	}

	req := httptest.NewRequest(http.MethodGet, "/logo.png", nil)
	req.RemoteAddr = "203.0.113.7:51000"
	req.Header.Set("X-Request-Id", "given-id")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Header().Get("X-Request-Id") != "given-id" {
		t.Errorf("X-Request-Id = %q, want inbound id preserved", rec.Header().Get("X-Request-Id"))
	}
}

func TestURITooLong(t *testing.T) {
	h, b, _, _ := gatewayFixture(t)

	rec := get(h, "/"+strings.Repeat("a", 4096))
	if rec.Code != http.StatusRequestURITooLong {
		t.Fatalf("status = %d", rec.Code)
	}
	if b.hits.Load() != 0 {
		t.Error("oversize URI reached the backend")
	}
}
