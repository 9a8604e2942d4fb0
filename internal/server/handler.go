package server

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"pixelgate/internal/config"
	"pixelgate/internal/limits"
	"pixelgate/internal/logging"
	"pixelgate/internal/metrics"
	"pixelgate/internal/proxy"
	"pixelgate/internal/router"
	"pixelgate/internal/static"
	"pixelgate/internal/upstream"
)

type handler struct {
	routes      *router.Table
	pool        *upstream.Pool
	forwarders  map[string]*proxy.Forwarder
	resolvers   map[string]*static.Resolver
	acmeWebroot *static.Resolver
	acmePrefix  string
	log         *logging.Logger
	metrics     *metrics.Registry
	rateLimiter *limits.RateLimiter
	connLimiter *limits.ConnLimiter
	limits      config.LimitsConfig
	altSvc      string
}

func newHandler(cfg *config.Config, logr *logging.Logger, metricsReg *metrics.Registry) (*handler, error) {
	pool, err := upstream.NewPool(cfg.Upstreams)
	if err != nil {
		return nil, err
	}

	routes, err := router.New(cfg.Routes, cfg.Static.Root)
	if err != nil {
		return nil, err
	}

	forwarders := map[string]*proxy.Forwarder{}
	for _, u := range cfg.Upstreams {
		t, err := pool.Select(u.Name)
		if err != nil {
			return nil, err
		}
		forwarders[u.Name] = proxy.NewForwarder(t, pool, proxy.DefaultOptions())
	}

	resolvers := map[string]*static.Resolver{}
	for _, rt := range cfg.Routes {
		if rt.Action != "static" {
			continue
		}
		root := rt.Root
		if root == "" {
			root = cfg.Static.Root
		}
		if _, ok := resolvers[root]; !ok {
			resolvers[root] = static.NewResolver(root)
		}
	}

	h := &handler{
		routes:      routes,
		pool:        pool,
		forwarders:  forwarders,
		resolvers:   resolvers,
		acmePrefix:  cfg.ACME.ChallengePrefix,
		log:         logr,
		metrics:     metricsReg,
		rateLimiter: limits.NewRateLimiter(cfg.Limits.RPS, cfg.Limits.Burst, 10*time.Minute),
		connLimiter: limits.NewConnLimiter(cfg.Limits.ConnLimit),
		limits:      cfg.Limits,
	}
	if cfg.ACME.Mode == "webroot" && cfg.ACME.Webroot != "" {
		h.acmeWebroot = static.NewResolver(cfg.ACME.Webroot)
	}

	go h.cleanupLoop()
	return h, nil
}

func (h *handler) cleanupLoop() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for range ticker.C {
		h.rateLimiter.Cleanup()
	}
}

// resolver looks up the prebuilt resolver for root. The map is populated
// once in newHandler and read-only afterwards.
func (h *handler) resolver(root string) *static.Resolver {
	if r, ok := h.resolvers[root]; ok {
		return r
	}
	return static.NewResolver(root)
}

type requestContext struct {
	Route       string
	Upstream    string
	RateLimited bool
	Status      int
}

type responseRecorder struct {
	http.ResponseWriter
	status int
	bytes  int64
}

func (r *responseRecorder) WriteHeader(code int) {
	if r.status == 0 {
		r.status = code
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *responseRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	n, err := r.ResponseWriter.Write(b)
	r.bytes += int64(n)
	return n, err
}

func (r *responseRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (r *responseRecorder) Unwrap() http.ResponseWriter { return r.ResponseWriter }

func (h *handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	h.metrics.InFlight.Inc()
	defer h.metrics.InFlight.Dec()

	reqID := r.Header.Get("X-Request-Id")
	if reqID == "" {
		reqID = uuid.NewString()
		r.Header.Set("X-Request-Id", reqID)
	}
	w.Header().Set("X-Request-Id", reqID)
	if h.altSvc != "" {
		w.Header().Set("Alt-Svc", h.altSvc)
	}

	ctx := &requestContext{}
	rec := &responseRecorder{ResponseWriter: w}
	defer func() {
		if ctx.Status == 0 {
			ctx.Status = rec.status
		}
		if ctx.Status == 0 {
			ctx.Status = http.StatusOK
		}
		d := time.Since(start)
		h.metrics.ObserveRequest(ctx.Route, r.Method, ctx.Status, d)
		h.log.Write(logging.Entry{
			Timestamp:   time.Now().UTC().Format(time.RFC3339Nano),
			RequestID:   reqID,
			RemoteIP:    limits.ClientIP(r.RemoteAddr),
			Host:        r.Host,
			Method:      r.Method,
			URI:         r.URL.RequestURI(),
			Proto:       r.Proto,
			Status:      ctx.Status,
			LatencyMS:   d.Milliseconds(),
			Bytes:       rec.bytes,
			Route:       ctx.Route,
			Upstream:    ctx.Upstream,
			RateLimited: ctx.RateLimited,
		})
	}()

	if h.limits.MaxURLLength > 0 && len(r.URL.RequestURI()) > h.limits.MaxURLLength {
		h.writeError(rec, ctx, http.StatusRequestURITooLong, "uri too long", start)
		return
	}

	// Challenge paths bypass rate limiting so a renewal burst from the CA
	// is never throttled, but they must never leak to the backend.
	if h.acmePrefix != "" && strings.HasPrefix(r.URL.Path, h.acmePrefix) {
		ctx.Route = "acme"
		h.serveChallenge(rec, r, ctx, start)
		return
	}

	ip := limits.ClientIP(r.RemoteAddr)
	if !h.rateLimiter.Allow(ip) {
		ctx.RateLimited = true
		h.metrics.RateLimited.Inc()
		h.writeError(rec, ctx, http.StatusTooManyRequests, "rate limited", start)
		return
	}
	if !h.connLimiter.Allow(ip) {
		h.writeError(rec, ctx, http.StatusTooManyRequests, "too many connections", start)
		return
	}
	defer h.connLimiter.Done(ip)

	if h.limits.MaxBodyBytes > 0 {
		if r.ContentLength > h.limits.MaxBodyBytes {
			h.writeError(rec, ctx, http.StatusRequestEntityTooLarge, "request body too large", start)
			return
		}
		r.Body = http.MaxBytesReader(rec, r.Body, h.limits.MaxBodyBytes)
	}

	rule := h.routes.Match(r.URL.Path)
	if rule == nil {
		ctx.Route = "none"
		h.writeError(rec, ctx, http.StatusNotFound, "not found", start)
		return
	}
	h.execute(rec, r, ctx, rule, start)
}

// serveChallenge implements the HTTP-01 webroot: the file is served when an
// external ACME client has written it, and everything else is a 404. The
// proxy fallback is deliberately unreachable from here.
func (h *handler) serveChallenge(w *responseRecorder, r *http.Request, ctx *requestContext, start time.Time) {
	if h.acmeWebroot == nil {
		h.writeError(w, ctx, http.StatusNotFound, "not found", start)
		return
	}
	full, err := h.acmeWebroot.Resolve(r.URL.Path)
	if err != nil {
		if !errors.Is(err, static.ErrNotFound) {
			h.writeError(w, ctx, http.StatusInternalServerError, "internal error", start)
			return
		}
		h.writeError(w, ctx, http.StatusNotFound, "not found", start)
		return
	}
	h.acmeWebroot.Serve(w, r, full)
}

func (h *handler) execute(w *responseRecorder, r *http.Request, ctx *requestContext, rule *router.Rule, start time.Time) {
	action := rule.Action
	ctx.Route = routeLabel(rule)

	if action.Kind == router.ActionStatic {
		res := h.resolver(action.Root)
		full, err := res.Resolve(r.URL.Path)
		switch {
		case err == nil:
			ctx.Route = "static"
			res.Serve(w, r, full)
			return
		case !errors.Is(err, static.ErrNotFound):
			h.writeError(w, ctx, http.StatusInternalServerError, "internal error", start)
			return
		}
		if action.Fallback == "" {
			h.writeError(w, ctx, http.StatusNotFound, "not found", start)
			return
		}
		fb := h.routes.Resolve(action.Fallback)
		if fb == nil {
			h.writeError(w, ctx, http.StatusInternalServerError, "internal error", start)
			return
		}
		h.execute(w, r, ctx, fb, start)
		return
	}

	// Proxy action.
	ctx.Route = "proxy"
	ctx.Upstream = action.Upstream
	target, err := h.pool.Select(action.Upstream)
	if err != nil {
		h.metrics.UpstreamErrors.WithLabelValues(action.Upstream).Inc()
		if errors.Is(err, upstream.ErrUnavailable) {
			h.writeError(w, ctx, http.StatusServiceUnavailable, "upstream unavailable", start)
			return
		}
		h.writeError(w, ctx, http.StatusBadGateway, "bad gateway", start)
		return
	}
	h.forwarders[target.Name].ServeHTTP(w, r)
	if w.status >= http.StatusInternalServerError {
		h.metrics.UpstreamErrors.WithLabelValues(action.Upstream).Inc()
	}
}

func routeLabel(rule *router.Rule) string {
	switch rule.Action.Kind {
	case router.ActionStatic:
		return "static"
	case router.ActionProxy:
		return "proxy"
	default:
		return "none"
	}
}

// writeError sends a gateway-originated response. X-Process-Time mirrors
// the header the fronted application sets on its own responses.
func (h *handler) writeError(w *responseRecorder, ctx *requestContext, status int, msg string, start time.Time) {
	ctx.Status = status
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("X-Process-Time", fmt.Sprintf("%.6f", time.Since(start).Seconds()))
	w.WriteHeader(status)
	_, _ = w.Write([]byte(msg))
}
