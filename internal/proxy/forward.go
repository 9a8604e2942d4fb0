package proxy

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httputil"
	"net/url"
	"time"

	"pixelgate/internal/upstream"
)

type Options struct {
	DialTimeout           time.Duration
	ResponseHeaderTimeout time.Duration
	IdleConnTimeout       time.Duration
	MaxIdleConns          int
	FlushInterval         time.Duration
}

func DefaultOptions() Options {
	return Options{
		DialTimeout:     5 * time.Second,
		IdleConnTimeout: 90 * time.Second,
		MaxIdleConns:    100,
		FlushInterval:   100 * time.Millisecond,
	}
}

// Forwarder streams requests to a single upstream target. It opens (or
// reuses) a connection per request, rewrites forwarding headers, and
// reports connect failures to the pool so the fail-timeout window opens.
type Forwarder struct {
	Target *upstream.Target
	pool   *upstream.Pool
	rp     *httputil.ReverseProxy
}

func NewForwarder(t *upstream.Target, pool *upstream.Pool, opts Options) *Forwarder {
	f := &Forwarder{Target: t, pool: pool}

	dialer := &net.Dialer{Timeout: opts.DialTimeout, KeepAlive: 30 * time.Second}
	transport := &http.Transport{
		DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
			return dialer.DialContext(ctx, string(t.Network), t.Addr)
		},
		ForceAttemptHTTP2:     false,
		MaxIdleConns:          opts.MaxIdleConns,
		IdleConnTimeout:       opts.IdleConnTimeout,
		ResponseHeaderTimeout: opts.ResponseHeaderTimeout,
		ExpectContinueTimeout: 1 * time.Second,
	}

	target := &url.URL{Scheme: "http", Host: upstreamHost(t)}
	f.rp = &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(target)
			// Keep the inbound chain so SetXForwarded appends the client
			// address instead of replacing what earlier proxies recorded.
			if prior := pr.In.Header.Get("X-Forwarded-For"); prior != "" {
				pr.Out.Header.Set("X-Forwarded-For", prior)
			}
			pr.SetXForwarded()
			// nginx proxy_set_header Host $host: keep the inbound Host.
			pr.Out.Host = pr.In.Host
		},
		Transport:     transport,
		FlushInterval: opts.FlushInterval,
		ModifyResponse: func(*http.Response) error {
			pool.ReportSuccess(t)
			return nil
		},
		ErrorHandler: f.handleError,
	}
	return f
}

// upstreamHost names the target in the outbound URL. For unix sockets the
// host is a placeholder since the custom dialer ignores it.
func upstreamHost(t *upstream.Target) string {
	if t.Network == upstream.NetworkUnix {
		return "unix"
	}
	return t.Addr
}

func (f *Forwarder) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.rp.ServeHTTP(w, r)
}

func (f *Forwarder) handleError(w http.ResponseWriter, r *http.Request, err error) {
	// Client went away; nothing useful to write and nothing wrong upstream.
	if errors.Is(err, context.Canceled) {
		return
	}
	var maxBytes *http.MaxBytesError
	if errors.As(err, &maxBytes) {
		http.Error(w, "request body too large", http.StatusRequestEntityTooLarge)
		return
	}
	f.pool.ReportFailure(f.Target)
	http.Error(w, http.StatusText(http.StatusBadGateway), http.StatusBadGateway)
}

// CloseIdle drops pooled upstream connections, used on reload/shutdown.
func (f *Forwarder) CloseIdle() {
	if t, ok := f.rp.Transport.(*http.Transport); ok {
		t.CloseIdleConnections()
	}
}
