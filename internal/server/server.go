package server

import (
	"context"
	"crypto/tls"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/quic-go/quic-go/http3"
	"golang.org/x/net/http2"

	"pixelgate/internal/acme"
	"pixelgate/internal/config"
	"pixelgate/internal/logging"
	"pixelgate/internal/metrics"
	"pixelgate/internal/tlsconf"
)

type Options struct {
	ConfigPath  string
	HTTPListen  string
	HTTPSListen string
	AdminListen string
}

type runtime struct {
	handler atomic.Value
	cfg     atomic.Value
}

// Run builds the gateway from cfg, binds the listeners and blocks until a
// termination signal or a listener failure. A nil return means a clean
// shutdown; any error is fatal and the caller exits non-zero.
func Run(cfg *config.Config, opts Options) error {
	config.ApplyEnv(cfg)
	applyOpts(cfg, opts)
	logr := logging.New(cfg.Log.Format, cfg.Log.Output)
	metricsReg := metrics.NewRegistry()

	rt := &runtime{}
	if err := rt.reload(cfg, logr, metricsReg); err != nil {
		return err
	}

	if cfg.Server.HTTPSListen != "" && !httpsConfigured(cfg) {
		log.Printf("https listen %s ignored: tls is disabled and acme mode is not auto", cfg.Server.HTTPSListen)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	public := rt.publicHandler()

	httpsSrv := &http.Server{
		Addr:              cfg.Server.HTTPSListen,
		Handler:           public,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       time.Duration(cfg.Server.KeepaliveSeconds) * time.Second,
		MaxHeaderBytes:    cfg.Limits.MaxHeaderBytes,
		ErrorLog:          log.New(&handshakeErrLog{metrics: metricsReg}, "", 0),
	}

	var plainHandler http.Handler = public
	var h3srv *http3.Server

	if cfg.ACME.Mode == "auto" {
		mgr, cache, err := acme.NewManager(cfg.ACME)
		if err != nil {
			return err
		}
		defer cache.Close()
		tc := mgr.TLSConfig()
		if err := applyPolicy(tc, cfg.TLS); err != nil {
			return err
		}
		httpsSrv.TLSConfig = tc
		plainHandler = mgr.HTTPHandler(plainRouter(cfg, public))
	} else if cfg.TLS.Enabled {
		tc, err := tlsconf.Build(cfg.TLS)
		if err != nil {
			return err
		}
		reloader, err := tlsconf.NewReloader(cfg.TLS.CertFile, cfg.TLS.KeyFile)
		if err != nil {
			return fmt.Errorf("tls material: %w", err)
		}
		tc.GetCertificate = reloader.GetCertificate
		httpsSrv.TLSConfig = tc
		if cfg.TLS.WatchRotation {
			go func() {
				if err := reloader.Watch(ctx); err != nil {
					log.Printf("tls watch stopped: %v", err)
				}
			}()
		}
		plainHandler = plainRouter(cfg, public)
	}

	tlsEnabled := httpsSrv.TLSConfig != nil
	if tlsEnabled {
		if err := http2.ConfigureServer(httpsSrv, &http2.Server{}); err != nil {
			return err
		}
		if cfg.TLS.HTTP3 {
			h3srv = &http3.Server{
				Addr:      cfg.Server.HTTPSListen,
				Handler:   public,
				TLSConfig: http3.ConfigureTLSConfig(httpsSrv.TLSConfig),
			}
			rt.setAltSvc(altSvcValue(cfg.Server.HTTPSListen))
		}
	}

	httpSrv := &http.Server{
		Addr:              cfg.Server.HTTPListen,
		Handler:           plainHandler,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       time.Duration(cfg.Server.KeepaliveSeconds) * time.Second,
		MaxHeaderBytes:    cfg.Limits.MaxHeaderBytes,
	}

	adminSrv := &http.Server{
		Addr:              cfg.Server.AdminListen,
		Handler:           rt.adminHandler(opts.ConfigPath, logr, metricsReg),
		ReadHeaderTimeout: 5 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	go handleReloads(rt, opts, logr, metricsReg)

	errCh := make(chan error, 4)
	if tlsEnabled {
		go func() {
			log.Printf("https listening on %s", httpsSrv.Addr)
			errCh <- httpsSrv.ListenAndServeTLS("", "")
		}()
		if h3srv != nil {
			go func() {
				log.Printf("http/3 listening on %s", h3srv.Addr)
				errCh <- h3srv.ListenAndServe()
			}()
		}
	}
	if cfg.Server.HTTPListen != "" {
		go func() {
			log.Printf("http listening on %s", httpSrv.Addr)
			errCh <- httpSrv.ListenAndServe()
		}()
	}
	go func() {
		log.Printf("admin listening on %s", adminSrv.Addr)
		errCh <- adminSrv.ListenAndServe()
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	var runErr error
	select {
	case runErr = <-errCh:
	case sig := <-stop:
		log.Printf("received %s, shutting down", sig)
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	_ = httpsSrv.Shutdown(shutdownCtx)
	_ = httpSrv.Shutdown(shutdownCtx)
	_ = adminSrv.Shutdown(shutdownCtx)
	if h3srv != nil {
		_ = h3srv.Close()
	}
	if runErr == http.ErrServerClosed {
		runErr = nil
	}
	return runErr
}

// httpsConfigured reports whether Run will actually start an HTTPS
// listener for cfg. The default config carries an https_listen address
// with TLS disabled, so the mismatch is reported, not rejected.
func httpsConfigured(cfg *config.Config) bool {
	return cfg.ACME.Mode == "auto" || cfg.TLS.Enabled
}

func applyOpts(cfg *config.Config, opts Options) {
	if opts.HTTPListen != "" {
		cfg.Server.HTTPListen = opts.HTTPListen
	}
	if opts.HTTPSListen != "" {
		cfg.Server.HTTPSListen = opts.HTTPSListen
	}
	if opts.AdminListen != "" {
		cfg.Server.AdminListen = opts.AdminListen
	}
}

// applyPolicy overlays the configured version and cipher policy onto the
// autocert-managed TLS config.
func applyPolicy(tc *tls.Config, cfg config.TLSConfig) error {
	policy, err := tlsconf.Build(config.TLSConfig{
		Enabled:      true,
		MinVersion:   cfg.MinVersion,
		MaxVersion:   cfg.MaxVersion,
		CipherSuites: cfg.CipherSuites,
	})
	if err != nil {
		return err
	}
	tc.MinVersion = policy.MinVersion
	tc.MaxVersion = policy.MaxVersion
	tc.CipherSuites = policy.CipherSuites
	tc.NextProtos = append([]string{"h2", "http/1.1"}, tc.NextProtos...)
	return nil
}

// plainRouter serves challenge paths directly on the plain listener and
// redirects everything else to HTTPS when redirect is enabled.
func plainRouter(cfg *config.Config, public http.Handler) http.Handler {
	if !cfg.Server.RedirectToHTTPS {
		return public
	}
	prefix := cfg.ACME.ChallengePrefix
	redirect := redirectToHTTPS(cfg.Server.HTTPSListen)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if prefix != "" && strings.HasPrefix(r.URL.Path, prefix) {
			public.ServeHTTP(w, r)
			return
		}
		redirect(w, r)
	})
}

func redirectToHTTPS(httpsListen string) func(w http.ResponseWriter, r *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		host := r.Host
		if strings.Contains(host, ":") {
			host = strings.Split(host, ":")[0]
		}
		port := strings.TrimPrefix(httpsListen, ":")
		if i := strings.LastIndex(httpsListen, ":"); i >= 0 {
			port = httpsListen[i+1:]
		}
		if port != "" && port != "443" {
			host = host + ":" + port
		}
		target := "https://" + host + r.URL.RequestURI()
		http.Redirect(w, r, target, http.StatusMovedPermanently)
	}
}

func altSvcValue(httpsListen string) string {
	port := "443"
	if i := strings.LastIndex(httpsListen, ":"); i >= 0 && httpsListen[i+1:] != "" {
		port = httpsListen[i+1:]
	}
	return fmt.Sprintf(`h3=":%s"; ma=2592000`, port)
}

func handleReloads(rt *runtime, opts Options, logr *logging.Logger, metricsReg *metrics.Registry) {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGHUP)
	for range ch {
		cfg, err := config.LoadConfig(opts.ConfigPath)
		if err != nil {
			log.Printf("reload: %v", err)
			continue
		}
		config.ApplyEnv(cfg)
		applyOpts(cfg, opts)
		if err := rt.reload(cfg, logr, metricsReg); err != nil {
			log.Printf("reload: %v", err)
			continue
		}
		log.Printf("configuration reloaded from %s", opts.ConfigPath)
	}
}

func (rt *runtime) reload(cfg *config.Config, logr *logging.Logger, metricsReg *metrics.Registry) error {
	h, err := newHandler(cfg, logr, metricsReg)
	if err != nil {
		return err
	}
	if old, ok := rt.handler.Load().(*handler); ok && old.altSvc != "" {
		h.altSvc = old.altSvc
	}
	rt.handler.Store(h)
	rt.cfg.Store(cfg)
	return nil
}

func (rt *runtime) setAltSvc(v string) {
	if h, ok := rt.handler.Load().(*handler); ok {
		h.altSvc = v
	}
}

func (rt *runtime) publicHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := rt.handler.Load().(*handler)
		h.ServeHTTP(w, r)
	})
}

func (rt *runtime) adminHandler(configPath string, logr *logging.Logger, metricsReg *metrics.Registry) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", metricsReg.Handler())
	mux.HandleFunc("/reload", func(w http.ResponseWriter, r *http.Request) {
		if !authorized(r) {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		cfg, err := config.LoadConfig(configPath)
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(err.Error()))
			return
		}
		config.ApplyEnv(cfg)
		if err := rt.reload(cfg, logr, metricsReg); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(err.Error()))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("reloaded"))
	})
	return mux
}

func authorized(r *http.Request) bool {
	token := os.Getenv("ADMIN_TOKEN")
	if token == "" {
		return false
	}
	auth := r.Header.Get("Authorization")
	return auth == "Bearer "+token
}

// handshakeErrLog counts TLS handshake failures surfaced through the
// server's error log; there is no HTTP layer yet to report them on.
type handshakeErrLog struct {
	metrics *metrics.Registry
}

func (l *handshakeErrLog) Write(p []byte) (int, error) {
	if strings.Contains(string(p), "TLS handshake error") {
		l.metrics.TLSHandshakeErr.Inc()
	}
	log.Printf("%s", strings.TrimRight(string(p), "\n"))
	return len(p), nil
}
