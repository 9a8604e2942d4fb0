package config

import (
	"os"
	"strconv"
	"strings"
)

// ApplyEnv lets deployment environments override the knobs that commonly
// differ between container images without editing the config file.
func ApplyEnv(cfg *Config) {
	if v := os.Getenv("ACME_EMAIL"); v != "" {
		cfg.ACME.Email = v
	}
	if v := os.Getenv("ACME_CA"); v != "" {
		cfg.ACME.CA = v
	}
	if v := os.Getenv("ACME_STAGING"); v != "" {
		cfg.ACME.Staging = v == "1" || strings.EqualFold(v, "true")
	}
	if v := os.Getenv("ACME_STORAGE"); v != "" {
		cfg.ACME.StoragePath = v
	}
	if v := os.Getenv("ACME_WEBROOT"); v != "" {
		cfg.ACME.Webroot = v
	}
	if v := os.Getenv("TLS_CERT_FILE"); v != "" {
		cfg.TLS.CertFile = v
	}
	if v := os.Getenv("TLS_KEY_FILE"); v != "" {
		cfg.TLS.KeyFile = v
	}
	if v := os.Getenv("STATIC_ROOT"); v != "" {
		cfg.Static.Root = v
	}
	if v := os.Getenv("MAX_BODY_BYTES"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Limits.MaxBodyBytes = n
		}
	}
	if v := os.Getenv("MAX_HEADER_BYTES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Limits.MaxHeaderBytes = n
		}
	}
	if v := os.Getenv("RATE_LIMIT_RPS"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Limits.RPS = f
		}
	}
	if v := os.Getenv("RATE_LIMIT_BURST"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Limits.Burst = n
		}
	}
	if v := os.Getenv("CONN_LIMIT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Limits.ConnLimit = n
		}
	}
	if v := os.Getenv("KEEPALIVE_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Server.KeepaliveSeconds = n
		}
	}
}
