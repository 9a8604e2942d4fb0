package config

import (
	"fmt"
	"strings"
)

// Validate checks structural invariants before the server is built. File
// existence for TLS material is checked at listener startup, not here.
func (c *Config) Validate() error {
	if c.Server.HTTPListen == "" && c.Server.HTTPSListen == "" {
		return fmt.Errorf("server: at least one listen address is required")
	}
	if c.TLS.Enabled {
		if c.TLS.CertFile == "" || c.TLS.KeyFile == "" {
			return fmt.Errorf("tls: cert_file and key_file are required when tls is enabled")
		}
	}
	if c.Limits.MaxBodyBytes < 0 {
		return fmt.Errorf("limits: max_body_bytes must not be negative")
	}
	if c.ACME.ChallengePrefix != "" && !strings.HasPrefix(c.ACME.ChallengePrefix, "/") {
		return fmt.Errorf("acme: challenge_prefix must start with '/'")
	}

	names := map[string]bool{}
	for i := range c.Upstreams {
		u := &c.Upstreams[i]
		if u.Name == "" {
			return fmt.Errorf("upstreams[%d]: name is required", i)
		}
		if names[u.Name] {
			return fmt.Errorf("upstreams: duplicate name %q", u.Name)
		}
		names[u.Name] = true
		if u.Addr == "" {
			return fmt.Errorf("upstream %q: addr is required", u.Name)
		}
		if u.FailTimeoutSeconds == 0 {
			u.FailTimeoutSeconds = 10
		}
		if u.FailTimeoutSeconds < 0 {
			return fmt.Errorf("upstream %q: fail_timeout must not be negative", u.Name)
		}
	}

	fallbacks := map[string]bool{}
	for i, r := range c.Routes {
		switch r.Match {
		case "exact", "prefix":
			if !strings.HasPrefix(r.Path, "/") {
				return fmt.Errorf("routes[%d]: path must start with '/'", i)
			}
		case "fallback":
			if !strings.HasPrefix(r.Name, "@") {
				return fmt.Errorf("routes[%d]: fallback routes must be named '@name'", i)
			}
			if fallbacks[r.Name] {
				return fmt.Errorf("routes: duplicate fallback %q", r.Name)
			}
			if len(fallbacks) == 1 {
				return fmt.Errorf("routes: only one fallback route is allowed")
			}
			fallbacks[r.Name] = true
		default:
			return fmt.Errorf("routes[%d]: match must be exact, prefix or fallback", i)
		}

		switch r.Action {
		case "proxy":
			if !names[r.Upstream] {
				return fmt.Errorf("routes[%d]: upstream %q not declared", i, r.Upstream)
			}
		case "static":
			if r.Root == "" && c.Static.Root == "" {
				return fmt.Errorf("routes[%d]: static route needs a root", i)
			}
		default:
			return fmt.Errorf("routes[%d]: action must be static or proxy", i)
		}
	}

	for i, r := range c.Routes {
		if r.Fallback == "" {
			continue
		}
		if r.Match == "fallback" {
			return fmt.Errorf("routes[%d]: a fallback route cannot itself fall back", i)
		}
		if !fallbacks[r.Fallback] {
			return fmt.Errorf("routes[%d]: fallback %q not declared", i, r.Fallback)
		}
	}
	return nil
}
