package config

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// LoadNginxConf parses a small nginx-flavoured config dialect:
//
//	listen 0.0.0.0:80;
//	listen 0.0.0.0:443 ssl;
//	keepalive_timeout 65;
//	client_max_body_size 100m;
//	ssl_certificate /etc/letsencrypt/live/host/fullchain.pem;
//	ssl_certificate_key /etc/letsencrypt/live/host/privkey.pem;
//	ssl_protocols TLSv1.2 TLSv1.3;
//	root /var/www/html;
//	upstream app {
//	    server unix:/tmp/uvicorn.sock;
//	    fail_timeout 10;
//	}
//	location = /favicon.ico {
//	    proxy_pass app;
//	}
//	location / {
//	    try_files $uri @app;
//	}
//	location @app {
//	    proxy_pass app;
//	}
//
// Only the directive subset the gateway implements is accepted; anything
// else is a parse error rather than being silently ignored.
func LoadNginxConf(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	cfg := defaultConfig()

	type ctx int
	const (
		ctxTop ctx = iota
		ctxUpstream
		ctxLocation
	)

	currentCtx := ctxTop
	var currentUpstream *Upstream
	var currentRoute *Route

	lineNo := 0
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		if line == "}" {
			switch currentCtx {
			case ctxUpstream:
				if currentUpstream.Addr == "" {
					return nil, fmt.Errorf("line %d: upstream %q missing server", lineNo, currentUpstream.Name)
				}
				cfg.Upstreams = append(cfg.Upstreams, *currentUpstream)
				currentUpstream = nil
				currentCtx = ctxTop
				continue
			case ctxLocation:
				if currentRoute.Action == "" {
					return nil, fmt.Errorf("line %d: location missing proxy_pass, root or try_files", lineNo)
				}
				cfg.Routes = append(cfg.Routes, *currentRoute)
				currentRoute = nil
				currentCtx = ctxTop
				continue
			default:
				return nil, fmt.Errorf("line %d: unexpected '}'", lineNo)
			}
		}

		switch currentCtx {
		case ctxTop:
			if strings.HasPrefix(line, "upstream ") && strings.HasSuffix(line, "{") {
				name := strings.TrimSpace(strings.TrimSuffix(strings.TrimPrefix(line, "upstream "), "{"))
				if name == "" {
					return nil, fmt.Errorf("line %d: upstream requires a name", lineNo)
				}
				currentUpstream = &Upstream{Name: name}
				currentCtx = ctxUpstream
				continue
			}
			if strings.HasPrefix(line, "location ") && strings.HasSuffix(line, "{") {
				r, err := parseLocationOpen(line)
				if err != nil {
					return nil, fmt.Errorf("line %d: %v", lineNo, err)
				}
				currentRoute = r
				currentCtx = ctxLocation
				continue
			}
			if err := parseTopDirective(cfg, line); err != nil {
				return nil, fmt.Errorf("line %d: %v", lineNo, err)
			}
		case ctxUpstream:
			parts := splitDirective(line)
			switch {
			case len(parts) == 2 && parts[0] == "server":
				currentUpstream.Addr = parts[1]
			case len(parts) == 2 && parts[0] == "fail_timeout":
				n, err := strconv.Atoi(parts[1])
				if err != nil {
					return nil, fmt.Errorf("line %d: fail_timeout: %v", lineNo, err)
				}
				currentUpstream.FailTimeoutSeconds = n
			default:
				return nil, fmt.Errorf("line %d: unsupported upstream directive: %s", lineNo, line)
			}
		case ctxLocation:
			parts := splitDirective(line)
			switch {
			case len(parts) == 2 && parts[0] == "proxy_pass":
				currentRoute.Action = "proxy"
				currentRoute.Upstream = parts[1]
			case len(parts) == 2 && parts[0] == "root":
				currentRoute.Action = "static"
				currentRoute.Root = parts[1]
			case parts[0] == "try_files":
				// "try_files $uri @name" and "try_files @name" both mean:
				// serve the file if it exists, otherwise hand off to @name.
				name := parts[len(parts)-1]
				if !strings.HasPrefix(name, "@") {
					return nil, fmt.Errorf("line %d: try_files must end in a @name target", lineNo)
				}
				currentRoute.Action = "static"
				currentRoute.Fallback = name
			default:
				return nil, fmt.Errorf("line %d: unsupported location directive: %s", lineNo, line)
			}
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if currentCtx != ctxTop {
		return nil, fmt.Errorf("unexpected EOF: missing closing '}'")
	}
	liftChallengeRoot(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// liftChallengeRoot turns a static location covering the ACME challenge
// prefix into webroot challenge handling, which owns that prefix entirely
// and guarantees misses 404 instead of reaching the proxy.
func liftChallengeRoot(cfg *Config) {
	prefix := cfg.ACME.ChallengePrefix
	if prefix == "" {
		return
	}
	kept := cfg.Routes[:0]
	for _, r := range cfg.Routes {
		if r.Match == "prefix" && r.Action == "static" && strings.HasPrefix(prefix, r.Path) && strings.HasPrefix(r.Path, "/.well-known") {
			cfg.ACME.Mode = "webroot"
			cfg.ACME.Webroot = r.Root
			continue
		}
		kept = append(kept, r)
	}
	cfg.Routes = kept
}

func parseLocationOpen(line string) (*Route, error) {
	body := strings.TrimSpace(strings.TrimSuffix(strings.TrimPrefix(line, "location "), "{"))
	parts := strings.Fields(body)
	switch len(parts) {
	case 1:
		if strings.HasPrefix(parts[0], "@") {
			return &Route{Match: "fallback", Name: parts[0]}, nil
		}
		return &Route{Match: "prefix", Path: parts[0]}, nil
	case 2:
		if parts[0] != "=" {
			return nil, fmt.Errorf("invalid location modifier %q", parts[0])
		}
		return &Route{Match: "exact", Path: parts[1]}, nil
	default:
		return nil, fmt.Errorf("invalid location syntax")
	}
}

func parseTopDirective(cfg *Config, line string) error {
	parts := splitDirective(line)
	switch parts[0] {
	case "listen":
		if len(parts) == 3 && parts[2] == "ssl" {
			cfg.Server.HTTPSListen = normalizeListen(parts[1])
			cfg.TLS.Enabled = true
			return nil
		}
		if len(parts) == 2 {
			cfg.Server.HTTPListen = normalizeListen(parts[1])
			return nil
		}
		return fmt.Errorf("listen requires an address, optionally followed by ssl")
	case "keepalive_timeout":
		if len(parts) != 2 {
			return fmt.Errorf("keepalive_timeout requires a value")
		}
		n, err := strconv.Atoi(strings.TrimSuffix(parts[1], "s"))
		if err != nil {
			return fmt.Errorf("keepalive_timeout: %v", err)
		}
		cfg.Server.KeepaliveSeconds = n
		return nil
	case "client_max_body_size":
		if len(parts) != 2 {
			return fmt.Errorf("client_max_body_size requires a value")
		}
		n, err := parseSize(parts[1])
		if err != nil {
			return fmt.Errorf("client_max_body_size: %v", err)
		}
		cfg.Limits.MaxBodyBytes = n
		return nil
	case "ssl_certificate":
		if len(parts) != 2 {
			return fmt.Errorf("ssl_certificate requires a path")
		}
		cfg.TLS.CertFile = parts[1]
		return nil
	case "ssl_certificate_key":
		if len(parts) != 2 {
			return fmt.Errorf("ssl_certificate_key requires a path")
		}
		cfg.TLS.KeyFile = parts[1]
		return nil
	case "ssl_protocols":
		if len(parts) < 2 {
			return fmt.Errorf("ssl_protocols requires at least one version")
		}
		min, max, err := protocolRange(parts[1:])
		if err != nil {
			return err
		}
		cfg.TLS.MinVersion = min
		cfg.TLS.MaxVersion = max
		return nil
	case "ssl_ciphers":
		if len(parts) != 2 {
			return fmt.Errorf("ssl_ciphers requires a colon-separated list")
		}
		cfg.TLS.CipherSuites = strings.Split(parts[1], ":")
		return nil
	case "root":
		if len(parts) != 2 {
			return fmt.Errorf("root requires a path")
		}
		cfg.Static.Root = parts[1]
		return nil
	case "access_log":
		if len(parts) < 2 {
			return fmt.Errorf("access_log requires a path")
		}
		cfg.Log.Output = parts[1]
		if len(parts) == 3 {
			cfg.Log.Format = parts[2]
		}
		return nil
	default:
		return fmt.Errorf("unsupported directive: %s", line)
	}
}

// splitDirective drops the trailing ';' and splits on whitespace.
func splitDirective(line string) []string {
	return strings.Fields(strings.TrimSuffix(strings.TrimSpace(line), ";"))
}

func normalizeListen(addr string) string {
	if strings.HasPrefix(addr, "0.0.0.0:") {
		return addr[len("0.0.0.0"):]
	}
	if !strings.Contains(addr, ":") {
		return ":" + addr
	}
	return addr
}

func parseSize(s string) (int64, error) {
	mult := int64(1)
	switch {
	case strings.HasSuffix(s, "k"), strings.HasSuffix(s, "K"):
		mult = 1 << 10
		s = s[:len(s)-1]
	case strings.HasSuffix(s, "m"), strings.HasSuffix(s, "M"):
		mult = 1 << 20
		s = s[:len(s)-1]
	case strings.HasSuffix(s, "g"), strings.HasSuffix(s, "G"):
		mult = 1 << 30
		s = s[:len(s)-1]
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, err
	}
	return n * mult, nil
}

func protocolRange(names []string) (string, string, error) {
	var min, max string
	for _, name := range names {
		var v string
		switch name {
		case "TLSv1.2":
			v = "1.2"
		case "TLSv1.3":
			v = "1.3"
		default:
			return "", "", fmt.Errorf("unsupported ssl protocol %q", name)
		}
		if min == "" || v < min {
			min = v
		}
		if max == "" || v > max {
			max = v
		}
	}
	return min, max, nil
}
