package config

import (
	"strings"
	"testing"
)

const sampleConf = `
# minimal deployment
listen 0.0.0.0:80;
listen 0.0.0.0:443 ssl;
keepalive_timeout 65;
client_max_body_size 100m;

ssl_certificate /etc/ssl/fullchain.pem;
ssl_certificate_key /etc/ssl/privkey.pem;
ssl_protocols TLSv1.2 TLSv1.3;

root /var/www/html;

upstream app {
    server unix:/tmp/uvicorn.sock;
    fail_timeout 10;
}

location /.well-known/acme-challenge/ {
    root /var/www/certbot;
}

location = /favicon.ico {
    proxy_pass app;
}

location / {
    try_files $uri @app;
}

location @app {
    proxy_pass app;
}
`

func TestLoadNginxConf(t *testing.T) {
	path := writeFile(t, "gw.conf", sampleConf)
	cfg, err := LoadNginxConf(path)
	if err != nil {
		t.Fatalf("LoadNginxConf: %v", err)
	}

	if cfg.Server.HTTPListen != ":80" || cfg.Server.HTTPSListen != ":443" {
		t.Errorf("listen = %q / %q", cfg.Server.HTTPListen, cfg.Server.HTTPSListen)
	}
	if !cfg.TLS.Enabled {
		t.Error("ssl listen did not enable TLS")
	}
	if cfg.TLS.CertFile != "/etc/ssl/fullchain.pem" || cfg.TLS.KeyFile != "/etc/ssl/privkey.pem" {
		t.Errorf("tls files = %q / %q", cfg.TLS.CertFile, cfg.TLS.KeyFile)
	}
	if cfg.TLS.MinVersion != "1.2" || cfg.TLS.MaxVersion != "1.3" {
		t.Errorf("tls versions = %q..%q", cfg.TLS.MinVersion, cfg.TLS.MaxVersion)
	}
	if cfg.Limits.MaxBodyBytes != 100<<20 {
		t.Errorf("max body = %d", cfg.Limits.MaxBodyBytes)
	}
	if cfg.Server.KeepaliveSeconds != 65 {
		t.Errorf("keepalive = %d", cfg.Server.KeepaliveSeconds)
	}
	if cfg.Static.Root != "/var/www/html" {
		t.Errorf("root = %q", cfg.Static.Root)
	}

	if len(cfg.Upstreams) != 1 {
		t.Fatalf("upstreams = %d", len(cfg.Upstreams))
	}
	u := cfg.Upstreams[0]
	if u.Name != "app" || u.Addr != "unix:/tmp/uvicorn.sock" || u.FailTimeoutSeconds != 10 {
		t.Errorf("upstream = %+v", u)
	}

	// The challenge location is lifted into ACME webroot handling.
	if cfg.ACME.Mode != "webroot" || cfg.ACME.Webroot != "/var/www/certbot" {
		t.Errorf("acme = %+v", cfg.ACME)
	}

	if len(cfg.Routes) != 3 {
		t.Fatalf("routes = %+v", cfg.Routes)
	}
	if cfg.Routes[0].Match != "exact" || cfg.Routes[0].Path != "/favicon.ico" || cfg.Routes[0].Action != "proxy" {
		t.Errorf("routes[0] = %+v", cfg.Routes[0])
	}
	if cfg.Routes[1].Match != "prefix" || cfg.Routes[1].Action != "static" || cfg.Routes[1].Fallback != "@app" {
		t.Errorf("routes[1] = %+v", cfg.Routes[1])
	}
	if cfg.Routes[2].Match != "fallback" || cfg.Routes[2].Name != "@app" || cfg.Routes[2].Upstream != "app" {
		t.Errorf("routes[2] = %+v", cfg.Routes[2])
	}
}

func TestLoadNginxConfErrors(t *testing.T) {
	cases := []struct {
		name string
		conf string
		want string
	}{
		{"unknown directive", "gzip on;\n", "unsupported directive"},
		{"unclosed block", "upstream app {\n    server unix:/s.sock;\n", "missing closing"},
		{"upstream without server", "upstream app {\n}\n", "missing server"},
		{"location without action", "location / {\n}\n", "missing proxy_pass"},
		{"try_files without target", "upstream a {\nserver h:1;\n}\nlocation / {\n    try_files $uri;\n}\n", "@name target"},
		{"bad ssl protocol", "ssl_protocols SSLv3;\n", "unsupported ssl protocol"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			path := writeFile(t, "bad.conf", tc.conf)
			_, err := LoadNginxConf(path)
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Errorf("error %q does not contain %q", err, tc.want)
			}
		})
	}
}

func TestParseSize(t *testing.T) {
	cases := map[string]int64{
		"512":  512,
		"4k":   4 << 10,
		"100m": 100 << 20,
		"1G":   1 << 30,
	}
	for in, want := range cases {
		got, err := parseSize(in)
		if err != nil {
			t.Errorf("parseSize(%q): %v", in, err)
			continue
		}
		if got != want {
			t.Errorf("parseSize(%q) = %d, want %d", in, got, want)
		}
	}
	if _, err := parseSize("10x"); err == nil {
		t.Error("parseSize(10x) should fail")
	}
}

func TestLoadConfigDispatch(t *testing.T) {
	yml := writeFile(t, "gw.yaml", "server:\n  http_listen: \":8080\"\n")
	cfg, err := LoadConfig(yml)
	if err != nil {
		t.Fatalf("yaml dispatch: %v", err)
	}
	if cfg.Server.HTTPListen != ":8080" {
		t.Errorf("http_listen = %q", cfg.Server.HTTPListen)
	}

	conf := writeFile(t, "gw.conf", "listen 0.0.0.0:8081;\n")
	cfg, err = LoadConfig(conf)
	if err != nil {
		t.Fatalf("conf dispatch: %v", err)
	}
	if cfg.Server.HTTPListen != ":8081" {
		t.Errorf("http_listen = %q", cfg.Server.HTTPListen)
	}
}
