package config

type Config struct {
	Log       LogConfig    `yaml:"log"`
	Server    ServerConfig `yaml:"server"`
	TLS       TLSConfig    `yaml:"tls"`
	ACME      ACMEConfig   `yaml:"acme"`
	Static    StaticConfig `yaml:"static"`
	Limits    LimitsConfig `yaml:"limits"`
	Upstreams []Upstream   `yaml:"upstreams"`
	Routes    []Route      `yaml:"routes"`
}

type ServerConfig struct {
	HTTPListen       string `yaml:"http_listen"`
	HTTPSListen      string `yaml:"https_listen"`
	AdminListen      string `yaml:"admin_listen"`
	KeepaliveSeconds int    `yaml:"keepalive_seconds"`
	RedirectToHTTPS  bool   `yaml:"redirect_to_https"`
}

type TLSConfig struct {
	Enabled       bool     `yaml:"enabled"`
	CertFile      string   `yaml:"cert_file"`
	KeyFile       string   `yaml:"key_file"`
	MinVersion    string   `yaml:"min_version"`
	MaxVersion    string   `yaml:"max_version"`
	CipherSuites  []string `yaml:"cipher_suites"`
	HTTP3         bool     `yaml:"http3"`
	WatchRotation bool     `yaml:"watch_rotation"`
}

type ACMEConfig struct {
	// Mode selects how HTTP-01 challenges are satisfied:
	// "webroot" serves challenge files dropped by an external client (certbot),
	// "auto" lets the gateway obtain certificates itself via autocert,
	// "" disables challenge handling beyond the mandatory 404 guard.
	Mode            string   `yaml:"mode"`
	Email           string   `yaml:"email"`
	CA              string   `yaml:"ca"`
	Staging         bool     `yaml:"staging"`
	StoragePath     string   `yaml:"storage_path"`
	Webroot         string   `yaml:"webroot"`
	ChallengePrefix string   `yaml:"challenge_prefix"`
	Hosts           []string `yaml:"hosts"`
}

type StaticConfig struct {
	Root string `yaml:"root"`
}

type LogConfig struct {
	Output string `yaml:"output"`
	Format string `yaml:"format"`
}

type LimitsConfig struct {
	RPS            float64 `yaml:"rps"`
	Burst          int     `yaml:"burst"`
	ConnLimit      int     `yaml:"conn_limit"`
	MaxBodyBytes   int64   `yaml:"max_body_bytes"`
	MaxHeaderBytes int     `yaml:"max_header_bytes"`
	MaxURLLength   int     `yaml:"max_url_length"`
}

// Upstream is a backend target. Addr is either "unix:/path/to.sock" or a
// TCP "host:port". A target that fails a forward attempt is skipped until
// FailTimeoutSeconds elapses.
type Upstream struct {
	Name               string `yaml:"name"`
	Addr               string `yaml:"addr"`
	FailTimeoutSeconds int    `yaml:"fail_timeout_seconds"`
}

// Route mirrors an nginx location block. Match is "exact", "prefix" or
// "fallback"; fallback routes carry a "@name" and are only reachable through
// another route's fallback reference, never matched by path.
type Route struct {
	Match    string `yaml:"match"`
	Path     string `yaml:"path"`
	Name     string `yaml:"name"`
	Action   string `yaml:"action"` // "static" | "proxy"
	Root     string `yaml:"root"`
	Upstream string `yaml:"upstream"`
	Fallback string `yaml:"fallback"`
}

func defaultConfig() *Config {
	return &Config{
		Log: LogConfig{Output: "stdout", Format: "console"},
		Server: ServerConfig{
			HTTPListen:       ":80",
			HTTPSListen:      ":443",
			AdminListen:      ":9090",
			KeepaliveSeconds: 65,
			RedirectToHTTPS:  true,
		},
		TLS: TLSConfig{
			MinVersion: "1.2",
		},
		ACME: ACMEConfig{
			StoragePath:     "/data/acme/autocert.db",
			ChallengePrefix: "/.well-known/acme-challenge/",
		},
		Limits: LimitsConfig{
			RPS:            50,
			Burst:          100,
			ConnLimit:      200,
			MaxBodyBytes:   10 << 20,
			MaxHeaderBytes: 1 << 20,
			MaxURLLength:   2048,
		},
	}
}
