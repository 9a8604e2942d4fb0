package tlsconf

import (
	"crypto/tls"
	"fmt"

	"pixelgate/internal/config"
)

// Build turns the declarative TLS section into a crypto/tls config with the
// allowed protocol versions, cipher policy and h2 ALPN. Certificate loading
// is the Reloader's job; autocert-managed configs have no files at all.
func Build(cfg config.TLSConfig) (*tls.Config, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	min, err := parseVersion(cfg.MinVersion, tls.VersionTLS12)
	if err != nil {
		return nil, err
	}
	max, err := parseVersion(cfg.MaxVersion, 0)
	if err != nil {
		return nil, err
	}
	if max != 0 && max < min {
		return nil, fmt.Errorf("tls: max_version below min_version")
	}

	suites, err := parseCipherSuites(cfg.CipherSuites)
	if err != nil {
		return nil, err
	}

	tc := &tls.Config{
		MinVersion:   min,
		MaxVersion:   max,
		CipherSuites: suites,
		NextProtos:   []string{"h2", "http/1.1"},
	}
	return tc, nil
}

func parseVersion(s string, def uint16) (uint16, error) {
	switch s {
	case "":
		return def, nil
	case "1.2":
		return tls.VersionTLS12, nil
	case "1.3":
		return tls.VersionTLS13, nil
	default:
		return 0, fmt.Errorf("tls: unsupported version %q (use \"1.2\" or \"1.3\")", s)
	}
}

// cipherSuiteMap covers the secure TLS 1.2 suites; TLS 1.3 suites are not
// configurable in crypto/tls and are always enabled.
var cipherSuiteMap = map[string]uint16{
	"TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256":   tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
	"TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384":   tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
	"TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256": tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
	"TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384": tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
	"TLS_ECDHE_RSA_WITH_CHACHA20_POLY1305":    tls.TLS_ECDHE_RSA_WITH_CHACHA20_POLY1305_SHA256,
	"TLS_ECDHE_ECDSA_WITH_CHACHA20_POLY1305":  tls.TLS_ECDHE_ECDSA_WITH_CHACHA20_POLY1305_SHA256,
}

func parseCipherSuites(names []string) ([]uint16, error) {
	if len(names) == 0 {
		return nil, nil
	}
	suites := make([]uint16, 0, len(names))
	for _, name := range names {
		id, ok := cipherSuiteMap[name]
		if !ok {
			return nil, fmt.Errorf("tls: unknown or insecure cipher suite %q", name)
		}
		suites = append(suites, id)
	}
	return suites, nil
}
