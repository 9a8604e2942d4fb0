package acme

import (
	"fmt"

	"golang.org/x/crypto/acme"
	"golang.org/x/crypto/acme/autocert"

	"pixelgate/internal/config"
)

const stagingDirectory = "https://acme-staging-v02.api.letsencrypt.org/directory"

// NewManager builds the autocert manager for acme.mode "auto". The returned
// manager owns certificate issuance and renewal; the gateway only consumes
// its TLSConfig and HTTP-01 handler.
func NewManager(cfg config.ACMEConfig) (*autocert.Manager, *BoltCache, error) {
	if cfg.Email == "" {
		return nil, nil, fmt.Errorf("acme: email is required in auto mode")
	}
	if len(cfg.Hosts) == 0 {
		return nil, nil, fmt.Errorf("acme: at least one host is required in auto mode")
	}
	cache, err := OpenBoltCache(cfg.StoragePath)
	if err != nil {
		return nil, nil, fmt.Errorf("acme storage: %w", err)
	}
	mgr := &autocert.Manager{
		Prompt:     autocert.AcceptTOS,
		Cache:      cache,
		Email:      cfg.Email,
		HostPolicy: autocert.HostWhitelist(cfg.Hosts...),
	}
	if cfg.CA != "" || cfg.Staging {
		url := cfg.CA
		if url == "" {
			url = stagingDirectory
		}
		mgr.Client = &acme.Client{DirectoryURL: url}
	}
	return mgr, cache, nil
}
