package upstream

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"pixelgate/internal/config"
)

// ErrUnavailable is returned when a target is inside its fail-timeout
// window. Callers surface it as a 503 without dialing the backend.
var ErrUnavailable = errors.New("upstream unavailable")

type Network string

const (
	NetworkUnix Network = "unix"
	NetworkTCP  Network = "tcp"
)

// Target is a single backend. Health state is owned by the Pool and only
// changes on forward outcomes; there is no active probing.
type Target struct {
	Name        string
	Network     Network
	Addr        string
	FailTimeout time.Duration

	mu           sync.Mutex
	failingUntil time.Time
}

type Pool struct {
	targets map[string]*Target
	now     func() time.Time
}

func NewPool(upstreams []config.Upstream) (*Pool, error) {
	p := &Pool{
		targets: make(map[string]*Target, len(upstreams)),
		now:     time.Now,
	}
	for _, u := range upstreams {
		network, addr, err := parseAddr(u.Addr)
		if err != nil {
			return nil, fmt.Errorf("upstream %q: %w", u.Name, err)
		}
		ft := time.Duration(u.FailTimeoutSeconds) * time.Second
		if ft == 0 {
			ft = 10 * time.Second
		}
		p.targets[u.Name] = &Target{
			Name:        u.Name,
			Network:     network,
			Addr:        addr,
			FailTimeout: ft,
		}
	}
	return p, nil
}

func parseAddr(addr string) (Network, string, error) {
	if path, ok := strings.CutPrefix(addr, "unix:"); ok {
		if path == "" {
			return "", "", fmt.Errorf("empty unix socket path")
		}
		return NetworkUnix, path, nil
	}
	if !strings.Contains(addr, ":") {
		return "", "", fmt.Errorf("tcp addr %q must be host:port", addr)
	}
	return NetworkTCP, addr, nil
}

// Select returns the named target, or ErrUnavailable while the target is
// still inside its fail-timeout window. Once the window elapses the target
// is eligible again; the next forward attempt decides its fate.
func (p *Pool) Select(name string) (*Target, error) {
	t, ok := p.targets[name]
	if !ok {
		return nil, fmt.Errorf("unknown upstream %q", name)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.failingUntil.IsZero() && p.now().Before(t.failingUntil) {
		return nil, ErrUnavailable
	}
	return t, nil
}

// ReportFailure marks the target failing and opens its fail-timeout window.
func (p *Pool) ReportFailure(t *Target) {
	t.mu.Lock()
	t.failingUntil = p.now().Add(t.FailTimeout)
	t.mu.Unlock()
}

// ReportSuccess clears the failing state after a successful forward.
func (p *Pool) ReportSuccess(t *Target) {
	t.mu.Lock()
	t.failingUntil = time.Time{}
	t.mu.Unlock()
}

// Failing reports whether the target is currently inside its fail window.
func (p *Pool) Failing(t *Target) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return !t.failingUntil.IsZero() && p.now().Before(t.failingUntil)
}
