package tlsconf

import (
	"context"
	"crypto/tls"
	"log"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// Reloader serves the current certificate and swaps it when the files on
// disk change, so certbot renewals take effect without a restart. Wire its
// GetCertificate into tls.Config.GetCertificate.
type Reloader struct {
	certFile string
	keyFile  string

	mu   sync.RWMutex
	cert *tls.Certificate
}

func NewReloader(certFile, keyFile string) (*Reloader, error) {
	r := &Reloader{certFile: certFile, keyFile: keyFile}
	if err := r.reload(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Reloader) GetCertificate(*tls.ClientHelloInfo) (*tls.Certificate, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.cert, nil
}

func (r *Reloader) reload() error {
	cert, err := tls.LoadX509KeyPair(r.certFile, r.keyFile)
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.cert = &cert
	r.mu.Unlock()
	return nil
}

// Watch blocks until ctx is done, reloading the key pair whenever either
// file is written, renamed or recreated. Certbot replaces symlink targets,
// so the parent directories are watched rather than the files themselves.
func (r *Reloader) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	dirs := map[string]bool{}
	for _, f := range []string{r.certFile, r.keyFile} {
		dir := filepath.Dir(f)
		if dirs[dir] {
			continue
		}
		dirs[dir] = true
		if err := watcher.Add(dir); err != nil {
			return err
		}
	}

	for {
		select {
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if ev.Name != r.certFile && ev.Name != r.keyFile {
				continue
			}
			if err := r.reload(); err != nil {
				// Renewal writes cert and key one after the other; a
				// mismatched pair mid-rotation resolves on the next event.
				log.Printf("tls reload: %v", err)
				continue
			}
			log.Printf("tls certificate reloaded from %s", r.certFile)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Printf("tls watch: %v", err)
		case <-ctx.Done():
			return nil
		}
	}
}
