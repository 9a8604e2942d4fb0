package static

import (
	"errors"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// ErrNotFound distinguishes "no such file" from I/O failures so the caller
// can fall through to the next routing rule.
var ErrNotFound = errors.New("static file not found")

// Resolver maps request paths to files under a root directory, rejecting
// any path that would escape it.
type Resolver struct {
	root string
}

func NewResolver(root string) *Resolver {
	return &Resolver{root: filepath.Clean(root)}
}

// Resolve returns the on-disk path for a request path, or ErrNotFound when
// no regular file exists there. Directory requests resolve to index.html.
func (r *Resolver) Resolve(reqPath string) (string, error) {
	clean := path.Clean("/" + reqPath)
	if strings.Contains(clean, "..") {
		return "", ErrNotFound
	}
	full := filepath.Join(r.root, filepath.FromSlash(clean))
	if !strings.HasPrefix(full, r.root+string(filepath.Separator)) && full != r.root {
		return "", ErrNotFound
	}
	info, err := os.Stat(full)
	if err != nil {
		if os.IsNotExist(err) {
			return "", ErrNotFound
		}
		return "", err
	}
	if info.IsDir() {
		idx := filepath.Join(full, "index.html")
		if fi, err := os.Stat(idx); err == nil && !fi.IsDir() {
			return idx, nil
		}
		return "", ErrNotFound
	}
	return full, nil
}

// Serve writes the resolved file to the client. The caller has already
// called Resolve, so a failure here is an I/O error, not a routing miss.
func (r *Resolver) Serve(w http.ResponseWriter, req *http.Request, fullPath string) {
	http.ServeFile(w, req, fullPath)
}
