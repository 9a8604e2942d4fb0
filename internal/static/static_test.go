package static

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
)

func newRoot(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, "img"), 0755); err != nil {
		t.Fatal(err)
	}
	files := map[string]string{
		"index.html":  "<html>home</html>",
		"img/cat.png": "png-bytes",
	}
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(root, name), []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
	}
	// A secret outside the root that traversal must never reach.
	if err := os.WriteFile(filepath.Join(filepath.Dir(root), "secret.txt"), []byte("nope"), 0644); err != nil {
		t.Fatal(err)
	}
	return root
}

func TestResolveFile(t *testing.T) {
	r := NewResolver(newRoot(t))
	full, err := r.Resolve("/img/cat.png")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	data, err := os.ReadFile(full)
	if err != nil || string(data) != "png-bytes" {
		t.Errorf("resolved wrong file: %q %v", data, err)
	}
}

func TestResolveDirectoryIndex(t *testing.T) {
	r := NewResolver(newRoot(t))
	full, err := r.Resolve("/")
	if err != nil {
		t.Fatalf("Resolve(/): %v", err)
	}
	if filepath.Base(full) != "index.html" {
		t.Errorf("directory resolved to %q", full)
	}
}

func TestResolveMissing(t *testing.T) {
	r := NewResolver(newRoot(t))
	if _, err := r.Resolve("/nope.txt"); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing file err = %v, want ErrNotFound", err)
	}
	// Directory without an index file.
	root := t.TempDir()
	os.MkdirAll(filepath.Join(root, "d"), 0755)
	if _, err := NewResolver(root).Resolve("/d"); !errors.Is(err, ErrNotFound) {
		t.Errorf("bare directory err = %v, want ErrNotFound", err)
	}
}

func TestTraversalRejected(t *testing.T) {
	r := NewResolver(newRoot(t))
	for _, p := range []string{
		"/../secret.txt",
		"/img/../../secret.txt",
		"/..%2fsecret.txt",
	} {
		if full, err := r.Resolve(p); err == nil {
			t.Errorf("Resolve(%q) escaped root: %q", p, full)
		}
	}
}

func TestServe(t *testing.T) {
	r := NewResolver(newRoot(t))
	full, err := r.Resolve("/index.html")
	if err != nil {
		t.Fatal(err)
	}
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/index.html", nil)
	r.Serve(rec, req, full)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if rec.Body.String() != "<html>home</html>" {
		t.Errorf("body = %q", rec.Body.String())
	}
}
