package render

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// ErrInvalidPath is returned for paths that are absolute or leave the root.
var ErrInvalidPath = errors.New("path is outside the root directory")

// DirResolver reads notes and images below one root directory (the vault).
// It implements contentserver.FileResolver and Resolver.
type DirResolver struct {
	root *os.Root
	dir  string
}

// NewDirResolver opens dir as the root.
func NewDirResolver(dir string) (*DirResolver, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve root %s: %w", dir, err)
	}
	root, err := os.OpenRoot(abs)
	if err != nil {
		return nil, fmt.Errorf("open root %s: %w", abs, err)
	}
	return &DirResolver{root: root, dir: abs}, nil
}

// Dir returns the absolute root directory.
func (d *DirResolver) Dir() string { return d.dir }

// Close releases the root.
func (d *DirResolver) Close() error { return d.root.Close() }

// ReadFile reads p, a slash-separated path relative to the root. Symlinks
// that leave the root are refused along with absolute and ".." paths.
func (d *DirResolver) ReadFile(ctx context.Context, p string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	name, err := clean(p)
	if err != nil {
		return nil, err
	}
	f, err := d.root.Open(filepath.FromSlash(name))
	if err != nil {
		return nil, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%s: is a directory", name)
	}
	return io.ReadAll(f)
}

// Resolve finds link relative to the note at from, then relative to the
// root, and returns the first candidate that is a regular file.
func (d *DirResolver) Resolve(link, from string) (string, bool) {
	var candidates []string
	if strings.HasPrefix(link, "/") {
		candidates = []string{strings.TrimLeft(link, "/")}
	} else {
		candidates = []string{path.Join(path.Dir(filepath.ToSlash(from)), link), link}
	}

	for _, c := range candidates {
		name, err := clean(c)
		if err != nil {
			continue
		}
		info, err := d.root.Stat(filepath.FromSlash(name))
		if err == nil && info.Mode().IsRegular() {
			return name, true
		}
	}
	return "", false
}

// Rel returns file's slash-separated path relative to the root.
func (d *DirResolver) Rel(file string) (string, error) {
	abs, err := filepath.Abs(file)
	if err != nil {
		return "", err
	}
	rel, err := filepath.Rel(d.dir, abs)
	if err != nil {
		return "", err
	}
	return clean(filepath.ToSlash(rel))
}

// Note returns a render function for the note at docPath, relative to the
// root. Each call re-reads the note.
func (d *DirResolver) Note(docPath string) func(ctx context.Context, baseURL, token string) (string, error) {
	return func(ctx context.Context, baseURL, token string) (string, error) {
		src, err := d.ReadFile(ctx, docPath)
		if err != nil {
			return "", fmt.Errorf("read note %s: %w", docPath, err)
		}
		return Markdown(src, docPath, baseURL, token, d)
	}
}

func clean(p string) (string, error) {
	p = strings.ReplaceAll(p, "\\", "/")
	if p == "" || path.IsAbs(p) || filepath.IsAbs(p) {
		return "", fmt.Errorf("%w: %q", ErrInvalidPath, p)
	}
	c := path.Clean(p)
	if c == "." || c == ".." || strings.HasPrefix(c, "../") {
		return "", fmt.Errorf("%w: %q", ErrInvalidPath, p)
	}
	return c, nil
}
