package spill

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"

	"github.com/hupe1980/ivfbuild/batch"
	"github.com/hupe1980/ivfbuild/internal/fs"
	"github.com/hupe1980/ivfbuild/internal/resource"
)

// Dir is a uniquely named directory owning the spill files of one shuffle.
type Dir struct {
	fs   fs.FileSystem
	path string

	mu     sync.Mutex
	files  map[string]struct{}
	closed bool
}

// NewDir creates parent/prefix-<uuid>. An empty parent means os.TempDir().
// A nil fsys means fs.Default.
func NewDir(fsys fs.FileSystem, parent, prefix string) (*Dir, error) {
	if fsys == nil {
		fsys = fs.Default
	}
	if parent == "" {
		parent = os.TempDir()
	}
	path := filepath.Join(parent, prefix+"-"+uuid.NewString())
	if err := fsys.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("spill: create dir: %w", err)
	}
	return &Dir{fs: fsys, path: path, files: make(map[string]struct{})}, nil
}

// Path returns the directory path.
func (d *Dir) Path() string { return d.path }

// Files returns the number of live spill files.
func (d *Dir) Files() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.files)
}

func (d *Dir) track(name string) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return "", errors.New("spill: dir already cleaned up")
	}
	d.files[name] = struct{}{}
	return filepath.Join(d.path, name), nil
}

// Create opens a new spill writer for name. Writes are throttled by rc when it
// carries an IO limit.
func (d *Dir) Create(ctx context.Context, name string, schema *batch.Schema, c Compression, rc *resource.Controller) (*Writer, error) {
	path, err := d.track(name)
	if err != nil {
		return nil, err
	}
	f, err := d.fs.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("spill: create %s: %w", name, err)
	}
	w, err := NewWriter(&throttledFile{File: f, w: resource.NewRateLimitedWriter(ctx, f, rc)}, schema, c)
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("spill: write header %s: %w", name, err)
	}
	return w, nil
}

// Open opens a spill reader for name.
func (d *Dir) Open(ctx context.Context, name string, rc *resource.Controller) (*Reader, error) {
	f, err := d.fs.OpenFile(filepath.Join(d.path, name), os.O_RDONLY, 0)
	if err != nil {
		return nil, fmt.Errorf("spill: open %s: %w", name, err)
	}
	fd, hasFd := fs.Fd(f)
	if hasFd {
		fadviseSequential(fd)
	}
	tf := &throttledFile{File: f, r: resource.NewRateLimitedReader(ctx, f, rc), dontNeed: hasFd}
	r, err := NewReader(tf)
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("spill: open %s: %w", name, err)
	}
	return r, nil
}

// Remove deletes one spill file.
func (d *Dir) Remove(name string) error {
	d.mu.Lock()
	delete(d.files, name)
	d.mu.Unlock()
	if err := d.fs.Remove(filepath.Join(d.path, name)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("spill: remove %s: %w", name, err)
	}
	return nil
}

// Cleanup removes every spill file and the directory itself. It is safe to
// call more than once.
func (d *Dir) Cleanup() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	names := make([]string, 0, len(d.files))
	for name := range d.files {
		names = append(names, name)
	}
	d.files = nil
	d.mu.Unlock()

	var errs []error
	for _, name := range names {
		if err := d.fs.Remove(filepath.Join(d.path, name)); err != nil && !os.IsNotExist(err) {
			errs = append(errs, err)
		}
	}
	if err := d.fs.Remove(d.path); err != nil && !os.IsNotExist(err) {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// throttledFile routes reads and writes through the IO limiter and closes the
// underlying file.
type throttledFile struct {
	fs.File
	w        *resource.RateLimitedWriter
	r        *resource.RateLimitedReader
	dontNeed bool
}

func (t *throttledFile) Write(p []byte) (int, error) { return t.w.Write(p) }
func (t *throttledFile) Read(p []byte) (int, error)  { return t.r.Read(p) }

func (t *throttledFile) Close() error {
	if t.dontNeed {
		if fd, ok := fs.Fd(t.File); ok {
			fadviseDontNeed(fd)
		}
	}
	return t.File.Close()
}
