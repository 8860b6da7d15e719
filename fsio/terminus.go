package fsio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/dcshock/texpipe/logging"
	"github.com/dcshock/texpipe/pipeline"
)

// DefaultExt is the output extension for objects that have no backing file.
const DefaultExt = ".png"

// TerminusStats counts what a DirectoryTerminus did with its objects.
type TerminusStats struct {
	Written int
	Skipped int // output newer than the object's file
	Touched int // output identical to the object, mtime refreshed
}

// DirectoryTerminus writes each object to Dir/<location>/<name><ext>, where ext
// is the extension of the object's file or DefaultExt. Every output path it is
// asked for is remembered for PurgeUnrecognizedFiles.
type DirectoryTerminus struct {
	dir string
	log *zap.Logger
	now func() time.Time

	mu       sync.Mutex
	observed map[string]struct{} // slash-separated, relative to dir
	stats    TerminusStats
}

// NewDirectoryTerminus returns a terminus writing below dir, which is created.
func NewDirectoryTerminus(dir string, log *zap.Logger) (*DirectoryTerminus, error) {
	if dir == "" {
		return nil, pipeline.ConfigErrorf("output directory required")
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("output directory %s: %w", abs, err)
	}
	return &DirectoryTerminus{
		dir:      abs,
		log:      logging.OrNop(log),
		now:      time.Now,
		observed: make(map[string]struct{}),
	}, nil
}

// Dir returns the absolute output directory.
func (t *DirectoryTerminus) Dir() string { return t.dir }

// OutPath returns the file obj is written to.
func (t *DirectoryTerminus) OutPath(obj *pipeline.Object) string {
	return filepath.Join(t.dir, filepath.FromSlash(t.relPath(obj)))
}

func (t *DirectoryTerminus) relPath(obj *pipeline.Object) string {
	ext := filepath.Ext(obj.Path())
	if ext == "" {
		ext = DefaultExt
	}
	return obj.LocationName() + ext
}

// Write stores obj unless the existing output is newer than obj's file or
// already has identical content. In the identical case the output's mtime is
// refreshed so tools comparing timestamps leave it alone.
func (t *DirectoryTerminus) Write(ctx context.Context, obj *pipeline.Object) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	rel := t.relPath(obj)
	out := filepath.Join(t.dir, filepath.FromSlash(rel))
	t.mu.Lock()
	t.observed[rel] = struct{}{}
	t.mu.Unlock()

	existing, err := os.Stat(out)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("stat %s: %w", out, err)
	}
	if err == nil && obj.Path() != "" {
		src, err := os.Stat(obj.Path())
		if err != nil {
			return &pipeline.NotFoundError{Name: obj.Name(), Path: obj.Path(), Err: err}
		}
		if existing.ModTime().After(src.ModTime()) {
			t.count(func(s *TerminusStats) { s.Skipped++ })
			t.log.Debug("output is newer, skipping", zap.String("path", out))
			return nil
		}
	}

	data, err := t.content(obj)
	if err != nil {
		return err
	}
	if existing != nil {
		current, err := os.ReadFile(out)
		if err != nil {
			return err
		}
		if bytes.Equal(current, data) {
			now := t.now()
			if err := os.Chtimes(out, now, now); err != nil {
				return err
			}
			t.count(func(s *TerminusStats) { s.Touched++ })
			t.log.Debug("output unchanged, touched", zap.String("path", out))
			return nil
		}
	}

	if err := os.MkdirAll(filepath.Dir(out), 0o755); err != nil {
		return err
	}
	if err := pipeline.WriteFileAtomic(out, func(w io.Writer) error {
		_, err := w.Write(data)
		return err
	}); err != nil {
		return fmt.Errorf("write %s: %w", out, err)
	}
	t.count(func(s *TerminusStats) { s.Written++ })
	t.log.Info("wrote output", zap.String("object", obj.LocationName()), zap.String("path", out))
	return nil
}

// content is the backing file when obj has one, otherwise the encoded payload.
func (t *DirectoryTerminus) content(obj *pipeline.Object) ([]byte, error) {
	if obj.Path() != "" {
		b, err := os.ReadFile(obj.Path())
		if err != nil {
			return nil, &pipeline.NotFoundError{Name: obj.Name(), Path: obj.Path(), Err: err}
		}
		return b, nil
	}
	return obj.Bytes()
}

// Observed reports whether the output at rel (slash-separated, relative to the
// output directory) was produced or confirmed by this terminus.
func (t *DirectoryTerminus) Observed(rel string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.observed[rel]
	return ok
}

// Stats returns a snapshot of the counters.
func (t *DirectoryTerminus) Stats() TerminusStats {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stats
}

// PurgeUnrecognizedFiles removes every file under the output directory that this
// terminus was not asked to write, then the directories left empty.
func (t *DirectoryTerminus) PurgeUnrecognizedFiles() (SweepResult, error) {
	return Sweep(t.dir, t.dir, func(relDir, name string) bool {
		return t.Observed(path.Join(relDir, name))
	}, t.log)
}

func (t *DirectoryTerminus) count(fn func(*TerminusStats)) {
	t.mu.Lock()
	fn(&t.stats)
	t.mu.Unlock()
}
