package fsio

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/dcshock/texpipe/logging"
)

// SweepResult lists what a sweep removed, as slash-separated paths relative to
// the sweep root.
type SweepResult struct {
	Files []string
	Dirs  []string
}

// KeepFunc decides whether the file name in relDir survives a sweep. relDir is
// slash-separated and relative to the sweep root, "" for the root itself.
type KeepFunc func(relDir, name string) bool

// Sweep walks start depth-first, post-order. Files for which keep returns false
// are removed; after its children are handled a directory that is empty is
// removed too, unless it is root. start must be root or lie inside it.
func Sweep(root, start string, keep KeepFunc, log *zap.Logger) (SweepResult, error) {
	s := &sweeper{root: filepath.Clean(root), keep: keep, log: logging.OrNop(log)}
	err := s.dir(filepath.Clean(start))
	return s.res, err
}

type sweeper struct {
	root string
	keep KeepFunc
	log  *zap.Logger
	res  SweepResult
}

func (s *sweeper) dir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("sweep: %w", err)
	}
	relDir := s.rel(dir)
	var subdirs []string
	for _, e := range entries {
		if e.IsDir() {
			subdirs = append(subdirs, filepath.Join(dir, e.Name()))
			continue
		}
		if s.keep(relDir, e.Name()) {
			continue
		}
		p := filepath.Join(dir, e.Name())
		if err := os.Remove(p); err != nil {
			return fmt.Errorf("sweep: %w", err)
		}
		s.res.Files = append(s.res.Files, s.rel(p))
		s.log.Info("removed unrecognized file", zap.String("path", p))
	}
	for _, sub := range subdirs {
		if err := s.dir(sub); err != nil {
			return err
		}
	}
	if dir == s.root {
		return nil
	}
	remaining, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("sweep: %w", err)
	}
	if len(remaining) == 0 {
		if err := os.Remove(dir); err != nil {
			return fmt.Errorf("sweep: %w", err)
		}
		s.res.Dirs = append(s.res.Dirs, relDir)
		s.log.Debug("removed empty directory", zap.String("path", dir))
	}
	return nil
}

func (s *sweeper) rel(p string) string {
	rel, err := filepath.Rel(s.root, p)
	if err != nil || rel == "." {
		return ""
	}
	return filepath.ToSlash(rel)
}

// Within reports whether p is root or lies inside it.
func Within(root, p string) bool {
	rel, err := filepath.Rel(root, p)
	if err != nil {
		return false
	}
	return rel != ".." && !filepath.IsAbs(rel) && !startsWithParent(rel)
}

func startsWithParent(rel string) bool {
	return len(rel) >= 3 && rel[:2] == ".." && os.IsPathSeparator(rel[2])
}
