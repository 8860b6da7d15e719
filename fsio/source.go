package fsio

import (
	"context"
	"fmt"
	"io/fs"
	"iter"
	"path"
	"path/filepath"
	"regexp"
	"sort"
	"sync"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/charlievieth/fastwalk"
	"go.uber.org/zap"

	"github.com/dcshock/texpipe/logging"
	"github.com/dcshock/texpipe/pipeline"
)

// DefaultExclude matches files operating systems and file managers leave behind.
var DefaultExclude = []*regexp.Regexp{
	regexp.MustCompile(`(^|/)(\.DS_Store|Thumbs\.db|desktop\.ini)$`),
	regexp.MustCompile(`(^|/)\._[^/]*$`),
}

// DirectorySource yields one object per regular file under Root. Filters and
// ordering apply to the slash-separated path relative to Root.
type DirectorySource struct {
	Root string
	// Exclude drops matching paths. Nil means DefaultExclude; use an empty,
	// non-nil slice to keep everything.
	Exclude []*regexp.Regexp
	// Include, when non-empty, keeps only paths matching at least one pattern.
	Include []*regexp.Regexp
	// Globs, when non-empty, keeps only paths matching at least one doublestar
	// pattern such as "**/*.png".
	Globs []string
	// Less orders paths. Nil means Lexical.
	Less    func(a, b string) bool
	Reverse bool
	// Codec is given to every object; nil leaves the pipeline default.
	Codec  pipeline.Codec
	Logger *zap.Logger
}

// Lexical orders paths by byte value, which for UTF-8 is code point order.
func Lexical(a, b string) bool { return a < b }

// Paths scans Root and returns the surviving relative paths in order.
func (s *DirectorySource) Paths(ctx context.Context) ([]string, error) {
	for _, g := range s.Globs {
		if !doublestar.ValidatePattern(g) {
			return nil, pipeline.ConfigErrorf("invalid glob %q", g)
		}
	}
	root, err := filepath.Abs(s.Root)
	if err != nil {
		return nil, err
	}
	exclude := s.Exclude
	if exclude == nil {
		exclude = DefaultExclude
	}

	var (
		mu    sync.Mutex
		paths []string
	)
	conf := fastwalk.Config{Follow: false}
	err = fastwalk.Walk(&conf, root, func(p string, d fs.DirEntry, err error) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if !s.keep(rel, exclude) {
			return nil
		}
		mu.Lock()
		paths = append(paths, rel)
		mu.Unlock()
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", root, err)
	}

	less := s.Less
	if less == nil {
		less = Lexical
	}
	sort.SliceStable(paths, func(i, j int) bool {
		if s.Reverse {
			return less(paths[j], paths[i])
		}
		return less(paths[i], paths[j])
	})
	logging.OrNop(s.Logger).Debug("scanned source directory", zap.String("root", root), zap.Int("files", len(paths)))
	return paths, nil
}

func (s *DirectorySource) keep(rel string, exclude []*regexp.Regexp) bool {
	for _, re := range exclude {
		if re.MatchString(rel) {
			return false
		}
	}
	if len(s.Include) > 0 && !anyMatch(s.Include, rel) {
		return false
	}
	if len(s.Globs) > 0 {
		ok := false
		for _, g := range s.Globs {
			if m, _ := doublestar.Match(g, rel); m {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	return true
}

func anyMatch(res []*regexp.Regexp, s string) bool {
	for _, re := range res {
		if re.MatchString(s) {
			return true
		}
	}
	return false
}

// Objects implements pipeline.Source. The directory is scanned once when
// iteration starts; objects are path-backed and load lazily.
func (s *DirectorySource) Objects(ctx context.Context) iter.Seq2[*pipeline.Object, error] {
	return func(yield func(*pipeline.Object, error) bool) {
		paths, err := s.Paths(ctx)
		if err != nil {
			yield(nil, err)
			return
		}
		root, _ := filepath.Abs(s.Root)
		for _, rel := range paths {
			if err := ctx.Err(); err != nil {
				yield(nil, err)
				return
			}
			loc := path.Dir(rel)
			if loc == "." {
				loc = ""
			}
			obj, err := pipeline.NewObject(pipeline.ObjectSpec{
				Path:     filepath.Join(root, filepath.FromSlash(rel)),
				Location: loc,
				Codec:    s.Codec,
			})
			if !yield(obj, err) || err != nil {
				return
			}
		}
	}
}
