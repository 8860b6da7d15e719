package checkpoint

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/dcshock/texpipe/logging"
	"github.com/dcshock/texpipe/pipeline"
)

// Internal names checkpoints that belong to a cached result without being
// written by the segment that caches it, typically checkpoints of segments
// nested inside it. *Segment and every pipeline composite implement it.
type Internal interface {
	CheckpointNames() []string
}

// Name is a single checkpoint name usable as an Internal.
type Name string

func (n Name) CheckpointNames() []string { return []string{string(n)} }

// Stats counts manager activity since creation.
type Stats struct {
	Hits     int // post-checkpoint loads that found every checkpoint
	Misses   int
	Writes   int // objects written into the cache
	Repoints int // objects pointed at an existing checkpoint without writing
	Observed int
}

type key struct {
	location string // slash-separated location_name
	cpt      string
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger used for cache hits, misses, writes and purges.
func WithLogger(l *zap.Logger) Option {
	return func(m *Manager) { m.log = logging.OrNop(l) }
}

// Manager owns a checkpoint root directory and the set of checkpoints observed
// during the current run. One Manager is meant to live for one run: the observed
// set starts empty and is what PurgeUnrecognizedFiles keeps.
type Manager struct {
	root string
	log  *zap.Logger

	mu       sync.Mutex
	observed map[key]struct{}
	stats    Stats
}

// NewManager returns a manager rooted at root, which is made absolute and created.
func NewManager(root string, opts ...Option) (*Manager, error) {
	if root == "" {
		return nil, pipeline.ConfigErrorf("checkpoint root required")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("checkpoint root %s: %w", root, err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("checkpoint root %s: %w", abs, err)
	}
	m := &Manager{
		root:     abs,
		log:      zap.NewNop(),
		observed: make(map[key]struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Root returns the absolute checkpoint root.
func (m *Manager) Root() string { return m.root }

// Path returns root/<location_name>/<cpt> for obj.
func (m *Manager) Path(obj *pipeline.Object, cpt string) string {
	return m.path(obj.LocationName(), cpt)
}

func (m *Manager) path(locationName, cpt string) string {
	return filepath.Join(m.root, filepath.FromSlash(locationName), cpt)
}

// Save stores each object at its checkpoint. An object whose checkpoint is
// missing, or every object when overwrite is set, is written; otherwise the
// object is only repointed at the existing file. Every pair is observed.
func (m *Manager) Save(objects []*pipeline.Object, cpts []string, overwrite bool) ([]*pipeline.Object, error) {
	return m.save(objects, objects, cpts, overwrite)
}

// save stores objects[i] under the location name of keys[i].
func (m *Manager) save(keys, objects []*pipeline.Object, cpts []string, overwrite bool) ([]*pipeline.Object, error) {
	if err := pipeline.CheckArity("checkpoint save", len(cpts), len(objects)); err != nil {
		return nil, err
	}
	if err := validateNames(cpts); err != nil {
		return nil, err
	}
	for i, obj := range objects {
		loc := keys[i].LocationName()
		m.observe(loc, cpts[i])
		p := m.path(loc, cpts[i])
		exists, err := fileExists(p)
		if err != nil {
			return nil, err
		}
		if exists && !overwrite {
			obj.SetPath(p)
			m.count(func(s *Stats) { s.Repoints++ })
			m.log.Debug("checkpoint exists", zap.String("object", loc), zap.String("checkpoint", cpts[i]))
			continue
		}
		if err := obj.Save(p); err != nil {
			return nil, err
		}
		m.count(func(s *Stats) { s.Writes++ })
		m.log.Debug("checkpoint written", zap.String("object", loc), zap.String("checkpoint", cpts[i]))
	}
	return objects, nil
}

// Load returns objects backed by the checkpoints of objects, one per cpt, each
// with the corresponding input as parent. Every pair is observed first, even when
// the load misses. On a miss Load returns nil and no error. On a hit the names
// reported by internal are observed under each input's location name as well.
func (m *Manager) Load(objects []*pipeline.Object, cpts []string, internal []Internal) ([]*pipeline.Object, error) {
	if err := pipeline.CheckArity("checkpoint load", len(cpts), len(objects)); err != nil {
		return nil, err
	}
	return m.load(objects, cpts, internal, objects, func(i int) []*pipeline.Object {
		return []*pipeline.Object{objects[i]}
	})
}

// load checks the checkpoint of keys[i] for each cpts[i]. On a hit the internal
// names are observed under the location name of every object in owners.
func (m *Manager) load(keys []*pipeline.Object, cpts []string, internal []Internal, owners []*pipeline.Object, parents func(i int) []*pipeline.Object) ([]*pipeline.Object, error) {
	if err := validateNames(cpts); err != nil {
		return nil, err
	}
	for i, k := range keys {
		m.observe(k.LocationName(), cpts[i])
	}
	paths := make([]string, len(keys))
	for i, k := range keys {
		paths[i] = m.path(k.LocationName(), cpts[i])
		exists, err := fileExists(paths[i])
		if err != nil {
			return nil, err
		}
		if !exists {
			m.count(func(s *Stats) { s.Misses++ })
			m.log.Debug("checkpoint miss", zap.String("object", k.LocationName()), zap.String("checkpoint", cpts[i]))
			return nil, nil
		}
	}
	out := make([]*pipeline.Object, len(keys))
	for i := range keys {
		obj, err := pipeline.NewObject(pipeline.ObjectSpec{Path: paths[i], Parents: parents(i)})
		if err != nil {
			return nil, err
		}
		out[i] = obj
	}
	done := make(map[string]bool, len(owners))
	for _, o := range owners {
		loc := o.LocationName()
		if done[loc] {
			continue
		}
		done[loc] = true
		for _, in := range internal {
			for _, name := range in.CheckpointNames() {
				m.observe(loc, name)
			}
		}
	}
	m.count(func(s *Stats) { s.Hits++ })
	m.log.Debug("checkpoint hit", zap.String("object", keys[0].LocationName()), zap.Strings("checkpoints", cpts))
	return out, nil
}

// Observe marks each (object, cpt) pair as used by this run without touching disk.
func (m *Manager) Observe(objects []*pipeline.Object, cpts []string) error {
	if err := pipeline.CheckArity("checkpoint observe", len(cpts), len(objects)); err != nil {
		return err
	}
	for i, obj := range objects {
		m.observe(obj.LocationName(), cpts[i])
	}
	return nil
}

// Observed reports whether (locationName, cpt) was observed. locationName is
// slash-separated, as returned by Object.LocationName.
func (m *Manager) Observed(locationName, cpt string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.observed[key{location: locationName, cpt: cpt}]
	return ok
}

// ObservedCount returns the number of distinct observed checkpoints.
func (m *Manager) ObservedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.observed)
}

// Stats returns a snapshot of the manager counters.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.stats
	s.Observed = len(m.observed)
	return s
}

func (m *Manager) observe(locationName, cpt string) {
	m.mu.Lock()
	m.observed[key{location: locationName, cpt: cpt}] = struct{}{}
	m.mu.Unlock()
}

func (m *Manager) count(fn func(*Stats)) {
	m.mu.Lock()
	fn(&m.stats)
	m.mu.Unlock()
}

func validateNames(cpts []string) error {
	for _, c := range cpts {
		if c == "" || c == "." || c == ".." || strings.ContainsAny(c, `/\`) {
			return pipeline.ConfigErrorf("invalid checkpoint name %q", c)
		}
	}
	return nil
}

func fileExists(p string) (bool, error) {
	info, err := os.Stat(p)
	if err == nil {
		return !info.IsDir(), nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, fmt.Errorf("stat checkpoint %s: %w", p, err)
}
