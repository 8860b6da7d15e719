package checkpoint

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/dcshock/texpipe/pipeline"
)

// Mode selects whether a Segment checkpoints its inputs or its outputs.
type Mode int

const (
	// ModePre persists inputs before the wrapped segment runs.
	ModePre Mode = iota
	// ModePost loads outputs from the cache, or computes and persists them.
	ModePost
)

func (m Mode) String() string {
	if m == ModePre {
		return "pre-checkpoint"
	}
	return "post-checkpoint"
}

// Segment wraps a pipeline.Segment with pre- or post-execution checkpointing.
// Build one with Manager.Pre/Post or the PreSegment/PostSegment decorators.
type Segment struct {
	inner    pipeline.Segment
	m        *Manager
	mode     Mode
	cpts     []string
	internal []Internal
}

// Decorator wraps a segment in a checkpointed one.
type Decorator func(pipeline.Segment) (*Segment, error)

// PreSegment returns a decorator that persists the wrapped segment's inputs,
// one checkpoint name per input, before every call.
func (m *Manager) PreSegment(cpts ...string) Decorator {
	return func(seg pipeline.Segment) (*Segment, error) { return m.Pre(seg, cpts...) }
}

// PostSegment returns a decorator that memoizes the wrapped segment's outputs,
// one checkpoint name per output. internal lists checkpoints that must survive a
// purge whenever this one hits, beyond those nested inside the wrapped segment.
func (m *Manager) PostSegment(cpts []string, internal ...Internal) Decorator {
	return func(seg pipeline.Segment) (*Segment, error) { return m.Post(seg, cpts, internal...) }
}

// Pre wraps seg with input checkpointing.
func (m *Manager) Pre(seg pipeline.Segment, cpts ...string) (*Segment, error) {
	return m.wrap(ModePre, seg, cpts, nil)
}

// Post wraps seg with output checkpointing.
func (m *Manager) Post(seg pipeline.Segment, cpts []string, internal ...Internal) (*Segment, error) {
	return m.wrap(ModePost, seg, cpts, internal)
}

func (m *Manager) wrap(mode Mode, seg pipeline.Segment, cpts []string, internal []Internal) (*Segment, error) {
	if seg == nil {
		return nil, pipeline.ConfigErrorf("%s: segment required", mode)
	}
	if len(cpts) == 0 {
		return nil, pipeline.ConfigErrorf("%s %s: at least one checkpoint name required", mode, pipeline.SegmentName(seg))
	}
	if err := validateNames(cpts); err != nil {
		return nil, err
	}
	s := &Segment{
		inner:    seg,
		m:        m,
		mode:     mode,
		cpts:     append([]string(nil), cpts...),
		internal: internal,
	}
	if err := pipeline.CheckArity(s.Name(), s.declared(), len(cpts)); err != nil {
		return nil, err
	}
	return s, nil
}

// declared is the arity side the checkpoint names must match.
func (s *Segment) declared() int {
	if s.mode == ModePre {
		return s.inner.Arity().In
	}
	return s.inner.Arity().Out
}

func (s *Segment) Name() string {
	return s.mode.String() + "[" + strings.Join(s.cpts, ",") + "](" + pipeline.SegmentName(s.inner) + ")"
}

func (s *Segment) Arity() pipeline.Arity    { return s.inner.Arity() }
func (s *Segment) Unwrap() pipeline.Segment { return s.inner }
func (s *Segment) Mode() Mode               { return s.mode }

// Checkpoints returns the names this segment writes itself.
func (s *Segment) Checkpoints() []string { return append([]string(nil), s.cpts...) }

// CheckpointNames returns the segment's own checkpoint names followed by the
// explicit internal names and those of segments nested inside it.
func (s *Segment) CheckpointNames() []string {
	seen := make(map[string]bool)
	var out []string
	add := func(ns []string) {
		for _, n := range ns {
			if !seen[n] {
				seen[n] = true
				out = append(out, n)
			}
		}
	}
	add(s.cpts)
	for _, in := range s.internal {
		add(in.CheckpointNames())
	}
	add(pipeline.CollectCheckpointNames(s.inner))
	return out
}

// Call runs the segment. Arity is checked before anything touches the cache.
func (s *Segment) Call(ctx context.Context, inputs ...*pipeline.Object) ([]*pipeline.Object, error) {
	if s.mode == ModePre {
		return s.callPre(ctx, inputs)
	}
	return s.callPost(ctx, inputs)
}

func (s *Segment) callPre(ctx context.Context, inputs []*pipeline.Object) ([]*pipeline.Object, error) {
	if err := pipeline.CheckArity(s.Name(), len(s.cpts), len(inputs)); err != nil {
		return nil, err
	}
	saved, err := s.m.Save(inputs, s.cpts, false)
	if err != nil {
		return nil, err
	}
	return s.inner.Call(ctx, saved...)
}

func (s *Segment) callPost(ctx context.Context, inputs []*pipeline.Object) ([]*pipeline.Object, error) {
	if len(inputs) == 0 {
		return nil, &pipeline.ArityError{Op: s.Name(), Want: 1, Got: 0}
	}
	if err := pipeline.CheckArity(s.Name(), s.inner.Arity().In, len(inputs)); err != nil {
		return nil, err
	}
	// Outputs are addressed by the first input so a hit and a fresh computation
	// resolve to the same files.
	keys := make([]*pipeline.Object, len(s.cpts))
	for i := range keys {
		keys[i] = inputs[0]
	}
	internal := append([]Internal{}, s.internal...)
	if nested := pipeline.CollectCheckpointNames(s.inner); len(nested) > 0 {
		internal = append(internal, names(nested))
	}
	cached, err := s.m.load(keys, s.cpts, internal, inputs, func(int) []*pipeline.Object { return inputs })
	if err != nil {
		return nil, err
	}
	if cached != nil {
		return cached, nil
	}

	outputs, err := s.inner.Call(ctx, inputs...)
	if err != nil {
		return nil, err
	}
	if err := pipeline.CheckArity(s.Name()+" output", len(s.cpts), len(outputs)); err != nil {
		s.m.log.Warn("output count does not match checkpoints", zap.String("segment", s.Name()), zap.Int("outputs", len(outputs)))
		return nil, err
	}
	return s.m.save(keys, outputs, s.cpts, true)
}

type names []string

func (n names) CheckpointNames() []string { return n }
