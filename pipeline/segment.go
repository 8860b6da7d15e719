package pipeline

import (
	"context"
	"fmt"
	"strconv"
)

// Variadic marks an arity side that accepts any number of objects.
const Variadic = -1

// Arity is the declared number of input and output objects of a segment.
type Arity struct {
	In  int
	Out int
}

func (a Arity) String() string {
	side := func(n int) string {
		if n == Variadic {
			return "*"
		}
		return strconv.Itoa(n)
	}
	return side(a.In) + "->" + side(a.Out)
}

// Segment is a transformation stage: N objects in, M objects out. Arity is known
// before invocation so wrappers (checkpointing in particular) can validate counts
// without running the stage. Call must not have side effects beyond producing
// its outputs; cached results are only valid under that assumption.
type Segment interface {
	Arity() Arity
	Call(ctx context.Context, inputs ...*Object) ([]*Object, error)
}

// Named is implemented by segments that carry a human-readable name, used in
// logs and error messages.
type Named interface {
	Name() string
}

// SegmentName returns the segment's name, or its Go type when it has none.
func SegmentName(s Segment) string {
	if n, ok := s.(Named); ok && n.Name() != "" {
		return n.Name()
	}
	return fmt.Sprintf("%T", s)
}

// CheckArity returns an *ArityError when got differs from a fixed want.
func CheckArity(op string, want, got int) error {
	if want == Variadic || want == got {
		return nil
	}
	return &ArityError{Op: op, Want: want, Got: got}
}

// ProcessorFunc transforms a single payload.
type ProcessorFunc func(ctx context.Context, payload interface{}) (interface{}, error)

// MergerFunc combines several payloads into one.
type MergerFunc func(ctx context.Context, payloads []interface{}) (interface{}, error)

// SplitterFunc produces several payloads from one.
type SplitterFunc func(ctx context.Context, payload interface{}) ([]interface{}, error)

// RunnerFunc works on the objects themselves rather than their payloads. Use it
// for stages that hand file paths to an external process.
type RunnerFunc func(ctx context.Context, inputs []*Object) ([]*Object, error)

type processor struct {
	name string
	fn   ProcessorFunc
}

// Processor returns a 1->1 segment. The output object has the input as its only parent.
func Processor(name string, fn ProcessorFunc) Segment {
	return &processor{name: name, fn: fn}
}

func (p *processor) Name() string { return p.name }
func (p *processor) Arity() Arity { return Arity{In: 1, Out: 1} }

func (p *processor) Call(ctx context.Context, inputs ...*Object) ([]*Object, error) {
	if err := CheckArity(p.name, 1, len(inputs)); err != nil {
		return nil, err
	}
	in, err := inputs[0].Payload()
	if err != nil {
		return nil, err
	}
	out, err := p.fn(ctx, in)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", p.name, err)
	}
	child, err := Derive(out, inputs[0])
	if err != nil {
		return nil, fmt.Errorf("%s: %w", p.name, err)
	}
	return []*Object{child}, nil
}

type merger struct {
	name string
	n    int
	fn   MergerFunc
}

// Merger returns an n->1 segment. The output object has all inputs as parents,
// in input order, so its name and location come from the first input.
func Merger(name string, n int, fn MergerFunc) Segment {
	return &merger{name: name, n: n, fn: fn}
}

func (m *merger) Name() string { return m.name }
func (m *merger) Arity() Arity { return Arity{In: m.n, Out: 1} }

func (m *merger) Call(ctx context.Context, inputs ...*Object) ([]*Object, error) {
	if err := CheckArity(m.name, m.n, len(inputs)); err != nil {
		return nil, err
	}
	if len(inputs) == 0 {
		return nil, &ArityError{Op: m.name, Want: 1, Got: 0}
	}
	payloads := make([]interface{}, len(inputs))
	for i, in := range inputs {
		p, err := in.Payload()
		if err != nil {
			return nil, err
		}
		payloads[i] = p
	}
	out, err := m.fn(ctx, payloads)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", m.name, err)
	}
	child, err := Derive(out, inputs...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", m.name, err)
	}
	return []*Object{child}, nil
}

type splitter struct {
	name string
	m    int
	fn   SplitterFunc
}

// Splitter returns a 1->m segment. Every output has the input as its only parent.
func Splitter(name string, m int, fn SplitterFunc) Segment {
	return &splitter{name: name, m: m, fn: fn}
}

func (s *splitter) Name() string { return s.name }
func (s *splitter) Arity() Arity { return Arity{In: 1, Out: s.m} }

func (s *splitter) Call(ctx context.Context, inputs ...*Object) ([]*Object, error) {
	if err := CheckArity(s.name, 1, len(inputs)); err != nil {
		return nil, err
	}
	in, err := inputs[0].Payload()
	if err != nil {
		return nil, err
	}
	parts, err := s.fn(ctx, in)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", s.name, err)
	}
	if err := CheckArity(s.name+" output", s.m, len(parts)); err != nil {
		return nil, err
	}
	out := make([]*Object, len(parts))
	for i, p := range parts {
		child, err := Derive(p, inputs[0])
		if err != nil {
			return nil, fmt.Errorf("%s: %w", s.name, err)
		}
		out[i] = child
	}
	return out, nil
}

type runner struct {
	name  string
	arity Arity
	fn    RunnerFunc
}

// Runner returns a segment that receives and returns whole objects.
func Runner(name string, arity Arity, fn RunnerFunc) Segment {
	return &runner{name: name, arity: arity, fn: fn}
}

func (r *runner) Name() string { return r.name }
func (r *runner) Arity() Arity { return r.arity }

func (r *runner) Call(ctx context.Context, inputs ...*Object) ([]*Object, error) {
	if err := CheckArity(r.name, r.arity.In, len(inputs)); err != nil {
		return nil, err
	}
	out, err := r.fn(ctx, inputs)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", r.name, err)
	}
	if err := CheckArity(r.name+" output", r.arity.Out, len(out)); err != nil {
		return nil, err
	}
	return out, nil
}

// SegmentFunc adapts a plain function with a declared arity to Segment. The
// function is responsible for its own arity handling.
type SegmentFunc struct {
	Label string
	In    int
	Out   int
	Fn    func(ctx context.Context, inputs ...*Object) ([]*Object, error)
}

func (f SegmentFunc) Name() string { return f.Label }
func (f SegmentFunc) Arity() Arity { return Arity{In: f.In, Out: f.Out} }

func (f SegmentFunc) Call(ctx context.Context, inputs ...*Object) ([]*Object, error) {
	return f.Fn(ctx, inputs...)
}
