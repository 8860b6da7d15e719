package pipeline

import (
	"context"
	"fmt"
	"sort"
	"strings"
)

// Checkpointed is implemented by segments that read or write checkpoints, and by
// composites containing such segments. CheckpointNames lists every checkpoint
// name the segment (and anything nested inside it) touches for one object.
type Checkpointed interface {
	CheckpointNames() []string
}

// CollectCheckpointNames returns the checkpoint names of every segment in segs
// that implements Checkpointed, in order, without duplicates.
func CollectCheckpointNames(segs ...Segment) []string {
	var names []string
	seen := make(map[string]bool)
	for _, s := range segs {
		c, ok := s.(Checkpointed)
		if !ok {
			continue
		}
		for _, n := range c.CheckpointNames() {
			if !seen[n] {
				seen[n] = true
				names = append(names, n)
			}
		}
	}
	return names
}

type chain struct {
	segs []Segment
}

// Chain runs segments in order; each segment's outputs are the next one's inputs.
// Its arity is the first segment's input arity and the last segment's output arity.
// An empty chain passes its inputs through.
func Chain(segs ...Segment) Segment {
	return &chain{segs: segs}
}

func (c *chain) Name() string {
	names := make([]string, len(c.segs))
	for i, s := range c.segs {
		names[i] = SegmentName(s)
	}
	return "chain(" + strings.Join(names, ",") + ")"
}

func (c *chain) Arity() Arity {
	if len(c.segs) == 0 {
		return Arity{In: Variadic, Out: Variadic}
	}
	return Arity{In: c.segs[0].Arity().In, Out: c.segs[len(c.segs)-1].Arity().Out}
}

func (c *chain) Call(ctx context.Context, inputs ...*Object) ([]*Object, error) {
	out := inputs
	for i, s := range c.segs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		next, err := s.Call(ctx, out...)
		if err != nil {
			return nil, fmt.Errorf("segment %d (%s): %w", i, SegmentName(s), err)
		}
		out = next
	}
	return out, nil
}

func (c *chain) CheckpointNames() []string { return CollectCheckpointNames(c.segs...) }

type each struct {
	seg Segment
}

// Each applies a single-input segment to every object of a bundle separately and
// concatenates the outputs in input order.
func Each(seg Segment) Segment {
	return &each{seg: seg}
}

func (e *each) Name() string { return "each(" + SegmentName(e.seg) + ")" }

func (e *each) Arity() Arity { return Arity{In: Variadic, Out: Variadic} }

func (e *each) Call(ctx context.Context, inputs ...*Object) ([]*Object, error) {
	if err := CheckArity(e.Name(), 1, e.seg.Arity().In); err != nil {
		return nil, err
	}
	var out []*Object
	for _, in := range inputs {
		res, err := e.seg.Call(ctx, in)
		if err != nil {
			return nil, err
		}
		out = append(out, res...)
	}
	return out, nil
}

func (e *each) CheckpointNames() []string { return CollectCheckpointNames(e.seg) }

// Sorter picks a branch key for an object. It is the branching point of a
// pipeline: objects are routed to the segment registered for the key.
type Sorter interface {
	Sort(ctx context.Context, obj *Object) (string, error)
}

// SorterFunc adapts a function to Sorter.
type SorterFunc func(ctx context.Context, obj *Object) (string, error)

func (f SorterFunc) Sort(ctx context.Context, obj *Object) (string, error) { return f(ctx, obj) }

type branch struct {
	sorter   Sorter
	routes   map[string]Segment
	fallback Segment
}

// Branch routes a single object to routes[key], where key comes from sorter.
// Objects whose key has no route go to fallback; with a nil fallback that is an error.
func Branch(sorter Sorter, routes map[string]Segment, fallback Segment) Segment {
	return &branch{sorter: sorter, routes: routes, fallback: fallback}
}

func (b *branch) Name() string {
	keys := make([]string, 0, len(b.routes))
	for k := range b.routes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return "branch(" + strings.Join(keys, "|") + ")"
}

func (b *branch) Arity() Arity { return Arity{In: 1, Out: Variadic} }

func (b *branch) Call(ctx context.Context, inputs ...*Object) ([]*Object, error) {
	if err := CheckArity(b.Name(), 1, len(inputs)); err != nil {
		return nil, err
	}
	key, err := b.sorter.Sort(ctx, inputs[0])
	if err != nil {
		return nil, fmt.Errorf("sort %s: %w", inputs[0].LocationName(), err)
	}
	seg, ok := b.routes[key]
	if !ok {
		if b.fallback == nil {
			return nil, fmt.Errorf("%s: no route for key %q", b.Name(), key)
		}
		seg = b.fallback
	}
	return seg.Call(ctx, inputs...)
}

func (b *branch) CheckpointNames() []string {
	keys := make([]string, 0, len(b.routes))
	for k := range b.routes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	segs := make([]Segment, 0, len(keys)+1)
	for _, k := range keys {
		segs = append(segs, b.routes[k])
	}
	if b.fallback != nil {
		segs = append(segs, b.fallback)
	}
	return CollectCheckpointNames(segs...)
}
