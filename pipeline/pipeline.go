package pipeline

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"time"

	"github.com/google/uuid"
)

// Source produces the stream of objects a pipeline processes. The sequence is
// pulled one object at a time; a non-nil error ends the run.
type Source interface {
	Objects(ctx context.Context) iter.Seq2[*Object, error]
}

// SliceSource is a Source over a fixed list of objects.
type SliceSource []*Object

func (s SliceSource) Objects(ctx context.Context) iter.Seq2[*Object, error] {
	return func(yield func(*Object, error) bool) {
		for _, o := range s {
			if err := ctx.Err(); err != nil {
				yield(nil, err)
				return
			}
			if !yield(o, nil) {
				return
			}
		}
	}
}

// Terminus consumes the final objects of a pipeline, typically writing them out.
type Terminus interface {
	Write(ctx context.Context, obj *Object) error
}

// TerminusFunc adapts a function to Terminus.
type TerminusFunc func(ctx context.Context, obj *Object) error

func (f TerminusFunc) Write(ctx context.Context, obj *Object) error { return f(ctx, obj) }

// Observer provides hooks around a run and around each source object so callers
// can log or record metrics. BeforePipeline is called before the first object is
// pulled; AfterPipeline when the source is exhausted or the run aborts.
// BeforeObject/AfterObject wrap one object's traversal of the segment graph and
// terminus. An error returned from a hook is reported but never masks an object error.
type Observer interface {
	BeforePipeline(ctx context.Context, runID, name string) error
	AfterPipeline(ctx context.Context, runID string, stats *RunStats, err error) error
	BeforeObject(ctx context.Context, runID string, index int, obj *Object) error
	AfterObject(ctx context.Context, runID string, index int, obj *Object, outputs []*Object, objErr error, duration time.Duration) error
}

// RunOptions is optional and used to attach an Observer and a RunID.
// If RunID is empty a new UUID is generated for the run.
type RunOptions struct {
	Observer Observer
	RunID    string
}

// RunStats counts what happened during a run.
type RunStats struct {
	RunID     string
	Total     int // objects pulled from the source
	Succeeded int
	Failed    int
	Outputs   int // objects handed to the terminus
}

type runMetaKey struct{}

type runMeta struct {
	RunID, PipelineName string
}

// RunIDFromContext returns the id of the run a segment is executing in.
func RunIDFromContext(ctx context.Context) (string, bool) {
	m, ok := ctx.Value(runMetaKey{}).(runMeta)
	return m.RunID, ok
}

// PipelineNameFromContext returns the name of the pipeline being run.
func PipelineNameFromContext(ctx context.Context) (string, bool) {
	m, ok := ctx.Value(runMetaKey{}).(runMeta)
	return m.PipelineName, ok
}

// Pipeline pulls objects from Source, pushes each one depth-first through Segment
// and writes every resulting object to Terminus before pulling the next.
// A nil Segment passes objects through; a nil Terminus discards outputs.
type Pipeline struct {
	Name     string
	Source   Source
	Segment  Segment
	Terminus Terminus
}

// Run processes the whole source. A failing object aborts only its own traversal:
// the run continues with the next object and the failures are returned joined.
// An error from the source itself, or context cancellation, ends the run.
func (p *Pipeline) Run(ctx context.Context, opts *RunOptions) (*RunStats, error) {
	if p.Source == nil {
		return nil, ConfigErrorf("pipeline %q: source required", p.Name)
	}
	var obs Observer
	runID := ""
	if opts != nil {
		obs = opts.Observer
		runID = opts.RunID
	}
	if runID == "" {
		runID = uuid.New().String()
	}
	stats := &RunStats{RunID: runID}
	ctx = context.WithValue(ctx, runMetaKey{}, runMeta{RunID: runID, PipelineName: p.Name})

	if obs != nil {
		if err := obs.BeforePipeline(ctx, runID, p.Name); err != nil {
			return stats, fmt.Errorf("before pipeline: %w", err)
		}
	}
	err := p.runObjects(ctx, obs, stats)
	if obs != nil {
		if postErr := obs.AfterPipeline(ctx, runID, stats, err); postErr != nil && err == nil {
			err = fmt.Errorf("after pipeline: %w", postErr)
		}
	}
	return stats, err
}

func (p *Pipeline) runObjects(ctx context.Context, obs Observer, stats *RunStats) error {
	var failures []error
	index := 0
	for obj, err := range p.Source.Objects(ctx) {
		if err != nil {
			failures = append(failures, &sourceError{err: err})
			return errors.Join(failures...)
		}
		stats.Total++
		if obs != nil {
			if err := obs.BeforeObject(ctx, stats.RunID, index, obj); err != nil {
				failures = append(failures, fmt.Errorf("before object %s: %w", obj.LocationName(), err))
			}
		}
		start := time.Now()
		outputs, objErr := p.Process(ctx, obj)
		duration := time.Since(start)
		if obs != nil {
			if postErr := obs.AfterObject(ctx, stats.RunID, index, obj, outputs, objErr, duration); postErr != nil {
				failures = append(failures, fmt.Errorf("after object %s: %w", obj.LocationName(), postErr))
			}
		}
		if objErr != nil {
			stats.Failed++
			failures = append(failures, fmt.Errorf("object %s: %w", obj.LocationName(), objErr))
			if ctxErr := ctx.Err(); ctxErr != nil {
				return errors.Join(failures...)
			}
		} else {
			stats.Succeeded++
			stats.Outputs += len(outputs)
		}
		index++
	}
	return errors.Join(failures...)
}

// Process pushes a single object through the segment graph and terminus and
// returns the objects that reached the terminus.
func (p *Pipeline) Process(ctx context.Context, obj *Object) ([]*Object, error) {
	outputs := []*Object{obj}
	if p.Segment != nil {
		var err error
		outputs, err = p.Segment.Call(ctx, obj)
		if err != nil {
			return nil, err
		}
	}
	if p.Terminus == nil {
		return outputs, nil
	}
	for _, out := range outputs {
		if err := p.Terminus.Write(ctx, out); err != nil {
			return nil, fmt.Errorf("terminus: %w", err)
		}
	}
	return outputs, nil
}

// sourceError marks a failure of the source itself, as opposed to one object.
type sourceError struct{ err error }

func (e *sourceError) Error() string { return "source: " + e.err.Error() }
func (e *sourceError) Unwrap() error { return e.err }

// Sequence runs multiple pipelines in order under one run id, e.g. one per input
// root. Stops on the first pipeline whose source fails, even after some of its
// objects failed; object failures alone do not prevent the next pipeline from
// running. Stats are summed.
type Sequence struct {
	Name      string
	Pipelines []*Pipeline
}

// Run executes each pipeline in order and returns the combined stats and errors.
func (s *Sequence) Run(ctx context.Context, opts *RunOptions) (*RunStats, error) {
	runID := ""
	var obs Observer
	if opts != nil {
		runID = opts.RunID
		obs = opts.Observer
	}
	if runID == "" {
		runID = uuid.New().String()
	}
	total := &RunStats{RunID: runID}
	var errs []error
	for i, p := range s.Pipelines {
		st, err := p.Run(ctx, &RunOptions{Observer: obs, RunID: runID})
		if st != nil {
			total.Total += st.Total
			total.Succeeded += st.Succeeded
			total.Failed += st.Failed
			total.Outputs += st.Outputs
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("pipeline %d (%s): %w", i, p.Name, err))
			if st == nil || st.Failed == 0 || errors.As(err, new(*sourceError)) || ctx.Err() != nil {
				break
			}
		}
	}
	return total, errors.Join(errs...)
}
