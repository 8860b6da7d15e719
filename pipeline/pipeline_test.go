package pipeline

import (
	"context"
	"errors"
	"iter"
	"strings"
	"testing"
	"time"
)

// --- Pipeline: Run, observer, errors ---

func collect(out *[]*Object) Terminus {
	return TerminusFunc(func(ctx context.Context, obj *Object) error {
		*out = append(*out, obj)
		return nil
	})
}

func TestPipeline_Run_NoObserver(t *testing.T) {
	ctx := context.Background()
	var written []*Object
	p := &Pipeline{
		Name:     "simple",
		Source:   SliceSource{bytesObj("a", "x"), bytesObj("b", "y")},
		Segment:  upper(),
		Terminus: collect(&written),
	}
	stats, err := p.Run(ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	if stats.Total != 2 || stats.Succeeded != 2 || stats.Outputs != 2 {
		t.Errorf("stats: %+v", stats)
	}
	if stats.RunID == "" {
		t.Error("run id should be generated")
	}
	if len(written) != 2 {
		t.Fatalf("written: %d", len(written))
	}
	if p, _ := written[1].Payload(); p != "Y" {
		t.Errorf("second output: %v", p)
	}
}

func TestPipeline_Run_RequiresSource(t *testing.T) {
	_, err := (&Pipeline{Name: "empty"}).Run(context.Background(), nil)
	if !errors.Is(err, ErrConfiguration) {
		t.Fatalf("expected ErrConfiguration, got %v", err)
	}
}

func TestPipeline_Run_ContinuesPastObjectFailure(t *testing.T) {
	ctx := context.Background()
	seg := Processor("picky", func(ctx context.Context, p interface{}) (interface{}, error) {
		if string(p.([]byte)) == "bad" {
			return nil, errors.New("rejected")
		}
		return p, nil
	})
	var written []*Object
	p := &Pipeline{
		Name:     "partial",
		Source:   SliceSource{bytesObj("a", "ok"), bytesObj("b", "bad"), bytesObj("c", "ok")},
		Segment:  seg,
		Terminus: collect(&written),
	}
	stats, err := p.Run(ctx, nil)
	if err == nil {
		t.Fatal("expected joined error")
	}
	if !strings.Contains(err.Error(), "object b") {
		t.Errorf("error should name the object: %v", err)
	}
	if stats.Succeeded != 2 || stats.Failed != 1 {
		t.Errorf("stats: %+v", stats)
	}
	if len(written) != 2 {
		t.Errorf("written: %d", len(written))
	}
}

type failingSource struct{ err error }

func (f failingSource) Objects(ctx context.Context) iter.Seq2[*Object, error] {
	return func(yield func(*Object, error) bool) {
		if !yield(bytesObj("a", "x"), nil) {
			return
		}
		yield(nil, f.err)
	}
}

func TestPipeline_Run_SourceErrorAborts(t *testing.T) {
	srcErr := errors.New("disk gone")
	p := &Pipeline{Name: "src", Source: failingSource{err: srcErr}}
	stats, err := p.Run(context.Background(), nil)
	if !errors.Is(err, srcErr) {
		t.Fatalf("expected source error, got %v", err)
	}
	if stats.Total != 1 {
		t.Errorf("total: %d", stats.Total)
	}
}

func TestPipeline_Run_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	seg := Tap(func(ctx context.Context, o *Object) { cancel() })
	p := &Pipeline{
		Name:    "cancel",
		Source:  SliceSource{bytesObj("a", "x"), bytesObj("b", "y"), bytesObj("c", "z")},
		Segment: Chain(seg, Identity()),
	}
	stats, err := p.Run(ctx, nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if stats.Total != 1 {
		t.Errorf("total: got %d, want 1", stats.Total)
	}
}

func TestPipeline_TerminusError(t *testing.T) {
	termErr := errors.New("read-only")
	p := &Pipeline{
		Name:     "term",
		Source:   SliceSource{bytesObj("a", "x")},
		Terminus: TerminusFunc(func(ctx context.Context, o *Object) error { return termErr }),
	}
	stats, err := p.Run(context.Background(), nil)
	if !errors.Is(err, termErr) {
		t.Fatalf("expected terminus error, got %v", err)
	}
	if stats.Failed != 1 {
		t.Errorf("failed: %d", stats.Failed)
	}
}

func TestPipeline_RunIDInContext(t *testing.T) {
	var seen, name string
	p := &Pipeline{
		Name:   "ctx",
		Source: SliceSource{bytesObj("a", "x")},
		Segment: Tap(func(ctx context.Context, o *Object) {
			seen, _ = RunIDFromContext(ctx)
			name, _ = PipelineNameFromContext(ctx)
		}),
	}
	if _, err := p.Run(context.Background(), &RunOptions{RunID: "run-7"}); err != nil {
		t.Fatal(err)
	}
	if seen != "run-7" || name != "ctx" {
		t.Errorf("run id: got %q, pipeline: got %q", seen, name)
	}
	if _, ok := RunIDFromContext(context.Background()); ok {
		t.Error("plain context should carry no run id")
	}
}

func TestPipeline_ObserverHooks(t *testing.T) {
	var events []string
	obs := &hookObserver{
		beforePipeline: func(ctx context.Context, runID, name string) error {
			events = append(events, "before:"+name)
			return nil
		},
		beforeObject: func(ctx context.Context, runID string, index int, obj *Object) error {
			events = append(events, "obj:"+obj.Name())
			return nil
		},
		afterObject: func(ctx context.Context, runID string, index int, obj *Object, outputs []*Object, err error, d time.Duration) error {
			events = append(events, "done:"+obj.Name())
			return nil
		},
		afterPipeline: func(ctx context.Context, runID string, stats *RunStats, err error) error {
			events = append(events, "after")
			return nil
		},
	}
	p := &Pipeline{Name: "obs", Source: SliceSource{bytesObj("a", "x"), bytesObj("b", "y")}}
	if _, err := p.Run(context.Background(), &RunOptions{Observer: obs}); err != nil {
		t.Fatal(err)
	}
	want := "before:obs,obj:a,done:a,obj:b,done:b,after"
	if got := strings.Join(events, ","); got != want {
		t.Errorf("events:\n got %s\nwant %s", got, want)
	}
}

func TestPipeline_BeforePipelineErrorStopsRun(t *testing.T) {
	hookErr := errors.New("no")
	pulled := false
	obs := &hookObserver{beforePipeline: func(ctx context.Context, runID, name string) error { return hookErr }}
	p := &Pipeline{
		Name:    "stop",
		Source:  SliceSource{bytesObj("a", "x")},
		Segment: Tap(func(ctx context.Context, o *Object) { pulled = true }),
	}
	_, err := p.Run(context.Background(), &RunOptions{Observer: obs})
	if !errors.Is(err, hookErr) {
		t.Fatalf("expected hook error, got %v", err)
	}
	if pulled {
		t.Error("no object should be processed")
	}
}

// --- Sequence ---

func TestSequence_SharesRunIDAndSumsStats(t *testing.T) {
	var ids []string
	obs := &hookObserver{beforePipeline: func(ctx context.Context, runID, name string) error {
		ids = append(ids, runID)
		return nil
	}}
	seq := &Sequence{Name: "seq", Pipelines: []*Pipeline{
		{Name: "first", Source: SliceSource{bytesObj("a", "x")}},
		{Name: "second", Source: SliceSource{bytesObj("b", "y"), bytesObj("c", "z")}},
	}}
	stats, err := seq.Run(context.Background(), &RunOptions{Observer: obs})
	if err != nil {
		t.Fatal(err)
	}
	if stats.Total != 3 || stats.Outputs != 3 {
		t.Errorf("stats: %+v", stats)
	}
	if len(ids) != 2 || ids[0] != ids[1] || ids[0] != stats.RunID {
		t.Errorf("run ids: %v (stats %s)", ids, stats.RunID)
	}
}

func TestSequence_StopsOnSourceError(t *testing.T) {
	ran := false
	seq := &Sequence{Name: "seq", Pipelines: []*Pipeline{
		{Name: "broken", Source: failingSource{err: errors.New("gone")}},
		{Name: "next", Source: SliceSource{bytesObj("b", "y")}, Segment: Tap(func(ctx context.Context, o *Object) { ran = true })},
	}}
	if _, err := seq.Run(context.Background(), nil); err == nil {
		t.Fatal("expected error")
	}
	if ran {
		t.Error("second pipeline should not run after a source error")
	}
}

func TestSequence_StopsOnSourceErrorAfterObjectFailure(t *testing.T) {
	ran := false
	fail := Processor("fail", func(ctx context.Context, p interface{}) (interface{}, error) { return nil, errors.New("x") })
	seq := &Sequence{Name: "seq", Pipelines: []*Pipeline{
		{Name: "broken", Source: failingSource{err: errors.New("gone")}, Segment: fail},
		{Name: "next", Source: SliceSource{bytesObj("b", "y")}, Segment: Tap(func(ctx context.Context, o *Object) { ran = true })},
	}}
	stats, err := seq.Run(context.Background(), nil)
	if err == nil || !strings.Contains(err.Error(), "source: gone") {
		t.Fatalf("expected source error, got %v", err)
	}
	if ran || stats.Failed != 1 {
		t.Errorf("ran=%v stats=%+v", ran, stats)
	}
}

func TestSequence_ContinuesAfterObjectFailure(t *testing.T) {
	ran := false
	fail := Processor("fail", func(ctx context.Context, p interface{}) (interface{}, error) { return nil, errors.New("x") })
	seq := &Sequence{Name: "seq", Pipelines: []*Pipeline{
		{Name: "flaky", Source: SliceSource{bytesObj("a", "x")}, Segment: fail},
		{Name: "next", Source: SliceSource{bytesObj("b", "y")}, Segment: Tap(func(ctx context.Context, o *Object) { ran = true })},
	}}
	stats, err := seq.Run(context.Background(), nil)
	if err == nil {
		t.Fatal("expected error")
	}
	if !ran || stats.Succeeded != 1 || stats.Failed != 1 {
		t.Errorf("ran=%v stats=%+v", ran, stats)
	}
}

// --- Observer helpers ---

type hookObserver struct {
	beforePipeline func(context.Context, string, string) error
	afterPipeline  func(context.Context, string, *RunStats, error) error
	beforeObject   func(context.Context, string, int, *Object) error
	afterObject    func(context.Context, string, int, *Object, []*Object, error, time.Duration) error
}

func (h *hookObserver) BeforePipeline(ctx context.Context, runID, name string) error {
	if h.beforePipeline != nil {
		return h.beforePipeline(ctx, runID, name)
	}
	return nil
}

func (h *hookObserver) AfterPipeline(ctx context.Context, runID string, stats *RunStats, err error) error {
	if h.afterPipeline != nil {
		return h.afterPipeline(ctx, runID, stats, err)
	}
	return nil
}

func (h *hookObserver) BeforeObject(ctx context.Context, runID string, index int, obj *Object) error {
	if h.beforeObject != nil {
		return h.beforeObject(ctx, runID, index, obj)
	}
	return nil
}

func (h *hookObserver) AfterObject(ctx context.Context, runID string, index int, obj *Object, outputs []*Object, objErr error, d time.Duration) error {
	if h.afterObject != nil {
		return h.afterObject(ctx, runID, index, obj, outputs, objErr, d)
	}
	return nil
}
