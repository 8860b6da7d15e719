package pipeline

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func upper() Segment {
	return Processor("upper", func(ctx context.Context, p interface{}) (interface{}, error) {
		return strings.ToUpper(string(p.([]byte))), nil
	})
}

func bytesObj(name, payload string) *Object {
	return MustObject(ObjectSpec{Name: name, Payload: []byte(payload)})
}

// --- Processor / Merger / Splitter / Runner ---

func TestProcessor_DerivesChild(t *testing.T) {
	ctx := context.Background()
	in := bytesObj("a", "abc")
	out, err := upper().Call(ctx, in)
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 1 {
		t.Fatalf("outputs: got %d", len(out))
	}
	p, _ := out[0].Payload()
	if p != "ABC" {
		t.Errorf("payload: got %v", p)
	}
	if len(out[0].Parents()) != 1 || out[0].Parents()[0] != in {
		t.Errorf("parents: got %v", out[0].Parents())
	}
	if out[0].Name() != "a" {
		t.Errorf("name: got %q", out[0].Name())
	}
}

func TestProcessor_ArityMismatch(t *testing.T) {
	_, err := upper().Call(context.Background(), bytesObj("a", "x"), bytesObj("b", "y"))
	if !errors.Is(err, ErrArity) {
		t.Fatalf("expected ErrArity, got %v", err)
	}
	var ae *ArityError
	if !errors.As(err, &ae) || ae.Want != 1 || ae.Got != 2 {
		t.Errorf("arity error: %#v", err)
	}
}

func TestMerger_AllInputsAreParents(t *testing.T) {
	concat := Merger("concat", 2, func(ctx context.Context, ps []interface{}) (interface{}, error) {
		return append(append([]byte{}, ps[0].([]byte)...), ps[1].([]byte)...), nil
	})
	a, b := bytesObj("a", "1"), bytesObj("b", "2")
	out, err := concat.Call(context.Background(), a, b)
	if err != nil {
		t.Fatal(err)
	}
	if out[0].CountParents() != 2 {
		t.Errorf("CountParents: got %d, want 2", out[0].CountParents())
	}
	if got, _ := out[0].Bytes(); string(got) != "12" {
		t.Errorf("payload: got %q", got)
	}
	if _, err := concat.Call(context.Background(), a); !errors.Is(err, ErrArity) {
		t.Errorf("one input: expected ErrArity, got %v", err)
	}
}

func TestSplitter_ChecksOutputCount(t *testing.T) {
	halves := Splitter("halves", 2, func(ctx context.Context, p interface{}) ([]interface{}, error) {
		b := p.([]byte)
		return []interface{}{b[:len(b)/2], b[len(b)/2:]}, nil
	})
	out, err := halves.Call(context.Background(), bytesObj("a", "abcd"))
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 2 {
		t.Fatalf("outputs: got %d", len(out))
	}
	for _, o := range out {
		if o.CountParents() != 1 {
			t.Errorf("CountParents: got %d", o.CountParents())
		}
	}

	bad := Splitter("bad", 2, func(ctx context.Context, p interface{}) ([]interface{}, error) {
		return []interface{}{p}, nil
	})
	if _, err := bad.Call(context.Background(), bytesObj("a", "x")); !errors.Is(err, ErrArity) {
		t.Errorf("expected ErrArity, got %v", err)
	}
}

func TestRunner_ChecksBothSides(t *testing.T) {
	r := Runner("dup", Arity{In: 1, Out: 2}, func(ctx context.Context, in []*Object) ([]*Object, error) {
		return []*Object{in[0], in[0]}, nil
	})
	if r.Arity().String() != "1->2" {
		t.Errorf("arity string: got %q", r.Arity())
	}
	out, err := r.Call(context.Background(), bytesObj("a", "x"))
	if err != nil || len(out) != 2 {
		t.Fatalf("got %d outputs, err %v", len(out), err)
	}
	wrong := Runner("wrong", Arity{In: 1, Out: 2}, func(ctx context.Context, in []*Object) ([]*Object, error) {
		return in, nil
	})
	if _, err := wrong.Call(context.Background(), bytesObj("a", "x")); !errors.Is(err, ErrArity) {
		t.Errorf("expected ErrArity, got %v", err)
	}
}

// --- Chain / Each / Branch ---

func TestChain_ComposesArity(t *testing.T) {
	split := Splitter("split", 2, func(ctx context.Context, p interface{}) ([]interface{}, error) {
		return []interface{}{p, p}, nil
	})
	join := Merger("join", 2, func(ctx context.Context, ps []interface{}) (interface{}, error) {
		return ps[0], nil
	})
	c := Chain(split, Each(upper()), join)
	if a := c.Arity(); a.In != 1 || a.Out != 1 {
		t.Errorf("arity: got %v", a)
	}
	out, err := c.Call(context.Background(), bytesObj("a", "x"))
	if err != nil {
		t.Fatal(err)
	}
	if p, _ := out[0].Payload(); p != "X" {
		t.Errorf("payload: got %v", p)
	}
	// join <- upper x2 <- split <- source: 2 + 2*(1+1)
	if got := out[0].CountParents(); got != 6 {
		t.Errorf("CountParents: got %d, want 6", got)
	}
}

func TestChain_WrapsErrorWithIndex(t *testing.T) {
	boom := errors.New("boom")
	fail := Processor("fail", func(ctx context.Context, p interface{}) (interface{}, error) { return nil, boom })
	_, err := Chain(Identity(), fail).Call(context.Background(), bytesObj("a", "x"))
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if !strings.Contains(err.Error(), "segment 1 (fail)") {
		t.Errorf("error: %v", err)
	}
}

func TestEach_RejectsMultiInputInner(t *testing.T) {
	m := Merger("m", 2, func(ctx context.Context, ps []interface{}) (interface{}, error) { return ps[0], nil })
	_, err := Each(m).Call(context.Background(), bytesObj("a", "x"))
	if !errors.Is(err, ErrArity) {
		t.Fatalf("expected ErrArity, got %v", err)
	}
}

func TestBranch_Routes(t *testing.T) {
	sorter := SorterFunc(func(ctx context.Context, o *Object) (string, error) {
		if strings.HasPrefix(o.Name(), "ui_") {
			return "ui", nil
		}
		return "other", nil
	})
	b := Branch(sorter, map[string]Segment{"ui": upper()}, nil)

	out, err := b.Call(context.Background(), bytesObj("ui_button", "ok"))
	if err != nil {
		t.Fatal(err)
	}
	if p, _ := out[0].Payload(); p != "OK" {
		t.Errorf("ui route: got %v", p)
	}
	if _, err := b.Call(context.Background(), bytesObj("tex", "x")); err == nil {
		t.Error("expected error without fallback")
	}

	withFallback := Branch(sorter, map[string]Segment{"ui": upper()}, Identity())
	out, err = withFallback.Call(context.Background(), bytesObj("tex", "x"))
	if err != nil {
		t.Fatal(err)
	}
	if p, _ := out[0].Payload(); string(p.([]byte)) != "x" {
		t.Errorf("fallback: got %v", p)
	}
}

type namedCheckpoint struct {
	SegmentFunc
	names []string
}

func (n namedCheckpoint) CheckpointNames() []string { return n.names }

func TestCollectCheckpointNames_Nested(t *testing.T) {
	a := namedCheckpoint{SegmentFunc: SegmentFunc{Label: "a", In: 1, Out: 1}, names: []string{"x1.png"}}
	b := namedCheckpoint{SegmentFunc: SegmentFunc{Label: "b", In: 1, Out: 1}, names: []string{"x2.png", "x1.png"}}
	seg := Chain(a, WithTimeout(Each(b), 0), Identity())
	got := CollectCheckpointNames(seg)
	if len(got) != 2 || got[0] != "x1.png" || got[1] != "x2.png" {
		t.Errorf("names: got %v", got)
	}
}
