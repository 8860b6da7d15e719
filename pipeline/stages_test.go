package pipeline

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestIdentity(t *testing.T) {
	ctx := context.Background()
	a, b := bytesObj("a", "1"), bytesObj("b", "2")
	out, err := Identity().Call(ctx, a, b)
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 2 || out[0] != a || out[1] != b {
		t.Errorf("Identity: got %v", out)
	}
}

func TestTap(t *testing.T) {
	ctx := context.Background()
	var names []string
	out, err := Tap(func(ctx context.Context, o *Object) { names = append(names, o.Name()) }).
		Call(ctx, bytesObj("a", "1"), bytesObj("b", "2"))
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 2 || strings.Join(names, ",") != "a,b" {
		t.Errorf("Tap: out=%d names=%v", len(out), names)
	}
}

func TestTransform(t *testing.T) {
	ctx := context.Background()
	length := Transform("len", func(ctx context.Context, b []byte) (int, error) { return len(b), nil })
	out, err := length.Call(ctx, bytesObj("a", "hello"))
	if err != nil {
		t.Fatal(err)
	}
	if n, _ := PayloadAs[int](out[0]); n != 5 {
		t.Errorf("Transform: got %d", n)
	}
	if _, err := length.Call(ctx, MustObject(ObjectSpec{Name: "s", Payload: "str"})); err == nil {
		t.Error("Transform(string): expected type error")
	}
}

func TestValidate(t *testing.T) {
	ctx := context.Background()
	nonEmpty := Validate(func(o *Object) bool {
		b, err := o.Bytes()
		return err == nil && len(b) > 0
	}, "empty payload")

	if _, err := nonEmpty.Call(ctx, bytesObj("a", "x")); err != nil {
		t.Errorf("Validate(ok): %v", err)
	}
	_, err := nonEmpty.Call(ctx, bytesObj("a", "x"), bytesObj("b", ""))
	if err == nil || err.Error() != "b: empty payload" {
		t.Errorf("Validate(empty): got %v", err)
	}
}

func TestValidate_DefaultErrMsg(t *testing.T) {
	_, err := Validate(func(*Object) bool { return false }, "").Call(context.Background(), bytesObj("a", "x"))
	if err == nil || !strings.HasSuffix(err.Error(), "validation failed") {
		t.Errorf("got %v", err)
	}
}

// --- WithTimeout ---

func TestWithTimeout_Completes(t *testing.T) {
	out, err := WithTimeout(upper(), time.Second).Call(context.Background(), bytesObj("a", "x"))
	if err != nil {
		t.Fatalf("WithTimeout: err = %v", err)
	}
	if p, _ := out[0].Payload(); p != "X" {
		t.Errorf("WithTimeout: got %v", p)
	}
}

func TestWithTimeout_Exceeded(t *testing.T) {
	slow := SegmentFunc{Label: "slow", In: 1, Out: 1, Fn: func(ctx context.Context, in ...*Object) ([]*Object, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}}
	seg := WithTimeout(slow, 10*time.Millisecond)
	_, err := seg.Call(context.Background(), bytesObj("a", "x"))
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("WithTimeout: got %v", err)
	}
	if SegmentName(seg) != "timeout(slow)" {
		t.Errorf("name: %q", SegmentName(seg))
	}
	if a := seg.Arity(); a.In != 1 || a.Out != 1 {
		t.Errorf("arity: %v", a)
	}
}

// --- Retry ---

func flaky(failures int, err error) (Segment, *int) {
	calls := 0
	return SegmentFunc{Label: "flaky", In: 1, Out: 1, Fn: func(ctx context.Context, in ...*Object) ([]*Object, error) {
		calls++
		if calls <= failures {
			return nil, err
		}
		return in, nil
	}}, &calls
}

func TestRetry_SucceedsAfterTransientFailures(t *testing.T) {
	seg, calls := flaky(2, RetryableErr(errors.New("transient")))
	r := Retry(seg, RetryPolicy{MaxAttempts: 3, Backoff: time.Millisecond, ShouldRetry: IsRetryable})
	if _, err := r.Call(context.Background(), bytesObj("a", "x")); err != nil {
		t.Fatal(err)
	}
	if *calls != 3 {
		t.Errorf("calls: got %d, want 3", *calls)
	}
}

func TestRetry_GivesUp(t *testing.T) {
	transient := errors.New("transient")
	seg, calls := flaky(10, RetryableErr(transient))
	r := Retry(seg, RetryPolicy{MaxAttempts: 2, Backoff: time.Millisecond})
	_, err := r.Call(context.Background(), bytesObj("a", "x"))
	if !errors.Is(err, transient) {
		t.Fatalf("expected transient, got %v", err)
	}
	if *calls != 2 {
		t.Errorf("calls: got %d, want 2", *calls)
	}
}

func TestRetry_NonRetryablePropagates(t *testing.T) {
	seg, calls := flaky(10, errors.New("permanent"))
	r := Retry(seg, RetryPolicy{MaxAttempts: 5, Backoff: time.Millisecond, ShouldRetry: IsRetryable})
	if _, err := r.Call(context.Background(), bytesObj("a", "x")); err == nil {
		t.Fatal("expected error")
	}
	if *calls != 1 {
		t.Errorf("calls: got %d, want 1", *calls)
	}
}

func TestRetry_NeverRetriesArity(t *testing.T) {
	seg, calls := flaky(10, &ArityError{Op: "x", Want: 1, Got: 2})
	r := Retry(seg, RetryPolicy{MaxAttempts: 5, Backoff: time.Millisecond})
	if _, err := r.Call(context.Background(), bytesObj("a", "x")); !errors.Is(err, ErrArity) {
		t.Fatalf("expected ErrArity, got %v", err)
	}
	if *calls != 1 {
		t.Errorf("calls: got %d, want 1", *calls)
	}
}

func TestRetry_ContextCancelledDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	seg, _ := flaky(10, RetryableErr(errors.New("transient")))
	r := Retry(seg, RetryPolicy{MaxAttempts: 3, Backoff: time.Hour})
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	_, err := r.Call(ctx, bytesObj("a", "x"))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestRetryPolicy_Delay(t *testing.T) {
	p := RetryPolicy{Backoff: 100 * time.Millisecond, Multiplier: 2, Cap: 500 * time.Millisecond}
	want := []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 400 * time.Millisecond, 500 * time.Millisecond, 500 * time.Millisecond}
	for i, w := range want {
		if got := p.Delay(i + 1); got != w {
			t.Errorf("Delay(%d): got %v, want %v", i+1, got, w)
		}
	}
	flat := RetryPolicy{Backoff: time.Second}
	if flat.Delay(5) != time.Second {
		t.Errorf("flat delay: %v", flat.Delay(5))
	}
}

func TestIsRetryable(t *testing.T) {
	base := errors.New("x")
	if !IsRetryable(RetryableErr(base)) {
		t.Error("RetryableErr should be retryable")
	}
	if IsRetryable(base) {
		t.Error("plain error should not be retryable")
	}
	if !errors.Is(RetryableErr(base), base) {
		t.Error("Retryable should unwrap")
	}
}
