package stages

import (
	"context"
	"fmt"
	"image"

	"github.com/dcshock/texpipe/pipeline"
)

// Expect returns a 1->1 segment that runs check on the object's image and
// passes the object through unchanged when it returns nil. The object keeps its
// path, so Expect can sit in front of a command stage.
func Expect(name string, check func(image.Image) error) pipeline.Segment {
	if check == nil {
		panic("stages.Expect: check must not be nil")
	}
	return pipeline.Runner(name, pipeline.Arity{In: 1, Out: 1}, func(ctx context.Context, inputs []*pipeline.Object) ([]*pipeline.Object, error) {
		img, err := pipeline.PayloadAs[image.Image](inputs[0])
		if err != nil {
			return nil, err
		}
		if err := check(img); err != nil {
			return nil, fmt.Errorf("%s: %w", inputs[0].LocationName(), err)
		}
		return inputs, nil
	})
}

// ExpectPowerOfTwo rejects images whose sides are not powers of two, which
// older texture samplers cannot mip-map.
func ExpectPowerOfTwo() pipeline.Segment {
	return Expect("expect-pow2", func(img image.Image) error {
		b := img.Bounds()
		if !powerOfTwo(b.Dx()) || !powerOfTwo(b.Dy()) {
			return fmt.Errorf("size %dx%d is not a power of two", b.Dx(), b.Dy())
		}
		return nil
	})
}

// ExpectMaxSize rejects images with a side longer than limit pixels.
func ExpectMaxSize(limit int) pipeline.Segment {
	return Expect(fmt.Sprintf("expect-max-%d", limit), func(img image.Image) error {
		b := img.Bounds()
		if b.Dx() > limit || b.Dy() > limit {
			return fmt.Errorf("size %dx%d exceeds %d", b.Dx(), b.Dy(), limit)
		}
		return nil
	})
}

func powerOfTwo(n int) bool { return n > 0 && n&(n-1) == 0 }
