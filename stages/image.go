package stages

import (
	"context"
	"fmt"
	"image"
	"image/color"

	"github.com/dcshock/texpipe/imaging"
	"github.com/dcshock/texpipe/pipeline"
)

// Scale returns a processor that upscales an image by an integer factor with
// nearest-neighbour sampling. Grayscale inputs stay grayscale.
func Scale(factor int) pipeline.Segment {
	return pipeline.Processor(fmt.Sprintf("scale-x%d", factor), func(ctx context.Context, p interface{}) (interface{}, error) {
		if factor < 1 {
			return nil, pipeline.ConfigErrorf("scale factor must be positive, got %d", factor)
		}
		img, ok := p.(image.Image)
		if !ok {
			return nil, fmt.Errorf("expected image.Image, got %T", p)
		}
		return scale(img, factor), nil
	})
}

func scale(img image.Image, factor int) image.Image {
	b := img.Bounds()
	if g, ok := img.(*image.Gray); ok {
		out := image.NewGray(image.Rect(0, 0, b.Dx()*factor, b.Dy()*factor))
		for y := 0; y < out.Rect.Dy(); y++ {
			for x := 0; x < out.Rect.Dx(); x++ {
				out.SetGray(x, y, g.GrayAt(b.Min.X+x/factor, b.Min.Y+y/factor))
			}
		}
		return out
	}
	src := imaging.ToNRGBA(img)
	out := image.NewNRGBA(image.Rect(0, 0, b.Dx()*factor, b.Dy()*factor))
	for y := 0; y < out.Rect.Dy(); y++ {
		srow := src.Pix[(y/factor)*src.Stride:]
		drow := out.Pix[y*out.Stride:]
		for x := 0; x < out.Rect.Dx(); x++ {
			copy(drow[x*4:x*4+4], srow[(x/factor)*4:(x/factor)*4+4])
		}
	}
	return out
}

// SplitAlpha returns a splitter producing an opaque copy of the image and a
// grayscale mask holding its alpha channel, in that order.
func SplitAlpha() pipeline.Segment {
	return pipeline.Splitter("split-alpha", 2, func(ctx context.Context, p interface{}) ([]interface{}, error) {
		img, ok := p.(image.Image)
		if !ok {
			return nil, fmt.Errorf("expected image.Image, got %T", p)
		}
		src := imaging.ToNRGBA(img)
		rgb := image.NewNRGBA(src.Rect)
		mask := image.NewGray(src.Rect)
		copy(rgb.Pix, src.Pix)
		for i := 0; i < len(src.Pix); i += 4 {
			mask.Pix[i/4] = src.Pix[i+3]
			rgb.Pix[i+3] = 0xff
		}
		return []interface{}{image.Image(rgb), image.Image(mask)}, nil
	})
}

// MergeAlpha returns a merger that applies the second input, read as grayscale,
// as the alpha channel of the first. Both images must have the same size.
func MergeAlpha() pipeline.Segment {
	return pipeline.Merger("merge-alpha", 2, func(ctx context.Context, ps []interface{}) (interface{}, error) {
		rgbImg, ok := ps[0].(image.Image)
		if !ok {
			return nil, fmt.Errorf("color: expected image.Image, got %T", ps[0])
		}
		maskImg, ok := ps[1].(image.Image)
		if !ok {
			return nil, fmt.Errorf("mask: expected image.Image, got %T", ps[1])
		}
		rb, mb := rgbImg.Bounds(), maskImg.Bounds()
		if rb.Dx() != mb.Dx() || rb.Dy() != mb.Dy() {
			return nil, fmt.Errorf("size mismatch: color %dx%d, mask %dx%d", rb.Dx(), rb.Dy(), mb.Dx(), mb.Dy())
		}
		out := image.NewNRGBA(image.Rect(0, 0, rb.Dx(), rb.Dy()))
		copy(out.Pix, imaging.ToNRGBA(rgbImg).Pix)
		for y := 0; y < rb.Dy(); y++ {
			for x := 0; x < rb.Dx(); x++ {
				a := color.GrayModel.Convert(maskImg.At(mb.Min.X+x, mb.Min.Y+y)).(color.Gray).Y
				out.Pix[y*out.Stride+x*4+3] = a
			}
		}
		return image.Image(out), nil
	})
}
