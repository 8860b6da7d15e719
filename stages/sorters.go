package stages

import (
	"context"
	"fmt"
	"image"

	"github.com/dcshock/texpipe/imaging"
	"github.com/dcshock/texpipe/pipeline"
)

// Branch keys produced by the sorters.
const (
	KeyAlpha  = "alpha"
	KeyOpaque = "opaque"
	KeySmall  = "small"
	KeyLarge  = "large"
)

// AlphaSorter routes images with any transparent pixel to "alpha" and the rest
// to "opaque".
func AlphaSorter() pipeline.Sorter {
	return pipeline.SorterFunc(func(ctx context.Context, obj *pipeline.Object) (string, error) {
		img, err := pipeline.PayloadAs[image.Image](obj)
		if err != nil {
			return "", err
		}
		if imaging.HasAlpha(img) {
			return KeyAlpha, nil
		}
		return KeyOpaque, nil
	})
}

// SizeSorter routes images whose larger side is at most limit pixels to "small"
// and the rest to "large".
func SizeSorter(limit int) pipeline.Sorter {
	return pipeline.SorterFunc(func(ctx context.Context, obj *pipeline.Object) (string, error) {
		if limit < 1 {
			return "", pipeline.ConfigErrorf("size sorter: max must be positive, got %d", limit)
		}
		img, err := pipeline.PayloadAs[image.Image](obj)
		if err != nil {
			return "", fmt.Errorf("size sorter: %w", err)
		}
		b := img.Bounds()
		if b.Dx() <= limit && b.Dy() <= limit {
			return KeySmall, nil
		}
		return KeyLarge, nil
	})
}
