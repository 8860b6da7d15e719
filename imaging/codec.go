// Package imaging provides the image payload codec and pixel helpers shared by
// the image stages.
package imaging

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/draw"
	"image/gif"
	"image/jpeg"
	"image/png"
	"io"

	"github.com/gabriel-vasile/mimetype"
)

// ErrUnsupported is returned when a file is not an image format the codec reads.
var ErrUnsupported = errors.New("unsupported image format")

// Supported lists the MIME types Codec decodes.
var Supported = []string{"image/png", "image/jpeg", "image/gif"}

// Codec stores image.Image payloads as PNG and reads PNG, JPEG and GIF.
// The input format is detected from content, not from the file extension.
type Codec struct {
	// Compression is passed to the PNG encoder. The zero value is png.DefaultCompression.
	Compression png.CompressionLevel
}

// Decode sniffs the stream and decodes it with the matching decoder.
func (c Codec) Decode(r io.Reader) (interface{}, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	mt := mimetype.Detect(data)
	var img image.Image
	switch {
	case mt.Is("image/png"):
		img, err = png.Decode(bytes.NewReader(data))
	case mt.Is("image/jpeg"):
		img, err = jpeg.Decode(bytes.NewReader(data))
	case mt.Is("image/gif"):
		img, err = gif.Decode(bytes.NewReader(data))
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupported, mt.String())
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", mt.String(), err)
	}
	return img, nil
}

// Encode writes an image.Image payload as PNG.
func (c Codec) Encode(w io.Writer, payload interface{}) error {
	img, ok := payload.(image.Image)
	if !ok {
		return fmt.Errorf("image codec: expected image.Image, got %T", payload)
	}
	enc := png.Encoder{CompressionLevel: c.Compression}
	return enc.Encode(w, img)
}

// Passthrough decodes the image formats Codec supports and keeps any other
// content, such as SVG written by a tracing program, as raw bytes.
type Passthrough struct {
	Codec
}

// Decode returns an image.Image for supported images and []byte otherwise.
func (p Passthrough) Decode(r io.Reader) (interface{}, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	if !mimetype.EqualsAny(mimetype.Detect(data).String(), Supported...) {
		return data, nil
	}
	return p.Codec.Decode(bytes.NewReader(data))
}

// Encode writes []byte payloads unchanged and images as PNG.
func (p Passthrough) Encode(w io.Writer, payload interface{}) error {
	if b, ok := payload.([]byte); ok {
		_, err := w.Write(b)
		return err
	}
	return p.Codec.Encode(w, payload)
}

// DetectFile returns the MIME type of the file at path and whether Codec can decode it.
func DetectFile(path string) (string, bool, error) {
	mt, err := mimetype.DetectFile(path)
	if err != nil {
		return "", false, err
	}
	return mt.String(), mimetype.EqualsAny(mt.String(), Supported...), nil
}

// ToNRGBA returns img as a tightly packed *image.NRGBA with bounds starting at
// the origin, converting when needed.
func ToNRGBA(img image.Image) *image.NRGBA {
	if n, ok := img.(*image.NRGBA); ok && n.Rect.Min == (image.Point{}) && n.Stride == 4*n.Rect.Dx() {
		return n
	}
	b := img.Bounds()
	out := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(out, out.Rect, img, b.Min, draw.Src)
	return out
}

// HasAlpha reports whether any pixel of img is not fully opaque.
func HasAlpha(img image.Image) bool {
	if o, ok := img.(interface{ Opaque() bool }); ok {
		return !o.Opaque()
	}
	b := img.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			if _, _, _, a := img.At(x, y).RGBA(); a != 0xffff {
				return true
			}
		}
	}
	return false
}
