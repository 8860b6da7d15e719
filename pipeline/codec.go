package pipeline

import (
	"fmt"
	"io"
)

// Codec converts an object's in-memory payload to and from its on-disk form.
// The pipeline core treats payloads as opaque; only the codec knows their type.
type Codec interface {
	Decode(r io.Reader) (interface{}, error)
	Encode(w io.Writer, payload interface{}) error
}

// BytesCodec stores payloads as raw bytes. It is the default codec for objects
// that do not set one and have no parent to inherit one from.
type BytesCodec struct{}

// Decode reads the whole stream into a []byte.
func (BytesCodec) Decode(r io.Reader) (interface{}, error) {
	return io.ReadAll(r)
}

// Encode writes a []byte or string payload unchanged.
func (BytesCodec) Encode(w io.Writer, payload interface{}) error {
	switch p := payload.(type) {
	case []byte:
		_, err := w.Write(p)
		return err
	case string:
		_, err := io.WriteString(w, p)
		return err
	default:
		return fmt.Errorf("bytes codec: expected []byte or string, got %T", payload)
	}
}
