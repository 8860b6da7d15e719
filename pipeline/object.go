package pipeline

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// ObjectSpec holds the fields used to construct an Object. Name, Location and
// Codec are inherited from the first parent when left empty; Name falls back to
// the stem of Path when there are no parents.
type ObjectSpec struct {
	Name     string
	Path     string
	Payload  interface{}
	Parents  []*Object
	Location string // relative directory grouping related artifacts, e.g. "textures/hud"
	Codec    Codec
}

// Object is a named artifact flowing through a pipeline. Its payload is loaded
// lazily from Path on first access and cached. Parents record provenance; a
// merge can give one object several parents, so provenance is a DAG.
type Object struct {
	name     string
	path     string
	payload  interface{}
	loaded   bool
	parents  []*Object
	location string
	codec    Codec
}

// NewObject validates spec and returns the object. It fails with ErrConfiguration
// when neither payload nor path is given, when the name cannot be resolved, when
// Parents is non-nil but empty, or when the name or location would address a
// file outside the directory it is stored under.
func NewObject(spec ObjectSpec) (*Object, error) {
	if spec.Parents != nil && len(spec.Parents) == 0 {
		return nil, ConfigErrorf("object %q: parents must be nil or non-empty", spec.Name)
	}
	for i, p := range spec.Parents {
		if p == nil {
			return nil, ConfigErrorf("object %q: parent %d is nil", spec.Name, i)
		}
	}
	if spec.Payload == nil && spec.Path == "" {
		return nil, ConfigErrorf("object %q: payload or path required", spec.Name)
	}
	o := &Object{
		name:     spec.Name,
		path:     spec.Path,
		payload:  spec.Payload,
		loaded:   spec.Payload != nil,
		parents:  spec.Parents,
		location: spec.Location,
		codec:    spec.Codec,
	}
	if len(o.parents) > 0 {
		first := o.parents[0]
		if o.name == "" {
			o.name = first.name
		}
		if o.location == "" {
			o.location = first.location
		}
		if o.codec == nil {
			o.codec = first.codec
		}
	}
	if o.name == "" && o.path != "" {
		o.name = stem(o.path)
	}
	if o.name == "" {
		return nil, ConfigErrorf("object: name required when there are no parents and no path")
	}
	if o.name == "." || o.name == ".." || strings.ContainsAny(o.name, `/\`) {
		return nil, ConfigErrorf("object %q: name must be a single path element", o.name)
	}
	if o.codec == nil {
		o.codec = BytesCodec{}
	}
	o.location = cleanLocation(o.location)
	if o.location == ".." || strings.HasPrefix(o.location, "../") {
		return nil, ConfigErrorf("object %q: location %q leaves its root", o.name, o.location)
	}
	return o, nil
}

// MustObject is NewObject that panics on error. Intended for tests and static setup.
func MustObject(spec ObjectSpec) *Object {
	o, err := NewObject(spec)
	if err != nil {
		panic(err)
	}
	return o
}

// Derive returns a new object carrying payload with parents as its provenance.
// Name, location and codec come from the first parent.
func Derive(payload interface{}, parents ...*Object) (*Object, error) {
	return NewObject(ObjectSpec{Payload: payload, Parents: parents})
}

func (o *Object) Name() string       { return o.name }
func (o *Object) Path() string       { return o.path }
func (o *Object) Location() string   { return o.location }
func (o *Object) Codec() Codec       { return o.codec }
func (o *Object) Parents() []*Object { return o.parents }

// Loaded reports whether the payload is held in memory.
func (o *Object) Loaded() bool { return o.loaded }

// LocationName is the addressing key used for checkpoints and outputs:
// "location/name", or just "name" when there is no location. Always slash-separated.
func (o *Object) LocationName() string {
	if o.location == "" {
		return o.name
	}
	return path.Join(o.location, o.name)
}

// CountParents returns the number of ancestors along every provenance edge:
// len(parents) plus CountParents of each parent. Shared ancestors count once per path.
func (o *Object) CountParents() int {
	n := len(o.parents)
	for _, p := range o.parents {
		n += p.CountParents()
	}
	return n
}

// Payload returns the in-memory payload, decoding it from Path on first access.
func (o *Object) Payload() (interface{}, error) {
	if o.loaded {
		return o.payload, nil
	}
	if o.path == "" {
		return nil, &NotFoundError{Name: o.name}
	}
	f, err := os.Open(o.path)
	if err != nil {
		return nil, &NotFoundError{Name: o.name, Path: o.path, Err: err}
	}
	defer f.Close()
	payload, err := o.codec.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", o.path, err)
	}
	o.payload = payload
	o.loaded = true
	return payload, nil
}

// PayloadAs returns the payload of o asserted to T.
func PayloadAs[T any](o *Object) (T, error) {
	var zero T
	p, err := o.Payload()
	if err != nil {
		return zero, err
	}
	v, ok := p.(T)
	if !ok {
		return zero, fmt.Errorf("object %q: expected payload %T, got %T", o.name, zero, p)
	}
	return v, nil
}

// Save writes the object to dst and points Path at it. Parent directories are
// created. The write goes to a temp file in the destination directory which is
// then renamed over dst, so readers never observe a half-written file. When the
// payload has not been materialized, the backing file is copied byte for byte.
func (o *Object) Save(dst string) error {
	if !o.loaded && o.path == "" {
		return &NotFoundError{Name: o.name}
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("save %s: %w", dst, err)
	}
	write := func(w io.Writer) error {
		if o.loaded {
			return o.codec.Encode(w, o.payload)
		}
		src, err := os.Open(o.path)
		if err != nil {
			return &NotFoundError{Name: o.name, Path: o.path, Err: err}
		}
		defer src.Close()
		_, err = io.Copy(w, src)
		return err
	}
	if err := WriteFileAtomic(dst, write); err != nil {
		return fmt.Errorf("save %s: %w", dst, err)
	}
	o.path = dst
	return nil
}

// SetPath repoints the object at p without writing anything. The in-memory
// payload, if loaded, is left untouched.
func (o *Object) SetPath(p string) { o.path = p }

// Detach materializes the payload and clears Path, leaving an in-memory-only object.
func (o *Object) Detach() error {
	if _, err := o.Payload(); err != nil {
		return err
	}
	o.path = ""
	return nil
}

// Bytes returns the object's on-disk representation: the backing file when the
// payload is not loaded, otherwise the codec encoding of the payload.
func (o *Object) Bytes() ([]byte, error) {
	if !o.loaded {
		if o.path == "" {
			return nil, &NotFoundError{Name: o.name}
		}
		b, err := os.ReadFile(o.path)
		if err != nil {
			return nil, &NotFoundError{Name: o.name, Path: o.path, Err: err}
		}
		return b, nil
	}
	var buf bytes.Buffer
	if err := o.codec.Encode(&buf, o.payload); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (o *Object) String() string {
	if o.path != "" {
		return fmt.Sprintf("%s (%s)", o.LocationName(), o.path)
	}
	return o.LocationName()
}

// WriteFileAtomic writes dst through a temp file in the same directory, syncs it
// and renames it into place. The temp file is removed on failure.
func WriteFileAtomic(dst string, write func(w io.Writer) error) error {
	tmp, err := os.CreateTemp(filepath.Dir(dst), "."+filepath.Base(dst)+".*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	ok := false
	defer func() {
		if !ok {
			os.Remove(tmpPath)
		}
	}()
	if err := write(tmp); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpPath, 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, dst); err != nil {
		return err
	}
	ok = true
	return nil
}

func stem(p string) string {
	base := filepath.Base(p)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

func cleanLocation(loc string) string {
	if loc == "" {
		return ""
	}
	loc = path.Clean(filepath.ToSlash(loc))
	if loc == "." || loc == "/" {
		return ""
	}
	return strings.TrimPrefix(loc, "/")
}
