package pipeline

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

// --- NewObject validation and inheritance ---

func TestNewObject_RequiresPayloadOrPath(t *testing.T) {
	_, err := NewObject(ObjectSpec{Name: "a"})
	if !errors.Is(err, ErrConfiguration) {
		t.Fatalf("expected ErrConfiguration, got %v", err)
	}
}

func TestNewObject_EmptyParentsRejected(t *testing.T) {
	_, err := NewObject(ObjectSpec{Name: "a", Payload: []byte("x"), Parents: []*Object{}})
	if !errors.Is(err, ErrConfiguration) {
		t.Fatalf("expected ErrConfiguration, got %v", err)
	}
}

func TestNewObject_NilParentRejected(t *testing.T) {
	_, err := NewObject(ObjectSpec{Payload: []byte("x"), Parents: []*Object{nil}})
	if !errors.Is(err, ErrConfiguration) {
		t.Fatalf("expected ErrConfiguration, got %v", err)
	}
}

func TestNewObject_NameFromPath(t *testing.T) {
	o, err := NewObject(ObjectSpec{Path: "/tmp/in/tex1_16x16_ABCD.png"})
	if err != nil {
		t.Fatal(err)
	}
	if o.Name() != "tex1_16x16_ABCD" {
		t.Errorf("name: got %q", o.Name())
	}
	if o.Loaded() {
		t.Error("path-backed object should not be loaded")
	}
}

func TestNewObject_InheritsFromFirstParent(t *testing.T) {
	a := MustObject(ObjectSpec{Name: "a", Payload: []byte("1"), Location: "hud/icons"})
	b := MustObject(ObjectSpec{Name: "b", Payload: []byte("2"), Location: "other"})
	child, err := Derive([]byte("3"), a, b)
	if err != nil {
		t.Fatal(err)
	}
	if child.Name() != "a" || child.Location() != "hud/icons" {
		t.Errorf("inherited: got %q in %q", child.Name(), child.Location())
	}
	if child.LocationName() != "hud/icons/a" {
		t.Errorf("LocationName: got %q", child.LocationName())
	}
	if child.CountParents() != 2 {
		t.Errorf("CountParents: got %d, want 2", child.CountParents())
	}
}

func TestNewObject_LocationCleaned(t *testing.T) {
	for in, want := range map[string]string{
		"":          "",
		".":         "",
		"/":         "",
		"a/b/":      "a/b",
		"/a/./b":    "a/b",
		"a/../b/c/": "b/c",
	} {
		o := MustObject(ObjectSpec{Name: "n", Payload: []byte{}, Location: in})
		if o.Location() != want {
			t.Errorf("location %q: got %q, want %q", in, o.Location(), want)
		}
	}
}

func TestNewObject_RejectsEscapingNameOrLocation(t *testing.T) {
	for _, spec := range []ObjectSpec{
		{Name: "n", Payload: []byte{}, Location: "../x"},
		{Name: "n", Payload: []byte{}, Location: "a/../../x"},
		{Name: "n", Payload: []byte{}, Location: ".."},
		{Name: "../n", Payload: []byte{}},
		{Name: `a\b`, Payload: []byte{}},
		{Name: "..", Payload: []byte{}},
	} {
		if _, err := NewObject(spec); !errors.Is(err, ErrConfiguration) {
			t.Errorf("name %q location %q: expected ErrConfiguration, got %v", spec.Name, spec.Location, err)
		}
	}
}

// --- provenance ---

func TestCountParents_AlongEveryPath(t *testing.T) {
	root := MustObject(ObjectSpec{Name: "root", Payload: []byte("r")})
	left, _ := Derive([]byte("l"), root)
	right, _ := Derive([]byte("r"), root)
	merged, _ := Derive([]byte("m"), left, right)
	// two direct parents, each with root above it
	if got := merged.CountParents(); got != 4 {
		t.Errorf("CountParents: got %d, want 4", got)
	}
	if root.CountParents() != 0 {
		t.Errorf("root CountParents: got %d", root.CountParents())
	}
}

// --- payload, save, load ---

func TestPayload_LazyLoad(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "a.bin")
	if err := os.WriteFile(p, []byte("hello"), 0o644); err != nil {
		t.Fatal(err)
	}
	o := MustObject(ObjectSpec{Path: p})
	got, err := PayloadAs[[]byte](o)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "hello" {
		t.Errorf("payload: got %q", got)
	}
	if !o.Loaded() {
		t.Error("payload should be cached after first access")
	}
	// cached: removing the file does not matter any more
	os.Remove(p)
	if _, err := o.Payload(); err != nil {
		t.Errorf("cached payload: %v", err)
	}
}

func TestPayload_MissingFile(t *testing.T) {
	o := MustObject(ObjectSpec{Path: filepath.Join(t.TempDir(), "missing.png")})
	_, err := o.Payload()
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	var nf *NotFoundError
	if !errors.As(err, &nf) || nf.Path == "" {
		t.Errorf("expected NotFoundError with path, got %#v", err)
	}
}

func TestPayloadAs_WrongType(t *testing.T) {
	o := MustObject(ObjectSpec{Name: "n", Payload: 42})
	if _, err := PayloadAs[string](o); err == nil {
		t.Fatal("expected type error")
	}
}

func TestSave_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	o := MustObject(ObjectSpec{Name: "a", Payload: []byte("payload")})
	dst := filepath.Join(dir, "nested", "deeper", "a.bin")
	if err := o.Save(dst); err != nil {
		t.Fatal(err)
	}
	if o.Path() != dst {
		t.Errorf("path: got %q", o.Path())
	}
	fresh := MustObject(ObjectSpec{Path: dst})
	got, err := fresh.Bytes()
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "payload" {
		t.Errorf("round trip: got %q", got)
	}
	entries, _ := os.ReadDir(filepath.Dir(dst))
	if len(entries) != 1 {
		t.Errorf("temp files left behind: %v", entries)
	}
}

func TestSave_CopiesUnloadedFile(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.bin")
	if err := os.WriteFile(src, []byte("raw"), 0o644); err != nil {
		t.Fatal(err)
	}
	o := MustObject(ObjectSpec{Path: src})
	dst := filepath.Join(dir, "out", "dst.bin")
	if err := o.Save(dst); err != nil {
		t.Fatal(err)
	}
	if o.Loaded() {
		t.Error("copying should not load the payload")
	}
	b, _ := os.ReadFile(dst)
	if string(b) != "raw" {
		t.Errorf("copy: got %q", b)
	}
}

func TestSave_Overwrites(t *testing.T) {
	dst := filepath.Join(t.TempDir(), "a.bin")
	MustObject(ObjectSpec{Name: "a", Payload: []byte("old")}).Save(dst)
	if err := MustObject(ObjectSpec{Name: "a", Payload: []byte("new")}).Save(dst); err != nil {
		t.Fatal(err)
	}
	b, _ := os.ReadFile(dst)
	if string(b) != "new" {
		t.Errorf("got %q", b)
	}
}

func TestDetach(t *testing.T) {
	p := filepath.Join(t.TempDir(), "a.bin")
	os.WriteFile(p, []byte("x"), 0o644)
	o := MustObject(ObjectSpec{Path: p})
	if err := o.Detach(); err != nil {
		t.Fatal(err)
	}
	if o.Path() != "" || !o.Loaded() {
		t.Errorf("detach: path=%q loaded=%v", o.Path(), o.Loaded())
	}
}

func TestBytesCodec_String(t *testing.T) {
	o := MustObject(ObjectSpec{Name: "s", Payload: "text"})
	b, err := o.Bytes()
	if err != nil {
		t.Fatal(err)
	}
	if string(b) != "text" {
		t.Errorf("got %q", b)
	}
}
