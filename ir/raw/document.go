package raw

import (
	"errors"
	"fmt"
)

// maxRefChain bounds reference-chasing so cyclic or adversarial chains of
// indirect references cannot recurse forever.
const maxRefChain = 32

var errRefChain = errors.New("reference chain too deep")

// Document owns a set of indirect objects plus the trailer dictionary that
// designates the catalog. Documents are single-owner values: they are never
// shared between goroutines and no object may be referenced from two
// documents (merging deep-copies instead).
type Document struct {
	Objects map[Ref]Object
	Trailer *Dict
	Version string

	nextNum int
}

// NewDocument returns an empty document seeded with a minimal catalog and
// page tree root, ready for pages to be appended.
func NewDocument() *Document {
	doc := &Document{
		Objects: make(map[Ref]Object),
		Trailer: NewDict(),
		Version: "1.7",
	}

	pages := NewDict()
	pages.Set("Type", Name("Pages"))
	pages.Set("Kids", NewArray())
	pages.Set("Count", Int(0))
	pagesRef := doc.Add(pages)

	catalog := NewDict()
	catalog.Set("Type", Name("Catalog"))
	catalog.Set("Pages", pagesRef)
	catalogRef := doc.Add(catalog)

	doc.Trailer.Set("Root", catalogRef)
	return doc
}

// Alloc reserves a fresh object number, unique within this document.
func (d *Document) Alloc() Ref {
	d.nextNum++
	return Ref{Num: d.nextNum}
}

// Put registers obj under ref, adopting ref's number into the allocation
// horizon so Alloc never hands it out again.
func (d *Document) Put(ref Ref, obj Object) {
	if d.Objects == nil {
		d.Objects = make(map[Ref]Object)
	}
	d.Objects[ref] = obj
	if ref.Num > d.nextNum {
		d.nextNum = ref.Num
	}
}

// Add allocates a number for obj and registers it.
func (d *Document) Add(obj Object) Ref {
	ref := d.Alloc()
	d.Put(ref, obj)
	return ref
}

// Get looks up an indirect object. A reference with a stale generation
// falls back to generation zero, which is how most real files use the
// field after a full rewrite.
func (d *Document) Get(ref Ref) (Object, bool) {
	obj, ok := d.Objects[ref]
	if !ok && ref.Gen != 0 {
		obj, ok = d.Objects[Ref{Num: ref.Num}]
	}
	return obj, ok
}

// Resolve chases obj through indirect references until it reaches a direct
// value. Unresolvable references resolve to Null, matching the behavior
// required of conforming readers.
func (d *Document) Resolve(obj Object) Object {
	for i := 0; i < maxRefChain; i++ {
		ref, ok := obj.(Ref)
		if !ok {
			return obj
		}
		next, ok := d.Get(ref)
		if !ok {
			return Null{}
		}
		obj = next
	}
	return Null{}
}

// ResolveDict resolves obj and returns it as a dictionary, unwrapping
// streams to their dictionaries.
func (d *Document) ResolveDict(obj Object) (*Dict, bool) {
	switch v := d.Resolve(obj).(type) {
	case *Dict:
		return v, true
	case *Stream:
		return v.Dict, true
	}
	return nil, false
}

// ResolveArray resolves obj and returns it as an array.
func (d *Document) ResolveArray(obj Object) (*Array, bool) {
	arr, ok := d.Resolve(obj).(*Array)
	return arr, ok
}

// ResolveInt resolves obj and returns its integer value.
func (d *Document) ResolveInt(obj Object) (int64, bool) {
	num, ok := d.Resolve(obj).(Number)
	if !ok {
		return 0, false
	}
	return num.Int(), true
}

// RootRef returns the catalog reference from the trailer.
func (d *Document) RootRef() (Ref, bool) {
	if d.Trailer == nil {
		return Ref{}, false
	}
	obj, ok := d.Trailer.Get("Root")
	if !ok {
		return Ref{}, false
	}
	ref, ok := obj.(Ref)
	return ref, ok
}

// Catalog resolves the document catalog.
func (d *Document) Catalog() (*Dict, error) {
	ref, ok := d.RootRef()
	if !ok {
		return nil, errors.New("trailer has no /Root reference")
	}
	dict, ok := d.ResolveDict(ref)
	if !ok {
		return nil, fmt.Errorf("catalog %s is not a dictionary", ref)
	}
	return dict, nil
}
