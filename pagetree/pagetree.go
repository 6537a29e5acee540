// Package pagetree provides the page-level view over a raw document: a
// flattened, ordered page list with attribute inheritance, and the
// reconstruction of a well-formed tree when pages are added or reordered.
package pagetree

import (
	"errors"
	"fmt"

	"pdfmill/ir/raw"
)

// maxDepth bounds both Kids recursion and Parent-chain walks, so cyclic
// trees terminate.
const maxDepth = 64

// ErrNoPages reports a catalog without a usable page tree.
var ErrNoPages = errors.New("document has no page tree")

// Rect is a PDF rectangle, lower-left to upper-right.
type Rect struct {
	LLX, LLY, URX, URY float64
}

// Width returns the horizontal extent.
func (r Rect) Width() float64 { return r.URX - r.LLX }

// Height returns the vertical extent.
func (r Rect) Height() float64 { return r.URY - r.LLY }

// Array converts the rectangle to its PDF form.
func (r Rect) Array() *raw.Array {
	return raw.NewArray(number(r.LLX), number(r.LLY), number(r.URX), number(r.URY))
}

func number(f float64) raw.Object {
	if f == float64(int64(f)) {
		return raw.Int(int64(f))
	}
	return raw.Real(f)
}

// Page is a view over one /Page dictionary inside its document.
type Page struct {
	Ref  raw.Ref
	Dict *raw.Dict

	doc *raw.Document
}

// Pages returns the document's pages in visual order (left-to-right
// traversal of /Kids, recursively).
func Pages(doc *raw.Document) ([]Page, error) {
	rootRef, err := Root(doc)
	if err != nil {
		return nil, err
	}
	var out []Page
	visited := make(map[raw.Ref]bool)
	if err := collect(doc, rootRef, visited, 0, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Root returns the reference of the root /Pages node.
func Root(doc *raw.Document) (raw.Ref, error) {
	catalog, err := doc.Catalog()
	if err != nil {
		return raw.Ref{}, err
	}
	ref, ok := catalog.KV["Pages"].(raw.Ref)
	if !ok {
		return raw.Ref{}, ErrNoPages
	}
	return ref, nil
}

func collect(doc *raw.Document, ref raw.Ref, visited map[raw.Ref]bool, depth int, out *[]Page) error {
	if depth > maxDepth {
		return fmt.Errorf("page tree deeper than %d levels", maxDepth)
	}
	if visited[ref] {
		return nil // a cycle; the node was already walked
	}
	visited[ref] = true

	dict, ok := doc.ResolveDict(ref)
	if !ok {
		return nil // dangling kid, tolerated on load
	}
	switch dict.Name("Type") {
	case "Pages":
		kids, ok := doc.ResolveArray(dict.KV["Kids"])
		if !ok {
			return nil
		}
		for _, kid := range kids.Items {
			kidRef, ok := kid.(raw.Ref)
			if !ok {
				continue
			}
			if err := collect(doc, kidRef, visited, depth+1, out); err != nil {
				return err
			}
		}
	case "Page":
		*out = append(*out, Page{Ref: ref, Dict: dict, doc: doc})
	default:
		// Missing /Type: a node with /Kids acts as Pages, anything else
		// as a page. Real files need this leniency.
		if _, hasKids := dict.KV["Kids"]; hasKids {
			kids, ok := doc.ResolveArray(dict.KV["Kids"])
			if !ok {
				return nil
			}
			for _, kid := range kids.Items {
				if kidRef, ok := kid.(raw.Ref); ok {
					if err := collect(doc, kidRef, visited, depth+1, out); err != nil {
						return err
					}
				}
			}
		} else {
			*out = append(*out, Page{Ref: ref, Dict: dict, doc: doc})
		}
	}
	return nil
}

// Inherited returns the value of key on the page or the nearest ancestor
// that defines it.
func (p Page) Inherited(key raw.Name) (raw.Object, bool) {
	dict := p.Dict
	for i := 0; dict != nil && i < maxDepth; i++ {
		if val, ok := dict.Get(key); ok {
			return val, true
		}
		parent, ok := dict.KV["Parent"]
		if !ok {
			return nil, false
		}
		dict, _ = p.doc.ResolveDict(parent)
	}
	return nil, false
}

// letterBox is the fallback when a damaged file declares no MediaBox
// anywhere. US Letter, matching common viewer behavior.
var letterBox = Rect{URX: 612, URY: 792}

// MediaBox returns the page's effective media box.
func (p Page) MediaBox() Rect {
	obj, ok := p.Inherited("MediaBox")
	if !ok {
		return letterBox
	}
	arr, ok := p.doc.ResolveArray(obj)
	if !ok || arr.Len() < 4 {
		return letterBox
	}
	var vals [4]float64
	for i := 0; i < 4; i++ {
		num, ok := p.doc.Resolve(arr.At(i)).(raw.Number)
		if !ok {
			return letterBox
		}
		vals[i] = num.Float()
	}
	rect := Rect{LLX: vals[0], LLY: vals[1], URX: vals[2], URY: vals[3]}
	// normalize a flipped rectangle
	if rect.LLX > rect.URX {
		rect.LLX, rect.URX = rect.URX, rect.LLX
	}
	if rect.LLY > rect.URY {
		rect.LLY, rect.URY = rect.URY, rect.LLY
	}
	return rect
}

// Rotation returns the page's effective rotation, one of 0, 90, 180, 270.
func (p Page) Rotation() int {
	obj, ok := p.Inherited("Rotate")
	if !ok {
		return 0
	}
	num, ok := p.doc.Resolve(obj).(raw.Number)
	if !ok {
		return 0
	}
	return NormalizeRotation(int(num.Int()))
}

// SetRotation stores a rotation directly on the page dictionary.
func (p Page) SetRotation(degrees int) {
	p.Dict.Set("Rotate", raw.Int(int64(NormalizeRotation(degrees))))
}

// NormalizeRotation maps any multiple of 90 into [0,360); other values
// round down to the nearest multiple.
func NormalizeRotation(degrees int) int {
	degrees %= 360
	if degrees < 0 {
		degrees += 360
	}
	return degrees - degrees%90
}

// Resources returns the page's effective resource dictionary, which may be
// absent on text-free pages.
func (p Page) Resources() (*raw.Dict, bool) {
	obj, ok := p.Inherited("Resources")
	if !ok {
		return nil, false
	}
	return p.doc.ResolveDict(obj)
}

// Materialize copies every inheritable attribute the page actually uses
// onto the page dictionary itself. Pages must be materialized before they
// are moved to another parent (or another document), because their old
// ancestors no longer back them up afterwards.
func (p Page) Materialize() {
	if _, ok := p.Dict.Get("MediaBox"); !ok {
		p.Dict.Set("MediaBox", p.MediaBox().Array())
	}
	if _, ok := p.Dict.Get("Rotate"); !ok {
		if rot := p.Rotation(); rot != 0 {
			p.Dict.Set("Rotate", raw.Int(int64(rot)))
		}
	}
	if _, ok := p.Dict.Get("Resources"); !ok {
		if res, ok := p.Resources(); ok {
			p.Dict.Set("Resources", res)
		}
	}
}

// Append links an existing page object into the document's page tree as
// the new last page. The page dictionary must already be registered under
// ref in doc.
func Append(doc *raw.Document, ref raw.Ref) error {
	rootRef, err := Root(doc)
	if err != nil {
		return err
	}
	root, ok := doc.ResolveDict(rootRef)
	if !ok {
		return ErrNoPages
	}
	kids, ok := doc.ResolveArray(root.KV["Kids"])
	if !ok {
		kids = raw.NewArray()
		root.Set("Kids", kids)
	}
	kids.Append(ref)

	count := int64(0)
	if num, ok := doc.ResolveInt(root.KV["Count"]); ok {
		count = num
	}
	root.Set("Count", raw.Int(count+1))

	page, ok := doc.ResolveDict(ref)
	if !ok {
		return fmt.Errorf("appended page %s is not a dictionary", ref)
	}
	page.Set("Type", raw.Name("Page"))
	page.Set("Parent", rootRef)
	return nil
}
