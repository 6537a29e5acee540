// Package transform implements the document mutations: merging, page
// extraction, rotation and image-to-PDF conversion. Operations either
// build a fresh document or validate fully before touching the input, so
// a failed call never leaves a half-mutated document behind.
package transform

import (
	"context"
	"errors"
	"fmt"

	"pdfmill/ir/raw"
	"pdfmill/pagetree"
)

var (
	// ErrInsufficientInput reports a merge with fewer than two documents.
	ErrInsufficientInput = errors.New("merge needs at least two documents")

	// ErrIndexOutOfRange reports a page index outside the document.
	ErrIndexOutOfRange = errors.New("page index out of range")

	// ErrNoValidImages reports an image conversion where every input was
	// skipped.
	ErrNoValidImages = errors.New("no embeddable images in input")
)

// Merge builds a new document containing every page of every input, in
// input order. Sources are read but never modified; merging a document
// with itself duplicates its pages under fresh object ids.
func Merge(ctx context.Context, docs []*raw.Document) (*raw.Document, error) {
	if len(docs) < 2 {
		return nil, fmt.Errorf("%w: got %d", ErrInsufficientInput, len(docs))
	}
	dst := raw.NewDocument()
	for _, src := range docs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		pages, err := pagetree.Pages(src)
		if err != nil {
			return nil, err
		}
		c := newCopier(src, dst)
		for _, page := range pages {
			if err := adoptPage(dst, c, page); err != nil {
				return nil, err
			}
		}
	}
	return dst, nil
}

// ExtractPages builds a new document from the given zero-based page
// indices, in the order given. Only objects reachable from the selected
// pages are carried over.
func ExtractPages(ctx context.Context, doc *raw.Document, indices []int) (*raw.Document, error) {
	pages, err := pagetree.Pages(doc)
	if err != nil {
		return nil, err
	}
	for _, idx := range indices {
		if idx < 0 || idx >= len(pages) {
			return nil, fmt.Errorf("%w: %d of %d pages", ErrIndexOutOfRange, idx, len(pages))
		}
	}
	dst := raw.NewDocument()
	c := newCopier(doc, dst)
	for _, idx := range indices {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := adoptPage(dst, c, pages[idx]); err != nil {
			return nil, err
		}
	}
	return dst, nil
}

// adoptPage copies page into dst and links it in as the last page.
// Inheritable attributes are pinned onto the copy, since its ancestors do
// not travel with it.
func adoptPage(dst *raw.Document, c *copier, page pagetree.Page) error {
	dstRef, err := c.copyRef(page.Ref)
	if err != nil {
		return err
	}
	dict, ok := dst.ResolveDict(dstRef)
	if !ok {
		return fmt.Errorf("copied page %s is not a dictionary", page.Ref)
	}
	if _, ok := dict.Get("MediaBox"); !ok {
		dict.Set("MediaBox", page.MediaBox().Array())
	}
	if _, ok := dict.Get("Rotate"); !ok {
		if rot := page.Rotation(); rot != 0 {
			dict.Set("Rotate", raw.Int(int64(rot)))
		}
	}
	if _, ok := dict.Get("Resources"); !ok {
		if res, found := page.Inherited("Resources"); found {
			copied, err := c.copyValue(res)
			if err != nil {
				return err
			}
			dict.Set("Resources", copied)
		}
	}
	return pagetree.Append(dst, dstRef)
}

// Rotate adds delta degrees to the rotation of the selected pages, in
// place. A nil indices slice selects every page. All arguments are
// validated before the first page is touched.
func Rotate(doc *raw.Document, indices []int, delta int) error {
	switch delta {
	case 90, 180, 270, -90:
	default:
		return fmt.Errorf("rotation delta %d not a supported quarter turn", delta)
	}
	pages, err := pagetree.Pages(doc)
	if err != nil {
		return err
	}
	if indices == nil {
		indices = make([]int, len(pages))
		for i := range indices {
			indices[i] = i
		}
	}
	for _, idx := range indices {
		if idx < 0 || idx >= len(pages) {
			return fmt.Errorf("%w: %d of %d pages", ErrIndexOutOfRange, idx, len(pages))
		}
	}
	for _, idx := range indices {
		page := pages[idx]
		page.SetRotation(page.Rotation() + delta)
	}
	return nil
}
