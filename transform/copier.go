package transform

import (
	"fmt"

	"pdfmill/ir/raw"
)

// copier moves object subgraphs from one document into another. Every
// source reference gets exactly one destination counterpart, recorded in
// the translation table, so shared resources stay shared and reference
// cycles terminate.
type copier struct {
	src *raw.Document
	dst *raw.Document
	// translation maps source references to their destination twins.
	translation map[raw.Ref]raw.Ref
}

func newCopier(src, dst *raw.Document) *copier {
	return &copier{src: src, dst: dst, translation: make(map[raw.Ref]raw.Ref)}
}

// copyRef transfers the object behind ref and, transitively, everything it
// references. Repeat calls for the same ref are free.
func (c *copier) copyRef(ref raw.Ref) (raw.Ref, error) {
	if dstRef, done := c.translation[ref]; done {
		return dstRef, nil
	}
	obj, ok := c.src.Get(ref)
	if !ok {
		obj = raw.Null{}
	}
	// Reserve the destination slot before descending, so cycles through
	// this reference resolve to it instead of recursing forever.
	dstRef := c.dst.Alloc()
	c.translation[ref] = dstRef
	copied, err := c.copyValue(obj)
	if err != nil {
		return raw.Ref{}, err
	}
	c.dst.Put(dstRef, copied)
	return dstRef, nil
}

// copyValue deep-copies a direct object. Page dictionaries drop their
// /Parent link here; pulling it along would drag the entire source page
// tree (and through it the whole source document) into the destination.
func (c *copier) copyValue(obj raw.Object) (raw.Object, error) {
	switch v := obj.(type) {
	case nil:
		return raw.Null{}, nil
	case raw.Null, raw.Bool, raw.Number, raw.Name:
		return v, nil
	case raw.String:
		data := make([]byte, len(v.Data))
		copy(data, v.Data)
		return raw.String{Data: data, Hex: v.Hex}, nil
	case raw.Ref:
		return c.copyRef(v)
	case *raw.Array:
		out := raw.NewArray()
		for _, item := range v.Items {
			copied, err := c.copyValue(item)
			if err != nil {
				return nil, err
			}
			out.Append(copied)
		}
		return out, nil
	case *raw.Dict:
		return c.copyDict(v)
	case *raw.Stream:
		dict, err := c.copyDict(v.Dict)
		if err != nil {
			return nil, err
		}
		data := make([]byte, len(v.Data))
		copy(data, v.Data)
		return &raw.Stream{Dict: dict, Data: data}, nil
	default:
		return nil, fmt.Errorf("cannot copy %T", obj)
	}
}

func (c *copier) copyDict(d *raw.Dict) (*raw.Dict, error) {
	isPage := d.Name("Type") == "Page"
	out := raw.NewDict()
	for key, val := range d.KV {
		if isPage && key == "Parent" {
			continue
		}
		copied, err := c.copyValue(val)
		if err != nil {
			return nil, err
		}
		out.Set(key, copied)
	}
	return out, nil
}
