package parser

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"pdfmill/filters"
	"pdfmill/ir/raw"
	"pdfmill/recovery"
	"pdfmill/scanner"
	"pdfmill/xref"
)

// loader materializes indirect objects on demand, using the xref table to
// find them and the filter pipeline to open object streams.
type loader struct {
	reader   io.ReaderAt
	table    *xref.Table
	limits   filters.Limits
	recovery recovery.Strategy

	// shared scanner for top-level objects; buffers the file once.
	scan scanner.Scanner

	// decoded object streams, keyed by container number, then by index.
	objstm map[int]map[int]raw.Object
	// object-stream containers currently being opened, to break cycles.
	opening map[int]bool
}

func newLoader(r io.ReaderAt, table *xref.Table, limits filters.Limits, rec recovery.Strategy) *loader {
	return &loader{
		reader:   r,
		table:    table,
		limits:   limits,
		recovery: rec,
		scan:     scanner.New(r, scanner.Config{Recovery: rec}),
		objstm:   make(map[int]map[int]raw.Object),
		opening:  make(map[int]bool),
	}
}

// Load returns the object stored under num.
func (l *loader) Load(ctx context.Context, num int) (raw.Object, error) {
	entry, ok := l.table.Lookup(num)
	if !ok {
		return nil, fmt.Errorf("object %d not in xref table", num)
	}
	if entry.InStream {
		return l.loadFromObjectStream(ctx, num, entry.StreamNum, entry.StreamIdx)
	}
	return l.loadAt(ctx, l.scan, num, entry)
}

// loadAt parses "N G obj <value> [stream]" at the entry's offset.
func (l *loader) loadAt(ctx context.Context, s scanner.Scanner, num int, entry xref.Entry) (raw.Object, error) {
	if err := s.SeekTo(entry.Offset); err != nil {
		return nil, fmt.Errorf("object %d: %w", num, err)
	}
	s.SetLocation(recovery.Location{Component: "loader", ObjectNum: num, ObjectGen: entry.Gen})
	tr := raw.NewTokenReader(s)

	numTok, err := tr.Next()
	if err != nil {
		return nil, fmt.Errorf("object %d header: %w", num, err)
	}
	if numTok.Type != scanner.TokenNumber || int(numTok.Int) != num {
		return nil, fmt.Errorf("object %d: header names object %d", num, numTok.Int)
	}
	genTok, err := tr.Next()
	if err != nil {
		return nil, err
	}
	if genTok.Type != scanner.TokenNumber {
		return nil, fmt.Errorf("object %d: malformed generation", num)
	}
	objTok, err := tr.Next()
	if err != nil {
		return nil, err
	}
	if objTok.Type != scanner.TokenKeyword || objTok.Str != "obj" {
		return nil, fmt.Errorf("object %d: missing obj keyword", num)
	}

	obj, err := raw.ParseValue(tr)
	if err != nil {
		return nil, fmt.Errorf("object %d: %w", num, err)
	}

	// A dictionary may be the head of a stream object.
	dict, ok := obj.(*raw.Dict)
	if !ok {
		return obj, nil
	}
	length, err := l.resolveLength(ctx, dict)
	if err != nil {
		return nil, fmt.Errorf("object %d: %w", num, err)
	}
	tr.SetStreamLengthHint(length)
	next, err := tr.Next()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return dict, nil
		}
		return nil, err
	}
	if next.Type != scanner.TokenStream {
		tr.Unread(next)
		return dict, nil
	}
	return &raw.Stream{Dict: dict, Data: next.Bytes}, nil
}

// resolveLength reads /Length, following one indirect reference with a
// private scanner so the shared cursor survives. Unknown lengths return -1
// and the scanner falls back to searching for endstream.
func (l *loader) resolveLength(ctx context.Context, dict *raw.Dict) (int64, error) {
	switch v := dict.KV["Length"].(type) {
	case raw.Number:
		return v.Int(), nil
	case raw.Ref:
		entry, ok := l.table.Lookup(v.Num)
		if !ok || entry.InStream {
			return -1, nil
		}
		side := scanner.New(l.reader, scanner.Config{Recovery: l.recovery})
		obj, err := l.loadAt(ctx, side, v.Num, entry)
		if err != nil {
			return -1, nil // fall back to endstream search
		}
		if num, ok := obj.(raw.Number); ok {
			return num.Int(), nil
		}
		return -1, nil
	default:
		return -1, nil
	}
}

// loadFromObjectStream opens (and caches) the container stream, then
// returns the object at idx.
func (l *loader) loadFromObjectStream(ctx context.Context, num, container, idx int) (raw.Object, error) {
	objs, ok := l.objstm[container]
	if !ok {
		if l.opening[container] {
			return nil, fmt.Errorf("object stream %d references itself", container)
		}
		l.opening[container] = true
		var err error
		objs, err = l.openObjectStream(ctx, container)
		delete(l.opening, container)
		if err != nil {
			return nil, err
		}
		l.objstm[container] = objs
	}
	obj, ok := objs[num]
	if !ok {
		return nil, fmt.Errorf("object %d not found in object stream %d (index %d)", num, container, idx)
	}
	return obj, nil
}

func (l *loader) openObjectStream(ctx context.Context, container int) (map[int]raw.Object, error) {
	obj, err := l.Load(ctx, container)
	if err != nil {
		return nil, fmt.Errorf("load object stream %d: %w", container, err)
	}
	st, ok := obj.(*raw.Stream)
	if !ok {
		return nil, fmt.Errorf("object %d is not an object stream", container)
	}

	names, parms := xref.FilterChain(st.Dict)
	data, err := filters.NewPipeline(l.limits).Decode(ctx, st.Data, names, parms)
	if err != nil {
		return nil, fmt.Errorf("decode object stream %d: %w", container, err)
	}

	n, first := streamInt(st.Dict, "N"), streamInt(st.Dict, "First")
	if n <= 0 || first <= 0 || first > len(data) {
		return nil, fmt.Errorf("object stream %d has invalid /N or /First", container)
	}

	// The header is n pairs of "objnum offset" relative to /First.
	head := scanner.New(bytes.NewReader(data[:first]), scanner.Config{Recovery: l.recovery})
	pairs := make([]int, 0, 2*n)
	for len(pairs) < 2*n {
		tok, err := head.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("object stream %d header: %w", container, err)
		}
		if tok.Type == scanner.TokenNumber && tok.IsInt {
			pairs = append(pairs, int(tok.Int))
		}
	}
	if len(pairs) < 2*n {
		return nil, fmt.Errorf("object stream %d header lists %d values, want %d", container, len(pairs), 2*n)
	}

	out := make(map[int]raw.Object, n)
	body := data[first:]
	for i := 0; i < n; i++ {
		objNum, off := pairs[2*i], pairs[2*i+1]
		if off < 0 || off > len(body) {
			return nil, fmt.Errorf("object stream %d: offset %d out of range", container, off)
		}
		s := scanner.New(bytes.NewReader(body[off:]), scanner.Config{Recovery: l.recovery})
		val, err := raw.ParseValue(raw.NewTokenReader(s))
		if err != nil {
			return nil, fmt.Errorf("object stream %d, object %d: %w", container, objNum, err)
		}
		out[objNum] = val
	}
	return out, nil
}

func streamInt(dict *raw.Dict, key raw.Name) int {
	if num, ok := dict.KV[key].(raw.Number); ok {
		return int(num.Int())
	}
	return 0
}
