package xref

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strconv"

	"pdfmill/filters"
	"pdfmill/ir/raw"
	"pdfmill/observability"
	"pdfmill/recovery"
	"pdfmill/scanner"
)

// Config controls cross-reference resolution.
type Config struct {
	// MaxSections bounds the /Prev chain length. Default 32.
	MaxSections int
	Recovery    recovery.Strategy
	Log         observability.Logger
	Limits      filters.Limits
}

const tailWindow = 2048 // how far from EOF startxref may sit

// Resolve locates the cross-reference structure of the file in r and
// returns the object table together with the merged trailer dictionary.
// When the declared structure is damaged it falls back to a full-file
// repair scan; ErrCorruptXRef is returned only if that fails too.
func Resolve(ctx context.Context, r io.ReaderAt, size int64, cfg Config) (*Table, *raw.Dict, error) {
	log := cfg.Log
	if log == nil {
		log = observability.NopLogger{}
	}

	table, trailer, err := resolveDeclared(ctx, r, size, cfg)
	if err == nil {
		return table, trailer, nil
	}
	log.Warn("declared xref unusable, running repair scan", observability.Error("cause", err))

	table, trailer, rerr := Repair(ctx, r, cfg)
	if rerr != nil {
		return nil, nil, fmt.Errorf("%w: %v (repair: %v)", ErrCorruptXRef, err, rerr)
	}
	return table, trailer, nil
}

func resolveDeclared(ctx context.Context, r io.ReaderAt, size int64, cfg Config) (*Table, *raw.Dict, error) {
	start, err := findStartXRef(r, size)
	if err != nil {
		return nil, nil, err
	}

	maxSections := cfg.MaxSections
	if maxSections <= 0 {
		maxSections = 32
	}

	table := newTable()
	trailer := raw.NewDict()
	visited := make(map[int64]bool)
	queue := []int64{start}

	for len(queue) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
		offset := queue[0]
		queue = queue[1:]
		if visited[offset] {
			continue
		}
		visited[offset] = true
		if len(visited) > maxSections {
			return nil, nil, fmt.Errorf("more than %d xref sections", maxSections)
		}
		if offset <= 0 || offset >= size {
			return nil, nil, fmt.Errorf("xref offset %d out of range", offset)
		}

		sectionTrailer, next, err := parseSection(ctx, r, offset, table, cfg)
		if err != nil {
			return nil, nil, fmt.Errorf("xref section at %d: %w", offset, err)
		}
		mergeTrailer(trailer, sectionTrailer)
		queue = append(queue, next...)
	}

	if table.Len() == 0 {
		return nil, nil, fmt.Errorf("xref sections contained no objects")
	}
	if _, ok := trailer.Get("Root"); !ok {
		return nil, nil, fmt.Errorf("no trailer names a document root")
	}
	return table, trailer, nil
}

// findStartXRef scans the file tail for the last startxref keyword and
// parses the offset that follows it.
func findStartXRef(r io.ReaderAt, size int64) (int64, error) {
	window := int64(tailWindow)
	if window > size {
		window = size
	}
	tail := make([]byte, window)
	if _, err := r.ReadAt(tail, size-window); err != nil && err != io.EOF {
		return 0, err
	}
	idx := bytes.LastIndex(tail, []byte("startxref"))
	if idx < 0 {
		return 0, fmt.Errorf("startxref not found in final %d bytes", window)
	}
	fields := bytes.Fields(tail[idx+len("startxref"):])
	if len(fields) == 0 {
		return 0, fmt.Errorf("startxref not followed by an offset")
	}
	offset, err := strconv.ParseInt(string(fields[0]), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse startxref offset: %w", err)
	}
	return offset, nil
}

// parseSection parses one xref section (classic table or xref stream),
// adds its entries to table, and returns the section's trailer dictionary
// plus any further offsets to visit (/Prev, /XRefStm).
func parseSection(ctx context.Context, r io.ReaderAt, offset int64, table *Table, cfg Config) (*raw.Dict, []int64, error) {
	s := scanner.New(r, scanner.Config{Recovery: cfg.Recovery})
	s.SetLocation(recovery.Location{Component: "xref"})
	if err := s.SeekTo(offset); err != nil {
		return nil, nil, err
	}
	tr := raw.NewTokenReader(s)

	tok, err := tr.Next()
	if err != nil {
		return nil, nil, err
	}
	switch {
	case tok.Type == scanner.TokenKeyword && tok.Str == "xref":
		return parseClassicSection(tr, table)
	case tok.Type == scanner.TokenNumber && tok.IsInt:
		tr.Unread(tok)
		return parseStreamSection(ctx, tr, table, cfg)
	}
	return nil, nil, fmt.Errorf("neither xref keyword nor xref stream at offset %d", offset)
}

// parseClassicSection reads subsections of 20-byte entries followed by the
// trailer dictionary.
func parseClassicSection(tr *raw.TokenReader, table *Table) (*raw.Dict, []int64, error) {
	for {
		tok, err := tr.Next()
		if err != nil {
			return nil, nil, fmt.Errorf("read subsection header: %w", err)
		}
		if tok.Type == scanner.TokenKeyword && tok.Str == "trailer" {
			break
		}
		if tok.Type != scanner.TokenNumber || !tok.IsInt {
			return nil, nil, fmt.Errorf("subsection header must start with an integer")
		}
		start := int(tok.Int)
		countTok, err := tr.Next()
		if err != nil {
			return nil, nil, err
		}
		if countTok.Type != scanner.TokenNumber || !countTok.IsInt {
			return nil, nil, fmt.Errorf("subsection header missing entry count")
		}
		count := int(countTok.Int)
		if count < 0 {
			return nil, nil, fmt.Errorf("negative subsection count %d", count)
		}

		for i := 0; i < count; i++ {
			offTok, err := tr.Next()
			if err != nil {
				return nil, nil, fmt.Errorf("read entry %d: %w", start+i, err)
			}
			genTok, err := tr.Next()
			if err != nil {
				return nil, nil, err
			}
			kindTok, err := tr.Next()
			if err != nil {
				return nil, nil, err
			}
			if offTok.Type != scanner.TokenNumber || genTok.Type != scanner.TokenNumber ||
				kindTok.Type != scanner.TokenKeyword {
				return nil, nil, fmt.Errorf("malformed entry for object %d", start+i)
			}
			switch kindTok.Str {
			case "n":
				table.add(start+i, Entry{Offset: offTok.Int, Gen: int(genTok.Int)})
			case "f":
				table.markFree(start + i)
			default:
				return nil, nil, fmt.Errorf("entry for object %d is neither n nor f", start+i)
			}
		}
	}

	obj, err := raw.ParseValue(tr)
	if err != nil {
		return nil, nil, fmt.Errorf("parse trailer: %w", err)
	}
	trailer, ok := obj.(*raw.Dict)
	if !ok {
		return nil, nil, fmt.Errorf("trailer is not a dictionary")
	}
	return trailer, chainOffsets(trailer), nil
}

// parseStreamSection decodes a cross-reference stream object.
func parseStreamSection(ctx context.Context, tr *raw.TokenReader, table *Table, cfg Config) (*raw.Dict, []int64, error) {
	if err := expectObjHeader(tr); err != nil {
		return nil, nil, err
	}
	obj, err := raw.ParseValue(tr)
	if err != nil {
		return nil, nil, err
	}
	dict, ok := obj.(*raw.Dict)
	if !ok {
		return nil, nil, fmt.Errorf("xref stream object is not a stream")
	}
	if length, ok := dict.KV["Length"].(raw.Number); ok {
		tr.SetStreamLengthHint(length.Int())
	}
	streamTok, err := tr.Next()
	if err != nil {
		return nil, nil, fmt.Errorf("read xref stream payload: %w", err)
	}
	if streamTok.Type != scanner.TokenStream {
		return nil, nil, fmt.Errorf("xref stream object carries no stream payload")
	}

	names, parms := FilterChain(dict)
	data, err := filters.NewPipeline(cfg.Limits).Decode(ctx, streamTok.Bytes, names, parms)
	if err != nil {
		return nil, nil, fmt.Errorf("decode xref stream: %w", err)
	}

	widths, err := fieldWidths(dict)
	if err != nil {
		return nil, nil, err
	}
	index, err := indexPairs(dict)
	if err != nil {
		return nil, nil, err
	}

	rowLen := widths[0] + widths[1] + widths[2]
	pos := 0
	for i := 0; i+1 < len(index); i += 2 {
		start, count := index[i], index[i+1]
		for n := 0; n < count; n++ {
			if pos+rowLen > len(data) {
				return nil, nil, fmt.Errorf("xref stream truncated at object %d", start+n)
			}
			f1 := readField(data[pos:], widths[0], 1) // type defaults to 1
			f2 := readField(data[pos+widths[0]:], widths[1], 0)
			f3 := readField(data[pos+widths[0]+widths[1]:], widths[2], 0)
			pos += rowLen

			num := start + n
			switch f1 {
			case 0:
				table.markFree(num)
			case 1:
				table.add(num, Entry{Offset: int64(f2), Gen: int(f3)})
			case 2:
				table.add(num, Entry{InStream: true, StreamNum: int(f2), StreamIdx: int(f3)})
			}
		}
	}

	return dict, chainOffsets(dict), nil
}

func expectObjHeader(tr *raw.TokenReader) error {
	num, err := tr.Next()
	if err != nil {
		return err
	}
	gen, err := tr.Next()
	if err != nil {
		return err
	}
	kw, err := tr.Next()
	if err != nil {
		return err
	}
	if num.Type != scanner.TokenNumber || gen.Type != scanner.TokenNumber ||
		kw.Type != scanner.TokenKeyword || kw.Str != "obj" {
		return fmt.Errorf("expected object header")
	}
	return nil
}

// fieldWidths reads /W.
func fieldWidths(dict *raw.Dict) ([3]int, error) {
	var widths [3]int
	arr, ok := dict.KV["W"].(*raw.Array)
	if !ok || arr.Len() < 3 {
		return widths, fmt.Errorf("xref stream missing /W")
	}
	for i := 0; i < 3; i++ {
		num, ok := arr.At(i).(raw.Number)
		if !ok || num.Int() < 0 || num.Int() > 8 {
			return widths, fmt.Errorf("invalid /W entry %d", i)
		}
		widths[i] = int(num.Int())
	}
	return widths, nil
}

// indexPairs reads /Index, defaulting to [0 Size].
func indexPairs(dict *raw.Dict) ([]int, error) {
	if arr, ok := dict.KV["Index"].(*raw.Array); ok {
		if arr.Len()%2 != 0 {
			return nil, fmt.Errorf("/Index has odd length %d", arr.Len())
		}
		out := make([]int, 0, arr.Len())
		for _, item := range arr.Items {
			num, ok := item.(raw.Number)
			if !ok {
				return nil, fmt.Errorf("/Index entry is not a number")
			}
			out = append(out, int(num.Int()))
		}
		return out, nil
	}
	size, ok := dict.KV["Size"].(raw.Number)
	if !ok {
		return nil, fmt.Errorf("xref stream missing both /Index and /Size")
	}
	return []int{0, int(size.Int())}, nil
}

// readField decodes a big-endian field of the given width; zero-width
// fields take their default value.
func readField(data []byte, width int, def uint64) uint64 {
	if width == 0 {
		return def
	}
	var v uint64
	for i := 0; i < width; i++ {
		v = v<<8 | uint64(data[i])
	}
	return v
}

// chainOffsets extracts the follow-up section offsets from a trailer or
// xref stream dictionary.
func chainOffsets(dict *raw.Dict) []int64 {
	var out []int64
	// XRefStm first: in hybrid files it supplements the same revision.
	if num, ok := dict.KV["XRefStm"].(raw.Number); ok {
		out = append(out, num.Int())
	}
	if num, ok := dict.KV["Prev"].(raw.Number); ok {
		out = append(out, num.Int())
	}
	return out
}

// mergeTrailer copies keys from src into dst unless present; sections are
// visited newest-first, so earlier values win.
func mergeTrailer(dst, src *raw.Dict) {
	for key, val := range src.KV {
		if _, ok := dst.KV[key]; !ok {
			dst.Set(key, val)
		}
	}
}

// FilterChain extracts the /Filter names and aligned /DecodeParms
// dictionaries from a stream dictionary. Only direct values are
// considered; stream dictionaries that matter here (xref and object
// streams) are required to be self-contained.
func FilterChain(dict *raw.Dict) ([]string, []*raw.Dict) {
	var names []string
	switch v := dict.KV["Filter"].(type) {
	case raw.Name:
		names = []string{string(v)}
	case *raw.Array:
		for _, item := range v.Items {
			if n, ok := item.(raw.Name); ok {
				names = append(names, string(n))
			}
		}
	}
	var parms []*raw.Dict
	switch v := dict.KV["DecodeParms"].(type) {
	case *raw.Dict:
		parms = []*raw.Dict{v}
	case *raw.Array:
		for _, item := range v.Items {
			d, _ := item.(*raw.Dict)
			parms = append(parms, d) // nil holds the position
		}
	}
	return names, parms
}
