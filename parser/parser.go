// Package parser builds raw documents from PDF bytes. It resolves the
// cross-reference structure, loads every referenced object, and hands back
// a self-contained raw.Document with no ties to the input buffer.
package parser

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"pdfmill/filters"
	"pdfmill/ir/raw"
	"pdfmill/observability"
	"pdfmill/recovery"
	"pdfmill/xref"
)

// ErrEncrypted reports an encrypted input; decryption is out of scope and
// silently producing garbage would be worse than refusing.
var ErrEncrypted = errors.New("encrypted documents are not supported")

// Config controls document parsing.
type Config struct {
	Recovery recovery.Strategy
	Log      observability.Logger
	XRef     xref.Config
	Limits   filters.Limits
}

// DocumentParser parses complete documents.
type DocumentParser struct {
	cfg Config
	log observability.Logger
}

func New(cfg Config) *DocumentParser {
	log := cfg.Log
	if log == nil {
		log = observability.NopLogger{}
	}
	if cfg.XRef.Recovery == nil {
		cfg.XRef.Recovery = cfg.Recovery
	}
	if cfg.XRef.Log == nil {
		cfg.XRef.Log = log
	}
	cfg.XRef.Limits = cfg.Limits
	return &DocumentParser{cfg: cfg, log: log}
}

// Parse reads the document in r. The reader must cover exactly size bytes.
func (p *DocumentParser) Parse(ctx context.Context, r io.ReaderAt, size int64) (*raw.Document, error) {
	table, trailer, err := xref.Resolve(ctx, r, size, p.cfg.XRef)
	if err != nil {
		return nil, err
	}
	if _, ok := trailer.Get("Encrypt"); ok {
		return nil, ErrEncrypted
	}

	doc := &raw.Document{
		Objects: make(map[raw.Ref]raw.Object, table.Len()),
		Trailer: raw.NewDict(),
		Version: headerVersion(r),
	}
	// Only the keys that describe the document survive; bookkeeping like
	// /Prev, /Size or xref-stream fields is regenerated on save.
	for _, key := range []raw.Name{"Root", "Info", "ID"} {
		if val, ok := trailer.Get(key); ok {
			doc.Trailer.Set(key, val)
		}
	}

	ld := newLoader(r, table, p.cfg.Limits, p.cfg.Recovery)
	for _, num := range table.Objects() {
		if num == 0 {
			continue // head of the free list
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		entry, _ := table.Lookup(num)
		obj, err := ld.Load(ctx, num)
		if err != nil {
			if p.tolerate(err, num) {
				continue
			}
			return nil, err
		}
		gen := 0
		if !entry.InStream {
			gen = entry.Gen
		}
		doc.Put(raw.Ref{Num: num, Gen: gen}, obj)
	}

	if _, ok := doc.Trailer.Get("Root"); !ok {
		if ref, ok := findCatalog(doc); ok {
			doc.Trailer.Set("Root", ref)
		} else {
			return nil, fmt.Errorf("%w: no catalog in document", xref.ErrCorruptXRef)
		}
	}
	// The catalog must actually resolve; a trailer pointing into the void
	// is as corrupt as a missing one.
	if _, err := doc.Catalog(); err != nil {
		if ref, ok := findCatalog(doc); ok {
			doc.Trailer.Set("Root", ref)
		} else {
			return nil, fmt.Errorf("%w: %v", xref.ErrCorruptXRef, err)
		}
	}
	return doc, nil
}

// tolerate asks the recovery strategy whether a single unloadable object
// may be dropped from the document.
func (p *DocumentParser) tolerate(err error, num int) bool {
	if p.cfg.Recovery == nil {
		return false
	}
	action := p.cfg.Recovery.OnError(err, recovery.Location{Component: "parser", ObjectNum: num})
	if action == recovery.ActionSkip || action == recovery.ActionFix {
		p.log.Warn("dropped unloadable object",
			observability.Int("obj", num), observability.Error("cause", err))
		return true
	}
	return false
}

// findCatalog scans loaded objects for a /Type /Catalog dictionary, the
// recovery of last resort after a repair scan without a trailer.
func findCatalog(doc *raw.Document) (raw.Ref, bool) {
	for ref, obj := range doc.Objects {
		if dict, ok := obj.(*raw.Dict); ok && dict.Name("Type") == "Catalog" {
			return ref, true
		}
	}
	return raw.Ref{}, false
}

// headerVersion extracts the version from the %PDF-x.y header comment.
func headerVersion(r io.ReaderAt) string {
	buf := make([]byte, 16)
	n, err := r.ReadAt(buf, 0)
	if err != nil && !errors.Is(err, io.EOF) {
		return ""
	}
	line := string(buf[:n])
	if !strings.HasPrefix(line, "%PDF-") {
		return ""
	}
	line = line[len("%PDF-"):]
	if i := strings.IndexAny(line, "\r\n \t"); i >= 0 {
		line = line[:i]
	}
	return line
}
