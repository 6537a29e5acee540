package writer

import (
	"bytes"
	"context"
	"fmt"
	"strconv"
	"testing"

	"pdfmill/ir/raw"
	"pdfmill/pagetree"
)

func sampleDoc(t *testing.T) *raw.Document {
	t.Helper()
	doc := raw.NewDocument()
	content := doc.Add(raw.NewStream(raw.NewDict(), []byte("BT (hi) Tj ET")))
	page := raw.NewDict()
	page.Set("Type", raw.Name("Page"))
	page.Set("MediaBox", raw.NewArray(raw.Int(0), raw.Int(0), raw.Int(300), raw.Int(400)))
	page.Set("Contents", content)
	if err := pagetree.Append(doc, doc.Add(page)); err != nil {
		t.Fatalf("Append: %v", err)
	}
	return doc
}

func save(t *testing.T, doc *raw.Document) []byte {
	t.Helper()
	out, err := New(Config{}).Save(context.Background(), doc)
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	return out
}

func TestSaveShape(t *testing.T) {
	out := save(t, sampleDoc(t))
	if !bytes.HasPrefix(out, []byte("%PDF-1.7\n")) {
		t.Fatalf("missing header: %q", out[:16])
	}
	if !bytes.HasSuffix(out, []byte("%%EOF\n")) {
		t.Fatalf("missing EOF marker")
	}
	for _, marker := range []string{"xref\n", "trailer\n", "startxref\n", "endobj\n", "endstream"} {
		if !bytes.Contains(out, []byte(marker)) {
			t.Fatalf("output lacks %q", marker)
		}
	}
}

func TestSaveDeterministic(t *testing.T) {
	doc := sampleDoc(t)
	first := save(t, doc)
	second := save(t, doc)
	if !bytes.Equal(first, second) {
		t.Fatalf("repeated saves differ")
	}
}

func TestSaveStartXRefOffset(t *testing.T) {
	out := save(t, sampleDoc(t))
	idx := bytes.LastIndex(out, []byte("startxref\n"))
	if idx < 0 {
		t.Fatalf("no startxref")
	}
	rest := out[idx+len("startxref\n"):]
	end := bytes.IndexByte(rest, '\n')
	offset, err := strconv.Atoi(string(rest[:end]))
	if err != nil {
		t.Fatalf("bad startxref value: %v", err)
	}
	if !bytes.HasPrefix(out[offset:], []byte("xref\n")) {
		t.Fatalf("startxref %d does not point at the xref table", offset)
	}
}

func TestSaveDropsUnreachableObjects(t *testing.T) {
	doc := sampleDoc(t)
	doc.Add(raw.NewDict()) // orphan
	orphan := raw.NewDict()
	orphan.Set("Secret", raw.Str([]byte("do-not-write")))
	doc.Add(orphan)

	out := save(t, doc)
	if bytes.Contains(out, []byte("do-not-write")) {
		t.Fatalf("unreachable object serialized")
	}
	reachable := len(doc.Objects) - 2
	want := fmt.Sprintf("/Size %d", reachable+1)
	if !bytes.Contains(out, []byte(want)) {
		t.Fatalf("trailer size wrong, want %q in:\n%s", want, tail(out))
	}
}

func TestSaveRenumbersDensely(t *testing.T) {
	doc := sampleDoc(t)
	// force a sparse id space
	sparse := raw.NewDict()
	sparse.Set("Sparse", raw.Bool(true))
	doc.Put(raw.Ref{Num: 900}, sparse)
	catalog, _ := doc.Catalog()
	catalog.Set("Extra", raw.Ref{Num: 900})

	out := save(t, doc)
	if bytes.Contains(out, []byte("900 0 obj")) {
		t.Fatalf("original object number leaked into output")
	}
	if !bytes.Contains(out, []byte("/Sparse true")) {
		t.Fatalf("renumbered object lost")
	}
}

func TestSaveCorrectsStreamLength(t *testing.T) {
	doc := sampleDoc(t)
	// find the content stream and lie about its length
	for _, obj := range doc.Objects {
		if stream, ok := obj.(*raw.Stream); ok {
			stream.Dict.Set("Length", raw.Int(99999))
		}
	}
	out := save(t, doc)
	if bytes.Contains(out, []byte("/Length 99999")) {
		t.Fatalf("stale stream length written")
	}
	if !bytes.Contains(out, []byte(fmt.Sprintf("/Length %d", len("BT (hi) Tj ET")))) {
		t.Fatalf("corrected stream length missing")
	}
}

func TestSaveLeavesDocumentUntouched(t *testing.T) {
	doc := sampleDoc(t)
	// indirect /Length, the way parsed files commonly carry it
	lengthRef := doc.Add(raw.Int(int64(len("BT (hi) Tj ET"))))
	var stream *raw.Stream
	for _, obj := range doc.Objects {
		if s, ok := obj.(*raw.Stream); ok {
			stream = s
		}
	}
	stream.Dict.Set("Length", lengthRef)

	first := save(t, doc)
	if got := stream.Dict.KV["Length"]; got != raw.Object(lengthRef) {
		t.Fatalf("save replaced the stream's /Length reference with %v", got)
	}
	second := save(t, doc)
	if !bytes.Equal(first, second) {
		t.Fatalf("saves of an unchanged document differ: %d vs %d bytes", len(first), len(second))
	}
	// the emitted copy still carries the corrected direct length
	if !bytes.Contains(first, []byte(fmt.Sprintf("/Length %d", len("BT (hi) Tj ET")))) {
		t.Fatalf("corrected length missing from output")
	}
}

func TestSaveEscapesStringsAndNames(t *testing.T) {
	doc := sampleDoc(t)
	catalog, _ := doc.Catalog()
	catalog.Set("Title", raw.Str([]byte("paren ( and \\ slash")))
	catalog.Set(raw.Name("Odd Key"), raw.Bool(true))

	out := save(t, doc)
	if !bytes.Contains(out, []byte(`(paren \( and \\ slash)`)) {
		t.Fatalf("string escaping wrong:\n%s", tail(out))
	}
	if !bytes.Contains(out, []byte("/Odd#20Key true")) {
		t.Fatalf("name escaping wrong")
	}
}

func tail(out []byte) []byte {
	if len(out) > 400 {
		return out[len(out)-400:]
	}
	return out
}
