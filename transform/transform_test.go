package transform

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/gif"
	"image/jpeg"
	"image/png"
	"testing"

	"pdfmill/ir/raw"
	"pdfmill/pagetree"
	"pdfmill/writer"
)

// makeFile builds a PDF with one page per marker; each marker lands
// verbatim in that page's content stream.
func makeFile(t *testing.T, markers ...string) []byte {
	t.Helper()
	doc := raw.NewDocument()
	for _, marker := range markers {
		content := doc.Add(raw.NewStream(raw.NewDict(),
			[]byte(fmt.Sprintf("BT /F1 12 Tf 72 720 Td (%s) Tj ET", marker))))
		page := raw.NewDict()
		page.Set("Type", raw.Name("Page"))
		page.Set("MediaBox", raw.NewArray(raw.Int(0), raw.Int(0), raw.Int(612), raw.Int(792)))
		page.Set("Contents", content)
		if err := pagetree.Append(doc, doc.Add(page)); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	out, err := writer.New(writer.Config{}).Save(context.Background(), doc)
	if err != nil {
		t.Fatalf("Save fixture: %v", err)
	}
	return out
}

func pageCount(t *testing.T, p *Pipeline, pdf []byte) int {
	t.Helper()
	doc, err := p.parse(context.Background(), pdf)
	if err != nil {
		t.Fatalf("parse result: %v", err)
	}
	pages, err := pagetree.Pages(doc)
	if err != nil {
		t.Fatalf("Pages: %v", err)
	}
	return len(pages)
}

func TestMergeFiles(t *testing.T) {
	p := NewPipeline(Config{})
	a := makeFile(t, "ALPHA-1", "ALPHA-2")
	b := makeFile(t, "BETA-1", "BETA-2", "BETA-3")

	out, err := p.MergeFiles(context.Background(), [][]byte{a, b})
	if err != nil {
		t.Fatalf("MergeFiles: %v", err)
	}
	if got := pageCount(t, p, out); got != 5 {
		t.Fatalf("merged page count %d, want 5", got)
	}
	// pages keep input order
	order := []string{"ALPHA-1", "ALPHA-2", "BETA-1", "BETA-2", "BETA-3"}
	last := -1
	for _, marker := range order {
		idx := bytes.Index(out, []byte(marker))
		if idx < 0 {
			t.Fatalf("merged output lost page %s", marker)
		}
		if idx < last {
			t.Fatalf("page %s out of order", marker)
		}
		last = idx
	}
}

func TestMergeSelf(t *testing.T) {
	p := NewPipeline(Config{})
	a := makeFile(t, "SOLO-1", "SOLO-2")
	out, err := p.MergeFiles(context.Background(), [][]byte{a, a})
	if err != nil {
		t.Fatalf("self merge: %v", err)
	}
	if got := pageCount(t, p, out); got != 4 {
		t.Fatalf("self-merged page count %d, want 4", got)
	}
	if n := bytes.Count(out, []byte("SOLO-1")); n != 2 {
		t.Fatalf("first page duplicated %d times, want 2", n)
	}
}

func TestMergeTooFewInputs(t *testing.T) {
	p := NewPipeline(Config{})
	a := makeFile(t, "ONLY")
	if _, err := p.MergeFiles(context.Background(), [][]byte{a}); !errors.Is(err, ErrInsufficientInput) {
		t.Fatalf("got %v, want ErrInsufficientInput", err)
	}
	if _, err := Merge(context.Background(), nil); !errors.Is(err, ErrInsufficientInput) {
		t.Fatalf("got %v, want ErrInsufficientInput", err)
	}
}

func TestMergeDoesNotMutateSources(t *testing.T) {
	p := NewPipeline(Config{})
	a := makeFile(t, "SRC-A")
	b := makeFile(t, "SRC-B")
	docA, err := p.parse(context.Background(), a)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	docB, err := p.parse(context.Background(), b)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	before := len(docA.Objects)

	if _, err := Merge(context.Background(), []*raw.Document{docA, docB}); err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if len(docA.Objects) != before {
		t.Fatalf("merge grew a source document from %d to %d objects", before, len(docA.Objects))
	}
	savedAgain, err := writer.New(writer.Config{}).Save(context.Background(), docA)
	if err != nil {
		t.Fatalf("re-save source: %v", err)
	}
	if got := pageCount(t, p, savedAgain); got != 1 {
		t.Fatalf("source page count changed to %d", got)
	}
}

func TestExtractFirstPage(t *testing.T) {
	p := NewPipeline(Config{})
	in := makeFile(t, "KEEP-ME", "DROP-ME-1", "DROP-ME-2")
	out, err := p.ExtractFirstPage(context.Background(), in)
	if err != nil {
		t.Fatalf("ExtractFirstPage: %v", err)
	}
	if got := pageCount(t, p, out); got != 1 {
		t.Fatalf("extracted page count %d, want 1", got)
	}
	if !bytes.Contains(out, []byte("KEEP-ME")) {
		t.Fatalf("selected page content missing")
	}
	// the closure of page one must not leak the other pages
	for _, secret := range []string{"DROP-ME-1", "DROP-ME-2"} {
		if bytes.Contains(out, []byte(secret)) {
			t.Fatalf("unselected page content %s leaked into output", secret)
		}
	}
}

func TestExtractPreservesRequestedOrder(t *testing.T) {
	p := NewPipeline(Config{})
	in := makeFile(t, "P0", "P1", "P2")
	out, err := p.ExtractFile(context.Background(), in, []int{2, 0})
	if err != nil {
		t.Fatalf("ExtractFile: %v", err)
	}
	doc, err := p.parse(context.Background(), out)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	pages, err := pagetree.Pages(doc)
	if err != nil {
		t.Fatalf("Pages: %v", err)
	}
	if len(pages) != 2 {
		t.Fatalf("page count %d, want 2", len(pages))
	}
	if bytes.Index(out, []byte("P2")) > bytes.Index(out, []byte("P0")) {
		t.Fatalf("requested order not preserved")
	}
}

func TestExtractOutOfRange(t *testing.T) {
	p := NewPipeline(Config{})
	in := makeFile(t, "ONE", "TWO")
	for _, indices := range [][]int{{2}, {-1}, {0, 5}} {
		if _, err := p.ExtractFile(context.Background(), in, indices); !errors.Is(err, ErrIndexOutOfRange) {
			t.Fatalf("indices %v: got %v, want ErrIndexOutOfRange", indices, err)
		}
	}
}

func rotations(t *testing.T, p *Pipeline, pdf []byte) []int {
	t.Helper()
	doc, err := p.parse(context.Background(), pdf)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	pages, err := pagetree.Pages(doc)
	if err != nil {
		t.Fatalf("Pages: %v", err)
	}
	out := make([]int, len(pages))
	for i, page := range pages {
		out[i] = page.Rotation()
	}
	return out
}

func TestRotateAllPages(t *testing.T) {
	p := NewPipeline(Config{})
	in := makeFile(t, "R1", "R2")
	out, err := p.RotateAllPages(context.Background(), in, 90)
	if err != nil {
		t.Fatalf("RotateAllPages: %v", err)
	}
	for i, rot := range rotations(t, p, out) {
		if rot != 90 {
			t.Fatalf("page %d rotation %d, want 90", i, rot)
		}
	}
	// content untouched
	if !bytes.Contains(out, []byte("R1")) || !bytes.Contains(out, []byte("R2")) {
		t.Fatalf("rotation modified page content")
	}
}

func TestRotateFourQuarterTurnsIsIdentity(t *testing.T) {
	p := NewPipeline(Config{})
	current := makeFile(t, "SPIN")
	for i := 0; i < 4; i++ {
		next, err := p.RotateAllPages(context.Background(), current, 90)
		if err != nil {
			t.Fatalf("rotation %d: %v", i, err)
		}
		current = next
	}
	if rots := rotations(t, p, current); rots[0] != 0 {
		t.Fatalf("four quarter turns left rotation %d, want 0", rots[0])
	}
}

func TestRotateNegativeDelta(t *testing.T) {
	p := NewPipeline(Config{})
	out, err := p.RotateAllPages(context.Background(), makeFile(t, "N"), -90)
	if err != nil {
		t.Fatalf("RotateAllPages: %v", err)
	}
	if rots := rotations(t, p, out); rots[0] != 270 {
		t.Fatalf("rotation %d, want 270", rots[0])
	}
}

func TestRotateInvalidDelta(t *testing.T) {
	doc := raw.NewDocument()
	if err := Rotate(doc, nil, 45); err == nil {
		t.Fatalf("expected error for 45 degree delta")
	}
}

func TestRotateValidatesBeforeMutating(t *testing.T) {
	p := NewPipeline(Config{})
	doc, err := p.parse(context.Background(), makeFile(t, "A", "B"))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if err := Rotate(doc, []int{0, 7}, 90); !errors.Is(err, ErrIndexOutOfRange) {
		t.Fatalf("got %v, want ErrIndexOutOfRange", err)
	}
	pages, _ := pagetree.Pages(doc)
	if pages[0].Rotation() != 0 {
		t.Fatalf("failed rotation mutated page 0")
	}
}

func encodeImage(t *testing.T, format string, w, h int) []byte {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetGray(x, y, color.Gray{Y: uint8(x + y)})
		}
	}
	var buf bytes.Buffer
	var err error
	switch format {
	case "jpeg":
		err = jpeg.Encode(&buf, img, nil)
	case "png":
		err = png.Encode(&buf, img)
	case "gif":
		err = gif.Encode(&buf, img, nil)
	}
	if err != nil {
		t.Fatalf("%s encode: %v", format, err)
	}
	return buf.Bytes()
}

func TestImageFilesMixedInput(t *testing.T) {
	p := NewPipeline(Config{})
	inputs := [][]byte{
		encodeImage(t, "jpeg", 40, 30),
		encodeImage(t, "gif", 10, 10), // silently skipped
		encodeImage(t, "png", 20, 50),
	}
	out, err := p.ImageFiles(context.Background(), inputs)
	if err != nil {
		t.Fatalf("ImageFiles: %v", err)
	}
	doc, err := p.parse(context.Background(), out)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	pages, err := pagetree.Pages(doc)
	if err != nil {
		t.Fatalf("Pages: %v", err)
	}
	if len(pages) != 2 {
		t.Fatalf("page count %d, want 2 (gif skipped)", len(pages))
	}
	// pages are sized to the pixel dimensions
	if box := pages[0].MediaBox(); box.Width() != 40 || box.Height() != 30 {
		t.Fatalf("jpeg page box %+v, want 40x30", box)
	}
	if box := pages[1].MediaBox(); box.Width() != 20 || box.Height() != 50 {
		t.Fatalf("png page box %+v, want 20x50", box)
	}
	if !bytes.Contains(out, []byte("/DCTDecode")) {
		t.Fatalf("jpeg page missing DCTDecode image")
	}
	if !bytes.Contains(out, []byte("/FlateDecode")) {
		t.Fatalf("png page missing FlateDecode image")
	}
}

func TestImageFilesNoneValid(t *testing.T) {
	p := NewPipeline(Config{})
	inputs := [][]byte{
		encodeImage(t, "gif", 5, 5),
		[]byte("not an image"),
	}
	if _, err := p.ImageFiles(context.Background(), inputs); !errors.Is(err, ErrNoValidImages) {
		t.Fatalf("got %v, want ErrNoValidImages", err)
	}
}

func TestRoundTripPreservesPages(t *testing.T) {
	p := NewPipeline(Config{})
	in := makeFile(t, "RT-1", "RT-2", "RT-3")
	doc, err := p.parse(context.Background(), in)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	out, err := writer.New(writer.Config{}).Save(context.Background(), doc)
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if got := pageCount(t, p, out); got != 3 {
		t.Fatalf("round trip page count %d, want 3", got)
	}
	last := -1
	for _, marker := range []string{"RT-1", "RT-2", "RT-3"} {
		idx := bytes.Index(out, []byte(marker))
		if idx < 0 || idx < last {
			t.Fatalf("round trip disturbed page order at %s", marker)
		}
		last = idx
	}
}
