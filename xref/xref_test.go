package xref

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/google/go-cmp/cmp"

	"pdfmill/filters"
)

// fileBuilder assembles PDF fixture bytes with accurate offsets.
type fileBuilder struct {
	buf     bytes.Buffer
	offsets map[int]int64
	order   []int
}

func newFileBuilder() *fileBuilder {
	fb := &fileBuilder{offsets: make(map[int]int64)}
	fb.buf.WriteString("%PDF-1.7\n")
	return fb
}

func (fb *fileBuilder) obj(num int, body string) {
	fb.offsets[num] = int64(fb.buf.Len())
	fmt.Fprintf(&fb.buf, "%d 0 obj\n%s\nendobj\n", num, body)
	fb.order = append(fb.order, num)
}

// classicXRef appends a classic xref section covering every object written
// so far, plus the trailer and startxref. Extra goes into the trailer dict
// verbatim.
func (fb *fileBuilder) classicXRef(size int, extra string) []byte {
	xrefOffset := fb.buf.Len()
	fmt.Fprintf(&fb.buf, "xref\n0 1\n0000000000 65535 f \n")
	for _, num := range fb.order {
		fmt.Fprintf(&fb.buf, "%d 1\n%010d 00000 n \n", num, fb.offsets[num])
	}
	fmt.Fprintf(&fb.buf, "trailer\n<< /Size %d /Root 1 0 R %s>>\nstartxref\n%d\n%%%%EOF\n",
		size, extra, xrefOffset)
	return fb.buf.Bytes()
}

func simpleFile() []byte {
	fb := newFileBuilder()
	fb.obj(1, "<< /Type /Catalog /Pages 2 0 R >>")
	fb.obj(2, "<< /Type /Pages /Kids [3 0 R] /Count 1 >>")
	fb.obj(3, "<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] >>")
	return fb.classicXRef(4, "")
}

func resolve(t *testing.T, data []byte, cfg Config) (*Table, map[string]bool) {
	t.Helper()
	table, trailer, err := Resolve(context.Background(), bytes.NewReader(data), int64(len(data)), cfg)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	keys := make(map[string]bool)
	for key := range trailer.KV {
		keys[string(key)] = true
	}
	return table, keys
}

func TestResolveClassicTable(t *testing.T) {
	data := simpleFile()
	table, trailerKeys := resolve(t, data, Config{})
	if !trailerKeys["Root"] {
		t.Fatalf("trailer lost /Root")
	}
	want := []int{1, 2, 3}
	if diff := cmp.Diff(want, table.Objects()); diff != "" {
		t.Fatalf("object set mismatch (-want +got):\n%s", diff)
	}
	for _, num := range want {
		entry, ok := table.Lookup(num)
		if !ok || entry.InStream {
			t.Fatalf("object %d: entry %+v, ok=%v", num, entry, ok)
		}
		if !bytes.HasPrefix(data[entry.Offset:], []byte(fmt.Sprintf("%d 0 obj", num))) {
			t.Fatalf("object %d offset %d points at %q", num, entry.Offset,
				data[entry.Offset:entry.Offset+10])
		}
	}
}

func TestResolvePrevChainNewestWins(t *testing.T) {
	// base revision
	fb := newFileBuilder()
	fb.obj(1, "<< /Type /Catalog /Pages 2 0 R >>")
	fb.obj(2, "<< /Type /Pages /Kids [3 0 R] /Count 1 >>")
	fb.obj(3, "<< /Type /Page /Parent 2 0 R >>")
	base := fb.classicXRef(4, "")
	firstXRef := bytes.LastIndex(base, []byte("xref"))

	// incremental update replacing object 3
	var buf bytes.Buffer
	buf.Write(base)
	newOffset := buf.Len()
	buf.WriteString("3 0 obj\n<< /Type /Page /Parent 2 0 R /Rotate 90 >>\nendobj\n")
	updateXRef := buf.Len()
	fmt.Fprintf(&buf, "xref\n3 1\n%010d 00000 n \n", newOffset)
	fmt.Fprintf(&buf, "trailer\n<< /Size 4 /Root 1 0 R /Prev %d >>\nstartxref\n%d\n%%%%EOF\n",
		firstXRef, updateXRef)
	data := buf.Bytes()

	table, _ := resolve(t, data, Config{})
	entry, ok := table.Lookup(3)
	if !ok {
		t.Fatalf("object 3 missing")
	}
	if entry.Offset != int64(newOffset) {
		t.Fatalf("object 3 at %d, want updated offset %d", entry.Offset, newOffset)
	}
	// untouched objects still come from the base revision
	if entry, ok := table.Lookup(1); !ok || !bytes.HasPrefix(data[entry.Offset:], []byte("1 0 obj")) {
		t.Fatalf("object 1 lost across /Prev chain: %+v ok=%v", entry, ok)
	}
}

func TestResolveFreedObjectStaysFree(t *testing.T) {
	// update frees object 3; the base revision must not resurrect it
	fb := newFileBuilder()
	fb.obj(1, "<< /Type /Catalog /Pages 2 0 R >>")
	fb.obj(2, "<< /Type /Pages /Kids [] /Count 0 >>")
	fb.obj(3, "<< /Old true >>")
	base := fb.classicXRef(4, "")
	firstXRef := bytes.LastIndex(base, []byte("xref"))

	var buf bytes.Buffer
	buf.Write(base)
	updateXRef := buf.Len()
	buf.WriteString("xref\n3 1\n0000000000 00001 f \n")
	fmt.Fprintf(&buf, "trailer\n<< /Size 4 /Root 1 0 R /Prev %d >>\nstartxref\n%d\n%%%%EOF\n",
		firstXRef, updateXRef)

	table, _ := resolve(t, buf.Bytes(), Config{})
	if _, ok := table.Lookup(3); ok {
		t.Fatalf("freed object 3 resurrected from older revision")
	}
}

func TestResolveXRefStream(t *testing.T) {
	fb := newFileBuilder()
	fb.obj(1, "<< /Type /Catalog /Pages 2 0 R >>")
	fb.obj(2, "<< /Type /Pages /Kids [] /Count 0 >>")

	// the xref stream describes itself, so its offset is fixed first
	streamOffset := int64(fb.buf.Len())
	streamNum := 3
	var entries bytes.Buffer
	writeEntry := func(typ byte, field2 int64, field3 int) {
		entries.WriteByte(typ)
		entries.WriteByte(byte(field2 >> 8))
		entries.WriteByte(byte(field2))
		entries.WriteByte(byte(field3))
	}
	writeEntry(0, 0, 255) // object 0: free
	writeEntry(1, fb.offsets[1], 0)
	writeEntry(1, fb.offsets[2], 0)
	writeEntry(1, streamOffset, 0)

	payload := entries.Bytes()
	fmt.Fprintf(&fb.buf, "%d 0 obj\n<< /Type /XRef /Size 4 /W [1 2 1] /Root 1 0 R /Length %d >>\nstream\n",
		streamNum, len(payload))
	fb.buf.Write(payload)
	fb.buf.WriteString("\nendstream\nendobj\n")
	fmt.Fprintf(&fb.buf, "startxref\n%d\n%%%%EOF\n", streamOffset)
	data := fb.buf.Bytes()

	table, trailerKeys := resolve(t, data, Config{Limits: filters.Limits{}})
	if !trailerKeys["Root"] {
		t.Fatalf("xref stream dict lost /Root")
	}
	for num := 1; num <= 3; num++ {
		entry, ok := table.Lookup(num)
		if !ok {
			t.Fatalf("object %d missing from xref stream table", num)
		}
		if !bytes.HasPrefix(data[entry.Offset:], []byte(fmt.Sprintf("%d 0 obj", num))) {
			t.Fatalf("object %d offset %d wrong", num, entry.Offset)
		}
	}
}

func TestRepairFallbackOnBrokenStartXRef(t *testing.T) {
	data := simpleFile()
	// point startxref into the middle of nowhere
	broken := bytes.Replace(data, []byte("startxref\n"), []byte("startxref\n999999\n%stale:"), 1)

	table, trailerKeys := resolve(t, broken, Config{})
	if table.Len() != 3 {
		t.Fatalf("repair found %d objects, want 3", table.Len())
	}
	if !trailerKeys["Root"] {
		t.Fatalf("repair lost trailer /Root")
	}
}

func TestRepairLastDefinitionWins(t *testing.T) {
	var buf bytes.Buffer
	buf.WriteString("%PDF-1.4\n")
	buf.WriteString("1 0 obj\n<< /Type /Catalog /Pages 2 0 R >>\nendobj\n")
	buf.WriteString("2 0 obj\n<< /Old true >>\nendobj\n")
	second := buf.Len()
	buf.WriteString("2 0 obj\n<< /Type /Pages /Kids [] /Count 0 >>\nendobj\n")
	buf.WriteString("trailer\n<< /Size 3 /Root 1 0 R >>\n")
	data := buf.Bytes()

	table, _, err := Repair(context.Background(), bytes.NewReader(data), Config{})
	if err != nil {
		t.Fatalf("Repair: %v", err)
	}
	entry, ok := table.Lookup(2)
	if !ok || entry.Offset != int64(second) {
		t.Fatalf("object 2 at %+v, want offset %d", entry, second)
	}
}

func TestResolveCorruptBothWays(t *testing.T) {
	data := []byte("%PDF-1.7\nthis file has no xref and no objects\n")
	_, _, err := Resolve(context.Background(), bytes.NewReader(data), int64(len(data)), Config{})
	if !errors.Is(err, ErrCorruptXRef) {
		t.Fatalf("got %v, want ErrCorruptXRef", err)
	}
}
