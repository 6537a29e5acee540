// Package xref locates and decodes cross-reference information: classic
// tables, cross-reference streams (PDF 1.5+), hybrid files carrying both,
// and — when all of that is damaged — a full-file repair scan.
package xref

import (
	"errors"
	"sort"
)

// ErrCorruptXRef reports that no usable cross-reference information could
// be recovered, even by the repair scan.
var ErrCorruptXRef = errors.New("corrupt cross-reference data")

// Entry locates one indirect object.
type Entry struct {
	// Offset is the byte position of "N G obj" for in-file objects.
	Offset int64
	Gen    int
	// InStream marks objects stored inside an object stream; StreamNum
	// and StreamIdx locate them there and Offset/Gen are meaningless.
	InStream  bool
	StreamNum int
	StreamIdx int
}

// Table maps object numbers to their locations.
type Table struct {
	entries map[int]Entry
	freed   map[int]bool
}

func newTable() *Table {
	return &Table{entries: make(map[int]Entry), freed: make(map[int]bool)}
}

// Lookup returns the entry for an object number.
func (t *Table) Lookup(num int) (Entry, bool) {
	e, ok := t.entries[num]
	return e, ok
}

// Objects lists all known object numbers in ascending order.
func (t *Table) Objects() []int {
	out := make([]int, 0, len(t.entries))
	for num := range t.entries {
		out = append(out, num)
	}
	sort.Ints(out)
	return out
}

func (t *Table) Len() int { return len(t.entries) }

// add records an entry unless the object is already known or freed by a
// newer section. Sections are processed newest-first, so the first sighting
// wins.
func (t *Table) add(num int, e Entry) {
	if t.freed[num] {
		return
	}
	if _, ok := t.entries[num]; !ok {
		t.entries[num] = e
	}
}

// markFree records a deletion so older sections cannot resurrect the
// object.
func (t *Table) markFree(num int) {
	if _, ok := t.entries[num]; !ok {
		t.freed[num] = true
	}
}

// put records an entry unconditionally, newest sighting wins. Used by the
// repair scan, which walks the file front to back.
func (t *Table) put(num int, e Entry) { t.entries[num] = e }
