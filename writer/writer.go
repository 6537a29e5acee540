// Package writer serializes a raw document back to PDF bytes. Objects are
// renumbered into a dense 1..n range in a deterministic traversal order,
// and anything unreachable from the trailer is dropped.
package writer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"

	"pdfmill/ir/raw"
	"pdfmill/observability"
)

// ErrUnresolvableReference reports a reference encountered during
// serialization that the reachability walk never numbered. The object
// graph must not be mutated between Save's walk and emit phases.
var ErrUnresolvableReference = errors.New("reference to unnumbered object")

// Config carries writer options. The zero value is valid.
type Config struct {
	// Log receives a summary line per saved document. Defaults to the
	// nop logger.
	Log observability.Logger
}

// Writer serializes documents. Safe for use from multiple goroutines.
type Writer struct {
	log observability.Logger
}

// New creates a Writer.
func New(cfg Config) *Writer {
	log := cfg.Log
	if log == nil {
		log = observability.NopLogger{}
	}
	return &Writer{log: log}
}

// Save produces the complete PDF file image of doc. Output is
// byte-identical for identical object graphs.
func (w *Writer) Save(ctx context.Context, doc *raw.Document) ([]byte, error) {
	s := &saver{doc: doc, renum: make(map[raw.Ref]int)}

	// The walk discovers every reachable object, assigning numbers in
	// encounter order. Trailer /Root first, then /Info.
	rootRef, ok := doc.Trailer.KV["Root"].(raw.Ref)
	if !ok {
		return nil, fmt.Errorf("trailer has no /Root reference")
	}
	s.enqueue(rootRef)
	infoRef, hasInfo := doc.Trailer.KV["Info"].(raw.Ref)
	if hasInfo {
		s.enqueue(infoRef)
	}
	for len(s.queue) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		ref := s.queue[0]
		s.queue = s.queue[1:]
		obj, ok := doc.Get(ref)
		if !ok {
			// Lenient parsing may leave dangling references behind.
			// They keep their number and serialize as null bodies.
			continue
		}
		s.walk(obj)
	}

	var buf bytes.Buffer
	version := doc.Version
	if version == "" {
		version = "1.7"
	}
	fmt.Fprintf(&buf, "%%PDF-%s\n", version)
	// binary marker so transports treat the file as 8-bit data
	buf.Write([]byte{'%', 0xE2, 0xE3, 0xCF, 0xD3, '\n'})

	offsets := make([]int64, len(s.order)+1)
	for i, ref := range s.order {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		num := i + 1
		offsets[num] = int64(buf.Len())
		fmt.Fprintf(&buf, "%d 0 obj\n", num)
		obj, ok := doc.Get(ref)
		if !ok {
			obj = raw.Null{}
		}
		if err := s.emit(&buf, obj); err != nil {
			return nil, err
		}
		buf.WriteString("\nendobj\n")
	}

	xrefOffset := int64(buf.Len())
	size := len(s.order) + 1
	fmt.Fprintf(&buf, "xref\n0 %d\n", size)
	buf.WriteString("0000000000 65535 f \n")
	for num := 1; num < size; num++ {
		fmt.Fprintf(&buf, "%010d 00000 n \n", offsets[num])
	}

	trailer := raw.NewDict()
	trailer.Set("Size", raw.Int(int64(size)))
	trailer.Set("Root", rootRef)
	if hasInfo {
		trailer.Set("Info", infoRef)
	}
	if id, ok := doc.Trailer.Get("ID"); ok {
		if arr, ok := id.(*raw.Array); ok {
			trailer.Set("ID", arr)
		}
	}
	buf.WriteString("trailer\n")
	if err := s.emit(&buf, trailer); err != nil {
		return nil, err
	}
	fmt.Fprintf(&buf, "\nstartxref\n%d\n%%%%EOF\n", xrefOffset)

	w.log.Debug("document saved",
		observability.Int("objects", len(s.order)),
		observability.Int("bytes", buf.Len()))
	return buf.Bytes(), nil
}

type saver struct {
	doc   *raw.Document
	renum map[raw.Ref]int
	order []raw.Ref
	queue []raw.Ref
}

func (s *saver) enqueue(ref raw.Ref) {
	if _, seen := s.renum[ref]; seen {
		return
	}
	s.order = append(s.order, ref)
	s.renum[ref] = len(s.order)
	s.queue = append(s.queue, ref)
}

// walk discovers references inside obj. Dictionary keys are visited in
// sorted order so numbering is stable.
func (s *saver) walk(obj raw.Object) {
	switch v := obj.(type) {
	case raw.Ref:
		s.enqueue(v)
	case *raw.Array:
		for _, item := range v.Items {
			s.walk(item)
		}
	case *raw.Dict:
		for _, key := range sortedKeys(v) {
			s.walk(v.KV[key])
		}
	case *raw.Stream:
		s.walk(v.Dict)
	}
}

func sortedKeys(d *raw.Dict) []raw.Name {
	keys := make([]raw.Name, 0, len(d.KV))
	for key := range d.KV {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

// emit writes the serialized form of obj.
func (s *saver) emit(buf *bytes.Buffer, obj raw.Object) error {
	switch v := obj.(type) {
	case nil, raw.Null:
		buf.WriteString("null")
	case raw.Bool:
		if v {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
	case raw.Number:
		if v.IsInt {
			buf.WriteString(strconv.FormatInt(v.I, 10))
		} else {
			buf.WriteString(strconv.FormatFloat(v.F, 'f', -1, 64))
		}
	case raw.Name:
		emitName(buf, v)
	case raw.String:
		emitString(buf, v)
	case raw.Ref:
		num, ok := s.renum[v]
		if !ok {
			return fmt.Errorf("%w: %s", ErrUnresolvableReference, v)
		}
		fmt.Fprintf(buf, "%d 0 R", num)
	case *raw.Array:
		buf.WriteByte('[')
		for i, item := range v.Items {
			if i > 0 {
				buf.WriteByte(' ')
			}
			if err := s.emit(buf, item); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	case *raw.Dict:
		return s.emitDict(buf, v)
	case *raw.Stream:
		// the corrected /Length goes into a scratch view; Save must not
		// mutate the document it serializes
		dict := raw.NewDict()
		for key, val := range v.Dict.KV {
			dict.Set(key, val)
		}
		dict.Set("Length", raw.Int(int64(len(v.Data))))
		if err := s.emitDict(buf, dict); err != nil {
			return err
		}
		buf.WriteString("\nstream\n")
		buf.Write(v.Data)
		buf.WriteString("\nendstream")
	default:
		return fmt.Errorf("cannot serialize %T", obj)
	}
	return nil
}

func (s *saver) emitDict(buf *bytes.Buffer, d *raw.Dict) error {
	buf.WriteString("<<")
	for _, key := range sortedKeys(d) {
		buf.WriteByte(' ')
		emitName(buf, key)
		buf.WriteByte(' ')
		if err := s.emit(buf, d.KV[key]); err != nil {
			return err
		}
	}
	buf.WriteString(" >>")
	return nil
}

func emitName(buf *bytes.Buffer, name raw.Name) {
	buf.WriteByte('/')
	for i := 0; i < len(name); i++ {
		c := name[i]
		if c <= ' ' || c > '~' || c == '#' || isDelimiter(c) {
			fmt.Fprintf(buf, "#%02X", c)
		} else {
			buf.WriteByte(c)
		}
	}
}

func isDelimiter(c byte) bool {
	switch c {
	case '(', ')', '<', '>', '[', ']', '{', '}', '/', '%':
		return true
	}
	return false
}

func emitString(buf *bytes.Buffer, s raw.String) {
	if s.Hex {
		buf.WriteByte('<')
		const hexDigits = "0123456789ABCDEF"
		for _, c := range s.Data {
			buf.WriteByte(hexDigits[c>>4])
			buf.WriteByte(hexDigits[c&0x0F])
		}
		buf.WriteByte('>')
		return
	}
	buf.WriteByte('(')
	for _, c := range s.Data {
		switch c {
		case '(', ')', '\\':
			buf.WriteByte('\\')
			buf.WriteByte(c)
		case '\n':
			buf.WriteString(`\n`)
		case '\r':
			buf.WriteString(`\r`)
		case '\t':
			buf.WriteString(`\t`)
		default:
			if c < ' ' || c > '~' {
				fmt.Fprintf(buf, "\\%03o", c)
			} else {
				buf.WriteByte(c)
			}
		}
	}
	buf.WriteByte(')')
}
