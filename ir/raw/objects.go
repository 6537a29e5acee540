// Package raw holds the low-level PDF object model: the tagged value union,
// indirect object identity, and the Document container mapping references to
// live objects. Nothing here interprets document structure; the page-level
// view lives in pdfmill/pagetree.
package raw

import "fmt"

// Kind discriminates the value union.
type Kind int

const (
	KindNull Kind = iota
	KindBool
	KindNumber
	KindString
	KindName
	KindArray
	KindDict
	KindStream
	KindRef
)

// Object is one PDF value. The concrete types below form a closed set;
// switching over them (or over Kind) is exhaustive.
type Object interface {
	Kind() Kind
}

// Null is the PDF null object.
type Null struct{}

func (Null) Kind() Kind { return KindNull }

// Bool is a PDF boolean.
type Bool bool

func (Bool) Kind() Kind { return KindBool }

// Name is a PDF name without the leading slash, with #xx escapes decoded.
type Name string

func (Name) Kind() Kind { return KindName }

// Number is a PDF numeric value. PDF distinguishes integers from reals, and
// serialization must preserve the distinction, so both representations are
// kept.
type Number struct {
	I     int64
	F     float64
	IsInt bool
}

func (Number) Kind() Kind { return KindNumber }

// Int returns the value truncated to an integer.
func (n Number) Int() int64 {
	if n.IsInt {
		return n.I
	}
	return int64(n.F)
}

// Float returns the value widened to a float.
func (n Number) Float() float64 {
	if n.IsInt {
		return float64(n.I)
	}
	return n.F
}

// String is a PDF string. Hex records which notation the source used so a
// rewrite can keep it.
type String struct {
	Data []byte
	Hex  bool
}

func (String) Kind() Kind { return KindString }

// Array is an ordered sequence of values.
type Array struct {
	Items []Object
}

func (*Array) Kind() Kind { return KindArray }

func (a *Array) Len() int { return len(a.Items) }

func (a *Array) At(i int) Object {
	if i < 0 || i >= len(a.Items) {
		return Null{}
	}
	return a.Items[i]
}

func (a *Array) Append(items ...Object) { a.Items = append(a.Items, items...) }

// Dict maps names to values. Key order is not significant.
type Dict struct {
	KV map[Name]Object
}

func (*Dict) Kind() Kind { return KindDict }

func NewDict() *Dict { return &Dict{KV: make(map[Name]Object)} }

func (d *Dict) Get(key Name) (Object, bool) {
	obj, ok := d.KV[key]
	return obj, ok
}

func (d *Dict) Set(key Name, value Object) {
	if d.KV == nil {
		d.KV = make(map[Name]Object)
	}
	d.KV[key] = value
}

func (d *Dict) Delete(key Name) { delete(d.KV, key) }

func (d *Dict) Len() int { return len(d.KV) }

// Name returns the name value stored under key, or "" when absent or of
// another kind.
func (d *Dict) Name(key Name) Name {
	if n, ok := d.KV[key].(Name); ok {
		return n
	}
	return ""
}

// Stream is a dictionary with an attached byte payload. Data holds the
// payload exactly as it appeared between the stream keywords, still encoded
// by whatever /Filter chain the dictionary declares.
type Stream struct {
	Dict *Dict
	Data []byte
}

func (*Stream) Kind() Kind { return KindStream }

func NewStream(dict *Dict, data []byte) *Stream {
	if dict == nil {
		dict = NewDict()
	}
	dict.Set("Length", Int(int64(len(data))))
	return &Stream{Dict: dict, Data: data}
}

// Ref is an indirect object reference (and, as a map key, the identity of
// an indirect object).
type Ref struct {
	Num int
	Gen int
}

func (Ref) Kind() Kind { return KindRef }

func (r Ref) String() string { return fmt.Sprintf("%d %d R", r.Num, r.Gen) }

// IsZero reports whether r is the null reference.
func (r Ref) IsZero() bool { return r == Ref{} }

// Constructor shorthands.

func Int(i int64) Number     { return Number{I: i, IsInt: true} }
func Real(f float64) Number  { return Number{F: f} }
func Str(b []byte) String    { return String{Data: b} }
func NewArray(items ...Object) *Array {
	return &Array{Items: items}
}
