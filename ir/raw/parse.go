package raw

import (
	"fmt"

	"pdfmill/scanner"
)

// TokenSource is the part of scanner.Scanner that token-level parsing
// needs; bytes.Reader-backed scanners and test fakes satisfy it too.
type TokenSource interface {
	Next() (scanner.Token, error)
}

type streamLengthSetter interface{ SetNextStreamLength(int64) }

// TokenReader adds single-token pushback on top of a TokenSource, which is
// all the lookahead the PDF grammar requires.
type TokenReader struct {
	src    TokenSource
	buf    []scanner.Token
	setter streamLengthSetter
}

func NewTokenReader(src TokenSource) *TokenReader {
	tr := &TokenReader{src: src}
	if s, ok := src.(streamLengthSetter); ok {
		tr.setter = s
	}
	return tr
}

func (r *TokenReader) Next() (scanner.Token, error) {
	if n := len(r.buf); n > 0 {
		tok := r.buf[n-1]
		r.buf = r.buf[:n-1]
		return tok, nil
	}
	return r.src.Next()
}

func (r *TokenReader) Unread(tok scanner.Token) { r.buf = append(r.buf, tok) }

// SetStreamLengthHint forwards a declared /Length to the scanner so the
// next stream payload is taken verbatim instead of scanned for.
func (r *TokenReader) SetStreamLengthHint(n int64) {
	if r.setter != nil {
		r.setter.SetNextStreamLength(n)
	}
}

// ParseValue parses one complete value from the token stream. References
// are kept as Ref values, never followed; resolution is deferred to the
// owning Document so cyclic graphs parse without recursing.
func ParseValue(tr *TokenReader) (Object, error) {
	tok, err := tr.Next()
	if err != nil {
		return nil, err
	}
	switch tok.Type {
	case scanner.TokenName:
		return Name(tok.Str), nil
	case scanner.TokenNumber:
		if tok.IsInt {
			return Int(tok.Int), nil
		}
		return Real(tok.Float), nil
	case scanner.TokenBoolean:
		return Bool(tok.Bool), nil
	case scanner.TokenNull:
		return Null{}, nil
	case scanner.TokenString:
		return String{Data: tok.Bytes}, nil
	case scanner.TokenRef:
		return Ref{Num: int(tok.Int), Gen: tok.Gen}, nil
	case scanner.TokenArray:
		return parseArray(tr)
	case scanner.TokenDict:
		return parseDict(tr)
	}
	return nil, fmt.Errorf("%w: value cannot start with token %v", scanner.ErrMalformedSyntax, tok.Type)
}

func parseArray(tr *TokenReader) (Object, error) {
	arr := &Array{}
	for {
		tok, err := tr.Next()
		if err != nil {
			return nil, err
		}
		if tok.Type == scanner.TokenArrayEnd {
			return arr, nil
		}
		tr.Unread(tok)
		item, err := ParseValue(tr)
		if err != nil {
			return nil, err
		}
		arr.Append(item)
	}
}

func parseDict(tr *TokenReader) (Object, error) {
	d := NewDict()
	for {
		tok, err := tr.Next()
		if err != nil {
			return nil, err
		}
		if tok.Type == scanner.TokenDictEnd {
			return d, nil
		}
		if tok.Type != scanner.TokenName {
			// A dict closed by endobj instead of >> is common damage;
			// hand the keyword back and accept the dict as-is.
			if tok.Type == scanner.TokenKeyword && tok.Str == "endobj" {
				tr.Unread(tok)
				return d, nil
			}
			return nil, fmt.Errorf("%w: dictionary key must be a name, got token %v", scanner.ErrMalformedSyntax, tok.Type)
		}
		val, err := ParseValue(tr)
		if err != nil {
			return nil, err
		}
		d.Set(Name(tok.Str), val)
	}
}
