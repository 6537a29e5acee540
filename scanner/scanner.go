// Package scanner turns raw PDF bytes into a stream of typed tokens.
//
// The scanner reads lazily from an io.ReaderAt in fixed-size windows, so
// callers can seek to xref offsets without paying for the whole file up
// front. Damage handling is delegated to a recovery.Strategy; with no
// strategy installed every defect is fatal and wrapped in
// ErrMalformedSyntax.
package scanner

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strconv"

	"pdfmill/recovery"
)

// ErrMalformedSyntax reports a lexical defect the recovery strategy chose
// not to repair.
var ErrMalformedSyntax = errors.New("malformed PDF syntax")

type TokenType int

const (
	TokenDict    TokenType = iota // '<<'
	TokenDictEnd                  // '>>'
	TokenArray                    // '['
	TokenArrayEnd                 // ']'
	TokenName                     // /Name
	TokenString                   // literal or hex string
	TokenNumber                   // integer or real
	TokenBoolean                  // true / false
	TokenNull                     // null
	TokenRef                      // N G R
	TokenStream                   // raw stream payload
	TokenKeyword                  // obj, endobj, endstream, trailer, ...
)

// Token is one lexical unit. Pos is the byte offset of its first byte.
type Token struct {
	Type  TokenType
	Pos   int64
	Str   string  // TokenName (decoded), TokenKeyword
	Int   int64   // TokenNumber (IsInt), TokenRef object number
	Float float64 // TokenNumber (!IsInt)
	IsInt bool
	Bool  bool   // TokenBoolean
	Bytes []byte // TokenString (decoded), TokenStream (raw payload)
	Gen   int    // TokenRef generation
}

// Config bounds resource use during scanning. Zero values mean unlimited
// (or the package default, where one is noted).
type Config struct {
	MaxStringLength int64 // longest decoded string
	MaxStreamLength int64 // longest stream payload
	MaxStreamScan   int64 // how far to search for endstream without a Length
	MaxArrayDepth   int   // deepest array nesting, default 512, negative unlimited
	MaxDictDepth    int   // deepest dictionary nesting, default 512, negative unlimited
	WindowSize      int64 // read-ahead chunk size, default 64 KiB
	Recovery        recovery.Strategy
}

// defaultMaxDepth bounds nesting when the caller does not. Consumers
// recurse once per level, so unlimited depth lets a small hostile input
// exhaust the stack.
const defaultMaxDepth = 512

// Scanner produces tokens from an underlying byte source.
type Scanner interface {
	Next() (Token, error)
	Position() int64
	SeekTo(offset int64) error
	// SetNextStreamLength tells the scanner the declared /Length of the
	// next stream keyword it encounters. Negative clears the hint.
	SetNextStreamLength(n int64)
	// SetLocation attaches object context to recovery reports.
	SetLocation(loc recovery.Location)
}

type pdfScanner struct {
	reader        io.ReaderAt
	data          []byte
	pos           int64
	cfg           Config
	chunkSize     int64
	eof           bool
	nextStreamLen int64
	loc           recovery.Location
	arrayDepth    int
	dictDepth     int
}

// New returns a scanner over r. The reader is buffered incrementally; it is
// never read past what tokenization requires.
func New(r io.ReaderAt, cfg Config) Scanner {
	chunk := cfg.WindowSize
	if chunk <= 0 {
		chunk = 64 * 1024
	}
	if cfg.MaxArrayDepth == 0 {
		cfg.MaxArrayDepth = defaultMaxDepth
	}
	if cfg.MaxDictDepth == 0 {
		cfg.MaxDictDepth = defaultMaxDepth
	}
	return &pdfScanner{reader: r, cfg: cfg, chunkSize: chunk, nextStreamLen: -1}
}

func (s *pdfScanner) Position() int64 { return s.pos }

func (s *pdfScanner) SeekTo(offset int64) error {
	if offset < 0 {
		return fmt.Errorf("%w: seek to negative offset %d", ErrMalformedSyntax, offset)
	}
	if err := s.ensure(offset); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	if offset > int64(len(s.data)) {
		return fmt.Errorf("%w: seek past EOF (offset %d)", ErrMalformedSyntax, offset)
	}
	s.pos = offset
	// a seek starts a fresh syntactic context
	s.arrayDepth = 0
	s.dictDepth = 0
	return nil
}

func (s *pdfScanner) SetNextStreamLength(n int64)       { s.nextStreamLen = n }
func (s *pdfScanner) SetLocation(loc recovery.Location) { s.loc = loc }

func (s *pdfScanner) Next() (Token, error) {
	tok, err := s.next()
	if err != nil {
		return Token{}, err
	}
	// Nesting is tracked here so every consumer that recurses per level
	// stays stack-bounded.
	switch tok.Type {
	case TokenArray:
		s.arrayDepth++
		if s.cfg.MaxArrayDepth > 0 && s.arrayDepth > s.cfg.MaxArrayDepth {
			return Token{}, s.hardFail(tok.Pos, "array nesting exceeds limit")
		}
	case TokenArrayEnd:
		if s.arrayDepth > 0 {
			s.arrayDepth--
		}
	case TokenDict:
		s.dictDepth++
		if s.cfg.MaxDictDepth > 0 && s.dictDepth > s.cfg.MaxDictDepth {
			return Token{}, s.hardFail(tok.Pos, "dictionary nesting exceeds limit")
		}
	case TokenDictEnd:
		if s.dictDepth > 0 {
			s.dictDepth--
		}
	}
	return tok, nil
}

func (s *pdfScanner) next() (Token, error) {
	if err := s.skipWSAndComments(); err != nil {
		return Token{}, err
	}
	start := s.pos
	c := s.data[s.pos]
	switch c {
	case '<':
		if s.peek(1) == '<' {
			s.pos += 2
			return Token{Type: TokenDict, Pos: start}, nil
		}
		return s.scanHexString()
	case '>':
		if s.peek(1) == '>' {
			s.pos += 2
			return Token{Type: TokenDictEnd, Pos: start}, nil
		}
		s.pos++
		if err := s.fail(start, "stray '>'"); err != nil {
			return Token{}, err
		}
		return s.next()
	case '[':
		s.pos++
		return Token{Type: TokenArray, Pos: start}, nil
	case ']':
		s.pos++
		return Token{Type: TokenArrayEnd, Pos: start}, nil
	case '(':
		return s.scanLiteralString()
	case '/':
		return s.scanName()
	case ')', '{', '}':
		s.pos++
		if err := s.fail(start, "unexpected delimiter %q", c); err != nil {
			return Token{}, err
		}
		return s.next()
	}
	if isNumberStart(c) {
		return s.scanNumberOrRef()
	}
	return s.scanKeyword()
}

// skipWSAndComments positions s.pos on the next token byte. Returns io.EOF
// when no token remains.
func (s *pdfScanner) skipWSAndComments() error {
	for {
		if err := s.ensure(s.pos); err != nil {
			return err
		}
		if s.pos >= int64(len(s.data)) {
			return io.EOF
		}
		c := s.data[s.pos]
		if isWhitespace(c) {
			s.pos++
			continue
		}
		if c == '%' {
			for {
				s.pos++
				if err := s.ensure(s.pos); err != nil || s.pos >= int64(len(s.data)) {
					return io.EOF
				}
				if isEOL(s.data[s.pos]) {
					break
				}
			}
			continue
		}
		return nil
	}
}

func (s *pdfScanner) ensure(n int64) error {
	for int64(len(s.data)) <= n {
		if s.eof {
			return io.EOF
		}
		buf := make([]byte, s.chunkSize)
		got, err := s.reader.ReadAt(buf, int64(len(s.data)))
		if got > 0 {
			s.data = append(s.data, buf[:got]...)
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				s.eof = true
				continue
			}
			return err
		}
		if got == 0 {
			s.eof = true
		}
	}
	return nil
}

func (s *pdfScanner) peek(n int64) byte {
	if s.ensure(s.pos+n) != nil || s.pos+n >= int64(len(s.data)) {
		return 0
	}
	return s.data[s.pos+n]
}

// atEnd reports whether the cursor has consumed every available byte.
func (s *pdfScanner) atEnd() bool {
	return s.ensure(s.pos) != nil || s.pos >= int64(len(s.data))
}

func (s *pdfScanner) scanName() (Token, error) {
	start := s.pos
	s.pos++ // '/'
	var out bytes.Buffer
	for !s.atEnd() {
		c := s.data[s.pos]
		if isDelimiter(c) {
			break
		}
		if c == '#' {
			// #xx hex escape inside a name
			s.pos++
			hi, okHi := s.hexNibble()
			lo, okLo := s.hexNibble()
			if !okHi || !okLo {
				if err := s.fail(start, "bad hex escape in name"); err != nil {
					return Token{}, err
				}
				continue
			}
			out.WriteByte(hi<<4 | lo)
			continue
		}
		out.WriteByte(c)
		s.pos++
	}
	return Token{Type: TokenName, Pos: start, Str: out.String()}, nil
}

func (s *pdfScanner) hexNibble() (byte, bool) {
	if s.atEnd() {
		return 0, false
	}
	c := s.data[s.pos]
	v, ok := fromHex(c)
	if !ok {
		return 0, false
	}
	s.pos++
	return v, true
}

func fromHex(c byte) (byte, bool) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', true
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10, true
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10, true
	}
	return 0, false
}

func (s *pdfScanner) scanLiteralString() (Token, error) {
	start := s.pos
	s.pos++ // '('
	var buf bytes.Buffer
	depth := 1
	for {
		if s.atEnd() {
			// unterminated string at EOF
			if err := s.fail(start, "unterminated literal string"); err != nil {
				return Token{}, err
			}
			break
		}
		c := s.data[s.pos]
		switch c {
		case '\\':
			s.pos++
			if s.atEnd() {
				if err := s.fail(start, "dangling escape at EOF"); err != nil {
					return Token{}, err
				}
				continue
			}
			esc := s.data[s.pos]
			switch {
			case esc == '\r':
				// line continuation, swallow optional LF
				s.pos++
				if !s.atEnd() && s.data[s.pos] == '\n' {
					s.pos++
				}
			case esc == '\n':
				s.pos++
			case esc >= '0' && esc <= '7':
				val := int(esc - '0')
				s.pos++
				for k := 0; k < 2 && !s.atEnd(); k++ {
					d := s.data[s.pos]
					if d < '0' || d > '7' {
						break
					}
					val = val<<3 | int(d-'0')
					s.pos++
				}
				buf.WriteByte(byte(val))
			default:
				buf.WriteByte(translateEscape(esc))
				s.pos++
			}
		case '(':
			depth++
			buf.WriteByte(c)
			s.pos++
		case ')':
			depth--
			s.pos++
			if depth == 0 {
				return Token{Type: TokenString, Pos: start, Bytes: buf.Bytes()}, nil
			}
			buf.WriteByte(c)
		default:
			buf.WriteByte(c)
			s.pos++
		}
		if s.cfg.MaxStringLength > 0 && int64(buf.Len()) > s.cfg.MaxStringLength {
			return Token{}, s.hardFail(start, "literal string exceeds limit")
		}
	}
	return Token{Type: TokenString, Pos: start, Bytes: buf.Bytes()}, nil
}

func translateEscape(c byte) byte {
	switch c {
	case 'n':
		return '\n'
	case 'r':
		return '\r'
	case 't':
		return '\t'
	case 'b':
		return '\b'
	case 'f':
		return '\f'
	default:
		return c
	}
}

func (s *pdfScanner) scanHexString() (Token, error) {
	start := s.pos
	s.pos++ // '<'
	var nibbles []byte
	closed := false
	for !s.atEnd() {
		c := s.data[s.pos]
		if c == '>' {
			s.pos++
			closed = true
			break
		}
		if isWhitespace(c) {
			s.pos++
			continue
		}
		v, ok := fromHex(c)
		if !ok {
			if err := s.fail(start, "non-hex byte %q in hex string", c); err != nil {
				return Token{}, err
			}
			s.pos++
			continue
		}
		nibbles = append(nibbles, v)
		s.pos++
		if s.cfg.MaxStringLength > 0 && int64(len(nibbles)/2) > s.cfg.MaxStringLength {
			return Token{}, s.hardFail(start, "hex string exceeds limit")
		}
	}
	if !closed {
		if err := s.fail(start, "unterminated hex string"); err != nil {
			return Token{}, err
		}
	}
	if len(nibbles)%2 == 1 {
		nibbles = append(nibbles, 0) // odd count: pad final nibble with 0
	}
	out := make([]byte, 0, len(nibbles)/2)
	for i := 0; i < len(nibbles); i += 2 {
		out = append(out, nibbles[i]<<4|nibbles[i+1])
	}
	return Token{Type: TokenString, Pos: start, Bytes: out}, nil
}

func (s *pdfScanner) scanNumberOrRef() (Token, error) {
	start := s.pos
	first := s.scanNumeric()
	if first == "" {
		s.pos++
		if err := s.fail(start, "invalid number"); err != nil {
			return Token{}, err
		}
		return s.next()
	}

	// "N G R" lookahead: two non-negative integers followed by lone R.
	if isPlainInt(first) {
		save := s.pos
		if err := s.skipWSAndComments(); err != nil && !errors.Is(err, io.EOF) {
			return Token{}, err
		}
		secondStart := s.pos
		second := s.scanNumeric()
		if isPlainInt(second) {
			if err := s.skipWSAndComments(); err != nil && !errors.Is(err, io.EOF) {
				return Token{}, err
			}
			if !s.atEnd() && s.data[s.pos] == 'R' && isDelimiter(s.peek(1)) {
				s.pos++
				num, _ := strconv.ParseInt(first, 10, 64)
				gen, _ := strconv.Atoi(second)
				return Token{Type: TokenRef, Pos: start, Int: num, Gen: gen}, nil
			}
		}
		if second != "" {
			s.pos = secondStart // second number belongs to the next token
		} else {
			s.pos = save
		}
	}

	if i, err := strconv.ParseInt(first, 10, 64); err == nil {
		return Token{Type: TokenNumber, Pos: start, Int: i, IsInt: true}, nil
	}
	f, err := strconv.ParseFloat(normalizeReal(first), 64)
	if err != nil {
		if ferr := s.fail(start, "unparseable number %q", first); ferr != nil {
			return Token{}, ferr
		}
		return s.next()
	}
	return Token{Type: TokenNumber, Pos: start, Float: f}, nil
}

func (s *pdfScanner) scanNumeric() string {
	start := s.pos
	var buf bytes.Buffer
	seenDigit := false
	for !s.atEnd() {
		c := s.data[s.pos]
		if c == '+' || c == '-' || c == '.' || (c >= '0' && c <= '9') {
			if c >= '0' && c <= '9' {
				seenDigit = true
			}
			buf.WriteByte(c)
			s.pos++
			continue
		}
		break
	}
	if !seenDigit {
		s.pos = start
		return ""
	}
	return buf.String()
}

func isPlainInt(str string) bool {
	if str == "" {
		return false
	}
	for i := 0; i < len(str); i++ {
		if str[i] < '0' || str[i] > '9' {
			return false
		}
	}
	return true
}

// normalizeReal fixes the real-number notations strconv rejects but the PDF
// grammar allows ("4." and ".5" and "-.002").
func normalizeReal(str string) string {
	if len(str) > 0 && str[len(str)-1] == '.' {
		return str + "0"
	}
	return str
}

func (s *pdfScanner) scanKeyword() (Token, error) {
	start := s.pos
	var buf bytes.Buffer
	for !s.atEnd() {
		c := s.data[s.pos]
		if isDelimiter(c) {
			break
		}
		buf.WriteByte(c)
		s.pos++
	}
	if buf.Len() == 0 {
		c := s.data[s.pos]
		s.pos++
		if err := s.fail(start, "unexpected byte 0x%02x", c); err != nil {
			return Token{}, err
		}
		return s.next()
	}
	kw := buf.String()
	switch kw {
	case "true", "false":
		return Token{Type: TokenBoolean, Pos: start, Bool: kw == "true"}, nil
	case "null":
		return Token{Type: TokenNull, Pos: start}, nil
	case "stream":
		return s.scanStream(start)
	default:
		return Token{Type: TokenKeyword, Pos: start, Str: kw}, nil
	}
}

var endstream = []byte("endstream")

// scanStream consumes the payload following a stream keyword. When the
// caller supplied the declared /Length via SetNextStreamLength the payload
// is taken verbatim; otherwise the scanner searches for a plausible
// endstream marker.
func (s *pdfScanner) scanStream(start int64) (Token, error) {
	declared := s.nextStreamLen
	s.nextStreamLen = -1

	// the keyword must be followed by LF or CRLF before the data
	if !s.atEnd() {
		switch s.data[s.pos] {
		case '\r':
			s.pos++
			if !s.atEnd() && s.data[s.pos] == '\n' {
				s.pos++
			}
		case '\n':
			s.pos++
		default:
			if err := s.fail(start, "stream keyword not followed by EOL"); err != nil {
				return Token{}, err
			}
		}
	}
	dataStart := s.pos

	if declared >= 0 {
		if s.cfg.MaxStreamLength > 0 && declared > s.cfg.MaxStreamLength {
			return Token{}, s.hardFail(start, "declared stream length exceeds limit")
		}
		if err := s.ensure(dataStart + declared); err != nil && !errors.Is(err, io.EOF) {
			return Token{}, err
		}
		end := dataStart + declared
		if end > int64(len(s.data)) {
			if err := s.fail(start, "stream truncated before declared length"); err != nil {
				return Token{}, err
			}
			end = int64(len(s.data))
		}
		payload := append([]byte(nil), s.data[dataStart:end]...)
		s.pos = end
		s.consumeEndstream()
		return Token{Type: TokenStream, Pos: start, Bytes: payload}, nil
	}

	// No declared length: search for an endstream marker on a whitespace
	// boundary.
	for i := dataStart; ; i++ {
		if err := s.ensure(i + int64(len(endstream))); err != nil && !errors.Is(err, io.EOF) {
			return Token{}, err
		}
		if i+int64(len(endstream)) > int64(len(s.data)) {
			if err := s.fail(start, "endstream not found"); err != nil {
				return Token{}, err
			}
			payload := append([]byte(nil), s.data[dataStart:]...)
			s.pos = int64(len(s.data))
			return Token{Type: TokenStream, Pos: start, Bytes: payload}, nil
		}
		if s.cfg.MaxStreamScan > 0 && i-dataStart > s.cfg.MaxStreamScan {
			return Token{}, s.hardFail(start, "endstream not found within scan limit")
		}
		if s.data[i] != 'e' || !bytes.Equal(s.data[i:i+int64(len(endstream))], endstream) {
			continue
		}
		prevOK := i == dataStart || isWhitespace(s.data[i-1])
		after := i + int64(len(endstream))
		followOK := after >= int64(len(s.data)) || isDelimiter(s.data[after])
		if !prevOK || !followOK {
			continue
		}
		end := i
		// the EOL before the marker belongs to the syntax, not the data
		if end > dataStart && s.data[end-1] == '\n' {
			end--
		}
		if end > dataStart && s.data[end-1] == '\r' {
			end--
		}
		if s.cfg.MaxStreamLength > 0 && end-dataStart > s.cfg.MaxStreamLength {
			return Token{}, s.hardFail(start, "stream exceeds length limit")
		}
		payload := append([]byte(nil), s.data[dataStart:end]...)
		s.pos = after
		return Token{Type: TokenStream, Pos: start, Bytes: payload}, nil
	}
}

// consumeEndstream skips the optional EOL and the endstream keyword after a
// counted payload. A missing keyword is repaired by searching forward.
func (s *pdfScanner) consumeEndstream() {
	if !s.atEnd() && s.data[s.pos] == '\r' {
		s.pos++
	}
	if !s.atEnd() && s.data[s.pos] == '\n' {
		s.pos++
	}
	if s.ensure(s.pos+int64(len(endstream))) == nil &&
		s.pos+int64(len(endstream)) <= int64(len(s.data)) &&
		bytes.Equal(s.data[s.pos:s.pos+int64(len(endstream))], endstream) {
		s.pos += int64(len(endstream))
		return
	}
	if idx := bytes.Index(s.data[s.pos:], endstream); idx >= 0 {
		s.pos += int64(idx + len(endstream))
	}
}

// fail reports a repairable defect. It returns nil when the recovery
// strategy accepted the damage.
func (s *pdfScanner) fail(pos int64, format string, args ...interface{}) error {
	err := fmt.Errorf("%w: %s", ErrMalformedSyntax, fmt.Sprintf(format, args...))
	if s.cfg.Recovery == nil {
		return err
	}
	loc := s.loc
	loc.ByteOffset = pos
	if loc.Component == "" {
		loc.Component = "scanner"
	}
	switch s.cfg.Recovery.OnError(err, loc) {
	case recovery.ActionSkip, recovery.ActionFix:
		return nil
	default:
		return err
	}
}

// hardFail reports a resource-limit violation; those are never repairable.
func (s *pdfScanner) hardFail(pos int64, msg string) error {
	return fmt.Errorf("%w: %s (offset %d)", ErrMalformedSyntax, msg, pos)
}

func isWhitespace(c byte) bool {
	switch c {
	case 0x00, 0x09, 0x0A, 0x0C, 0x0D, 0x20:
		return true
	}
	return false
}

func isEOL(c byte) bool { return c == '\r' || c == '\n' }

func isDelimiter(c byte) bool {
	switch c {
	case '(', ')', '<', '>', '[', ']', '{', '}', '/', '%':
		return true
	}
	return isWhitespace(c)
}

func isNumberStart(c byte) bool {
	return c == '+' || c == '-' || c == '.' || (c >= '0' && c <= '9')
}
