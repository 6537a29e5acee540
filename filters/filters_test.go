package filters

import (
	"bytes"
	"context"
	"encoding/ascii85"
	"testing"

	"pdfmill/ir/raw"
)

func decodeOne(t *testing.T, p *Pipeline, data []byte, name string, parms *raw.Dict) []byte {
	t.Helper()
	out, err := p.Decode(context.Background(), data, []string{name}, []*raw.Dict{parms})
	if err != nil {
		t.Fatalf("%s decode: %v", name, err)
	}
	return out
}

func TestFlateRoundTrip(t *testing.T) {
	p := NewPipeline(Limits{})
	plain := []byte("the quick brown fox jumps over the lazy dog, twice over")
	out := decodeOne(t, p, Deflate(plain), "FlateDecode", nil)
	if !bytes.Equal(out, plain) {
		t.Fatalf("round trip mismatch: %q", out)
	}
}

func TestFlateAbbreviatedName(t *testing.T) {
	p := NewPipeline(Limits{})
	plain := []byte("abbreviated filter name")
	out := decodeOne(t, p, Deflate(plain), "Fl", nil)
	if !bytes.Equal(out, plain) {
		t.Fatalf("round trip mismatch: %q", out)
	}
}

func TestASCIIHexDecode(t *testing.T) {
	p := NewPipeline(Limits{})
	out := decodeOne(t, p, []byte("48 65 6c 6C 6F>"), "ASCIIHexDecode", nil)
	if string(out) != "Hello" {
		t.Fatalf("got %q, want Hello", out)
	}
	// odd final digit pads with zero
	out = decodeOne(t, p, []byte("4>"), "ASCIIHexDecode", nil)
	if !bytes.Equal(out, []byte{0x40}) {
		t.Fatalf("got %x, want 40", out)
	}
}

func TestASCII85Decode(t *testing.T) {
	plain := []byte("binary\x00payload with length not divisible by four!")
	enc := make([]byte, ascii85.MaxEncodedLen(len(plain)))
	n := ascii85.Encode(enc, plain)
	data := append(enc[:n], '~', '>')

	p := NewPipeline(Limits{})
	out := decodeOne(t, p, data, "ASCII85Decode", nil)
	if !bytes.Equal(out, plain) {
		t.Fatalf("got %q, want %q", out, plain)
	}
}

func TestRunLengthDecode(t *testing.T) {
	// literal "Hi", then 'a' repeated four times, then EOD
	data := []byte{1, 'H', 'i', 253, 'a', 128}
	p := NewPipeline(Limits{})
	out := decodeOne(t, p, data, "RunLengthDecode", nil)
	if string(out) != "Hiaaaa" {
		t.Fatalf("got %q, want Hiaaaa", out)
	}
}

func TestFlateWithPNGPredictor(t *testing.T) {
	// two rows of three samples, filtered with None then Up
	encoded := []byte{
		0, 1, 2, 3,
		2, 4, 3, 2,
	}
	parms := raw.NewDict()
	parms.Set("Predictor", raw.Int(12))
	parms.Set("Colors", raw.Int(1))
	parms.Set("BitsPerComponent", raw.Int(8))
	parms.Set("Columns", raw.Int(3))

	p := NewPipeline(Limits{})
	out := decodeOne(t, p, Deflate(encoded), "FlateDecode", parms)
	want := []byte{1, 2, 3, 5, 5, 5}
	if !bytes.Equal(out, want) {
		t.Fatalf("got %v, want %v", out, want)
	}
}

func TestFlateWithTIFFPredictor(t *testing.T) {
	// one row of horizontal deltas
	encoded := []byte{10, 1, 1, 1}
	parms := raw.NewDict()
	parms.Set("Predictor", raw.Int(2))
	parms.Set("Colors", raw.Int(1))
	parms.Set("BitsPerComponent", raw.Int(8))
	parms.Set("Columns", raw.Int(4))

	p := NewPipeline(Limits{})
	out := decodeOne(t, p, Deflate(encoded), "FlateDecode", parms)
	want := []byte{10, 11, 12, 13}
	if !bytes.Equal(out, want) {
		t.Fatalf("got %v, want %v", out, want)
	}
}

func TestCascadedFilters(t *testing.T) {
	plain := []byte("cascade me")
	compressed := Deflate(plain)
	hex := make([]byte, 0, len(compressed)*2+1)
	const digits = "0123456789ABCDEF"
	for _, c := range compressed {
		hex = append(hex, digits[c>>4], digits[c&0x0F])
	}
	hex = append(hex, '>')

	p := NewPipeline(Limits{})
	out, err := p.Decode(context.Background(), hex,
		[]string{"ASCIIHexDecode", "FlateDecode"}, []*raw.Dict{nil, nil})
	if err != nil {
		t.Fatalf("cascaded decode: %v", err)
	}
	if !bytes.Equal(out, plain) {
		t.Fatalf("got %q, want %q", out, plain)
	}
}

func TestTerminalFiltersPassThrough(t *testing.T) {
	if !Terminal("DCTDecode") || !Terminal("JPXDecode") {
		t.Fatalf("DCTDecode and JPXDecode must be terminal")
	}
	if Terminal("FlateDecode") {
		t.Fatalf("FlateDecode must not be terminal")
	}
	jpeg := []byte{0xFF, 0xD8, 0xFF, 0xD9}
	p := NewPipeline(Limits{})
	out, err := p.Decode(context.Background(), jpeg, []string{"DCTDecode"}, []*raw.Dict{nil})
	if err != nil {
		t.Fatalf("terminal decode: %v", err)
	}
	if !bytes.Equal(out, jpeg) {
		t.Fatalf("terminal filter modified payload")
	}
}

func TestUnknownFilter(t *testing.T) {
	p := NewPipeline(Limits{})
	if _, err := p.Decode(context.Background(), nil, []string{"NoSuchFilter"}, []*raw.Dict{nil}); err == nil {
		t.Fatalf("expected error for unknown filter")
	}
}

func TestDecodedSizeLimit(t *testing.T) {
	plain := bytes.Repeat([]byte{'x'}, 4096)
	p := NewPipeline(Limits{MaxDecodedSize: 128})
	if _, err := p.Decode(context.Background(), Deflate(plain), []string{"FlateDecode"}, []*raw.Dict{nil}); err == nil {
		t.Fatalf("expected error when decoded size exceeds limit")
	}
}
