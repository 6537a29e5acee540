// Package filters implements the stream filter decoders needed to read
// real-world PDFs: FlateDecode (with PNG and TIFF predictors), LZWDecode,
// ASCIIHexDecode, ASCII85Decode, RunLengthDecode and CCITTFaxDecode.
//
// DCTDecode and JPXDecode are deliberately absent: they terminate a filter
// chain at compressed image data, and every consumer in this module keeps
// such payloads verbatim.
package filters

import (
	"context"
	"errors"
	"fmt"

	"pdfmill/ir/raw"
)

// ErrUnsupported reports a filter this package cannot decode.
var ErrUnsupported = errors.New("unsupported stream filter")

// Decoder decodes one filter's encoding. Parms may be nil; values inside it
// are direct (the caller resolves indirect references first).
type Decoder interface {
	Name() string
	Decode(ctx context.Context, data []byte, parms *raw.Dict) ([]byte, error)
}

// Limits bounds decoding work.
type Limits struct {
	// MaxDecodedSize caps the output of any single decode step. Zero
	// means unlimited.
	MaxDecodedSize int64
}

// Pipeline applies a filter chain in declaration order.
type Pipeline struct {
	decoders map[string]Decoder
	limits   Limits
}

// NewPipeline returns a pipeline with the standard decoder set.
func NewPipeline(limits Limits) *Pipeline {
	p := &Pipeline{decoders: make(map[string]Decoder), limits: limits}
	for _, d := range []Decoder{
		flateDecoder{limits},
		lzwDecoder{limits},
		asciiHexDecoder{},
		ascii85Decoder{},
		runLengthDecoder{},
		ccittDecoder{},
	} {
		p.decoders[d.Name()] = d
	}
	// abbreviated names, as used by inline images
	for short, long := range map[string]string{
		"Fl":  "FlateDecode",
		"LZW": "LZWDecode",
		"AHx": "ASCIIHexDecode",
		"A85": "ASCII85Decode",
		"RL":  "RunLengthDecode",
		"CCF": "CCITTFaxDecode",
	} {
		p.decoders[short] = p.decoders[long]
	}
	return p
}

// Terminal reports whether name refers to a compressed-image filter whose
// payload is consumed as-is rather than decoded.
func Terminal(name string) bool {
	switch name {
	case "DCTDecode", "DCT", "JPXDecode":
		return true
	}
	return false
}

// Decode runs data through the named filter chain. Parms pairs with names
// by index; a short parms slice leaves the remaining filters parameterless.
func (p *Pipeline) Decode(ctx context.Context, data []byte, names []string, parms []*raw.Dict) ([]byte, error) {
	for i, name := range names {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if Terminal(name) {
			return data, nil
		}
		dec, ok := p.decoders[name]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnsupported, name)
		}
		var parm *raw.Dict
		if i < len(parms) {
			parm = parms[i]
		}
		out, err := dec.Decode(ctx, data, parm)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		if p.limits.MaxDecodedSize > 0 && int64(len(out)) > p.limits.MaxDecodedSize {
			return nil, fmt.Errorf("%s: decoded size %d exceeds limit", name, len(out))
		}
		data = out
	}
	return data, nil
}

// parmInt reads an integer filter parameter with a default.
func parmInt(parms *raw.Dict, key raw.Name, def int) int {
	if parms == nil {
		return def
	}
	if num, ok := parms.KV[key].(raw.Number); ok {
		return int(num.Int())
	}
	return def
}

// parmBool reads a boolean filter parameter with a default.
func parmBool(parms *raw.Dict, key raw.Name, def bool) bool {
	if parms == nil {
		return def
	}
	if b, ok := parms.KV[key].(raw.Bool); ok {
		return bool(b)
	}
	return def
}
