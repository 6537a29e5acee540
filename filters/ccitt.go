package filters

import (
	"bytes"
	"context"
	"errors"
	"io"

	"golang.org/x/image/ccitt"

	"pdfmill/ir/raw"
)

// ccittDecoder implements CCITTFaxDecode for Group 3 1D and Group 4 data.
// Mixed 1D/2D Group 3 (K > 0) is not supported by the underlying decoder.
type ccittDecoder struct{}

func (ccittDecoder) Name() string { return "CCITTFaxDecode" }

func (ccittDecoder) Decode(ctx context.Context, data []byte, parms *raw.Dict) ([]byte, error) {
	k := parmInt(parms, "K", 0)
	columns := parmInt(parms, "Columns", 1728)
	rows := parmInt(parms, "Rows", 0)
	blackIs1 := parmBool(parms, "BlackIs1", false)
	byteAlign := parmBool(parms, "EncodedByteAlign", false)

	var sf ccitt.SubFormat
	switch {
	case k < 0:
		sf = ccitt.Group4
	case k == 0:
		sf = ccitt.Group3
	default:
		return nil, errors.New("mixed Group 3 encoding (K > 0) not supported")
	}

	opts := &ccitt.Options{Invert: !blackIs1, Align: byteAlign}
	r := ccitt.NewReader(bytes.NewReader(data), ccitt.MSB, sf, columns, rows, opts)
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	return out, nil
}
