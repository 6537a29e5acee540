package filters

import (
	"bytes"
	"compress/flate"
	"compress/zlib"
	"context"
	"fmt"
	"io"

	"pdfmill/ir/raw"
)

type flateDecoder struct{ limits Limits }

func (flateDecoder) Name() string { return "FlateDecode" }

func (d flateDecoder) Decode(ctx context.Context, data []byte, parms *raw.Dict) ([]byte, error) {
	out, err := inflate(data, d.limits.MaxDecodedSize)
	if err != nil {
		return nil, err
	}
	return applyPredictor(out, parms)
}

// inflate decompresses zlib-wrapped deflate data. Some producers emit bare
// deflate streams without the zlib header; fall back to those.
func inflate(data []byte, limit int64) ([]byte, error) {
	zr, err := zlib.NewReader(bytes.NewReader(data))
	var src io.ReadCloser
	if err == nil {
		src = zr
	} else {
		src = flate.NewReader(bytes.NewReader(data))
	}
	defer src.Close()

	var out bytes.Buffer
	if limit > 0 {
		n, err := io.Copy(&out, io.LimitReader(src, limit+1))
		if err != nil {
			return nil, err
		}
		if n > limit {
			return nil, fmt.Errorf("inflated size exceeds limit of %d bytes", limit)
		}
	} else if _, err := io.Copy(&out, src); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}

// Deflate compresses data for embedding in a stream object, zlib-wrapped as
// FlateDecode expects.
func Deflate(data []byte) []byte {
	var buf bytes.Buffer
	zw := zlib.NewWriter(&buf)
	zw.Write(data)
	zw.Close()
	return buf.Bytes()
}
