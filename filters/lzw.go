package filters

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/hhrutter/lzw"

	"pdfmill/ir/raw"
)

// lzwDecoder implements LZWDecode using the PDF/TIFF LZW variant, which
// differs from compress/lzw in code-width switching (EarlyChange).
type lzwDecoder struct{ limits Limits }

func (lzwDecoder) Name() string { return "LZWDecode" }

func (d lzwDecoder) Decode(ctx context.Context, data []byte, parms *raw.Dict) ([]byte, error) {
	earlyChange := parmInt(parms, "EarlyChange", 1) == 1
	r := lzw.NewReader(bytes.NewReader(data), earlyChange)
	defer r.Close()

	var out bytes.Buffer
	if lim := d.limits.MaxDecodedSize; lim > 0 {
		n, err := io.Copy(&out, io.LimitReader(r, lim+1))
		if err != nil {
			return nil, err
		}
		if n > lim {
			return nil, fmt.Errorf("LZW output exceeds limit of %d bytes", lim)
		}
	} else if _, err := io.Copy(&out, r); err != nil {
		return nil, err
	}
	return applyPredictor(out.Bytes(), parms)
}
