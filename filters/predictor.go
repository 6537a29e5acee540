package filters

import (
	"fmt"

	"pdfmill/ir/raw"
)

// applyPredictor undoes the TIFF (2) or PNG (>=10) predictor declared in
// the filter parameters. Predictor 1 (or no parameters) is the identity.
func applyPredictor(data []byte, parms *raw.Dict) ([]byte, error) {
	pred := parmInt(parms, "Predictor", 1)
	if pred <= 1 {
		return data, nil
	}
	colors := parmInt(parms, "Colors", 1)
	bpc := parmInt(parms, "BitsPerComponent", 8)
	columns := parmInt(parms, "Columns", 1)
	if colors < 1 || bpc < 1 || columns < 1 {
		return nil, fmt.Errorf("invalid predictor parameters: colors=%d bpc=%d columns=%d", colors, bpc, columns)
	}
	bpp := (colors*bpc + 7) / 8         // bytes per pixel, rounded up
	rowLen := (colors*bpc*columns + 7) / 8 // bytes per row, without filter byte

	switch {
	case pred == 2:
		return undoTIFFPredictor(data, bpp, rowLen)
	case pred >= 10 && pred <= 15:
		return undoPNGPredictor(data, bpp, rowLen)
	default:
		return nil, fmt.Errorf("unknown predictor %d", pred)
	}
}

// undoTIFFPredictor reverses horizontal differencing applied per row.
func undoTIFFPredictor(data []byte, bpp, rowLen int) ([]byte, error) {
	if len(data)%rowLen != 0 {
		return nil, fmt.Errorf("TIFF predictor: data length %d not a multiple of row length %d", len(data), rowLen)
	}
	out := append([]byte(nil), data...)
	for row := 0; row < len(out); row += rowLen {
		for i := bpp; i < rowLen; i++ {
			out[row+i] += out[row+i-bpp]
		}
	}
	return out, nil
}

// undoPNGPredictor reverses the per-row PNG filters (spec 7.4.4.4). The
// declared predictor value only signals "PNG"; the actual filter is the
// leading byte of every row.
func undoPNGPredictor(data []byte, bpp, rowLen int) ([]byte, error) {
	if len(data)%(rowLen+1) != 0 {
		return nil, fmt.Errorf("PNG predictor: data length %d not a multiple of row length %d", len(data), rowLen+1)
	}
	rows := len(data) / (rowLen + 1)
	out := make([]byte, 0, rows*rowLen)
	prev := make([]byte, rowLen)
	cur := make([]byte, rowLen)
	for r := 0; r < rows; r++ {
		in := data[r*(rowLen+1):]
		filter := in[0]
		copy(cur, in[1:rowLen+1])
		switch filter {
		case 0: // None
		case 1: // Sub
			for i := bpp; i < rowLen; i++ {
				cur[i] += cur[i-bpp]
			}
		case 2: // Up
			for i := 0; i < rowLen; i++ {
				cur[i] += prev[i]
			}
		case 3: // Average
			for i := 0; i < rowLen; i++ {
				var left byte
				if i >= bpp {
					left = cur[i-bpp]
				}
				cur[i] += byte((int(left) + int(prev[i])) / 2)
			}
		case 4: // Paeth
			for i := 0; i < rowLen; i++ {
				var left, upLeft byte
				if i >= bpp {
					left = cur[i-bpp]
					upLeft = prev[i-bpp]
				}
				cur[i] += paeth(left, prev[i], upLeft)
			}
		default:
			return nil, fmt.Errorf("PNG predictor: unknown row filter %d", filter)
		}
		out = append(out, cur...)
		prev, cur = cur, prev
	}
	return out, nil
}

func paeth(a, b, c byte) byte {
	p := int(a) + int(b) - int(c)
	pa, pb, pc := abs(p-int(a)), abs(p-int(b)), abs(p-int(c))
	switch {
	case pa <= pb && pa <= pc:
		return a
	case pb <= pc:
		return b
	default:
		return c
	}
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
