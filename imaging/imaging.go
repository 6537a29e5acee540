// Package imaging inspects JPEG and PNG headers for the metadata PDF
// embedding needs. It never decodes raster data.
package imaging

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrFormat reports input that is not a parsable image of the expected
// format.
var ErrFormat = errors.New("unrecognized image data")

// JPEGInfo is the frame header of a JPEG file.
type JPEGInfo struct {
	Width      int
	Height     int
	Components int // 1 gray, 3 YCbCr/RGB, 4 CMYK
	Bits       int // bits per component
}

// PNGInfo is the IHDR chunk of a PNG file.
type PNGInfo struct {
	Width      int
	Height     int
	Depth      int // bits per channel
	ColorType  int // 0 gray, 2 rgb, 3 palette, 4 gray+alpha, 6 rgba
	Interlaced bool
}

// DecodeJPEGHeader scans data for the start-of-frame marker and returns
// the frame dimensions. Baseline, extended and progressive frames are
// accepted.
func DecodeJPEGHeader(data []byte) (JPEGInfo, error) {
	if len(data) < 4 || data[0] != 0xFF || data[1] != 0xD8 {
		return JPEGInfo{}, fmt.Errorf("%w: missing JPEG SOI marker", ErrFormat)
	}
	pos := 2
	for pos+4 <= len(data) {
		if data[pos] != 0xFF {
			// entropy-coded bytes between segments; resync on the next marker
			pos++
			continue
		}
		marker := data[pos+1]
		pos += 2
		switch {
		case marker == 0xFF:
			// fill byte
			pos--
			continue
		case marker == 0xD8 || (marker >= 0xD0 && marker <= 0xD7) || marker == 0x01:
			// standalone markers carry no length
			continue
		case marker == 0xD9:
			return JPEGInfo{}, fmt.Errorf("%w: JPEG ended before frame header", ErrFormat)
		}
		if pos+2 > len(data) {
			break
		}
		segLen := int(binary.BigEndian.Uint16(data[pos:]))
		if segLen < 2 || pos+segLen > len(data) {
			return JPEGInfo{}, fmt.Errorf("%w: truncated JPEG segment", ErrFormat)
		}
		switch marker {
		case 0xC0, 0xC1, 0xC2, 0xC9, 0xCA:
			// SOF0/1/2 and their arithmetic-coded variants
			if segLen < 8 {
				return JPEGInfo{}, fmt.Errorf("%w: short JPEG frame header", ErrFormat)
			}
			seg := data[pos:]
			info := JPEGInfo{
				Bits:       int(seg[2]),
				Height:     int(binary.BigEndian.Uint16(seg[3:])),
				Width:      int(binary.BigEndian.Uint16(seg[5:])),
				Components: int(seg[7]),
			}
			if info.Width == 0 || info.Height == 0 {
				return JPEGInfo{}, fmt.Errorf("%w: zero JPEG dimension", ErrFormat)
			}
			switch info.Components {
			case 1, 3, 4:
			default:
				return JPEGInfo{}, fmt.Errorf("%w: %d-component JPEG", ErrFormat, info.Components)
			}
			return info, nil
		case 0xC3, 0xC5, 0xC6, 0xC7, 0xCB, 0xCD, 0xCE, 0xCF:
			return JPEGInfo{}, fmt.Errorf("%w: unsupported JPEG coding process (marker FF%02X)", ErrFormat, marker)
		}
		pos += segLen
	}
	return JPEGInfo{}, fmt.Errorf("%w: no JPEG frame header found", ErrFormat)
}

var pngSignature = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1A, '\n'}

// DecodePNGHeader reads the PNG signature and IHDR chunk.
func DecodePNGHeader(data []byte) (PNGInfo, error) {
	// signature + IHDR length/tag/payload
	if len(data) < len(pngSignature)+8+13 {
		return PNGInfo{}, fmt.Errorf("%w: PNG too short", ErrFormat)
	}
	for i, b := range pngSignature {
		if data[i] != b {
			return PNGInfo{}, fmt.Errorf("%w: bad PNG signature", ErrFormat)
		}
	}
	chunk := data[len(pngSignature):]
	if binary.BigEndian.Uint32(chunk) != 13 || string(chunk[4:8]) != "IHDR" {
		return PNGInfo{}, fmt.Errorf("%w: PNG does not start with IHDR", ErrFormat)
	}
	body := chunk[8:]
	info := PNGInfo{
		Width:      int(binary.BigEndian.Uint32(body)),
		Height:     int(binary.BigEndian.Uint32(body[4:])),
		Depth:      int(body[8]),
		ColorType:  int(body[9]),
		Interlaced: body[12] != 0,
	}
	if info.Width <= 0 || info.Height <= 0 {
		return PNGInfo{}, fmt.Errorf("%w: zero PNG dimension", ErrFormat)
	}
	switch info.ColorType {
	case 0, 2, 3, 4, 6:
	default:
		return PNGInfo{}, fmt.Errorf("%w: PNG color type %d", ErrFormat, info.ColorType)
	}
	return info, nil
}

// FindIDAT returns the concatenation of all IDAT chunk payloads, which
// together form one zlib stream.
func FindIDAT(data []byte) ([]byte, error) {
	if len(data) < len(pngSignature) {
		return nil, fmt.Errorf("%w: PNG too short", ErrFormat)
	}
	var idat []byte
	pos := len(pngSignature)
	for pos+8 <= len(data) {
		length := int(binary.BigEndian.Uint32(data[pos:]))
		tag := string(data[pos+4 : pos+8])
		body := pos + 8
		if length < 0 || body+length+4 > len(data) {
			return nil, fmt.Errorf("%w: truncated PNG chunk %q", ErrFormat, tag)
		}
		switch tag {
		case "IDAT":
			idat = append(idat, data[body:body+length]...)
		case "IEND":
			if len(idat) == 0 {
				return nil, fmt.Errorf("%w: PNG has no IDAT data", ErrFormat)
			}
			return idat, nil
		}
		pos = body + length + 4 // skip CRC
	}
	if len(idat) == 0 {
		return nil, fmt.Errorf("%w: PNG has no IDAT data", ErrFormat)
	}
	return idat, nil
}
