package transform

import (
	"context"
	"fmt"

	"pdfmill/imaging"
	"pdfmill/ir/raw"
	"pdfmill/observability"
	"pdfmill/pagetree"
)

// ImagesToDocument builds a document with one page per embeddable input
// image, each page sized to the image's pixel dimensions. Inputs that are
// neither JPEG nor a plain PNG (no palette, no alpha, no interlacing) are
// skipped. log records each skip; nil means no logging.
func ImagesToDocument(ctx context.Context, images [][]byte, log observability.Logger) (*raw.Document, error) {
	if log == nil {
		log = observability.NopLogger{}
	}
	doc := raw.NewDocument()
	embedded := 0
	for i, data := range images {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		xobj, width, height, err := imageXObject(data)
		if err != nil {
			log.Warn("skipping image", observability.Int("index", i), observability.Error("cause", err))
			continue
		}
		if err := appendImagePage(doc, xobj, width, height); err != nil {
			return nil, err
		}
		embedded++
	}
	if embedded == 0 {
		return nil, ErrNoValidImages
	}
	return doc, nil
}

// imageXObject builds the image XObject stream for one input file,
// keeping the compressed payload as-is.
func imageXObject(data []byte) (*raw.Stream, int, int, error) {
	if jpeg, err := imaging.DecodeJPEGHeader(data); err == nil {
		return jpegXObject(data, jpeg), jpeg.Width, jpeg.Height, nil
	}
	png, err := imaging.DecodePNGHeader(data)
	if err != nil {
		return nil, 0, 0, err
	}
	stream, err := pngXObject(data, png)
	if err != nil {
		return nil, 0, 0, err
	}
	return stream, png.Width, png.Height, nil
}

// jpegXObject wraps the entire JPEG file as a /DCTDecode stream; PDF
// viewers decode it natively.
func jpegXObject(data []byte, info imaging.JPEGInfo) *raw.Stream {
	dict := raw.NewDict()
	dict.Set("Type", raw.Name("XObject"))
	dict.Set("Subtype", raw.Name("Image"))
	dict.Set("Width", raw.Int(int64(info.Width)))
	dict.Set("Height", raw.Int(int64(info.Height)))
	dict.Set("BitsPerComponent", raw.Int(int64(info.Bits)))
	dict.Set("ColorSpace", colorSpaceFor(info.Components))
	dict.Set("Filter", raw.Name("DCTDecode"))
	return raw.NewStream(dict, data)
}

func colorSpaceFor(components int) raw.Name {
	switch components {
	case 1:
		return "DeviceGray"
	case 4:
		return "DeviceCMYK"
	default:
		return "DeviceRGB"
	}
}

// pngXObject reuses the PNG's zlib-compressed scanline data directly:
// FlateDecode with a PNG predictor DecodeParms entry describes exactly
// the filtered-row format inside IDAT.
func pngXObject(data []byte, info imaging.PNGInfo) (*raw.Stream, error) {
	if info.Interlaced {
		return nil, fmt.Errorf("%w: interlaced PNG", imaging.ErrFormat)
	}
	var space raw.Name
	var colors int
	switch info.ColorType {
	case 0:
		space, colors = "DeviceGray", 1
	case 2:
		space, colors = "DeviceRGB", 3
	default:
		// palette and alpha variants need raster work, out of scope
		return nil, fmt.Errorf("%w: PNG color type %d", imaging.ErrFormat, info.ColorType)
	}
	idat, err := imaging.FindIDAT(data)
	if err != nil {
		return nil, err
	}

	parms := raw.NewDict()
	parms.Set("Predictor", raw.Int(15))
	parms.Set("Colors", raw.Int(int64(colors)))
	parms.Set("BitsPerComponent", raw.Int(int64(info.Depth)))
	parms.Set("Columns", raw.Int(int64(info.Width)))

	dict := raw.NewDict()
	dict.Set("Type", raw.Name("XObject"))
	dict.Set("Subtype", raw.Name("Image"))
	dict.Set("Width", raw.Int(int64(info.Width)))
	dict.Set("Height", raw.Int(int64(info.Height)))
	dict.Set("BitsPerComponent", raw.Int(int64(info.Depth)))
	dict.Set("ColorSpace", space)
	dict.Set("Filter", raw.Name("FlateDecode"))
	dict.Set("DecodeParms", parms)
	return raw.NewStream(dict, idat), nil
}

// appendImagePage adds a page whose content stream paints xobj across the
// whole media box.
func appendImagePage(doc *raw.Document, xobj *raw.Stream, width, height int) error {
	xobjRef := doc.Add(xobj)

	content := fmt.Sprintf("q\n%d 0 0 %d 0 0 cm\n/Im0 Do\nQ\n", width, height)
	contentRef := doc.Add(raw.NewStream(raw.NewDict(), []byte(content)))

	xobjects := raw.NewDict()
	xobjects.Set("Im0", xobjRef)
	resources := raw.NewDict()
	resources.Set("XObject", xobjects)

	page := raw.NewDict()
	page.Set("Type", raw.Name("Page"))
	page.Set("MediaBox", pagetree.Rect{URX: float64(width), URY: float64(height)}.Array())
	page.Set("Resources", resources)
	page.Set("Contents", contentRef)
	return pagetree.Append(doc, doc.Add(page))
}
