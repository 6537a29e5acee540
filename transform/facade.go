package transform

import (
	"bytes"
	"context"

	"pdfmill/filters"
	"pdfmill/ir/raw"
	"pdfmill/observability"
	"pdfmill/parser"
	"pdfmill/recovery"
	"pdfmill/writer"
)

// Config carries pipeline options. The zero value parses leniently and
// logs nowhere.
type Config struct {
	// Recovery governs how damaged inputs are handled. Defaults to a
	// lenient strategy that repairs what it can.
	Recovery recovery.Strategy
	// Log defaults to the nop logger.
	Log observability.Logger
	// Limits bounds filter output during parsing.
	Limits filters.Limits
}

// Pipeline bundles a parser and a writer behind byte-buffer operations,
// one call per end-user workflow. Safe for concurrent use; each call
// works on its own documents.
type Pipeline struct {
	parser *parser.DocumentParser
	writer *writer.Writer
	log    observability.Logger
}

// NewPipeline creates a Pipeline.
func NewPipeline(cfg Config) *Pipeline {
	log := cfg.Log
	if log == nil {
		log = observability.NopLogger{}
	}
	strategy := cfg.Recovery
	if strategy == nil {
		strategy = recovery.NewLenient(log)
	}
	return &Pipeline{
		parser: parser.New(parser.Config{
			Recovery: strategy,
			Log:      log,
			Limits:   cfg.Limits,
		}),
		writer: writer.New(writer.Config{Log: log}),
		log:    log,
	}
}

func (p *Pipeline) parse(ctx context.Context, input []byte) (*raw.Document, error) {
	return p.parser.Parse(ctx, bytes.NewReader(input), int64(len(input)))
}

// MergeFiles concatenates the pages of two or more PDF files.
func (p *Pipeline) MergeFiles(ctx context.Context, inputs [][]byte) ([]byte, error) {
	if len(inputs) < 2 {
		return nil, ErrInsufficientInput
	}
	docs := make([]*raw.Document, len(inputs))
	for i, input := range inputs {
		doc, err := p.parse(ctx, input)
		if err != nil {
			return nil, err
		}
		docs[i] = doc
	}
	merged, err := Merge(ctx, docs)
	if err != nil {
		return nil, err
	}
	return p.writer.Save(ctx, merged)
}

// ExtractFile builds a PDF from the selected zero-based pages of input.
func (p *Pipeline) ExtractFile(ctx context.Context, input []byte, indices []int) ([]byte, error) {
	doc, err := p.parse(ctx, input)
	if err != nil {
		return nil, err
	}
	extracted, err := ExtractPages(ctx, doc, indices)
	if err != nil {
		return nil, err
	}
	return p.writer.Save(ctx, extracted)
}

// ExtractFirstPage returns a PDF holding only the first page of input.
func (p *Pipeline) ExtractFirstPage(ctx context.Context, input []byte) ([]byte, error) {
	return p.ExtractFile(ctx, input, []int{0})
}

// RotateAllPages rotates every page of input by delta degrees.
func (p *Pipeline) RotateAllPages(ctx context.Context, input []byte, delta int) ([]byte, error) {
	doc, err := p.parse(ctx, input)
	if err != nil {
		return nil, err
	}
	if err := Rotate(doc, nil, delta); err != nil {
		return nil, err
	}
	return p.writer.Save(ctx, doc)
}

// ImageFiles converts JPEG and PNG files into a PDF, one image per page.
func (p *Pipeline) ImageFiles(ctx context.Context, images [][]byte) ([]byte, error) {
	doc, err := ImagesToDocument(ctx, images, p.log)
	if err != nil {
		return nil, err
	}
	return p.writer.Save(ctx, doc)
}
