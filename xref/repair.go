package xref

import (
	"context"
	"errors"
	"fmt"
	"io"

	"pdfmill/ir/raw"
	"pdfmill/recovery"
	"pdfmill/scanner"
)

// permissive accepts every repairable defect; the repair scan has nothing
// to lose.
type permissive struct{}

func (permissive) OnError(error, recovery.Location) recovery.Action { return recovery.ActionFix }

// Repair reconstructs a cross-reference table by scanning the whole file
// for "N G obj" occurrences, keeping the last definition of each object
// (later definitions shadow earlier ones, matching incremental-update
// semantics). The last trailer dictionary found is returned; files whose
// trailer is also gone yield an empty one and the caller must locate the
// catalog itself.
func Repair(ctx context.Context, r io.ReaderAt, cfg Config) (*Table, *raw.Dict, error) {
	s := scanner.New(r, scanner.Config{Recovery: permissive{}})
	s.SetLocation(recovery.Location{Component: "xref-repair"})
	tr := raw.NewTokenReader(s)

	table := newTable()
	trailer := raw.NewDict()

scan:
	for {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
		tok, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, nil, fmt.Errorf("repair scan: %w", err)
		}

		switch {
		case tok.Type == scanner.TokenNumber && tok.IsInt:
			genTok, err := tr.Next()
			if errors.Is(err, io.EOF) {
				break scan
			}
			if err != nil {
				return nil, nil, err
			}
			if genTok.Type != scanner.TokenNumber || !genTok.IsInt {
				tr.Unread(genTok)
				continue
			}
			kwTok, err := tr.Next()
			if errors.Is(err, io.EOF) {
				break scan
			}
			if err != nil {
				return nil, nil, err
			}
			if kwTok.Type == scanner.TokenKeyword && kwTok.Str == "obj" {
				table.put(int(tok.Int), Entry{Offset: tok.Pos, Gen: int(genTok.Int)})
				continue
			}
			// Not an object header. The second number may itself start
			// one ("7 8 0 obj"), so push both back and re-examine.
			tr.Unread(kwTok)
			tr.Unread(genTok)

		case tok.Type == scanner.TokenKeyword && tok.Str == "trailer":
			obj, err := raw.ParseValue(tr)
			if err != nil {
				continue // damaged trailer, keep scanning
			}
			if dict, ok := obj.(*raw.Dict); ok {
				trailer = dict
			}
		}
	}

	if table.Len() == 0 {
		return nil, nil, fmt.Errorf("repair found no objects")
	}
	return table, trailer, nil
}
