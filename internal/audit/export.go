package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"

	"agentgate/internal/domain"
)

// Source is anything that can be queried for stored records.
type Source interface {
	Query(ctx context.Context, f Filter) ([]domain.AuditRecord, error)
}

// ExportOptions controls Export.
type ExportOptions struct {
	Filter Filter
	// Compress wraps the output in a zstd frame.
	Compress bool
}

// Export writes matching records to w as JSON lines and returns the count.
func Export(ctx context.Context, src Source, w io.Writer, opts ExportOptions) (int, error) {
	records, err := src.Query(ctx, opts.Filter)
	if err != nil {
		return 0, err
	}

	out := w
	var enc *zstd.Encoder
	if opts.Compress {
		enc, err = zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if err != nil {
			return 0, fmt.Errorf("create zstd encoder: %w", err)
		}
		out = enc
	}

	je := json.NewEncoder(out)
	for _, rec := range records {
		if err := je.Encode(rec); err != nil {
			if enc != nil {
				enc.Close()
			}
			return 0, fmt.Errorf("encode record %s: %w", rec.ID, err)
		}
	}
	if enc != nil {
		if err := enc.Close(); err != nil {
			return 0, fmt.Errorf("finish zstd stream: %w", err)
		}
	}
	return len(records), nil
}

// ReadExport decodes an export stream, transparently handling zstd.
func ReadExport(r io.Reader, compressed bool) ([]domain.AuditRecord, error) {
	in := r
	if compressed {
		dec, err := zstd.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("create zstd decoder: %w", err)
		}
		defer dec.Close()
		in = dec
	}

	var out []domain.AuditRecord
	d := json.NewDecoder(in)
	for {
		var rec domain.AuditRecord
		if err := d.Decode(&rec); err == io.EOF {
			return out, nil
		} else if err != nil {
			return nil, fmt.Errorf("decode export: %w", err)
		}
		out = append(out, rec)
	}
}
