package ingest

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/licensecompact/provider-data/internal/charset"
)

// ErrEmptyUpload indicates an upload with no header row.
var ErrEmptyUpload = errors.New("upload contains no header row")

// RawRow is one untyped data row keyed by header column name. Empty
// cells are omitted so optional fields are absent rather than "".
type RawRow struct {
	Number int // 1-based, excluding the header
	Fields map[string]any
}

// RowReader streams rows from an uploaded CSV. Input bytes pass through
// charset detection first, so BOM-prefixed and legacy-encoded uploads
// decode to valid UTF-8 before parsing.
type RowReader struct {
	csv    *csv.Reader
	header []string
	row    int
}

// NewRowReader wraps an upload stream and consumes its header row.
func NewRowReader(r io.Reader) (*RowReader, error) {
	cr := csv.NewReader(charset.NewReader(r))
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, ErrEmptyUpload
	}
	if err != nil {
		return nil, fmt.Errorf("read header row: %w", err)
	}
	for i, name := range header {
		header[i] = strings.TrimSpace(name)
	}

	return &RowReader{csv: cr, header: header}, nil
}

// Next returns the next data row, io.EOF at end of input. Malformed
// rows surface as *csv.ParseError; the stream stays usable, so callers
// can report the row and keep reading.
func (r *RowReader) Next() (*RawRow, error) {
	record, err := r.csv.Read()
	r.row++
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("row %d: %w", r.row, err)
	}

	fields := make(map[string]any, len(r.header))
	for i, name := range r.header {
		if i >= len(record) {
			break
		}
		if value := strings.TrimSpace(record[i]); value != "" {
			fields[name] = value
		}
	}
	return &RawRow{Number: r.row, Fields: fields}, nil
}
