// Package csvfile implements the CSV batch source adapter: one raw record
// per row, streamed lazily from an uploaded file.
package csvfile

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/coralcity/listing-importer/internal/catalog"
)

// Adapter streams rows from a CSV file. The first row is a header naming the
// raw fields; rows are surfaced in file order and the sequence cannot be
// restarted.
type Adapter struct {
	file   *os.File
	reader *csv.Reader
	header []string
	row    int
}

// Open prepares an Adapter for the given file. An unreadable file or a
// missing/empty header is fatal for the job.
func Open(path string) (*Adapter, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open csv source: %w", err)
	}

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1 // ragged rows handled per record
	r.TrimLeadingSpace = true

	header, err := r.Read()
	if err != nil {
		_ = f.Close()
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("csv source is empty")
		}
		return nil, fmt.Errorf("read csv header: %w", err)
	}
	for i, name := range header {
		header[i] = strings.ToLower(strings.TrimSpace(name))
	}

	return &Adapter{file: f, reader: r, header: header, row: 1}, nil
}

// Next returns the next row as a RawRecord. Malformed rows come back as
// *catalog.ValidationError so the caller can skip them; exhaustion is
// catalog.ErrEndOfSource.
func (a *Adapter) Next(ctx context.Context) (catalog.RawRecord, error) {
	if err := ctx.Err(); err != nil {
		return catalog.RawRecord{}, fmt.Errorf("csv next: %w", err)
	}

	row, err := a.reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return catalog.RawRecord{}, catalog.ErrEndOfSource
		}
		var parseErr *csv.ParseError
		if errors.As(err, &parseErr) {
			a.row++
			return catalog.RawRecord{}, catalog.NewValidationError(
				"row", fmt.Sprintf("line %d: %v", parseErr.Line, parseErr.Err))
		}
		return catalog.RawRecord{}, fmt.Errorf("read csv row: %w", err)
	}
	a.row++

	if len(row) != len(a.header) {
		return catalog.RawRecord{}, catalog.NewValidationError(
			"row", fmt.Sprintf("line %d: expected %d fields, got %d", a.row, len(a.header), len(row)))
	}

	fields := make(map[string]string, len(a.header))
	for i, name := range a.header {
		if name == "" {
			continue
		}
		fields[name] = row[i]
	}
	return catalog.RawRecord{Source: "csv", Fields: fields}, nil
}

// Close releases the underlying file.
func (a *Adapter) Close() error {
	if err := a.file.Close(); err != nil {
		return fmt.Errorf("close csv source: %w", err)
	}
	return nil
}
