// Package csv provides CSV reading for tabular sensor logs.
package csv

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	vio "github.com/hed1ad/vlogguard/pkg/io"
)

// ErrNoHeader is returned when the input contains no header row.
var ErrNoHeader = errors.New("csv input has no header row")

var _ vio.Reader = (*Reader)(nil)

// Reader reads a single CSV document into a table.
type Reader struct {
	reader    *csv.Reader
	hasHeader bool
	header    []string
}

// Option configures a CSV reader.
type Option func(*Reader)

// WithHeader sets an explicit header and treats the first line as data.
func WithHeader(header []string) Option {
	return func(r *Reader) {
		r.hasHeader = false
		r.header = header
	}
}

// WithComma sets the field delimiter.
func WithComma(c rune) Option {
	return func(r *Reader) {
		r.reader.Comma = c
	}
}

// NewReader creates a new CSV reader over src.
func NewReader(src io.Reader, opts ...Option) *Reader {
	cr := csv.NewReader(src)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	cr.ReuseRecord = false

	r := &Reader{
		reader:    cr,
		hasHeader: true,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Read returns the whole document. Blank lines are skipped by encoding/csv;
// ragged records are kept as they are and padded on access by vio.Table.
func (r *Reader) Read() (*vio.Table, error) {
	t := &vio.Table{Header: r.header}

	if r.hasHeader {
		header, err := r.reader.Read()
		if err == io.EOF {
			return nil, ErrNoHeader
		}
		if err != nil {
			return nil, fmt.Errorf("read header: %w", err)
		}
		t.Header = normalizeHeader(header)
	}
	if len(t.Header) == 0 {
		return nil, ErrNoHeader
	}

	for {
		record, err := r.reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read record: %w", err)
		}
		t.Records = append(t.Records, record)
	}

	return t, nil
}

// normalizeHeader strips a UTF-8 BOM and surrounding whitespace from names.
func normalizeHeader(header []string) []string {
	out := make([]string, len(header))
	for i, h := range header {
		if i == 0 {
			h = strings.TrimPrefix(h, "\ufeff")
		}
		out[i] = strings.TrimSpace(h)
	}
	return out
}
