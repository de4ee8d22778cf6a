package csvimport

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"
)

// Row is one data line keyed by lower-cased header
type Row struct {
	Line int
	Data map[string]string
}

// Get returns the value of a column, empty when absent
func (r *Row) Get(column string) string {
	return r.Data[column]
}

// IsEmpty returns true if the row has no non-empty values
func (r *Row) IsEmpty() bool {
	for _, v := range r.Data {
		if v != "" {
			return false
		}
	}
	return true
}

// Reader reads a header line and then data rows from a UTF-8 CSV stream.
// A leading byte order mark is skipped and blank lines are ignored.
type Reader struct {
	csv     *csv.Reader
	headers []string
	line    int
}

// ReaderOption configures a Reader
type ReaderOption func(*csv.Reader)

// WithDelimiter sets the field delimiter (default is comma)
func WithDelimiter(d rune) ReaderOption {
	return func(r *csv.Reader) { r.Comma = d }
}

// NewReader checks the encoding and parses the header line
func NewReader(r io.Reader, opts ...ReaderOption) (*Reader, error) {
	buf := bufio.NewReader(r)

	if bom, err := buf.Peek(3); err == nil && bom[0] == 0xEF && bom[1] == 0xBB && bom[2] == 0xBF {
		_, _ = buf.Discard(3)
	}
	head, err := buf.Peek(4096)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, bufio.ErrBufferFull) {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	if len(strings.TrimSpace(string(head))) == 0 {
		return nil, ErrEmptyFile
	}
	if !utf8.Valid(trimPartialRune(head)) {
		return nil, ErrInvalidEncoding
	}

	cr := csv.NewReader(buf)
	cr.LazyQuotes = true
	cr.TrimLeadingSpace = true
	cr.FieldsPerRecord = -1
	for _, opt := range opts {
		opt(cr)
	}

	out := &Reader{csv: cr}
	record, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, ErrMissingHeader
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}
	out.line, _ = cr.FieldPos(0)
	for _, h := range record {
		out.headers = append(out.headers, strings.ToLower(strings.TrimSpace(h)))
	}
	return out, nil
}

// trimPartialRune drops a multi-byte rune cut off at the end of a peeked buffer
func trimPartialRune(b []byte) []byte {
	for i := 0; i < utf8.UTFMax-1 && len(b) > 0; i++ {
		last := len(b) - 1
		if b[last] < utf8.RuneSelf {
			return b
		}
		start := last
		for start > 0 && !utf8.RuneStart(b[start]) {
			start--
		}
		if utf8.FullRune(b[start:]) {
			return b
		}
		b = b[:start]
	}
	return b
}

// Headers returns the lower-cased header names
func (r *Reader) Headers() []string {
	return r.headers
}

// HasColumn reports whether the header names column
func (r *Reader) HasColumn(column string) bool {
	for _, h := range r.headers {
		if h == column {
			return true
		}
	}
	return false
}

// Next returns the next non-empty row, or io.EOF
func (r *Reader) Next() (*Row, error) {
	for {
		record, err := r.csv.Read()
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		if err != nil {
			line := r.line + 1
			var pe *csv.ParseError
			if errors.As(err, &pe) {
				line = pe.StartLine
			}
			return nil, RowError{Row: line, Code: ErrCodeMalformedRow, Message: err.Error()}
		}
		r.line, _ = r.csv.FieldPos(0)

		row := &Row{Line: r.line, Data: make(map[string]string, len(r.headers))}
		for i, h := range r.headers {
			if i < len(record) {
				row.Data[h] = strings.TrimSpace(record[i])
			} else {
				row.Data[h] = ""
			}
		}
		if !row.IsEmpty() {
			return row, nil
		}
	}
}
