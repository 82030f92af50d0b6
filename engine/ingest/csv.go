package ingest

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

var (
	// ErrEmpty is returned for a CSV file without data rows.
	ErrEmpty = errors.New("ingest: CSV file is empty")
	// ErrMalformed is returned when the file cannot be parsed as CSV.
	ErrMalformed = errors.New("ingest: malformed CSV")
)

// Options selects which columns provide document text and ids.
type Options struct {
	// TextColumn, when present in the header, is used verbatim as the
	// document text. Otherwise every column is rendered as "col: value".
	TextColumn string
	// IDColumn, when present in the header, supplies document ids.
	// Otherwise rows are numbered doc_0, doc_1, ...
	IDColumn string
}

// Batch is a CSV file transformed into parallel document slices.
type Batch struct {
	Documents []string
	IDs       []string
	Metadatas []map[string]any
	Columns   []string
}

// Len returns the number of documents.
func (b Batch) Len() int { return len(b.Documents) }

// ReadCSV reads a header row followed by data rows and derives one document
// per row. Short rows are padded with empty values; rows wider than the
// header are rejected, as are ids repeated anywhere in the file.
func ReadCSV(r io.Reader, opts Options) (Batch, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.ReuseRecord = false

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return Batch{}, ErrEmpty
	}
	if err != nil {
		return Batch{}, fmt.Errorf("%w: header: %w", ErrMalformed, err)
	}
	columns := normalizeHeader(header)

	textIdx := indexOf(columns, opts.TextColumn)
	idIdx := indexOf(columns, opts.IDColumn)

	b := Batch{Columns: columns}
	firstRow := make(map[string]int)
	for row := 0; ; row++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return Batch{}, fmt.Errorf("%w: row %d: %w", ErrMalformed, row, err)
		}
		if len(rec) > len(columns) {
			line, _ := cr.FieldPos(0)
			return Batch{}, fmt.Errorf("%w: line %d has %d fields, header has %d", ErrMalformed, line, len(rec), len(columns))
		}
		for len(rec) < len(columns) {
			rec = append(rec, "")
		}

		id := documentID(rec, idIdx, row)
		if prev, dup := firstRow[id]; dup {
			return Batch{}, fmt.Errorf("%w: duplicate id %q in rows %d and %d", ErrMalformed, id, prev, row)
		}
		firstRow[id] = row

		b.Documents = append(b.Documents, documentText(columns, rec, textIdx))
		b.IDs = append(b.IDs, id)
		meta := make(map[string]any, len(columns))
		for i, col := range columns {
			meta[col] = rec[i]
		}
		b.Metadatas = append(b.Metadatas, meta)
	}

	if b.Len() == 0 {
		return Batch{}, ErrEmpty
	}
	return b, nil
}

func documentText(columns, rec []string, textIdx int) string {
	if textIdx >= 0 {
		return rec[textIdx]
	}
	parts := make([]string, len(columns))
	for i, col := range columns {
		parts[i] = col + ": " + rec[i]
	}
	return strings.Join(parts, " | ")
}

func documentID(rec []string, idIdx, row int) string {
	if idIdx >= 0 && rec[idIdx] != "" {
		return rec[idIdx]
	}
	return "doc_" + strconv.Itoa(row)
}

// normalizeHeader trims names, drops a UTF-8 BOM and disambiguates repeated
// names as name.1, name.2, ...
func normalizeHeader(header []string) []string {
	out := make([]string, len(header))
	seen := make(map[string]int, len(header))
	for i, h := range header {
		if i == 0 {
			h = strings.TrimPrefix(h, "\ufeff")
		}
		h = strings.TrimSpace(h)
		if _, dup := seen[h]; dup {
			base := h
			for {
				seen[base]++
				h = base + "." + strconv.Itoa(seen[base])
				if _, taken := seen[h]; !taken {
					break
				}
			}
		}
		seen[h] = 0
		out[i] = h
	}
	return out
}

func indexOf(columns []string, name string) int {
	if name == "" {
		return -1
	}
	for i, c := range columns {
		if c == name {
			return i
		}
	}
	return -1
}
