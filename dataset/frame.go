// Package dataset stores uploaded CTR datasets and turns them into numeric
// frames for training.
package dataset

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand"
	"sort"
	"strconv"
	"strings"

	"github.com/loiht2/ctr-aiops/backend/errdefs"
)

// Well-known columns of a CTR dataset.
const (
	LabelColumn    = "clicked"
	SequenceColumn = "seq"
)

// SampleSeed makes row sampling reproducible across runs.
const SampleSeed = 42

// Frame is a row-major numeric table. Missing or non-numeric cells are NaN.
type Frame struct {
	Columns []string
	Rows    [][]float64

	index map[string]int
}

// NewFrame builds a frame and its column index.
func NewFrame(columns []string, rows [][]float64) *Frame {
	f := &Frame{Columns: columns, Rows: rows}
	f.reindex()
	return f
}

func (f *Frame) reindex() {
	f.index = make(map[string]int, len(f.Columns))
	for i, c := range f.Columns {
		f.index[c] = i
	}
}

// Len returns the number of rows.
func (f *Frame) Len() int {
	return len(f.Rows)
}

// ColumnIndex returns the position of a column.
func (f *Frame) ColumnIndex(name string) (int, bool) {
	if f.index == nil {
		f.reindex()
	}
	i, ok := f.index[name]
	return i, ok
}

// HasColumn reports whether the frame has a column.
func (f *Frame) HasColumn(name string) bool {
	_, ok := f.ColumnIndex(name)
	return ok
}

// Column copies one column out of the frame.
func (f *Frame) Column(name string) ([]float64, bool) {
	idx, ok := f.ColumnIndex(name)
	if !ok {
		return nil, false
	}
	out := make([]float64, len(f.Rows))
	for i, row := range f.Rows {
		out[i] = row[idx]
	}
	return out, true
}

// Subset returns a frame holding the given rows. Row slices are shared.
func (f *Frame) Subset(rows []int) *Frame {
	out := make([][]float64, len(rows))
	for i, r := range rows {
		out[i] = f.Rows[r]
	}
	return NewFrame(f.Columns, out)
}

// Sample returns n rows drawn without replacement using seed, or the frame
// itself when it has at most n rows or n <= 0.
func (f *Frame) Sample(n int, seed int64) *Frame {
	if n <= 0 || f.Len() <= n {
		return f
	}
	perm := rand.New(rand.NewSource(seed)).Perm(f.Len())[:n]
	sort.Ints(perm)
	return f.Subset(perm)
}

// ParseCSV reads a CSV with a header row into a frame.
func ParseCSV(r io.Reader) (*Frame, error) {
	header, records, err := readRecords(r)
	if err != nil {
		return nil, err
	}

	rows := make([][]float64, len(records))
	for i, rec := range records {
		row := make([]float64, len(header))
		for j := range header {
			row[j] = parseCell(rec, j)
		}
		rows[i] = row
	}
	return NewFrame(header, rows), nil
}

func readRecords(r io.Reader) ([]string, [][]string, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil, fmt.Errorf("empty CSV file: %w", errdefs.ErrValidation)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read CSV header: %w: %v", errdefs.ErrValidation, err)
	}
	for i := range header {
		header[i] = strings.TrimSpace(strings.TrimPrefix(header[i], "\ufeff"))
	}

	records, err := reader.ReadAll()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read CSV rows: %w: %v", errdefs.ErrValidation, err)
	}
	return header, records, nil
}

func parseCell(rec []string, j int) float64 {
	if j >= len(rec) {
		return math.NaN()
	}
	v := strings.TrimSpace(rec[j])
	if v == "" {
		return math.NaN()
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return math.NaN()
	}
	return f
}

// cellValue converts a raw cell for JSON previews: numbers stay numbers,
// empty cells become nil and anything else is kept as text.
func cellValue(rec []string, j int) interface{} {
	if j >= len(rec) {
		return nil
	}
	v := strings.TrimSpace(rec[j])
	if v == "" {
		return nil
	}
	if f, err := strconv.ParseFloat(v, 64); err == nil && !math.IsInf(f, 0) && !math.IsNaN(f) {
		return f
	}
	return v
}
