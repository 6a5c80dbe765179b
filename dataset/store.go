package dataset

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/loiht2/ctr-aiops/backend/errdefs"
	"github.com/loiht2/ctr-aiops/backend/logger"
	"github.com/loiht2/ctr-aiops/backend/storage"
)

// DefaultPreviewRows is the number of rows returned by Preview when the
// caller does not ask for a specific count.
const DefaultPreviewRows = 10

// Store keeps uploaded CSV files in an object store under a prefix.
type Store struct {
	objects      storage.ObjectStore
	prefix       string
	descriptions map[string]string
}

// Preview is the head of an uploaded file.
type Preview struct {
	Rows    []map[string]interface{} `json:"preview"`
	Columns []string                 `json:"columns"`
	Dtypes  map[string]string        `json:"dtypes"`
}

// NewStore creates a dataset store. mappingPath, when set and present on
// disk, is a CSV with original_feature and description_kr columns.
func NewStore(objects storage.ObjectStore, uploadDir, mappingPath string) (*Store, error) {
	s := &Store{
		objects: objects,
		prefix:  strings.Trim(uploadDir, "/"),
	}

	if mappingPath == "" {
		return s, nil
	}
	f, err := os.Open(mappingPath)
	if errors.Is(err, os.ErrNotExist) {
		logger.Warnf("Feature mapping %s not found, column descriptions disabled", mappingPath)
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open feature mapping: %w", err)
	}
	defer f.Close()

	descriptions, err := ParseFeatureMapping(f)
	if err != nil {
		return nil, err
	}
	s.descriptions = descriptions
	logger.Infof("Loaded %d feature descriptions from %s", len(descriptions), mappingPath)
	return s, nil
}

// ParseFeatureMapping reads original_feature -> description_kr pairs.
func ParseFeatureMapping(r io.Reader) (map[string]string, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read feature mapping: %w", err)
	}
	if len(records) == 0 {
		return map[string]string{}, nil
	}

	keyIdx, descIdx := -1, -1
	for i, h := range records[0] {
		switch strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")) {
		case "original_feature":
			keyIdx = i
		case "description_kr":
			descIdx = i
		}
	}
	if keyIdx < 0 || descIdx < 0 {
		return nil, fmt.Errorf("feature mapping needs original_feature and description_kr columns: %w", errdefs.ErrValidation)
	}

	out := make(map[string]string, len(records)-1)
	for _, rec := range records[1:] {
		if keyIdx >= len(rec) || descIdx >= len(rec) {
			continue
		}
		key := strings.TrimSpace(rec[keyIdx])
		if _, seen := out[key]; seen || key == "" {
			continue
		}
		out[key] = rec[descIdx]
	}
	return out, nil
}

// Upload saves content under a fresh file id and returns the id.
func (s *Store) Upload(ctx context.Context, filename string, content []byte) (string, error) {
	fileID := uuid.New().String()
	ext := path.Ext(filename)
	if ext == "" {
		ext = ".csv"
	}

	key := storage.Key(s.prefix, fileID+ext)
	if err := storage.PutBytes(ctx, s.objects, key, content, "text/csv"); err != nil {
		return "", fmt.Errorf("failed to store upload: %w", err)
	}

	logger.WithFields(map[string]interface{}{
		"filename": filename,
		"file_id":  fileID,
		"bytes":    len(content),
	}).Info("File uploaded")
	return fileID, nil
}

func (s *Store) key(ctx context.Context, fileID string) (string, error) {
	if _, err := uuid.Parse(fileID); err != nil {
		return "", fmt.Errorf("file with ID %s not found: %w", fileID, errdefs.ErrNotFound)
	}
	keys, err := s.objects.List(ctx, storage.Key(s.prefix, fileID))
	if err != nil {
		return "", fmt.Errorf("failed to look up file %s: %w", fileID, err)
	}
	if len(keys) == 0 {
		return "", fmt.Errorf("file with ID %s not found: %w", fileID, errdefs.ErrNotFound)
	}
	return keys[0], nil
}

// Raw returns the bytes of an uploaded file.
func (s *Store) Raw(ctx context.Context, fileID string) ([]byte, error) {
	key, err := s.key(ctx, fileID)
	if err != nil {
		return nil, err
	}
	return storage.ReadAll(ctx, s.objects, key)
}

// Load parses an uploaded file. When sampleSize is positive and smaller than
// the row count, a seeded sample of sampleSize rows is returned.
func (s *Store) Load(ctx context.Context, fileID string, sampleSize int) (*Frame, error) {
	data, err := s.Raw(ctx, fileID)
	if err != nil {
		return nil, err
	}
	frame, err := ParseCSV(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	return frame.Sample(sampleSize, SampleSeed), nil
}

// Validate runs ValidateCSV on an uploaded file.
func (s *Store) Validate(ctx context.Context, fileID string) (ValidationResult, error) {
	data, err := s.Raw(ctx, fileID)
	if err != nil {
		return ValidationResult{}, err
	}
	return ValidateCSV(data), nil
}

// Preview returns the first rows of an uploaded file.
func (s *Store) Preview(ctx context.Context, fileID string, rows int) (*Preview, error) {
	data, err := s.Raw(ctx, fileID)
	if err != nil {
		return nil, err
	}
	return PreviewCSV(data, rows)
}

// PreviewCSV returns the first rows of a CSV with inferred column types.
func PreviewCSV(data []byte, rows int) (*Preview, error) {
	if rows <= 0 {
		rows = DefaultPreviewRows
	}
	header, records, err := readRecords(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}

	n := rows
	if len(records) < n {
		n = len(records)
	}
	out := make([]map[string]interface{}, n)
	for i := 0; i < n; i++ {
		row := make(map[string]interface{}, len(header))
		for j, col := range header {
			row[col] = cellValue(records[i], j)
		}
		out[i] = row
	}

	dtypes := make(map[string]string, len(header))
	for j, col := range header {
		dtypes[col] = inferType(records, j)
	}
	return &Preview{Rows: out, Columns: header, Dtypes: dtypes}, nil
}

// inferType names a column type the way dataframe tools report it.
func inferType(records [][]string, j int) string {
	kind := "int64"
	seen := false
	for _, rec := range records {
		if j >= len(rec) {
			continue
		}
		v := strings.TrimSpace(rec[j])
		if v == "" {
			kind = "float64"
			continue
		}
		seen = true
		if _, err := strconv.ParseInt(v, 10, 64); err == nil {
			continue
		}
		if f, err := strconv.ParseFloat(v, 64); err == nil && !math.IsNaN(f) {
			kind = "float64"
			continue
		}
		return "object"
	}
	if !seen {
		return "float64"
	}
	return kind
}

// ColumnDescriptions maps each column to its description, or to itself when
// none is known.
func (s *Store) ColumnDescriptions(columns []string) map[string]string {
	out := make(map[string]string, len(columns))
	for _, col := range columns {
		if desc, ok := s.descriptions[col]; ok {
			out[col] = desc
		} else {
			out[col] = col
		}
	}
	return out
}

// Describe returns the description of a single column.
func (s *Store) Describe(column string) string {
	if desc, ok := s.descriptions[column]; ok {
		return desc
	}
	return column
}
