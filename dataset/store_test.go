package dataset

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loiht2/ctr-aiops/backend/errdefs"
	"github.com/loiht2/ctr-aiops/backend/storage"
)

func sampleCSV(rows int) []byte {
	var b strings.Builder
	b.WriteString("clicked,seq,f1,f2\n")
	for i := 0; i < rows; i++ {
		fmt.Fprintf(&b, "%d,%d,%d,%.1f\n", i%4/3, i, i*2, float64(i)/2)
	}
	return []byte(b.String())
}

func newStore(t *testing.T, mapping string) *Store {
	t.Helper()
	objects, err := storage.NewLocalStore(t.TempDir())
	require.NoError(t, err)

	mappingPath := ""
	if mapping != "" {
		mappingPath = filepath.Join(t.TempDir(), "mapping.csv")
		require.NoError(t, os.WriteFile(mappingPath, []byte(mapping), 0o600))
	}
	s, err := NewStore(objects, "uploaded_files", mappingPath)
	require.NoError(t, err)
	return s
}

func TestUploadAndLoad(t *testing.T) {
	ctx := context.Background()
	s := newStore(t, "")

	fileID, err := s.Upload(ctx, "train.csv", sampleCSV(40))
	require.NoError(t, err)

	frame, err := s.Load(ctx, fileID, 0)
	require.NoError(t, err)
	assert.Equal(t, 40, frame.Len())
	assert.Equal(t, []string{"clicked", "seq", "f1", "f2"}, frame.Columns)

	seq, ok := frame.Column("seq")
	require.True(t, ok)
	assert.Equal(t, 39.0, seq[39])
}

func TestLoadSamplesDeterministically(t *testing.T) {
	ctx := context.Background()
	s := newStore(t, "")
	fileID, err := s.Upload(ctx, "train.csv", sampleCSV(100))
	require.NoError(t, err)

	a, err := s.Load(ctx, fileID, 25)
	require.NoError(t, err)
	b, err := s.Load(ctx, fileID, 25)
	require.NoError(t, err)

	assert.Equal(t, 25, a.Len())
	assert.Equal(t, a.Rows, b.Rows)

	full, err := s.Load(ctx, fileID, 1000)
	require.NoError(t, err)
	assert.Equal(t, 100, full.Len())
}

func TestLoadUnknownFile(t *testing.T) {
	ctx := context.Background()
	s := newStore(t, "")

	_, err := s.Load(ctx, "6a0cf1a6-0f4f-4a3e-9a4c-1d0c1b5f2e11", 0)
	assert.ErrorIs(t, err, errdefs.ErrNotFound)

	_, err = s.Load(ctx, "../etc/passwd", 0)
	assert.ErrorIs(t, err, errdefs.ErrNotFound)
}

func TestValidateCSV(t *testing.T) {
	result := ValidateCSV(sampleCSV(40))
	assert.True(t, result.IsValid)
	assert.Empty(t, result.Errors)
	assert.Equal(t, 40, result.Info.TotalRows)
	assert.Equal(t, 4, result.Info.TotalColumns)
	require.NotNil(t, result.Info.CTR)
	assert.Equal(t, 10, *result.Info.ClickedOne)
	assert.Equal(t, 30, *result.Info.ClickedZero)
	assert.Equal(t, 25.0, *result.Info.CTR)
	assert.Empty(t, result.Warnings)
}

func TestValidateCSVMissingColumns(t *testing.T) {
	result := ValidateCSV([]byte("a,b\n1,2\n1,2\n,3\n"))
	assert.False(t, result.IsValid)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "clicked")
	assert.Contains(t, result.Errors[0], "seq")
	assert.Equal(t, 1, result.Info.DuplicateRows)
	assert.Equal(t, 1, result.Info.MissingValues)
	assert.InDelta(t, 16.67, result.Info.MissingPercentage, 1e-9)
	assert.Nil(t, result.Info.CTR)
}

func TestValidateCSVUnusualCTR(t *testing.T) {
	result := ValidateCSV([]byte("clicked,seq\n1,1\n1,2\n0,3\n"))
	assert.True(t, result.IsValid)
	require.Len(t, result.Warnings, 1)
	assert.Contains(t, result.Warnings[0], "66.67%")
}

func TestValidateCSVUnreadable(t *testing.T) {
	result := ValidateCSV(nil)
	assert.False(t, result.IsValid)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "Failed to read CSV file")
}

func TestPreview(t *testing.T) {
	ctx := context.Background()
	s := newStore(t, "")
	fileID, err := s.Upload(ctx, "train.csv", []byte("clicked,seq,name,f\n1,3,a,\n0,4,b,1.5\n"))
	require.NoError(t, err)

	preview, err := s.Preview(ctx, fileID, 1)
	require.NoError(t, err)
	require.Len(t, preview.Rows, 1)
	assert.Equal(t, 1.0, preview.Rows[0]["clicked"])
	assert.Equal(t, "a", preview.Rows[0]["name"])
	assert.Nil(t, preview.Rows[0]["f"])
	assert.Equal(t, map[string]string{
		"clicked": "int64",
		"seq":     "int64",
		"name":    "object",
		"f":       "float64",
	}, preview.Dtypes)
}

func TestParseCSVMissingValuesAreNaN(t *testing.T) {
	frame, err := ParseCSV(strings.NewReader("clicked,seq,f1\n1,,x\n0,2\n"))
	require.NoError(t, err)
	assert.True(t, math.IsNaN(frame.Rows[0][1]))
	assert.True(t, math.IsNaN(frame.Rows[0][2]))
	assert.True(t, math.IsNaN(frame.Rows[1][2]))
	assert.Equal(t, 2.0, frame.Rows[1][1])
}

func TestColumnDescriptions(t *testing.T) {
	s := newStore(t, "original_feature,description_kr\nf1,첫 번째 특성\nf2,두 번째 특성\n")

	got := s.ColumnDescriptions([]string{"f1", "f2", "seq"})
	assert.Equal(t, "첫 번째 특성", got["f1"])
	assert.Equal(t, "두 번째 특성", got["f2"])
	assert.Equal(t, "seq", got["seq"])
	assert.Equal(t, "f1", newStore(t, "").Describe("f1"))
}

func TestParseFeatureMappingRequiresColumns(t *testing.T) {
	_, err := ParseFeatureMapping(strings.NewReader("name,desc\nf1,x\n"))
	assert.ErrorIs(t, err, errdefs.ErrValidation)
}
