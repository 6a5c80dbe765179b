package dataset

import (
	"bytes"
	"fmt"
	"math"
	"strings"
)

// RequiredColumns must be present for a dataset to be trainable.
var RequiredColumns = []string{LabelColumn, SequenceColumn}

// ValidationResult is returned to the uploader.
type ValidationResult struct {
	IsValid  bool     `json:"isValid"`
	Errors   []string `json:"errors"`
	Warnings []string `json:"warnings"`
	Info     Info     `json:"info"`
}

// Info summarizes the uploaded table.
type Info struct {
	TotalRows         int      `json:"totalRows"`
	TotalColumns      int      `json:"totalColumns"`
	MissingValues     int      `json:"missingValues"`
	MissingPercentage float64  `json:"missingPercentage"`
	DuplicateRows     int      `json:"duplicateRows"`
	ClickedOne        *int     `json:"clickedOne,omitempty"`
	ClickedZero       *int     `json:"clickedZero,omitempty"`
	CTR               *float64 `json:"ctr,omitempty"`
}

// ValidateCSV checks the required columns and computes table statistics.
// Unreadable input yields an invalid result rather than an error.
func ValidateCSV(data []byte) ValidationResult {
	result := ValidationResult{IsValid: true, Errors: []string{}, Warnings: []string{}}

	header, records, err := readRecords(bytes.NewReader(data))
	if err != nil {
		result.IsValid = false
		result.Errors = append(result.Errors, fmt.Sprintf("Failed to read CSV file: %v", err))
		return result
	}

	present := make(map[string]int, len(header))
	for i, h := range header {
		present[h] = i
	}
	var missing []string
	for _, col := range RequiredColumns {
		if _, ok := present[col]; !ok {
			missing = append(missing, col)
		}
	}
	if len(missing) > 0 {
		result.IsValid = false
		result.Errors = append(result.Errors, fmt.Sprintf("Missing required columns: [%s]", strings.Join(missing, ", ")))
	}

	info := Info{TotalRows: len(records), TotalColumns: len(header)}
	seen := make(map[string]struct{}, len(records))
	for _, rec := range records {
		for j := range header {
			if j >= len(rec) || strings.TrimSpace(rec[j]) == "" {
				info.MissingValues++
			}
		}
		k := strings.Join(rec, "\x1f")
		if _, dup := seen[k]; dup {
			info.DuplicateRows++
		} else {
			seen[k] = struct{}{}
		}
	}
	if cells := len(records) * len(header); cells > 0 {
		info.MissingPercentage = round(float64(info.MissingValues)/float64(cells)*100, 2)
	}

	if idx, ok := present[LabelColumn]; ok {
		var ones, zeros, total int
		for _, rec := range records {
			v := parseCell(rec, idx)
			if math.IsNaN(v) {
				continue
			}
			total++
			switch v {
			case 1:
				ones++
			case 0:
				zeros++
			}
		}
		ctr := 0.0
		if total > 0 {
			ctr = round(float64(ones)/float64(total)*100, 2)
		}
		info.ClickedOne, info.ClickedZero, info.CTR = &ones, &zeros, &ctr

		if ctr < 1 || ctr > 50 {
			result.Warnings = append(result.Warnings, fmt.Sprintf("CTR is %v%%, which is unusual", ctr))
		}
	}

	result.Info = info
	return result
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
