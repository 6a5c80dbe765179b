// Package pdf renders insight reports to PDF and keeps them in the object
// store.
package pdf

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-pdf/fpdf"

	"github.com/loiht2/ctr-aiops/backend/errdefs"
	"github.com/loiht2/ctr-aiops/backend/logger"
	"github.com/loiht2/ctr-aiops/backend/models"
	"github.com/loiht2/ctr-aiops/backend/report"
	"github.com/loiht2/ctr-aiops/backend/storage"
)

// FilePrefix starts the name of every report PDF.
const FilePrefix = "CTR_Insights_Report_"

const (
	timestampLayout = "20060102_150405"
	unicodeFamily   = "report"
	coreFamily      = "Helvetica"

	maxInsights = 4
	maxActions  = 4
	maxFeatures = 10
)

// Renderer writes report PDFs under a directory of an object store.
type Renderer struct {
	objects storage.ObjectStore
	dir     string
	font    []byte
	now     func() time.Time
}

// NewRenderer creates a renderer. fontPath names a UTF-8 TrueType font; when
// empty, the core Helvetica font is used.
func NewRenderer(objects storage.ObjectStore, dir, fontPath string) (*Renderer, error) {
	r := &Renderer{objects: objects, dir: dir, now: time.Now}
	if fontPath != "" {
		font, err := os.ReadFile(fontPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read PDF font %s: %w", fontPath, err)
		}
		r.font = font
	}
	return r, nil
}

// Key returns the object key of a report rendered at ts.
func (r *Renderer) Key(runID string, ts time.Time) string {
	return storage.Key(r.dir, FilePrefix+runID+"_"+ts.Format(timestampLayout)+".pdf")
}

// Generate renders the report of a run and stores it. It returns the object
// key of the new PDF.
func (r *Renderer) Generate(ctx context.Context, runID string, rep *report.Report, sum report.Summary, features []models.FeatureImportanceItem) (string, error) {
	now := r.now()
	data, err := r.Render(rep, sum, features, now)
	if err != nil {
		return "", err
	}

	key := r.Key(runID, now)
	if err := storage.PutBytes(ctx, r.objects, key, data, "application/pdf"); err != nil {
		return "", fmt.Errorf("failed to store PDF: %w", err)
	}
	logger.WithFields(map[string]interface{}{
		"run_id": runID,
		"key":    key,
		"bytes":  len(data),
	}).Info("PDF report generated")
	return key, nil
}

// Latest returns the key and content of the most recent PDF of a run.
func (r *Renderer) Latest(ctx context.Context, runID string) (string, []byte, error) {
	keys, err := r.objects.List(ctx, storage.Key(r.dir, FilePrefix+runID+"_"))
	if err != nil {
		return "", nil, fmt.Errorf("failed to list PDFs: %w", err)
	}

	latest := ""
	for _, key := range keys {
		if strings.HasSuffix(key, ".pdf") && key > latest {
			latest = key
		}
	}
	if latest == "" {
		return "", nil, fmt.Errorf("PDF report for run %s: %w", runID, errdefs.ErrNotFound)
	}

	data, err := storage.ReadAll(ctx, r.objects, latest)
	if err != nil {
		return "", nil, err
	}
	return latest, data, nil
}

// Render lays the report out on A4 pages.
func (r *Renderer) Render(rep *report.Report, sum report.Summary, features []models.FeatureImportanceItem, now time.Time) ([]byte, error) {
	doc := fpdf.New("P", "mm", "A4", "")
	doc.SetTitle("SK Planet AIOps - 마케팅 인사이트 보고서", true)
	doc.SetCreator("ctr-aiops", true)
	doc.SetAutoPageBreak(true, 15)

	w := &writer{doc: doc, family: coreFamily, tr: doc.UnicodeTranslatorFromDescriptor("")}
	if r.font != nil {
		doc.AddUTF8FontFromBytes(unicodeFamily, "", r.font)
		doc.AddUTF8FontFromBytes(unicodeFamily, "B", r.font)
		w.family = unicodeFamily
		w.tr = func(s string) string { return s }
	}

	doc.AddPage()
	w.title("SK Planet AIOps - 마케팅 인사이트 보고서")

	w.heading("Executive Summary")
	summary := rep.Summary
	if summary == "" {
		summary = "No summary available"
	}
	w.paragraph(summary)

	w.heading("핵심 성과 지표")
	w.table([]float64{70, 50, 30}, [3]int{37, 99, 235}, [][]string{
		{"지표", "값", "단위"},
		{"모델 정확도", fmt.Sprintf("%.1f", sum.Accuracy), "%"},
		{"CTR 향상 예상", fmt.Sprintf("%.1f", sum.ROIIncrease), "%"},
		{"추가 수익 예상", fmt.Sprintf("%.2f", sum.AdditionalRevenue), "억원"},
	})

	if len(rep.Insights) > 0 {
		w.heading("AI 인사이트")
		for i, in := range rep.Insights {
			if i == maxInsights {
				break
			}
			w.subheading(fmt.Sprintf("%d. %s", i+1, in.Title))
			w.paragraph(in.Description)
			w.paragraph("권장사항: " + in.Recommendation)
		}
	}

	if len(rep.ActionPlan) > 0 {
		w.heading("실행 계획")
		for i, a := range rep.ActionPlan {
			if i == maxActions {
				break
			}
			w.subheading(fmt.Sprintf("%d. %s", i+1, a.Action))
			w.paragraph(a.Description)
			w.paragraph("기대 효과: " + a.ExpectedImpact)
			w.paragraph("일정: " + a.Timeline)
		}
	}

	if len(features) > 0 {
		doc.AddPage()
		w.heading("피처 중요도 분석")
		rows := [][]string{{"순위", "피처명", "중요도", "설명"}}
		for i, f := range features {
			if i == maxFeatures {
				break
			}
			rows = append(rows, []string{
				fmt.Sprintf("%d", i+1),
				f.Feature,
				fmt.Sprintf("%.3f", f.Importance),
				f.Description,
			})
		}
		w.table([]float64{15, 45, 25, 95}, [3]int{124, 58, 237}, rows)
	}

	w.paragraph("---")
	w.paragraph(fmt.Sprintf("보고서 생성일: %d년 %02d월 %02d일", now.Year(), now.Month(), now.Day()))
	w.paragraph("SK AX - SK Planet AIOps")

	var buf bytes.Buffer
	if err := doc.Output(&buf); err != nil {
		return nil, fmt.Errorf("failed to render PDF: %w", err)
	}
	return buf.Bytes(), nil
}

type writer struct {
	doc    *fpdf.Fpdf
	family string
	tr     func(string) string
}

func (w *writer) title(text string) {
	w.doc.SetFont(w.family, "B", 20)
	w.doc.SetTextColor(37, 99, 235)
	w.doc.CellFormat(0, 14, w.tr(text), "", 1, "C", false, 0, "")
	w.doc.Ln(6)
}

func (w *writer) heading(text string) {
	w.doc.SetFont(w.family, "B", 15)
	w.doc.SetTextColor(124, 58, 237)
	w.doc.CellFormat(0, 10, w.tr(text), "", 1, "L", false, 0, "")
	w.doc.Ln(1)
}

func (w *writer) subheading(text string) {
	w.doc.SetFont(w.family, "B", 12)
	w.doc.SetTextColor(0, 0, 0)
	w.doc.CellFormat(0, 8, w.tr(text), "", 1, "L", false, 0, "")
}

func (w *writer) paragraph(text string) {
	w.doc.SetFont(w.family, "", 10)
	w.doc.SetTextColor(0, 0, 0)
	w.doc.MultiCell(0, 5, w.tr(text), "", "L", false)
	w.doc.Ln(2)
}

// table draws rows with the first one as a coloured header.
func (w *writer) table(widths []float64, header [3]int, rows [][]string) {
	w.doc.SetDrawColor(0, 0, 0)
	for i, row := range rows {
		if i == 0 {
			w.doc.SetFont(w.family, "B", 10)
			w.doc.SetFillColor(header[0], header[1], header[2])
			w.doc.SetTextColor(245, 245, 245)
		} else {
			w.doc.SetFont(w.family, "", 9)
			w.doc.SetFillColor(245, 245, 220)
			w.doc.SetTextColor(0, 0, 0)
		}
		for j, cell := range row {
			w.doc.CellFormat(widths[j], 8, w.tr(cell), "1", 0, "C", true, 0, "")
		}
		w.doc.Ln(-1)
	}
	w.doc.Ln(6)
}
