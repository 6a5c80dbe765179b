package handlers

import (
	"context"
	"fmt"
	"net/http"
	"path"

	"github.com/gin-gonic/gin"

	"github.com/loiht2/ctr-aiops/backend/converter"
	"github.com/loiht2/ctr-aiops/backend/dataset"
	"github.com/loiht2/ctr-aiops/backend/errdefs"
	"github.com/loiht2/ctr-aiops/backend/models"
	"github.com/loiht2/ctr-aiops/backend/report"
)

// GetAIReport handles GET /api/report/ai/:run_id
func (h *Handler) GetAIReport(c *gin.Context) {
	runID := c.Param("run_id")
	results, err := h.registry.Results(runID)
	if err != nil {
		respondError(c, "Training run not found", err)
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), requestTimeout)
	defer cancel()

	rep := h.reports.Generate(ctx, runID, results, results.FeatureImportance)
	c.JSON(http.StatusOK, report.ToResponse(rep, report.Summarize(rep, report.Accuracy(results.Metrics))))
}

// GetFeatureImportance handles GET /api/report/feature-importance/:run_id
func (h *Handler) GetFeatureImportance(c *gin.Context) {
	runID := c.Param("run_id")
	results, err := h.registry.Results(runID)
	if err != nil {
		respondError(c, "Training run not found", err)
		return
	}
	if err := importanceReady(results); err != nil {
		respondError(c, "Feature importance not available", err)
		return
	}

	c.JSON(http.StatusOK, h.describe(results.FeatureImportance))
}

// GetCorrelation handles GET /api/report/correlation/:run_id
// The matrix covers the top features plus the label over a sample of rows
func (h *Handler) GetCorrelation(c *gin.Context) {
	runID := c.Param("run_id")
	results, err := h.registry.Results(runID)
	if err != nil {
		respondError(c, "Training run not found", err)
		return
	}
	if err := importanceReady(results); err != nil {
		respondError(c, "Correlation analysis not available", err)
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), requestTimeout)
	defer cancel()

	frame, err := h.datasets.Load(ctx, results.FileID, dataset.CorrelationSampleSize)
	if err != nil {
		respondError(c, "Correlation analysis failed", err)
		return
	}

	top := make([]string, 0, converter.TopFeatureCount)
	for _, f := range converter.TopFeatures(results.FeatureImportance, converter.TopFeatureCount) {
		if frame.HasColumn(f.Feature) {
			top = append(top, f.Feature)
		}
	}
	columns := append([]string(nil), top...)
	if frame.HasColumn(dataset.LabelColumn) {
		columns = append(columns, dataset.LabelColumn)
	}

	matrix, err := frame.Correlation(columns)
	if err != nil {
		respondError(c, "Correlation analysis failed", err)
		return
	}

	c.JSON(http.StatusOK, models.CorrelationResponse{
		Features:            columns,
		Matrix:              matrix,
		FeatureDescriptions: h.datasets.ColumnDescriptions(top),
	})
}

// GeneratePDF handles POST /api/report/generate-pdf/:run_id
func (h *Handler) GeneratePDF(c *gin.Context) {
	runID := c.Param("run_id")
	results, err := h.registry.Results(runID)
	if err != nil {
		respondError(c, "Training run not found", err)
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), requestTimeout)
	defer cancel()

	rep := h.reports.Generate(ctx, runID, results, results.FeatureImportance)
	sum := report.Summarize(rep, report.Accuracy(results.Metrics))
	key, err := h.pdfs.Generate(ctx, runID, rep, sum, h.describe(results.FeatureImportance))
	if err != nil {
		respondError(c, "PDF generation failed", err)
		return
	}

	c.JSON(http.StatusOK, models.PDFResponse{
		PDFURL:  "/api/report/pdf/" + runID,
		Status:  "generated",
		FileKey: key,
	})
}

// DownloadPDF handles GET /api/report/pdf/:run_id
func (h *Handler) DownloadPDF(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), requestTimeout)
	defer cancel()

	key, data, err := h.pdfs.Latest(ctx, c.Param("run_id"))
	if err != nil {
		respondError(c, "PDF file not found", err)
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", path.Base(key)))
	c.Data(http.StatusOK, "application/pdf", data)
}

// GetClientDashboard handles GET /api/dashboard/client
func (h *Handler) GetClientDashboard(c *gin.Context) {
	latest, ok := h.registry.Latest()
	if !ok {
		c.JSON(http.StatusOK, report.Dashboard(nil, nil))
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), requestTimeout)
	defer cancel()

	results := h.converter.ToResultsResponse(latest)
	rep := h.reports.Generate(ctx, latest.RunID, results, results.FeatureImportance)
	c.JSON(http.StatusOK, report.Dashboard(latest, rep))
}

// GetSIDashboard handles GET /api/dashboard/si
func (h *Handler) GetSIDashboard(c *gin.Context) {
	var latest *models.RunSummary
	if job, ok := h.registry.Latest(); ok {
		summary := h.converter.ToRunSummary(job)
		latest = &summary
	}
	c.JSON(http.StatusOK, h.monitor.SIDashboard(latest))
}

func (h *Handler) describe(rows []models.FeatureImportance) []models.FeatureImportanceItem {
	out := make([]models.FeatureImportanceItem, len(rows))
	for i, row := range rows {
		out[i] = models.FeatureImportanceItem{
			Feature:     row.Feature,
			Importance:  row.Importance,
			Description: h.datasets.Describe(row.Feature),
		}
	}
	return out
}

func importanceReady(results models.ResultsResponse) error {
	if len(results.FeatureImportance) == 0 {
		return fmt.Errorf("run %s has no feature importance yet (status %s): %w", results.RunID, results.Status, errdefs.ErrNotReady)
	}
	return nil
}
