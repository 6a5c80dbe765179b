package handlers

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/loiht2/ctr-aiops/backend/config"
	"github.com/loiht2/ctr-aiops/backend/converter"
	"github.com/loiht2/ctr-aiops/backend/dataset"
	"github.com/loiht2/ctr-aiops/backend/errdefs"
	"github.com/loiht2/ctr-aiops/backend/logger"
	"github.com/loiht2/ctr-aiops/backend/middleware"
	"github.com/loiht2/ctr-aiops/backend/models"
	"github.com/loiht2/ctr-aiops/backend/monitor"
	"github.com/loiht2/ctr-aiops/backend/pdf"
	"github.com/loiht2/ctr-aiops/backend/report"
	"github.com/loiht2/ctr-aiops/backend/training"
)

const (
	// ServiceName is reported by the root and health endpoints
	ServiceName = "SK AX CTR AIOps"
	// Version of the API
	Version = "1.0.0"

	requestTimeout = 30 * time.Second
	uploadTimeout  = 60 * time.Second
)

// Handler handles HTTP and WebSocket requests
type Handler struct {
	cfg       *config.Config
	converter *converter.Converter
	datasets  *dataset.Store
	registry  *training.Registry
	reports   *report.Service
	pdfs      *pdf.Renderer
	monitor   *monitor.Monitor
	upgrader  websocket.Upgrader
}

// NewHandler creates a new handler instance
func NewHandler(cfg *config.Config, datasets *dataset.Store, registry *training.Registry, reports *report.Service, pdfs *pdf.Renderer, mon *monitor.Monitor) *Handler {
	return &Handler{
		cfg:       cfg,
		converter: converter.NewConverter(),
		datasets:  datasets,
		registry:  registry,
		reports:   reports,
		pdfs:      pdfs,
		monitor:   mon,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// Register mounts every route on the router
func (h *Handler) Register(router *gin.Engine) {
	router.GET("/", h.Root)

	api := router.Group("/api")
	{
		api.GET("/health", h.Health)
		api.POST("/upload", h.UploadDataset)

		train := api.Group("/train")
		{
			train.POST("", h.StartTraining)
			train.GET("/status/:run_id", h.GetTrainingStatus)
			train.GET("/runs", h.ListRuns)
			train.GET("/results/:run_id", h.GetTrainingResults)
			train.POST("/cancel/:run_id", h.CancelTraining)
		}

		reports := api.Group("/report")
		{
			reports.GET("/ai/:run_id", h.GetAIReport)
			reports.GET("/feature-importance/:run_id", h.GetFeatureImportance)
			reports.GET("/correlation/:run_id", h.GetCorrelation)
			reports.POST("/generate-pdf/:run_id", h.GeneratePDF)
			reports.GET("/pdf/:run_id", h.DownloadPDF)
		}

		dashboard := api.Group("/dashboard")
		{
			dashboard.GET("/client", h.GetClientDashboard)
			dashboard.GET("/si", h.GetSIDashboard)
		}
	}

	ws := router.Group("/ws")
	{
		ws.GET("/training/:run_id", h.TrainingStream)
		ws.GET("/performance", h.PerformanceStream)
		ws.GET("/alerts", h.AlertsStream)
	}
}

// respondError logs err and answers with the status its class maps to
func respondError(c *gin.Context, message string, err error) {
	status := errdefs.HTTPStatus(err)
	fields := map[string]interface{}{
		"path":       c.Request.URL.Path,
		"status":     status,
		"request_id": middleware.GetRequestID(c),
	}
	if status >= http.StatusInternalServerError {
		logger.ErrorWithFields(message+": "+err.Error(), fields)
	} else {
		logger.WarnWithFields(message+": "+err.Error(), fields)
	}
	c.JSON(status, gin.H{
		"error":   message,
		"details": err.Error(),
	})
}

// Root handles GET /
func (h *Handler) Root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"message": ServiceName + " API",
		"version": Version,
		"status":  "running",
	})
}

// Health handles GET /api/health
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":      "healthy",
		"service":     ServiceName,
		"llm_enabled": h.reports.UsesGenerator(),
		"timestamp":   time.Now().Format(time.RFC3339),
	})
}

// UploadDataset handles POST /api/upload
// Stores the CSV and returns its validation verdict with a preview
func (h *Handler) UploadDataset(c *gin.Context) {
	file, header, err := c.Request.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "File is required",
			"details": err.Error(),
		})
		return
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		respondError(c, "Upload failed", err)
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), uploadTimeout)
	defer cancel()

	fileID, err := h.datasets.Upload(ctx, header.Filename, content)
	if err != nil {
		respondError(c, "Upload failed", err)
		return
	}

	validation := dataset.ValidateCSV(content)
	preview, err := dataset.PreviewCSV(content, dataset.DefaultPreviewRows)
	if err != nil {
		// unreadable files are reported through the validation errors
		preview = &dataset.Preview{Rows: []map[string]interface{}{}, Columns: []string{}}
	}

	c.JSON(http.StatusOK, models.UploadResponse{
		FileID:   fileID,
		Filename: header.Filename,
		Rows:     validation.Info.TotalRows,
		Columns:  validation.Info.TotalColumns,
		Validation: models.ValidationSummary{
			IsValid:  validation.IsValid,
			Errors:   validation.Errors,
			Warnings: validation.Warnings,
		},
		Info:               validation.Info,
		Preview:            preview.Rows,
		ColumnNames:        preview.Columns,
		ColumnDescriptions: h.datasets.ColumnDescriptions(preview.Columns),
	})
}

// StartTraining handles POST /api/train
func (h *Handler) StartTraining(c *gin.Context) {
	var req models.TrainRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request payload",
			"details": err.Error(),
		})
		return
	}

	cfg, err := h.converter.ParseTrainingConfig(req.Config)
	if err != nil {
		respondError(c, "Invalid training config", err)
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), requestTimeout)
	defer cancel()

	runID, err := h.registry.Start(ctx, req.FileID, cfg)
	if err != nil {
		respondError(c, "Training failed to start", err)
		return
	}

	c.JSON(http.StatusOK, models.TrainResponse{
		RunID:  runID,
		Status: models.StatusTraining,
	})
}

// GetTrainingStatus handles GET /api/train/status/:run_id
func (h *Handler) GetTrainingStatus(c *gin.Context) {
	status, err := h.registry.Status(c.Param("run_id"))
	if err != nil {
		respondError(c, "Training run not found", err)
		return
	}
	c.JSON(http.StatusOK, status)
}

// ListRuns handles GET /api/train/runs
func (h *Handler) ListRuns(c *gin.Context) {
	c.JSON(http.StatusOK, h.registry.List())
}

// GetTrainingResults handles GET /api/train/results/:run_id
func (h *Handler) GetTrainingResults(c *gin.Context) {
	results, err := h.registry.Results(c.Param("run_id"))
	if err != nil {
		respondError(c, "Training run not found", err)
		return
	}
	c.JSON(http.StatusOK, results)
}

// CancelTraining handles POST /api/train/cancel/:run_id
func (h *Handler) CancelTraining(c *gin.Context) {
	runID := c.Param("run_id")
	if err := h.registry.Cancel(runID); err != nil {
		respondError(c, "Failed to cancel training run", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"run_id":  runID,
		"message": "Cancellation requested",
	})
}
