// Package client provides the API client for the CTR AIOps backend
package client

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/loiht2/ctr-aiops/backend/models"
)

const (
	// DefaultBaseURL is the address of a locally running server
	DefaultBaseURL = "http://localhost:8000"
	// DefaultTimeout is the default timeout for API requests
	DefaultTimeout = 30 * time.Second
)

// Client is the interface for the API client
type Client interface {
	Health(ctx context.Context) (map[string]interface{}, error)

	// Datasets and training
	Upload(ctx context.Context, filename string, content []byte) (models.UploadResponse, error)
	Train(ctx context.Context, fileID string, config map[string]interface{}) (models.TrainResponse, error)
	Status(ctx context.Context, runID string) (models.StatusResponse, error)
	Runs(ctx context.Context) ([]models.RunSummary, error)
	Results(ctx context.Context, runID string) (models.ResultsResponse, error)
	Cancel(ctx context.Context, runID string) error

	// Reports
	AIReport(ctx context.Context, runID string) (models.AIReportResponse, error)
	FeatureImportance(ctx context.Context, runID string) ([]models.FeatureImportanceItem, error)
	GeneratePDF(ctx context.Context, runID string) (models.PDFResponse, error)
	DownloadPDF(ctx context.Context, runID string) ([]byte, string, error)
}

var _ Client = &APIClient{}

// Options contains configuration options for the API client
type Options struct {
	// BaseURL is the base URL of the API
	BaseURL string

	// Timeout is the request timeout
	Timeout time.Duration
}

// DefaultOptions returns the default client options
func DefaultOptions() *Options {
	return &Options{
		BaseURL: DefaultBaseURL,
		Timeout: DefaultTimeout,
	}
}

// APIError is a non-2xx answer of the server
type APIError struct {
	StatusCode int    `json:"-"`
	Message    string `json:"error"`
	Details    string `json:"details"`
}

func (e *APIError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%d %s: %s", e.StatusCode, e.Message, e.Details)
	}
	return fmt.Sprintf("%d %s", e.StatusCode, e.Message)
}

// APIClient implements the Client interface
type APIClient struct {
	http *resty.Client
}

// NewClient creates a new API client with the given options
func NewClient(opts *Options) (*APIClient, error) {
	if opts == nil {
		opts = DefaultOptions()
	}
	u, err := url.Parse(opts.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid base URL %q: scheme and host are required", opts.BaseURL)
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	rc := resty.New().
		SetBaseURL(strings.TrimRight(opts.BaseURL, "/")).
		SetTimeout(timeout).
		SetHeader("Accept", "application/json")
	return &APIClient{http: rc}, nil
}

// do sends the request and decodes a JSON answer into out
func (c *APIClient) do(req *resty.Request, method, endpoint string, out interface{}) (*resty.Response, error) {
	apiErr := &APIError{}
	if out != nil {
		req.SetResult(out)
	}
	req.SetError(apiErr)

	resp, err := req.Execute(method, endpoint)
	if err != nil {
		return nil, fmt.Errorf("error sending request: %w", err)
	}
	if resp.IsError() {
		apiErr.StatusCode = resp.StatusCode()
		if apiErr.Message == "" {
			apiErr.Message = strings.TrimSpace(string(resp.Body()))
		}
		return resp, apiErr
	}
	return resp, nil
}

func (c *APIClient) request(ctx context.Context) *resty.Request {
	return c.http.R().SetContext(ctx)
}

// Health calls GET /api/health
func (c *APIClient) Health(ctx context.Context) (map[string]interface{}, error) {
	var out map[string]interface{}
	_, err := c.do(c.request(ctx), resty.MethodGet, "/api/health", &out)
	return out, err
}

// Upload sends a CSV file to POST /api/upload
func (c *APIClient) Upload(ctx context.Context, filename string, content []byte) (models.UploadResponse, error) {
	var out models.UploadResponse
	req := c.request(ctx).SetFileReader("file", filename, bytes.NewReader(content))
	_, err := c.do(req, resty.MethodPost, "/api/upload", &out)
	return out, err
}

// Train starts a run on an uploaded file
func (c *APIClient) Train(ctx context.Context, fileID string, config map[string]interface{}) (models.TrainResponse, error) {
	var out models.TrainResponse
	req := c.request(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(models.TrainRequest{FileID: fileID, Config: config})
	_, err := c.do(req, resty.MethodPost, "/api/train", &out)
	return out, err
}

// Status returns the progress of a run
func (c *APIClient) Status(ctx context.Context, runID string) (models.StatusResponse, error) {
	var out models.StatusResponse
	_, err := c.do(c.request(ctx), resty.MethodGet, "/api/train/status/"+url.PathEscape(runID), &out)
	return out, err
}

// Runs lists every run
func (c *APIClient) Runs(ctx context.Context) ([]models.RunSummary, error) {
	var out []models.RunSummary
	_, err := c.do(c.request(ctx), resty.MethodGet, "/api/train/runs", &out)
	return out, err
}

// Results returns the full record of a run
func (c *APIClient) Results(ctx context.Context, runID string) (models.ResultsResponse, error) {
	var out models.ResultsResponse
	_, err := c.do(c.request(ctx), resty.MethodGet, "/api/train/results/"+url.PathEscape(runID), &out)
	return out, err
}

// Cancel requests cancellation of a running job
func (c *APIClient) Cancel(ctx context.Context, runID string) error {
	_, err := c.do(c.request(ctx), resty.MethodPost, "/api/train/cancel/"+url.PathEscape(runID), nil)
	return err
}

// AIReport returns the AI insights of a run
func (c *APIClient) AIReport(ctx context.Context, runID string) (models.AIReportResponse, error) {
	var out models.AIReportResponse
	_, err := c.do(c.request(ctx), resty.MethodGet, "/api/report/ai/"+url.PathEscape(runID), &out)
	return out, err
}

// FeatureImportance returns the described importance table of a run
func (c *APIClient) FeatureImportance(ctx context.Context, runID string) ([]models.FeatureImportanceItem, error) {
	var out []models.FeatureImportanceItem
	_, err := c.do(c.request(ctx), resty.MethodGet, "/api/report/feature-importance/"+url.PathEscape(runID), &out)
	return out, err
}

// GeneratePDF renders a new PDF report for a run
func (c *APIClient) GeneratePDF(ctx context.Context, runID string) (models.PDFResponse, error) {
	var out models.PDFResponse
	_, err := c.do(c.request(ctx), resty.MethodPost, "/api/report/generate-pdf/"+url.PathEscape(runID), &out)
	return out, err
}

// DownloadPDF fetches the latest PDF of a run along with its file name
func (c *APIClient) DownloadPDF(ctx context.Context, runID string) ([]byte, string, error) {
	req := c.request(ctx).SetHeader("Accept", "application/pdf")
	resp, err := c.do(req, resty.MethodGet, "/api/report/pdf/"+url.PathEscape(runID), nil)
	if err != nil {
		return nil, "", err
	}
	return resp.Body(), filename(resp.Header().Get("Content-Disposition")), nil
}

// filename extracts the file name of an attachment header
func filename(disposition string) string {
	const key = "filename="
	i := strings.Index(disposition, key)
	if i < 0 {
		return ""
	}
	return strings.Trim(disposition[i+len(key):], `"`)
}
