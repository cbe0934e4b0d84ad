// Package engine contains the Query Engine client used to fetch the dataset
// an anonymization run operates on.
package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	// DefaultBaseURL is the production Query Engine endpoint.
	DefaultBaseURL = "https://query.vana.org"

	defaultTimeout      = 150 * time.Second
	defaultPollInterval = 5 * time.Second
	signatureHeader     = "X-Query-Signature"
)

// Config contains Query Engine client settings.
type Config struct {
	BaseURL        string        `json:"base_url" mapstructure:"base_url"`
	QuerySignature string        `json:"-" mapstructure:"-"`
	Timeout        time.Duration `json:"timeout" mapstructure:"timeout"`
	PollInterval   time.Duration `json:"poll_interval" mapstructure:"poll_interval"`
}

// QueryError is a failure reported by the Query Engine.
type QueryError struct {
	Message    string
	StatusCode int
}

func (e *QueryError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s (status %d)", e.Message, e.StatusCode)
	}
	return e.Message
}

// QueryResult is the outcome of a completed query.
type QueryResult struct {
	QueryID  string
	Status   string
	FilePath string
}

// Client executes signed queries against the Query Engine and downloads the
// result dataset. Polling is paced by a rate limiter so retries never hit
// the engine faster than the configured interval.
type Client struct {
	baseURL    string
	signature  string
	timeout    time.Duration
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *zap.Logger
}

// NewClient creates a Query Engine client.
func NewClient(cfg Config, logger *zap.Logger) *Client {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	pollInterval := cfg.PollInterval
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}

	logger.Info("Query engine client initialized",
		zap.String("base_url", baseURL),
		zap.Duration("timeout", timeout),
		zap.Duration("poll_interval", pollInterval))

	return &Client{
		baseURL:    baseURL,
		signature:  cfg.QuerySignature,
		timeout:    timeout,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		limiter:    rate.NewLimiter(rate.Every(pollInterval), 1),
		logger:     logger,
	}
}

// submitRequest is the query submission payload. The engine expects the job
// ID as a string.
type submitRequest struct {
	Query     string        `json:"query"`
	Params    []interface{} `json:"params"`
	RefinerID int           `json:"refiner_id"`
	JobID     string        `json:"job_id"`
}

type submitResponse struct {
	QueryID string `json:"query_id"`
}

type statusResponse struct {
	QueryStatus  string `json:"query_status"`
	QueryResults string `json:"query_results"`
	Detail       string `json:"detail"`
}

// ExecuteQuery submits the query, waits for completion, and downloads the
// result file to resultsPath.
func (c *Client) ExecuteQuery(ctx context.Context, query string, params []interface{}, jobID, refinerID int, resultsPath string) (*QueryResult, error) {
	queryID, err := c.submitQuery(ctx, query, params, jobID, refinerID)
	if err != nil {
		return nil, err
	}
	return c.pollUntilComplete(ctx, queryID, resultsPath)
}

func (c *Client) submitQuery(ctx context.Context, query string, params []interface{}, jobID, refinerID int) (string, error) {
	if params == nil {
		params = []interface{}{}
	}
	body, err := json.Marshal(submitRequest{
		Query:     query,
		Params:    params,
		RefinerID: refinerID,
		JobID:     fmt.Sprintf("%d", jobID),
	})
	if err != nil {
		return "", fmt.Errorf("failed to encode query request: %w", err)
	}

	c.logger.Info("Submitting query", zap.Int("job_id", jobID), zap.Int("refiner_id", refinerID))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/query", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", &QueryError{Message: fmt.Sprintf("failed to submit query: %v", err), StatusCode: http.StatusBadGateway}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &QueryError{Message: "query submission rejected: " + errorDetail(resp), StatusCode: resp.StatusCode}
	}

	var submitted submitResponse
	if err := json.NewDecoder(resp.Body).Decode(&submitted); err != nil {
		return "", &QueryError{Message: fmt.Sprintf("failed to decode submission response: %v", err), StatusCode: http.StatusInternalServerError}
	}
	if submitted.QueryID == "" {
		return "", &QueryError{Message: "no query ID returned from server", StatusCode: http.StatusInternalServerError}
	}

	c.logger.Info("Query submitted", zap.String("query_id", submitted.QueryID))
	return submitted.QueryID, nil
}

func (c *Client) pollUntilComplete(ctx context.Context, queryID, resultsPath string) (*QueryResult, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	c.logger.Info("Polling for query results", zap.String("query_id", queryID))

	for {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, &QueryError{
				Message:    fmt.Sprintf("timed out waiting for query %s results", queryID),
				StatusCode: http.StatusRequestTimeout,
			}
		}

		status, err := c.queryStatus(ctx, queryID)
		if err != nil {
			return nil, err
		}

		c.logger.Debug("Query status",
			zap.String("query_id", queryID),
			zap.String("status", status.QueryStatus))

		switch status.QueryStatus {
		case "success":
			result := &QueryResult{QueryID: queryID, Status: status.QueryStatus}
			if status.QueryResults != "" {
				if err := c.downloadResults(ctx, status.QueryResults, resultsPath); err != nil {
					return nil, err
				}
				result.FilePath = resultsPath
			}
			return result, nil
		case "failed":
			return nil, &QueryError{Message: fmt.Sprintf("query %s failed", queryID)}
		}
		// Still pending; the limiter enforces the poll interval.
	}
}

func (c *Client) queryStatus(ctx context.Context, queryID string) (*statusResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/query/"+queryID, nil)
	if err != nil {
		return nil, err
	}
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &QueryError{Message: fmt.Sprintf("failed to poll query: %v", err), StatusCode: http.StatusBadGateway}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, &QueryError{Message: fmt.Sprintf("query %s not found", queryID), StatusCode: http.StatusNotFound}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &QueryError{Message: "query poll rejected: " + errorDetail(resp), StatusCode: resp.StatusCode}
	}

	var status statusResponse
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return nil, &QueryError{Message: fmt.Sprintf("failed to decode poll response: %v", err), StatusCode: http.StatusInternalServerError}
	}
	return &status, nil
}

// downloadResults streams the result file to disk so large datasets never
// sit in memory.
func (c *Client) downloadResults(ctx context.Context, url, resultsPath string) error {
	c.logger.Info("Downloading query results", zap.String("path", resultsPath))

	if dir := filepath.Dir(resultsPath); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create results directory: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &QueryError{Message: fmt.Sprintf("failed to download results: %v", err), StatusCode: http.StatusBadGateway}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &QueryError{Message: "results download rejected: " + errorDetail(resp), StatusCode: resp.StatusCode}
	}

	file, err := os.Create(resultsPath)
	if err != nil {
		return fmt.Errorf("failed to create results file: %w", err)
	}
	defer file.Close()

	if _, err := io.Copy(file, resp.Body); err != nil {
		return fmt.Errorf("failed to save results file: %w", err)
	}

	c.logger.Info("Query results downloaded", zap.String("path", resultsPath))
	return nil
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(signatureHeader, c.signature)
}

// errorDetail extracts the engine's error detail from a failed response.
func errorDetail(resp *http.Response) string {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var payload struct {
		Detail string `json:"detail"`
	}
	if err := json.Unmarshal(body, &payload); err == nil && payload.Detail != "" {
		return fmt.Sprintf("status %d: %s", resp.StatusCode, payload.Detail)
	}
	if len(body) > 100 {
		body = body[:100]
	}
	return fmt.Sprintf("status %d: %s", resp.StatusCode, string(body))
}
