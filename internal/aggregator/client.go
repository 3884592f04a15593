// Package aggregator provides the HTTP client for the backend aggregation
// engine, which owns calculation results and the calculation catalog.
package aggregator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/lattice-data/lattice/platform/internal/domain"
)

// Client is the contract consumed by the registry, the API layer and the
// report runner.
type Client interface {
	GetAllCalculations(ctx context.Context, groupLevel string) (domain.CalculationSet, error)
	GetAvailableCycles(ctx context.Context) ([]domain.Cycle, error)
	Compute(ctx context.Context, req ComputeRequest) (ComputeResult, error)
}

// ComputeRequest asks the engine to evaluate a report's calculations over
// its scope. Parameters carries the frozen schedule parameters verbatim.
type ComputeRequest struct {
	ReportID     string                `json:"report_id"`
	Scope        domain.ScopeSelection `json:"scope"`
	Calculations []domain.CalcRef      `json:"calculations"`
	Cycle        string                `json:"cycle,omitempty"`
	Parameters   json.RawMessage       `json:"parameters,omitempty"`
}

// ComputeResult is the raw result payload produced by the engine, stored
// as-is by the runner.
type ComputeResult struct {
	ContentType string
	Data        []byte
}

// HTTPClient is the real aggregation engine REST client.
type HTTPClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewHTTPClient creates a client from a base URL (e.g., "http://aggregator:9400").
// Compute calls can run long, so the HTTP timeout is generous; list calls
// bound themselves with their caller's context.
func NewHTTPClient(baseURL string) *HTTPClient {
	return &HTTPClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 5 * time.Minute},
	}
}

// calculationsResponse is the engine's GET /api/v1/calculations response.
type calculationsResponse struct {
	UserCalculations   []domain.AvailableCalculation `json:"user_calculations"`
	SystemCalculations []domain.AvailableCalculation `json:"system_calculations"`
}

// GetAllCalculations fetches user and system calculations, optionally
// narrowed server-side to one group level.
func (c *HTTPClient) GetAllCalculations(ctx context.Context, groupLevel string) (domain.CalculationSet, error) {
	u := c.baseURL + "/api/v1/calculations"
	if groupLevel != "" {
		u += "?group_level=" + url.QueryEscape(groupLevel)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, http.NoBody)
	if err != nil {
		return domain.CalculationSet{}, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return domain.CalculationSet{}, fmt.Errorf("get calculations: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return domain.CalculationSet{}, fmt.Errorf("get calculations: unexpected status %d", resp.StatusCode)
	}

	var body calculationsResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return domain.CalculationSet{}, fmt.Errorf("decode calculations: %w", err)
	}
	return domain.CalculationSet{User: body.UserCalculations, System: body.SystemCalculations}, nil
}

// cyclesResponse is the engine's GET /api/v1/cycles response.
type cyclesResponse struct {
	Cycles []domain.Cycle `json:"cycles"`
}

// GetAvailableCycles returns the reporting cycles the engine can evaluate
// against, in the engine's order (newest first).
func (c *HTTPClient) GetAvailableCycles(ctx context.Context) ([]domain.Cycle, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/v1/cycles", http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("get cycles: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("get cycles: unexpected status %d", resp.StatusCode)
	}

	var body cyclesResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode cycles: %w", err)
	}
	return body.Cycles, nil
}

// Compute submits a report computation and returns the result payload.
func (c *HTTPClient) Compute(ctx context.Context, computeReq ComputeRequest) (ComputeResult, error) {
	payload, err := json.Marshal(computeReq)
	if err != nil {
		return ComputeResult{}, fmt.Errorf("encode compute request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/compute", bytes.NewReader(payload))
	if err != nil {
		return ComputeResult{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return ComputeResult{}, fmt.Errorf("compute report %s: %w", computeReq.ReportID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return ComputeResult{}, fmt.Errorf("compute report %s: unexpected status %d", computeReq.ReportID, resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return ComputeResult{}, fmt.Errorf("read compute result: %w", err)
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	return ComputeResult{ContentType: contentType, Data: data}, nil
}
