package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"gridplane/pkg/api"
)

// RunClient handles API calls to the gridplane controller.
type RunClient struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
}

// NewRunClient creates a new client with the given base URL and token.
func NewRunClient(baseURL, token string) *RunClient {
	return &RunClient{
		BaseURL: baseURL,
		Token:   token,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// APIError represents an error response from the API.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error (%d): %s", e.StatusCode, e.Message)
}

func (c *RunClient) do(method, endpoint string, body interface{}, out interface{}) error {
	var reader io.Reader
	if body != nil {
		bodyBytes, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(bodyBytes)
	}

	httpReq, err := http.NewRequest(method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Add("Authorization", fmt.Sprintf("Bearer %s", c.Token))
	httpReq.Header.Add("Content-Type", "application/json")

	resp, err := c.HTTPClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return &APIError{StatusCode: resp.StatusCode, Message: string(respBody)}
	}

	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("failed to parse response: %w", err)
		}
	}

	return nil
}

// TriggerRun sends POST /events to deliver a repository event.
func (c *RunClient) TriggerRun(req api.TriggerRequest) (*api.TriggerResponse, error) {
	var result api.TriggerResponse
	if err := c.do(http.MethodPost, fmt.Sprintf("%s/events", c.BaseURL), req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// GetRun sends GET /runs/{id} to retrieve a run with its cells.
func (c *RunClient) GetRun(runID string) (*api.RunResponse, error) {
	var result api.RunResponse
	if err := c.do(http.MethodGet, fmt.Sprintf("%s/runs/%s", c.BaseURL, runID), nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// GetCell sends GET /cells/{id} to retrieve one cell with its steps.
func (c *RunClient) GetCell(cellID string) (*api.CellResponse, error) {
	var result api.CellResponse
	if err := c.do(http.MethodGet, fmt.Sprintf("%s/cells/%s", c.BaseURL, cellID), nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// GetLogs sends GET /cells/{id}/logs to retrieve cell logs.
func (c *RunClient) GetLogs(cellID string, afterID int64) ([]api.LogEntry, error) {
	endpoint := fmt.Sprintf("%s/cells/%s/logs?after_id=%d", c.BaseURL, cellID, afterID)
	var result api.GetLogsResponse
	if err := c.do(http.MethodGet, endpoint, nil, &result); err != nil {
		return nil, err
	}
	return result.Logs, nil
}

// CreateProject sends POST /projects to register a new project.
func (c *RunClient) CreateProject(req api.CreateProjectRequest) (*api.CreateProjectResponse, error) {
	var result api.CreateProjectResponse
	if err := c.do(http.MethodPost, fmt.Sprintf("%s/projects", c.BaseURL), req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}
