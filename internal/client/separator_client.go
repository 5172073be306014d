package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/songlab/api/internal/config"
	"github.com/songlab/api/internal/model"
)

// SeparatorClient talks to the vocal-separation provider. A succeeded job
// yields two outputs: the instrumental track first, the isolated vocal
// second.
type SeparatorClient struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
}

type separateStartRequest struct {
	AudioURL string `json:"audio_url"`
}

type separateStartResponse struct {
	TaskID string `json:"task_id"`
	Status string `json:"status"`
}

type separateStatusResponse struct {
	TaskID          string `json:"task_id"`
	Status          string `json:"status"`
	Progress        string `json:"progress,omitempty"`
	InstrumentalURL string `json:"instrumental_url,omitempty"`
	VocalURL        string `json:"vocal_url,omitempty"`
	Error           string `json:"error,omitempty"`
}

// NewSeparatorClient creates a new vocal-separation client
func NewSeparatorClient(cfg *config.SeparatorConfig) *SeparatorClient {
	return &SeparatorClient{
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
	}
}

// Start initiates a vocal-separation job for a durable source URL
func (c *SeparatorClient) Start(ctx context.Context, in StartInput) (Handle, error) {
	if len(in.SourceURLs) != 1 || in.SourceURLs[0] == "" {
		return Handle{}, fmt.Errorf("%w: separation requires exactly one source URL", ErrInvalidInput)
	}

	var result separateStartResponse
	if err := c.post(ctx, "/v1/vocal-separation", &separateStartRequest{AudioURL: in.SourceURLs[0]}, &result); err != nil {
		return Handle{}, err
	}
	if result.TaskID == "" {
		return Handle{}, &ProviderError{StatusCode: http.StatusOK, Body: "missing task_id in response"}
	}

	return Handle{TaskID: result.TaskID, Kind: model.JobKindSeparation}, nil
}

// Poll performs one status check for a separation job
func (c *SeparatorClient) Poll(ctx context.Context, h Handle) (JobStatus, error) {
	var result separateStatusResponse
	if err := c.get(ctx, fmt.Sprintf("/v1/vocal-separation/%s", h.TaskID), &result); err != nil {
		return JobStatus{}, err
	}

	switch result.Status {
	case "completed", "success":
		if result.InstrumentalURL == "" {
			return JobStatus{State: StateFailed, Reason: "separation succeeded without an instrumental URL"}, nil
		}
		return JobStatus{
			State:   StateSucceeded,
			Outputs: []string{result.InstrumentalURL, result.VocalURL},
		}, nil
	case "failed", "error":
		reason := result.Error
		if reason == "" {
			reason = "separation failed"
		}
		return JobStatus{State: StateFailed, Reason: reason}, nil
	case "canceled", "cancelled":
		return JobStatus{State: StateCanceled, Reason: "canceled by provider"}, nil
	case "pending", "queued":
		return JobStatus{State: StatePending, Progress: result.Progress}, nil
	default:
		return JobStatus{State: StateProcessing, Progress: result.Progress}, nil
	}
}

// post sends a POST request with JSON body
func (c *SeparatorClient) post(ctx context.Context, endpoint string, body interface{}, result interface{}) error {
	bodyBytes, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, bytes.NewReader(bodyBytes))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	return c.doRequest(req, result)
}

// get sends a GET request and parses JSON response
func (c *SeparatorClient) get(ctx context.Context, endpoint string, result interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	return c.doRequest(req, result)
}

func (c *SeparatorClient) doRequest(req *http.Request, result interface{}) error {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	log.Printf("[Separator API] → %s %s", req.Method, req.URL.String())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		log.Printf("[Separator API] ✗ %s %s — request failed: %v", req.Method, req.URL.String(), err)
		return &TransientError{Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		log.Printf("[Separator API] ✗ %s %s — failed to read response: %v", req.Method, req.URL.String(), err)
		return &TransientError{Err: err}
	}

	log.Printf("[Separator API] ← %d %s %s", resp.StatusCode, req.Method, req.URL.String())

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &ProviderError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	if err := json.Unmarshal(respBody, result); err != nil {
		return fmt.Errorf("failed to unmarshal response: %w", err)
	}

	return nil
}

// IsConfigured returns true if the client has valid configuration
func (c *SeparatorClient) IsConfigured() bool {
	return c.apiKey != ""
}
