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

// MixerClient talks to the mix/master provider. A succeeded job yields one
// output: the mastered track.
type MixerClient struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
}

type mixStartRequest struct {
	TrackURLs []string `json:"track_urls"`
	Profile   string   `json:"profile,omitempty"`
}

type mixStartResponse struct {
	TaskID string `json:"task_id"`
	Status string `json:"status"`
}

type mixStatusResponse struct {
	TaskID    string `json:"task_id"`
	Status    string `json:"status"`
	Progress  string `json:"progress,omitempty"`
	OutputURL string `json:"output_url,omitempty"`
	Error     string `json:"error,omitempty"`
}

// NewMixerClient creates a new mix/master client
func NewMixerClient(cfg *config.MixerConfig) *MixerClient {
	return &MixerClient{
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
	}
}

// Start initiates a mastering job over one or more durable track URLs
func (c *MixerClient) Start(ctx context.Context, in StartInput) (Handle, error) {
	if len(in.SourceURLs) == 0 {
		return Handle{}, fmt.Errorf("%w: mastering requires at least one track URL", ErrInvalidInput)
	}
	for _, u := range in.SourceURLs {
		if u == "" {
			return Handle{}, fmt.Errorf("%w: empty track URL", ErrInvalidInput)
		}
	}

	req := &mixStartRequest{TrackURLs: in.SourceURLs, Profile: in.Style}
	var result mixStartResponse
	if err := c.post(ctx, "/v1/mixmaster", req, &result); err != nil {
		return Handle{}, err
	}
	if result.TaskID == "" {
		return Handle{}, &ProviderError{StatusCode: http.StatusOK, Body: "missing task_id in response"}
	}

	return Handle{TaskID: result.TaskID, Kind: model.JobKindMixMaster}, nil
}

// Poll performs one status check for a mastering job
func (c *MixerClient) Poll(ctx context.Context, h Handle) (JobStatus, error) {
	var result mixStatusResponse
	if err := c.get(ctx, fmt.Sprintf("/v1/mixmaster/%s", h.TaskID), &result); err != nil {
		return JobStatus{}, err
	}

	switch result.Status {
	case "completed", "success":
		if result.OutputURL == "" {
			return JobStatus{State: StateFailed, Reason: "mastering succeeded without an output URL"}, nil
		}
		return JobStatus{State: StateSucceeded, Outputs: []string{result.OutputURL}}, nil
	case "failed", "error":
		reason := result.Error
		if reason == "" {
			reason = "mastering failed"
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
func (c *MixerClient) post(ctx context.Context, endpoint string, body interface{}, result interface{}) error {
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
func (c *MixerClient) get(ctx context.Context, endpoint string, result interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	return c.doRequest(req, result)
}

func (c *MixerClient) doRequest(req *http.Request, result interface{}) error {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	log.Printf("[Mixer API] → %s %s", req.Method, req.URL.String())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		log.Printf("[Mixer API] ✗ %s %s — request failed: %v", req.Method, req.URL.String(), err)
		return &TransientError{Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		log.Printf("[Mixer API] ✗ %s %s — failed to read response: %v", req.Method, req.URL.String(), err)
		return &TransientError{Err: err}
	}

	log.Printf("[Mixer API] ← %d %s %s", resp.StatusCode, req.Method, req.URL.String())

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &ProviderError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	if err := json.Unmarshal(respBody, result); err != nil {
		return fmt.Errorf("failed to unmarshal response: %w", err)
	}

	return nil
}

// IsConfigured returns true if the client has valid configuration
func (c *MixerClient) IsConfigured() bool {
	return c.apiKey != ""
}
