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

// InstrumentalClient talks to the music-generation provider. It covers two
// operations behind one task API: per-section instrumental generation from
// a vocal take, and standalone intro/outro segment generation from a title
// and style tags.
type InstrumentalClient struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
}

type generateInstrumentalRequest struct {
	AudioURL      string `json:"audio_url"`
	Style         string `json:"style"`
	NegativeStyle string `json:"negative_style,omitempty"`
	VocalGender   string `json:"vocal_gender,omitempty"`
}

type generateSegmentRequest struct {
	Segment string `json:"segment"` // "intro" or "outro"
	Title   string `json:"title"`
	Tags    string `json:"tags"`
}

type generateStartResponse struct {
	TaskID string `json:"task_id"`
	Status string `json:"status"`
}

type taskStatusResponse struct {
	TaskID   string `json:"task_id"`
	Status   string `json:"status"`
	Progress string `json:"progress,omitempty"`
	AudioURL string `json:"audio_url,omitempty"`
	Error    string `json:"error,omitempty"`
}

// NewInstrumentalClient creates a new generation client
func NewInstrumentalClient(cfg *config.InstrumentalConfig) *InstrumentalClient {
	return &InstrumentalClient{
		httpClient: &http.Client{
			Timeout: 120 * time.Second,
		},
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
	}
}

// Start initiates a generation job. The job kind selects the endpoint:
// instrumental generation needs a source vocal URL plus style tags, intro
// and outro generation need a title and tags.
func (c *InstrumentalClient) Start(ctx context.Context, in StartInput) (Handle, error) {
	switch in.Kind {
	case model.JobKindInstrumental:
		if len(in.SourceURLs) != 1 || in.SourceURLs[0] == "" {
			return Handle{}, fmt.Errorf("%w: instrumental generation requires one source URL", ErrInvalidInput)
		}
		if in.Style == "" {
			return Handle{}, fmt.Errorf("%w: style is required", ErrInvalidInput)
		}
		req := &generateInstrumentalRequest{
			AudioURL:      in.SourceURLs[0],
			Style:         in.Style,
			NegativeStyle: in.NegativeStyle,
			VocalGender:   string(in.VocalGender),
		}
		return c.start(ctx, "/v1/instrumental/generate", req, in.Kind)

	case model.JobKindIntro, model.JobKindOutro:
		if in.Title == "" || in.Tags == "" {
			return Handle{}, fmt.Errorf("%w: title and tags are required", ErrInvalidInput)
		}
		segment := "intro"
		if in.Kind == model.JobKindOutro {
			segment = "outro"
		}
		req := &generateSegmentRequest{Segment: segment, Title: in.Title, Tags: in.Tags}
		return c.start(ctx, "/v1/segment/generate", req, in.Kind)

	default:
		return Handle{}, fmt.Errorf("%w: unsupported job kind %s", ErrInvalidInput, in.Kind)
	}
}

func (c *InstrumentalClient) start(ctx context.Context, endpoint string, body interface{}, kind model.JobKind) (Handle, error) {
	var result generateStartResponse
	if err := c.post(ctx, endpoint, body, &result); err != nil {
		return Handle{}, err
	}
	if result.TaskID == "" {
		return Handle{}, &ProviderError{StatusCode: http.StatusOK, Body: "missing task_id in response"}
	}
	return Handle{TaskID: result.TaskID, Kind: kind}, nil
}

// Poll performs one status check for a generation job
func (c *InstrumentalClient) Poll(ctx context.Context, h Handle) (JobStatus, error) {
	var result taskStatusResponse
	if err := c.get(ctx, fmt.Sprintf("/v1/task/%s", h.TaskID), &result); err != nil {
		return JobStatus{}, err
	}

	switch result.Status {
	case "completed", "success":
		if result.AudioURL == "" {
			return JobStatus{State: StateFailed, Reason: "generation succeeded without an audio URL"}, nil
		}
		return JobStatus{State: StateSucceeded, Outputs: []string{result.AudioURL}}, nil
	case "failed", "error":
		reason := result.Error
		if reason == "" {
			reason = "generation failed"
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
func (c *InstrumentalClient) post(ctx context.Context, endpoint string, body interface{}, result interface{}) error {
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
func (c *InstrumentalClient) get(ctx context.Context, endpoint string, result interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	return c.doRequest(req, result)
}

func (c *InstrumentalClient) doRequest(req *http.Request, result interface{}) error {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	log.Printf("[Instrumental API] → %s %s", req.Method, req.URL.String())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		log.Printf("[Instrumental API] ✗ %s %s — request failed: %v", req.Method, req.URL.String(), err)
		return &TransientError{Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		log.Printf("[Instrumental API] ✗ %s %s — failed to read response: %v", req.Method, req.URL.String(), err)
		return &TransientError{Err: err}
	}

	log.Printf("[Instrumental API] ← %d %s %s", resp.StatusCode, req.Method, req.URL.String())

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &ProviderError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	if err := json.Unmarshal(respBody, result); err != nil {
		return fmt.Errorf("failed to unmarshal response: %w", err)
	}

	return nil
}

// IsConfigured returns true if the client has valid configuration
func (c *InstrumentalClient) IsConfigured() bool {
	return c.apiKey != ""
}
