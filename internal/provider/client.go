package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"carecall-platform/internal/config"
)

var (
	// ErrNoCallID means the provider accepted the request but returned no
	// external call id; the attempt is treated as failed.
	ErrNoCallID = errors.New("provider: response missing call id")
)

// Client defines the provider-agnostic outbound-call interface used by the
// dispatcher.
//
// Rules:
// - No provider SDK calls outside this package.
// - Keep request/response types provider-agnostic; raw provider payloads are
//   stored on Call rows, not leaked into business logic.
type Client interface {
	// Initiate asks the provider to place the call. Any transport error or
	// a response without a call id fails the attempt.
	Initiate(ctx context.Context, req CallRequest) (CallResult, error)

	// FetchStatus is the polling fallback for when callbacks are delayed.
	FetchStatus(ctx context.Context, providerCallID string) (StatusSnapshot, error)
}

// CallRequest carries everything the calling agent needs for one attempt.
type CallRequest struct {
	PatientPhone         string   `json:"patient_phone"`
	PatientName          string   `json:"patient_name"`
	PreferredName        string   `json:"preferred_name,omitempty"`
	ScriptTitle          string   `json:"script_title"`
	ScriptCategory       string   `json:"script_category,omitempty"`
	Messages             []string `json:"messages,omitempty"`
	Questions            []string `json:"questions,omitempty"`
	EscalationTriggers   []string `json:"escalation_triggers,omitempty"`
	PreferredAgentGender string   `json:"preferred_agent_gender,omitempty"`
	SpecialInstructions  string   `json:"special_instructions,omitempty"`

	// Metadata is echoed back on callbacks; we put the run id here so
	// operators can correlate provider logs with our rows.
	Metadata map[string]string `json:"metadata,omitempty"`
}

type CallResult struct {
	ProviderCallID string `json:"call_id"`
}

// StatusSnapshot is the provider's current view of a call.
type StatusSnapshot struct {
	ProviderCallID      string     `json:"call_id"`
	Status              string     `json:"status"`
	DisconnectionReason string     `json:"disconnection_reason,omitempty"`
	StartedAt           *time.Time `json:"started_at,omitempty"`
	EndedAt             *time.Time `json:"ended_at,omitempty"`
	DurationSeconds     int        `json:"duration_seconds,omitempty"`
}

// HTTPClient talks JSON to the provider's REST API.
type HTTPClient struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

func NewHTTPClient(cfg config.ProviderConfig) *HTTPClient {
	return &HTTPClient{
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		http:    &http.Client{Timeout: cfg.RequestTimeout},
	}
}

func (c *HTTPClient) Initiate(ctx context.Context, req CallRequest) (CallResult, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return CallResult{}, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/calls", bytes.NewReader(body))
	if err != nil {
		return CallResult{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return CallResult{}, fmt.Errorf("provider: initiate request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return CallResult{}, fmt.Errorf("provider: initiate returned %d: %s", resp.StatusCode, snippet)
	}

	var out CallResult
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return CallResult{}, fmt.Errorf("provider: initiate response decode failed: %w", err)
	}
	if out.ProviderCallID == "" {
		return CallResult{}, ErrNoCallID
	}
	return out, nil
}

func (c *HTTPClient) FetchStatus(ctx context.Context, providerCallID string) (StatusSnapshot, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/calls/"+providerCallID, nil)
	if err != nil {
		return StatusSnapshot{}, err
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return StatusSnapshot{}, fmt.Errorf("provider: status request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return StatusSnapshot{}, fmt.Errorf("provider: status returned %d", resp.StatusCode)
	}

	var out StatusSnapshot
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return StatusSnapshot{}, fmt.Errorf("provider: status response decode failed: %w", err)
	}
	return out, nil
}
