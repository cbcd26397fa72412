package session

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// HTTPRunner forwards prompts to an external session transport over HTTP.
// The transport owns the actual model process; this side only posts a prompt
// and awaits the final text.
type HTTPRunner struct {
	endpoint string
	client   *http.Client
	logger   *zap.Logger
}

// NewHTTPRunner creates a runner posting to the given endpoint.
func NewHTTPRunner(endpoint string, logger *zap.Logger) *HTTPRunner {
	return &HTTPRunner{
		endpoint: endpoint,
		client:   &http.Client{Timeout: 15 * time.Minute},
		logger:   logger,
	}
}

type runRequest struct {
	Session string `json:"session"`
	Prompt  string `json:"prompt"`
}

type runResponse struct {
	Text  string `json:"text"`
	Error string `json:"error,omitempty"`
}

// Run implements Runner.
func (r *HTTPRunner) Run(ctx context.Context, sessionName, prompt string) (string, error) {
	body, err := json.Marshal(runRequest{Session: sessionName, Prompt: prompt})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("run %s: %w", sessionName, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("run %s: transport returned %d: %s", sessionName, resp.StatusCode, data)
	}

	var rr runResponse
	if err := json.NewDecoder(resp.Body).Decode(&rr); err != nil {
		return "", fmt.Errorf("run %s: decode reply: %w", sessionName, err)
	}
	if rr.Error != "" {
		return "", fmt.Errorf("run %s: %s", sessionName, rr.Error)
	}
	return rr.Text, nil
}
