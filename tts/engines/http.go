// Package engines provides speech model implementations for the tts
// engine.
package engines

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"github.com/dgnsrekt/narrator/tts"
)

const defaultBaseURL = "https://api.openai.com"

// HTTPModel synthesizes speech against an OpenAI-compatible
// /v1/audio/speech endpoint.
type HTTPModel struct {
	client *http.Client
}

// NewHTTPModel creates an HTTP speech model with a 60s request timeout.
func NewHTTPModel() *HTTPModel {
	return &HTTPModel{
		client: &http.Client{Timeout: 60 * time.Second},
	}
}

// speechRequest is the provider wire format.
type speechRequest struct {
	Model          string  `json:"model"`
	Input          string  `json:"input"`
	Voice          string  `json:"voice"`
	Speed          float64 `json:"speed,omitempty"`
	ResponseFormat string  `json:"response_format,omitempty"`
}

// Synthesize converts text to audio bytes. When context chunks are
// supplied they are prepended to the input so the provider keeps prosody
// continuous across chunk boundaries.
func (m *HTTPModel) Synthesize(ctx context.Context, text string, opts tts.SynthesisOptions, contextChunks []string, settings tts.Settings) ([]byte, error) {
	input := text
	if len(contextChunks) > 0 {
		input = strings.Join(contextChunks, " ") + " " + text
	}

	body, err := json.Marshal(speechRequest{
		Model:          settings.ModelID,
		Input:          input,
		Voice:          opts.Voice,
		Speed:          opts.Speed,
		ResponseFormat: opts.Format,
	})
	if err != nil {
		return nil, tts.NewFatalError("synthesize", 0, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		baseURL(settings)+"/v1/audio/speech", bytes.NewReader(body))
	if err != nil {
		return nil, tts.NewFatalError("synthesize", 0, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+settings.APIKey)

	resp, err := m.client.Do(req)
	if err != nil {
		// Network-level failures (timeouts, refused connections) are
		// worth retrying.
		return nil, tts.NewRetryableError("synthesize", 0, err)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		return nil, classifyStatus("synthesize", resp)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, tts.NewRetryableError("synthesize", 0, err)
	}
	log.Debug("synthesized audio", "chars", len(text), "bytes", len(data))
	return data, nil
}

// ValidateConnection performs a cheap authenticated request to verify the
// provider is reachable with the given settings.
func (m *HTTPModel) ValidateConnection(ctx context.Context, settings tts.Settings) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		baseURL(settings)+"/v1/models", nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+settings.APIKey)

	resp, err := m.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", tts.ErrModelUnavailable, err)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		return classifyStatus("validate", resp)
	}
	return nil
}

// classifyStatus maps an HTTP failure onto the retryable/fatal taxonomy:
// timeouts, rate limits and transient 5xx retry; auth and malformed
// requests do not.
func classifyStatus(op string, resp *http.Response) error {
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	err := errors.New(strings.TrimSpace(string(snippet)))

	switch {
	case resp.StatusCode == http.StatusRequestTimeout,
		resp.StatusCode == http.StatusTooManyRequests,
		resp.StatusCode >= 500:
		return tts.NewRetryableError(op, resp.StatusCode, err)
	default:
		return tts.NewFatalError(op, resp.StatusCode, err)
	}
}

func baseURL(settings tts.Settings) string {
	if settings.BaseURL == "" {
		return defaultBaseURL
	}
	return strings.TrimRight(settings.BaseURL, "/")
}
