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

	"github.com/tariq126/TTS-project/internal/core"
)

// API endpoints and paths.
const (
	openAISpeechPath = "/audio/speech"
)

// HTTP headers.
const (
	headerContentType   = "Content-Type"
	headerAuthorization = "Authorization"
	contentTypeJSON     = "application/json"
)

// Static errors.
var (
	ErrAPIKeyMissing       = errors.New("api key is required but was not found")
	ErrUnknownProviderKind = errors.New("unknown provider kind")
	ErrEmptyText           = errors.New("text cannot be empty")
	ErrEmptyAudio          = errors.New("received empty audio data")
)

// openAIRequest defines the JSON payload for an OpenAI-compatible speech
// generation request.
type openAIRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
	Voice string `json:"voice"`
}

// apiErrorResponse represents a structured error body from a backend.
type apiErrorResponse struct {
	Detail string `json:"detail"`
}

// OpenAIProvider synthesizes speech through an OpenAI-compatible REST API.
// Several vendors expose this surface, so the base URL and model are
// configuration, not constants.
type OpenAIProvider struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	model      string
	voices     map[string]string
}

// NewOpenAIProvider creates a backend for an OpenAI-compatible speech API.
func NewOpenAIProvider(
	baseURL, apiKey, model string,
	voices map[string]string,
	timeout time.Duration,
) *OpenAIProvider {
	return &OpenAIProvider{
		baseURL: baseURL,
		apiKey:  apiKey,
		model:   model,
		voices:  voices,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Generate synthesizes text into audio bytes using the given voice.
func (p *OpenAIProvider) Generate(ctx context.Context, text, voiceID string) ([]byte, error) {
	if text == "" {
		return nil, ErrEmptyText
	}

	err := validateVoice(p.voices, voiceID)
	if err != nil {
		return nil, err
	}

	requestBody, err := json.Marshal(openAIRequest{
		Model: p.model,
		Input: text,
		Voice: voiceID,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	audioData, err := postForAudio(
		ctx, p.httpClient,
		p.baseURL+openAISpeechPath,
		requestBody,
		func(req *http.Request) {
			req.Header.Set(headerContentType, contentTypeJSON)
			req.Header.Set(headerAuthorization, "Bearer "+p.apiKey)
		},
	)
	if err != nil {
		return nil, err
	}

	return audioData, nil
}

// Voices lists the configured voices for this provider.
func (p *OpenAIProvider) Voices() []core.Voice {
	return voiceList(p.voices)
}

// validateVoice checks a requested voice against the configured voice map.
// An empty map means the provider accepts arbitrary voice ids.
func validateVoice(voices map[string]string, voiceID string) error {
	if voiceID == "" {
		return fmt.Errorf("%w: voice id is empty", core.ErrInvalidVoice)
	}

	if len(voices) == 0 {
		return nil
	}

	for _, configured := range voices {
		if configured == voiceID {
			return nil
		}
	}

	return fmt.Errorf("%w: '%s'", core.ErrInvalidVoice, voiceID)
}

func voiceList(voices map[string]string) []core.Voice {
	list := make([]core.Voice, 0, len(voices))
	for name, voiceID := range voices {
		list = append(list, core.Voice{Name: name, VoiceID: voiceID})
	}

	return list
}

// postForAudio sends a synthesis request and returns the raw audio response
// body. Non-2xx responses are decoded into a structured error when possible,
// falling back to the raw body so diagnostics are preserved.
func postForAudio(
	ctx context.Context,
	client *http.Client,
	url string,
	body []byte,
	setHeaders func(*http.Request),
) ([]byte, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	setHeaders(httpReq)

	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to send request to %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, parseErrorResponse(resp)
	}

	audioData, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read audio data: %w", err)
	}

	if len(audioData) == 0 {
		return nil, ErrEmptyAudio
	}

	return audioData, nil
}

func parseErrorResponse(resp *http.Response) error {
	var errorResp apiErrorResponse

	err := json.NewDecoder(resp.Body).Decode(&errorResp)
	if err == nil && errorResp.Detail != "" {
		return fmt.Errorf("backend error (%s): %s", resp.Status, errorResp.Detail)
	}

	body, _ := io.ReadAll(resp.Body)

	return fmt.Errorf("backend returned non-OK status: %s, body: %s", resp.Status, string(body))
}
