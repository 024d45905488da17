package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/tariq126/TTS-project/internal/core"
)

const (
	elevenLabsSpeechPathFormat = "/v1/text-to-speech/%s"
	headerXIAPIKey             = "xi-api-key"
	headerAccept               = "Accept"
	contentTypeMPEG            = "audio/mpeg"
)

// elevenLabsRequest defines the JSON payload for an ElevenLabs-style speech
// generation request.
type elevenLabsRequest struct {
	Text    string `json:"text"`
	ModelID string `json:"model_id,omitempty"`
}

// ElevenLabsProvider synthesizes speech through an ElevenLabs-style REST
// API, where the voice id is part of the request path.
type ElevenLabsProvider struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	model      string
	voices     map[string]string
}

// NewElevenLabsProvider creates a backend for an ElevenLabs-style speech API.
func NewElevenLabsProvider(
	baseURL, apiKey, model string,
	voices map[string]string,
	timeout time.Duration,
) *ElevenLabsProvider {
	return &ElevenLabsProvider{
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
func (p *ElevenLabsProvider) Generate(ctx context.Context, text, voiceID string) ([]byte, error) {
	if text == "" {
		return nil, ErrEmptyText
	}

	err := validateVoice(p.voices, voiceID)
	if err != nil {
		return nil, err
	}

	requestBody, err := json.Marshal(elevenLabsRequest{
		Text:    text,
		ModelID: p.model,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	url := p.baseURL + fmt.Sprintf(elevenLabsSpeechPathFormat, voiceID)

	audioData, err := postForAudio(
		ctx, p.httpClient, url, requestBody,
		func(req *http.Request) {
			req.Header.Set(headerContentType, contentTypeJSON)
			req.Header.Set(headerAccept, contentTypeMPEG)
			req.Header.Set(headerXIAPIKey, p.apiKey)
		},
	)
	if err != nil {
		return nil, err
	}

	return audioData, nil
}

// Voices lists the configured voices for this provider.
func (p *ElevenLabsProvider) Voices() []core.Voice {
	return voiceList(p.voices)
}
