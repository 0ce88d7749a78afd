package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const (
	defaultOpenAIBase      = "https://api.openai.com"
	defaultRealtimeModel   = "gpt-4o-realtime-preview"
	defaultMintVoice       = "alloy"
	defaultMintSilenceMs   = 800
	defaultMintTimeout     = 20 * time.Second
	transcriptionModel     = "whisper-1"
	transcriptionLang      = "en"
	sessionsEndpointSuffix = "/v1/realtime/sessions"
)

// MinterOption is a functional option for [OpenAIMinter].
type MinterOption func(*OpenAIMinter)

// WithMintModel overrides the realtime model requested for sessions.
func WithMintModel(model string) MinterOption {
	return func(m *OpenAIMinter) { m.model = model }
}

// WithMintVoice overrides the interviewer voice preset.
func WithMintVoice(voice string) MinterOption {
	return func(m *OpenAIMinter) { m.voice = voice }
}

// WithMintBaseURL overrides the OpenAI REST base URL.
func WithMintBaseURL(base string) MinterOption {
	return func(m *OpenAIMinter) { m.baseURL = base }
}

// WithMintSilenceMs overrides the server VAD trailing-silence window.
func WithMintSilenceMs(ms int) MinterOption {
	return func(m *OpenAIMinter) { m.silenceMs = ms }
}

// WithMintVADTuning sets the server VAD activation threshold and leading
// padding. Zero values are omitted from the request so the upstream
// defaults apply.
func WithMintVADTuning(threshold float64, prefixPaddingMs int) MinterOption {
	return func(m *OpenAIMinter) {
		m.threshold = threshold
		m.prefixPaddingMs = prefixPaddingMs
	}
}

// WithMintLanguage overrides the input transcription language hint.
func WithMintLanguage(lang string) MinterOption {
	return func(m *OpenAIMinter) { m.language = lang }
}

// WithMintHTTPClient replaces the HTTP client.
func WithMintHTTPClient(c *http.Client) MinterOption {
	return func(m *OpenAIMinter) { m.client = c }
}

// OpenAIMinter mints ephemeral realtime session tokens against the OpenAI
// REST API. The long-lived API key never leaves this process; browsers and
// headless clients only ever see the short-lived token.
type OpenAIMinter struct {
	apiKey          string
	baseURL         string
	model           string
	voice           string
	language        string
	silenceMs       int
	threshold       float64
	prefixPaddingMs int
	client          *http.Client
}

// NewOpenAIMinter creates a minter with the given API key.
func NewOpenAIMinter(apiKey string, opts ...MinterOption) (*OpenAIMinter, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("server: openai api key is required")
	}
	m := &OpenAIMinter{
		apiKey:    apiKey,
		baseURL:   defaultOpenAIBase,
		model:     defaultRealtimeModel,
		voice:     defaultMintVoice,
		language:  transcriptionLang,
		silenceMs: defaultMintSilenceMs,
		client:    &http.Client{Timeout: defaultMintTimeout},
	}
	for _, o := range opts {
		o(m)
	}
	return m, nil
}

type mintRequest struct {
	Model         string        `json:"model"`
	Voice         string        `json:"voice"`
	Modalities    []string      `json:"modalities"`
	TurnDetection turnDetection `json:"turn_detection"`
	Instructions  string        `json:"instructions"`
	InputFormat   string        `json:"input_audio_format"`
	Transcription transcription `json:"input_audio_transcription"`
}

type turnDetection struct {
	Type              string  `json:"type"`
	SilenceDurationMs int     `json:"silence_duration_ms"`
	Threshold         float64 `json:"threshold,omitempty"`
	PrefixPaddingMs   int     `json:"prefix_padding_ms,omitempty"`
}

type transcription struct {
	Model    string `json:"model"`
	Language string `json:"language"`
}

// Mint requests an ephemeral session token carrying the given interviewer
// instructions. The upstream returns the secret in one of several shapes;
// all three observed locations are tried before giving up.
func (m *OpenAIMinter) Mint(ctx context.Context, instructions string) (string, error) {
	body, err := json.Marshal(mintRequest{
		Model:         m.model,
		Voice:         m.voice,
		Modalities:    []string{"audio", "text"},
		TurnDetection: turnDetection{
			Type:              "server_vad",
			SilenceDurationMs: m.silenceMs,
			Threshold:         m.threshold,
			PrefixPaddingMs:   m.prefixPaddingMs,
		},
		Instructions:  instructions,
		InputFormat:   "pcm16",
		Transcription: transcription{Model: transcriptionModel, Language: m.language},
	})
	if err != nil {
		return "", fmt.Errorf("server: marshal mint request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		m.baseURL+sessionsEndpointSuffix, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("server: build mint request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+m.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("OpenAI-Beta", "realtime=v1")

	resp, err := m.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("server: mint session: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return "", fmt.Errorf("server: mint session: upstream status %d: %s", resp.StatusCode, detail)
	}

	var data map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return "", fmt.Errorf("server: decode mint response: %w", err)
	}

	token := extractToken(data)
	if token == "" {
		return "", fmt.Errorf("server: mint session: ephemeral token missing from response")
	}
	return token, nil
}

// extractToken digs the ephemeral secret out of the response, trying
// client_secret.value, then a top-level value, then a bare client_secret
// string.
func extractToken(data map[string]any) string {
	if cs, ok := data["client_secret"].(map[string]any); ok {
		if v, ok := cs["value"].(string); ok && v != "" {
			return v
		}
	}
	if v, ok := data["value"].(string); ok && v != "" {
		return v
	}
	if v, ok := data["client_secret"].(string); ok && v != "" {
		return v
	}
	return ""
}
