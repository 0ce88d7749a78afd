// Package realtime implements a WebSocket client for OpenAI's Realtime API.
//
// It establishes a bidirectional connection to the Realtime endpoint using an
// ephemeral session token and exchanges JSON events according to the Realtime
// API protocol. Microphone audio is transmitted as base64-encoded PCM16
// chunks. Every inbound server event is surfaced verbatim on [Session.Events]
// in arrival order so that a downstream consumer can classify transcript
// events itself; synthesised voice audio is additionally decoded onto
// [Session.Audio].
package realtime

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/coder/websocket"
)

const (
	defaultModel   = "gpt-4o-realtime-preview"
	defaultBaseURL = "wss://api.openai.com/v1/realtime"
)

// ── Options ────────────────────────────────────────────────────────────────────

// Option is a functional option for configuring a Client.
type Option func(*Client)

// WithModel sets the Realtime model requested in the connection URL.
func WithModel(model string) Option {
	return func(c *Client) { c.model = model }
}

// WithBaseURL overrides the base WebSocket URL. Primarily used in tests to
// point at a local mock server.
func WithBaseURL(url string) Option {
	return func(c *Client) { c.baseURL = url }
}

// ── Client ─────────────────────────────────────────────────────────────────────

// Client dials the OpenAI Realtime API. The token is the ephemeral client
// secret minted server-side per interview, not a long-lived API key.
type Client struct {
	token   string
	model   string
	baseURL string
}

// New creates a Realtime client with the given ephemeral token and options.
func New(token string, opts ...Option) *Client {
	c := &Client{
		token:   token,
		model:   defaultModel,
		baseURL: defaultBaseURL,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// VADConfig tunes the server-side voice activity detector that decides when
// the speaker has finished a turn.
type VADConfig struct {
	Threshold         float64
	MinSpeechMs       int
	SilenceDurationMs int
	PrefixPaddingMs   int
}

// DefaultVAD returns the turn-detection tuning used for interview sessions:
// a high activation threshold with a long trailing silence so candidates can
// pause mid-answer without being cut off.
func DefaultVAD() VADConfig {
	return VADConfig{
		Threshold:         0.75,
		MinSpeechMs:       650,
		SilenceDurationMs: 1600,
		PrefixPaddingMs:   200,
	}
}

// SessionConfig carries the per-session parameters sent in the initial
// session.update event. Zero-value VAD and transcription fields fall back to
// the interview defaults.
type SessionConfig struct {
	Voice        string
	Instructions string
	VAD          VADConfig

	// TranscriptionModel and Language configure input-speech transcription.
	// Defaults: whisper-1, en.
	TranscriptionModel string
	Language           string
}

// Connect establishes a Realtime session. The returned Session is ready to
// accept audio immediately after the session.update message is sent.
func (c *Client) Connect(ctx context.Context, cfg SessionConfig) (*Session, error) {
	wsURL := fmt.Sprintf("%s?model=%s", c.baseURL, c.model)

	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: http.Header{
			"Authorization": []string{"Bearer " + c.token},
			"OpenAI-Beta":   []string{"realtime=v1"},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("realtime: dial: %w", err)
	}

	sessCtx, sessCancel := context.WithCancel(context.Background())
	sess := &Session{
		conn:    conn,
		events:  make(chan []byte, 64),
		audioCh: make(chan []byte, 64),
		ctx:     sessCtx,
		cancel:  sessCancel,
	}

	if err := sess.sendSessionUpdate(cfg); err != nil {
		sessCancel()
		conn.Close(websocket.StatusInternalError, "session update failed")
		return nil, fmt.Errorf("realtime: session update: %w", err)
	}

	go sess.receiveLoop()

	return sess, nil
}

// ── Protocol message types (outgoing) ─────────────────────────────────────────

type sessionUpdateMessage struct {
	Type    string        `json:"type"`
	Session sessionParams `json:"session"`
}

type sessionParams struct {
	Modalities              []string             `json:"modalities"`
	Voice                   string               `json:"voice,omitempty"`
	Instructions            string               `json:"instructions,omitempty"`
	InputAudioFormat        string               `json:"input_audio_format"`
	OutputAudioFormat       string               `json:"output_audio_format"`
	TurnDetection           *turnDetectionParams `json:"turn_detection,omitempty"`
	InputAudioTranscription *transcriptionParams `json:"input_audio_transcription,omitempty"`
}

type turnDetectionParams struct {
	Type              string  `json:"type"`
	Threshold         float64 `json:"threshold,omitempty"`
	MinSpeechMs       int     `json:"min_speech_ms,omitempty"`
	SilenceDurationMs int     `json:"silence_duration_ms,omitempty"`
	PrefixPaddingMs   int     `json:"prefix_padding_ms,omitempty"`
}

type transcriptionParams struct {
	Model    string `json:"model"`
	Language string `json:"language,omitempty"`
}

type appendAudioMessage struct {
	Type  string `json:"type"`
	Audio string `json:"audio"` // base64-encoded PCM16
}

type createResponseMessage struct {
	Type     string          `json:"type"`
	Response *responseParams `json:"response,omitempty"`
}

type responseParams struct {
	Instructions string `json:"instructions,omitempty"`
}

// ── Protocol message types (incoming) ─────────────────────────────────────────

// serverEvent is the minimal decode the session itself needs. The full raw
// frame is still forwarded untouched on the events channel.
type serverEvent struct {
	Type  string `json:"type"`
	Delta string `json:"delta,omitempty"`
}

// ── Session ────────────────────────────────────────────────────────────────────

// Session is an open Realtime connection. Events and Audio are owned by the
// receive loop and closed when it exits.
type Session struct {
	conn    *websocket.Conn
	events  chan []byte
	audioCh chan []byte

	mu     sync.Mutex
	errVal error
	closed bool

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

// sendSessionUpdate sends the initial session.update event with voice,
// instructions, audio formats, turn detection and input transcription.
func (s *Session) sendSessionUpdate(cfg SessionConfig) error {
	vad := cfg.VAD
	if vad == (VADConfig{}) {
		vad = DefaultVAD()
	}
	txModel := cfg.TranscriptionModel
	if txModel == "" {
		txModel = "whisper-1"
	}
	language := cfg.Language
	if language == "" {
		language = "en"
	}

	params := sessionParams{
		Modalities:        []string{"audio", "text"},
		Voice:             cfg.Voice,
		Instructions:      cfg.Instructions,
		InputAudioFormat:  "pcm16",
		OutputAudioFormat: "pcm16",
		TurnDetection: &turnDetectionParams{
			Type:              "server_vad",
			Threshold:         vad.Threshold,
			MinSpeechMs:       vad.MinSpeechMs,
			SilenceDurationMs: vad.SilenceDurationMs,
			PrefixPaddingMs:   vad.PrefixPaddingMs,
		},
		InputAudioTranscription: &transcriptionParams{
			Model:    txModel,
			Language: language,
		},
	}
	return s.writeJSON(sessionUpdateMessage{Type: "session.update", Session: params})
}

// writeJSON marshals v and writes it as a text WebSocket message.
func (s *Session) writeJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("realtime: marshal: %w", err)
	}
	return s.conn.Write(s.ctx, websocket.MessageText, data)
}

// receiveLoop reads server events and forwards each raw frame, in arrival
// order, on the events channel. Audio deltas are additionally decoded onto
// the audio channel. It owns both channels and closes them on exit.
func (s *Session) receiveLoop() {
	defer s.closeChannels()

	for {
		_, data, err := s.conn.Read(s.ctx)
		if err != nil {
			if s.ctx.Err() != nil {
				return
			}
			s.setErr(err)
			return
		}

		select {
		case s.events <- data:
		case <-s.ctx.Done():
			return
		}

		var evt serverEvent
		if err := json.Unmarshal(data, &evt); err != nil {
			continue
		}
		if evt.Type == "response.audio.delta" && evt.Delta != "" {
			audioData, err := base64.StdEncoding.DecodeString(evt.Delta)
			if err != nil || len(audioData) == 0 {
				continue
			}
			select {
			case s.audioCh <- audioData:
			case <-s.ctx.Done():
				return
			}
		}
	}
}

func (s *Session) setErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.errVal == nil {
		s.errVal = err
	}
}

func (s *Session) closeChannels() {
	s.closeOnce.Do(func() {
		close(s.events)
		close(s.audioCh)
	})
}

// Events returns the raw inbound server events in arrival order. Consumers
// must classify and decode frames themselves; the session never reorders,
// batches or drops frames on this channel.
func (s *Session) Events() <-chan []byte { return s.events }

// Audio returns the channel on which the model's synthesised PCM16 audio
// arrives, already base64-decoded.
func (s *Session) Audio() <-chan []byte { return s.audioCh }

// SendAudio delivers a raw PCM16 microphone chunk to the model.
func (s *Session) SendAudio(chunk []byte) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return fmt.Errorf("realtime: session closed")
	}
	s.mu.Unlock()

	return s.writeJSON(appendAudioMessage{
		Type:  "input_audio_buffer.append",
		Audio: base64.StdEncoding.EncodeToString(chunk),
	})
}

// CreateResponse asks the model to produce a response. A non-empty
// instructions string overrides the session instructions for this one
// response, used to force the scripted interview opening.
func (s *Session) CreateResponse(instructions string) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return fmt.Errorf("realtime: session closed")
	}
	s.mu.Unlock()

	msg := createResponseMessage{Type: "response.create"}
	if instructions != "" {
		msg.Response = &responseParams{Instructions: instructions}
	}
	return s.writeJSON(msg)
}

// Interrupt sends a response.cancel event to stop the current model response.
func (s *Session) Interrupt() error {
	return s.writeJSON(map[string]string{"type": "response.cancel"})
}

// Err returns the first non-nil error that terminated the receive loop.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errVal
}

// Close terminates the session and releases the connection. Idempotent.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.cancel()
	s.conn.Close(websocket.StatusNormalClosure, "session closed")
	return nil
}
