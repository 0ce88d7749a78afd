// Package server exposes the Vivavoce HTTP surface: session token minting,
// recording upload and listing, interview metadata, and transcript analysis.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/metric"

	"github.com/vivavoce-ai/vivavoce/internal/analysis"
	"github.com/vivavoce-ai/vivavoce/internal/health"
	"github.com/vivavoce-ai/vivavoce/internal/observe"
	"github.com/vivavoce-ai/vivavoce/internal/store"
)

const maxUploadBytes = 64 << 20

// TokenMinter mints ephemeral realtime session tokens.
type TokenMinter interface {
	Mint(ctx context.Context, instructions string) (string, error)
}

// InstructionSource resolves topics to interviewer instructions.
type InstructionSource interface {
	KnownTopic(topic string) bool
	Topics() []string
	TopicInstructions(topic string) (string, error)
}

// MetadataStore persists interview metadata.
type MetadataStore interface {
	Save(ctx context.Context, iv *store.Interview) (string, error)
	Get(ctx context.Context, id string) (*store.Interview, error)
	List(ctx context.Context, candidateID string) ([]store.Interview, error)
	AttachReport(ctx context.Context, id string, report json.RawMessage) error
}

// TranscriptAnalyzer evaluates a finished transcript.
type TranscriptAnalyzer interface {
	Analyze(ctx context.Context, req analysis.Request) (*analysis.Report, error)
}

// Candidate is one roster entry returned alongside a minted session.
type Candidate struct {
	Name     string
	JobTitle string
}

// Option is a functional option for [Server].
type Option func(*Server)

// WithMetadata enables the interview metadata endpoints.
func WithMetadata(m MetadataStore) Option {
	return func(s *Server) { s.metadata = m }
}

// WithAnalyzer enables the /analyze endpoint.
func WithAnalyzer(a TranscriptAnalyzer) Option {
	return func(s *Server) { s.analyzer = a }
}

// WithRoster sets the candidate roster keyed by candidate ID.
func WithRoster(roster map[string]Candidate) Option {
	return func(s *Server) { s.roster = roster }
}

// WithHealth attaches a health handler whose routes Register wires up.
func WithHealth(h *health.Handler) Option {
	return func(s *Server) { s.health = h }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// Server wires the HTTP handlers over the minting, storage and analysis
// subsystems. Optional subsystems left nil disable their endpoints with a
// 503 rather than a panic.
type Server struct {
	library    InstructionSource
	minter     TokenMinter
	recordings *store.RecordingStore
	metadata   MetadataStore
	analyzer   TranscriptAnalyzer
	roster     map[string]Candidate
	health     *health.Handler
	metrics    *observe.Metrics
	logger     *slog.Logger
}

// New constructs a Server over the required subsystems.
func New(library InstructionSource, minter TokenMinter, recordings *store.RecordingStore, opts ...Option) (*Server, error) {
	if library == nil || minter == nil || recordings == nil {
		return nil, errors.New("server: library, minter and recordings are required")
	}
	s := &Server{
		library:    library,
		minter:     minter,
		recordings: recordings,
		logger:     slog.Default(),
	}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	return s, nil
}

// Register wires all routes onto mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /session", s.handleSession)
	mux.HandleFunc("GET /topics", s.handleTopics)
	mux.HandleFunc("POST /upload_recording", s.handleUploadRecording)
	mux.HandleFunc("GET /segments", s.handleSegments)
	mux.HandleFunc("POST /analyze", s.handleAnalyze)
	mux.HandleFunc("POST /interviews", s.handleCreateInterview)
	mux.HandleFunc("GET /interviews", s.handleListInterviews)
	mux.HandleFunc("GET /interviews/{id}", s.handleGetInterview)

	prefix := "/static/recordings/"
	mux.Handle("GET "+prefix, http.StripPrefix(prefix,
		http.FileServer(http.Dir(s.recordings.Dir()))))

	mux.Handle("GET /metrics", promhttp.Handler())
	if s.health != nil {
		s.health.Register(mux)
	}
}

// ─── Session minting ─────────────────────────────────────────────────────

type sessionRequest struct {
	Topic       string `json:"topic"`
	CandidateID string `json:"candidate_id"`
}

type sessionResponse struct {
	Token         string `json:"token"`
	CandidateName string `json:"candidate_name,omitempty"`
	JobTitle      string `json:"job_title,omitempty"`
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	var req sessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if !s.library.KnownTopic(req.Topic) {
		writeError(w, http.StatusBadRequest, "Invalid topic")
		return
	}

	instructions, err := s.library.TopicInstructions(req.Topic)
	if err != nil {
		s.logger.Error("build topic instructions", "topic", req.Topic, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to build interviewer instructions")
		return
	}

	start := time.Now()
	token, err := s.minter.Mint(r.Context(), instructions)
	s.metrics.MintDuration.Record(r.Context(), time.Since(start).Seconds())
	if err != nil {
		s.metrics.RecordUpstreamError(r.Context(), "openai", "mint")
		s.logger.Error("mint session token", "topic", req.Topic, "error", err)
		writeError(w, http.StatusBadGateway, "failed to mint session token")
		return
	}

	resp := sessionResponse{Token: token}
	if c, ok := s.roster[req.CandidateID]; ok {
		resp.CandidateName = c.Name
		resp.JobTitle = c.JobTitle
	}
	s.logger.Info("session minted", "topic", req.Topic, "candidate_id", req.CandidateID)
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleTopics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string][]string{"topics": s.library.Topics()})
}

// ─── Recordings ──────────────────────────────────────────────────────────

func (s *Server) handleUploadRecording(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "missing file field")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read upload")
		return
	}

	ext := filepath.Ext(header.Filename)

	start := time.Now()
	url, err := s.recordings.Save(data, ext)
	s.metrics.UploadDuration.Record(r.Context(), time.Since(start).Seconds())
	if err != nil {
		s.logger.Error("store recording", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to store recording")
		return
	}

	resp := map[string]string{"url": url}
	if videoURL, err := s.saveVideoPart(r); err != nil {
		s.logger.Warn("store video sidecar", "error", err)
	} else if videoURL != "" {
		resp["video_url"] = videoURL
	}

	s.logger.Info("recording uploaded",
		"url", url,
		"bytes", len(data),
		"topic", r.FormValue("topic"),
	)
	writeJSON(w, http.StatusOK, resp)
}

// saveVideoPart stores the optional video part of an upload. A missing
// part returns ("", nil).
func (s *Server) saveVideoPart(r *http.Request) (string, error) {
	video, header, err := r.FormFile("video")
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) {
			return "", nil
		}
		return "", err
	}
	defer video.Close()

	data, err := io.ReadAll(video)
	if err != nil {
		return "", err
	}
	return s.recordings.Save(data, filepath.Ext(header.Filename))
}

func (s *Server) handleSegments(w http.ResponseWriter, r *http.Request) {
	segments, err := s.recordings.Segments()
	if err != nil {
		s.logger.Error("list segments", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list segments")
		return
	}
	writeJSON(w, http.StatusOK, map[string][]store.Segment{"segments": segments})
}

// ─── Analysis ────────────────────────────────────────────────────────────

type analyzeRequest struct {
	analysis.Request
	InterviewID string `json:"interview_id,omitempty"`
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	if s.analyzer == nil {
		writeError(w, http.StatusServiceUnavailable, "analysis is not configured")
		return
	}

	var req analyzeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	start := time.Now()
	report, err := s.analyzer.Analyze(r.Context(), req.Request)
	s.metrics.AnalysisDuration.Record(r.Context(), time.Since(start).Seconds(),
		metric.WithAttributes(observe.Attr("topic", req.Topic)))
	if err != nil {
		s.metrics.RecordUpstreamError(r.Context(), "openai", "analyze")
		s.logger.Error("analyze transcript", "topic", req.Topic, "error", err)
		writeError(w, http.StatusBadGateway, "analysis failed")
		return
	}

	if req.InterviewID != "" && s.metadata != nil {
		raw, merr := json.Marshal(report)
		if merr == nil {
			merr = s.metadata.AttachReport(r.Context(), req.InterviewID, raw)
		}
		if merr != nil {
			// The report still goes back to the caller; only persistence
			// failed.
			s.logger.Warn("attach report", "interview_id", req.InterviewID, "error", merr)
		}
	}

	writeJSON(w, http.StatusOK, report)
}

// ─── Interview metadata ──────────────────────────────────────────────────

func (s *Server) handleCreateInterview(w http.ResponseWriter, r *http.Request) {
	if s.metadata == nil {
		writeError(w, http.StatusServiceUnavailable, "metadata store is not configured")
		return
	}

	var body struct {
		CandidateID      string          `json:"candidate_id"`
		Topic            string          `json:"topic"`
		RecordingURL     string          `json:"recording_url"`
		InterviewerTurns []string        `json:"interviewerTurns"`
		CandidateTurns   []string        `json:"candidateTurns"`
		Report           json.RawMessage `json:"report,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	iv := &store.Interview{
		CandidateID:      body.CandidateID,
		Topic:            body.Topic,
		RecordingURL:     body.RecordingURL,
		InterviewerTurns: body.InterviewerTurns,
		CandidateTurns:   body.CandidateTurns,
		Report:           body.Report,
	}
	id, err := s.metadata.Save(r.Context(), iv)
	if err != nil {
		if iv.Validate() != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.logger.Error("save interview", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to save interview")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": id})
}

func (s *Server) handleListInterviews(w http.ResponseWriter, r *http.Request) {
	if s.metadata == nil {
		writeError(w, http.StatusServiceUnavailable, "metadata store is not configured")
		return
	}
	interviews, err := s.metadata.List(r.Context(), r.URL.Query().Get("candidate_id"))
	if err != nil {
		s.logger.Error("list interviews", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list interviews")
		return
	}
	if interviews == nil {
		interviews = []store.Interview{}
	}
	writeJSON(w, http.StatusOK, map[string][]store.Interview{"interviews": interviews})
}

func (s *Server) handleGetInterview(w http.ResponseWriter, r *http.Request) {
	if s.metadata == nil {
		writeError(w, http.StatusServiceUnavailable, "metadata store is not configured")
		return
	}
	iv, err := s.metadata.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		s.logger.Error("get interview", "id", r.PathValue("id"), "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load interview")
		return
	}
	if iv == nil {
		writeError(w, http.StatusNotFound, "interview not found")
		return
	}
	writeJSON(w, http.StatusOK, iv)
}

// ─── Helpers ─────────────────────────────────────────────────────────────

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
