// Command vivactl runs a headless interview against a vivavoce server: it
// mints a session, connects to the realtime API, streams microphone audio,
// and uploads the recording when the interview ends.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/vivavoce-ai/vivavoce/internal/analysis"
	"github.com/vivavoce-ai/vivavoce/internal/config"
	"github.com/vivavoce-ai/vivavoce/internal/content"
	"github.com/vivavoce-ai/vivavoce/internal/interview"
	"github.com/vivavoce-ai/vivavoce/internal/premises"
	"github.com/vivavoce-ai/vivavoce/pkg/audio"
	"github.com/vivavoce-ai/vivavoce/pkg/devices"
	paplatform "github.com/vivavoce-ai/vivavoce/pkg/devices/portaudio"
	"github.com/vivavoce-ai/vivavoce/pkg/devices/synth"
	"github.com/vivavoce-ai/vivavoce/pkg/realtime"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "", "optional YAML config; explicit flags win over its values")
	serverURL := flag.String("server", "http://localhost:8080", "vivavoce server base URL")
	topic := flag.String("topic", "", "interview topic (required)")
	candidateID := flag.String("candidate", "", "candidate id for the roster lookup")
	duration := flag.Duration("duration", 0, "override the interview countdown (0 uses the server default)")
	voice := flag.String("voice", "alloy", "interviewer voice preset")
	model := flag.String("model", "", "override the realtime model")
	realtimeURL := flag.String("realtime-url", "", "override the realtime WebSocket URL")
	micKind := flag.String("mic", "portaudio", "microphone source: portaudio or synth")
	follow := flag.Bool("follow", false, "mirror recording segments instead of running an interview")
	mirrorDir := flag.String("mirror-dir", "segments", "directory for mirrored segments (with -follow)")
	pollInterval := flag.Duration("poll-interval", 5*time.Second, "segment poll cadence (with -follow)")
	verbose := flag.Bool("v", false, "debug logging")
	flag.Parse()

	set := map[string]bool{}
	flag.Visit(func(f *flag.Flag) { set[f.Name] = true })

	s := &settings{
		serverURL:    *serverURL,
		voice:        *voice,
		duration:     *duration,
		model:        *model,
		realtimeURL:  *realtimeURL,
		pollInterval: *pollInterval,
	}
	if *configPath != "" {
		cfg, err := config.Load(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "vivactl: %v\n", err)
			return 1
		}
		s.applyConfig(cfg, set)
	}

	lvl := slog.LevelInfo
	if *verbose {
		lvl = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if *follow {
		return runFollow(ctx, s.serverURL, *mirrorDir, s.pollInterval, s.maxFailures)
	}

	if *topic == "" {
		fmt.Fprintln(os.Stderr, "vivactl: -topic is required")
		flag.Usage()
		return 2
	}

	// ── Audio platform ────────────────────────────────────────────────────────
	var platform devices.Platform
	switch *micKind {
	case "synth":
		platform = synth.New()
	case "portaudio":
		pa := paplatform.New()
		defer func() {
			if err := pa.Terminate(); err != nil {
				slog.Warn("portaudio terminate", "err", err)
			}
		}()
		platform = pa
	default:
		fmt.Fprintf(os.Stderr, "vivactl: unknown -mic %q (want portaudio or synth)\n", *micKind)
		return 2
	}

	// ── Runner collaborators ──────────────────────────────────────────────────
	api := &serverAPI{base: s.serverURL, client: &http.Client{Timeout: 30 * time.Second}}
	dialer := &realtimeDialer{model: s.model, baseURL: s.realtimeURL}

	opts := []interview.RunnerOption{
		interview.WithVoice(s.voice),
		interview.WithUploader(api),
		interview.WithMetadataSaver(api),
		interview.WithAnalyzer(api),
		interview.WithCandidateID(*candidateID),
		interview.WithOpeningInstructions(content.OpeningLine(*topic)),
	}
	if s.duration > 0 {
		opts = append(opts, interview.WithDuration(s.duration))
	}
	if s.language != "" {
		opts = append(opts, interview.WithLanguage(s.language))
	}
	if s.vad != nil {
		opts = append(opts, interview.WithVAD(*s.vad))
	}
	if s.chunkInterval > 0 {
		opts = append(opts, interview.WithChunkInterval(s.chunkInterval))
	}
	if s.container == config.ContainerWebM {
		slog.Warn("webm container is not supported for local capture, recording wav")
	}
	runner := interview.NewRunner(platform, api, dialer, opts...)

	slog.Info("starting interview", "topic", *topic, "server", s.serverURL)
	result, err := runner.Run(ctx, *topic)
	if err != nil {
		slog.Error("interview failed", "err", err)
		return 1
	}

	printResult(result)
	return 0
}

// settings are the effective client options after merging the optional YAML
// config under explicitly set flags.
type settings struct {
	serverURL     string
	voice         string
	duration      time.Duration
	language      string
	model         string
	realtimeURL   string
	chunkInterval time.Duration
	container     config.Container
	pollInterval  time.Duration
	maxFailures   int
	vad           *realtime.VADConfig
}

// applyConfig fills settings from cfg. A value is taken only when its flag
// was not set on the command line.
func (s *settings) applyConfig(cfg *config.Config, set map[string]bool) {
	if !set["server"] && cfg.Premises.BaseURL != "" {
		s.serverURL = cfg.Premises.BaseURL
	}
	if !set["voice"] && cfg.Interview.Voice != "" {
		s.voice = cfg.Interview.Voice
	}
	if !set["duration"] && cfg.Interview.Duration > 0 {
		s.duration = cfg.Interview.Duration.Std()
	}
	if !set["model"] && cfg.OpenAI.RealtimeModel != "" {
		s.model = cfg.OpenAI.RealtimeModel
	}
	if !set["realtime-url"] && cfg.OpenAI.RealtimeURL != "" {
		s.realtimeURL = cfg.OpenAI.RealtimeURL
	}
	if !set["poll-interval"] && cfg.Premises.PollInterval > 0 {
		s.pollInterval = cfg.Premises.PollInterval.Std()
	}
	s.language = cfg.Interview.Language
	s.chunkInterval = cfg.Recording.ChunkInterval.Std()
	s.container = cfg.Recording.Container
	s.maxFailures = cfg.Premises.MaxFailures

	if cfg.Interview.VAD != (config.VADConfig{}) {
		vad := realtime.DefaultVAD()
		if v := cfg.Interview.VAD.Threshold; v > 0 {
			vad.Threshold = v
		}
		if v := cfg.Interview.VAD.MinSpeechMs; v > 0 {
			vad.MinSpeechMs = v
		}
		if v := cfg.Interview.VAD.SilenceDurationMs; v > 0 {
			vad.SilenceDurationMs = v
		}
		if v := cfg.Interview.VAD.PrefixPaddingMs; v > 0 {
			vad.PrefixPaddingMs = v
		}
		s.vad = &vad
	}
}

func printResult(res *interview.Result) {
	fmt.Printf("interview complete: %d interviewer turns, %d candidate turns\n",
		len(res.Session.InterviewerTexts()), len(res.Session.CandidateTexts()))
	if res.RecordingURL != "" {
		fmt.Printf("recording: %s\n", res.RecordingURL)
	}
	if res.InterviewID != "" {
		fmt.Printf("interview id: %s\n", res.InterviewID)
	}
	if res.Report != nil {
		fmt.Printf("overall score: %.1f/10\n", res.Report.OverallScore)
		if res.Report.AnalysisSummary != "" {
			fmt.Printf("summary: %s\n", res.Report.AnalysisSummary)
		}
	}
}

// ── Segment mirroring ─────────────────────────────────────────────────────────

// runFollow tails the service's segment listing and downloads each new
// recording into mirrorDir. It runs until interrupted or the poller gives
// up on a persistently unreachable server.
func runFollow(ctx context.Context, serverURL, mirrorDir string, interval time.Duration, maxFailures int) int {
	if err := os.MkdirAll(mirrorDir, 0o755); err != nil {
		slog.Error("create mirror dir", "err", err)
		return 1
	}

	pollerOpts := []premises.Option{premises.WithInterval(interval)}
	if maxFailures > 0 {
		pollerOpts = append(pollerOpts, premises.WithMaxFailures(maxFailures))
	}
	poller := premises.NewPoller(serverURL, pollerOpts...)
	client := &http.Client{Timeout: 60 * time.Second}

	go func() {
		if err := poller.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("segment poller stopped", "err", err)
		}
	}()

	slog.Info("mirroring segments", "server", serverURL, "dir", mirrorDir)
	for seg := range poller.Segments() {
		if err := downloadSegment(ctx, client, serverURL, mirrorDir, seg); err != nil {
			slog.Warn("mirror segment", "url", seg.URL, "err", err)
			continue
		}
		slog.Info("segment mirrored", "url", seg.URL, "uploaded_at", seg.UploadedAt)
	}

	if err := poller.Err(); err != nil {
		return 1
	}
	return 0
}

func downloadSegment(ctx context.Context, client *http.Client, serverURL, dir string, seg premises.Segment) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, serverURL+seg.URL, nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("status %d", resp.StatusCode)
	}

	dest := filepath.Join(dir, filepath.Base(seg.URL))
	f, err := os.Create(dest)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, resp.Body); err != nil {
		f.Close()
		os.Remove(dest)
		return err
	}
	return f.Close()
}

// ── Server API client ─────────────────────────────────────────────────────────

// serverAPI talks to the vivavoce HTTP surface. It implements the runner's
// SessionMinter, Uploader, MetadataSaver and Analyzer collaborators.
type serverAPI struct {
	base   string
	client *http.Client
}

var (
	_ interview.SessionMinter = (*serverAPI)(nil)
	_ interview.Uploader      = (*serverAPI)(nil)
	_ interview.MetadataSaver = (*serverAPI)(nil)
	_ interview.Analyzer      = (*serverAPI)(nil)
)

func (a *serverAPI) MintSession(ctx context.Context, topic string) (*interview.SessionGrant, error) {
	var resp struct {
		Token         string `json:"token"`
		CandidateName string `json:"candidate_name"`
		JobTitle      string `json:"job_title"`
	}
	err := a.postJSON(ctx, "/session", map[string]string{"topic": topic}, &resp)
	if err != nil {
		return nil, err
	}
	return &interview.SessionGrant{
		Token:         resp.Token,
		CandidateName: resp.CandidateName,
		JobTitle:      resp.JobTitle,
	}, nil
}

func (a *serverAPI) UploadRecording(ctx context.Context, art *audio.Artifact, topic string) (string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	filename := "recording" + extForMIME(art.AudioMIME)
	fw, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return "", fmt.Errorf("vivactl: build upload: %w", err)
	}
	if _, err := fw.Write(art.Audio); err != nil {
		return "", fmt.Errorf("vivactl: build upload: %w", err)
	}
	if err := mw.WriteField("topic", topic); err != nil {
		return "", fmt.Errorf("vivactl: build upload: %w", err)
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("vivactl: build upload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.base+"/upload_recording", &buf)
	if err != nil {
		return "", fmt.Errorf("vivactl: build upload: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	var resp struct {
		URL string `json:"url"`
	}
	if err := a.do(req, &resp); err != nil {
		return "", err
	}
	return resp.URL, nil
}

func (a *serverAPI) SaveInterview(ctx context.Context, rec interview.InterviewRecord) (string, error) {
	var resp struct {
		ID string `json:"id"`
	}
	err := a.postJSON(ctx, "/interviews", map[string]any{
		"candidate_id":     rec.CandidateID,
		"topic":            rec.Topic,
		"recording_url":    rec.RecordingURL,
		"interviewerTurns": rec.InterviewerTurns,
		"candidateTurns":   rec.CandidateTurns,
	}, &resp)
	if err != nil {
		return "", err
	}
	return resp.ID, nil
}

func (a *serverAPI) Analyze(ctx context.Context, req analysis.Request) (*analysis.Report, error) {
	var report analysis.Report
	if err := a.postJSON(ctx, "/analyze", req, &report); err != nil {
		return nil, err
	}
	return &report, nil
}

func (a *serverAPI) postJSON(ctx context.Context, path string, body, out any) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("vivactl: marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.base+path, bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("vivactl: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return a.do(req, out)
}

func (a *serverAPI) do(req *http.Request, out any) error {
	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("vivactl: %s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(detail, &apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("vivactl: %s: %s", req.URL.Path, apiErr.Error)
		}
		return fmt.Errorf("vivactl: %s: status %d", req.URL.Path, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("vivactl: decode %s response: %w", req.URL.Path, err)
	}
	return nil
}

func extForMIME(mime string) string {
	switch mime {
	case "audio/webm":
		return ".webm"
	case "audio/ogg":
		return ".ogg"
	default:
		return ".wav"
	}
}

// ── Realtime dialer ───────────────────────────────────────────────────────────

// realtimeDialer adapts the realtime client to the runner's dialer
// interface.
type realtimeDialer struct {
	model   string
	baseURL string
}

var _ interview.RealtimeDialer = (*realtimeDialer)(nil)

func (d *realtimeDialer) Dial(ctx context.Context, token string, cfg realtime.SessionConfig) (interview.RealtimeSession, error) {
	if token == "" {
		return nil, errors.New("vivactl: empty session token")
	}
	var opts []realtime.Option
	if d.model != "" {
		opts = append(opts, realtime.WithModel(d.model))
	}
	if d.baseURL != "" {
		opts = append(opts, realtime.WithBaseURL(d.baseURL))
	}
	return realtime.New(token, opts...).Connect(ctx, cfg)
}
