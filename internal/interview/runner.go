package interview

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/vivavoce-ai/vivavoce/internal/analysis"
	"github.com/vivavoce-ai/vivavoce/pkg/audio"
	"github.com/vivavoce-ai/vivavoce/pkg/devices"
	"github.com/vivavoce-ai/vivavoce/pkg/realtime"
)

// Defaults for a session run.
const (
	defaultDuration       = 3 * time.Minute
	defaultCheckWindow    = 500 * time.Millisecond
	defaultPlayRetries    = 3
	defaultPlayRetryDelay = 300 * time.Millisecond
)

// SessionGrant is the result of minting a session: an ephemeral realtime
// token plus optional roster data about the candidate.
type SessionGrant struct {
	Token         string
	CandidateName string
	JobTitle      string
}

// SessionMinter obtains a session grant for a topic. A failure here aborts
// the session start with a user-visible message.
type SessionMinter interface {
	MintSession(ctx context.Context, topic string) (*SessionGrant, error)
}

// RealtimeSession is the slice of a realtime connection the runner needs.
// *realtime.Session satisfies it.
type RealtimeSession interface {
	Events() <-chan []byte
	Audio() <-chan []byte
	SendAudio(chunk []byte) error
	CreateResponse(instructions string) error
	Err() error
	Close() error
}

// RealtimeDialer opens a realtime session with a minted token.
type RealtimeDialer interface {
	Dial(ctx context.Context, token string, cfg realtime.SessionConfig) (RealtimeSession, error)
}

// Uploader stores the finalized recording artifact and returns its URL.
type Uploader interface {
	UploadRecording(ctx context.Context, art *audio.Artifact, topic string) (string, error)
}

// InterviewRecord is the metadata saved after a session.
type InterviewRecord struct {
	CandidateID      string
	Topic            string
	RecordingURL     string
	InterviewerTurns []string
	CandidateTurns   []string
}

// MetadataSaver persists interview metadata and returns the record id.
type MetadataSaver interface {
	SaveInterview(ctx context.Context, rec InterviewRecord) (string, error)
}

// Analyzer produces the post-interview report.
type Analyzer interface {
	Analyze(ctx context.Context, req analysis.Request) (*analysis.Report, error)
}

// Player renders the remote interviewer voice. Play must not block; the
// player starts muted and is unmuted on the first accepted interviewer
// turn.
type Player interface {
	Play(frames <-chan []byte)
	Unmute() error
	Close() error
}

// Result is what a completed run produced. Post-interview steps are
// best-effort: a failed upload, save or analysis leaves its field zero and
// is logged, it does not fail the run.
type Result struct {
	Session      *Session
	Artifact     *audio.Artifact
	RecordingURL string
	InterviewID  string
	Report       *analysis.Report
}

// ── Options ───────────────────────────────────────────────────────────────────

// RunnerOption is a functional option for configuring a Runner.
type RunnerOption func(*Runner)

// WithDuration sets the interview countdown. On expiry the session goes
// through the same teardown path as a manual end.
func WithDuration(d time.Duration) RunnerOption {
	return func(r *Runner) {
		if d > 0 {
			r.duration = d
		}
	}
}

// WithFormat sets the PCM format used for capture, mixing and recording.
func WithFormat(f audio.Format) RunnerOption {
	return func(r *Runner) { r.format = f }
}

// WithChunkInterval sets the recorder chunk cadence.
func WithChunkInterval(d time.Duration) RunnerOption {
	return func(r *Runner) { r.chunkInterval = d }
}

// WithUploader enables recording upload after the session.
func WithUploader(u Uploader) RunnerOption {
	return func(r *Runner) { r.uploader = u }
}

// WithMetadataSaver enables interview metadata persistence.
func WithMetadataSaver(m MetadataSaver) RunnerOption {
	return func(r *Runner) { r.metadata = m }
}

// WithAnalyzer enables the post-interview analysis request.
func WithAnalyzer(a Analyzer) RunnerOption {
	return func(r *Runner) { r.analyzer = a }
}

// WithPlayer attaches a playback sink for the remote voice.
func WithPlayer(p Player) RunnerOption {
	return func(r *Runner) { r.player = p }
}

// WithVoice sets the interviewer voice requested in the session config.
func WithVoice(voice string) RunnerOption {
	return func(r *Runner) { r.voice = voice }
}

// WithVAD overrides the server-side turn-detection tuning sent in the
// session config.
func WithVAD(vad realtime.VADConfig) RunnerOption {
	return func(r *Runner) { r.vad = vad }
}

// WithLanguage sets the input transcription language hint.
func WithLanguage(lang string) RunnerOption {
	return func(r *Runner) { r.language = lang }
}

// WithOpeningInstructions sets the per-response instructions sent with the
// initial response trigger (the scripted interview opening).
func WithOpeningInstructions(s string) RunnerOption {
	return func(r *Runner) { r.opening = s }
}

// WithCandidateID sets the candidate id recorded in metadata.
func WithCandidateID(id string) RunnerOption {
	return func(r *Runner) { r.candidateID = id }
}

// WithPlaybackRetry overrides the fixed delayed retries used when resuming
// playback.
func WithPlaybackRetry(attempts int, delay time.Duration) RunnerOption {
	return func(r *Runner) {
		r.playRetries = attempts
		r.playRetryDelay = delay
	}
}

// ── Runner ────────────────────────────────────────────────────────────────────

// Runner sequences one interview session: device check, session minting,
// realtime connection, the single-consumer event loop, countdown, teardown,
// and the post-interview upload/save/analyze steps. Exactly one session is
// live per runner at a time.
type Runner struct {
	platform devices.Platform
	minter   SessionMinter
	dialer   RealtimeDialer

	uploader Uploader
	metadata MetadataSaver
	analyzer Analyzer
	player   Player

	duration       time.Duration
	format         audio.Format
	chunkInterval  time.Duration
	checkWindow    time.Duration
	playRetries    int
	playRetryDelay time.Duration
	voice          string
	language       string
	vad            realtime.VADConfig
	opening        string
	candidateID    string
}

// NewRunner creates a runner over the mandatory collaborators. Optional
// collaborators (uploader, metadata, analyzer, player) are attached via
// options; a missing one skips its step with a log line.
func NewRunner(platform devices.Platform, minter SessionMinter, dialer RealtimeDialer, opts ...RunnerOption) *Runner {
	r := &Runner{
		platform:       platform,
		minter:         minter,
		dialer:         dialer,
		duration:       defaultDuration,
		format:         audio.Format{SampleRate: 24000, Channels: 1},
		checkWindow:    defaultCheckWindow,
		playRetries:    defaultPlayRetries,
		playRetryDelay: defaultPlayRetryDelay,
		voice:          "alloy",
		vad:            realtime.DefaultVAD(),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Run executes one full interview on the given topic. Session-start
// failures (device check, minting, connecting) return an error with the
// state rolled back; failures after the interview ran are logged and leave
// the corresponding Result field empty.
func (r *Runner) Run(ctx context.Context, topic string) (*Result, error) {
	check, err := devices.Check(ctx, r.platform, r.format, r.checkWindow)
	if err != nil {
		return nil, fmt.Errorf("interview: device check: %w", err)
	}
	slog.Info("interview: device check passed",
		"mic_level", check.MicLevel, "camera", check.CameraAvailable)

	grant, err := r.minter.MintSession(ctx, topic)
	if err != nil {
		return nil, fmt.Errorf("interview: mint session: %w", err)
	}

	var (
		mic      devices.AudioTrack
		camera   devices.VideoTrack
		mixer    *audio.Mixer
		recorder *audio.Recorder
		sess     RealtimeSession
	)

	// Teardown order is fixed: stop the recorder and await its flush,
	// close the realtime connection, release device tracks. Every step is
	// best-effort; a failure is logged and the next step still runs.
	// quit releases the forwarding goroutines first, so a buffered audio
	// backlog cannot hold them on a mixer that has stopped draining.
	quit := make(chan struct{})
	var teardownOnce sync.Once
	teardown := func() {
		teardownOnce.Do(func() {
			close(quit)
			if recorder != nil {
				recorder.Stop()
			}
			if sess != nil {
				if err := sess.Close(); err != nil {
					slog.Warn("interview: realtime close failed", "error", err)
				}
			}
			if mic != nil {
				if err := mic.Close(); err != nil {
					slog.Warn("interview: mic release failed", "error", err)
				}
			}
			if camera != nil {
				if err := camera.Close(); err != nil {
					slog.Warn("interview: camera release failed", "error", err)
				}
			}
			if mixer != nil {
				_ = mixer.Close()
			}
			if r.player != nil {
				if err := r.player.Close(); err != nil {
					slog.Warn("interview: player close failed", "error", err)
				}
			}
		})
	}
	defer teardown()

	mic, err = r.platform.OpenMicrophone(ctx, r.format)
	if err != nil {
		return nil, fmt.Errorf("interview: microphone: %w", err)
	}

	camera, err = r.platform.OpenCamera(ctx)
	if err != nil {
		slog.Warn("interview: camera unavailable, recording audio-only", "error", err)
		camera = nil
	}

	mixer = audio.NewMixer(r.format)
	micMix := make(chan audio.Frame, 16)
	mixer.AddSource("mic", micMix)

	recOpts := []audio.RecorderOption{}
	if r.chunkInterval > 0 {
		recOpts = append(recOpts, audio.WithChunkInterval(r.chunkInterval))
	}
	if camera != nil {
		recOpts = append(recOpts, audio.WithVideo(camera.Frames()))
	}
	recorder = audio.NewRecorder(mixer.Output(), r.format, recOpts...)

	sess, err = r.dialer.Dial(ctx, grant.Token, realtime.SessionConfig{
		Voice:    r.voice,
		VAD:      r.vad,
		Language: r.language,
	})
	if err != nil {
		return nil, fmt.Errorf("interview: connect: %w", err)
	}
	if err := sess.CreateResponse(r.opening); err != nil {
		return nil, fmt.Errorf("interview: trigger response: %w", err)
	}

	session := NewSession(topic, grant.CandidateName)

	var unmuteOnce sync.Once
	acc := NewAccumulator(session, WithInterviewerTurnObserver(func(Turn) {
		if r.player == nil {
			return
		}
		unmuteOnce.Do(func() { go r.resumePlayback() })
	}))

	// The remote voice attaches to the mixer here — after the recorder has
	// already started — and fans out to the playback sink.
	remoteMix := make(chan audio.Frame, 16)
	mixer.AddSource("remote", remoteMix)

	var playCh chan []byte
	if r.player != nil {
		playCh = make(chan []byte, 16)
		r.player.Play(playCh)
	}

	go func() {
		defer close(remoteMix)
		if playCh != nil {
			defer close(playCh)
		}
		for chunk := range sess.Audio() {
			frame := audio.Frame{
				Data:       chunk,
				SampleRate: r.format.SampleRate,
				Channels:   r.format.Channels,
				Timestamp:  time.Now(),
			}
			select {
			case remoteMix <- frame:
			case <-quit:
				return
			}
			if playCh != nil {
				select {
				case playCh <- chunk:
				default:
				}
			}
		}
	}()

	go func() {
		defer close(micMix)
		for frame := range mic.Frames() {
			if err := sess.SendAudio(frame.Data); err != nil {
				slog.Debug("interview: send audio failed", "error", err)
			}
			select {
			case micMix <- frame:
			case <-quit:
				return
			}
		}
	}()

	// Single consumer: every event is classified and applied as one
	// uninterruptible step, in strict arrival order.
	countdown := time.NewTimer(r.duration)
	defer countdown.Stop()

loop:
	for {
		select {
		case <-ctx.Done():
			slog.Info("interview: context cancelled, ending session")
			break loop
		case <-countdown.C:
			slog.Info("interview: countdown expired, ending session", "duration", r.duration)
			break loop
		case frame, ok := <-sess.Events():
			if !ok {
				if err := sess.Err(); err != nil {
					slog.Warn("interview: realtime connection lost", "error", err)
				}
				break loop
			}
			acc.Apply(Classify(frame))
		}
	}

	teardown()

	res := &Result{Session: session}
	r.finish(ctx, topic, session, recorder, res)
	return res, nil
}

// finish runs the post-interview steps: finalize, upload, metadata,
// analysis. Each failure is logged and the remaining steps still run.
func (r *Runner) finish(ctx context.Context, topic string, session *Session, recorder *audio.Recorder, res *Result) {
	art, err := recorder.Finalize()
	switch {
	case errors.Is(err, audio.ErrNoRecording):
		slog.Warn("interview: no recording captured, skipping upload")
	case err != nil:
		slog.Warn("interview: finalize recording failed", "error", err)
	default:
		res.Artifact = art
		if r.uploader == nil {
			slog.Info("interview: no uploader configured, keeping artifact local")
			break
		}
		url, err := r.uploader.UploadRecording(ctx, art, topic)
		if err != nil {
			slog.Warn("interview: recording upload failed", "error", err)
		} else {
			res.RecordingURL = url
		}
	}

	if r.metadata != nil {
		id, err := r.metadata.SaveInterview(ctx, InterviewRecord{
			CandidateID:      r.candidateID,
			Topic:            topic,
			RecordingURL:     res.RecordingURL,
			InterviewerTurns: session.InterviewerTexts(),
			CandidateTurns:   session.CandidateTexts(),
		})
		if err != nil {
			slog.Warn("interview: metadata save failed", "error", err)
		} else {
			res.InterviewID = id
		}
	}

	if r.analyzer != nil {
		report, err := r.analyzer.Analyze(ctx, analysis.Request{
			Topic:            topic,
			InterviewerTurns: session.InterviewerTexts(),
			CandidateTurns:   session.CandidateTexts(),
			RecordingURL:     res.RecordingURL,
		})
		if err != nil {
			slog.Warn("interview: analysis failed", "error", err)
		} else {
			res.Report = report
		}
	}
}

// resumePlayback unmutes the player with a fixed number of delayed retries.
// This is one of only two auto-retried operations in the system.
func (r *Runner) resumePlayback() {
	var lastErr error
	for attempt := 0; attempt <= r.playRetries; attempt++ {
		if attempt > 0 {
			time.Sleep(r.playRetryDelay)
		}
		if lastErr = r.player.Unmute(); lastErr == nil {
			return
		}
	}
	slog.Warn("interview: playback resume failed", "attempts", r.playRetries+1, "error", lastErr)
}
