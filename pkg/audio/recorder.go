package audio

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrNoRecording is returned by [Recorder.Finalize] when zero chunks were
// captured. Callers must treat this as an explicit "no recording" state
// rather than uploading an empty artifact.
var ErrNoRecording = errors.New("audio: no recording captured")

// defaultChunkInterval is the cadence at which the recorder commits buffered
// PCM as one ordered chunk.
const defaultChunkInterval = time.Second

// Supported audio containers for the finalized artifact.
const (
	ContainerWAV = "wav"
	ContainerPCM = "pcm"
)

// Artifact is the finalized recording: every captured chunk concatenated in
// arrival order. Video is present only when camera frames were recorded.
type Artifact struct {
	Audio     []byte
	AudioMIME string

	// Video holds concatenated JPEG frames (motion JPEG) when a camera
	// track was attached, nil otherwise.
	Video     []byte
	VideoMIME string

	Duration time.Duration
}

// RecorderOption is a functional option for configuring a [Recorder].
type RecorderOption func(*Recorder)

// WithChunkInterval overrides the 1-second chunk cadence.
func WithChunkInterval(d time.Duration) RecorderOption {
	return func(r *Recorder) {
		if d > 0 {
			r.interval = d
		}
	}
}

// WithContainer selects the audio container for [Recorder.Finalize].
// Unrecognised names fall back to WAV with a logged warning.
func WithContainer(name string) RecorderOption {
	return func(r *Recorder) { r.container = name }
}

// WithVideo attaches a camera track delivering encoded JPEG frames. The
// recorder buffers them as a parallel video stream in the same artifact.
func WithVideo(frames <-chan []byte) RecorderOption {
	return func(r *Recorder) { r.video = frames }
}

// Recorder drains a mixed PCM stream and commits one chunk per interval to an
// append-only ordered buffer. Chunks are concatenated into a single artifact
// by [Recorder.Finalize] after [Recorder.Stop].
//
// A recorder created with a nil input stream is disabled: it logs a warning,
// captures nothing, and Finalize reports [ErrNoRecording].
type Recorder struct {
	in        <-chan Frame
	video     <-chan []byte
	format    Format
	interval  time.Duration
	container string
	disabled  bool

	mu          sync.Mutex
	chunks      [][]byte
	videoFrames [][]byte

	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewRecorder creates and starts a recorder over the mixed stream in.
// Recording begins immediately; sources may still be attached to the
// upstream mixer afterwards without restarting the recorder.
func NewRecorder(in <-chan Frame, format Format, opts ...RecorderOption) *Recorder {
	r := &Recorder{
		in:        in,
		format:    format,
		interval:  defaultChunkInterval,
		container: ContainerWAV,
		done:      make(chan struct{}),
	}
	for _, o := range opts {
		o(r)
	}

	switch r.container {
	case ContainerWAV, ContainerPCM:
	default:
		slog.Warn("recorder: unsupported container, falling back to wav", "container", r.container)
		r.container = ContainerWAV
	}

	if r.in == nil {
		slog.Warn("recorder: no input stream, recording disabled")
		r.disabled = true
		return r
	}

	r.wg.Add(1)
	go r.audioLoop()

	if r.video != nil {
		r.wg.Add(1)
		go r.videoLoop()
	}

	return r
}

// audioLoop buffers incoming PCM and commits one chunk per interval. The
// final partial chunk is committed when the recorder stops or the input
// stream closes.
func (r *Recorder) audioLoop() {
	defer r.wg.Done()

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	var pending []byte

	commit := func() {
		if len(pending) == 0 {
			return
		}
		chunk := pending
		pending = nil
		r.mu.Lock()
		r.chunks = append(r.chunks, chunk)
		r.mu.Unlock()
	}
	defer commit()

	for {
		select {
		case <-r.done:
			return
		case <-ticker.C:
			commit()
		case frame, ok := <-r.in:
			if !ok {
				return
			}
			pending = append(pending, frame.Data...)
		}
	}
}

// videoLoop buffers encoded camera frames until the recorder stops.
func (r *Recorder) videoLoop() {
	defer r.wg.Done()
	for {
		select {
		case <-r.done:
			return
		case frame, ok := <-r.video:
			if !ok {
				return
			}
			if len(frame) == 0 {
				continue
			}
			r.mu.Lock()
			r.videoFrames = append(r.videoFrames, frame)
			r.mu.Unlock()
		}
	}
}

// ChunkCount reports how many chunks have been committed so far.
func (r *Recorder) ChunkCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.chunks)
}

// Stop ends recording and waits for the final flush. Idempotent.
func (r *Recorder) Stop() {
	r.stopOnce.Do(func() {
		close(r.done)
		r.wg.Wait()
	})
}

// Finalize concatenates every captured chunk, in arrival order, into one
// artifact. It must be called after [Recorder.Stop]. With zero captured
// chunks it returns [ErrNoRecording] — never an empty artifact.
func (r *Recorder) Finalize() (*Artifact, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.disabled || len(r.chunks) == 0 {
		return nil, ErrNoRecording
	}

	total := 0
	for _, c := range r.chunks {
		total += len(c)
	}
	pcm := make([]byte, 0, total)
	for _, c := range r.chunks {
		pcm = append(pcm, c...)
	}

	art := &Artifact{
		Duration: time.Duration(ChunkDurationMs(pcm, r.format.SampleRate, r.format.Channels)) * time.Millisecond,
	}

	switch r.container {
	case ContainerPCM:
		art.Audio = pcm
		art.AudioMIME = "audio/L16"
	default:
		art.Audio = EncodeWAV(pcm, r.format.SampleRate, r.format.Channels)
		art.AudioMIME = "audio/wav"
	}

	if len(r.videoFrames) > 0 {
		size := 0
		for _, f := range r.videoFrames {
			size += len(f)
		}
		video := make([]byte, 0, size)
		for _, f := range r.videoFrames {
			video = append(video, f...)
		}
		art.Video = video
		art.VideoMIME = "video/x-motion-jpeg"
	}

	return art, nil
}
