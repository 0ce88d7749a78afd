// Package synth implements devices.Platform with deterministic generated
// media: a fixed-frequency sine tone for the microphone and a repeating
// JPEG-stub frame for the camera. It backs headless smoke runs and tests
// that need predictable, hardware-free capture.
package synth

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/vivavoce-ai/vivavoce/pkg/audio"
	"github.com/vivavoce-ai/vivavoce/pkg/devices"
)

var _ devices.Platform = (*Platform)(nil)

const (
	defaultToneHz   = 440.0
	defaultAmp      = 8000
	frameInterval   = 100 * time.Millisecond
	cameraFrameRate = 200 * time.Millisecond
)

// Option is a functional option for configuring a Platform.
type Option func(*Platform)

// WithTone sets the generated sine frequency in Hz.
func WithTone(hz float64) Option {
	return func(p *Platform) { p.toneHz = hz }
}

// WithAmplitude sets the peak sample value of the generated tone.
func WithAmplitude(amp int) Option {
	return func(p *Platform) { p.amplitude = amp }
}

// WithCameraDisabled makes OpenCamera fail, exercising the audio-only path.
func WithCameraDisabled() Option {
	return func(p *Platform) { p.noCamera = true }
}

// Platform generates deterministic audio and video streams.
type Platform struct {
	toneHz    float64
	amplitude int
	noCamera  bool
}

// New creates a synthetic capture platform.
func New(opts ...Option) *Platform {
	p := &Platform{
		toneHz:    defaultToneHz,
		amplitude: defaultAmp,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// OpenMicrophone returns a track producing a continuous sine tone in the
// requested format, one frame per 100ms.
func (p *Platform) OpenMicrophone(ctx context.Context, format audio.Format) (devices.AudioTrack, error) {
	t := &toneTrack{
		out:  make(chan audio.Frame, 8),
		stop: make(chan struct{}),
	}
	go t.generate(ctx, format, p.toneHz, p.amplitude)
	return t, nil
}

// OpenCamera returns a track producing stub JPEG frames, or an error when
// constructed with WithCameraDisabled.
func (p *Platform) OpenCamera(ctx context.Context) (devices.VideoTrack, error) {
	if p.noCamera {
		return nil, errNoCamera
	}
	t := &stubCamera{
		out:  make(chan []byte, 8),
		stop: make(chan struct{}),
	}
	go t.generate(ctx)
	return t, nil
}

var errNoCamera = &noCameraError{}

type noCameraError struct{}

func (*noCameraError) Error() string { return "synth: camera disabled" }

// ── Audio track ───────────────────────────────────────────────────────────────

type toneTrack struct {
	out  chan audio.Frame
	stop chan struct{}
	once sync.Once
}

func (t *toneTrack) generate(ctx context.Context, format audio.Format, hz float64, amp int) {
	defer close(t.out)

	ticker := time.NewTicker(frameInterval)
	defer ticker.Stop()

	samplesPerFrame := format.SampleRate * int(frameInterval) / int(time.Second)
	phase := 0.0
	step := 2 * math.Pi * hz / float64(format.SampleRate)

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.stop:
			return
		case <-ticker.C:
		}

		data := make([]byte, samplesPerFrame*2*format.Channels)
		for i := 0; i < samplesPerFrame; i++ {
			s := int16(float64(amp) * math.Sin(phase))
			phase += step
			for ch := 0; ch < format.Channels; ch++ {
				idx := (i*format.Channels + ch) * 2
				data[idx] = byte(s)
				data[idx+1] = byte(s >> 8)
			}
		}

		frame := audio.Frame{
			Data:       data,
			SampleRate: format.SampleRate,
			Channels:   format.Channels,
			Timestamp:  time.Now(),
		}
		select {
		case t.out <- frame:
		case <-ctx.Done():
			return
		case <-t.stop:
			return
		}
	}
}

func (t *toneTrack) Frames() <-chan audio.Frame { return t.out }

func (t *toneTrack) Close() error {
	t.once.Do(func() { close(t.stop) })
	return nil
}

// ── Video track ───────────────────────────────────────────────────────────────

// jpegStub is a minimal JPEG marker pair standing in for an encoded frame.
var jpegStub = []byte{0xFF, 0xD8, 0xFF, 0xD9}

type stubCamera struct {
	out  chan []byte
	stop chan struct{}
	once sync.Once
}

func (c *stubCamera) generate(ctx context.Context) {
	defer close(c.out)

	ticker := time.NewTicker(cameraFrameRate)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stop:
			return
		case <-ticker.C:
		}

		frame := append([]byte(nil), jpegStub...)
		select {
		case c.out <- frame:
		case <-ctx.Done():
			return
		case <-c.stop:
			return
		}
	}
}

func (c *stubCamera) Frames() <-chan []byte { return c.out }

func (c *stubCamera) Close() error {
	c.once.Do(func() { close(c.stop) })
	return nil
}
