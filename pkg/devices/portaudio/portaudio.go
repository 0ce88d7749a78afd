// Package portaudio implements devices.Platform over real capture hardware
// using the PortAudio bindings. Camera capture is not provided by PortAudio;
// OpenCamera always reports the camera as unavailable, which callers treat
// as audio-only degradation.
package portaudio

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	pa "github.com/gordonklaus/portaudio"
	"github.com/vivavoce-ai/vivavoce/pkg/audio"
	"github.com/vivavoce-ai/vivavoce/pkg/devices"
)

var _ devices.Platform = (*Platform)(nil)

// framesPerBuffer is ~64ms at 16kHz.
const framesPerBuffer = 1024

// Platform opens PortAudio input streams. Initialize must be called once per
// process before the first OpenMicrophone; Terminate releases the library.
type Platform struct {
	initOnce sync.Once
	initErr  error
}

// New creates a PortAudio-backed platform. The PortAudio library is
// initialized lazily on first use.
func New() *Platform {
	return &Platform{}
}

// Terminate releases the PortAudio library. Call after all tracks are closed.
func (p *Platform) Terminate() error {
	return pa.Terminate()
}

func (p *Platform) ensureInit() error {
	p.initOnce.Do(func() {
		p.initErr = pa.Initialize()
	})
	return p.initErr
}

// OpenMicrophone opens the preferred input device as a mono PCM16 stream in
// the requested format.
func (p *Platform) OpenMicrophone(ctx context.Context, format audio.Format) (devices.AudioTrack, error) {
	if err := p.ensureInit(); err != nil {
		return nil, fmt.Errorf("portaudio: initialize: %w", err)
	}

	dev, err := pickInputDevice()
	if err != nil {
		return nil, err
	}

	params := pa.StreamParameters{
		Input: pa.StreamDeviceParameters{
			Device:   dev,
			Channels: 1,
			Latency:  dev.DefaultLowInputLatency,
		},
		SampleRate:      float64(format.SampleRate),
		FramesPerBuffer: framesPerBuffer,
	}

	buf := make([]float32, framesPerBuffer)
	stream, err := pa.OpenStream(params, buf)
	if err != nil {
		return nil, fmt.Errorf("portaudio: open stream: %w", err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		return nil, fmt.Errorf("portaudio: start stream: %w", err)
	}

	slog.Info("portaudio: microphone opened", "device", dev.Name, "sample_rate", format.SampleRate)

	trackCtx, cancel := context.WithCancel(ctx)
	t := &micTrack{
		stream: stream,
		cancel: cancel,
		out:    make(chan audio.Frame, 32),
		format: format,
	}
	go t.readLoop(trackCtx, buf)
	return t, nil
}

// OpenCamera reports the camera as unavailable: PortAudio is audio-only.
func (p *Platform) OpenCamera(context.Context) (devices.VideoTrack, error) {
	return nil, fmt.Errorf("portaudio: camera capture not supported")
}

// pickInputDevice selects the best available input: a built-in mic when one
// is present, otherwise the first device with input channels.
func pickInputDevice() (*pa.DeviceInfo, error) {
	all, err := pa.Devices()
	if err != nil {
		return nil, fmt.Errorf("portaudio: list devices: %w", err)
	}

	var fallback *pa.DeviceInfo
	for _, dev := range all {
		if dev.MaxInputChannels < 1 {
			continue
		}
		name := strings.ToLower(dev.Name)
		if strings.Contains(name, "built-in") || strings.Contains(name, "macbook") {
			return dev, nil
		}
		if fallback == nil {
			fallback = dev
		}
	}
	if fallback == nil {
		return nil, fmt.Errorf("portaudio: no input device found")
	}
	return fallback, nil
}

type micTrack struct {
	stream *pa.Stream
	cancel context.CancelFunc
	out    chan audio.Frame
	format audio.Format

	closeOnce sync.Once
}

// readLoop converts the float32 capture buffer to PCM16 frames. Frames are
// dropped, with a debug log, when the consumer falls behind.
func (t *micTrack) readLoop(ctx context.Context, buf []float32) {
	defer close(t.out)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if err := t.stream.Read(); err != nil {
			if ctx.Err() == nil {
				slog.Debug("portaudio: read error", "error", err)
			}
			return
		}

		frame := audio.Frame{
			Data:       floatToPCM16(buf),
			SampleRate: t.format.SampleRate,
			Channels:   1,
			Timestamp:  time.Now(),
		}
		select {
		case t.out <- frame:
		default:
			slog.Debug("portaudio: capture buffer full, dropping frame")
		}
	}
}

func (t *micTrack) Frames() <-chan audio.Frame { return t.out }

func (t *micTrack) Close() error {
	t.closeOnce.Do(func() {
		t.cancel()
		_ = t.stream.Stop()
		_ = t.stream.Close()
	})
	return nil
}

// floatToPCM16 converts float32 samples in [-1, 1] to little-endian int16.
func floatToPCM16(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, f := range samples {
		v := int32(f * 32767)
		if v > 32767 {
			v = 32767
		} else if v < -32768 {
			v = -32768
		}
		out[i*2] = byte(v)
		out[i*2+1] = byte(v >> 8)
	}
	return out
}
