// Package devices abstracts capture hardware behind a Platform interface so
// interview sessions can run against real microphones, a deterministic
// synthesizer, or scripted test doubles.
//
// A session treats the microphone as mandatory: if it cannot be opened the
// session must not start. The camera is optional; a missing camera degrades
// the session to audio-only with a logged warning.
package devices

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/vivavoce-ai/vivavoce/pkg/audio"
)

// AudioTrack is a live PCM capture stream. Frames is closed when the track
// ends or is closed.
type AudioTrack interface {
	Frames() <-chan audio.Frame
	Close() error
}

// VideoTrack is a live stream of encoded camera frames (JPEG).
type VideoTrack interface {
	Frames() <-chan []byte
	Close() error
}

// Platform opens capture devices. Implementations: portaudio (real
// hardware), synth (deterministic generator), mock (scripted, tests only).
type Platform interface {
	// OpenMicrophone opens the default microphone producing PCM in the
	// requested format. An error here is fatal to a session.
	OpenMicrophone(ctx context.Context, format audio.Format) (AudioTrack, error)

	// OpenCamera opens the default camera. An error here is non-fatal;
	// callers continue audio-only.
	OpenCamera(ctx context.Context) (VideoTrack, error)
}

// CheckReport is the result of a pre-session device check.
type CheckReport struct {
	// MicLevel is the RMS amplitude measured over the check window, in
	// int16 sample units. Zero means the mic produced silence.
	MicLevel float64

	CameraAvailable bool
}

// Check opens both devices, samples the microphone for the given window to
// compute a level meter, and reports camera availability. A microphone
// failure is returned as an error; a camera failure only clears
// CameraAvailable.
func Check(ctx context.Context, p Platform, format audio.Format, window time.Duration) (*CheckReport, error) {
	mic, err := p.OpenMicrophone(ctx, format)
	if err != nil {
		return nil, fmt.Errorf("devices: microphone check: %w", err)
	}
	defer mic.Close()

	report := &CheckReport{}

	deadline := time.NewTimer(window)
	defer deadline.Stop()

	var pcm []byte
sample:
	for {
		select {
		case frame, ok := <-mic.Frames():
			if !ok {
				break sample
			}
			pcm = append(pcm, frame.Data...)
		case <-deadline.C:
			break sample
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	report.MicLevel = audio.ComputeRMS(pcm)

	cam, err := p.OpenCamera(ctx)
	if err != nil {
		slog.Warn("devices: camera unavailable, continuing audio-only", "error", err)
		return report, nil
	}
	cam.Close()
	report.CameraAvailable = true

	return report, nil
}
