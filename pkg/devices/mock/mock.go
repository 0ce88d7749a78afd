// Package mock provides scripted devices.Platform test doubles.
package mock

import (
	"context"
	"sync"

	"github.com/vivavoce-ai/vivavoce/pkg/audio"
	"github.com/vivavoce-ai/vivavoce/pkg/devices"
)

var _ devices.Platform = (*Platform)(nil)

// Platform replays scripted frames. Zero value: mic yields the scripted
// frames then closes, camera behaves likewise. Set MicErr or CameraErr to
// force open failures.
type Platform struct {
	MicFrames    []audio.Frame
	CameraFrames [][]byte
	MicErr       error
	CameraErr    error

	mu         sync.Mutex
	micOpens   int
	camOpens   int
	micClosed  bool
	camClosed  bool
}

// OpenMicrophone replays MicFrames and closes the stream.
func (p *Platform) OpenMicrophone(_ context.Context, _ audio.Format) (devices.AudioTrack, error) {
	p.mu.Lock()
	p.micOpens++
	p.mu.Unlock()
	if p.MicErr != nil {
		return nil, p.MicErr
	}

	out := make(chan audio.Frame, len(p.MicFrames))
	for _, f := range p.MicFrames {
		out <- f
	}
	close(out)
	return &audioTrack{out: out, onClose: func() {
		p.mu.Lock()
		p.micClosed = true
		p.mu.Unlock()
	}}, nil
}

// OpenCamera replays CameraFrames and closes the stream.
func (p *Platform) OpenCamera(context.Context) (devices.VideoTrack, error) {
	p.mu.Lock()
	p.camOpens++
	p.mu.Unlock()
	if p.CameraErr != nil {
		return nil, p.CameraErr
	}

	out := make(chan []byte, len(p.CameraFrames))
	for _, f := range p.CameraFrames {
		out <- f
	}
	close(out)
	return &videoTrack{out: out, onClose: func() {
		p.mu.Lock()
		p.camClosed = true
		p.mu.Unlock()
	}}, nil
}

// MicOpens reports how many times the microphone was opened.
func (p *Platform) MicOpens() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.micOpens
}

// MicClosed reports whether the microphone track was closed.
func (p *Platform) MicClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.micClosed
}

// CameraClosed reports whether the camera track was closed.
func (p *Platform) CameraClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.camClosed
}

type audioTrack struct {
	out     chan audio.Frame
	onClose func()
	once    sync.Once
}

func (t *audioTrack) Frames() <-chan audio.Frame { return t.out }

func (t *audioTrack) Close() error {
	t.once.Do(t.onClose)
	return nil
}

type videoTrack struct {
	out     chan []byte
	onClose func()
	once    sync.Once
}

func (t *videoTrack) Frames() <-chan []byte { return t.out }

func (t *videoTrack) Close() error {
	t.once.Do(t.onClose)
	return nil
}
