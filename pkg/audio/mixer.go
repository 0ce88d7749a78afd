package audio

import (
	"log/slog"
	"sync"
	"time"
)

// defaultMixTick is the cadence at which the mixer emits mixed frames.
const defaultMixTick = 100 * time.Millisecond

// MixerOption is a functional option for configuring a [Mixer].
type MixerOption func(*Mixer)

// WithMixTick overrides the interval between emitted mixed frames.
func WithMixTick(d time.Duration) MixerOption {
	return func(m *Mixer) {
		if d > 0 {
			m.tick = d
		}
	}
}

// Mixer sums any number of PCM sources into a single audio track so that one
// recording contains every voice. Sources attach at any time — including
// after a downstream recorder has started consuming the output — which covers
// the remote interviewer voice arriving only once connection negotiation
// completes.
//
// Each tick the mixer drains the buffered PCM of every attached source, sums
// the samples with int32 accumulation and clamps to int16 range. A source
// with no buffered data contributes silence for that tick.
type Mixer struct {
	format Format
	tick   time.Duration
	out    chan Frame

	mu      sync.Mutex
	sources map[string]*sourceBuffer
	closed  bool

	done      chan struct{}
	closeOnce sync.Once
	loopDone  chan struct{}
}

// sourceBuffer accumulates converted PCM from one source between ticks.
type sourceBuffer struct {
	mu  sync.Mutex
	pcm []byte
}

// NewMixer creates a mixer producing frames in the target format. The output
// stream starts immediately; attach sources with [Mixer.AddSource].
func NewMixer(target Format, opts ...MixerOption) *Mixer {
	m := &Mixer{
		format:   target,
		tick:     defaultMixTick,
		out:      make(chan Frame, 16),
		sources:  make(map[string]*sourceBuffer),
		done:     make(chan struct{}),
		loopDone: make(chan struct{}),
	}
	for _, o := range opts {
		o(m)
	}
	go m.mixLoop()
	return m
}

// AddSource attaches a named PCM source. Frames are converted to the mixer's
// target format before summing. The goroutine draining in exits when in is
// closed or the mixer is closed. Re-adding a name replaces the buffer the
// previous goroutine writes into; both keep contributing until their channels
// close.
func (m *Mixer) AddSource(name string, in <-chan Frame) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		slog.Warn("mixer: source attached after close, ignoring", "source", name)
		return
	}
	buf := &sourceBuffer{}
	m.sources[name] = buf
	m.mu.Unlock()

	slog.Debug("mixer: source attached", "source", name)

	go func() {
		conv := FormatConverter{Target: m.format}
		for {
			select {
			case <-m.done:
				return
			case frame, ok := <-in:
				if !ok {
					return
				}
				converted := conv.Convert(frame)
				if len(converted.Data) == 0 {
					continue
				}
				buf.mu.Lock()
				buf.pcm = append(buf.pcm, converted.Data...)
				buf.mu.Unlock()
			}
		}
	}()
}

// Output returns the mixed stream. The channel is closed by [Mixer.Close].
func (m *Mixer) Output() <-chan Frame { return m.out }

// mixLoop emits one mixed frame per tick until the mixer is closed.
func (m *Mixer) mixLoop() {
	defer close(m.loopDone)
	defer close(m.out)

	ticker := time.NewTicker(m.tick)
	defer ticker.Stop()

	frameBytes := m.format.BytesPerSecond() * int(m.tick) / int(time.Second)
	if frameBytes%2 != 0 {
		frameBytes++
	}

	for {
		select {
		case <-m.done:
			// Final drain so trailing audio is not lost.
			if frame := m.mixOnce(0); len(frame.Data) > 0 {
				select {
				case m.out <- frame:
				default:
				}
			}
			return
		case <-ticker.C:
			frame := m.mixOnce(frameBytes)
			if len(frame.Data) == 0 {
				continue
			}
			select {
			case m.out <- frame:
			case <-m.done:
				return
			}
		}
	}
}

// mixOnce sums up to limit bytes from every source buffer. A limit of 0 sums
// everything buffered. Returns a zero frame when no source had data.
func (m *Mixer) mixOnce(limit int) Frame {
	m.mu.Lock()
	bufs := make([]*sourceBuffer, 0, len(m.sources))
	for _, b := range m.sources {
		bufs = append(bufs, b)
	}
	m.mu.Unlock()

	var chunks [][]byte
	maxLen := 0
	for _, b := range bufs {
		b.mu.Lock()
		n := len(b.pcm)
		if limit > 0 && n > limit {
			n = limit
		}
		if n > 0 {
			chunk := b.pcm[:n]
			b.pcm = b.pcm[n:]
			chunks = append(chunks, chunk)
			if n > maxLen {
				maxLen = n
			}
		}
		b.mu.Unlock()
	}

	if maxLen == 0 {
		return Frame{}
	}

	// Sum into int32 accumulators, then clamp to int16.
	acc := make([]int32, maxLen/2)
	for _, chunk := range chunks {
		for i := 0; i+1 < len(chunk); i += 2 {
			acc[i/2] += int32(int16(chunk[i]) | int16(chunk[i+1])<<8)
		}
	}

	mixed := make([]byte, maxLen)
	for i, v := range acc {
		if v > 32767 {
			v = 32767
		} else if v < -32768 {
			v = -32768
		}
		mixed[i*2] = byte(v)
		mixed[i*2+1] = byte(v >> 8)
	}

	return Frame{
		Data:       mixed,
		SampleRate: m.format.SampleRate,
		Channels:   m.format.Channels,
		Timestamp:  time.Now(),
	}
}

// Close stops the mix loop and closes the output channel. Idempotent.
func (m *Mixer) Close() error {
	m.closeOnce.Do(func() {
		m.mu.Lock()
		m.closed = true
		m.mu.Unlock()
		close(m.done)
		<-m.loopDone
	})
	return nil
}
