package audio_test

import (
	"encoding/binary"
	"testing"
	"time"

	"github.com/vivavoce-ai/vivavoce/pkg/audio"
)

// samplesToBytes converts a slice of int16 samples to little-endian bytes.
func samplesToBytes(samples []int16) []byte {
	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
	}
	return buf
}

// bytesToSamples converts a little-endian byte slice to int16 samples.
func bytesToSamples(b []byte) []int16 {
	samples := make([]int16, len(b)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(b[i*2:]))
	}
	return samples
}

// collectMixed drains mixed frames until total samples are received or the
// timeout expires.
func collectMixed(t *testing.T, out <-chan audio.Frame, total int) []int16 {
	t.Helper()
	var samples []int16
	deadline := time.After(3 * time.Second)
	for len(samples) < total {
		select {
		case frame, ok := <-out:
			if !ok {
				return samples
			}
			samples = append(samples, bytesToSamples(frame.Data)...)
		case <-deadline:
			t.Fatalf("timed out after %d of %d samples", len(samples), total)
		}
	}
	return samples
}

func TestMixerSumsTwoSources(t *testing.T) {
	t.Parallel()

	format := audio.Format{SampleRate: 16000, Channels: 1}
	m := audio.NewMixer(format, audio.WithMixTick(10*time.Millisecond))
	defer m.Close()

	mic := make(chan audio.Frame, 1)
	remote := make(chan audio.Frame, 1)
	m.AddSource("mic", mic)
	m.AddSource("remote", remote)

	mic <- audio.Frame{Data: samplesToBytes([]int16{100, 200, 300}), SampleRate: 16000, Channels: 1}
	remote <- audio.Frame{Data: samplesToBytes([]int16{50, -100, 25}), SampleRate: 16000, Channels: 1}
	close(mic)
	close(remote)

	got := collectMixed(t, m.Output(), 3)
	want := []int16{150, 100, 325}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d: got %d, want %d", i, got[i], want[i])
		}
	}
}

func TestMixerClampsOverflow(t *testing.T) {
	t.Parallel()

	format := audio.Format{SampleRate: 16000, Channels: 1}
	m := audio.NewMixer(format, audio.WithMixTick(10*time.Millisecond))
	defer m.Close()

	a := make(chan audio.Frame, 1)
	b := make(chan audio.Frame, 1)
	m.AddSource("a", a)
	m.AddSource("b", b)

	a <- audio.Frame{Data: samplesToBytes([]int16{32767, -32768}), SampleRate: 16000, Channels: 1}
	b <- audio.Frame{Data: samplesToBytes([]int16{32767, -32768}), SampleRate: 16000, Channels: 1}
	close(a)
	close(b)

	got := collectMixed(t, m.Output(), 2)
	if got[0] != 32767 {
		t.Errorf("positive clamp: got %d, want 32767", got[0])
	}
	if got[1] != -32768 {
		t.Errorf("negative clamp: got %d, want -32768", got[1])
	}
}

func TestMixerLateSourceAttach(t *testing.T) {
	t.Parallel()

	format := audio.Format{SampleRate: 16000, Channels: 1}
	m := audio.NewMixer(format, audio.WithMixTick(10*time.Millisecond))
	defer m.Close()

	mic := make(chan audio.Frame, 1)
	m.AddSource("mic", mic)
	mic <- audio.Frame{Data: samplesToBytes([]int16{10, 10}), SampleRate: 16000, Channels: 1}

	first := collectMixed(t, m.Output(), 2)
	if first[0] != 10 {
		t.Fatalf("pre-attach sample: got %d, want 10", first[0])
	}

	// The remote voice shows up only after mixing has been running.
	remote := make(chan audio.Frame, 1)
	m.AddSource("remote", remote)
	remote <- audio.Frame{Data: samplesToBytes([]int16{77, 77}), SampleRate: 16000, Channels: 1}
	close(remote)
	close(mic)

	second := collectMixed(t, m.Output(), 2)
	if second[0] != 77 {
		t.Errorf("post-attach sample: got %d, want 77", second[0])
	}
}

func TestMixerCloseIdempotent(t *testing.T) {
	t.Parallel()

	m := audio.NewMixer(audio.Format{SampleRate: 16000, Channels: 1})
	if err := m.Close(); err != nil {
		t.Fatalf("first close: %v", err)
	}
	if err := m.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}

	// Output channel must be closed after Close.
	select {
	case _, ok := <-m.Output():
		if ok {
			t.Error("expected closed output channel")
		}
	case <-time.After(time.Second):
		t.Error("output channel not closed")
	}
}
