// Package audio provides the PCM plumbing for interview recording: format
// conversion, a sample-summing mixer that folds every voice into a single
// track, and a chunked recorder that turns the mixed stream into one
// uploadable artifact.
//
// All PCM in this package is 16-bit signed little-endian.
package audio

import "time"

// Frame is one chunk of PCM audio flowing through the pipeline.
type Frame struct {
	// Data is raw 16-bit signed little-endian PCM (2 bytes per sample,
	// channels interleaved).
	Data []byte

	// SampleRate is the sample rate in Hz (e.g., 16000, 24000, 48000).
	SampleRate int

	// Channels is the number of audio channels (1 = mono, 2 = stereo).
	Channels int

	// Timestamp is when the frame was captured or received.
	Timestamp time.Time
}

// Format describes the sample rate and channel count of an audio stream.
type Format struct {
	SampleRate int
	Channels   int
}

// BytesPerSecond returns the PCM byte rate for the format.
func (f Format) BytesPerSecond() int {
	return f.SampleRate * f.Channels * 2
}
