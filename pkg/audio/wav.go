package audio

import (
	"encoding/binary"
	"math"
)

// bitsPerSample is fixed at 16 for the signed little-endian PCM used
// throughout the pipeline.
const bitsPerSample = 16

// EncodeWAV wraps raw 16-bit signed little-endian PCM data in a standard
// RIFF/WAV container. The returned byte slice is suitable for direct inclusion
// in a multipart form upload.
func EncodeWAV(pcm []byte, sampleRate, channels int) []byte {
	bps := bitsPerSample
	byteRate := sampleRate * channels * bps / 8
	blockAlign := channels * bps / 8
	dataSize := len(pcm)

	buf := make([]byte, 44+dataSize)

	// RIFF chunk descriptor
	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(36+dataSize)) // file size − 8
	copy(buf[8:12], "WAVE")

	// fmt sub-chunk
	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16)                 // sub-chunk size (PCM)
	binary.LittleEndian.PutUint16(buf[20:22], 1)                  // audio format: PCM
	binary.LittleEndian.PutUint16(buf[22:24], uint16(channels))   // num channels
	binary.LittleEndian.PutUint32(buf[24:28], uint32(sampleRate)) // sample rate
	binary.LittleEndian.PutUint32(buf[28:32], uint32(byteRate))   // byte rate
	binary.LittleEndian.PutUint16(buf[32:34], uint16(blockAlign)) // block align
	binary.LittleEndian.PutUint16(buf[34:36], uint16(bps))        // bits per sample

	// data sub-chunk
	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(dataSize))
	copy(buf[44:], pcm)

	return buf
}

// ComputeRMS returns the root-mean-square energy of a 16-bit signed
// little-endian PCM buffer. Returns 0 for buffers shorter than one sample.
// The result is expressed in the same units as PCM sample values (0–32 767).
func ComputeRMS(pcm []byte) float64 {
	n := len(pcm) / 2
	if n == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < n; i++ {
		sample := int16(binary.LittleEndian.Uint16(pcm[i*2 : i*2+2]))
		v := float64(sample)
		sum += v * v
	}
	return math.Sqrt(sum / float64(n))
}

// ChunkDurationMs returns the duration of a PCM audio chunk in milliseconds,
// based on the sample rate and channel count. Returns 0 for invalid inputs.
func ChunkDurationMs(chunk []byte, sampleRate, channels int) int {
	if sampleRate <= 0 || channels <= 0 {
		return 0
	}
	bytesPerSec := sampleRate * channels * (bitsPerSample / 8)
	return len(chunk) * 1000 / bytesPerSec
}
