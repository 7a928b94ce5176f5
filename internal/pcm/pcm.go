// Package pcm defines the raw audio types shared across the pipeline:
// frames produced by the audio source and the variably-sized chunks the
// VAD chunker emits from them.
package pcm

import (
	"encoding/binary"
	"math"
	"time"
)

// SampleRate is the only sample rate the pipeline accepts from the audio
// source, per spec.
const SampleRate = 16000

// Frame is a slice of mono samples at SampleRate, as handed off by the
// (external) audio source.
type Frame struct {
	Samples []float32
}

// Chunk is a bounded-duration speech slice emitted by the VAD chunker.
// OverlapDuration is non-zero only when the previous chunk was force-split
// at MaxSpeechDuration; the leading OverlapDuration seconds of Samples
// duplicate the trailing OverlapDuration seconds of the previous chunk.
type Chunk struct {
	Index           int
	Samples         []float32
	OverlapDuration time.Duration
	RawDuration     time.Duration
	WasForced       bool
	IsFinal         bool
	WallTime        time.Time
}

// Duration returns the wall-clock duration of Samples at SampleRate.
func (c Chunk) Duration() time.Duration {
	return time.Duration(len(c.Samples)) * time.Second / time.Duration(SampleRate)
}

// Clone returns a deep copy of the chunk, used when the chunk must be
// handed to the recording store independently of the processor's buffer.
func (c Chunk) Clone() Chunk {
	samples := make([]float32, len(c.Samples))
	copy(samples, c.Samples)
	c.Samples = samples
	return c
}

// Encode serializes samples to little-endian float32 bytes, the wire
// format the recording store persists chunk audio in.
func Encode(samples []float32) []byte {
	out := make([]byte, len(samples)*4)
	for i, s := range samples {
		binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(s))
	}
	return out
}

// Decode is the inverse of Encode.
func Decode(raw []byte) []float32 {
	out := make([]float32, len(raw)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:]))
	}
	return out
}

// Slice extracts the samples spanning [tStart, tEnd) seconds, clamped
// to the chunk's extent.
func Slice(samples []float32, tStart, tEnd float64) []float32 {
	start := int(tStart * SampleRate)
	end := int(tEnd * SampleRate)
	if start < 0 {
		start = 0
	}
	if end > len(samples) {
		end = len(samples)
	}
	if start >= end {
		return nil
	}
	return samples[start:end]
}
