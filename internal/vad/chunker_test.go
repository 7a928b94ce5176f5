package vad

import (
	"testing"
	"time"

	"github.com/askid/voicecore/internal/pcm"
)

// constantVAD reports a fixed speech probability for every frame, enough
// to drive the chunker's state machine deterministically in tests.
type constantVAD struct{ prob float32 }

func (c constantVAD) SpeechProb(_ []float32) (float32, error) { return c.prob, nil }

func frame(n int) []float32 {
	f := make([]float32, n)
	for i := range f {
		f[i] = 0.01
	}
	return f
}

// TestForcedSplitOverlap is scenario S2: max_speech_duration = 2.0s,
// overlap_duration = 0.5s, fed 3.0s of continuous speech. Expect two
// chunks: first overlap 0, ~2.0s; second overlap 0.5s, whose leading 0.5s
// equals the first chunk's trailing 0.5s.
func TestForcedSplitOverlap(t *testing.T) {
	cfg := Config{
		MinSpeechDurationSec: 0.1,
		MaxSpeechDurationSec: 2.0,
		OverlapDurationSec:   0.5,
		PreSpeechPadMs:       0,
		RedemptionMs:         300,
		PositiveThreshold:    0.5,
		NegativeThreshold:    0.1,
		FrameSamples:         160, // 10ms @ 16kHz
	}

	var chunks []pcm.Chunk
	c := New(cfg, constantVAD{prob: 1.0}, Handlers{
		OnSpeechEnd: func(ch pcm.Chunk) { chunks = append(chunks, ch) },
	})
	c.Start()

	totalFrames := int(3.0 * float64(pcm.SampleRate) / float64(cfg.FrameSamples))
	for i := 0; i < totalFrames; i++ {
		c.PushFrame(frame(cfg.FrameSamples))
	}
	c.Stop()

	if len(chunks) < 2 {
		t.Fatalf("expected at least 2 chunks, got %d", len(chunks))
	}

	first, second := chunks[0], chunks[1]
	if first.OverlapDuration != 0 {
		t.Errorf("first chunk overlap = %v, want 0", first.OverlapDuration)
	}
	if !first.WasForced {
		t.Errorf("first chunk should be force-split")
	}
	if d := first.Duration(); d < 1900*time.Millisecond || d > 2100*time.Millisecond {
		t.Errorf("first chunk duration = %v, want ~2s", d)
	}

	wantOverlap := 500 * time.Millisecond
	if d := second.OverlapDuration; d < wantOverlap-20*time.Millisecond || d > wantOverlap+20*time.Millisecond {
		t.Errorf("second chunk overlap = %v, want ~%v", d, wantOverlap)
	}

	overlapSamples := int(cfg.OverlapDurationSec * pcm.SampleRate)
	firstTail := first.Samples[len(first.Samples)-overlapSamples:]
	secondHead := second.Samples[:overlapSamples]
	for i := range firstTail {
		if firstTail[i] != secondHead[i] {
			t.Fatalf("overlap samples mismatch at %d: %v != %v", i, firstTail[i], secondHead[i])
		}
	}
}

// TestMisfireDiscarded: speech shorter than min_speech_duration before
// redemption is discarded, never reaching OnSpeechEnd.
func TestMisfireDiscarded(t *testing.T) {
	cfg := Config{
		MinSpeechDurationSec: 1.0,
		MaxSpeechDurationSec: 15.0,
		OverlapDurationSec:   1.5,
		RedemptionMs:         50,
		PositiveThreshold:    0.5,
		NegativeThreshold:    0.1,
		FrameSamples:         160,
	}
	var emitted bool
	var errs []error
	c := New(cfg, nil, Handlers{
		OnSpeechEnd: func(pcm.Chunk) { emitted = true },
		OnError:     func(err error) { errs = append(errs, err) },
	})
	c.provider = &sequenceVAD{probs: []float32{1, 1, 0, 0, 0, 0, 0, 0}}
	c.Start()
	for i := 0; i < 8; i++ {
		c.PushFrame(frame(cfg.FrameSamples))
	}
	if emitted {
		t.Errorf("misfire should not emit a chunk")
	}
	if len(errs) == 0 {
		t.Errorf("expected ErrChunkTooShort to be surfaced")
	}
}

// valueFrame returns a frame of n samples all equal to v, used to make
// individual frames distinguishable by content.
func valueFrame(n int, v float32) []float32 {
	f := make([]float32, n)
	for i := range f {
		f[i] = v
	}
	return f
}

// TestPreSpeechPadIsRollingWindow feeds more idle audio than the pad
// window's capacity, then starts speech, and checks the chunk's
// pad-seeded prefix reflects the most recently buffered frames rather
// than the session's very first ones.
func TestPreSpeechPadIsRollingWindow(t *testing.T) {
	cfg := Config{
		MinSpeechDurationSec: 0.05,
		MaxSpeechDurationSec: 15.0,
		OverlapDurationSec:   0,
		PreSpeechPadMs:       50, // 800 samples = 5 frames @ 160 samples/frame
		RedemptionMs:         10,
		PositiveThreshold:    0.5,
		NegativeThreshold:    0.1,
		FrameSamples:         160,
	}

	const idleFrames = 10
	probs := make([]float32, 0, idleFrames+4)
	for i := 0; i < idleFrames; i++ {
		probs = append(probs, 0)
	}
	probs = append(probs, 1, 1, 1, 0, 0, 0) // speech starts, then ends

	var chunks []pcm.Chunk
	c := New(cfg, nil, Handlers{
		OnSpeechEnd: func(ch pcm.Chunk) { chunks = append(chunks, ch) },
	})
	c.provider = &sequenceVAD{probs: probs}
	c.Start()

	for i := 0; i < len(probs); i++ {
		// idle frames are numbered 1..idleFrames so the pad's tail is
		// distinguishable from its head; speech frames use a fixed marker.
		if i < idleFrames {
			c.PushFrame(valueFrame(cfg.FrameSamples, float32(i+1)))
		} else {
			c.PushFrame(valueFrame(cfg.FrameSamples, 100))
		}
	}
	c.Stop()

	if len(chunks) == 0 {
		t.Fatalf("expected a chunk to be emitted")
	}
	chunk := chunks[0]

	padCapacitySamples := cfg.FrameSamples * 5
	if len(chunk.Samples) < padCapacitySamples {
		t.Fatalf("chunk too short to contain the full pad window: %d samples", len(chunk.Samples))
	}
	pad := chunk.Samples[:padCapacitySamples]

	// The pad window holds at most 5 frames; the oldest idle frames
	// (values 1-6) must have been evicted, leaving frames 7-10 and the
	// triggering speech frame (folded in before eviction) as the window.
	if pad[0] <= 1 {
		t.Fatalf("pad leading sample = %v, want an evicted-forward value (session's first frame should not survive)", pad[0])
	}
}

type sequenceVAD struct {
	probs []float32
	i     int
}

func (s *sequenceVAD) SpeechProb(_ []float32) (float32, error) {
	var p float32
	if s.i < len(s.probs) {
		p = s.probs[s.i]
	}
	s.i++
	return p, nil
}
