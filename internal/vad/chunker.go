package vad

import (
	"math"
	"time"

	"github.com/rs/zerolog"

	"github.com/askid/voicecore/internal/logging"
	"github.com/askid/voicecore/internal/pcm"
	"github.com/askid/voicecore/internal/pipelineerr"
)

type state int

const (
	stateIdle state = iota
	stateInSpeech
)

// Handlers are the chunker's event callbacks.
type Handlers struct {
	OnSpeechStart    func()
	OnSpeechProgress func(duration time.Duration, prob float32)
	OnAudioLevel     func(rms float64)
	OnSpeechEnd      func(chunk pcm.Chunk)
	OnError          func(err error)
}

// Chunker is the VAD-driven speech chunker. It is not safe for concurrent
// use from multiple goroutines; a Session drives it from the goroutine that
// calls Session.PushFrame.
type Chunker struct {
	cfg      Config
	provider Provider
	h        Handlers
	log      zerolog.Logger

	st state

	// pad holds the rolling pre_speech_pad_ms window of raw samples so a
	// speech segment can start with audio preceding the VAD's positive
	// decision. It is trimmed from the front as new frames arrive, so it
	// always holds the most recent padCapacity samples.
	pad         []float32
	padCapacity int

	speech         []float32
	speechStarted  time.Time
	silentSamples  int // audio below NegativeThreshold since hasUnderNeg was set
	hasUnderNeg    bool
	nextIndex      int
	pendingOverlap time.Duration // overlap prefix already present in c.speech
	stopped        bool
}

// New builds a Chunker. provider must not be nil.
func New(cfg Config, provider Provider, h Handlers) *Chunker {
	cfg = cfg.WithDefaults()
	padCapacity := cfg.PreSpeechPadMs * pcm.SampleRate / 1000
	if padCapacity <= 0 {
		padCapacity = 1
	}
	return &Chunker{
		cfg:         cfg,
		provider:    provider,
		h:           h,
		log:         logging.Component("vad.chunker"),
		padCapacity: padCapacity,
	}
}

// Start resets internal state so the chunker can be reused for a new
// session. It does not spawn goroutines; frames are pushed by the caller.
func (c *Chunker) Start() {
	c.st = stateIdle
	c.speech = nil
	c.hasUnderNeg = false
	c.stopped = false
	c.pad = c.pad[:0]
}

// Stop flushes any in-flight speech as a final chunk (is_final = true).
func (c *Chunker) Stop() {
	if c.stopped {
		return
	}
	c.stopped = true
	if c.st == stateInSpeech && c.longEnough(c.speech) {
		c.emit(false, true)
	}
	c.st = stateIdle
}

// PushFrame feeds one frame (length cfg.FrameSamples, ideally) through the
// VAD and the chunking state machine.
func (c *Chunker) PushFrame(frame []float32) {
	if c.stopped {
		return
	}
	rms := rms(frame)
	if c.h.OnAudioLevel != nil {
		c.h.OnAudioLevel(rms)
	}

	prob, err := c.provider.SpeechProb(frame)
	if err != nil {
		if c.h.OnError != nil {
			c.h.OnError(err)
		}
		return
	}

	c.bufferPad(frame)

	switch c.st {
	case stateIdle:
		if prob >= c.cfg.PositiveThreshold {
			c.startSpeech()
		}
	case stateInSpeech:
		c.speech = append(c.speech, frame...)
		if c.h.OnSpeechProgress != nil {
			c.h.OnSpeechProgress(c.speechDuration(), prob)
		}

		if c.speechDuration().Seconds() >= c.cfg.MaxSpeechDurationSec {
			c.forcedSplit()
			return
		}

		if prob < c.cfg.NegativeThreshold {
			if !c.hasUnderNeg {
				c.hasUnderNeg = true
				c.silentSamples = 0
			}
			c.silentSamples += len(frame)
			if c.silentSamples >= c.cfg.RedemptionMs*pcm.SampleRate/1000 {
				c.endSpeech()
			}
		} else {
			c.hasUnderNeg = false
		}
	}
}

func (c *Chunker) startSpeech() {
	c.st = stateInSpeech
	c.hasUnderNeg = false
	c.speechStarted = time.Now()

	// Entered only from Idle, so there is no carried-over overlap; the
	// segment begins with the pre-speech pad window instead.
	c.speech = append([]float32(nil), c.padSamples()...)
	c.pendingOverlap = 0

	if c.h.OnSpeechStart != nil {
		c.h.OnSpeechStart()
	}
}

// endSpeech closes out a naturally-ended speech span (VAD redemption),
// with no overlap prefix for the next chunk.
func (c *Chunker) endSpeech() {
	if !c.longEnough(c.speech) {
		c.log.Debug().Msg("speech misfire discarded")
		if c.h.OnError != nil {
			c.h.OnError(pipelineerr.ErrChunkTooShort)
		}
		c.st = stateIdle
		c.speech = nil
		c.hasUnderNeg = false
		return
	}
	c.emit(false, false)
	c.st = stateIdle
	c.hasUnderNeg = false
}

// forcedSplit is reached when accumulated speech hits MaxSpeechDuration:
// emit what has been buffered so far as a forced chunk, then continue the
// same speech segment seeded with the trailing overlap_duration seconds of
// what was just emitted — this establishes the *next* chunk's
// OverlapDuration (subtract-once semantics).
func (c *Chunker) forcedSplit() {
	c.emit(true, false)

	overlapSamples := int(c.cfg.OverlapDurationSec * pcm.SampleRate)
	prior := c.speech // emit() already copied c.speech out; still valid here
	if overlapSamples > len(prior) {
		overlapSamples = len(prior)
	}
	tail := make([]float32, overlapSamples)
	copy(tail, prior[len(prior)-overlapSamples:])

	c.speechStarted = time.Now()
	c.speech = tail
	c.pendingOverlap = time.Duration(len(tail)) * time.Second / time.Duration(pcm.SampleRate)
	c.hasUnderNeg = false
}

func (c *Chunker) emit(wasForced, isFinal bool) {
	samples := make([]float32, len(c.speech))
	copy(samples, c.speech)

	chunk := pcm.Chunk{
		Index:           c.nextIndex,
		Samples:         samples,
		OverlapDuration: c.pendingOverlap,
		RawDuration:     c.speechDuration(),
		WasForced:       wasForced,
		IsFinal:         isFinal,
		WallTime:        c.speechStarted,
	}
	c.nextIndex++
	c.pendingOverlap = 0

	if c.h.OnSpeechEnd != nil {
		c.h.OnSpeechEnd(chunk)
	}
}

func (c *Chunker) speechDuration() time.Duration {
	return time.Duration(len(c.speech)) * time.Second / time.Duration(pcm.SampleRate)
}

func (c *Chunker) longEnough(samples []float32) bool {
	d := time.Duration(len(samples)) * time.Second / time.Duration(pcm.SampleRate)
	return d.Seconds() >= c.cfg.MinSpeechDurationSec
}

// bufferPad appends frame to the rolling pad window, evicting the oldest
// samples once it grows past padCapacity so it always reflects the most
// recently seen audio.
func (c *Chunker) bufferPad(frame []float32) {
	c.pad = append(c.pad, frame...)
	if over := len(c.pad) - c.padCapacity; over > 0 {
		c.pad = append(c.pad[:0], c.pad[over:]...)
	}
}

func (c *Chunker) padSamples() []float32 {
	out := make([]float32, len(c.pad))
	copy(out, c.pad)
	return out
}

func rms(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}
	return math.Sqrt(sum / float64(len(samples)))
}
