// Package session implements the live processor task: one goroutine per
// recording session that drains VAD-emitted chunks strictly in order
// through ASR -> overlap-merge -> segmenter -> embedding -> clustering
// -> inference, committing attributed segments and emitting events as
// it goes. Chunks arrive through a bounded channel a single processor
// goroutine drains, so chunk order and "one chunk in flight" are
// structural rather than caller-enforced.
package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/askid/voicecore/internal/asr"
	"github.com/askid/voicecore/internal/cluster"
	"github.com/askid/voicecore/internal/embedding"
	"github.com/askid/voicecore/internal/events"
	"github.com/askid/voicecore/internal/inference"
	"github.com/askid/voicecore/internal/logging"
	"github.com/askid/voicecore/internal/merge"
	"github.com/askid/voicecore/internal/metrics"
	"github.com/askid/voicecore/internal/pcm"
	"github.com/askid/voicecore/internal/segment"
	"github.com/askid/voicecore/internal/store"
	"github.com/askid/voicecore/internal/vad"
)

// Config bundles the tunables a Session needs; each is a direct
// projection of config.Settings, kept separate so this package doesn't
// depend on the config loader.
type Config struct {
	EmbeddingModelID   string
	VAD                vad.Config
	Segment            segment.Config
	Cluster            cluster.Config
	Unknown            cluster.UnknownConfig
	Inference          inference.Config
	ChunkQueueCapacity int // default 8 if <= 0
}

// Deps are the external capabilities a Session drives.
type Deps struct {
	VADProvider       vad.Provider
	ASR               asr.Provider
	Embedding         embedding.Provider
	Store             *store.Store
	Bus               *events.Bus
	EnrolledCentroids func(modelID string) []cluster.Speaker
}

// CommittedSegment is one segment this session has produced, with its
// current attribution (subject to retroactive relabeling as the
// hypothesis evolves).
type CommittedSegment struct {
	segment.Segment
	Attribution inference.SegmentAttribution
}

// Session owns one recording's live pipeline state. PushFrame is called
// from the audio-ingest goroutine; all pipeline state is only ever
// touched by the single processing goroutine started in New, so no lock
// protects it beyond the committed-segments snapshot reader.
type Session struct {
	ID          string
	RecordingID string

	cfg  Config
	deps Deps
	log  zerolog.Logger

	chunker *vad.Chunker
	queue   chan pcm.Chunk

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu          sync.RWMutex
	committed   []CommittedSegment
	globalEnd   float64 // end of the last processed chunk's audio, session-global seconds

	prevWords        []asr.Word
	clusterer        *cluster.Clusterer
	unknownClusterer *cluster.UnknownClusterer
	inferenceEngine  *inference.Engine
}

// New starts a Session's processor goroutine and wires the VAD chunker's
// speech-end callback to its chunk queue. It first saves a new Recording
// through deps.Store and sets Session.RecordingID to that row's ID.
func New(id string, cfg Config, deps Deps) (*Session, error) {
	if cfg.ChunkQueueCapacity <= 0 {
		cfg.ChunkQueueCapacity = 8
	}
	rec, err := deps.Store.Save(cfg)
	if err != nil {
		return nil, fmt.Errorf("create recording: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		ID:          id,
		RecordingID: rec.ID,
		cfg:         cfg,
		deps:        deps,
		log:         logging.Component("session"),
		queue:       make(chan pcm.Chunk, cfg.ChunkQueueCapacity),
		ctx:         ctx,
		cancel:      cancel,
	}

	clusterer := cluster.New(cfg.Cluster, deps.EnrolledCentroids(cfg.EmbeddingModelID))
	s.clusterer = clusterer
	s.unknownClusterer = cluster.NewUnknown(cfg.Unknown, clusterer.Speakers())
	s.inferenceEngine = inference.New(cfg.Inference, s.unknownClusterer.EligibleIdentities)

	s.chunker = vad.New(cfg.VAD, deps.VADProvider, vad.Handlers{
		OnSpeechEnd: s.enqueue,
		OnError: func(err error) {
			s.log.Error().Err(err).Msg("vad error")
		},
	})
	s.chunker.Start()

	s.wg.Add(1)
	go s.run()

	return s, nil
}

// PushFrame feeds one audio frame through the VAD chunker.
func (s *Session) PushFrame(frame []float32) {
	s.chunker.PushFrame(frame)
}

// Stop flushes any in-flight speech as a final chunk, drains the queue,
// and waits for the processor goroutine to finish.
func (s *Session) Stop() {
	s.chunker.Stop()
	close(s.queue)
	s.wg.Wait()
	s.cancel()
}

// Segments returns a snapshot of every segment committed so far, with
// current attribution.
func (s *Session) Segments() []CommittedSegment {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]CommittedSegment, len(s.committed))
	copy(out, s.committed)
	return out
}

// Hypothesis returns the current conversation-inference hypothesis.
func (s *Session) Hypothesis() inference.Hypothesis {
	return s.inferenceEngine.Hypothesis()
}

func (s *Session) enqueue(chunk pcm.Chunk) {
	metrics.ChunkQueueDepth.Set(float64(len(s.queue) + 1))
	s.deps.Bus.Emit(events.TypeChunkQueueUpdate, events.ChunkQueueUpdate{Depth: len(s.queue) + 1})
	s.queue <- chunk // backpressure: block the audio source rather than drop speech
}

// run is the single processor task: it drains the queue strictly in the
// order chunks were enqueued, never overlapping two chunks' processing.
func (s *Session) run() {
	defer s.wg.Done()
	for chunk := range s.queue {
		metrics.ChunkQueueDepth.Set(float64(len(s.queue)))
		start := time.Now()
		if err := s.processChunk(chunk); err != nil {
			s.log.Error().Err(err).Int("chunk_index", chunk.Index).Msg("chunk processing failed")
		}
		metrics.ChunkProcessingSeconds.Observe(time.Since(start).Seconds())
	}
}

func (s *Session) processChunk(chunk pcm.Chunk) error {
	globalStart := s.globalEnd - secondsOf(chunk.OverlapDuration)
	if s.globalEnd == 0 && chunk.Index == 0 {
		globalStart = 0
	}

	if err := s.deps.Store.AppendChunk(s.RecordingID, store.ChunkRow{
		Index:           chunk.Index,
		GlobalStartSec:  globalStart,
		SamplesJSON:     pcm.Encode(chunk.Samples),
		OverlapDuration: chunk.OverlapDuration,
		RawDuration:     chunk.RawDuration,
		WasForced:       chunk.WasForced,
		IsFinal:         chunk.IsFinal,
		WallTime:        chunk.WallTime,
	}); err != nil {
		return fmt.Errorf("persist chunk: %w", err)
	}

	result, err := s.deps.ASR.Transcribe(s.ctx, chunk.Samples, "")
	if err != nil {
		return fmt.Errorf("transcribe chunk %d: %w", chunk.Index, err)
	}

	mergeResult := merge.FindMergePoint(s.prevWords, result.Words, chunk.OverlapDuration)
	kept := result.Words[mergeResult.MergeIndex:]
	adjusted := merge.AdjustTimestamps(kept, chunk.OverlapDuration)
	s.prevWords = result.Words

	// adjusted words are measured from the chunk's new-content origin
	// (AdjustTimestamps already subtracted the overlap prefix), so their
	// global origin is globalStart shifted forward by that same overlap —
	// not globalStart itself, which is sample 0 of the raw, overlap-
	// inclusive chunk.
	newContentOrigin := globalStart + secondsOf(chunk.OverlapDuration)
	segments := segment.BuildTextGap(adjusted, newContentOrigin, s.cfg.Segment)
	for _, seg := range segments {
		committed := CommittedSegment{Segment: seg}
		if seg.Category == segment.CategorySpeech || seg.Category == segment.CategoryHumanVoice {
			segAudio := pcm.Slice(chunk.Samples, seg.TStart-globalStart, seg.TEnd-globalStart)
			vec, err := s.deps.Embedding.Extract(s.ctx, segAudio, s.cfg.EmbeddingModelID)
			if err != nil {
				return fmt.Errorf("embed segment at %.2f: %w", seg.TStart, err)
			}
			assignment := s.clusterer.Assign(vec)
			name := ""
			if assignment.Assigned {
				name = s.clusterer.Speakers()[assignment.SpeakerIndex].Name
			}
			isUnknown := !assignment.Assigned
			if isUnknown {
				s.unknownClusterer.Assign(vec, assignment.BestSimilarity)
			}
			attribution, reattributed := s.inferenceEngine.RecordAssignment(
				name, isUnknown, assignment.BestSimilarity, assignment.Margin, assignment.AllSimilarities)
			committed.Attribution = attribution

			s.mu.Lock()
			s.committed = append(s.committed, committed)
			idx := len(s.committed) - 1
			s.mu.Unlock()

			metrics.SegmentsCommittedTotal.Inc()
			s.deps.Bus.Emit(events.TypeSegmentCommitted, events.SegmentCommitted{
				Index: idx, Label: attribution.Display.Label, TStart: seg.TStart, TEnd: seg.TEnd, Text: joinWords(seg),
			})
			if len(reattributed) > 0 {
				s.applyReattribution(reattributed)
				s.deps.Bus.Emit(events.TypeSegmentsReattributed, events.SegmentsReattributed{Indices: reattributed})
			}
			hyp := s.inferenceEngine.Hypothesis()
			metrics.HypothesisVersionCurrent.Set(float64(hyp.Version))
			s.deps.Bus.Emit(events.TypeHypothesisChanged, events.HypothesisChanged{
				Version: hyp.Version, Participants: participantNames(hyp),
			})
		} else {
			s.mu.Lock()
			s.committed = append(s.committed, committed)
			s.mu.Unlock()
		}
	}

	s.globalEnd = globalStart + float64(len(chunk.Samples))/float64(pcm.SampleRate)
	return nil
}

// applyReattribution refreshes the Attribution field of already-committed
// segments the inference engine just relabeled, without touching
// Original: retroactive re-attribution never mutates the original
// on-device decision.
func (s *Session) applyReattribution(indices []int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, idx := range indices {
		if idx < 0 || idx >= len(s.committed) {
			continue
		}
		if attr, ok := s.inferenceEngine.Attribution(idx); ok {
			s.committed[idx].Attribution = attr
		}
	}
}

func secondsOf(d time.Duration) float64 { return d.Seconds() }

func joinWords(seg segment.Segment) string {
	out := ""
	for i, w := range seg.Words {
		if i > 0 {
			out += " "
		}
		out += w.Text
	}
	return out
}

func participantNames(h inference.Hypothesis) []string {
	names := make([]string, len(h.Participants))
	for i, p := range h.Participants {
		names[i] = p.Name
	}
	return names
}
