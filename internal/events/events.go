// Package events defines the typed event stream emitted by a session's
// processor task, and a broadcaster that fans events out to websocket
// observers. The message envelope is grounded on the
// type+timestamp+raw-payload shape used for the DataChannel protocol in
// the pack's WebRTC transcription example.
package events

import (
	"encoding/json"
	"sync"

	"github.com/rs/zerolog"

	"github.com/askid/voicecore/internal/logging"
)

// Type identifies one kind of event in the stream.
type Type string

const (
	TypeChunkQueueUpdate      Type = "chunk_queue_update"
	TypeSegmentCommitted      Type = "segment_committed"
	TypeSegmentsReattributed  Type = "segments_reattributed"
	TypeHypothesisChanged     Type = "hypothesis_changed"
	TypeJobProcessingProgress Type = "job_processing_progress"
)

// Message is the envelope every event is wrapped in before being sent
// to observers.
type Message struct {
	Type      Type            `json:"type"`
	Timestamp int64           `json:"timestamp"` // unix millis, stamped by the caller
	Data      json.RawMessage `json:"data"`
}

// ChunkQueueUpdate reports the chunk queue's current depth, for
// backpressure visibility.
type ChunkQueueUpdate struct {
	Depth int `json:"depth"`
}

// SegmentCommitted reports one newly committed attributed segment.
type SegmentCommitted struct {
	Index      int    `json:"index"`
	Label      string `json:"label"`
	TStart     float64 `json:"t_start"`
	TEnd       float64 `json:"t_end"`
	Text       string `json:"text"`
}

// SegmentsReattributed reports which prior segment indices had their
// display label change after a hypothesis rebuild.
type SegmentsReattributed struct {
	Indices []int `json:"indices"`
}

// HypothesisChanged reports the new hypothesis version and participant
// names.
type HypothesisChanged struct {
	Version      int      `json:"version"`
	Participants []string `json:"participants"`
}

// JobProcessingProgress reports quick/full replay progress.
type JobProcessingProgress struct {
	JobID          string `json:"job_id"`
	ChunksDone     int    `json:"chunks_done"`
	ChunksTotal    int    `json:"chunks_total"`
}

// Sink is anything that accepts emitted events; satisfied by Bus and by
// test doubles.
type Sink interface {
	Emit(typ Type, data any)
}

// Bus fans events out to subscribed channels and any attached
// websocket broadcaster. The serve command shares one Bus among all of
// its sessions.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[chan Message]struct{}
	log         zerolog.Logger
	now         func() int64
}

// NewBus creates an event bus. now lets callers (and tests) control the
// timestamp source; if nil, events carry a zero timestamp and the
// caller is expected to stamp Data itself where timing matters.
func NewBus(now func() int64) *Bus {
	return &Bus{
		subscribers: map[chan Message]struct{}{},
		log:         logging.Component("events"),
		now:         now,
	}
}

// Subscribe registers a new observer channel; the caller must call the
// returned unsubscribe function when done to avoid leaking the channel.
func (b *Bus) Subscribe(buffer int) (<-chan Message, func()) {
	ch := make(chan Message, buffer)
	b.mu.Lock()
	b.subscribers[ch] = struct{}{}
	b.mu.Unlock()
	return ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if _, ok := b.subscribers[ch]; ok {
			delete(b.subscribers, ch)
			close(ch)
		}
	}
}

// Emit marshals data and fans it out to every subscriber; a full
// subscriber channel drops the event rather than blocking the
// processor task (events are observational, never authoritative).
func (b *Bus) Emit(typ Type, data any) {
	raw, err := json.Marshal(data)
	if err != nil {
		b.log.Error().Err(err).Str("type", string(typ)).Msg("failed to marshal event payload")
		return
	}
	var ts int64
	if b.now != nil {
		ts = b.now()
	}
	msg := Message{Type: typ, Timestamp: ts, Data: raw}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subscribers {
		select {
		case ch <- msg:
		default:
			b.log.Warn().Str("type", string(typ)).Msg("event subscriber channel full, dropping")
		}
	}
}
