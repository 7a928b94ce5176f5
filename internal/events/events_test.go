package events

import (
	"encoding/json"
	"testing"
	"time"
)

func TestBusFanOut(t *testing.T) {
	b := NewBus(func() int64 { return 42 })
	ch, unsubscribe := b.Subscribe(4)
	defer unsubscribe()

	b.Emit(TypeSegmentCommitted, SegmentCommitted{Index: 3, Label: "Alice"})

	select {
	case msg := <-ch:
		if msg.Type != TypeSegmentCommitted {
			t.Fatalf("type = %v, want segment_committed", msg.Type)
		}
		if msg.Timestamp != 42 {
			t.Fatalf("timestamp = %v, want 42", msg.Timestamp)
		}
		var payload SegmentCommitted
		if err := json.Unmarshal(msg.Data, &payload); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if payload.Index != 3 || payload.Label != "Alice" {
			t.Fatalf("payload = %+v, want {3 Alice}", payload)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	b := NewBus(nil)
	ch, unsubscribe := b.Subscribe(1)
	unsubscribe()
	if _, ok := <-ch; ok {
		t.Fatalf("expected channel to be closed after unsubscribe")
	}
}

func TestEmitDropsOnFullChannel(t *testing.T) {
	b := NewBus(nil)
	ch, unsubscribe := b.Subscribe(1)
	defer unsubscribe()

	b.Emit(TypeChunkQueueUpdate, ChunkQueueUpdate{Depth: 1})
	b.Emit(TypeChunkQueueUpdate, ChunkQueueUpdate{Depth: 2}) // should drop, not block

	<-ch // drains the first
}
