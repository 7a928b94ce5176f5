package job

import (
	"context"
	"errors"
	"testing"

	"github.com/askid/voicecore/internal/asr"
	"github.com/askid/voicecore/internal/cluster"
	"github.com/askid/voicecore/internal/embedding"
	"github.com/askid/voicecore/internal/events"
	"github.com/askid/voicecore/internal/inference"
	"github.com/askid/voicecore/internal/pcm"
	"github.com/askid/voicecore/internal/pipelineerr"
	"github.com/askid/voicecore/internal/segment"
	"github.com/askid/voicecore/internal/store"
)

// recordingSink collects emitted events for assertions instead of
// fanning them out over channels.
type recordingSink struct {
	progress []events.JobProcessingProgress
}

func (r *recordingSink) Emit(typ events.Type, data any) {
	if typ != events.TypeJobProcessingProgress {
		return
	}
	r.progress = append(r.progress, data.(events.JobProcessingProgress))
}

// erroringASR always fails, to exercise the revert-on-failure path.
type erroringASR struct{}

func (erroringASR) Transcribe(ctx context.Context, audio []float32, language string) (asr.Result, error) {
	return asr.Result{}, errors.New("asr unavailable")
}

func newRecording(t *testing.T, st *store.Store, settings any) store.RecordingRow {
	t.Helper()
	rec, err := st.Save(settings)
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	samples := make([]float32, pcm.SampleRate)
	for i := range samples {
		samples[i] = 0.2
	}
	if err := st.AppendChunk(rec.ID, store.ChunkRow{Index: 0, GlobalStartSec: 0, SamplesJSON: pcm.Encode(samples)}); err != nil {
		t.Fatalf("AppendChunk: %v", err)
	}
	return rec
}

func TestProcessFullTransitionsJobToProcessed(t *testing.T) {
	st, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer st.Close()

	settings := Settings{EmbeddingModelID: "model-a", ClusterConfig: cluster.DefaultConfig(), UnknownConfig: cluster.DefaultUnknownConfig()}
	rec := newRecording(t, st, settings)
	jobRow, err := st.CreateJob(rec.ID, settings)
	if err != nil {
		t.Fatalf("CreateJob: %v", err)
	}

	vec := embedding.Normalize(embedding.Vector{1, 0, 0})
	deps := FullDeps{ASR: fakeASRProvider{}, Embedding: fakeEmbeddingProvider{vec: vec}, Segment: segment.DefaultConfig()}
	sink := &recordingSink{}

	err = ProcessFull(context.Background(), st, sink, jobRow, settings, deps,
		func(string) []cluster.Speaker { return []cluster.Speaker{{Name: "Alice", Centroid: vec, Enrolled: true}} },
		inference.DefaultConfig())
	if err != nil {
		t.Fatalf("ProcessFull: %v", err)
	}

	got, err := st.Get(rec.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	var found bool
	for _, j := range got.Jobs {
		if j.ID == jobRow.ID {
			found = true
			if j.Status != store.JobStatusProcessed {
				t.Fatalf("job status = %s, want processed", j.Status)
			}
			if len(j.SegmentsJSON) == 0 {
				t.Fatalf("expected segments_json to be persisted")
			}
		}
	}
	if !found {
		t.Fatalf("job %s not found on recording", jobRow.ID)
	}
	if len(sink.progress) == 0 {
		t.Fatalf("expected at least one job_processing_progress event")
	}
}

func TestProcessFullRevertsOnFailure(t *testing.T) {
	st, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer st.Close()

	settings := Settings{EmbeddingModelID: "model-a", ClusterConfig: cluster.DefaultConfig(), UnknownConfig: cluster.DefaultUnknownConfig()}
	rec := newRecording(t, st, settings)
	jobRow, err := st.CreateJob(rec.ID, settings)
	if err != nil {
		t.Fatalf("CreateJob: %v", err)
	}

	deps := FullDeps{ASR: erroringASR{}, Embedding: fakeEmbeddingProvider{}, Segment: segment.DefaultConfig()}
	sink := &recordingSink{}

	err = ProcessFull(context.Background(), st, sink, jobRow, settings, deps,
		func(string) []cluster.Speaker { return nil }, inference.DefaultConfig())
	if err == nil {
		t.Fatalf("expected ProcessFull to fail")
	}
	if !errors.Is(err, pipelineerr.ErrJobProcessingFailure) {
		t.Fatalf("err = %v, want wrapped ErrJobProcessingFailure", err)
	}

	got, err := st.Get(rec.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	for _, j := range got.Jobs {
		if j.ID == jobRow.ID && j.Status != store.JobStatusUnprocessed {
			t.Fatalf("job status = %s, want reverted to unprocessed", j.Status)
		}
	}
}

func TestProcessFullRejectsConcurrentProcessing(t *testing.T) {
	st, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer st.Close()

	settings := Settings{EmbeddingModelID: "model-a"}
	rec := newRecording(t, st, settings)
	jobA, err := st.CreateJob(rec.ID, settings)
	if err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	jobB, err := st.CreateJob(rec.ID, settings)
	if err != nil {
		t.Fatalf("CreateJob: %v", err)
	}

	if err := st.BeginProcessing(jobA.ID, rec.ID); err != nil {
		t.Fatalf("BeginProcessing jobA: %v", err)
	}
	if err := st.BeginProcessing(jobB.ID, rec.ID); err == nil {
		t.Fatalf("expected BeginProcessing jobB to fail while jobA is processing")
	}
}
