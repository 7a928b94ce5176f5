package job

import (
	"context"
	"testing"

	"github.com/askid/voicecore/internal/asr"
	"github.com/askid/voicecore/internal/cluster"
	"github.com/askid/voicecore/internal/embedding"
	"github.com/askid/voicecore/internal/inference"
	"github.com/askid/voicecore/internal/pcm"
	"github.com/askid/voicecore/internal/segment"
	"github.com/askid/voicecore/internal/store"
)

// fakeEmbeddingProvider returns the same fixed vector for every call,
// regardless of audio content, so tests can assert stable cluster
// assignment without a real model.
type fakeEmbeddingProvider struct {
	vec embedding.Vector
}

func (f fakeEmbeddingProvider) Extract(ctx context.Context, audio []float32, modelID string) (embedding.Vector, error) {
	return f.vec, nil
}

func TestRunQuickReassignsFromOriginalAudio(t *testing.T) {
	samples := make([]float32, pcm.SampleRate*2)
	for i := range samples {
		samples[i] = 0.1
	}
	recording := store.RecordingRow{
		ID: "rec-1",
		Chunks: []store.ChunkRow{
			{Index: 0, GlobalStartSec: 0, SamplesJSON: pcm.Encode(samples)},
		},
	}
	segments := []ExistingSegment{
		{TStart: 0.0, TEnd: 1.0, Category: segment.CategorySpeech},
		{TStart: 1.0, TEnd: 2.0, Category: segment.CategoryEnvironmental},
	}

	enrolledVec := embedding.Normalize(embedding.Vector{1, 0, 0})
	provider := fakeEmbeddingProvider{vec: enrolledVec}

	settings := Settings{
		EmbeddingModelID: "model-a",
		ClusterConfig:    cluster.DefaultConfig(),
		UnknownConfig:    cluster.DefaultUnknownConfig(),
	}

	out, err := RunQuick(
		context.Background(),
		settings,
		recording,
		segments,
		func(modelID string) []cluster.Speaker {
			return []cluster.Speaker{{Name: "Alice", Centroid: enrolledVec, Enrolled: true}}
		},
		func(modelID string) (embedding.Provider, error) { return provider, nil },
		nil,
		nil,
	)
	if err != nil {
		t.Fatalf("RunQuick: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("len(out) = %d, want 2", len(out))
	}
	if !out[0].Assignment.Assigned || out[0].Assignment.SpeakerIndex != 0 {
		t.Fatalf("segment 0 assignment = %+v, want assigned to speaker 0", out[0].Assignment)
	}
	if out[1].Assignment.Assigned || out[1].Unknown {
		t.Fatalf("environmental segment should be untouched, got %+v", out[1])
	}
}

func TestRunQuickIdempotentUnderIdenticalSettings(t *testing.T) {
	samples := make([]float32, pcm.SampleRate)
	recording := store.RecordingRow{
		Chunks: []store.ChunkRow{{Index: 0, GlobalStartSec: 0, SamplesJSON: pcm.Encode(samples)}},
	}
	segments := []ExistingSegment{{TStart: 0, TEnd: 1, Category: segment.CategorySpeech}}
	vec := embedding.Normalize(embedding.Vector{0, 1, 0})
	provider := fakeEmbeddingProvider{vec: vec}
	settings := Settings{
		EmbeddingModelID: "model-a",
		ClusterConfig:    cluster.DefaultConfig(),
		UnknownConfig:    cluster.DefaultUnknownConfig(),
	}
	enrolled := func(modelID string) []cluster.Speaker {
		return []cluster.Speaker{{Name: "Bob", Centroid: vec, Enrolled: true}}
	}
	providerFor := func(modelID string) (embedding.Provider, error) { return provider, nil }

	first, err := RunQuick(context.Background(), settings, recording, segments, enrolled, providerFor, nil, nil)
	if err != nil {
		t.Fatalf("first RunQuick: %v", err)
	}
	second, err := RunQuick(context.Background(), settings, recording, segments, enrolled, providerFor, nil, nil)
	if err != nil {
		t.Fatalf("second RunQuick: %v", err)
	}
	if first[0].Assignment.SpeakerIndex != second[0].Assignment.SpeakerIndex {
		t.Fatalf("quick mode not idempotent: %+v vs %+v", first[0].Assignment, second[0].Assignment)
	}
	if first[0].Assignment.BestSimilarity != second[0].Assignment.BestSimilarity {
		t.Fatalf("similarity differs across identical re-runs: %v vs %v",
			first[0].Assignment.BestSimilarity, second[0].Assignment.BestSimilarity)
	}
}

func TestRunQuickRespectsCancellation(t *testing.T) {
	samples := make([]float32, pcm.SampleRate)
	recording := store.RecordingRow{
		Chunks: []store.ChunkRow{{Index: 0, GlobalStartSec: 0, SamplesJSON: pcm.Encode(samples)}},
	}
	segments := []ExistingSegment{{TStart: 0, TEnd: 1, Category: segment.CategorySpeech}}
	_, err := RunQuick(
		context.Background(),
		Settings{EmbeddingModelID: "m", ClusterConfig: cluster.DefaultConfig(), UnknownConfig: cluster.DefaultUnknownConfig()},
		recording,
		segments,
		func(string) []cluster.Speaker { return nil },
		func(string) (embedding.Provider, error) { return fakeEmbeddingProvider{}, nil },
		func() bool { return true },
		nil,
	)
	if err != ErrCancelled {
		t.Fatalf("err = %v, want ErrCancelled", err)
	}
}

// fakeASRProvider returns one word spanning the whole chunk, named after
// the chunk index so tests can tell chunks apart.
type fakeASRProvider struct{}

func (fakeASRProvider) Transcribe(ctx context.Context, audio []float32, language string) (asr.Result, error) {
	dur := float64(len(audio)) / float64(pcm.SampleRate)
	return asr.Result{
		Words:         []asr.Word{{Text: "hello", TStart: 0, TEnd: dur, Conf: 1}},
		RawText:       "hello",
		AudioDuration: dur,
	}, nil
}

func TestRunFullProducesAttributedSegments(t *testing.T) {
	samples := make([]float32, pcm.SampleRate)
	for i := range samples {
		samples[i] = 0.2
	}
	recording := store.RecordingRow{
		Chunks: []store.ChunkRow{
			{Index: 0, GlobalStartSec: 0, SamplesJSON: pcm.Encode(samples), OverlapDuration: 0},
		},
	}
	vec := embedding.Normalize(embedding.Vector{1, 0, 0})
	deps := FullDeps{
		ASR:       fakeASRProvider{},
		Embedding: fakeEmbeddingProvider{vec: vec},
		Segment:   segment.DefaultConfig(),
	}
	settings := Settings{
		EmbeddingModelID: "model-a",
		ClusterConfig:    cluster.DefaultConfig(),
		UnknownConfig:    cluster.DefaultUnknownConfig(),
	}

	out, err := RunFull(
		context.Background(),
		settings,
		recording,
		deps,
		func(modelID string) []cluster.Speaker {
			return []cluster.Speaker{{Name: "Alice", Centroid: vec, Enrolled: true}}
		},
		inference.DefaultConfig(),
		nil,
		nil,
	)
	if err != nil {
		t.Fatalf("RunFull: %v", err)
	}
	if len(out) != 1 {
		t.Fatalf("len(out) = %d, want 1", len(out))
	}
	if out[0].Attribution.Original.SpeakerName != "Alice" {
		t.Fatalf("attribution = %+v, want Alice", out[0].Attribution.Original)
	}
}

func TestRunFullRespectsCancellation(t *testing.T) {
	samples := make([]float32, pcm.SampleRate)
	recording := store.RecordingRow{
		Chunks: []store.ChunkRow{
			{Index: 0, GlobalStartSec: 0, SamplesJSON: pcm.Encode(samples)},
		},
	}
	deps := FullDeps{ASR: fakeASRProvider{}, Embedding: fakeEmbeddingProvider{}, Segment: segment.DefaultConfig()}
	_, err := RunFull(
		context.Background(),
		Settings{ClusterConfig: cluster.DefaultConfig(), UnknownConfig: cluster.DefaultUnknownConfig()},
		recording,
		deps,
		func(string) []cluster.Speaker { return nil },
		inference.DefaultConfig(),
		func() bool { return true },
		nil,
	)
	if err != ErrCancelled {
		t.Fatalf("err = %v, want ErrCancelled", err)
	}
}
