package main

import (
	"context"

	"github.com/askid/voicecore/internal/asr"
	"github.com/askid/voicecore/internal/embedding"
	"github.com/askid/voicecore/internal/vad"
)

// The pipeline treats ASR and embedding as external capabilities it only
// consumes (spec.md's explicit Non-goal: "does not perform ...
// speaker-embedding training", and the core never implements a
// transcriber itself). These null providers let `serve` boot and
// exercise the full chunk/segment/cluster/inference wiring without a
// real ASR/embedding model attached; a deployment wires its actual
// backends in here instead. VAD gets a real (if simple) implementation,
// vad.EnergyProvider, rather than a null stand-in.
type nullASR struct{}

func (nullASR) Transcribe(ctx context.Context, audio []float32, language string) (asr.Result, error) {
	return asr.Result{AudioDuration: float64(len(audio)) / 16000}, nil
}

type nullEmbedding struct{ dim int }

func (n nullEmbedding) Extract(ctx context.Context, audio []float32, modelID string) (embedding.Vector, error) {
	return make(embedding.Vector, n.dim), nil
}

var (
	_ vad.Provider       = &vad.EnergyProvider{}
	_ asr.Provider       = nullASR{}
	_ embedding.Provider = nullEmbedding{}
)
