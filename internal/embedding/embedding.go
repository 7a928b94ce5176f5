// Package embedding declares the speaker-embedding capability contract
// and the small numeric helpers (L2 normalize, cosine
// similarity) used throughout the clusterer and enrollment store. Vector
// arithmetic is delegated to gonum rather than hand-rolled, following the
// rest of the pack's use of gonum.org/v1/gonum for numeric work.
package embedding

import (
	"context"

	"gonum.org/v1/gonum/floats"
)

// Vector is a fixed-dimension speaker embedding.
type Vector []float32

// Provider is the external embedding capability: given an audio span and
// a model identifier, returns an L2-normalized vector.
type Provider interface {
	Extract(ctx context.Context, audio []float32, modelID string) (Vector, error)
}

// BatchItem pairs an index with the audio span to embed, for the batch
// form of the provider contract.
type BatchItem struct {
	Index int
	Audio []float32
}

// BatchResult is one slot of a batch extraction's output; Err is set
// instead of Vector on per-item failure.
type BatchResult struct {
	Index int
	Vec   Vector
	Err   error
}

// BatchProvider is the optional batch extraction capability; providers
// that can't batch still satisfy Provider alone.
type BatchProvider interface {
	Provider
	BatchExtract(ctx context.Context, items []BatchItem, modelID string, progress func(done, total int)) []BatchResult
}

// Normalize returns a copy of v scaled to unit L2 norm. A zero vector is
// returned unchanged (norm 0 would divide by zero).
func Normalize(v Vector) Vector {
	f64 := toFloat64(v)
	norm := floats.Norm(f64, 2)
	if norm == 0 {
		out := make(Vector, len(v))
		copy(out, v)
		return out
	}
	out := make(Vector, len(v))
	for i, x := range f64 {
		out[i] = float32(x / norm)
	}
	return out
}

// CosineSimilarity computes the cosine similarity between two vectors.
// On L2-unit vectors this is simply their dot product; this
// implementation works for non-unit vectors too.
func CosineSimilarity(a, b Vector) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	af, bf := toFloat64(a), toFloat64(b)
	dot := floats.Dot(af, bf)
	na := floats.Norm(af, 2)
	nb := floats.Norm(bf, 2)
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (na * nb)
}

// Mean returns the element-wise mean of vecs, or nil if vecs is empty.
func Mean(vecs []Vector) Vector {
	if len(vecs) == 0 {
		return nil
	}
	dim := len(vecs[0])
	sum := make([]float64, dim)
	for _, v := range vecs {
		for i, x := range v {
			sum[i] += float64(x)
		}
	}
	floats.Scale(1/float64(len(vecs)), sum)
	out := make(Vector, dim)
	for i, x := range sum {
		out[i] = float32(x)
	}
	return out
}

func toFloat64(v Vector) []float64 {
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = float64(x)
	}
	return out
}
