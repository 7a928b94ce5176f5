// Package job implements the Job Engine: replaying a
// Recording's stored audio under alternate settings, either "quick"
// (re-embed + re-cluster over existing segment boundaries) or "full"
// (replay the entire pipeline from stored chunks).
package job

import (
	"context"
	"fmt"

	"github.com/askid/voicecore/internal/cluster"
	"github.com/askid/voicecore/internal/embedding"
	"github.com/askid/voicecore/internal/enroll"
	"github.com/askid/voicecore/internal/pcm"
	"github.com/askid/voicecore/internal/segment"
	"github.com/askid/voicecore/internal/store"
)

// EnrollmentSourcePolicy names which enrollment centroids a job uses:
// "snapshot" for the enrollments as they were when the job was created,
// "current" for those at processing time. Settings carries the value, but
// RunQuick and RunFull do not read it: both always resolve enrollments
// through their enrolledCentroids callback at processing time.
type EnrollmentSourcePolicy string

const (
	EnrollmentSourceSnapshot EnrollmentSourcePolicy = "snapshot"
	EnrollmentSourceCurrent  EnrollmentSourcePolicy = "current"
)

// Settings is the immutable snapshot every Job carries.
type Settings struct {
	EmbeddingModelID        string
	ClusterConfig           cluster.Config
	UnknownConfig           cluster.UnknownConfig
	EnrollmentSourcePolicy  EnrollmentSourcePolicy
	SnapshotEnrollments     []enroll.Enrollment // not read by RunQuick or RunFull
}

// ExistingSegment is the minimal shape of a previously-committed
// segment Quick mode needs: its time span and category, to know which
// spans are eligible for re-clustering.
type ExistingSegment struct {
	TStart   float64
	TEnd     float64
	Category segment.Category
}

// RebuiltSegment is one segment with a freshly computed speaker
// assignment.
type RebuiltSegment struct {
	ExistingSegment
	Assignment cluster.Assignment
	Unknown    bool
	UnknownID  int
}

// ErrCancelled is returned when a cancellation token fires at a chunk/
// segment boundary.
var ErrCancelled = fmt.Errorf("job processing cancelled")

// EmbeddingProviderFor resolves the embedding.Provider to use for a
// settings snapshot; callers typically close over a provider registry
// keyed by model id.
type EmbeddingProviderFor func(modelID string) (embedding.Provider, error)

// RunQuick re-embeds every
// non-environmental existing segment from its original audio slice
// using the new settings' embedding model, then re-runs the Speaker
// Clusterer and (for segments it sends to Unknown) the Unknown
// Clusterer. ASR and segmenter outputs are untouched — only
// segments/times already computed are reused.
func RunQuick(
	ctx context.Context,
	settings Settings,
	recording store.RecordingRow,
	segments []ExistingSegment,
	enrolledCentroids func(modelID string) []cluster.Speaker,
	providerFor EmbeddingProviderFor,
	cancelled func() bool,
	progress func(done, total int),
) ([]RebuiltSegment, error) {
	provider, err := providerFor(settings.EmbeddingModelID)
	if err != nil {
		return nil, fmt.Errorf("resolve embedding provider: %w", err)
	}

	chunks := make([]chunkAudio, len(recording.Chunks))
	for i, c := range recording.Chunks {
		chunks[i] = chunkAudio{globalStart: c.GlobalStartSec, samples: pcm.Decode(c.SamplesJSON)}
	}

	clusterer := cluster.New(settings.ClusterConfig, enrolledCentroids(settings.EmbeddingModelID))
	unknownClusterer := cluster.NewUnknown(settings.UnknownConfig, clusterer.Speakers())

	out := make([]RebuiltSegment, 0, len(segments))
	total := len(segments)
	for i, seg := range segments {
		if cancelled != nil && cancelled() {
			return nil, ErrCancelled
		}
		if seg.Category == segment.CategoryEnvironmental || seg.Category == segment.CategoryBlank {
			out = append(out, RebuiltSegment{ExistingSegment: seg})
			continue
		}

		audio := audioSliceAcrossChunks(chunks, seg.TStart, seg.TEnd)
		vec, err := provider.Extract(ctx, audio, settings.EmbeddingModelID)
		if err != nil {
			return nil, fmt.Errorf("extract embedding for segment %d: %w", i, err)
		}

		assignment := clusterer.Assign(vec)
		rebuilt := RebuiltSegment{ExistingSegment: seg, Assignment: assignment}
		if !assignment.Assigned {
			rebuilt.Unknown = true
			rebuilt.UnknownID = unknownClusterer.Assign(vec, assignment.BestSimilarity)
		}
		out = append(out, rebuilt)

		if progress != nil {
			progress(i+1, total)
		}
	}
	return out, nil
}

type chunkAudio struct {
	globalStart float64
	samples     []float32
}

// audioSliceAcrossChunks extracts the audio spanning global time
// [tStart, tEnd) from the first stored chunk whose span contains tStart,
// using that chunk's GlobalStartSec to map global time back to
// chunk-local samples. Audio is never joined across chunks: a span
// running past that chunk's end is cut at the chunk's end, and nil is
// returned when no chunk contains tStart.
func audioSliceAcrossChunks(chunks []chunkAudio, tStart, tEnd float64) []float32 {
	for _, c := range chunks {
		localEnd := c.globalStart + float64(len(c.samples))/float64(pcm.SampleRate)
		if tStart >= c.globalStart && tStart < localEnd {
			return pcm.Slice(c.samples, tStart-c.globalStart, tEnd-c.globalStart)
		}
	}
	return nil
}
