package job

import (
	"context"
	"fmt"

	"github.com/askid/voicecore/internal/asr"
	"github.com/askid/voicecore/internal/cluster"
	"github.com/askid/voicecore/internal/embedding"
	"github.com/askid/voicecore/internal/inference"
	"github.com/askid/voicecore/internal/merge"
	"github.com/askid/voicecore/internal/pcm"
	"github.com/askid/voicecore/internal/segment"
	"github.com/askid/voicecore/internal/store"
)

// AttributedFullSegment is a full-mode replay's output: a rebuilt
// Segment plus its committed speaker attribution.
type AttributedFullSegment struct {
	segment.Segment
	Attribution inference.SegmentAttribution
}

// FullDeps bundles the external capabilities full-mode replay drives;
// the live session processor supplies the same capabilities when
// running recording, so this is the shared control-flow spine for
// "replay exactly as live recording would".
type FullDeps struct {
	ASR       asr.Provider
	Embedding embedding.Provider
	Segment   segment.Config
}

// RunFull replays every stored chunk through ASR -> overlap-merge ->
// segmenter -> embedding -> clustering -> inference, exactly as live
// recording would, honoring the job's settings throughout.
func RunFull(
	ctx context.Context,
	settings Settings,
	recording store.RecordingRow,
	deps FullDeps,
	enrolledCentroids func(modelID string) []cluster.Speaker,
	inferenceCfg inference.Config,
	cancelled func() bool,
	progress func(done, total int),
) ([]AttributedFullSegment, error) {
	clusterer := cluster.New(settings.ClusterConfig, enrolledCentroids(settings.EmbeddingModelID))
	unknownClusterer := cluster.NewUnknown(settings.UnknownConfig, clusterer.Speakers())
	engine := inference.New(inferenceCfg, unknownClusterer.EligibleIdentities)

	var prevWords []asr.Word
	var out []AttributedFullSegment

	chunks := recording.Chunks
	total := len(chunks)
	for i, c := range chunks {
		if cancelled != nil && cancelled() {
			return nil, ErrCancelled
		}

		audio := pcm.Decode(c.SamplesJSON)
		result, err := deps.ASR.Transcribe(ctx, audio, "")
		if err != nil {
			return nil, fmt.Errorf("transcribe chunk %d: %w", c.Index, err)
		}

		mergeResult := merge.FindMergePoint(prevWords, result.Words, c.OverlapDuration)
		kept := result.Words[mergeResult.MergeIndex:]
		adjusted := merge.AdjustTimestamps(kept, c.OverlapDuration)
		prevWords = result.Words

		// adjusted words are relative to the chunk's new-content origin,
		// not sample 0 of the stored (overlap-inclusive) chunk — shift by
		// the overlap to land back in true global time.
		newContentOrigin := c.GlobalStartSec + c.OverlapDuration.Seconds()
		segments := segment.BuildTextGap(adjusted, newContentOrigin, deps.Segment)
		for _, seg := range segments {
			attributed := AttributedFullSegment{Segment: seg}
			if seg.Category == segment.CategorySpeech || seg.Category == segment.CategoryHumanVoice {
				segAudio := pcm.Slice(audio, seg.TStart-c.GlobalStartSec, seg.TEnd-c.GlobalStartSec)
				vec, err := deps.Embedding.Extract(ctx, segAudio, settings.EmbeddingModelID)
				if err != nil {
					return nil, fmt.Errorf("embed segment at %.2f: %w", seg.TStart, err)
				}
				assignment := clusterer.Assign(vec)
				name := ""
				if assignment.Assigned {
					name = clusterer.Speakers()[assignment.SpeakerIndex].Name
				}
				isUnknown := !assignment.Assigned
				if isUnknown {
					unknownClusterer.Assign(vec, assignment.BestSimilarity)
				}
				attribution, _ := engine.RecordAssignment(name, isUnknown, assignment.BestSimilarity, assignment.Margin, assignment.AllSimilarities)
				attributed.Attribution = attribution
			}
			out = append(out, attributed)
		}

		if progress != nil {
			progress(i+1, total)
		}
	}
	return out, nil
}
