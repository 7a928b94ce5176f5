package job

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/askid/voicecore/internal/cluster"
	"github.com/askid/voicecore/internal/events"
	"github.com/askid/voicecore/internal/inference"
	"github.com/askid/voicecore/internal/pipelineerr"
	"github.com/askid/voicecore/internal/store"
)

// ProcessFull drives a full-mode replay through the Job status
// lifecycle: unprocessed -> processing -> processed. At most one job
// per recording may be processing at a time; on any failure the job
// reverts to unprocessed and the returned error wraps
// pipelineerr.ErrJobProcessingFailure. Progress is emitted on bus as
// job_processing_progress events.
func ProcessFull(
	ctx context.Context,
	st *store.Store,
	bus events.Sink,
	jobRow store.JobRow,
	settings Settings,
	deps FullDeps,
	enrolledCentroids func(modelID string) []cluster.Speaker,
	inferenceCfg inference.Config,
) error {
	if err := st.BeginProcessing(jobRow.ID, jobRow.RecordingID); err != nil {
		return fmt.Errorf("%w: %v", pipelineerr.ErrJobProcessingFailure, err)
	}

	recording, err := st.GetWithChunks(jobRow.RecordingID)
	if err != nil {
		return revertOrWrap(st, jobRow.ID, err)
	}

	progress := func(done, total int) {
		bus.Emit(events.TypeJobProcessingProgress, events.JobProcessingProgress{
			JobID: jobRow.ID, ChunksDone: done, ChunksTotal: total,
		})
	}

	segments, err := RunFull(ctx, settings, recording, deps, enrolledCentroids, inferenceCfg, nil, progress)
	if err != nil {
		return revertOrWrap(st, jobRow.ID, err)
	}

	segmentsJSON, err := json.Marshal(segments)
	if err != nil {
		return revertOrWrap(st, jobRow.ID, err)
	}

	if err := st.CompleteProcessing(jobRow.ID, segmentsJSON, nil); err != nil {
		return fmt.Errorf("%w: persist result: %v", pipelineerr.ErrJobProcessingFailure, err)
	}
	return nil
}

// ProcessQuick drives a quick-mode re-cluster through the same Job
// status lifecycle as ProcessFull.
func ProcessQuick(
	ctx context.Context,
	st *store.Store,
	bus events.Sink,
	jobRow store.JobRow,
	settings Settings,
	existingSegments []ExistingSegment,
	enrolledCentroids func(modelID string) []cluster.Speaker,
	providerFor EmbeddingProviderFor,
) error {
	if err := st.BeginProcessing(jobRow.ID, jobRow.RecordingID); err != nil {
		return fmt.Errorf("%w: %v", pipelineerr.ErrJobProcessingFailure, err)
	}

	recording, err := st.GetWithChunks(jobRow.RecordingID)
	if err != nil {
		return revertOrWrap(st, jobRow.ID, err)
	}

	progress := func(done, total int) {
		bus.Emit(events.TypeJobProcessingProgress, events.JobProcessingProgress{
			JobID: jobRow.ID, ChunksDone: done, ChunksTotal: total,
		})
	}

	rebuilt, err := RunQuick(ctx, settings, recording, existingSegments, enrolledCentroids, providerFor, nil, progress)
	if err != nil {
		return revertOrWrap(st, jobRow.ID, err)
	}

	segmentsJSON, err := json.Marshal(rebuilt)
	if err != nil {
		return revertOrWrap(st, jobRow.ID, err)
	}

	if err := st.CompleteProcessing(jobRow.ID, segmentsJSON, nil); err != nil {
		return fmt.Errorf("%w: persist result: %v", pipelineerr.ErrJobProcessingFailure, err)
	}
	return nil
}

// revertOrWrap reverts jobID to unprocessed and wraps runErr in
// pipelineerr.ErrJobProcessingFailure, folding in the revert failure
// too if that also failed.
func revertOrWrap(st *store.Store, jobID string, runErr error) error {
	if revertErr := st.RevertProcessing(jobID); revertErr != nil {
		return fmt.Errorf("%w: %v (revert also failed: %v)", pipelineerr.ErrJobProcessingFailure, runErr, revertErr)
	}
	return fmt.Errorf("%w: %v", pipelineerr.ErrJobProcessingFailure, runErr)
}
