package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/askid/voicecore/internal/cluster"
	"github.com/askid/voicecore/internal/config"
	"github.com/askid/voicecore/internal/embedding"
	"github.com/askid/voicecore/internal/enroll"
	"github.com/askid/voicecore/internal/events"
	"github.com/askid/voicecore/internal/job"
	"github.com/askid/voicecore/internal/store"
)

func reprocessCommand() *cobra.Command {
	var recordingID string
	var full bool

	cmd := &cobra.Command{
		Use:   "reprocess",
		Short: "Replay a stored recording's Job Engine (quick or full mode)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReprocess(cmdSettings, recordingID, full)
		},
	}
	cmd.Flags().StringVar(&recordingID, "recording", "", "recording id to replay (required)")
	cmd.Flags().BoolVar(&full, "full", false, "replay the entire pipeline instead of re-clustering existing segments")
	return cmd
}

func runReprocess(settings *config.Settings, recordingID string, full bool) error {
	if recordingID == "" {
		return fmt.Errorf("--recording is required")
	}
	if !full {
		// Quick mode re-clusters existing segment boundaries; a real
		// deployment reads ExistingSegment from a prior job's stored
		// SegmentsJSON. This CLI entry point exists to exercise the Job
		// Engine end to end, not to build a segment editor.
		return fmt.Errorf("quick mode requires --full for this command until the job segment store is wired to a UI")
	}

	st, err := store.Open(settings.DataDir + "/voicecore.db")
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	enrollStore, err := enroll.NewStore(settings.DataDir)
	if err != nil {
		return fmt.Errorf("open enrollment store: %w", err)
	}
	enrolledFor := func(modelID string) []cluster.Speaker {
		all := enrollStore.All()
		speakers := make([]cluster.Speaker, 0, len(all))
		for _, e := range all {
			centroid, ok := e.CentroidFor(modelID)
			if !ok {
				continue
			}
			speakers = append(speakers, cluster.Speaker{Name: e.Name, Centroid: embedding.Normalize(centroid), Enrolled: true, EnrollmentID: e.ID})
		}
		return speakers
	}

	jobSettings := job.Settings{
		EmbeddingModelID:       settings.Embedding.ModelID,
		ClusterConfig:          clusterConfigFrom(settings),
		UnknownConfig:          unknownConfigFrom(settings),
		EnrollmentSourcePolicy: job.EnrollmentSourcePolicy(settings.Cluster.EnrollmentSourcePolicy),
	}

	jobRow, err := st.CreateJob(recordingID, jobSettings)
	if err != nil {
		return fmt.Errorf("create job: %w", err)
	}

	bus := events.NewBus(nil)
	progressDone := make(chan struct{})
	progressCh, unsubscribe := bus.Subscribe(8)
	go func() {
		defer close(progressDone)
		for msg := range progressCh {
			if msg.Type != events.TypeJobProcessingProgress {
				continue
			}
			var p events.JobProcessingProgress
			if err := json.Unmarshal(msg.Data, &p); err != nil {
				continue
			}
			fmt.Printf("reprocess %s: %d/%d\n", recordingID, p.ChunksDone, p.ChunksTotal)
		}
	}()

	err = job.ProcessFull(
		context.Background(),
		st,
		bus,
		jobRow,
		jobSettings,
		job.FullDeps{ASR: nullASR{}, Embedding: nullEmbedding{dim: 256}, Segment: segmentConfigFrom(settings)},
		enrolledFor,
		inferenceConfigFrom(settings),
	)
	unsubscribe()
	<-progressDone
	return err
}
