package main

import (
	"fmt"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/askid/voicecore/internal/cluster"
	"github.com/askid/voicecore/internal/config"
	"github.com/askid/voicecore/internal/embedding"
	"github.com/askid/voicecore/internal/enroll"
	"github.com/askid/voicecore/internal/events"
	"github.com/askid/voicecore/internal/inference"
	"github.com/askid/voicecore/internal/metrics"
	"github.com/askid/voicecore/internal/segment"
	"github.com/askid/voicecore/internal/session"
	"github.com/askid/voicecore/internal/store"
	"github.com/askid/voicecore/internal/vad"
)

func serveCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the live diarization server (session start + events feed)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmdSettings)
		},
	}
}

func runServe(settings *config.Settings) error {
	st, err := store.Open(settings.DataDir + "/voicecore.db")
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	enrollStore, err := enroll.NewStore(settings.DataDir)
	if err != nil {
		return fmt.Errorf("open enrollment store: %w", err)
	}

	bus := events.NewBus(nil)
	broadcaster := events.NewBroadcaster(bus)

	cfg := session.Config{
		EmbeddingModelID: settings.Embedding.ModelID,
		VAD: vad.Config{
			MinSpeechDurationSec: settings.VAD.MinSpeechDurationSec,
			MaxSpeechDurationSec: settings.VAD.MaxSpeechDurationSec,
			OverlapDurationSec:   settings.VAD.OverlapDurationSec,
			PreSpeechPadMs:       settings.VAD.PreSpeechPadMs,
			RedemptionMs:         settings.VAD.RedemptionMs,
			PositiveThreshold:    settings.VAD.PositiveThreshold,
			NegativeThreshold:    settings.VAD.NegativeThreshold,
		},
		Segment:   segmentConfigFrom(settings),
		Cluster:   clusterConfigFrom(settings),
		Unknown:   unknownConfigFrom(settings),
		Inference: inferenceConfigFrom(settings),
	}

	mgr := session.NewManager(cfg, func() session.Deps {
		return session.Deps{
			VADProvider: &vad.EnergyProvider{},
			ASR:         nullASR{},
			Embedding:   nullEmbedding{dim: 256},
			Store:       st,
			Bus:         bus,
			EnrolledCentroids: func(modelID string) []cluster.Speaker {
				all := enrollStore.All()
				speakers := make([]cluster.Speaker, 0, len(all))
				for _, e := range all {
					centroid, ok := e.CentroidFor(modelID)
					if !ok {
						continue
					}
					speakers = append(speakers, cluster.Speaker{
						Name: e.Name, Centroid: embedding.Normalize(centroid), Enrolled: true, EnrollmentID: e.ID,
					})
				}
				return speakers
			},
		}
	})

	mux := http.NewServeMux()
	mux.HandleFunc("/sessions", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			sess, err := mgr.Start()
			if err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}
			fmt.Fprintf(w, `{"session_id":%q}`, sess.ID)
		default:
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		}
	})
	mux.Handle("/events", broadcaster)
	mux.Handle("/metrics", metrics.Handler())

	return http.ListenAndServe(":"+settings.Port, mux)
}

// inferenceConfigFrom projects config.Settings' inference section onto
// inference.Config, starting from its documented defaults so fields the
// config layer doesn't expose yet (e.g. ambiguity margin thresholds)
// keep their spec-default values rather than zeroing out.
func inferenceConfigFrom(settings *config.Settings) inference.Config {
	cfg := inference.DefaultConfig()
	cfg.ExpectedSpeakers = settings.Inference.ExpectedSpeakers
	cfg.WarmupSegments = settings.Inference.WarmupSegments
	cfg.RebuildEveryKSegments = settings.Inference.RebuildEveryKSegments
	cfg.BoostFactor = settings.Inference.BoostFactor
	cfg.BoostEligibilityRank = settings.Inference.BoostEligibilityRank
	return cfg
}

// segmentConfigFrom, clusterConfigFrom, unknownConfigFrom mirror
// inferenceConfigFrom: the config layer exposes only a documented subset
// of tunables, so every other field keeps its package default rather
// than zeroing out.
func segmentConfigFrom(settings *config.Settings) segment.Config {
	cfg := segment.DefaultConfig()
	cfg.GapThresholdSec = settings.Segment.GapThresholdSec
	cfg.MinPhraseDurationSec = settings.Segment.MinPhraseDurationSec
	return cfg
}

func clusterConfigFrom(settings *config.Settings) cluster.Config {
	cfg := cluster.DefaultConfig()
	cfg.NumSpeakers = settings.Cluster.NumSpeakers
	cfg.SimilarityThreshold = settings.Cluster.SimilarityThreshold
	cfg.MinimumSimilarityThreshold = settings.Cluster.MinimumSimilarityThreshold
	cfg.ConfidenceMargin = settings.Cluster.ConfidenceMargin
	cfg.InterEnrollmentWarningThreshold = settings.Cluster.InterEnrollmentWarningThreshold
	return cfg
}

func unknownConfigFrom(settings *config.Settings) cluster.UnknownConfig {
	cfg := cluster.DefaultUnknownConfig()
	cfg.SimilarityThreshold = settings.Unknown.SimilarityThreshold
	cfg.ConfidenceMargin = settings.Unknown.ConfidenceMargin
	cfg.MinSegmentsToDisplay = settings.Unknown.MinSegmentsToDisplay
	cfg.MinMeanConfidence = settings.Unknown.MinMeanConfidence
	return cfg
}
