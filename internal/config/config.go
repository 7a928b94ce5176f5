// Package config loads layered configuration (defaults, optional
// config.yaml, environment, flags) for voicecore, in the style of the
// viper-based config loaders elsewhere in the pack: defaults are seeded
// first, a config file is read if present, and a .env file (via
// godotenv) is loaded ahead of viper so environment overrides are
// visible to it.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Settings is the fully-resolved runtime configuration for one
// voicecore process.
type Settings struct {
	DataDir     string `mapstructure:"data_dir"`
	Port        string `mapstructure:"port"`
	LogLevel    string `mapstructure:"log_level"`
	Console     bool   `mapstructure:"console_log"`
	MetricsAddr string `mapstructure:"metrics_addr"`

	Embedding EmbeddingSettings `mapstructure:"embedding"`
	VAD       VADSettings       `mapstructure:"vad"`
	Segment   SegmentSettings   `mapstructure:"segment"`
	Cluster   ClusterSettings   `mapstructure:"cluster"`
	Unknown   UnknownSettings   `mapstructure:"unknown"`
	Inference InferenceSettings `mapstructure:"inference"`
}

type EmbeddingSettings struct {
	ModelID string `mapstructure:"model_id"`
}

type VADSettings struct {
	MinSpeechDurationSec float64 `mapstructure:"min_speech_duration_sec"`
	MaxSpeechDurationSec float64 `mapstructure:"max_speech_duration_sec"`
	OverlapDurationSec   float64 `mapstructure:"overlap_duration_sec"`
	PreSpeechPadMs       int     `mapstructure:"pre_speech_pad_ms"`
	RedemptionMs         int     `mapstructure:"redemption_ms"`
	PositiveThreshold    float32 `mapstructure:"positive_threshold"`
	NegativeThreshold    float32 `mapstructure:"negative_threshold"`
}

type SegmentSettings struct {
	GapThresholdSec      float64 `mapstructure:"gap_threshold_sec"`
	MinPhraseDurationSec float64 `mapstructure:"min_phrase_duration_sec"`
}

type ClusterSettings struct {
	NumSpeakers                    int     `mapstructure:"num_speakers"`
	SimilarityThreshold             float64 `mapstructure:"similarity_threshold"`
	MinimumSimilarityThreshold      float64 `mapstructure:"minimum_similarity_threshold"`
	ConfidenceMargin                float64 `mapstructure:"confidence_margin"`
	InterEnrollmentWarningThreshold float64 `mapstructure:"inter_enrollment_warning_threshold"`
	EnrollmentSourcePolicy          string  `mapstructure:"enrollment_source_policy"` // "snapshot" | "current"
}

type UnknownSettings struct {
	SimilarityThreshold  float64 `mapstructure:"similarity_threshold"`
	ConfidenceMargin     float64 `mapstructure:"confidence_margin"`
	MinSegmentsToDisplay int     `mapstructure:"min_segments_to_display"`
	MinMeanConfidence    float64 `mapstructure:"min_mean_confidence"`
}

type InferenceSettings struct {
	ExpectedSpeakers      int     `mapstructure:"expected_speakers"`
	WarmupSegments        int     `mapstructure:"warmup_segments"`
	RebuildEveryKSegments int     `mapstructure:"rebuild_every_k_segments"`
	BoostFactor           float64 `mapstructure:"boost_factor"`
	BoostEligibilityRank  int     `mapstructure:"boost_eligibility_rank"`
}

// Load reads .env (if present), seeds defaults, reads an optional
// config.yaml from the current directory or /etc/voicecore, then
// layers environment variables (VOICECORE_*) and any flags the caller
// already bound into v via v.BindPFlags. v is shared with the caller
// so cobra command flags participate in the same viper instance.
func Load(v *viper.Viper) (*Settings, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/voicecore")

	v.SetEnvPrefix("voicecore")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	var settings Settings
	if err := v.Unmarshal(&settings); err != nil {
		return nil, fmt.Errorf("unmarshal settings: %w", err)
	}

	if settings.DataDir == "" {
		settings.DataDir = filepath.Join(".", "data", "sessions")
	}

	return &settings, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("data_dir", filepath.Join(".", "data", "sessions"))
	v.SetDefault("port", "8080")
	v.SetDefault("log_level", "info")
	v.SetDefault("console_log", true)
	v.SetDefault("metrics_addr", ":9090")

	v.SetDefault("embedding.model_id", "default")

	v.SetDefault("vad.min_speech_duration_sec", 1.0)
	v.SetDefault("vad.max_speech_duration_sec", 15.0)
	v.SetDefault("vad.overlap_duration_sec", 1.5)
	v.SetDefault("vad.pre_speech_pad_ms", 250)
	v.SetDefault("vad.redemption_ms", 300)
	v.SetDefault("vad.positive_threshold", 0.5)
	v.SetDefault("vad.negative_threshold", 0.35)

	v.SetDefault("segment.gap_threshold_sec", 0.7)
	v.SetDefault("segment.min_phrase_duration_sec", 0.5)

	v.SetDefault("cluster.num_speakers", 8)
	v.SetDefault("cluster.similarity_threshold", 0.75)
	v.SetDefault("cluster.minimum_similarity_threshold", 0.45)
	v.SetDefault("cluster.confidence_margin", 0.15)
	v.SetDefault("cluster.inter_enrollment_warning_threshold", 0.90)
	v.SetDefault("cluster.enrollment_source_policy", "current")

	v.SetDefault("unknown.similarity_threshold", 0.65)
	v.SetDefault("unknown.confidence_margin", 0.08)
	v.SetDefault("unknown.min_segments_to_display", 2)
	v.SetDefault("unknown.min_mean_confidence", 0.5)

	v.SetDefault("inference.expected_speakers", 2)
	v.SetDefault("inference.warmup_segments", 5)
	v.SetDefault("inference.rebuild_every_k_segments", 5)
	v.SetDefault("inference.boost_factor", 1.10)
	v.SetDefault("inference.boost_eligibility_rank", 2)
}
