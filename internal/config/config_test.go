package config

import (
	"os"
	"testing"

	"github.com/spf13/viper"
)

func TestLoadAppliesDefaults(t *testing.T) {
	v := viper.New()

	orig, err := os.Getwd()
	if err != nil {
		t.Fatalf("Getwd: %v", err)
	}
	if err := os.Chdir(t.TempDir()); err != nil {
		t.Fatalf("Chdir: %v", err)
	}
	defer os.Chdir(orig)

	s, err := Load(v)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if s.Cluster.SimilarityThreshold != 0.75 {
		t.Fatalf("similarity_threshold = %v, want 0.75", s.Cluster.SimilarityThreshold)
	}
	if s.VAD.MaxSpeechDurationSec != 15.0 {
		t.Fatalf("max_speech_duration_sec = %v, want 15.0", s.VAD.MaxSpeechDurationSec)
	}
	if s.Inference.ExpectedSpeakers != 2 {
		t.Fatalf("expected_speakers = %v, want 2", s.Inference.ExpectedSpeakers)
	}
}
