package inference

import (
	"testing"

	"github.com/askid/voicecore/internal/cluster"
)

func warmup(e *Engine, names []string, sims []float64) {
	for i, n := range names {
		e.RecordAssignment(n, false, sims[i], 0.5, []cluster.SimilarityEntry{{Name: n, Similarity: sims[i]}})
	}
}

// TestBoostGatingRejectsClearWinner is scenario S5.
func TestBoostGatingRejectsClearWinner(t *testing.T) {
	cfg := DefaultConfig()
	e := New(cfg, nil)

	// Build a hypothesis of {Alice, Bob}.
	warmup(e, []string{"Alice", "Bob", "Alice", "Bob", "Alice"}, []float64{0.8, 0.7, 0.8, 0.7, 0.8})
	if len(e.Hypothesis().Participants) == 0 {
		t.Fatalf("expected hypothesis to be built after warmup")
	}

	allSims := []cluster.SimilarityEntry{
		{Name: "Alice", Similarity: 0.86},
		{Name: "Bob", Similarity: 0.62},
	}
	attribution, _ := e.RecordAssignment("Alice", false, 0.86, 0.86-0.62, allSims)
	if attribution.Display.Reason != ReasonClearWinner {
		t.Fatalf("reason = %v, want clear_winner", attribution.Display.Reason)
	}
	if attribution.Display.Label != "Alice" {
		t.Fatalf("boosted label = %q, want Alice (unchanged)", attribution.Display.Label)
	}
}

// TestBoostPromotesRunnerUp is scenario S6.
func TestBoostPromotesRunnerUp(t *testing.T) {
	cfg := DefaultConfig()
	cfg.BoostFactor = 1.10
	cfg.AmbiguityMarginThreshold = 0.15
	cfg.SkipBoostIfConfident = 0.90
	cfg.MinSimilarityForBoosting = 0.30
	e := New(cfg, nil)

	warmup(e, []string{"Alice", "Bob", "Alice", "Bob", "Alice"}, []float64{0.76, 0.7, 0.76, 0.7, 0.76})

	allSims := []cluster.SimilarityEntry{
		{Name: "Carol", Similarity: 0.80},
		{Name: "Alice", Similarity: 0.76},
		{Name: "Bob", Similarity: 0.40},
	}
	margin := 0.80 - 0.76
	attribution, _ := e.RecordAssignment("Carol", true, 0.80, margin, allSims)

	if attribution.Display.Label != "Alice" {
		t.Fatalf("boosted winner = %q, want Alice", attribution.Display.Label)
	}
	if !attribution.Display.WasInfluenced {
		t.Fatalf("expected was_influenced = true")
	}
	if attribution.Display.BoostedSimilarity <= 0.80 {
		t.Fatalf("boosted similarity = %v, want > 0.80 (Carol's raw score)", attribution.Display.BoostedSimilarity)
	}
}

// TestRetroactiveReattribution is scenario S7: after alternating
// Alice/Bob assignments a hypothesis is built (nonzero version), and any
// attribution reported as re-attributed still keeps its original
// clustering result.
func TestRetroactiveReattribution(t *testing.T) {
	cfg := DefaultConfig()
	cfg.WarmupSegments = 5
	cfg.RebuildEveryKSegments = 5
	e := New(cfg, nil)

	var lastReattributed []int
	for i := 0; i < 20; i++ {
		name := "Alice"
		if i%2 == 1 {
			name = "Bob"
		}
		sims := []cluster.SimilarityEntry{{Name: name, Similarity: 0.8}}
		_, reattributed := e.RecordAssignment(name, false, 0.8, 0.5, sims)
		if len(reattributed) > 0 {
			lastReattributed = reattributed
		}
	}

	if e.Hypothesis().Version == 0 {
		t.Fatalf("expected hypothesis to stabilize with a nonzero version")
	}
	for _, idx := range lastReattributed {
		attr, ok := e.Attribution(idx)
		if !ok {
			t.Fatalf("missing attribution at %d", idx)
		}
		if attr.Original.SpeakerName == "" {
			t.Fatalf("original attribution must remain set at %d", idx)
		}
	}
}

func TestNoHypothesisWhenExpectedSpeakersZero(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ExpectedSpeakers = 0
	e := New(cfg, nil)
	for i := 0; i < 20; i++ {
		attribution, _ := e.RecordAssignment("Alice", false, 0.8, 0.1, []cluster.SimilarityEntry{{Name: "Alice", Similarity: 0.8}})
		if attribution.Display.Reason != ReasonNoHypothesis {
			t.Fatalf("iteration %d: reason = %v, want no_hypothesis", i, attribution.Display.Reason)
		}
	}
	if len(e.Hypothesis().Participants) != 0 {
		t.Fatalf("expected no hypothesis to ever be built")
	}
}
