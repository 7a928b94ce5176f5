package segment

import (
	"testing"

	"github.com/askid/voicecore/internal/asr"
)

func TestBuildTextGapSplitsOnLargeGap(t *testing.T) {
	words := []asr.Word{
		{Text: "hello", TStart: 0.0, TEnd: 0.4},
		{Text: "there", TStart: 0.5, TEnd: 0.9},
		{Text: "later", TStart: 2.0, TEnd: 2.6}, // gap 1.1s > 0.7s default; 0.6s phrase is not merged back
	}
	segs := BuildTextGap(words, 0, DefaultConfig())
	if len(segs) != 2 {
		t.Fatalf("got %d segments, want 2", len(segs))
	}
	if len(segs[0].Words) != 2 || len(segs[1].Words) != 1 {
		t.Fatalf("unexpected word grouping: %+v", segs)
	}
}

func TestBuildTextGapMergesShortPhrase(t *testing.T) {
	cfg := DefaultConfig()
	words := []asr.Word{
		{Text: "hello", TStart: 0.0, TEnd: 0.6},
		{Text: "hi", TStart: 1.4, TEnd: 1.5}, // gap 0.8s > threshold, forms new phrase
	}
	segs := BuildTextGap(words, 0, cfg)
	// second phrase duration = 0.1s < MinPhraseDurationSec(0.5), merges into previous
	if len(segs) != 1 {
		t.Fatalf("got %d segments, want 1 (short phrase merged)", len(segs))
	}
	if len(segs[0].Words) != 2 {
		t.Fatalf("merged segment should carry both words, got %d", len(segs[0].Words))
	}
}

// TestAllBlankYieldsNoSegments is property 12: a chunk whose only content
// is a [BLANK_AUDIO] marker yields zero (non-blank) segments.
func TestAllBlankYieldsNoSegments(t *testing.T) {
	words := []asr.Word{{Text: "[BLANK_AUDIO]", TStart: 0, TEnd: 1}}
	segs := BuildTextGap(words, 0, DefaultConfig())
	for _, s := range segs {
		if s.Category != CategoryBlank {
			t.Fatalf("expected blank category, got %v", s.Category)
		}
	}
}

func TestClassifyCategories(t *testing.T) {
	cases := map[string]Category{
		"[blank_audio]": CategoryBlank,
		"[music]":       CategoryEnvironmental,
		"[laughter]":    CategoryHumanVoice,
		"hello world":   CategorySpeech,
	}
	for text, want := range cases {
		got := Classify([]asr.Word{{Text: text}})
		if got != want {
			t.Errorf("Classify(%q) = %v, want %v", text, got, want)
		}
	}
}

func TestGlobalTimestampsOffsetByChunkStart(t *testing.T) {
	words := []asr.Word{{Text: "hi", TStart: 0.1, TEnd: 0.3}}
	segs := BuildTextGap(words, 10.0, DefaultConfig())
	if len(segs) != 1 {
		t.Fatalf("got %d segments, want 1", len(segs))
	}
	if segs[0].TStart != 10.1 || segs[0].TEnd != 10.3 {
		t.Fatalf("global timestamps = (%v,%v), want (10.1,10.3)", segs[0].TStart, segs[0].TEnd)
	}
}
