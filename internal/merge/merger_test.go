package merge

import (
	"testing"
	"time"

	"github.com/askid/voicecore/internal/asr"
)

// TestFindMergePointExact is scenario S1.
func TestFindMergePointExact(t *testing.T) {
	prev := []asr.Word{
		{Text: "hello", TStart: 0.0, TEnd: 0.4},
		{Text: "world", TStart: 0.5, TEnd: 0.9},
	}
	curr := []asr.Word{
		{Text: "world", TStart: 0.6, TEnd: 1.0},
		{Text: "again", TStart: 1.2, TEnd: 1.5},
	}

	res := FindMergePoint(prev, curr, time.Duration(1.0*float64(time.Second)))
	if res.MergeIndex != 1 {
		t.Fatalf("merge index = %d, want 1", res.MergeIndex)
	}
	if res.Method != MethodExact {
		t.Fatalf("method = %v, want exact", res.Method)
	}
	if res.Confidence < 0.5 {
		t.Fatalf("confidence = %v, want >= 0.5", res.Confidence)
	}

	kept := curr[res.MergeIndex:]
	adjusted := AdjustTimestamps(kept, time.Duration(1.0*float64(time.Second)))
	if len(adjusted) != 1 {
		t.Fatalf("adjusted words = %d, want 1", len(adjusted))
	}
	w := adjusted[0]
	if w.Text != "again" {
		t.Fatalf("kept word = %q, want again", w.Text)
	}
	if abs(w.TStart-0.2) > 1e-9 || abs(w.TEnd-0.5) > 1e-9 {
		t.Fatalf("adjusted timestamps = (%v,%v), want (0.2,0.5)", w.TStart, w.TEnd)
	}
}

// TestAdjustTimestampsZeroOverlapIsIdentity is property 9.
func TestAdjustTimestampsZeroOverlapIsIdentity(t *testing.T) {
	words := []asr.Word{
		{Text: "a", TStart: 0.1, TEnd: 0.2},
		{Text: "b", TStart: 0.3, TEnd: 0.4},
	}
	adjusted := AdjustTimestamps(words, 0)
	for i := range words {
		if words[i] != adjusted[i] {
			t.Fatalf("word %d changed under zero overlap: %+v != %+v", i, words[i], adjusted[i])
		}
	}
}

// TestZeroOverlapNoMergeNoDrop is property 11.
func TestZeroOverlapNoMergeNoDrop(t *testing.T) {
	prev := []asr.Word{{Text: "hello", TStart: 0, TEnd: 0.4}}
	curr := []asr.Word{
		{Text: "world", TStart: 0, TEnd: 0.4},
		{Text: "again", TStart: 0.5, TEnd: 0.8},
	}
	res := FindMergePoint(prev, curr, 0)
	if res.MergeIndex != 0 {
		t.Fatalf("merge index = %d, want 0", res.MergeIndex)
	}
	if len(curr[res.MergeIndex:]) != len(curr) {
		t.Fatalf("words dropped under zero overlap")
	}
}

func abs(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}
