// Package segment implements the Phrase Builder / Segment Assembler: it
// turns a stitched word stream into candidate Segments,
// either via the default text-gap heuristic or by post-processing an
// acoustic segmenter's proposals, then classifies each phrase's sound
// category before clustering.
package segment

import (
	"strings"

	"github.com/askid/voicecore/internal/asr"
)

// Category is the sound classification assigned to a phrase before
// clustering.
type Category string

const (
	CategoryBlank         Category = "blank"
	CategoryEnvironmental Category = "environmental"
	CategoryHumanVoice    Category = "human_voice"
	CategorySpeech        Category = "speech"
)

// Segment is a contiguous span of speech (or environmental marker)
// assembled from stitched words, in global session time.
type Segment struct {
	Words    []asr.Word
	TStart   float64
	TEnd     float64
	Category Category
	// LocalSpeakerID carries the acoustic segmenter's proposed local
	// speaker grouping, if any; the Speaker Clusterer does not consume
	// it directly but it is retained for debugging/quick-mode replay.
	LocalSpeakerID int
}

// Config holds the Phrase Builder's tunables.
type Config struct {
	GapThresholdSec         float64
	MinPhraseDurationSec    float64
	ConfidenceFloor         float32
	MinSegmentDurationSec   float64
	BoundaryPadSec          float64
	MergeGapThresholdSec    float64
}

func DefaultConfig() Config {
	return Config{
		GapThresholdSec:       0.7,
		MinPhraseDurationSec:  0.5,
		ConfidenceFloor:       0.0,
		MinSegmentDurationSec: 0.0,
		BoundaryPadSec:        0.0,
		MergeGapThresholdSec:  0.3,
	}
}

// AcousticSpan is one boundary proposal from the acoustic Segmenter
// capability.
type AcousticSpan struct {
	SpeakerLocalID int
	TStart         float64
	TEnd           float64
	Confidence     float32
}

// BuildTextGap groups words into phrases by the default text-gap policy:
// a new phrase starts whenever the gap to the previous word exceeds
// GapThresholdSec. Phrases shorter than MinPhraseDurationSec are merged
// into the previous phrase (they "inherit" its speaker by simply not
// forming a new segment boundary).
func BuildTextGap(words []asr.Word, chunkGlobalStart float64, cfg Config) []Segment {
	if len(words) == 0 {
		return nil
	}

	var phrases [][]asr.Word
	current := []asr.Word{words[0]}
	for i := 1; i < len(words); i++ {
		gap := words[i].TStart - words[i-1].TEnd
		if gap > cfg.GapThresholdSec {
			phrases = append(phrases, current)
			current = []asr.Word{words[i]}
		} else {
			current = append(current, words[i])
		}
	}
	phrases = append(phrases, current)

	var merged [][]asr.Word
	for _, p := range phrases {
		dur := phraseDuration(p)
		if dur < cfg.MinPhraseDurationSec && len(merged) > 0 {
			merged[len(merged)-1] = append(merged[len(merged)-1], p...)
			continue
		}
		merged = append(merged, p)
	}

	segments := make([]Segment, 0, len(merged))
	for _, p := range merged {
		segments = append(segments, toGlobalSegment(p, chunkGlobalStart))
	}
	return segments
}

// BuildFromAcoustic post-processes the acoustic Segmenter's spans in the
// order: confidence floor, minimum-duration filter,
// symmetric boundary padding clamped to audio extent, then same-speaker
// merge across small gaps.
func BuildFromAcoustic(words []asr.Word, spans []AcousticSpan, chunkGlobalStart, audioDuration float64, cfg Config) []Segment {
	filtered := make([]AcousticSpan, 0, len(spans))
	for _, s := range spans {
		if s.Confidence < cfg.ConfidenceFloor {
			continue
		}
		if s.TEnd-s.TStart < cfg.MinSegmentDurationSec {
			continue
		}
		filtered = append(filtered, s)
	}

	for i := range filtered {
		filtered[i].TStart -= cfg.BoundaryPadSec
		filtered[i].TEnd += cfg.BoundaryPadSec
		if filtered[i].TStart < 0 {
			filtered[i].TStart = 0
		}
		if filtered[i].TEnd > audioDuration {
			filtered[i].TEnd = audioDuration
		}
	}

	var mergedSpans []AcousticSpan
	for _, s := range filtered {
		if n := len(mergedSpans); n > 0 {
			last := &mergedSpans[n-1]
			if last.SpeakerLocalID == s.SpeakerLocalID && s.TStart-last.TEnd < cfg.MergeGapThresholdSec {
				last.TEnd = s.TEnd
				if s.Confidence < last.Confidence {
					last.Confidence = s.Confidence
				}
				continue
			}
		}
		mergedSpans = append(mergedSpans, s)
	}

	segments := make([]Segment, 0, len(mergedSpans))
	for _, s := range mergedSpans {
		var spanWords []asr.Word
		for _, w := range words {
			if w.TStart >= s.TStart && w.TEnd <= s.TEnd {
				spanWords = append(spanWords, w)
			}
		}
		seg := toGlobalSegment(spanWords, chunkGlobalStart)
		seg.TStart = chunkGlobalStart + s.TStart
		seg.TEnd = chunkGlobalStart + s.TEnd
		seg.LocalSpeakerID = s.SpeakerLocalID
		segments = append(segments, seg)
	}
	return segments
}

func toGlobalSegment(words []asr.Word, chunkGlobalStart float64) Segment {
	out := make([]asr.Word, len(words))
	tStart, tEnd := 0.0, 0.0
	for i, w := range words {
		gw := w
		gw.TStart += chunkGlobalStart
		gw.TEnd += chunkGlobalStart
		out[i] = gw
		if i == 0 || gw.TStart < tStart {
			tStart = gw.TStart
		}
		if gw.TEnd > tEnd {
			tEnd = gw.TEnd
		}
	}
	return Segment{Words: out, TStart: tStart, TEnd: tEnd, Category: Classify(out)}
}

func phraseDuration(words []asr.Word) float64 {
	if len(words) == 0 {
		return 0
	}
	return words[len(words)-1].TEnd - words[0].TStart
}

// humanVoiceMarkers is the enumerated allowlist of non-speech vocalizations
// that still count as attributable speech.
var humanVoiceMarkers = map[string]bool{
	"[laughter]": true,
	"[laugh]":    true,
	"[cough]":    true,
	"[sigh]":     true,
	"[sniff]":    true,
	"[breath]":   true,
	"[gasp]":     true,
}

// environmentalMarkers are non-voice bracketed markers emitted without
// clustering.
var environmentalMarkers = map[string]bool{
	"[music]":       true,
	"[noise]":       true,
	"[applause]":    true,
	"[silence]":     true,
	"[background]":  true,
	"[ring]":        true,
	"[door]":        true,
}

const blankMarker = "[blank_audio]"

// Classify assigns a Category to a phrase's word text, following spec
// §4.3's rule-based sound classifier.
func Classify(words []asr.Word) Category {
	text := strings.ToLower(strings.TrimSpace(joinText(words)))
	if text == "" || text == blankMarker {
		return CategoryBlank
	}
	if environmentalMarkers[text] {
		return CategoryEnvironmental
	}
	if humanVoiceMarkers[text] {
		return CategoryHumanVoice
	}
	return CategorySpeech
}

func joinText(words []asr.Word) string {
	var b strings.Builder
	for i, w := range words {
		if i > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(w.Text)
	}
	return b.String()
}
