// Package inference implements Conversation Inference: it
// accumulates per-speaker statistics across the clustering stream,
// builds and rebuilds a participant hypothesis bounded to
// expected_speakers entries, applies gated boosting that can promote a
// runner-up match into the winner, and drives retroactive
// re-attribution of earlier segments when the hypothesis changes.
package inference

import (
	"sort"

	"github.com/askid/voicecore/internal/cluster"
)

// BoostReason is the decision-reason badge attached to every boost
// evaluation.
type BoostReason string

const (
	ReasonAlreadyConfident        BoostReason = "already_confident"
	ReasonClearWinner             BoostReason = "clear_winner"
	ReasonLowSimilarity           BoostReason = "low_similarity"
	ReasonNoHypothesis            BoostReason = "no_hypothesis"
	ReasonUnknownParticipantBetter BoostReason = "unknown_participant_better"
	ReasonBoostedMatch            BoostReason = "boosted_match"
	ReasonParticipantAlreadyWinning BoostReason = "participant_already_winning"
	ReasonNoParticipantContender  BoostReason = "no_participant_contender"
)

// Config holds Conversation Inference's tunables.
type Config struct {
	ExpectedSpeakers         int
	ParticipantMinOccurrences int
	WarmupSegments           int
	RebuildEveryKSegments    int

	SkipBoostIfConfident     float64
	AmbiguityMarginThreshold float64
	MinSimilarityForBoosting float64
	MinSimilarityAfterBoost  float64
	BoostFactor              float64
	UnknownBoostFactor       float64
	BoostEligibilityRank     int
	EnrolledScoreBonus       float64
}

func DefaultConfig() Config {
	return Config{
		ExpectedSpeakers:          2,
		ParticipantMinOccurrences: 2,
		WarmupSegments:            5,
		RebuildEveryKSegments:     5,
		SkipBoostIfConfident:      0.90,
		AmbiguityMarginThreshold:  0.15,
		MinSimilarityForBoosting:  0.30,
		MinSimilarityAfterBoost:   0.45,
		BoostFactor:               1.10,
		UnknownBoostFactor:        1.05,
		BoostEligibilityRank:      2,
		EnrolledScoreBonus:        0.01,
	}
}

// speakerStats is the running per-speaker accumulator backing both
// assignment stats and competitive stats.
type speakerStats struct {
	count            int
	similarities      []float64
	competitiveCount int
}

func (s *speakerStats) avgSimilarity() float64 {
	if len(s.similarities) == 0 {
		return 0
	}
	var sum float64
	for _, v := range s.similarities {
		sum += v
	}
	return sum / float64(len(s.similarities))
}

// ParticipantHypothesis is one entry of the Hypothesis.
type ParticipantHypothesis struct {
	Name            string
	Confidence      float64
	SegmentCount    int
	AvgSimilarity   float64
	IsUnknown       bool
	ClosestEnrolled string
}

// Hypothesis is the ordered participant set, versioned so the host can
// detect when it should re-render.
type Hypothesis struct {
	Participants  []ParticipantHypothesis
	Version       int
	TotalSegments int
}

// HistoryEntry records one hypothesis transition.
type HistoryEntry struct {
	Version int
	Added   []string
	Removed []string
}

// OriginalAttribution is the immutable clustering-time decision for one
// segment, named by speaker.
type OriginalAttribution struct {
	SpeakerName  string
	IsUnknown    bool
	Similarity   float64
	Margin       float64
	AllSimilarities []cluster.SimilarityEntry
}

// Display is the boosted/display-ready attribution for one segment.
type Display struct {
	Label         string
	Alternate     string
	IsUnexpected  bool
	WasInfluenced bool
	Reason        BoostReason
	BoostedSimilarity float64
}

// SegmentAttribution is one entry of segment_attributions: the original
// clustering decision plus the current boosted/display view.
type SegmentAttribution struct {
	Original         OriginalAttribution
	Boosted          Display
	Display          Display
	HypothesisVersion int
	WasInfluenced    bool
}

// Engine owns all Conversation Inference state for one session/job.
type Engine struct {
	cfg Config

	assignmentStats  map[string]*speakerStats
	competitiveStats map[string]*speakerStats

	attributions []SegmentAttribution
	hypothesis   Hypothesis
	history      []HistoryEntry

	unknownEligible func() []cluster.UnknownIdentity
}

// New creates an inference Engine. unknownEligible is queried at
// hypothesis-build time for the Unknown Clusterer's eligible identities;
// it may be nil if no Unknown Clusterer is in play.
func New(cfg Config, unknownEligible func() []cluster.UnknownIdentity) *Engine {
	return &Engine{
		cfg:              cfg,
		assignmentStats:  map[string]*speakerStats{},
		competitiveStats: map[string]*speakerStats{},
		unknownEligible:  unknownEligible,
	}
}

// RecordAssignment feeds one clustering decision into assignment_stats
// and competitive_stats, then returns the committed SegmentAttribution
// (original + boosted via the current hypothesis) and the indices of the
// attributions whose display label a hypothesis rebuild/retroactive pass
// changed (empty when none did).
func (e *Engine) RecordAssignment(speakerName string, isUnknown bool, similarity, margin float64, allSims []cluster.SimilarityEntry) (SegmentAttribution, []int) {
	stats := e.statsFor(e.assignmentStats, speakerName)
	stats.count++
	stats.similarities = append(stats.similarities, similarity)

	for _, s := range allSims {
		if s.Name == speakerName {
			continue
		}
		cstats := e.statsFor(e.competitiveStats, s.Name)
		cstats.competitiveCount++
		cstats.similarities = append(cstats.similarities, s.Similarity)
	}

	original := OriginalAttribution{
		SpeakerName:     speakerName,
		IsUnknown:       isUnknown,
		Similarity:      similarity,
		Margin:          margin,
		AllSimilarities: allSims,
	}

	display := e.applyBoost(original)
	attribution := SegmentAttribution{
		Original:          original,
		Boosted:           display,
		Display:           display,
		HypothesisVersion: e.hypothesis.Version,
		WasInfluenced:      display.WasInfluenced,
	}
	e.attributions = append(e.attributions, attribution)
	idx := len(e.attributions) - 1

	var reattributed []int
	if e.shouldRebuild(idx) {
		changed := e.rebuildHypothesis()
		if changed {
			reattributed = e.reattributeAll()
		}
	}
	return e.attributions[idx], reattributed
}

func (e *Engine) statsFor(m map[string]*speakerStats, name string) *speakerStats {
	s, ok := m[name]
	if !ok {
		s = &speakerStats{}
		m[name] = s
	}
	return s
}

func (e *Engine) shouldRebuild(idx int) bool {
	if e.cfg.ExpectedSpeakers == 0 {
		return false
	}
	segCount := idx + 1
	if segCount < e.cfg.WarmupSegments {
		return false
	}
	if e.cfg.RebuildEveryKSegments <= 0 {
		return segCount == e.cfg.WarmupSegments
	}
	return segCount == e.cfg.WarmupSegments || (segCount-e.cfg.WarmupSegments)%e.cfg.RebuildEveryKSegments == 0
}

// rebuildHypothesis rebuilds the ordered participant hypothesis. Returns
// true iff the participant name set changed from the previous version.
func (e *Engine) rebuildHypothesis() bool {
	if e.cfg.ExpectedSpeakers == 0 {
		return false
	}

	type candidate struct {
		ParticipantHypothesis
		score    float64
		enrolled bool
	}
	var candidates []candidate

	for name, stats := range e.assignmentStats {
		if stats.count < e.cfg.ParticipantMinOccurrences {
			continue
		}
		avg := stats.avgSimilarity()
		enrolled := e.isEnrolled(name)
		score := float64(stats.count) * avg
		if enrolled {
			score += e.cfg.EnrolledScoreBonus
		}
		candidates = append(candidates, candidate{
			ParticipantHypothesis: ParticipantHypothesis{
				Name: name, Confidence: avg, SegmentCount: stats.count, AvgSimilarity: avg,
			},
			score:    score,
			enrolled: enrolled,
		})
	}

	if e.unknownEligible != nil {
		for _, id := range e.unknownEligible() {
			mean := 0.0
			if id.SampleCount > 0 {
				mean = id.ConfidenceSum / float64(id.SampleCount)
			}
			score := float64(id.SampleCount) * mean
			candidates = append(candidates, candidate{
				ParticipantHypothesis: ParticipantHypothesis{
					Name: id.Label, Confidence: mean, SegmentCount: id.SampleCount,
					AvgSimilarity: mean, IsUnknown: true, ClosestEnrolled: id.ClosestEnrolledName,
				},
				score: score,
			})
		}
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].score != candidates[j].score {
			return candidates[i].score > candidates[j].score
		}
		return candidates[i].enrolled && !candidates[j].enrolled
	})

	n := e.cfg.ExpectedSpeakers
	if n > len(candidates) {
		n = len(candidates)
	}

	prevNames := map[string]bool{}
	for _, p := range e.hypothesis.Participants {
		prevNames[p.Name] = true
	}

	newParticipants := make([]ParticipantHypothesis, n)
	newNames := map[string]bool{}
	for i := 0; i < n; i++ {
		newParticipants[i] = candidates[i].ParticipantHypothesis
		newNames[candidates[i].Name] = true
	}

	changed := !sameNameSet(prevNames, newNames)
	total := len(e.attributions)

	if changed {
		var added, removed []string
		for name := range newNames {
			if !prevNames[name] {
				added = append(added, name)
			}
		}
		for name := range prevNames {
			if !newNames[name] {
				removed = append(removed, name)
			}
		}
		e.hypothesis = Hypothesis{Participants: newParticipants, Version: e.hypothesis.Version + 1, TotalSegments: total}
		e.history = append(e.history, HistoryEntry{Version: e.hypothesis.Version, Added: added, Removed: removed})
	} else {
		e.hypothesis.Participants = newParticipants
		e.hypothesis.TotalSegments = total
	}
	return changed
}

func sameNameSet(a, b map[string]bool) bool {
	if len(a) != len(b) {
		return false
	}
	for k := range a {
		if !b[k] {
			return false
		}
	}
	return true
}

func (e *Engine) isEnrolled(name string) bool {
	for _, p := range e.hypothesis.Participants {
		if p.Name == name {
			return !p.IsUnknown
		}
	}
	return false
}

func (e *Engine) isParticipant(name string) bool {
	for _, p := range e.hypothesis.Participants {
		if p.Name == name {
			return true
		}
	}
	return false
}

// applyBoost applies boost gating to one original attribution.
func (e *Engine) applyBoost(orig OriginalAttribution) Display {
	if len(e.hypothesis.Participants) == 0 {
		return e.skip(orig, ReasonNoHypothesis)
	}
	if orig.Similarity >= e.cfg.SkipBoostIfConfident {
		return e.skip(orig, ReasonAlreadyConfident)
	}
	if orig.Margin >= e.cfg.AmbiguityMarginThreshold {
		return e.skip(orig, ReasonClearWinner)
	}
	if orig.Similarity < e.cfg.MinSimilarityForBoosting {
		return e.skip(orig, ReasonLowSimilarity)
	}
	if orig.IsUnknown && e.isParticipant(orig.SpeakerName) {
		return e.skip(orig, ReasonUnknownParticipantBetter)
	}

	rank := e.cfg.BoostEligibilityRank
	if rank > len(orig.AllSimilarities) {
		rank = len(orig.AllSimilarities)
	}
	top := orig.AllSimilarities[:rank]

	type scored struct {
		cluster.SimilarityEntry
		boosted     float64
		isParticipant bool
	}
	scoredTop := make([]scored, len(top))
	for i, s := range top {
		isP := e.isParticipant(s.Name)
		factor := 1.0
		if isP {
			factor = e.cfg.BoostFactor
			if e.isUnknownParticipant(s.Name) {
				factor = e.cfg.UnknownBoostFactor
			}
		}
		scoredTop[i] = scored{SimilarityEntry: s, boosted: s.Similarity * factor, isParticipant: isP}
	}

	winnerIsParticipant := len(scoredTop) > 0 && scoredTop[0].isParticipant
	runnerUpIsParticipant := len(scoredTop) > 1 && scoredTop[1].isParticipant

	if winnerIsParticipant && !runnerUpIsParticipant {
		return e.skip(orig, ReasonParticipantAlreadyWinning)
	}
	if !winnerIsParticipant && !runnerUpIsParticipant {
		return e.skip(orig, ReasonNoParticipantContender)
	}

	sort.SliceStable(scoredTop, func(i, j int) bool { return scoredTop[i].boosted > scoredTop[j].boosted })
	winner := scoredTop[0]

	if winner.boosted < e.cfg.MinSimilarityAfterBoost {
		return Display{Label: "Unknown", Reason: ReasonBoostedMatch, WasInfluenced: orig.SpeakerName != "Unknown", BoostedSimilarity: winner.boosted}
	}

	influenced := winner.Name != orig.SpeakerName
	return Display{
		Label:             winner.Name,
		IsUnexpected:      !e.isParticipant(orig.SpeakerName) && orig.Similarity > e.cfg.MinSimilarityForBoosting,
		WasInfluenced:      influenced,
		Reason:            ReasonBoostedMatch,
		BoostedSimilarity: winner.boosted,
	}
}

func (e *Engine) isUnknownParticipant(name string) bool {
	for _, p := range e.hypothesis.Participants {
		if p.Name == name {
			return p.IsUnknown
		}
	}
	return false
}

func (e *Engine) skip(orig OriginalAttribution, reason BoostReason) Display {
	label := orig.SpeakerName
	if orig.IsUnknown {
		label = "Unknown"
	}
	return Display{Label: label, Reason: reason, BoostedSimilarity: orig.Similarity}
}

// reattributeAll replays applyBoost over every stored original
// attribution with the current hypothesis. It never mutates Original;
// returns the indices
// whose display label changed.
func (e *Engine) reattributeAll() []int {
	var changed []int
	for i := range e.attributions {
		prevLabel := e.attributions[i].Display.Label
		newDisplay := e.applyBoost(e.attributions[i].Original)
		e.attributions[i].Boosted = newDisplay
		e.attributions[i].Display = newDisplay
		e.attributions[i].HypothesisVersion = e.hypothesis.Version
		e.attributions[i].WasInfluenced = newDisplay.WasInfluenced
		if newDisplay.Label != prevLabel {
			changed = append(changed, i)
		}
	}
	return changed
}

// Hypothesis returns the current hypothesis.
func (e *Engine) Hypothesis() Hypothesis { return e.hypothesis }

// History returns the hypothesis transition history.
func (e *Engine) History() []HistoryEntry { return e.history }

// Attribution returns the current attribution for segment index idx.
func (e *Engine) Attribution(idx int) (SegmentAttribution, bool) {
	if idx < 0 || idx >= len(e.attributions) {
		return SegmentAttribution{}, false
	}
	return e.attributions[idx], true
}
