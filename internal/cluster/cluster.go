// Package cluster implements the Speaker Clusterer and Unknown Clusterer:
// online centroid-based assignment of speech segment
// embeddings to enrolled priors, discovered speakers, or an explicit
// Unknown sink.
package cluster

import (
	"sort"
	"strconv"

	"github.com/askid/voicecore/internal/embedding"
)

// Reason is the decision reason attached to every assignment, used for
// debug output and test scenarios.
type Reason string

const (
	ReasonNewSpeaker          Reason = "new_speaker"
	ReasonConfidentMatch      Reason = "confident_match"
	ReasonBelowMinThreshold   Reason = "below_minimum_threshold"
	ReasonAmbiguousMatch      Reason = "ambiguous_match"
	ReasonNoConfidentMatch    Reason = "no_confident_match"
)

// UnknownSpeakerIndex marks an assignment to the Unknown sink, modeled
// as "no speaker index" — callers should check Assigned.
const UnknownSpeakerIndex = -1

// Speaker is one runtime speaker tracked by the clusterer: an enrolled
// prior (frozen centroid) or a discovered speaker (running mean).
type Speaker struct {
	Name         string
	Centroid     embedding.Vector
	SampleCount  int
	Enrolled     bool
	EnrollmentID string
}

// SimilarityEntry is one row of the full similarity ranking carried in
// assignment debug output.
type SimilarityEntry struct {
	Index      int
	Name       string
	Similarity float64
	Enrolled   bool
}

// Assignment is the full result of one online assignment, including the
// debug information callers need.
type Assignment struct {
	Assigned         bool // false => Unknown
	SpeakerIndex     int
	Reason           Reason
	BestSimilarity   float64
	BestIndex        int
	RunnerUpSimilarity float64
	RunnerUpIndex    int
	Margin           float64
	AllSimilarities  []SimilarityEntry // sorted descending by similarity
}

// Config holds the Speaker Clusterer's tunables.
type Config struct {
	NumSpeakers                     int
	SimilarityThreshold             float64
	MinimumSimilarityThreshold      float64
	ConfidenceMargin                float64
	InterEnrollmentWarningThreshold float64
}

func DefaultConfig() Config {
	return Config{
		NumSpeakers:                     8,
		SimilarityThreshold:             0.75,
		MinimumSimilarityThreshold:      0.45,
		ConfidenceMargin:                0.15,
		InterEnrollmentWarningThreshold: 0.90,
	}
}

// Clusterer maintains an ordered Speaker list: enrolled priors first (in
// the order supplied to New), then discovered speakers in creation order.
type Clusterer struct {
	cfg      Config
	speakers []Speaker
}

// New creates a Clusterer seeded with enrolled priors. Enrolled centroids
// must already be L2-normalized.
func New(cfg Config, enrolled []Speaker) *Clusterer {
	speakers := make([]Speaker, len(enrolled))
	copy(speakers, enrolled)
	for i := range speakers {
		speakers[i].Enrolled = true
	}
	return &Clusterer{cfg: cfg, speakers: speakers}
}

// Speakers returns a copy of the current speaker list.
func (c *Clusterer) Speakers() []Speaker {
	out := make([]Speaker, len(c.speakers))
	copy(out, c.speakers)
	return out
}

// Assign runs the online assignment algorithm for one incoming
// embedding.
func (c *Clusterer) Assign(e embedding.Vector) Assignment {
	if len(c.speakers) == 0 {
		centroid := embedding.Normalize(e)
		c.speakers = append(c.speakers, Speaker{
			Name:        "Speaker 1",
			Centroid:    centroid,
			SampleCount: 1,
		})
		return Assignment{
			Assigned:       true,
			SpeakerIndex:   0,
			Reason:         ReasonNewSpeaker,
			BestSimilarity: 1,
			BestIndex:      0,
			RunnerUpIndex:  -1,
			AllSimilarities: []SimilarityEntry{
				{Index: 0, Name: c.speakers[0].Name, Similarity: 1, Enrolled: false},
			},
		}
	}

	ranking := c.rankSimilarities(e)
	best := ranking[0]
	runnerUp := SimilarityEntry{Index: -1}
	if len(ranking) > 1 {
		runnerUp = ranking[1]
	}
	margin := best.Similarity - runnerUp.Similarity
	if runnerUp.Index == -1 {
		margin = best.Similarity
	}

	base := Assignment{
		SpeakerIndex:       UnknownSpeakerIndex,
		BestSimilarity:     best.Similarity,
		BestIndex:          best.Index,
		RunnerUpSimilarity: runnerUp.Similarity,
		RunnerUpIndex:      runnerUp.Index,
		Margin:             margin,
		AllSimilarities:    ranking,
	}

	if best.Similarity < c.cfg.MinimumSimilarityThreshold {
		base.Reason = ReasonBelowMinThreshold
		return base
	}

	if best.Similarity >= c.cfg.SimilarityThreshold {
		if len(c.speakers) >= 2 && margin < c.cfg.ConfidenceMargin {
			base.Reason = ReasonAmbiguousMatch
			return base
		}
		c.assignTo(best.Index, e)
		base.Assigned = true
		base.SpeakerIndex = best.Index
		base.Reason = ReasonConfidentMatch
		return base
	}

	if c.discoveredCount() < c.cfg.NumSpeakers {
		idx := len(c.speakers)
		c.speakers = append(c.speakers, Speaker{
			Name:        discoveredName(idx),
			Centroid:    embedding.Normalize(e),
			SampleCount: 1,
		})
		base.Assigned = true
		base.SpeakerIndex = idx
		base.Reason = ReasonNewSpeaker
		base.BestSimilarity = 1
		return base
	}

	base.Reason = ReasonNoConfidentMatch
	return base
}

func (c *Clusterer) assignTo(idx int, e embedding.Vector) {
	sp := &c.speakers[idx]
	if sp.Enrolled {
		sp.SampleCount++
		return
	}
	norm := embedding.Normalize(e)
	n := sp.SampleCount
	weighted := make(embedding.Vector, len(sp.Centroid))
	for i := range weighted {
		weighted[i] = float32((float64(sp.Centroid[i])*float64(n) + float64(norm[i])) / float64(n+1))
	}
	sp.Centroid = embedding.Normalize(weighted)
	sp.SampleCount = n + 1
}

func (c *Clusterer) rankSimilarities(e embedding.Vector) []SimilarityEntry {
	out := make([]SimilarityEntry, len(c.speakers))
	for i, sp := range c.speakers {
		out[i] = SimilarityEntry{
			Index:      i,
			Name:       sp.Name,
			Similarity: embedding.CosineSimilarity(e, sp.Centroid),
			Enrolled:   sp.Enrolled,
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Similarity > out[j].Similarity })
	return out
}

func (c *Clusterer) discoveredCount() int {
	n := 0
	for _, sp := range c.speakers {
		if !sp.Enrolled {
			n++
		}
	}
	return n
}

func discoveredName(idx int) string {
	return "Speaker " + strconv.Itoa(idx+1)
}

// EnrollmentSimilarityWarning is one pair of enrolled centroids whose
// similarity exceeds the inter-enrollment warning threshold.
type EnrollmentSimilarityWarning struct {
	IndexA, IndexB int
	Similarity     float64
}

// CheckEnrollmentSimilarity computes pairwise similarities between
// enrolled centroids and returns pairs above threshold.
func CheckEnrollmentSimilarity(centroids []embedding.Vector, threshold float64) []EnrollmentSimilarityWarning {
	var warnings []EnrollmentSimilarityWarning
	for i := 0; i < len(centroids); i++ {
		for j := i + 1; j < len(centroids); j++ {
			sim := embedding.CosineSimilarity(centroids[i], centroids[j])
			if sim > threshold {
				warnings = append(warnings, EnrollmentSimilarityWarning{IndexA: i, IndexB: j, Similarity: sim})
			}
		}
	}
	return warnings
}
