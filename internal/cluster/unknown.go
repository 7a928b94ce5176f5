package cluster

import (
	"strconv"

	"github.com/askid/voicecore/internal/embedding"
)

// UnknownIdentity is one anonymous identity discovered by the Unknown
// Clusterer, with its closest enrolled speaker tracked for display.
type UnknownIdentity struct {
	Label               string // "Unknown 1", "Unknown 2", ...
	Centroid            embedding.Vector
	SampleCount         int
	ConfidenceSum       float64
	ClosestEnrolledName string
	ClosestEnrolledSim  float64
}

// UnknownConfig holds the Unknown Clusterer's tunables;
// typically looser than the Speaker Clusterer's.
type UnknownConfig struct {
	SimilarityThreshold float64
	ConfidenceMargin    float64
	MaxIdentities        int
	MinSegmentsToDisplay int
	MinMeanConfidence    float64
}

func DefaultUnknownConfig() UnknownConfig {
	return UnknownConfig{
		SimilarityThreshold:  0.65,
		ConfidenceMargin:     0.08,
		MaxIdentities:        16,
		MinSegmentsToDisplay: 2,
		MinMeanConfidence:    0.5,
	}
}

// UnknownClusterer sub-clusters embeddings the Speaker Clusterer sent to
// Unknown into distinct anonymous identities.
type UnknownClusterer struct {
	cfg        UnknownConfig
	identities []UnknownIdentity
	enrolled   []Speaker // read-only, for closest-enrolled display
}

func NewUnknown(cfg UnknownConfig, enrolled []Speaker) *UnknownClusterer {
	return &UnknownClusterer{cfg: cfg, enrolled: enrolled}
}

// Assign clusters embedding e with confidence conf (the similarity the
// Speaker Clusterer reported for its best-but-rejected match) into an
// existing or new unknown identity, using the same centroid-with-
// threshold mechanism as the Speaker Clusterer but with its own
// thresholds, and with no explicit Unknown-of-Unknown sink: once
// MaxIdentities is reached, the closest existing identity absorbs it
// regardless of threshold.
func (u *UnknownClusterer) Assign(e embedding.Vector, conf float64) int {
	if len(u.identities) == 0 {
		u.identities = append(u.identities, u.newIdentity(e, conf))
		return 0
	}

	bestIdx, bestSim := -1, -1.0
	runnerUpSim := -1.0
	for i, id := range u.identities {
		sim := embedding.CosineSimilarity(e, id.Centroid)
		if sim > bestSim {
			runnerUpSim = bestSim
			bestSim = sim
			bestIdx = i
		} else if sim > runnerUpSim {
			runnerUpSim = sim
		}
	}

	margin := bestSim - runnerUpSim
	if runnerUpSim < 0 {
		margin = bestSim
	}

	if bestSim >= u.cfg.SimilarityThreshold && (len(u.identities) < 2 || margin >= u.cfg.ConfidenceMargin) {
		u.update(bestIdx, e, conf)
		return bestIdx
	}

	if len(u.identities) < u.cfg.MaxIdentities {
		u.identities = append(u.identities, u.newIdentity(e, conf))
		return len(u.identities) - 1
	}

	u.update(bestIdx, e, conf)
	return bestIdx
}

func (u *UnknownClusterer) newIdentity(e embedding.Vector, conf float64) UnknownIdentity {
	centroid := embedding.Normalize(e)
	name, sim := u.closestEnrolled(centroid)
	return UnknownIdentity{
		Label:               unknownLabel(len(u.identities) + 1),
		Centroid:            centroid,
		SampleCount:         1,
		ConfidenceSum:       conf,
		ClosestEnrolledName: name,
		ClosestEnrolledSim:  sim,
	}
}

func (u *UnknownClusterer) update(idx int, e embedding.Vector, conf float64) {
	id := &u.identities[idx]
	norm := embedding.Normalize(e)
	n := id.SampleCount
	weighted := make(embedding.Vector, len(id.Centroid))
	for i := range weighted {
		weighted[i] = float32((float64(id.Centroid[i])*float64(n) + float64(norm[i])) / float64(n+1))
	}
	id.Centroid = embedding.Normalize(weighted)
	id.SampleCount = n + 1
	id.ConfidenceSum += conf
	id.ClosestEnrolledName, id.ClosestEnrolledSim = u.closestEnrolled(id.Centroid)
}

func (u *UnknownClusterer) closestEnrolled(centroid embedding.Vector) (string, float64) {
	bestName := ""
	bestSim := -1.0
	for _, sp := range u.enrolled {
		if !sp.Enrolled {
			continue
		}
		sim := embedding.CosineSimilarity(centroid, sp.Centroid)
		if sim > bestSim {
			bestSim = sim
			bestName = sp.Name
		}
	}
	return bestName, bestSim
}

// EligibleIdentities returns identities that have accumulated enough
// segments and mean confidence to enter the Hypothesis as unknown
// participants.
func (u *UnknownClusterer) EligibleIdentities() []UnknownIdentity {
	var out []UnknownIdentity
	for _, id := range u.identities {
		if id.SampleCount < u.cfg.MinSegmentsToDisplay {
			continue
		}
		if id.SampleCount == 0 {
			continue
		}
		meanConf := id.ConfidenceSum / float64(id.SampleCount)
		if meanConf < u.cfg.MinMeanConfidence {
			continue
		}
		out = append(out, id)
	}
	return out
}

func unknownLabel(n int) string {
	return "Unknown " + strconv.Itoa(n)
}
