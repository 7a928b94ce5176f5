// Package enroll maintains the Enrollment Store: named speaker priors
// with per-embedding-model centroid maps, persisted as JSON in the parent
// directory of the data directory. Centroids are scoped per embedding model, not a
// single global embedding space, so a job can select the centroid
// matching its own embedding model.
package enroll

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/askid/voicecore/internal/embedding"
	"github.com/askid/voicecore/internal/logging"
)

// Enrollment is a named prior with one or more frozen, per-model
// centroids.
type Enrollment struct {
	ID         string                       `json:"id"`
	Name       string                       `json:"name"`
	Centroids  map[string]embedding.Vector  `json:"centroids"` // modelID -> L2-unit centroid
	ColorIndex int                          `json:"colorIndex"`
	CreatedAt  time.Time                    `json:"createdAt"`
	UpdatedAt  time.Time                    `json:"updatedAt"`
	SampleCount map[string]int              `json:"sampleCount"`
	Notes      string                       `json:"notes,omitempty"`
}

// CentroidFor returns the enrollment's centroid for modelID and whether
// one is present. Absence is not an error — it is a per-model gap the
// caller must handle by skipping.
func (e Enrollment) CentroidFor(modelID string) (embedding.Vector, bool) {
	v, ok := e.Centroids[modelID]
	return v, ok
}

type fileFormat struct {
	Version     int          `json:"version"`
	Enrollments []Enrollment `json:"enrollments"`
}

const currentVersion = 1

// Store is the JSON-backed enrollment store: atomic writes, with
// enrollments.json kept in the parent directory of the data directory
// passed to NewStore.
type Store struct {
	path string
	mu   sync.RWMutex
	data fileFormat
	log  zerolog.Logger
}

func NewStore(dataDir string) (*Store, error) {
	path := filepath.Join(dataDir, "..", "enrollments.json")
	s := &Store{
		path: path,
		data: fileFormat{Version: currentVersion},
		log:  logging.Component("enroll"),
	}
	if err := s.load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("load enrollments: %w", err)
	}
	s.log.Info().Str("path", path).Int("count", len(s.data.Enrollments)).Msg("enrollment store initialized")
	return s, nil
}

func (s *Store) load() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	raw, err := os.ReadFile(s.path)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, &s.data)
}

func (s *Store) saveLocked() error {
	raw, err := json.MarshalIndent(s.data, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal enrollments: %w", err)
	}
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create enrollment dir: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return fmt.Errorf("write temp enrollment file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename temp enrollment file: %w", err)
	}
	return nil
}

// All returns a copy of every enrollment.
func (s *Store) All() []Enrollment {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Enrollment, len(s.data.Enrollments))
	copy(out, s.data.Enrollments)
	return out
}

// Get returns one enrollment by id.
func (s *Store) Get(id string) (Enrollment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, e := range s.data.Enrollments {
		if e.ID == id {
			return e, nil
		}
	}
	return Enrollment{}, fmt.Errorf("enrollment not found: %s", id)
}

// Add creates a new enrollment from a set of raw (non-averaged) samples
// for one model, applying outlier-rejected averaging: compute the
// initial mean, discard samples whose cosine distance to it exceeds
// outlierMultiple times the samples' mean distance to that same initial
// mean, then recompute the mean from survivors. Pairwise distances between
// samples are not computed.
func (s *Store) Add(name, modelID string, samples []embedding.Vector, outlierMultiple float64) (Enrollment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	centroid := AverageWithOutlierRejection(samples, outlierMultiple)
	now := time.Now()
	next := Enrollment{
		ID:          uuid.New().String(),
		Name:        name,
		Centroids:   map[string]embedding.Vector{modelID: centroid},
		ColorIndex:  len(s.data.Enrollments) % numColors,
		CreatedAt:   now,
		UpdatedAt:   now,
		SampleCount: map[string]int{modelID: len(samples)},
	}
	s.data.Enrollments = append(s.data.Enrollments, next)
	if err := s.saveLocked(); err != nil {
		s.data.Enrollments = s.data.Enrollments[:len(s.data.Enrollments)-1]
		return Enrollment{}, err
	}
	s.log.Info().Str("name", name).Str("id", next.ID).Msg("enrollment added")
	return next, nil
}

// AddModelCentroid adds (or replaces) the centroid for modelID on an
// existing enrollment, e.g. when a new embedding model is introduced.
func (s *Store) AddModelCentroid(id, modelID string, samples []embedding.Vector, outlierMultiple float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.data.Enrollments {
		if s.data.Enrollments[i].ID != id {
			continue
		}
		e := &s.data.Enrollments[i]
		if e.Centroids == nil {
			e.Centroids = map[string]embedding.Vector{}
		}
		if e.SampleCount == nil {
			e.SampleCount = map[string]int{}
		}
		e.Centroids[modelID] = AverageWithOutlierRejection(samples, outlierMultiple)
		e.SampleCount[modelID] = len(samples)
		e.UpdatedAt = time.Now()
		return s.saveLocked()
	}
	return fmt.Errorf("enrollment not found: %s", id)
}

// Rename updates an enrollment's display name.
func (s *Store) Rename(id, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.data.Enrollments {
		if s.data.Enrollments[i].ID == id {
			s.data.Enrollments[i].Name = name
			s.data.Enrollments[i].UpdatedAt = time.Now()
			return s.saveLocked()
		}
	}
	return fmt.Errorf("enrollment not found: %s", id)
}

// Delete removes an enrollment.
func (s *Store) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.data.Enrollments {
		if s.data.Enrollments[i].ID == id {
			s.data.Enrollments = append(s.data.Enrollments[:i], s.data.Enrollments[i+1:]...)
			return s.saveLocked()
		}
	}
	return fmt.Errorf("enrollment not found: %s", id)
}

const numColors = 12

// AverageWithOutlierRejection computes an enrollment centroid: mean,
// then discard cosine-distant outliers, then recompute.
func AverageWithOutlierRejection(samples []embedding.Vector, outlierMultiple float64) embedding.Vector {
	if len(samples) == 0 {
		return nil
	}
	normalized := make([]embedding.Vector, len(samples))
	for i, s := range samples {
		normalized[i] = embedding.Normalize(s)
	}
	if len(normalized) <= 2 {
		return embedding.Normalize(embedding.Mean(normalized))
	}

	initialMean := embedding.Normalize(embedding.Mean(normalized))
	distances := make([]float64, len(normalized))
	var sum float64
	for i, v := range normalized {
		d := 1 - embedding.CosineSimilarity(v, initialMean)
		distances[i] = d
		sum += d
	}
	meanDist := sum / float64(len(normalized))
	cutoff := meanDist * outlierMultiple

	var survivors []embedding.Vector
	for i, v := range normalized {
		if distances[i] <= cutoff {
			survivors = append(survivors, v)
		}
	}
	if len(survivors) == 0 {
		survivors = normalized
	}
	return embedding.Normalize(embedding.Mean(survivors))
}

// ModelCentroids extracts the centroid for modelID from each enrollment
// that has one, skipping (with the caller-supplied warning sink) those
// that lack it.
func ModelCentroids(enrollments []Enrollment, modelID string, onMissing func(e Enrollment)) []embedding.Vector {
	out := make([]embedding.Vector, 0, len(enrollments))
	for _, e := range enrollments {
		c, ok := e.CentroidFor(modelID)
		if !ok {
			if onMissing != nil {
				onMissing(e)
			}
			continue
		}
		out = append(out, c)
	}
	return out
}

// SortedByName returns enrollments ordered by display name. The callers
// that seed the Speaker Clusterer use Store.All's order, not this one.
func SortedByName(enrollments []Enrollment) []Enrollment {
	out := make([]Enrollment, len(enrollments))
	copy(out, enrollments)
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
