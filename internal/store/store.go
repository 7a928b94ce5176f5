// Package store implements the Recording Store: GORM-backed persistence
// of a Recording's raw chunks and its Jobs, using a sqlite-backed
// datastore (gorm.io/driver/sqlite, AutoMigrate schema management).
package store

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/askid/voicecore/internal/logging"
)

// RecordingRow is the persisted Recording: owns raw chunk rows and Jobs.
type RecordingRow struct {
	ID        string `gorm:"primaryKey;size:36"`
	CreatedAt time.Time
	UpdatedAt time.Time

	Chunks []ChunkRow `gorm:"foreignKey:RecordingID;constraint:OnDelete:CASCADE"`
	Jobs   []JobRow   `gorm:"foreignKey:RecordingID;constraint:OnDelete:CASCADE"`
}

// ChunkRow persists one VAD Chunk's audio and metadata so Job replay can
// re-run ASR/embedding over it later.
type ChunkRow struct {
	ID              uint    `gorm:"primaryKey"`
	RecordingID     string  `gorm:"index;size:36"`
	Index           int     `gorm:"index"`
	GlobalStartSec  float64 // session-global time of Samples[0], for segment audio slicing on replay
	SamplesJSON     []byte  // raw PCM samples, little-endian float32 (see pcm.Encode)
	OverlapDuration time.Duration
	RawDuration     time.Duration
	WasForced       bool
	IsFinal         bool
	WallTime        time.Time
}

// JobStatus is the Job status enum.
type JobStatus string

const (
	JobStatusLive       JobStatus = "live"
	JobStatusUnprocessed JobStatus = "unprocessed"
	JobStatusProcessing JobStatus = "processing"
	JobStatusProcessed  JobStatus = "processed"
)

// JobRow persists one Job: its immutable settings snapshot plus output.
type JobRow struct {
	ID             string    `gorm:"primaryKey;size:36"`
	RecordingID    string    `gorm:"index;size:36"`
	Status         JobStatus `gorm:"size:20;index"`
	SettingsJSON   []byte
	SegmentsJSON   []byte
	ParticipantsJSON []byte
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Store wraps a *gorm.DB with the Recording/Job operations: save, get,
// get_with_chunks, update_job, delete_job, enforce_max_recordings.
type Store struct {
	db  *gorm.DB
	log zerolog.Logger
}

// Open opens (creating if absent) the sqlite database at path and runs
// AutoMigrate for the Recording/Chunk/Job schema.
func Open(path string) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite store: %w", err)
	}
	if err := db.AutoMigrate(&RecordingRow{}, &ChunkRow{}, &JobRow{}); err != nil {
		return nil, fmt.Errorf("migrate store schema: %w", err)
	}
	return &Store{db: db, log: logging.Component("store")}, nil
}

// Save creates a new Recording with an initial live Job.
func (s *Store) Save(settings any) (RecordingRow, error) {
	settingsJSON, err := json.Marshal(settings)
	if err != nil {
		return RecordingRow{}, fmt.Errorf("marshal job settings: %w", err)
	}
	rec := RecordingRow{
		ID: uuid.New().String(),
		Jobs: []JobRow{{
			ID:           uuid.New().String(),
			Status:       JobStatusLive,
			SettingsJSON: settingsJSON,
		}},
	}
	if err := s.db.Create(&rec).Error; err != nil {
		return RecordingRow{}, fmt.Errorf("save recording: %w", err)
	}
	return rec, nil
}

// Get fetches a Recording by id without its chunks.
func (s *Store) Get(id string) (RecordingRow, error) {
	var rec RecordingRow
	if err := s.db.Preload("Jobs").First(&rec, "id = ?", id).Error; err != nil {
		return RecordingRow{}, fmt.Errorf("get recording: %w", err)
	}
	return rec, nil
}

// GetWithChunks fetches a Recording by id including its chunks, for job
// replay.
func (s *Store) GetWithChunks(id string) (RecordingRow, error) {
	var rec RecordingRow
	if err := s.db.Preload("Jobs").Preload("Chunks").First(&rec, "id = ?", id).Error; err != nil {
		return RecordingRow{}, fmt.Errorf("get recording with chunks: %w", err)
	}
	return rec, nil
}

// AppendChunk persists one chunk row under an existing recording, as
// the live session produces it.
func (s *Store) AppendChunk(recordingID string, row ChunkRow) error {
	row.RecordingID = recordingID
	if err := s.db.Create(&row).Error; err != nil {
		return fmt.Errorf("append chunk: %w", err)
	}
	return nil
}

// CreateJob clones settings into a new unprocessed Job on an existing
// Recording: users create new unprocessed jobs with modified settings.
func (s *Store) CreateJob(recordingID string, settings any) (JobRow, error) {
	settingsJSON, err := json.Marshal(settings)
	if err != nil {
		return JobRow{}, fmt.Errorf("marshal job settings: %w", err)
	}
	job := JobRow{
		ID:           uuid.New().String(),
		RecordingID:  recordingID,
		Status:       JobStatusUnprocessed,
		SettingsJSON: settingsJSON,
	}
	if err := s.db.Create(&job).Error; err != nil {
		return JobRow{}, fmt.Errorf("create job: %w", err)
	}
	return job, nil
}

// BeginProcessing transitions a job from unprocessed to processing,
// inside a transaction that also enforces at most one job processing
// per recording at a time. Returns an error, without changing any row,
// if another job on the same recording is already processing or if
// this job is not currently unprocessed.
func (s *Store) BeginProcessing(jobID, recordingID string) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		var inFlight int64
		if err := tx.Model(&JobRow{}).
			Where("recording_id = ? AND status = ?", recordingID, JobStatusProcessing).
			Count(&inFlight).Error; err != nil {
			return fmt.Errorf("check in-flight jobs: %w", err)
		}
		if inFlight > 0 {
			return fmt.Errorf("recording %s already has a job processing", recordingID)
		}
		res := tx.Model(&JobRow{}).
			Where("id = ? AND status = ?", jobID, JobStatusUnprocessed).
			Update("status", JobStatusProcessing)
		if res.Error != nil {
			return fmt.Errorf("mark job processing: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("job %s is not unprocessed", jobID)
		}
		return nil
	})
}

// CompleteProcessing marks a job processed and persists its output;
// once processed, a job's segments and settings must never be mutated
// again.
func (s *Store) CompleteProcessing(jobID string, segmentsJSON, participantsJSON []byte) error {
	return s.UpdateJob(JobRow{
		ID:               jobID,
		Status:           JobStatusProcessed,
		SegmentsJSON:     segmentsJSON,
		ParticipantsJSON: participantsJSON,
	})
}

// RevertProcessing reverts a job to unprocessed after a failed run, so
// it can be retried.
func (s *Store) RevertProcessing(jobID string) error {
	if err := s.db.Model(&JobRow{}).Where("id = ?", jobID).Update("status", JobStatusUnprocessed).Error; err != nil {
		return fmt.Errorf("revert job status: %w", err)
	}
	return nil
}

// UpdateJob persists a job's status/output; a processed job's segments
// and settings must never be mutated afterward.
func (s *Store) UpdateJob(job JobRow) error {
	if err := s.db.Model(&JobRow{}).Where("id = ?", job.ID).Updates(map[string]any{
		"status":            job.Status,
		"segments_json":     job.SegmentsJSON,
		"participants_json": job.ParticipantsJSON,
	}).Error; err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	return nil
}

// DeleteJob removes a Job row (but never the live job; callers enforce
// that policy before calling).
func (s *Store) DeleteJob(id string) error {
	if err := s.db.Delete(&JobRow{}, "id = ?", id).Error; err != nil {
		return fmt.Errorf("delete job: %w", err)
	}
	return nil
}

// EnforceMaxRecordings trims the oldest recordings beyond maxCount,
// cascading to their chunks/jobs via the foreign-key constraints.
func (s *Store) EnforceMaxRecordings(maxCount int) error {
	var count int64
	if err := s.db.Model(&RecordingRow{}).Count(&count).Error; err != nil {
		return fmt.Errorf("count recordings: %w", err)
	}
	if count <= int64(maxCount) {
		return nil
	}
	excess := int(count) - maxCount

	var oldest []RecordingRow
	if err := s.db.Order("created_at asc").Limit(excess).Find(&oldest).Error; err != nil {
		return fmt.Errorf("find oldest recordings: %w", err)
	}
	for _, rec := range oldest {
		if err := s.db.Delete(&RecordingRow{}, "id = ?", rec.ID).Error; err != nil {
			return fmt.Errorf("delete recording %s: %w", rec.ID, err)
		}
		s.log.Info().Str("recording_id", rec.ID).Msg("enforced max recordings, deleted oldest")
	}
	return nil
}

// Close releases the underlying database connection.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
