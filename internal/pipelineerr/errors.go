// Package pipelineerr declares the typed error kinds the pipeline can
// surface, one sentinel per contract in the error-handling design, wrapped
// with context via fmt.Errorf("%w", ...) at the call site so callers can
// still errors.Is/errors.As against the sentinel.
package pipelineerr

import "errors"

var (
	// ErrAudioSourceUnavailable: device open/permission failed. Fatal to
	// the session; recoverable only by caller retry.
	ErrAudioSourceUnavailable = errors.New("audio source unavailable")

	// ErrVadInitFailure: the VAD capability failed to load. Fatal to the
	// session.
	ErrVadInitFailure = errors.New("vad initialization failed")

	// ErrChunkTooShort: VAD emitted less than min_speech_duration of
	// content (a misfire); the chunk is silently discarded.
	ErrChunkTooShort = errors.New("chunk shorter than minimum speech duration")

	// ErrAsrFailure: the ASR call for a chunk failed.
	ErrAsrFailure = errors.New("asr transcription failed")

	// ErrEmbeddingFailure: embedding extraction for a segment failed.
	ErrEmbeddingFailure = errors.New("embedding extraction failed")

	// ErrSegmenterFailure: the configured segmenter failed; callers fall
	// back to the text-gap segmenter for that chunk.
	ErrSegmenterFailure = errors.New("segmenter failed")

	// ErrJobProcessingFailure: job processing failed; the job reverts to
	// unprocessed.
	ErrJobProcessingFailure = errors.New("job processing failed")

	// ErrEnrollmentModelMismatch: an enrollment lacks a centroid for the
	// job's embedding model; the enrollment is skipped with a warning.
	ErrEnrollmentModelMismatch = errors.New("enrollment has no centroid for model")
)
