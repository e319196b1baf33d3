// Package metadata serializes and deserializes the JSON documents that
// accompany a recording through the pipeline: processing_metadata.json
// and transcription_metadata.json. No separate combined manifest is
// written or read by this package. Readers only
// decode the fields they know about, so a future writer can add fields
// without breaking older readers.
package metadata

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/alikebrahim/neuravox/internal/errors"
)

// AudioInfo describes the decoded source audio.
type AudioInfo struct {
	DurationS  float64 `json:"duration_s"`
	SampleRate int     `json:"sample_rate"`
	Channels   int     `json:"channels"`
}

// ProcessingParams records the configuration in effect when a recording
// was segmented and encoded, so later inspection can explain the output.
type ProcessingParams struct {
	SilenceThreshold   float64 `json:"silence_threshold"`
	MinSilenceDuration float64 `json:"min_silence_duration"`
	SampleRate         int     `json:"sample_rate"`
	OutputFormat       string  `json:"output_format"`
}

// ChunkInfo is one entry in ProcessingMetadata.Chunks.
type ChunkInfo struct {
	ChunkIndex  int     `json:"chunk_index"`
	TotalChunks int     `json:"total_chunks"`
	StartS      float64 `json:"start_s"`
	EndS        float64 `json:"end_s"`
	DurationS   float64 `json:"duration_s"`
	FilePath    string  `json:"file_path"`
	SourceFile  string  `json:"source_file"`
}

// ProcessingMetadata is written to processed/<file_id>/processing_metadata.json.
type ProcessingMetadata struct {
	FileID           string           `json:"file_id"`
	OriginalFile     string           `json:"original_file"`
	ProcessedAt      time.Time        `json:"processed_at"`
	ProcessingTimeS  float64          `json:"processing_time_s"`
	AudioInfo        AudioInfo        `json:"audio_info"`
	ProcessingParams ProcessingParams `json:"processing_params"`
	Chunks           []ChunkInfo      `json:"chunks"`
}

// ChunkTranscriptionStatus is the outcome of transcribing one chunk.
type ChunkTranscriptionStatus string

const (
	ChunkStatusOK     ChunkTranscriptionStatus = "ok"
	ChunkStatusFailed ChunkTranscriptionStatus = "failed"
)

// ChunkTranscriptionInfo is one entry in TranscriptionMetadata.Chunks.
type ChunkTranscriptionInfo struct {
	ChunkIndex int                      `json:"chunk_index"`
	Status     ChunkTranscriptionStatus `json:"status"`
	ElapsedS   float64                  `json:"elapsed_s"`
	Error      string                   `json:"error,omitempty"`
}

// TranscriptionMetadata is written to transcribed/<file_id>/transcription_metadata.json.
type TranscriptionMetadata struct {
	FileID          string                   `json:"file_id"`
	BackendID       string                   `json:"backend_id"`
	BackendModelID  string                   `json:"backend_model_id"`
	StartedAt       time.Time                `json:"started_at"`
	CompletedAt     time.Time                `json:"completed_at"`
	Chunks          []ChunkTranscriptionInfo `json:"chunks"`
	TotalWords      int                      `json:"total_words"`
	Failures        int                      `json:"failures"`
}

// WriteProcessing serializes ProcessingMetadata to processing_metadata.json
// under dir, indented for human inspection.
func WriteProcessing(dir string, m *ProcessingMetadata) error {
	return writeJSON(filepath.Join(dir, "processing_metadata.json"), m)
}

// ReadProcessing deserializes processing_metadata.json from dir.
func ReadProcessing(dir string) (*ProcessingMetadata, error) {
	var m ProcessingMetadata
	if err := readJSON(filepath.Join(dir, "processing_metadata.json"), &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// WriteTranscription serializes TranscriptionMetadata to
// transcription_metadata.json under dir.
func WriteTranscription(dir string, m *TranscriptionMetadata) error {
	return writeJSON(filepath.Join(dir, "transcription_metadata.json"), m)
}

// ReadTranscription deserializes transcription_metadata.json from dir.
func ReadTranscription(dir string) (*TranscriptionMetadata, error) {
	var m TranscriptionMetadata
	if err := readJSON(filepath.Join(dir, "transcription_metadata.json"), &m); err != nil {
		return nil, err
	}
	return &m, nil
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errors.New(err).Category(errors.CategoryIO).
			Context("path", path).Build()
	}
	tmp := path + ".part"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return errors.New(err).Category(errors.CategoryIO).
			Context("path", tmp).Build()
	}
	if err := os.Rename(tmp, path); err != nil {
		return errors.New(err).Category(errors.CategoryIO).
			Context("path", path).Build()
	}
	return nil
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return errors.New(err).Category(errors.CategoryIO).
			Context("path", path).Build()
	}
	if err := json.Unmarshal(data, v); err != nil {
		return errors.New(err).Category(errors.CategoryIO).
			Context("path", path).Build()
	}
	return nil
}
