// Package state is the durable record of files, stages, and chunks that
// lets the pipeline orchestrator resume after a crash. The orchestrator
// is the only mutator; every other component produces values that the
// orchestrator persists here.
package state

import "time"

// Stage names the five steps of the per-recording state machine. They
// must always be observed in this order for a given file_id.
type Stage string

const (
	StageIngest      Stage = "ingest"
	StageSegment     Stage = "segment"
	StageEncode      Stage = "encode"
	StageTranscribe  Stage = "transcribe"
	StageCombine     Stage = "combine"
)

// Stages lists the fixed stage order; LastCompletedStage walks it to find
// the furthest completed stage. StageStart does not check this order.
var Stages = []Stage{StageIngest, StageSegment, StageEncode, StageTranscribe, StageCombine}

// Status is shared by FileRecord.OverallStatus and StageRecord.Status.
type Status string

const (
	StatusPending    Status = "pending"
	StatusRunning    Status = "running"
	StatusCompleted  Status = "completed"
	StatusPartial    Status = "partial"
	StatusFailed     Status = "failed"
	StatusProcessing Status = "processing"
)

// FileRecord is the `files` table: one row per source recording.
type FileRecord struct {
	FileID        string `gorm:"primaryKey;size:128"`
	OriginalPath  string `gorm:"size:1024;not null"`
	OverallStatus Status `gorm:"size:20;not null"`
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// StageRecord is the `stages` table: at most one row per (file_id, stage),
// and at most one row per file_id with Status == StatusRunning.
type StageRecord struct {
	ID          uint   `gorm:"primaryKey"`
	FileID      string `gorm:"uniqueIndex:idx_stage_file_stage;size:128;not null"`
	Stage       Stage  `gorm:"uniqueIndex:idx_stage_file_stage;size:20;not null"`
	Status      Status `gorm:"size:20;not null"`
	StartedAt   time.Time
	CompletedAt *time.Time
	Error       string `gorm:"size:2000"`
	DetailJSON  string `gorm:"type:text"`
}

// ChunkRecord is the `chunks` table: one row per encoded chunk, uniquely
// identified by (file_id, chunk_index).
type ChunkRecord struct {
	ID             uint   `gorm:"primaryKey"`
	FileID         string `gorm:"uniqueIndex:idx_chunk_file_index;size:128;not null"`
	ChunkIndex     int    `gorm:"uniqueIndex:idx_chunk_file_index;not null"`
	AudioPath      string `gorm:"size:1024;not null"`
	TranscriptPath string `gorm:"size:1024"`
	StartS         float64
	EndS           float64
	Transcribed    bool `gorm:"not null;default:false"`
}

func (FileRecord) TableName() string  { return "files" }
func (StageRecord) TableName() string { return "stages" }
func (ChunkRecord) TableName() string { return "chunks" }
