package state

import (
	"os"
	"path/filepath"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/alikebrahim/neuravox/internal/errors"
)

// Store wraps the embedded SQLite database backing the pipeline state
// machine. Every write goes through a method here, each wrapped in a
// transaction, so a crash between any two calls leaves exactly the last
// committed state on disk.
type Store struct {
	db *gorm.DB
}

// Open creates (if needed) and migrates the state database at dbPath.
func Open(dbPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, errors.New(err).Category(errors.CategoryIO).
			Context("db_path", dbPath).Build()
	}

	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: newGormLogger(200 * time.Millisecond),
	})
	if err != nil {
		return nil, errors.New(err).Category(errors.CategoryState).
			Context("db_path", dbPath).Build()
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, errors.New(err).Category(errors.CategoryState).Build()
	}
	for _, pragma := range []string{
		"PRAGMA foreign_keys=ON",
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := sqlDB.Exec(pragma); err != nil {
			return nil, errors.New(err).Category(errors.CategoryState).
				Context("pragma", pragma).Build()
		}
	}

	if err := db.AutoMigrate(&FileRecord{}, &StageRecord{}, &ChunkRecord{}); err != nil {
		return nil, errors.New(err).Category(errors.CategoryState).Build()
	}

	return &Store{db: db}, nil
}

// Close releases the underlying database connection.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Begin idempotently creates a FileRecord in state "pending".
func (s *Store) Begin(fileID, originalPath string) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		var existing FileRecord
		err := tx.First(&existing, "file_id = ?", fileID).Error
		switch {
		case err == nil:
			return nil
		case errorsIsNotFound(err):
			now := time.Now()
			return tx.Create(&FileRecord{
				FileID:        fileID,
				OriginalPath:  originalPath,
				OverallStatus: StatusPending,
				CreatedAt:     now,
				UpdatedAt:     now,
			}).Error
		default:
			return err
		}
	})
}

// StageStart inserts or updates a StageRecord to "running". It refuses to
// start a stage if that file_id already has another stage running,
// preserving the "at most one running stage per file_id" invariant.
func (s *Store) StageStart(fileID string, stage Stage) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		var running StageRecord
		err := tx.First(&running, "file_id = ? AND status = ?", fileID, StatusRunning).Error
		if err == nil && running.Stage != stage {
			return errors.Newf("file %s already has stage %s running", fileID, running.Stage).
				Category(errors.CategoryState).Build()
		}

		var rec StageRecord
		err = tx.First(&rec, "file_id = ? AND stage = ?", fileID, stage).Error
		now := time.Now()
		switch {
		case err == nil:
			rec.Status = StatusRunning
			rec.StartedAt = now
			rec.CompletedAt = nil
			rec.Error = ""
			if err := tx.Save(&rec).Error; err != nil {
				return err
			}
		case errorsIsNotFound(err):
			if err := tx.Create(&StageRecord{
				FileID:    fileID,
				Stage:     stage,
				Status:    StatusRunning,
				StartedAt: now,
			}).Error; err != nil {
				return err
			}
		default:
			return err
		}

		return tx.Model(&FileRecord{}).Where("file_id = ?", fileID).
			Updates(map[string]any{"overall_status": StatusProcessing, "updated_at": now}).Error
	})
}

// StageComplete marks a stage completed and records its detail JSON.
func (s *Store) StageComplete(fileID string, stage Stage, detailJSON string) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		now := time.Now()
		if err := tx.Model(&StageRecord{}).
			Where("file_id = ? AND stage = ?", fileID, stage).
			Updates(map[string]any{
				"status":       StatusCompleted,
				"completed_at": now,
				"detail_json":  detailJSON,
				"error":        "",
			}).Error; err != nil {
			return err
		}
		overall := StatusProcessing
		if stage == StageCombine {
			overall = StatusCompleted
		}
		return tx.Model(&FileRecord{}).Where("file_id = ?", fileID).
			Updates(map[string]any{"overall_status": overall, "updated_at": now}).Error
	})
}

// SetOverallStatus overrides fileID's overall status directly, used by the
// orchestrator to downgrade a completed run to partial once it knows how
// many chunks actually failed.
func (s *Store) SetOverallStatus(fileID string, status Status) error {
	return s.db.Model(&FileRecord{}).Where("file_id = ?", fileID).
		Updates(map[string]any{"overall_status": status, "updated_at": time.Now()}).Error
}

// StageFail marks a stage failed and the file overall failed.
func (s *Store) StageFail(fileID string, stage Stage, cause error) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		now := time.Now()
		if err := tx.Model(&StageRecord{}).
			Where("file_id = ? AND stage = ?", fileID, stage).
			Updates(map[string]any{
				"status":       StatusFailed,
				"completed_at": now,
				"error":        errMessage(cause),
			}).Error; err != nil {
			return err
		}
		return tx.Model(&FileRecord{}).Where("file_id = ?", fileID).
			Updates(map[string]any{"overall_status": StatusFailed, "updated_at": now}).Error
	})
}

// ChunkUpsert records or updates the persisted location of one chunk.
func (s *Store) ChunkUpsert(fileID string, chunkIndex int, audioPath string, startS, endS float64, transcribed bool) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		var rec ChunkRecord
		err := tx.First(&rec, "file_id = ? AND chunk_index = ?", fileID, chunkIndex).Error
		switch {
		case err == nil:
			rec.AudioPath = audioPath
			rec.StartS = startS
			rec.EndS = endS
			rec.Transcribed = transcribed
			return tx.Save(&rec).Error
		case errorsIsNotFound(err):
			return tx.Create(&ChunkRecord{
				FileID:      fileID,
				ChunkIndex:  chunkIndex,
				AudioPath:   audioPath,
				StartS:      startS,
				EndS:        endS,
				Transcribed: transcribed,
			}).Error
		default:
			return err
		}
	})
}

// MarkChunkTranscribed flips the transcribed flag and records the
// transcript path, used by resume to skip chunks already done.
func (s *Store) MarkChunkTranscribed(fileID string, chunkIndex int, transcriptPath string) error {
	return s.db.Model(&ChunkRecord{}).
		Where("file_id = ? AND chunk_index = ?", fileID, chunkIndex).
		Updates(map[string]any{"transcribed": true, "transcript_path": transcriptPath}).Error
}

// Chunks returns every chunk recorded for fileID, ordered by index.
func (s *Store) Chunks(fileID string) ([]ChunkRecord, error) {
	var chunks []ChunkRecord
	err := s.db.Where("file_id = ?", fileID).Order("chunk_index asc").Find(&chunks).Error
	return chunks, err
}

// Stages returns every stage row recorded for fileID.
func (s *Store) Stages(fileID string) ([]StageRecord, error) {
	var stages []StageRecord
	err := s.db.Where("file_id = ?", fileID).Find(&stages).Error
	return stages, err
}

// ListResumable returns file_ids whose most recent stage failed, or whose
// overall status is not completed.
func (s *Store) ListResumable() ([]string, error) {
	var ids []string
	err := s.db.Model(&FileRecord{}).
		Where("overall_status <> ?", StatusCompleted).
		Pluck("file_id", &ids).Error
	return ids, err
}

// FileStatus returns the FileRecord for fileID, or (nil, nil) if unknown.
func (s *Store) FileStatus(fileID string) (*FileRecord, error) {
	var rec FileRecord
	err := s.db.First(&rec, "file_id = ?", fileID).Error
	switch {
	case err == nil:
		return &rec, nil
	case errorsIsNotFound(err):
		return nil, nil
	default:
		return nil, err
	}
}

// LastCompletedStage returns the furthest stage marked completed for
// fileID, or "" if none has completed.
func (s *Store) LastCompletedStage(fileID string) (Stage, error) {
	stages, err := s.Stages(fileID)
	if err != nil {
		return "", err
	}
	completed := map[Stage]bool{}
	for _, st := range stages {
		if st.Status == StatusCompleted {
			completed[st.Stage] = true
		}
	}
	var last Stage
	for _, st := range Stages {
		if completed[st] {
			last = st
		}
	}
	return last, nil
}

// FailedStage returns the stage currently marked failed for fileID, if any.
func (s *Store) FailedStage(fileID string) (Stage, bool, error) {
	stages, err := s.Stages(fileID)
	if err != nil {
		return "", false, err
	}
	for _, st := range stages {
		if st.Status == StatusFailed {
			return st.Stage, true, nil
		}
	}
	return "", false, nil
}

func errorsIsNotFound(err error) bool {
	return err == gorm.ErrRecordNotFound
}

func errMessage(err error) string {
	if err == nil {
		return ""
	}
	msg := err.Error()
	const max = 2000
	if len(msg) > max {
		return msg[:max]
	}
	return msg
}
