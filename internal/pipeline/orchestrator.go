// Package pipeline drives a single recording through decode, segment,
// encode, transcribe, and combine, persisting a checkpoint after every
// stage so a crash can resume from the last completed one.
package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/alikebrahim/neuravox/internal/audio"
	"github.com/alikebrahim/neuravox/internal/chunkwriter"
	"github.com/alikebrahim/neuravox/internal/combine"
	"github.com/alikebrahim/neuravox/internal/config"
	"github.com/alikebrahim/neuravox/internal/errors"
	"github.com/alikebrahim/neuravox/internal/logging"
	"github.com/alikebrahim/neuravox/internal/metadata"
	"github.com/alikebrahim/neuravox/internal/scheduler"
	"github.com/alikebrahim/neuravox/internal/segment"
	"github.com/alikebrahim/neuravox/internal/state"
	"github.com/alikebrahim/neuravox/internal/transcribe"
)

// PipelineResult is what process_one/process_batch/resume report for one
// recording.
type PipelineResult struct {
	FileID         string
	Status         state.Status
	ChunksTotal    int
	ChunksFailed   int
	TranscriptPath string
	Err            error
}

// Orchestrator owns the state store, configuration, and backend registry,
// and is the only component that mutates state.Store.
type Orchestrator struct {
	store    *state.Store
	settings *config.Settings
	backends *transcribe.Registry
}

// New builds an Orchestrator over an already-opened state store.
func New(store *state.Store, settings *config.Settings, backends *transcribe.Registry) *Orchestrator {
	return &Orchestrator{store: store, settings: settings, backends: backends}
}

// ProcessOne validates path and the selected backend, then drives the
// recording through every stage. backendID may be empty, in which case
// the configured default is used.
func (o *Orchestrator) ProcessOne(ctx context.Context, path, backendID string) (*PipelineResult, error) {
	backendID = o.resolveBackendID(backendID)

	if err := o.validate(path, backendID); err != nil {
		return nil, err
	}

	fileID, err := deriveFileID(path)
	if err != nil {
		return nil, err
	}

	log := logging.ForComponent("pipeline").With("file_id", fileID)
	log.Info("starting recording", "path", path, "backend", backendID)

	if err := o.store.Begin(fileID, path); err != nil {
		return nil, errors.New(err).Category(errors.CategoryState).Context("file_id", fileID).Build()
	}

	return o.runFromStage(ctx, fileID, path, backendID, state.StageIngest)
}

// ProcessBatch runs every path through ProcessOne, strictly one at a
// time (FIFO), so the batch never oversubscribes the transcription
// backend. A failure on one recording does not abort the rest.
func (o *Orchestrator) ProcessBatch(ctx context.Context, paths []string, backendID string) []*PipelineResult {
	results := make([]*PipelineResult, 0, len(paths))
	for _, p := range paths {
		if ctx.Err() != nil {
			results = append(results, &PipelineResult{Err: ctx.Err()})
			continue
		}
		result, err := o.ProcessOne(ctx, p, backendID)
		if err != nil {
			results = append(results, &PipelineResult{Err: err})
			continue
		}
		results = append(results, result)
	}
	return results
}

// Resume reads every unfinished recording from the state store and
// retries it from the appropriate checkpoint: a segment/encode failure
// restarts from ingest; a transcribe failure reuses chunks already on
// disk and only retranscribes the ones not marked transcribed; a
// combine failure regenerates the final document from the per-chunk
// transcripts already written; a partial result (some chunks failed but
// combine still produced a document) retries only those chunks.
func (o *Orchestrator) Resume(ctx context.Context, backendID string) ([]*PipelineResult, error) {
	backendID = o.resolveBackendID(backendID)

	ids, err := o.store.ListResumable()
	if err != nil {
		return nil, errors.New(err).Category(errors.CategoryState).Build()
	}

	results := make([]*PipelineResult, 0, len(ids))
	for _, fileID := range ids {
		if ctx.Err() != nil {
			results = append(results, &PipelineResult{FileID: fileID, Err: ctx.Err()})
			continue
		}

		rec, err := o.store.FileStatus(fileID)
		if err != nil || rec == nil {
			results = append(results, &PipelineResult{FileID: fileID, Err: err})
			continue
		}

		failedStage, hasFailed, err := o.store.FailedStage(fileID)
		if err != nil {
			results = append(results, &PipelineResult{FileID: fileID, Err: err})
			continue
		}

		restartAt := state.StageIngest
		switch {
		case hasFailed:
			switch failedStage {
			case state.StageTranscribe:
				restartAt = state.StageTranscribe
			case state.StageCombine:
				restartAt = state.StageCombine
			default:
				restartAt = state.StageIngest
			}
		case rec.OverallStatus == state.StatusPartial:
			// combine already succeeded once; only the chunks that never
			// transcribed need another attempt.
			restartAt = state.StageTranscribe
		}

		result, err := o.runFromStage(ctx, fileID, rec.OriginalPath, backendID, restartAt)
		if err != nil {
			results = append(results, &PipelineResult{FileID: fileID, Err: err})
			continue
		}
		results = append(results, result)
	}
	return results, nil
}

// Status returns the FileRecord and its stage history for fileID, or nil
// if the file has never been seen.
func (o *Orchestrator) Status(fileID string) (*state.FileRecord, []state.StageRecord, error) {
	rec, err := o.store.FileStatus(fileID)
	if err != nil || rec == nil {
		return rec, nil, err
	}
	stages, err := o.store.Stages(fileID)
	return rec, stages, err
}

func (o *Orchestrator) resolveBackendID(backendID string) string {
	if backendID != "" {
		return backendID
	}
	return o.settings.Transcription.DefaultBackend
}

// validate runs every precondition check before any state.Store call, so
// a bad request never leaves a partial record behind.
func (o *Orchestrator) validate(path, backendID string) error {
	if err := config.Validate(o.settings); err != nil {
		return errors.New(err).Category(errors.CategoryValidation).Build()
	}

	info, err := os.Stat(path)
	if err != nil {
		return errors.New(err).Category(errors.CategoryValidation).Context("path", path).Build()
	}
	if !info.Mode().IsRegular() {
		return errors.Newf("%s is not a regular file", path).Category(errors.CategoryValidation).Build()
	}

	ext := filepath.Ext(path)
	if len(ext) > 0 {
		ext = ext[1:]
	}
	if !config.SupportedExtensions[ext] {
		return errors.Newf("unsupported file extension %q", ext).
			Category(errors.CategoryValidation).Context("path", path).Build()
	}

	if _, err := config.ResolveCredential(backendID); err != nil {
		return errors.New(err).Category(errors.CategoryValidation).Context("backend_id", backendID).Build()
	}

	if _, err := o.backends.Get(backendID); err != nil {
		return err
	}

	return nil
}

// runFromStage executes every stage from startAt through combine,
// persisting a checkpoint after each one. Stages before startAt are
// assumed already complete (the resume contract).
func (o *Orchestrator) runFromStage(ctx context.Context, fileID, path, backendID string, startAt state.Stage) (*PipelineResult, error) {
	log := logging.ForComponent("pipeline").With("file_id", fileID)
	processedDir := o.settings.Workspace.ProcessedDir(fileID)
	transcribedDir := o.settings.Workspace.TranscribedDir(fileID)

	var ranges []segment.Range
	var audioInfo metadata.AudioInfo

	if startAt == state.StageIngest {
		info, r, err := o.runIngestSegmentEncode(ctx, fileID, path, processedDir)
		if err != nil {
			return &PipelineResult{FileID: fileID, Status: state.StatusFailed, Err: err}, nil
		}
		audioInfo = info
		ranges = r
	} else {
		pm, err := metadata.ReadProcessing(processedDir)
		if err != nil {
			return &PipelineResult{FileID: fileID, Status: state.StatusFailed, Err: err}, nil
		}
		audioInfo = pm.AudioInfo
		ranges = rangesFromChunkInfo(pm.Chunks)
	}

	chunks, err := o.store.Chunks(fileID)
	if err != nil {
		return &PipelineResult{FileID: fileID, Status: state.StatusFailed, Err: err}, nil
	}

	if startAt != state.StageCombine {
		if err := o.runTranscribe(ctx, fileID, backendID, transcribedDir, chunks); err != nil {
			return &PipelineResult{FileID: fileID, Status: state.StatusFailed, Err: err}, nil
		}
	}

	transcriptPath, failedCount, err := o.runCombine(ctx, fileID, path, backendID, transcribedDir, audioInfo)
	if err != nil {
		return &PipelineResult{FileID: fileID, Status: state.StatusFailed, Err: err}, nil
	}

	status := state.StatusCompleted
	if failedCount > 0 {
		status = state.StatusPartial
		if err := o.store.SetOverallStatus(fileID, status); err != nil {
			return &PipelineResult{FileID: fileID, Status: state.StatusFailed, Err: err}, nil
		}
	}

	log.Info("recording complete", "chunks", len(ranges), "failed", failedCount)
	return &PipelineResult{
		FileID:         fileID,
		Status:         status,
		ChunksTotal:    len(ranges),
		ChunksFailed:   failedCount,
		TranscriptPath: transcriptPath,
	}, nil
}

// runIngestSegmentEncode decodes the recording three times: once to
// measure duration and sample rate, once to drive segmentation, and once
// more at chunkwriter.TargetSampleRate to write per-chunk FLAC files split
// at the segmenter's boundaries. Each of the three stages is individually
// checkpointed.
func (o *Orchestrator) runIngestSegmentEncode(ctx context.Context, fileID, path, processedDir string) (metadata.AudioInfo, []segment.Range, error) {
	dec := audio.NewDecoder("ffmpeg")
	sampleRate := o.settings.Processing.SampleRate

	if err := o.store.StageStart(fileID, state.StageIngest); err != nil {
		return metadata.AudioInfo{}, nil, err
	}
	audioInfo, err := probe(ctx, dec, path, sampleRate)
	if err != nil {
		_ = o.store.StageFail(fileID, state.StageIngest, err)
		return metadata.AudioInfo{}, nil, err
	}
	if err := o.store.StageComplete(fileID, state.StageIngest, ""); err != nil {
		return metadata.AudioInfo{}, nil, err
	}

	if err := o.store.StageStart(fileID, state.StageSegment); err != nil {
		return metadata.AudioInfo{}, nil, err
	}
	segStream, err := dec.Open(ctx, path, sampleRate)
	if err != nil {
		_ = o.store.StageFail(fileID, state.StageSegment, err)
		return metadata.AudioInfo{}, nil, err
	}
	ranges, err := segment.Run(segStream, segment.Params{
		SampleRate:         sampleRate,
		SilenceThreshold:   o.settings.Processing.SilenceThreshold,
		MinSilenceDuration: o.settings.Processing.MinSilenceDuration,
		MinChunkDuration:   o.settings.Processing.MinChunkDuration,
	})
	if err != nil {
		_ = o.store.StageFail(fileID, state.StageSegment, err)
		return metadata.AudioInfo{}, nil, err
	}
	if err := o.store.StageComplete(fileID, state.StageSegment, ""); err != nil {
		return metadata.AudioInfo{}, nil, err
	}

	if err := o.store.StageStart(fileID, state.StageEncode); err != nil {
		return metadata.AudioInfo{}, nil, err
	}
	encStream, err := dec.Open(ctx, path, chunkwriter.TargetSampleRate)
	if err != nil {
		_ = o.store.StageFail(fileID, state.StageEncode, err)
		return metadata.AudioInfo{}, nil, err
	}
	writer := chunkwriter.NewWriter("ffmpeg")
	chunkInfos, err := encodeChunks(ctx, encStream, ranges, processedDir, writer)
	if err != nil {
		_ = o.store.StageFail(fileID, state.StageEncode, err)
		return metadata.AudioInfo{}, nil, err
	}

	for _, ci := range chunkInfos {
		if err := o.store.ChunkUpsert(fileID, ci.ChunkIndex, ci.FilePath, ci.StartS, ci.EndS, false); err != nil {
			_ = o.store.StageFail(fileID, state.StageEncode, err)
			return metadata.AudioInfo{}, nil, err
		}
	}

	pm := &metadata.ProcessingMetadata{
		FileID:       fileID,
		OriginalFile: path,
		ProcessedAt:  time.Now(),
		AudioInfo:    audioInfo,
		ProcessingParams: metadata.ProcessingParams{
			SilenceThreshold:   o.settings.Processing.SilenceThreshold,
			MinSilenceDuration: o.settings.Processing.MinSilenceDuration,
			SampleRate:         sampleRate,
			OutputFormat:       o.settings.Processing.OutputFormat,
		},
		Chunks: chunkInfos,
	}
	if err := metadata.WriteProcessing(processedDir, pm); err != nil {
		_ = o.store.StageFail(fileID, state.StageEncode, err)
		return metadata.AudioInfo{}, nil, err
	}

	if err := o.store.StageComplete(fileID, state.StageEncode, ""); err != nil {
		return metadata.AudioInfo{}, nil, err
	}

	return audioInfo, ranges, nil
}

// probe decodes path once just to measure total duration and sample
// rate; it discards the samples themselves.
func probe(ctx context.Context, dec *audio.Decoder, path string, sampleRate int) (metadata.AudioInfo, error) {
	stream, err := dec.Open(ctx, path, sampleRate)
	if err != nil {
		return metadata.AudioInfo{}, err
	}
	defer stream.Close()

	var total int64
	for {
		frame, err := stream.Next()
		total += int64(len(frame))
		if err != nil {
			break
		}
	}
	return metadata.AudioInfo{
		DurationS:  float64(total) / float64(stream.SampleRate()),
		SampleRate: stream.SampleRate(),
		Channels:   1,
	}, nil
}

// runTranscribe transcribes every chunk not already marked transcribed,
// writing each chunk's text to transcribedDir and recording the outcome
// in transcription_metadata.json.
func (o *Orchestrator) runTranscribe(ctx context.Context, fileID, backendID, transcribedDir string, chunks []state.ChunkRecord) error {
	if err := o.store.StageStart(fileID, state.StageTranscribe); err != nil {
		return err
	}

	backend, err := o.backends.Get(backendID)
	if err != nil {
		_ = o.store.StageFail(fileID, state.StageTranscribe, err)
		return err
	}

	if err := os.MkdirAll(transcribedDir, 0o755); err != nil {
		wrapped := errors.New(err).Category(errors.CategoryIO).Build()
		_ = o.store.StageFail(fileID, state.StageTranscribe, wrapped)
		return wrapped
	}

	pending := make([]scheduler.Input, 0, len(chunks))
	for _, c := range chunks {
		if c.Transcribed {
			continue
		}
		pending = append(pending, scheduler.Input{
			ChunkIndex: c.ChunkIndex,
			AudioPath:  c.AudioPath,
			StartS:     c.StartS,
			EndS:       c.EndS,
		})
	}

	sched := scheduler.New(backend, o.settings.Transcription.MaxConcurrent, o.settings.Transcription.PerAttemptTimeout)
	outcomes := sched.Run(ctx, pending)

	tm := &metadata.TranscriptionMetadata{
		FileID:    fileID,
		BackendID: backend.ID(),
		StartedAt: time.Now(),
	}

	for _, outcome := range outcomes {
		if outcome.Err != nil {
			tm.Failures++
			tm.Chunks = append(tm.Chunks, metadata.ChunkTranscriptionInfo{
				ChunkIndex: outcome.ChunkIndex,
				Status:     metadata.ChunkStatusFailed,
				ElapsedS:   outcome.Elapsed.Seconds(),
				Error:      outcome.Err.Error(),
			})
			continue
		}

		textPath := filepath.Join(transcribedDir, fmt.Sprintf("chunk_%03d.txt", outcome.ChunkIndex))
		if err := os.WriteFile(textPath, []byte(outcome.Result.Text), 0o644); err != nil {
			wrapped := errors.New(err).Category(errors.CategoryIO).Build()
			_ = o.store.StageFail(fileID, state.StageTranscribe, wrapped)
			return wrapped
		}
		if err := o.store.MarkChunkTranscribed(fileID, outcome.ChunkIndex, textPath); err != nil {
			_ = o.store.StageFail(fileID, state.StageTranscribe, err)
			return err
		}

		if tm.BackendModelID == "" && outcome.Result.ModelID != "" {
			tm.BackendModelID = outcome.Result.ModelID
		}
		tm.TotalWords += len(splitWords(outcome.Result.Text))
		tm.Chunks = append(tm.Chunks, metadata.ChunkTranscriptionInfo{
			ChunkIndex: outcome.ChunkIndex,
			Status:     metadata.ChunkStatusOK,
			ElapsedS:   outcome.Elapsed.Seconds(),
		})
	}
	if tm.BackendModelID == "" {
		tm.BackendModelID = backend.ID()
	}
	tm.CompletedAt = time.Now()

	if err := metadata.WriteTranscription(transcribedDir, tm); err != nil {
		_ = o.store.StageFail(fileID, state.StageTranscribe, err)
		return err
	}

	if tm.Failures > 0 && tm.Failures == len(pending) {
		failErr := errors.Newf("all %d pending chunks failed transcription", tm.Failures).
			Category(errors.CategoryBackendFatal).Build()
		_ = o.store.StageFail(fileID, state.StageTranscribe, failErr)
		return failErr
	}

	return o.store.StageComplete(fileID, state.StageTranscribe, "")
}

// runCombine assembles the final transcript document from every chunk's
// persisted text (or failure reason) and writes it under transcribedDir.
func (o *Orchestrator) runCombine(ctx context.Context, fileID, originalPath, backendID, transcribedDir string, audioInfo metadata.AudioInfo) (string, int, error) {
	if err := o.store.StageStart(fileID, state.StageCombine); err != nil {
		return "", 0, err
	}

	chunks, err := o.store.Chunks(fileID)
	if err != nil {
		_ = o.store.StageFail(fileID, state.StageCombine, err)
		return "", 0, err
	}

	tm, err := metadata.ReadTranscription(transcribedDir)
	if err != nil {
		_ = o.store.StageFail(fileID, state.StageCombine, err)
		return "", 0, err
	}
	reasons := make(map[int]string, len(tm.Chunks))
	for _, c := range tm.Chunks {
		if c.Status == metadata.ChunkStatusFailed {
			reasons[c.ChunkIndex] = c.Error
		}
	}

	backend, err := o.backends.Get(backendID)
	if err != nil {
		_ = o.store.StageFail(fileID, state.StageCombine, err)
		return "", 0, err
	}

	results := make([]combine.ChunkResult, 0, len(chunks))
	failedCount := 0
	for _, c := range chunks {
		if reason, failed := reasons[c.ChunkIndex]; failed {
			failedCount++
			results = append(results, combine.ChunkResult{
				ChunkIndex: c.ChunkIndex, StartS: c.StartS, EndS: c.EndS,
				Failed: true, Reason: reason,
			})
			continue
		}
		text, err := os.ReadFile(c.TranscriptPath)
		if err != nil {
			_ = o.store.StageFail(fileID, state.StageCombine, err)
			return "", 0, errors.New(err).Category(errors.CategoryIO).Build()
		}
		results = append(results, combine.ChunkResult{
			ChunkIndex: c.ChunkIndex, StartS: c.StartS, EndS: c.EndS,
			Text: string(text),
		})
	}

	doc := combine.Build(combine.Header{
		FileID:     fileID,
		SourcePath: originalPath,
		DurationS:  audioInfo.DurationS,
		BackendID:  backend.ID(),
		ModelID:    tm.BackendModelID,
	}, results)

	transcriptPath := filepath.Join(transcribedDir, fmt.Sprintf("%s_transcript.md", fileID))
	if err := os.WriteFile(transcriptPath, []byte(doc), 0o644); err != nil {
		wrapped := errors.New(err).Category(errors.CategoryIO).Build()
		_ = o.store.StageFail(fileID, state.StageCombine, wrapped)
		return "", 0, wrapped
	}

	if err := o.store.StageComplete(fileID, state.StageCombine, ""); err != nil {
		return "", 0, err
	}

	return transcriptPath, failedCount, nil
}

func rangesFromChunkInfo(chunks []metadata.ChunkInfo) []segment.Range {
	ranges := make([]segment.Range, 0, len(chunks))
	for _, c := range chunks {
		ranges = append(ranges, segment.Range{ChunkIndex: c.ChunkIndex, StartS: c.StartS, EndS: c.EndS})
	}
	return ranges
}

func splitWords(text string) []string {
	var words []string
	var cur []rune
	flush := func() {
		if len(cur) > 0 {
			words = append(words, string(cur))
			cur = nil
		}
	}
	for _, r := range text {
		if r == ' ' || r == '\n' || r == '\t' {
			flush()
			continue
		}
		cur = append(cur, r)
	}
	flush()
	return words
}
