package config

import (
	"fmt"
)

// ValidationError aggregates every configuration problem found in one pass,
// mirroring the "validation errors are collected and reported together"
// requirement.
type ValidationError struct {
	Errors []string
}

func (ve ValidationError) Error() string {
	return fmt.Sprintf("configuration validation failed: %v", ve.Errors)
}

// Validate checks settings against the recognized ranges for every option.
// It never inspects credentials — missing credentials are a load-time
// warning, and a fatal error only when the backend is actually selected
// (see ResolveCredential).
func Validate(s *Settings) error {
	var errs []string

	errs = append(errs, validateProcessing(&s.Processing)...)
	errs = append(errs, validateTranscription(&s.Transcription)...)
	errs = append(errs, validateWorkspace(&s.Workspace)...)

	if len(errs) > 0 {
		return ValidationError{Errors: errs}
	}
	return nil
}

func validateProcessing(p *ProcessingConfig) []string {
	var errs []string
	if p.SilenceThreshold <= 0 || p.SilenceThreshold > 1.0 {
		errs = append(errs, fmt.Sprintf("processing.silence_threshold must be in (0, 1.0], got %v", p.SilenceThreshold))
	}
	if p.MinSilenceDuration < 0.1 || p.MinSilenceDuration > 300 {
		errs = append(errs, fmt.Sprintf("processing.min_silence_duration must be in [0.1, 300], got %v", p.MinSilenceDuration))
	}
	if p.MinChunkDuration < 0 {
		errs = append(errs, fmt.Sprintf("processing.min_chunk_duration must be >= 0, got %v", p.MinChunkDuration))
	}
	switch p.SampleRate {
	case 8000, 16000, 22050, 44100, 48000:
	default:
		errs = append(errs, fmt.Sprintf("processing.sample_rate must be one of 8000/16000/22050/44100/48000, got %v", p.SampleRate))
	}
	switch p.OutputFormat {
	case "flac", "wav", "mp3":
	default:
		errs = append(errs, fmt.Sprintf("processing.output_format must be one of flac/wav/mp3, got %q", p.OutputFormat))
	}
	return errs
}

func validateTranscription(t *TranscriptionConfig) []string {
	var errs []string
	if t.MaxConcurrent < 1 || t.MaxConcurrent > 10 {
		errs = append(errs, fmt.Sprintf("transcription.max_concurrent must be in [1, 10], got %v", t.MaxConcurrent))
	}
	if t.DefaultBackend == "" {
		errs = append(errs, "transcription.default_backend must not be empty")
	}
	return errs
}

func validateWorkspace(w *WorkspaceConfig) []string {
	var errs []string
	if w.BasePath == "" {
		errs = append(errs, "workspace.base_path must not be empty")
	}
	return errs
}
