// Package chunkwriter encodes one segmented chunk of PCM samples to a
// FLAC file on disk, atomically.
package chunkwriter

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"

	"github.com/alikebrahim/neuravox/internal/errors"
)

// TargetSampleRate is the rate every chunk is encoded at, regardless of
// the source recording's native rate.
const TargetSampleRate = 16000

// CompressionLevel is the FLAC compression effort, 0 (fastest) to 8
// (smallest file).
const CompressionLevel = 8

// Writer encodes chunk PCM to FLAC via an ffmpeg subprocess, the same
// process-lifecycle pattern the decoder uses for the opposite direction.
type Writer struct {
	FFmpegPath string
}

// NewWriter returns a Writer using the given ffmpeg binary, or "ffmpeg"
// on PATH if empty.
func NewWriter(ffmpegPath string) *Writer {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	return &Writer{FFmpegPath: ffmpegPath}
}

// ChunkFileName returns the canonical on-disk name for a chunk index,
// e.g. chunk_000.flac.
func ChunkFileName(chunkIndex int) string {
	return fmt.Sprintf("chunk_%03d.flac", chunkIndex)
}

// WriteChunk encodes samples (mono float32 PCM at TargetSampleRate) to
// <dir>/chunk_<index>.flac, encoding to a temporary file in the same
// directory first, then renaming into place so a crash mid-encode never
// leaves a partial chunk visible under its final name.
func (w *Writer) WriteChunk(ctx context.Context, dir string, chunkIndex int, samples []float32) (string, error) {
	if len(samples) == 0 {
		return "", errors.Newf("chunk %d has no samples", chunkIndex).
			Category(errors.CategoryEmptyAudio).Build()
	}

	finalPath := filepath.Join(dir, ChunkFileName(chunkIndex))
	tempPath := finalPath + ".part"

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", errors.New(err).Category(errors.CategoryIO).
			Context("dir", dir).Build()
	}

	pcm := make([]byte, len(samples)*4)
	for i, s := range samples {
		binary.LittleEndian.PutUint32(pcm[i*4:], math.Float32bits(s))
	}

	args := []string{
		"-hide_banner", "-loglevel", "error", "-y",
		"-f", "f32le", "-ac", "1", "-ar", strconv.Itoa(TargetSampleRate),
		"-i", "pipe:0",
		"-c:a", "flac", "-compression_level", strconv.Itoa(CompressionLevel),
		"-ar", strconv.Itoa(TargetSampleRate), "-ac", "1",
		tempPath,
	}
	cmd := exec.CommandContext(ctx, w.FFmpegPath, args...)
	cmd.Stdin = bytes.NewReader(pcm)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		_ = os.Remove(tempPath)
		return "", errors.New(err).Category(errors.CategoryEncode).
			Context("chunk_index", chunkIndex).
			Context("stderr", stderr.String()).Build()
	}

	if err := os.Rename(tempPath, finalPath); err != nil {
		_ = os.Remove(tempPath)
		return "", errors.New(err).Category(errors.CategoryIO).
			Context("from", tempPath).Context("to", finalPath).Build()
	}

	return finalPath, nil
}
