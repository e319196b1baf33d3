// Package localwhisper implements the Local-neural transcription backend
// over whisper.cpp's CGO bindings, loading the model once per process and
// serializing inference across scheduler workers.
package localwhisper

import (
	"context"
	"io"
	"strings"
	"sync"

	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"github.com/alikebrahim/neuravox/internal/audio"
	"github.com/alikebrahim/neuravox/internal/transcribe"
)

const BackendID = "local-neural"

// Backend wraps a whisper.cpp model as a transcribe.Backend. The model is
// loaded once (sync.Once-guarded) and every subsequent Transcribe call
// reuses it; whisper.cpp contexts are not concurrency-safe, so calls are
// serialized with a mutex rather than one context per call.
type Backend struct {
	modelPath string
	language  string

	loadOnce  sync.Once
	loadErr   error
	model     whisperlib.Model
	inferenceMu sync.Mutex
}

// New returns a Backend that will lazily load modelPath on first use.
func New(modelPath, language string) *Backend {
	if language == "" {
		language = "en"
	}
	return &Backend{modelPath: modelPath, language: language}
}

func (b *Backend) ID() string                 { return BackendID }
func (b *Backend) RequiresCredential() string { return "" }
func (b *Backend) SupportsTimestamps() bool   { return true }

// Close releases the loaded model, if any.
func (b *Backend) Close() error {
	if b.model != nil {
		return b.model.Close()
	}
	return nil
}

func (b *Backend) ensureLoaded() error {
	b.loadOnce.Do(func() {
		model, err := whisperlib.New(b.modelPath)
		if err != nil {
			b.loadErr = &transcribe.Failure{Kind: transcribe.FailureModelLoadFailed, Message: b.modelPath, Cause: err}
			return
		}
		b.model = model
	})
	return b.loadErr
}

func (b *Backend) Transcribe(ctx context.Context, audioPath string, opts transcribe.Options) (*transcribe.Result, error) {
	if err := b.ensureLoaded(); err != nil {
		return nil, err
	}

	samples, err := decodeChunk(ctx, audioPath)
	if err != nil {
		return nil, &transcribe.Failure{Kind: transcribe.FailureBadRequest, Message: "decode chunk", Cause: err}
	}

	b.inferenceMu.Lock()
	defer b.inferenceMu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, &transcribe.Failure{Kind: transcribe.FailureTimeout, Message: "cancelled before inference", Cause: err}
	}

	wctx, err := b.model.NewContext()
	if err != nil {
		return nil, &transcribe.Failure{Kind: transcribe.FailureRuntimeMissing, Message: "create whisper context", Cause: err}
	}

	language := opts.Language
	if language == "" {
		language = b.language
	}
	if err := wctx.SetLanguage(language); err != nil {
		return nil, &transcribe.Failure{Kind: transcribe.FailureRuntimeMissing, Message: "set language", Cause: err}
	}

	if err := wctx.Process(samples, nil, nil, nil); err != nil {
		return nil, &transcribe.Failure{Kind: transcribe.FailureInferenceOOM, Message: "inference", Cause: err}
	}

	result := &transcribe.Result{ModelID: b.modelPath}
	var parts []string
	for {
		seg, err := wctx.NextSegment()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, &transcribe.Failure{Kind: transcribe.FailureInferenceOOM, Message: "read segment", Cause: err}
		}
		text := strings.TrimSpace(seg.Text)
		if text == "" {
			continue
		}
		parts = append(parts, text)
		result.Segments = append(result.Segments, transcribe.Segment{
			StartS: float64(seg.Start) / 100.0,
			EndS:   float64(seg.End) / 100.0,
			Text:   text,
		})
	}
	result.Text = strings.Join(parts, " ")
	return result, nil
}

// decodeChunk reads a FLAC chunk file written by internal/chunkwriter back
// into float32 PCM at whisper.cpp's required 16kHz mono, reusing the same
// decoder adapter the ingest stage uses.
func decodeChunk(ctx context.Context, path string) ([]float32, error) {
	dec := audio.NewDecoder("")
	stream, err := dec.Open(ctx, path, whisperSampleRate)
	if err != nil {
		return nil, err
	}
	defer stream.Close()

	var samples []float32
	for {
		frame, err := stream.Next()
		samples = append(samples, frame...)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
	}
	return samples, nil
}

const whisperSampleRate = 16000
