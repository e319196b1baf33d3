// Package cloudoa implements the Cloud-A transcription backend over
// OpenAI's audio transcription endpoint.
package cloudoa

import (
	"context"
	"errors"
	"net/http"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/alikebrahim/neuravox/internal/transcribe"
)

const BackendID = "cloud-a"

const CredentialName = "OPENAI_API_KEY"

const defaultModel = openai.Whisper1

// audioTranscriber is the slice of *openai.Client this package calls,
// narrowed so tests can inject a fake.
type audioTranscriber interface {
	CreateTranscription(ctx context.Context, req openai.AudioRequest) (openai.AudioResponse, error)
}

// Backend wraps an OpenAI client as a transcribe.Backend.
type Backend struct {
	client audioTranscriber
}

// New builds a Backend that authenticates with apiKey.
func New(apiKey string) *Backend {
	return &Backend{client: openai.NewClient(apiKey)}
}

// newWithClient is used by tests to inject a fake audioTranscriber.
func newWithClient(c audioTranscriber) *Backend { return &Backend{client: c} }

func (b *Backend) ID() string                 { return BackendID }
func (b *Backend) RequiresCredential() string { return CredentialName }
func (b *Backend) SupportsTimestamps() bool   { return true }

func (b *Backend) Transcribe(ctx context.Context, audioPath string, opts transcribe.Options) (*transcribe.Result, error) {
	format := openai.AudioResponseFormatJSON
	if opts.IncludeTimestamps {
		format = openai.AudioResponseFormatVerboseJSON
	}

	req := openai.AudioRequest{
		Model:       defaultModel,
		FilePath:    audioPath,
		Format:      format,
		Language:    opts.Language,
		Temperature: float32(opts.Temperature),
	}

	resp, err := b.client.CreateTranscription(ctx, req)
	if err != nil {
		return nil, classify(err)
	}

	result := &transcribe.Result{Text: resp.Text, ModelID: defaultModel}
	for _, seg := range resp.Segments {
		result.Segments = append(result.Segments, transcribe.Segment{
			StartS: seg.Start,
			EndS:   seg.End,
			Text:   strings.TrimSpace(seg.Text),
		})
	}
	return result, nil
}

// classify maps go-openai's APIError onto the shared retryable/fatal
// taxonomy every backend reports through.
func classify(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.HTTPStatusCode {
		case http.StatusTooManyRequests:
			return &transcribe.Failure{Kind: transcribe.FailureRateLimited, Message: apiErr.Message, Cause: err}
		case http.StatusUnauthorized, http.StatusForbidden:
			return &transcribe.Failure{Kind: transcribe.FailureInvalidCredential, Message: apiErr.Message, Cause: err}
		case http.StatusRequestEntityTooLarge:
			return &transcribe.Failure{Kind: transcribe.FailureFileTooLarge, Message: apiErr.Message, Cause: err}
		case http.StatusBadRequest:
			return &transcribe.Failure{Kind: transcribe.FailureBadRequest, Message: apiErr.Message, Cause: err}
		case http.StatusRequestTimeout, http.StatusGatewayTimeout:
			return &transcribe.Failure{Kind: transcribe.FailureTimeout, Message: apiErr.Message, Cause: err}
		case http.StatusInternalServerError, http.StatusBadGateway, http.StatusServiceUnavailable:
			return &transcribe.Failure{Kind: transcribe.FailureServiceUnavailable, Message: apiErr.Message, Cause: err}
		}
	}
	return &transcribe.Failure{Kind: transcribe.FailureNetwork, Message: err.Error(), Cause: err}
}
