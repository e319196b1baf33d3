// Package cloudgs implements the Cloud-B transcription backend over
// Google Cloud's Speech-to-Text synchronous recognize RPC.
package cloudgs

import (
	"context"
	"fmt"
	"os"

	speech "cloud.google.com/go/speech/apiv1"
	"cloud.google.com/go/speech/apiv1/speechpb"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/alikebrahim/neuravox/internal/transcribe"
)

const BackendID = "cloud-b"

const CredentialName = "GOOGLE_API_KEY"

// recognizer is the slice of *speech.Client this package calls.
type recognizer interface {
	Recognize(ctx context.Context, req *speechpb.RecognizeRequest, opts ...interface{}) (*speechpb.RecognizeResponse, error)
}

// clientAdapter adapts *speech.Client's variadic gax.CallOption signature
// to the narrower recognizer interface used for testing.
type clientAdapter struct{ client *speech.Client }

func (c *clientAdapter) Recognize(ctx context.Context, req *speechpb.RecognizeRequest, _ ...interface{}) (*speechpb.RecognizeResponse, error) {
	return c.client.Recognize(ctx, req)
}

// Backend wraps a Google Cloud Speech client as a transcribe.Backend.
type Backend struct {
	client recognizer
	raw    *speech.Client
}

// New builds a Backend authenticating with credential, which is either an
// API key or a path to a service-account JSON file, matching how other
// provider credentials in this module are resolved.
func New(ctx context.Context, credential string) (*Backend, error) {
	var opts []option.ClientOption
	if credential != "" {
		if _, err := os.Stat(credential); err == nil {
			opts = append(opts, option.WithCredentialsFile(credential))
		} else {
			opts = append(opts, option.WithAPIKey(credential))
		}
	}
	client, err := speech.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("cloudgs: create speech client: %w", err)
	}
	return &Backend{client: &clientAdapter{client: client}, raw: client}, nil
}

// Close releases the underlying gRPC connection.
func (b *Backend) Close() error {
	if b.raw != nil {
		return b.raw.Close()
	}
	return nil
}

func (b *Backend) ID() string                 { return BackendID }
func (b *Backend) RequiresCredential() string { return CredentialName }
func (b *Backend) SupportsTimestamps() bool   { return true }

func (b *Backend) Transcribe(ctx context.Context, audioPath string, opts transcribe.Options) (*transcribe.Result, error) {
	data, err := os.ReadFile(audioPath)
	if err != nil {
		return nil, &transcribe.Failure{Kind: transcribe.FailureBadRequest, Message: "read chunk", Cause: err}
	}

	languageCode := opts.Language
	if languageCode == "" {
		languageCode = "en-US"
	}

	req := &speechpb.RecognizeRequest{
		Config: &speechpb.RecognitionConfig{
			Encoding:                   speechpb.RecognitionConfig_FLAC,
			SampleRateHertz:            16000,
			AudioChannelCount:          1,
			LanguageCode:               languageCode,
			EnableWordTimeOffsets:      opts.IncludeTimestamps,
			EnableAutomaticPunctuation: true,
		},
		Audio: &speechpb.RecognitionAudio{
			AudioSource: &speechpb.RecognitionAudio_Content{Content: data},
		},
	}

	resp, err := b.client.Recognize(ctx, req)
	if err != nil {
		return nil, classify(err)
	}

	result := &transcribe.Result{ModelID: "default"}
	for _, r := range resp.Results {
		if len(r.Alternatives) == 0 {
			continue
		}
		alt := r.Alternatives[0]
		if result.Text != "" {
			result.Text += " "
		}
		result.Text += alt.Transcript
		for _, w := range alt.Words {
			result.Words = append(result.Words, transcribe.Word{
				StartS: w.StartTime.AsDuration().Seconds(),
				EndS:   w.EndTime.AsDuration().Seconds(),
				Text:   w.Word,
			})
		}
	}
	return result, nil
}

// classify maps a gRPC status code onto the shared retryable/fatal
// taxonomy every backend reports through.
func classify(err error) error {
	st, ok := status.FromError(err)
	if !ok {
		return &transcribe.Failure{Kind: transcribe.FailureNetwork, Message: err.Error(), Cause: err}
	}
	switch st.Code() {
	case codes.ResourceExhausted:
		return &transcribe.Failure{Kind: transcribe.FailureRateLimited, Message: st.Message(), Cause: err}
	case codes.Unavailable:
		return &transcribe.Failure{Kind: transcribe.FailureServiceUnavailable, Message: st.Message(), Cause: err}
	case codes.DeadlineExceeded:
		return &transcribe.Failure{Kind: transcribe.FailureTimeout, Message: st.Message(), Cause: err}
	case codes.Unauthenticated, codes.PermissionDenied:
		return &transcribe.Failure{Kind: transcribe.FailureInvalidCredential, Message: st.Message(), Cause: err}
	case codes.InvalidArgument:
		return &transcribe.Failure{Kind: transcribe.FailureBadRequest, Message: st.Message(), Cause: err}
	default:
		return &transcribe.Failure{Kind: transcribe.FailureNetwork, Message: st.Message(), Cause: err}
	}
}
