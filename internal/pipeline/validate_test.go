package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alikebrahim/neuravox/internal/config"
	"github.com/alikebrahim/neuravox/internal/transcribe"
)

type noopBackend struct {
	id         string
	credential string
}

func (b *noopBackend) ID() string                 { return b.id }
func (b *noopBackend) RequiresCredential() string { return b.credential }
func (b *noopBackend) SupportsTimestamps() bool   { return true }
func (b *noopBackend) Transcribe(ctx context.Context, audioPath string, opts transcribe.Options) (*transcribe.Result, error) {
	return &transcribe.Result{Text: "stub"}, nil
}

func validSettings() *config.Settings {
	return &config.Settings{
		Workspace: config.WorkspaceConfig{BasePath: "/tmp/neuravox-test-workspace"},
		Processing: config.ProcessingConfig{
			SilenceThreshold:   0.01,
			MinSilenceDuration: 25.0,
			MinChunkDuration:   5.0,
			SampleRate:         16000,
			OutputFormat:       "flac",
		},
		Transcription: config.TranscriptionConfig{
			DefaultBackend: "local-neural",
			MaxConcurrent:  3,
		},
	}
}

func TestValidate_RejectsMissingFile(t *testing.T) {
	backends := transcribe.NewRegistry(&noopBackend{id: "local-neural"})
	o := New(nil, validSettings(), backends)

	err := o.validate("/no/such/file.mp3", "local-neural")
	require.Error(t, err)
}

func TestValidate_RejectsUnsupportedExtension(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "notes.txt")
	require.NoError(t, os.WriteFile(path, []byte("hi"), 0o644))

	backends := transcribe.NewRegistry(&noopBackend{id: "local-neural"})
	o := New(nil, validSettings(), backends)

	err := o.validate(path, "local-neural")
	require.Error(t, err)
}

func TestValidate_RejectsUnknownBackend(t *testing.T) {
	// Supply cloud-b's credential so the rejection comes from the registry
	// lookup rather than the missing-credential check.
	t.Setenv(config.CredentialCloudB, "test-credential")
	dir := t.TempDir()
	path := filepath.Join(dir, "audio.wav")
	require.NoError(t, os.WriteFile(path, []byte("fake wav bytes"), 0o644))

	backends := transcribe.NewRegistry(&noopBackend{id: "local-neural"})
	o := New(nil, validSettings(), backends)

	err := o.validate(path, "cloud-b")
	require.Error(t, err)
}

func TestValidate_RejectsMissingCredential(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	dir := t.TempDir()
	path := filepath.Join(dir, "audio.mp3")
	require.NoError(t, os.WriteFile(path, []byte("fake mp3 bytes"), 0o644))

	backends := transcribe.NewRegistry(&noopBackend{id: "cloud-a", credential: "OPENAI_API_KEY"})
	o := New(nil, validSettings(), backends)

	err := o.validate(path, "cloud-a")
	require.Error(t, err)
}

func TestValidate_AcceptsGoodInput(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "audio.flac")
	require.NoError(t, os.WriteFile(path, []byte("fake flac bytes"), 0o644))

	backends := transcribe.NewRegistry(&noopBackend{id: "local-neural"})
	o := New(nil, validSettings(), backends)

	err := o.validate(path, "local-neural")
	assert.NoError(t, err)
}

func TestResolveBackendID_DefaultsFromSettings(t *testing.T) {
	backends := transcribe.NewRegistry(&noopBackend{id: "local-neural"})
	o := New(nil, validSettings(), backends)

	assert.Equal(t, "local-neural", o.resolveBackendID(""))
	assert.Equal(t, "cloud-a", o.resolveBackendID("cloud-a"))
}
