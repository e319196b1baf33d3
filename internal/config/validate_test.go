package config_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alikebrahim/neuravox/internal/config"
)

func validSettings() *config.Settings {
	return &config.Settings{
		Workspace: config.WorkspaceConfig{BasePath: "/tmp/workspace"},
		Processing: config.ProcessingConfig{
			SilenceThreshold:   0.01,
			MinSilenceDuration: 25,
			MinChunkDuration:   5,
			SampleRate:         16000,
			OutputFormat:       "flac",
			Normalize:          true,
		},
		Transcription: config.TranscriptionConfig{
			DefaultBackend:    "cloud-a",
			MaxConcurrent:     3,
			IncludeTimestamps: true,
		},
	}
}

func TestValidate_AcceptsDefaults(t *testing.T) {
	require.NoError(t, config.Validate(validSettings()))
}

func TestValidate_RejectsOutOfRangeThreshold(t *testing.T) {
	s := validSettings()
	s.Processing.SilenceThreshold = 0
	err := config.Validate(s)
	require.Error(t, err)
	var ve config.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Len(t, ve.Errors, 1)
}

func TestValidate_CollectsMultipleErrors(t *testing.T) {
	s := validSettings()
	s.Processing.SilenceThreshold = 2
	s.Processing.SampleRate = 12345
	s.Transcription.MaxConcurrent = 0
	err := config.Validate(s)
	require.Error(t, err)
	var ve config.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Len(t, ve.Errors, 3)
}

func TestValidate_RejectsEmptyWorkspace(t *testing.T) {
	s := validSettings()
	s.Workspace.BasePath = ""
	require.Error(t, config.Validate(s))
}

func TestResolveCredential_UnknownBackendNeedsNone(t *testing.T) {
	cred, err := config.ResolveCredential("local-neural")
	require.NoError(t, err)
	assert.Empty(t, cred)
}

func TestResolveCredential_MissingEnvIsFatal(t *testing.T) {
	t.Setenv(config.CredentialCloudA, "")
	_, err := config.ResolveCredential("cloud-a")
	require.Error(t, err)
}

func TestResolveCredential_PresentEnvSucceeds(t *testing.T) {
	t.Setenv(config.CredentialCloudA, "sk-test")
	cred, err := config.ResolveCredential("cloud-a")
	require.NoError(t, err)
	assert.Equal(t, "sk-test", cred)
}
