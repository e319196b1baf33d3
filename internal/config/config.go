// Package config loads and validates the configuration consumed by every
// component of the pipeline core: workspace layout, silence-segmentation
// parameters, and transcription scheduling. Precedence, highest first, is
// environment variables, the user's config.yaml, then the embedded
// defaults below.
package config

import (
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

//go:embed config.yaml
var configFiles embed.FS

// WorkspaceConfig locates the input/processed/transcribed/state-store tree.
type WorkspaceConfig struct {
	BasePath string // root for input/processed/transcribed subtrees
}

// ProcessingConfig controls decoding, segmentation, and chunk encoding (C1-C3).
type ProcessingConfig struct {
	SilenceThreshold   float64 // RMS threshold below which a frame is silent
	MinSilenceDuration float64 // seconds of sustained silence required to split
	MinChunkDuration   float64 // merge chunks shorter than this into a neighbor
	SampleRate         int     // target PCM rate for decode + segmentation; chunks are always encoded at 16 kHz
	OutputFormat       string  // flac, wav or mp3; recorded in processing metadata, chunks are always written as FLAC
	Normalize          bool    // validated and loaded; the decoder does not read it and applies no normalization
}

// TranscriptionConfig controls the chunk scheduler and backend selection (C5-C6).
type TranscriptionConfig struct {
	DefaultBackend     string        // backend id selected when none specified
	MaxConcurrent      int           // scheduler parallelism
	IncludeTimestamps  bool          // loaded only; the scheduler always requests timestamps regardless
	PerAttemptTimeout  time.Duration // per backend-call timeout before retry
}

// LoggingConfig mirrors the shape used by internal/logging.
type LoggingConfig struct {
	Enabled  bool
	Path     string
	Rotation RotationType
	MaxSize  int64
}

type RotationType string

const (
	RotationDaily  RotationType = "daily"
	RotationWeekly RotationType = "weekly"
	RotationSize   RotationType = "size"
)

// Settings is the fully merged configuration used by every component.
type Settings struct {
	Debug         bool
	Workspace     WorkspaceConfig
	Processing    ProcessingConfig
	Transcription TranscriptionConfig
	Logging       LoggingConfig
}

// SupportedExtensions is the allow-list validated by the orchestrator
// before any state mutation.
var SupportedExtensions = map[string]bool{
	"mp3": true, "wav": true, "flac": true, "m4a": true,
	"ogg": true, "opus": true, "wma": true, "aac": true, "mp4": true,
}

// Credential names recognized from the environment, keyed by backend id.
const (
	CredentialCloudA     = "OPENAI_API_KEY"
	CredentialCloudB     = "GOOGLE_API_KEY"
	envWorkspaceOverride = "NEURAVOX_WORKSPACE"
	envConfigOverride    = "NEURAVOX_CONFIG"
)

var (
	settingsInstance *Settings
	settingsMutex    sync.RWMutex
	loadWarnings     []string
)

// Load reads environment variables, the user config file, and the
// embedded defaults, in that precedence order, into a Settings value.
func Load() (*Settings, error) {
	settingsMutex.Lock()
	defer settingsMutex.Unlock()

	// .env is optional; a missing file is not an error (grounded on the
	// alnah-go-transcript CLI's credential loading, which tolerates a
	// missing .env in production).
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	setDefaults(v)
	bindEnv(v)

	if cfgPath := os.Getenv(envConfigOverride); cfgPath != "" {
		v.SetConfigFile(cfgPath)
	} else {
		base := v.GetString("workspace.base_path")
		v.AddConfigPath(base)
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			if err := writeDefaultConfig(v); err != nil {
				return nil, fmt.Errorf("creating default config: %w", err)
			}
		} else {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	settings := &Settings{}
	if err := v.Unmarshal(settings); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	settings.Workspace.BasePath = expandHome(settings.Workspace.BasePath)

	if err := Validate(settings); err != nil {
		return nil, err
	}
	loadWarnings = collectWarnings(settings)

	settingsInstance = settings
	return settings, nil
}

func writeDefaultConfig(v *viper.Viper) error {
	base := v.GetString("workspace.base_path")
	base = expandHome(base)
	configPath := filepath.Join(base, "config.yaml")

	data, err := fs.ReadFile(configFiles, "config.yaml")
	if err != nil {
		return fmt.Errorf("reading embedded default config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(configPath), 0o755); err != nil {
		return fmt.Errorf("creating workspace directory: %w", err)
	}
	if err := os.WriteFile(configPath, data, 0o644); err != nil {
		return fmt.Errorf("writing default config: %w", err)
	}
	v.SetConfigFile(configPath)
	return v.ReadInConfig()
}

func expandHome(path string) string {
	if path == "~" || len(path) >= 2 && path[:2] == "~/" {
		home, err := os.UserHomeDir()
		if err == nil {
			if path == "~" {
				return home
			}
			return filepath.Join(home, path[2:])
		}
	}
	return path
}

// GetSettings returns the most recently loaded Settings, or nil if Load
// has not been called yet.
func GetSettings() *Settings {
	settingsMutex.RLock()
	defer settingsMutex.RUnlock()
	return settingsInstance
}

// Warnings returns non-fatal issues observed at load time, such as a
// configured backend with no credential present in the environment.
func Warnings() []string {
	settingsMutex.RLock()
	defer settingsMutex.RUnlock()
	return loadWarnings
}

// ResolveCredential returns the API credential for backendID, or an error
// if the backend requires one and none is set. Called by the orchestrator
// only for the backend actually selected for a run.
func ResolveCredential(backendID string) (string, error) {
	name, required := credentialNameFor(backendID)
	if !required {
		return "", nil
	}
	value := os.Getenv(name)
	if value == "" {
		return "", fmt.Errorf("backend %q requires credential %s but it is not set", backendID, name)
	}
	return value, nil
}

func credentialNameFor(backendID string) (name string, required bool) {
	switch backendID {
	case "cloud-a":
		return CredentialCloudA, true
	case "cloud-b":
		return CredentialCloudB, true
	default:
		return "", false
	}
}

func collectWarnings(s *Settings) []string {
	var warnings []string
	for _, id := range []string{"cloud-a", "cloud-b"} {
		name, required := credentialNameFor(id)
		if required && os.Getenv(name) == "" {
			warnings = append(warnings, fmt.Sprintf("backend %q configured without credential %s", id, name))
		}
	}
	return warnings
}
