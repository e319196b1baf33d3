package config

import "github.com/spf13/viper"

// setDefaults seeds viper with the hard-coded defaults from the
// configuration table before the config file is read, so any key the
// file omits still resolves to a sane value.
func setDefaults(v *viper.Viper) {
	v.SetDefault("workspace.base_path", "~/.neuravox/workspace")

	v.SetDefault("processing.silence_threshold", 0.01)
	v.SetDefault("processing.min_silence_duration", 25.0)
	v.SetDefault("processing.min_chunk_duration", 5.0)
	v.SetDefault("processing.sample_rate", 16000)
	v.SetDefault("processing.output_format", "flac")
	v.SetDefault("processing.normalize", true)

	v.SetDefault("transcription.default_backend", "cloud-a")
	v.SetDefault("transcription.max_concurrent", 3)
	v.SetDefault("transcription.include_timestamps", true)
	v.SetDefault("transcription.per_attempt_timeout", "300s")

	v.SetDefault("logging.enabled", true)
	v.SetDefault("logging.path", "logs/neuravox.log")
	v.SetDefault("logging.rotation", "size")
	v.SetDefault("logging.max_size", 100*1024*1024)
}

func bindEnv(v *viper.Viper) {
	_ = v.BindEnv("workspace.base_path", envWorkspaceOverride)
}
