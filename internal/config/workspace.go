package config

import "path/filepath"

// InputDir, ProcessedDir, TranscribedDir, and StateDBPath implement the
// filesystem layout from the external-interfaces section: W/input,
// W/processed/<file_id>, W/transcribed/<file_id>, W/.pipeline_state.db.
func (w WorkspaceConfig) InputDir() string {
	return filepath.Join(w.BasePath, "input")
}

func (w WorkspaceConfig) ProcessedDir(fileID string) string {
	return filepath.Join(w.BasePath, "processed", fileID)
}

func (w WorkspaceConfig) TranscribedDir(fileID string) string {
	return filepath.Join(w.BasePath, "transcribed", fileID)
}

func (w WorkspaceConfig) StateDBPath() string {
	return filepath.Join(w.BasePath, ".pipeline_state.db")
}
