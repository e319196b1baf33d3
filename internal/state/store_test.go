package state_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alikebrahim/neuravox/internal/state"
)

func newTestStore(t *testing.T) *state.Store {
	t.Helper()
	store, err := state.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestBegin_IsIdempotent(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.Begin("file-1", "/in/file-1.mp3"))
	require.NoError(t, store.Begin("file-1", "/in/file-1.mp3"))

	rec, err := store.FileStatus("file-1")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, state.StatusPending, rec.OverallStatus)
}

func TestStageStart_RefusesConcurrentStage(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.Begin("file-1", "/in/file-1.mp3"))

	require.NoError(t, store.StageStart("file-1", state.StageSegment))
	err := store.StageStart("file-1", state.StageEncode)
	assert.Error(t, err)
}

func TestStageLifecycle_CompleteAdvancesOverallStatus(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.Begin("file-1", "/in/file-1.mp3"))

	require.NoError(t, store.StageStart("file-1", state.StageIngest))
	require.NoError(t, store.StageComplete("file-1", state.StageIngest, `{"bytes":100}`))

	rec, err := store.FileStatus("file-1")
	require.NoError(t, err)
	assert.Equal(t, state.StatusProcessing, rec.OverallStatus)

	require.NoError(t, store.StageStart("file-1", state.StageSegment))
	require.NoError(t, store.StageComplete("file-1", state.StageSegment, ""))
	require.NoError(t, store.StageStart("file-1", state.StageEncode))
	require.NoError(t, store.StageComplete("file-1", state.StageEncode, ""))
	require.NoError(t, store.StageStart("file-1", state.StageTranscribe))
	require.NoError(t, store.StageComplete("file-1", state.StageTranscribe, ""))
	require.NoError(t, store.StageStart("file-1", state.StageCombine))
	require.NoError(t, store.StageComplete("file-1", state.StageCombine, ""))

	rec, err = store.FileStatus("file-1")
	require.NoError(t, err)
	assert.Equal(t, state.StatusCompleted, rec.OverallStatus)

	last, err := store.LastCompletedStage("file-1")
	require.NoError(t, err)
	assert.Equal(t, state.StageCombine, last)
}

func TestStageFail_MarksFileFailedAndResumable(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.Begin("file-1", "/in/file-1.mp3"))
	require.NoError(t, store.StageStart("file-1", state.StageTranscribe))
	require.NoError(t, store.StageFail("file-1", state.StageTranscribe, assertError("backend unavailable")))

	rec, err := store.FileStatus("file-1")
	require.NoError(t, err)
	assert.Equal(t, state.StatusFailed, rec.OverallStatus)

	stage, failed, err := store.FailedStage("file-1")
	require.NoError(t, err)
	require.True(t, failed)
	assert.Equal(t, state.StageTranscribe, stage)

	ids, err := store.ListResumable()
	require.NoError(t, err)
	assert.Contains(t, ids, "file-1")
}

func TestChunkUpsert_InsertsThenUpdates(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.Begin("file-1", "/in/file-1.mp3"))

	require.NoError(t, store.ChunkUpsert("file-1", 0, "/w/chunk_000.flac", 0, 30.5, false))
	require.NoError(t, store.ChunkUpsert("file-1", 1, "/w/chunk_001.flac", 30.5, 61.0, false))

	chunks, err := store.Chunks("file-1")
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	assert.Equal(t, 0, chunks[0].ChunkIndex)
	assert.Equal(t, 1, chunks[1].ChunkIndex)

	require.NoError(t, store.MarkChunkTranscribed("file-1", 0, "/w/chunk_000.json"))
	chunks, err = store.Chunks("file-1")
	require.NoError(t, err)
	assert.True(t, chunks[0].Transcribed)
	assert.Equal(t, "/w/chunk_000.json", chunks[0].TranscriptPath)
	assert.False(t, chunks[1].Transcribed)
}

func TestFileStatus_UnknownReturnsNilNoError(t *testing.T) {
	store := newTestStore(t)
	rec, err := store.FileStatus("does-not-exist")
	require.NoError(t, err)
	assert.Nil(t, rec)
}

type simpleError string

func (e simpleError) Error() string { return string(e) }

func assertError(msg string) error { return simpleError(msg) }
