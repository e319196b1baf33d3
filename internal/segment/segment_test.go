package segment_test

import (
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alikebrahim/neuravox/internal/segment"
)

const sampleRate = 16000

// toneSource hands back fixed-size chunks of a constant-amplitude signal,
// enough seconds worth, then io.EOF.
type toneSource struct {
	remaining []float32
}

func newTone(amplitude float64, seconds float64) *toneSource {
	n := int(seconds * sampleRate)
	buf := make([]float32, n)
	for i := range buf {
		buf[i] = float32(amplitude)
	}
	return &toneSource{remaining: buf}
}

func (t *toneSource) Next() ([]float32, error) {
	const chunk = 4096
	if len(t.remaining) == 0 {
		return nil, io.EOF
	}
	n := chunk
	if n > len(t.remaining) {
		n = len(t.remaining)
	}
	out := t.remaining[:n]
	t.remaining = t.remaining[n:]
	if len(t.remaining) == 0 {
		return out, io.EOF
	}
	return out, nil
}

// concatSource plays a sequence of sources back to back.
type concatSource struct {
	sources []*toneSource
}

func (c *concatSource) Next() ([]float32, error) {
	for len(c.sources) > 0 {
		out, err := c.sources[0].Next()
		if err == io.EOF {
			c.sources = c.sources[1:]
			if len(out) > 0 {
				if len(c.sources) == 0 {
					return out, io.EOF
				}
				return out, nil
			}
			continue
		}
		return out, err
	}
	return nil, io.EOF
}

func defaultParams() segment.Params {
	return segment.Params{
		SampleRate:         sampleRate,
		SilenceThreshold:   0.01,
		MinSilenceDuration: 25,
		MinChunkDuration:   5,
	}
}

func TestRun_ContinuousSpeechNoSplit(t *testing.T) {
	src := newTone(0.2, 60)
	ranges, err := segment.Run(src, defaultParams())
	require.NoError(t, err)
	require.Len(t, ranges, 1)
	assert.InDelta(t, 0, ranges[0].StartS, 1e-3)
	assert.InDelta(t, 60, ranges[0].EndS, 1e-3)
}

func TestRun_OneCleanSplit(t *testing.T) {
	src := &concatSource{sources: []*toneSource{
		newTone(0.3, 30),
		newTone(0.0005, 30),
		newTone(0.3, 30),
	}}
	ranges, err := segment.Run(src, defaultParams())
	require.NoError(t, err)
	require.Len(t, ranges, 2)
	assert.InDelta(t, 45.0, ranges[0].EndS, 0.05)
	assert.InDelta(t, 45.0, ranges[1].StartS, 0.05)
	assert.InDelta(t, 90.0, ranges[1].EndS, 0.05)
	for _, r := range ranges {
		assert.GreaterOrEqual(t, r.EndS-r.StartS, 5.0)
	}
}

func TestRun_TooShortSilenceIgnored(t *testing.T) {
	src := &concatSource{sources: []*toneSource{
		newTone(0.3, 20),
		newTone(0.0005, 10),
		newTone(0.3, 20),
	}}
	ranges, err := segment.Run(src, defaultParams())
	require.NoError(t, err)
	require.Len(t, ranges, 1)
	assert.InDelta(t, 0, ranges[0].StartS, 1e-3)
	assert.InDelta(t, 50, ranges[0].EndS, 1e-3)
}

func TestRun_ShorterThanMinChunkYieldsOneChunk(t *testing.T) {
	src := newTone(0.3, 2)
	ranges, err := segment.Run(src, defaultParams())
	require.NoError(t, err)
	require.Len(t, ranges, 1)
	assert.InDelta(t, 0, ranges[0].StartS, 1e-3)
	assert.InDelta(t, 2, ranges[0].EndS, 1e-3)
}

func TestRun_ChunkIndexesAreContiguous(t *testing.T) {
	src := &concatSource{sources: []*toneSource{
		newTone(0.3, 30),
		newTone(0.0005, 30),
		newTone(0.3, 30),
	}}
	ranges, err := segment.Run(src, defaultParams())
	require.NoError(t, err)
	for i, r := range ranges {
		assert.Equal(t, i, r.ChunkIndex)
	}
}

type erroringSource struct {
	good *toneSource
	err  error
}

func (e *erroringSource) Next() ([]float32, error) {
	out, _ := e.good.Next()
	if len(e.good.remaining) == 0 {
		return out, e.err
	}
	return out, nil
}

func TestRun_SurfacesDecoderError(t *testing.T) {
	sentinel := io.ErrClosedPipe
	src := &erroringSource{good: newTone(0.3, 1), err: sentinel}
	_, err := segment.Run(src, defaultParams())
	require.Error(t, err)
}

// mergeParams splits aggressively (short silences count) but still merges
// away any resulting chunk under 5s, so a short chunk sandwiched between
// two silence boundaries actually has to fold into a neighbor.
func mergeParams() segment.Params {
	return segment.Params{
		SampleRate:         sampleRate,
		SilenceThreshold:   0.01,
		MinSilenceDuration: 1,
		MinChunkDuration:   5,
	}
}

// TestRun_ShortMiddleChunkMergesIntoPredecessor builds a
// speech/silence/speech/silence/speech recording (Scenario D's shape)
// where the middle speech segment is shorter than MinChunkDuration. Two
// silence boundaries are emitted, producing three raw ranges before
// merging; the short middle one must fold into its predecessor rather
// than survive as its own chunk.
func TestRun_ShortMiddleChunkMergesIntoPredecessor(t *testing.T) {
	src := &concatSource{sources: []*toneSource{
		newTone(0.3, 10),
		newTone(0.0005, 2),
		newTone(0.3, 1),
		newTone(0.0005, 2),
		newTone(0.3, 10),
	}}
	ranges, err := segment.Run(src, mergeParams())
	require.NoError(t, err)

	require.Len(t, ranges, 2)
	assert.InDelta(t, 0, ranges[0].StartS, 0.05)
	assert.InDelta(t, 14, ranges[0].EndS, 0.05)
	assert.InDelta(t, 14, ranges[1].StartS, 0.05)
	assert.InDelta(t, 25, ranges[1].EndS, 0.05)
	for i, r := range ranges {
		assert.Equal(t, i, r.ChunkIndex)
	}
	for _, r := range ranges {
		assert.GreaterOrEqual(t, r.EndS-r.StartS, mergeParams().MinChunkDuration)
	}
}

// TestRun_ShortFirstChunkMergesIntoSuccessor exercises the other branch
// of mergeShortChunks: a recording that opens with silence produces a
// short first chunk, which has no predecessor to fold into and must
// instead absorb its successor. Boundaries land at 1s and 4s, so the raw
// ranges are [0,1), [1,4), [4,25); absorbing [1,4) still leaves a 4s
// first chunk, which in turn absorbs [4,25), leaving a single chunk.
func TestRun_ShortFirstChunkMergesIntoSuccessor(t *testing.T) {
	src := &concatSource{sources: []*toneSource{
		newTone(0.0005, 2),
		newTone(0.3, 1),
		newTone(0.0005, 2),
		newTone(0.3, 20),
	}}
	ranges, err := segment.Run(src, mergeParams())
	require.NoError(t, err)

	require.Len(t, ranges, 1)
	assert.InDelta(t, 0, ranges[0].StartS, 0.05)
	assert.InDelta(t, 25, ranges[0].EndS, 0.05)
	for i, r := range ranges {
		assert.Equal(t, i, r.ChunkIndex)
	}
	for _, r := range ranges {
		assert.GreaterOrEqual(t, r.EndS-r.StartS, mergeParams().MinChunkDuration)
	}
}
