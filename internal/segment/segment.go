// Package segment detects sustained silence in a decoded PCM stream and
// turns it into a contiguous, gap-free sequence of chunk ranges. It knows
// nothing about audio decoding or file formats; it consumes a FrameSource
// so it composes with internal/audio without importing it.
package segment

import (
	"io"
	"math"
)

// FrameSource yields successive frames of mono float32 PCM samples at a
// fixed sample rate, returning io.EOF once exhausted.
type FrameSource interface {
	Next() ([]float32, error)
}

// Params controls where boundaries are placed and which chunks get merged.
type Params struct {
	SampleRate         int
	SilenceThreshold   float64 // RMS below this marks a frame silent, (0, 1]
	MinSilenceDuration float64 // seconds of sustained silence required to split
	MinChunkDuration   float64 // chunks shorter than this are merged away
}

// analysisFrameSeconds is the fixed window used to compute RMS energy.
const analysisFrameSeconds = 0.025

// Range is a half-open interval [StartS, EndS) with a 0-based, contiguous
// ChunkIndex assigned after any merging.
type Range struct {
	ChunkIndex int
	StartS     float64
	EndS       float64
}

const roundPlaces = 1e6

func round6(v float64) float64 {
	return math.Round(v*roundPlaces) / roundPlaces
}

// Run scans src to completion and returns the final, merged ChunkRanges.
// Only chunk boundary timestamps are held in memory — never PCM — so
// memory use is bounded regardless of recording length. Run surfaces the
// first error src.Next returns, if any, after finalizing the boundaries
// observed before the error.
func Run(src FrameSource, params Params) ([]Range, error) {
	frameSize := int(float64(params.SampleRate) * analysisFrameSeconds)
	if frameSize < 1 {
		frameSize = 1
	}

	scanner := &scanner{
		src:       src,
		frameSize: frameSize,
		params:    params,
	}
	boundaries, totalDuration, err := scanner.scan()
	raw := buildRanges(boundaries, totalDuration)
	merged := mergeShortChunks(raw, params.MinChunkDuration)
	return merged, err
}

// scanner accumulates samples from src into fixed-size analysis frames
// and runs the per-frame silence state machine described by the
// silence-region boundary algorithm.
type scanner struct {
	src       FrameSource
	frameSize int
	params    Params

	carry        []float32
	sampleIndex  int64 // total samples consumed so far
	silenceStart int64 // sample index where the current silent run began
	silenceRun   int64 // consecutive silent frames in the current run
	boundaries   []float64
}

func (s *scanner) scan() ([]float64, float64, error) {
	for {
		frame, err := s.nextAnalysisFrame()
		if frame == nil {
			total := float64(s.sampleIndex) / float64(s.params.SampleRate)
			if err == io.EOF {
				err = nil
			}
			return s.boundaries, total, err
		}

		rms := rmsOf(frame)
		frameStart := s.sampleIndex
		s.sampleIndex += int64(len(frame))

		if rms < s.params.SilenceThreshold {
			if s.silenceRun == 0 {
				s.silenceStart = frameStart
			}
			s.silenceRun++
		} else {
			if s.silenceRun > 0 {
				s.maybeEmitBoundary()
			}
			s.silenceRun = 0
		}

		if err != nil && err != io.EOF {
			return s.boundaries, float64(s.sampleIndex) / float64(s.params.SampleRate), err
		}
	}
}

// maybeEmitBoundary closes out a silent run: if it was long enough, a
// boundary is placed at its midpoint (lower index wins ties on an even
// frame count, which falls out of integer-sample midpoint rounding).
func (s *scanner) maybeEmitBoundary() {
	runDuration := float64(s.silenceRun) * analysisFrameSeconds
	if runDuration < s.params.MinSilenceDuration {
		return
	}
	silenceEnd := s.silenceStart + s.silenceRun*int64(s.frameSize)
	midSample := s.silenceStart + (silenceEnd-s.silenceStart)/2
	midSeconds := round6(float64(midSample) / float64(s.params.SampleRate))
	s.boundaries = append(s.boundaries, midSeconds)
}

// nextAnalysisFrame assembles exactly frameSize samples per call by
// buffering leftovers from the source's own frame size. Returns nil once
// the source is exhausted, along with the terminal error (io.EOF on a
// clean end).
func (s *scanner) nextAnalysisFrame() ([]float32, error) {
	for len(s.carry) < s.frameSize {
		next, err := s.src.Next()
		if len(next) > 0 {
			s.carry = append(s.carry, next...)
		}
		if err != nil {
			if len(s.carry) == 0 {
				return nil, err
			}
			frame := s.carry
			s.carry = nil
			return frame, err
		}
	}
	frame := s.carry[:s.frameSize]
	s.carry = s.carry[s.frameSize:]
	return frame, nil
}

func rmsOf(frame []float32) float64 {
	var sumSq float64
	for _, x := range frame {
		v := float64(x)
		sumSq += v * v
	}
	return math.Sqrt(sumSq / float64(len(frame)))
}

// buildRanges turns a list of split points into contiguous [0, total)
// ranges; if the final silent run was still open at end of stream it is
// simply ignored, since no non-silent frame closed it.
func buildRanges(boundaries []float64, total float64) []Range {
	if len(boundaries) == 0 {
		return []Range{{ChunkIndex: 0, StartS: 0, EndS: round6(total)}}
	}
	ranges := make([]Range, 0, len(boundaries)+1)
	start := 0.0
	for _, b := range boundaries {
		if b <= start {
			continue
		}
		ranges = append(ranges, Range{ChunkIndex: len(ranges), StartS: start, EndS: b})
		start = b
	}
	ranges = append(ranges, Range{ChunkIndex: len(ranges), StartS: start, EndS: round6(total)})
	return ranges
}

// mergeShortChunks folds any chunk under minChunkDuration into its
// predecessor, or into its successor if it is the first chunk.
func mergeShortChunks(ranges []Range, minChunkDuration float64) []Range {
	if len(ranges) <= 1 {
		return reindex(ranges)
	}

	merged := make([]Range, len(ranges))
	copy(merged, ranges)

	for i := 0; i < len(merged); {
		duration := merged[i].EndS - merged[i].StartS
		if duration >= minChunkDuration || len(merged) == 1 {
			i++
			continue
		}
		if i == 0 {
			merged[1].StartS = merged[0].StartS
			merged = append(merged[:0], merged[1:]...)
			continue
		}
		merged[i-1].EndS = merged[i].EndS
		merged = append(merged[:i], merged[i+1:]...)
	}

	return reindex(merged)
}

func reindex(ranges []Range) []Range {
	for i := range ranges {
		ranges[i].ChunkIndex = i
	}
	return ranges
}
