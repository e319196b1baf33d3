package pipeline

import (
	"context"
	"io"

	"github.com/alikebrahim/neuravox/internal/audio"
	"github.com/alikebrahim/neuravox/internal/chunkwriter"
	"github.com/alikebrahim/neuravox/internal/errors"
	"github.com/alikebrahim/neuravox/internal/metadata"
	"github.com/alikebrahim/neuravox/internal/segment"
)

// encodeChunks streams stream exactly once, splitting samples at each
// range's boundary (to sample precision, not frame precision) and
// writing one FLAC chunk per range via writer.
func encodeChunks(ctx context.Context, stream *audio.Stream, ranges []segment.Range, dir string, writer *chunkwriter.Writer) ([]metadata.ChunkInfo, error) {
	sr := float64(stream.SampleRate())
	infos := make([]metadata.ChunkInfo, 0, len(ranges))

	var buf []float32
	var sampleCount int64
	rangeIdx := 0

	flush := func() error {
		r := ranges[rangeIdx]
		path, err := writer.WriteChunk(ctx, dir, r.ChunkIndex, buf)
		if err != nil {
			return err
		}
		infos = append(infos, metadata.ChunkInfo{
			ChunkIndex:  r.ChunkIndex,
			TotalChunks: len(ranges),
			StartS:      r.StartS,
			EndS:        r.EndS,
			DurationS:   r.EndS - r.StartS,
			FilePath:    path,
		})
		buf = nil
		rangeIdx++
		return nil
	}

	for rangeIdx < len(ranges) {
		frame, ferr := stream.Next()

		pos := 0
		for pos < len(frame) && rangeIdx < len(ranges) {
			boundary := int64(ranges[rangeIdx].EndS * sr)
			remaining := boundary - sampleCount
			if remaining <= 0 {
				if err := flush(); err != nil {
					return nil, err
				}
				continue
			}
			take := len(frame) - pos
			if int64(take) > remaining {
				take = int(remaining)
			}
			buf = append(buf, frame[pos:pos+take]...)
			sampleCount += int64(take)
			pos += take
		}

		if ferr == io.EOF {
			if rangeIdx < len(ranges) && len(buf) > 0 {
				if err := flush(); err != nil {
					return nil, err
				}
			}
			break
		}
		if ferr != nil {
			return nil, errors.New(ferr).Category(errors.CategoryDecode).Build()
		}
	}

	return infos, nil
}
