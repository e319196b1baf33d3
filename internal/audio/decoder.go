// Package audio decodes source recordings into a stream of mono PCM
// samples at a target sample rate. Mono WAV files already at the target
// rate are read directly; every other supported file, including other
// WAV files, is decoded by shelling out to ffmpeg.
package audio

import (
	"bufio"
	"bytes"
	"context"
	"encoding/binary"
	"io"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-audio/wav"

	"github.com/alikebrahim/neuravox/internal/errors"
)

// SupportedExtensions lists the containers C9 will accept for ingest.
var SupportedExtensions = map[string]bool{
	".mp3": true, ".wav": true, ".flac": true, ".m4a": true,
	".ogg": true, ".opus": true, ".wma": true, ".aac": true, ".mp4": true,
}

// FrameSize is the number of samples handed back by one Stream.Next call.
const FrameSize = 4096

// Decoder opens recordings and turns them into a Stream of float32 PCM.
type Decoder struct {
	FFmpegPath string
}

// NewDecoder returns a Decoder that shells out to the given ffmpeg binary
// (or "ffmpeg" on PATH if empty).
func NewDecoder(ffmpegPath string) *Decoder {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	return &Decoder{FFmpegPath: ffmpegPath}
}

// Stream yields mono PCM frames at a fixed sample rate. Streams backed by
// ffmpeg are read lazily from the subprocess; the direct WAV path decodes
// the whole file into memory when the stream is opened.
type Stream struct {
	sampleRate  int
	approxTotal int64
	reader      *bufio.Reader
	closer      func() error
}

// Open decodes path at targetSampleRate, mono. ctx bounds the lifetime of
// any subprocess spawned to do the decoding.
func (d *Decoder) Open(ctx context.Context, path string, targetSampleRate int) (*Stream, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, errors.New(err).Category(errors.CategoryIO).
			Context("path", path).Build()
	}
	if info.Size() == 0 {
		return nil, errors.Newf("empty audio file: %s", path).
			Category(errors.CategoryEmptyAudio).Build()
	}

	ext := strings.ToLower(filepath.Ext(path))
	if !SupportedExtensions[ext] {
		return nil, errors.Newf("unsupported audio format: %s", ext).
			Category(errors.CategoryUnsupportedInput).Context("path", path).Build()
	}

	if ext == ".wav" {
		stream, err := d.openWav(path, targetSampleRate)
		if err == nil {
			return stream, nil
		}
		// fall through to ffmpeg for WAV variants go-audio can't parse
		// (float PCM, extended fmt chunks, etc).
	}

	return d.openViaFFmpeg(ctx, path, targetSampleRate)
}

func (d *Decoder) openWav(path string, targetSampleRate int) (*Stream, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.New(err).Category(errors.CategoryIO).Build()
	}

	decoder := wav.NewDecoder(f)
	decoder.ReadInfo()
	if !decoder.IsValidFile() {
		_ = f.Close()
		return nil, errors.Newf("not a valid wav file: %s", path).
			Category(errors.CategoryDecode).Build()
	}

	if int(decoder.SampleRate) != targetSampleRate || decoder.NumChans != 1 {
		_ = f.Close()
		return nil, errors.New(errNeedsResample).Category(errors.CategoryDecode).Build()
	}

	buf, err := decoder.FullPCMBuffer()
	if err != nil {
		_ = f.Close()
		return nil, errors.New(err).Category(errors.CategoryDecode).
			Context("path", path).Build()
	}
	_ = f.Close()

	if len(buf.Data) == 0 {
		return nil, errors.Newf("empty audio file: %s", path).
			Category(errors.CategoryEmptyAudio).Build()
	}

	samples := make([]byte, len(buf.Data)*4)
	for i, s := range buf.Data {
		f32 := float32(s) / 32768.0
		binary.LittleEndian.PutUint32(samples[i*4:], math.Float32bits(f32))
	}

	return &Stream{
		sampleRate:  targetSampleRate,
		approxTotal: int64(len(buf.Data)),
		reader:      bufio.NewReader(bytes.NewReader(samples)),
		closer:      func() error { return nil },
	}, nil
}

var errNeedsResample = errors.NewStd("wav needs resampling; falling back to ffmpeg")

func (d *Decoder) openViaFFmpeg(ctx context.Context, path string, targetSampleRate int) (*Stream, error) {
	args := []string{
		"-hide_banner", "-loglevel", "error",
		"-i", path,
		"-f", "f32le",
		"-ac", "1",
		"-ar", strconv.Itoa(targetSampleRate),
		"pipe:1",
	}
	cmd := exec.CommandContext(ctx, d.FFmpegPath, args...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, errors.New(err).Category(errors.CategoryIO).Build()
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return nil, errors.New(err).Category(errors.CategoryDecode).
			Context("path", path).Context("ffmpeg", d.FFmpegPath).Build()
	}

	stream := &Stream{
		sampleRate: targetSampleRate,
		reader:     bufio.NewReaderSize(stdout, 64*1024),
		closer: func() error {
			waitErr := cmd.Wait()
			if waitErr != nil && stderr.Len() > 0 {
				return errors.New(waitErr).Category(errors.CategoryDecode).
					Context("path", path).Context("stderr", stderr.String()).Build()
			}
			return waitErr
		},
	}
	return stream, nil
}

// SampleRate is the rate samples are delivered at.
func (s *Stream) SampleRate() int { return s.sampleRate }

// ApproxTotalFrames estimates the number of samples the stream will
// produce; 0 means unknown (the ffmpeg path cannot know this up front).
func (s *Stream) ApproxTotalFrames() int64 { return s.approxTotal }

// Next returns the next frame of up to FrameSize samples, or io.EOF when
// the stream is exhausted.
func (s *Stream) Next() ([]float32, error) {
	raw := make([]byte, FrameSize*4)
	n, err := io.ReadFull(s.reader, raw)
	if n == 0 {
		if closeErr := s.closer(); closeErr != nil {
			return nil, closeErr
		}
		return nil, io.EOF
	}
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return nil, errors.New(err).Category(errors.CategoryDecode).Build()
	}

	usable := n - (n % 4)
	samples := make([]float32, usable/4)
	for i := range samples {
		bits := binary.LittleEndian.Uint32(raw[i*4 : i*4+4])
		samples[i] = math.Float32frombits(bits)
	}
	return samples, nil
}

// Close releases resources held by the stream, waiting for any
// subprocess to exit.
func (s *Stream) Close() error {
	return s.closer()
}
