package pipeline

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/alikebrahim/neuravox/internal/errors"
)

const hashSampleSize = 1 << 20 // 1 MB

// deriveFileID computes the stable id for a recording: the basename
// without extension, plus the first 8 hex characters of a hash over the
// first and last megabytes of the file and its total size. This avoids
// hashing the entire file while still changing when the content does.
func deriveFileID(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", errors.New(err).Category(errors.CategoryIO).Context("path", path).Build()
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return "", errors.New(err).Category(errors.CategoryIO).Context("path", path).Build()
	}
	size := info.Size()

	h := sha256.New()
	fmt.Fprintf(h, "%d", size)

	head := make([]byte, hashSampleSize)
	n, err := io.ReadFull(f, head)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return "", errors.New(err).Category(errors.CategoryIO).Context("path", path).Build()
	}
	h.Write(head[:n])

	if size > hashSampleSize {
		tailStart := size - hashSampleSize
		if tailStart < int64(n) {
			tailStart = int64(n)
		}
		if _, err := f.Seek(tailStart, io.SeekStart); err != nil {
			return "", errors.New(err).Category(errors.CategoryIO).Context("path", path).Build()
		}
		tail, err := io.ReadAll(f)
		if err != nil {
			return "", errors.New(err).Category(errors.CategoryIO).Context("path", path).Build()
		}
		h.Write(tail)
	}

	sum := hex.EncodeToString(h.Sum(nil))[:8]
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	return fmt.Sprintf("%s-%s", base, sum), nil
}
