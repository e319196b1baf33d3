// Package combine assembles the ordered per-chunk transcription results
// of one recording into a single text transcript document.
package combine

import (
	"fmt"
	"strings"
	"time"
)

// ChunkResult is one chunk's outcome, ready for inclusion in the final
// document. Range boundaries come from segmentation, not the backend.
type ChunkResult struct {
	ChunkIndex int
	StartS     float64
	EndS       float64
	Text       string // empty when Failed
	Failed     bool
	Reason     string
}

// Header identifies the recording and backend the document covers.
type Header struct {
	FileID     string
	SourcePath string
	DurationS  float64
	BackendID  string
	ModelID    string
}

// Build renders the full transcript document for one recording. Results
// must already be ordered by ChunkIndex; Build does not sort them.
func Build(header Header, results []ChunkResult) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# %s\n", header.FileID)
	fmt.Fprintf(&b, "- source: %s\n", header.SourcePath)
	fmt.Fprintf(&b, "- duration: %s\n", formatHMS(header.DurationS))
	fmt.Fprintf(&b, "- backend: %s / %s\n", header.BackendID, header.ModelID)

	total := len(results)
	for i, r := range results {
		b.WriteString("\n")
		fmt.Fprintf(&b, "## Chunk %d of %d  [%.3f – %.3f]\n", r.ChunkIndex+1, total, r.StartS, r.EndS)
		if r.Failed {
			fmt.Fprintf(&b, "[FAILED: %s]\n", r.Reason)
		} else {
			b.WriteString(strings.TrimRight(r.Text, " \t\n") + "\n")
		}
		if i < total-1 {
			b.WriteString("\n---\n")
		}
	}

	return b.String()
}

// formatHMS renders a duration in seconds as h:mm:ss.
func formatHMS(seconds float64) string {
	d := time.Duration(seconds * float64(time.Second))
	h := int64(d / time.Hour)
	d -= time.Duration(h) * time.Hour
	m := int64(d / time.Minute)
	d -= time.Duration(m) * time.Minute
	s := int64(d / time.Second)
	return fmt.Sprintf("%d:%02d:%02d", h, m, s)
}
