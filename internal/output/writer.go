// Package output renders merged transcripts as text, JSON, SRT or WebVTT, and
// reads SRT/WebVTT back into segments.
package output

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"strings"
	"time"

	"github.com/houzhh15/chunkscribe/internal/merger"
	"github.com/houzhh15/chunkscribe/internal/pipeline"
	"github.com/houzhh15/chunkscribe/internal/transcript"
)

// Format 输出格式
type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
	FormatSRT  Format = "srt"
	FormatVTT  Format = "vtt"
)

// ParseFormat validates a user supplied format name.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatText, FormatJSON, FormatSRT, FormatVTT:
		return f, nil
	case "":
		return FormatText, nil
	default:
		return "", fmt.Errorf("invalid format %q (must be text, json, srt or vtt)", s)
	}
}

// Document is the JSON shape: the transcript plus optional run metadata.
type Document struct {
	Language string               `json:"language"`
	Segments []transcript.Segment `json:"segments"`
	Text     string               `json:"text"`
	Stats    merger.Stats         `json:"stats"`
	Metadata *pipeline.Metadata   `json:"metadata,omitempty"`
}

// Write renders t in the given format. meta is only used by JSON and may be nil.
func Write(w io.Writer, format Format, t merger.MergedTranscript, meta *pipeline.Metadata) error {
	bw := bufio.NewWriter(w)
	switch format {
	case FormatJSON:
		enc := json.NewEncoder(bw)
		enc.SetIndent("", "  ")
		segs := t.Segments
		if segs == nil {
			segs = []transcript.Segment{}
		}
		if err := enc.Encode(Document{
			Language: t.Language,
			Segments: segs,
			Text:     PlainText(t.Segments),
			Stats:    t.Stats,
			Metadata: meta,
		}); err != nil {
			return err
		}
	case FormatSRT:
		for i, s := range t.Segments {
			WriteSegmentSrt(bw, i+1, s)
		}
	case FormatVTT:
		fmt.Fprint(bw, "WEBVTT\n\n")
		for _, s := range t.Segments {
			WriteSegmentVtt(bw, s)
		}
	case FormatText, "":
		for _, s := range t.Segments {
			WriteSegmentText(bw, s)
		}
	default:
		return fmt.Errorf("unsupported format: %s", format)
	}
	return bw.Flush()
}

// PlainText joins segment texts with spaces.
func PlainText(segs []transcript.Segment) string {
	parts := make([]string, 0, len(segs))
	for _, s := range segs {
		parts = append(parts, s.Text)
	}
	return strings.Join(parts, " ")
}

// WriteSegmentText writes "[HH:MM:SS.mmm --> HH:MM:SS.mmm] text".
func WriteSegmentText(w io.Writer, s transcript.Segment) {
	fmt.Fprintf(w, "[%s --> %s] %s\n", formatTimestamp(s.Start, '.'), formatTimestamp(s.End, '.'), s.Text)
}

// WriteSegmentSrt writes one SRT cue; SRT uses a comma before milliseconds.
func WriteSegmentSrt(w io.Writer, index int, s transcript.Segment) {
	fmt.Fprintf(w, "%d\n", index)
	fmt.Fprintf(w, "%s --> %s\n", formatTimestamp(s.Start, ','), formatTimestamp(s.End, ','))
	fmt.Fprintf(w, "%s\n\n", s.Text)
}

// WriteSegmentVtt writes one WebVTT cue.
func WriteSegmentVtt(w io.Writer, s transcript.Segment) {
	fmt.Fprintf(w, "%s --> %s\n", formatTimestamp(s.Start, '.'), formatTimestamp(s.End, '.'))
	fmt.Fprintf(w, "%s\n\n", s.Text)
}

// formatTimestamp formats seconds as HH:MM:SS<sep>mmm
func formatTimestamp(sec float64, sep byte) string {
	d := time.Duration(math.Round(math.Max(sec, 0)*1000)) * time.Millisecond
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second
	d -= s * time.Second
	ms := d / time.Millisecond
	return fmt.Sprintf("%02d:%02d:%02d%c%03d", h, m, s, sep, ms)
}
