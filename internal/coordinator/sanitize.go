package coordinator

import (
	"sort"
	"strings"

	"github.com/houzhh15/chunkscribe/internal/chunking"
	"github.com/houzhh15/chunkscribe/internal/orchestrator/whisper"
	"github.com/houzhh15/chunkscribe/internal/textsim"
	"github.com/houzhh15/chunkscribe/internal/transcript"
)

// Sanitize converts engine segments (relative to the chunk file) into absolute,
// clamped segments. Empty text and non-positive spans are dropped, and runs of
// near-identical consecutive lines (engine repetition loops) collapse into one.
func Sanitize(raw []whisper.TranscriptionSegment, chunk chunking.AudioChunk) []transcript.Segment {
	out := make([]transcript.Segment, 0, len(raw))
	for _, s := range raw {
		text := strings.Join(textsim.Fields(s.Text), " ")
		if text == "" || s.End <= s.Start {
			continue
		}
		start := max(chunk.StartSec+s.Start, chunk.StartSec)
		end := min(chunk.StartSec+s.End, chunk.EndSec)
		if end <= start {
			continue
		}
		out = append(out, transcript.Segment{Start: start, End: end, Text: text})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Start < out[j].Start })

	collapsed := out[:0]
	for _, s := range out {
		if n := len(collapsed); n > 0 && textsim.IsRepeat(collapsed[n-1].Text, s.Text) {
			collapsed[n-1].End = max(collapsed[n-1].End, s.End)
			continue
		}
		collapsed = append(collapsed, s)
	}
	return collapsed
}
