package coordinator

import "github.com/houzhh15/chunkscribe/internal/transcript"

// ChunkTranscriptResult is the outcome of one chunk. Segments carry absolute times.
type ChunkTranscriptResult struct {
	ChunkIndex int                  `json:"chunk_index"`
	ChunkStart float64              `json:"chunk_start"`
	ChunkEnd   float64              `json:"chunk_end"`
	Language   string               `json:"language,omitempty"`
	Segments   []transcript.Segment `json:"segments"`
	Error      string               `json:"error,omitempty"`
	Skipped    bool                 `json:"skipped,omitempty"`
	TimedOut   bool                 `json:"timed_out,omitempty"`
	Attempts   int                  `json:"attempts"`
}

// Succeeded reports whether the chunk produced a usable transcription.
func (r ChunkTranscriptResult) Succeeded() bool {
	return !r.Skipped && r.Error == ""
}

// ChunkError describes a chunk that failed or was skipped.
type ChunkError struct {
	ChunkIndex int    `json:"chunk_index"`
	Attempts   int    `json:"attempts"`
	Timeout    bool   `json:"timeout"`
	Message    string `json:"message"`
}

// BatchResult collects every chunk outcome in chunk order.
type BatchResult struct {
	Results     []ChunkTranscriptResult `json:"results"`
	Errors      []ChunkError            `json:"errors,omitempty"`
	SuccessRate float64                 `json:"success_rate"`
}

// Skipped returns the number of chunks that did not succeed.
func (b *BatchResult) Skipped() int {
	n := 0
	for _, r := range b.Results {
		if !r.Succeeded() {
			n++
		}
	}
	return n
}
