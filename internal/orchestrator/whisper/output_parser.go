package whisper

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

// engineDocument covers the whole-result shapes engines print:
// faster-whisper/openai style {language, segments:[{start,end,text}]} and
// whisper.cpp -oj style {result:{language}, transcription:[{offsets:{from,to},text}]}.
type engineDocument struct {
	Language string                 `json:"language"`
	Text     string                 `json:"text"`
	Duration float64                `json:"duration"`
	Segments []TranscriptionSegment `json:"segments"`

	Result *struct {
		Language string `json:"language"`
	} `json:"result"`
	Transcription []struct {
		Offsets struct {
			From int64 `json:"from"`
			To   int64 `json:"to"`
		} `json:"offsets"`
		Text string `json:"text"`
	} `json:"transcription"`
}

// ParseEngineOutput decodes engine stdout. It accepts one result document, a
// JSON array of segments, or a stream of segment objects (pretty-printed or JSONL).
// Empty output yields an empty result.
func ParseEngineOutput(out []byte) (*TranscriptionResult, error) {
	result := &TranscriptionResult{Segments: []TranscriptionSegment{}}

	dec := json.NewDecoder(bytes.NewReader(out))
	for {
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("failed to parse engine output: %w", err)
		}

		raw = bytes.TrimSpace(raw)
		if len(raw) == 0 {
			continue
		}

		if raw[0] == '[' {
			var segs []TranscriptionSegment
			if err := json.Unmarshal(raw, &segs); err != nil {
				return nil, fmt.Errorf("failed to parse segment array: %w", err)
			}
			result.Segments = append(result.Segments, segs...)
			continue
		}

		var keys map[string]json.RawMessage
		if err := json.Unmarshal(raw, &keys); err != nil {
			return nil, fmt.Errorf("unexpected engine output value: %w", err)
		}
		_, hasSegments := keys["segments"]
		_, hasTranscription := keys["transcription"]

		if !hasSegments && !hasTranscription {
			var seg TranscriptionSegment
			if err := json.Unmarshal(raw, &seg); err != nil {
				return nil, fmt.Errorf("failed to parse JSON segment: %w", err)
			}
			result.Segments = append(result.Segments, seg)
			continue
		}

		var doc engineDocument
		if err := json.Unmarshal(raw, &doc); err != nil {
			return nil, fmt.Errorf("failed to parse engine document: %w", err)
		}
		result.Segments = append(result.Segments, doc.Segments...)
		for _, t := range doc.Transcription {
			result.Segments = append(result.Segments, TranscriptionSegment{
				Start: float64(t.Offsets.From) / 1000,
				End:   float64(t.Offsets.To) / 1000,
				Text:  t.Text,
			})
		}
		if doc.Language != "" {
			result.Language = doc.Language
		} else if doc.Result != nil && doc.Result.Language != "" {
			result.Language = doc.Result.Language
		}
		if doc.Duration > 0 {
			result.Duration = doc.Duration
		}
		result.Text = doc.Text
	}

	if result.Text == "" {
		parts := make([]string, 0, len(result.Segments))
		for _, s := range result.Segments {
			if t := strings.TrimSpace(s.Text); t != "" {
				parts = append(parts, t)
			}
		}
		result.Text = strings.Join(parts, " ")
	}
	for i := range result.Segments {
		result.Segments[i].ID = i
	}
	return result, nil
}
