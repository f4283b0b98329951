package output

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/houzhh15/chunkscribe/internal/merger"
	"github.com/houzhh15/chunkscribe/internal/pipeline"
	"github.com/houzhh15/chunkscribe/internal/transcript"
)

func sample() merger.MergedTranscript {
	return merger.MergedTranscript{
		Language: "en",
		Segments: []transcript.Segment{
			{Start: 0, End: 2.5, Text: "hello there"},
			{Start: 3661.007, End: 3663, Text: "an hour later"},
		},
		Stats: merger.Stats{InputSegments: 3, OutputSegments: 2},
	}
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in      string
		want    Format
		wantErr bool
	}{
		{"text", FormatText, false},
		{"", FormatText, false},
		{"SRT", FormatSRT, false},
		{" vtt ", FormatVTT, false},
		{"json", FormatJSON, false},
		{"docx", "", true},
	}
	for _, tt := range tests {
		got, err := ParseFormat(tt.in)
		if tt.wantErr {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got)
	}
}

func TestFormatTimestamp(t *testing.T) {
	assert.Equal(t, "00:00:00.000", formatTimestamp(0, '.'))
	assert.Equal(t, "01:01:01.007", formatTimestamp(3661.007, '.'))
	assert.Equal(t, "00:00:02,500", formatTimestamp(2.5, ','))
	assert.Equal(t, "00:00:00.000", formatTimestamp(-1, '.'))
}

func TestWriteText(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, FormatText, sample(), nil))

	want := "[00:00:00.000 --> 00:00:02.500] hello there\n" +
		"[01:01:01.007 --> 01:01:03.000] an hour later\n"
	assert.Equal(t, want, buf.String())
}

func TestWriteSRT(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, FormatSRT, sample(), nil))

	out := buf.String()
	assert.True(t, strings.HasPrefix(out, "1\n00:00:00,000 --> 00:00:02,500\nhello there\n\n2\n"))
	assert.Contains(t, out, "01:01:01,007 --> 01:01:03,000\nan hour later\n")
}

func TestWriteVTT(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, FormatVTT, sample(), nil))

	out := buf.String()
	assert.True(t, strings.HasPrefix(out, "WEBVTT\n\n00:00:00.000 --> 00:00:02.500\nhello there\n\n"))
}

func TestWriteJSONIncludesMetadata(t *testing.T) {
	var buf bytes.Buffer
	meta := &pipeline.Metadata{RunID: "run-1", ChunksPlanned: 4, ChunksSucceeded: 3, SuccessRate: 0.75}
	require.NoError(t, Write(&buf, FormatJSON, sample(), meta))

	var doc Document
	require.NoError(t, json.Unmarshal(buf.Bytes(), &doc))
	assert.Equal(t, "en", doc.Language)
	assert.Len(t, doc.Segments, 2)
	assert.Equal(t, "hello there an hour later", doc.Text)
	require.NotNil(t, doc.Metadata)
	assert.Equal(t, "run-1", doc.Metadata.RunID)
	assert.InDelta(t, 0.75, doc.Metadata.SuccessRate, 1e-9)
}

func TestWriteJSONEmptyTranscript(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, FormatJSON, merger.MergedTranscript{Language: "en"}, nil))
	assert.Contains(t, buf.String(), `"segments": []`)
	assert.NotContains(t, buf.String(), "metadata")
}

func TestWriteUnknownFormat(t *testing.T) {
	assert.Error(t, Write(&bytes.Buffer{}, Format("pdf"), sample(), nil))
}

func TestSRTRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, FormatSRT, sample(), nil))

	segs, err := ReadSRT(&buf)
	require.NoError(t, err)
	want := sample().Segments
	require.Len(t, segs, len(want))
	for i := range want {
		assert.Equal(t, want[i].Text, segs[i].Text)
		assert.InDelta(t, want[i].Start, segs[i].Start, 1e-6)
		assert.InDelta(t, want[i].End, segs[i].End, 1e-6)
	}
}

func TestReadVTT(t *testing.T) {
	in := "WEBVTT\n\nNOTE produced elsewhere\n\n00:01.500 --> 00:03.000\nfirst line\nsecond line\n\n01:00:00.000 --> 01:00:02.250\nlater\n"
	segs, err := ReadVTT(strings.NewReader(in))
	require.NoError(t, err)
	require.Len(t, segs, 2)
	assert.Equal(t, transcript.Segment{Start: 1.5, End: 3, Text: "first line second line"}, segs[0])
	assert.InDelta(t, 3600, segs[1].Start, 1e-9)
	assert.InDelta(t, 3602.25, segs[1].End, 1e-9)
}

func TestReadEmpty(t *testing.T) {
	_, err := ReadSRT(strings.NewReader("not subtitles"))
	assert.Error(t, err)
	_, err = ReadVTT(strings.NewReader("WEBVTT\n"))
	assert.Error(t, err)
}
