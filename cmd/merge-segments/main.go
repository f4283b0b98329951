package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/houzhh15/chunkscribe/internal/config"
	"github.com/houzhh15/chunkscribe/internal/coordinator"
	"github.com/houzhh15/chunkscribe/internal/merger"
	"github.com/houzhh15/chunkscribe/internal/output"
	"github.com/houzhh15/chunkscribe/internal/transcript"
)

func main() {
	var resultsFile, segmentsFile, configFile, language, format string
	var totalSec float64
	flag.Usage = func() {
		exe := filepath.Base(os.Args[0])
		fmt.Fprintf(os.Stderr, "Usage: %s (-results-file <chunks.(json|ndjson)> | -segments-file <transcript.(json|srt|vtt)>) [-total <sec>] [-format text|json|srt|vtt]\n\n", exe)
		fmt.Fprintln(os.Stderr, "Options:")
		flag.PrintDefaults()
	}
	flag.StringVar(&resultsFile, "results-file", "", "Saved per-chunk results (batch object, array or NDJSON)")
	flag.StringVar(&segmentsFile, "segments-file", "", "Already merged segments to re-merge (json/srt/vtt)")
	flag.StringVar(&configFile, "config", "", "YAML config whose merger section overrides the defaults")
	flag.StringVar(&language, "language", "", "Language for -segments-file input, or to override the vote")
	flag.StringVar(&format, "format", "text", "Output format: text|json|srt|vtt")
	flag.Float64Var(&totalSec, "total", 0, "Recording length in seconds (default: latest end time in the input)")
	flag.Parse()

	if (resultsFile == "") == (segmentsFile == "") {
		flag.Usage()
		os.Exit(2)
	}
	outFormat, err := output.ParseFormat(format)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.Load(configFile)
	if err != nil {
		fmt.Fprintln(os.Stderr, "load config:", err)
		os.Exit(1)
	}
	m := merger.New(cfg.Merger)

	var merged merger.MergedTranscript
	if resultsFile != "" {
		results, err := parseResultsFromFile(resultsFile)
		if err != nil {
			fmt.Fprintln(os.Stderr, "read results:", err)
			os.Exit(1)
		}
		if totalSec <= 0 {
			totalSec = latestResultEnd(results)
		}
		merged = m.Merge(results, totalSec)
		if language != "" {
			merged.Language = language
		}
	} else {
		segs, err := parseSegmentsFromFile(segmentsFile)
		if err != nil {
			fmt.Fprintln(os.Stderr, "read segments:", err)
			os.Exit(1)
		}
		if totalSec <= 0 {
			totalSec = latestSegmentEnd(segs)
		}
		if language == "" {
			language = cfg.Merger.FallbackLanguage
		}
		merged = m.MergeSegments(segs, language, totalSec)
	}

	if len(merged.Segments) == 0 {
		fmt.Fprintln(os.Stderr, "no segments after merge")
	}
	if err := output.Write(os.Stdout, outFormat, merged, nil); err != nil {
		fmt.Fprintln(os.Stderr, "write:", err)
		os.Exit(1)
	}
}

// parseResultsFromFile accepts a {"results": [...]} batch, a JSON array, or
// one result object per line (and concatenated objects in general).
func parseResultsFromFile(path string) ([]coordinator.ChunkTranscriptResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, errors.New("empty file")
	}

	if data[0] == '[' {
		var arr []coordinator.ChunkTranscriptResult
		if err := json.Unmarshal(data, &arr); err != nil {
			return nil, fmt.Errorf("parse results array: %w", err)
		}
		return arr, nil
	}

	var batch coordinator.BatchResult
	if err := json.Unmarshal(data, &batch); err == nil && batch.Results != nil {
		return batch.Results, nil
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	var out []coordinator.ChunkTranscriptResult
	for {
		var r coordinator.ChunkTranscriptResult
		if err := dec.Decode(&r); err == io.EOF {
			break
		} else if err != nil {
			return nil, fmt.Errorf("parse result %d: %w", len(out)+1, err)
		}
		out = append(out, r)
	}
	if len(out) == 0 {
		return nil, errors.New("no chunk results found")
	}
	return out, nil
}

// parseSegmentsFromFile reads SRT or VTT by extension (or header), otherwise
// a JSON document with a "segments" array or a bare array of segments.
func parseSegmentsFromFile(path string) ([]transcript.Segment, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	br := bufio.NewReader(f)
	head, _ := br.Peek(16)
	switch ext := strings.ToLower(filepath.Ext(path)); {
	case ext == ".srt":
		return output.ReadSRT(br)
	case ext == ".vtt" || bytes.HasPrefix(head, []byte("WEBVTT")):
		return output.ReadVTT(br)
	}

	data, err := io.ReadAll(br)
	if err != nil {
		return nil, err
	}
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '[' {
		var segs []transcript.Segment
		if err := json.Unmarshal(data, &segs); err != nil {
			return nil, fmt.Errorf("parse segments array: %w", err)
		}
		return segs, nil
	}
	var doc output.Document
	if err := json.Unmarshal(data, &doc); err != nil {
		// 既不是 JSON 也没有扩展名时按 SRT 尝试
		if segs, srtErr := output.ReadSRT(bytes.NewReader(data)); srtErr == nil {
			return segs, nil
		}
		return nil, fmt.Errorf("unrecognized segments format: %w", err)
	}
	if len(doc.Segments) == 0 {
		return nil, errors.New("no segments in JSON")
	}
	return doc.Segments, nil
}

func latestResultEnd(results []coordinator.ChunkTranscriptResult) float64 {
	end := 0.0
	for _, r := range results {
		end = max(end, r.ChunkEnd)
	}
	return end
}

func latestSegmentEnd(segs []transcript.Segment) float64 {
	end := 0.0
	for _, s := range segs {
		end = max(end, s.End)
	}
	return end
}
