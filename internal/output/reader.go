package output

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"

	"github.com/houzhh15/chunkscribe/internal/transcript"
)

var (
	reSrtTime = regexp.MustCompile(`^(\d+):(\d\d):(\d\d),(\d\d\d)\s+-->\s+(\d+):(\d\d):(\d\d),(\d\d\d)`)
	reVttTime = regexp.MustCompile(`^(?:(\d+):)?(\d\d):(\d\d)\.(\d\d\d)\s+-->\s+(?:(\d+):)?(\d\d):(\d\d)\.(\d\d\d)`)
)

// ReadSRT parses SRT cues. Multi-line cue text is joined with spaces.
func ReadSRT(r io.Reader) ([]transcript.Segment, error) {
	segs, err := readCues(r, reSrtTime)
	if err != nil {
		return nil, err
	}
	if len(segs) == 0 {
		return nil, errors.New("no segments in SRT")
	}
	return segs, nil
}

// ReadVTT parses WebVTT cues; the hour field is optional as in the format.
func ReadVTT(r io.Reader) ([]transcript.Segment, error) {
	segs, err := readCues(r, reVttTime)
	if err != nil {
		return nil, err
	}
	if len(segs) == 0 {
		return nil, errors.New("no segments in VTT")
	}
	return segs, nil
}

func readCues(r io.Reader, timing *regexp.Regexp) ([]transcript.Segment, error) {
	scanner := bufio.NewScanner(r)
	var segs []transcript.Segment
	for scanner.Scan() {
		m := timing.FindStringSubmatch(strings.TrimSpace(scanner.Text()))
		if m == nil {
			// 序号行、WEBVTT 头与注释都会落到这里
			continue
		}
		start := hmsToSeconds(m[1], m[2], m[3], m[4])
		end := hmsToSeconds(m[5], m[6], m[7], m[8])

		var lines []string
		for scanner.Scan() {
			l := strings.TrimSpace(scanner.Text())
			if l == "" {
				break
			}
			lines = append(lines, l)
		}
		segs = append(segs, transcript.Segment{Start: start, End: end, Text: strings.Join(lines, " ")})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read cues: %w", err)
	}
	return segs, nil
}

func hmsToSeconds(hh, mm, ss, ms string) float64 {
	h, _ := strconv.Atoi(hh)
	m, _ := strconv.Atoi(mm)
	s, _ := strconv.Atoi(ss)
	milli, _ := strconv.Atoi(ms)
	return float64(h*3600+m*60+s) + float64(milli)/1000
}
