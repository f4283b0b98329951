// Package merger fuses per-chunk transcriptions into one ordered, non-overlapping transcript.
//
// The merge runs in four passes over the pooled segments:
//
//  1. overlap resolution: long overlaps are fused, short ones split at the midpoint
//  2. duplicate removal: near-identical text heard by two chunks is kept once
//  3. gap filling: small silences between neighbours are closed
//  4. cleanup: clamp, round, clip, drop fragments and close gaps again
//
// Running Merge on its own output yields the same output.
package merger

import (
	"math"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/houzhh15/chunkscribe/internal/coordinator"
	"github.com/houzhh15/chunkscribe/internal/textsim"
	"github.com/houzhh15/chunkscribe/internal/transcript"
)

// Config holds merge thresholds. Times are in seconds.
type Config struct {
	OverlapToleranceSec  float64 `yaml:"overlap_tolerance_sec"`
	DuplicateThreshold   float64 `yaml:"duplicate_threshold"`
	DuplicateLookbackSec float64 `yaml:"duplicate_lookback_sec"`
	MaxGapFillSec        float64 `yaml:"max_gap_fill_sec"`
	MinSegmentSec        float64 `yaml:"min_segment_sec"`
	IdealSegmentSec      float64 `yaml:"ideal_segment_sec"`
	MaxScoreChars        int     `yaml:"max_score_chars"`
	FallbackLanguage     string  `yaml:"fallback_language"`
}

// DefaultConfig returns the production thresholds.
func DefaultConfig() Config {
	return Config{
		OverlapToleranceSec:  5,
		DuplicateThreshold:   0.8,
		DuplicateLookbackSec: 30,
		MaxGapFillSec:        2,
		MinSegmentSec:        1,
		IdealSegmentSec:      5,
		MaxScoreChars:        200,
		FallbackLanguage:     "en",
	}
}

// Stats counts what each pass changed.
type Stats struct {
	InputSegments     int `json:"input_segments"`
	OverlapsMerged    int `json:"overlaps_merged"`
	BoundariesSplit   int `json:"boundaries_split"`
	DuplicatesRemoved int `json:"duplicates_removed"`
	GapsFilled        int `json:"gaps_filled"`
	DroppedInCleanup  int `json:"dropped_in_cleanup"`
	OutputSegments    int `json:"output_segments"`
}

// MergedTranscript is the fused result.
type MergedTranscript struct {
	Language string               `json:"language"`
	Segments []transcript.Segment `json:"segments"`
	Stats    Stats                `json:"stats"`
}

// Merger is stateless apart from its configuration and safe for concurrent use.
type Merger struct {
	cfg Config
}

// New creates a Merger. Zero-valued fields fall back to DefaultConfig.
func New(cfg Config) *Merger {
	def := DefaultConfig()
	if cfg.OverlapToleranceSec <= 0 {
		cfg.OverlapToleranceSec = def.OverlapToleranceSec
	}
	if cfg.DuplicateThreshold <= 0 || cfg.DuplicateThreshold > 1 {
		cfg.DuplicateThreshold = def.DuplicateThreshold
	}
	if cfg.DuplicateLookbackSec <= 0 {
		cfg.DuplicateLookbackSec = def.DuplicateLookbackSec
	}
	if cfg.MaxGapFillSec < 0 {
		cfg.MaxGapFillSec = def.MaxGapFillSec
	}
	if cfg.MinSegmentSec <= 0 {
		cfg.MinSegmentSec = def.MinSegmentSec
	}
	if cfg.IdealSegmentSec <= 0 {
		cfg.IdealSegmentSec = def.IdealSegmentSec
	}
	if cfg.MaxScoreChars <= 0 {
		cfg.MaxScoreChars = def.MaxScoreChars
	}
	if strings.TrimSpace(cfg.FallbackLanguage) == "" {
		cfg.FallbackLanguage = def.FallbackLanguage
	}
	return &Merger{cfg: cfg}
}

// Config returns the effective configuration.
func (m *Merger) Config() Config { return m.cfg }

// item 是合并过程中的工作单元，保留来源切片信息与原始时间跨度
type item struct {
	seg        transcript.Segment
	origStart  float64
	origEnd    float64
	chunkIndex int
	segIndex   int
	chunkStart float64
	chunkEnd   float64
}

// Merge fuses chunk results into a single transcript. totalSec <= 0 disables clamping.
// Skipped or failed chunks contribute no segments but their language is ignored too.
func (m *Merger) Merge(results []coordinator.ChunkTranscriptResult, totalSec float64) MergedTranscript {
	var stats Stats
	items := m.collect(results, &stats)

	items = m.resolveOverlaps(items, &stats)
	items = m.removeDuplicates(items, &stats)
	m.fillGaps(items, &stats)
	items = m.cleanup(items, totalSec, &stats)

	segs := make([]transcript.Segment, len(items))
	for i, it := range items {
		segs[i] = it.seg
	}
	stats.OutputSegments = len(segs)

	return MergedTranscript{
		Language: VoteLanguage(results, m.cfg.FallbackLanguage),
		Segments: segs,
		Stats:    stats,
	}
}

// MergeSegments re-runs the merge over an already merged segment list.
func (m *Merger) MergeSegments(segs []transcript.Segment, language string, totalSec float64) MergedTranscript {
	end := totalSec
	for _, s := range segs {
		end = math.Max(end, s.End)
	}
	res := m.Merge([]coordinator.ChunkTranscriptResult{{
		ChunkIndex: 0,
		ChunkStart: 0,
		ChunkEnd:   end,
		Language:   language,
		Segments:   segs,
		Attempts:   1,
	}}, totalSec)
	return res
}

func (m *Merger) collect(results []coordinator.ChunkTranscriptResult, stats *Stats) []item {
	var items []item
	for _, r := range results {
		if !r.Succeeded() {
			continue
		}
		for j, s := range r.Segments {
			stats.InputSegments++
			text := strings.TrimSpace(s.Text)
			if text == "" || s.End <= s.Start {
				stats.DroppedInCleanup++
				continue
			}
			s.Text = text
			items = append(items, item{
				seg:        s,
				origStart:  s.Start,
				origEnd:    s.End,
				chunkIndex: r.ChunkIndex,
				segIndex:   j,
				chunkStart: r.ChunkStart,
				chunkEnd:   r.ChunkEnd,
			})
		}
	}
	sortItems(items)
	return items
}

func sortItems(items []item) {
	sort.SliceStable(items, func(i, j int) bool {
		a, b := items[i], items[j]
		if a.seg.Start != b.seg.Start {
			return a.seg.Start < b.seg.Start
		}
		if a.seg.End != b.seg.End {
			return a.seg.End < b.seg.End
		}
		if a.chunkIndex != b.chunkIndex {
			return a.chunkIndex < b.chunkIndex
		}
		return a.segIndex < b.segIndex
	})
}

// resolveOverlaps 第一阶段：长重叠融合，短重叠在中点切开
func (m *Merger) resolveOverlaps(items []item, stats *Stats) []item {
	out := make([]item, 0, len(items))
	for _, cand := range items {
		if len(out) == 0 {
			out = append(out, cand)
			continue
		}
		last := &out[len(out)-1]
		overlap := math.Min(last.seg.End, cand.seg.End) - math.Max(last.seg.Start, cand.seg.Start)
		if overlap <= 0 {
			out = append(out, cand)
			continue
		}

		// 一段完全落在另一段内部时视为同一句话
		contained := overlap >= cand.seg.Duration()-1e-9 || overlap >= last.seg.Duration()-1e-9
		if overlap > m.cfg.OverlapToleranceSec || contained {
			*last = m.fuse(*last, cand)
			stats.OverlapsMerged++
			continue
		}

		mid := (math.Max(last.seg.Start, cand.seg.Start) + math.Min(last.seg.End, cand.seg.End)) / 2
		last.seg.End = mid
		cand.seg.Start = mid
		out = append(out, cand)
		stats.BoundariesSplit++
	}
	return out
}

// fuse 以质量分高者为主，时间取并集，文本按词缝合
func (m *Merger) fuse(a, b item) item {
	primary, secondary := a, b
	if m.score(b) > m.score(a) {
		primary, secondary = b, a
	}
	merged := primary
	merged.seg.Start = math.Min(a.seg.Start, b.seg.Start)
	merged.seg.End = math.Max(a.seg.End, b.seg.End)
	merged.origStart = math.Min(a.origStart, b.origStart)
	merged.origEnd = math.Max(a.origEnd, b.origEnd)
	merged.seg.Text = stitch(primary.seg.Text, secondary.seg.Text, secondary.seg.Start < primary.seg.Start)
	return merged
}

// score rates a segment: 0.4 text length, 0.3 closeness to the ideal duration,
// 0.3 distance from the edges of its source chunk.
func (m *Merger) score(it item) float64 {
	chars := math.Min(float64(utf8.RuneCountInString(it.seg.Text)), float64(m.cfg.MaxScoreChars))
	length := chars / float64(m.cfg.MaxScoreChars)

	dur := it.origEnd - it.origStart
	closeness := 1 / (1 + math.Abs(dur-m.cfg.IdealSegmentSec)/m.cfg.IdealSegmentSec)

	centrality := 0.0
	if span := it.chunkEnd - it.chunkStart; span > 0 {
		rel := ((it.origStart+it.origEnd)/2 - it.chunkStart) / span
		centrality = clamp01(1 - math.Abs(rel-0.5)*2)
	}

	return 0.4*length + 0.3*closeness + 0.3*centrality
}

// removeDuplicates 第二阶段：回看窗口内原始时间相交且词集相似的后者丢弃
func (m *Merger) removeDuplicates(items []item, stats *Stats) []item {
	out := make([]item, 0, len(items))
	for _, cand := range items {
		dup := false
		for j := len(out) - 1; j >= 0; j-- {
			prev := out[j]
			if prev.seg.End < cand.seg.Start-m.cfg.DuplicateLookbackSec {
				break
			}
			if !spansOverlap(prev.origStart, prev.origEnd, cand.origStart, cand.origEnd) {
				continue
			}
			if textsim.Jaccard(prev.seg.Text, cand.seg.Text) >= m.cfg.DuplicateThreshold {
				dup = true
				break
			}
		}
		if dup {
			stats.DuplicatesRemoved++
			continue
		}
		out = append(out, cand)
	}
	return out
}

// fillGaps 第三阶段：把不超过阈值的静音缝隙并入前一段
func (m *Merger) fillGaps(items []item, stats *Stats) {
	for i := 0; i+1 < len(items); i++ {
		gap := items[i+1].seg.Start - items[i].seg.End
		if gap > 0 && gap <= m.cfg.MaxGapFillSec {
			items[i].seg.End = items[i+1].seg.Start
			stats.GapsFilled++
		}
	}
}

// cleanup 第四阶段
func (m *Merger) cleanup(items []item, totalSec float64, stats *Stats) []item {
	kept := items[:0]
	for _, it := range items {
		it.seg.Text = strings.Join(strings.Fields(it.seg.Text), " ")
		if it.seg.Start < 0 {
			it.seg.Start = 0
		}
		if totalSec > 0 {
			if it.seg.Start >= totalSec {
				stats.DroppedInCleanup++
				continue
			}
			it.seg.End = math.Min(it.seg.End, totalSec)
		}
		it.seg.Start = transcript.RoundMillis(it.seg.Start)
		it.seg.End = transcript.RoundMillis(it.seg.End)
		kept = append(kept, it)
	}
	sortItems(kept)

	out := make([]item, 0, len(kept))
	for _, it := range kept {
		if n := len(out); n > 0 && it.seg.Start < out[n-1].seg.End {
			it.seg.Start = out[n-1].seg.End
		}
		if it.seg.Text == "" || it.seg.Duration() < m.cfg.MinSegmentSec-1e-9 {
			stats.DroppedInCleanup++
			continue
		}
		out = append(out, it)
	}

	// 丢弃片段后可能留下新的小缝隙
	m.fillGaps(out, stats)
	return out
}

// VoteLanguage returns the most frequent language among successful chunks.
// Ties and an empty vote resolve to fallback.
func VoteLanguage(results []coordinator.ChunkTranscriptResult, fallback string) string {
	counts := make(map[string]int)
	for _, r := range results {
		if !r.Succeeded() {
			continue
		}
		lang := strings.ToLower(strings.TrimSpace(r.Language))
		if lang == "" || lang == "auto" || lang == "unknown" {
			continue
		}
		counts[lang]++
	}

	best, bestN, tie := "", 0, false
	for lang, n := range counts {
		switch {
		case n > bestN:
			best, bestN, tie = lang, n, false
		case n == bestN:
			tie = true
		}
	}
	if best == "" || tie {
		return fallback
	}
	return best
}

func spansOverlap(aStart, aEnd, bStart, bEnd float64) bool {
	return aStart < bEnd && bStart < aEnd
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
