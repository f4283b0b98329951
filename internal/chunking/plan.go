// Package chunking plans overlapping audio windows and extracts them as normalized WAV files.
package chunking

import (
	"errors"
	"fmt"
	"math"

	"github.com/houzhh15/chunkscribe/internal/transcript"
)

var (
	// ErrDurationUnknown 无法确定音频时长
	ErrDurationUnknown = errors.New("audio duration unknown")
	// ErrNoChunks 规划或提取后没有可用切片
	ErrNoChunks = errors.New("no chunks survived planning")
)

// Tier maps a total-duration band to a window size and overlap.
// MaxTotalSec <= 0 marks the open-ended last band.
type Tier struct {
	Name         string  `yaml:"name"`
	MaxTotalSec  float64 `yaml:"max_total_sec"`
	ChunkSizeSec float64 `yaml:"chunk_size_sec"`
	OverlapSec   float64 `yaml:"overlap_sec"`
}

// PlannerConfig holds the planning knobs.
type PlannerConfig struct {
	Tiers                  []Tier  `yaml:"tiers"`
	MaxChunks              int     `yaml:"max_chunks"`
	MinViableSec           float64 `yaml:"min_viable_sec"`
	SingleShotThresholdSec float64 `yaml:"single_shot_threshold_sec"`
}

// DefaultPlannerConfig returns the short/medium/long/ultra bands.
func DefaultPlannerConfig() PlannerConfig {
	return PlannerConfig{
		Tiers: []Tier{
			{Name: "short", MaxTotalSec: 10 * 60, ChunkSizeSec: 120, OverlapSec: 5},
			{Name: "medium", MaxTotalSec: 30 * 60, ChunkSizeSec: 300, OverlapSec: 8},
			{Name: "long", MaxTotalSec: 2 * 60 * 60, ChunkSizeSec: 600, OverlapSec: 10},
			{Name: "ultra", ChunkSizeSec: 900, OverlapSec: 15},
		},
		MaxChunks:              40,
		MinViableSec:           10,
		SingleShotThresholdSec: 90,
	}
}

// Validate checks the tier table and limits.
func (c PlannerConfig) Validate() error {
	if len(c.Tiers) == 0 {
		return errors.New("planner: at least one tier is required")
	}
	if c.MaxChunks < 1 {
		return fmt.Errorf("planner: max_chunks must be >= 1, got %d", c.MaxChunks)
	}
	prev := 0.0
	for i, t := range c.Tiers {
		if t.ChunkSizeSec <= 0 {
			return fmt.Errorf("planner: tier %d chunk_size_sec must be > 0", i)
		}
		if t.OverlapSec < 0 || t.OverlapSec >= t.ChunkSizeSec {
			return fmt.Errorf("planner: tier %d overlap_sec must be in [0, chunk_size_sec)", i)
		}
		last := i == len(c.Tiers)-1
		if !last && t.MaxTotalSec <= prev {
			return fmt.Errorf("planner: tier %d max_total_sec must ascend", i)
		}
		prev = t.MaxTotalSec
	}
	return nil
}

// Window is one planned time range.
type Window struct {
	Index    int
	StartSec float64
	EndSec   float64
}

// DurationSec returns EndSec - StartSec.
func (w Window) DurationSec() float64 {
	return w.EndSec - w.StartSec
}

// Plan is the result of PlanWindows.
type Plan struct {
	TierName     string
	ChunkSizeSec float64
	OverlapSec   float64
	Windows      []Window
}

// TierFor returns the first band whose ceiling covers sec.
func (c PlannerConfig) TierFor(sec float64) Tier {
	for _, t := range c.Tiers {
		if t.MaxTotalSec <= 0 || sec <= t.MaxTotalSec {
			return t
		}
	}
	return c.Tiers[len(c.Tiers)-1]
}

// PlanWindows computes overlapping windows covering [0, totalSec].
//
// sizingHintSec selects the tier (totalSec when <= 0). The count never exceeds
// cfg.MaxChunks: when the tier's size would produce more windows, the size grows
// to ceil((total-overlap)/MaxChunks) + overlap. A trailing window shorter than
// MinViableSec is folded into its predecessor, which is extended to totalSec.
func PlanWindows(totalSec, sizingHintSec float64, cfg PlannerConfig) (Plan, error) {
	if math.IsNaN(totalSec) || math.IsInf(totalSec, 0) || totalSec <= 0 {
		return Plan{}, fmt.Errorf("%w: invalid total %v", ErrDurationUnknown, totalSec)
	}
	if err := cfg.Validate(); err != nil {
		return Plan{}, err
	}
	if sizingHintSec <= 0 {
		sizingHintSec = totalSec
	}

	tier := cfg.TierFor(sizingHintSec)
	size, overlap := tier.ChunkSizeSec, tier.OverlapSec

	step := size - overlap
	if naive := windowCount(totalSec, size, step); naive > cfg.MaxChunks {
		step = math.Ceil((totalSec - overlap) / float64(cfg.MaxChunks))
		size = step + overlap
	}

	plan := Plan{TierName: tier.Name, ChunkSizeSec: size, OverlapSec: overlap}

	for start := 0.0; ; start += step {
		end := math.Min(start+size, totalSec)
		plan.Windows = append(plan.Windows, Window{
			Index:    len(plan.Windows),
			StartSec: transcript.RoundMillis(start),
			EndSec:   transcript.RoundMillis(end),
		})
		if end >= totalSec {
			break
		}
	}

	n := len(plan.Windows)
	if n > 1 && plan.Windows[n-1].DurationSec() < cfg.MinViableSec {
		plan.Windows = plan.Windows[:n-1]
		plan.Windows[n-2].EndSec = transcript.RoundMillis(totalSec)
	}

	return plan, nil
}

// windowCount is the number of windows a sliding plan produces before tail folding.
func windowCount(total, size, step float64) int {
	if total <= size {
		return 1
	}
	return int(math.Ceil((total-size)/step)) + 1
}
