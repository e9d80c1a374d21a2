package plan

import (
	"math"
	"os"
)

// DefaultMaxSegmentSeconds bounds a single generation call. The backend
// model degrades or fails beyond this window.
const DefaultMaxSegmentSeconds = 3.0

// Builder splits shots into bounded-length segments and marks chain
// dependencies. Build is pure apart from the existence check on
// selection image paths.
type Builder struct {
	maxSegmentSeconds float64
}

func NewBuilder(maxSegmentSeconds float64) *Builder {
	if maxSegmentSeconds <= 0 {
		maxSegmentSeconds = DefaultMaxSegmentSeconds
	}
	return &Builder{maxSegmentSeconds: maxSegmentSeconds}
}

// Build produces the generation plan for a shot list. Selections may be
// incomplete: a shot with no selection, or a selection whose image no
// longer exists, yields a single placeholder segment instead of an
// error so the rest of the batch is unaffected.
func (b *Builder) Build(shots []Shot, selections map[string]SelectionEntry) *GenerationPlan {
	p := &GenerationPlan{}

	for _, shot := range shots {
		total := b.segmentCount(shot.Duration)

		sel, ok := selections[shot.ID]
		if !ok {
			p.Segments = append(p.Segments, placeholder(shot, total, StatusNoSelection))
			continue
		}
		startFrame := sel.Path()
		if _, err := os.Stat(startFrame); err != nil {
			p.Segments = append(p.Segments, placeholder(shot, total, StatusFrameMissing))
			continue
		}

		remaining := shot.Duration
		for i := 1; i <= total; i++ {
			segDur := math.Min(remaining, b.maxSegmentSeconds)
			remaining -= segDur

			seg := &Segment{
				PlanID:            suffixedID(shot.ID, i),
				ShotID:            shot.ID,
				ChainID:           shot.ID,
				Index:             i,
				Total:             total,
				Duration:          shot.Duration,
				RequestedDuration: segDur,
				EffectiveDuration: segDur,
				Width:             shot.Width,
				Height:            shot.Height,
				Prompt:            shot.Prompt,
				Motion:            shot.Motion,
				ClipName:          clipName(shot, i),
				NeedsExtension:    total > 1,
				Status:            SegmentStatus{Kind: StatusPending},
			}

			if i == 1 {
				seg.StartFrame = startFrame
				seg.StartFrameSource = SourceSelection
				seg.Ready = true
			} else {
				seg.StartFrameSource = SourceChainWait
			}

			p.Segments = append(p.Segments, seg)
		}
	}

	return p
}

func (b *Builder) segmentCount(duration float64) int {
	total := int(math.Ceil(duration / b.maxSegmentSeconds))
	if total < 1 {
		total = 1
	}
	return total
}

// suffixedID derives the plan ID: the shot ID for the first segment,
// then letter suffixes ("001", "001B", "001C", ...).
func suffixedID(shotID string, index int) string {
	if index <= 1 {
		return shotID
	}
	return shotID + string(rune('A'+index-1))
}

func clipName(shot Shot, index int) string {
	base := shot.Name
	if base == "" {
		base = shot.ID
	}
	if index <= 1 {
		return base
	}
	return base + string(rune('A'+index-1))
}

// placeholder carries the expected segment count so downstream
// reporting still shows what the shot would have produced.
func placeholder(shot Shot, total int, kind StatusKind) *Segment {
	return &Segment{
		PlanID:            shot.ID,
		ShotID:            shot.ID,
		ChainID:           shot.ID,
		Index:             1,
		Total:             total,
		Duration:          shot.Duration,
		RequestedDuration: shot.Duration,
		EffectiveDuration: shot.Duration,
		Width:             shot.Width,
		Height:            shot.Height,
		Prompt:            shot.Prompt,
		Motion:            shot.Motion,
		ClipName:          clipName(shot, 1),
		StartFrameSource:  SourceMissing,
		NeedsExtension:    total > 1,
		Status:            SegmentStatus{Kind: kind},
	}
}
