package export

import (
	"math"

	"github.com/shotchain/shotchain-agent/internal/plan"
)

// Clip is one cut in the assembled timeline: a generated segment's
// relocated output, used in full.
type Clip struct {
	Name       string
	MediaPath  string
	DurationMs int
}

// ClipsFromPlan collects the exportable clips of an executed plan, in
// plan order. Only completed segments with a relocated output make the
// cut; everything else is reported by plan ID so callers can surface
// the gaps.
func ClipsFromPlan(p *plan.GenerationPlan) (clips []Clip, unresolved []string) {
	for _, seg := range p.Segments {
		if seg.Status.Kind == plan.StatusCompleted && len(seg.OutputFiles) > 0 {
			clips = append(clips, Clip{
				Name:       seg.ClipName,
				MediaPath:  seg.OutputFiles[0],
				DurationMs: int(math.Round(seg.EffectiveDuration * 1000)),
			})
			continue
		}
		unresolved = append(unresolved, seg.PlanID)
	}
	return clips, unresolved
}
