// Package plan defines the video generation plan: the decomposition of
// storyboard shots into bounded-length, chainable segments.
package plan

// Shot is one storyboard entry: a single continuous take with a target
// duration and prompt. Immutable once a plan is built from it.
type Shot struct {
	ID       string  `json:"id"`
	Name     string  `json:"name"`
	Prompt   string  `json:"prompt"`
	Motion   string  `json:"motion,omitempty"`
	Width    int     `json:"width"`
	Height   int     `json:"height"`
	Duration float64 `json:"duration"`
}

// SelectionEntry maps a shot to the keyframe image chosen for it in the
// keyframe selection stage. The selected image seeds the first segment
// of the shot's chain.
type SelectionEntry struct {
	ShotID     string `json:"shot_id"`
	SourcePath string `json:"source_path"`
	ExportPath string `json:"export_path,omitempty"`
}

// Path returns the usable image path, preferring the export copy.
func (e SelectionEntry) Path() string {
	if e.ExportPath != "" {
		return e.ExportPath
	}
	return e.SourcePath
}

// StatusKind is the segment execution state.
type StatusKind string

const (
	StatusPending         StatusKind = "pending"
	StatusCompleted       StatusKind = "completed"
	StatusGeneratedNoCopy StatusKind = "generated_no_copy"
	StatusError           StatusKind = "error"
	StatusNoSelection     StatusKind = "no_selection"
	StatusFrameMissing    StatusKind = "startframe_missing"
	StatusStopped         StatusKind = "stopped"
)

// IsTerminal reports whether the status represents a final state for
// the current run.
func (k StatusKind) IsTerminal() bool {
	return k != StatusPending
}

// SegmentStatus carries the status kind plus an optional message
// (populated for error statuses).
type SegmentStatus struct {
	Kind    StatusKind `json:"kind"`
	Message string     `json:"message,omitempty"`
}

// String renders the legacy wire form, "error: <message>" for errors
// and the bare kind otherwise.
func (s SegmentStatus) String() string {
	if s.Kind == StatusError && s.Message != "" {
		return "error: " + s.Message
	}
	return string(s.Kind)
}

// Errorf builds an error status.
func Errorf(message string) SegmentStatus {
	return SegmentStatus{Kind: StatusError, Message: message}
}

// Start frame provenance values.
const (
	SourceSelection = "selection"  // chosen keyframe, first segment only
	SourceChain     = "chain"      // extracted last frame of the predecessor
	SourceChainWait = "chain_wait" // waiting on the predecessor to complete
	SourceMissing   = "missing"
)

// Segment is one unit of video work: at most MaxSegmentSeconds of a
// shot, seeded by a start frame and chained to its successor through
// last-frame extraction.
type Segment struct {
	PlanID  string `json:"plan_id"`
	ShotID  string `json:"shot_id"`
	ChainID string `json:"chain_id"`

	Index int `json:"segment_index"` // 1-based
	Total int `json:"segment_total"`

	Duration          float64 `json:"duration"`           // full shot duration
	RequestedDuration float64 `json:"requested_duration"` // this segment, capped
	EffectiveDuration float64 `json:"effective_duration"` // used for frame count

	Width  int `json:"width"`
	Height int `json:"height"`

	Prompt   string `json:"prompt"`
	Motion   string `json:"motion,omitempty"`
	ClipName string `json:"clip_name"`

	StartFrame       string `json:"start_frame,omitempty"`
	StartFrameSource string `json:"start_frame_source"`
	Ready            bool   `json:"ready"`
	NeedsExtension   bool   `json:"needs_extension"`

	Status      SegmentStatus `json:"status"`
	OutputFiles []string      `json:"output_files,omitempty"`
	LastFrame   string        `json:"last_frame,omitempty"`
}

// IsLast reports whether this is the final segment of its chain.
func (s *Segment) IsLast() bool {
	return s.Index >= s.Total
}

// Clone returns a deep copy of the segment.
func (s *Segment) Clone() *Segment {
	c := *s
	if s.OutputFiles != nil {
		c.OutputFiles = append([]string(nil), s.OutputFiles...)
	}
	return &c
}

// GenerationPlan is the ordered collection of segments for one run.
// Order is shot order with each shot's chain contiguous, so a single
// forward pass visits every predecessor before its successor.
type GenerationPlan struct {
	Segments []*Segment `json:"segments"`
}

// ByPlanID returns the segment with the given plan ID, or nil.
func (p *GenerationPlan) ByPlanID(planID string) *Segment {
	for _, s := range p.Segments {
		if s.PlanID == planID {
			return s
		}
	}
	return nil
}

// ByShot returns the segments of one shot's chain, in chain order.
func (p *GenerationPlan) ByShot(shotID string) []*Segment {
	var out []*Segment
	for _, s := range p.Segments {
		if s.ShotID == shotID {
			out = append(out, s)
		}
	}
	return out
}

// Successor returns the next segment in seg's chain, or nil if seg is
// the last.
func (p *GenerationPlan) Successor(seg *Segment) *Segment {
	if seg.IsLast() {
		return nil
	}
	for _, s := range p.ByShot(seg.ShotID) {
		if s.Index == seg.Index+1 {
			return s
		}
	}
	return nil
}

// Clone returns a deep copy. The execution service works on a copy so
// the built plan stays available for inspection and retry.
func (p *GenerationPlan) Clone() *GenerationPlan {
	c := &GenerationPlan{Segments: make([]*Segment, len(p.Segments))}
	for i, s := range p.Segments {
		c.Segments[i] = s.Clone()
	}
	return c
}
