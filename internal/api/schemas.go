package api

import (
	"time"

	"github.com/shotchain/shotchain-agent/internal/plan"
	"github.com/shotchain/shotchain-agent/internal/run"
	"github.com/shotchain/shotchain-agent/internal/video"
)

type HealthResponse struct {
	Status   string `json:"status"`
	Version  string `json:"version"`
	UptimeS  int64  `json:"uptime_s"`
	DeviceID string `json:"device_id"`
}

type StatusResponse struct {
	State        string              `json:"state"`
	LastError    string              `json:"last_error,omitempty"`
	ActiveRunID  string              `json:"active_run_id,omitempty"`
	Capabilities *video.Capabilities `json:"capabilities,omitempty"`
}

type CreateRunRequest struct {
	Shots      []plan.Shot                    `json:"shots"`
	Selections map[string]plan.SelectionEntry `json:"selections"`
	FPS        float64                        `json:"fps,omitempty"`
	Width      int                            `json:"width,omitempty"`
	Height     int                            `json:"height,omitempty"`
}

type CreateRunResponse struct {
	RunID    string            `json:"run_id"`
	Segments []SegmentResponse `json:"segments"`
}

type RunResponse struct {
	ID        string            `json:"id"`
	Status    string            `json:"status"`
	Error     string            `json:"error,omitempty"`
	FPS       float64           `json:"fps"`
	Width     int               `json:"width,omitempty"`
	Height    int               `json:"height,omitempty"`
	LastVideo string            `json:"last_video,omitempty"`
	Log       []string          `json:"log,omitempty"`
	Segments  []SegmentResponse `json:"segments,omitempty"`
	CreatedAt string            `json:"created_at"`
	UpdatedAt string            `json:"updated_at"`
}

type RunsResponse struct {
	Runs []RunResponse `json:"runs"`
}

// SegmentResponse flattens the status into its wire form,
// "error: <message>" for failures and the bare kind otherwise.
type SegmentResponse struct {
	PlanID            string   `json:"plan_id"`
	ShotID            string   `json:"shot_id"`
	Index             int      `json:"segment_index"`
	Total             int      `json:"segment_total"`
	EffectiveDuration float64  `json:"effective_duration"`
	ClipName          string   `json:"clip_name"`
	StartFrame        string   `json:"start_frame,omitempty"`
	StartFrameSource  string   `json:"start_frame_source"`
	Ready             bool     `json:"ready"`
	Status            string   `json:"status"`
	OutputFiles       []string `json:"output_files,omitempty"`
	LastFrame         string   `json:"last_frame,omitempty"`
}

type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func RunToResponse(r *run.Run) RunResponse {
	return RunResponse{
		ID:        r.ID,
		Status:    r.Status,
		Error:     r.Error,
		FPS:       r.FPS,
		Width:     r.Width,
		Height:    r.Height,
		LastVideo: r.LastVideo,
		Log:       r.Log,
		CreatedAt: r.CreatedAt.Format(time.RFC3339),
		UpdatedAt: r.UpdatedAt.Format(time.RFC3339),
	}
}

func SegmentToResponse(s *plan.Segment) SegmentResponse {
	return SegmentResponse{
		PlanID:            s.PlanID,
		ShotID:            s.ShotID,
		Index:             s.Index,
		Total:             s.Total,
		EffectiveDuration: s.EffectiveDuration,
		ClipName:          s.ClipName,
		StartFrame:        s.StartFrame,
		StartFrameSource:  s.StartFrameSource,
		Ready:             s.Ready,
		Status:            s.Status.String(),
		OutputFiles:       s.OutputFiles,
		LastFrame:         s.LastFrame,
	}
}

func SegmentsToResponse(p *plan.GenerationPlan) []SegmentResponse {
	out := make([]SegmentResponse, len(p.Segments))
	for i, s := range p.Segments {
		out[i] = SegmentToResponse(s)
	}
	return out
}
