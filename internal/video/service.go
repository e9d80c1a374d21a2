// Package video drives chained video generation: plan execution,
// artifact relocation, and last-frame propagation between segments.
package video

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"path/filepath"
	"time"

	"github.com/shotchain/shotchain-agent/internal/comfy"
	"github.com/shotchain/shotchain-agent/internal/plan"
)

// Backend is the generation job queue contract: submit a workflow,
// wait for a terminal state, move bytes for remote instances.
type Backend interface {
	SubmitWorkflow(ctx context.Context, wf comfy.Workflow) (string, error)
	Wait(ctx context.Context, promptID string, timeout time.Duration) (*comfy.JobResult, error)
	UploadImage(ctx context.Context, path string) (string, error)
	DownloadOutputs(ctx context.Context, promptID, destDir string) ([]string, error)
}

// Resolution is the optional global override; when set it wins over
// every segment's own dimensions.
type Resolution struct {
	Width  int
	Height int
}

// Result is the outcome of one generation pass.
type Result struct {
	Plan      *plan.GenerationPlan `json:"plan"`
	Log       []string             `json:"log"`
	LastVideo string               `json:"last_video,omitempty"`
}

type ServiceConfig struct {
	Backend   Backend
	Remote    bool // upload start frames, download outputs
	Files     *FileHandler
	Extractor FrameExtractor
	Cleanup   *CleanupService

	PollTimeout time.Duration
	Logger      *slog.Logger

	// OnSegment is called each time a segment reaches a terminal
	// status during the pass, so callers can persist progress while
	// the run is still going.
	OnSegment func(ctx context.Context, seg *plan.Segment)

	// Seed source and clock, overridable in tests.
	Seed func() int64
	Now  func() time.Time
}

// Service executes a generation plan against the backend. Processing
// is a single forward pass in plan order: the builder places each
// chain's segments consecutively, and propagation writes into the
// still-to-be-visited successor, so one pass resolves a whole chain.
type Service struct {
	cfg ServiceConfig
}

func NewService(cfg ServiceConfig) *Service {
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = 30 * time.Minute
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Seed == nil {
		cfg.Seed = func() int64 { return rand.Int63() }
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Service{cfg: cfg}
}

// Run executes one pass over the plan. It operates on a deep copy, so
// the caller's plan stays available for inspection and retry. Errors
// inside a segment never abort the pass: they are recorded on that
// segment and the loop moves on, because one shot's failure must not
// block unrelated shots. Only precondition failures return an error.
func (s *Service) Run(ctx context.Context, p *plan.GenerationPlan, template comfy.Workflow, fps float64, res *Resolution) (*Result, error) {
	if fps <= 0 {
		return nil, fmt.Errorf("fps must be positive, got %v", fps)
	}
	if len(template) == 0 {
		return nil, fmt.Errorf("workflow template is empty")
	}
	if !s.cfg.Remote {
		if err := s.cfg.Files.Validate(); err != nil {
			return nil, err
		}
	}

	working := p.Clone()
	result := &Result{Plan: working}

	// Archive leftovers once before the pass so a stale file from a
	// previous run is never mistaken for this run's output.
	if s.cfg.Cleanup != nil {
		if n, err := s.cfg.Cleanup.ArchiveStale(ctx); err != nil {
			s.cfg.Logger.Warn("pre-run archive failed", "error", err)
			s.appendLog(result, "warning: pre-run archive failed: %v", err)
		} else if n > 0 {
			s.appendLog(result, "archived %d stale files before starting", n)
		}
	}

	for i, seg := range working.Segments {
		if ctx.Err() != nil {
			s.markStopped(ctx, working.Segments[i:], result)
			break
		}

		switch seg.Status.Kind {
		case plan.StatusNoSelection:
			s.appendLog(result, "segment %s: skipped, no keyframe selected", seg.PlanID)
			continue
		case plan.StatusFrameMissing:
			s.appendLog(result, "segment %s: skipped, selected keyframe missing on disk", seg.PlanID)
			continue
		case plan.StatusPending:
			// fall through
		default:
			continue
		}

		if !seg.Ready {
			s.appendLog(result, "segment %s: skipped, start frame not available yet", seg.PlanID)
			continue
		}

		err := s.runSegment(ctx, working, seg, template, fps, res, result)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				s.markStopped(ctx, working.Segments[i:], result)
				break
			}
			if errors.Is(err, ErrNotRelocated) {
				// The clip exists in the backend's output area, it just
				// could not be moved. Not a generation failure.
				seg.Status = plan.SegmentStatus{Kind: plan.StatusGeneratedNoCopy, Message: err.Error()}
				s.cfg.Logger.Warn("outputs not relocated", "plan_id", seg.PlanID, "error", err)
				s.appendLog(result, "segment %s: generated but not copied: %v", seg.PlanID, err)
				s.notify(ctx, seg)
				continue
			}
			seg.Status = plan.Errorf(err.Error())
			s.cfg.Logger.Error("segment failed", "plan_id", seg.PlanID, "error", err)
			s.appendLog(result, "segment %s: failed: %v", seg.PlanID, err)
			s.notify(ctx, seg)
			continue
		}

		if n := len(seg.OutputFiles); n > 0 {
			result.LastVideo = seg.OutputFiles[n-1]
		}
		s.notify(ctx, seg)
	}

	return result, nil
}

func (s *Service) runSegment(ctx context.Context, working *plan.GenerationPlan, seg *plan.Segment, template comfy.Workflow, fps float64, res *Resolution, result *Result) error {
	frames := int(math.Round(seg.EffectiveDuration * fps))
	if frames < 1 {
		frames = 1
	}

	width, height := seg.Width, seg.Height
	if res != nil && res.Width > 0 && res.Height > 0 {
		width, height = res.Width, res.Height
	}

	startRef := seg.StartFrame
	if s.cfg.Remote {
		handle, err := s.cfg.Backend.UploadImage(ctx, seg.StartFrame)
		if err != nil {
			return fmt.Errorf("start frame upload failed: %w", err)
		}
		startRef = handle
	}

	wf := template.Clone()
	// A fresh seed per submission defeats the backend's result cache,
	// which would otherwise hand back a stale clip for identical
	// parameters.
	wf.Apply(comfy.Params{
		Prompt:     seg.Prompt,
		StartImage: startRef,
		ClipName:   seg.ClipName,
		Width:      width,
		Height:     height,
		FPS:        fps,
		FrameCount: frames,
		Seed:       s.cfg.Seed(),
	})

	s.appendLog(result, "segment %s: started (%d frames @ %g fps, %dx%d)",
		seg.PlanID, frames, fps, width, height)

	promptID, err := s.cfg.Backend.SubmitWorkflow(ctx, wf)
	if err != nil {
		return fmt.Errorf("submit failed: %w", err)
	}

	if _, err := s.cfg.Backend.Wait(ctx, promptID, s.cfg.PollTimeout); err != nil {
		return err
	}

	outputs, err := s.collectOutputs(ctx, seg, promptID)
	if err != nil {
		return err
	}
	if len(outputs) == 0 {
		// A successful job with no discoverable output means the
		// naming pattern no longer matches; surface it immediately.
		return fmt.Errorf("no output files located for clip %q after full retry budget", seg.ClipName)
	}

	seg.OutputFiles = outputs
	seg.Status = plan.SegmentStatus{Kind: plan.StatusCompleted}
	s.appendLog(result, "segment %s: completed, %d file(s)", seg.PlanID, len(outputs))

	if succ := working.Successor(seg); succ != nil {
		s.propagate(ctx, seg, succ, outputs[len(outputs)-1], result)
	}

	return nil
}

func (s *Service) collectOutputs(ctx context.Context, seg *plan.Segment, promptID string) ([]string, error) {
	if s.cfg.Remote {
		downloaded, err := s.cfg.Backend.DownloadOutputs(ctx, promptID, s.cfg.Files.IncomingDir())
		if err != nil {
			return nil, fmt.Errorf("download outputs: %w", err)
		}
		if len(downloaded) == 0 {
			return nil, nil
		}
		return s.cfg.Files.RelocateFiles(downloaded, seg.ClipName)
	}

	return s.cfg.Files.CopyVideoOutputs(ctx, seg.ClipName)
}

// propagate hands the segment's terminal frame to its successor so the
// chain continues visually where this clip ended. Extraction failure
// is a warning, not a run failure: the successor simply stays
// not-ready and is reported as pending.
func (s *Service) propagate(ctx context.Context, seg, succ *plan.Segment, clipPath string, result *Result) {
	framePath, err := s.cfg.Files.CopyLastFrameOutput(ctx, seg.ClipName, seg.Index)
	if err != nil {
		s.cfg.Logger.Warn("last frame relocation failed", "plan_id", seg.PlanID, "error", err)
	}

	if framePath == "" {
		if s.cfg.Extractor == nil {
			s.appendLog(result, "segment %s: warning: no frame extractor available, %s stays pending",
				seg.PlanID, succ.PlanID)
			return
		}
		outPath := filepath.Join(s.cfg.Files.LastFramesDir(),
			fmt.Sprintf("%s_seg%d_lastframe.png", SanitizeClipName(seg.ClipName, 80), seg.Index))
		framePath, err = s.cfg.Extractor.ExtractLastFrame(ctx, clipPath, outPath)
		if err != nil {
			s.cfg.Logger.Warn("last frame extraction failed",
				"plan_id", seg.PlanID, "clip", filepath.Base(clipPath), "error", err)
			s.appendLog(result, "segment %s: warning: could not extract last frame, %s stays pending",
				seg.PlanID, succ.PlanID)
			return
		}
	}

	seg.LastFrame = framePath
	succ.StartFrame = framePath
	succ.StartFrameSource = plan.SourceChain
	succ.Ready = true
	succ.Status = plan.SegmentStatus{Kind: plan.StatusPending}

	s.appendLog(result, "segment %s: last frame propagated to %s", seg.PlanID, succ.PlanID)
}

func (s *Service) markStopped(ctx context.Context, remaining []*plan.Segment, result *Result) {
	for _, seg := range remaining {
		if !seg.Status.Kind.IsTerminal() {
			seg.Status = plan.SegmentStatus{Kind: plan.StatusStopped}
			s.notify(ctx, seg)
		}
	}
	s.appendLog(result, "run stopped before completing all segments")
}

func (s *Service) notify(ctx context.Context, seg *plan.Segment) {
	if s.cfg.OnSegment != nil {
		s.cfg.OnSegment(ctx, seg)
	}
}

func (s *Service) appendLog(result *Result, format string, args ...any) {
	line := fmt.Sprintf("[%s] %s", s.cfg.Now().Format("15:04:05"), fmt.Sprintf(format, args...))
	result.Log = append(result.Log, line)
}
