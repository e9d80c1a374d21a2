package run

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shotchain/shotchain-agent/internal/comfy"
	"github.com/shotchain/shotchain-agent/internal/plan"
	"github.com/shotchain/shotchain-agent/internal/video"
)

// Executor runs one generation pass. Satisfied by *video.Service.
type Executor interface {
	Run(ctx context.Context, p *plan.GenerationPlan, template comfy.Workflow, fps float64, res *video.Resolution) (*video.Result, error)
}

// Runner drains the queue of runs one at a time. Generation jobs
// monopolize the backend GPU, so there is never a reason to run two
// passes concurrently.
type Runner struct {
	repo         Repository
	exec         Executor
	template     comfy.Workflow
	logger       *slog.Logger
	pollInterval time.Duration
	running      atomic.Bool
	paused       atomic.Bool

	mu           sync.Mutex
	activeID     string
	cancelActive context.CancelFunc
}

func NewRunner(repo Repository, exec Executor, template comfy.Workflow, logger *slog.Logger) *Runner {
	return &Runner{
		repo:         repo,
		exec:         exec,
		template:     template,
		logger:       logger,
		pollInterval: 2 * time.Second,
	}
}

func (r *Runner) Start(ctx context.Context) {
	if r.running.Swap(true) {
		return
	}

	r.logger.Info("run queue started")

	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("run queue stopping")
			r.running.Store(false)
			return
		case <-ticker.C:
			if !r.paused.Load() {
				r.processNext(ctx)
			}
		}
	}
}

func (r *Runner) Pause() {
	r.paused.Store(true)
	r.logger.Info("run queue paused")
}

func (r *Runner) Resume() {
	r.paused.Store(false)
	r.logger.Info("run queue resumed")
}

func (r *Runner) IsPaused() bool {
	return r.paused.Load()
}

func (r *Runner) IsRunning() bool {
	return r.running.Load()
}

// ActiveRunID returns the run currently executing, or "".
func (r *Runner) ActiveRunID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.activeID
}

// Cancel stops a run. A queued run is marked cancelled directly; the
// active run gets its context cancelled and the executor marks the
// unprocessed segments stopped.
func (r *Runner) Cancel(ctx context.Context, id string) error {
	r.mu.Lock()
	if r.activeID == id && r.cancelActive != nil {
		r.cancelActive()
		r.mu.Unlock()
		r.logger.Info("active run cancelled", "run_id", id)
		return nil
	}
	r.mu.Unlock()

	current, err := r.repo.GetRun(ctx, id)
	if err != nil {
		return err
	}
	if current == nil {
		return fmt.Errorf("run %s not found", id)
	}
	if current.IsTerminal() {
		return fmt.Errorf("run %s is already %s", id, current.Status)
	}
	if current.Status != StatusQueued {
		return fmt.Errorf("run %s is %s, only queued or running runs can be cancelled", id, current.Status)
	}
	return r.repo.UpdateRunStatus(ctx, id, StatusCancelled, "")
}

func (r *Runner) processNext(ctx context.Context) {
	next, err := r.repo.NextQueued(ctx)
	if err != nil {
		r.logger.Error("failed to poll run queue", "error", err)
		return
	}
	if next == nil {
		return
	}

	r.execute(ctx, next)
}

func (r *Runner) execute(ctx context.Context, next *Run) {
	logger := r.logger.With("run_id", next.ID)
	logger.Info("run starting", "fps", next.FPS)

	if err := r.repo.UpdateRunStatus(ctx, next.ID, StatusRunning, ""); err != nil {
		logger.Error("failed to mark run running", "error", err)
		return
	}

	p, err := r.repo.GetPlan(ctx, next.ID)
	if err != nil || p == nil || len(p.Segments) == 0 {
		r.repo.UpdateRunStatus(ctx, next.ID, StatusFailed, "plan could not be loaded")
		logger.Error("plan load failed", "error", err)
		return
	}

	runCtx, cancel := context.WithCancel(ctx)
	r.mu.Lock()
	r.activeID = next.ID
	r.cancelActive = cancel
	r.mu.Unlock()

	defer func() {
		cancel()
		r.mu.Lock()
		r.activeID = ""
		r.cancelActive = nil
		r.mu.Unlock()
	}()

	var res *video.Resolution
	if next.Width > 0 && next.Height > 0 {
		res = &video.Resolution{Width: next.Width, Height: next.Height}
	}

	result, err := r.exec.Run(runCtx, p, r.template, next.FPS, res)
	if err != nil {
		r.repo.UpdateRunStatus(ctx, next.ID, StatusFailed, err.Error())
		logger.Error("run failed", "error", err)
		return
	}

	status, errMsg := summarize(result.Plan, runCtx.Err() != nil && ctx.Err() == nil)
	if err := r.repo.SaveResult(ctx, next.ID, status, errMsg, result.Log, result.LastVideo, result.Plan); err != nil {
		logger.Error("failed to persist run result", "error", err)
		return
	}

	logger.Info("run finished", "status", status, "last_video", result.LastVideo)
}

// summarize derives the run-level outcome from segment statuses.
func summarize(p *plan.GenerationPlan, cancelled bool) (string, string) {
	if cancelled {
		return StatusCancelled, ""
	}

	attempted, failed := 0, 0
	for _, seg := range p.Segments {
		switch seg.Status.Kind {
		case plan.StatusNoSelection, plan.StatusFrameMissing:
			continue
		case plan.StatusError:
			failed++
		}
		attempted++
	}

	if attempted > 0 && failed == attempted {
		return StatusFailed, fmt.Sprintf("all %d segments failed", failed)
	}
	if failed > 0 {
		return StatusCompleted, fmt.Sprintf("%d of %d segments failed", failed, attempted)
	}
	return StatusCompleted, ""
}
