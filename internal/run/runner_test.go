package run

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/shotchain/shotchain-agent/internal/comfy"
	"github.com/shotchain/shotchain-agent/internal/plan"
	"github.com/shotchain/shotchain-agent/internal/video"
)

type fakeExecutor struct {
	calls atomic.Int32
	fn    func(ctx context.Context, p *plan.GenerationPlan, fps float64, res *video.Resolution) (*video.Result, error)
}

func (f *fakeExecutor) Run(ctx context.Context, p *plan.GenerationPlan, template comfy.Workflow, fps float64, res *video.Resolution) (*video.Result, error) {
	f.calls.Add(1)
	if f.fn != nil {
		return f.fn(ctx, p, fps, res)
	}
	for _, seg := range p.Segments {
		seg.Status = plan.SegmentStatus{Kind: plan.StatusCompleted}
	}
	return &video.Result{Plan: p, LastVideo: "/project/video/shot_a.mp4"}, nil
}

func setupRunner(t *testing.T, exec *fakeExecutor) (*Runner, Repository) {
	t.Helper()

	repo := setupRepo(t)
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	template := comfy.Workflow{"1": {ClassType: "KSampler", Inputs: map[string]any{"seed": 0}}}

	return NewRunner(repo, exec, template, logger), repo
}

func TestProcessNext_CompletesRun(t *testing.T) {
	exec := &fakeExecutor{}
	runner, repo := setupRunner(t, exec)
	ctx := context.Background()

	r := newQueuedRun()
	if err := repo.CreateRun(ctx, r, twoSegmentPlan()); err != nil {
		t.Fatal(err)
	}

	runner.processNext(ctx)

	if exec.calls.Load() != 1 {
		t.Fatalf("executor called %d times, want 1", exec.calls.Load())
	}

	got, _ := repo.GetRun(ctx, r.ID)
	if got.Status != StatusCompleted {
		t.Errorf("run status = %s, want completed", got.Status)
	}
	if got.LastVideo != "/project/video/shot_a.mp4" {
		t.Errorf("last video = %s", got.LastVideo)
	}

	p, _ := repo.GetPlan(ctx, r.ID)
	for _, seg := range p.Segments {
		if seg.Status.Kind != plan.StatusCompleted {
			t.Errorf("segment %s status = %s, want completed", seg.PlanID, seg.Status)
		}
	}
}

func TestProcessNext_EmptyQueue(t *testing.T) {
	exec := &fakeExecutor{}
	runner, _ := setupRunner(t, exec)

	runner.processNext(context.Background())

	if exec.calls.Load() != 0 {
		t.Errorf("executor called %d times on an empty queue, want 0", exec.calls.Load())
	}
}

func TestProcessNext_ExecutorError(t *testing.T) {
	exec := &fakeExecutor{
		fn: func(ctx context.Context, p *plan.GenerationPlan, fps float64, res *video.Resolution) (*video.Result, error) {
			return nil, errors.New("backend output directory missing")
		},
	}
	runner, repo := setupRunner(t, exec)
	ctx := context.Background()

	r := newQueuedRun()
	if err := repo.CreateRun(ctx, r, twoSegmentPlan()); err != nil {
		t.Fatal(err)
	}

	runner.processNext(ctx)

	got, _ := repo.GetRun(ctx, r.ID)
	if got.Status != StatusFailed {
		t.Errorf("run status = %s, want failed", got.Status)
	}
	if got.Error != "backend output directory missing" {
		t.Errorf("run error = %q", got.Error)
	}
}

func TestProcessNext_AllSegmentsFailed(t *testing.T) {
	exec := &fakeExecutor{
		fn: func(ctx context.Context, p *plan.GenerationPlan, fps float64, res *video.Resolution) (*video.Result, error) {
			for _, seg := range p.Segments {
				seg.Status = plan.Errorf("out of memory")
			}
			return &video.Result{Plan: p}, nil
		},
	}
	runner, repo := setupRunner(t, exec)
	ctx := context.Background()

	r := newQueuedRun()
	if err := repo.CreateRun(ctx, r, twoSegmentPlan()); err != nil {
		t.Fatal(err)
	}

	runner.processNext(ctx)

	got, _ := repo.GetRun(ctx, r.ID)
	if got.Status != StatusFailed {
		t.Errorf("run status = %s, want failed when every segment failed", got.Status)
	}
}

func TestProcessNext_PartialFailureStillCompletes(t *testing.T) {
	exec := &fakeExecutor{
		fn: func(ctx context.Context, p *plan.GenerationPlan, fps float64, res *video.Resolution) (*video.Result, error) {
			p.Segments[0].Status = plan.SegmentStatus{Kind: plan.StatusCompleted}
			p.Segments[1].Status = plan.Errorf("out of memory")
			return &video.Result{Plan: p}, nil
		},
	}
	runner, repo := setupRunner(t, exec)
	ctx := context.Background()

	r := newQueuedRun()
	if err := repo.CreateRun(ctx, r, twoSegmentPlan()); err != nil {
		t.Fatal(err)
	}

	runner.processNext(ctx)

	got, _ := repo.GetRun(ctx, r.ID)
	if got.Status != StatusCompleted {
		t.Errorf("run status = %s, want completed with a partial failure note", got.Status)
	}
	if got.Error != "1 of 2 segments failed" {
		t.Errorf("run error = %q", got.Error)
	}
}

func TestProcessNext_ResolutionFromRun(t *testing.T) {
	var seen *video.Resolution
	exec := &fakeExecutor{
		fn: func(ctx context.Context, p *plan.GenerationPlan, fps float64, res *video.Resolution) (*video.Result, error) {
			seen = res
			return &video.Result{Plan: p}, nil
		},
	}
	runner, repo := setupRunner(t, exec)
	ctx := context.Background()

	r := newQueuedRun()
	r.Width, r.Height = 768, 432
	if err := repo.CreateRun(ctx, r, twoSegmentPlan()); err != nil {
		t.Fatal(err)
	}

	runner.processNext(ctx)

	if seen == nil || seen.Width != 768 || seen.Height != 432 {
		t.Errorf("executor got resolution %+v, want 768x432 from the run", seen)
	}
}

func TestCancel_QueuedRun(t *testing.T) {
	runner, repo := setupRunner(t, &fakeExecutor{})
	ctx := context.Background()

	r := newQueuedRun()
	if err := repo.CreateRun(ctx, r, twoSegmentPlan()); err != nil {
		t.Fatal(err)
	}

	if err := runner.Cancel(ctx, r.ID); err != nil {
		t.Fatalf("Cancel() error = %v", err)
	}

	got, _ := repo.GetRun(ctx, r.ID)
	if got.Status != StatusCancelled {
		t.Errorf("run status = %s, want cancelled", got.Status)
	}

	err := runner.Cancel(ctx, r.ID)
	if err == nil {
		t.Fatal("Cancel() on an already-cancelled run should fail")
	}
	if !strings.Contains(err.Error(), "already cancelled") {
		t.Errorf("Cancel() error = %q, want it to name the terminal state", err)
	}
	if err := runner.Cancel(ctx, "nope"); err == nil {
		t.Error("Cancel() on an unknown run should fail")
	}
}

func TestCancel_ActiveRun(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})

	exec := &fakeExecutor{
		fn: func(ctx context.Context, p *plan.GenerationPlan, fps float64, res *video.Resolution) (*video.Result, error) {
			close(started)
			<-ctx.Done()
			close(release)
			for _, seg := range p.Segments {
				seg.Status = plan.SegmentStatus{Kind: plan.StatusStopped}
			}
			return &video.Result{Plan: p}, nil
		},
	}
	runner, repo := setupRunner(t, exec)
	ctx := context.Background()

	r := newQueuedRun()
	if err := repo.CreateRun(ctx, r, twoSegmentPlan()); err != nil {
		t.Fatal(err)
	}

	done := make(chan struct{})
	go func() {
		runner.processNext(ctx)
		close(done)
	}()

	<-started
	if runner.ActiveRunID() != r.ID {
		t.Errorf("ActiveRunID() = %s, want %s", runner.ActiveRunID(), r.ID)
	}
	if err := runner.Cancel(ctx, r.ID); err != nil {
		t.Fatalf("Cancel() error = %v", err)
	}
	<-release
	<-done

	got, _ := repo.GetRun(ctx, r.ID)
	if got.Status != StatusCancelled {
		t.Errorf("run status = %s, want cancelled", got.Status)
	}
	if runner.ActiveRunID() != "" {
		t.Error("ActiveRunID() not cleared after the run finished")
	}
}

func TestPauseResume(t *testing.T) {
	runner, _ := setupRunner(t, &fakeExecutor{})

	if runner.IsPaused() {
		t.Error("runner starts paused")
	}
	runner.Pause()
	if !runner.IsPaused() {
		t.Error("Pause() did not pause")
	}
	runner.Resume()
	if runner.IsPaused() {
		t.Error("Resume() did not resume")
	}
}
