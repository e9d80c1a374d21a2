package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/shotchain/shotchain-agent/internal/api"
	"github.com/shotchain/shotchain-agent/internal/comfy"
	"github.com/shotchain/shotchain-agent/internal/config"
	"github.com/shotchain/shotchain-agent/internal/db"
	"github.com/shotchain/shotchain-agent/internal/logging"
	"github.com/shotchain/shotchain-agent/internal/plan"
	"github.com/shotchain/shotchain-agent/internal/playback"
	"github.com/shotchain/shotchain-agent/internal/run"
	"github.com/shotchain/shotchain-agent/internal/ui"
	"github.com/shotchain/shotchain-agent/internal/video"
)

var Version = "0.1.0"

func main() {
	if err := runAgent(); err != nil {
		log.Fatalf("fatal error: %v", err)
	}
}

func runAgent() error {
	startTime := time.Now()

	cfg, err := config.New()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := os.MkdirAll(cfg.DataDir(), 0755); err != nil {
		return fmt.Errorf("failed to create data dir: %w", err)
	}
	if err := os.MkdirAll(cfg.ProjectDir(), 0755); err != nil {
		return fmt.Errorf("failed to create project dir: %w", err)
	}

	logger := logging.NewLogger(cfg.LogLevel())
	logger.Info("starting shotchain agent",
		"version", Version,
		"data_dir", cfg.DataDir(),
		"project_dir", logging.SanitizePath(cfg.ProjectDir()),
	)

	database, err := db.New(cfg.DBPath(), logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer database.Close()

	repo := run.NewRepository(database.Conn())

	deviceID, err := ensureDeviceID(repo)
	if err != nil {
		return fmt.Errorf("failed to ensure device ID: %w", err)
	}

	authToken, err := ensureAuthToken(repo)
	if err != nil {
		return fmt.Errorf("failed to ensure auth token: %w", err)
	}

	fmt.Println()
	fmt.Println("╔═══════════════════════════════════════════════════════════╗")
	fmt.Println("║                   SHOTCHAIN AGENT v0.1.0                  ║")
	fmt.Println("╠═══════════════════════════════════════════════════════════╣")
	fmt.Printf("║  API URL:    http://127.0.0.1:%-27d ║\n", cfg.Port())
	fmt.Printf("║  Auth Token: %-45s ║\n", authToken)
	fmt.Printf("║  Device ID:  %-45s ║\n", deviceID[:16]+"...")
	fmt.Println("╚═══════════════════════════════════════════════════════════╝")
	fmt.Println()

	template, err := comfy.LoadTemplate(cfg.WorkflowPath())
	if err != nil {
		return fmt.Errorf("failed to load workflow template: %w", err)
	}

	backend := comfy.NewClient(cfg.ComfyBaseURL(), logger)
	logger.Info("generation backend configured",
		"url", cfg.ComfyBaseURL(),
		"remote", cfg.ComfyRemote(),
	)

	files := video.NewFileHandler(video.FileConfig{
		OutputDir:     cfg.ComfyOutputDir(),
		ProjectDir:    cfg.ProjectDir(),
		InitialWait:   cfg.InitialWait(),
		RetryDelay:    cfg.RetryDelay(),
		MaxRetries:    cfg.MaxRetries(),
		LastFrameWait: cfg.LastFrameWait(),
		Logger:        logging.WithComponent(logger, "files"),
	})

	var extractor video.FrameExtractor
	if ex, err := video.NewFFmpegExtractor(cfg.FrameTimeout(), logging.WithComponent(logger, "frames")); err != nil {
		logger.Warn("frame extractor unavailable, chained segments disabled", "error", err)
	} else {
		extractor = ex
	}

	// Archive the backend's shared output area, not the project clip
	// library: persisted runs keep referencing relocated clips.
	cleanup := video.NewCleanupService(
		logging.WithComponent(logger, "cleanup"),
		cfg.ComfyOutputDir(),
		filepath.Join(cfg.ComfyOutputDir(), "video"),
		files.IncomingDir(),
	)

	// Declared ahead of the service so the progress callback can see
	// it; assigned once the runner exists below.
	var runner *run.Runner

	service := video.NewService(video.ServiceConfig{
		Backend:     backend,
		Remote:      cfg.ComfyRemote(),
		Files:       files,
		Extractor:   extractor,
		Cleanup:     cleanup,
		PollTimeout: cfg.PollTimeout(),
		Logger:      logging.WithComponent(logger, "generation"),
		OnSegment: func(_ context.Context, seg *plan.Segment) {
			if runner == nil {
				return
			}
			id := runner.ActiveRunID()
			if id == "" {
				return
			}
			// The pass context may already be cancelled; the write
			// should still land.
			if err := repo.SaveSegment(context.Background(), id, seg); err != nil {
				logger.Warn("failed to persist segment progress",
					"plan_id", seg.PlanID, "error", err)
			}
		},
	})

	doctor := video.NewDoctor(backend, cfg.BackendProbeTimeout(), logging.WithComponent(logger, "doctor"))

	initCtx, initCancel := context.WithTimeout(context.Background(), cfg.BackendProbeTimeout())
	caps := doctor.Refresh(initCtx)
	initCancel()
	if !caps.BackendUp {
		logger.Warn("generation backend unreachable at startup", "error", caps.BackendError)
	}
	if !caps.CanChain() {
		logger.Warn("ffmpeg/ffprobe missing, multi-segment shots will stall after their first segment")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runner = run.NewRunner(repo, service, template, logging.WithComponent(logger, "runner"))
	go runner.Start(ctx)

	apiServer := api.NewServer(api.ServerConfig{
		Port:          cfg.Port(),
		Repository:    repo,
		Runner:        runner,
		Builder:       plan.NewBuilder(cfg.MaxSegmentSeconds()),
		Doctor:        doctor,
		Clips:         playback.NewClipServer(cfg.ProjectDir(), logging.WithComponent(logger, "playback")),
		DefaultFPS:    cfg.FPS(),
		DefaultWidth:  cfg.Width(),
		DefaultHeight: cfg.Height(),
		Logger:        logging.WithComponent(logger, "api"),
		StartTime:     startTime,
		DeviceID:      deviceID,
	})

	go func() {
		if err := apiServer.Start(); err != nil {
			logger.Error("HTTP server error", "error", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	quitCh := make(chan struct{})

	go func() {
		select {
		case sig := <-sigCh:
			logger.Info("received shutdown signal", "signal", sig)
			close(quitCh)
		case <-quitCh:
		}
	}()

	if cfg.Headless() {
		logger.Info("running in headless mode (no system tray)")
	} else {
		tray := ui.NewTray(ui.TrayConfig{
			Runner: runner,
			Logger: logging.WithComponent(logger, "tray"),
			OnQuit: func() {
				close(quitCh)
			},
		})
		go tray.Run()
		go refreshTray(ctx, tray, runner, repo)
	}

	<-quitCh

	logger.Info("initiating graceful shutdown")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shutdown HTTP server", "error", err)
	}

	logger.Info("shutdown complete")
	return nil
}

func refreshTray(ctx context.Context, tray *ui.Tray, runner *run.Runner, repo run.Repository) {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		id := runner.ActiveRunID()
		if id == "" {
			tray.UpdateStatus("Idle")
			tray.UpdateActiveRun("", 0, 0)
			continue
		}

		tray.UpdateStatus("Generating")
		p, err := repo.GetPlan(ctx, id)
		if err != nil || p == nil {
			continue
		}
		done := 0
		for _, seg := range p.Segments {
			if seg.Status.Kind.IsTerminal() {
				done++
			}
		}
		tray.UpdateActiveRun(id, done, len(p.Segments))
	}
}

func ensureDeviceID(repo run.Repository) (string, error) {
	ctx := context.Background()

	existing, err := repo.GetConfig(ctx, "device_id")
	if err == nil && existing != "" {
		return existing, nil
	}

	idBytes := make([]byte, 16)
	if _, err := rand.Read(idBytes); err != nil {
		return "", err
	}
	deviceID := hex.EncodeToString(idBytes)

	if err := repo.SetConfig(ctx, "device_id", deviceID); err != nil {
		return "", err
	}

	return deviceID, nil
}

func ensureAuthToken(repo run.Repository) (string, error) {
	ctx := context.Background()

	existing, err := repo.GetConfig(ctx, "auth_token")
	if err == nil && existing != "" {
		return existing, nil
	}

	tokenBytes := make([]byte, 32)
	if _, err := rand.Read(tokenBytes); err != nil {
		return "", err
	}
	token := hex.EncodeToString(tokenBytes)

	if err := repo.SetConfig(ctx, "auth_token", token); err != nil {
		return "", err
	}

	return token, nil
}
