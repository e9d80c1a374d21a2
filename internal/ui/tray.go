// Package ui provides the system tray surface of the agent.
package ui

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/getlantern/systray"
	"github.com/shotchain/shotchain-agent/internal/run"
)

type Tray struct {
	runner *run.Runner
	logger *slog.Logger

	statusItem *systray.MenuItem
	runItem    *systray.MenuItem
	pauseItem  *systray.MenuItem

	mu sync.Mutex

	onQuit func()
}

type TrayConfig struct {
	Runner *run.Runner
	Logger *slog.Logger
	OnQuit func()
}

func NewTray(cfg TrayConfig) *Tray {
	return &Tray{
		runner: cfg.Runner,
		logger: cfg.Logger,
		onQuit: cfg.OnQuit,
	}
}

func (t *Tray) Run() {
	systray.Run(t.onReady, t.onExit)
}

func (t *Tray) onReady() {
	systray.SetIcon(iconBytes)
	systray.SetTitle("Shotchain")
	systray.SetTooltip("Shotchain Agent")

	t.mu.Lock()
	t.statusItem = systray.AddMenuItem("Status: Idle", "Current agent status")
	t.statusItem.Disable()

	t.runItem = systray.AddMenuItem("No active run", "Run in progress")
	t.runItem.Disable()
	t.mu.Unlock()

	systray.AddSeparator()

	t.pauseItem = systray.AddMenuItem("Pause", "Pause the run queue")

	systray.AddSeparator()

	quitItem := systray.AddMenuItem("Quit", "Quit Shotchain Agent")

	go func() {
		for {
			select {
			case <-t.pauseItem.ClickedCh:
				t.togglePause()
			case <-quitItem.ClickedCh:
				t.logger.Info("quit requested from tray")
				if t.onQuit != nil {
					t.onQuit()
				}
				systray.Quit()
				return
			}
		}
	}()

	t.logger.Info("system tray ready")
}

func (t *Tray) onExit() {
	t.logger.Info("system tray exiting")
}

func (t *Tray) togglePause() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.runner == nil {
		return
	}

	if t.runner.IsPaused() {
		t.runner.Resume()
		t.pauseItem.SetTitle("Pause")
		t.statusItem.SetTitle("Status: Idle")
	} else {
		t.runner.Pause()
		t.pauseItem.SetTitle("Resume")
		t.statusItem.SetTitle("Status: Paused")
	}
}

func (t *Tray) UpdateStatus(status string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.statusItem == nil {
		return
	}
	if t.runner != nil && t.runner.IsPaused() {
		return
	}
	t.statusItem.SetTitle("Status: " + status)
}

func (t *Tray) UpdateActiveRun(runID string, segmentsDone, segmentsTotal int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.runItem == nil {
		return
	}
	if runID == "" {
		t.runItem.SetTitle("No active run")
		return
	}
	t.runItem.SetTitle(fmt.Sprintf("Run %.8s: %d/%d segments", runID, segmentsDone, segmentsTotal))
}

func (t *Tray) Quit() {
	systray.Quit()
}
