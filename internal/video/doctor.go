package video

import (
	"context"
	"log/slog"
	"os/exec"
	"sync"
	"time"
)

const doctorCacheTTL = 5 * time.Minute

// Capabilities reports what the environment can do: whether the
// transcoder is installed and whether the generation backend answers.
type Capabilities struct {
	HasFFmpeg    bool      `json:"has_ffmpeg"`
	HasFFprobe   bool      `json:"has_ffprobe"`
	BackendUp    bool      `json:"backend_up"`
	BackendError string    `json:"backend_error,omitempty"`
	ProbedAt     time.Time `json:"probed_at"`
}

// CanChain reports whether multi-segment chains are executable:
// chaining needs last-frame extraction, which needs the transcoder.
func (c *Capabilities) CanChain() bool {
	return c.HasFFmpeg && c.HasFFprobe
}

// BackendPinger is the probe surface of the backend client.
type BackendPinger interface {
	Ping(ctx context.Context) error
}

// Doctor probes environment capabilities with a cache, so status
// queries don't hammer the backend.
type Doctor struct {
	pinger  BackendPinger
	timeout time.Duration
	logger  *slog.Logger

	mu     sync.RWMutex
	cached *Capabilities
}

func NewDoctor(pinger BackendPinger, timeout time.Duration, logger *slog.Logger) *Doctor {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Doctor{pinger: pinger, timeout: timeout, logger: logger}
}

// Get returns cached capabilities if fresh, otherwise re-probes.
func (d *Doctor) Get(ctx context.Context) *Capabilities {
	d.mu.RLock()
	if d.cached != nil && time.Since(d.cached.ProbedAt) < doctorCacheTTL {
		caps := d.cached
		d.mu.RUnlock()
		return caps
	}
	d.mu.RUnlock()

	return d.Refresh(ctx)
}

// Refresh forces a new probe regardless of cache freshness.
func (d *Doctor) Refresh(ctx context.Context) *Capabilities {
	d.mu.Lock()
	defer d.mu.Unlock()

	caps := &Capabilities{ProbedAt: time.Now()}

	if _, err := exec.LookPath("ffmpeg"); err == nil {
		caps.HasFFmpeg = true
	}
	if _, err := exec.LookPath("ffprobe"); err == nil {
		caps.HasFFprobe = true
	}

	if d.pinger != nil {
		pingCtx, cancel := context.WithTimeout(ctx, d.timeout)
		defer cancel()
		if err := d.pinger.Ping(pingCtx); err != nil {
			caps.BackendError = err.Error()
		} else {
			caps.BackendUp = true
		}
	}

	d.logger.Info("doctor probe complete",
		"ffmpeg", caps.HasFFmpeg,
		"ffprobe", caps.HasFFprobe,
		"backend_up", caps.BackendUp,
	)

	d.cached = caps
	return caps
}
