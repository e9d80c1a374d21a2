package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shotchain/shotchain-agent/internal/export"
	"github.com/shotchain/shotchain-agent/internal/plan"
	"github.com/shotchain/shotchain-agent/internal/run"
)

func NewRouter(cfg ServerConfig) *chi.Mux {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware())
	r.Use(RecoveryMiddleware(cfg.Logger))
	r.Use(LoggingMiddleware(cfg.Logger))

	r.Get("/health", healthHandler(cfg))

	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(cfg.Repository, cfg.Logger))

		r.Get("/status", statusHandler(cfg))
		r.Post("/runs", createRunHandler(cfg))
		r.Get("/runs", listRunsHandler(cfg))
		r.Get("/runs/{id}", getRunHandler(cfg))
		r.Get("/runs/{id}/edl", runEDLHandler(cfg))
		r.Get("/runs/{id}/segments/{segmentID}/video", segmentVideoHandler(cfg))
		r.Post("/runs/{id}/cancel", cancelRunHandler(cfg))
		r.Post("/queue/pause", pauseHandler(cfg))
		r.Post("/queue/resume", resumeHandler(cfg))
	})

	return r
}

func healthHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uptime := int64(time.Since(cfg.StartTime).Seconds())
		WriteJSON(w, http.StatusOK, HealthResponse{
			Status:   "ok",
			Version:  "0.1.0",
			UptimeS:  uptime,
			DeviceID: cfg.DeviceID,
		})
	}
}

func statusHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		state := "idle"
		lastError := ""
		activeID := ""

		if cfg.Runner != nil {
			if cfg.Runner.IsPaused() {
				state = "paused"
			}
			if activeID = cfg.Runner.ActiveRunID(); activeID != "" {
				state = "generating"
			}
		}

		runs, err := cfg.Repository.ListRuns(ctx, 10)
		if err == nil {
			for _, item := range runs {
				if item.Status == run.StatusFailed && lastError == "" {
					lastError = item.Error
				}
			}
		}
		if lastError != "" && state == "idle" {
			state = "error"
		}

		resp := StatusResponse{
			State:       state,
			LastError:   lastError,
			ActiveRunID: activeID,
		}

		if cfg.Doctor != nil {
			resp.Capabilities = cfg.Doctor.Get(ctx)
		}

		WriteJSON(w, http.StatusOK, resp)
	}
}

func createRunHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateRunRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			WriteError(w, http.StatusBadRequest, "invalid request body", "BAD_REQUEST")
			return
		}
		if len(req.Shots) == 0 {
			WriteError(w, http.StatusBadRequest, "shots are required", "BAD_REQUEST")
			return
		}

		fps := req.FPS
		if fps == 0 {
			fps = cfg.DefaultFPS
		}
		if fps <= 0 {
			WriteError(w, http.StatusBadRequest, "fps must be positive", "BAD_REQUEST")
			return
		}

		p := cfg.Builder.Build(req.Shots, req.Selections)

		// Request dimensions win; the configured project resolution is
		// the fallback.
		width, height := req.Width, req.Height
		if width == 0 && height == 0 {
			width, height = cfg.DefaultWidth, cfg.DefaultHeight
		}

		now := time.Now().UTC()
		newRun := &run.Run{
			ID:        run.NewID(),
			Status:    run.StatusQueued,
			FPS:       fps,
			Width:     width,
			Height:    height,
			CreatedAt: now,
			UpdatedAt: now,
		}

		if err := cfg.Repository.CreateRun(r.Context(), newRun, p); err != nil {
			cfg.Logger.Error("failed to queue run", "error", err)
			WriteError(w, http.StatusInternalServerError, "failed to queue run", "INTERNAL_ERROR")
			return
		}

		WriteJSON(w, http.StatusAccepted, CreateRunResponse{
			RunID:    newRun.ID,
			Segments: SegmentsToResponse(p),
		})
	}
}

func listRunsHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		runs, err := cfg.Repository.ListRuns(r.Context(), 50)
		if err != nil {
			WriteError(w, http.StatusInternalServerError, "failed to list runs", "INTERNAL_ERROR")
			return
		}

		resp := RunsResponse{Runs: make([]RunResponse, len(runs))}
		for i, item := range runs {
			resp.Runs[i] = RunToResponse(item)
		}
		WriteJSON(w, http.StatusOK, resp)
	}
}

func getRunHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if id == "" {
			WriteError(w, http.StatusBadRequest, "run id required", "BAD_REQUEST")
			return
		}

		item, err := cfg.Repository.GetRun(r.Context(), id)
		if err != nil {
			WriteError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
			return
		}
		if item == nil {
			WriteError(w, http.StatusNotFound, "run not found", "NOT_FOUND")
			return
		}

		resp := RunToResponse(item)
		if p, err := cfg.Repository.GetPlan(r.Context(), id); err == nil {
			resp.Segments = SegmentsToResponse(p)
		}

		WriteJSON(w, http.StatusOK, resp)
	}
}

func runEDLHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		item, err := cfg.Repository.GetRun(r.Context(), id)
		if err != nil {
			WriteError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
			return
		}
		if item == nil {
			WriteError(w, http.StatusNotFound, "run not found", "NOT_FOUND")
			return
		}

		p, err := cfg.Repository.GetPlan(r.Context(), id)
		if err != nil || p == nil {
			WriteError(w, http.StatusInternalServerError, "failed to load plan", "INTERNAL_ERROR")
			return
		}

		clips, unresolved := export.ClipsFromPlan(p)
		if len(clips) == 0 {
			WriteError(w, http.StatusConflict, "run has no exportable clips", "CONFLICT")
			return
		}
		if len(unresolved) > 0 {
			cfg.Logger.Warn("EDL export skipping segments without output",
				"run_id", id, "skipped", unresolved)
		}

		title := fmt.Sprintf("Run %.8s", id)
		edl := export.GenerateEDL(clips, title, item.FPS)

		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", fmt.Sprintf("run_%.8s.edl", id)))
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(edl))
	}
}

func segmentVideoHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		segmentID := chi.URLParam(r, "segmentID")

		p, err := cfg.Repository.GetPlan(r.Context(), id)
		if err != nil {
			WriteError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
			return
		}
		if p == nil || len(p.Segments) == 0 {
			WriteError(w, http.StatusNotFound, "run not found", "NOT_FOUND")
			return
		}

		var target *plan.Segment
		for _, seg := range p.Segments {
			if seg.PlanID == segmentID {
				target = seg
				break
			}
		}
		if target == nil {
			WriteError(w, http.StatusNotFound, "segment not found", "NOT_FOUND")
			return
		}
		if len(target.OutputFiles) == 0 {
			WriteError(w, http.StatusNotFound, "segment has no output video", "NOT_FOUND")
			return
		}

		if err := cfg.Clips.ServeClip(w, r, target.OutputFiles[0]); err != nil {
			cfg.Logger.Error("failed to serve clip", "run_id", id, "segment", segmentID, "error", err)
			WriteError(w, http.StatusInternalServerError, "failed to serve clip", "INTERNAL_ERROR")
		}
	}
}

func cancelRunHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if id == "" {
			WriteError(w, http.StatusBadRequest, "run id required", "BAD_REQUEST")
			return
		}

		if err := cfg.Runner.Cancel(r.Context(), id); err != nil {
			WriteError(w, http.StatusConflict, err.Error(), "CONFLICT")
			return
		}

		w.WriteHeader(http.StatusNoContent)
	}
}

func pauseHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cfg.Runner.Pause()
		w.WriteHeader(http.StatusNoContent)
	}
}

func resumeHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cfg.Runner.Resume()
		w.WriteHeader(http.StatusNoContent)
	}
}
