// Package comfy is the HTTP client for the ComfyUI generation backend.
// The backend is treated as a black-box job queue: submit a workflow,
// wait for a terminal state, retrieve output files.
package comfy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// BackendError represents an error response from the backend.
type BackendError struct {
	StatusCode int
	Body       string
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("backend request failed: HTTP %d: %s", e.StatusCode, e.Body)
}

// IsRetryable returns true for server errors (5xx).
// Client errors (4xx) are considered permanent.
func (e *BackendError) IsRetryable() bool {
	return e.StatusCode >= 500
}

// JobStatus is the terminal state of a submitted workflow.
type JobStatus string

const (
	JobSuccess JobStatus = "success"
	JobFailed  JobStatus = "failed"
	JobRunning JobStatus = "running"
)

// OutputRef identifies one file the backend produced for a job.
type OutputRef struct {
	Filename  string `json:"filename"`
	Subfolder string `json:"subfolder"`
	Type      string `json:"type"`
}

// JobResult is the outcome of a job as reported by the backend history.
type JobResult struct {
	Status  JobStatus
	Error   string
	Outputs []OutputRef
}

// Client talks to one ComfyUI instance. Wait prefers the backend's
// websocket progress channel and falls back to history polling when
// the socket is unavailable.
type Client struct {
	baseURL      string
	clientID     string
	httpClient   *http.Client
	logger       *slog.Logger
	pollInterval time.Duration
}

func NewClient(baseURL string, logger *slog.Logger) *Client {
	return &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		clientID: uuid.NewString(),
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
		logger:       logger,
		pollInterval: 2 * time.Second,
	}
}

// Ping checks backend reachability.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/system_stats", nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("backend unreachable: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	if resp.StatusCode != http.StatusOK {
		return &BackendError{StatusCode: resp.StatusCode}
	}
	return nil
}

type promptRequest struct {
	Prompt   Workflow `json:"prompt"`
	ClientID string   `json:"client_id"`
}

type promptResponse struct {
	PromptID string         `json:"prompt_id"`
	Number   int            `json:"number"`
	Errors   map[string]any `json:"node_errors,omitempty"`
}

// SubmitWorkflow queues a workflow and returns the backend job ID.
func (c *Client) SubmitWorkflow(ctx context.Context, wf Workflow) (string, error) {
	body, err := json.Marshal(promptRequest{Prompt: wf, ClientID: c.clientID})
	if err != nil {
		return "", fmt.Errorf("marshal workflow: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/prompt", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 16384))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &BackendError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	var result promptResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return "", fmt.Errorf("parse prompt response: %w", err)
	}
	if result.PromptID == "" {
		return "", fmt.Errorf("backend accepted workflow but returned no prompt id")
	}

	c.logger.Info("workflow submitted", "prompt_id", result.PromptID, "nodes", len(wf))
	return result.PromptID, nil
}

// Wait blocks until the job reaches a terminal state or the timeout
// expires. Progress events arrive on the websocket channel when
// available; the history endpoint is authoritative either way, because
// the websocket only signals execution, not output metadata.
func (c *Client) Wait(ctx context.Context, promptID string, timeout time.Duration) (*JobResult, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := c.watchProgress(ctx, promptID)

	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("timed out waiting for job %s: %w", promptID, ctx.Err())
		case <-done:
			// Websocket says execution finished; confirm via history.
			if result, err := c.History(ctx, promptID); err == nil && result.Status != JobRunning {
				return c.checkResult(result)
			}
		case <-ticker.C:
			result, err := c.History(ctx, promptID)
			if err != nil {
				c.logger.Warn("history poll failed", "prompt_id", promptID, "error", err)
				continue
			}
			if result.Status != JobRunning {
				return c.checkResult(result)
			}
		}
	}
}

func (c *Client) checkResult(result *JobResult) (*JobResult, error) {
	if result.Status == JobFailed {
		msg := result.Error
		if msg == "" {
			msg = "backend reported failure without a message"
		}
		return result, fmt.Errorf("generation failed: %s", msg)
	}
	return result, nil
}

// historyEntry mirrors the subset of the /history response we consume.
type historyEntry struct {
	Status struct {
		StatusStr string `json:"status_str"`
		Completed bool   `json:"completed"`
		Messages  []json.RawMessage `json:"messages"`
	} `json:"status"`
	Outputs map[string]map[string]json.RawMessage `json:"outputs"`
}

// History fetches the job's terminal record. A job absent from history
// is still running.
func (c *Client) History(ctx context.Context, promptID string) (*JobResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/history/"+url.PathEscape(promptID), nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode != http.StatusOK {
		return nil, &BackendError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	var entries map[string]historyEntry
	if err := json.Unmarshal(respBody, &entries); err != nil {
		return nil, fmt.Errorf("parse history response: %w", err)
	}

	entry, ok := entries[promptID]
	if !ok {
		return &JobResult{Status: JobRunning}, nil
	}

	result := &JobResult{Status: JobSuccess}
	if entry.Status.StatusStr == "error" || (!entry.Status.Completed && entry.Status.StatusStr != "") {
		result.Status = JobFailed
		result.Error = extractError(entry.Status.Messages)
	}

	for _, nodeOutputs := range entry.Outputs {
		for _, raw := range nodeOutputs {
			var refs []OutputRef
			if err := json.Unmarshal(raw, &refs); err != nil {
				continue
			}
			for _, ref := range refs {
				if ref.Filename != "" {
					result.Outputs = append(result.Outputs, ref)
				}
			}
		}
	}

	return result, nil
}

// extractError digs the human-readable message out of the history
// status messages ([["execution_error", {...}], ...]).
func extractError(messages []json.RawMessage) string {
	for _, raw := range messages {
		var pair []json.RawMessage
		if err := json.Unmarshal(raw, &pair); err != nil || len(pair) < 2 {
			continue
		}
		var kind string
		if err := json.Unmarshal(pair[0], &kind); err != nil || kind != "execution_error" {
			continue
		}
		var detail struct {
			NodeType         string `json:"node_type"`
			ExceptionMessage string `json:"exception_message"`
		}
		if err := json.Unmarshal(pair[1], &detail); err != nil {
			continue
		}
		if detail.ExceptionMessage != "" {
			if detail.NodeType != "" {
				return detail.NodeType + ": " + detail.ExceptionMessage
			}
			return detail.ExceptionMessage
		}
	}
	return ""
}

type uploadResponse struct {
	Name      string `json:"name"`
	Subfolder string `json:"subfolder"`
	Type      string `json:"type"`
}

// UploadImage sends a local image to the backend's input store and
// returns the remote handle to reference in workflows.
func (c *Client) UploadImage(ctx context.Context, path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("cannot open image: %w", err)
	}
	defer f.Close()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("image", filepath.Base(path))
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(part, f); err != nil {
		return "", fmt.Errorf("cannot read image: %w", err)
	}
	mw.WriteField("overwrite", "true")
	if err := mw.Close(); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/upload/image", &buf)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 16384))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &BackendError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	var result uploadResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return "", fmt.Errorf("parse upload response: %w", err)
	}
	if result.Name == "" {
		return "", fmt.Errorf("upload succeeded but backend returned no name")
	}

	handle := result.Name
	if result.Subfolder != "" {
		handle = result.Subfolder + "/" + result.Name
	}
	c.logger.Info("start frame uploaded", "path", filepath.Base(path), "handle", handle)
	return handle, nil
}

// DownloadOutputs fetches a completed job's files into destDir and
// returns the local paths. Used for remote backends with no shared
// filesystem.
func (c *Client) DownloadOutputs(ctx context.Context, promptID, destDir string) ([]string, error) {
	result, err := c.History(ctx, promptID)
	if err != nil {
		return nil, err
	}
	if len(result.Outputs) == 0 {
		return nil, nil
	}

	if err := os.MkdirAll(destDir, 0755); err != nil {
		return nil, fmt.Errorf("cannot create download dir: %w", err)
	}

	var paths []string
	for _, ref := range result.Outputs {
		local, err := c.downloadOne(ctx, ref, destDir)
		if err != nil {
			return paths, fmt.Errorf("download %s: %w", ref.Filename, err)
		}
		paths = append(paths, local)
	}
	return paths, nil
}

func (c *Client) downloadOne(ctx context.Context, ref OutputRef, destDir string) (string, error) {
	q := url.Values{}
	q.Set("filename", ref.Filename)
	q.Set("subfolder", ref.Subfolder)
	outType := ref.Type
	if outType == "" {
		outType = "output"
	}
	q.Set("type", outType)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/view?"+q.Encode(), nil)
	if err != nil {
		return "", err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", &BackendError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	local := filepath.Join(destDir, filepath.Base(ref.Filename))
	f, err := os.Create(local)
	if err != nil {
		return "", err
	}
	defer f.Close()

	if _, err := io.Copy(f, resp.Body); err != nil {
		os.Remove(local)
		return "", fmt.Errorf("write download: %w", err)
	}
	return local, nil
}
