package comfy

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestSubmitWorkflow(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/prompt" || r.Method != http.MethodPost {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		var req promptRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("bad request body: %v", err)
		}
		if req.ClientID == "" {
			t.Error("client_id missing from prompt request")
		}
		json.NewEncoder(w).Encode(promptResponse{PromptID: "job-1"})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, testLogger())
	id, err := c.SubmitWorkflow(context.Background(), Workflow{"1": {ClassType: "KSampler", Inputs: map[string]any{}}})
	if err != nil {
		t.Fatalf("SubmitWorkflow() error = %v", err)
	}
	if id != "job-1" {
		t.Errorf("prompt id = %q, want job-1", id)
	}
}

func TestSubmitWorkflow_BackendError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"invalid prompt"}`, http.StatusBadRequest)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, testLogger())
	_, err := c.SubmitWorkflow(context.Background(), Workflow{})
	if err == nil {
		t.Fatal("SubmitWorkflow() should fail on HTTP 400")
	}
	var be *BackendError
	if !asBackendError(err, &be) {
		t.Fatalf("error type = %T, want *BackendError", err)
	}
	if be.IsRetryable() {
		t.Error("HTTP 400 should not be retryable")
	}
}

func asBackendError(err error, target **BackendError) bool {
	be, ok := err.(*BackendError)
	if ok {
		*target = be
	}
	return ok
}

func historyBody(promptID, statusStr string, completed bool, outputs []OutputRef) string {
	refs, _ := json.Marshal(outputs)
	return fmt.Sprintf(`{%q: {
		"status": {"status_str": %q, "completed": %v, "messages": []},
		"outputs": {"8": {"videos": %s}}
	}}`, promptID, statusStr, completed, refs)
}

func TestHistory_Terminal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, historyBody("job-1", "success", true, []OutputRef{
			{Filename: "shot_001_00001.mp4", Subfolder: "video", Type: "output"},
		}))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, testLogger())
	result, err := c.History(context.Background(), "job-1")
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if result.Status != JobSuccess {
		t.Errorf("status = %q, want success", result.Status)
	}
	if len(result.Outputs) != 1 || result.Outputs[0].Filename != "shot_001_00001.mp4" {
		t.Errorf("outputs = %+v, want one video ref", result.Outputs)
	}
}

func TestHistory_NotYetFinished(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{}`)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, testLogger())
	result, err := c.History(context.Background(), "job-1")
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if result.Status != JobRunning {
		t.Errorf("status = %q, want running for a job absent from history", result.Status)
	}
}

func TestWait_PollsToSuccess(t *testing.T) {
	polls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		polls++
		if polls < 3 {
			fmt.Fprint(w, `{}`)
			return
		}
		fmt.Fprint(w, historyBody("job-1", "success", true, []OutputRef{{Filename: "clip.mp4"}}))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, testLogger())
	c.pollInterval = 10 * time.Millisecond

	result, err := c.Wait(context.Background(), "job-1", 5*time.Second)
	if err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if result.Status != JobSuccess {
		t.Errorf("status = %q, want success", result.Status)
	}
	if polls < 3 {
		t.Errorf("polled %d times, want at least 3", polls)
	}
}

func TestWait_FailureCarriesBackendMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"job-1": {
			"status": {"status_str": "error", "completed": false,
				"messages": [["execution_error", {"node_type": "KSampler", "exception_message": "CUDA out of memory"}]]},
			"outputs": {}
		}}`)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, testLogger())
	c.pollInterval = 10 * time.Millisecond

	_, err := c.Wait(context.Background(), "job-1", 5*time.Second)
	if err == nil {
		t.Fatal("Wait() should fail for an errored job")
	}
	if want := "KSampler: CUDA out of memory"; !strings.Contains(err.Error(), want) {
		t.Errorf("error = %q, want it to contain %q", err.Error(), want)
	}
}

func TestWait_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{}`)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, testLogger())
	c.pollInterval = 10 * time.Millisecond

	_, err := c.Wait(context.Background(), "job-1", 50*time.Millisecond)
	if err == nil {
		t.Fatal("Wait() should time out for a job that never finishes")
	}
}

func TestUploadImage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/upload/image" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("bad multipart form: %v", err)
		}
		f, hdr, err := r.FormFile("image")
		if err != nil {
			t.Fatalf("missing image part: %v", err)
		}
		f.Close()
		json.NewEncoder(w).Encode(uploadResponse{Name: hdr.Filename, Subfolder: "startframes", Type: "input"})
	}))
	defer srv.Close()

	tmpDir := t.TempDir()
	img := filepath.Join(tmpDir, "frame.png")
	if err := os.WriteFile(img, []byte("png bytes"), 0644); err != nil {
		t.Fatal(err)
	}

	c := NewClient(srv.URL, testLogger())
	handle, err := c.UploadImage(context.Background(), img)
	if err != nil {
		t.Fatalf("UploadImage() error = %v", err)
	}
	if handle != "startframes/frame.png" {
		t.Errorf("handle = %q, want startframes/frame.png", handle)
	}
}

func TestDownloadOutputs(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/history/job-1":
			fmt.Fprint(w, historyBody("job-1", "success", true, []OutputRef{
				{Filename: "clip.mp4", Subfolder: "video", Type: "output"},
			}))
		case r.URL.Path == "/view":
			if got := r.URL.Query().Get("filename"); got != "clip.mp4" {
				t.Errorf("view filename = %q, want clip.mp4", got)
			}
			w.Write([]byte("video bytes"))
		default:
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
	}))
	defer srv.Close()

	destDir := t.TempDir()
	c := NewClient(srv.URL, testLogger())
	paths, err := c.DownloadOutputs(context.Background(), "job-1", destDir)
	if err != nil {
		t.Fatalf("DownloadOutputs() error = %v", err)
	}
	if len(paths) != 1 {
		t.Fatalf("downloaded %d files, want 1", len(paths))
	}
	data, err := os.ReadFile(paths[0])
	if err != nil {
		t.Fatalf("cannot read downloaded file: %v", err)
	}
	if string(data) != "video bytes" {
		t.Errorf("downloaded content = %q, want %q", data, "video bytes")
	}
}
