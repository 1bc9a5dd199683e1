package comfy_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"comfybatch/internal/comfy"
	"comfybatch/internal/graph"
	"comfybatch/internal/services"
	"comfybatch/internal/testsupport"
)

func newClient(url string, timeout time.Duration) *comfy.Client {
	return comfy.New(comfy.Options{
		BaseURL:      url,
		PollInterval: 5 * time.Millisecond,
		Timeout:      timeout,
	})
}

func template(t *testing.T) *graph.Template {
	t.Helper()
	tmpl, err := graph.Parse(strings.NewReader(testsupport.AnimateTemplate))
	if err != nil {
		t.Fatalf("parse template: %v", err)
	}
	return tmpl
}

func TestRenderDownloadsArtifact(t *testing.T) {
	engine := testsupport.NewFakeEngine(t)
	engine.PendingPolls = 2
	client := newClient(engine.URL(), 5*time.Second)

	dest := filepath.Join(t.TempDir(), "v2v", "alice", "out.mp4")
	result, err := client.Render(context.Background(), template(t), comfy.Target{OutputNode: "57", OutputKind: "gifs", Destination: dest})
	if err != nil {
		t.Fatalf("Render returned error: %v", err)
	}
	if result.PromptID != "prompt-1" {
		t.Fatalf("unexpected prompt id %q", result.PromptID)
	}
	if result.RemotePath != "/srv/comfy/output/batch/ComfyUI_prompt-1.bin" {
		t.Fatalf("unexpected remote path %q", result.RemotePath)
	}
	data, err := os.ReadFile(dest)
	if err != nil {
		t.Fatalf("read artifact: %v", err)
	}
	if string(data) != "artifact:batch/ComfyUI_prompt-1.bin" {
		t.Fatalf("unexpected artifact %q", data)
	}
	if result.Bytes != int64(len(data)) || result.SHA256 == "" {
		t.Fatalf("unexpected write result %+v", result)
	}

	submitted := engine.Submitted()
	if len(submitted) != 1 {
		t.Fatalf("expected one submission, got %d", len(submitted))
	}
	if testsupport.InputOf(submitted[0], "30", "num_frames") != float64(81) {
		t.Fatalf("graph not sent verbatim: %v", submitted[0]["30"])
	}
	if ids := engine.ClientIDs(); ids[0] == "" {
		t.Fatal("expected client_id on submission")
	}
}

func TestSubmitRejected(t *testing.T) {
	engine := testsupport.NewFakeEngine(t)
	engine.Reject = func(map[string]any) string { return "video not found" }
	client := newClient(engine.URL(), time.Second)

	_, err := client.Submit(context.Background(), template(t))
	if !errors.Is(err, services.ErrSubmission) {
		t.Fatalf("expected submission error, got %v", err)
	}
	if !strings.Contains(err.Error(), "400") {
		t.Fatalf("expected status in error, got %v", err)
	}
}

func TestAwaitTimeout(t *testing.T) {
	engine := testsupport.NewFakeEngine(t)
	engine.NeverFinish = true
	client := newClient(engine.URL(), 50*time.Millisecond)

	_, err := client.Render(context.Background(), template(t), comfy.Target{OutputNode: "57", Destination: filepath.Join(t.TempDir(), "x")})
	if !errors.Is(err, services.ErrTimeout) {
		t.Fatalf("expected timeout error, got %v", err)
	}
	if errors.Is(err, services.ErrSubmission) {
		t.Fatal("timeout must be distinct from submission failure")
	}
}

func TestAwaitCancellation(t *testing.T) {
	engine := testsupport.NewFakeEngine(t)
	engine.NeverFinish = true
	client := newClient(engine.URL(), time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	promptID, err := client.Submit(context.Background(), template(t))
	if err != nil {
		t.Fatalf("Submit returned error: %v", err)
	}
	_, err = client.Await(ctx, promptID)
	if !comfy.IsCancellation(err) {
		t.Fatalf("expected cancellation, got %v", err)
	}
	if errors.Is(err, services.ErrTimeout) {
		t.Fatal("cancellation must not be reported as engine timeout")
	}
}

func TestAwaitExecutionError(t *testing.T) {
	engine := testsupport.NewFakeEngine(t)
	engine.Fail = func(map[string]any) string { return "CUDA out of memory" }
	client := newClient(engine.URL(), time.Second)

	_, err := client.Render(context.Background(), template(t), comfy.Target{OutputNode: "57", Destination: filepath.Join(t.TempDir(), "x")})
	if !errors.Is(err, services.ErrExecution) {
		t.Fatalf("expected execution error, got %v", err)
	}
	if !strings.Contains(err.Error(), "CUDA out of memory") {
		t.Fatalf("expected engine message, got %v", err)
	}
}

func TestFetchMissing(t *testing.T) {
	engine := testsupport.NewFakeEngine(t)
	engine.MissingDownloads = true
	client := newClient(engine.URL(), time.Second)
	dest := filepath.Join(t.TempDir(), "out.mp4")

	_, err := client.Render(context.Background(), template(t), comfy.Target{OutputNode: "57", Destination: dest})
	if !errors.Is(err, services.ErrDownload) {
		t.Fatalf("expected download error, got %v", err)
	}
	if _, statErr := os.Stat(dest); !os.IsNotExist(statErr) {
		t.Fatalf("expected no artifact on failed download, stat=%v", statErr)
	}
}

func TestRenderRequiresArtifactOnDeclaredNode(t *testing.T) {
	engine := testsupport.NewFakeEngine(t)
	engine.OutputNode = "9"
	engine.OutputKind = "images"
	client := newClient(engine.URL(), time.Second)

	dest := filepath.Join(t.TempDir(), "out.mp4")
	_, err := client.Render(context.Background(), template(t), comfy.Target{OutputNode: "57", Destination: dest})
	if !errors.Is(err, services.ErrExecution) {
		t.Fatalf("expected execution error, got %v", err)
	}
	if _, statErr := os.Stat(dest); !os.IsNotExist(statErr) {
		t.Fatalf("expected no artifact written, stat err %v", statErr)
	}
}

func TestPing(t *testing.T) {
	engine := testsupport.NewFakeEngine(t)
	stats, err := newClient(engine.URL(), time.Second).Ping(context.Background())
	if err != nil {
		t.Fatalf("Ping returned error: %v", err)
	}
	if stats.System.ComfyUIVersion == "" || len(stats.Devices) != 1 {
		t.Fatalf("unexpected stats %+v", stats)
	}
	if _, err := newClient("http://127.0.0.1:1", time.Second).Ping(context.Background()); err == nil {
		t.Fatal("expected error for unreachable engine")
	}
}
