package notifications_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"comfybatch/internal/config"
	"comfybatch/internal/notifications"
)

type captured struct {
	title    string
	tags     string
	priority string
	body     string
}

func newTopic(t *testing.T, status int) (*httptest.Server, func() []captured) {
	t.Helper()
	var (
		mu  sync.Mutex
		got []captured
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		got = append(got, captured{
			title:    r.Header.Get("Title"),
			tags:     r.Header.Get("Tags"),
			priority: r.Header.Get("Priority"),
			body:     string(body),
		})
		mu.Unlock()
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)
	return srv, func() []captured {
		mu.Lock()
		defer mu.Unlock()
		return append([]captured(nil), got...)
	}
}

func TestNewServiceReturnsNoopWhenTopicMissing(t *testing.T) {
	cfg := config.Default()
	cfg.Notifications.NtfyTopic = ""
	svc := notifications.NewService(&cfg)
	if err := svc.NotifyError(context.Background(), errors.New("boom"), "animate"); err != nil {
		t.Fatalf("expected noop notifier to return nil, got %v", err)
	}
}

func TestNtfyServiceFormatsPayloads(t *testing.T) {
	srv, received := newTopic(t, http.StatusOK)
	cfg := config.Default()
	cfg.Notifications.NtfyTopic = srv.URL
	svc := notifications.NewService(&cfg)
	ctx := context.Background()

	if err := svc.NotifyBatchStarted(ctx, "portraits_to_video", 2); err != nil {
		t.Fatalf("NotifyBatchStarted: %v", err)
	}
	if err := svc.NotifyBatchCompleted(ctx, "animate", notifications.BatchSummary{Succeeded: 4, Failed: 1, Duration: 90 * time.Second}); err != nil {
		t.Fatalf("NotifyBatchCompleted: %v", err)
	}
	if err := svc.NotifyBatchCompleted(ctx, "animate", notifications.BatchSummary{Succeeded: 3, Duration: 0}); err != nil {
		t.Fatalf("NotifyBatchCompleted: %v", err)
	}
	if err := svc.NotifyError(ctx, errors.New("no source videos"), "animate"); err != nil {
		t.Fatalf("NotifyError: %v", err)
	}

	got := received()
	if len(got) != 4 {
		t.Fatalf("expected 4 notifications, got %d", len(got))
	}
	if got[0].title != "comfybatch - Batch Started" || got[0].body != "▶️ Batch started: portraits_to_video (2 stages)" {
		t.Fatalf("unexpected start notification %+v", got[0])
	}
	if got[1].title != "comfybatch - Batch Complete (with errors)" || got[1].body != "animate: 4 succeeded, 1 failed, 0 skipped in 1m30s" {
		t.Fatalf("unexpected completion notification %+v", got[1])
	}
	if got[2].body != "✅ animate: 3 renders in 0s" {
		t.Fatalf("unexpected clean completion %+v", got[2])
	}
	if got[3].priority != "high" || got[3].tags != "comfybatch,error,alert" || !strings.Contains(got[3].body, "with animate: no source videos") {
		t.Fatalf("unexpected error notification %+v", got[3])
	}
}

func TestNtfyServiceRespectsToggles(t *testing.T) {
	srv, received := newTopic(t, http.StatusOK)
	cfg := config.Default()
	cfg.Notifications.NtfyTopic = srv.URL
	cfg.Notifications.BatchStarted = false
	svc := notifications.NewService(&cfg)
	if err := svc.NotifyBatchStarted(context.Background(), "animate", 1); err != nil {
		t.Fatalf("NotifyBatchStarted: %v", err)
	}
	if n := len(received()); n != 0 {
		t.Fatalf("expected no notification when disabled, got %d", n)
	}
}

func TestNtfyServiceReportsHTTPFailure(t *testing.T) {
	srv, _ := newTopic(t, http.StatusForbidden)
	cfg := config.Default()
	cfg.Notifications.NtfyTopic = srv.URL
	err := notifications.NewService(&cfg).TestNotification(context.Background())
	if err == nil || !strings.Contains(err.Error(), "403") {
		t.Fatalf("expected 403 error, got %v", err)
	}
}
