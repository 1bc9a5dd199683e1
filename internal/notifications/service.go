package notifications

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"comfybatch/internal/config"
)

const userAgent = "comfybatch/0.1.0"

// Service defines the notification surface exposed to the batch runner.
type Service interface {
	NotifyBatchStarted(ctx context.Context, workflow string, stages int) error
	NotifyBatchCompleted(ctx context.Context, workflow string, summary BatchSummary) error
	NotifyError(ctx context.Context, err error, context string) error
	TestNotification(ctx context.Context) error
}

// BatchSummary carries the counts reported when a run finishes.
type BatchSummary struct {
	Succeeded   int
	Failed      int
	Skipped     int
	Interrupted int
	Duration    time.Duration
}

// NewService builds a notification service backed by ntfy when configured.
// When no ntfy topic is configured, a noop implementation is returned.
func NewService(cfg *config.Config) Service {
	topic := strings.TrimSpace(cfg.Notifications.NtfyTopic)
	if topic == "" {
		return noopService{}
	}

	timeout := time.Duration(cfg.Notifications.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &ntfyService{
		endpoint: topic,
		client:   resty.New().SetTimeout(timeout).SetHeader("User-Agent", userAgent),
		started:  cfg.Notifications.BatchStarted,
		complete: cfg.Notifications.BatchCompleted,
		errors:   cfg.Notifications.Errors,
	}
}

type payload struct {
	title    string
	message  string
	tags     []string
	priority string
}

type ntfyService struct {
	endpoint string
	client   *resty.Client
	started  bool
	complete bool
	errors   bool
}

func (n *ntfyService) NotifyBatchStarted(ctx context.Context, workflow string, stages int) error {
	if !n.started {
		return nil
	}
	workflow = strings.TrimSpace(workflow)
	message := fmt.Sprintf("▶️ Batch started: %s", workflow)
	if stages > 1 {
		message = fmt.Sprintf("%s (%d stages)", message, stages)
	}
	data := payload{
		title:   "comfybatch - Batch Started",
		message: message,
		tags:    []string{"comfybatch", "batch", "started"},
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyBatchCompleted(ctx context.Context, workflow string, summary BatchSummary) error {
	if !n.complete {
		return nil
	}
	duration := summary.Duration.Round(time.Second)
	if duration < 0 {
		duration = 0
	}
	durationText := duration.String()
	if duration == 0 {
		durationText = "0s"
	}

	workflow = strings.TrimSpace(workflow)
	var title, message string
	if summary.Failed == 0 && summary.Interrupted == 0 && summary.Skipped == 0 {
		title = "comfybatch - Batch Complete"
		message = fmt.Sprintf("✅ %s: %d renders in %s", workflow, summary.Succeeded, durationText)
	} else {
		title = "comfybatch - Batch Complete (with errors)"
		message = fmt.Sprintf("%s: %d succeeded, %d failed, %d skipped in %s",
			workflow, summary.Succeeded, summary.Failed+summary.Interrupted, summary.Skipped, durationText)
	}

	data := payload{
		title:   title,
		message: message,
		tags:    []string{"comfybatch", "batch", "completed"},
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyError(ctx context.Context, err error, contextLabel string) error {
	if !n.errors {
		return nil
	}
	var builder strings.Builder
	builder.WriteString("❌ Error")
	if contextLabel = strings.TrimSpace(contextLabel); contextLabel != "" {
		builder.WriteString(" with ")
		builder.WriteString(contextLabel)
	}
	builder.WriteString(": ")
	if err != nil {
		builder.WriteString(strings.TrimSpace(err.Error()))
	} else {
		builder.WriteString("unknown")
	}

	data := payload{
		title:    "comfybatch - Error",
		message:  builder.String(),
		tags:     []string{"comfybatch", "error", "alert"},
		priority: "high",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) TestNotification(ctx context.Context) error {
	data := payload{
		title:    "comfybatch - Test",
		message:  "🧪 Notification system test",
		tags:     []string{"comfybatch", "test"},
		priority: "low",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) send(ctx context.Context, data payload) error {
	if n == nil || n.client == nil {
		return nil
	}

	req := n.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "text/plain; charset=utf-8").
		SetBody(data.message)
	if data.title != "" {
		req.SetHeader("Title", data.title)
	}
	if len(data.tags) > 0 {
		req.SetHeader("Tags", strings.Join(data.tags, ","))
	}
	if data.priority != "" && data.priority != "default" {
		req.SetHeader("Priority", data.priority)
	}

	resp, err := req.Post(n.endpoint)
	if err != nil {
		return fmt.Errorf("send ntfy notification: %w", err)
	}
	if !resp.IsSuccess() {
		body := resp.String()
		if len(body) > 2048 {
			body = body[:2048]
		}
		return fmt.Errorf("ntfy returned %d: %s", resp.StatusCode(), strings.TrimSpace(body))
	}
	return nil
}

type noopService struct{}

func (noopService) NotifyBatchStarted(context.Context, string, int) error            { return nil }
func (noopService) NotifyBatchCompleted(context.Context, string, BatchSummary) error { return nil }
func (noopService) NotifyError(context.Context, error, string) error                 { return nil }
func (noopService) TestNotification(context.Context) error                           { return nil }
