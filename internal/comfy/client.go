package comfy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"

	"comfybatch/internal/config"
	"comfybatch/internal/fileutil"
	"comfybatch/internal/graph"
	"comfybatch/internal/logging"
	"comfybatch/internal/services"
)

const component = "comfy"

// Options configures a Client.
type Options struct {
	BaseURL        string
	PollInterval   time.Duration
	Timeout        time.Duration
	RequestTimeout time.Duration
	HTTPClient     *http.Client
	Logger         *slog.Logger
}

// Client talks to one engine instance. It is safe for concurrent use.
type Client struct {
	http         *resty.Client
	clientID     string
	pollInterval time.Duration
	timeout      time.Duration
	logger       *slog.Logger
}

// New constructs a Client.
func New(opts Options) *Client {
	httpClient := resty.New()
	if opts.HTTPClient != nil {
		httpClient = resty.NewWithClient(opts.HTTPClient)
	}
	httpClient.SetBaseURL(strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/"))
	if opts.RequestTimeout > 0 {
		httpClient.SetTimeout(opts.RequestTimeout)
	}
	pollInterval := opts.PollInterval
	if pollInterval <= 0 {
		pollInterval = 500 * time.Millisecond
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Minute
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Client{
		http:         httpClient,
		clientID:     uuid.NewString(),
		pollInterval: pollInterval,
		timeout:      timeout,
		logger:       logger.With(logging.String(logging.FieldComponent, component)),
	}
}

// NewFromConfig constructs a Client from engine settings.
func NewFromConfig(cfg *config.Config, logger *slog.Logger) *Client {
	return New(Options{
		BaseURL:        cfg.Engine.URL,
		PollInterval:   time.Duration(cfg.Engine.PollIntervalMillis) * time.Millisecond,
		Timeout:        time.Duration(cfg.Engine.TimeoutSeconds) * time.Second,
		RequestTimeout: time.Duration(cfg.Engine.RequestTimeoutSeconds) * time.Second,
		Logger:         logger,
	})
}

// Submit queues tmpl and returns the engine's prompt id.
func (c *Client) Submit(ctx context.Context, tmpl *graph.Template) (string, error) {
	var result promptResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(promptRequest{Prompt: tmpl, ClientID: c.clientID}).
		SetResult(&result).
		SetError(&result).
		Post("/api/prompt")
	if err != nil {
		return "", services.Wrap(services.ErrSubmission, component, "submit", "request failed", err)
	}
	if !resp.IsSuccess() {
		return "", services.Wrap(services.ErrSubmission, component, "submit",
			fmt.Sprintf("engine returned %d: %s", resp.StatusCode(), strings.TrimSpace(resp.String())), nil)
	}
	if len(result.NodeErrors) > 0 {
		return "", services.Wrap(services.ErrSubmission, component, "submit",
			fmt.Sprintf("engine rejected graph: node errors %s", strings.TrimSpace(resp.String())), nil)
	}
	if strings.TrimSpace(result.PromptID) == "" {
		return "", services.Wrap(services.ErrSubmission, component, "submit", "engine response missing prompt_id", nil)
	}
	logging.WithContext(ctx, c.logger).Debug("graph queued",
		logging.String("prompt_id", result.PromptID),
		logging.Int("queue_number", result.Number),
	)
	return result.PromptID, nil
}

// History fetches the history entry for promptID. ok is false while the
// engine has not recorded the prompt yet.
func (c *Client) History(ctx context.Context, promptID string) (HistoryEntry, bool, error) {
	var history map[string]HistoryEntry
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&history).
		SetPathParam("id", promptID).
		Get("/api/history/{id}")
	if err != nil {
		return HistoryEntry{}, false, err
	}
	if !resp.IsSuccess() {
		return HistoryEntry{}, false, fmt.Errorf("history returned %d", resp.StatusCode())
	}
	entry, ok := history[promptID]
	return entry, ok, nil
}

// Await polls the history until promptID finishes, the timeout elapses, or
// ctx is cancelled. Poll failures are retried until the deadline.
func (c *Client) Await(ctx context.Context, promptID string) (HistoryEntry, error) {
	logger := logging.WithContext(ctx, c.logger)
	deadline := time.NewTimer(c.timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	polls := 0
	for {
		select {
		case <-ctx.Done():
			return HistoryEntry{}, services.Wrap(services.ErrTransient, component, "await",
				fmt.Sprintf("prompt %s abandoned", promptID), ctx.Err())
		case <-deadline.C:
			return HistoryEntry{}, services.Wrap(services.ErrTimeout, component, "await",
				fmt.Sprintf("prompt %s not finished after %s (%d polls)", promptID, c.timeout, polls), nil)
		case <-ticker.C:
		}

		polls++
		entry, ok, err := c.History(ctx, promptID)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			logger.Debug("history poll failed", logging.String("prompt_id", promptID), logging.Error(err))
			continue
		}
		if !ok || !entry.Done() {
			continue
		}
		if entry.Failed() {
			msg := entry.ErrorMessage()
			if msg == "" {
				msg = "engine reported an error"
			}
			return entry, services.Wrap(services.ErrExecution, component, "await",
				fmt.Sprintf("prompt %s: %s", promptID, msg), nil)
		}
		return entry, nil
	}
}

// Fetch downloads file into dest atomically.
func (c *Client) Fetch(ctx context.Context, file File, dest string) (fileutil.WriteResult, error) {
	fileType := file.Type
	if fileType == "" {
		fileType = "output"
	}
	resp, err := c.http.R().
		SetContext(ctx).
		SetDoNotParseResponse(true).
		SetQueryParams(map[string]string{
			"filename":  file.Filename,
			"subfolder": file.Subfolder,
			"type":      fileType,
		}).
		Get("/api/view")
	if err != nil {
		return fileutil.WriteResult{}, services.Wrap(services.ErrDownload, component, "fetch", file.RemotePath(), err)
	}
	body := resp.RawBody()
	defer body.Close()
	if !resp.IsSuccess() {
		return fileutil.WriteResult{}, services.Wrap(services.ErrDownload, component, "fetch",
			fmt.Sprintf("%s: engine returned %d", file.RemotePath(), resp.StatusCode()), nil)
	}
	result, err := fileutil.WriteAtomic(dest, body)
	if err != nil {
		return fileutil.WriteResult{}, services.Wrap(services.ErrDownload, component, "fetch", file.RemotePath(), err)
	}
	return result, nil
}

// Target describes where and what Render retrieves.
type Target struct {
	OutputNode  string
	OutputKind  string
	Destination string
}

// Result describes a completed render.
type Result struct {
	PromptID   string
	RemotePath string
	LocalPath  string
	Bytes      int64
	SHA256     string
}

// Render submits tmpl, waits for it, and downloads the selected artifact.
func (c *Client) Render(ctx context.Context, tmpl *graph.Template, target Target) (Result, error) {
	promptID, err := c.Submit(ctx, tmpl)
	if err != nil {
		return Result{}, err
	}
	entry, err := c.Await(ctx, promptID)
	if err != nil {
		return Result{PromptID: promptID}, err
	}
	file, ok := entry.SelectArtifact(target.OutputNode, target.OutputKind)
	if !ok {
		return Result{PromptID: promptID}, services.Wrap(services.ErrExecution, component, "render",
			fmt.Sprintf("prompt %s finished without a downloadable artifact (node %s)", promptID, target.OutputNode), nil)
	}
	written, err := c.Fetch(ctx, file, target.Destination)
	if err != nil {
		return Result{PromptID: promptID, RemotePath: file.RemotePath()}, err
	}
	return Result{
		PromptID:   promptID,
		RemotePath: file.RemotePath(),
		LocalPath:  target.Destination,
		Bytes:      written.Bytes,
		SHA256:     written.SHA256,
	}, nil
}

// Ping reads the engine's system stats.
func (c *Client) Ping(ctx context.Context) (SystemStats, error) {
	var stats SystemStats
	resp, err := c.http.R().SetContext(ctx).SetResult(&stats).Get("/api/system_stats")
	if err != nil {
		return SystemStats{}, services.Wrap(services.ErrTransient, component, "ping", "engine unreachable", err)
	}
	if !resp.IsSuccess() {
		return SystemStats{}, services.Wrap(services.ErrTransient, component, "ping",
			fmt.Sprintf("engine returned %d", resp.StatusCode()), nil)
	}
	return stats, nil
}

// IsCancellation reports whether err stems from context cancellation.
func IsCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
