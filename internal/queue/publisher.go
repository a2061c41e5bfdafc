// Package queue integrates with a QStash-style durable message queue. Tasks
// are published with a callback URL; the queue delivers them back to the
// process endpoint as signed HTTP requests, retrying on failure.
package queue

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/calliope-studio/calliope/internal/config"
)

const defaultPublishTimeout = 10 * time.Second

// Publisher enqueues a task for durable delivery.
type Publisher interface {
	Publish(ctx context.Context, taskID string) error
}

// TaskMessage is the queue message body. Deliveries carry only the task ID;
// the processor reloads the task from the store.
type TaskMessage struct {
	TaskID string `json:"taskId"`
}

// HTTPPublisher publishes messages to a QStash-compatible queue over HTTP.
type HTTPPublisher struct {
	baseURL     string
	token       string
	callbackURL string
	client      *http.Client
	timeout     time.Duration
}

// NewHTTPPublisher creates a queue publisher. callbackURL is the externally
// reachable endpoint the queue delivers to.
func NewHTTPPublisher(cfg config.QueueConfig, callbackURL string) (*HTTPPublisher, error) {
	if !cfg.Configured() {
		return nil, fmt.Errorf("queue url and token are required")
	}
	if callbackURL == "" {
		return nil, fmt.Errorf("callback url is required")
	}

	timeout := cfg.PublishTimeout.Duration()
	if timeout <= 0 {
		timeout = defaultPublishTimeout
	}

	return &HTTPPublisher{
		baseURL:     strings.TrimRight(cfg.URL, "/"),
		token:       cfg.Token,
		callbackURL: callbackURL,
		client:      &http.Client{Timeout: timeout},
		timeout:     timeout,
	}, nil
}

// Publish enqueues a task ID for delivery to the process endpoint.
func (p *HTTPPublisher) Publish(ctx context.Context, taskID string) error {
	body, err := json.Marshal(TaskMessage{TaskID: taskID})
	if err != nil {
		return fmt.Errorf("marshal queue message: %w", err)
	}

	destination := p.callbackURL
	if !strings.Contains(destination, "/api/tasks/process") {
		destination = strings.TrimRight(destination, "/") + "/api/tasks/process"
	}

	endpoint := p.baseURL + "/v2/publish/" + url.QueryEscape(destination)

	cctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(cctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build publish request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+p.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("publish task %s: %w", taskID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("publish task %s: queue returned %d: %s", taskID, resp.StatusCode, strings.TrimSpace(string(detail)))
	}

	return nil
}
