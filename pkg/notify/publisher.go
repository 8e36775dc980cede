package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/marmos91/dittoshare/internal/logger"
)

// Trigger routes served by the notification service.
const (
	SharedPath  = "/api/ws/notify-file-shared"
	RevokedPath = "/api/ws/notify-file-revoked"
)

// Publisher hands an event to the notification service.
//
// Delivery is best effort. A returned error means the event was not handed
// over; it never means the target failed to receive it.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// PublisherFunc adapts a function to Publisher. The notifier's dispatcher is
// wired this way when both services run in one process.
type PublisherFunc func(ctx context.Context, event Event) error

func (f PublisherFunc) Publish(ctx context.Context, event Event) error {
	return f(ctx, event)
}

// Noop drops every event.
type Noop struct{}

func (Noop) Publish(context.Context, Event) error { return nil }

// HTTPConfig configures the HTTP publisher.
type HTTPConfig struct {
	// BaseURL of the notification service, e.g. "http://localhost:6000"
	BaseURL string `mapstructure:"base_url" validate:"required,url"`

	// Timeout bounds each trigger call (default: 3s)
	Timeout time.Duration `mapstructure:"timeout"`

	// Token is sent as a bearer credential when the notifier protects its
	// trigger routes
	Token string `mapstructure:"token"`
}

// HTTPPublisher posts events to the notification service trigger routes.
type HTTPPublisher struct {
	baseURL string
	token   string
	client  *http.Client
}

// NewHTTPPublisher creates a publisher. A nil client gets one with the
// configured timeout.
func NewHTTPPublisher(cfg HTTPConfig, client *http.Client) *HTTPPublisher {
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 3 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}

	return &HTTPPublisher{
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		token:   cfg.Token,
		client:  client,
	}
}

func (p *HTTPPublisher) Publish(ctx context.Context, event Event) error {
	if err := event.Validate(); err != nil {
		return err
	}

	var (
		path string
		body any
	)
	switch event.Kind {
	case KindShared:
		path, body = SharedPath, sharedRequestFrom(event)
	case KindRevoked:
		path, body = RevokedPath, revokedRequestFrom(event)
	}

	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to encode %s trigger: %w", event.Kind, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to build %s trigger: %w", event.Kind, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if p.token != "" {
		req.Header.Set("Authorization", "Bearer "+p.token)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("notification service unreachable: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("notification service answered %d to %s", resp.StatusCode, path)
	}

	logger.Debug("Published %s for file %s to %s", event.Kind, event.FileID, event.TargetIdentity)
	return nil
}
