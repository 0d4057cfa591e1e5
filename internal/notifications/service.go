package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"mirrordrive/internal/config"
)

const userAgent = "mirrordrive/0.1"

// Event identifies the kind of alert being published.
type Event string

const (
	EventAttachFailed     Event = "attach_failed"
	EventVolumeLost       Event = "volume_lost"
	EventAutoAttachResult Event = "auto_attach_result"
	EventTest             Event = "test"
)

// Alert carries the mapping details attached to an event. Fields that do not
// apply to an event are left empty.
type Alert struct {
	Target  string
	Source  string
	Message string
	Total   int
	Failed  int
}

// Service publishes alerts.
type Service interface {
	Publish(ctx context.Context, event Event, alert Alert) error
	Enabled() bool
}

// NewService builds an ntfy-backed service, or a no-op one when no topic is
// configured.
func NewService(cfg *config.Config) Service {
	if cfg == nil {
		return noopService{}
	}
	topic := strings.TrimSpace(cfg.Notifications.NtfyTopic)
	if topic == "" {
		return noopService{}
	}
	return &ntfyService{
		endpoint: topic,
		client:   &http.Client{Timeout: cfg.NotificationTimeout()},
	}
}

type message struct {
	title    string
	body     string
	tags     []string
	priority string
}

func format(event Event, alert Alert) (message, bool) {
	target := strings.TrimSpace(alert.Target)
	if target == "" {
		target = "unassigned"
	}
	switch event {
	case EventAttachFailed:
		body := fmt.Sprintf("Could not mount %s on %s", alert.Source, target)
		if detail := strings.TrimSpace(alert.Message); detail != "" {
			body += ": " + detail
		}
		return message{
			title:    "Mirror Drive - Mount Failed",
			body:     body,
			tags:     []string{"mirrordrive", "mount", "error"},
			priority: "high",
		}, true
	case EventVolumeLost:
		return message{
			title: "Mirror Drive - Drive Disconnected",
			body:  fmt.Sprintf("%s (%s) was unmounted outside mirrordrive", target, alert.Source),
			tags:  []string{"mirrordrive", "mount", "lost"},
		}, true
	case EventAutoAttachResult:
		if alert.Failed == 0 {
			return message{}, false
		}
		return message{
			title: "Mirror Drive - Auto-attach",
			body:  fmt.Sprintf("Auto-attach finished: %d of %d mappings failed", alert.Failed, alert.Total),
			tags:  []string{"mirrordrive", "autoattach"},
		}, true
	case EventTest:
		return message{
			title:    "Mirror Drive - Test",
			body:     "Notification system test",
			tags:     []string{"mirrordrive", "test"},
			priority: "low",
		}, true
	default:
		return message{}, false
	}
}

type ntfyService struct {
	endpoint string
	client   *http.Client
}

func (n *ntfyService) Enabled() bool { return true }

func (n *ntfyService) Publish(ctx context.Context, event Event, alert Alert) error {
	msg, ok := format(event, alert)
	if !ok {
		return nil
	}
	return n.send(ctx, msg)
}

func (n *ntfyService) send(ctx context.Context, msg message) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(msg.body))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if msg.title != "" {
		req.Header.Set("Title", msg.title)
	}
	if len(msg.tags) > 0 {
		req.Header.Set("Tags", strings.Join(msg.tags, ","))
	}
	if msg.priority != "" {
		req.Header.Set("Priority", msg.priority)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send ntfy notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("ntfy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

type noopService struct{}

func (noopService) Publish(context.Context, Event, Alert) error { return nil }
func (noopService) Enabled() bool                               { return false }
