package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"lipstalk/internal/config"
)

const userAgent = "LipsTalk-Go/0.1.0"

// Event identifies a notification type.
type Event string

const (
	EventTranscriptSaved Event = "transcript_saved"
	EventAttemptFailed   Event = "attempt_failed"
	EventDeviceAdded     Event = "device_added"
	EventDeviceRemoved   Event = "device_removed"
	EventTest            Event = "test"
)

// Payload carries event fields.
type Payload map[string]string

// Service defines the notification surface.
type Service interface {
	Publish(ctx context.Context, event Event, payload Payload) error
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
		client:   &http.Client{Timeout: timeout},
	}
}

type noopService struct{}

func (noopService) Publish(context.Context, Event, Payload) error { return nil }

type payload struct {
	title    string
	message  string
	tags     []string
	priority string
}

type ntfyService struct {
	endpoint string
	client   *http.Client
}

func (n *ntfyService) Publish(ctx context.Context, event Event, p Payload) error {
	data, ok := format(event, p)
	if !ok {
		return nil
	}
	return n.send(ctx, data)
}

func format(event Event, p Payload) (payload, bool) {
	switch event {
	case EventTranscriptSaved:
		text := strings.TrimSpace(p["text"])
		if text == "" {
			text = "(empty transcript)"
		}
		message := fmt.Sprintf("📝 %s", text)
		if date := strings.TrimSpace(p["date"]); date != "" {
			message = fmt.Sprintf("%s\n%s", message, date)
		}
		return payload{
			title:   "LipsTalk - Transcript Saved",
			message: message,
			tags:    []string{"lipstalk", "transcript", "saved"},
		}, true
	case EventAttemptFailed:
		var builder strings.Builder
		builder.WriteString("❌ Attempt failed")
		if reason := strings.TrimSpace(p["reason"]); reason != "" {
			builder.WriteString(" (")
			builder.WriteString(reason)
			builder.WriteString(")")
		}
		builder.WriteString(": ")
		if msg := strings.TrimSpace(p["error"]); msg != "" {
			builder.WriteString(msg)
		} else {
			builder.WriteString("unknown")
		}
		return payload{
			title:    "LipsTalk - Error",
			message:  builder.String(),
			tags:     []string{"lipstalk", "error", "alert"},
			priority: "high",
		}, true
	case EventDeviceAdded, EventDeviceRemoved:
		action := "connected"
		if event == EventDeviceRemoved {
			action = "disconnected"
		}
		return payload{
			title:   "LipsTalk - Camera " + strings.ToUpper(action[:1]) + action[1:],
			message: fmt.Sprintf("📷 Camera %s: %s", action, strings.TrimSpace(p["device"])),
			tags:    []string{"lipstalk", "camera", action},
		}, true
	case EventTest:
		return payload{
			title:    "LipsTalk - Test",
			message:  "🧪 Notification system test",
			tags:     []string{"lipstalk", "test"},
			priority: "low",
		}, true
	default:
		return payload{}, false
	}
}

func (n *ntfyService) send(ctx context.Context, data payload) error {
	if n == nil || n.client == nil {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(data.message))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if data.title != "" {
		req.Header.Set("Title", data.title)
	}
	if len(data.tags) > 0 {
		req.Header.Set("Tags", strings.Join(data.tags, ","))
	}
	if data.priority != "" && data.priority != "default" {
		req.Header.Set("Priority", data.priority)
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
