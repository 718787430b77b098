package notifications

import (
	"context"
	"log/slog"
	"time"

	"lipstalk/internal/bus"
	"lipstalk/internal/config"
	"lipstalk/internal/logging"
)

// Subscriber is the side of the bus Forward needs.
type Subscriber interface {
	Subscribe(topic bus.Topic, handler bus.Handler) func()
}

// TextLookup resolves a transcript key to its text for the saved message.
type TextLookup func(ctx context.Context, key string) (string, error)

// Forward subscribes svc to the bus topics enabled in cfg and returns a
// function that removes every subscription.
func Forward(sub Subscriber, svc Service, cfg *config.Config, lookup TextLookup, logger *slog.Logger) func() {
	logger = logging.NewComponentLogger(logger, "notifications")
	timeout := time.Duration(cfg.Notifications.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	deliver := func(event Event, payload Payload) {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if err := svc.Publish(ctx, event, payload); err != nil {
			logging.WarnWithContext(logger, "notification failed", "notification_failed",
				logging.String("event", string(event)),
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check notifications.ntfy_topic and network access"),
				logging.String(logging.FieldImpact, "push notification was not delivered"),
			)
		}
	}

	var unsubscribes []func()
	if cfg.Notifications.TranscriptSaved {
		unsubscribes = append(unsubscribes, sub.Subscribe(bus.TopicTranscriptsChanged, func(ev bus.Event) {
			if ev.Field("action") != "appended" {
				return
			}
			payload := Payload{"key": ev.Field("key"), "date": ev.Field("date")}
			if lookup != nil {
				ctx, cancel := context.WithTimeout(context.Background(), timeout)
				text, err := lookup(ctx, ev.Field("key"))
				cancel()
				if err == nil {
					payload["text"] = text
				}
			}
			deliver(EventTranscriptSaved, payload)
		}))
	}
	if cfg.Notifications.AttemptFailed {
		unsubscribes = append(unsubscribes, sub.Subscribe(bus.TopicAttemptFailed, func(ev bus.Event) {
			deliver(EventAttemptFailed, Payload{"reason": ev.Field("reason"), "error": ev.Field("error")})
		}))
	}
	if cfg.Notifications.DeviceHotplugged {
		unsubscribes = append(unsubscribes, sub.Subscribe(bus.TopicCaptureDevice, func(ev bus.Event) {
			event := EventDeviceAdded
			if ev.Field("action") == "remove" {
				event = EventDeviceRemoved
			}
			deliver(event, Payload{"device": ev.Field("device")})
		}))
	}

	return func() {
		for _, fn := range unsubscribes {
			fn()
		}
	}
}
