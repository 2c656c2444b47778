package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/spec-kit/ticket-tracker/internal/config"
	"github.com/spec-kit/ticket-tracker/internal/events"
	"github.com/spec-kit/ticket-tracker/internal/observability"
)

// Notification sinks, used as metric labels.
const (
	SinkRedis   = "redis"
	SinkWebhook = "webhook"
)

// ChannelPublisher publishes a payload to a pub/sub channel.
type ChannelPublisher interface {
	Publish(ctx context.Context, channel string, payload []byte) error
}

// NotificationService fans ticket events out to the configured sinks.
type NotificationService struct {
	publisher      ChannelPublisher
	channel        string
	webhookURL     string
	webhookTimeout time.Duration
	logger         *zap.Logger
	metrics        *observability.Metrics
}

// NewNotificationService creates the service. A nil publisher or empty channel disables
// Redis fan-out; an empty webhook URL disables the webhook.
func NewNotificationService(publisher ChannelPublisher, channel string, cfg config.NotificationConfig, logger *zap.Logger, metrics *observability.Metrics) *NotificationService {
	return &NotificationService{
		publisher:      publisher,
		channel:        strings.TrimSpace(channel),
		webhookURL:     strings.TrimSpace(cfg.WebhookURL),
		webhookTimeout: cfg.WebhookTimeout(),
		logger:         logger,
		metrics:        metrics,
	}
}

// Deliver logs the event and sends it to every enabled sink. Sink failures are
// counted and joined into the returned error.
func (n *NotificationService) Deliver(ctx context.Context, event events.Event) error {
	n.logger.Info("ticket event",
		zap.String("event_id", event.ID),
		zap.String("event_type", string(event.Type)),
		zap.String("ticket_id", event.TicketID),
		zap.String("actor_id", event.Actor.UserID),
	)

	if n.publisher == nil && n.webhookURL == "" {
		return nil
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode event %s: %w", event.ID, err)
	}

	var errs []error
	if n.publisher != nil && n.channel != "" {
		if err := n.publisher.Publish(ctx, n.channel, payload); err != nil {
			n.metrics.RecordNotificationFailure(SinkRedis)
			errs = append(errs, fmt.Errorf("publish to %s: %w", n.channel, err))
		}
	}
	if n.webhookURL != "" {
		if err := n.postWebhook(payload); err != nil {
			n.metrics.RecordNotificationFailure(SinkWebhook)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (n *NotificationService) postWebhook(payload []byte) error {
	agent := fiber.Post(n.webhookURL)
	agent.ContentType(fiber.MIMEApplicationJSON)
	agent.Body(payload)
	agent.Timeout(n.webhookTimeout)

	code, _, errs := agent.Bytes()
	if len(errs) > 0 {
		return fmt.Errorf("post webhook: %w", errors.Join(errs...))
	}
	if code < fiber.StatusOK || code >= fiber.StatusMultipleChoices {
		return fmt.Errorf("post webhook: unexpected status %d", code)
	}
	return nil
}
