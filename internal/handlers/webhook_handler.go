package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"github.com/ahmetcoskunkizilkaya/reelspace-backend/internal/dto"
	"github.com/ahmetcoskunkizilkaya/reelspace-backend/internal/metrics"
	"github.com/ahmetcoskunkizilkaya/reelspace-backend/internal/services"
	"github.com/gofiber/fiber/v2"
)

type WebhookHandler struct {
	paymentService *services.PaymentService
}

func NewWebhookHandler(paymentService *services.PaymentService) *WebhookHandler {
	return &WebhookHandler{paymentService: paymentService}
}

// HandleWave processes a payment notification relayed from Wave. The
// signature has already been checked by middleware.WebhookSignature.
func (h *WebhookHandler) HandleWave(c *fiber.Ctx) error {
	start := time.Now()
	raw := append([]byte(nil), c.Body()...)

	var envelope dto.EventEnvelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return invalidPayload(c, start)
	}
	eventLabel := metricEventType(envelope.EventType)

	event := dto.PaymentEvent{EventType: envelope.EventType}
	if envelope.EventType == dto.EventPaymentSucceeded {
		if err := json.Unmarshal(raw, &event); err != nil {
			return invalidPayload(c, start)
		}
	}

	result, err := h.paymentService.HandlePaymentEvent(c.UserContext(), &event, raw)
	if err != nil {
		if errors.Is(err, services.ErrInvalidEvent) {
			observeWebhook(eventLabel, fiber.StatusBadRequest, start)
			return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{
				Error: true, Message: err.Error(),
			})
		}
		observeWebhook(eventLabel, fiber.StatusInternalServerError, start)
		slog.Error("payment webhook failed",
			"provider_event_id", event.ProviderEventID,
			"email", event.Email,
			"action", "payment_webhook",
			"request_id", requestID(c),
			"latency_ms", time.Since(start).Milliseconds(),
			"error", err,
		)
		return err
	}

	observeWebhook(eventLabel, fiber.StatusOK, start)
	return c.JSON(result)
}

func invalidPayload(c *fiber.Ctx, start time.Time) error {
	observeWebhook("unparseable", fiber.StatusBadRequest, start)
	return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{
		Error: true, Message: "Invalid webhook payload",
	})
}

func observeWebhook(eventType string, status int, start time.Time) {
	metrics.WebhookRequestsTotal.WithLabelValues(eventType, strconv.Itoa(status)).Inc()
	metrics.WebhookDuration.WithLabelValues(eventType).Observe(time.Since(start).Seconds())
}

// metricEventType keeps label cardinality bounded against arbitrary event_type values.
func metricEventType(t string) string {
	if t == dto.EventPaymentSucceeded {
		return t
	}
	return "other"
}
