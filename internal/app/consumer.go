/**
 * @description
 * RabbitMQ consumer handler for incoming credit events from the payment
 * processor. Wire faults and transient failures re-queue; malformed
 * payloads are dropped so a poison message cannot wedge the queue.
 */

package app

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/hredostate/Togedaly-New-sub001/internal/domain"
)

// CreditEventConsumer adapts incoming broker messages to Service.ApplyCredit.
type CreditEventConsumer struct {
	service *Service
	logger  *slog.Logger
}

func NewCreditEventConsumer(service *Service, logger *slog.Logger) *CreditEventConsumer {
	return &CreditEventConsumer{service: service, logger: logger}
}

// HandleMessage processes one credit event. Returning false re-queues the
// message; the global credit kill-switch therefore pauses consumption
// without losing events.
func (c *CreditEventConsumer) HandleMessage(body []byte) bool {
	var event domain.CreditEvent
	if err := json.Unmarshal(body, &event); err != nil {
		c.logger.Error("dropping malformed credit event", "error", err)
		return true
	}

	err := c.service.ApplyCredit(context.Background(), event)
	if err == nil {
		return true
	}
	if IsPolicyRejection(err) {
		c.logger.Warn("credit event re-queued by kill-switch", "reference", event.Reference)
		return false
	}
	if IsValidation(err) || IsConflict(err) {
		c.logger.Error("dropping unprocessable credit event", "reference", event.Reference, "error", err)
		return true
	}
	c.logger.Error("credit event processing failed, re-queueing", "reference", event.Reference, "error", err)
	return false
}
