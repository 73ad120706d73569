package handler

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"log"

	"github.com/gofiber/fiber/v2"
	"github.com/hibiken/asynq"

	"github.com/gigvault/escrow/internal/worker"
	"github.com/gigvault/escrow/pkg/response"
)

// WebhookHandler receives payment processor event notifications, verifies
// their signature and queues them for reconciliation. It never touches
// entity state itself.
type WebhookHandler struct {
	secret      string
	asynqClient *asynq.Client
}

func NewWebhookHandler(secret string, asynqClient *asynq.Client) *WebhookHandler {
	return &WebhookHandler{
		secret:      secret,
		asynqClient: asynqClient,
	}
}

// processorEvent is the subset of the processor's event envelope we consume.
type processorEvent struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object struct {
			ID             string `json:"id"`
			FailureMessage string `json:"failure_message"`
		} `json:"object"`
	} `json:"data"`
}

// HandleProcessorEvent handles POST /api/webhooks/processor
func (h *WebhookHandler) HandleProcessorEvent(c *fiber.Ctx) error {
	body := c.Body()

	if !h.verifySignature(body, c.Get("Processor-Signature")) {
		return response.Unauthorized(c, "Invalid webhook signature")
	}

	var event processorEvent
	if err := json.Unmarshal(body, &event); err != nil {
		return response.ValidationError(c, "Invalid event payload", nil)
	}
	if event.ID == "" || event.Data.Object.ID == "" {
		return response.ValidationError(c, "Event is missing identifiers", nil)
	}

	task, err := worker.NewProcessorEventTask(&worker.ProcessorEventPayload{
		EventID:       event.ID,
		EventType:     event.Type,
		ProcessorRef:  event.Data.Object.ID,
		FailureReason: event.Data.Object.FailureMessage,
	})
	if err != nil {
		return response.ServiceError(c, "Failed to queue event")
	}
	// TaskID dedupes redelivered events while the first copy is in flight.
	if _, err := h.asynqClient.Enqueue(task, asynq.TaskID("webhook:"+event.ID)); err != nil && err != asynq.ErrTaskIDConflict {
		log.Printf("Warning: failed to enqueue webhook event %s: %v", event.ID, err)
		return response.ServiceError(c, "Failed to queue event")
	}

	return response.Accepted(c, fiber.Map{"received": true})
}

func (h *WebhookHandler) verifySignature(body []byte, signature string) bool {
	if h.secret == "" || signature == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(h.secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}
