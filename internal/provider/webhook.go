package provider

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"carecall-platform/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

// EventType is the provider callback kind.
type EventType string

const (
	EventCallStarted  EventType = "call_started"
	EventCallEnded    EventType = "call_ended"
	EventCallAnalyzed EventType = "call_analyzed"
)

func (t EventType) Valid() bool {
	switch t {
	case EventCallStarted, EventCallEnded, EventCallAnalyzed:
		return true
	default:
		return false
	}
}

// Event is one asynchronous provider callback, keyed by the external call id.
type Event struct {
	Type EventType   `json:"event"`
	Call CallPayload `json:"call"`

	// Raw is the callback body as received, stored on the Call row for audit.
	Raw json.RawMessage `json:"-"`
}

type CallPayload struct {
	ProviderCallID      string          `json:"call_id"`
	Status              string          `json:"status,omitempty"`
	DisconnectionReason string          `json:"disconnection_reason,omitempty"`
	StartedAt           *time.Time      `json:"started_at,omitempty"`
	EndedAt             *time.Time      `json:"ended_at,omitempty"`
	DurationSeconds     int             `json:"duration_seconds,omitempty"`
	Transcript          string          `json:"transcript,omitempty"`
	RecordingURL        string          `json:"recording_url,omitempty"`
	Analysis            json.RawMessage `json:"analysis,omitempty"`
}

// EventHandler consumes a verified provider event.
type EventHandler interface {
	Handle(ctx context.Context, ev Event) error
}

// VerifyWebhookToken checks the HS256 bearer token the provider attaches to
// callbacks, signed with the shared webhook secret. Only the signature and
// expiry matter; callbacks carry no identity claims.
func VerifyWebhookToken(secret []byte, tokenString string, now time.Time) error {
	if tokenString == "" {
		return errors.New("provider: missing webhook token")
	}

	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(func() time.Time { return now }),
		jwt.WithLeeway(30*time.Second), // clock skew tolerance
	)

	_, err := parser.Parse(tokenString, func(token *jwt.Token) (any, error) {
		return secret, nil
	})
	return err
}

// WebhookHandler verifies and parses provider callbacks, then hands them to
// the outcome processor. No business logic here.
type WebhookHandler struct {
	Secret []byte
	Events EventHandler

	Now func() time.Time
}

func (h WebhookHandler) HandleCallEvent(c *gin.Context) {
	log := logger.FromGin(c)

	now := time.Now
	if h.Now != nil {
		now = h.Now
	}
	if h.Events == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "event handler not configured"})
		return
	}

	token := strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
	if err := VerifyWebhookToken(h.Secret, token, now()); err != nil {
		log.Warn("webhook token rejected", "err", err)
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}

	body, err := io.ReadAll(io.LimitReader(c.Request.Body, 1<<20))
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
		return
	}

	var ev Event
	if err := json.Unmarshal(body, &ev); err != nil {
		log.Warn("webhook parse failed", "err", err)
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if !ev.Type.Valid() {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "unknown event type"})
		return
	}
	if ev.Call.ProviderCallID == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "call_id is required"})
		return
	}
	ev.Raw = body

	// The provider retries on 5xx, so only report a failure when a retry
	// could help; the processor swallows permanently unprocessable events.
	if err := h.Events.Handle(c.Request.Context(), ev); err != nil {
		log.Error("webhook event handling failed", "event", ev.Type, "provider_call_id", ev.Call.ProviderCallID, "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "event handling failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
