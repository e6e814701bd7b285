package notify

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

// Event types published after a ledger mutation commits.
const (
	EventPurchaseCreated    = "purchase_created"
	EventPriceAnomaly       = "price_anomaly"
	EventLowStock           = "low_stock"
	EventStockAdjustment    = "stock_adjustment"
	EventProductionComplete = "production_complete"
	EventSaleComplete       = "sale_complete"
	EventEODClosing         = "eod_closing"
)

// Event is the envelope published to subscribers (kitchen dashboard, owner's
// phone). Payload carries the committed record; delivery is best effort and
// never observed by the transaction that produced it.
type Event struct {
	Type       string    `json:"type"`
	Message    string    `json:"message"`
	Payload    any       `json:"payload,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// AuditRecorder records who did what. Failures must never abort the
// operation being audited.
type AuditRecorder interface {
	Record(ctx context.Context, actorName, action, detail string) error
}

// LogPublisher writes events to the structured log. It is the fallback when
// no redis broker is configured.
type LogPublisher struct {
	Log *logrus.Logger
}

func (p *LogPublisher) Publish(_ context.Context, event Event) error {
	p.Log.WithFields(logrus.Fields{
		"event_type":  event.Type,
		"occurred_at": event.OccurredAt.Format(time.RFC3339),
	}).Info(event.Message)
	return nil
}

type LogAuditRecorder struct {
	Log *logrus.Logger
}

func (r *LogAuditRecorder) Record(_ context.Context, actorName, action, detail string) error {
	r.Log.WithFields(logrus.Fields{
		"audit":  true,
		"actor":  actorName,
		"action": action,
	}).Info(detail)
	return nil
}
