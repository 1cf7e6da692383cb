// Package queue defines message payloads exchanged over the message broker.
package queue

import (
    "time"

    "github.com/iliyamo/venue-dashboard/internal/model"
)

// DefaultQueueName is the durable queue purchase changes travel on.
const DefaultQueueName = "attraction_purchase.changed"

// ChangeType says what happened to a purchase.
type ChangeType string

const (
    ChangeUpserted ChangeType = "upserted"
    ChangeDeleted  ChangeType = "deleted"
)

// PurchaseChangedEvent is published whenever a purchase is created, edited,
// moved between states or deleted. Other dashboard instances apply it to
// their own cache so they do not wait for the next background refresh.
//
// Purchase is set for upserts and omitted for deletions.
type PurchaseChangedEvent struct {
    Type       ChangeType      `json:"type"`
    PurchaseID uint64          `json:"purchase_id"`
    Purchase   *model.Purchase `json:"purchase,omitempty"`
    OccurredAt time.Time       `json:"occurred_at"`
}

// Upserted builds the event for a created or modified purchase.
func Upserted(p model.Purchase, at time.Time) PurchaseChangedEvent {
    cp := p.Clone()
    return PurchaseChangedEvent{Type: ChangeUpserted, PurchaseID: p.ID, Purchase: &cp, OccurredAt: at.UTC()}
}

// Deleted builds the event for a removed purchase.
func Deleted(id uint64, at time.Time) PurchaseChangedEvent {
    return PurchaseChangedEvent{Type: ChangeDeleted, PurchaseID: id, OccurredAt: at.UTC()}
}
