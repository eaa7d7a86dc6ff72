package models

import (
	"time"
)

// Alert conditions. An alert fires on a strict crossing: "above" when the
// fresh price is strictly greater than the target, "below" when strictly
// less. A price exactly equal to the target never fires.
const (
	ConditionAbove = "above"
	ConditionBelow = "below"
)

// Alert is a one-shot price watch owned by a single connection. The
// in-memory registry holds at most one active alert per connection; the
// durable copy in MongoDB is keyed by ID and is never reactivated once
// deactivated.
type Alert struct {
	ID           string    `bson:"_id" json:"alert_id"`
	OwnerID      string    `bson:"owner_id" json:"owner_id"`
	InstrumentID string    `bson:"instrument_id" json:"instrument_id"`
	TargetPrice  float64   `bson:"target_price" json:"target_price"`
	Condition    string    `bson:"condition" json:"condition"`
	IsActive     bool      `bson:"is_active" json:"is_active"`
	CreatedAt    time.Time `bson:"created_at" json:"created_at"`
}

// AlertInput is the payload of an inbound setAlert command.
type AlertInput struct {
	InstrumentID string  `json:"instrument_id"`
	TargetPrice  float64 `json:"target_price"`
	Condition    string  `json:"condition"`
}

// Validate checks a setAlert payload. Failures are surfaced to the
// requesting connection only.
func (in AlertInput) Validate() error {
	if in.InstrumentID == "" {
		return &ValidationError{Field: "instrument_id", Reason: "must not be empty"}
	}
	if in.TargetPrice <= 0 {
		return &ValidationError{Field: "target_price", Reason: "must be greater than zero"}
	}
	if in.Condition != ConditionAbove && in.Condition != ConditionBelow {
		return &ValidationError{Field: "condition", Reason: "must be \"above\" or \"below\""}
	}
	return nil
}

// Crossed reports whether price satisfies the alert's condition.
// Strict inequality only.
func (a *Alert) Crossed(price float64) bool {
	switch a.Condition {
	case ConditionAbove:
		return price > a.TargetPrice
	case ConditionBelow:
		return price < a.TargetPrice
	default:
		return false
	}
}
