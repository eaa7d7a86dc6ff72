package models

import "time"

// Outbound event types.
const (
	EventPriceUpdate    = "priceUpdate"
	EventAlertSet       = "alertSet"
	EventAlertTriggered = "alertTriggered"
	EventError          = "error"
)

// Error event types.
const (
	ErrorTypeAlert  = "ALERT_ERROR"
	ErrorTypeUpdate = "UPDATE_ERROR"
)

// Inbound command actions.
const (
	ActionSetAlert = "setAlert"
)

// WSMessage is the envelope for every outbound websocket event.
type WSMessage struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
	Time string      `json:"time"`
}

// NewWSMessage wraps a payload in the outbound envelope.
func NewWSMessage(msgType string, data interface{}) WSMessage {
	return WSMessage{
		Type: msgType,
		Data: data,
		Time: time.Now().Format(time.RFC3339),
	}
}

// WSCommand is an inbound client command.
type WSCommand struct {
	Action string     `json:"action"`
	Data   AlertInput `json:"data"`
}

// AlertSetPayload acknowledges a successful setAlert to its requester.
type AlertSetPayload struct {
	AlertID      string  `json:"alert_id"`
	InstrumentID string  `json:"instrument_id"`
	TargetPrice  float64 `json:"target_price"`
	Condition    string  `json:"condition"`
}

// AlertTriggeredPayload is delivered to the owning connection when its
// alert crosses.
type AlertTriggeredPayload struct {
	InstrumentID string  `json:"instrument_id"`
	Name         string  `json:"name"`
	CurrentPrice float64 `json:"current_price"`
	TargetPrice  float64 `json:"target_price"`
	Condition    string  `json:"condition"`
}

// ErrorPayload carries a scoped or broadcast error event.
type ErrorPayload struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}
