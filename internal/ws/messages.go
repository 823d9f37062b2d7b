// Package ws holds WebSocket message types and the Hub implementation.
// messages.go defines all message structs pushed to connected clients.
package ws

import (
	"time"

	"github.com/evetabi/invest/internal/domain"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// MsgType identifies the kind of WS message so clients can switch on it.
type MsgType string

const (
	MsgTypeState           MsgType = "state"
	MsgTypePositionOpened  MsgType = "position_opened"
	MsgTypeCountdown       MsgType = "countdown"
	MsgTypePositionSettled MsgType = "position_settled"
)

// ──────────────────────────────────────────────────────────────────────────────
// StateMessage — sent once to each client right after it connects.
// ──────────────────────────────────────────────────────────────────────────────

// StateMessage carries the full engine snapshot so a fresh client can render
// without a separate HTTP round trip.
type StateMessage struct {
	Type      MsgType          `json:"type"`
	Balance   decimal.Decimal  `json:"balance"`
	Active    *domain.Position `json:"active"`
	Timestamp time.Time        `json:"timestamp"`
}

// ──────────────────────────────────────────────────────────────────────────────
// PositionOpenedMessage — broadcast after an open is accepted.
// ──────────────────────────────────────────────────────────────────────────────

// PositionOpenedMessage announces the new position and the debited balance.
type PositionOpenedMessage struct {
	Type      MsgType         `json:"type"`
	Position  domain.Position `json:"position"`
	Balance   decimal.Decimal `json:"balance"`
	Timestamp time.Time       `json:"timestamp"`
}

// ──────────────────────────────────────────────────────────────────────────────
// CountdownMessage — broadcast on every tick while a position runs.
// ──────────────────────────────────────────────────────────────────────────────

// CountdownMessage carries the remaining whole seconds of the active position.
type CountdownMessage struct {
	Type             MsgType   `json:"type"`
	PositionID       uuid.UUID `json:"position_id"`
	RoomID           int       `json:"room_id"`
	RemainingSeconds int64     `json:"remaining_seconds"`
	EndTime          time.Time `json:"end_time"`
	Timestamp        time.Time `json:"timestamp"`
}

// ──────────────────────────────────────────────────────────────────────────────
// PositionSettledMessage — broadcast when a position completes.
// ──────────────────────────────────────────────────────────────────────────────

// PositionSettledMessage carries the new history record and the credited
// balance.
type PositionSettledMessage struct {
	Type      MsgType              `json:"type"`
	Record    domain.HistoryRecord `json:"record"`
	Balance   decimal.Decimal      `json:"balance"`
	Timestamp time.Time            `json:"timestamp"`
}
