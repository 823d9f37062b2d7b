package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ──────────────────────────────────────────────────────────────────────────────
// Position
// ──────────────────────────────────────────────────────────────────────────────

// Position is the single live timed stake. At most one exists at a time.
type Position struct {
	ID               uuid.UUID       `json:"id"`
	RoomID           int             `json:"room_id"`
	Amount           decimal.Decimal `json:"amount"`
	StartTime        time.Time       `json:"start_time"`
	EndTime          time.Time       `json:"end_time"`
	RemainingSeconds int64           `json:"remaining_seconds"`
}

// NewPosition opens a position in room at now. RemainingSeconds starts at the
// full room duration.
func NewPosition(room Room, amount decimal.Decimal, now time.Time) *Position {
	return &Position{
		ID:               uuid.New(),
		RoomID:           room.ID,
		Amount:           amount,
		StartTime:        now,
		EndTime:          now.Add(room.Duration),
		RemainingSeconds: room.DurationSeconds(),
	}
}

// Remaining returns round((EndTime - now) / 1s), rounding halves upwards.
// Zero or negative means the position is due for settlement.
func (p *Position) Remaining(now time.Time) int64 {
	ms := p.EndTime.Sub(now).Milliseconds()
	return floorDiv(ms+500, 1000)
}

// Expired reports whether EndTime is strictly before now.
func (p *Position) Expired(now time.Time) bool {
	return p.EndTime.Before(now)
}

// Clone returns an independent copy safe to hand to other goroutines.
func (p *Position) Clone() *Position {
	if p == nil {
		return nil
	}
	cp := *p
	return &cp
}

func floorDiv(a, b int64) int64 {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

// ──────────────────────────────────────────────────────────────────────────────
// OpenRequest — value object used by PositionManager.Open
// ──────────────────────────────────────────────────────────────────────────────

// OpenRequest carries the raw inputs for opening a position. Amount.Valid is
// false when the caller's input was not a finite number.
type OpenRequest struct {
	RoomID int
	Amount decimal.NullDecimal
}

// ParseStake parses user-entered stake text. Empty, non-numeric, NaN and
// infinite inputs all yield an invalid NullDecimal, as does a number followed
// by trailing text such as "1000abc".
func ParseStake(s string) decimal.NullDecimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(d)
}
