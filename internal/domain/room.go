// Package domain defines the core entities of the timed-investment engine:
// rooms, positions, and completed history records.
package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// ──────────────────────────────────────────────────────────────────────────────
// Room
// ──────────────────────────────────────────────────────────────────────────────

// Room is one investment tier: stake bounds, a fixed running time, and the
// profit percent paid when a position in the room settles.
// Use ToView for API responses.
type Room struct {
	ID            int
	NameKey       string
	Min           decimal.Decimal
	Max           decimal.Decimal
	Duration      time.Duration
	ProfitPercent decimal.Decimal
}

// DurationSeconds returns the running time in whole seconds.
func (r Room) DurationSeconds() int64 {
	return int64(r.Duration / time.Second)
}

// Profit returns amount × profitPercent / 100. The result is exact and kept in
// its shortest form, so a record decoded from storage compares equal to the
// one produced in memory.
func (r Room) Profit(amount decimal.Decimal) decimal.Decimal {
	return shortest(amount.Mul(r.ProfitPercent).Shift(-2))
}

// shortest drops trailing fractional zeros from d's representation.
func shortest(d decimal.Decimal) decimal.Decimal {
	return decimal.RequireFromString(d.String())
}

// TotalReturn is the stake plus its profit, credited on settlement.
func (r Room) TotalReturn(amount decimal.Decimal) decimal.Decimal {
	return amount.Add(r.Profit(amount))
}

// Validate checks a stake against the room bounds and the caller's balance.
// The order is fixed: minimum, then maximum, then balance. An invalid
// (non-numeric) amount fails the minimum check.
func (r Room) Validate(amount decimal.NullDecimal, balance decimal.Decimal) error {
	if !amount.Valid || amount.Decimal.LessThan(r.Min) {
		return ErrBelowMinimum
	}
	if amount.Decimal.GreaterThan(r.Max) {
		return ErrAboveMaximum
	}
	if amount.Decimal.GreaterThan(balance) {
		return ErrInsufficientBalance
	}
	return nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Catalog
// ──────────────────────────────────────────────────────────────────────────────

// RoomDuration is the running time shared by every room in the current catalog.
const RoomDuration = 300 * time.Second

// rooms is the compiled-in catalog, ordered by tier.
var rooms = []Room{
	{ID: 1, NameKey: "invest.room_1", Min: decimal.NewFromInt(1_000), Max: decimal.NewFromInt(100_000), Duration: RoomDuration, ProfitPercent: decimal.NewFromInt(5)},
	{ID: 2, NameKey: "invest.room_2", Min: decimal.NewFromInt(100_000), Max: decimal.NewFromInt(500_000), Duration: RoomDuration, ProfitPercent: decimal.NewFromInt(7)},
	{ID: 3, NameKey: "invest.room_3", Min: decimal.NewFromInt(500_000), Max: decimal.NewFromInt(1_000_000), Duration: RoomDuration, ProfitPercent: decimal.NewFromInt(10)},
	{ID: 4, NameKey: "invest.room_vip", Min: decimal.NewFromInt(1_000_000), Max: decimal.NewFromInt(1_000_000_000), Duration: RoomDuration, ProfitPercent: decimal.NewFromInt(20)},
}

// Rooms returns a copy of the catalog in tier order.
func Rooms() []Room {
	out := make([]Room, len(rooms))
	copy(out, rooms)
	return out
}

// FindRoom looks a room up by id.
func FindRoom(id int) (Room, bool) {
	for _, r := range rooms {
		if r.ID == id {
			return r, true
		}
	}
	return Room{}, false
}

// RoomView is the API-safe rendering of a Room.
type RoomView struct {
	ID              int             `json:"id"`
	NameKey         string          `json:"name_key"`
	Min             decimal.Decimal `json:"min"`
	Max             decimal.Decimal `json:"max"`
	DurationSeconds int64           `json:"duration_seconds"`
	ProfitPercent   decimal.Decimal `json:"profit_percent"`
}

// ToView converts a Room to its response form.
func (r Room) ToView() RoomView {
	return RoomView{
		ID:              r.ID,
		NameKey:         r.NameKey,
		Min:             r.Min,
		Max:             r.Max,
		DurationSeconds: r.DurationSeconds(),
		ProfitPercent:   r.ProfitPercent,
	}
}
