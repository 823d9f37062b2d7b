package domain

import "github.com/shopspring/decimal"

// Snapshot is a read-only copy of the engine state for presentation layers.
type Snapshot struct {
	Balance decimal.Decimal `json:"balance"`
	Active  *Position       `json:"active"`
	History []HistoryRecord `json:"history"`
}
