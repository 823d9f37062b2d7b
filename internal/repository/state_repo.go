// Package repository maps engine state onto the persisted keys of a store.Store.
package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/evetabi/invest/internal/domain"
	"github.com/evetabi/invest/internal/store"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Persisted keys.
const (
	KeyBalance        = "balance"
	KeyActivePosition = "active_position"
	KeyTradeHistory   = "trade_history"
)

// State is everything the engine persists.
type State struct {
	Balance decimal.Decimal
	Active  *domain.Position
	History []domain.HistoryRecord
}

// positionRecord is the stored form of a Position; times are epoch millis.
type positionRecord struct {
	ID        uuid.UUID       `json:"id"`
	RoomID    int             `json:"roomId"`
	Amount    decimal.Decimal `json:"amount"`
	StartTime int64           `json:"startTime"`
	EndTime   int64           `json:"endTime"`
	Remaining int64           `json:"remaining"`
}

func toRecord(p *domain.Position) positionRecord {
	return positionRecord{
		ID:        p.ID,
		RoomID:    p.RoomID,
		Amount:    p.Amount,
		StartTime: p.StartTime.UnixMilli(),
		EndTime:   p.EndTime.UnixMilli(),
		Remaining: p.RemainingSeconds,
	}
}

func (r positionRecord) toDomain() *domain.Position {
	return &domain.Position{
		ID:               r.ID,
		RoomID:           r.RoomID,
		Amount:           r.Amount,
		StartTime:        time.UnixMilli(r.StartTime),
		EndTime:          time.UnixMilli(r.EndTime),
		RemainingSeconds: r.Remaining,
	}
}

// StateRepository reads and writes State through a key-value store.
type StateRepository struct {
	kv              store.Store
	startingBalance decimal.Decimal
}

// NewStateRepository creates a StateRepository. startingBalance is returned by
// Load when no balance has ever been saved.
func NewStateRepository(kv store.Store, startingBalance decimal.Decimal) *StateRepository {
	return &StateRepository{kv: kv, startingBalance: startingBalance}
}

// Load reads all three keys. Missing keys yield defaults; malformed values
// are errors.
func (r *StateRepository) Load(ctx context.Context) (State, error) {
	st := State{Balance: r.startingBalance, History: []domain.HistoryRecord{}}

	raw, ok, err := r.kv.Get(ctx, KeyBalance)
	if err != nil {
		return State{}, fmt.Errorf("state_repo.Load: balance: %w", err)
	}
	if ok {
		if st.Balance, err = decimal.NewFromString(raw); err != nil {
			return State{}, fmt.Errorf("state_repo.Load: parse balance %q: %w", raw, err)
		}
	}

	raw, ok, err = r.kv.Get(ctx, KeyActivePosition)
	if err != nil {
		return State{}, fmt.Errorf("state_repo.Load: position: %w", err)
	}
	if ok {
		var rec positionRecord
		if err = json.Unmarshal([]byte(raw), &rec); err != nil {
			return State{}, fmt.Errorf("state_repo.Load: decode position: %w", err)
		}
		st.Active = rec.toDomain()
	}

	raw, ok, err = r.kv.Get(ctx, KeyTradeHistory)
	if err != nil {
		return State{}, fmt.Errorf("state_repo.Load: history: %w", err)
	}
	if ok {
		if err = json.Unmarshal([]byte(raw), &st.History); err != nil {
			return State{}, fmt.Errorf("state_repo.Load: decode history: %w", err)
		}
		if st.History == nil {
			st.History = []domain.HistoryRecord{}
		}
	}

	return st, nil
}

// SavePosition writes p, or deletes the key when p is nil.
func (r *StateRepository) SavePosition(ctx context.Context, p *domain.Position) error {
	var b store.Batch
	if err := putPosition(&b, p); err != nil {
		return fmt.Errorf("state_repo.SavePosition: %w", err)
	}
	if err := r.kv.Apply(ctx, b); err != nil {
		return fmt.Errorf("state_repo.SavePosition: %w", err)
	}
	return nil
}

// SaveOpen writes the debited balance and the new position together.
func (r *StateRepository) SaveOpen(ctx context.Context, balance decimal.Decimal, p *domain.Position) error {
	var b store.Batch
	b.Set(KeyBalance, balance.String())
	if err := putPosition(&b, p); err != nil {
		return fmt.Errorf("state_repo.SaveOpen: %w", err)
	}
	if err := r.kv.Apply(ctx, b); err != nil {
		return fmt.Errorf("state_repo.SaveOpen: %w", err)
	}
	return nil
}

// SaveSettlement writes the credited balance and the new history and clears
// the active position, all in one batch.
func (r *StateRepository) SaveSettlement(ctx context.Context, balance decimal.Decimal, history []domain.HistoryRecord) error {
	hist, err := json.Marshal(history)
	if err != nil {
		return fmt.Errorf("state_repo.SaveSettlement: encode history: %w", err)
	}
	var b store.Batch
	b.Set(KeyBalance, balance.String())
	b.Set(KeyTradeHistory, string(hist))
	b.Delete(KeyActivePosition)
	if err = r.kv.Apply(ctx, b); err != nil {
		return fmt.Errorf("state_repo.SaveSettlement: %w", err)
	}
	return nil
}

func putPosition(b *store.Batch, p *domain.Position) error {
	if p == nil {
		b.Delete(KeyActivePosition)
		return nil
	}
	data, err := json.Marshal(toRecord(p))
	if err != nil {
		return fmt.Errorf("encode position: %w", err)
	}
	b.Set(KeyActivePosition, string(data))
	return nil
}
