package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/evetabi/invest/internal/config"
	"github.com/evetabi/invest/internal/domain"
	"github.com/evetabi/invest/internal/metrics"
	"github.com/evetabi/invest/internal/repository"
	"github.com/shopspring/decimal"
)

// ──────────────────────────────────────────────────────────────────────────────
// Interfaces injected into PositionManager to avoid import cycles
// ──────────────────────────────────────────────────────────────────────────────

// Clock supplies wall-clock time. Tests substitute a manual clock.
type Clock interface {
	Now() time.Time
}

// SystemClock is the real clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

// Armer starts the countdown for a freshly opened or reloaded position.
// Implemented by scheduler.Scheduler. Arm must not block.
type Armer interface {
	Arm(p domain.Position)
}

// Notifier pushes lifecycle events to presentation clients.
// Implemented by ws.Hub. Calls must not block.
type Notifier interface {
	PositionOpened(p domain.Position, balance decimal.Decimal)
	Countdown(p domain.Position)
	PositionSettled(rec domain.HistoryRecord, balance decimal.Decimal)
}

// ──────────────────────────────────────────────────────────────────────────────
// PositionManager
// ──────────────────────────────────────────────────────────────────────────────

// PositionManager owns the balance, the single active position and the
// completed history. Every mutation happens under one mutex and is written
// through to the repository before the lock is released, so persisted writes
// follow the same order as in-memory changes.
//
// Store failures are logged and counted but never surface to callers: the
// in-memory state stays authoritative for the running process.
type PositionManager struct {
	repo   *repository.StateRepository
	clock  Clock
	locale string
	loc    *time.Location
	logger *slog.Logger

	armer    Armer    // injected after the scheduler is built
	notifier Notifier // injected after the WS hub is built

	mu      sync.Mutex
	balance decimal.Decimal
	active  *domain.Position
	history []domain.HistoryRecord
}

// NewPositionManager creates a PositionManager. Call Load before use.
func NewPositionManager(
	repo *repository.StateRepository,
	clock Clock,
	cfg *config.Config,
	logger *slog.Logger,
) *PositionManager {
	if clock == nil {
		clock = SystemClock{}
	}
	return &PositionManager{
		repo:    repo,
		clock:   clock,
		locale:  cfg.Invest.Locale,
		loc:     cfg.Location(),
		logger:  logger,
		history: []domain.HistoryRecord{},
	}
}

// SetArmer injects the scheduler post-construction.
func (m *PositionManager) SetArmer(a Armer) { m.armer = a }

// SetNotifier injects the WS hub post-construction.
func (m *PositionManager) SetNotifier(n Notifier) { m.notifier = n }

// ──────────────────────────────────────────────────────────────────────────────
// Load
// ──────────────────────────────────────────────────────────────────────────────

// Load reads persisted state once at startup.
//
// A persisted position whose end time has already passed is dropped without
// settlement: no profit, no history record, and the stake stays debited.
// A still-running position has its remaining seconds recomputed from the
// clock and the countdown re-armed.
func (m *PositionManager) Load(ctx context.Context) error {
	st, err := m.repo.Load(ctx)
	if err != nil {
		return fmt.Errorf("position_manager.Load: %w", err)
	}

	m.mu.Lock()
	m.balance = st.Balance
	m.history = st.History
	m.active = nil

	var rearm *domain.Position
	if p := st.Active; p != nil {
		now := m.clock.Now()
		_, known := domain.FindRoom(p.RoomID)
		switch {
		case !known:
			m.logger.Error("discarding persisted position for unknown room",
				"position_id", p.ID, "room_id", p.RoomID, "amount", p.Amount)
			m.discardLocked(ctx)
		case p.Expired(now):
			m.logger.Warn("discarding position that expired while offline; stake not refunded",
				"position_id", p.ID, "room_id", p.RoomID, "amount", p.Amount,
				"end_time", p.EndTime, "now", now)
			m.discardLocked(ctx)
		default:
			p.RemainingSeconds = p.Remaining(now)
			m.active = p
			rearm = p.Clone()
		}
	}
	m.updateGaugesLocked()
	bal := m.balance
	m.mu.Unlock()

	m.logger.Info("invest state loaded",
		"balance", bal, "history", len(st.History), "active", rearm != nil)

	if rearm != nil && m.armer != nil {
		m.armer.Arm(*rearm)
	}
	return nil
}

func (m *PositionManager) discardLocked(ctx context.Context) {
	metrics.PositionsDiscarded.Inc()
	m.persist("discard", m.repo.SavePosition(persistCtx(ctx), nil))
}

// ──────────────────────────────────────────────────────────────────────────────
// Open
// ──────────────────────────────────────────────────────────────────────────────

// Open starts a position. Checks run in this order and the first failure
// wins: no active position, known room, amount valid and at least the room
// minimum, at most the room maximum, at most the balance. A failure leaves
// all state untouched.
func (m *PositionManager) Open(ctx context.Context, req domain.OpenRequest) (*domain.Position, error) {
	m.mu.Lock()

	if m.active != nil {
		m.mu.Unlock()
		return nil, m.reject(domain.ErrPositionAlreadyActive)
	}
	room, ok := domain.FindRoom(req.RoomID)
	if !ok {
		m.mu.Unlock()
		return nil, m.reject(domain.ErrRoomNotFound)
	}
	if err := room.Validate(req.Amount, m.balance); err != nil {
		m.mu.Unlock()
		return nil, m.reject(err)
	}

	amount := req.Amount.Decimal
	pos := domain.NewPosition(room, amount, m.clock.Now())
	m.balance = m.balance.Sub(amount)
	m.active = pos
	m.persist("open", m.repo.SaveOpen(persistCtx(ctx), m.balance, pos))
	m.updateGaugesLocked()

	out := *pos
	bal := m.balance
	m.mu.Unlock()

	metrics.PositionsOpened.WithLabelValues(strconv.Itoa(room.ID)).Inc()
	m.logger.Info("position opened",
		"position_id", out.ID, "room_id", room.ID, "amount", amount,
		"end_time", out.EndTime, "balance", bal)

	if m.armer != nil {
		m.armer.Arm(out)
	}
	if m.notifier != nil {
		m.notifier.PositionOpened(out, bal)
	}
	return &out, nil
}

func (m *PositionManager) reject(err error) error {
	metrics.OpenRejections.WithLabelValues(RejectionReason(err)).Inc()
	m.logger.Debug("position open rejected", "reason", err)
	return err
}

// RejectionReason maps an Open error to a short label.
func RejectionReason(err error) string {
	switch {
	case errors.Is(err, domain.ErrPositionAlreadyActive):
		return "position_active"
	case errors.Is(err, domain.ErrRoomNotFound):
		return "room_not_found"
	case errors.Is(err, domain.ErrBelowMinimum):
		return "below_minimum"
	case errors.Is(err, domain.ErrAboveMaximum):
		return "above_maximum"
	case errors.Is(err, domain.ErrInsufficientBalance):
		return "insufficient_balance"
	default:
		return "other"
	}
}

// ──────────────────────────────────────────────────────────────────────────────
// Tick / settle
// ──────────────────────────────────────────────────────────────────────────────

// Tick recomputes the active position's remaining seconds. While time is
// left it updates and persists the countdown and returns nil. Once remaining
// reaches zero the position is settled and its history record returned.
// With no active position Tick does nothing.
func (m *PositionManager) Tick(ctx context.Context) (*domain.HistoryRecord, error) {
	m.mu.Lock()
	if m.active == nil {
		m.mu.Unlock()
		return nil, nil
	}

	now := m.clock.Now()
	remaining := m.active.Remaining(now)
	if remaining > 0 {
		m.active.RemainingSeconds = remaining
		m.persist("tick", m.repo.SavePosition(persistCtx(ctx), m.active))
		out := *m.active
		m.mu.Unlock()

		if m.notifier != nil {
			m.notifier.Countdown(out)
		}
		return nil, nil
	}

	rec, err := m.settleLocked(ctx, now)
	bal := m.balance
	m.mu.Unlock()
	if err != nil {
		return nil, err
	}

	if m.notifier != nil {
		m.notifier.PositionSettled(rec, bal)
	}
	return &rec, nil
}

// settleLocked credits stake plus profit, prepends a Completed record and
// clears the active position. Balance, history and the cleared position are
// written in a single batch. Caller holds m.mu.
func (m *PositionManager) settleLocked(ctx context.Context, now time.Time) (domain.HistoryRecord, error) {
	p := m.active
	room, ok := domain.FindRoom(p.RoomID)
	if !ok {
		return domain.HistoryRecord{}, fmt.Errorf("position_manager.settle %s: %w", p.ID, domain.ErrRoomNotFound)
	}

	id, err := domain.NewHistoryID(m.historyHasID)
	if err != nil {
		return domain.HistoryRecord{}, fmt.Errorf("position_manager.settle %s: %w", p.ID, err)
	}

	profit := room.Profit(p.Amount)
	rec := domain.HistoryRecord{
		ID:          id,
		RoomID:      room.ID,
		RoomNameKey: room.NameKey,
		Amount:      p.Amount,
		Profit:      profit,
		StartTime:   domain.FormatTimestamp(p.StartTime, m.locale, m.loc),
		EndTime:     domain.FormatTimestamp(now, m.locale, m.loc),
		Status:      domain.RecordStatusCompleted,
	}

	history := make([]domain.HistoryRecord, 0, len(m.history)+1)
	history = append(history, rec)
	history = append(history, m.history...)

	m.balance = m.balance.Add(room.TotalReturn(p.Amount))
	m.history = history
	m.active = nil
	m.persist("settle", m.repo.SaveSettlement(persistCtx(ctx), m.balance, m.history))
	m.updateGaugesLocked()

	metrics.PositionsSettled.WithLabelValues(strconv.Itoa(room.ID)).Inc()
	m.logger.Info("position settled",
		"position_id", p.ID, "record_id", rec.ID, "room_id", room.ID,
		"amount", p.Amount, "profit", profit, "balance", m.balance)

	return rec, nil
}

func (m *PositionManager) historyHasID(id string) bool {
	for _, r := range m.history {
		if r.ID == id {
			return true
		}
	}
	return false
}

// ──────────────────────────────────────────────────────────────────────────────
// Read-only views
// ──────────────────────────────────────────────────────────────────────────────

// Snapshot returns a copy of the full state.
func (m *PositionManager) Snapshot() domain.Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	hist := make([]domain.HistoryRecord, len(m.history))
	copy(hist, m.history)
	return domain.Snapshot{
		Balance: m.balance,
		Active:  m.active.Clone(),
		History: hist,
	}
}

// Balance returns the current balance.
func (m *PositionManager) Balance() decimal.Decimal {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.balance
}

// Active returns a copy of the running position or ErrNoActivePosition.
func (m *PositionManager) Active() (*domain.Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active == nil {
		return nil, domain.ErrNoActivePosition
	}
	return m.active.Clone(), nil
}

// HasActive reports whether a position is running.
func (m *PositionManager) HasActive() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active != nil
}

// History returns one page of records, newest first, and the total count.
func (m *PositionManager) History(limit, offset int) ([]domain.HistoryRecord, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	total := len(m.history)
	if offset < 0 {
		offset = 0
	}
	if offset >= total || limit <= 0 {
		return []domain.HistoryRecord{}, total
	}
	end := offset + limit
	if end > total {
		end = total
	}
	page := make([]domain.HistoryRecord, end-offset)
	copy(page, m.history[offset:end])
	return page, total
}

// Rooms returns the room catalog.
func (m *PositionManager) Rooms() []domain.Room {
	return domain.Rooms()
}

// ──────────────────────────────────────────────────────────────────────────────
// Helpers
// ──────────────────────────────────────────────────────────────────────────────

func (m *PositionManager) persist(op string, err error) {
	if err == nil {
		return
	}
	metrics.PersistFailures.WithLabelValues(op).Inc()
	m.logger.Error("persisting invest state failed", "op", op, "err", err)
}

func (m *PositionManager) updateGaugesLocked() {
	metrics.Balance.Set(m.balance.InexactFloat64())
	if m.active != nil {
		metrics.ActivePosition.Set(1)
	} else {
		metrics.ActivePosition.Set(0)
	}
}

// persistCtx keeps writes alive when the triggering request is cancelled.
func persistCtx(ctx context.Context) context.Context {
	return context.WithoutCancel(ctx)
}
