package service_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/evetabi/invest/internal/config"
	"github.com/evetabi/invest/internal/domain"
	"github.com/evetabi/invest/internal/repository"
	"github.com/evetabi/invest/internal/service"
	"github.com/evetabi/invest/internal/store"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ── Test doubles ──────────────────────────────────────────────────────────────

type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func newManualClock() *manualClock {
	return &manualClock{now: time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC)}
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type recordingArmer struct {
	mu    sync.Mutex
	armed []domain.Position
}

func (a *recordingArmer) Arm(p domain.Position) {
	a.mu.Lock()
	a.armed = append(a.armed, p)
	a.mu.Unlock()
}

type recordingNotifier struct {
	mu        sync.Mutex
	opened    int
	countdown []int64
	settled   []domain.HistoryRecord
	balances  []decimal.Decimal
}

func (n *recordingNotifier) PositionOpened(_ domain.Position, bal decimal.Decimal) {
	n.mu.Lock()
	n.opened++
	n.balances = append(n.balances, bal)
	n.mu.Unlock()
}

func (n *recordingNotifier) Countdown(p domain.Position) {
	n.mu.Lock()
	n.countdown = append(n.countdown, p.RemainingSeconds)
	n.mu.Unlock()
}

func (n *recordingNotifier) PositionSettled(rec domain.HistoryRecord, bal decimal.Decimal) {
	n.mu.Lock()
	n.settled = append(n.settled, rec)
	n.balances = append(n.balances, bal)
	n.mu.Unlock()
}

// failingStore wraps a MemoryStore and fails writes while broken is set.
type failingStore struct {
	*store.MemoryStore
	broken bool
}

func (s *failingStore) Apply(ctx context.Context, b store.Batch) error {
	if s.broken {
		return errors.New("disk on fire")
	}
	return s.MemoryStore.Apply(ctx, b)
}

func testCfg() *config.Config {
	return &config.Config{
		Invest: config.InvestConfig{
			StartingBalance: decimal.NewFromInt(50_000),
			Locale:          "en",
			Timezone:        "UTC",
			TickInterval:    time.Second,
		},
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type harness struct {
	kv       store.Store
	clock    *manualClock
	armer    *recordingArmer
	notifier *recordingNotifier
	mgr      *service.PositionManager
}

func newHarness(t *testing.T, kv store.Store, clock *manualClock) *harness {
	t.Helper()
	if kv == nil {
		kv = store.NewMemoryStore()
	}
	if clock == nil {
		clock = newManualClock()
	}
	cfg := testCfg()
	repo := repository.NewStateRepository(kv, cfg.Invest.StartingBalance)
	h := &harness{
		kv:       kv,
		clock:    clock,
		armer:    &recordingArmer{},
		notifier: &recordingNotifier{},
		mgr:      service.NewPositionManager(repo, clock, cfg, discardLogger()),
	}
	h.mgr.SetArmer(h.armer)
	h.mgr.SetNotifier(h.notifier)
	require.NoError(t, h.mgr.Load(context.Background()))
	return h
}

func openReq(roomID int, amount string) domain.OpenRequest {
	return domain.OpenRequest{RoomID: roomID, Amount: domain.ParseStake(amount)}
}

// settleNow advances past the end time and ticks once.
func (h *harness) settleNow(t *testing.T) *domain.HistoryRecord {
	t.Helper()
	h.clock.Advance(domain.RoomDuration)
	rec, err := h.mgr.Tick(context.Background())
	require.NoError(t, err)
	require.NotNil(t, rec, "expected settlement")
	return rec
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// ── Open ──────────────────────────────────────────────────────────────────────

func TestOpen_DebitsAndArms(t *testing.T) {
	h := newHarness(t, nil, nil)
	ctx := context.Background()

	pos, err := h.mgr.Open(ctx, openReq(1, "10000"))
	require.NoError(t, err)

	assert.True(t, h.mgr.Balance().Equal(dec("40000")))
	assert.Equal(t, 1, pos.RoomID)
	assert.True(t, pos.StartTime.Equal(h.clock.Now()))
	assert.True(t, pos.EndTime.Equal(h.clock.Now().Add(300*time.Second)))
	assert.EqualValues(t, 300, pos.RemainingSeconds)

	require.Len(t, h.armer.armed, 1)
	assert.Equal(t, pos.ID, h.armer.armed[0].ID)
	assert.Equal(t, 1, h.notifier.opened)

	// persisted
	v, ok, err := h.kv.Get(ctx, repository.KeyBalance)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "40000", v)
	_, ok, _ = h.kv.Get(ctx, repository.KeyActivePosition)
	assert.True(t, ok)
}

func TestOpen_RejectsSecondPosition(t *testing.T) {
	h := newHarness(t, nil, nil)
	ctx := context.Background()

	_, err := h.mgr.Open(ctx, openReq(1, "10000"))
	require.NoError(t, err)
	before := h.mgr.Snapshot()

	for _, req := range []domain.OpenRequest{
		openReq(1, "10000"),
		openReq(2, "100000"),
		openReq(99, "garbage"), // active check precedes every other check
	} {
		_, err = h.mgr.Open(ctx, req)
		assert.ErrorIs(t, err, domain.ErrPositionAlreadyActive)
	}

	after := h.mgr.Snapshot()
	assert.True(t, before.Balance.Equal(after.Balance))
	assert.Equal(t, before.Active.ID, after.Active.ID)
	assert.Equal(t, before.History, after.History)
	assert.Len(t, h.armer.armed, 1)
}

func TestOpen_BoundsOrdering(t *testing.T) {
	h := newHarness(t, nil, nil)
	ctx := context.Background()

	_, err := h.mgr.Open(ctx, openReq(1, "500"))
	assert.ErrorIs(t, err, domain.ErrBelowMinimum)

	_, err = h.mgr.Open(ctx, openReq(1, "200000"))
	assert.ErrorIs(t, err, domain.ErrAboveMaximum)

	_, err = h.mgr.Open(ctx, openReq(1, "not a number"))
	assert.ErrorIs(t, err, domain.ErrBelowMinimum)

	assert.True(t, h.mgr.Balance().Equal(dec("50000")))
	assert.False(t, h.mgr.HasActive())
	assert.Empty(t, h.armer.armed)
}

func TestOpen_InsufficientBalance(t *testing.T) {
	kv := store.NewMemoryStore()
	var b store.Batch
	b.Set(repository.KeyBalance, "100")
	require.NoError(t, kv.Apply(context.Background(), b))

	h := newHarness(t, kv, nil)
	_, err := h.mgr.Open(context.Background(), openReq(1, "1000"))
	assert.ErrorIs(t, err, domain.ErrInsufficientBalance)
	assert.True(t, h.mgr.Balance().Equal(dec("100")))
}

func TestOpen_UnknownRoom(t *testing.T) {
	h := newHarness(t, nil, nil)
	_, err := h.mgr.Open(context.Background(), openReq(7, "10000"))
	assert.ErrorIs(t, err, domain.ErrRoomNotFound)
	assert.True(t, domain.IsNotFound(err))
}

// ── Tick & settle ─────────────────────────────────────────────────────────────

func TestTick_NoActivePositionIsNoop(t *testing.T) {
	h := newHarness(t, nil, nil)
	rec, err := h.mgr.Tick(context.Background())
	assert.NoError(t, err)
	assert.Nil(t, rec)
}

func TestTick_CountsDown(t *testing.T) {
	h := newHarness(t, nil, nil)
	ctx := context.Background()
	_, err := h.mgr.Open(ctx, openReq(1, "10000"))
	require.NoError(t, err)

	h.clock.Advance(time.Second)
	rec, err := h.mgr.Tick(ctx)
	require.NoError(t, err)
	assert.Nil(t, rec)

	h.clock.Advance(1400 * time.Millisecond) // 297.6s left → 298
	_, err = h.mgr.Tick(ctx)
	require.NoError(t, err)

	active, err := h.mgr.Active()
	require.NoError(t, err)
	assert.EqualValues(t, 298, active.RemainingSeconds)
	assert.Equal(t, []int64{299, 298}, h.notifier.countdown)
}

// 50 000 → open 10 000 in room 1 → 40 000 → settle → 51 500, profit 500.
func TestSettlementArithmetic(t *testing.T) {
	h := newHarness(t, nil, nil)
	ctx := context.Background()

	_, err := h.mgr.Open(ctx, openReq(1, "10000"))
	require.NoError(t, err)
	assert.True(t, h.mgr.Balance().Equal(dec("40000")))

	rec := h.settleNow(t)

	assert.True(t, h.mgr.Balance().Equal(dec("50500")), "balance = %s", h.mgr.Balance())
	assert.True(t, rec.Profit.Equal(dec("500")))
	assert.True(t, rec.Amount.Equal(dec("10000")))
	assert.Equal(t, 1, rec.RoomID)
	assert.Equal(t, "invest.room_1", rec.RoomNameKey)
	assert.Equal(t, domain.RecordStatusCompleted, rec.Status)
	assert.Regexp(t, `^TR[1-9][0-9]{5}$`, rec.ID)
	assert.Equal(t, "10/19/2026, 9:00:00 AM", rec.StartTime)
	assert.Equal(t, "10/19/2026, 9:05:00 AM", rec.EndTime)

	snap := h.mgr.Snapshot()
	assert.Nil(t, snap.Active)
	require.Len(t, snap.History, 1)
	assert.Equal(t, rec.ID, snap.History[0].ID)

	require.Len(t, h.notifier.settled, 1)
	assert.True(t, h.notifier.balances[len(h.notifier.balances)-1].Equal(dec("50500")))

	// a later tick has nothing to settle
	again, err := h.mgr.Tick(ctx)
	assert.NoError(t, err)
	assert.Nil(t, again)
	assert.True(t, h.mgr.Balance().Equal(dec("50500")))
}

func TestSettlement_PersistsAtomically(t *testing.T) {
	h := newHarness(t, nil, nil)
	ctx := context.Background()
	_, err := h.mgr.Open(ctx, openReq(1, "10000"))
	require.NoError(t, err)
	h.settleNow(t)

	reloaded := newHarness(t, h.kv, h.clock)
	snap := reloaded.mgr.Snapshot()
	assert.True(t, snap.Balance.Equal(dec("50500")))
	assert.Nil(t, snap.Active)
	assert.Len(t, snap.History, 1)
}

func TestSettlement_TriggersAtZeroAfterRounding(t *testing.T) {
	h := newHarness(t, nil, nil)
	ctx := context.Background()
	_, err := h.mgr.Open(ctx, openReq(1, "10000"))
	require.NoError(t, err)

	h.clock.Advance(domain.RoomDuration - 600*time.Millisecond) // rounds to 1
	rec, err := h.mgr.Tick(ctx)
	require.NoError(t, err)
	assert.Nil(t, rec)

	h.clock.Advance(200 * time.Millisecond) // 0.4s left rounds to 0
	rec, err = h.mgr.Tick(ctx)
	require.NoError(t, err)
	assert.NotNil(t, rec)
}

func TestHistory_NewestFirst(t *testing.T) {
	h := newHarness(t, nil, nil)
	ctx := context.Background()

	var (
		ids   []string
		first domain.HistoryRecord
	)
	for i, amt := range []string{"1000", "2000", "3000"} {
		_, err := h.mgr.Open(ctx, openReq(1, amt))
		require.NoError(t, err)
		rec := h.settleNow(t)
		if i == 0 {
			first = *rec
		}
		ids = append(ids, rec.ID)
	}

	hist := h.mgr.Snapshot().History
	require.Len(t, hist, 3)
	assert.Equal(t, []string{ids[2], ids[1], ids[0]}, []string{hist[0].ID, hist[1].ID, hist[2].ID})
	assert.True(t, hist[0].Amount.Equal(dec("3000")))
	assert.True(t, hist[2].Amount.Equal(dec("1000")))
	assert.Equal(t, first, hist[2], "records are never mutated after insertion")

	// 50 000 + 5 % of 6 000
	assert.True(t, h.mgr.Balance().Equal(dec("50300")))

	page, total := h.mgr.History(2, 1)
	assert.Equal(t, 3, total)
	require.Len(t, page, 2)
	assert.Equal(t, ids[1], page[0].ID)
	assert.Equal(t, ids[0], page[1].ID)

	page, total = h.mgr.History(10, 5)
	assert.Equal(t, 3, total)
	assert.Empty(t, page)
}

func TestHistory_IDsUnique(t *testing.T) {
	h := newHarness(t, nil, nil)
	ctx := context.Background()
	seen := map[string]bool{}
	for i := 0; i < 20; i++ {
		_, err := h.mgr.Open(ctx, openReq(1, "1000"))
		require.NoError(t, err)
		id := h.settleNow(t).ID
		assert.False(t, seen[id], "duplicate id %s", id)
		seen[id] = true
	}
}

// ── Reload ────────────────────────────────────────────────────────────────────

func TestLoad_DiscardsExpiredPositionWithoutRefund(t *testing.T) {
	clock := newManualClock()
	h := newHarness(t, nil, clock)
	ctx := context.Background()

	_, err := h.mgr.Open(ctx, openReq(1, "10000"))
	require.NoError(t, err)

	// process "restarts" after the end time
	clock.Advance(domain.RoomDuration + time.Second)
	reloaded := newHarness(t, h.kv, clock)

	snap := reloaded.mgr.Snapshot()
	assert.Nil(t, snap.Active)
	assert.Empty(t, snap.History)
	assert.True(t, snap.Balance.Equal(dec("40000")), "stake stays debited")
	assert.Empty(t, reloaded.armer.armed)

	_, ok, err := h.kv.Get(ctx, repository.KeyActivePosition)
	require.NoError(t, err)
	assert.False(t, ok, "discarded position removed from store")
}

func TestLoad_ExactlyAtEndTimeIsKeptAndSettles(t *testing.T) {
	clock := newManualClock()
	h := newHarness(t, nil, clock)
	ctx := context.Background()
	_, err := h.mgr.Open(ctx, openReq(1, "10000"))
	require.NoError(t, err)

	clock.Advance(domain.RoomDuration)
	reloaded := newHarness(t, h.kv, clock)
	require.True(t, reloaded.mgr.HasActive())

	rec, err := reloaded.mgr.Tick(ctx)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.True(t, reloaded.mgr.Balance().Equal(dec("50500")))
}

func TestLoad_RoundTripBeforeExpiry(t *testing.T) {
	clock := newManualClock()
	h := newHarness(t, nil, clock)
	ctx := context.Background()

	_, err := h.mgr.Open(ctx, openReq(1, "1000"))
	require.NoError(t, err)
	h.settleNow(t)
	pos, err := h.mgr.Open(ctx, openReq(2, "100000"))
	require.Error(t, err) // only 50 050 available
	assert.ErrorIs(t, err, domain.ErrInsufficientBalance)
	pos, err = h.mgr.Open(ctx, openReq(1, "5000"))
	require.NoError(t, err)

	h.clock.Advance(10 * time.Second)
	_, err = h.mgr.Tick(ctx) // persists remaining = 290
	require.NoError(t, err)

	clock.Advance(100*time.Second + 200*time.Millisecond)
	reloaded := newHarness(t, h.kv, clock)

	before, after := h.mgr.Snapshot(), reloaded.mgr.Snapshot()
	assert.True(t, before.Balance.Equal(after.Balance))
	assert.Equal(t, before.History, after.History)
	require.NotNil(t, after.Active)
	assert.Equal(t, pos.ID, after.Active.ID)
	assert.True(t, pos.Amount.Equal(after.Active.Amount))
	assert.True(t, pos.EndTime.Equal(after.Active.EndTime))
	assert.EqualValues(t, 190, after.Active.RemainingSeconds, "recomputed from the clock, not the stored 290")

	require.Len(t, reloaded.armer.armed, 1)
	assert.Equal(t, pos.ID, reloaded.armer.armed[0].ID)
}

func TestLoad_UnknownRoomIsDiscarded(t *testing.T) {
	kv := store.NewMemoryStore()
	var b store.Batch
	b.Set(repository.KeyActivePosition, `{"roomId":42,"amount":"10","startTime":1,"endTime":9999999999999}`)
	require.NoError(t, kv.Apply(context.Background(), b))

	h := newHarness(t, kv, nil)
	assert.False(t, h.mgr.HasActive())
}

func TestLoad_CorruptStateFails(t *testing.T) {
	kv := store.NewMemoryStore()
	var b store.Batch
	b.Set(repository.KeyBalance, "NaN-ish")
	require.NoError(t, kv.Apply(context.Background(), b))

	cfg := testCfg()
	mgr := service.NewPositionManager(repository.NewStateRepository(kv, cfg.Invest.StartingBalance), newManualClock(), cfg, discardLogger())
	assert.Error(t, mgr.Load(context.Background()))
}

// ── Persistence failures ──────────────────────────────────────────────────────

func TestPersistFailure_IsNotFatal(t *testing.T) {
	kv := &failingStore{MemoryStore: store.NewMemoryStore()}
	h := newHarness(t, kv, nil)
	ctx := context.Background()

	kv.broken = true
	pos, err := h.mgr.Open(ctx, openReq(1, "10000"))
	require.NoError(t, err, "store failure must not fail the open")
	assert.NotNil(t, pos)
	assert.True(t, h.mgr.Balance().Equal(dec("40000")))

	rec := h.settleNow(t)
	assert.NotNil(t, rec)
	assert.True(t, h.mgr.Balance().Equal(dec("50500")))
	assert.Equal(t, 0, kv.Keys())
}

// ── Concurrency ───────────────────────────────────────────────────────────────

func TestOpen_ConcurrentOnlyOneWins(t *testing.T) {
	h := newHarness(t, nil, nil)
	ctx := context.Background()

	const workers = 20
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := h.mgr.Open(ctx, openReq(1, "1000")); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, wins)
	assert.True(t, h.mgr.Balance().Equal(dec("49000")))
}

func TestTick_ConcurrentSettlesOnce(t *testing.T) {
	h := newHarness(t, nil, nil)
	ctx := context.Background()
	_, err := h.mgr.Open(ctx, openReq(1, "10000"))
	require.NoError(t, err)
	h.clock.Advance(domain.RoomDuration)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		settled int
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if rec, _ := h.mgr.Tick(ctx); rec != nil {
				mu.Lock()
				settled++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, settled)
	assert.True(t, h.mgr.Balance().Equal(dec("50500")))
	assert.Len(t, h.mgr.Snapshot().History, 1)
}

func TestRejectionReason(t *testing.T) {
	assert.Equal(t, "below_minimum", service.RejectionReason(domain.ErrBelowMinimum))
	assert.Equal(t, "position_active", service.RejectionReason(domain.ErrPositionAlreadyActive))
	assert.Equal(t, "other", service.RejectionReason(errors.New("x")))
}
