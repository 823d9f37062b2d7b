package domain

import (
	"fmt"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/shopspring/decimal"
)

// RecordStatus is the state of a history entry. Settlement only ever produces
// RecordStatusCompleted.
type RecordStatus string

const RecordStatusCompleted RecordStatus = "Completed"

// HistoryRecord is the immutable result of one settled position. Start and end
// times are stored already formatted for the configured locale.
type HistoryRecord struct {
	ID          string          `json:"id"`
	RoomID      int             `json:"room_id"`
	RoomNameKey string          `json:"room_name_key"`
	Amount      decimal.Decimal `json:"amount"`
	Profit      decimal.Decimal `json:"profit"`
	StartTime   string          `json:"start_time"`
	EndTime     string          `json:"end_time"`
	Status      RecordStatus    `json:"status"`
}

// ──────────────────────────────────────────────────────────────────────────────
// History ids
// ──────────────────────────────────────────────────────────────────────────────

const (
	historyIDPrefix   = "TR"
	maxHistoryIDDraws = 16
)

// NewHistoryID draws "TR" followed by a six-digit number in 100000..999999.
// taken may be nil; otherwise ids it reports as used are redrawn, up to a
// fixed number of attempts after which the last draw is returned.
func NewHistoryID(taken func(string) bool) (string, error) {
	var id string
	for i := 0; i < maxHistoryIDDraws; i++ {
		head, err := gonanoid.Generate("123456789", 1)
		if err != nil {
			return "", fmt.Errorf("domain.NewHistoryID: %w", err)
		}
		tail, err := gonanoid.Generate("0123456789", 5)
		if err != nil {
			return "", fmt.Errorf("domain.NewHistoryID: %w", err)
		}
		id = historyIDPrefix + head + tail
		if taken == nil || !taken(id) {
			return id, nil
		}
	}
	return id, nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Locale timestamps
// ──────────────────────────────────────────────────────────────────────────────

const (
	LocaleEnglish = "en"
	LocaleThai    = "th"

	// buddhistEraOffset converts a Gregorian year to the Thai solar calendar.
	buddhistEraOffset = 543
)

// FormatTimestamp renders t in loc the way the app displays record times:
//
//	en: 10/19/2026, 2:03:05 PM
//	th: 19/10/2569 14:03:05
//
// Unknown locales fall back to en. A nil loc means time.Local.
func FormatTimestamp(t time.Time, locale string, loc *time.Location) string {
	if loc == nil {
		loc = time.Local
	}
	t = t.In(loc)
	if locale == LocaleThai {
		return fmt.Sprintf("%d/%d/%d %02d:%02d:%02d",
			t.Day(), int(t.Month()), t.Year()+buddhistEraOffset,
			t.Hour(), t.Minute(), t.Second())
	}
	return t.Format("1/2/2006, 3:04:05 PM")
}
