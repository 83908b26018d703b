package db

import (
	"database/sql"
	"time"
)

// Trade statuses.
const (
	StatusOpen      = "OPEN"
	StatusClosed    = "CLOSED"
	StatusCancelled = "CANCELLED"
)

// Trade sides.
const (
	SideLong  = "LONG"
	SideShort = "SHORT"
)

// Trade event kinds. Append-only audit trail per trade.
const (
	EventEntryPlaced    = "ENTRY_PLACED"
	EventEntryFailed    = "ENTRY_FAILED"
	EventSLPlaced       = "SL_PLACED"
	EventSLFailed       = "SL_FAILED"
	EventTPPlaced       = "TP_PLACED"
	EventTPFailed       = "TP_FAILED"
	EventDcaEntry       = "DCA_ENTRY"
	EventMoveSL         = "MOVE_SL"
	EventSLRehungFailed = "SL_REHUNG_FAILED"
	EventStreamClose    = "STREAM_CLOSE"
	EventSLLost         = "SL_LOST"
	EventTPLost         = "TP_LOST"
	EventFailSafeClose  = "FAIL_SAFE_CLOSE"
)

// Trade is one follower position from entry to close. entry_price carries the
// weighted average across DCA legs; remaining/total_closed quantities are set
// only while the trade is partially closed.
type Trade struct {
	TradeID             string
	UserID              string
	Symbol              string
	Side                string
	EntryPrice          float64
	EntryQuantity       float64
	EntryCommission     float64
	EntryOrderID        sql.NullInt64
	EntryTime           sql.NullTime
	Leverage            int
	RiskAmount          float64
	StopLoss            float64
	TakeProfits         string // JSON array of price levels
	RemainingQuantity   sql.NullFloat64
	TotalClosedQuantity sql.NullFloat64
	DcaCount            int
	ExitPrice           sql.NullFloat64
	ExitQuantity        sql.NullFloat64
	ExitCommission      sql.NullFloat64
	ExitOrderID         sql.NullInt64
	ExitTime            sql.NullTime
	ExitReason          sql.NullString
	GrossProfit         sql.NullFloat64
	Commission          sql.NullFloat64
	NetProfit           sql.NullFloat64
	Status              string
	SignalHash          string
	SourceAuthorName    string
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// EffectiveOpenQuantity is remaining_quantity when a partial close has
// happened, else entry_quantity.
func (t *Trade) EffectiveOpenQuantity() float64 {
	if t.RemainingQuantity.Valid {
		return t.RemainingQuantity.Float64
	}
	return t.EntryQuantity
}

// TradeEvent is one append-only audit record attached to a trade.
type TradeEvent struct {
	ID           int64
	TradeID      string
	EventType    string
	VenueOrderID sql.NullInt64
	Side         string
	Type         string
	Price        float64
	Quantity     float64
	Success      bool
	ErrorMessage string
	Detail       string // JSON
	CreatedAt    time.Time
}

// User is one managed follower account. API credentials are stored
// AES-GCM-encrypted (ENC[vN]: prefix) and decrypted only when a venue client
// is built.
type User struct {
	ID               string
	DisplayName      string
	APIKeyEnc        string
	APISecretEnc     string
	KeyVersion       int
	AutoTradeEnabled bool
	Enabled          bool
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// HasAPIKey reports whether encrypted credentials are on file.
func (u *User) HasAPIKey() bool {
	return u.APIKeyEnc != "" && u.APISecretEnc != ""
}

// UserSettings holds per-user overrides; every field is nullable and falls
// back to the global default when NULL.
type UserSettings struct {
	UserID            string
	RiskPercent       sql.NullFloat64
	MaxPositionUsdt   sql.NullFloat64
	MaxDailyLossUsdt  sql.NullFloat64
	MaxDcaPerSymbol   sql.NullInt64
	DcaRiskMultiplier sql.NullFloat64
	FixedLeverage     sql.NullInt64
	AllowedSymbols    sql.NullString // JSON array text
	DedupEnabled      sql.NullBool
	DefaultSymbol     sql.NullString
	UpdatedAt         time.Time
}
