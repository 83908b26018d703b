// Package signal turns free-form signal text into canonical trading intents.
package signal

// Side of a trade intent. Empty means the text did not carry one.
type Side string

const (
	SideLong  Side = "LONG"
	SideShort Side = "SHORT"
)

// Type classifies what the signal asks the executor to do.
type Type string

const (
	TypeEntry  Type = "ENTRY"
	TypeMoveSL Type = "MOVE_SL"
	TypeClose  Type = "CLOSE"
	TypeCancel Type = "CANCEL"
)

// Source is opaque attribution for a signal message.
type Source struct {
	Platform  string `json:"platform"`
	Channel   string `json:"channel"`
	Author    string `json:"author"`
	MessageID string `json:"message_id"`
}

// TradeSignal is the canonical parse result. Immutable once built.
// EntryPriceLow == EntryPriceHigh when the text named a single price.
// StopLoss == 0 means the text carried none; the executor decides whether
// that is acceptable.
type TradeSignal struct {
	Symbol         string
	Side           Side
	Type           Type
	EntryPriceLow  float64
	EntryPriceHigh float64
	StopLoss       float64
	TakeProfits    []float64
	NewStopLoss    float64
	NewTakeProfit  float64
	CloseRatio     float64 // (0,1]; 0 treated as full close
	IsDca          bool
	RawMessage     string
	Source         Source
}

// EntryPrice returns the midpoint of the entry range.
func (s *TradeSignal) EntryPrice() float64 {
	if s.EntryPriceHigh > 0 && s.EntryPriceHigh != s.EntryPriceLow {
		return (s.EntryPriceLow + s.EntryPriceHigh) / 2
	}
	return s.EntryPriceLow
}
