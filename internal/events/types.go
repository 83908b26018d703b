package events

// Event enumerates the pub/sub topics inside the execution engine.
type Event string

const (
	EventSignalReceived  Event = "signal.received"
	EventSignalExecuted  Event = "signal.executed"
	EventSignalRejected  Event = "signal.rejected"
	EventTradeOpened     Event = "trade.opened"
	EventTradeClosed     Event = "trade.closed"
	EventProtectionLost  Event = "trade.protection_lost"
	EventStreamConnected Event = "stream.connected"
	EventStreamDropped   Event = "stream.dropped"
)

// SignalResult is the payload for signal.* topics.
type SignalResult struct {
	SignalID string
	UserID   string
	Symbol   string
	Status   string
	Reason   string
}

// TradeChange is the payload for trade.* topics.
type TradeChange struct {
	TradeID string
	UserID  string
	Symbol  string
	Side    string
	Reason  string
}
