package common

// Side denotes order side.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Opposite returns the flattening side for a position opened with s.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// OrderType covers the order kinds the engine places on USDT-M futures.
type OrderType string

const (
	OrderTypeMarket           OrderType = "MARKET"
	OrderTypeLimit            OrderType = "LIMIT"
	OrderTypeStopMarket       OrderType = "STOP_MARKET"
	OrderTypeTakeProfitMarket OrderType = "TAKE_PROFIT_MARKET"
)

// TimeInForce captures TIF semantics.
type TimeInForce string

const (
	TIFGTC TimeInForce = "GTC" // Good Till Cancelled
	TIFIOC TimeInForce = "IOC" // Immediate Or Cancel
	TIFFOK TimeInForce = "FOK" // Fill Or Kill
	TIFGTX TimeInForce = "GTX" // Post Only / Maker Only
)

// OrderStatus normalizes venue order status into a small set.
type OrderStatus string

const (
	StatusNew      OrderStatus = "NEW"
	StatusPartial  OrderStatus = "PARTIALLY_FILLED"
	StatusFilled   OrderStatus = "FILLED"
	StatusCanceled OrderStatus = "CANCELED"
	StatusRejected OrderStatus = "REJECTED"
	StatusExpired  OrderStatus = "EXPIRED"
	StatusUnknown  OrderStatus = "UNKNOWN"
)

// OrderResult is the venue acknowledgement for one order call.
// Success=false with ErrorMessage carries a venue rejection; transport
// failures surface as errors instead (see errors.go).
type OrderResult struct {
	Success         bool
	OrderID         int64
	Side            Side
	Type            OrderType
	Price           float64
	Quantity        float64
	Commission      float64
	CommissionAsset string
	ErrorMessage    string
}

// OpenOrder is one resting order as reported by the venue.
type OpenOrder struct {
	OrderID    int64
	Symbol     string
	Side       Side
	Type       OrderType
	Price      float64
	StopPrice  float64
	OrigQty    float64
	ReduceOnly bool
}

// SymbolFilter holds the venue-defined rounding rules for one symbol.
// Quantities are floored at StepSize, prices rounded to TickSize.
type SymbolFilter struct {
	Symbol   string
	StepSize float64
	TickSize float64
	MinQty   float64
}
