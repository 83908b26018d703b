// Package risk computes order quantities and enforces the daily-loss gate.
package risk

import (
	"errors"
	"fmt"
	"math"

	"github.com/shopspring/decimal"

	"github.com/justinhsu1477/crypto-signal-trader-sub000/internal/settings"
)

// ErrZeroRiskDistance is returned when entry equals stop loss.
var ErrZeroRiskDistance = errors.New("entry equals stop loss, risk distance is zero")

// SizeInput is everything a quantity computation needs.
type SizeInput struct {
	Balance   float64
	Entry     float64
	StopLoss  float64
	StepSize  float64 // venue LOT_SIZE step; 0 means no flooring
	DcaLayer  int     // 0 for the initial entry, 1 for the first DCA, ...
	RiskScale float64 // extra multiplier; 0 treated as 1
}

// Sizer turns balance, risk percent and stop distance into an order quantity.
type Sizer struct{}

// NewSizer creates a Sizer.
func NewSizer() *Sizer {
	return &Sizer{}
}

// Quantity computes the order quantity:
//
//	qty = balance × riskPercent / |entry − stopLoss|
//
// capped by the notional limit (maxPositionUsdt / entry) and by margin
// sufficiency (0.90 × balance × leverage / entry), then floored at the
// venue step size. DCA entries scale the risked amount by
// dcaRiskMultiplier once, whatever the layer.
func (s *Sizer) Quantity(in SizeInput, cfg *settings.EffectiveConfig) (float64, error) {
	if in.Entry <= 0 {
		return 0, fmt.Errorf("entry price %v is not positive", in.Entry)
	}
	riskDistance := math.Abs(in.Entry - in.StopLoss)
	if riskDistance == 0 {
		return 0, ErrZeroRiskDistance
	}

	riskUsdt := in.Balance * cfg.RiskPercent
	if in.DcaLayer > 0 && cfg.DcaRiskMultiplier > 0 {
		riskUsdt *= cfg.DcaRiskMultiplier
	}
	if in.RiskScale > 0 {
		riskUsdt *= in.RiskScale
	}

	qty := riskUsdt / riskDistance

	if cfg.MaxPositionUsdt > 0 {
		if cap := cfg.MaxPositionUsdt / in.Entry; qty > cap {
			qty = cap
		}
	}

	leverage := cfg.Leverage
	if leverage < 1 {
		leverage = 1
	}
	if cap := 0.90 * in.Balance * float64(leverage) / in.Entry; qty > cap {
		qty = cap
	}

	if in.StepSize > 0 {
		qty = FloorToStep(qty, in.StepSize)
	}
	return qty, nil
}

// FloorToStep truncates a quantity down to a multiple of the venue step.
// Flooring, never rounding: rounding up can exceed margin or the notional cap.
func FloorToStep(qty, step float64) float64 {
	if step <= 0 {
		return qty
	}
	q := decimal.NewFromFloat(qty)
	st := decimal.NewFromFloat(step)
	floored, _ := q.Div(st).Floor().Mul(st).Float64()
	return floored
}
