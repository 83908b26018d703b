package executor

import (
	"context"
	"fmt"
	"log"

	"github.com/justinhsu1477/crypto-signal-trader-sub000/internal/notify"
	"github.com/justinhsu1477/crypto-signal-trader-sub000/internal/risk"
	"github.com/justinhsu1477/crypto-signal-trader-sub000/internal/signal"
	"github.com/justinhsu1477/crypto-signal-trader-sub000/internal/trades"
	"github.com/justinhsu1477/crypto-signal-trader-sub000/pkg/db"
	"github.com/justinhsu1477/crypto-signal-trader-sub000/pkg/exchanges/common"
	"github.com/justinhsu1477/crypto-signal-trader-sub000/pkg/i18n"
)

// executeMoveSL relocates the protective stop, optionally replacing the TP.
func (e *Executor) executeMoveSL(ctx context.Context, venue VenueClient, userID, symbol string, sig *signal.TradeSignal) Result {
	unlock := e.locks.Lock(userID, symbol)
	defer unlock()

	positionAmt, err := venue.GetCurrentPositionAmount(ctx, symbol)
	if err != nil {
		return rejected(ReasonPrecheckFailed)
	}
	if positionAmt == 0 {
		fallback, ok := e.fallbackSymbol(ctx, userID, symbol)
		if !ok {
			return rejected(ReasonNoPosition)
		}
		unlockFb := e.locks.Lock(userID, fallback)
		defer unlockFb()
		symbol = fallback
		positionAmt, err = venue.GetCurrentPositionAmount(ctx, symbol)
		if err != nil || positionAmt == 0 {
			return rejected(ReasonNoPosition)
		}
	}

	openTrade, err := e.store.Queries().GetOpenTrade(ctx, userID, symbol)
	if err != nil {
		return rejected(ReasonNoPosition)
	}

	newSL := sig.NewStopLoss
	if newSL <= 0 {
		// No explicit level means move to cost.
		newSL = openTrade.EntryPrice
	}

	if err := venue.CancelAllOrders(ctx, symbol); err != nil {
		return rejected(ReasonPrecheckFailed)
	}

	closeSide := common.SideSell
	if positionAmt < 0 {
		closeSide = common.SideBuy
	}
	qty := abs(positionAmt)

	slOrder, slErr := venue.PlaceStopLoss(ctx, symbol, closeSide, qty, newSL)
	if slErr != nil || !slOrder.Success {
		msg := errText(slOrder, slErr)
		log.Printf(i18n.Get("SLFailed"), symbol, msg)
		e.store.RecordEvent(ctx, &db.TradeEvent{
			TradeID: openTrade.TradeID, EventType: db.EventSLFailed,
			Side: string(closeSide), Type: string(common.OrderTypeStopMarket),
			Price: newSL, Quantity: qty, ErrorMessage: msg,
		})
		e.notifier.Notify("止損移動失敗", fmt.Sprintf("%s 保護單未掛上，請手動處理", symbol), notify.ColourRed)
		return rejected(ReasonProtectionFailed)
	}

	var newTPs []float64
	if sig.NewTakeProfit > 0 {
		tpOrder, tpErr := venue.PlaceTakeProfit(ctx, symbol, closeSide, qty, sig.NewTakeProfit)
		if tpErr != nil || !tpOrder.Success {
			log.Printf(i18n.Get("TPFailed"), symbol, fmtFloat(sig.NewTakeProfit), errText(tpOrder, tpErr))
			e.notifier.Notify("止盈掛單失敗", fmt.Sprintf("%s @ %s 需要手動掛止盈", symbol, fmtFloat(sig.NewTakeProfit)), notify.ColourYellow)
		} else {
			newTPs = []float64{sig.NewTakeProfit}
		}
	}

	e.store.RecordEvent(ctx, &db.TradeEvent{
		TradeID: openTrade.TradeID, EventType: db.EventMoveSL,
		VenueOrderID: orderID(slOrder), Side: string(closeSide),
		Type: string(common.OrderTypeStopMarket), Price: newSL, Quantity: qty, Success: true,
	})
	if err := e.store.UpdateProtection(ctx, openTrade.TradeID, newSL, newTPs); err != nil {
		log.Printf("persist moved stop for %s: %v", openTrade.TradeID, err)
	}
	log.Printf(i18n.Get("MoveSLDone"), fmtFloat(openTrade.StopLoss), fmtFloat(newSL))

	return Result{Executed: true, TradeID: openTrade.TradeID, Symbol: symbol, Quantity: qty}
}

// executeClose flattens a position fully or partially. A partial close keeps
// the trade OPEN and rehangs protection for the remainder.
func (e *Executor) executeClose(ctx context.Context, venue VenueClient, userID, symbol string, sig *signal.TradeSignal) Result {
	unlock := e.locks.Lock(userID, symbol)
	defer unlock()

	positionAmt, err := venue.GetCurrentPositionAmount(ctx, symbol)
	if err != nil {
		return rejected(ReasonPrecheckFailed)
	}
	if positionAmt == 0 {
		fallback, ok := e.fallbackSymbol(ctx, userID, symbol)
		if !ok {
			if err := venue.CancelAllOrders(ctx, symbol); err != nil {
				log.Printf("cancel orders on flat %s: %v", symbol, err)
			}
			return rejected(ReasonNoPosition)
		}
		unlockFb := e.locks.Lock(userID, fallback)
		defer unlockFb()
		symbol = fallback
		positionAmt, err = venue.GetCurrentPositionAmount(ctx, symbol)
		if err != nil || positionAmt == 0 {
			return rejected(ReasonNoPosition)
		}
	}

	closeRatio := sig.CloseRatio
	if closeRatio <= 0 || closeRatio > 1 {
		closeRatio = 1.0
	}
	full := closeRatio >= 0.999

	closeQty := abs(positionAmt) * closeRatio
	if f, ok := e.filters.Get(symbol); ok && f.StepSize > 0 {
		closeQty = risk.FloorToStep(closeQty, f.StepSize)
	}
	if closeQty <= 0 {
		return rejected(ReasonQuantityTooSmall)
	}

	closeSide := common.SideSell
	if positionAmt < 0 {
		closeSide = common.SideBuy
	}

	// Remember resting protection before wiping it; a partial close rehangs
	// at these levels when the signal does not supply new ones.
	var oldSL, oldTP float64
	if orders, err := venue.GetOpenOrders(ctx, symbol); err == nil {
		for _, o := range orders {
			switch o.Type {
			case common.OrderTypeStopMarket:
				oldSL = o.StopPrice
			case common.OrderTypeTakeProfitMarket:
				oldTP = o.StopPrice
			}
		}
	}

	if err := venue.CancelAllOrders(ctx, symbol); err != nil {
		return rejected(ReasonPrecheckFailed)
	}

	var closeOrder common.OrderResult
	var closeErr error
	if full {
		closeOrder, closeErr = venue.PlaceMarketOrder(ctx, symbol, closeSide, closeQty, true)
	} else {
		mark, err := venue.GetMarkPrice(ctx, symbol)
		if err != nil {
			return rejected(ReasonPrecheckFailed)
		}
		closeOrder, closeErr = venue.PlaceLimitOrder(ctx, symbol, closeSide, closeQty, mark)
	}
	if closeErr != nil || !closeOrder.Success {
		return rejected(ReasonPrecheckFailed)
	}

	openTrade, tradeErr := e.store.Queries().GetOpenTrade(ctx, userID, symbol)

	protectionOK := true
	if !full {
		remaining := abs(positionAmt) - closeQty

		// SL rehang preference: signal, then the old resting level, then cost.
		slPrice := sig.NewStopLoss
		if slPrice <= 0 {
			slPrice = oldSL
		}
		if slPrice <= 0 && tradeErr == nil {
			slPrice = openTrade.EntryPrice
		}
		if slPrice <= 0 {
			protectionOK = false
			if tradeErr == nil {
				e.store.RecordEvent(ctx, &db.TradeEvent{
					TradeID: openTrade.TradeID, EventType: db.EventSLRehungFailed,
					Quantity: remaining, ErrorMessage: "no stop level known for remainder",
				})
			}
		} else if remaining > 0 {
			slOrder, slErr := venue.PlaceStopLoss(ctx, symbol, closeSide, remaining, slPrice)
			if slErr != nil || !slOrder.Success {
				protectionOK = false
				if tradeErr == nil {
					e.store.RecordEvent(ctx, &db.TradeEvent{
						TradeID: openTrade.TradeID, EventType: db.EventSLRehungFailed,
						Price: slPrice, Quantity: remaining, ErrorMessage: errText(slOrder, slErr),
					})
				}
			}
		}

		tpPrice := sig.NewTakeProfit
		if tpPrice <= 0 {
			tpPrice = oldTP
		}
		if tpPrice > 0 && remaining > 0 {
			if tpOrder, tpErr := venue.PlaceTakeProfit(ctx, symbol, closeSide, remaining, tpPrice); tpErr != nil || !tpOrder.Success {
				log.Printf(i18n.Get("TPFailed"), symbol, fmtFloat(tpPrice), errText(tpOrder, tpErr))
			}
		}
	}

	// Persist. A missing trade row is tolerated: the venue position was
	// flattened regardless.
	if tradeErr == nil {
		if full {
			if _, err := e.store.RecordClose(ctx, userID, symbol, trades.CloseFill{
				ExitPrice:      closeOrder.Price,
				FilledQty:      closeQty,
				ExitCommission: closeOrder.Commission,
				ExitOrderID:    closeOrder.OrderID,
				Reason:         "MANUAL",
			}); err != nil {
				log.Printf("record close %s: %v", symbol, err)
			}
		} else {
			if _, err := e.store.RecordPartialClose(ctx, userID, symbol, closeQty, "MANUAL"); err != nil {
				log.Printf("record partial close %s: %v", symbol, err)
			}
		}
	}
	log.Printf(i18n.Get("CloseDone"), symbol, fmtFloat(closeQty), "MANUAL")

	res := Result{Executed: true, Symbol: symbol, Quantity: closeQty}
	if tradeErr == nil {
		res.TradeID = openTrade.TradeID
	}
	if !protectionOK {
		res.Reason = ReasonProtectionFailed
		e.notifier.Notify("止損重掛失敗", fmt.Sprintf("%s 剩餘持倉無保護，請手動處理", symbol), notify.ColourRed)
	}
	return res
}

// executeCancel wipes resting orders and marks any open trade CANCELLED.
func (e *Executor) executeCancel(ctx context.Context, venue VenueClient, userID, symbol string) Result {
	unlock := e.locks.Lock(userID, symbol)
	defer unlock()

	if err := venue.CancelAllOrders(ctx, symbol); err != nil {
		return rejected(ReasonPrecheckFailed)
	}
	log.Printf(i18n.Get("CancelDone"), symbol)

	if err := e.store.Cancel(ctx, userID, symbol, "CANCEL"); err != nil && err != db.ErrNotFound {
		log.Printf("cancel trade %s %s: %v", userID, symbol, err)
	}
	return Result{Executed: true, Symbol: symbol}
}

// fallbackSymbol substitutes the user's single open trade when the signalled
// symbol has no position. Ambiguity (zero or several open trades) disables
// the fallback.
func (e *Executor) fallbackSymbol(ctx context.Context, userID, requested string) (string, bool) {
	open, err := e.store.Queries().GetOpenTrades(ctx, userID)
	if err != nil || len(open) != 1 {
		return "", false
	}
	fallback := open[0].Symbol
	if fallback == requested {
		return "", false
	}
	log.Printf(i18n.Get("SymbolFallbackUsed"), requested, fallback)
	e.notifier.Notify("交易對已自動修正", fmt.Sprintf("%s -> %s", requested, fallback), notify.ColourYellow)
	return fallback, true
}
