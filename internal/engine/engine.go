// Package engine is the ingress control surface: it parses raw signal text,
// resolves venue clients and dispatches to the executor, for one user or as
// a broadcast fan-out.
package engine

import (
	"context"
	"errors"
	"log"
	"sync"

	"github.com/google/uuid"

	"github.com/justinhsu1477/crypto-signal-trader-sub000/internal/events"
	"github.com/justinhsu1477/crypto-signal-trader-sub000/internal/executor"
	"github.com/justinhsu1477/crypto-signal-trader-sub000/internal/gateway"
	"github.com/justinhsu1477/crypto-signal-trader-sub000/internal/signal"
	"github.com/justinhsu1477/crypto-signal-trader-sub000/pkg/db"
	"github.com/justinhsu1477/crypto-signal-trader-sub000/pkg/i18n"
)

// Receipt statuses.
const (
	StatusExecuted = "EXECUTED"
	StatusRejected = "REJECTED"
	StatusIgnored  = "IGNORED"
)

// SignalReceipt is the ingress answer for one submitted signal. It is always
// returned; nothing escapes as an unstructured failure.
type SignalReceipt struct {
	SignalID string `json:"signalId"`
	Status   string `json:"status"`
	Reason   string `json:"reason,omitempty"`
	Symbol   string `json:"symbol,omitempty"`
	TradeID  string `json:"tradeId,omitempty"`
}

// BroadcastSummary is the fan-out result.
type BroadcastSummary struct {
	TotalUsers      int `json:"totalUsers"`
	SuccessCount    int `json:"successCount"`
	FailCount       int `json:"failCount"`
	SkippedNoAPIKey int `json:"skippedNoApiKey"`
}

// ErrUnparseable marks raw text that no grammar dialect recognised.
var ErrUnparseable = errors.New("no signal dialect matched")

// VenueResolver yields the venue client a user trades with.
type VenueResolver interface {
	ClientFor(ctx context.Context, userID string) (executor.VenueClient, error)
}

// GatewayResolver adapts the gateway pool to VenueResolver.
type GatewayResolver struct {
	Pool *gateway.Manager
}

func (r GatewayResolver) ClientFor(ctx context.Context, userID string) (executor.VenueClient, error) {
	return r.Pool.ClientFor(ctx, userID)
}

// Engine wires parser, venue resolution and executor.
type Engine struct {
	parser   *signal.Parser
	exec     *executor.Executor
	users    *db.UserQueries
	gateways VenueResolver
	bus      *events.Bus
}

// New creates the engine.
func New(parser *signal.Parser, exec *executor.Executor, users *db.UserQueries, gateways VenueResolver, bus *events.Bus) *Engine {
	return &Engine{
		parser:   parser,
		exec:     exec,
		users:    users,
		gateways: gateways,
		bus:      bus,
	}
}

// SubmitSignal parses raw text and executes it for one user.
func (e *Engine) SubmitSignal(ctx context.Context, rawText string, source signal.Source, userID string) SignalReceipt {
	signalID := uuid.NewString()
	e.publish(events.EventSignalReceived, events.SignalResult{SignalID: signalID, UserID: userID})

	sig, ok := e.parser.Parse(rawText, source)
	if !ok {
		return SignalReceipt{SignalID: signalID, Status: StatusIgnored, Reason: ErrUnparseable.Error()}
	}
	log.Printf(i18n.Get("SignalParsed"), sig.Symbol, sig.Side, sig.Type)

	return e.executeFor(ctx, signalID, userID, sig)
}

// BroadcastSignal parses once and fans out to every enabled auto-trade user.
// Users without credentials are counted as skipped, not failed.
func (e *Engine) BroadcastSignal(ctx context.Context, rawText string, source signal.Source) (BroadcastSummary, error) {
	sig, ok := e.parser.Parse(rawText, source)
	if !ok {
		return BroadcastSummary{}, ErrUnparseable
	}
	log.Printf(i18n.Get("SignalParsed"), sig.Symbol, sig.Side, sig.Type)

	targets, err := e.users.ListBroadcastTargets(ctx)
	if err != nil {
		return BroadcastSummary{}, err
	}

	summary := BroadcastSummary{TotalUsers: len(targets)}
	var mu sync.Mutex
	var wg sync.WaitGroup

	for _, user := range targets {
		if !user.HasAPIKey() {
			summary.SkippedNoAPIKey++
			continue
		}
		wg.Add(1)
		go func(userID string) {
			defer wg.Done()
			// Each user gets an independent copy; the executor mutates none
			// of it, but receipts must not share state across goroutines.
			receipt := e.executeFor(ctx, uuid.NewString(), userID, sig)
			mu.Lock()
			defer mu.Unlock()
			if receipt.Status == StatusExecuted {
				summary.SuccessCount++
			} else {
				summary.FailCount++
			}
		}(user.ID)
	}
	wg.Wait()

	log.Printf(i18n.Get("BroadcastDone"), summary.SuccessCount, summary.FailCount, summary.SkippedNoAPIKey)
	return summary, nil
}

// CancelAllForSymbol wipes resting orders for one user and symbol.
func (e *Engine) CancelAllForSymbol(ctx context.Context, userID, symbol string) SignalReceipt {
	return e.executeFor(ctx, uuid.NewString(), userID, &signal.TradeSignal{
		Symbol: symbol,
		Type:   signal.TypeCancel,
	})
}

// CloseAllForUser market-closes every open trade the user has.
func (e *Engine) CloseAllForUser(ctx context.Context, userID string) ([]SignalReceipt, error) {
	open, err := e.exec.OpenTrades(ctx, userID)
	if err != nil {
		return nil, err
	}

	receipts := make([]SignalReceipt, 0, len(open))
	for _, t := range open {
		receipts = append(receipts, e.executeFor(ctx, uuid.NewString(), userID, &signal.TradeSignal{
			Symbol: t.Symbol,
			Type:   signal.TypeClose,
		}))
	}
	return receipts, nil
}

func (e *Engine) executeFor(ctx context.Context, signalID, userID string, sig *signal.TradeSignal) SignalReceipt {
	venue, err := e.gateways.ClientFor(ctx, userID)
	if err != nil {
		reason := executor.ReasonPrecheckFailed
		if errors.Is(err, gateway.ErrNoAPIKey) {
			reason = "無 API 金鑰"
		}
		receipt := SignalReceipt{SignalID: signalID, Status: StatusRejected, Reason: reason}
		e.publish(events.EventSignalRejected, events.SignalResult{
			SignalID: signalID, UserID: userID, Status: StatusRejected, Reason: reason,
		})
		return receipt
	}

	res := e.exec.ExecuteSignal(ctx, venue, userID, sig)
	receipt := SignalReceipt{
		SignalID: signalID,
		Symbol:   res.Symbol,
		TradeID:  res.TradeID,
	}
	if res.Executed {
		receipt.Status = StatusExecuted
		receipt.Reason = res.Reason // set when protection needs manual action
		e.publish(events.EventSignalExecuted, events.SignalResult{
			SignalID: signalID, UserID: userID, Symbol: res.Symbol, Status: StatusExecuted,
		})
	} else {
		receipt.Status = StatusRejected
		receipt.Reason = res.Reason
		e.publish(events.EventSignalRejected, events.SignalResult{
			SignalID: signalID, UserID: userID, Symbol: res.Symbol, Status: StatusRejected, Reason: res.Reason,
		})
	}
	return receipt
}

func (e *Engine) publish(topic events.Event, payload any) {
	if e.bus != nil {
		e.bus.Publish(topic, payload)
	}
}
