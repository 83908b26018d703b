package stream

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/justinhsu1477/crypto-signal-trader-sub000/internal/events"
	"github.com/justinhsu1477/crypto-signal-trader-sub000/internal/locks"
	"github.com/justinhsu1477/crypto-signal-trader-sub000/internal/notify"
	"github.com/justinhsu1477/crypto-signal-trader-sub000/internal/trades"
	"github.com/justinhsu1477/crypto-signal-trader-sub000/pkg/db"
	"github.com/justinhsu1477/crypto-signal-trader-sub000/pkg/i18n"
)

const (
	keepAliveInterval = 30 * time.Minute
	pingInterval      = 30 * time.Second
	readIdleTimeout   = 180 * time.Second
)

// Exit-leg taker estimate when the venue reports no USDT commission.
const exitTakerFeeRate = 0.0004

// StreamClient is the slice of the venue client the consumer needs.
type StreamClient interface {
	CreateListenKey(ctx context.Context) (string, error)
	KeepAliveListenKey(ctx context.Context, listenKey string) error
	DeleteListenKey(ctx context.Context, listenKey string) error
	StreamURL(listenKey string) string
}

// Consumer runs one user-data stream for one follower account. Protective
// fills (STOP_MARKET / TAKE_PROFIT_MARKET) are reconciled into the trade
// store; entry LIMIT fills are handled synchronously by the executor and
// ignored here.
type Consumer struct {
	client   StreamClient
	store    *trades.Store
	userID   string
	notifier notify.Notifier
	coord    *ReconnectCoordinator
	dialer   *websocket.Dialer
	bus      *events.Bus
	pairs    *locks.Registry

	mu            sync.Mutex
	conn          *websocket.Conn
	listenKey     string
	selfInitiated bool
	shuttingDown  bool
}

// NewConsumer creates a stream consumer for one user. pairs must be the same
// registry the executor serialises on, so stream-driven settlement and
// executor operations on one (user, symbol) never interleave.
func NewConsumer(client StreamClient, store *trades.Store, userID string, pairs *locks.Registry, coord *ReconnectCoordinator, notifier notify.Notifier) *Consumer {
	return &Consumer{
		client:   client,
		store:    store,
		userID:   userID,
		notifier: notifier,
		coord:    coord,
		dialer:   websocket.DefaultDialer,
		pairs:    pairs,
	}
}

// SetBus wires the optional event bus; stream lifecycle and settlement
// events go out on it.
func (c *Consumer) SetBus(bus *events.Bus) {
	c.bus = bus
}

func (c *Consumer) publish(topic events.Event, payload any) {
	if c.bus != nil {
		c.bus.Publish(topic, payload)
	}
}

// Start opens the stream and launches the keepalive loop. It returns after
// the initial connect; reconnects happen through the coordinator. A failed
// initial dial also goes through the coordinator, so a user whose stream is
// down at boot still comes up once the venue answers again.
func (c *Consumer) Start(ctx context.Context) error {
	err := c.connect(ctx)
	if err != nil {
		c.coord.OnFailure(err)
		c.coord.ScheduleReconnect(func() { c.reconnect(ctx) })
	}
	go c.keepAliveLoop(ctx)
	return err
}

// Stop tears the stream down: suppress reconnects, delete the listen key and
// close the socket.
func (c *Consumer) Stop(ctx context.Context) {
	c.mu.Lock()
	c.shuttingDown = true
	conn := c.conn
	listenKey := c.listenKey
	c.mu.Unlock()

	c.coord.Shutdown()
	if listenKey != "" {
		if err := c.client.DeleteListenKey(ctx, listenKey); err != nil {
			log.Printf("delete listen key: %v", err)
		} else {
			log.Println(i18n.Get("ListenKeyDeleted"))
		}
	}
	if conn != nil {
		conn.Close()
	}
}

func (c *Consumer) connect(ctx context.Context) error {
	listenKey, err := c.client.CreateListenKey(ctx)
	if err != nil {
		return fmt.Errorf("create listen key: %w", err)
	}
	log.Println(i18n.Get("ListenKeyCreated"))

	conn, _, err := c.dialer.DialContext(ctx, c.client.StreamURL(listenKey), nil)
	if err != nil {
		return fmt.Errorf("dial user data stream: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.listenKey = listenKey
	c.selfInitiated = false
	c.mu.Unlock()

	c.coord.OnOpen()
	c.publish(events.EventStreamConnected, c.userID)
	go c.readLoop(ctx, conn)
	go c.pingLoop(ctx, conn)
	return nil
}

// reconnect closes the old socket (marked self-initiated so its read error is
// not treated as an outage) and dials again. A failed dial goes back through
// the coordinator.
func (c *Consumer) reconnect(ctx context.Context) {
	c.mu.Lock()
	if c.shuttingDown {
		c.mu.Unlock()
		return
	}
	c.selfInitiated = true
	old := c.conn
	c.mu.Unlock()

	if old != nil {
		old.Close()
	}
	if err := c.connect(ctx); err != nil {
		c.coord.OnFailure(err)
		c.coord.ScheduleReconnect(func() { c.reconnect(ctx) })
	}
}

func (c *Consumer) readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		conn.SetReadDeadline(time.Now().Add(readIdleTimeout))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			c.mu.Lock()
			suppressed := c.shuttingDown || c.selfInitiated
			c.selfInitiated = false
			c.mu.Unlock()
			if suppressed {
				return
			}
			c.publish(events.EventStreamDropped, c.userID)
			c.coord.OnFailure(err)
			c.coord.ScheduleReconnect(func() { c.reconnect(ctx) })
			return
		}
		c.HandleMessage(ctx, msg)
	}
}

func (c *Consumer) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(10*time.Second)); err != nil {
				return
			}
		}
	}
}

func (c *Consumer) keepAliveLoop(ctx context.Context) {
	ticker := time.NewTicker(keepAliveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.mu.Lock()
			listenKey := c.listenKey
			down := c.shuttingDown
			c.mu.Unlock()
			if down {
				return
			}
			if listenKey == "" {
				continue
			}
			if err := c.client.KeepAliveListenKey(ctx, listenKey); err != nil {
				log.Printf("listen key keepalive: %v", err)
			} else {
				log.Println(i18n.Get("ListenKeyKeepAlive"))
			}
		}
	}
}

// orderUpdate mirrors the ORDER_TRADE_UPDATE payload's "o" object.
type orderUpdate struct {
	Symbol          string `json:"s"`
	Side            string `json:"S"`
	OrderType       string `json:"o"`
	Status          string `json:"X"`
	AvgPrice        string `json:"ap"`
	FilledQty       string `json:"z"`
	Commission      string `json:"n"`
	CommissionAsset string `json:"N"`
	RealisedPnl     string `json:"rp"`
	OrderID         int64  `json:"i"`
	TxnTime         int64  `json:"T"`
}

// HandleMessage dispatches one raw stream frame. Panics and errors inside the
// handler are contained; the read loop must never die on a bad event.
func (c *Consumer) HandleMessage(ctx context.Context, msg []byte) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf(i18n.Get("StreamEventError"), r)
			c.notifier.Notify("記錄失敗", fmt.Sprintf("資料流事件處理失敗：%v", r), notify.ColourYellow)
		}
	}()

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(msg, &raw); err != nil {
		log.Printf(i18n.Get("StreamEventError"), err)
		return
	}
	var eventType string
	if v, ok := raw["e"]; ok {
		if err := json.Unmarshal(v, &eventType); err != nil {
			return
		}
	}
	if eventType != "ORDER_TRADE_UPDATE" {
		return
	}

	var wrap struct {
		Data orderUpdate `json:"o"`
	}
	if err := json.Unmarshal(msg, &wrap); err != nil {
		log.Printf(i18n.Get("StreamEventError"), err)
		return
	}

	if err := c.handleOrderUpdate(ctx, &wrap.Data); err != nil {
		if err == db.ErrNotFound {
			log.Printf(i18n.Get("StreamHandlerSkipped"), wrap.Data.Symbol)
			return
		}
		log.Printf(i18n.Get("StreamEventError"), err)
		c.notifier.Notify("記錄失敗", fmt.Sprintf("%s 資料流事件未能入帳：%v", wrap.Data.Symbol, err), notify.ColourYellow)
	}
}

func (c *Consumer) handleOrderUpdate(ctx context.Context, o *orderUpdate) error {
	orderType := strings.ToUpper(o.OrderType)
	status := strings.ToUpper(o.Status)

	switch status {
	case "FILLED":
		return c.handleFill(ctx, o, orderType)
	case "CANCELED", "EXPIRED":
		return c.handleLostProtection(ctx, o, orderType)
	default:
		return nil
	}
}

func (c *Consumer) handleFill(ctx context.Context, o *orderUpdate, orderType string) error {
	unlock := c.pairs.Lock(c.userID, o.Symbol)
	defer unlock()

	var reason string
	var colour notify.Colour
	switch orderType {
	case "STOP_MARKET":
		reason, colour = "SL_TRIGGERED", notify.ColourRed
	case "TAKE_PROFIT_MARKET":
		reason, colour = "TP_TRIGGERED", notify.ColourGreen
	default:
		// Entry LIMIT fills are recorded synchronously by the executor.
		return nil
	}

	avgPrice := toFloat(o.AvgPrice)
	filledQty := toFloat(o.FilledQty)

	commission := 0.0
	if strings.ToUpper(o.CommissionAsset) == "USDT" {
		commission = toFloat(o.Commission)
	}
	if commission <= 0 {
		commission = avgPrice * filledQty * exitTakerFeeRate
	}

	exitTime := time.Now().UTC()
	if o.TxnTime > 0 {
		exitTime = time.UnixMilli(o.TxnTime).UTC()
	}

	t, full, err := c.store.RecordCloseFromStream(ctx, c.userID, o.Symbol, trades.CloseFill{
		ExitPrice:      avgPrice,
		FilledQty:      filledQty,
		ExitCommission: commission,
		ExitOrderID:    o.OrderID,
		Reason:         reason,
		ExitTime:       exitTime,
	})
	if err != nil {
		return err
	}

	c.store.RecordEvent(ctx, &db.TradeEvent{
		TradeID:      t.TradeID,
		EventType:    db.EventStreamClose,
		VenueOrderID: nullInt64(o.OrderID),
		Side:         o.Side,
		Type:         orderType,
		Price:        avgPrice,
		Quantity:     filledQty,
		Success:      true,
	})

	pnl := "-"
	if t.NetProfit.Valid {
		pnl = strconv.FormatFloat(t.NetProfit.Float64, 'f', 4, 64)
	}
	log.Printf(i18n.Get("StreamCloseRecorded"), o.Symbol, reason,
		strconv.FormatFloat(filledQty, 'f', -1, 64), pnl)

	if full {
		c.publish(events.EventTradeClosed, events.TradeChange{
			TradeID: t.TradeID, UserID: c.userID, Symbol: o.Symbol, Side: o.Side, Reason: reason,
		})
	}

	scope := "部分平倉"
	if full {
		scope = "全部平倉"
	}
	c.notifier.Notify(reason, fmt.Sprintf("%s %s 數量 %s 損益 %s", o.Symbol, scope,
		strconv.FormatFloat(filledQty, 'f', -1, 64), pnl), colour)
	return nil
}

// handleLostProtection books a cancelled or expired protective order as a
// lost-protection event. LIMIT cancellations are normal order management.
func (c *Consumer) handleLostProtection(ctx context.Context, o *orderUpdate, orderType string) error {
	unlock := c.pairs.Lock(c.userID, o.Symbol)
	defer unlock()

	var eventType, title string
	var colour notify.Colour
	switch orderType {
	case "STOP_MARKET":
		eventType, title, colour = db.EventSLLost, "止損保護遺失", notify.ColourRed
	case "TAKE_PROFIT_MARKET":
		eventType, title, colour = db.EventTPLost, "止盈保護遺失", notify.ColourYellow
	default:
		return nil
	}

	t, err := c.store.Queries().GetOpenTrade(ctx, c.userID, o.Symbol)
	if err != nil {
		return err
	}

	c.store.RecordEvent(ctx, &db.TradeEvent{
		TradeID:      t.TradeID,
		EventType:    eventType,
		VenueOrderID: nullInt64(o.OrderID),
		Side:         o.Side,
		Type:         orderType,
		Price:        toFloat(o.AvgPrice),
		ErrorMessage: strings.ToUpper(o.Status),
	})
	c.publish(events.EventProtectionLost, events.TradeChange{
		TradeID: t.TradeID, UserID: c.userID, Symbol: o.Symbol, Side: o.Side, Reason: orderType,
	})
	c.notifier.Notify(title, fmt.Sprintf("%s 的 %s 已被取消，持倉可能無保護", o.Symbol, orderType), colour)
	return nil
}

func toFloat(s string) float64 {
	v, _ := strconv.ParseFloat(s, 64)
	return v
}

func nullInt64(v int64) sql.NullInt64 {
	return sql.NullInt64{Int64: v, Valid: v != 0}
}
