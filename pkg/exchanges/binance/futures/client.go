// Package futures implements the signed Binance USDT-M futures REST surface
// the execution engine depends on.
package futures

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/justinhsu1477/crypto-signal-trader-sub000/pkg/exchanges/common"
	"github.com/justinhsu1477/crypto-signal-trader-sub000/pkg/i18n"
)

// AlertSink receives connectivity alerts. Wired to the red notification
// channel by the caller; nil disables alerts.
type AlertSink interface {
	Alert(title, body string)
}

// Config holds Binance USDT-M futures credentials and endpoints.
type Config struct {
	APIKey     string
	APISecret  string
	Testnet    bool
	BaseURL    string // overrides testnet/mainnet default when set
	WSBaseURL  string
	RecvWindow int64 // ms
}

// Client handles signed and public Binance USDT-M futures calls.
type Client struct {
	cfg         Config
	baseURL     string
	wsBaseURL   string
	httpClient  *http.Client
	timeSync    *common.TimeSync
	rateLimiter *common.RateLimiter
	alerts      AlertSink

	// Once-per-gap "connection lost" tracking; cleared by the next success.
	gapMu   sync.Mutex
	gapOpen bool
}

// NewClient creates a new USDT-M futures client.
func NewClient(cfg Config) *Client {
	base := "https://fapi.binance.com"
	ws := "wss://fstream.binance.com/ws"
	if cfg.Testnet {
		base = "https://testnet.binancefuture.com"
		ws = "wss://fstream.binancefuture.com/ws"
	}
	if cfg.BaseURL != "" {
		base = cfg.BaseURL
	}
	if cfg.WSBaseURL != "" {
		ws = cfg.WSBaseURL
	}
	if cfg.RecvWindow == 0 {
		cfg.RecvWindow = 5000
	}
	c := &Client{
		cfg:        cfg,
		baseURL:    base,
		wsBaseURL:  ws,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
	c.timeSync = common.NewTimeSync(func() (int64, error) {
		return c.GetServerTime()
	})
	c.rateLimiter = common.NewRateLimiter(2400, time.Minute) // 2400 weight/min for futures
	return c
}

// SetAlertSink wires the connectivity alert channel.
func (c *Client) SetAlertSink(sink AlertSink) {
	c.alerts = sink
}

// StreamURL builds the user-data stream URL for a listen key.
func (c *Client) StreamURL(listenKey string) string {
	return c.wsBaseURL + "/" + listenKey
}

// apiError is a venue rejection (non-2xx with a parseable error body).
type apiError struct {
	Status int
	Code   int
	Msg    string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("binance usdt futures status %d code %d: %s", e.Status, e.Code, e.Msg)
}

// markUnreachable flags a transport gap and fires the red alert once.
func (c *Client) markUnreachable(err error) {
	c.gapMu.Lock()
	fire := !c.gapOpen
	c.gapOpen = true
	c.gapMu.Unlock()

	if fire {
		log.Printf(i18n.Get("VenueUnreachable"), err)
		if c.alerts != nil {
			c.alerts.Alert("交易所連線中斷", err.Error())
		}
	}
}

// markReachable clears the gap flag after any successful round trip.
func (c *Client) markReachable() {
	c.gapMu.Lock()
	recovered := c.gapOpen
	c.gapOpen = false
	c.gapMu.Unlock()

	if recovered {
		log.Println(i18n.Get("VenueRecovered"))
	}
}

func (c *Client) now() int64 {
	if c.timeSync != nil && c.timeSync.Offset() != 0 {
		return c.timeSync.Now()
	}
	return time.Now().UnixMilli()
}

func (c *Client) signedParams(params url.Values) url.Values {
	if params == nil {
		params = url.Values{}
	}
	params.Set("timestamp", strconv.FormatInt(c.now(), 10))
	params.Set("recvWindow", strconv.FormatInt(c.cfg.RecvWindow, 10))
	return params
}

// doSigned signs and sends a request. Transport failures come back wrapped in
// common.ErrVenueUnreachable; venue rejections as *apiError.
func (c *Client) doSigned(ctx context.Context, method, endpoint string, params url.Values) ([]byte, error) {
	if c.cfg.APIKey == "" || c.cfg.APISecret == "" {
		return nil, errors.New("binance usdt futures: API key/secret required")
	}

	sig := sign(params.Encode(), c.cfg.APISecret)
	params.Set("signature", sig)

	var (
		req *http.Request
		err error
	)
	encoded := params.Encode()
	switch method {
	case http.MethodGet, http.MethodDelete:
		req, err = http.NewRequestWithContext(ctx, method, c.baseURL+endpoint+"?"+encoded, nil)
	default:
		req, err = http.NewRequestWithContext(ctx, method, c.baseURL+endpoint, nil)
		if err == nil {
			req.URL.RawQuery = encoded
		}
	}
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-MBX-APIKEY", c.cfg.APIKey)

	return c.send(req, method, endpoint)
}

// doPublic sends an unsigned request to a public endpoint.
func (c *Client) doPublic(ctx context.Context, endpoint string, params url.Values) ([]byte, error) {
	target := c.baseURL + endpoint
	if len(params) > 0 {
		target += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}
	return c.send(req, http.MethodGet, endpoint)
}

func (c *Client) send(req *http.Request, method, endpoint string) ([]byte, error) {
	res, err := c.httpClient.Do(req)
	if err != nil {
		c.markUnreachable(err)
		return nil, fmt.Errorf("%w: %s %s: %v", common.ErrVenueUnreachable, method, endpoint, err)
	}
	defer res.Body.Close()
	c.markReachable()

	if c.rateLimiter != nil {
		c.rateLimiter.UpdateFromHeader(res.Header.Get("X-MBX-USED-WEIGHT-1M"))
	}

	body, _ := io.ReadAll(res.Body)
	if res.StatusCode >= 300 {
		ae := &apiError{Status: res.StatusCode, Msg: string(body)}
		var venueErr struct {
			Code int    `json:"code"`
			Msg  string `json:"msg"`
		}
		if json.Unmarshal(body, &venueErr) == nil && venueErr.Msg != "" {
			ae.Code = venueErr.Code
			ae.Msg = venueErr.Msg
		}
		return nil, ae
	}
	return body, nil
}

// --- Pre-flight queries. Per the query-failure rule these fail loudly with
// --- common.ErrVenueUnavailable on any I/O or parse problem.

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", common.ErrVenueUnavailable, op, err)
}

// GetAvailableBalance returns the free USDT balance.
func (c *Client) GetAvailableBalance(ctx context.Context) (float64, error) {
	body, err := c.doSigned(ctx, http.MethodGet, "/fapi/v2/balance", c.signedParams(nil))
	if err != nil {
		return 0, unavailable("get balance", err)
	}
	var balances []struct {
		Asset            string `json:"asset"`
		AvailableBalance string `json:"availableBalance"`
	}
	if err := json.Unmarshal(body, &balances); err != nil {
		return 0, unavailable("decode balance", err)
	}
	for _, b := range balances {
		if b.Asset == "USDT" {
			v, err := strconv.ParseFloat(b.AvailableBalance, 64)
			if err != nil {
				return 0, unavailable("parse balance", err)
			}
			return v, nil
		}
	}
	return 0, nil
}

// GetCurrentPositionAmount returns the signed position amount for a symbol
// (positive long, negative short, zero flat).
func (c *Client) GetCurrentPositionAmount(ctx context.Context, symbol string) (float64, error) {
	params := c.signedParams(url.Values{})
	params.Set("symbol", symbol)
	body, err := c.doSigned(ctx, http.MethodGet, "/fapi/v1/positionRisk", params)
	if err != nil {
		return 0, unavailable("get position", err)
	}
	var positions []positionRisk
	if err := json.Unmarshal(body, &positions); err != nil {
		return 0, unavailable("decode positions", err)
	}
	var amt float64
	for _, p := range positions {
		v, err := strconv.ParseFloat(p.PositionAmt, 64)
		if err != nil {
			return 0, unavailable("parse position amount", err)
		}
		amt += v
	}
	return amt, nil
}

// GetActivePositionCount returns how many symbols carry a non-zero position.
func (c *Client) GetActivePositionCount(ctx context.Context) (int, error) {
	body, err := c.doSigned(ctx, http.MethodGet, "/fapi/v1/positionRisk", c.signedParams(nil))
	if err != nil {
		return 0, unavailable("get positions", err)
	}
	var positions []positionRisk
	if err := json.Unmarshal(body, &positions); err != nil {
		return 0, unavailable("decode positions", err)
	}
	count := 0
	for _, p := range positions {
		v, err := strconv.ParseFloat(p.PositionAmt, 64)
		if err != nil {
			return 0, unavailable("parse position amount", err)
		}
		if math.Abs(v) > 0 {
			count++
		}
	}
	return count, nil
}

// HasOpenEntryOrders reports whether a non-reduce-only LIMIT order rests on
// the symbol (a pending entry).
func (c *Client) HasOpenEntryOrders(ctx context.Context, symbol string) (bool, error) {
	orders, err := c.GetOpenOrders(ctx, symbol)
	if err != nil {
		return false, unavailable("get open entry orders", err)
	}
	for _, o := range orders {
		if o.Type == common.OrderTypeLimit && !o.ReduceOnly {
			return true, nil
		}
	}
	return false, nil
}

// GetMarkPrice returns the current mark price for a symbol.
func (c *Client) GetMarkPrice(ctx context.Context, symbol string) (float64, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	body, err := c.doPublic(ctx, "/fapi/v1/premiumIndex", params)
	if err != nil {
		return 0, unavailable("get mark price", err)
	}
	var out struct {
		MarkPrice string `json:"markPrice"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return 0, unavailable("decode mark price", err)
	}
	v, err := strconv.ParseFloat(out.MarkPrice, 64)
	if err != nil {
		return 0, unavailable("parse mark price", err)
	}
	return v, nil
}

// GetExchangeInfo returns per-symbol step and tick filters.
func (c *Client) GetExchangeInfo(ctx context.Context) (map[string]common.SymbolFilter, error) {
	body, err := c.doPublic(ctx, "/fapi/v1/exchangeInfo", nil)
	if err != nil {
		return nil, fmt.Errorf("get exchange info: %w", err)
	}
	var info struct {
		Symbols []struct {
			Symbol  string `json:"symbol"`
			Filters []struct {
				FilterType string `json:"filterType"`
				StepSize   string `json:"stepSize"`
				TickSize   string `json:"tickSize"`
				MinQty     string `json:"minQty"`
			} `json:"filters"`
		} `json:"symbols"`
	}
	if err := json.Unmarshal(body, &info); err != nil {
		return nil, fmt.Errorf("decode exchange info: %w", err)
	}

	filters := make(map[string]common.SymbolFilter, len(info.Symbols))
	for _, s := range info.Symbols {
		f := common.SymbolFilter{Symbol: s.Symbol}
		for _, fl := range s.Filters {
			switch fl.FilterType {
			case "LOT_SIZE":
				f.StepSize, _ = strconv.ParseFloat(fl.StepSize, 64)
				f.MinQty, _ = strconv.ParseFloat(fl.MinQty, 64)
			case "PRICE_FILTER":
				f.TickSize, _ = strconv.ParseFloat(fl.TickSize, 64)
			}
		}
		filters[s.Symbol] = f
	}
	return filters, nil
}

// GetOpenOrders returns the resting orders on a symbol.
func (c *Client) GetOpenOrders(ctx context.Context, symbol string) ([]common.OpenOrder, error) {
	params := c.signedParams(url.Values{})
	params.Set("symbol", symbol)
	body, err := c.doSigned(ctx, http.MethodGet, "/fapi/v1/openOrders", params)
	if err != nil {
		return nil, err
	}
	var raw []struct {
		OrderID    int64  `json:"orderId"`
		Symbol     string `json:"symbol"`
		Side       string `json:"side"`
		Type       string `json:"type"`
		Price      string `json:"price"`
		StopPrice  string `json:"stopPrice"`
		OrigQty    string `json:"origQty"`
		ReduceOnly bool   `json:"reduceOnly"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("decode open orders: %w", err)
	}

	orders := make([]common.OpenOrder, 0, len(raw))
	for _, o := range raw {
		price, _ := strconv.ParseFloat(o.Price, 64)
		stop, _ := strconv.ParseFloat(o.StopPrice, 64)
		qty, _ := strconv.ParseFloat(o.OrigQty, 64)
		orders = append(orders, common.OpenOrder{
			OrderID:    o.OrderID,
			Symbol:     o.Symbol,
			Side:       common.Side(o.Side),
			Type:       common.OrderType(o.Type),
			Price:      price,
			StopPrice:  stop,
			OrigQty:    qty,
			ReduceOnly: o.ReduceOnly,
		})
	}
	return orders, nil
}

// SetLeverage sets leverage for a symbol.
func (c *Client) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	params := c.signedParams(url.Values{})
	params.Set("symbol", symbol)
	params.Set("leverage", strconv.Itoa(leverage))
	_, err := c.doSigned(ctx, http.MethodPost, "/fapi/v1/leverage", params)
	return err
}

// SetMarginType sets margin type (ISOLATED or CROSSED). The venue answers
// code -4046 when the mode is already set; that is not an error here.
func (c *Client) SetMarginType(ctx context.Context, symbol, marginType string) error {
	params := c.signedParams(url.Values{})
	params.Set("symbol", symbol)
	params.Set("marginType", marginType)
	_, err := c.doSigned(ctx, http.MethodPost, "/fapi/v1/marginType", params)
	var ae *apiError
	if errors.As(err, &ae) && ae.Code == -4046 {
		return nil
	}
	return err
}

// GetServerTime fetches futures server time.
func (c *Client) GetServerTime() (int64, error) {
	resp, err := c.httpClient.Get(c.baseURL + "/fapi/v1/time")
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return 0, fmt.Errorf("server time status %d: %s", resp.StatusCode, string(b))
	}
	var res struct {
		ServerTime int64 `json:"serverTime"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return 0, err
	}
	return res.ServerTime, nil
}

type positionRisk struct {
	Symbol      string `json:"symbol"`
	PositionAmt string `json:"positionAmt"`
	EntryPrice  string `json:"entryPrice"`
	Leverage    string `json:"leverage"`
}
