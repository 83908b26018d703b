package futures

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/justinhsu1477/crypto-signal-trader-sub000/pkg/exchanges/common"
	"github.com/justinhsu1477/crypto-signal-trader-sub000/pkg/i18n"
)

// Protection orders (SL/TP) are retried on transport failures only; a venue
// rejection is final.
const (
	protectionRetries = 3
	retryDelay        = 500 * time.Millisecond
)

type orderResp struct {
	OrderID     int64  `json:"orderId"`
	Symbol      string `json:"symbol"`
	Status      string `json:"status"`
	Side        string `json:"side"`
	Type        string `json:"type"`
	Price       string `json:"price"`
	AvgPrice    string `json:"avgPrice"`
	OrigQty     string `json:"origQty"`
	ExecutedQty string `json:"executedQty"`
	StopPrice   string `json:"stopPrice"`
}

// submitOrder posts to /fapi/v1/order and folds venue rejections into the
// OrderResult; transport failures come back as errors.
func (c *Client) submitOrder(ctx context.Context, params url.Values) (common.OrderResult, error) {
	body, err := c.doSigned(ctx, http.MethodPost, "/fapi/v1/order", c.signedParams(params))
	if err != nil {
		var ae *apiError
		if errors.As(err, &ae) {
			log.Printf(i18n.Get("VenueRejected"), ae.Msg)
			return common.OrderResult{Success: false, ErrorMessage: ae.Msg}, nil
		}
		return common.OrderResult{}, err
	}

	var resp orderResp
	if err := json.Unmarshal(body, &resp); err != nil {
		return common.OrderResult{}, fmt.Errorf("decode order: %w", err)
	}

	price, _ := strconv.ParseFloat(resp.Price, 64)
	if avg, err := strconv.ParseFloat(resp.AvgPrice, 64); err == nil && avg > 0 {
		price = avg
	}
	qty, _ := strconv.ParseFloat(resp.OrigQty, 64)
	if stop, err := strconv.ParseFloat(resp.StopPrice, 64); err == nil && stop > 0 && price == 0 {
		price = stop
	}

	return common.OrderResult{
		Success:  true,
		OrderID:  resp.OrderID,
		Side:     common.Side(resp.Side),
		Type:     common.OrderType(resp.Type),
		Price:    price,
		Quantity: qty,
	}, nil
}

// PlaceLimitOrder places a GTC limit order.
func (c *Client) PlaceLimitOrder(ctx context.Context, symbol string, side common.Side, quantity, price float64) (common.OrderResult, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("side", string(side))
	params.Set("type", string(common.OrderTypeLimit))
	params.Set("timeInForce", string(common.TIFGTC))
	params.Set("quantity", formatFloat(quantity))
	params.Set("price", formatFloat(price))
	return c.submitOrder(ctx, params)
}

// PlaceMarketOrder places a market order. reduceOnly flattens only.
func (c *Client) PlaceMarketOrder(ctx context.Context, symbol string, side common.Side, quantity float64, reduceOnly bool) (common.OrderResult, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("side", string(side))
	params.Set("type", string(common.OrderTypeMarket))
	params.Set("quantity", formatFloat(quantity))
	if reduceOnly {
		params.Set("reduceOnly", "true")
	}
	return c.submitOrder(ctx, params)
}

// PlaceStopLoss places a reduce-only STOP_MARKET protection order, retrying
// transport failures up to protectionRetries times.
func (c *Client) PlaceStopLoss(ctx context.Context, symbol string, side common.Side, quantity, stopPrice float64) (common.OrderResult, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("side", string(side))
	params.Set("type", string(common.OrderTypeStopMarket))
	params.Set("quantity", formatFloat(quantity))
	params.Set("stopPrice", formatFloat(stopPrice))
	params.Set("reduceOnly", "true")
	params.Set("workingType", "MARK_PRICE")
	return c.placeProtection(ctx, "SL", symbol, params)
}

// PlaceTakeProfit places a reduce-only TAKE_PROFIT_MARKET protection order
// with the same retry policy as PlaceStopLoss.
func (c *Client) PlaceTakeProfit(ctx context.Context, symbol string, side common.Side, quantity, stopPrice float64) (common.OrderResult, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("side", string(side))
	params.Set("type", string(common.OrderTypeTakeProfitMarket))
	params.Set("quantity", formatFloat(quantity))
	params.Set("stopPrice", formatFloat(stopPrice))
	params.Set("reduceOnly", "true")
	params.Set("workingType", "MARK_PRICE")
	return c.placeProtection(ctx, "TP", symbol, params)
}

func (c *Client) placeProtection(ctx context.Context, kind, symbol string, params url.Values) (common.OrderResult, error) {
	var lastErr error
	for attempt := 1; attempt <= protectionRetries; attempt++ {
		// signedParams stamps a fresh timestamp per attempt.
		p := url.Values{}
		for k, v := range params {
			p[k] = v
		}
		res, err := c.submitOrder(ctx, p)
		if err == nil {
			return res, nil
		}
		if !common.IsUnreachable(err) {
			return common.OrderResult{}, err
		}
		lastErr = err
		if attempt < protectionRetries {
			log.Printf(i18n.Get("RetryingOrder"), kind, attempt+1, protectionRetries)
			select {
			case <-ctx.Done():
				return common.OrderResult{}, ctx.Err()
			case <-time.After(retryDelay):
			}
		}
	}

	log.Printf(i18n.Get("RetriesExhausted"), kind, symbol)
	if c.alerts != nil {
		c.alerts.Alert("保護單重試已用盡", fmt.Sprintf("%s %s: %v", kind, symbol, lastErr))
	}
	return common.OrderResult{}, lastErr
}

// CancelOrder cancels one order by id.
func (c *Client) CancelOrder(ctx context.Context, symbol string, orderID int64) (common.OrderResult, error) {
	params := c.signedParams(url.Values{})
	params.Set("symbol", symbol)
	params.Set("orderId", strconv.FormatInt(orderID, 10))
	body, err := c.doSigned(ctx, http.MethodDelete, "/fapi/v1/order", params)
	if err != nil {
		var ae *apiError
		if errors.As(err, &ae) {
			return common.OrderResult{Success: false, ErrorMessage: ae.Msg}, nil
		}
		return common.OrderResult{}, err
	}
	var resp orderResp
	if err := json.Unmarshal(body, &resp); err != nil {
		return common.OrderResult{}, fmt.Errorf("decode cancel: %w", err)
	}
	return common.OrderResult{Success: true, OrderID: resp.OrderID}, nil
}

// CancelAllOrders cancels every resting order on a symbol.
func (c *Client) CancelAllOrders(ctx context.Context, symbol string) error {
	params := c.signedParams(url.Values{})
	params.Set("symbol", symbol)
	_, err := c.doSigned(ctx, http.MethodDelete, "/fapi/v1/allOpenOrders", params)
	return err
}
