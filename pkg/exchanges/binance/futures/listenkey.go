package futures

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/justinhsu1477/crypto-signal-trader-sub000/pkg/exchanges/common"
)

// listenKey endpoints are API-key-only (no signature).
func (c *Client) listenKeyRequest(ctx context.Context, method, query string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+"/fapi/v1/listenKey"+query, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-MBX-APIKEY", c.cfg.APIKey)

	res, err := c.httpClient.Do(req)
	if err != nil {
		c.markUnreachable(err)
		return nil, fmt.Errorf("%w: %s listenKey: %v", common.ErrVenueUnreachable, method, err)
	}
	defer res.Body.Close()
	c.markReachable()

	body, _ := io.ReadAll(res.Body)
	if res.StatusCode >= 300 {
		return nil, fmt.Errorf("listen key %s status %d: %s", method, res.StatusCode, string(body))
	}
	return body, nil
}

// CreateListenKey opens a user-data stream session.
func (c *Client) CreateListenKey(ctx context.Context) (string, error) {
	body, err := c.listenKeyRequest(ctx, http.MethodPost, "")
	if err != nil {
		return "", err
	}
	var out struct {
		ListenKey string `json:"listenKey"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return "", fmt.Errorf("decode listen key: %w", err)
	}
	return out.ListenKey, nil
}

// KeepAliveListenKey extends the listen key life (30-minute cadence).
func (c *Client) KeepAliveListenKey(ctx context.Context, listenKey string) error {
	_, err := c.listenKeyRequest(ctx, http.MethodPut, "?listenKey="+listenKey)
	return err
}

// DeleteListenKey closes the user-data stream session on shutdown.
func (c *Client) DeleteListenKey(ctx context.Context, listenKey string) error {
	_, err := c.listenKeyRequest(ctx, http.MethodDelete, "?listenKey="+listenKey)
	return err
}
