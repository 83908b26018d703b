package main

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/justinhsu1477/crypto-signal-trader-sub000/pkg/config"
	"github.com/justinhsu1477/crypto-signal-trader-sub000/pkg/exchanges/binance/futures"
	"github.com/justinhsu1477/crypto-signal-trader-sub000/pkg/exchanges/common"
)

// trading_api_check
//
// 小工具：快速測試簽名 REST API 是否能正常打通。
//
// 用法（建議先用測試網或空帳戶）:
//
//	go run ./scripts/trading_api_check
//
// 相關環境變數:
//
//	SMOKE_API_KEY / SMOKE_API_SECRET   直接提供明文金鑰（不經過資料庫）
//	BINANCE_TESTNET                     "true" 走測試網
//	CHECK_SYMBOL                        (default "BTCUSDT")
//	TRADING_CHECK_PLACE_ORDERS          (default "false")
//	     - false: 只做查詢與撤單類 API，不嘗試下單
//	     - true : 會嘗試送出一張遠離市價的 LIMIT 單並立即撤掉
func main() {
	log.Println("=== Trading API check starting ===")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load error: %v", err)
	}

	apiKey := os.Getenv("SMOKE_API_KEY")
	apiSecret := os.Getenv("SMOKE_API_SECRET")
	if apiKey == "" || apiSecret == "" {
		log.Fatal("SMOKE_API_KEY / SMOKE_API_SECRET are required")
	}
	symbol := getenv("CHECK_SYMBOL", "BTCUSDT")
	placeOrders := getenv("TRADING_CHECK_PLACE_ORDERS", "false") == "true"

	client := futures.NewClient(futures.Config{
		APIKey:     apiKey,
		APISecret:  apiSecret,
		Testnet:    cfg.BinanceTestnet,
		BaseURL:    cfg.VenueRESTBase,
		RecvWindow: cfg.VenueRecvWindow,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	bal, err := client.GetAvailableBalance(ctx)
	if err != nil {
		log.Fatalf("[BALANCE] %v", err)
	}
	log.Printf("[BALANCE] available = %.4f USDT", bal)

	mark, err := client.GetMarkPrice(ctx, symbol)
	if err != nil {
		log.Fatalf("[MARK] %v", err)
	}
	log.Printf("[MARK] %s = %.2f", symbol, mark)

	pos, err := client.GetCurrentPositionAmount(ctx, symbol)
	if err != nil {
		log.Fatalf("[POSITION] %v", err)
	}
	log.Printf("[POSITION] %s = %v", symbol, pos)

	orders, err := client.GetOpenOrders(ctx, symbol)
	if err != nil {
		log.Fatalf("[OPEN ORDERS] %v", err)
	}
	log.Printf("[OPEN ORDERS] %s: %d", symbol, len(orders))

	if !placeOrders {
		log.Println("TRADING_CHECK_PLACE_ORDERS=false, skipping order placement")
		log.Println("=== Trading API check done ===")
		return
	}

	// A LIMIT buy at half the mark price will rest without filling.
	price := mark * 0.5
	qty := 0.001
	log.Printf("[ORDER] placing LIMIT BUY %s qty=%v @ %.2f", symbol, qty, price)
	res, err := client.PlaceLimitOrder(ctx, symbol, common.SideBuy, qty, price)
	if err != nil || !res.Success {
		log.Fatalf("[ORDER] place failed: err=%v result=%+v", err, res)
	}
	log.Printf("[ORDER] placed, order id %d", res.OrderID)

	cancelRes, err := client.CancelOrder(ctx, symbol, res.OrderID)
	if err != nil || !cancelRes.Success {
		log.Fatalf("[ORDER] cancel failed: err=%v result=%+v", err, cancelRes)
	}
	log.Printf("[ORDER] cancelled order %d", res.OrderID)

	log.Println("=== Trading API check done ===")
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
