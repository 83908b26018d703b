package i18n

import (
	"reflect"
	"sync"
)

// Language type
type Language string

const (
	LangEN Language = "en"
	LangZH Language = "zh"
)

// Messages holds all translatable strings
type Messages struct {
	// System
	Starting           string
	ConfigLoaded       string
	UsingDBPath        string
	ServerListening    string
	ShuttingDown       string
	ConfigLoadFailed   string
	DBInitFailed       string
	DBMigrationsFailed string
	APIServerError     string
	MetricsInit        string
	PipelineInit       string

	// Signals
	SignalReceived      string
	SignalParsed        string
	SignalNoGrammar     string
	SignalDuplicate     string
	SignalRejected      string
	SignalExecuted      string
	SignalPanic         string
	BroadcastStarted    string
	BroadcastDone       string
	BroadcastUserFailed string

	// Executor
	EntryPlaced        string
	EntryFailed        string
	SLPlaced           string
	SLFailed           string
	TPPlaced           string
	TPFailed           string
	DcaApplied         string
	MoveSLDone         string
	CloseDone          string
	PartialCloseDone   string
	CancelDone         string
	FailSafeClosing    string
	FailSafeCloseOK    string
	FailSafeCloseFail  string
	SymbolFallbackUsed string
	LeverageSet        string
	MarginTypeSet      string

	// Stream
	StreamConnected      string
	StreamDisconnected   string
	StreamReconnecting   string
	StreamGaveUp         string
	StreamRecovered      string
	ListenKeyCreated     string
	ListenKeyKeepAlive   string
	ListenKeyDeleted     string
	StreamEventError     string
	StreamCloseRecorded  string
	ProtectionLost       string
	StreamHandlerSkipped string

	// Risk
	CircuitBreakerTripped string
	DailyLossSoFar        string
	QuantityFloored       string
	QuantityZero          string

	// Store
	TradeOpened        string
	TradeClosed        string
	TradeCancelled     string
	StaleTradeCleaned  string
	StaleCheckSkipped  string
	AccountingSkipped  string
	CleanupStarted     string
	CleanupDone        string

	// Venue
	VenueUnreachable  string
	VenueRecovered    string
	VenueRejected     string
	RetryingOrder     string
	RetriesExhausted  string
	FiltersRefreshed  string
	FiltersStale      string
	TimeSyncAdjusted  string

	// Gateway
	GatewayCreated   string
	GatewayEvicted   string
	GatewayDecryptFailed string

	// Balance
	BalanceSynced     string
	BalanceSyncFailed string

	// Notify
	NotifySendFailed string
	TelegramEnabled  string
}

var (
	currentLang Language = LangEN
	mu          sync.RWMutex
	messages    *Messages
)

// English messages
var messagesEN = Messages{
	// System
	Starting:           "Starting signal trading engine...",
	ConfigLoaded:       "Config loaded (Port: %s)",
	UsingDBPath:        "Using DB path: %s",
	ServerListening:    "Server listening on :%s",
	ShuttingDown:       "Shutting down gracefully...",
	ConfigLoadFailed:   "Failed to load config: %v",
	DBInitFailed:       "Failed to init database: %v",
	DBMigrationsFailed: "Failed to apply migrations: %v",
	APIServerError:     "API server error: %v",
	MetricsInit:        "System metrics initialized",
	PipelineInit:       "Signal pipeline initialized",

	// Signals
	SignalReceived:      "Signal received from %s (%d bytes)",
	SignalParsed:        "Signal parsed: %s %s %s",
	SignalNoGrammar:     "No grammar matched, signal ignored",
	SignalDuplicate:     "Duplicate signal for %s within window, rejected",
	SignalRejected:      "Signal rejected for user %s: %s",
	SignalExecuted:      "Signal executed for user %s: %s %s qty=%s",
	SignalPanic:         "PANIC in signal processing: %v",
	BroadcastStarted:    "Broadcasting signal to %d users",
	BroadcastDone:       "Broadcast done: %d ok, %d failed, %d skipped (no API key)",
	BroadcastUserFailed: "Broadcast: user %s failed: %v",

	// Executor
	EntryPlaced:        "Entry placed: %s %s %s @ %s (order %d)",
	EntryFailed:        "Entry failed: %s %s: %s",
	SLPlaced:           "Stop loss placed: %s @ %s (order %d)",
	SLFailed:           "Stop loss placement failed: %s: %s",
	TPPlaced:           "Take profit placed: %s @ %s (order %d)",
	TPFailed:           "Take profit placement failed: %s @ %s: %s",
	DcaApplied:         "DCA applied: %s avg entry %s qty %s (layer %d)",
	MoveSLDone:         "Stop loss moved: %s -> %s",
	CloseDone:          "Position closed: %s qty=%s reason=%s",
	PartialCloseDone:   "Partial close: %s qty=%s remaining=%s",
	CancelDone:         "Orders cancelled for %s",
	FailSafeClosing:    "Entry cancel failed, fail-safe market close: %s qty=%s",
	FailSafeCloseOK:    "Fail-safe close succeeded: %s",
	FailSafeCloseFail:  "Fail-safe close FAILED: %s: %s",
	SymbolFallbackUsed: "Symbol auto-corrected: %s -> %s",
	LeverageSet:        "Leverage set: %s %dx",
	MarginTypeSet:      "Margin type set: %s %s",

	// Stream
	StreamConnected:      "User data stream connected",
	StreamDisconnected:   "User data stream disconnected: %v",
	StreamReconnecting:   "Reconnecting user data stream (attempt %d) in %v",
	StreamGaveUp:         "Reconnect attempts exhausted (%d), manual restart required",
	StreamRecovered:      "User data stream recovered",
	ListenKeyCreated:     "ListenKey created",
	ListenKeyKeepAlive:   "ListenKey keepalive sent",
	ListenKeyDeleted:     "ListenKey deleted",
	StreamEventError:     "Stream event handling error: %v",
	StreamCloseRecorded:  "Stream close recorded: %s %s qty=%s pnl=%s",
	ProtectionLost:       "Protection order lost: %s %s (%s)",
	StreamHandlerSkipped: "Stream event skipped: %s",

	// Risk
	CircuitBreakerTripped: "Daily loss limit reached for user %s: %.2f >= %.2f",
	DailyLossSoFar:        "Realised loss today for user %s: %.2f",
	QuantityFloored:       "Quantity floored to step: %s -> %s",
	QuantityZero:          "Quantity rounds to zero at step %s, rejecting",

	// Store
	TradeOpened:       "Trade opened: %s %s %s qty=%s entry=%s",
	TradeClosed:       "Trade closed: %s net=%.4f (%s)",
	TradeCancelled:    "Trade cancelled: %s (%s)",
	StaleTradeCleaned: "Stale trade cleaned: %s %s (no venue position)",
	StaleCheckSkipped: "Stale check skipped for %s: %v",
	AccountingSkipped: "Profit accounting skipped for %s: missing price fields",
	CleanupStarted:    "Stale trade cleanup started (every %v)",
	CleanupDone:       "Stale trade cleanup pass done: %d checked, %d cancelled",

	// Venue
	VenueUnreachable: "Venue unreachable: %v",
	VenueRecovered:   "Venue connection recovered",
	VenueRejected:    "Venue rejected order: %s",
	RetryingOrder:    "Retrying %s order (attempt %d/%d)...",
	RetriesExhausted: "Retries exhausted for %s order on %s",
	FiltersRefreshed: "Symbol filters refreshed: %d symbols",
	FiltersStale:     "Symbol filter refresh failed, using cached: %v",
	TimeSyncAdjusted: "Server time offset adjusted: %dms",

	// Gateway
	GatewayCreated:       "Venue client created for user %s",
	GatewayEvicted:       "Venue client evicted for user %s",
	GatewayDecryptFailed: "API credential decryption failed for user %s: %v",

	// Balance
	BalanceSynced:     "Balance synced for %s: %.2f USDT available",
	BalanceSyncFailed: "Balance sync failed for %s: %v",

	// Notify
	NotifySendFailed: "Notification delivery failed: %v",
	TelegramEnabled:  "Telegram notifier enabled (chat %s)",
}

// Chinese messages
var messagesZH = Messages{
	// System
	Starting:           "啟動訊號跟單引擎...",
	ConfigLoaded:       "設定已載入（埠號：%s）",
	UsingDBPath:        "使用資料庫路徑：%s",
	ServerListening:    "服務監聽於 :%s",
	ShuttingDown:       "正在優雅關閉...",
	ConfigLoadFailed:   "讀取設定失敗：%v",
	DBInitFailed:       "初始化資料庫失敗：%v",
	DBMigrationsFailed: "套用資料庫遷移失敗：%v",
	APIServerError:     "API 伺服器錯誤：%v",
	MetricsInit:        "系統指標初始化完成",
	PipelineInit:       "訊號管線初始化完成",

	// Signals
	SignalReceived:      "收到來自 %s 的訊號（%d 位元組）",
	SignalParsed:        "訊號解析完成：%s %s %s",
	SignalNoGrammar:     "沒有符合的格式，訊號已忽略",
	SignalDuplicate:     "%s 在時間窗內重複訊號，已拒絕",
	SignalRejected:      "用戶 %s 的訊號被拒絕：%s",
	SignalExecuted:      "用戶 %s 訊號已執行：%s %s 數量=%s",
	SignalPanic:         "處理訊號時發生 PANIC：%v",
	BroadcastStarted:    "廣播訊號給 %d 位用戶",
	BroadcastDone:       "廣播完成：成功 %d、失敗 %d、略過 %d（無 API 金鑰）",
	BroadcastUserFailed: "廣播：用戶 %s 失敗：%v",

	// Executor
	EntryPlaced:        "入場已下單：%s %s %s @ %s（單號 %d）",
	EntryFailed:        "入場失敗：%s %s：%s",
	SLPlaced:           "止損已掛：%s @ %s（單號 %d）",
	SLFailed:           "止損掛單失敗：%s：%s",
	TPPlaced:           "止盈已掛：%s @ %s（單號 %d）",
	TPFailed:           "止盈掛單失敗：%s @ %s：%s",
	DcaApplied:         "加倉完成：%s 均價 %s 數量 %s（第 %d 層）",
	MoveSLDone:         "止損已移動：%s -> %s",
	CloseDone:          "持倉已平：%s 數量=%s 原因=%s",
	PartialCloseDone:   "部分平倉：%s 數量=%s 剩餘=%s",
	CancelDone:         "%s 的掛單已全部取消",
	FailSafeClosing:    "取消入場失敗，啟動保護性市價平倉：%s 數量=%s",
	FailSafeCloseOK:    "保護性平倉成功：%s",
	FailSafeCloseFail:  "保護性平倉失敗：%s：%s",
	SymbolFallbackUsed: "交易對已自動修正：%s -> %s",
	LeverageSet:        "槓桿已設定：%s %d 倍",
	MarginTypeSet:      "保證金模式已設定：%s %s",

	// Stream
	StreamConnected:      "用戶資料流已連線",
	StreamDisconnected:   "用戶資料流斷線：%v",
	StreamReconnecting:   "重連用戶資料流（第 %d 次）於 %v 後",
	StreamGaveUp:         "重連次數已用盡（%d），需要手動重啟",
	StreamRecovered:      "用戶資料流已恢復",
	ListenKeyCreated:     "ListenKey 已建立",
	ListenKeyKeepAlive:   "ListenKey 保活已送出",
	ListenKeyDeleted:     "ListenKey 已刪除",
	StreamEventError:     "處理資料流事件錯誤：%v",
	StreamCloseRecorded:  "資料流平倉已記錄：%s %s 數量=%s 損益=%s",
	ProtectionLost:       "保護單遺失：%s %s（%s）",
	StreamHandlerSkipped: "資料流事件已略過：%s",

	// Risk
	CircuitBreakerTripped: "用戶 %s 當日虧損已達上限：%.2f >= %.2f",
	DailyLossSoFar:        "用戶 %s 今日已實現虧損：%.2f",
	QuantityFloored:       "數量已向下取整至步進：%s -> %s",
	QuantityZero:          "數量在步進 %s 下取整為零，已拒絕",

	// Store
	TradeOpened:       "交易已開啟：%s %s %s 數量=%s 入場=%s",
	TradeClosed:       "交易已關閉：%s 淨利=%.4f（%s）",
	TradeCancelled:    "交易已取消：%s（%s）",
	StaleTradeCleaned: "過期交易已清理：%s %s（交易所無持倉）",
	StaleCheckSkipped: "略過 %s 的過期檢查：%v",
	AccountingSkipped: "%s 的損益計算已略過：缺少價格欄位",
	CleanupStarted:    "過期交易清理已啟動（每 %v）",
	CleanupDone:       "過期交易清理完成：檢查 %d 筆、取消 %d 筆",

	// Venue
	VenueUnreachable: "無法連線交易所：%v",
	VenueRecovered:   "交易所連線已恢復",
	VenueRejected:    "交易所拒絕委託：%s",
	RetryingOrder:    "重試 %s 委託（第 %d/%d 次）...",
	RetriesExhausted: "%s 委託於 %s 的重試已用盡",
	FiltersRefreshed: "交易對規則已更新：%d 個交易對",
	FiltersStale:     "交易對規則更新失敗，沿用快取：%v",
	TimeSyncAdjusted: "伺服器時間偏移已校正：%d 毫秒",

	// Gateway
	GatewayCreated:       "已為用戶 %s 建立交易所客戶端",
	GatewayEvicted:       "已淘汰用戶 %s 的交易所客戶端",
	GatewayDecryptFailed: "用戶 %s 的 API 憑證解密失敗：%v",

	// Balance
	BalanceSynced:     "%s 餘額已同步：可用 %.2f USDT",
	BalanceSyncFailed: "%s 餘額同步失敗：%v",

	// Notify
	NotifySendFailed: "通知發送失敗：%v",
	TelegramEnabled:  "Telegram 通知已啟用（聊天室 %s）",
}

func init() {
	messages = &messagesEN
}

// SetLanguage sets the current language
func SetLanguage(lang Language) {
	mu.Lock()
	defer mu.Unlock()

	currentLang = lang
	switch lang {
	case LangZH:
		messages = &messagesZH
	default:
		messages = &messagesEN
	}
}

// GetLanguage returns the current language
func GetLanguage() Language {
	mu.RLock()
	defer mu.RUnlock()
	return currentLang
}

// M returns the current messages
func M() *Messages {
	mu.RLock()
	defer mu.RUnlock()
	return messages
}

// Get returns specific message by key dynamically using reflection
func Get(key string) string {
	msg := M()
	v := reflect.ValueOf(msg).Elem()
	f := v.FieldByName(key)
	if f.IsValid() && f.Kind() == reflect.String {
		return f.String()
	}
	return key
}
