package executor

// Reject reasons surfaced to callers and persisted on receipts. These are
// operator-facing strings shown in the dashboard and kept in zh-TW.
const (
	ReasonDuplicate         = "重複"
	ReasonDailyLossLimit    = "虧損已達上限"
	ReasonPrecheckFailed    = "前置檢查失敗"
	ReasonSymbolNotAllowed  = "交易對不在白名單"
	ReasonMissingSymbol     = "缺少交易對"
	ReasonMissingSide       = "缺少方向"
	ReasonMissingStopLoss   = "缺少止損"
	ReasonInvalidStopLoss   = "止損方向錯誤"
	ReasonPriceDeviation    = "價格偏離過大"
	ReasonPositionExists    = "已有持倉"
	ReasonOpenEntryOrders   = "已有入場掛單"
	ReasonNoPositionForDca  = "無持倉可加倉"
	ReasonDcaSideConflict   = "加倉方向衝突"
	ReasonMaxDcaReached     = "已達加倉上限"
	ReasonQuantityTooSmall  = "數量過小"
	ReasonNoPosition        = "無持倉"
	ReasonEntryOrderFailed  = "入場下單失敗"
	ReasonProtectionFailed  = "止損掛單失敗"
)
