package signal

import (
	"regexp"
	"strconv"
	"strings"
)

// Parser recognises the grammar dialects signal channels actually use.
// Parse returns (nil, false) when no dialect matches; it never errors and
// never panics on garbage input.
type Parser struct{}

// NewParser creates a Parser.
func NewParser() *Parser {
	return &Parser{}
}

// Sentinel used by channels when a level was deliberately left out.
const unsetSentinel = "未設定"

var (
	// Label lines of the structured entry block.
	reSymbolLine = regexp.MustCompile(`(?m)^\s*(?:幣種|币种|交易對|交易对|Symbol|合約|合约)\s*[:：]\s*([A-Za-z0-9]+)\s*$`)
	reSideLine   = regexp.MustCompile(`(?m)^\s*(?:方向|Direction|Side)\s*[:：]\s*(.+)$`)
	reEntryLine  = regexp.MustCompile(`(?m)^\s*(?:入場|入场|进场|Entry|掛單|挂单)\s*(?:價|价)?\s*[:：]\s*(.+)$`)
	reSLLine     = regexp.MustCompile(`(?m)^\s*(?:止損|止损|SL|Stop\s*Loss)\s*[:：]\s*(.+)$`)
	reTPLine     = regexp.MustCompile(`(?m)^\s*(?:止盈|TP|Take\s*Profit|目標|目标)\s*[:：]\s*(.+)$`)

	// Cancellation notice: symbol plus a cancel keyword.
	reCancel = regexp.MustCompile(`(?:取消|作廢|作废|撤銷|撤销|invalid)`)

	// Position update block (MOVE_SL dialect).
	reUpdateHeader = regexp.MustCompile(`(?:持倉更新|持仓更新|倉位更新|仓位更新|position\s+update)`)
	reNewSL        = regexp.MustCompile(`(?:新止損|新止损|止損上移|止损上移|止損下移|止损下移|移動止損|移动止损)\s*(?:至|到|[:：])?\s*(\d+(?:\.\d+)?)`)
	reNewTP        = regexp.MustCompile(`(?:新止盈|止盈調整|止盈调整)\s*(?:至|到|[:：])?\s*(\d+(?:\.\d+)?)`)

	// Narrative entry: "BTC 95000-96000 做多，止損93000，止盈100000/105000"
	// or "ETH 3500附近 做空 ...".
	reNarrativeRange = regexp.MustCompile(`(\d+(?:\.\d+)?)\s*[-~—至]\s*(\d+(?:\.\d+)?)`)
	reNarrativeNear  = regexp.MustCompile(`(\d+(?:\.\d+)?)\s*附近`)
	reNarrativeSym   = regexp.MustCompile(`\b([A-Z][A-Z0-9]{1,11})\b`)
	reNarrativeSL    = regexp.MustCompile(`(?:止損|止损|SL)\s*[:：]?\s*(\d+(?:\.\d+)?)`)
	reNarrativeTP    = regexp.MustCompile(`(?:止盈|TP|目標|目标)\s*[:：]?\s*((?:\d+(?:\.\d+)?(?:\s*[,，、/]\s*)?)+)`)

	// Trigger line: "<price><direction keyword>触发入场".
	reTrigger = regexp.MustCompile(`(\d+(?:\.\d+)?)\s*(多|空|做多|做空)\s*(?:触发入场|觸發入場)`)

	reNumber = regexp.MustCompile(`\d+(?:\.\d+)?`)

	reDca = regexp.MustCompile(`(?:加倉|加仓|補倉|补仓|DCA|dca)`)
)

// Parse attempts each dialect in a fixed order.
func (p *Parser) Parse(text string, src Source) (*TradeSignal, bool) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, false
	}

	for _, try := range []func(string, Source) (*TradeSignal, bool){
		p.parseStructuredEntry,
		p.parseCancel,
		p.parseMoveSL,
		p.parseNarrativeEntry,
		p.parseTrigger,
	} {
		if sig, ok := try(text, src); ok {
			sig.RawMessage = text
			sig.Source = src
			return sig, true
		}
	}
	return nil, false
}

// normalizeSymbol uppercases and appends the quote asset when absent.
func normalizeSymbol(raw string) string {
	sym := strings.ToUpper(strings.TrimSpace(raw))
	if sym == "" {
		return ""
	}
	if !strings.HasSuffix(sym, "USDT") {
		sym += "USDT"
	}
	return sym
}

func parseSide(text string) Side {
	lower := strings.ToLower(text)
	switch {
	case strings.Contains(text, "做多"), strings.Contains(text, "多單"), strings.Contains(text, "多单"),
		strings.Contains(lower, "long"), strings.Contains(lower, "buy"):
		return SideLong
	case strings.Contains(text, "做空"), strings.Contains(text, "空單"), strings.Contains(text, "空单"),
		strings.Contains(lower, "short"), strings.Contains(lower, "sell"):
		return SideShort
	}
	// Bare 多/空 only when unambiguous.
	switch {
	case strings.Contains(text, "多"):
		return SideLong
	case strings.Contains(text, "空"):
		return SideShort
	}
	return ""
}

func parseFloat(s string) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0
	}
	return v
}

// parseNumberList extracts every number from a delimiter-separated run.
func parseNumberList(s string) []float64 {
	matches := reNumber.FindAllString(s, -1)
	out := make([]float64, 0, len(matches))
	for _, m := range matches {
		if v := parseFloat(m); v > 0 {
			out = append(out, v)
		}
	}
	return out
}

// parseStructuredEntry handles the labelled multi-line entry template.
// Requires at least symbol, direction and entry lines.
func (p *Parser) parseStructuredEntry(text string, _ Source) (*TradeSignal, bool) {
	symMatch := reSymbolLine.FindStringSubmatch(text)
	sideMatch := reSideLine.FindStringSubmatch(text)
	entryMatch := reEntryLine.FindStringSubmatch(text)
	if symMatch == nil || sideMatch == nil || entryMatch == nil {
		return nil, false
	}

	side := parseSide(sideMatch[1])
	if side == "" {
		return nil, false
	}

	low, high, ok := parseEntryRange(entryMatch[1])
	if !ok {
		return nil, false
	}

	sig := &TradeSignal{
		Symbol:         normalizeSymbol(symMatch[1]),
		Side:           side,
		Type:           TypeEntry,
		EntryPriceLow:  low,
		EntryPriceHigh: high,
		IsDca:          reDca.MatchString(text),
	}

	if slMatch := reSLLine.FindStringSubmatch(text); slMatch != nil {
		if !strings.Contains(slMatch[1], unsetSentinel) {
			sig.StopLoss = parseFloat(reNumber.FindString(slMatch[1]))
		}
		// 未設定 leaves StopLoss at 0; the executor rejects entries without it.
	}
	if tpMatch := reTPLine.FindStringSubmatch(text); tpMatch != nil {
		if !strings.Contains(tpMatch[1], unsetSentinel) {
			sig.TakeProfits = parseNumberList(tpMatch[1])
		}
	}

	return sig, true
}

func parseEntryRange(s string) (low, high float64, ok bool) {
	if m := reNarrativeRange.FindStringSubmatch(s); m != nil {
		low, high = parseFloat(m[1]), parseFloat(m[2])
		if low > high {
			low, high = high, low
		}
		return low, high, low > 0
	}
	if m := reNarrativeNear.FindStringSubmatch(s); m != nil {
		v := parseFloat(m[1])
		return v, v, v > 0
	}
	if m := reNumber.FindString(s); m != "" {
		v := parseFloat(m)
		return v, v, v > 0
	}
	return 0, 0, false
}

// parseCancel handles cancellation notices: cancel keyword + symbol, side
// optional.
func (p *Parser) parseCancel(text string, _ Source) (*TradeSignal, bool) {
	if !reCancel.MatchString(text) {
		return nil, false
	}
	sym := findSymbol(text)
	if sym == "" {
		return nil, false
	}
	return &TradeSignal{
		Symbol: sym,
		Side:   parseSide(text),
		Type:   TypeCancel,
	}, true
}

// parseMoveSL handles position-update notices carrying a new SL and/or TP.
// Empty on both is a no-op and rejected.
func (p *Parser) parseMoveSL(text string, _ Source) (*TradeSignal, bool) {
	newSL := reNewSL.FindStringSubmatch(text)
	newTP := reNewTP.FindStringSubmatch(text)
	if !reUpdateHeader.MatchString(text) && newSL == nil && newTP == nil {
		return nil, false
	}
	if newSL == nil && newTP == nil {
		return nil, false
	}

	sig := &TradeSignal{
		Symbol: findSymbol(text),
		Side:   parseSide(text),
		Type:   TypeMoveSL,
	}
	if newSL != nil {
		sig.NewStopLoss = parseFloat(newSL[1])
	}
	if newTP != nil {
		sig.NewTakeProfit = parseFloat(newTP[1])
	}
	return sig, true
}

// parseNarrativeEntry handles single-sentence entries with a price range or
// a 附近 ("near") anchor, a direction keyword, an SL and one or more TPs.
func (p *Parser) parseNarrativeEntry(text string, _ Source) (*TradeSignal, bool) {
	sym := findSymbol(text)
	if sym == "" {
		return nil, false
	}
	side := parseSide(text)
	if side == "" {
		return nil, false
	}

	var low, high float64
	if m := reNarrativeRange.FindStringSubmatch(text); m != nil {
		low, high = parseFloat(m[1]), parseFloat(m[2])
		if low > high {
			low, high = high, low
		}
	} else if m := reNarrativeNear.FindStringSubmatch(text); m != nil {
		low = parseFloat(m[1])
		high = low
	} else {
		return nil, false
	}
	if low <= 0 {
		return nil, false
	}

	slMatch := reNarrativeSL.FindStringSubmatch(text)
	tpMatch := reNarrativeTP.FindStringSubmatch(text)
	if slMatch == nil || tpMatch == nil {
		return nil, false
	}

	sig := &TradeSignal{
		Symbol:         sym,
		Side:           side,
		Type:           TypeEntry,
		EntryPriceLow:  low,
		EntryPriceHigh: high,
		StopLoss:       parseFloat(slMatch[1]),
		TakeProfits:    parseNumberList(tpMatch[1]),
		IsDca:          reDca.MatchString(text),
	}
	return sig, true
}

// parseTrigger handles the short "<price><direction>触发入场" notice.
// The symbol is absent; the pipeline substitutes the configured default.
func (p *Parser) parseTrigger(text string, _ Source) (*TradeSignal, bool) {
	m := reTrigger.FindStringSubmatch(text)
	if m == nil {
		return nil, false
	}
	price := parseFloat(m[1])
	if price <= 0 {
		return nil, false
	}
	return &TradeSignal{
		Side:           parseSide(m[2]),
		Type:           TypeEntry,
		EntryPriceLow:  price,
		EntryPriceHigh: price,
	}, true
}

// findSymbol picks the first token that looks like a coin symbol, skipping
// direction/action words.
func findSymbol(text string) string {
	skip := map[string]bool{
		"LONG": true, "SHORT": true, "BUY": true, "SELL": true,
		"SL": true, "TP": true, "DCA": true, "USDT": true,
	}
	for _, m := range reNarrativeSym.FindAllString(text, -1) {
		if skip[m] {
			continue
		}
		return normalizeSymbol(m)
	}
	return ""
}
