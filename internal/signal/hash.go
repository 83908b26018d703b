package signal

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
)

// GenerateHash maps the normalised signal tuple to a stable string.
// Canonically equal signals (same symbol, type, side, entry range, SL, TP
// list and DCA flag) always hash the same; attribution and raw text do not
// participate.
func GenerateHash(sig *TradeSignal) string {
	var b strings.Builder
	b.WriteString(sig.Symbol)
	b.WriteByte('|')
	b.WriteString(string(sig.Type))
	b.WriteByte('|')
	b.WriteString(string(sig.Side))
	b.WriteByte('|')
	b.WriteString(formatPrice(sig.EntryPriceLow))
	b.WriteByte('|')
	b.WriteString(formatPrice(sig.EntryPriceHigh))
	b.WriteByte('|')
	b.WriteString(formatPrice(sig.StopLoss))
	b.WriteByte('|')
	for i, tp := range sig.TakeProfits {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(formatPrice(tp))
	}
	b.WriteByte('|')
	b.WriteString(strconv.FormatBool(sig.IsDca))

	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

func formatPrice(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
