package domain

import "strings"

// NormalizeSymbol converts a signal symbol into the venue's native form.
// Binance accepts neither slash nor dash separators; Bybit only rejects
// the slash.
func NormalizeSymbol(exchange Exchange, symbol string) string {
	switch exchange {
	case ExchangeBinance:
		symbol = strings.ReplaceAll(symbol, "/", "")
		symbol = strings.ReplaceAll(symbol, "-", "")
	case ExchangeBybit:
		symbol = strings.ReplaceAll(symbol, "/", "")
	}
	return strings.ToUpper(symbol)
}
