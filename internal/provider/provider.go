package provider

import "strings"

// CleanSymbol strips a trailing ".TW" or ":TW" exchange suffix. All other
// symbols pass through unchanged.
func CleanSymbol(symbol string) string {
	if s, ok := strings.CutSuffix(symbol, ".TW"); ok {
		return s
	}
	if s, ok := strings.CutSuffix(symbol, ":TW"); ok {
		return s
	}
	return symbol
}

// IsTaiwanListed reports whether the symbol carries a Taiwan exchange suffix,
// which routes it to the bulk-dump provider.
func IsTaiwanListed(symbol string) bool {
	return strings.HasSuffix(symbol, ".TW") || strings.HasSuffix(symbol, ":TW")
}
