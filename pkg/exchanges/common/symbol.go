package common

import "strings"

// Canonical symbol form is "BASE/QUOTE" or "BASE/QUOTE:SETTLE" (e.g.
// "BTC/USDT", "BTC/USD:USD"). Adapters translate venue naming to/from this
// form at their boundary; the rest of the system only ever sees canonical
// symbols. Normalization is idempotent.

// Quote currencies recognized when a venue concatenates base and quote
// ("BTCUSDT"). Ordered longest-first so USDT wins over USD.
var knownQuotes = []string{"USDT", "USDC", "FDUSD", "BUSD", "TUSD", "EUR", "GBP", "BTC", "ETH", "BNB", "USD"}

// NormalizeSymbol converts a venue-specific symbol string to canonical form.
// Unrecognized inputs are uppercased and returned as-is.
func NormalizeSymbol(s string) string {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "" {
		return s
	}

	// Already canonical, possibly with settle suffix.
	if strings.Contains(s, "/") {
		return s
	}

	// Separator variants: BTC-USDT, BTC_USDT.
	for _, sep := range []string{"-", "_"} {
		if parts := strings.SplitN(s, sep, 2); len(parts) == 2 && parts[0] != "" && parts[1] != "" {
			return parts[0] + "/" + strings.ReplaceAll(parts[1], sep, ":")
		}
	}

	// Concatenated venue symbols: BTCUSDT -> BTC/USDT.
	for _, q := range knownQuotes {
		if strings.HasSuffix(s, q) && len(s) > len(q) {
			return s[:len(s)-len(q)] + "/" + q
		}
	}
	return s
}

// BaseQuote splits a canonical symbol into base and quote, dropping any
// settle suffix. Returns ok=false when the symbol is not canonical.
func BaseQuote(symbol string) (base, quote string, ok bool) {
	pair := symbol
	if i := strings.IndexByte(pair, ':'); i >= 0 {
		pair = pair[:i]
	}
	parts := strings.SplitN(pair, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}

// VenueSymbol renders a canonical symbol with the venue's separator
// ("" for concatenated, "-"/"_" otherwise). The settle suffix is dropped.
func VenueSymbol(symbol, sep string) string {
	base, quote, ok := BaseQuote(NormalizeSymbol(symbol))
	if !ok {
		return symbol
	}
	return base + sep + quote
}
