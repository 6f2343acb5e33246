package extract

import (
	"regexp"
	"strconv"
	"strings"
)

// Price is a normalized monetary value. Currency is a 3-letter ISO code
// when determinable, empty otherwise.
type Price struct {
	Amount   float64
	Currency string
}

var currencySymbols = map[string]string{
	"$":  "USD",
	"€":  "EUR",
	"£":  "GBP",
	"¥":  "JPY",
	"₹":  "INR",
	"₩":  "KRW",
	"zł": "PLN",
	"kr": "SEK",
	"R$": "BRL",
	"C$": "CAD",
	"A$": "AUD",
}

var (
	isoCodeRe = regexp.MustCompile(`\b([A-Z]{3})\b`)
	numericRe = regexp.MustCompile(`\d[\d.,\s]*\d|\d`)
)

// knownISOCodes guards against matching arbitrary uppercase words as
// currency codes.
var knownISOCodes = map[string]bool{
	"USD": true, "EUR": true, "GBP": true, "JPY": true, "CHF": true,
	"CAD": true, "AUD": true, "NZD": true, "SEK": true, "NOK": true,
	"DKK": true, "PLN": true, "CZK": true, "INR": true, "CNY": true,
	"KRW": true, "BRL": true, "MXN": true, "RUB": true, "TRY": true,
}

// ParsePrice normalizes a raw price string across currency formats:
// symbols and thousands separators are stripped, the decimal separator is
// inferred from position, and the currency code is captured when the string
// carries a recognizable symbol or ISO code.
//
//	"$1,299.99"  -> 1299.99 USD
//	"€1.299,99"  -> 1299.99 EUR
//	"1299.99 USD" -> 1299.99 USD
func ParsePrice(raw string) (Price, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Price{}, false
	}

	currency := detectCurrency(raw)

	numeric := numericRe.FindString(raw)
	if numeric == "" {
		return Price{}, false
	}
	numeric = strings.ReplaceAll(numeric, " ", "")

	amount, ok := parseAmount(numeric)
	if !ok {
		return Price{}, false
	}

	return Price{Amount: amount, Currency: currency}, true
}

func detectCurrency(raw string) string {
	// Multi-rune symbols first so "R$" is not read as "$".
	for _, sym := range []string{"R$", "C$", "A$", "zł", "kr"} {
		if strings.Contains(raw, sym) {
			return currencySymbols[sym]
		}
	}
	for sym, code := range currencySymbols {
		if strings.Contains(raw, sym) {
			return code
		}
	}
	if m := isoCodeRe.FindString(raw); m != "" && knownISOCodes[m] {
		return m
	}
	return ""
}

// parseAmount resolves separator ambiguity. With both separators present
// the right-most is the decimal point. With a single separator, two or
// fewer trailing digits mean decimal; exactly three mean thousands
// grouping.
func parseAmount(numeric string) (float64, bool) {
	lastDot := strings.LastIndex(numeric, ".")
	lastComma := strings.LastIndex(numeric, ",")

	var decimalSep byte
	switch {
	case lastDot >= 0 && lastComma >= 0:
		if lastDot > lastComma {
			decimalSep = '.'
		} else {
			decimalSep = ','
		}
	case lastDot >= 0:
		decimalSep = separatorRole(numeric, lastDot)
	case lastComma >= 0:
		decimalSep = separatorRole(numeric, lastComma)
	}

	var sb strings.Builder
	for i := 0; i < len(numeric); i++ {
		c := numeric[i]
		switch {
		case c >= '0' && c <= '9':
			sb.WriteByte(c)
		case c == decimalSep && i == strings.LastIndexByte(numeric, decimalSep):
			sb.WriteByte('.')
		}
	}

	amount, err := strconv.ParseFloat(sb.String(), 64)
	if err != nil {
		return 0, false
	}
	return amount, true
}

// separatorRole decides whether the single separator at pos is a decimal
// point ('.' returned as the separator) or thousands grouping (0).
func separatorRole(numeric string, pos int) byte {
	trailing := len(numeric) - pos - 1
	if trailing == 3 && pos > 0 {
		return 0 // thousands separator: "1.299" or "1,299"
	}
	return numeric[pos]
}
