package money

import (
	"strings"

	"github.com/shopspring/decimal"
)

// minorUnits lists the currencies whose exponent differs from the
// default of 2.
var minorUnits = map[string]int32{
	"BHD": 3,
	"JOD": 3,
	"JPY": 0,
	"KRW": 0,
	"KWD": 3,
	"VND": 0,
}

// Exponent returns the number of minor-unit digits for a currency.
func Exponent(currency string) int32 {
	if exp, ok := minorUnits[strings.ToUpper(currency)]; ok {
		return exp
	}
	return 2
}

// Format renders a minor-unit integer amount as a major-unit decimal
// string, e.g. Format(1050, "USD") == "10.50".
func Format(minor int64, currency string) string {
	exp := Exponent(currency)
	return decimal.New(minor, -exp).StringFixed(exp)
}
