package currency

import (
	"strings"

	"github.com/shopspring/decimal"
)

// Currencies charged in whole units; providers take their amounts without a minor part.
var zeroDecimal = map[string]bool{
	"JPY": true, "KRW": true, "VND": true, "XOF": true, "XAF": true, "UGX": true, "RWF": true, "CLP": true,
}

// Decimals is the number of minor-unit digits a charge in code carries.
func Decimals(code string) int32 {
	if zeroDecimal[strings.ToUpper(code)] {
		return 0
	}
	return 2
}

// RoundAmount rounds amount to the precision the currency is charged in.
func RoundAmount(amount decimal.Decimal, code string) decimal.Decimal {
	return amount.Round(Decimals(code))
}
