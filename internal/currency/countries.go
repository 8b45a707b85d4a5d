package currency

import (
	"net/http"
	"strings"
)

// Geolocation headers set by the CDNs and load balancers the storefront runs behind, in order
// of preference.
var countryHeaders = []string{
	"CF-IPCountry",
	"CloudFront-Viewer-Country",
	"X-Vercel-IP-Country",
	"X-AppEngine-Country",
	"X-Country-Code",
}

// CountryFromRequest returns the viewer's ISO-2 country code, or "" when no usable header is set.
func CountryFromRequest(r *http.Request) string {
	for _, h := range countryHeaders {
		code := strings.ToUpper(strings.TrimSpace(r.Header.Get(h)))
		if len(code) != 2 || code == "XX" || code == "T1" {
			continue
		}
		return code
	}
	return ""
}

var countryCurrency = map[string]string{
	"US": "USD", "PR": "USD", "EC": "USD", "SV": "USD",
	"CA": "CAD", "MX": "MXN", "BR": "BRL", "AR": "ARS", "CL": "CLP", "CO": "COP", "PE": "PEN",
	"GB": "GBP", "IE": "EUR", "FR": "EUR", "DE": "EUR", "ES": "EUR", "IT": "EUR", "NL": "EUR",
	"BE": "EUR", "PT": "EUR", "AT": "EUR", "FI": "EUR", "GR": "EUR", "LU": "EUR", "SK": "EUR",
	"SI": "EUR", "EE": "EUR", "LV": "EUR", "LT": "EUR", "MT": "EUR", "CY": "EUR", "HR": "EUR",
	"CH": "CHF", "SE": "SEK", "NO": "NOK", "DK": "DKK", "PL": "PLN", "CZ": "CZK", "HU": "HUF",
	"RO": "RON", "BG": "BGN", "TR": "TRY", "UA": "UAH",
	"NG": "NGN", "GH": "GHS", "KE": "KES", "ZA": "ZAR", "EG": "EGP", "UG": "UGX", "TZ": "TZS",
	"RW": "RWF", "ZM": "ZMW", "CI": "XOF", "SN": "XOF", "CM": "XAF", "MA": "MAD",
	"IN": "INR", "PK": "PKR", "BD": "BDT", "LK": "LKR", "NP": "NPR",
	"CN": "CNY", "JP": "JPY", "KR": "KRW", "HK": "HKD", "TW": "TWD", "SG": "SGD", "MY": "MYR",
	"ID": "IDR", "TH": "THB", "PH": "PHP", "VN": "VND",
	"AE": "AED", "SA": "SAR", "QA": "QAR", "IL": "ILS",
	"AU": "AUD", "NZ": "NZD",
}

// CurrencyForCountry maps an ISO-2 country code to its ISO-4217 currency, or "".
func CurrencyForCountry(country string) string {
	return countryCurrency[strings.ToUpper(country)]
}
