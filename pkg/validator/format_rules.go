package validator

import (
	"net/mail"
	"net/url"
	"regexp"
	"strings"
)

var (
	// ISO 4217 subset for common international commerce.
	validCurrencyCodes = map[string]bool{
		"USD": true, "EUR": true, "GBP": true, "JPY": true, "AUD": true, "CAD": true,
		"CHF": true, "CNY": true, "SEK": true, "NZD": true, "MXN": true, "SGD": true,
		"HKD": true, "NOK": true, "KRW": true, "TRY": true, "INR": true, "BRL": true,
		"ZAR": true, "PLN": true, "CZK": true, "HUF": true, "ILS": true, "CLP": true,
		"PHP": true, "AED": true, "COP": true, "SAR": true, "MYR": true, "RON": true,
		"THB": true, "BGN": true, "ISK": true, "DKK": true,
	}

	currencyCodeRegex = regexp.MustCompile(`^[A-Z]{3}$`)
)

// ValidEmail validates an email address with net/mail plus a dotted domain.
func ValidEmail(field, value string) Rule {
	return newRule(field, "email", "must be a valid email address", func() bool {
		if strings.TrimSpace(value) == "" {
			return false
		}
		addr, err := mail.ParseAddress(value)
		if err != nil || addr.Address != value {
			return false
		}
		local, domain, ok := strings.Cut(addr.Address, "@")
		if !ok || local == "" || !strings.Contains(domain, ".") {
			return false
		}
		for part := range strings.SplitSeq(domain, ".") {
			if part == "" {
				return false
			}
		}
		return true
	})
}

// ValidURL validates an absolute URL with one of the given schemes.
// No schemes means http or https.
func ValidURL(field, value string, schemes ...string) Rule {
	if len(schemes) == 0 {
		schemes = []string{"http", "https"}
	}
	return newRule(field, "url", "must be a valid URL with scheme: "+strings.Join(schemes, ", "), func() bool {
		u, err := url.ParseRequestURI(value)
		if err != nil || u.Host == "" {
			return false
		}
		for _, s := range schemes {
			if u.Scheme == s {
				return true
			}
		}
		return false
	})
}

func PositiveAmount[T Numeric](field string, value T) Rule {
	return newRule(field, "positive_amount", "amount must be positive", func() bool {
		return value > 0
	})
}

// ValidCurrencyCode validates an upper-case ISO 4217 currency code.
func ValidCurrencyCode(field, value string) Rule {
	return newRule(field, "currency_code", "must be a valid ISO 4217 currency code", func() bool {
		return currencyCodeRegex.MatchString(value) && validCurrencyCodes[value]
	})
}
