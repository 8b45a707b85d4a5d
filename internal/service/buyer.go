package service

import (
	"net/mail"
	"strings"

	d "github.com/fjod/go_market/domain"
)

// validateBuyer returns a field to message map; an empty map means the fields are usable.
func validateBuyer(b d.BuyerFields) map[string]string {
	errs := make(map[string]string)

	email := strings.TrimSpace(b.Email)
	if email == "" {
		errs["email"] = "Email is required."
	} else if addr, err := mail.ParseAddress(email); err != nil || addr.Address != email {
		errs["email"] = "Enter a valid email address."
	}

	required := []struct {
		field, value, label string
	}{
		{"first_name", b.FirstName, "First name"},
		{"last_name", b.LastName, "Last name"},
		{"address_line1", b.Line1, "Address"},
		{"city", b.City, "City"},
	}
	for _, r := range required {
		if strings.TrimSpace(r.value) == "" {
			errs[r.field] = r.label + " is required."
		}
	}

	country := strings.TrimSpace(b.Country)
	switch {
	case country == "":
		errs["country"] = "Country is required."
	case len(country) != 2 || !isLetters(country):
		errs["country"] = "Use a two-letter country code."
	}

	if len(b.Phone) > 32 {
		errs["phone"] = "Phone number is too long."
	}
	return errs
}

func isLetters(s string) bool {
	for _, c := range s {
		if (c < 'a' || c > 'z') && (c < 'A' || c > 'Z') {
			return false
		}
	}
	return true
}

func normalizeBuyer(b d.BuyerFields) d.BuyerFields {
	b.Email = strings.ToLower(strings.TrimSpace(b.Email))
	b.FirstName = strings.TrimSpace(b.FirstName)
	b.LastName = strings.TrimSpace(b.LastName)
	b.Phone = strings.TrimSpace(b.Phone)
	b.Line1 = strings.TrimSpace(b.Line1)
	b.Line2 = strings.TrimSpace(b.Line2)
	b.City = strings.TrimSpace(b.City)
	b.State = strings.TrimSpace(b.State)
	b.PostalCode = strings.TrimSpace(b.PostalCode)
	b.Country = strings.ToUpper(strings.TrimSpace(b.Country))
	return b
}
