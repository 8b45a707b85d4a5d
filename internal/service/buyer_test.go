package service

import (
	"strings"
	"testing"

	d "github.com/fjod/go_market/domain"
	"github.com/stretchr/testify/assert"
)

func TestValidateBuyer(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(b *d.BuyerFields)
		fields []string
	}{
		{"valid", func(b *d.BuyerFields) {}, nil},
		{"missing email", func(b *d.BuyerFields) { b.Email = "" }, []string{"email"}},
		{"display name email", func(b *d.BuyerFields) { b.Email = "Ada <ada@example.com>" }, []string{"email"}},
		{"blank names", func(b *d.BuyerFields) { b.FirstName, b.LastName = " ", "" }, []string{"first_name", "last_name"}},
		{"missing address", func(b *d.BuyerFields) { b.Line1, b.City = "", "" }, []string{"address_line1", "city"}},
		{"three letter country", func(b *d.BuyerFields) { b.Country = "NGA" }, []string{"country"}},
		{"numeric country", func(b *d.BuyerFields) { b.Country = "N1" }, []string{"country"}},
		{"long phone", func(b *d.BuyerFields) { b.Phone = strings.Repeat("1", 33) }, []string{"phone"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := buyer()
			tt.mutate(&b)
			errs := validateBuyer(b)
			assert.Len(t, errs, len(tt.fields))
			for _, f := range tt.fields {
				assert.Contains(t, errs, f)
			}
		})
	}
}

func TestNormalizeBuyer(t *testing.T) {
	b := normalizeBuyer(d.BuyerFields{
		Email:     "  Ada@Example.COM ",
		FirstName: " Ada ",
		Country:   " ng",
		City:      "Lagos ",
	})
	assert.Equal(t, "ada@example.com", b.Email)
	assert.Equal(t, "Ada", b.FirstName)
	assert.Equal(t, "NG", b.Country)
	assert.Equal(t, "Lagos", b.City)
}
