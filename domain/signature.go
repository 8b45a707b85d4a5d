package domain

import (
	"fmt"
	"sort"
	"strings"
)

type SignatureLine struct {
	ProductID   int64
	VariationID int64
	Quantity    int
}

// CartSignature is an order-independent fingerprint of cart lines, used to decide whether a
// pending order still describes what the buyer is about to pay for.
func CartSignature(lines []SignatureLine) string {
	parts := make([]string, 0, len(lines))
	for _, l := range lines {
		parts = append(parts, fmt.Sprintf("%d:%d:%d", l.ProductID, l.VariationID, l.Quantity))
	}
	sort.Strings(parts)
	return strings.Join(parts, "|")
}
