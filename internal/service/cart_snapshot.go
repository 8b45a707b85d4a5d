package service

import (
	"context"
	"fmt"

	d "github.com/fjod/go_market/domain"
)

// validateCart gates checkout on the current state of every cart item. Unpublished products are
// removed from the cart on the spot; unapproved sellers and stock shortfalls only block. All rules
// are evaluated before answering so the buyer sees every problem at once. A nil rejection means
// the cart may be priced.
func (s *CheckoutServiceImpl) validateCart(ctx context.Context, viewerID int64, cart *d.Cart) (*d.BeginRejected, error) {
	var (
		removedIDs   []int64
		removedNames []string
		kept         []d.CartItem
		unapproved   = make(map[string]string)
		shortStock   = make(map[string]string)
	)

	for _, item := range cart.Items {
		p := item.Product
		owner := p.SellerID == viewerID

		if p.Status != d.ProductStatusPublished && !owner {
			removedIDs = append(removedIDs, item.ID)
			removedNames = append(removedNames, p.Name)
			continue
		}
		kept = append(kept, item)

		if !p.Seller.CanSell() && !owner {
			unapproved[p.Name] = "This seller cannot accept payments yet."
		}
		if !p.HasStockFor(item.Quantity) {
			if p.Stock != nil && p.InStock && *p.Stock > 0 {
				shortStock[p.Name] = fmt.Sprintf("Only %d left in stock.", *p.Stock)
			} else {
				shortStock[p.Name] = "Out of stock."
			}
		}
	}

	if len(removedIDs) > 0 {
		if err := s.repo.RemoveCartItems(ctx, cart.ID, removedIDs); err != nil {
			return nil, fmt.Errorf("remove unavailable items: %w", err)
		}
		cart.Items = kept
		s.logger.InfoContext(ctx, "removed unavailable items from cart",
			"cart_id", cart.ID, "removed", len(removedIDs))
		return &d.BeginRejected{
			Kind:         d.KindAvailability,
			Reason:       d.ReasonUnavailableItems,
			Message:      "Some items are no longer available and were removed from your cart.",
			RemovedItems: removedNames,
			Errors:       merge(unapproved, shortStock),
		}, nil
	}
	if len(unapproved) > 0 {
		return &d.BeginRejected{
			Kind:    d.KindAvailability,
			Reason:  d.ReasonUnapprovedSeller,
			Message: "Some items come from sellers who cannot accept payments yet.",
			Errors:  merge(unapproved, shortStock),
		}, nil
	}
	if len(shortStock) > 0 {
		return &d.BeginRejected{
			Kind:    d.KindAvailability,
			Reason:  d.ReasonInsufficientStock,
			Message: "Some items do not have enough stock.",
			Errors:  shortStock,
		}, nil
	}
	return nil, nil
}

func merge(maps ...map[string]string) map[string]string {
	out := make(map[string]string)
	for _, m := range maps {
		for k, v := range m {
			if _, ok := out[k]; !ok {
				out[k] = v
			}
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
