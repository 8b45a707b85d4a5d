package service

import (
	d "github.com/fjod/go_market/domain"
)

type resumeAction int

const (
	// resumeCreate writes a brand new order.
	resumeCreate resumeAction = iota
	// resumeReuse refreshes an open order whose items still match the cart.
	resumeReuse
	// resumeSettled answers with the receipt of an order that already settled.
	resumeSettled
)

func (a resumeAction) String() string {
	switch a {
	case resumeReuse:
		return "reuse"
	case resumeSettled:
		return "settled"
	default:
		return "create"
	}
}

type resumeDecision struct {
	action resumeAction
	order  *d.Order
	// stale is the supplied order that no longer matches the cart. It is left untouched.
	stale *d.Order
}

// decideResume is the guarded transition of the begin state machine. The supplied order is
// considered first, then recent open orders newest first. An order only moves to reuse when its
// item signature equals the cart's; a settled order only answers when the cart is empty or still
// matches it.
func decideResume(signature string, supplied *d.Order, recent []*d.Order) resumeDecision {
	var dec resumeDecision

	if supplied != nil {
		matches := supplied.Signature() == signature
		switch {
		case supplied.IsSettled() && (signature == "" || matches):
			return resumeDecision{action: resumeSettled, order: supplied}
		case supplied.OrderStatus.IsOpen() && matches:
			return resumeDecision{action: resumeReuse, order: supplied}
		case supplied.OrderStatus.IsOpen():
			dec.stale = supplied
		}
	}

	for _, o := range recent {
		if supplied != nil && o.ID == supplied.ID {
			continue
		}
		if o.OrderStatus.IsOpen() && o.Signature() == signature {
			dec.action = resumeReuse
			dec.order = o
			return dec
		}
	}

	dec.action = resumeCreate
	return dec
}
