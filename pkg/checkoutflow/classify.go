// Package checkoutflow drives the two-phase begin/finalize protocol from the buyer's side: it
// guards against double submission, runs the provider widget and decides from the widget's
// callback whether the order should be finalized at all.
package checkoutflow

import (
	"strings"
)

type Source string

const (
	SourceSuccess Source = "success"
	SourceError   Source = "error"
	SourceClose   Source = "close"
	// SourceMessage is a generic postMessage-style event with no dedicated handler.
	SourceMessage Source = "message"
)

// Callback is one event raised by a provider widget.
type Callback struct {
	Source  Source
	Payload map[string]any
}

type Outcome int

const (
	OutcomeSuccess Outcome = iota + 1
	OutcomeError
	OutcomeCancel
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeError:
		return "error"
	case OutcomeCancel:
		return "cancel"
	default:
		return "unknown"
	}
}

var (
	classifiedFields = []string{"event", "status", "message", "type", "reason"}
	cancelKeywords   = []string{"cancel", "close", "dismiss", "abandon"}
	successStatuses  = map[string]bool{"success": true, "successful": true, "completed": true, "approved": true, "paid": true}
	failureStatuses  = map[string]bool{"failed": true, "failure": true, "error": true, "declined": true, "reversed": true}
	nestedKeys       = []string{"data", "detail", "response"}
)

// Classify decides what a widget callback means. Widgets do not separate a buyer closing the
// modal from a failed charge, so the payload is inspected:
//   - an empty payload is a cancel
//   - an explicit success status is a success, even if a message mentions closing
//   - a cancel keyword in event, status, message, type or reason is a cancel
//   - an explicit failure status is an error, even from a close handler
//   - otherwise the source decides, with a generic message treated as an error
func Classify(cb Callback) Outcome {
	if isEmpty(cb.Payload) {
		return OutcomeCancel
	}
	fields := collectFields(cb.Payload)
	if successStatuses[fields["status"]] {
		return OutcomeSuccess
	}
	for _, name := range classifiedFields {
		if hasCancelKeyword(fields[name]) {
			return OutcomeCancel
		}
	}
	if failureStatuses[fields["status"]] {
		return OutcomeError
	}
	if cb.Source == SourceClose {
		return OutcomeCancel
	}
	if cb.Source == SourceSuccess {
		return OutcomeSuccess
	}
	return OutcomeError
}

// Reference pulls the provider transaction reference out of a callback payload.
func Reference(payload map[string]any) string {
	for _, m := range levels(payload) {
		for _, key := range []string{"reference", "trxref", "tx_ref", "txRef", "transaction_reference"} {
			if s, ok := m[key].(string); ok && strings.TrimSpace(s) != "" {
				return strings.TrimSpace(s)
			}
		}
	}
	return ""
}

func hasCancelKeyword(v string) bool {
	for _, kw := range cancelKeywords {
		if strings.Contains(v, kw) {
			return true
		}
	}
	return false
}

// collectFields lowercases the classified string fields. Top-level values win over nested ones.
func collectFields(payload map[string]any) map[string]string {
	out := make(map[string]string, len(classifiedFields))
	for _, m := range levels(payload) {
		for _, name := range classifiedFields {
			if _, seen := out[name]; seen {
				continue
			}
			if s, ok := m[name].(string); ok && strings.TrimSpace(s) != "" {
				out[name] = strings.ToLower(strings.TrimSpace(s))
			}
		}
	}
	return out
}

func levels(payload map[string]any) []map[string]any {
	out := []map[string]any{payload}
	for _, key := range nestedKeys {
		if nested, ok := payload[key].(map[string]any); ok {
			out = append(out, nested)
		}
	}
	return out
}

func isEmpty(payload map[string]any) bool {
	for _, v := range payload {
		switch val := v.(type) {
		case nil:
		case string:
			if strings.TrimSpace(val) != "" {
				return false
			}
		case map[string]any:
			if !isEmpty(val) {
				return false
			}
		case []any:
			if len(val) > 0 {
				return false
			}
		default:
			return false
		}
	}
	return true
}
