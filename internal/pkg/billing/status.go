package billing

import (
	"strings"

	"github.com/ManuelReschke/LeadVault/app/models"
)

// completedStatuses are the processor spellings of a successful terminal
// transaction state, after normalizeToken.
var completedStatuses = map[string]struct{}{
	"completed":             {},
	"closed":                {},
	"transaction_closed":    {},
	"transaction_completed": {},
}

// completedEventTypes are the event types that prove a payment succeeded.
var completedEventTypes = map[string]struct{}{
	"transaction_completed": {},
	"transaction_closed":    {},
}

// normalizeToken lowercases s and maps '.', '-' and spaces to '_', so that
// "Transaction.Completed" and "transaction_completed" compare equal.
func normalizeToken(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '-', ' ':
			return '_'
		}
		return r
	}, s)
}

// IsCompletedStatus reports whether status is a completed synonym.
func IsCompletedStatus(status string) bool {
	_, ok := completedStatuses[normalizeToken(status)]
	return ok
}

// IsCompletedEventType reports whether eventType announces a completed
// transaction.
func IsCompletedEventType(eventType string) bool {
	_, ok := completedEventTypes[normalizeToken(eventType)]
	return ok
}

// NormalizeStatus maps completed synonyms onto the canonical value and
// otherwise returns the normalized token.
func NormalizeStatus(status string) string {
	if IsCompletedStatus(status) {
		return models.TransactionStatusCompleted
	}
	return normalizeToken(status)
}

func isTransactionEvent(eventType string) bool {
	return strings.HasPrefix(normalizeToken(eventType), "transaction_")
}

func isCustomerLinkEvent(eventType string) bool {
	switch normalizeToken(eventType) {
	case "customer_created", "customer_updated":
		return true
	}
	return false
}
