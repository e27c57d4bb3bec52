package models

import "strings"

// KeyPrefix namespaces per-customer limiter keys.
const KeyPrefix = "ratelimit:customer:"

var keyEscaper = strings.NewReplacer("%", "%25", ":", "%3A")

// SanitizeKeySegment escapes delimiter characters in key segments so a
// customer ID containing ':' cannot address another customer's counter.
func SanitizeKeySegment(s string) string {
	return keyEscaper.Replace(s)
}

// CustomerKey is the storage key for a customer's limiter state.
func CustomerKey(customerID string) string {
	return KeyPrefix + SanitizeKeySegment(customerID)
}
