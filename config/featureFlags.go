package config

import (
	"os"
	"strings"
)

// ItemScopedReversal switches reversal to item granularity: the order keeps
// its PAID status until every item has been reversed. Default (off) keeps the
// historical behavior where reversing one item flips the whole order.
//
// Set via env:
// - ITEM_SCOPED_REVERSAL=true
func ItemScopedReversal() bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv("ITEM_SCOPED_REVERSAL")))
	return v == "1" || v == "true" || v == "yes" || v == "y"
}

// DisableRuleCache bypasses the Redis cache for price rule lookups.
// Useful when an operator edits rules directly in the database.
//
// Set via env:
// - DISABLE_RULE_CACHE=true
func DisableRuleCache() bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv("DISABLE_RULE_CACHE")))
	return v == "1" || v == "true" || v == "yes" || v == "y"
}
