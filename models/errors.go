package models

import "errors"

// Domain error taxonomy. Operations wrap these with fmt.Errorf("%w: ...")
// so callers can branch with errors.Is while users still see the detail.
var (
	ErrInvalidPrescription = errors.New("invalid prescription")
	ErrPriceInvalid        = errors.New("price must be greater than zero")
	ErrPriceExceedsRule    = errors.New("price exceeds the rule ceiling")
	ErrTooManyItemsForOS   = errors.New("os number already holds a full pair")
	ErrRuleNotFound        = errors.New("no active rule for this product and supplier")
	ErrAlreadyReversed     = errors.New("item already reversed")
	ErrInvalidAmount       = errors.New("amount must be greater than zero")
	ErrNotFound            = errors.New("not found")
	ErrConcurrencyConflict = errors.New("concurrent update detected, retry")
	ErrInvalidSubmission   = errors.New("invalid submission")
	ErrInvalidState        = errors.New("state does not allow this operation")
	ErrUnauthenticated     = errors.New("request identity is missing")
)
