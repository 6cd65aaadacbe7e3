package domain

import "errors"

var (
	ErrNotFound                = errors.New("not found")
	ErrInvalidState            = errors.New("operation not valid for current state")
	ErrInvalidTransition       = errors.New("status transition not permitted")
	ErrUnknownReference        = errors.New("no pending payment for gateway reference")
	ErrAmountMismatch          = errors.New("callback amount does not match payment amount")
	ErrInsufficientFunds       = errors.New("insufficient collected funds")
	ErrAlreadyTerminal         = errors.New("payment already in terminal state")
	ErrNoPendingPassage        = errors.New("no pending passage left in rotation")
	ErrActivePassageExists     = errors.New("another passage is already active")
	ErrOverCollection          = errors.New("contribution exceeds member expected amount")
	ErrDuplicateIdempotencyKey = errors.New("duplicate idempotency key")
	ErrVersionConflict         = errors.New("optimistic lock conflict")
	ErrForbidden               = errors.New("principal may not perform this operation")
	ErrInvalidAmount           = errors.New("amount must be greater than zero")
	ErrMemberExists            = errors.New("user is already a member of this tontine")
	ErrUnsupportedProvider     = errors.New("unsupported mobile money provider")
)
