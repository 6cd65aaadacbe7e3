package handler

import "net/http"

type AppError struct {
	Status  int
	Code    string
	Message string
}

func (e *AppError) Error() string { return e.Message }

var (
	ErrMissingToken     = &AppError{http.StatusUnauthorized, "MISSING_TOKEN", "Authorization header required"}
	ErrInvalidToken     = &AppError{http.StatusUnauthorized, "INVALID_TOKEN", "Token is invalid or expired"}
	ErrInvalidRequest   = &AppError{http.StatusBadRequest, "INVALID_REQUEST", "Invalid request body"}
	ErrValidationFailed = &AppError{http.StatusBadRequest, "VALIDATION_FAILED", "Validation failed"}
	ErrResourceNotFound = &AppError{http.StatusNotFound, "RESOURCE_NOT_FOUND", "Resource not found"}
	ErrInternalError    = &AppError{http.StatusInternalServerError, "INTERNAL_ERROR", "An unexpected error occurred"}

	ErrInvalidState        = &AppError{http.StatusUnprocessableEntity, "INVALID_STATE", "Operation not allowed in the current state"}
	ErrInvalidTransition   = &AppError{http.StatusUnprocessableEntity, "INVALID_TRANSITION", "Status transition not allowed"}
	ErrUnknownReference    = &AppError{http.StatusUnprocessableEntity, "UNKNOWN_REFERENCE", "No payment matches this reference"}
	ErrAmountMismatch      = &AppError{http.StatusUnprocessableEntity, "AMOUNT_MISMATCH", "Callback amount does not match the payment"}
	ErrInsufficientFunds   = &AppError{http.StatusUnprocessableEntity, "INSUFFICIENT_FUNDS", "Session has not collected enough for this payout"}
	ErrNoPendingPassage    = &AppError{http.StatusUnprocessableEntity, "NO_PENDING_PASSAGE", "Rotation order is exhausted"}
	ErrActivePassage       = &AppError{http.StatusConflict, "ACTIVE_PASSAGE_EXISTS", "Another passage is already active"}
	ErrOverCollection      = &AppError{http.StatusUnprocessableEntity, "OVER_COLLECTION", "Member has already met their contribution for this session"}
	ErrDuplicatePayment    = &AppError{http.StatusConflict, "DUPLICATE_PAYMENT", "Duplicate payment"}
	ErrVersionConflict     = &AppError{http.StatusConflict, "VERSION_CONFLICT", "Resource was modified concurrently, please retry"}
	ErrForbidden           = &AppError{http.StatusForbidden, "FORBIDDEN", "Not allowed for this user"}
	ErrInvalidAmount       = &AppError{http.StatusBadRequest, "INVALID_AMOUNT", "Amount must be greater than zero"}
	ErrMemberExists        = &AppError{http.StatusConflict, "MEMBER_ALREADY_EXISTS", "User is already a member of this tontine"}
	ErrUnsupportedProvider = &AppError{http.StatusBadRequest, "UNSUPPORTED_PROVIDER", "Unknown mobile money provider"}

	ErrMissingIdempotencyKey = &AppError{http.StatusBadRequest, "MISSING_IDEMPOTENCY_KEY", "Idempotency-Key header is required"}
	ErrIdempotencyConflict   = &AppError{http.StatusConflict, "IDEMPOTENCY_CONFLICT", "Idempotency key already used with a different request"}
	ErrManagerOnly           = &AppError{http.StatusForbidden, "MANAGER_ONLY", "Only a manager can perform this action"}
)
