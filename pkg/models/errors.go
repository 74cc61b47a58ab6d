package models

import "errors"

// Voice biometrics
var (
	ErrExtractionFailed    = errors.New("feature extraction failed")
	ErrInsufficientSamples = errors.New("insufficient voice samples")
	ErrNotEnrolled         = errors.New("user not enrolled")
	ErrRejected            = errors.New("voice verification rejected")
	ErrDuplicateUser       = errors.New("user already exists")
	ErrUserNotFound        = errors.New("user not found")
)

// Catalog and cart
var (
	ErrProductNotFound   = errors.New("product not found")
	ErrDuplicateProduct  = errors.New("product already exists")
	ErrInvalidProduct    = errors.New("invalid product")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrInvalidQuantity   = errors.New("quantity out of range")
	ErrItemNotInCart     = errors.New("item not in cart")
	ErrEmptyCart         = errors.New("cart is empty")
)

// Sessions
var (
	ErrSessionNotFound  = errors.New("session not found")
	ErrInvalidState     = errors.New("operation not allowed in current session state")
	ErrPermissionDenied = errors.New("permission denied")
)
