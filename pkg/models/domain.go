package models

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	AccessLevelUser  = "usuario"
	AccessLevelAdmin = "admin"

	// MaxQuantity bounds a single cart operation.
	MaxQuantity = 9999
)

// User is a registered account. Accounts exist only after a completed voice enrollment.
type User struct {
	Username    string    // Normalized (case-folded) username
	AccessLevel string    // "usuario" or "admin"
	Enrolled    bool      // Whether a speaker model is stored
	CreatedAt   time.Time // Registration timestamp
}

func (u *User) IsAdmin() bool {
	return u != nil && u.AccessLevel == AccessLevelAdmin
}

// Product is a catalog entry.
type Product struct {
	ID    uint            // Monotonic, assigned on creation
	Name  string          // Unique, case-insensitive
	Price decimal.Decimal // Non-negative unit price
	Stock int             // Non-negative units in stock
}

// ProductUpdate carries the fields to change on a product. Nil fields are left untouched.
type ProductUpdate struct {
	Price *decimal.Decimal
	Stock *int
}

// CartItem is one cart line. UnitPrice is a snapshot taken when the product was added.
type CartItem struct {
	Product   string
	Quantity  int
	UnitPrice decimal.Decimal
}

func (i CartItem) Subtotal() decimal.Decimal {
	return i.UnitPrice.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// Sale is an immutable record of a committed checkout.
type Sale struct {
	ID        uint
	Username  string
	Items     []CartItem
	Total     decimal.Decimal
	CreatedAt time.Time
}
