// Package cart holds per-session carts and the ledger that checks them out
// against shared catalog stock.
package cart

import (
	"github.com/shopspring/decimal"

	"github.com/himanishpuri/VoxCart/pkg/models"
	"github.com/himanishpuri/VoxCart/pkg/utils"
)

// Cart is an ordered list of lines, one per product. It belongs to a single session
// and is not safe for concurrent use.
type Cart struct {
	lines []models.CartItem
}

func New() *Cart {
	return &Cart{}
}

// Items returns a copy of the lines in insertion order.
func (c *Cart) Items() []models.CartItem {
	return append([]models.CartItem(nil), c.lines...)
}

func (c *Cart) Len() int { return len(c.lines) }

func (c *Cart) IsEmpty() bool { return len(c.lines) == 0 }

// Quantity returns how many units of product are in the cart.
func (c *Cart) Quantity(product string) int {
	if i := c.index(product); i >= 0 {
		return c.lines[i].Quantity
	}
	return 0
}

// Total is the exact sum of quantity times snapshot price over all lines.
func (c *Cart) Total() decimal.Decimal {
	total := decimal.Zero
	for _, l := range c.lines {
		total = total.Add(l.Subtotal())
	}
	return total
}

func (c *Cart) Clear() {
	c.lines = nil
}

func (c *Cart) index(product string) int {
	key := utils.FoldAccents(product)
	for i, l := range c.lines {
		if utils.FoldAccents(l.Product) == key {
			return i
		}
	}
	return -1
}

// add merges qty into an existing line, keeping its price snapshot, or appends a new one.
func (c *Cart) add(product string, qty int, price decimal.Decimal) models.CartItem {
	if i := c.index(product); i >= 0 {
		c.lines[i].Quantity += qty
		return c.lines[i]
	}
	item := models.CartItem{Product: product, Quantity: qty, UnitPrice: price}
	c.lines = append(c.lines, item)
	return item
}

// remove drops qty units of product. qty <= 0 or >= the line quantity drops the line.
func (c *Cart) remove(product string, qty int) (models.CartItem, error) {
	i := c.index(product)
	if i < 0 {
		return models.CartItem{}, models.ErrItemNotInCart
	}
	line := c.lines[i]
	if qty <= 0 || qty >= line.Quantity {
		c.lines = append(c.lines[:i], c.lines[i+1:]...)
		return line, nil
	}
	c.lines[i].Quantity -= qty
	line.Quantity = qty
	return line, nil
}
