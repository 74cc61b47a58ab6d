package cart

import (
	"context"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/himanishpuri/VoxCart/pkg/logger"
	"github.com/himanishpuri/VoxCart/pkg/models"
)

// Store is the catalog and sale ledger the carts are checked out against.
type Store interface {
	FindProduct(ctx context.Context, name string) (*models.Product, error)
	CommitCheckout(ctx context.Context, username string, items []models.CartItem) (*models.Sale, error)
}

type Logger interface {
	Infof(format string, args ...any)
	Warnf(format string, args ...any)
}

// Ledger applies cart operations against live stock. Checkouts are serialized so
// validation and commit form one critical section.
type Ledger struct {
	mu    sync.Mutex
	store Store
	log   Logger
}

func NewLedger(store Store, log Logger) *Ledger {
	if log == nil {
		log = logger.GetLogger().Named("ledger")
	}
	return &Ledger{store: store, log: log}
}

// AddItem puts qty units of the named product in c at the current catalog price.
func (l *Ledger) AddItem(ctx context.Context, c *Cart, name string, qty int) (models.CartItem, error) {
	if qty <= 0 || qty > models.MaxQuantity {
		return models.CartItem{}, fmt.Errorf("%w: %d", models.ErrInvalidQuantity, qty)
	}
	p, err := l.store.FindProduct(ctx, name)
	if err != nil {
		return models.CartItem{}, err
	}

	held := c.Quantity(p.Name)
	if qty > p.Stock-held {
		return models.CartItem{}, fmt.Errorf("%w: %s has %d, cart holds %d, wanted %d more", models.ErrInsufficientStock, p.Name, p.Stock, held, qty)
	}
	return c.add(p.Name, qty, p.Price), nil
}

// RemoveItem drops qty units of name; qty <= 0 drops the whole line.
func (l *Ledger) RemoveItem(c *Cart, name string, qty int) (models.CartItem, error) {
	item, err := c.remove(name, qty)
	if err != nil {
		return models.CartItem{}, fmt.Errorf("%w: %s", err, name)
	}
	return item, nil
}

func (l *Ledger) Total(c *Cart) decimal.Decimal { return c.Total() }

func (l *Ledger) Clear(c *Cart) { c.Clear() }

// Checkout validates every line against live stock and commits them together. The cart
// is cleared only when the sale is recorded.
func (l *Ledger) Checkout(ctx context.Context, c *Cart, username string) (*models.Sale, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if c.IsEmpty() {
		return nil, models.ErrEmptyCart
	}

	items := c.Items()
	for _, it := range items {
		if it.Quantity <= 0 {
			return nil, fmt.Errorf("%w: %s x%d", models.ErrInvalidQuantity, it.Product, it.Quantity)
		}
		p, err := l.store.FindProduct(ctx, it.Product)
		if err != nil {
			return nil, err
		}
		if p.Stock < it.Quantity {
			return nil, fmt.Errorf("%w: %s has %d, cart holds %d", models.ErrInsufficientStock, p.Name, p.Stock, it.Quantity)
		}
	}

	sale, err := l.store.CommitCheckout(ctx, username, items)
	if err != nil {
		l.log.Warnf("checkout for %s failed: %v", username, err)
		return nil, err
	}
	c.Clear()
	l.log.Infof("sale %d for %s: %d lines, total %s", sale.ID, username, len(sale.Items), sale.Total.StringFixed(2))
	return sale, nil
}
