package cart

import (
	"context"
	"errors"
	"math"
	"path/filepath"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/himanishpuri/VoxCart/pkg/models"
	"github.com/himanishpuri/VoxCart/pkg/voxcart/storage"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func setupLedger(t *testing.T, seed ...models.Product) (*Ledger, *storage.DBClient) {
	t.Helper()
	db, err := storage.NewDBClientWithPath(filepath.Join(t.TempDir(), "ledger.sqlite3"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	if len(seed) == 0 {
		seed = []models.Product{
			{Name: "arroz", Price: dec("5.99"), Stock: 50},
			{Name: "feijão", Price: dec("4.50"), Stock: 30},
		}
	}
	_, err = db.SeedProducts(context.Background(), seed)
	require.NoError(t, err)
	return NewLedger(db, nil), db
}

func stockOf(t *testing.T, db *storage.DBClient, name string) int {
	t.Helper()
	p, err := db.FindProduct(context.Background(), name)
	require.NoError(t, err)
	return p.Stock
}

func TestArrozScenario(t *testing.T) {
	l, db := setupLedger(t)
	ctx := context.Background()
	c := New()

	_, err := l.AddItem(ctx, c, "arroz", 3)
	require.NoError(t, err)
	assert.True(t, l.Total(c).Equal(dec("17.97")))

	sale, err := l.Checkout(ctx, c, "ana")
	require.NoError(t, err)
	assert.True(t, sale.Total.Equal(dec("17.97")))
	assert.Equal(t, 47, stockOf(t, db, "arroz"))
	assert.True(t, c.IsEmpty())
}

func TestAddItemMergesLines(t *testing.T) {
	l, db := setupLedger(t)
	ctx := context.Background()
	c := New()

	_, err := l.AddItem(ctx, c, "arroz", 2)
	require.NoError(t, err)
	_, err = l.AddItem(ctx, c, "FEIJAO", 1)
	require.NoError(t, err)

	newPrice := dec("7.00")
	_, err = db.UpdateProduct(ctx, "arroz", models.ProductUpdate{Price: &newPrice})
	require.NoError(t, err)

	item, err := l.AddItem(ctx, c, "Arroz", 1)
	require.NoError(t, err)
	assert.Equal(t, 3, item.Quantity)

	items := c.Items()
	require.Len(t, items, 2)
	assert.Equal(t, "arroz", items[0].Product)
	assert.Equal(t, "feijão", items[1].Product)
	assert.True(t, items[0].UnitPrice.Equal(dec("5.99")), "price snapshot kept from first add")
	assert.True(t, c.Total().Equal(dec("22.47")))
}

func TestAddItemErrors(t *testing.T) {
	l, _ := setupLedger(t)
	ctx := context.Background()
	c := New()

	_, err := l.AddItem(ctx, c, "banana", 1)
	assert.ErrorIs(t, err, models.ErrProductNotFound)

	_, err = l.AddItem(ctx, c, "feijão", 31)
	assert.ErrorIs(t, err, models.ErrInsufficientStock)

	_, err = l.AddItem(ctx, c, "feijão", 30)
	require.NoError(t, err)
	_, err = l.AddItem(ctx, c, "feijão", 1)
	assert.ErrorIs(t, err, models.ErrInsufficientStock)
	assert.Equal(t, 30, c.Quantity("feijão"))

	_, err = l.AddItem(ctx, c, "arroz", 0)
	assert.ErrorIs(t, err, models.ErrInvalidQuantity)
}

func TestAddItemRejectsHugeQuantities(t *testing.T) {
	l, db := setupLedger(t, models.Product{Name: "arroz", Price: dec("5.99"), Stock: 50})
	ctx := context.Background()
	c := New()

	_, err := l.AddItem(ctx, c, "arroz", 1)
	require.NoError(t, err)

	_, err = l.AddItem(ctx, c, "arroz", math.MaxInt)
	assert.ErrorIs(t, err, models.ErrInvalidQuantity)
	_, err = l.AddItem(ctx, c, "arroz", models.MaxQuantity+1)
	assert.ErrorIs(t, err, models.ErrInvalidQuantity)
	_, err = l.AddItem(ctx, c, "arroz", models.MaxQuantity)
	assert.ErrorIs(t, err, models.ErrInsufficientStock)
	assert.Equal(t, 1, c.Quantity("arroz"))

	sale, err := l.Checkout(ctx, c, "ana")
	require.NoError(t, err)
	assert.True(t, sale.Total.Equal(dec("5.99")))
	assert.Equal(t, 49, stockOf(t, db, "arroz"))
}

func TestCheckoutRejectsNonPositiveLines(t *testing.T) {
	l, db := setupLedger(t)
	ctx := context.Background()
	c := New()
	c.add("arroz", -5, dec("5.99"))

	_, err := l.Checkout(ctx, c, "ana")
	assert.ErrorIs(t, err, models.ErrInvalidQuantity)
	assert.Equal(t, 50, stockOf(t, db, "arroz"))

	_, err = db.CommitCheckout(ctx, "ana", []models.CartItem{{Product: "arroz", Quantity: -5, UnitPrice: dec("5.99")}})
	assert.ErrorIs(t, err, models.ErrInvalidQuantity)
	assert.Equal(t, 50, stockOf(t, db, "arroz"))
}

func TestRemoveItem(t *testing.T) {
	l, _ := setupLedger(t)
	ctx := context.Background()
	c := New()
	l.AddItem(ctx, c, "arroz", 5)
	l.AddItem(ctx, c, "feijão", 2)

	_, err := l.RemoveItem(c, "arroz", 2)
	require.NoError(t, err)
	assert.Equal(t, 3, c.Quantity("arroz"))

	_, err = l.RemoveItem(c, "arroz", 3)
	require.NoError(t, err)
	assert.Equal(t, 0, c.Quantity("arroz"))
	assert.Equal(t, 1, c.Len())

	_, err = l.RemoveItem(c, "feijao", 0)
	require.NoError(t, err)
	assert.True(t, c.IsEmpty())

	_, err = l.RemoveItem(c, "arroz", 1)
	assert.ErrorIs(t, err, models.ErrItemNotInCart)
}

func TestCartTotalMatchesLines(t *testing.T) {
	l, _ := setupLedger(t)
	ctx := context.Background()
	c := New()

	for i := 1; i <= 4; i++ {
		l.AddItem(ctx, c, "arroz", i)
		l.AddItem(ctx, c, "feijão", 1)
		if i%2 == 0 {
			l.RemoveItem(c, "feijão", 1)
		}

		want := decimal.Zero
		for _, it := range c.Items() {
			want = want.Add(it.UnitPrice.Mul(decimal.NewFromInt(int64(it.Quantity))))
		}
		assert.True(t, c.Total().Equal(want))
	}

	l.Clear(c)
	assert.True(t, l.Total(c).IsZero())
}

func TestCheckoutEmptyCart(t *testing.T) {
	l, _ := setupLedger(t)
	_, err := l.Checkout(context.Background(), New(), "ana")
	assert.ErrorIs(t, err, models.ErrEmptyCart)
}

func TestCheckoutAllOrNothing(t *testing.T) {
	l, db := setupLedger(t)
	ctx := context.Background()
	c := New()

	_, err := l.AddItem(ctx, c, "arroz", 2)
	require.NoError(t, err)
	_, err = l.AddItem(ctx, c, "feijão", 10)
	require.NoError(t, err)

	// Stock drops under the cart's quantity before checkout.
	low := 4
	_, err = db.UpdateProduct(ctx, "feijão", models.ProductUpdate{Stock: &low})
	require.NoError(t, err)

	_, err = l.Checkout(ctx, c, "ana")
	assert.ErrorIs(t, err, models.ErrInsufficientStock)

	assert.Equal(t, 50, stockOf(t, db, "arroz"))
	assert.Equal(t, 4, stockOf(t, db, "feijão"))
	assert.Equal(t, 2, c.Len(), "cart kept after failed checkout")

	sales, err := db.ListSales(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, sales)
}

func TestConcurrentCheckoutOfLastUnit(t *testing.T) {
	l, db := setupLedger(t, models.Product{Name: "café", Price: dec("8.99"), Stock: 1})
	ctx := context.Background()

	carts := []*Cart{New(), New()}
	for _, c := range carts {
		_, err := l.AddItem(ctx, c, "café", 1)
		require.NoError(t, err)
	}

	var wg sync.WaitGroup
	errs := make([]error, len(carts))
	for i, c := range carts {
		wg.Add(1)
		go func(i int, c *Cart) {
			defer wg.Done()
			_, errs[i] = l.Checkout(ctx, c, "buyer")
		}(i, c)
	}
	wg.Wait()

	var ok, short int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, models.ErrInsufficientStock):
			short++
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, short)
	assert.Equal(t, 0, stockOf(t, db, "café"))
}

type failingStore struct {
	product models.Product
}

func (s failingStore) FindProduct(context.Context, string) (*models.Product, error) {
	p := s.product
	return &p, nil
}

func (s failingStore) CommitCheckout(context.Context, string, []models.CartItem) (*models.Sale, error) {
	return nil, errors.New("database is locked")
}

func TestCheckoutKeepsCartWhenCommitFails(t *testing.T) {
	l := NewLedger(failingStore{product: models.Product{Name: "óleo", Price: dec("4.25"), Stock: 10}}, nil)
	c := New()
	_, err := l.AddItem(context.Background(), c, "óleo", 2)
	require.NoError(t, err)

	_, err = l.Checkout(context.Background(), c, "ana")
	assert.Error(t, err)
	assert.Equal(t, 2, c.Quantity("oleo"))
}
