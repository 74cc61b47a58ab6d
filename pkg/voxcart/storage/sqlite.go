//go:build !js && !wasm
// +build !js,!wasm

package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	customlogger "github.com/himanishpuri/VoxCart/pkg/logger"
	"github.com/himanishpuri/VoxCart/pkg/models"
	"github.com/himanishpuri/VoxCart/pkg/utils"
)

const DefaultDBFile = "voxcart.sqlite3"
const errDBClientNil = "db client is nil"

type DBClient struct {
	DB *gorm.DB
	db *sql.DB
}

type User struct {
	Username    string `gorm:"primaryKey;type:varchar(64)"`
	AccessLevel string `gorm:"type:varchar(16);not null"`
	CreatedAt   time.Time
}

// SpeakerModel holds one encoded mixture per user.
type SpeakerModel struct {
	Username  string `gorm:"primaryKey;type:varchar(64)"`
	Blob      []byte `gorm:"not null"`
	UpdatedAt time.Time
}

type Product struct {
	ID      uint            `gorm:"primaryKey;autoIncrement"`
	Name    string          `gorm:"not null"`
	NameKey string          `gorm:"uniqueIndex:idx_product_key;not null"`
	Price   decimal.Decimal `gorm:"type:varchar(32);not null"`
	Stock   int             `gorm:"not null"`
}

type Sale struct {
	ID        uint            `gorm:"primaryKey;autoIncrement"`
	Username  string          `gorm:"type:varchar(64);index:idx_sale_user"`
	Total     decimal.Decimal `gorm:"type:varchar(32);not null"`
	CreatedAt time.Time
	Items     []SaleItem `gorm:"foreignKey:SaleID;constraint:OnDelete:CASCADE"`
}

type SaleItem struct {
	ID        uint            `gorm:"primaryKey;autoIncrement"`
	SaleID    uint            `gorm:"index:idx_sale_item"`
	Product   string          `gorm:"not null"`
	Quantity  int             `gorm:"not null"`
	UnitPrice decimal.Decimal `gorm:"type:varchar(32);not null"`
}

func NewDBClient() (*DBClient, error) {
	dbPath := os.Getenv("VOXCART_DB_PATH")
	if dbPath == "" {
		dbPath = DefaultDBFile
	}
	return NewDBClientWithPath(dbPath)
}

func NewDBClientWithPath(dbPath string) (*DBClient, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil && !os.IsExist(err) {
		if filepath.Dir(dbPath) != "." {
			return nil, fmt.Errorf("creating db dir: %w", err)
		}
	}

	gormConfig := &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	}

	db, err := gorm.Open(sqlite.Open(dbPath+"?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"), gormConfig)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("getting sql.DB from gorm: %w", err)
	}

	// sqlite allows a single writer.
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := db.AutoMigrate(&User{}, &SpeakerModel{}, &Product{}, &Sale{}, &SaleItem{}); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("auto migrate: %w", err)
	}

	return &DBClient{DB: db, db: sqlDB}, nil
}

func (c *DBClient) Close() error {
	if c == nil || c.db == nil {
		return nil
	}
	return c.db.Close()
}

func (c *DBClient) ready() error {
	if c == nil || c.DB == nil {
		return errors.New(errDBClientNil)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	return errors.Is(err, gorm.ErrDuplicatedKey) ||
		strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// EnrollUser creates the account if needed and stores the model blob in one transaction.
// An existing account keeps its access level and creation date.
func (c *DBClient) EnrollUser(ctx context.Context, username, accessLevel string, blob []byte) (*models.User, error) {
	if err := c.ready(); err != nil {
		return nil, err
	}
	key := utils.NormalizeKey(username)
	if key == "" {
		return nil, errors.New("empty username")
	}
	if accessLevel == "" {
		accessLevel = models.AccessLevelUser
	}

	var user User
	err := c.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Where("username = ?", key).First(&user).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			user = User{Username: key, AccessLevel: accessLevel}
			err = tx.Create(&user).Error
		}
		if err != nil {
			return fmt.Errorf("upserting user: %w", err)
		}
		return upsertModel(tx, key, blob)
	})
	if err != nil {
		return nil, err
	}
	return toUser(user, true), nil
}

// RegisterUser creates a new account and its model in one transaction. An existing
// account is left untouched and ErrDuplicateUser is returned.
func (c *DBClient) RegisterUser(ctx context.Context, username, accessLevel string, blob []byte) (*models.User, error) {
	if err := c.ready(); err != nil {
		return nil, err
	}
	key := utils.NormalizeKey(username)
	if key == "" {
		return nil, errors.New("empty username")
	}
	if accessLevel == "" {
		accessLevel = models.AccessLevelUser
	}

	user := User{Username: key, AccessLevel: accessLevel}
	err := c.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&user).Error; err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("%w: %s", models.ErrDuplicateUser, key)
			}
			return fmt.Errorf("creating user: %w", err)
		}
		return upsertModel(tx, key, blob)
	})
	if err != nil {
		return nil, err
	}
	return toUser(user, true), nil
}

func upsertModel(tx *gorm.DB, key string, blob []byte) error {
	row := SpeakerModel{Username: key, Blob: blob}
	err := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "username"}},
		DoUpdates: clause.AssignmentColumns([]string{"blob", "updated_at"}),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("storing speaker model: %w", err)
	}
	return nil
}

func (c *DBClient) SaveSpeakerModel(ctx context.Context, username string, blob []byte) error {
	if err := c.ready(); err != nil {
		return err
	}
	return upsertModel(c.DB.WithContext(ctx), utils.NormalizeKey(username), blob)
}

func (c *DBClient) LoadSpeakerModel(ctx context.Context, username string) ([]byte, error) {
	if err := c.ready(); err != nil {
		return nil, err
	}
	var row SpeakerModel
	err := c.DB.WithContext(ctx).Where("username = ?", utils.NormalizeKey(username)).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, models.ErrNotEnrolled
	}
	if err != nil {
		return nil, fmt.Errorf("loading speaker model: %w", err)
	}
	return row.Blob, nil
}

func (c *DBClient) DeleteSpeakerModel(ctx context.Context, username string) error {
	if err := c.ready(); err != nil {
		return err
	}
	err := c.DB.WithContext(ctx).Where("username = ?", utils.NormalizeKey(username)).Delete(&SpeakerModel{}).Error
	if err != nil {
		return fmt.Errorf("deleting speaker model: %w", err)
	}
	return nil
}

func (c *DBClient) GetUser(ctx context.Context, username string) (*models.User, error) {
	if err := c.ready(); err != nil {
		return nil, err
	}
	key := utils.NormalizeKey(username)

	var user User
	err := c.DB.WithContext(ctx).Where("username = ?", key).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, models.ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying user: %w", err)
	}

	var count int64
	if err := c.DB.WithContext(ctx).Model(&SpeakerModel{}).Where("username = ?", key).Count(&count).Error; err != nil {
		return nil, fmt.Errorf("querying speaker model: %w", err)
	}
	return toUser(user, count > 0), nil
}

func (c *DBClient) ListUsers(ctx context.Context) ([]models.User, error) {
	if err := c.ready(); err != nil {
		return nil, err
	}
	var rows []User
	if err := c.DB.WithContext(ctx).Order("created_at, username").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("listing users: %w", err)
	}

	var enrolled []string
	if err := c.DB.WithContext(ctx).Model(&SpeakerModel{}).Pluck("username", &enrolled).Error; err != nil {
		return nil, fmt.Errorf("listing speaker models: %w", err)
	}
	has := make(map[string]bool, len(enrolled))
	for _, u := range enrolled {
		has[u] = true
	}

	out := make([]models.User, 0, len(rows))
	for _, r := range rows {
		out = append(out, *toUser(r, has[r.Username]))
	}
	return out, nil
}

func (c *DBClient) SetAccessLevel(ctx context.Context, username, level string) error {
	if err := c.ready(); err != nil {
		return err
	}
	if level != models.AccessLevelUser && level != models.AccessLevelAdmin {
		return fmt.Errorf("unknown access level %q", level)
	}
	res := c.DB.WithContext(ctx).Model(&User{}).
		Where("username = ?", utils.NormalizeKey(username)).
		Update("access_level", level)
	if res.Error != nil {
		return fmt.Errorf("updating access level: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return models.ErrUserNotFound
	}
	return nil
}

func validProduct(name string, price decimal.Decimal, stock int) error {
	switch {
	case strings.TrimSpace(name) == "":
		return fmt.Errorf("%w: empty name", models.ErrInvalidProduct)
	case price.IsNegative():
		return fmt.Errorf("%w: negative price", models.ErrInvalidProduct)
	case stock < 0:
		return fmt.Errorf("%w: negative stock", models.ErrInvalidProduct)
	}
	return nil
}

func (c *DBClient) CreateProduct(ctx context.Context, name string, price decimal.Decimal, stock int) (*models.Product, error) {
	if err := c.ready(); err != nil {
		return nil, err
	}
	if err := validProduct(name, price, stock); err != nil {
		return nil, err
	}

	row := Product{Name: strings.TrimSpace(name), NameKey: utils.FoldAccents(strings.TrimSpace(name)), Price: price, Stock: stock}
	if err := c.DB.WithContext(ctx).Create(&row).Error; err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: %s", models.ErrDuplicateProduct, name)
		}
		return nil, fmt.Errorf("creating product: %w", err)
	}
	return toProduct(row), nil
}

func (c *DBClient) ListProducts(ctx context.Context) ([]models.Product, error) {
	if err := c.ready(); err != nil {
		return nil, err
	}
	var rows []Product
	if err := c.DB.WithContext(ctx).Order("id").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("listing products: %w", err)
	}
	out := make([]models.Product, 0, len(rows))
	for _, r := range rows {
		out = append(out, *toProduct(r))
	}
	return out, nil
}

// FindProduct looks a product up by name, ignoring case and accents.
func (c *DBClient) FindProduct(ctx context.Context, name string) (*models.Product, error) {
	if err := c.ready(); err != nil {
		return nil, err
	}
	var row Product
	err := c.DB.WithContext(ctx).Where("name_key = ?", utils.FoldAccents(strings.TrimSpace(name))).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", models.ErrProductNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("querying product: %w", err)
	}
	return toProduct(row), nil
}

func (c *DBClient) UpdateProduct(ctx context.Context, name string, upd models.ProductUpdate) (*models.Product, error) {
	if err := c.ready(); err != nil {
		return nil, err
	}

	changes := map[string]any{}
	if upd.Price != nil {
		if upd.Price.IsNegative() {
			return nil, fmt.Errorf("%w: negative price", models.ErrInvalidProduct)
		}
		changes["price"] = *upd.Price
	}
	if upd.Stock != nil {
		if *upd.Stock < 0 {
			return nil, fmt.Errorf("%w: negative stock", models.ErrInvalidProduct)
		}
		changes["stock"] = *upd.Stock
	}
	if len(changes) == 0 {
		return nil, fmt.Errorf("%w: nothing to update", models.ErrInvalidProduct)
	}

	key := utils.FoldAccents(strings.TrimSpace(name))
	var row Product
	err := c.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&Product{}).Where("name_key = ?", key).Updates(changes)
		if res.Error != nil {
			return fmt.Errorf("updating product: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("%w: %s", models.ErrProductNotFound, name)
		}
		return tx.Where("name_key = ?", key).First(&row).Error
	})
	if err != nil {
		return nil, err
	}
	return toProduct(row), nil
}

func (c *DBClient) DeleteProduct(ctx context.Context, name string) error {
	if err := c.ready(); err != nil {
		return err
	}
	res := c.DB.WithContext(ctx).Where("name_key = ?", utils.FoldAccents(strings.TrimSpace(name))).Delete(&Product{})
	if res.Error != nil {
		return fmt.Errorf("deleting product: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: %s", models.ErrProductNotFound, name)
	}
	return nil
}

// SeedProducts inserts seed when the catalog table is empty. It reports how many rows were added.
func (c *DBClient) SeedProducts(ctx context.Context, seed []models.Product) (int, error) {
	if err := c.ready(); err != nil {
		return 0, err
	}
	added := 0
	err := c.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&Product{}).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return nil
		}
		for _, p := range seed {
			if err := validProduct(p.Name, p.Price, p.Stock); err != nil {
				return err
			}
			row := Product{Name: p.Name, NameKey: utils.FoldAccents(p.Name), Price: p.Price, Stock: p.Stock}
			if err := tx.Create(&row).Error; err != nil {
				if isUniqueViolation(err) {
					return fmt.Errorf("%w: %s", models.ErrDuplicateProduct, p.Name)
				}
				return err
			}
			added++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("seeding catalog: %w", err)
	}
	return added, nil
}

// CommitCheckout decrements stock for every item and appends the sale in one transaction.
// Each decrement is guarded by stock >= qty, so a concurrent buyer can never drive stock
// negative; any failing line rolls the whole checkout back.
func (c *DBClient) CommitCheckout(ctx context.Context, username string, items []models.CartItem) (*models.Sale, error) {
	if err := c.ready(); err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, models.ErrEmptyCart
	}

	sale := Sale{Username: utils.NormalizeKey(username), Total: decimal.Zero}
	for _, it := range items {
		if it.Quantity <= 0 {
			return nil, fmt.Errorf("%w: %s x%d", models.ErrInvalidQuantity, it.Product, it.Quantity)
		}
		sale.Items = append(sale.Items, SaleItem{Product: it.Product, Quantity: it.Quantity, UnitPrice: it.UnitPrice})
		sale.Total = sale.Total.Add(it.Subtotal())
	}

	err := c.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, it := range items {
			key := utils.FoldAccents(it.Product)
			res := tx.Model(&Product{}).
				Where("name_key = ? AND stock >= ?", key, it.Quantity).
				UpdateColumn("stock", gorm.Expr("stock - ?", it.Quantity))
			if res.Error != nil {
				return fmt.Errorf("decrementing stock: %w", res.Error)
			}
			if res.RowsAffected == 1 {
				continue
			}

			var count int64
			if err := tx.Model(&Product{}).Where("name_key = ?", key).Count(&count).Error; err != nil {
				return err
			}
			if count == 0 {
				return fmt.Errorf("%w: %s", models.ErrProductNotFound, it.Product)
			}
			return fmt.Errorf("%w: %s", models.ErrInsufficientStock, it.Product)
		}
		if err := tx.Create(&sale).Error; err != nil {
			return fmt.Errorf("recording sale: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return toSale(sale), nil
}

// ListSales returns sales oldest first. An empty username lists every sale.
func (c *DBClient) ListSales(ctx context.Context, username string) ([]models.Sale, error) {
	if err := c.ready(); err != nil {
		return nil, err
	}
	q := c.DB.WithContext(ctx).Preload("Items", func(db *gorm.DB) *gorm.DB {
		return db.Order("id")
	}).Order("id")
	if username != "" {
		q = q.Where("username = ?", utils.NormalizeKey(username))
	}

	var rows []Sale
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("listing sales: %w", err)
	}
	out := make([]models.Sale, 0, len(rows))
	for _, r := range rows {
		out = append(out, *toSale(r))
	}
	return out, nil
}

func toUser(u User, enrolled bool) *models.User {
	return &models.User{Username: u.Username, AccessLevel: u.AccessLevel, Enrolled: enrolled, CreatedAt: u.CreatedAt}
}

func toProduct(p Product) *models.Product {
	return &models.Product{ID: p.ID, Name: p.Name, Price: p.Price, Stock: p.Stock}
}

func toSale(s Sale) *models.Sale {
	items := make([]models.CartItem, 0, len(s.Items))
	for _, it := range s.Items {
		items = append(items, models.CartItem{Product: it.Product, Quantity: it.Quantity, UnitPrice: it.UnitPrice})
	}
	return &models.Sale{ID: s.ID, Username: s.Username, Items: items, Total: s.Total, CreatedAt: s.CreatedAt}
}

// MustNewDBClient opens the default database or panics.
func MustNewDBClient() *DBClient {
	cli, err := NewDBClient()
	if err != nil {
		customlogger.GetLogger().Errorf("failed to open DB: %v", err)
		panic(err)
	}
	return cli
}
