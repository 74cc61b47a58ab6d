package voxcart

import (
	"fmt"
	"os"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/himanishpuri/VoxCart/pkg/models"
)

// DefaultCatalog is loaded into an empty catalog on first start.
func DefaultCatalog() []models.Product {
	return []models.Product{
		{Name: "Arroz", Price: decimal.RequireFromString("5.99"), Stock: 50},
		{Name: "Feijão", Price: decimal.RequireFromString("4.50"), Stock: 30},
		{Name: "Açúcar", Price: decimal.RequireFromString("3.75"), Stock: 40},
		{Name: "Café", Price: decimal.RequireFromString("8.99"), Stock: 25},
		{Name: "Óleo", Price: decimal.RequireFromString("4.25"), Stock: 35},
	}
}

// ParseCatalog reads a YAML product list:
//
//	products:
//	  - name: Arroz
//	    price: "5.99"
//	    stock: 50
func ParseCatalog(data []byte) ([]models.Product, error) {
	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("invalid catalog: %w", err)
	}

	products := make([]models.Product, 0, len(file.Products))
	for i, e := range file.Products {
		if e.Name == "" {
			return nil, fmt.Errorf("catalog entry %d: missing name", i+1)
		}
		price, err := decimal.NewFromString(e.Price)
		if err != nil {
			return nil, fmt.Errorf("catalog entry %q: invalid price %q", e.Name, e.Price)
		}
		if price.IsNegative() || e.Stock < 0 {
			return nil, fmt.Errorf("catalog entry %q: %w", e.Name, models.ErrInvalidProduct)
		}
		products = append(products, models.Product{Name: e.Name, Price: price, Stock: e.Stock})
	}
	return products, nil
}

// LoadCatalog reads a YAML catalog file.
func LoadCatalog(path string) ([]models.Product, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog: %w", err)
	}
	return ParseCatalog(data)
}
