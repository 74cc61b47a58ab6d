package voxcart

// CatalogEntry is one product in a YAML seed file. Price is kept as text so no
// float rounding happens before it becomes a decimal.
type CatalogEntry struct {
	Name  string `yaml:"name"`
	Price string `yaml:"price"`
	Stock int    `yaml:"stock"`
}

type catalogFile struct {
	Products []CatalogEntry `yaml:"products"`
}

// Stats summarizes the store for health checks.
type Stats struct {
	Users    int // Registered accounts
	Products int // Catalog entries
	Units    int // Units in stock across the catalog
	Sales    int // Committed checkouts
	Sessions int // Live sessions
}
