package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/himanishpuri/VoxCart/pkg/models"
)

var productsCmd = &cobra.Command{
	Use:     "products",
	Aliases: []string{"produtos"},
	Short:   "Manage the product catalog",
}

var productsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all products",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := createService()
		if err != nil {
			return fmt.Errorf("failed to create service: %w", err)
		}
		defer svc.Close()

		products, err := svc.ListProducts(context.Background())
		if err != nil {
			return fmt.Errorf("failed to list products: %w", err)
		}
		if len(products) == 0 {
			fmt.Println("\n📭 No products in catalog")
			return nil
		}

		fmt.Printf("\n📚 Found %d product(s):\n\n", len(products))
		for i, p := range products {
			printProduct(i, p)
		}
		return nil
	},
}

var productsAddCmd = &cobra.Command{
	Use:   "add <name> <price> <stock>",
	Short: "Add a product",
	Long: `Add a product to the catalog. Price accepts a dot or comma decimal separator.

Examples:
  voxcart products add "Sal" 2.50 10
  voxcart products add "Macarrão" 4,20 30`,
	Args: cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		price, err := parsePrice(args[1])
		if err != nil {
			return err
		}
		stock, err := strconv.Atoi(args[2])
		if err != nil {
			return fmt.Errorf("invalid stock %q: %w", args[2], err)
		}

		svc, err := createService()
		if err != nil {
			return fmt.Errorf("failed to create service: %w", err)
		}
		defer svc.Close()

		p, err := svc.AddProduct(context.Background(), args[0], price, stock)
		if err != nil {
			return fmt.Errorf("failed to add product: %w", err)
		}
		fmt.Printf("\n✅ Added %s (R$ %s, estoque %d)\n", p.Name, p.Price.StringFixed(2), p.Stock)
		return nil
	},
}

var (
	updatePrice string
	updateStock int
)

var productsUpdateCmd = &cobra.Command{
	Use:   "update <name>",
	Short: "Change a product's price or stock",
	Long: `Change a product's price or stock.

Examples:
  voxcart products update arroz --price 6.49
  voxcart products update café --stock 40`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var upd models.ProductUpdate
		if cmd.Flags().Changed("price") {
			price, err := parsePrice(updatePrice)
			if err != nil {
				return err
			}
			upd.Price = &price
		}
		if cmd.Flags().Changed("stock") {
			upd.Stock = &updateStock
		}
		if upd.Price == nil && upd.Stock == nil {
			return fmt.Errorf("nothing to update, use --price or --stock")
		}

		svc, err := createService()
		if err != nil {
			return fmt.Errorf("failed to create service: %w", err)
		}
		defer svc.Close()

		p, err := svc.UpdateProduct(context.Background(), args[0], upd)
		if err != nil {
			return fmt.Errorf("failed to update product: %w", err)
		}
		fmt.Printf("\n✅ Updated %s (R$ %s, estoque %d)\n", p.Name, p.Price.StringFixed(2), p.Stock)
		return nil
	},
}

var productsRemoveCmd = &cobra.Command{
	Use:     "remove <name>",
	Aliases: []string{"rm"},
	Short:   "Remove a product",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := createService()
		if err != nil {
			return fmt.Errorf("failed to create service: %w", err)
		}
		defer svc.Close()

		if err := svc.RemoveProduct(context.Background(), args[0]); err != nil {
			return fmt.Errorf("failed to remove product: %w", err)
		}
		fmt.Printf("\n✅ Removed %s\n", args[0])
		return nil
	},
}

// parsePrice accepts "2.50" and "2,50"
func parsePrice(s string) (decimal.Decimal, error) {
	s = strings.Replace(strings.TrimSpace(s), ",", ".", 1)
	price, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid price %q: %w", s, err)
	}
	return price, nil
}

func init() {
	productsUpdateCmd.Flags().StringVar(&updatePrice, "price", "", "New price")
	productsUpdateCmd.Flags().IntVar(&updateStock, "stock", 0, "New stock")

	productsCmd.AddCommand(productsListCmd, productsAddCmd, productsUpdateCmd, productsRemoveCmd)
	rootCmd.AddCommand(productsCmd)
}
