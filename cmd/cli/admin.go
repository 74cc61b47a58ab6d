package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var usersCmd = &cobra.Command{
	Use:   "users",
	Short: "List enrolled users",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := createService()
		if err != nil {
			return fmt.Errorf("failed to create service: %w", err)
		}
		defer svc.Close()

		users, err := svc.ListUsers(context.Background())
		if err != nil {
			return fmt.Errorf("failed to list users: %w", err)
		}
		if len(users) == 0 {
			fmt.Println("\n📭 No users enrolled")
			return nil
		}

		fmt.Printf("\n👥 Found %d user(s):\n\n", len(users))
		for i, u := range users {
			status := "enrolled"
			if !u.Enrolled {
				status = "no voice model"
			}
			fmt.Printf("%d. %s [%s] %s, since %s\n", i+1, u.Username, u.AccessLevel, status, u.CreatedAt.Format(time.DateOnly))
		}
		return nil
	},
}

var accessCmd = &cobra.Command{
	Use:   "access <username> <user|admin>",
	Short: "Change a user's access level",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := createService()
		if err != nil {
			return fmt.Errorf("failed to create service: %w", err)
		}
		defer svc.Close()

		if err := svc.SetAccessLevel(context.Background(), args[0], args[1]); err != nil {
			return fmt.Errorf("failed to change access level: %w", err)
		}
		fmt.Printf("\n✅ %s is now %s\n", args[0], args[1])
		return nil
	},
}

var salesUser string

var salesCmd = &cobra.Command{
	Use:   "sales",
	Short: "List completed purchases",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := createService()
		if err != nil {
			return fmt.Errorf("failed to create service: %w", err)
		}
		defer svc.Close()

		sales, err := svc.ListSales(context.Background(), salesUser)
		if err != nil {
			return fmt.Errorf("failed to list sales: %w", err)
		}
		if len(sales) == 0 {
			fmt.Println("\n📭 No sales recorded")
			return nil
		}

		fmt.Printf("\n📚 Found %d sale(s):\n\n", len(sales))
		for _, s := range sales {
			printSale(s)
			fmt.Println()
		}
		return nil
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show store counts",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := createService()
		if err != nil {
			return fmt.Errorf("failed to create service: %w", err)
		}
		defer svc.Close()

		st, err := svc.Stats(context.Background())
		if err != nil {
			return err
		}
		fmt.Printf("\n📊 %s\n", dbPath)
		fmt.Printf("   Users:    %d\n", st.Users)
		fmt.Printf("   Products: %d (%d units)\n", st.Products, st.Units)
		fmt.Printf("   Sales:    %d\n", st.Sales)
		return nil
	},
}

func init() {
	salesCmd.Flags().StringVar(&salesUser, "user", "", "Only this user's purchases")
	usersCmd.AddCommand(accessCmd)
	rootCmd.AddCommand(usersCmd, salesCmd, statsCmd)
}
