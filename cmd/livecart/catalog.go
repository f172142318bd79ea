package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"livecart/internal/app"
	"livecart/internal/storage"
)

func newUserCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage accounts",
	}

	var role string
	add := &cobra.Command{
		Use:   "add <username> <password>",
		Short: "Create an account",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			parsed, err := storage.ParseRole(role)
			if err != nil {
				return err
			}
			return withStore(cmd, opts, func(store *storage.Store) error {
				ctx, cancel := withTimeout(cmd.Context())
				defer cancel()
				id, err := app.AddUser(ctx, store, args[0], args[1], parsed)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\n", id, args[0], parsed)
				return nil
			})
		},
	}
	add.Flags().StringVar(&role, "role", string(storage.RoleUser), "account role (user, seller, admin)")

	setRole := &cobra.Command{
		Use:   "role <username> <role>",
		Short: "Change an account's role",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			parsed, err := storage.ParseRole(args[1])
			if err != nil {
				return err
			}
			return withStore(cmd, opts, func(store *storage.Store) error {
				ctx, cancel := withTimeout(cmd.Context())
				defer cancel()
				if err := app.SetRole(ctx, store, args[0], parsed); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s is now %s\n", args[0], parsed)
				return nil
			})
		},
	}

	cmd.AddCommand(add, setRole)
	return cmd
}

func newProductCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "product",
		Short: "Manage the highlightable catalog",
	}

	var (
		product  storage.Product
		inactive bool
	)
	add := &cobra.Command{
		Use:   "add <name>",
		Short: "Add a product",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			product.Name = strings.TrimSpace(args[0])
			product.IsActive = !inactive
			return withStore(cmd, opts, func(store *storage.Store) error {
				ctx, cancel := withTimeout(cmd.Context())
				defer cancel()
				id, err := store.CreateProduct(ctx, product)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), id)
				return nil
			})
		},
	}
	flags := add.Flags()
	flags.StringVar(&product.Slug, "slug", "", "url slug (derived from the name when empty)")
	flags.Float64Var(&product.Price, "price", 0, "unit price")
	flags.StringVar(&product.Currency, "currency", "PLN", "ISO currency code")
	flags.IntVar(&product.Stock, "stock", 0, "units in stock")
	flags.StringSliceVar(&product.Images, "image", nil, "image URL (repeatable, first is the thumbnail)")
	flags.BoolVar(&inactive, "inactive", false, "create the product hidden")

	cmd.AddCommand(add)
	return cmd
}

func withStore(cmd *cobra.Command, opts *rootOptions, fn func(*storage.Store) error) error {
	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}
	store, err := app.OpenStore(cmd.Context(), cfg.DBPath)
	if err != nil {
		return err
	}
	defer store.Close()
	return fn(store)
}
