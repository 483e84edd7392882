package main

import (
	"context"
	"fmt"

	"gearhead-backend/internal/apperr"
	"gearhead-backend/internal/models"
	"gearhead-backend/internal/supabase"

	"github.com/spf13/cobra"
)

type seedUser struct {
	Email string
	Name  string
}

var seedUsers = []seedUser{
	{"seller@gearhead.test", "Sam Seller"},
	{"buyer@gearhead.test", "Bea Buyer"},
	{"bidder@gearhead.test", "Bo Bidder"},
}

func seedUsersCmd() *cobra.Command {
	var password string
	cmd := &cobra.Command{
		Use:   "seed-users",
		Short: "Create confirmed test accounts and their profiles",
		Long: `Creates the seller, buyer and bidder test accounts through the auth admin
API (requires SUPABASE_SERVICE_ROLE_KEY). Accounts that already exist are
verified by signing in.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			backend, err := newBackend(ctx, cfg)
			if err != nil {
				return err
			}
			client := backend.Client()
			if !client.HasServiceRole() {
				return fmt.Errorf("SUPABASE_SERVICE_ROLE_KEY is required to create users")
			}

			fmt.Println("=== Creating test users ===")
			var available []string
			for _, u := range seedUsers {
				id, err := ensureUser(ctx, client, u, password)
				if err != nil {
					fmt.Printf("  [FAIL] %-24s %v\n", u.Email, err)
					continue
				}
				fmt.Printf("  [OK]   %-24s %s\n", u.Email, id)
				available = append(available, u.Email)
			}

			fmt.Printf("\nUsers available: %d of %d\n", len(available), len(seedUsers))
			if len(available) < 2 {
				return fmt.Errorf("not enough users to hold a conversation")
			}
			fmt.Println("\nSign in with:")
			for _, email := range available {
				fmt.Printf("  chatctl login --email %s --password %s\n", email, password)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&password, "password", "password123", "password for every test account")
	return cmd
}

// ensureUser creates u, or signs in when the account already exists, and
// makes sure a profile row is present.
func ensureUser(ctx context.Context, client *supabase.Client, u seedUser, password string) (string, error) {
	var id string
	created, err := client.AdminCreateUser(ctx, u.Email, password, map[string]interface{}{"display_name": u.Name})
	switch {
	case err == nil:
		id = created.ID
	case apperr.IsKind(err, apperr.KindConflict), apperr.IsKind(err, apperr.KindValidation):
		signedIn, loginErr := client.SignIn(ctx, u.Email, password)
		if loginErr != nil {
			return "", fmt.Errorf("exists but sign-in failed: %w", loginErr)
		}
		id = signedIn.User.ID
	default:
		return "", err
	}

	profile := models.Profile{ID: id, Email: u.Email, DisplayName: u.Name}
	err = client.AsServiceRole().From("profiles").Insert(ctx, profile, nil)
	if err != nil && !apperr.IsKind(err, apperr.KindConflict) {
		return id, fmt.Errorf("profile: %w", err)
	}
	return id, nil
}
