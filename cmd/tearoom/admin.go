package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"tearoom/cmd/identity"
)

var tenantCmd = &cobra.Command{
	Use:   "tenant",
	Short: "Manage tenants",
}

var createTenantCmd = &cobra.Command{
	Use:   "create [slug] [name]",
	Short: "Create an active tenant",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, done, err := openIdentity(cmd.Context())
		if err != nil {
			return err
		}
		defer done()

		t, err := store.CreateTenant(cmd.Context(), identity.CreateTenantInput{
			Slug:   args[0],
			Name:   args[1],
			Active: true,
		})
		if err != nil {
			return fmt.Errorf("create tenant: %w", err)
		}
		cmd.Printf("Tenant created: %s (ID: %s)\n", t.Slug, t.ID)
		return nil
	},
}

var setTenantActiveCmd = &cobra.Command{
	Use:   "set-active [slug] [true|false]",
	Short: "Enable or disable every login of a tenant",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		var active bool
		switch args[1] {
		case "true":
			active = true
		case "false":
		default:
			return fmt.Errorf("invalid value %q: want true or false", args[1])
		}

		store, done, err := openIdentity(cmd.Context())
		if err != nil {
			return err
		}
		defer done()

		t, err := store.TenantBySlug(cmd.Context(), args[0])
		if err != nil {
			return fmt.Errorf("tenant %q: %w", args[0], err)
		}
		if err := store.SetTenantActive(cmd.Context(), t.ID, active); err != nil {
			return err
		}
		cmd.Printf("Tenant %s active=%t\n", t.Slug, active)
		return nil
	},
}

var principalCmd = &cobra.Command{
	Use:   "principal",
	Short: "Manage principals",
}

var createPrincipalCmd = &cobra.Command{
	Use:   "create [email]",
	Short: "Create a verified, active principal",
	Long: `Create a principal. The password is read from TEAROOM_NEW_PASSWORD so it
does not end up in shell history. Roles: tenant_admin, room_user, kitchen, super_admin.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		tenantSlug, _ := cmd.Flags().GetString("tenant")
		roleName, _ := cmd.Flags().GetString("role")
		name, _ := cmd.Flags().GetString("name")
		room, _ := cmd.Flags().GetString("room")
		kitchen, _ := cmd.Flags().GetString("kitchen")

		role, err := identity.ParseRole(roleName)
		if err != nil {
			return err
		}
		secret := os.Getenv("TEAROOM_NEW_PASSWORD")
		if secret == "" {
			return fmt.Errorf("TEAROOM_NEW_PASSWORD is required")
		}

		store, done, err := openIdentity(cmd.Context())
		if err != nil {
			return err
		}
		defer done()

		var tenantID string
		if tenantSlug != "" {
			t, err := store.TenantBySlug(cmd.Context(), tenantSlug)
			if err != nil {
				return fmt.Errorf("tenant %q: %w", tenantSlug, err)
			}
			tenantID = t.ID
		}

		p, err := store.CreatePrincipal(cmd.Context(), identity.CreatePrincipalInput{
			TenantID:      tenantID,
			Role:          role,
			Email:         args[0],
			DisplayName:   name,
			Password:      secret,
			RoomID:        room,
			KitchenID:     kitchen,
			Active:        true,
			EmailVerified: true,
		})
		if err != nil {
			return fmt.Errorf("create principal: %w", err)
		}
		cmd.Printf("Principal created: %s %s (ID: %s)\n", p.Role, p.Email, p.ID)
		return nil
	},
}

func init() {
	createPrincipalCmd.Flags().String("tenant", "", "tenant slug (empty for super_admin)")
	createPrincipalCmd.Flags().String("role", string(identity.RoleRoomUser), "principal role")
	createPrincipalCmd.Flags().String("name", "", "display name")
	createPrincipalCmd.Flags().String("room", "", "room id for room_user")
	createPrincipalCmd.Flags().String("kitchen", "", "kitchen id for kitchen consoles")

	tenantCmd.AddCommand(createTenantCmd, setTenantActiveCmd)
	principalCmd.AddCommand(createPrincipalCmd)
	rootCmd.AddCommand(tenantCmd, principalCmd)
}
