package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.io/infrasutra/gigdesk/internal/apperr"
	"github.io/infrasutra/gigdesk/internal/auth"
	"github.io/infrasutra/gigdesk/internal/store"
)

var (
	tokenUserID string
	tokenName   string
	tokenRole   string
)

var tokenCmd = &cobra.Command{
	Use:   "token <email>",
	Short: "Record a user and print a bearer token for them",
	Long: `Issue a session token signed with AUTH_SECRET. The user is created or
updated first so client threads can be matched to them by email.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg.AuthSecret == "" {
			return fmt.Errorf("AUTH_SECRET must be set to issue tokens")
		}
		role := store.Role(tokenRole)
		if role != store.RoleAdmin && role != store.RoleClient {
			return fmt.Errorf("invalid role %q (want admin or client)", tokenRole)
		}
		email, err := auth.NormalizeEmail(args[0])
		if err != nil {
			return fmt.Errorf("%s: %w", args[0], err)
		}
		if tokenUserID == "" {
			existing, err := db.FindUserByEmail(cmd.Context(), email)
			switch {
			case err == nil:
				tokenUserID = existing.ID
			case apperr.IsKind(err, apperr.KindNotFound):
				tokenUserID = uuid.NewString()
			default:
				return err
			}
		}

		user, err := db.UpsertUser(cmd.Context(), store.User{
			ID:    tokenUserID,
			Email: email,
			Name:  tokenName,
			Role:  role,
		})
		if err != nil {
			return err
		}

		manager, err := auth.New(cfg.AuthSecret, 30*24*time.Hour)
		if err != nil {
			return err
		}
		token, err := manager.Issue(auth.Identity{UserID: user.ID, Email: user.Email, Role: user.Role}, time.Now())
		if err != nil {
			return err
		}

		if jsonOutput {
			return json.NewEncoder(os.Stdout).Encode(map[string]string{
				"userId": user.ID,
				"email":  user.Email,
				"role":   string(user.Role),
				"token":  token,
			})
		}
		fmt.Println(token)
		return nil
	},
}

func init() {
	tokenCmd.Flags().StringVar(&tokenUserID, "id", "", "User id (generated when empty)")
	tokenCmd.Flags().StringVar(&tokenName, "name", "", "Display name")
	tokenCmd.Flags().StringVar(&tokenRole, "role", string(store.RoleClient), "admin or client")
}
