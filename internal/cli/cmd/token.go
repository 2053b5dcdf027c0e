package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"mangosqueezy/internal/server/middleware"
)

// NewTokenCommand issues a business token locally with the shared jwt secret.
func NewTokenCommand(v *viper.Viper) *cobra.Command {
	var (
		businessID string
		ttl        time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a business bearer token (needs MANGO_JWT_SECRET)",
		RunE: func(cmd *cobra.Command, args []string) error {
			secret := v.GetString("jwt_secret")
			if secret == "" {
				return fmt.Errorf("MANGO_JWT_SECRET is not set")
			}
			token, err := middleware.GenerateJWT(secret, businessID, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVarP(&businessID, "business", "b", "", "business id (required)")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	_ = cmd.MarkFlagRequired("business")
	return cmd
}
