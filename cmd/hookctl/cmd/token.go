package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/why-aditi/webhook-delivery-service/internal/auth"
)

var (
	tokenSubject string
	tokenTTL     time.Duration
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Mint a bearer token for the management API",
	Long: `Mint a bearer token signed with the service secret key. The key is
read from the SECRET_KEY environment variable, which must match the one the
API server runs with.

Example:
  SECRET_KEY=... hookctl token --subject ops --ttl 1h`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		secretKey := os.Getenv("SECRET_KEY")
		if secretKey == "" {
			return fmt.Errorf("SECRET_KEY environment variable is not set")
		}
		issuer, err := auth.NewTokenIssuer(secretKey, tokenTTL)
		if err != nil {
			return err
		}
		token, err := issuer.Mint(tokenSubject)
		if err != nil {
			return fmt.Errorf("failed to mint token: %w", err)
		}
		fmt.Println(token)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(tokenCmd)
	tokenCmd.Flags().StringVar(&tokenSubject, "subject", "admin", "token subject claim")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 30*time.Minute, "token lifetime")
}
