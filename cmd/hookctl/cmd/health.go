package cmd

import (
	"fmt"
	"net/http"

	"github.com/spf13/cobra"
)

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check API server health",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		status, data, err := doRequest(http.MethodGet, "/healthz", nil)
		if err != nil {
			return fmt.Errorf("health check failed: %w", err)
		}
		data, err = expect(status, data, http.StatusOK)
		if err != nil || data == nil {
			return err
		}
		fmt.Println("Server is healthy")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(healthCmd)
}
