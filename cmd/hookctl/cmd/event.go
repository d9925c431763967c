package cmd

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/spf13/cobra"
)

var eventCmd = &cobra.Command{
	Use:   "event",
	Short: "Ingest events for delivery",
}

var ingestEventCmd = &cobra.Command{
	Use:   "ingest [subscription-id] [event-type] [payload-json]",
	Short: "Queue an event for delivery to a subscription",
	Long: `Queue an event for asynchronous delivery. The payload must be a JSON
object.

Example:
  hookctl event ingest 9f2c... order.created '{"order_id": 42}'`,
	Args: cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		var payload json.RawMessage
		if err := json.Unmarshal([]byte(args[2]), &payload); err != nil {
			return fmt.Errorf("payload is not valid JSON: %w", err)
		}

		status, data, err := doRequest(http.MethodPost, "/ingest/"+args[0], map[string]any{
			"event_type": args[1],
			"payload":    payload,
		})
		if err != nil {
			return fmt.Errorf("failed to ingest event: %w", err)
		}
		data, err = expect(status, data, http.StatusAccepted)
		if err != nil || data == nil {
			return err
		}
		var resp struct {
			DeliveryID string `json:"delivery_id"`
			Status     string `json:"status"`
		}
		if err := json.Unmarshal(data, &resp); err != nil {
			return err
		}
		fmt.Printf("Queued delivery: %s\n", resp.DeliveryID)
		fmt.Printf("  Status: %s\n", resp.Status)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(eventCmd)
	eventCmd.AddCommand(ingestEventCmd)
}
