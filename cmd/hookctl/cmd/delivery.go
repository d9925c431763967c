package cmd

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
)

type deliveryView struct {
	ID             string     `json:"id"`
	SubscriptionID string     `json:"subscription_id"`
	EventType      string     `json:"event_type"`
	Status         string     `json:"status"`
	RetryCount     int        `json:"retry_count"`
	NextRetry      *time.Time `json:"next_retry,omitempty"`
	ResponseStatus *int       `json:"response_status,omitempty"`
	ErrorMessage   string     `json:"error_message,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

func printDelivery(d deliveryView) {
	fmt.Printf("Delivery: %s\n", d.ID)
	fmt.Printf("  Subscription: %s\n", d.SubscriptionID)
	fmt.Printf("  Event Type:   %s\n", d.EventType)
	fmt.Printf("  Status:       %s\n", d.Status)
	fmt.Printf("  Attempts:     %d\n", d.RetryCount)
	if d.NextRetry != nil {
		fmt.Printf("  Next Retry:   %s\n", d.NextRetry.Format("2006-01-02 15:04:05"))
	}
	if d.ResponseStatus != nil {
		fmt.Printf("  HTTP Status:  %d\n", *d.ResponseStatus)
	}
	if d.ErrorMessage != "" {
		fmt.Printf("  Last Error:   %s\n", d.ErrorMessage)
	}
	fmt.Printf("  Created:      %s\n", d.CreatedAt.Format("2006-01-02 15:04:05"))
}

func printDeliveryList(data []byte) error {
	var resp struct {
		Deliveries []deliveryView `json:"deliveries"`
		Total      int            `json:"total"`
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		return err
	}
	fmt.Printf("Total deliveries: %d\n", resp.Total)
	for _, d := range resp.Deliveries {
		fmt.Println()
		printDelivery(d)
	}
	return nil
}

var deliveryCmd = &cobra.Command{
	Use:   "delivery",
	Short: "Inspect webhook deliveries",
}

var getDeliveryCmd = &cobra.Command{
	Use:   "get [delivery-id]",
	Short: "Get a delivery by ID",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		status, data, err := doRequest(http.MethodGet, "/deliveries/"+args[0], nil)
		if err != nil {
			return fmt.Errorf("failed to get delivery: %w", err)
		}
		data, err = expect(status, data, http.StatusOK)
		if err != nil || data == nil {
			return err
		}
		var d deliveryView
		if err := json.Unmarshal(data, &d); err != nil {
			return err
		}
		printDelivery(d)
		return nil
	},
}

var deliveryHistoryCmd = &cobra.Command{
	Use:   "history [delivery-id]",
	Short: "List deliveries sharing this delivery's subscription and event type",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		status, data, err := doRequest(http.MethodGet, "/deliveries/"+args[0]+"/history", nil)
		if err != nil {
			return fmt.Errorf("failed to get delivery history: %w", err)
		}
		data, err = expect(status, data, http.StatusOK)
		if err != nil || data == nil {
			return err
		}
		return printDeliveryList(data)
	},
}

var deadDeliveriesCmd = &cobra.Command{
	Use:   "dead",
	Short: "List deliveries abandoned after exhausting retries",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		status, data, err := doRequest(http.MethodGet, "/deliveries/dead", nil)
		if err != nil {
			return fmt.Errorf("failed to list dead deliveries: %w", err)
		}
		data, err = expect(status, data, http.StatusOK)
		if err != nil || data == nil {
			return err
		}
		return printDeliveryList(data)
	},
}

var forSubscriptionCmd = &cobra.Command{
	Use:   "for-subscription [subscription-id]",
	Short: "List recent deliveries and success rate for a subscription",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		status, data, err := doRequest(http.MethodGet, "/subscriptions/"+args[0]+"/deliveries", nil)
		if err != nil {
			return fmt.Errorf("failed to list deliveries: %w", err)
		}
		data, err = expect(status, data, http.StatusOK)
		if err != nil || data == nil {
			return err
		}
		var resp struct {
			Deliveries  []deliveryView `json:"deliveries"`
			TotalCount  int            `json:"total_count"`
			SuccessRate float64        `json:"success_rate"`
		}
		if err := json.Unmarshal(data, &resp); err != nil {
			return err
		}
		fmt.Printf("Total deliveries: %d\n", resp.TotalCount)
		fmt.Printf("Success rate:     %.1f%%\n", resp.SuccessRate)
		for _, d := range resp.Deliveries {
			fmt.Println()
			printDelivery(d)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(deliveryCmd)
	deliveryCmd.AddCommand(getDeliveryCmd)
	deliveryCmd.AddCommand(deliveryHistoryCmd)
	deliveryCmd.AddCommand(deadDeliveriesCmd)
	deliveryCmd.AddCommand(forSubscriptionCmd)
}
