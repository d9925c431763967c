package cmd

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

type subscriptionView struct {
	ID         string    `json:"id"`
	TargetURL  string    `json:"target_url"`
	EventTypes []string  `json:"event_types"`
	HasSecret  bool      `json:"has_secret"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

func printSubscription(s subscriptionView) {
	fmt.Printf("Subscription: %s\n", s.ID)
	fmt.Printf("  Target URL:  %s\n", s.TargetURL)
	fmt.Printf("  Event Types: %s\n", strings.Join(s.EventTypes, ", "))
	fmt.Printf("  Has Secret:  %t\n", s.HasSecret)
	fmt.Printf("  Created:     %s\n", s.CreatedAt.Format("2006-01-02 15:04:05"))
}

var subscriptionCmd = &cobra.Command{
	Use:   "subscription",
	Short: "Manage webhook subscriptions",
	Long:  `Create and manage the subscriptions that receive delivered events.`,
}

var subSecret string

var createSubscriptionCmd = &cobra.Command{
	Use:   "create [target-url] [event-type...]",
	Short: "Create a new webhook subscription",
	Long: `Create a new webhook subscription for one or more event types.

Example:
  hookctl subscription create https://example.com/hook order.created order.cancelled --secret s3cret`,
	Args: cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		status, data, err := doRequest(http.MethodPost, "/subscriptions", map[string]any{
			"target_url":  args[0],
			"secret":      subSecret,
			"event_types": args[1:],
		})
		if err != nil {
			return fmt.Errorf("failed to create subscription: %w", err)
		}
		data, err = expect(status, data, http.StatusCreated)
		if err != nil || data == nil {
			return err
		}
		var s subscriptionView
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		printSubscription(s)
		return nil
	},
}

var listSubscriptionsCmd = &cobra.Command{
	Use:   "list",
	Short: "List all subscriptions",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		status, data, err := doRequest(http.MethodGet, "/subscriptions", nil)
		if err != nil {
			return fmt.Errorf("failed to list subscriptions: %w", err)
		}
		data, err = expect(status, data, http.StatusOK)
		if err != nil || data == nil {
			return err
		}
		var resp struct {
			Subscriptions []subscriptionView `json:"subscriptions"`
			Total         int                `json:"total"`
		}
		if err := json.Unmarshal(data, &resp); err != nil {
			return err
		}
		fmt.Printf("Total subscriptions: %d\n", resp.Total)
		for _, s := range resp.Subscriptions {
			fmt.Println()
			printSubscription(s)
		}
		return nil
	},
}

var getSubscriptionCmd = &cobra.Command{
	Use:   "get [subscription-id]",
	Short: "Get a subscription by ID",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		status, data, err := doRequest(http.MethodGet, "/subscriptions/"+args[0], nil)
		if err != nil {
			return fmt.Errorf("failed to get subscription: %w", err)
		}
		data, err = expect(status, data, http.StatusOK)
		if err != nil || data == nil {
			return err
		}
		var s subscriptionView
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		printSubscription(s)
		return nil
	},
}

var updateSubscriptionCmd = &cobra.Command{
	Use:   "update [subscription-id] [target-url] [event-type...]",
	Short: "Replace a subscription's target and event types",
	Args:  cobra.MinimumNArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		status, data, err := doRequest(http.MethodPut, "/subscriptions/"+args[0], map[string]any{
			"target_url":  args[1],
			"secret":      subSecret,
			"event_types": args[2:],
		})
		if err != nil {
			return fmt.Errorf("failed to update subscription: %w", err)
		}
		data, err = expect(status, data, http.StatusOK)
		if err != nil || data == nil {
			return err
		}
		var s subscriptionView
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		printSubscription(s)
		return nil
	},
}

var deleteSubscriptionCmd = &cobra.Command{
	Use:   "delete [subscription-id]",
	Short: "Delete a subscription and its deliveries",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		status, data, err := doRequest(http.MethodDelete, "/subscriptions/"+args[0], nil)
		if err != nil {
			return fmt.Errorf("failed to delete subscription: %w", err)
		}
		if status != http.StatusNoContent {
			return fmt.Errorf("server returned %d: %s", status, string(data))
		}
		fmt.Printf("Deleted subscription: %s\n", args[0])
		return nil
	},
}

func init() {
	rootCmd.AddCommand(subscriptionCmd)
	subscriptionCmd.AddCommand(createSubscriptionCmd)
	subscriptionCmd.AddCommand(listSubscriptionsCmd)
	subscriptionCmd.AddCommand(getSubscriptionCmd)
	subscriptionCmd.AddCommand(updateSubscriptionCmd)
	subscriptionCmd.AddCommand(deleteSubscriptionCmd)

	createSubscriptionCmd.Flags().StringVar(&subSecret, "secret", "", "HMAC signing secret for this subscription")
	updateSubscriptionCmd.Flags().StringVar(&subSecret, "secret", "", "HMAC signing secret for this subscription")
}
