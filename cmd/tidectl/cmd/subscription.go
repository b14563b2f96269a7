package cmd

import (
	"fmt"
	"net/http"

	"github.com/spf13/cobra"
)

// subscriptionCmd represents the subscription command group
var subscriptionCmd = &cobra.Command{
	Use:     "subscription",
	Aliases: []string{"sub"},
	Short:   "Subscription operations",
}

var subscriptionVerifyCmd = &cobra.Command{
	Use:   "verify <subscription-id>",
	Short: "Send the endpoint verification challenge",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var out struct {
			SubscriptionID string `json:"subscription_id"`
			Verified       bool   `json:"verified"`
		}
		if err := makeRequest(http.MethodPost, "/v1/subscriptions/"+args[0]+"/verify", nil, &out); err != nil {
			return err
		}
		if outputJSON {
			printOutput(out)
			return nil
		}
		if out.Verified {
			fmt.Printf("✓ Subscription %s verified\n", out.SubscriptionID)
		} else {
			fmt.Printf("✗ Subscription %s failed the challenge\n", out.SubscriptionID)
		}
		return nil
	},
}

func init() {
	subscriptionCmd.AddCommand(subscriptionVerifyCmd)
	rootCmd.AddCommand(subscriptionCmd)
}
