package cmd

import (
	"fmt"
	"net/http"

	"github.com/spf13/cobra"
)

// deliveryCmd represents the delivery command group
var deliveryCmd = &cobra.Command{
	Use:   "delivery",
	Short: "Control in-flight deliveries",
}

var deliveryRetryCmd = &cobra.Command{
	Use:   "retry <delivery-id>",
	Short: "Force an immediate retry of a live delivery",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var out map[string]any
		if err := makeRequest(http.MethodPost, "/v1/deliveries/"+args[0]+"/retry", nil, &out); err != nil {
			return err
		}
		printOutput(out)
		return nil
	},
}

var deliveryCancelCmd = &cobra.Command{
	Use:   "cancel <delivery-id>",
	Short: "Cancel a pending or retrying delivery",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var out map[string]any
		if err := makeRequest(http.MethodPost, "/v1/deliveries/"+args[0]+"/cancel", nil, &out); err != nil {
			return err
		}
		if outputJSON {
			printOutput(out)
			return nil
		}
		fmt.Printf("Delivery %s cancelled\n", args[0])
		return nil
	},
}

func init() {
	deliveryCmd.AddCommand(deliveryRetryCmd)
	deliveryCmd.AddCommand(deliveryCancelCmd)
	rootCmd.AddCommand(deliveryCmd)
}
