package cmd

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/spf13/cobra"
)

var (
	eventID   string
	eventData string
)

// eventCmd represents the event command group
var eventCmd = &cobra.Command{
	Use:   "event",
	Short: "Publish events to the delivery engine",
}

var eventPublishCmd = &cobra.Command{
	Use:   "publish <type>",
	Short: "Publish one event and report the resulting deliveries",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		body := map[string]any{"type": args[0]}
		if eventID != "" {
			body["id"] = eventID
		}
		if eventData != "" {
			var data map[string]any
			if err := json.Unmarshal([]byte(eventData), &data); err != nil {
				return fmt.Errorf("failed to parse --data: %w", err)
			}
			body["data"] = data
		}

		var out struct {
			EventID    string `json:"event_id"`
			Deliveries []struct {
				DeliveryID     string `json:"delivery_id"`
				SubscriptionID string `json:"subscription_id"`
				Status         string `json:"status"`
				Attempts       int    `json:"attempts"`
				ResponseStatus int    `json:"response_status"`
				Error          string `json:"error"`
			} `json:"deliveries"`
		}
		if err := makeRequest(http.MethodPost, "/v1/events", body, &out); err != nil {
			return err
		}
		if outputJSON {
			printOutput(out)
			return nil
		}
		fmt.Printf("Event %s published: %d deliveries\n", out.EventID, len(out.Deliveries))
		for _, d := range out.Deliveries {
			line := fmt.Sprintf("  %s -> %s [%s] attempts=%d", d.DeliveryID, d.SubscriptionID, d.Status, d.Attempts)
			if d.ResponseStatus > 0 {
				line += fmt.Sprintf(" http=%d", d.ResponseStatus)
			}
			if d.Error != "" {
				line += " error=" + d.Error
			}
			fmt.Println(line)
		}
		return nil
	},
}

var eventBatchCmd = &cobra.Command{
	Use:   "batch <events.json>",
	Short: "Publish a JSON array of events as one batch",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		raw, err := readFileArg(args[0])
		if err != nil {
			return err
		}
		var events []map[string]any
		if err := json.Unmarshal(raw, &events); err != nil {
			return fmt.Errorf("failed to parse events file: %w", err)
		}

		var out map[string]any
		if err := makeRequest(http.MethodPost, "/v1/events/batch", events, &out); err != nil {
			return err
		}
		printOutput(out)
		return nil
	},
}

func init() {
	eventPublishCmd.Flags().StringVar(&eventID, "id", "", "event id (generated when empty)")
	eventPublishCmd.Flags().StringVar(&eventData, "data", "", "event data as a JSON object")

	eventCmd.AddCommand(eventPublishCmd)
	eventCmd.AddCommand(eventBatchCmd)
	rootCmd.AddCommand(eventCmd)
}
