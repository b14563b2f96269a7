package cmd

import (
	"fmt"
	"net/http"

	"github.com/spf13/cobra"
)

var dlqLimit int

// dlqCmd represents the dlq command group
var dlqCmd = &cobra.Command{
	Use:   "dlq",
	Short: "Inspect and replay the dead letter queue",
}

var dlqListCmd = &cobra.Command{
	Use:   "list",
	Short: "List pending dead letter entries, oldest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		var out struct {
			Count   int `json:"count"`
			Entries []struct {
				ID             string `json:"id"`
				DeliveryID     string `json:"delivery_id"`
				SubscriptionID string `json:"subscription_id"`
				EventID        string `json:"event_id"`
				Reason         string `json:"reason"`
				Attempts       int    `json:"attempts"`
				RetryCount     int    `json:"retry_count"`
				CreatedAt      string `json:"created_at"`
			} `json:"entries"`
		}
		path := fmt.Sprintf("/v1/dlq?limit=%d", dlqLimit)
		if err := makeRequest(http.MethodGet, path, nil, &out); err != nil {
			return err
		}
		if outputJSON {
			printOutput(out)
			return nil
		}
		fmt.Printf("%d pending entries\n", out.Count)
		for _, e := range out.Entries {
			fmt.Printf("  %s delivery=%s sub=%s attempts=%d replays=%d reason=%q\n",
				e.ID, e.DeliveryID, e.SubscriptionID, e.Attempts, e.RetryCount, e.Reason)
		}
		return nil
	},
}

var dlqReplayCmd = &cobra.Command{
	Use:   "replay <entry-id>",
	Short: "Replay one dead letter entry",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var out struct {
			EntryID   string `json:"entry_id"`
			Delivered bool   `json:"delivered"`
		}
		if err := makeRequest(http.MethodPost, "/v1/dlq/"+args[0]+"/replay", nil, &out); err != nil {
			return err
		}
		if outputJSON {
			printOutput(out)
			return nil
		}
		if out.Delivered {
			fmt.Printf("Entry %s replayed and delivered\n", out.EntryID)
		} else {
			fmt.Printf("Entry %s replay failed, still pending\n", out.EntryID)
		}
		return nil
	},
}

func init() {
	dlqListCmd.Flags().IntVar(&dlqLimit, "limit", 100, "maximum entries to list")

	dlqCmd.AddCommand(dlqListCmd)
	dlqCmd.AddCommand(dlqReplayCmd)
	rootCmd.AddCommand(dlqCmd)
}
