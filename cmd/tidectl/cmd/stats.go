package cmd

import (
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/spf13/cobra"
)

var (
	statsSubscription string
	statsStart        string
	statsEnd          string
)

// statsCmd represents the stats command
var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Query delivery statistics over a time window",
	RunE: func(cmd *cobra.Command, args []string) error {
		q := url.Values{}
		if statsSubscription != "" {
			q.Set("subscription_id", statsSubscription)
		}
		if statsStart != "" {
			q.Set("start", statsStart)
		}
		if statsEnd != "" {
			q.Set("end", statsEnd)
		}
		path := "/v1/stats"
		if len(q) > 0 {
			path += "?" + q.Encode()
		}

		var out struct {
			Total        int           `json:"total"`
			Delivered    int           `json:"delivered"`
			Failed       int           `json:"failed"`
			Retrying     int           `json:"retrying"`
			Pending      int           `json:"pending"`
			DeadLettered int           `json:"dead_lettered"`
			SuccessRate  float64       `json:"success_rate"`
			P50          time.Duration `json:"p50_latency_ns"`
			P95          time.Duration `json:"p95_latency_ns"`
			P99          time.Duration `json:"p99_latency_ns"`
		}
		if err := makeRequest(http.MethodGet, path, nil, &out); err != nil {
			return err
		}
		if outputJSON {
			printOutput(out)
			return nil
		}
		fmt.Printf("total=%d delivered=%d failed=%d retrying=%d pending=%d dead=%d\n",
			out.Total, out.Delivered, out.Failed, out.Retrying, out.Pending, out.DeadLettered)
		fmt.Printf("success rate: %.1f%%\n", out.SuccessRate*100)
		fmt.Printf("latency p50=%s p95=%s p99=%s\n", out.P50, out.P95, out.P99)
		return nil
	},
}

// breakersCmd represents the breakers command
var breakersCmd = &cobra.Command{
	Use:   "breakers",
	Short: "Show circuit breaker state per subscription",
	RunE: func(cmd *cobra.Command, args []string) error {
		var out map[string]struct {
			State    string `json:"state"`
			Failures int    `json:"failures"`
		}
		if err := makeRequest(http.MethodGet, "/v1/breakers", nil, &out); err != nil {
			return err
		}
		if outputJSON {
			printOutput(out)
			return nil
		}
		if len(out) == 0 {
			fmt.Println("no breakers yet")
			return nil
		}
		for id, st := range out {
			fmt.Printf("  %s: %s (failures=%d)\n", id, st.State, st.Failures)
		}
		return nil
	},
}

func init() {
	statsCmd.Flags().StringVar(&statsSubscription, "subscription", "", "filter to one subscription id")
	statsCmd.Flags().StringVar(&statsStart, "start", "", "window start (RFC3339, default 24h ago)")
	statsCmd.Flags().StringVar(&statsEnd, "end", "", "window end (RFC3339, default now)")

	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(breakersCmd)
}
