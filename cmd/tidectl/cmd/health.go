package cmd

import (
	"fmt"
	"net/http"

	"github.com/spf13/cobra"
)

// healthCmd represents the health command
var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check the health of the delivery engine",
	RunE: func(cmd *cobra.Command, args []string) error {
		var out struct {
			OK      bool   `json:"ok"`
			Message string `json:"message"`
		}
		if err := makeRequest(http.MethodGet, "/healthz", nil, &out); err != nil {
			fmt.Printf("✗ Service is unhealthy: %v\n", err)
			return nil
		}
		if out.OK {
			fmt.Println("✓ Service is healthy")
		} else {
			fmt.Printf("✗ Service is unhealthy: %s\n", out.Message)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(healthCmd)
}
