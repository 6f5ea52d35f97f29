package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func init() {
	rootCmd.AddCommand(newWatchStatusCmd())
}

func newWatchStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch-status",
		Short: "Continuously poll the daemon's /v1/status",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return loadConfig(cmd)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true

			interval, _ := cmd.Flags().GetDuration("interval")
			raw, _ := cmd.Flags().GetBool("raw")

			clientURL := viper.GetString("client_url")
			if clientURL == "" {
				clientURL = "http://localhost:7938"
			}
			token := viper.GetString("client_token")

			statusURL := clientURL + "/v1/status"
			client := &http.Client{Timeout: 5 * time.Second}

			ticker := time.NewTicker(interval)
			defer ticker.Stop()

			for {
				select {
				case <-cmd.Context().Done():
					return nil
				case <-ticker.C:
					req, _ := http.NewRequestWithContext(cmd.Context(), http.MethodGet, statusURL, nil)
					if token != "" {
						req.Header.Set("Authorization", "Bearer "+token)
					}
					resp, err := client.Do(req)
					if err != nil {
						fmt.Fprintf(os.Stderr, "%s ERROR %v\n", time.Now().UTC().Format(time.RFC3339), err)
						continue
					}
					body, _ := io.ReadAll(resp.Body)
					resp.Body.Close()

					if raw {
						fmt.Printf("%s\n", body)
						continue
					}

					var v any
					if err := json.Unmarshal(body, &v); err != nil {
						fmt.Printf("%s\n", body)
						continue
					}
					pretty, _ := json.MarshalIndent(v, "", "  ")
					fmt.Printf("%s\n", pretty)
				}
			}
		},
	}

	cmd.Flags().Duration("interval", time.Second, "poll interval")
	cmd.Flags().Bool("raw", false, "print raw json without pretty formatting")
	return cmd
}
