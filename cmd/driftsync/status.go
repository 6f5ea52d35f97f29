package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/driftlock/driftsync/internal/sync"
)

func init() {
	rootCmd.AddCommand(newStatusCmd())
}

func newStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show sync status from the running daemon",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return loadConfig(cmd)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true

			st, err := fetchStatus(cmd)
			if err != nil {
				return err
			}

			online := green("online")
			if !st.Online {
				online = red("offline")
			}
			fmt.Printf("Owner:      %s\n", cyan(orDash(st.Owner)))
			fmt.Printf("Network:    %s\n", online)
			fmt.Printf("Processing: %v\n", st.Processing)
			fmt.Printf("Pending:    %d\n", st.PendingCount)
			fmt.Printf("Failed:     %d (parked %d)\n", st.FailedCount, st.ParkedCount)

			if len(st.Checkpoints) > 0 {
				fmt.Println("Last full sync:")
				tables := make([]string, 0, len(st.Checkpoints))
				for table := range st.Checkpoints {
					tables = append(tables, table)
				}
				sort.Strings(tables)
				for _, table := range tables {
					fmt.Printf("  %-16s %s\n", table, humanize.Time(st.Checkpoints[table]))
				}
			}

			for id, msg := range st.Errors {
				fmt.Printf("%s %s: %s\n", red("ERROR"), id, msg)
			}
			return nil
		},
	}
	return cmd
}

func fetchStatus(cmd *cobra.Command) (*sync.Status, error) {
	clientURL := viper.GetString("client_url")
	if envURL := os.Getenv("DRIFTSYNC_CLIENT_URL"); envURL != "" {
		clientURL = envURL
	}
	if clientURL == "" {
		clientURL = "http://localhost:7938"
	}
	token := viper.GetString("client_token")
	if envToken := os.Getenv("DRIFTSYNC_CLIENT_TOKEN"); envToken != "" {
		token = envToken
	}

	req, err := http.NewRequestWithContext(cmd.Context(), http.MethodGet, clientURL+"/v1/status", nil)
	if err != nil {
		return nil, err
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("is the daemon running? %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status request failed: %s: %s", resp.Status, body)
	}

	var st sync.Status
	if err := json.Unmarshal(body, &st); err != nil {
		return nil, fmt.Errorf("parse status: %w", err)
	}
	return &st, nil
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
