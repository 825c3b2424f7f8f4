package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/mossy-p/call-relay/internal/models"
)

var statusURL string

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show connection and call counts of a running relay",
	RunE: func(cmd *cobra.Command, args []string) error {
		stats, err := fetchStats(statusURL)
		if err != nil {
			return err
		}
		renderStats(statusURL, stats)
		return nil
	},
}

func init() {
	statusCmd.Flags().StringVar(&statusURL, "url", "http://localhost:80", "base URL of the relay")
}

func fetchStats(baseURL string) (models.RelayStats, error) {
	var stats models.RelayStats

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(strings.TrimRight(baseURL, "/") + "/api/stats")
	if err != nil {
		return stats, fmt.Errorf("failed to reach relay: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return stats, fmt.Errorf("relay returned %s", resp.Status)
	}
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		return stats, fmt.Errorf("failed to decode stats: %w", err)
	}
	return stats, nil
}

func renderStats(baseURL string, stats models.RelayStats) {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetStyle(table.StyleRounded)
	t.SetTitle(baseURL)
	t.AppendHeader(table.Row{"Metric", "Value"})
	t.AppendRows([]table.Row{
		{"Connections", stats.Connections},
		{"Identities", stats.Identities},
		{"Active calls", stats.ActiveCalls},
	})
	t.Render()
}
