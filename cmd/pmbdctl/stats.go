package main

import (
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/spf13/cobra"
)

var (
	statsAddr string
	statsDump bool
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Query a running device's diagnostic HTTP surface.",
	RunE:  runStats,
}

func init() {
	rootCmd.AddCommand(statsCmd)
	statsCmd.Flags().StringVar(&statsAddr, "addr", "http://127.0.0.1:8080", "diagnostic server base address")
	statsCmd.Flags().BoolVar(&statsDump, "dump", false, "fetch the human-readable state dump instead of counters")
}

func runStats(cmd *cobra.Command, args []string) error {
	path := "/stats"
	if statsDump {
		path = "/dump"
	}

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(statsAddr + path)
	if err != nil {
		return fmt.Errorf("pmbdctl: fetch %s%s: %w", statsAddr, path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("pmbdctl: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("pmbdctl: %s%s returned %s: %s", statsAddr, path, resp.Status, body)
	}

	_, err = cmd.OutOrStdout().Write(body)
	return err
}
