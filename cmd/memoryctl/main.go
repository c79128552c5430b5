// Memoryctl is the operator CLI for memoryd: health checks, forcing a
// consolidation pass outside its cron schedule, and inspecting store
// stats, all against a running daemon's HTTP transport.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/memoryd/pkg/rpc"
)

var (
	serverURL string
	version   = "dev"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "memoryctl",
	Short:   "CLI for memoryd operator commands",
	Long:    `memoryctl talks to a running memoryd daemon's HTTP transport to run health checks, force a consolidation pass, and inspect store stats.`,
	Version: version,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:9090", "memoryd HTTP server URL")
	rootCmd.AddCommand(healthCmd)
	rootCmd.AddCommand(consolidateCmd)
	rootCmd.AddCommand(statsCmd)
}

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Run the startup self-check against the daemon's store",
	Long: `Run health_check over RPC, optionally repairing fixable issues in place.

Examples:
  memoryctl health
  memoryctl health --repair
  memoryctl health --server http://localhost:8080`,
	RunE: runHealth,
}

var consolidateCmd = &cobra.Command{
	Use:   "consolidate [daily|weekly|monthly|quarterly|yearly]",
	Short: "Force a consolidation pass outside its cron schedule",
	Args:  cobra.ExactArgs(1),
	RunE:  runConsolidate,
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print live/archived/embedding/tag counts from the store",
	RunE:  runStats,
}

var repairFlag bool

func init() {
	healthCmd.Flags().BoolVar(&repairFlag, "repair", false, "repair fixable issues in place")
}

// callRPC POSTs a single rpc.Request to serverURL+"/rpc" and decodes
// its result into out. A non-nil rpc error on the response becomes a
// Go error naming its kind and message.
func callRPC(op rpc.Op, params any, out any) error {
	var raw json.RawMessage
	if params != nil {
		encoded, err := json.Marshal(params)
		if err != nil {
			return fmt.Errorf("marshaling request params: %w", err)
		}
		raw = encoded
	}

	body, err := json.Marshal(rpc.Request{ID: "memoryctl", Op: op, Params: raw})
	if err != nil {
		return fmt.Errorf("marshaling request: %w", err)
	}

	client := &http.Client{Timeout: 30 * time.Second}
	httpResp, err := client.Post(serverURL+"/rpc", "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("calling %s: %w", serverURL, err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(httpResp.Body)
		return fmt.Errorf("server returned status %d: %s", httpResp.StatusCode, string(respBody))
	}

	var resp rpc.Response
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	if resp.Error != nil {
		return fmt.Errorf("%s: %s", resp.Error.Kind, resp.Error.Message)
	}
	if out == nil || len(resp.Result) == 0 {
		return nil
	}
	if err := json.Unmarshal(resp.Result, out); err != nil {
		return fmt.Errorf("decoding result: %w", err)
	}
	return nil
}

func runHealth(cmd *cobra.Command, args []string) error {
	var report struct {
		OK           bool     `json:"ok"`
		Issues       []string `json:"issues"`
		ActionsTaken []string `json:"actions_taken"`
	}
	if err := callRPC(rpc.OpHealthCheck, rpc.HealthCheckParams{Repair: repairFlag}, &report); err != nil {
		return err
	}

	fmt.Printf("OK: %v\n", report.OK)
	for _, issue := range report.Issues {
		fmt.Printf("  issue: %s\n", issue)
	}
	for _, action := range report.ActionsTaken {
		fmt.Printf("  repaired: %s\n", action)
	}
	if !report.OK {
		os.Exit(1)
	}
	return nil
}

func runConsolidate(cmd *cobra.Command, args []string) error {
	var result rpc.ConsolidateNowResult
	if err := callRPC(rpc.OpConsolidateNow, rpc.ConsolidateNowParams{Horizon: args[0]}, &result); err != nil {
		return err
	}
	fmt.Printf("state: %s\n", result.State)
	for k, v := range result.Counts {
		fmt.Printf("  %s: %d\n", k, v)
	}
	return nil
}

func runStats(cmd *cobra.Command, args []string) error {
	var result rpc.StatsResult
	if err := callRPC(rpc.OpStats, nil, &result); err != nil {
		return err
	}
	fmt.Printf("live:      %d\n", result.LiveCount)
	fmt.Printf("archived:  %d\n", result.ArchivedCount)
	fmt.Printf("embedding: %d\n", result.EmbeddingCount)
	fmt.Printf("tags:      %d\n", result.TagCount)
	fmt.Printf("ann:       %d\n", result.ANNCount)
	return nil
}
