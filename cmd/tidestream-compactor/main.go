// Command tidestream-compactor runs a compactor node: it polls meta for
// compaction tasks, executes the k-way merge, and reports results back.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/tidestream/tidestream/pkg/hummock/compaction"
	"github.com/tidestream/tidestream/pkg/log"
	"github.com/tidestream/tidestream/pkg/metrics"
	"github.com/tidestream/tidestream/pkg/objectstore"
	"github.com/tidestream/tidestream/pkg/rpc"
)

var Version = "dev"

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "tidestream-compactor",
	Short:   "Tidestream compactor node: polls and executes Hummock compaction tasks",
	Version: Version,
}

func init() {
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")
	cobra.OnInitialize(initLogging)

	startCmd.Flags().String("node-id", "compactor-1", "Worker id registered with meta")
	startCmd.Flags().String("meta-addr", "127.0.0.1:7001", "Meta RPC address")
	startCmd.Flags().String("listen-addr", "127.0.0.1:8101", "Address this node advertises to meta")
	startCmd.Flags().String("metrics-addr", "127.0.0.1:9092", "Metrics/health HTTP address")
	startCmd.Flags().String("data-dir", "./data/compactor", "Object-store key prefix for merge output ssts")
	startCmd.Flags().Duration("poll-interval", time.Second, "Interval between GetCompactionTask polls")
	rootCmd.AddCommand(startCmd)
}

func initLogging() {
	level, _ := rootCmd.PersistentFlags().GetString("log-level")
	jsonOut, _ := rootCmd.PersistentFlags().GetBool("log-json")
	log.Init(log.Config{Level: log.Level(level), JSONOutput: jsonOut})
}

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Register with meta and start polling for compaction work",
	RunE: func(cmd *cobra.Command, args []string) error {
		nodeID, _ := cmd.Flags().GetString("node-id")
		metaAddr, _ := cmd.Flags().GetString("meta-addr")
		listenAddr, _ := cmd.Flags().GetString("listen-addr")
		metricsAddr, _ := cmd.Flags().GetString("metrics-addr")
		dataDir, _ := cmd.Flags().GetString("data-dir")
		pollInterval, _ := cmd.Flags().GetDuration("poll-interval")

		client, err := rpc.Dial(metaAddr)
		if err != nil {
			return fmt.Errorf("dial meta: %w", err)
		}
		defer client.Close()

		host, port, err := parseHostPort(listenAddr)
		if err != nil {
			return err
		}
		ctx := context.Background()
		if _, err := client.RegisterWorker(ctx, &rpc.RegisterWorkerRequest{
			ID: nodeID, Kind: "compactor", Host: host, Port: port,
		}); err != nil {
			return fmt.Errorf("register with meta: %w", err)
		}
		if _, err := client.Activate(ctx, &rpc.ActivateRequest{ID: nodeID}); err != nil {
			log.WithComponent("compactor").Warn().Err(err).Msg("activate call failed")
		}

		store := objectstore.NewMemStore()
		executor := compaction.NewExecutor(store, dataDir)

		go pollLoop(client, executor, nodeID, pollInterval)

		metrics.SetVersion(Version)
		metrics.RegisterComponent("meta-link", true, "registered")
		http.Handle("/metrics", metrics.Handler())
		http.Handle("/health", metrics.HealthHandler())
		http.Handle("/ready", metrics.ReadyHandler())
		http.Handle("/live", metrics.LivenessHandler())
		log.WithComponent("compactor").Info().Str("node_id", nodeID).Str("addr", metricsAddr).Msg("compactor node ready")
		return http.ListenAndServe(metricsAddr, nil)
	},
}

func pollLoop(client *rpc.Client, executor *compaction.Executor, nodeID string, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for range ticker.C {
		ctx, cancel := context.WithTimeout(context.Background(), interval)
		resp, err := client.GetCompactionTask(ctx, nodeID)
		cancel()
		if err != nil {
			log.WithComponent("compactor").Warn().Err(err).Msg("poll failed")
			continue
		}
		if resp.Task == nil {
			continue
		}
		runTask(client, executor, resp.Task)
	}
}

func runTask(client *rpc.Client, executor *compaction.Executor, task *compaction.Task) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	outputs, err := executor.Run(ctx, task)
	status := compaction.TaskSucceeded
	if err != nil {
		log.WithComponent("compactor").Error().Err(err).Uint64("task_id", task.ID).Msg("compaction task failed")
		status = compaction.TaskFailed
	}

	reportCtx, reportCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer reportCancel()
	if _, err := client.ReportCompactionTask(reportCtx, &rpc.ReportCompactionTaskRequest{
		TaskID: task.ID, Status: string(status), Outputs: outputs,
	}); err != nil {
		log.WithComponent("compactor").Error().Err(err).Uint64("task_id", task.ID).Msg("report compaction task failed")
	}
}

func parseHostPort(addr string) (string, int, error) {
	var host string
	var port int
	if _, err := fmt.Sscanf(addr, "%[^:]:%d", &host, &port); err != nil {
		return "", 0, fmt.Errorf("parse listen address %q: %w", addr, err)
	}
	return host, port, nil
}
