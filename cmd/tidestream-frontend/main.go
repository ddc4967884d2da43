// Command tidestream-frontend is a stub postgres-wire listener: per
// spec.md §6 "Out of scope" there is no SQL parser/planner in this repo,
// so this binary only demonstrates wiring pkg/pgwire to a handler that pins
// a Hummock snapshot epoch and echoes it with the query text — real query
// planning belongs to a frontend this system doesn't implement.
package main

import (
	"context"
	"fmt"
	"net"
	"os"

	"github.com/spf13/cobra"

	"github.com/tidestream/tidestream/pkg/log"
	"github.com/tidestream/tidestream/pkg/pgwire"
	"github.com/tidestream/tidestream/pkg/rpc"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "tidestream-frontend",
	Short: "Tidestream frontend stub: postgres wire listener with no SQL planner",
}

func init() {
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	cobra.OnInitialize(func() {
		level, _ := rootCmd.PersistentFlags().GetString("log-level")
		log.Init(log.Config{Level: log.Level(level)})
	})

	startCmd.Flags().String("listen-addr", "127.0.0.1:5432", "Postgres wire listen address")
	startCmd.Flags().String("meta-addr", "127.0.0.1:7001", "Meta RPC address")
	rootCmd.AddCommand(startCmd)
}

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the frontend listener",
	RunE: func(cmd *cobra.Command, args []string) error {
		listenAddr, _ := cmd.Flags().GetString("listen-addr")
		metaAddr, _ := cmd.Flags().GetString("meta-addr")

		client, err := rpc.Dial(metaAddr)
		if err != nil {
			return fmt.Errorf("dial meta: %w", err)
		}
		defer client.Close()

		srv := pgwire.NewServer(&snapshotEchoHandler{client: client})
		ln, err := net.Listen("tcp", listenAddr)
		if err != nil {
			return fmt.Errorf("listen %s: %w", listenAddr, err)
		}
		log.WithComponent("frontend").Info().Str("addr", listenAddr).Msg("frontend listening")
		return srv.Serve(ln)
	},
}

// snapshotEchoHandler pins a snapshot epoch on every query and echoes it
// back as a one-row result of two columns (the epoch, then the query text)
// — a placeholder for what a real
// query handler would do once it owned a SQL planner.
type snapshotEchoHandler struct {
	client *rpc.Client
}

func (h *snapshotEchoHandler) Query(ctx context.Context, sql string) ([][]interface{}, error) {
	resp, err := h.client.PinSnapshot(ctx)
	if err != nil {
		return nil, err
	}
	return [][]interface{}{{resp.Epoch, sql}}, nil
}
