// Command tidestream-ctl is an operator CLI for inspecting and driving a
// running cluster: manually pinning/unpinning snapshots and polling meta for
// a compaction task, mirroring the teacher's warren node/service inspection
// subcommands against this system's meta RPCs instead.
package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/tidestream/tidestream/pkg/rpc"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "tidestream-ctl",
	Short: "Inspect and drive a Tidestream cluster",
}

func init() {
	rootCmd.PersistentFlags().String("meta-addr", "127.0.0.1:7001", "Meta RPC address")
	rootCmd.AddCommand(pinSnapshotCmd, unpinSnapshotCmd, compactionCmd)
}

func dial(cmd *cobra.Command) (*rpc.Client, error) {
	addr, _ := cmd.Flags().GetString("meta-addr")
	return rpc.Dial(addr)
}

var pinSnapshotCmd = &cobra.Command{
	Use:   "pin-snapshot",
	Short: "Pin the current max committed epoch",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := dial(cmd)
		if err != nil {
			return err
		}
		defer client.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		resp, err := client.PinSnapshot(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("pinned epoch %d\n", resp.Epoch)
		return nil
	},
}

var unpinSnapshotCmd = &cobra.Command{
	Use:   "unpin-snapshot EPOCH",
	Short: "Release every pin at or below EPOCH",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var epoch uint64
		if _, err := fmt.Sscanf(args[0], "%d", &epoch); err != nil {
			return fmt.Errorf("invalid epoch %q: %w", args[0], err)
		}
		client, err := dial(cmd)
		if err != nil {
			return err
		}
		defer client.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if _, err := client.UnpinSnapshotBefore(ctx, epoch); err != nil {
			return err
		}
		fmt.Printf("unpinned snapshots <= %d\n", epoch)
		return nil
	},
}

var compactionCmd = &cobra.Command{
	Use:   "compaction-task WORKER_ID",
	Short: "Manually poll meta for a compaction task, as the given worker",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := dial(cmd)
		if err != nil {
			return err
		}
		defer client.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		resp, err := client.GetCompactionTask(ctx, args[0])
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		defer w.Flush()
		if resp.Task == nil {
			fmt.Fprintln(w, "no pending task")
			return nil
		}
		fmt.Fprintf(w, "task_id\tstatus\tinputs\n")
		fmt.Fprintf(w, "%d\t%s\t%d\n", resp.Task.ID, resp.Task.Status, len(resp.Task.Input.InputSsts))
		return nil
	},
}
