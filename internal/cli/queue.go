package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"slices"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/jdziat/durable-queue/pkg/core"
	"github.com/jdziat/durable-queue/pkg/queue"
)

func newQueueCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and control queues",
	}
	cmd.AddCommand(
		newQueueStatsCommand(a),
		newQueueHistoryCommand(a),
		newQueueClearCommand(a),
		newQueuePauseCommand(a, true),
		newQueuePauseCommand(a, false),
	)
	return cmd
}

func newQueueStatsCommand(a *app) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "stats [queue]",
		Short: "Show pending, delayed, reserved and failed counts",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withQueue(cmd, func(ctx context.Context, q *queue.Queue) error {
				var stats []core.QueueStats
				if len(args) == 1 {
					s, err := q.Stats(ctx, args[0])
					if err != nil {
						return err
					}
					stats = []core.QueueStats{s}
				} else {
					var err error
					if stats, err = q.AllStats(ctx); err != nil {
						return err
					}
				}
				paused, err := q.PausedQueues(ctx)
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd.OutOrStdout(), stats)
				}
				return writeStats(cmd.OutOrStdout(), stats, paused)
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON instead of a table")
	return cmd
}

func writeStats(out io.Writer, stats []core.QueueStats, paused []string) error {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "QUEUE\tPENDING\tDELAYED\tRESERVED\tFAILED\tPAUSED")
	for _, s := range stats {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%d\t%t\n",
			s.Queue, s.Pending, s.Delayed, s.Reserved, s.Failed, slices.Contains(paused, s.Queue))
	}
	return tw.Flush()
}

func newQueueHistoryCommand(a *app) *cobra.Command {
	var since time.Duration
	cmd := &cobra.Command{
		Use:   "history <queue>",
		Short: "Show per-minute metrics recorded by workers",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withQueue(cmd, func(ctx context.Context, q *queue.Queue) error {
				now := q.Now()
				rows, err := a.stats.GetStatsHistory(ctx, args[0], now.Add(-since), now)
				if err != nil {
					return err
				}
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "MINUTE\tQUEUED\tCOMPLETED\tFAILED\tRETRIED\tRECOVERED\tPENDING\tMAX_MS")
				for _, r := range rows {
					fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%d\t%d\t%d\t%d\n",
						r.Timestamp.Format(time.DateTime), r.Queued, r.Completed, r.Failed,
						r.Retried, r.Recovered, r.Pending, r.MaxDurationMs)
				}
				return tw.Flush()
			})
		},
	}
	cmd.Flags().DurationVar(&since, "since", time.Hour, "How far back to look")
	return cmd
}

func newQueueClearCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "clear <queue>",
		Short: "Delete every live job of a queue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withQueue(cmd, func(ctx context.Context, q *queue.Queue) error {
				n, err := q.ClearQueue(ctx, args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "cleared %d jobs from %s\n", n, args[0])
				return nil
			})
		},
	}
}

func newQueuePauseCommand(a *app, pause bool) *cobra.Command {
	use, short, verb := "resume <queue>", "Resume a paused queue", "resumed"
	if pause {
		use, short, verb = "pause <queue>", "Stop workers from claiming jobs of a queue", "paused"
	}
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withQueue(cmd, func(ctx context.Context, q *queue.Queue) error {
				var err error
				if pause {
					err = q.PauseQueue(ctx, args[0])
				} else {
					err = q.ResumeQueue(ctx, args[0])
				}
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", verb, args[0])
				return nil
			})
		},
	}
}

func writeJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
