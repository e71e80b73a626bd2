package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/jdziat/durable-queue/pkg/metrics"
	"github.com/jdziat/durable-queue/pkg/queue"
	"github.com/jdziat/durable-queue/pkg/recovery"
)

func newReleaseStuckCommand(a *app) *cobra.Command {
	var (
		timeout time.Duration
		name    string
	)
	cmd := &cobra.Command{
		Use:   "release-stuck",
		Short: "Return reservations held longer than --timeout to their queues",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withQueue(cmd, func(ctx context.Context, q *queue.Queue) error {
				n, err := q.ReleaseStuck(ctx, name, timeout)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "released %d stuck jobs\n", n)
				return nil
			})
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", recovery.DefaultStuckAfter, "Reservation age considered stuck")
	cmd.Flags().StringVar(&name, "queue", "", "Only this queue")
	return cmd
}

func newRecoverCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "recover [job-id]",
		Short: "Re-enqueue failed jobs from their snapshots",
		Long: "Without a job id, run one recovery pass: release stuck reservations,\n" +
			"re-enqueue recoverable snapshots and prune old ones. With a job id,\n" +
			"recover that job regardless of its recovery attempts.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withQueue(cmd, func(ctx context.Context, q *queue.Queue) error {
				rec := recovery.NewRecoverer(q, append(a.cfg.Recovery.Options(), recovery.WithLogger(a.logger))...)
				out := cmd.OutOrStdout()
				if len(args) == 1 {
					if err := rec.RecoverJob(ctx, args[0]); err != nil {
						return err
					}
					fmt.Fprintf(out, "recovered %s\n", args[0])
					return nil
				}
				rep, err := rec.RunOnce(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "released %d, recovered %d, skipped %d, failed %d, pruned %d snapshots and %d failed jobs\n",
					rep.Released, rep.Recovered, rep.Skipped, rep.Failed, rep.PrunedSnapshots, rep.PrunedFailed)
				return nil
			})
		},
	}
}

func newHealthCommand(a *app) *cobra.Command {
	var (
		thresholds metrics.Thresholds
		asJSON     bool
	)
	cmd := &cobra.Command{
		Use:   "health",
		Short: "Check storage and queue thresholds; exit 1 when unhealthy",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			f := cmd.Flags()
			if !f.Changed("max-depth") {
				thresholds.MaxDepth = a.cfg.Metrics.MaxDepth
			}
			if !f.Changed("max-failed") {
				thresholds.MaxFailed = a.cfg.Metrics.MaxFailed
			}
			return a.withQueue(cmd, func(ctx context.Context, q *queue.Queue) error {
				rep := metrics.CheckHealth(ctx, q, thresholds)
				out := cmd.OutOrStdout()
				if asJSON {
					if err := writeJSON(out, rep); err != nil {
						return err
					}
				} else {
					for _, c := range rep.Checks {
						status := "ok"
						if !c.Healthy {
							status = "FAIL"
						}
						if c.Detail != "" {
							fmt.Fprintf(out, "%-4s %s: %s\n", status, c.Name, c.Detail)
						} else {
							fmt.Fprintf(out, "%-4s %s\n", status, c.Name)
						}
					}
				}
				if !rep.Healthy {
					return errUnhealthy
				}
				return nil
			})
		},
	}
	cmd.Flags().Int64Var(&thresholds.MaxDepth, "max-depth", 0, "Most ready jobs a queue may hold (0 = no check)")
	cmd.Flags().Int64Var(&thresholds.MaxFailed, "max-failed", 0, "Most failed jobs a queue may have (0 = no check)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON")
	return cmd
}
