package cli

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/jdziat/durable-queue/pkg/core"
	"github.com/jdziat/durable-queue/pkg/queue"
)

func newFailedCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "failed",
		Short: "Inspect, retry and delete failed jobs",
	}
	cmd.AddCommand(
		newFailedListCommand(a),
		newFailedRetryCommand(a),
		newFailedDeleteCommand(a),
		newFailedClearCommand(a),
	)
	return cmd
}

func newFailedListCommand(a *app) *cobra.Command {
	var (
		filter core.FailedFilter
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List failed jobs, most recent first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withQueue(cmd, func(ctx context.Context, q *queue.Queue) error {
				jobs, err := q.ListFailed(ctx, filter)
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd.OutOrStdout(), jobs)
				}
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "ID\tQUEUE\tTYPE\tATTEMPTS\tFAILED_AT\tERROR")
				for _, f := range jobs {
					fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\t%s\n",
						f.ID, f.Queue, f.Type, f.Attempts, f.FailedAt.Format(time.DateTime), firstLine(f.Exception))
				}
				return tw.Flush()
			})
		},
	}
	f := cmd.Flags()
	f.StringVar(&filter.Queue, "queue", "", "Only this queue")
	f.IntVar(&filter.Limit, "limit", 50, "Maximum jobs to list")
	f.IntVar(&filter.Offset, "offset", 0, "Jobs to skip")
	f.BoolVar(&asJSON, "json", false, "Print JSON instead of a table")
	return cmd
}

func newFailedRetryCommand(a *app) *cobra.Command {
	var (
		all       bool
		queueName string
	)
	cmd := &cobra.Command{
		Use:   "retry [job-id]",
		Short: "Push failed jobs back onto their queues",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if all == (len(args) == 1) {
				return errors.New("give either a job id or --all")
			}
			return a.withQueue(cmd, func(ctx context.Context, q *queue.Queue) error {
				if all {
					n, err := q.RetryAllFailed(ctx, queueName)
					fmt.Fprintf(cmd.OutOrStdout(), "retried %d jobs\n", n)
					return err
				}
				job, err := q.RetryFailed(ctx, args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "retried %s on %s\n", job.ID, job.Queue)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "Retry every failed job")
	cmd.Flags().StringVar(&queueName, "queue", "", "With --all, only this queue")
	return cmd
}

func newFailedDeleteCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <job-id>",
		Short: "Delete one failed job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withQueue(cmd, func(ctx context.Context, q *queue.Queue) error {
				ok, err := q.DeleteFailed(ctx, args[0])
				if err != nil {
					return err
				}
				if !ok {
					return fmt.Errorf("%w: %s", core.ErrJobNotFound, args[0])
				}
				fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", args[0])
				return nil
			})
		},
	}
}

func newFailedClearCommand(a *app) *cobra.Command {
	var queueName string
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete every failed job",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withQueue(cmd, func(ctx context.Context, q *queue.Queue) error {
				n, err := q.ClearFailed(ctx, queueName)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "deleted %d failed jobs\n", n)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&queueName, "queue", "", "Only this queue")
	return cmd
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(s, "\n")
	return line
}
