package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/jdziat/durable-queue/pkg/queue"
)

func newSubmitCommand(a *app) *cobra.Command {
	var (
		name     string
		delay    time.Duration
		priority int
		attempts int
		unique   bool
	)
	cmd := &cobra.Command{
		Use:   "submit <job-type> [json-args]",
		Short: "Submit one job; the handler must be registered in this binary",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var payload any
			if len(args) == 2 {
				if !json.Valid([]byte(args[1])) {
					return fmt.Errorf("arguments are not valid JSON: %s", args[1])
				}
				payload = json.RawMessage(args[1])
			}
			var opts []queue.Option
			if priority != 0 {
				opts = append(opts, queue.Priority(priority))
			}
			if name != "" {
				opts = append(opts, queue.QueueOpt(name))
			}
			if delay > 0 {
				opts = append(opts, queue.Delay(delay))
			}
			if attempts > 0 {
				opts = append(opts, queue.MaxAttempts(attempts))
			}
			if unique {
				opts = append(opts, queue.Unique())
			}
			return a.withQueue(cmd, func(ctx context.Context, q *queue.Queue) error {
				id, err := q.Submit(ctx, args[0], payload, opts...)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), id)
				return nil
			})
		},
	}
	f := cmd.Flags()
	f.StringVar(&name, "queue", "", "Queue to submit to")
	f.DurationVar(&delay, "delay", 0, "Make the job available after this long")
	f.IntVar(&priority, "priority", 0, "Job priority; higher runs first")
	f.IntVar(&attempts, "max-attempts", 0, "Attempt budget (0 = queue default)")
	f.BoolVar(&unique, "unique", false, "Return the existing job for identical arguments")
	return cmd
}
