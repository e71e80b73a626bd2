package cli

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/jdziat/durable-queue/pkg/queue"
)

// Option configures the root command.
type Option interface {
	apply(*app)
}

type optionFunc func(*app)

func (f optionFunc) apply(a *app) { f(a) }

// WithSetup adds a function run on the queue before every command.
func WithSetup(fn SetupFunc) Option {
	return optionFunc(func(a *app) {
		a.setup = append(a.setup, fn)
	})
}

// errUnhealthy makes dq health exit non-zero without printing an error.
var errUnhealthy = errors.New("unhealthy")

// NewRoot constructs the dq root command with every subcommand.
func NewRoot(opts ...Option) *cobra.Command {
	a := &app{}
	for _, opt := range opts {
		opt.apply(a)
	}

	root := &cobra.Command{
		Use:           "dq",
		Short:         "Durable job queue worker and operator CLI",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.load(cmd)
		},
	}
	pf := root.PersistentFlags()
	pf.String("config", "", "Path to a JSON config file")
	pf.String("driver", "", "Database driver: sqlite or postgres")
	pf.String("dsn", "", "Database connection string")
	pf.String("log-level", "", "Log level: debug, info, warn, error")
	pf.String("log-format", "", "Log format: text or json")
	pf.String("pebble-dir", "", "Pebble data directory")
	pf.StringSlice("pebble-queue", nil, "Queues stored in pebble (repeatable)")

	root.AddCommand(
		newWorkerCommand(a),
		newSubmitCommand(a),
		newQueueCommand(a),
		newFailedCommand(a),
		newReleaseStuckCommand(a),
		newRecoverCommand(a),
		newHealthCommand(a),
		newMigrateCommand(a),
	)
	return root
}

// Execute runs root and returns the process exit code.
func Execute(root *cobra.Command) int {
	if err := root.ExecuteContext(context.Background()); err != nil {
		if !errors.Is(err, errUnhealthy) {
			fmt.Fprintln(os.Stderr, "dq:", err)
		}
		return 1
	}
	return 0
}

func newMigrateCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database tables",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withQueue(cmd, func(_ context.Context, _ *queue.Queue) error {
				fmt.Fprintln(cmd.OutOrStdout(), "schema up to date")
				return nil
			})
		},
	}
}
