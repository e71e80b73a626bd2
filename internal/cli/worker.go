package cli

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"slices"

	"github.com/spf13/cobra"

	"github.com/jdziat/durable-queue/internal/config"
	"github.com/jdziat/durable-queue/pkg/batch"
	"github.com/jdziat/durable-queue/pkg/chain"
	"github.com/jdziat/durable-queue/pkg/metrics"
	"github.com/jdziat/durable-queue/pkg/recovery"
	"github.com/jdziat/durable-queue/pkg/worker"
)

func newWorkerCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Process jobs until stopped",
		Long: "Process jobs from the given queues, highest priority first.\n\n" +
			"SIGINT or SIGTERM stops after the current job; a second one aborts it.\n" +
			"SIGUSR2 pauses polling and SIGCONT resumes it.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			applyWorkerFlags(cmd, &a.cfg)
			return a.runWorker(cmd.Context())
		},
	}
	f := cmd.Flags()
	f.StringSlice("queue", nil, "Queues to poll in priority order (repeatable or comma separated)")
	f.Duration("sleep", 0, "Sleep between polls while paused")
	f.Duration("idle-delay", 0, "Sleep after a poll that found no job")
	f.Int("max-jobs", 0, "Stop after this many jobs (0 = unlimited)")
	f.Duration("max-time", 0, "Stop after running this long (0 = unlimited)")
	f.Int("memory", 0, "Stop when process memory exceeds this many MB (0 = unlimited)")
	f.Duration("timeout", 0, "Default per-job timeout")
	f.Duration("rest", 0, "Sleep after each job")
	f.Bool("force", false, "Process paused queues too")
	f.Bool("monitor", false, "Record memory use on completed jobs")
	f.Bool("recovery", false, "Run the recovery loop in this process")
	f.Bool("metrics", false, "Collect and persist queue metrics in this process")
	return cmd
}

// applyWorkerFlags overrides the loaded configuration with changed flags.
func applyWorkerFlags(cmd *cobra.Command, cfg *config.Config) {
	f := cmd.Flags()
	w := &cfg.Worker
	if f.Changed("queue") {
		w.Queues, _ = f.GetStringSlice("queue")
	}
	duration := func(name string, dst *config.Duration) {
		if f.Changed(name) {
			d, _ := f.GetDuration(name)
			*dst = config.Duration(d)
		}
	}
	duration("sleep", &w.Sleep)
	duration("idle-delay", &w.IdleDelay)
	duration("max-time", &w.MaxTime)
	duration("timeout", &w.Timeout)
	duration("rest", &w.Rest)
	if f.Changed("max-jobs") {
		w.MaxJobs, _ = f.GetInt("max-jobs")
	}
	if f.Changed("memory") {
		w.MemoryMB, _ = f.GetInt("memory")
	}
	if f.Changed("force") {
		w.Force, _ = f.GetBool("force")
	}
	if f.Changed("monitor") {
		w.Monitor, _ = f.GetBool("monitor")
	}
	if f.Changed("recovery") {
		cfg.Recovery.Enabled, _ = f.GetBool("recovery")
	}
	if f.Changed("metrics") {
		cfg.Metrics.Enabled, _ = f.GetBool("metrics")
	}
}

// runWorker runs one worker with the orchestrators, recovery and metrics
// the configuration enables. It returns nil on a graceful stop.
func (a *app) runWorker(parent context.Context) error {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	if err := a.open(ctx); err != nil {
		return errors.Join(err, a.close())
	}
	defer a.close()
	q := a.queue

	chain.New(q)
	batch.New(q)

	if a.cfg.Recovery.Enabled {
		recovery.NewPersister(q, a.cfg.Recovery.PersistOptions()...)
		rec := recovery.NewRecoverer(q, append(a.cfg.Recovery.Options(), recovery.WithLogger(a.logger))...)
		if err := rec.Start(ctx); err != nil {
			return err
		}
		defer rec.Stop()
	}

	if a.cfg.Metrics.Enabled {
		col := metrics.NewCollector(q, a.stats, append(a.cfg.Metrics.Options(), metrics.WithLogger(a.logger))...)
		colCtx, colCancel := context.WithCancel(context.WithoutCancel(ctx))
		done := make(chan struct{})
		go func() {
			defer close(done)
			col.Start(colCtx)
		}()
		col.WaitReady()
		defer func() {
			colCancel()
			<-done
		}()
	}

	w := worker.NewWorker(q, append(a.cfg.Worker.Options(), worker.WithLogger(a.logger))...)
	stop := watchSignals(w, cancel, a.logger)
	defer stop()

	err := w.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	a.logger.Info("worker exited", "worker_id", w.ID(), "processed", w.Processed())
	return nil
}

// watchSignals maps process signals onto the worker: the first shutdown
// signal stops it after the current job, the second cancels the job. It
// returns a function that stops watching.
func watchSignals(w *worker.Worker, cancel context.CancelFunc, logger *slog.Logger) func() {
	ch := make(chan os.Signal, 4)
	watched := slices.Clone(shutdownSignals)
	for sig := range controlSignals {
		watched = append(watched, sig)
	}
	signal.Notify(ch, watched...)

	done := make(chan struct{})
	go func() {
		stopping := false
		for {
			select {
			case <-done:
				return
			case sig := <-ch:
				if control, ok := controlSignals[sig]; ok {
					logger.Info("signal received", "signal", sig.String())
					control(w)
					continue
				}
				if stopping {
					logger.Warn("second shutdown signal, aborting current job", "signal", sig.String())
					cancel()
					continue
				}
				stopping = true
				logger.Info("shutdown requested, finishing current job", "signal", sig.String())
				w.Stop()
			}
		}
	}()

	return func() {
		signal.Stop(ch)
		close(done)
	}
}
