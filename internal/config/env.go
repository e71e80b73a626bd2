package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// FromEnv overlays DQ_* environment variables onto cfg. Values that do not
// parse are ignored.
func FromEnv(cfg *Config) {
	str("DQ_DB_DRIVER", &cfg.Database.Driver)
	str("DQ_DB_DSN", &cfg.Database.DSN)
	integer("DQ_DB_MAX_OPEN_CONNS", &cfg.Database.MaxOpenConns)
	integer("DQ_DB_MAX_IDLE_CONNS", &cfg.Database.MaxIdleConns)

	str("DQ_PEBBLE_DIR", &cfg.Pebble.DataDir)
	str("DQ_PEBBLE_FSYNC", &cfg.Pebble.Fsync)
	list("DQ_PEBBLE_QUEUES", &cfg.Pebble.Queues)

	list("DQ_WORKER_QUEUES", &cfg.Worker.Queues)
	duration("DQ_WORKER_SLEEP", &cfg.Worker.Sleep)
	duration("DQ_WORKER_IDLE_DELAY", &cfg.Worker.IdleDelay)
	integer("DQ_WORKER_MAX_JOBS", &cfg.Worker.MaxJobs)
	duration("DQ_WORKER_MAX_TIME", &cfg.Worker.MaxTime)
	integer("DQ_WORKER_MEMORY", &cfg.Worker.MemoryMB)
	duration("DQ_WORKER_TIMEOUT", &cfg.Worker.Timeout)
	duration("DQ_WORKER_REST", &cfg.Worker.Rest)
	boolean("DQ_WORKER_FORCE", &cfg.Worker.Force)
	boolean("DQ_WORKER_MONITOR", &cfg.Worker.Monitor)

	boolean("DQ_RECOVERY_ENABLED", &cfg.Recovery.Enabled)
	boolean("DQ_RECOVERY_PERSIST_ON_DISPATCH", &cfg.Recovery.PersistOnDispatch)
	str("DQ_RECOVERY_STRATEGY", &cfg.Recovery.Strategy)
	duration("DQ_RECOVERY_INTERVAL", &cfg.Recovery.Interval)
	integer("DQ_RECOVERY_MAX_ATTEMPTS", &cfg.Recovery.MaxAttempts)
	duration("DQ_RECOVERY_DELAY", &cfg.Recovery.Delay)
	duration("DQ_RECOVERY_STUCK_AFTER", &cfg.Recovery.StuckAfter)

	boolean("DQ_METRICS_ENABLED", &cfg.Metrics.Enabled)
	duration("DQ_METRICS_FLUSH_INTERVAL", &cfg.Metrics.FlushInterval)

	str("DQ_LOG_LEVEL", &cfg.Log.Level)
	str("DQ_LOG_FORMAT", &cfg.Log.Format)
}

func str(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func integer(key string, dst *int) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func boolean(key string, dst *bool) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func duration(key string, dst *Duration) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = Duration(d)
		}
	}
}

func list(key string, dst *[]string) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	*dst = nil
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			*dst = append(*dst, p)
		}
	}
}
