package metrics

import (
	"context"
	"fmt"

	"github.com/jdziat/durable-queue/pkg/queue"
)

// Thresholds bound a healthy queue. Zero disables a check.
type Thresholds struct {
	// MaxDepth is the most ready jobs a queue may hold.
	MaxDepth int64
	// MaxFailed is the most failed jobs a queue may have.
	MaxFailed int64
}

// Check is the result of one health check.
type Check struct {
	Name    string `json:"name"`
	Healthy bool   `json:"healthy"`
	Detail  string `json:"detail,omitempty"`
}

// HealthReport collects the checks of one Health call.
type HealthReport struct {
	Healthy bool    `json:"healthy"`
	Checks  []Check `json:"checks"`
}

func (r *HealthReport) add(c Check) {
	r.Checks = append(r.Checks, c)
	if !c.Healthy {
		r.Healthy = false
	}
}

// Health checks the collector's queue against its thresholds.
func (c *Collector) Health(ctx context.Context) HealthReport {
	return CheckHealth(ctx, c.queue, c.thresholds)
}

// CheckHealth pings the store of q and compares every queue's depth and
// failed count with t.
func CheckHealth(ctx context.Context, q *queue.Queue, t Thresholds) HealthReport {
	rep := HealthReport{Healthy: true}

	if err := q.Storage().Ping(ctx); err != nil {
		rep.add(Check{Name: "storage", Detail: err.Error()})
		return rep
	}
	rep.add(Check{Name: "storage", Healthy: true})

	stats, err := q.AllStats(ctx)
	if err != nil {
		rep.add(Check{Name: "stats", Detail: err.Error()})
		return rep
	}
	for _, st := range stats {
		if t.MaxDepth > 0 {
			rep.add(Check{
				Name:    "depth:" + st.Queue,
				Healthy: st.Pending <= t.MaxDepth,
				Detail:  fmt.Sprintf("%d ready, limit %d", st.Pending, t.MaxDepth),
			})
		}
		if t.MaxFailed > 0 {
			rep.add(Check{
				Name:    "failed:" + st.Queue,
				Healthy: st.Failed <= t.MaxFailed,
				Detail:  fmt.Sprintf("%d failed, limit %d", st.Failed, t.MaxFailed),
			})
		}
	}
	return rep
}
