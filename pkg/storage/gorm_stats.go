package storage

import (
	"context"
	"sort"

	"github.com/jdziat/durable-queue/pkg/core"
)

// Stats returns live counts for queue.
func (s *GormStorage) Stats(ctx context.Context, queue string) (core.QueueStats, error) {
	all, err := s.AllStats(ctx)
	if err != nil {
		return core.QueueStats{}, err
	}
	for _, st := range all {
		if st.Queue == queue {
			return st, nil
		}
	}
	return core.QueueStats{Queue: queue}, nil
}

// AllStats returns live counts for every queue with jobs or failures,
// sorted by queue name.
func (s *GormStorage) AllStats(ctx context.Context) ([]core.QueueStats, error) {
	type row struct {
		Queue    string
		Reserved bool
		Delayed  bool
		Count    int64
	}
	now := s.now()
	var rows []row
	err := s.db.WithContext(ctx).
		Table("jobs").
		Select("queue, reserved, available_at > ? AS delayed, count(*) AS count", now).
		Group("queue, reserved, delayed").
		Scan(&rows).Error
	if err != nil {
		return nil, core.Infra("stats", err)
	}

	statsMap := make(map[string]*core.QueueStats)
	get := func(queue string) *core.QueueStats {
		qs, ok := statsMap[queue]
		if !ok {
			qs = &core.QueueStats{Queue: queue}
			statsMap[queue] = qs
		}
		return qs
	}
	for _, r := range rows {
		qs := get(r.Queue)
		switch {
		case r.Reserved:
			qs.Reserved += r.Count
		case r.Delayed:
			qs.Delayed += r.Count
		default:
			qs.Pending += r.Count
		}
	}

	type failedRow struct {
		Queue string
		Count int64
	}
	var failed []failedRow
	err = s.db.WithContext(ctx).
		Table("failed_jobs").
		Select("queue, count(*) AS count").
		Group("queue").
		Scan(&failed).Error
	if err != nil {
		return nil, core.Infra("stats", err)
	}
	for _, f := range failed {
		get(f.Queue).Failed += f.Count
	}

	result := make([]core.QueueStats, 0, len(statsMap))
	for _, qs := range statsMap {
		result = append(result, *qs)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Queue < result[j].Queue })
	return result, nil
}

// Queues lists every queue that has live jobs or a pause flag.
func (s *GormStorage) Queues(ctx context.Context) ([]string, error) {
	var live []string
	if err := s.db.WithContext(ctx).Model(&core.Job{}).Distinct("queue").Pluck("queue", &live).Error; err != nil {
		return nil, core.Infra("queues", err)
	}
	var flagged []string
	if err := s.db.WithContext(ctx).Model(&core.QueueState{}).Pluck("queue", &flagged).Error; err != nil {
		return nil, core.Infra("queues", err)
	}

	seen := make(map[string]bool, len(live)+len(flagged))
	var queues []string
	for _, q := range append(live, flagged...) {
		if !seen[q] {
			seen[q] = true
			queues = append(queues, q)
		}
	}
	sort.Strings(queues)
	return queues, nil
}
