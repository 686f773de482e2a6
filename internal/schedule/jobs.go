package schedule

import (
	"context"
	"log/slog"
)

// Job names.
const (
	JobKnowledgeRefresh = "knowledge_refresh"
	JobDedupSweep       = "dedup_sweep"
)

// KnowledgeRefresher reloads the cached knowledge base.
type KnowledgeRefresher interface {
	RefreshKnowledge(ctx context.Context) error
}

// DedupSweeper drops expired inbound dedup keys.
type DedupSweeper interface {
	SweepDedup() int
}

// KnowledgeRefreshJob reloads the knowledge base on its cron schedule.
func KnowledgeRefreshJob(spec string, refresher KnowledgeRefresher) Job {
	return Job{
		Name: JobKnowledgeRefresh,
		Spec: spec,
		Run:  refresher.RefreshKnowledge,
	}
}

// DedupSweepJob prunes the inbound dedup map on its cron schedule.
func DedupSweepJob(log *slog.Logger, spec string, sweeper DedupSweeper) Job {
	if log == nil {
		log = slog.Default()
	}
	return Job{
		Name: JobDedupSweep,
		Spec: spec,
		Run: func(context.Context) error {
			if removed := sweeper.SweepDedup(); removed > 0 {
				log.Debug("dedup keys swept", slog.Int("removed", removed))
			}
			return nil
		},
	}
}
