package workers

import (
	"context"
	"fmt"
	"time"

	"lane-battle/logging"
	"lane-battle/models"

	"go.uber.org/zap"
)

// DueQueue is the due-time index of running matches.
type DueQueue interface {
	PopDue(ctx context.Context, now time.Time, limit int) ([]int64, error)
	Schedule(ctx context.Context, matchID int64, at time.Time) error
}

// Settler finalizes matches.
type Settler interface {
	FinishFromLive(ctx context.Context, matchID int64, reason models.EndReason, forced models.Winner) (bool, error)
	FinalizeOverdue(ctx context.Context) (int, error)
}

// DeadlineSweeper ends matches whose timer ran out.
type DeadlineSweeper struct {
	queue      DueQueue
	settler    Settler
	batch      int
	retryDelay time.Duration
	now        func() time.Time
}

func NewDeadlineSweeper(queue DueQueue, settler Settler, batch int) *DeadlineSweeper {
	if batch < 1 {
		batch = 100
	}
	return &DeadlineSweeper{
		queue:      queue,
		settler:    settler,
		batch:      batch,
		retryDelay: time.Second,
		now:        time.Now,
	}
}

// Run pops every due match and settles it with reason TIMEOUT. A match that
// fails to settle is put back so a later run retries it.
func (w *DeadlineSweeper) Run(ctx context.Context) (int, error) {
	now := w.now()
	ids, err := w.queue.PopDue(ctx, now, w.batch)
	if err != nil {
		return 0, fmt.Errorf("pop due matches: %w", err)
	}

	finished := 0
	for _, id := range ids {
		ok, err := w.finish(ctx, id)
		if err != nil {
			logging.Error("timeout settlement failed", zap.Int64("match_id", id), zap.Error(err))
			if err := w.queue.Schedule(ctx, id, now.Add(w.retryDelay)); err != nil {
				logging.Error("failed to requeue match", zap.Int64("match_id", id), zap.Error(err))
			}
			continue
		}
		if ok {
			finished++
		}
	}
	return finished, nil
}

func (w *DeadlineSweeper) finish(ctx context.Context, id int64) (ok bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic settling match %d: %v", id, r)
		}
	}()
	return w.settler.FinishFromLive(ctx, id, models.ReasonTimeout, "")
}

// Reconcile settles running matches the due index lost track of.
func (w *DeadlineSweeper) Reconcile(ctx context.Context) (int, error) {
	n, err := w.settler.FinalizeOverdue(ctx)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		logging.Warn("finalized overdue matches", zap.Int("count", n))
	}
	return n, nil
}
