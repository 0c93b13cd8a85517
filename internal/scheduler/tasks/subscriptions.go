package tasks

import (
	"context"
	"time"

	"github.com/bridgearr/bridgearr/internal/scheduler"
)

// SubscriptionRechecker re-runs the episode flow for seasons still
// airing.
type SubscriptionRechecker interface {
	Recheck(ctx context.Context) error
}

// RegisterShowSubscriptions schedules the pass over all seasons
// tracked as partially aired.
func RegisterShowSubscriptions(sched *scheduler.Scheduler, tracker SubscriptionRechecker, interval time.Duration) error {
	return sched.RegisterTask(scheduler.TaskConfig{
		ID:          "show-subscriptions",
		Name:        "Recheck Show Subscriptions",
		Description: "Retries failed episodes and picks up newly aired ones for partially aired seasons",
		Interval:    interval,
		Func:        tracker.Recheck,
	})
}
