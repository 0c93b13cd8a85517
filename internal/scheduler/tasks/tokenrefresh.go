// Package tasks wires the recurring jobs into the scheduler.
package tasks

import (
	"context"
	"time"

	"github.com/bridgearr/bridgearr/internal/scheduler"
)

// CredentialRefresher keeps the debrid bearer token valid.
type CredentialRefresher interface {
	EnsureValid(ctx context.Context) error
}

// RegisterTokenRefresh schedules the credential check. The refresher
// only talks to the token endpoint when the stored credential is
// missing or close to expiry, so a short interval is cheap.
func RegisterTokenRefresh(sched *scheduler.Scheduler, refresher CredentialRefresher) error {
	return sched.RegisterTask(scheduler.TaskConfig{
		ID:          "token-refresh",
		Name:        "Refresh Debrid Credentials",
		Description: "Keeps the debrid access token valid, refreshing it before expiry",
		Interval:    10 * time.Minute,
		RunOnStart:  true,
		Func:        refresher.EnsureValid,
	})
}
