package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"server/internal/domain"
	"server/internal/providers/video"
)

// poller drives the status side of a long-running provider job. The first
// check fires immediately, then at fixed Interval until a terminal state or
// the attempt Budget runs out.
type poller struct {
	status   video.StatusEndpoint
	interval time.Duration
	budget   int
	retry    retryPolicy
}

// wait polls the task handle to a terminal state and returns the provider's
// ephemeral artifact URL.
//
//   - a failed job returns ErrProviderFailure with the provider's message
//   - the no-resource answer returns ErrProviderBusy; the job never ran
//   - an exhausted budget returns ErrPollTimeout; the job may still finish,
//     so the caller keeps the handle for a later re-attach
//   - cancellation returns the cancel cause, ErrStopped on user stop
func (p *poller) wait(ctx context.Context, handle string) (string, error) {
	if handle == "" {
		return "", fmt.Errorf("poll: empty task handle")
	}
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for attempt := 0; attempt < p.budget; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return "", cancelCause(ctx)
			case <-ticker.C:
			}
		}

		var res *video.StatusResult
		err := p.retry.call(ctx, func(ctx context.Context) error {
			var serr error
			res, serr = p.status.Status(ctx, handle)
			return serr
		})
		if err != nil {
			if ctx.Err() != nil {
				return "", cancelCause(ctx)
			}
			return "", err
		}

		switch res.State {
		case video.TaskSucceeded:
			if res.ArtifactURL == "" {
				return "", fmt.Errorf("%w: job finished without artifact", domain.ErrProviderFailure)
			}
			return res.ArtifactURL, nil
		case video.TaskFailed:
			return "", fmt.Errorf("%w: %s", domain.ErrProviderFailure, res.Message)
		case video.TaskUnavailable:
			return "", fmt.Errorf("%w: %s", domain.ErrProviderBusy, res.Message)
		}
	}
	return "", fmt.Errorf("%w: %d attempts", domain.ErrPollTimeout, p.budget)
}

// cancelCause extracts the reason a run context was torn down. User stops
// cancel with ErrStopped as the cause; everything else keeps ctx.Err.
func cancelCause(ctx context.Context) error {
	if cause := context.Cause(ctx); cause != nil && !errors.Is(cause, context.Canceled) {
		return cause
	}
	return ctx.Err()
}
