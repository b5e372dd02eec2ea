package orchestrator

import (
	"context"
	"errors"
	"testing"
	"time"

	"server/internal/domain"
	"server/internal/providers/video"
)

type scriptedStatus struct {
	results []video.StatusResult
	errs    []error
	calls   int
}

func (s *scriptedStatus) Status(context.Context, string) (*video.StatusResult, error) {
	i := s.calls
	s.calls++
	if i >= len(s.results) {
		i = len(s.results) - 1
	}
	if s.errs != nil && s.errs[i] != nil {
		return nil, s.errs[i]
	}
	res := s.results[i]
	return &res, nil
}

func newTestPoller(status video.StatusEndpoint, interval time.Duration, budget int) *poller {
	return &poller{
		status:   status,
		interval: interval,
		budget:   budget,
		retry:    retryPolicy{Max: 1, Base: time.Millisecond},
	}
}

func TestPollerFirstCheckIsImmediate(t *testing.T) {
	status := &scriptedStatus{results: []video.StatusResult{
		{State: video.TaskSucceeded, ArtifactURL: "https://cdn/clip.mp4"},
	}}
	// An interval far longer than the test proves no initial wait happens.
	p := newTestPoller(status, time.Hour, 5)

	start := time.Now()
	url, err := p.wait(context.Background(), "operations/op")
	if err != nil {
		t.Fatalf("wait error: %v", err)
	}
	if url != "https://cdn/clip.mp4" {
		t.Fatalf("url = %q", url)
	}
	if time.Since(start) > time.Second {
		t.Fatal("first check waited for the interval")
	}
}

func TestPollerPendingThenSucceeded(t *testing.T) {
	status := &scriptedStatus{results: []video.StatusResult{
		{State: video.TaskPending},
		{State: video.TaskPending},
		{State: video.TaskSucceeded, ArtifactURL: "https://cdn/clip.mp4"},
	}}
	p := newTestPoller(status, time.Millisecond, 10)

	url, err := p.wait(context.Background(), "operations/op")
	if err != nil {
		t.Fatalf("wait error: %v", err)
	}
	if url != "https://cdn/clip.mp4" {
		t.Fatalf("url = %q", url)
	}
	if status.calls != 3 {
		t.Fatalf("status calls = %d, want 3", status.calls)
	}
}

func TestPollerBudgetExhaustion(t *testing.T) {
	status := &scriptedStatus{results: []video.StatusResult{{State: video.TaskPending}}}
	p := newTestPoller(status, time.Millisecond, 4)

	_, err := p.wait(context.Background(), "operations/op")
	if !errors.Is(err, domain.ErrPollTimeout) {
		t.Fatalf("expected ErrPollTimeout, got %v", err)
	}
	if status.calls != 4 {
		t.Fatalf("status calls = %d, want exactly the budget", status.calls)
	}
}

func TestPollerTerminalStates(t *testing.T) {
	tests := []struct {
		name string
		res  video.StatusResult
		want error
	}{
		{"failed", video.StatusResult{State: video.TaskFailed, Message: "bad prompt"}, domain.ErrProviderFailure},
		{"unavailable", video.StatusResult{State: video.TaskUnavailable, Message: "no capacity"}, domain.ErrProviderBusy},
		{"succeeded without artifact", video.StatusResult{State: video.TaskSucceeded}, domain.ErrProviderFailure},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newTestPoller(&scriptedStatus{results: []video.StatusResult{tt.res}}, time.Millisecond, 3)
			_, err := p.wait(context.Background(), "operations/op")
			if !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestPollerStopCancelsWithinOneInterval(t *testing.T) {
	status := &scriptedStatus{results: []video.StatusResult{{State: video.TaskPending}}}
	p := newTestPoller(status, 50*time.Millisecond, 1000)

	ctx, cancel := context.WithCancelCause(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel(domain.ErrStopped)
	}()

	start := time.Now()
	_, err := p.wait(ctx, "operations/op")
	if !errors.Is(err, domain.ErrStopped) {
		t.Fatalf("expected ErrStopped, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 150*time.Millisecond {
		t.Fatalf("stop took %v, want within one interval", elapsed)
	}
}

func TestPollerEmptyHandle(t *testing.T) {
	p := newTestPoller(&scriptedStatus{results: []video.StatusResult{{State: video.TaskPending}}}, time.Millisecond, 3)
	if _, err := p.wait(context.Background(), ""); err == nil {
		t.Fatal("expected error for empty handle")
	}
}
