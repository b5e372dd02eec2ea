package domain

import "errors"

var (
	ErrNotFound     = errors.New("not found")
	ErrUnauthorized = errors.New("unauthorized")

	// ErrProviderFailure is a terminal provider-reported generation failure.
	// It is definitive for the submitted prompt and never retried
	// automatically.
	ErrProviderFailure = errors.New("provider failure")

	// ErrProviderBusy maps the provider's no-resource status. The job never
	// started; the user may retry with the same prompt.
	ErrProviderBusy = errors.New("provider busy")

	// ErrPollTimeout means the poll attempt budget ran out with the provider
	// job still pending. The outcome is unknown, not failed; resume can
	// re-attach to the task handle later.
	ErrPollTimeout = errors.New("poll timeout")

	// ErrStopped is returned from every suspension point once the user issues
	// a stop.
	ErrStopped = errors.New("stopped by user")

	// ErrMalformedScript covers structural failures of script parsing, fatal
	// to the parsing stage.
	ErrMalformedScript = errors.New("malformed script")

	ErrMissingPrompt     = errors.New("missing required prompt")
	ErrWorkflowActive    = errors.New("workflow already running")
	ErrWorkflowFinished  = errors.New("workflow already finished")
	ErrInvalidTransition = errors.New("invalid item transition")
)
