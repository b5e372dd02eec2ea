package orchestrator

import (
	"context"
	"fmt"

	"github.com/qmuntal/stateless"

	"server/internal/domain"
)

// Item lifecycle triggers. Image-class jobs fire dispatch, upload, finish.
// Video-class jobs add the submit and poll legs.
const (
	triggerGenerate  = "generate"
	triggerSubmit    = "submit"
	triggerPoll      = "poll"
	triggerUpload    = "upload"
	triggerFinish    = "finish"
	triggerFail      = "fail"
	triggerReset     = "reset"
	triggerInterrupt = "interrupt"
)

// lifecycleMachine wraps a stateless state machine over an item Lifecycle.
// State lives on the Lifecycle itself, not in the machine, so a freshly built
// machine picks up wherever the persisted item left off.
func lifecycleMachine(lc *domain.Lifecycle) *stateless.StateMachine {
	sm := stateless.NewStateMachineWithExternalStorage(
		func(_ context.Context) (stateless.State, error) {
			if lc.Status == "" {
				return domain.ItemPending, nil
			}
			return lc.Status, nil
		},
		func(_ context.Context, state stateless.State) error {
			lc.Status = state.(domain.ItemStatus)
			return nil
		},
		stateless.FiringImmediate,
	)

	sm.Configure(domain.ItemPending).
		Permit(triggerGenerate, domain.ItemGenerating).
		Permit(triggerSubmit, domain.ItemSubmitting)

	sm.Configure(domain.ItemGenerating).
		Permit(triggerUpload, domain.ItemUploading).
		Permit(triggerFail, domain.ItemError).
		Permit(triggerInterrupt, domain.ItemInterrupted)

	sm.Configure(domain.ItemSubmitting).
		Permit(triggerPoll, domain.ItemPolling).
		Permit(triggerFail, domain.ItemError).
		Permit(triggerInterrupt, domain.ItemInterrupted)

	sm.Configure(domain.ItemPolling).
		Permit(triggerUpload, domain.ItemUploading).
		Permit(triggerFail, domain.ItemError).
		Permit(triggerInterrupt, domain.ItemInterrupted)

	sm.Configure(domain.ItemUploading).
		Permit(triggerFinish, domain.ItemDone).
		Permit(triggerFail, domain.ItemError).
		Permit(triggerInterrupt, domain.ItemInterrupted)

	sm.Configure(domain.ItemDone).
		Permit(triggerReset, domain.ItemPending)

	sm.Configure(domain.ItemError).
		Permit(triggerReset, domain.ItemPending)

	sm.Configure(domain.ItemInterrupted).
		Permit(triggerReset, domain.ItemPending).
		Permit(triggerPoll, domain.ItemPolling)

	return sm
}

// fire applies one trigger to the lifecycle. Unknown edges surface as
// ErrInvalidTransition with the offending state and trigger named.
func fire(lc *domain.Lifecycle, trigger string) error {
	from := lc.Status
	if err := lifecycleMachine(lc).Fire(trigger); err != nil {
		return fmt.Errorf("%w: %s from %q", domain.ErrInvalidTransition, trigger, from)
	}
	return nil
}
