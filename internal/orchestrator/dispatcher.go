package orchestrator

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"

	"server/internal/domain"
)

// jobClass partitions provider work by cost. Every job in a class counts
// against the same ceiling regardless of which workflow it belongs to.
type jobClass string

const (
	classImage jobClass = "image"
	classVideo jobClass = "video"
)

// Dispatcher admits jobs against per-class concurrency ceilings. Admission is
// in submission order per caller; a job holds its slot for its entire
// lifecycle, polling included.
type Dispatcher struct {
	sems map[jobClass]*semaphore.Weighted
}

func NewDispatcher(imageLimit, videoLimit int64) *Dispatcher {
	return &Dispatcher{
		sems: map[jobClass]*semaphore.Weighted{
			classImage: semaphore.NewWeighted(imageLimit),
			classVideo: semaphore.NewWeighted(videoLimit),
		},
	}
}

// run blocks until the class has a free slot, then executes fn. A context
// cancelled while waiting never runs the job.
func (d *Dispatcher) run(ctx context.Context, class jobClass, fn func(ctx context.Context) error) error {
	sem := d.sems[class]
	if err := sem.Acquire(ctx, 1); err != nil {
		return cancelCause(ctx)
	}
	defer sem.Release(1)
	return fn(ctx)
}

// batchResult collects the per-item outcomes of one batch dispatch.
type batchResult struct {
	mu     sync.Mutex
	errs   map[string]error
	failed bool
}

func (r *batchResult) record(itemID string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.errs == nil {
		r.errs = make(map[string]error)
	}
	r.errs[itemID] = err
	if err != nil {
		r.failed = true
	}
}

func (r *batchResult) anyFailed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.failed
}

// runBatch dispatches fn for every item id, all in one class, and waits for
// the whole batch. Slots are acquired in slice order before each goroutine is
// spawned, so earlier items are always admitted first when the class is
// contended. Item errors are collected, not short circuited: one failed item
// never cancels its siblings.
func (d *Dispatcher) runBatch(ctx context.Context, class jobClass, itemIDs []string, fn func(ctx context.Context, itemID string) error) *batchResult {
	res := &batchResult{}
	sem := d.sems[class]
	var wg sync.WaitGroup
	for _, id := range itemIDs {
		if err := sem.Acquire(ctx, 1); err != nil {
			res.record(id, cancelCause(ctx))
			continue
		}
		wg.Add(1)
		go func(itemID string) {
			defer wg.Done()
			defer sem.Release(1)
			res.record(itemID, fn(ctx, itemID))
		}(id)
	}
	wg.Wait()
	return res
}

// classFor maps item kinds onto dispatch classes. Characters and scene images
// are synchronous image calls; videos hold a slot across submit and poll.
func classFor(kind domain.ItemKind) jobClass {
	if kind == domain.KindVideo {
		return classVideo
	}
	return classImage
}
