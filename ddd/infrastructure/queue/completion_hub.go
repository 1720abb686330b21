package queue

import (
	"context"
	"sync"
	"time"

	"outreach-service/ddd/domain/vo"
	"outreach-service/pkg/errno"
	"outreach-service/pkg/logger"
)

// ResultLookup reads a stored terminal event; nil means the job is still pending.
type ResultLookup func(ctx context.Context, jobID string) (*JobEvent, error)

// SubscribeFunc opens a stream of terminal job events.
type SubscribeFunc func(ctx context.Context) (<-chan JobEvent, error)

// CompletionHub lets callers block until a job reaches a terminal state.
type CompletionHub struct {
	mu      sync.Mutex
	waiters map[string][]chan JobEvent
	lookup  ResultLookup
	retry   time.Duration
}

func NewCompletionHub(lookup ResultLookup) *CompletionHub {
	return &CompletionHub{waiters: make(map[string][]chan JobEvent), lookup: lookup, retry: time.Second}
}

// Wait blocks until jobID finishes or ctx ends. The waiter is registered before the stored
// result is read, so an event published in between is not missed.
func (h *CompletionHub) Wait(ctx context.Context, jobID string) (*JobEvent, error) {
	ch := make(chan JobEvent, 1)
	h.mu.Lock()
	h.waiters[jobID] = append(h.waiters[jobID], ch)
	h.mu.Unlock()
	defer h.remove(jobID, ch)

	if h.lookup != nil {
		ev, err := h.lookup(ctx, jobID)
		if err != nil {
			return nil, err
		}
		if ev != nil {
			return ev, nil
		}
	}
	select {
	case ev, ok := <-ch:
		if !ok {
			return nil, errno.ErrTerminating
		}
		return &ev, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (h *CompletionHub) remove(jobID string, ch chan JobEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	list := h.waiters[jobID]
	for i, c := range list {
		if c == ch {
			list = append(list[:i], list[i+1:]...)
			break
		}
	}
	if len(list) == 0 {
		delete(h.waiters, jobID)
	} else {
		h.waiters[jobID] = list
	}
}

// Resolve hands ev to every waiter of its job.
func (h *CompletionHub) Resolve(ev JobEvent) {
	h.mu.Lock()
	list := h.waiters[ev.JobID]
	delete(h.waiters, ev.JobID)
	h.mu.Unlock()
	for _, ch := range list {
		ch <- ev
	}
}

// ResolveSkipped resolves purged jobs as skipped.
func (h *CompletionHub) ResolveSkipped(jobIDs []string, reason string) {
	for _, id := range jobIDs {
		h.Resolve(JobEvent{JobID: id, Status: vo.JobStatusSkipped, Error: reason})
	}
}

// Reset releases every remaining waiter with ErrTerminating.
func (h *CompletionHub) Reset() {
	h.mu.Lock()
	waiters := h.waiters
	h.waiters = make(map[string][]chan JobEvent)
	h.mu.Unlock()
	for _, list := range waiters {
		for _, ch := range list {
			close(ch)
		}
	}
}

// Pending returns the number of jobs that have waiters.
func (h *CompletionHub) Pending() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.waiters)
}

// Run feeds events from subscribe into the hub and resubscribes after a dropped connection.
func (h *CompletionHub) Run(ctx context.Context, subscribe SubscribeFunc) {
	for {
		events, err := subscribe(ctx)
		if err != nil {
			logger.Warnf("Subscribe to job events failed error=%v", err)
		} else {
			for ev := range events {
				h.Resolve(ev)
			}
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(h.retry):
		}
	}
}
