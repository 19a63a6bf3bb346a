package orchestrator

import (
	"sync"
	"time"

	"github.com/studiumlab/atelier/internal/domain"
)

// Correlator pairs submissions with completion events. The backend's event
// stream carries no request id, so the production implementation is a strict
// FIFO queue; the interface isolates that assumption so a true id-based
// correlation can be swapped in if the protocol ever grows one.
type Correlator interface {
	Enqueue(req domain.GenerationRequest) domain.GenerationRequest
	DequeueOldest() (domain.GenerationRequest, bool)
	Oldest() (domain.GenerationRequest, bool)
	Remove(id uint64) bool
	Len() int
}

// SubmissionQueue is the ordered record of in-flight requests. Completion
// events are assumed to arrive in submission order (single logical session,
// single client id), so the oldest entry is always the one a completion
// event belongs to.
type SubmissionQueue struct {
	mu      sync.Mutex
	pending []domain.GenerationRequest
	nextID  uint64
}

// NewSubmissionQueue constructs an empty queue.
func NewSubmissionQueue() *SubmissionQueue {
	return &SubmissionQueue{}
}

// Enqueue records a request, assigning its monotonic local id and submission
// time. The returned copy is the authoritative record; the request is
// immutable from here until it is paired with a completion event.
func (q *SubmissionQueue) Enqueue(req domain.GenerationRequest) domain.GenerationRequest {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.nextID++
	req.ID = q.nextID
	req.SubmittedAt = time.Now()
	q.pending = append(q.pending, req)
	return req
}

// DequeueOldest pops the request a just-arrived completion event belongs to.
// The second return is false when nothing is pending: a stray completion
// event, which callers log and ignore.
func (q *SubmissionQueue) DequeueOldest() (domain.GenerationRequest, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.pending) == 0 {
		return domain.GenerationRequest{}, false
	}
	req := q.pending[0]
	q.pending = q.pending[1:]
	return req, true
}

// Oldest peeks at the request currently executing on the backend without
// removing it.
func (q *SubmissionQueue) Oldest() (domain.GenerationRequest, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.pending) == 0 {
		return domain.GenerationRequest{}, false
	}
	return q.pending[0], true
}

// Remove drops the request with the given id, wherever it sits. Used when a
// submission fails after enqueue: an abandoned request must never stay
// queued, or the FIFO pairing desynchronizes for every later request.
func (q *SubmissionQueue) Remove(id uint64) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, req := range q.pending {
		if req.ID == id {
			q.pending = append(q.pending[:i], q.pending[i+1:]...)
			return true
		}
	}
	return false
}

// Len reports the number of pending requests.
func (q *SubmissionQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

var _ Correlator = (*SubmissionQueue)(nil)
