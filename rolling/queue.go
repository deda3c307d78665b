package rolling

import (
	"sync"
	"time"
)

// request is one unit of work for the sync worker. A request with shutdown
// set is the sentinel that terminates the worker loop; it carries no other
// fields.
type request struct {
	baseName     string
	rolloverTime time.Time
	deleteFile   bool
	metadata     Metadata
	shutdown     bool
}

// requestQueue is an unbounded FIFO shared by all producers (append path,
// flush scheduler, shutdown coordinator) and the single sync worker. Producers
// never block; the worker blocks only on dequeue. Requests are dequeued in
// exact enqueue order.
type requestQueue struct {
	mu   sync.Mutex
	cond *sync.Cond
	reqs []request
}

func newRequestQueue() *requestQueue {
	q := &requestQueue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// push appends a request to the tail of the queue.
func (q *requestQueue) push(r request) {
	q.mu.Lock()
	q.reqs = append(q.reqs, r)
	q.mu.Unlock()
	q.cond.Signal()
}

// pushShutdown enqueues the terminal shutdown sentinel.
func (q *requestQueue) pushShutdown() {
	q.push(request{shutdown: true})
}

// pop blocks until a request is available and dequeues it.
func (q *requestQueue) pop() request {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.reqs) == 0 {
		q.cond.Wait()
	}
	r := q.reqs[0]
	q.reqs[0] = request{}
	q.reqs = q.reqs[1:]
	return r
}

// len returns the number of queued requests.
func (q *requestQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.reqs)
}
