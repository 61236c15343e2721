package pipeline

import "sync"

const WorkerActive = 0x0101
const WorkerDraining = 0x0102
const WorkerStopped = 0x0103

// Worker is the execution context a pipeline object is bound to. Jobs posted
// from other contexts are queued and run one at a time on the worker's own
// goroutine, preserving per-producer order; nothing is ordered across
// producers. An inline worker belongs to the single-threaded build mode: same
// protocol, but jobs run in the posting goroutine, serialized on the shared
// inline queue.
type Worker struct {
	inline bool

	mu    sync.Mutex
	cond  *sync.Cond
	queue []func()
	state int
	done  chan struct{}
}

// Every inline worker in the process shares one run queue guarded by one
// mutex: the single-threaded mode has exactly one execution context even when
// events originate on concurrent server goroutines. The goroutine that finds
// the queue idle becomes the drainer; a job posted from inside another job
// runs after the current one, still before the outermost Post returns.
var (
	inlineMu     sync.Mutex
	inlineCond   = sync.NewCond(&inlineMu)
	inlineActive bool
	inlineQueue  []func()
)

// drainInline runs queued jobs until none remain. Called with inlineMu held
// and inlineActive set; releases the lock.
func drainInline() {
	for len(inlineQueue) > 0 {
		job := inlineQueue[0]
		inlineQueue = inlineQueue[1:]
		inlineMu.Unlock()
		job()
		inlineMu.Lock()
	}
	inlineActive = false
	inlineCond.Broadcast()
	inlineMu.Unlock()
}

func NewWorker(inline bool) *Worker {
	w := &Worker{inline: inline, state: WorkerActive}
	if inline {
		return w
	}
	w.cond = sync.NewCond(&w.mu)
	w.done = make(chan struct{})
	go w.run()
	return w
}

func (w *Worker) Inline() bool {
	return w.inline
}

func (w *Worker) run() {
	for {
		w.mu.Lock()
		for len(w.queue) == 0 && w.state == WorkerActive {
			w.cond.Wait()
		}
		if len(w.queue) == 0 {
			// Draining and empty: everything queued before Stop has run.
			w.state = WorkerStopped
			w.mu.Unlock()
			close(w.done)
			return
		}
		job := w.queue[0]
		w.queue = w.queue[1:]
		w.mu.Unlock()
		job()
	}
}

// Post schedules fn on the worker. False once draining has begun; the job is
// then dropped, never run.
func (w *Worker) Post(fn func()) bool {
	if w.inline {
		inlineMu.Lock()
		if w.state != WorkerActive {
			inlineMu.Unlock()
			return false
		}
		inlineQueue = append(inlineQueue, fn)
		if inlineActive {
			inlineMu.Unlock()
			return true
		}
		inlineActive = true
		drainInline()
		return true
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.state != WorkerActive {
		return false
	}
	w.queue = append(w.queue, fn)
	w.cond.Signal()
	return true
}

// Stop begins draining: already queued jobs still run, new posts are refused.
func (w *Worker) Stop() {
	if w.inline {
		inlineMu.Lock()
		w.state = WorkerStopped
		inlineMu.Unlock()
		return
	}
	w.mu.Lock()
	if w.state == WorkerActive {
		w.state = WorkerDraining
		w.cond.Signal()
	}
	w.mu.Unlock()
}

// Join blocks until the queue has drained and the goroutine exited. Callers
// must Stop first; destroying a worker-bound object before Join returns is a
// use-after-free hazard.
func (w *Worker) Join() {
	if w.inline {
		inlineMu.Lock()
		for inlineActive {
			inlineCond.Wait()
		}
		inlineMu.Unlock()
		return
	}
	<-w.done
}
