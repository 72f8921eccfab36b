package session

import "sync"

// worker runs blocking side effects one at a time in submission order
type worker struct {
	mu    sync.Mutex
	queue []func()
	wake  chan struct{}
	quit  chan struct{}
	done  chan struct{}
}

func newWorker() *worker {
	return &worker{
		wake: make(chan struct{}, 1),
		quit: make(chan struct{}),
		done: make(chan struct{}),
	}
}

func (w *worker) push(job func()) {
	w.mu.Lock()
	w.queue = append(w.queue, job)
	w.mu.Unlock()

	select {
	case w.wake <- struct{}{}:
	default:
	}
}

func (w *worker) next() func() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.queue) == 0 {
		return nil
	}
	job := w.queue[0]
	w.queue[0] = nil
	w.queue = w.queue[1:]
	return job
}

func (w *worker) run() {
	defer close(w.done)
	for {
		if job := w.next(); job != nil {
			job()
			continue
		}
		select {
		case <-w.wake:
		case <-w.quit:
			// drain whatever was queued before the stop
			for job := w.next(); job != nil; job = w.next() {
				job()
			}
			return
		}
	}
}

// stop runs the remaining jobs and waits for the worker to exit
func (w *worker) stop() {
	close(w.quit)
	<-w.done
}
