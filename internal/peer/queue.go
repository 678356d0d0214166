package peer

import "sync"

// queue runs functions one at a time, in order, on its own goroutine.
// push never blocks.
type queue struct {
	mu    sync.Mutex
	items []func()
	wake  chan struct{}
	done  <-chan struct{}
}

func newQueue(done <-chan struct{}) *queue {
	q := &queue{wake: make(chan struct{}, 1), done: done}
	go q.run()
	return q
}

func (q *queue) push(fn func()) {
	q.mu.Lock()
	q.items = append(q.items, fn)
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *queue) run() {
	for {
		select {
		case <-q.done:
			return
		case <-q.wake:
		}

		for {
			q.mu.Lock()
			if len(q.items) == 0 {
				q.mu.Unlock()
				break
			}
			fn := q.items[0]
			q.items = q.items[1:]
			q.mu.Unlock()

			select {
			case <-q.done:
				return
			default:
			}
			fn()
		}
	}
}
