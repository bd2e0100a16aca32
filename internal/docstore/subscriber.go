package docstore

import "sync"

// subscriber serializes delivery for one subscription. Snapshots are queued
// in version order; anything not newer than the last accepted version is
// dropped, which absorbs duplicate and reordered notifications. Snapshots of
// other paths are dropped too, since a notifier may map several paths onto
// one channel.
type subscriber struct {
	path string
	fn   func(Snapshot)

	mu     sync.Mutex
	queue  []Snapshot
	last   int64
	closed bool
	cancel func()

	wake      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

func newSubscriber(path string, fn func(Snapshot)) *subscriber {
	s := &subscriber{
		path: path,
		fn:   fn,
		last: -1,
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	go s.run()
	return s
}

// offer never blocks; notifiers call it from their own goroutines.
func (s *subscriber) offer(snap Snapshot) {
	s.mu.Lock()
	if s.closed || snap.Path != s.path || snap.Version <= s.last {
		s.mu.Unlock()
		return
	}
	s.last = snap.Version
	s.queue = append(s.queue, snap)
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *subscriber) run() {
	for {
		select {
		case <-s.done:
			return
		case <-s.wake:
		}
		for {
			s.mu.Lock()
			if s.closed || len(s.queue) == 0 {
				s.mu.Unlock()
				break
			}
			snap := s.queue[0]
			s.queue = s.queue[1:]
			s.mu.Unlock()

			s.fn(snap)
		}
	}
}

func (s *subscriber) setCancel(cancel func()) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		cancel()
		return
	}
	s.cancel = cancel
	s.mu.Unlock()
}

// Unsubscribe stops delivery. It is safe to call from inside the callback.
func (s *subscriber) Unsubscribe() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.queue = nil
		cancel := s.cancel
		s.mu.Unlock()

		if cancel != nil {
			cancel()
		}
		close(s.done)
	})
}
