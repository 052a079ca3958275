package crawl

import "sync"

// Stream delivers concurrently fetched results in completion order. Err
// reports the first fatal error (session expiry, cancellation) and is valid
// once the channel has been drained; per-item failures never appear here,
// they are dropped by the workers.
type Stream[T any] struct {
	ch    chan T
	done  chan struct{}
	abort chan struct{}

	mu  sync.Mutex
	err error
}

func newStream[T any](buf int) *Stream[T] {
	return &Stream[T]{
		ch:    make(chan T, buf),
		done:  make(chan struct{}),
		abort: make(chan struct{}),
	}
}

// C is the result channel. It is closed when no more results will arrive.
func (s *Stream[T]) C() <-chan T { return s.ch }

// Err returns the fatal error that stopped the stream, nil if it ran to
// completion. Only meaningful after C is closed.
func (s *Stream[T]) Err() error {
	select {
	case <-s.done:
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.err
	default:
		return nil
	}
}

// Collect drains the stream into a slice and returns it with Err.
func (s *Stream[T]) Collect() ([]T, error) {
	var out []T
	for v := range s.ch {
		out = append(out, v)
	}
	return out, s.Err()
}

// fail records the first fatal error; later ones are dropped so session
// expiry across several in-flight fetches surfaces exactly once.
func (s *Stream[T]) fail(err error) {
	s.mu.Lock()
	if s.err == nil {
		s.err = err
		close(s.abort)
	}
	s.mu.Unlock()
}

func (s *Stream[T]) close() {
	close(s.ch)
	close(s.done)
}
