package supervisor

import "sync"

// Liveness is the shared signal of one supervision session. It starts alive
// and is cleared at most once, by whichever stream relay reaches end of
// stream first. Clearing closes Done, so every observer sees it.
type Liveness struct {
	once sync.Once
	done chan struct{}
}

// NewLiveness returns an alive signal.
func NewLiveness() *Liveness {
	return &Liveness{done: make(chan struct{})}
}

// Clear marks the session's output as finished. It reports whether this
// call performed the transition; later calls are no-ops.
func (l *Liveness) Clear() bool {
	cleared := false
	l.once.Do(func() {
		close(l.done)
		cleared = true
	})
	return cleared
}

// Alive reports whether Clear has not been called yet.
func (l *Liveness) Alive() bool {
	select {
	case <-l.done:
		return false
	default:
		return true
	}
}

// Done is closed once the signal is cleared.
func (l *Liveness) Done() <-chan struct{} { return l.done }
