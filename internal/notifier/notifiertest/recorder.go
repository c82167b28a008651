// Package notifiertest provides an in-memory Notifier for tests.
package notifiertest

import (
	"context"
	"strings"
	"sync"
	"time"
)

// Message is one recorded notification.
type Message struct {
	Destination string
	Text        string
	At          time.Time
}

// Recorder stores every message it is asked to send. Err, when set, is
// returned from Send after recording.
type Recorder struct {
	mu   sync.Mutex
	msgs []Message
	Err  error
	// Delay blocks each Send until it elapses or ctx is done.
	Delay time.Duration
}

func (r *Recorder) Send(ctx context.Context, destination, text string) error {
	if r.Delay > 0 {
		t := time.NewTimer(r.Delay)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		}
	}
	r.mu.Lock()
	r.msgs = append(r.msgs, Message{Destination: destination, Text: text, At: time.Now()})
	err := r.Err
	r.mu.Unlock()
	return err
}

// Messages returns a copy of everything recorded so far.
func (r *Recorder) Messages() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Message(nil), r.msgs...)
}

// Texts returns the recorded texts in send order.
func (r *Recorder) Texts() []string {
	msgs := r.Messages()
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.Text
	}
	return out
}

// Count returns how many recorded texts contain substr.
func (r *Recorder) Count(substr string) int {
	n := 0
	for _, t := range r.Texts() {
		if strings.Contains(t, substr) {
			n++
		}
	}
	return n
}
