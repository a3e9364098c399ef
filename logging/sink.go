// File: logging/sink.go
// License: Apache-2.0

package logging

import (
	"errors"
	"io"
	"sync"

	"github.com/eapache/queue"
)

// ErrSinkClosed is returned by Write after Close.
var ErrSinkClosed = errors.New("logging: sink closed")

// QueueSink is a zapcore.WriteSyncer that hands every encoded entry to a
// single consumer goroutine through an unbounded FIFO. Writers never block
// on the output and entries reach it whole and in order.
type QueueSink struct {
	w    io.Writer
	mu   sync.Mutex
	cond *sync.Cond
	q    *queue.Queue
	busy bool

	closed bool
	done   chan struct{}
	err    error
}

// NewQueueSink starts the consumer for w.
func NewQueueSink(w io.Writer) *QueueSink {
	s := &QueueSink{w: w, q: queue.New(), done: make(chan struct{})}
	s.cond = sync.NewCond(&s.mu)
	go s.drain()
	return s
}

// Write queues a copy of p.
func (s *QueueSink) Write(p []byte) (int, error) {
	entry := append([]byte(nil), p...)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrSinkClosed
	}
	s.q.Add(entry)
	s.cond.Broadcast()
	return len(p), nil
}

// Sync waits until every queued entry is written and reports the last
// write error.
func (s *QueueSink) Sync() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for s.q.Length() > 0 || s.busy {
		s.cond.Wait()
	}
	err := s.err
	s.err = nil
	return err
}

// Pending returns the number of queued entries.
func (s *QueueSink) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.q.Length()
}

// Close drains the queue and stops the consumer.
func (s *QueueSink) Close() error {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		s.cond.Broadcast()
	}
	s.mu.Unlock()
	<-s.done
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *QueueSink) drain() {
	defer close(s.done)
	s.mu.Lock()
	for {
		for s.q.Length() == 0 && !s.closed {
			s.cond.Wait()
		}
		if s.q.Length() == 0 {
			s.mu.Unlock()
			return
		}
		entry := s.q.Remove().([]byte)
		s.busy = true
		s.mu.Unlock()

		_, err := s.w.Write(entry)

		s.mu.Lock()
		s.busy = false
		if err != nil {
			s.err = err
		}
		s.cond.Broadcast()
	}
}
