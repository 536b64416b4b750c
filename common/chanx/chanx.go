// Copyright 2024 The go-ethereum Authors
// This file is part of the go-ethereum library.
//
// The go-ethereum library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The go-ethereum library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the go-ethereum library. If not, see <http://www.gnu.org/licenses/>.

// Package chanx implements ordered single-consumer channels whose senders can detect
// that the receiving side has gone away.
//
// Go channels cannot report a departed reader, and closing them from the reading side
// panics the writers. The channels in this package are closable from both ends: closing
// the Sender ends the stream after the buffered values have been drained, closing the
// Receiver makes every subsequent Send fail with ErrClosed.
//
// chanx 实现了有序的单消费者通道，发送方可以检测到接收方已经离开。
package chanx

import (
	"container/list"
	"context"
	"errors"
	"sync"
)

var (
	// ErrClosed is returned by Send when the receiver is closed, and by Recv when the
	// sender is closed and the buffer is empty.
	ErrClosed = errors.New("channel closed")

	// ErrFull is returned by Send on a bounded channel with OverflowEvict when the
	// buffer is at capacity.
	ErrFull = errors.New("channel full")
)

// OverflowPolicy selects what Send does on a full bounded channel.
type OverflowPolicy uint8

const (
	// OverflowEvict fails the send with ErrFull. Routers treat this exactly like a
	// departed receiver.
	OverflowEvict OverflowPolicy = iota
	// OverflowBlock waits until the receiver makes room or the context is done.
	OverflowBlock
	// OverflowDropNewest discards the value being sent.
	OverflowDropNewest
	// OverflowDropOldest discards the oldest buffered value.
	OverflowDropOldest
)

func (p OverflowPolicy) String() string {
	switch p {
	case OverflowEvict:
		return "evict"
	case OverflowBlock:
		return "block"
	case OverflowDropNewest:
		return "drop-newest"
	case OverflowDropOldest:
		return "drop-oldest"
	default:
		return "unknown"
	}
}

// ParseOverflowPolicy is the inverse of OverflowPolicy.String.
func ParseOverflowPolicy(s string) (OverflowPolicy, error) {
	switch s {
	case "evict", "":
		return OverflowEvict, nil
	case "block":
		return OverflowBlock, nil
	case "drop-newest":
		return OverflowDropNewest, nil
	case "drop-oldest":
		return OverflowDropOldest, nil
	}
	return 0, errors.New("unknown overflow policy " + s)
}

type state[T any] struct {
	mu       sync.Mutex
	queue    *list.List
	capacity int // 0 = unbounded
	policy   OverflowPolicy

	txClosed bool
	rxClosed bool
	rxDone   chan struct{} // closed by Receiver.Close

	ready chan struct{} // wakes the receiver
	space chan struct{} // wakes blocked senders
}

// Sender is the sending half of a channel. It is safe for concurrent use by any number
// of producers.
type Sender[T any] struct{ s *state[T] }

// Receiver is the receiving half of a channel. It must be used by a single consumer.
type Receiver[T any] struct{ s *state[T] }

// Unbounded creates a channel whose Send never blocks.
func Unbounded[T any]() (*Sender[T], *Receiver[T]) {
	return newChannel[T](0, OverflowEvict)
}

// Bounded creates a channel buffering at most capacity values. The policy decides what
// happens to a Send on a full buffer. Bounded panics if capacity is not positive.
func Bounded[T any](capacity int, policy OverflowPolicy) (*Sender[T], *Receiver[T]) {
	if capacity <= 0 {
		panic("chanx: bounded channel needs positive capacity")
	}
	return newChannel[T](capacity, policy)
}

func newChannel[T any](capacity int, policy OverflowPolicy) (*Sender[T], *Receiver[T]) {
	s := &state[T]{
		queue:    list.New(),
		capacity: capacity,
		policy:   policy,
		rxDone:   make(chan struct{}),
		ready:    make(chan struct{}, 1),
		space:    make(chan struct{}, 1),
	}
	return &Sender[T]{s}, &Receiver[T]{s}
}

func signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

// Send enqueues v. It returns ErrClosed if either end has been closed. On a full
// bounded channel the outcome depends on the overflow policy; only OverflowBlock
// uses ctx.
func (tx *Sender[T]) Send(ctx context.Context, v T) error {
	s := tx.s
	for {
		s.mu.Lock()
		if s.rxClosed || s.txClosed {
			s.mu.Unlock()
			return ErrClosed
		}
		if s.capacity == 0 || s.queue.Len() < s.capacity {
			s.queue.PushBack(v)
			more := s.capacity > 0 && s.queue.Len() < s.capacity
			s.mu.Unlock()
			signal(s.ready)
			if more {
				// Pass the wakeup on to other blocked senders.
				signal(s.space)
			}
			return nil
		}
		switch s.policy {
		case OverflowEvict:
			s.mu.Unlock()
			return ErrFull
		case OverflowDropNewest:
			s.mu.Unlock()
			return nil
		case OverflowDropOldest:
			s.queue.Remove(s.queue.Front())
			s.queue.PushBack(v)
			s.mu.Unlock()
			signal(s.ready)
			return nil
		}
		s.mu.Unlock()

		select {
		case <-s.space:
		case <-s.rxDone:
			return ErrClosed
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Close ends the stream. The receiver still gets every value sent before Close.
// Close may be called more than once.
func (tx *Sender[T]) Close() {
	s := tx.s
	s.mu.Lock()
	s.txClosed = true
	s.mu.Unlock()
	signal(s.ready)
}

// IsClosed reports whether the receiver has been closed. It never blocks.
func (tx *Sender[T]) IsClosed() bool {
	s := tx.s
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rxClosed
}

// Recv returns the next value. It blocks until a value is available, the sender is
// closed (ErrClosed) or ctx is done.
func (rx *Receiver[T]) Recv(ctx context.Context) (T, error) {
	for {
		v, ok, closed := rx.poll()
		if ok {
			return v, nil
		}
		if closed {
			return v, ErrClosed
		}
		select {
		case <-rx.s.ready:
		case <-ctx.Done():
			var zero T
			return zero, ctx.Err()
		}
	}
}

// TryRecv returns the next value if one is buffered.
func (rx *Receiver[T]) TryRecv() (T, bool) {
	v, ok, _ := rx.poll()
	return v, ok
}

func (rx *Receiver[T]) poll() (v T, ok bool, closed bool) {
	s := rx.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.rxClosed {
		return v, false, true
	}
	if front := s.queue.Front(); front != nil {
		// A nil interface value is stored as a nil element value.
		v, _ = s.queue.Remove(front).(T)
		signal(s.space)
		return v, true, false
	}
	return v, false, s.txClosed
}

// Ready returns a channel that receives a value whenever the receiver may have become
// readable. Consumers selecting on Ready must drain with TryRecv afterwards.
func (rx *Receiver[T]) Ready() <-chan struct{} {
	return rx.s.ready
}

// Len returns the number of buffered values.
func (rx *Receiver[T]) Len() int {
	s := rx.s
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queue.Len()
}

// Close discards the buffer and makes every later Send fail with ErrClosed.
// Blocked senders are released.
func (rx *Receiver[T]) Close() {
	rx.CloseAndDrain()
}

// CloseAndDrain closes the receiver like Close and returns the values that were still
// buffered. No value sent concurrently is lost: it is either returned here or its Send
// fails.
func (rx *Receiver[T]) CloseAndDrain() []T {
	s := rx.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.rxClosed {
		return nil
	}
	s.rxClosed = true
	rest := make([]T, 0, s.queue.Len())
	for e := s.queue.Front(); e != nil; e = e.Next() {
		v, _ := e.Value.(T)
		rest = append(rest, v)
	}
	s.queue.Init()
	close(s.rxDone)
	return rest
}
