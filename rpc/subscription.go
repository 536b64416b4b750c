// Copyright 2016 The go-ethereum Authors
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

package rpc

import (
	"context"
	"errors"
	"io"
	"sync/atomic"

	"github.com/sunyihoo/tmrpc/common/chanx"
)

// TerminateSubscription asks the driver to unsubscribe. The driver sends exactly one
// value on Result: nil once the node confirmed, or the error that prevented it.
type TerminateSubscription struct {
	ID     SubscriptionID
	Query  string
	Result *chanx.Sender[error]
}

// Subscription is a stream of events for one query, established through
// Client.Subscribe.
//
// The stream is consumed with Next. It ends when the subscription is terminated, when
// the router evicts it, or when the client shuts down. Terminate may be called from
// any goroutine.
//
// Subscription 通过 Next 拉取事件，Terminate 可在任意协程中调用。
type Subscription struct {
	id    SubscriptionID
	query string

	events    *chanx.Receiver[EventResult]
	terminate *chanx.Sender[TerminateSubscription]

	terminated atomic.Bool
}

// NewSubscription wraps the receiving end of an event channel. Termination requests
// are sent on terminate, which is usually shared by all subscriptions of a driver.
func NewSubscription(id SubscriptionID, query string, events *chanx.Receiver[EventResult], terminate *chanx.Sender[TerminateSubscription]) *Subscription {
	return &Subscription{
		id:        id,
		query:     query,
		events:    events,
		terminate: terminate,
	}
}

// ID returns the subscription ID.
func (s *Subscription) ID() SubscriptionID { return s.id }

// Query returns the query the subscription was created for.
func (s *Subscription) Query() string { return s.query }

// Next blocks until the next event is available. It returns the error carried by
// the stream if the client reported one, ctx.Err() if ctx is done first, and io.EOF
// once the stream has ended. Calling Next after the end keeps returning io.EOF.
func (s *Subscription) Next(ctx context.Context) (Event, error) {
	res, err := s.events.Recv(ctx)
	switch {
	case errors.Is(err, chanx.ErrClosed):
		return Event{}, io.EOF
	case err != nil:
		return Event{}, err
	case res.Err != nil:
		return Event{}, res.Err
	}
	return res.Event, nil
}

// Terminate unsubscribes and waits until the driver reports the outcome. Events that
// were delivered before the node confirmed remain readable through Next.
//
// A failure to hand the request to the driver is returned as a *TransportError. If the
// driver went away without replying, Terminate returns ErrTerminateNoReply. Only the
// first call sends a request; later calls return ErrSubscriptionTerminated.
func (s *Subscription) Terminate(ctx context.Context) error {
	if !s.terminated.CompareAndSwap(false, true) {
		return ErrSubscriptionTerminated
	}
	resultTx, resultRx := chanx.Unbounded[error]()
	defer resultRx.Close()

	req := TerminateSubscription{ID: s.id, Query: s.query, Result: resultTx}
	if err := s.terminate.Send(ctx, req); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return &TransportError{Op: "terminate", Err: err}
	}
	err, recvErr := resultRx.Recv(ctx)
	switch {
	case errors.Is(recvErr, chanx.ErrClosed):
		return ErrTerminateNoReply
	case recvErr != nil:
		return recvErr
	}
	return err
}

// Close stops consuming events without unsubscribing. The router removes the
// subscription the next time an event is published on its query.
func (s *Subscription) Close() {
	s.events.Close()
}
