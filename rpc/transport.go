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

package rpc

import (
	"context"

	"github.com/sunyihoo/tmrpc/common/chanx"
)

// SubscribeRequest is the body of a subscribe call.
type SubscribeRequest struct {
	Query string
}

// UnsubscribeRequest is the body of an unsubscribe call.
type UnsubscribeRequest struct {
	Query string
}

// Transport carries ordinary request/response calls to the node.
type Transport interface {
	// Call performs a request and decodes the result into result, which must be a
	// pointer or nil.
	Call(ctx context.Context, result any, method string, params any) error

	// SubscriptionTransport returns the transport serving subscriptions. It is created
	// on first use; repeated calls return the same instance.
	SubscriptionTransport(ctx context.Context) (SubscriptionTransport, error)

	// Close shuts down the transport and its subscription transport, if any.
	Close() error
}

// SubscriptionTransport manages subscriptions on a connection that supports server push.
type SubscriptionTransport interface {
	// Subscribe sends a subscribe request and blocks until the node acknowledged it.
	// On success, events for req.Query are delivered on sink until the subscription
	// ends. On failure sink is closed.
	Subscribe(ctx context.Context, req SubscribeRequest, sink *chanx.Sender[EventResult]) (SubscriptionID, error)

	// Unsubscribe terminates sub and blocks until the node confirmed.
	Unsubscribe(ctx context.Context, req UnsubscribeRequest, sub *Subscription) error

	// Terminator returns the control channel consumed by the driver. Subscriptions
	// send their TerminateSubscription requests here.
	Terminator() *chanx.Sender[TerminateSubscription]

	// Close ends all subscriptions and shuts the connection down.
	Close() error
}
