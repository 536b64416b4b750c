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
	"fmt"
	"net/url"
	"time"

	"github.com/sunyihoo/tmrpc/common/chanx"
	"github.com/sunyihoo/tmrpc/log"
)

var ErrBadURLScheme = errors.New("no known transport for URL scheme")

// Client represents a connection to a full node's RPC endpoint.
type Client struct {
	transport Transport
	log       log.Logger
}

// Dial creates a new client for the given URL.
//
// The currently supported URL schemes are "http", "https", "ws" and "wss".
// Subscriptions of HTTP clients are served over a websocket connection that is opened
// on the first Subscribe, see WithSubscriptionEndpoint.
func Dial(rawurl string) (*Client, error) {
	return DialOptions(context.Background(), rawurl)
}

// DialContext creates a new RPC client, just like Dial.
//
// The context is used to cancel or time out the initial connection establishment. It does
// not affect subsequent interactions with the client.
func DialContext(ctx context.Context, rawurl string) (*Client, error) {
	return DialOptions(ctx, rawurl)
}

// DialOptions creates a new RPC client for the given URL. You can supply any of the
// pre-defined client options to configure the underlying transport.
//
// The context is used to cancel or time out the initial connection establishment. It does
// not affect subsequent interactions with the client.
func DialOptions(ctx context.Context, rawurl string, options ...ClientOption) (*Client, error) {
	u, err := url.Parse(rawurl)
	if err != nil {
		return nil, err
	}

	cfg := new(clientConfig)
	for _, opt := range options {
		opt.applyOption(cfg)
	}

	var transport Transport
	switch u.Scheme {
	case "http", "https":
		if transport, err = newHTTPTransport(rawurl, cfg); err != nil {
			return nil, err
		}
	case "ws", "wss":
		codec, err := dialWebsocket(ctx, rawurl, cfg)
		if err != nil {
			return nil, err
		}
		transport = newWSDriver(codec, cfg)
	default:
		return nil, fmt.Errorf("%w %q", ErrBadURLScheme, u.Scheme)
	}
	return NewClient(transport, cfg.log()), nil
}

// NewClient creates a client on top of an existing transport.
func NewClient(transport Transport, logger log.Logger) *Client {
	if logger == nil {
		logger = log.Root()
	}
	return &Client{transport: transport, log: logger}
}

// Close shuts the client down. Every subscription ends and outstanding requests fail.
func (c *Client) Close() {
	if err := c.transport.Close(); err != nil {
		c.log.Debug("Error closing RPC transport", "err", err)
	}
}

// Call performs a JSON-RPC call with the given arguments and unmarshals into
// result if no error occurred.
//
// The result must be a pointer so that package json can unmarshal into it. You
// can also pass nil, in which case the result is ignored.
//
// Full nodes take named parameters, so args is either empty or a single value that
// encodes as a JSON object.
func (c *Client) Call(ctx context.Context, result interface{}, method string, args ...interface{}) error {
	var params any
	switch len(args) {
	case 0:
	case 1:
		params = args[0]
	default:
		params = args
	}
	start := time.Now()
	err := c.transport.Call(ctx, result, method, params)
	updateCallDuration(method, err == nil, time.Since(start))
	return err
}

// Subscribe subscribes to events matching query. The subscription buffers an
// unbounded number of events.
func (c *Client) Subscribe(ctx context.Context, query string) (*Subscription, error) {
	return c.SubscribeWithBufSize(ctx, query, 0)
}

// SubscribeWithBufSize subscribes to events matching query and returns once the node
// acknowledged the subscription.
//
// A bufSize of zero buffers any number of events. A positive bufSize bounds the
// buffer, and the overflow policy decides what happens when a slow consumer lets it
// fill up: by default the subscription is evicted and its stream ends.
//
// If ctx is done before the node answered, the subscription is abandoned and
// ctx.Err() is returned.
func (c *Client) SubscribeWithBufSize(ctx context.Context, query string, bufSize int, opts ...SubscribeOption) (*Subscription, error) {
	if bufSize < 0 {
		return nil, fmt.Errorf("negative subscription buffer size %d", bufSize)
	}
	cfg := subscribeConfig{overflow: chanx.OverflowEvict}
	for _, opt := range opts {
		opt(&cfg)
	}

	st, err := c.transport.SubscriptionTransport(ctx)
	if err != nil {
		return nil, err
	}
	var (
		sink   *chanx.Sender[EventResult]
		events *chanx.Receiver[EventResult]
	)
	if bufSize == 0 {
		sink, events = chanx.Unbounded[EventResult]()
	} else {
		sink, events = chanx.Bounded[EventResult](bufSize, cfg.overflow)
	}

	id, err := st.Subscribe(ctx, SubscribeRequest{Query: query}, sink)
	if err != nil {
		events.Close()
		return nil, err
	}
	c.log.Debug("Subscribed", "id", id, "query", query, "bufsize", bufSize, "overflow", cfg.overflow)
	return NewSubscription(id, query, events, st.Terminator()), nil
}

// Unsubscribe terminates sub and waits for the node to confirm.
func (c *Client) Unsubscribe(ctx context.Context, sub *Subscription) error {
	st, err := c.transport.SubscriptionTransport(ctx)
	if err != nil {
		return err
	}
	return st.Unsubscribe(ctx, UnsubscribeRequest{Query: sub.Query()}, sub)
}
