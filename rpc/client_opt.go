// Copyright 2022 The go-ethereum Authors
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
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sunyihoo/tmrpc/common/chanx"
	"github.com/sunyihoo/tmrpc/log"
)

// ClientOption is a configuration option for the RPC client.
type ClientOption interface {
	applyOption(*clientConfig)
}

type clientConfig struct {
	// HTTP settings
	httpClient  *http.Client
	httpHeaders http.Header
	httpAuth    HTTPAuth

	// WebSocket options
	wsDialer           *websocket.Dialer
	wsMessageSizeLimit *int64 // wsMessageSizeLimit nil = default, 0 = no limit

	// Subscription options
	subscriptionEndpoint string // ws(s) URL used by HTTP clients for subscriptions
	terminateBuffer      int    // capacity of the terminate control channel, 0 = unbounded
	publishTimeout       time.Duration

	logger log.Logger
}

func (cfg *clientConfig) initHeaders() {
	if cfg.httpHeaders == nil {
		cfg.httpHeaders = make(http.Header)
	}
}

func (cfg *clientConfig) log() log.Logger {
	if cfg.logger == nil {
		return log.Root()
	}
	return cfg.logger
}

type optionFunc func(*clientConfig)

func (fn optionFunc) applyOption(opt *clientConfig) {
	fn(opt)
}

// WithWebsocketDialer configures the websocket.Dialer used by the RPC client.
func WithWebsocketDialer(dialer websocket.Dialer) ClientOption {
	return optionFunc(func(cfg *clientConfig) {
		cfg.wsDialer = &dialer
	})
}

// WithWebsocketMessageSizeLimit configures the websocket message size limit used by the RPC
// client. Passing a limit of 0 means no limit.
func WithWebsocketMessageSizeLimit(messageSizeLimit int64) ClientOption {
	return optionFunc(func(cfg *clientConfig) {
		cfg.wsMessageSizeLimit = &messageSizeLimit
	})
}

// WithHeader configures HTTP headers set by the RPC client. Headers set using this option
// will be used for both HTTP and WebSocket connections.
func WithHeader(key, value string) ClientOption {
	return optionFunc(func(cfg *clientConfig) {
		cfg.initHeaders()
		cfg.httpHeaders.Set(key, value)
	})
}

// WithHeaders configures HTTP headers set by the RPC client. Headers set using this
// option will be used for both HTTP and WebSocket connections.
func WithHeaders(headers http.Header) ClientOption {
	return optionFunc(func(cfg *clientConfig) {
		cfg.initHeaders()
		for k, vs := range headers {
			cfg.httpHeaders[k] = vs
		}
	})
}

// WithHTTPClient configures the http.Client used by the RPC client.
func WithHTTPClient(c *http.Client) ClientOption {
	return optionFunc(func(cfg *clientConfig) {
		cfg.httpClient = c
	})
}

// WithHTTPAuth configures HTTP request authentication. The given provider will be called
// whenever a request is made. Note that only one authentication provider can be active at
// any time.
func WithHTTPAuth(a HTTPAuth) ClientOption {
	if a == nil {
		panic("nil auth")
	}
	return optionFunc(func(cfg *clientConfig) {
		cfg.httpAuth = a
	})
}

// A HTTPAuth function is called by the client whenever a HTTP request is sent.
// The function must be safe for concurrent use.
//
// Usually, HTTPAuth functions will call h.Set("authorization", "...") to add
// auth information to the request.
type HTTPAuth func(h http.Header) error

// WithSubscriptionEndpoint sets the WebSocket URL an HTTP client dials for subscriptions.
// By default it is derived from the HTTP URL, e.g. ws://host:26657/websocket.
func WithSubscriptionEndpoint(endpoint string) ClientOption {
	return optionFunc(func(cfg *clientConfig) {
		cfg.subscriptionEndpoint = endpoint
	})
}

// WithTerminateBuffer bounds the channel carrying termination requests to the driver.
// Subscription.Terminate waits for room when it is full. Zero means unbounded.
func WithTerminateBuffer(size int) ClientOption {
	return optionFunc(func(cfg *clientConfig) {
		cfg.terminateBuffer = size
	})
}

// WithPublishTimeout bounds how long the driver waits on a full subscription buffer with
// the block overflow policy. When it expires the event is dropped for that subscription.
// The default is 500ms.
func WithPublishTimeout(timeout time.Duration) ClientOption {
	return optionFunc(func(cfg *clientConfig) {
		cfg.publishTimeout = timeout
	})
}

// WithLogger sets the logger of the client. The root logger is used by default.
func WithLogger(logger log.Logger) ClientOption {
	return optionFunc(func(cfg *clientConfig) {
		cfg.logger = logger
	})
}

// SubscribeOption configures a single subscription.
type SubscribeOption func(*subscribeConfig)

type subscribeConfig struct {
	overflow chanx.OverflowPolicy
}

// WithOverflowPolicy selects what happens to events for a subscription with a bounded
// buffer when the buffer is full. The default, chanx.OverflowEvict, ends the
// subscription. It has no effect on unbounded subscriptions.
func WithOverflowPolicy(policy chanx.OverflowPolicy) SubscribeOption {
	return func(cfg *subscribeConfig) {
		cfg.overflow = policy
	}
}
