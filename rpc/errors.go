// Copyright 2015 The go-ethereum Authors
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
	"errors"
	"fmt"
)

var (
	// ErrClientQuit is returned when the client is closed while a call or subscription
	// request is outstanding.
	ErrClientQuit = errors.New("client is closed")

	// ErrNotificationsUnsupported is returned when the transport cannot carry
	// subscriptions.
	ErrNotificationsUnsupported = errors.New("notifications not supported")

	// ErrEmptyRequestID is returned when an absent JSON-RPC ID is converted into a
	// subscription ID.
	ErrEmptyRequestID = errors.New("cannot convert an empty JSON-RPC ID into a subscription ID")

	// ErrTerminateNoReply is returned by Subscription.Terminate when the driver went
	// away without answering.
	ErrTerminateNoReply = errors.New("failed to hear back from subscription termination request")

	// ErrSubscriptionTerminated is returned by a second call to Subscription.Terminate.
	ErrSubscriptionTerminated = errors.New("subscription already terminated")
)

// ErrorKind classifies the errors produced or forwarded by the client.
// ErrorKind 对客户端产生或转发的错误进行分类。
type ErrorKind int

const (
	KindUnknown          ErrorKind = iota
	KindTransport                  // sending or receiving on the transport failed
	KindServer                     // the node answered with an error
	KindInternal                   // a result channel was dropped, an ID was missing, etc.
	KindIDConversion               // absent JSON-RPC ID
	KindTerminateNoReply           // Terminate got no reply
)

func (k ErrorKind) String() string {
	switch k {
	case KindTransport:
		return "transport"
	case KindServer:
		return "server"
	case KindInternal:
		return "internal"
	case KindIDConversion:
		return "id_conversion"
	case KindTerminateNoReply:
		return "terminate_no_reply"
	default:
		return "unknown"
	}
}

// KindOf returns the kind of err, looking through wrapped errors.
func KindOf(err error) ErrorKind {
	var (
		terr *TransportError
		ierr *InternalError
		herr HTTPError
		rerr Error
	)
	switch {
	case err == nil:
		return KindUnknown
	case errors.Is(err, ErrTerminateNoReply):
		return KindTerminateNoReply
	case errors.Is(err, ErrEmptyRequestID):
		return KindIDConversion
	case errors.As(err, &terr), errors.As(err, &herr):
		return KindTransport
	case errors.As(err, &ierr), errors.Is(err, ErrClientQuit):
		return KindInternal
	case errors.As(err, &rerr):
		return KindServer
	}
	return KindUnknown
}

// HTTPError is returned by client operations when the HTTP status code of the
// response is not a 2xx status.
type HTTPError struct {
	StatusCode int
	Status     string
	Body       []byte
}

func (err HTTPError) Error() string {
	if len(err.Body) == 0 {
		return err.Status
	}
	return fmt.Sprintf("%v: %s", err.Status, err.Body)
}

// TransportError wraps a failure of the underlying connection.
type TransportError struct {
	Op  string // "dial", "write", "read", ...
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s failed: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// InternalError reports a broken invariant inside the client, for example a caller
// that stopped waiting for its result.
type InternalError struct {
	Msg string
}

func (e *InternalError) Error() string { return "client internal error: " + e.Msg }

func internalErrorf(format string, args ...any) *InternalError {
	return &InternalError{Msg: fmt.Sprintf(format, args...)}
}

// Error wraps RPC errors, which contain an error code in addition to the message.
type Error interface {
	Error() string  // returns the message
	ErrorCode() int // returns the code
}

// A DataError contains some data in addition to the error message.
type DataError interface {
	Error() string          // returns the message
	ErrorData() interface{} // returns the error data
}

var (
	_ Error     = new(jsonError)
	_ DataError = new(jsonError)
)

// jsonError is an error response of the node.
type jsonError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func (err *jsonError) Error() string {
	msg := err.Message
	if msg == "" {
		msg = fmt.Sprintf("json-rpc error %d", err.Code)
	}
	if s, ok := err.Data.(string); ok && s != "" {
		// The node puts the interesting part into data, e.g. "already subscribed".
		return msg + ": " + s
	}
	return msg
}

func (err *jsonError) ErrorCode() int {
	return err.Code
}

func (err *jsonError) ErrorData() interface{} {
	return err.Data
}
