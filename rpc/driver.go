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
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sunyihoo/tmrpc/common/chanx"
	"github.com/sunyihoo/tmrpc/log"
)

// shutdownGrace bounds how long the driver waits on blocking sinks while handing them
// the error that ended the connection.
const shutdownGrace = 100 * time.Millisecond

// defaultPublishTimeout is the longest a single event waits on a blocking sink.
const defaultPublishTimeout = 500 * time.Millisecond

type readOp struct {
	msgs  []*jsonrpcMessage
	batch bool
}

type subscribeOp struct {
	ctx    context.Context
	id     SubscriptionID
	query  string
	sink   *chanx.Sender[EventResult]
	result *chanx.Sender[error]
}

type callResult struct {
	msg *jsonrpcMessage
	err error
}

type callOp struct {
	ctx  context.Context
	id   string
	msg  *jsonrpcMessage
	resp chan callResult // buffered, receives exactly one value
}

// wsDriver serves calls and subscriptions on one websocket connection. A single
// goroutine (run) owns the router and writes to the connection; everything else talks
// to it through channels.
//
// 驱动协程独占路由器和写连接，其他协程只通过通道与其交互。
type wsDriver struct {
	codec  *websocketCodec
	router *SubscriptionRouter
	log    log.Logger

	idCounter      atomic.Uint64
	publishTimeout time.Duration

	// ctx is cancelled by Close. It bounds router operations that may block.
	ctx    context.Context
	cancel context.CancelFunc

	subOp       chan *subscribeOp
	callOp      chan *callOp
	callTimeout chan *callOp
	termTx      *chanx.Sender[TerminateSubscription]
	termRx      *chanx.Receiver[TerminateSubscription]
	readOp      chan readOp
	readErr     chan error

	closeOnce sync.Once
	close     chan struct{}
	didClose  chan struct{} // closed when run has returned

	respWait map[string]*callOp // only accessed by run

	// waiting holds subscribers of queries with a subscribe or unsubscribe request in
	// flight. They are handled again once the node answered. Only accessed by run.
	waiting map[string][]*subscribeOp
}

func newWSDriver(codec *websocketCodec, cfg *clientConfig) *wsDriver {
	ctx, cancel := context.WithCancel(context.Background())
	d := &wsDriver{
		codec:       codec,
		router:      NewSubscriptionRouter(),
		log:         cfg.log().With("remote", codec.remote),
		ctx:         ctx,
		cancel:      cancel,
		subOp:       make(chan *subscribeOp),
		callOp:      make(chan *callOp),
		callTimeout: make(chan *callOp),
		readOp:      make(chan readOp),
		readErr:     make(chan error),
		close:       make(chan struct{}),
		didClose:    make(chan struct{}),
		respWait:    make(map[string]*callOp),
		waiting:     make(map[string][]*subscribeOp),
	}
	d.publishTimeout = cfg.publishTimeout
	if d.publishTimeout <= 0 {
		d.publishTimeout = defaultPublishTimeout
	}
	if cfg.terminateBuffer > 0 {
		d.termTx, d.termRx = chanx.Bounded[TerminateSubscription](cfg.terminateBuffer, chanx.OverflowBlock)
	} else {
		d.termTx, d.termRx = chanx.Unbounded[TerminateSubscription]()
	}
	go d.read()
	go d.run()
	return d
}

// read decodes incoming messages and hands them to run.
func (d *wsDriver) read() {
	for {
		msgs, batch, err := d.codec.readBatch()
		if _, ok := err.(*json.SyntaxError); ok {
			d.log.Debug("Ignoring invalid JSON message", "err", err)
			continue
		}
		if err != nil {
			select {
			case d.readErr <- err:
			case <-d.codec.closed():
			}
			return
		}
		select {
		case d.readOp <- readOp{msgs, batch}:
		case <-d.codec.closed():
			return
		}
	}
}

func (d *wsDriver) run() {
	var reason error
	defer func() {
		d.shutdown(reason)
		close(d.didClose)
	}()

	for {
		select {
		case op := <-d.subOp:
			d.handleSubscribe(op)

		case op := <-d.callOp:
			d.handleCall(op)

		case op := <-d.callTimeout:
			delete(d.respWait, op.id)

		case <-d.termRx.Ready():
			for {
				req, ok := d.termRx.TryRecv()
				if !ok {
					break
				}
				d.handleTerminate(req)
			}

		case op := <-d.readOp:
			if op.batch {
				d.log.Trace("Read batch", "len", len(op.msgs))
			}
			for _, msg := range op.msgs {
				d.handleMessage(msg)
			}

		case err := <-d.readErr:
			d.log.Debug("RPC connection read error", "err", err)
			reason = &TransportError{Op: "read", Err: err}
			return

		case <-d.close:
			reason = ErrClientQuit
			return
		}
	}
}

// shutdown releases everything that waits on the driver. Subscriptions see reason
// before the end of their streams unless the client was closed deliberately.
func (d *wsDriver) shutdown(reason error) {
	d.cancel()
	d.codec.close()

	if errors.Is(reason, ErrClientQuit) {
		d.router.Close()
	} else {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		d.router.CloseWithError(ctx, reason)
		cancel()
	}
	for query, ops := range d.waiting {
		for _, op := range ops {
			op.sink.Close()
			op.result.Close()
		}
		delete(d.waiting, query)
	}
	for id, op := range d.respWait {
		op.resp <- callResult{err: reason}
		delete(d.respWait, id)
	}
	// Terminate requests still queued are answered by closing their reply channel.
	for _, req := range d.termRx.CloseAndDrain() {
		req.Result.Close()
	}
}

func (d *wsDriver) handleSubscribe(op *subscribeOp) {
	if d.router.QueryInFlight(op.query) {
		d.waiting[op.query] = append(d.waiting[op.query], op)
		d.log.Debug("Queued subscriber behind in-flight request", "id", op.id, "query", op.query)
		return
	}
	// The node accepts one subscription per query and connection. Further subscribers
	// share the one that is already established.
	if d.router.NumSubscriptionsForQuery(op.query) > 0 {
		d.router.Add(op.id, op.query, op.sink)
		d.log.Debug("Sharing existing subscription", "id", op.id, "query", op.query)
		if err := deliverResult(d.ctx, op.result, op.id, nil); err != nil {
			d.log.Warn("Subscriber went away", "id", op.id, "err", err)
		}
		return
	}

	reqID := op.id.RequestID()
	d.router.PendingAdd(reqID.String(), op.id, op.query, op.sink, op.result)
	if err := d.send(op.ctx, reqID, subscribeMethod, op.query); err != nil {
		if err := d.router.CancelAdd(d.ctx, reqID.String(), err); err != nil {
			d.log.Warn("Failed to report subscribe error", "id", op.id, "err", err)
		}
		return
	}
	d.log.Trace("Sent subscribe request", "id", op.id, "query", op.query)
}

func (d *wsDriver) handleTerminate(req TerminateSubscription) {
	reply := func(err error) {
		if err := deliverResult(d.ctx, req.Result, req.ID, err); err != nil {
			d.log.Warn("Terminating subscriber went away", "id", req.ID, "err", err)
		}
	}
	if !d.router.IsActive(req.ID) {
		reply(nil)
		return
	}
	if d.router.NumSubscriptionsForQuery(req.Query) > 1 {
		d.router.Remove(req.ID, req.Query)
		reply(nil)
		return
	}

	reqID := req.ID.RequestID()
	d.router.PendingRemove(reqID.String(), req.ID, req.Query, req.Result)
	if err := d.send(d.ctx, reqID, unsubscribeMethod, req.Query); err != nil {
		if err := d.router.CancelRemove(d.ctx, reqID.String(), err); err != nil {
			d.log.Warn("Failed to report unsubscribe error", "id", req.ID, "err", err)
		}
		return
	}
	d.log.Trace("Sent unsubscribe request", "id", req.ID, "query", req.Query)
}

// resumeWaiting hands the subscribers queued on query back to handleSubscribe. The
// first of them may start a new request, the others are queued again behind it.
func (d *wsDriver) resumeWaiting(query string) {
	ops := d.waiting[query]
	delete(d.waiting, query)
	for _, op := range ops {
		if op.ctx.Err() != nil {
			// Subscribe has returned already.
			op.sink.Close()
			op.result.Close()
			continue
		}
		d.handleSubscribe(op)
	}
}

// releaseQuery unsubscribes query at the node after its last subscriber was evicted.
// Nobody waits for the answer, it is logged as an unsolicited response.
func (d *wsDriver) releaseQuery(query string) {
	id := NumberID(d.idCounter.Add(1))
	if err := d.send(d.ctx, id, unsubscribeMethod, query); err != nil {
		d.log.Debug("Failed to release evicted query", "query", query, "err", err)
		return
	}
	d.log.Debug("Released query without subscribers", "query", query, "reqid", id)
}

func (d *wsDriver) send(ctx context.Context, id RequestID, method, query string) error {
	msg, err := newRequest(id, method, queryParams{Query: query})
	if err != nil {
		return err
	}
	if err := d.codec.writeJSON(ctx, msg); err != nil {
		return &TransportError{Op: "write", Err: err}
	}
	return nil
}

func (d *wsDriver) handleCall(op *callOp) {
	if err := d.codec.writeJSON(op.ctx, op.msg); err != nil {
		op.resp <- callResult{err: &TransportError{Op: "write", Err: err}}
		return
	}
	d.respWait[op.id] = op
}

// handleMessage dispatches one inbound message. Acknowledgements of subscribe and
// unsubscribe requests are matched first, then responses to calls. Anything else
// carrying a query is an event.
func (d *wsDriver) handleMessage(msg *jsonrpcMessage) {
	if msg == nil || !msg.isResponse() {
		d.log.Debug("Ignoring invalid message", "msg", msg)
		return
	}
	id := msg.requestID()
	reqID := id.String()

	if !id.IsNone() {
		var err error
		query, _ := d.router.PendingQuery(reqID)
		switch d.router.SubscriptionState(reqID) {
		case StatePending:
			if msg.Error != nil {
				err = d.router.CancelAdd(d.ctx, reqID, msg.Error)
			} else {
				err = d.router.ConfirmAdd(d.ctx, reqID)
			}
			if err != nil {
				d.log.Warn("Failed to complete subscribe", "reqid", reqID, "err", err)
			}
			d.resumeWaiting(query)
			return
		case StateCancelling:
			if msg.Error != nil {
				err = d.router.CancelRemove(d.ctx, reqID, msg.Error)
			} else {
				err = d.router.ConfirmRemove(d.ctx, reqID)
			}
			if err != nil {
				d.log.Warn("Failed to complete unsubscribe", "reqid", reqID, "err", err)
			}
			d.resumeWaiting(query)
			return
		}
		if op, ok := d.respWait[reqID]; ok {
			delete(d.respWait, reqID)
			op.resp <- callResult{msg: msg}
			return
		}
	}

	if ev, ok := msg.event(); ok {
		subscribed := d.router.NumSubscriptionsForQuery(ev.Query) > 0
		// A consumer that does not make room in time misses the event. Waiting longer
		// would hold up every other subscription and call on the connection.
		ctx, cancel := context.WithTimeout(d.ctx, d.publishTimeout)
		d.router.Publish(ctx, ev)
		cancel()
		if subscribed && d.router.NumSubscriptionsForQuery(ev.Query) == 0 {
			d.releaseQuery(ev.Query)
		}
		return
	}
	if msg.Error != nil {
		d.log.Warn("Node reported error", "reqid", reqID, "err", msg.Error)
		return
	}
	d.log.Debug("Unsolicited RPC response", "reqid", reqID)
}

// Call implements Transport.
func (d *wsDriver) Call(ctx context.Context, result any, method string, params any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	id := NumberID(d.idCounter.Add(1))
	msg, err := newRequest(id, method, params)
	if err != nil {
		return err
	}
	op := &callOp{ctx: ctx, id: id.String(), msg: msg, resp: make(chan callResult, 1)}

	select {
	case d.callOp <- op:
	case <-d.didClose:
		return ErrClientQuit
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case res := <-op.resp:
		if res.err != nil {
			return res.err
		}
		return decodeResult(res.msg, result)
	case <-ctx.Done():
		select {
		case d.callTimeout <- op:
		case <-d.didClose:
		}
		return ctx.Err()
	}
}

// SubscriptionTransport implements Transport. The driver serves subscriptions itself.
func (d *wsDriver) SubscriptionTransport(context.Context) (SubscriptionTransport, error) {
	return d, nil
}

// Subscribe implements SubscriptionTransport.
func (d *wsDriver) Subscribe(ctx context.Context, req SubscribeRequest, sink *chanx.Sender[EventResult]) (SubscriptionID, error) {
	id := NewSubscriptionID()
	resultTx, resultRx := chanx.Unbounded[error]()
	defer resultRx.Close()

	op := &subscribeOp{ctx: ctx, id: id, query: req.Query, sink: sink, result: resultTx}
	select {
	case d.subOp <- op:
	case <-d.didClose:
		sink.Close()
		return "", ErrClientQuit
	case <-ctx.Done():
		sink.Close()
		return "", ctx.Err()
	}

	err, recvErr := resultRx.Recv(ctx)
	switch {
	case errors.Is(recvErr, chanx.ErrClosed):
		// The router dropped the request during shutdown.
		return "", ErrClientQuit
	case recvErr != nil:
		// The driver may still activate the subscription. Closing the sink makes the
		// router evict it on the next event.
		sink.Close()
		return "", recvErr
	case err != nil:
		return "", err
	}
	return id, nil
}

// Unsubscribe implements SubscriptionTransport.
func (d *wsDriver) Unsubscribe(ctx context.Context, req UnsubscribeRequest, sub *Subscription) error {
	if req.Query != sub.Query() {
		return internalErrorf("unsubscribe query %q does not match subscription %s", req.Query, sub.ID())
	}
	return sub.Terminate(ctx)
}

// Terminator implements SubscriptionTransport.
func (d *wsDriver) Terminator() *chanx.Sender[TerminateSubscription] {
	return d.termTx
}

// Close shuts the connection down. All subscriptions end and pending requests fail
// with ErrClientQuit.
func (d *wsDriver) Close() error {
	d.closeOnce.Do(func() {
		d.cancel()
		close(d.close)
	})
	<-d.didClose
	return nil
}

// decodeResult unpacks the result of a response into result.
func decodeResult(msg *jsonrpcMessage, result any) error {
	switch {
	case msg.Error != nil:
		return msg.Error
	case result == nil:
		return nil
	case len(msg.Result) == 0:
		return internalErrorf("response without result")
	}
	return json.Unmarshal(msg.Result, result)
}
