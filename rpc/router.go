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
	"errors"
	"fmt"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/sunyihoo/tmrpc/common/chanx"
)

// SubscriptionState is the lifecycle state of a subscription as seen by the router.
//
//	NotFound -> Pending (PendingAdd) -> Active (ConfirmAdd) or NotFound (CancelAdd)
//	Active -> Cancelling (PendingRemove) -> NotFound (ConfirmRemove) or Active (CancelRemove)
type SubscriptionState uint8

const (
	StateNotFound SubscriptionState = iota
	StatePending
	StateActive
	StateCancelling
)

func (s SubscriptionState) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateActive:
		return "active"
	case StateCancelling:
		return "cancelling"
	default:
		return "notfound"
	}
}

type pendingSubscribe struct {
	id     SubscriptionID
	query  string
	sink   *chanx.Sender[EventResult]
	result *chanx.Sender[error]
}

type pendingUnsubscribe struct {
	id     SubscriptionID
	query  string
	result *chanx.Sender[error]
}

// SubscriptionRouter maps queries to the sinks of their subscriptions and tracks the
// subscribe and unsubscribe requests that are waiting for the node to acknowledge them.
//
// The router is not safe for concurrent use. It is owned by a single driver goroutine
// which serialises all calls.
//
// SubscriptionRouter 不是并发安全的，由唯一的驱动协程持有并串行调用。
type SubscriptionRouter struct {
	subscriptions map[string]map[SubscriptionID]*chanx.Sender[EventResult] // query -> id -> sink
	queryOf       map[SubscriptionID]string                                // id -> query, one entry per active id

	pendingSubscribe   map[string]pendingSubscribe   // request id -> in-flight subscribe
	pendingUnsubscribe map[string]pendingUnsubscribe // request id -> in-flight unsubscribe
}

// NewSubscriptionRouter creates an empty router.
func NewSubscriptionRouter() *SubscriptionRouter {
	return &SubscriptionRouter{
		subscriptions:      make(map[string]map[SubscriptionID]*chanx.Sender[EventResult]),
		queryOf:            make(map[SubscriptionID]string),
		pendingSubscribe:   make(map[string]pendingSubscribe),
		pendingUnsubscribe: make(map[string]pendingUnsubscribe),
	}
}

// Publish delivers a copy of ev to every active subscription of ev.Query, in the order
// Publish is called. Sinks whose consumer has gone away, or which are full under the
// evict overflow policy, are removed once the fan-out is done. Publishing on a query
// without subscriptions does nothing.
//
// ctx bounds the wait on sinks with the block overflow policy. A sink that could not
// be served before ctx expired misses the event but stays subscribed.
func (r *SubscriptionRouter) Publish(ctx context.Context, ev Event) {
	subs, ok := r.subscriptions[ev.Query]
	if !ok {
		return
	}
	publishedEventsCounter.Inc()

	var evicted []SubscriptionID
	for id, sink := range subs {
		err := sink.Send(ctx, EventResult{Event: ev.Copy()})
		switch {
		case err == nil:
			deliveredEventsCounter.Inc()
		case errors.Is(err, chanx.ErrClosed), errors.Is(err, chanx.ErrFull):
			evicted = append(evicted, id)
		}
	}
	for _, id := range evicted {
		r.Remove(id, ev.Query)
		evictedSinksCounter.Inc()
	}
}

// Add installs sink as the active subscription id on query. Re-adding an id replaces
// its previous sink, which is closed. Ordinary subscriptions should go through
// PendingAdd and ConfirmAdd instead.
func (r *SubscriptionRouter) Add(id SubscriptionID, query string, sink *chanx.Sender[EventResult]) {
	if prevQuery, ok := r.queryOf[id]; ok {
		prev := r.subscriptions[prevQuery][id]
		r.unlink(id, prevQuery)
		if prev != sink {
			prev.Close()
		}
	}
	subs, ok := r.subscriptions[query]
	if !ok {
		subs = make(map[SubscriptionID]*chanx.Sender[EventResult])
		r.subscriptions[query] = subs
	}
	subs[id] = sink
	r.queryOf[id] = query
	activeSubscriptionsGauge.Inc()
}

// Remove drops the active subscription id from query and closes its sink, so the
// consumer observes the end of the stream once it has drained what was delivered.
// It does nothing if id is not active on query.
func (r *SubscriptionRouter) Remove(id SubscriptionID, query string) {
	sink, ok := r.subscriptions[query][id]
	if !ok {
		return
	}
	r.unlink(id, query)
	sink.Close()
}

func (r *SubscriptionRouter) unlink(id SubscriptionID, query string) {
	subs := r.subscriptions[query]
	delete(subs, id)
	if len(subs) == 0 {
		delete(r.subscriptions, query)
	}
	delete(r.queryOf, id)
	activeSubscriptionsGauge.Dec()
}

// PendingAdd records a subscribe request sent under reqID. The subscription becomes
// active when ConfirmAdd is called for reqID. An earlier entry under the same reqID is
// replaced, so request IDs must be unique.
func (r *SubscriptionRouter) PendingAdd(reqID string, id SubscriptionID, query string, sink *chanx.Sender[EventResult], result *chanx.Sender[error]) {
	if _, ok := r.pendingSubscribe[reqID]; !ok {
		pendingRequestsGauge.WithLabelValues(subscribeMethod).Inc()
	}
	r.pendingSubscribe[reqID] = pendingSubscribe{id: id, query: query, sink: sink, result: result}
}

// ConfirmAdd activates the subscription recorded under reqID and reports success to
// its caller. Unknown request IDs are ignored. The returned error is an *InternalError
// if the caller stopped waiting for the result; the subscription is active regardless.
func (r *SubscriptionRouter) ConfirmAdd(ctx context.Context, reqID string) error {
	p, ok := r.pendingSubscribe[reqID]
	if !ok {
		return nil
	}
	delete(r.pendingSubscribe, reqID)
	pendingRequestsGauge.WithLabelValues(subscribeMethod).Dec()

	r.Add(p.id, p.query, p.sink)
	return deliverResult(ctx, p.result, p.id, nil)
}

// CancelAdd forgets the subscribe request recorded under reqID, closes the sink it
// carried and reports err to the caller. Unknown request IDs are ignored.
func (r *SubscriptionRouter) CancelAdd(ctx context.Context, reqID string, err error) error {
	p, ok := r.pendingSubscribe[reqID]
	if !ok {
		return nil
	}
	delete(r.pendingSubscribe, reqID)
	pendingRequestsGauge.WithLabelValues(subscribeMethod).Dec()

	p.sink.Close()
	return deliverResult(ctx, p.result, p.id, err)
}

// PendingRemove records an unsubscribe request for the active subscription id, sent
// under reqID.
func (r *SubscriptionRouter) PendingRemove(reqID string, id SubscriptionID, query string, result *chanx.Sender[error]) {
	if _, ok := r.pendingUnsubscribe[reqID]; !ok {
		pendingRequestsGauge.WithLabelValues(unsubscribeMethod).Inc()
	}
	r.pendingUnsubscribe[reqID] = pendingUnsubscribe{id: id, query: query, result: result}
}

// ConfirmRemove removes the subscription recorded under reqID and reports success to
// the caller. No event is delivered to it afterwards. Unknown request IDs are ignored.
func (r *SubscriptionRouter) ConfirmRemove(ctx context.Context, reqID string) error {
	p, ok := r.pendingUnsubscribe[reqID]
	if !ok {
		return nil
	}
	delete(r.pendingUnsubscribe, reqID)
	pendingRequestsGauge.WithLabelValues(unsubscribeMethod).Dec()

	// The index knows the query the subscription is active on.
	if query, ok := r.queryOf[p.id]; ok {
		r.Remove(p.id, query)
	}
	return deliverResult(ctx, p.result, p.id, nil)
}

// CancelRemove forgets the unsubscribe request recorded under reqID and reports err to
// the caller. The subscription stays active. Unknown request IDs are ignored.
func (r *SubscriptionRouter) CancelRemove(ctx context.Context, reqID string, err error) error {
	p, ok := r.pendingUnsubscribe[reqID]
	if !ok {
		return nil
	}
	delete(r.pendingUnsubscribe, reqID)
	pendingRequestsGauge.WithLabelValues(unsubscribeMethod).Dec()

	return deliverResult(ctx, p.result, p.id, err)
}

func deliverResult(ctx context.Context, result *chanx.Sender[error], id SubscriptionID, err error) error {
	defer result.Close()
	if sendErr := result.Send(ctx, err); sendErr != nil {
		return internalErrorf("failed to communicate result of pending subscription with ID: %s: %v", id, sendErr)
	}
	return nil
}

// IsActive reports whether id is in the routing table.
func (r *SubscriptionRouter) IsActive(id SubscriptionID) bool {
	_, ok := r.queryOf[id]
	return ok
}

// ActiveSubscription returns the sink of the active subscription id.
func (r *SubscriptionRouter) ActiveSubscription(id SubscriptionID) (*chanx.Sender[EventResult], bool) {
	query, ok := r.queryOf[id]
	if !ok {
		return nil, false
	}
	return r.subscriptions[query][id], true
}

// SubscriptionState returns the state of the subscription whose requests use reqID.
// Pending takes precedence over Cancelling, which takes precedence over Active.
func (r *SubscriptionRouter) SubscriptionState(reqID string) SubscriptionState {
	if _, ok := r.pendingSubscribe[reqID]; ok {
		return StatePending
	}
	if _, ok := r.pendingUnsubscribe[reqID]; ok {
		return StateCancelling
	}
	if r.IsActive(SubscriptionIDFromString(reqID)) {
		return StateActive
	}
	return StateNotFound
}

// PendingQuery returns the query of the subscribe or unsubscribe request recorded
// under reqID.
func (r *SubscriptionRouter) PendingQuery(reqID string) (string, bool) {
	if p, ok := r.pendingSubscribe[reqID]; ok {
		return p.query, true
	}
	if p, ok := r.pendingUnsubscribe[reqID]; ok {
		return p.query, true
	}
	return "", false
}

// QueryInFlight reports whether a subscribe or unsubscribe request for query awaits
// acknowledgement.
func (r *SubscriptionRouter) QueryInFlight(query string) bool {
	for _, p := range r.pendingSubscribe {
		if p.query == query {
			return true
		}
	}
	for _, p := range r.pendingUnsubscribe {
		if p.query == query {
			return true
		}
	}
	return false
}

// NumSubscriptionsForQuery returns the number of active subscriptions on query.
func (r *SubscriptionRouter) NumSubscriptionsForQuery(query string) int {
	return len(r.subscriptions[query])
}

// Queries returns the set of queries that have at least one active subscription.
func (r *SubscriptionRouter) Queries() mapset.Set[string] {
	set := mapset.NewThreadUnsafeSetWithSize[string](len(r.subscriptions))
	for query := range r.subscriptions {
		set.Add(query)
	}
	return set
}

// Close drops every subscription and pending request. Active and pending consumers see
// the end of their event streams and callers waiting on a pending request see their
// result channel closed without a value.
func (r *SubscriptionRouter) Close() {
	r.CloseWithError(context.Background(), nil)
}

// CloseWithError is like Close, but first delivers err to every active subscription.
// Sinks that cannot take the error before ctx is done are closed without it.
func (r *SubscriptionRouter) CloseWithError(ctx context.Context, err error) {
	for query, subs := range r.subscriptions {
		for id, sink := range subs {
			if err != nil {
				sink.Send(ctx, EventResult{Err: err})
			}
			sink.Close()
			r.unlink(id, query)
		}
	}
	for reqID, p := range r.pendingSubscribe {
		p.sink.Close()
		p.result.Close()
		delete(r.pendingSubscribe, reqID)
		pendingRequestsGauge.WithLabelValues(subscribeMethod).Dec()
	}
	for reqID, p := range r.pendingUnsubscribe {
		p.result.Close()
		delete(r.pendingUnsubscribe, reqID)
		pendingRequestsGauge.WithLabelValues(unsubscribeMethod).Dec()
	}
}

func (r *SubscriptionRouter) String() string {
	return fmt.Sprintf("SubscriptionRouter{queries: %d, active: %d, pending: %d, cancelling: %d}",
		len(r.subscriptions), len(r.queryOf), len(r.pendingSubscribe), len(r.pendingUnsubscribe))
}
