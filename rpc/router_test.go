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
	"math/rand"
	"reflect"
	"testing"
	"time"

	"github.com/davecgh/go-spew/spew"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/sunyihoo/tmrpc/common/chanx"
)

func mustRecv[T any](t *testing.T, rx *chanx.Receiver[T]) T {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	v, err := rx.Recv(ctx)
	require.NoError(t, err, "expected a value")
	return v
}

func mustNotRecv[T any](t *testing.T, rx *chanx.Receiver[T]) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	v, err := rx.Recv(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded, "unexpected value %v", v)
}

func testEvent(query string, height int) Event {
	return Event{
		Query:  query,
		Data:   []byte(fmt.Sprintf(`{"height":%d}`, height)),
		Events: map[string][]string{"tm.event": {"NewBlock"}},
	}
}

func TestRouterFanOut(t *testing.T) {
	var (
		r         = NewSubscriptionRouter()
		ctx       = context.Background()
		ida, idb  = NewSubscriptionID(), NewSubscriptionID()
		idc       = NewSubscriptionID()
		atx, arx  = chanx.Unbounded[EventResult]()
		btx, brx  = chanx.Unbounded[EventResult]()
		ctxc, crx = chanx.Unbounded[EventResult]()
		ev1, ev2  = testEvent("q1", 1), testEvent("q2", 2)
	)
	r.Add(ida, "q1", atx)
	r.Add(idb, "q1", btx)
	r.Add(idc, "q2", ctxc)

	r.Publish(ctx, ev1)
	assert.Equal(t, ev1, mustRecv(t, arx).Event)
	assert.Equal(t, ev1, mustRecv(t, brx).Event)
	mustNotRecv(t, crx)
	mustNotRecv(t, arx)
	mustNotRecv(t, brx)

	r.Publish(ctx, ev2)
	assert.Equal(t, ev2, mustRecv(t, crx).Event)
	mustNotRecv(t, arx)
	mustNotRecv(t, brx)
}

func TestRouterPublishOrder(t *testing.T) {
	r := NewSubscriptionRouter()
	tx, rx := chanx.Unbounded[EventResult]()
	r.Add(NewSubscriptionID(), "q", tx)

	for i := 0; i < 100; i++ {
		r.Publish(context.Background(), testEvent("q", i))
	}
	for i := 0; i < 100; i++ {
		require.Equal(t, testEvent("q", i), mustRecv(t, rx).Event)
	}
}

func TestRouterPublishCopiesEvent(t *testing.T) {
	r := NewSubscriptionRouter()
	atx, arx := chanx.Unbounded[EventResult]()
	btx, brx := chanx.Unbounded[EventResult]()
	r.Add(NewSubscriptionID(), "q", atx)
	r.Add(NewSubscriptionID(), "q", btx)

	ev := testEvent("q", 1)
	r.Publish(context.Background(), ev)
	a := mustRecv(t, arx).Event
	b := mustRecv(t, brx).Event

	a.Data[0] = 'X'
	a.Events["tm.event"][0] = "Mutated"
	assert.Equal(t, testEvent("q", 1), b)
	assert.Equal(t, testEvent("q", 1), ev)
}

func TestRouterPublishUnknownQuery(t *testing.T) {
	r := NewSubscriptionRouter()
	r.Publish(context.Background(), testEvent("nobody", 1))
	assert.Equal(t, 0, r.NumSubscriptionsForQuery("nobody"))
	assert.Equal(t, 0, r.Queries().Cardinality())
}

func TestRouterPendingSubscription(t *testing.T) {
	var (
		r            = NewSubscriptionRouter()
		ctx          = context.Background()
		id           = NewSubscriptionID()
		reqID        = id.RequestID().String()
		evTx, evRx   = chanx.Unbounded[EventResult]()
		resTx, resRx = chanx.Unbounded[error]()
	)
	r.PendingAdd(reqID, id, "q", evTx, resTx)
	assert.Equal(t, StatePending, r.SubscriptionState(reqID))
	assert.False(t, r.IsActive(id))

	r.Publish(ctx, testEvent("q", 1))
	mustNotRecv(t, evRx)

	require.NoError(t, r.ConfirmAdd(ctx, reqID))
	assert.Equal(t, StateActive, r.SubscriptionState(reqID))
	assert.NoError(t, mustRecv(t, resRx))

	r.Publish(ctx, testEvent("q", 2))
	assert.Equal(t, testEvent("q", 2), mustRecv(t, evRx).Event)
}

func TestRouterCancelPendingSubscription(t *testing.T) {
	var (
		r            = NewSubscriptionRouter()
		ctx          = context.Background()
		id           = NewSubscriptionID()
		reqID        = id.RequestID().String()
		evTx, evRx   = chanx.Unbounded[EventResult]()
		resTx, resRx = chanx.Unbounded[error]()
		cancelErr    = errors.New("cancelled")
	)
	r.PendingAdd(reqID, id, "q", evTx, resTx)
	assert.Equal(t, StatePending, r.SubscriptionState(reqID))

	require.NoError(t, r.CancelAdd(ctx, reqID, cancelErr))
	assert.Equal(t, StateNotFound, r.SubscriptionState(reqID))
	assert.Equal(t, cancelErr, mustRecv(t, resRx))

	r.Publish(ctx, testEvent("q", 1))
	// The pending sink was dropped, so the consumer sees the end of the stream.
	_, err := evRx.Recv(ctx)
	assert.ErrorIs(t, err, chanx.ErrClosed)
}

func TestRouterConfirmRemove(t *testing.T) {
	var (
		r            = NewSubscriptionRouter()
		ctx          = context.Background()
		id           = NewSubscriptionID()
		reqID        = id.RequestID().String()
		evTx, evRx   = chanx.Unbounded[EventResult]()
		resTx, resRx = chanx.Unbounded[error]()
	)
	r.Add(id, "q", evTx)
	r.Publish(ctx, testEvent("q", 1))
	assert.Equal(t, StateActive, r.SubscriptionState(reqID))

	r.PendingRemove(reqID, id, "q", resTx)
	assert.Equal(t, StateCancelling, r.SubscriptionState(reqID))

	require.NoError(t, r.ConfirmRemove(ctx, reqID))
	assert.Equal(t, StateNotFound, r.SubscriptionState(reqID))
	assert.NoError(t, mustRecv(t, resRx))

	r.Publish(ctx, testEvent("q", 2))
	// The event published before removal is still readable, then the stream ends.
	assert.Equal(t, testEvent("q", 1), mustRecv(t, evRx).Event)
	_, err := evRx.Recv(ctx)
	assert.ErrorIs(t, err, chanx.ErrClosed)
}

func TestRouterCancelRemove(t *testing.T) {
	var (
		r            = NewSubscriptionRouter()
		ctx          = context.Background()
		id           = NewSubscriptionID()
		reqID        = id.RequestID().String()
		evTx, evRx   = chanx.Unbounded[EventResult]()
		resTx, resRx = chanx.Unbounded[error]()
		refused      = errors.New("refused")
	)
	r.Add(id, "q", evTx)
	r.PendingRemove(reqID, id, "q", resTx)
	require.NoError(t, r.CancelRemove(ctx, reqID, refused))

	assert.Equal(t, refused, mustRecv(t, resRx))
	assert.Equal(t, StateActive, r.SubscriptionState(reqID))
	r.Publish(ctx, testEvent("q", 1))
	assert.Equal(t, testEvent("q", 1), mustRecv(t, evRx).Event)
}

func TestRouterConfirmRemoveUsesActiveQuery(t *testing.T) {
	var (
		r            = NewSubscriptionRouter()
		ctx          = context.Background()
		id           = NewSubscriptionID()
		reqID        = id.RequestID().String()
		evTx, evRx   = chanx.Unbounded[EventResult]()
		resTx, resRx = chanx.Unbounded[error]()
	)
	r.Add(id, "q", evTx)
	r.PendingRemove(reqID, id, "other", resTx)
	require.NoError(t, r.ConfirmRemove(ctx, reqID))
	assert.NoError(t, mustRecv(t, resRx))

	assert.False(t, r.IsActive(id))
	assert.Equal(t, 0, r.NumSubscriptionsForQuery("q"))
	_, err := evRx.Recv(ctx)
	assert.ErrorIs(t, err, chanx.ErrClosed)
}

func TestRouterQueryInFlight(t *testing.T) {
	var (
		r        = NewSubscriptionRouter()
		ctx      = context.Background()
		ida, idb = NewSubscriptionID(), NewSubscriptionID()
		reqA     = ida.RequestID().String()
		reqB     = idb.RequestID().String()
		evTx, _  = chanx.Unbounded[EventResult]()
		resTx, _ = chanx.Unbounded[error]()
	)
	assert.False(t, r.QueryInFlight("q"))
	_, ok := r.PendingQuery(reqA)
	assert.False(t, ok)

	r.PendingAdd(reqA, ida, "q", evTx, resTx)
	assert.True(t, r.QueryInFlight("q"))
	assert.False(t, r.QueryInFlight("other"))
	query, ok := r.PendingQuery(reqA)
	assert.True(t, ok)
	assert.Equal(t, "q", query)

	require.NoError(t, r.ConfirmAdd(ctx, reqA))
	assert.False(t, r.QueryInFlight("q"))

	sinkB, _ := chanx.Unbounded[EventResult]()
	resB, _ := chanx.Unbounded[error]()
	r.Add(idb, "q2", sinkB)
	r.PendingRemove(reqB, idb, "q2", resB)
	assert.True(t, r.QueryInFlight("q2"))
	query, _ = r.PendingQuery(reqB)
	assert.Equal(t, "q2", query)
}

func TestRouterDisconnectedConsumerIsReaped(t *testing.T) {
	r := NewSubscriptionRouter()
	x := NewSubscriptionID()
	tx, rx := chanx.Unbounded[EventResult]()
	r.Add(x, "q", tx)

	rx.Close()
	r.Publish(context.Background(), testEvent("q", 1))
	assert.False(t, r.IsActive(x))
	assert.Equal(t, 0, r.NumSubscriptionsForQuery("q"))
	_, ok := r.ActiveSubscription(x)
	assert.False(t, ok)
}

func TestRouterUnknownRequestIDs(t *testing.T) {
	var (
		r     = NewSubscriptionRouter()
		ctx   = context.Background()
		id    = NewSubscriptionID()
		tx, _ = chanx.Unbounded[EventResult]()
	)
	r.Add(id, "q", tx)
	before := r.String()

	assert.NoError(t, r.ConfirmAdd(ctx, "unknown"))
	assert.NoError(t, r.CancelAdd(ctx, "unknown", errors.New("x")))
	assert.NoError(t, r.ConfirmRemove(ctx, "unknown"))
	assert.NoError(t, r.CancelRemove(ctx, "unknown", errors.New("x")))
	assert.Equal(t, before, r.String())
	assert.True(t, r.IsActive(id))
	assert.Equal(t, StateNotFound, r.SubscriptionState("unknown"))
}

func TestRouterResultReceiverGone(t *testing.T) {
	var (
		r            = NewSubscriptionRouter()
		ctx          = context.Background()
		id           = NewSubscriptionID()
		reqID        = id.RequestID().String()
		evTx, _      = chanx.Unbounded[EventResult]()
		resTx, resRx = chanx.Unbounded[error]()
	)
	r.PendingAdd(reqID, id, "q", evTx, resTx)
	resRx.Close() // the caller timed out

	err := r.ConfirmAdd(ctx, reqID)
	var ierr *InternalError
	require.ErrorAs(t, err, &ierr)
	assert.Contains(t, err.Error(), id.String())
	assert.Equal(t, KindInternal, KindOf(err))
	// The router does not act on the failure.
	assert.True(t, r.IsActive(id))
}

func TestRouterReAdd(t *testing.T) {
	r := NewSubscriptionRouter()
	id := NewSubscriptionID()
	tx1, rx1 := chanx.Unbounded[EventResult]()
	tx2, rx2 := chanx.Unbounded[EventResult]()

	r.Add(id, "q1", tx1)
	r.Add(id, "q2", tx2)
	assert.Equal(t, 0, r.NumSubscriptionsForQuery("q1"))
	assert.Equal(t, 1, r.NumSubscriptionsForQuery("q2"))

	// The replaced sink is closed.
	_, err := rx1.Recv(context.Background())
	assert.ErrorIs(t, err, chanx.ErrClosed)

	r.Publish(context.Background(), testEvent("q2", 1))
	assert.Equal(t, testEvent("q2", 1), mustRecv(t, rx2).Event)
}

func TestRouterOverflowPolicies(t *testing.T) {
	ctx := context.Background()

	t.Run("evict", func(t *testing.T) {
		r := NewSubscriptionRouter()
		id := NewSubscriptionID()
		tx, rx := chanx.Bounded[EventResult](1, chanx.OverflowEvict)
		r.Add(id, "q", tx)

		r.Publish(ctx, testEvent("q", 1))
		r.Publish(ctx, testEvent("q", 2))
		assert.False(t, r.IsActive(id))
		assert.Equal(t, testEvent("q", 1), mustRecv(t, rx).Event)
		_, err := rx.Recv(ctx)
		assert.ErrorIs(t, err, chanx.ErrClosed)
	})
	t.Run("drop-newest", func(t *testing.T) {
		r := NewSubscriptionRouter()
		id := NewSubscriptionID()
		tx, rx := chanx.Bounded[EventResult](1, chanx.OverflowDropNewest)
		r.Add(id, "q", tx)

		r.Publish(ctx, testEvent("q", 1))
		r.Publish(ctx, testEvent("q", 2))
		assert.True(t, r.IsActive(id))
		assert.Equal(t, testEvent("q", 1), mustRecv(t, rx).Event)
		mustNotRecv(t, rx)
	})
	t.Run("drop-oldest", func(t *testing.T) {
		r := NewSubscriptionRouter()
		id := NewSubscriptionID()
		tx, rx := chanx.Bounded[EventResult](1, chanx.OverflowDropOldest)
		r.Add(id, "q", tx)

		r.Publish(ctx, testEvent("q", 1))
		r.Publish(ctx, testEvent("q", 2))
		assert.True(t, r.IsActive(id))
		assert.Equal(t, testEvent("q", 2), mustRecv(t, rx).Event)
	})
	t.Run("block-timeout-keeps-subscription", func(t *testing.T) {
		r := NewSubscriptionRouter()
		id := NewSubscriptionID()
		tx, rx := chanx.Bounded[EventResult](1, chanx.OverflowBlock)
		r.Add(id, "q", tx)

		r.Publish(ctx, testEvent("q", 1))
		tctx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
		r.Publish(tctx, testEvent("q", 2))
		cancel()
		assert.True(t, r.IsActive(id))
		assert.Equal(t, testEvent("q", 1), mustRecv(t, rx).Event)
		mustNotRecv(t, rx)
	})
}

func TestRouterClose(t *testing.T) {
	var (
		r            = NewSubscriptionRouter()
		ctx          = context.Background()
		active       = NewSubscriptionID()
		pending      = NewSubscriptionID()
		actTx, actRx = chanx.Unbounded[EventResult]()
		penTx, penRx = chanx.Unbounded[EventResult]()
		resTx, resRx = chanx.Unbounded[error]()
		connErr      = &TransportError{Op: "read", Err: errors.New("eof")}
	)
	r.Add(active, "q", actTx)
	r.PendingAdd(pending.String(), pending, "q2", penTx, resTx)

	r.CloseWithError(ctx, connErr)
	assert.Equal(t, 0, r.Queries().Cardinality())
	assert.Equal(t, StateNotFound, r.SubscriptionState(pending.String()))

	res := mustRecv(t, actRx)
	assert.Equal(t, connErr, res.Err)
	_, err := actRx.Recv(ctx)
	assert.ErrorIs(t, err, chanx.ErrClosed)
	_, err = penRx.Recv(ctx)
	assert.ErrorIs(t, err, chanx.ErrClosed)
	_, err = resRx.Recv(ctx)
	assert.ErrorIs(t, err, chanx.ErrClosed)
}

func TestRouterQueries(t *testing.T) {
	r := NewSubscriptionRouter()
	for _, q := range []string{"a", "b", "a"} {
		tx, _ := chanx.Unbounded[EventResult]()
		r.Add(NewSubscriptionID(), q, tx)
	}
	assert.ElementsMatch(t, []string{"a", "b"}, r.Queries().ToSlice())
	assert.Equal(t, 2, r.NumSubscriptionsForQuery("a"))
}

// TestRouterRandomOperations drives the router with random operation sequences and
// checks the routing table after every step.
func TestRouterRandomOperations(t *testing.T) {
	const (
		steps   = 2000
		nIDs    = 16
		nQuerys = 4
	)
	var (
		rng     = rand.New(rand.NewSource(1))
		ctx     = context.Background()
		r       = NewSubscriptionRouter()
		ids     = make([]SubscriptionID, nIDs)
		queries = make([]string, nQuerys)
		sinks   = make(map[SubscriptionID]*chanx.Receiver[EventResult])
	)
	for i := range ids {
		ids[i] = NewSubscriptionID()
	}
	for i := range queries {
		queries[i] = fmt.Sprintf("tm.event = 'E%d'", i)
	}
	newSink := func(id SubscriptionID) *chanx.Sender[EventResult] {
		tx, rx := chanx.Unbounded[EventResult]()
		sinks[id] = rx
		return tx
	}
	newResult := func() *chanx.Sender[error] {
		tx, _ := chanx.Unbounded[error]()
		return tx
	}

	for step := 0; step < steps; step++ {
		id := ids[rng.Intn(nIDs)]
		query := queries[rng.Intn(nQuerys)]
		reqID := id.String()

		switch rng.Intn(10) {
		case 0:
			r.Add(id, query, newSink(id))
		case 1:
			r.Remove(id, query)
		case 2:
			if r.SubscriptionState(reqID) == StateNotFound {
				r.PendingAdd(reqID, id, query, newSink(id), newResult())
			}
		case 3:
			r.ConfirmAdd(ctx, reqID)
		case 4:
			r.CancelAdd(ctx, reqID, errors.New("no"))
		case 5:
			if r.SubscriptionState(reqID) == StateActive {
				r.PendingRemove(reqID, id, query, newResult())
			}
		case 6:
			r.ConfirmRemove(ctx, reqID)
		case 7:
			r.CancelRemove(ctx, reqID, errors.New("no"))
		case 8:
			if rx, ok := sinks[id]; ok {
				rx.Close()
			}
		case 9:
			r.Publish(ctx, testEvent(query, step))
		}
		checkRouterInvariants(t, r)
	}
}

func checkRouterInvariants(t *testing.T, r *SubscriptionRouter) {
	t.Helper()
	seen := make(map[SubscriptionID]string)
	for query, subs := range r.subscriptions {
		for id := range subs {
			if prev, ok := seen[id]; ok {
				t.Fatalf("subscription %s listed under %q and %q\n%s", id, prev, query, spew.Sdump(r.queryOf))
			}
			seen[id] = query
		}
	}
	if !reflect.DeepEqual(seen, r.queryOf) {
		t.Fatalf("index out of sync: have %v, want %v\n%s", r.queryOf, seen, spew.Sdump(r.subscriptions))
	}
	for reqID := range r.pendingSubscribe {
		if _, ok := r.pendingUnsubscribe[reqID]; ok {
			t.Fatalf("request %s pending in both tables", reqID)
		}
	}
}
