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

/*
Package rpc implements a JSON-RPC 2.0 client for the event stream of a full node.

Ordinary methods are called with Client.Call over HTTP or WebSocket. Long-lived event
subscriptions are served over WebSocket: every subscription has a random ID which is also
used as the JSON-RPC request ID of its subscribe and unsubscribe requests.

# Subscriptions

	client, err := rpc.Dial("ws://localhost:26657/websocket")
	if err != nil {
		return err
	}
	defer client.Close()

	sub, err := client.Subscribe(ctx, "tm.event = 'NewBlock'")
	if err != nil {
		return err
	}
	for {
		ev, err := sub.Next(ctx)
		if err == io.EOF {
			break // the client was closed
		}
		if err != nil {
			return err
		}
		fmt.Println(ev.Query, string(ev.Data))
	}

A subscription only receives events once the node has acknowledged the subscribe request.
Subscription.Terminate unsubscribes and returns after the node confirmed it.

# Routing

Inside the client a single driver goroutine owns a SubscriptionRouter. The router maps
queries to the sinks of their subscriptions and keeps two tables of in-flight subscribe and
unsubscribe requests. Callers never touch the router directly: they talk to the driver
through channels, which serialises every router mutation without locks.

Events are routed on the exact text of their query. When a consumer stops reading and
closes its subscription, the router notices on the next publish and drops the sink. Bounded
sinks use an overflow policy chosen when subscribing, see SubscribeWithBufSize.
*/
package rpc
