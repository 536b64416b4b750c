// Copyright 2019 The go-ethereum Authors
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
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/gorilla/websocket"
)

// testNode imitates the RPC endpoint of a full node. Calls are answered over HTTP
// POST and websocket, subscriptions only over websocket at /websocket.
type testNode struct {
	t      *testing.T
	server *httptest.Server

	upgrader websocket.Upgrader

	mu    sync.Mutex
	conns map[*testConn]struct{}

	// rejectQueries are answered with an error on subscribe.
	rejectQueries mapset.Set[string]
	// silentQueries never get a subscribe acknowledgement.
	silentQueries mapset.Set[string]
	// failUnsubscribe makes every unsubscribe fail.
	failUnsubscribe atomic.Bool

	// While holdAcks is set, subscribe and unsubscribe answers are kept in held.
	heldMu   sync.Mutex
	holdAcks bool
	held     []heldAck

	// requests records the method of every websocket request, in order.
	requests chan string
	// headers records the headers of every HTTP request.
	headers chan http.Header
}

type heldAck struct {
	c    *testConn
	resp *jsonrpcMessage
}

type testConn struct {
	ws      *websocket.Conn
	writeMu sync.Mutex

	mu   sync.Mutex
	subs map[string]string // query -> subscription request id
}

func newTestNode(t *testing.T) *testNode {
	n := &testNode{
		t:             t,
		upgrader:      websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }},
		conns:         make(map[*testConn]struct{}),
		rejectQueries: mapset.NewSet[string](),
		silentQueries: mapset.NewSet[string](),
		requests:      make(chan string, 100),
		headers:       make(chan http.Header, 100),
	}
	mux := http.NewServeMux()
	mux.HandleFunc(wsDefaultPath, n.serveWS)
	mux.HandleFunc("/", n.serveHTTP)
	n.server = httptest.NewServer(mux)
	t.Cleanup(n.close)
	return n
}

func (n *testNode) httpURL() string { return n.server.URL }

func (n *testNode) wsURL() string {
	return "ws" + strings.TrimPrefix(n.server.URL, "http") + wsDefaultPath
}

func (n *testNode) close() {
	n.dropConnections()
	n.server.Close()
}

// dropConnections closes every websocket connection.
func (n *testNode) dropConnections() {
	n.mu.Lock()
	defer n.mu.Unlock()
	for c := range n.conns {
		c.ws.Close()
		delete(n.conns, c)
	}
}

// subscribedQueries returns the queries subscribed on any connection.
func (n *testNode) subscribedQueries() mapset.Set[string] {
	set := mapset.NewSet[string]()
	n.mu.Lock()
	defer n.mu.Unlock()
	for c := range n.conns {
		c.mu.Lock()
		for q := range c.subs {
			set.Add(q)
		}
		c.mu.Unlock()
	}
	return set
}

// publish sends an event for query to every connection subscribed to it. It returns
// once the messages are written.
func (n *testNode) publish(query string, data any) {
	n.mu.Lock()
	conns := make([]*testConn, 0, len(n.conns))
	for c := range n.conns {
		conns = append(conns, c)
	}
	n.mu.Unlock()

	for _, c := range conns {
		c.mu.Lock()
		reqID, ok := c.subs[query]
		c.mu.Unlock()
		if !ok {
			continue
		}
		enc, _ := json.Marshal(data)
		ev := Event{
			Query:  query,
			Data:   enc,
			Events: map[string][]string{"tm.event": {"Test"}},
		}
		result, _ := json.Marshal(ev)
		id, _ := json.Marshal(reqID + eventIDSuffix)
		c.write(&jsonrpcMessage{Version: vsn, ID: id, Result: result})
	}
}

func (c *testConn) write(msg *jsonrpcMessage) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.ws.WriteJSON(msg)
}

func (n *testNode) serveWS(w http.ResponseWriter, r *http.Request) {
	ws, err := n.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	c := &testConn{ws: ws, subs: make(map[string]string)}
	n.mu.Lock()
	n.conns[c] = struct{}{}
	n.mu.Unlock()

	defer func() {
		n.mu.Lock()
		delete(n.conns, c)
		n.mu.Unlock()
		ws.Close()
	}()
	for {
		var msg jsonrpcMessage
		if err := ws.ReadJSON(&msg); err != nil {
			return
		}
		select {
		case n.requests <- msg.Method:
		default:
		}
		if resp := n.handle(c, &msg); resp != nil {
			if n.holdAck(c, &msg, resp) {
				continue
			}
			if err := c.write(resp); err != nil {
				return
			}
		}
	}
}

// setHoldAcks makes the node keep back its answers to subscribe and unsubscribe
// requests until releaseAcks is called. The requests themselves are processed.
func (n *testNode) setHoldAcks() {
	n.heldMu.Lock()
	defer n.heldMu.Unlock()
	n.holdAcks = true
}

// releaseAcks writes the answers kept back since setHoldAcks.
func (n *testNode) releaseAcks() {
	n.heldMu.Lock()
	held := n.held
	n.held, n.holdAcks = nil, false
	n.heldMu.Unlock()

	for _, h := range held {
		h.c.write(h.resp)
	}
}

func (n *testNode) holdAck(c *testConn, msg *jsonrpcMessage, resp *jsonrpcMessage) bool {
	if msg.Method != subscribeMethod && msg.Method != unsubscribeMethod {
		return false
	}
	n.heldMu.Lock()
	defer n.heldMu.Unlock()
	if !n.holdAcks {
		return false
	}
	n.held = append(n.held, heldAck{c, resp})
	return true
}

func (n *testNode) serveHTTP(w http.ResponseWriter, r *http.Request) {
	select {
	case n.headers <- r.Header.Clone():
	default:
	}
	if r.Header.Get("X-Fail") != "" {
		http.Error(w, "failing on request", http.StatusServiceUnavailable)
		return
	}
	var msg jsonrpcMessage
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	w.Header().Set("content-type", contentType)
	json.NewEncoder(w).Encode(n.handle(nil, &msg))
}

func (n *testNode) handle(c *testConn, msg *jsonrpcMessage) *jsonrpcMessage {
	resp := &jsonrpcMessage{Version: vsn, ID: msg.ID}
	switch msg.Method {
	case subscribeMethod, unsubscribeMethod:
		var p queryParams
		if c == nil || json.Unmarshal(msg.Params, &p) != nil {
			resp.Error = &jsonError{Code: -32600, Message: "Invalid Request"}
			return resp
		}
		if msg.Method == subscribeMethod {
			return n.subscribe(c, msg, p.Query, resp)
		}
		return n.unsubscribe(c, p.Query, resp)

	case "status":
		resp.Result = json.RawMessage(`{"node_info":{"network":"test-chain"}}`)
	case "echo":
		resp.Result = msg.Params
	default:
		resp.Error = &jsonError{Code: -32601, Message: "Method not found"}
	}
	return resp
}

func (n *testNode) subscribe(c *testConn, msg *jsonrpcMessage, query string, resp *jsonrpcMessage) *jsonrpcMessage {
	if n.silentQueries.Contains(query) {
		return nil
	}
	if n.rejectQueries.Contains(query) {
		resp.Error = &jsonError{Code: -32603, Message: "Internal error", Data: "failed to parse query"}
		return resp
	}
	var reqID string
	json.Unmarshal(msg.ID, &reqID)

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.subs[query]; ok {
		resp.Error = &jsonError{Code: -32603, Message: "Internal error", Data: "already subscribed"}
		return resp
	}
	c.subs[query] = reqID
	resp.Result = json.RawMessage(`{}`)
	return resp
}

func (n *testNode) unsubscribe(c *testConn, query string, resp *jsonrpcMessage) *jsonrpcMessage {
	if n.failUnsubscribe.Load() {
		resp.Error = &jsonError{Code: -32603, Message: "Internal error", Data: "unsubscribe refused"}
		return resp
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.subs[query]; !ok {
		resp.Error = &jsonError{Code: -32603, Message: "Internal error", Data: "subscription not found"}
		return resp
	}
	delete(c.subs, query)
	resp.Result = json.RawMessage(`{}`)
	return resp
}

// blockData is the payload of events published in tests.
type blockData struct {
	Height int `json:"height"`
}
