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
	"bytes"
	"encoding/json"
	"time"
)

const (
	vsn               = "2.0"
	subscribeMethod   = "subscribe"
	unsubscribeMethod = "unsubscribe"

	// eventIDSuffix is appended by the full node to the subscription ID in the id
	// member of event messages.
	eventIDSuffix = "#event"

	defaultWriteTimeout = 10 * time.Second // used if context has no deadline
)

var null = json.RawMessage("null")

// queryParams are the params of subscribe and unsubscribe.
type queryParams struct {
	Query string `json:"query"`
}

// A value of this type can a JSON-RPC request, notification, successful response or
// error response. Which one it is depends on the fields.
//
// 事件消息在全节点的协议中是一个成功响应，其 result 带有 query 字段。
type jsonrpcMessage struct {
	Version string          `json:"jsonrpc,omitempty"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Error   *jsonError      `json:"error,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
}

func (msg *jsonrpcMessage) isResponse() bool {
	return msg.hasValidVersion() && msg.Method == "" && msg.Params == nil && (msg.Result != nil || msg.Error != nil)
}

func (msg *jsonrpcMessage) hasValidID() bool {
	return len(msg.ID) > 0 && msg.ID[0] != '{' && msg.ID[0] != '['
}

func (msg *jsonrpcMessage) hasValidVersion() bool {
	return msg.Version == vsn
}

// requestID decodes the id member. Objects and arrays yield the absent ID.
func (msg *jsonrpcMessage) requestID() RequestID {
	if !msg.hasValidID() {
		return RequestID{}
	}
	id, err := parseRequestID(msg.ID)
	if err != nil {
		return RequestID{}
	}
	return id
}

// event decodes the result of msg as an event. It reports false for results that
// do not carry a query, such as the empty object acknowledging a subscribe request.
func (msg *jsonrpcMessage) event() (Event, bool) {
	if msg.Error != nil || len(msg.Result) == 0 || msg.Result[0] != '{' {
		return Event{}, false
	}
	var ev Event
	if err := json.Unmarshal(msg.Result, &ev); err != nil || ev.Query == "" {
		return Event{}, false
	}
	return ev, true
}

func (msg *jsonrpcMessage) String() string {
	b, _ := json.Marshal(msg)
	return string(b)
}

// newRequest builds a request envelope.
func newRequest(id RequestID, method string, params any) (*jsonrpcMessage, error) {
	msg := &jsonrpcMessage{Version: vsn, Method: method}
	var err error
	if msg.ID, err = json.Marshal(id); err != nil {
		return nil, err
	}
	if params != nil {
		if msg.Params, err = json.Marshal(params); err != nil {
			return nil, err
		}
	}
	return msg, nil
}

// parseMessage parses raw bytes as a (batch of) JSON-RPC message(s). There are no error
// checks in this function because the raw message has already been syntax-checked when it
// is called. Any non-JSON-RPC messages in the input return the zero value of
// jsonrpcMessage.
func parseMessage(raw json.RawMessage) ([]*jsonrpcMessage, bool) {
	if !isBatch(raw) {
		msgs := []*jsonrpcMessage{{}}
		json.Unmarshal(raw, &msgs[0])
		return msgs, false
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.Token() // skip '['
	var msgs []*jsonrpcMessage
	for dec.More() {
		msgs = append(msgs, new(jsonrpcMessage))
		dec.Decode(&msgs[len(msgs)-1])
	}
	return msgs, true
}

// isBatch returns true when the first non-whitespace characters is '['
func isBatch(raw json.RawMessage) bool {
	for _, c := range raw {
		// skip insignificant whitespace (http://www.ietf.org/rfc/rfc4627.txt)
		if c == 0x20 || c == 0x09 || c == 0x0a || c == 0x0d {
			continue
		}
		return c == '['
	}
	return false
}
