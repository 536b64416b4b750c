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
	"encoding/json"
	"slices"
)

// Event is a server-pushed notification. It is routed to subscriptions solely on the
// exact text of Query.
type Event struct {
	Query  string              `json:"query"`
	Data   json.RawMessage     `json:"data,omitempty"`
	Events map[string][]string `json:"events,omitempty"`
}

// Copy returns a deep copy of the event.
func (ev Event) Copy() Event {
	cpy := Event{
		Query: ev.Query,
		Data:  slices.Clone(ev.Data),
	}
	if ev.Events != nil {
		cpy.Events = make(map[string][]string, len(ev.Events))
		for k, v := range ev.Events {
			cpy.Events[k] = slices.Clone(v)
		}
	}
	return cpy
}

// EventResult is an element of a subscription's event stream: either an event or an
// error reported by the client.
type EventResult struct {
	Event Event
	Err   error
}
