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
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/google/uuid"
)

// SubscriptionID identifies one subscription. Its textual form is also the JSON-RPC
// request ID of the subscribe and unsubscribe requests sent for it.
// SubscriptionID 标识一个订阅，其文本形式同时也是订阅/取消订阅请求的 JSON-RPC 请求 ID。
type SubscriptionID string

// NewSubscriptionID returns a random version 4 UUID. It panics if the system
// randomness source fails.
func NewSubscriptionID() SubscriptionID {
	id, err := uuid.NewRandom()
	if err != nil {
		panic(fmt.Sprintf("can't generate subscription ID: %v", err))
	}
	return SubscriptionID(id.String())
}

// SubscriptionIDFromString wraps s. Any string is accepted.
func SubscriptionIDFromString(s string) SubscriptionID {
	return SubscriptionID(s)
}

func (id SubscriptionID) String() string {
	return string(id)
}

// RequestID returns the string-typed JSON-RPC ID carrying id.
func (id SubscriptionID) RequestID() RequestID {
	return StringID(string(id))
}

// SubscriptionIDFromRequestID converts a JSON-RPC ID. String IDs are used directly,
// numeric IDs in their decimal form. The absent ID fails with ErrEmptyRequestID.
func SubscriptionIDFromRequestID(id RequestID) (SubscriptionID, error) {
	if id.IsNone() {
		return "", ErrEmptyRequestID
	}
	return SubscriptionID(id.String()), nil
}

type idKind uint8

const (
	idNone idKind = iota
	idString
	idNumber
)

// RequestID is a JSON-RPC 2.0 request ID: a string, a non-negative integer or absent.
// The zero value is the absent ID.
type RequestID struct {
	kind idKind
	str  string
	num  uint64
}

// StringID returns a string-typed request ID.
func StringID(s string) RequestID { return RequestID{kind: idString, str: s} }

// NumberID returns an integer-typed request ID.
func NumberID(n uint64) RequestID { return RequestID{kind: idNumber, num: n} }

// IsNone reports whether the ID is absent.
func (id RequestID) IsNone() bool { return id.kind == idNone }

// String returns the textual form of the ID. Numbers are rendered in decimal, the
// absent ID as the empty string.
func (id RequestID) String() string {
	switch id.kind {
	case idString:
		return id.str
	case idNumber:
		return strconv.FormatUint(id.num, 10)
	}
	return ""
}

func (id RequestID) MarshalJSON() ([]byte, error) {
	switch id.kind {
	case idString:
		return json.Marshal(id.str)
	case idNumber:
		return []byte(strconv.FormatUint(id.num, 10)), nil
	}
	return []byte("null"), nil
}

func (id *RequestID) UnmarshalJSON(input []byte) error {
	input = bytes.TrimSpace(input)
	switch {
	case len(input) == 0 || bytes.Equal(input, null):
		*id = RequestID{}
	case input[0] == '"':
		var s string
		if err := json.Unmarshal(input, &s); err != nil {
			return err
		}
		*id = StringID(s)
	default:
		n, err := strconv.ParseUint(string(input), 10, 64)
		if err != nil {
			return fmt.Errorf("invalid JSON-RPC ID %s", input)
		}
		*id = NumberID(n)
	}
	return nil
}

// parseRequestID decodes the raw id member of a message. A missing member is the
// absent ID.
func parseRequestID(raw json.RawMessage) (RequestID, error) {
	var id RequestID
	if len(raw) == 0 {
		return id, nil
	}
	err := id.UnmarshalJSON(raw)
	return id, err
}
