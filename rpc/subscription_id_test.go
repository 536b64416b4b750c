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
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSubscriptionID(t *testing.T) {
	seen := make(map[SubscriptionID]bool)
	for i := 0; i < 1000; i++ {
		id := NewSubscriptionID()
		u, err := uuid.Parse(id.String())
		require.NoError(t, err)
		assert.Equal(t, uuid.Version(4), u.Version())
		assert.Equal(t, uuid.RFC4122, u.Variant())
		assert.Len(t, id.String(), 36)
		assert.Equal(t, u.String(), id.String(), "not in canonical lower-case form")

		require.False(t, seen[id], "duplicate id %s", id)
		seen[id] = true
	}
}

func TestSubscriptionIDRequestIDRoundTrip(t *testing.T) {
	for _, s := range []string{"", "abc", "e3b0c442-98fc-4c14-9afb-f4c8996fb924", "12"} {
		id := SubscriptionIDFromString(s)
		assert.Equal(t, s, id.String())

		back, err := SubscriptionIDFromRequestID(id.RequestID())
		require.NoError(t, err)
		assert.Equal(t, id, back)
	}
}

func TestSubscriptionIDFromRequestID(t *testing.T) {
	id, err := SubscriptionIDFromRequestID(NumberID(42))
	require.NoError(t, err)
	assert.Equal(t, SubscriptionID("42"), id)

	id, err = SubscriptionIDFromRequestID(StringID("xyz"))
	require.NoError(t, err)
	assert.Equal(t, SubscriptionID("xyz"), id)

	_, err = SubscriptionIDFromRequestID(RequestID{})
	assert.ErrorIs(t, err, ErrEmptyRequestID)
	assert.Equal(t, KindIDConversion, KindOf(err))
	assert.Equal(t, "cannot convert an empty JSON-RPC ID into a subscription ID", err.Error())
}

func TestRequestIDJSON(t *testing.T) {
	tests := []struct {
		input   string
		want    RequestID
		wantErr bool
	}{
		{input: `"abc"`, want: StringID("abc")},
		{input: `""`, want: StringID("")},
		{input: `7`, want: NumberID(7)},
		{input: `18446744073709551615`, want: NumberID(1<<64 - 1)},
		{input: `null`, want: RequestID{}},
		{input: `-1`, wantErr: true},
		{input: `1.5`, wantErr: true},
		{input: `{}`, wantErr: true},
	}
	for _, test := range tests {
		var id RequestID
		err := json.Unmarshal([]byte(test.input), &id)
		if test.wantErr {
			assert.Error(t, err, "input %s", test.input)
			continue
		}
		require.NoError(t, err, "input %s", test.input)
		assert.Equal(t, test.want, id, "input %s", test.input)

		enc, err := json.Marshal(id)
		require.NoError(t, err)
		assert.JSONEq(t, test.input, string(enc))
	}
}

func TestParseRequestIDMissing(t *testing.T) {
	id, err := parseRequestID(nil)
	require.NoError(t, err)
	assert.True(t, id.IsNone())
	assert.Equal(t, "", id.String())
}
