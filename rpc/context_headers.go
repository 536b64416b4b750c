// Copyright 2022 The go-ethereum Authors
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
	"net/http"
)

type mdHeaderKey struct{}

// NewContextWithHeaders wraps ctx with additional HTTP headers. HTTP calls made with
// the returned context carry them, and so does the websocket handshake when the
// context is used to open the first subscription of an HTTP client. Headers already
// in ctx are kept unless h overrides them.
func NewContextWithHeaders(ctx context.Context, h http.Header) context.Context {
	if len(h) == 0 {
		return ctx
	}
	merged := make(http.Header)
	if prev := headersFromContext(ctx); prev != nil {
		setHeaders(merged, prev.Clone())
	}
	setHeaders(merged, h.Clone())
	return context.WithValue(ctx, mdHeaderKey{}, merged)
}

func headersFromContext(ctx context.Context) http.Header {
	h, _ := ctx.Value(mdHeaderKey{}).(http.Header)
	return h
}

// setHeaders copies src into dst under canonical keys and returns dst.
func setHeaders(dst http.Header, src http.Header) http.Header {
	for key, values := range src {
		dst[http.CanonicalHeaderKey(key)] = values
	}
	return dst
}
