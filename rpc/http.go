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
	"context"
	"encoding/json"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
)

const (
	contentType = "application/json"

	// maxErrorBodySize caps how much of a failed response is kept in HTTPError.
	maxErrorBodySize = 64 * 1024
)

// httpTransport sends each call as one POST request. Subscriptions need server push,
// so they are served by a websocket driver which is dialled on first use.
type httpTransport struct {
	client  *http.Client
	url     string
	cfg     *clientConfig
	mu      sync.Mutex // protects headers
	headers http.Header
	auth    HTTPAuth

	idCounter atomic.Uint64

	subMu     sync.Mutex
	subs      *wsDriver // nil until the first subscription
	subsURL   string
	closed    bool
	closeOnce sync.Once
}

func newHTTPTransport(endpoint string, cfg *clientConfig) (*httpTransport, error) {
	headers := make(http.Header, 2+len(cfg.httpHeaders))
	headers.Set("accept", contentType)
	headers.Set("content-type", contentType)
	for key, values := range cfg.httpHeaders {
		headers[key] = values
	}

	client := cfg.httpClient
	if client == nil {
		client = new(http.Client)
	}
	subsURL := cfg.subscriptionEndpoint
	if subsURL == "" {
		var err error
		if subsURL, err = websocketEndpoint(endpoint); err != nil {
			return nil, err
		}
	}
	return &httpTransport{
		client:  client,
		url:     endpoint,
		cfg:     cfg,
		headers: headers,
		auth:    cfg.httpAuth,
		subsURL: subsURL,
	}, nil
}

// Call implements Transport.
func (hc *httpTransport) Call(ctx context.Context, result any, method string, params any) error {
	msg, err := newRequest(NumberID(hc.idCounter.Add(1)), method, params)
	if err != nil {
		return err
	}
	respBody, err := hc.doRequest(ctx, msg)
	if err != nil {
		return err
	}
	defer respBody.Close()

	var resp jsonrpcMessage
	if err := json.NewDecoder(respBody).Decode(&resp); err != nil {
		return &TransportError{Op: "read", Err: err}
	}
	return decodeResult(&resp, result)
}

func (hc *httpTransport) doRequest(ctx context.Context, msg interface{}) (io.ReadCloser, error) {
	body, err := json.Marshal(msg)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, hc.url, io.NopCloser(bytes.NewReader(body)))
	if err != nil {
		return nil, err
	}
	req.ContentLength = int64(len(body))
	req.GetBody = func() (io.ReadCloser, error) { return io.NopCloser(bytes.NewReader(body)), nil }

	// set headers
	hc.mu.Lock()
	req.Header = hc.headers.Clone()
	hc.mu.Unlock()
	setHeaders(req.Header, headersFromContext(ctx))

	if hc.auth != nil {
		if err := hc.auth(req.Header); err != nil {
			return nil, err
		}
	}

	// do request
	resp, err := hc.client.Do(req)
	if err != nil {
		return nil, &TransportError{Op: "post", Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
		return nil, HTTPError{
			Status:     resp.Status,
			StatusCode: resp.StatusCode,
			Body:       body,
		}
	}
	return resp.Body, nil
}

// SubscriptionTransport implements Transport. The websocket connection is dialled
// with ctx on the first call and reused afterwards.
func (hc *httpTransport) SubscriptionTransport(ctx context.Context) (SubscriptionTransport, error) {
	hc.subMu.Lock()
	defer hc.subMu.Unlock()

	if hc.closed {
		return nil, ErrClientQuit
	}
	if hc.subs != nil {
		return hc.subs, nil
	}
	codec, err := dialWebsocket(ctx, hc.subsURL, hc.cfg)
	if err != nil {
		return nil, err
	}
	hc.subs = newWSDriver(codec, hc.cfg)
	hc.cfg.log().Debug("Opened subscription transport", "url", hc.subsURL)
	return hc.subs, nil
}

// Close implements Transport.
func (hc *httpTransport) Close() error {
	hc.closeOnce.Do(func() {
		hc.subMu.Lock()
		hc.closed = true
		subs := hc.subs
		hc.subMu.Unlock()
		if subs != nil {
			subs.Close()
		}
		hc.client.CloseIdleConnections()
	})
	return nil
}
