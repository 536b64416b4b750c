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
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	wsReadBuffer       = 1024
	wsWriteBuffer      = 1024
	wsPingInterval     = 30 * time.Second
	wsPingWriteTimeout = 5 * time.Second
	wsPongTimeout      = 30 * time.Second
	wsDefaultReadLimit = 32 * 1024 * 1024

	// wsDefaultPath is where full nodes serve their event stream.
	wsDefaultPath = "/websocket"
)

var wsBufferPool = new(sync.Pool)

type wsHandshakeError struct {
	err    error
	status string
}

func (e wsHandshakeError) Error() string {
	s := e.err.Error()
	if e.status != "" {
		s += " (HTTP status " + e.status + ")"
	}
	return s
}

func (e wsHandshakeError) Unwrap() error {
	return e.err
}

// dialWebsocket connects to endpoint. Headers come from the client options, from the
// user info of the URL (basic auth) and from ctx, see NewContextWithHeaders.
func dialWebsocket(ctx context.Context, endpoint string, cfg *clientConfig) (*websocketCodec, error) {
	dialer := cfg.wsDialer
	if dialer == nil {
		dialer = &websocket.Dialer{
			ReadBufferSize:  wsReadBuffer,
			WriteBufferSize: wsWriteBuffer,
			WriteBufferPool: wsBufferPool,
			Proxy:           http.ProxyFromEnvironment,
		}
	}
	dialURL, header, err := wsClientHeaders(endpoint, "")
	if err != nil {
		return nil, err
	}
	for key, values := range cfg.httpHeaders {
		header[key] = values
	}
	setHeaders(header, headersFromContext(ctx))
	if cfg.httpAuth != nil {
		if err := cfg.httpAuth(header); err != nil {
			return nil, err
		}
	}

	conn, resp, err := dialer.DialContext(ctx, dialURL, header)
	if err != nil {
		hErr := wsHandshakeError{err: err}
		if resp != nil {
			hErr.status = resp.Status
		}
		return nil, &TransportError{Op: "dial", Err: hErr}
	}
	messageSizeLimit := int64(wsDefaultReadLimit)
	if cfg.wsMessageSizeLimit != nil && *cfg.wsMessageSizeLimit >= 0 {
		messageSizeLimit = *cfg.wsMessageSizeLimit
	}
	return newWebsocketCodec(conn, messageSizeLimit), nil
}

func wsClientHeaders(endpoint, origin string) (string, http.Header, error) {
	endpointURL, err := url.Parse(endpoint)
	if err != nil {
		return endpoint, nil, err
	}
	header := make(http.Header)
	if origin != "" {
		header.Add("origin", origin)
	}
	if endpointURL.User != nil {
		b64auth := base64.StdEncoding.EncodeToString([]byte(endpointURL.User.String()))
		header.Add("authorization", "Basic "+b64auth)
		endpointURL.User = nil
	}
	return endpointURL.String(), header, nil
}

// websocketEndpoint derives the event stream URL of an HTTP endpoint:
// http://host:26657 becomes ws://host:26657/websocket.
func websocketEndpoint(httpEndpoint string) (string, error) {
	u, err := url.Parse(httpEndpoint)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = wsDefaultPath
	u.RawQuery = ""
	return u.String(), nil
}

// websocketCodec reads and writes JSON-RPC messages on a websocket connection. Writes
// are serialised with the ping loop, which keeps idle connections alive.
type websocketCodec struct {
	conn   *websocket.Conn
	remote string

	encMu   sync.Mutex // guards writes
	closer  sync.Once
	closeCh chan struct{}

	wg           sync.WaitGroup
	pingReset    chan struct{}
	pongReceived chan struct{}
}

func newWebsocketCodec(conn *websocket.Conn, readLimit int64) *websocketCodec {
	conn.SetReadLimit(readLimit)
	wc := &websocketCodec{
		conn:         conn,
		remote:       conn.RemoteAddr().String(),
		closeCh:      make(chan struct{}),
		pingReset:    make(chan struct{}, 1),
		pongReceived: make(chan struct{}),
	}
	conn.SetPongHandler(func(appData string) error {
		select {
		case wc.pongReceived <- struct{}{}:
		case <-wc.closed():
		}
		return nil
	})
	wc.wg.Add(1)
	go wc.pingLoop()
	return wc
}

// readBatch reads the next message. Syntax errors leave the connection usable.
func (wc *websocketCodec) readBatch() ([]*jsonrpcMessage, bool, error) {
	var rawmsg json.RawMessage
	if err := wc.conn.ReadJSON(&rawmsg); err != nil {
		return nil, false, err
	}
	msgs, batch := parseMessage(rawmsg)
	return msgs, batch, nil
}

func (wc *websocketCodec) writeJSON(ctx context.Context, v interface{}) error {
	wc.encMu.Lock()
	defer wc.encMu.Unlock()

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(defaultWriteTimeout)
	}
	wc.conn.SetWriteDeadline(deadline)
	if err := wc.conn.WriteJSON(v); err != nil {
		return err
	}
	// Notify pingLoop to delay the next idle ping.
	select {
	case wc.pingReset <- struct{}{}:
	default:
	}
	return nil
}

func (wc *websocketCodec) close() {
	wc.closer.Do(func() {
		close(wc.closeCh)
		wc.encMu.Lock()
		wc.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(wsPingWriteTimeout))
		wc.encMu.Unlock()
		wc.conn.Close()
	})
	wc.wg.Wait()
}

// closed returns a channel which is closed when close is called.
func (wc *websocketCodec) closed() <-chan struct{} {
	return wc.closeCh
}

// pingLoop sends periodic ping frames when the connection is idle.
// 连接空闲时定期发送 ping 帧，收到 pong 后清除读截止时间。
func (wc *websocketCodec) pingLoop() {
	var pingTimer = time.NewTimer(wsPingInterval)
	defer wc.wg.Done()
	defer pingTimer.Stop()

	for {
		select {
		case <-wc.closed():
			return

		case <-wc.pingReset:
			if !pingTimer.Stop() {
				<-pingTimer.C
			}
			pingTimer.Reset(wsPingInterval)

		case <-pingTimer.C:
			wc.encMu.Lock()
			wc.conn.SetWriteDeadline(time.Now().Add(wsPingWriteTimeout))
			wc.conn.WriteMessage(websocket.PingMessage, nil)
			wc.conn.SetReadDeadline(time.Now().Add(wsPongTimeout))
			wc.encMu.Unlock()
			pingTimer.Reset(wsPingInterval)

		case <-wc.pongReceived:
			wc.conn.SetReadDeadline(time.Time{})
		}
	}
}
