// Copyright 2024 The go-ethereum Authors
// This file is part of go-ethereum.
//
// go-ethereum is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// go-ethereum is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with go-ethereum. If not, see <http://www.gnu.org/licenses/>.

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/sunyihoo/tmrpc/log"
	"github.com/sunyihoo/tmrpc/rpc"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// terminateTimeout bounds the unsubscribe round trip on shutdown.
const terminateTimeout = 5 * time.Second

// subscriber is the part of rpc.Client used for following queries.
type subscriber interface {
	SubscribeWithBufSize(ctx context.Context, query string, bufSize int, opts ...rpc.SubscribeOption) (*rpc.Subscription, error)
}

// printedEvent is one line of output.
type printedEvent struct {
	Subscription rpc.SubscriptionID `json:"subscription"`
	rpc.Event
}

// eventPrinter writes JSON lines. It is shared by all query followers.
type eventPrinter struct {
	mu  sync.Mutex
	enc *json.Encoder
}

func newEventPrinter(w io.Writer) *eventPrinter {
	return &eventPrinter{enc: json.NewEncoder(w)}
}

func (p *eventPrinter) print(v any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.enc.Encode(v)
}

// runSubscriptions follows every configured query until ctx is done or one of them
// fails. Subscriptions are terminated before it returns.
func runSubscriptions(ctx context.Context, client subscriber, cfg tmsubConfig, out io.Writer) error {
	if len(cfg.Queries) == 0 {
		return errors.New("no queries given, use --query")
	}
	printer := newEventPrinter(out)
	g, gctx := errgroup.WithContext(ctx)
	for _, query := range cfg.Queries {
		g.Go(func() error {
			return followQuery(gctx, client, cfg, query, printer)
		})
	}
	return g.Wait()
}

// followQuery prints the events of one query. With retry enabled, a subscription
// whose stream ended (it was evicted for falling behind) is re-established at the
// configured rate.
func followQuery(ctx context.Context, client subscriber, cfg tmsubConfig, query string, printer *eventPrinter) error {
	var (
		logger  = log.New("query", query)
		limiter *rate.Limiter
	)
	if cfg.Retry {
		limiter = rate.NewLimiter(rate.Limit(cfg.RetryRate), 1)
	}
	for {
		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				return nil
			}
		}
		sub, err := client.SubscribeWithBufSize(ctx, query, cfg.Buffer, rpc.WithOverflowPolicy(cfg.overflowPolicy()))
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("subscribe %q: %w", query, err)
		}
		logger.Info("Subscribed", "id", sub.ID())

		err = consume(ctx, sub, printer)
		switch {
		case err == nil:
			terminate(sub, logger)
			return nil
		case errors.Is(err, io.EOF) && limiter != nil:
			logger.Warn("Subscription ended, resubscribing", "id", sub.ID())
		case errors.Is(err, io.EOF):
			logger.Warn("Subscription ended", "id", sub.ID())
			return nil
		default:
			return fmt.Errorf("subscription %s: %w", sub.ID(), err)
		}
	}
}

// consume prints events until the stream ends (io.EOF), fails or ctx is done (nil).
func consume(ctx context.Context, sub *rpc.Subscription, printer *eventPrinter) error {
	for {
		ev, err := sub.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		if err := printer.print(printedEvent{Subscription: sub.ID(), Event: ev}); err != nil {
			return err
		}
	}
}

func terminate(sub *rpc.Subscription, logger log.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), terminateTimeout)
	defer cancel()
	if err := sub.Terminate(ctx); err != nil {
		logger.Warn("Failed to terminate subscription", "id", sub.ID(), "kind", rpc.KindOf(err), "err", err)
		return
	}
	logger.Debug("Terminated subscription", "id", sub.ID())
}
