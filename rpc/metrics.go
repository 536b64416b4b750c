// Copyright 2023 The go-ethereum Authors
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
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "tmrpc"

var (
	activeSubscriptionsGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: metricsNamespace,
		Subsystem: "router",
		Name:      "active_subscriptions",
		Help:      "Number of subscriptions in the routing table.",
	})
	pendingRequestsGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: metricsNamespace,
		Subsystem: "router",
		Name:      "pending_requests",
		Help:      "Subscribe and unsubscribe requests awaiting acknowledgement.",
	}, []string{"method"})

	publishedEventsCounter = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Subsystem: "router",
		Name:      "published_events_total",
		Help:      "Events passed to the router.",
	})
	deliveredEventsCounter = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Subsystem: "router",
		Name:      "delivered_events_total",
		Help:      "Events enqueued on subscription sinks.",
	})
	evictedSinksCounter = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Subsystem: "router",
		Name:      "evicted_sinks_total",
		Help:      "Sinks removed because their consumer went away or fell behind.",
	})

	// 普通 RPC 调用的耗时，按方法和结果区分。
	rpcCallDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: metricsNamespace,
		Subsystem: "client",
		Name:      "call_duration_seconds",
		Help:      "Duration of RPC calls.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "result"})
)

// updateCallDuration tracks the duration of a remote RPC call.
func updateCallDuration(method string, success bool, elapsed time.Duration) {
	note := "success"
	if !success {
		note = "failure"
	}
	rpcCallDuration.WithLabelValues(method, note).Observe(elapsed.Seconds())
}
