// Copyright 2025 UMH Systems GmbH
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package metrics exposes Prometheus metrics of the normalized cache and a
// JSON debug endpoint with graph snapshots.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// Component labels.
const (
	ComponentStore      = "store"
	ComponentObserver   = "observer"
	ComponentDispatcher = "dispatcher"
)

var (
	namespace = "normcache"
	subsystem = "store"

	errorCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "errors_total",
			Help:      "Total number of unexpected errors by component",
		},
		[]string{"component", "store"},
	)

	transactionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "transaction_duration_seconds",
			Help:      "Duration of write transactions including the drain, excluding delivery",
			Buckets:   []float64{0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1},
		},
		[]string{"store", "operation"},
	)

	stampRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "stamp_rejections_total",
			Help:      "Writes discarded because their stamp was not newer than the stored one",
		},
		[]string{"store", "type"},
	)

	notifications = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "notifications_total",
			Help:      "Observer callbacks scheduled by drains",
		},
		[]string{"store"},
	)

	droppedDeliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "dropped_deliveries_total",
			Help:      "Deliveries skipped because the subscription was cancelled or a newer value was already delivered",
		},
		[]string{"store", "reason"},
	)

	reclaimedNodes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "reclaimed_nodes_total",
			Help:      "Nodes removed from the node table because nothing retained them",
		},
		[]string{"store"},
	)

	nodes = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "nodes",
			Help:      "Nodes currently held by the node table, retained or not",
		},
		[]string{"store"},
	)

	subscriptions = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "subscriptions",
			Help:      "Active subscriptions",
		},
		[]string{"store"},
	)

	dispatchQueue = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "dispatch_queue_depth",
			Help:      "Notification batches waiting for the queue dispatcher",
		},
		[]string{"store"},
	)
)

// Drop reasons.
const (
	DropCancelled = "cancelled"
	DropStale     = "stale"
	DropStopped   = "dispatcher_stopped"
)

// InitStore registers zero values for every series of a store so they are
// exported before the first event.
func InitStore(store string) {
	for _, c := range []string{ComponentStore, ComponentObserver, ComponentDispatcher} {
		errorCounter.WithLabelValues(c, store).Add(0)
	}

	notifications.WithLabelValues(store).Add(0)
	reclaimedNodes.WithLabelValues(store).Add(0)
	droppedDeliveries.WithLabelValues(store, DropCancelled).Add(0)
	droppedDeliveries.WithLabelValues(store, DropStale).Add(0)
	droppedDeliveries.WithLabelValues(store, DropStopped).Add(0)
}

// IncErrorCount increments the error counter of a component.
func IncErrorCount(component, store string) {
	errorCounter.WithLabelValues(component, store).Inc()
}

// IncErrorCountAndLog increments the error counter and logs err at debug level.
func IncErrorCountAndLog(component, store string, err error, log *zap.SugaredLogger) {
	IncErrorCount(component, store)

	if log != nil {
		log.Debugw("component error", "component", component, "store", store, "error", err)
	}
}

// ObserveTransaction records the duration of one write transaction.
func ObserveTransaction(store, operation string, d time.Duration) {
	transactionDuration.WithLabelValues(store, operation).Observe(d.Seconds())
}

// IncStampRejection counts a discarded stale write.
func IncStampRejection(store, entityType string) {
	stampRejections.WithLabelValues(store, entityType).Inc()
}

// AddNotifications counts callbacks scheduled by a drain.
func AddNotifications(store string, n int) {
	notifications.WithLabelValues(store).Add(float64(n))
}

// IncDroppedDelivery counts a skipped delivery.
func IncDroppedDelivery(store, reason string) {
	droppedDeliveries.WithLabelValues(store, reason).Inc()
}

// AddReclaimed counts reclaimed nodes.
func AddReclaimed(store string, n int) {
	reclaimedNodes.WithLabelValues(store).Add(float64(n))
}

// SetNodeCount sets the node gauge.
func SetNodeCount(store string, n int) {
	nodes.WithLabelValues(store).Set(float64(n))
}

// SetSubscriptionCount sets the subscription gauge.
func SetSubscriptionCount(store string, n int) {
	subscriptions.WithLabelValues(store).Set(float64(n))
}

// SetDispatchQueueDepth sets the queue depth gauge.
func SetDispatchQueueDepth(store string, n int) {
	dispatchQueue.WithLabelValues(store).Set(float64(n))
}
