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

package uaclient

import (
	"github.com/gopcua/opcua/ua"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	reconnectAttemptsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "opcua_client_reconnect_attempts_total",
		Help: "Total number of session re-establishment attempts",
	})

	keepAliveFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "opcua_client_keepalive_failures_total",
		Help: "Total number of keep-alive notifications with a bad status",
	})

	badStatusTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "opcua_client_bad_status_total",
			Help: "Total number of per-item results with a non-good status by operation",
		},
		[]string{"operation"},
	)

	browseFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "opcua_client_browse_failures_total",
		Help: "Total number of browse requests that failed and were reported as empty",
	})

	// opcuaSubscriptionFailuresTotal tracks subscription failures by reason
	opcuaSubscriptionFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "opcua_subscription_failures_total",
			Help: "Total number of OPC UA subscription failures by reason",
		},
		[]string{"reason", "node_id"},
	)
)

// RecordSubscriptionFailure increments failure counter with proper labels
func RecordSubscriptionFailure(statusCode ua.StatusCode, nodeID string) {
	opcuaSubscriptionFailuresTotal.WithLabelValues(classifyFailureReason(statusCode), nodeID).Inc()
}

// classifyFailureReason maps OPC UA status codes to metric labels
func classifyFailureReason(statusCode ua.StatusCode) string {
	switch statusCode {
	case ua.StatusBadNodeIDUnknown:
		return "node_id_unknown"
	case ua.StatusBadNodeIDInvalid:
		return "node_id_invalid"
	case ua.StatusBadAttributeIDInvalid:
		return "attribute_invalid"
	case ua.StatusBadTooManySubscriptions:
		return "too_many_subscriptions"
	case ua.StatusBadTooManyMonitoredItems:
		return "too_many_monitored_items"
	default:
		return "other"
	}
}

func recordBadStatus(operation string, code ua.StatusCode) {
	if QualityOf(code) != QualityGood {
		badStatusTotal.WithLabelValues(operation).Inc()
	}
}

// ResetMetrics resets the labelled metrics (for testing)
func ResetMetrics() {
	badStatusTotal.Reset()
	opcuaSubscriptionFailuresTotal.Reset()
}
