/*
Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package health

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/mannylee/cloudops-command-center/pkg/metrics"
)

const (
	subsystem      = "health_feed"
	operationLabel = "operation"
)

var (
	apiPagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metrics.Namespace,
			Subsystem: subsystem,
			Name:      "api_pages_total",
			Help:      "Total pages fetched from the upstream health APIs, partitioned by operation.",
		},
		[]string{operationLabel},
	)
	eventsFetchedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: metrics.Namespace,
			Subsystem: subsystem,
			Name:      "events_fetched_total",
			Help:      "Total events returned by the polled organization feed after merge and dedupe.",
		},
	)
	fetchTruncatedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: metrics.Namespace,
			Subsystem: subsystem,
			Name:      "fetch_truncated_total",
			Help:      "Total polled fetches abandoned mid-pagination because the time budget ran out.",
		},
	)
)

func init() {
	metrics.MustRegister(apiPagesTotal, eventsFetchedTotal, fetchTruncatedTotal)
}
