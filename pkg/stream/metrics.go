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

package stream

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/mannylee/cloudops-command-center/pkg/metrics"
)

var (
	changesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: metrics.Namespace,
			Subsystem: "stream",
			Name:      "changes_total",
			Help:      "Total change-feed records received.",
		},
	)
	changesRelevantTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: metrics.Namespace,
			Subsystem: "stream",
			Name:      "changes_relevant_total",
			Help:      "Total change-feed records that could affect a counter.",
		},
	)
)

func init() {
	metrics.MustRegister(changesTotal, changesRelevantTotal)
}
