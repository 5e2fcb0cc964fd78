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

package dispatch

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/mannylee/cloudops-command-center/pkg/metrics"
)

var (
	unitsDispatched = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metrics.Namespace,
			Subsystem: "dispatch",
			Name:      "units_total",
			Help:      "Total work units dispatched, partitioned by mode.",
		},
		[]string{"mode"},
	)
	assessmentsReused = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: metrics.Namespace,
			Subsystem: "dispatch",
			Name:      "assessments_reused_total",
			Help:      "Total events whose stored assessment was reused instead of re-invoking the model.",
		},
	)
	deferredUnits = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: metrics.Namespace,
			Subsystem: "dispatch",
			Name:      "deferred_units_total",
			Help:      "Total units sent without an inline assessment because of the queue size guard.",
		},
	)
)

func init() {
	metrics.MustRegister(unitsDispatched, assessmentsReused, deferredUnits)
}
