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

package analysis

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/mannylee/cloudops-command-center/pkg/metrics"
)

const (
	subsystem = "analysis"

	resultLabel     = "result"
	resultSuccess   = "success"
	resultThrottled = "throttled"
	resultError     = "error"
)

var (
	invocationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metrics.Namespace,
			Subsystem: subsystem,
			Name:      "model_invocations_total",
			Help:      "Total model invocations, partitioned by result.",
		},
		[]string{resultLabel},
	)
	fallbacksTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: metrics.Namespace,
			Subsystem: subsystem,
			Name:      "fallback_assessments_total",
			Help:      "Total assessments served from the deterministic fallback instead of the model.",
		},
	)
)

func init() {
	metrics.MustRegister(invocationsTotal, fallbacksTotal)
}
