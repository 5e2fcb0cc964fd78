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
	"strings"
)

const fallbackImpactAnalysis = "Automated analysis was unavailable for this event. Assessment derived from the event type."

// Fallback builds a deterministic conservative assessment from the event type code alone, used
// when the model cannot be reached. The same code always yields the same assessment so retried
// deliveries stay idempotent.
func Fallback(eventTypeCode string) Analysis {
	risk := RiskMedium
	sensitivity := "ROUTINE"
	code := strings.ToUpper(eventTypeCode)
	switch {
	case strings.Contains(code, "OPERATIONAL_ISSUE"), strings.Contains(code, "SECURITY"):
		risk = RiskHigh
		sensitivity = "URGENT"
	case strings.Contains(code, "MAINTENANCE"), strings.Contains(code, "LIFECYCLE"):
		risk = RiskLow
	}
	return Analysis{
		Critical:              CriticalNo,
		RiskLevel:             risk,
		TimeSensitivity:       sensitivity,
		RiskCategory:          "OPERATIONAL",
		ImpactAnalysis:        fallbackImpactAnalysis,
		RequiredActions:       "Review the event details and assess impact manually.",
		ConsequencesIfIgnored: "Impact unknown until the event is reviewed.",
		EventImpactType:       "UNKNOWN",
	}
}

// IsFallback reports whether the assessment came from Fallback rather than the model.
func (a Analysis) IsFallback() bool {
	return a.ImpactAnalysis == fallbackImpactAnalysis
}
