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
	"encoding/json"
	"fmt"
	"strings"
)

const (
	RiskCritical = "CRITICAL"
	RiskHigh     = "HIGH"
	RiskMedium   = "MEDIUM"
	RiskLow      = "LOW"

	CriticalYes = "YES"
	CriticalNo  = "NO"
)

// Analysis is the structured risk assessment for one event. Field names follow the wire form
// the model is prompted to produce.
type Analysis struct {
	Critical              string `json:"critical"`
	RiskLevel             string `json:"risk_level"`
	TimeSensitivity       string `json:"time_sensitivity"`
	RiskCategory          string `json:"risk_category"`
	ImpactAnalysis        string `json:"impact_analysis"`
	RequiredActions       string `json:"required_actions"`
	ConsequencesIfIgnored string `json:"consequences_if_ignored"`
	EventImpactType       string `json:"event_impact_type"`

	// Raw is the unparsed model output. It is persisted on the record and travels on the
	// work unit's analysis field rather than inside the structured block.
	Raw string `json:"-"`
}

// Parse extracts the first JSON object embedded in the model output and normalizes it. Model
// responses wrap the object in prose more often than not, so everything outside the outermost
// braces is discarded.
func Parse(text string) (Analysis, error) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start == -1 || end == -1 || end < start {
		return Analysis{}, fmt.Errorf("no JSON object in model output")
	}
	var a Analysis
	if err := json.Unmarshal([]byte(text[start:end+1]), &a); err != nil {
		return Analysis{}, fmt.Errorf("unmarshaling model output, %w", err)
	}
	a.Raw = text
	a.normalize()
	return a, nil
}

// normalize upper-cases the enum fields and reconciles the critical flag with the risk level
// in both directions so the pair can never disagree.
func (a *Analysis) normalize() {
	a.Critical = strings.ToUpper(strings.TrimSpace(a.Critical))
	a.RiskLevel = strings.ToUpper(strings.TrimSpace(a.RiskLevel))
	a.TimeSensitivity = strings.ToUpper(strings.TrimSpace(a.TimeSensitivity))
	a.RiskCategory = strings.ToUpper(strings.TrimSpace(a.RiskCategory))
	a.EventImpactType = strings.ToUpper(strings.TrimSpace(a.EventImpactType))
	if a.Critical == CriticalYes && a.RiskLevel != RiskCritical {
		a.RiskLevel = RiskCritical
	}
	if a.RiskLevel == RiskCritical && a.Critical != CriticalYes {
		a.Critical = CriticalYes
	}
	if a.RiskLevel == "" {
		a.RiskLevel = RiskMedium
	}
	if a.Critical == "" {
		a.Critical = CriticalNo
	}
}
