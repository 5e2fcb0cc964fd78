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
	"fmt"
	"strings"
)

// NormalizeDescription extracts a plain description string from the upstream eventDescription
// payload, which may arrive as an object carrying latestDescription, a list of such objects,
// or a bare string.
func NormalizeDescription(raw interface{}) string {
	switch v := raw.(type) {
	case nil:
		return ""
	case string:
		return v
	case map[string]interface{}:
		if latest, ok := v["latestDescription"].(string); ok {
			return latest
		}
		return ""
	case []interface{}:
		if len(v) == 0 {
			return ""
		}
		return NormalizeDescription(v[0])
	default:
		return fmt.Sprintf("%v", v)
	}
}

// SimplifiedDescription derives a short human-readable label from the event type code using a
// fixed prefix-matching rule table.
func SimplifiedDescription(service string, eventTypeCode string) string {
	if service == "" || service == "N/A" {
		service = "AWS"
	}
	code := strings.ToUpper(eventTypeCode)

	switch {
	case strings.Contains(code, "OPERATIONAL_ISSUE"):
		return fmt.Sprintf("%s - Service disruptions or performance problems", service)
	case strings.Contains(code, "SECURITY_NOTIFICATION"):
		return fmt.Sprintf("%s - Security-related alerts and warnings", service)
	case strings.Contains(code, "PLANNED_LIFECYCLE_EVENT"):
		return fmt.Sprintf("%s - Lifecycle changes requiring action", service)
	case strings.Contains(code, "MAINTENANCE_SCHEDULED"),
		strings.Contains(code, "SYSTEM_MAINTENANCE"),
		strings.Contains(code, "PATCHING_RETIREMENT"):
		return fmt.Sprintf("%s - Routine Maintenance", service)
	case strings.Contains(code, "UPDATE_AVAILABLE"):
		return fmt.Sprintf("%s - Available software or system updates", service)
	case strings.Contains(code, "VPN_CONNECTIVITY"):
		return "VPN tunnel or connection status alert"
	case strings.Contains(code, "BILLING_NOTIFICATION"):
		return fmt.Sprintf("%s - Billing or Cost change notification", service)
	default:
		return fmt.Sprintf("%s - Service-specific events", service)
	}
}

// ExtractAffectedResources joins entity values into the comma-separated affectedResources
// field stored on each record.
func ExtractAffectedResources(entities []Entity) string {
	var resources []string
	for _, e := range entities {
		if e.EntityValue != "" {
			resources = append(resources, e.EntityValue)
		}
	}
	if len(resources) == 0 {
		return "None specified"
	}
	return strings.Join(resources, ", ")
}
