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

// Package messages defines the queue wire format between the dispatcher and the workers, and
// the parsers that normalize older message shapes onto it.
package messages

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/mannylee/cloudops-command-center/pkg/analysis"
	"github.com/mannylee/cloudops-command-center/pkg/providers/health"
)

// WorkUnit is one unit of processing work: a single event paired with a slice of its affected
// accounts. Large events are split across units so no unit carries more than the entity filter
// limit of accounts.
type WorkUnit struct {
	Event        EventHeader        `json:"event"`
	Accounts     []string           `json:"accounts"`
	Analysis     string             `json:"analysis,omitempty"`
	Categories   *analysis.Analysis `json:"categories,omitempty"`
	BatchNumber  int                `json:"batchNumber"`
	TotalBatches int                `json:"totalBatches"`
	// DeferredAnalysis marks units whose assessment was too large to ship inline; the worker
	// re-runs analysis on receipt.
	DeferredAnalysis bool `json:"deferredAnalysis,omitempty"`
}

// EventHeader is the event summary carried on a work unit. Unmarshaling is tolerant of the
// older notification shapes (arn vs eventArn, assorted time layouts, description variants).
type EventHeader struct {
	EventARN          string
	Service           string
	EventTypeCode     string
	EventTypeCategory string
	Region            string
	StatusCode        string
	StartTime         time.Time
	LastUpdatedTime   time.Time
	Description       string
	// AccountID is only set by the pre-batching per-account shape.
	AccountID string
}

const headerTimeLayout = time.RFC3339

func (h EventHeader) MarshalJSON() ([]byte, error) {
	out := map[string]interface{}{
		"eventArn":          h.EventARN,
		"service":           h.Service,
		"eventTypeCode":     h.EventTypeCode,
		"eventTypeCategory": h.EventTypeCategory,
		"region":            h.Region,
		"statusCode":        h.StatusCode,
	}
	if !h.StartTime.IsZero() {
		out["startTime"] = h.StartTime.UTC().Format(headerTimeLayout)
	}
	if !h.LastUpdatedTime.IsZero() {
		out["lastUpdatedTime"] = h.LastUpdatedTime.UTC().Format(headerTimeLayout)
	}
	if h.Description != "" {
		out["eventDescription"] = h.Description
	}
	if h.AccountID != "" {
		out["accountId"] = h.AccountID
	}
	return json.Marshal(out)
}

func (h *EventHeader) UnmarshalJSON(data []byte) error {
	var raw map[string]interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	h.EventARN = firstString(raw, "eventArn", "arn")
	h.Service = firstString(raw, "service")
	h.EventTypeCode = firstString(raw, "eventTypeCode")
	h.EventTypeCategory = firstString(raw, "eventTypeCategory")
	h.Region = firstString(raw, "region")
	h.StatusCode = firstString(raw, "statusCode")
	h.AccountID = firstString(raw, "accountId")
	h.StartTime = firstTime(raw, "startTime")
	h.LastUpdatedTime = firstTime(raw, "lastUpdatedTime", "lastUpdateTime")
	for _, key := range []string{"eventDescription", "description", "latestDescription"} {
		if v, ok := raw[key]; ok {
			h.Description = health.NormalizeDescription(v)
			break
		}
	}
	return nil
}

// ToEvent converts the header to the normalized event form.
func (h EventHeader) ToEvent() health.Event {
	region := h.Region
	if region == "" {
		region = health.GlobalRegion
	}
	return health.Event{
		ARN:               h.EventARN,
		Service:           h.Service,
		EventTypeCode:     h.EventTypeCode,
		EventTypeCategory: h.EventTypeCategory,
		Region:            region,
		StatusCode:        h.StatusCode,
		StartTime:         h.StartTime,
		LastUpdatedTime:   h.LastUpdatedTime,
	}
}

// FromEvent builds a header from the normalized event form.
func FromEvent(e health.Event) EventHeader {
	return EventHeader{
		EventARN:          e.ARN,
		Service:           e.Service,
		EventTypeCode:     e.EventTypeCode,
		EventTypeCategory: e.EventTypeCategory,
		Region:            e.Region,
		StatusCode:        e.StatusCode,
		StartTime:         e.StartTime,
		LastUpdatedTime:   e.LastUpdatedTime,
	}
}

// Parse normalizes a queue message body onto a WorkUnit. Three shapes are accepted: the native
// work unit, a bus notification wrapping the event in a detail envelope, and a bare event
// object from the pre-batching format.
func Parse(body string) (WorkUnit, error) {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal([]byte(body), &probe); err != nil {
		return WorkUnit{}, fmt.Errorf("unmarshaling message body, %w", err)
	}
	switch {
	case probe["event"] != nil:
		var unit WorkUnit
		if err := json.Unmarshal([]byte(body), &unit); err != nil {
			return WorkUnit{}, fmt.Errorf("unmarshaling work unit, %w", err)
		}
		if unit.TotalBatches == 0 {
			unit.BatchNumber = 1
			unit.TotalBatches = 1
		}
		if unit.Event.EventARN == "" {
			return WorkUnit{}, fmt.Errorf("work unit missing event ARN")
		}
		return unit, nil
	case probe["detail"] != nil:
		var envelope struct {
			Detail EventHeader `json:"detail"`
		}
		if err := json.Unmarshal([]byte(body), &envelope); err != nil {
			return WorkUnit{}, fmt.Errorf("unmarshaling notification envelope, %w", err)
		}
		if envelope.Detail.EventARN == "" {
			return WorkUnit{}, fmt.Errorf("notification missing event ARN")
		}
		return WorkUnit{Event: envelope.Detail, BatchNumber: 1, TotalBatches: 1}, nil
	case probe["eventArn"] != nil || probe["arn"] != nil:
		var header EventHeader
		if err := json.Unmarshal([]byte(body), &header); err != nil {
			return WorkUnit{}, fmt.Errorf("unmarshaling bare event, %w", err)
		}
		return WorkUnit{Event: header, BatchNumber: 1, TotalBatches: 1}, nil
	default:
		return WorkUnit{}, fmt.Errorf("unrecognized message shape")
	}
}

func firstString(raw map[string]interface{}, keys ...string) string {
	for _, key := range keys {
		if v, ok := raw[key].(string); ok {
			return v
		}
	}
	return ""
}

var timeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02",
}

func firstTime(raw map[string]interface{}, keys ...string) time.Time {
	for _, key := range keys {
		switch v := raw[key].(type) {
		case string:
			for _, layout := range timeLayouts {
				if t, err := time.Parse(layout, v); err == nil {
					return t
				}
			}
		case float64:
			sec := int64(v)
			// Bus notifications carry epoch milliseconds, the health APIs epoch seconds.
			if sec > 1e12 {
				return time.UnixMilli(sec).UTC()
			}
			return time.Unix(sec, 0).UTC()
		}
	}
	return time.Time{}
}
