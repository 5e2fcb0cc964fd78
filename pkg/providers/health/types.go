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
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/health/types"
)

const (
	// GlobalRegion is stored whenever the upstream feed omits a region.
	GlobalRegion = "global"

	CategoryIssue               = "issue"
	CategoryAccountNotification = "accountNotification"
	CategoryScheduledChange     = "scheduledChange"
)

// Event is the normalized form of an upstream health event. Both feed shapes (the polled
// organization feed and pushed notifications) collapse into this record.
type Event struct {
	ARN               string
	Service           string
	EventTypeCode     string
	EventTypeCategory string
	Region            string
	StatusCode        string
	StartTime         time.Time
	LastUpdatedTime   time.Time
}

// Entity is one affected resource reported for an event, scoped to a single account.
type Entity struct {
	EntityValue string
	AccountID   string
	StatusCode  string
}

// EventDetails carries the full event description alongside the normalized header.
type EventDetails struct {
	Event             Event
	LatestDescription string
}

// Window bounds a lastUpdatedTime filter for the polled feed.
type Window struct {
	From time.Time
	To   time.Time
}

// ListResult is the outcome of one polled fetch. Truncated is set when the fetch ran out of
// time budget mid-pagination; the next scheduled pass picks up the remainder via its window.
type ListResult struct {
	Events    []Event
	Truncated bool
}

func normalizeOrganizationEvent(e types.OrganizationEvent) Event {
	return Event{
		ARN:               aws.ToString(e.Arn),
		Service:           aws.ToString(e.Service),
		EventTypeCode:     aws.ToString(e.EventTypeCode),
		EventTypeCategory: string(e.EventTypeCategory),
		Region:            normalizeRegion(aws.ToString(e.Region)),
		StatusCode:        string(e.StatusCode),
		StartTime:         aws.ToTime(e.StartTime),
		LastUpdatedTime:   aws.ToTime(e.LastUpdatedTime),
	}
}

func normalizeEvent(e *types.Event) Event {
	if e == nil {
		return Event{}
	}
	return Event{
		ARN:               aws.ToString(e.Arn),
		Service:           aws.ToString(e.Service),
		EventTypeCode:     aws.ToString(e.EventTypeCode),
		EventTypeCategory: string(e.EventTypeCategory),
		Region:            normalizeRegion(aws.ToString(e.Region)),
		StatusCode:        string(e.StatusCode),
		StartTime:         aws.ToTime(e.StartTime),
		LastUpdatedTime:   aws.ToTime(e.LastUpdatedTime),
	}
}

func normalizeEntity(e types.AffectedEntity) Entity {
	return Entity{
		EntityValue: aws.ToString(e.EntityValue),
		AccountID:   aws.ToString(e.AwsAccountId),
		StatusCode:  string(e.StatusCode),
	}
}

func normalizeRegion(region string) string {
	if region == "" {
		return GlobalRegion
	}
	return region
}
