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

// Package router classifies incoming triggers by shape and hands them to the right pipeline:
// queue deliveries to the worker, change-stream batches to the reactor, timer modes to the
// dispatcher or the counter recomputation, and single-event hand-offs to the worker's inner
// path.
package router

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/samber/lo"
	"go.uber.org/zap"
	"k8s.io/utils/clock"

	"github.com/mannylee/cloudops-command-center/pkg/counter"
	"github.com/mannylee/cloudops-command-center/pkg/dispatch"
	"github.com/mannylee/cloudops-command-center/pkg/messages"
	"github.com/mannylee/cloudops-command-center/pkg/providers/health"
	"github.com/mannylee/cloudops-command-center/pkg/store"
	"github.com/mannylee/cloudops-command-center/pkg/stream"
	"github.com/mannylee/cloudops-command-center/pkg/worker"
)

const (
	SourceQueue        = "queue"
	SourceChangeStream = "change-stream"

	ModeScheduledSync     = "scheduled_sync"
	ModeRecalculateCounts = "recalculate_counts"
)

// Trigger is the union of the trigger shapes the processor accepts. Exactly one shape is
// populated per invocation; Classify picks it apart.
type Trigger struct {
	Records      []TriggerRecord `json:"Records,omitempty"`
	Mode         string          `json:"mode,omitempty"`
	LookbackDays int             `json:"lookback_days,omitempty"`
	EventARN     string          `json:"event_arn,omitempty"`
}

// TriggerRecord is one record of a batched delivery: a queue message or a change-stream
// record, discriminated by Source.
type TriggerRecord struct {
	Source    string `json:"source"`
	MessageID string `json:"messageId,omitempty"`
	Body      string `json:"body,omitempty"`

	EventName string `json:"eventName,omitempty"`
	Change    struct {
		Keys     map[string]store.StreamAttribute `json:"Keys,omitempty"`
		NewImage map[string]store.StreamAttribute `json:"NewImage,omitempty"`
		OldImage map[string]store.StreamAttribute `json:"OldImage,omitempty"`
	} `json:"dynamodb,omitempty"`
	UserIdentity *store.StreamUserIdentity `json:"userIdentity,omitempty"`
}

// Kind names the classified trigger shape.
type Kind string

const (
	KindQueue        Kind = "queue"
	KindChangeStream Kind = "change-stream"
	KindSync         Kind = "sync"
	KindRecalculate  Kind = "recalculate"
	KindSingleEvent  Kind = "single-event"
	KindUnknown      Kind = "unknown"
)

// Classify resolves the trigger shape. Batched deliveries win over mode markers so a payload
// carrying both is treated as the delivery it contains.
func Classify(trigger Trigger) Kind {
	if len(trigger.Records) > 0 {
		if trigger.Records[0].Source == SourceChangeStream {
			return KindChangeStream
		}
		return KindQueue
	}
	switch trigger.Mode {
	case ModeScheduledSync:
		return KindSync
	case ModeRecalculateCounts:
		return KindRecalculate
	}
	if trigger.EventARN != "" {
		return KindSingleEvent
	}
	return KindUnknown
}

// Result reports what one routed invocation did. FailedMessageIDs carries the queue messages
// that must be redelivered; the rest of the batch is considered consumed.
type Result struct {
	Kind             Kind                   `json:"kind"`
	FailedMessageIDs []string               `json:"failedMessageIds,omitempty"`
	DispatchSummary  *dispatch.Summary      `json:"dispatchSummary,omitempty"`
	StreamSummary    *counter.Summary       `json:"streamSummary,omitempty"`
	RecalcSummary    *counter.RecalcSummary `json:"recalcSummary,omitempty"`
}

type Router struct {
	work           *worker.Worker
	reactor        *stream.Reactor
	dispatcher     *dispatch.Dispatcher
	materializer   *counter.Materializer
	healthProvider health.Provider
	clk            clock.Clock
	log            *zap.SugaredLogger
}

func NewRouter(work *worker.Worker, reactor *stream.Reactor, dispatcher *dispatch.Dispatcher,
	materializer *counter.Materializer, healthProvider health.Provider, clk clock.Clock,
	log *zap.SugaredLogger) *Router {
	return &Router{
		work:           work,
		reactor:        reactor,
		dispatcher:     dispatcher,
		materializer:   materializer,
		healthProvider: healthProvider,
		clk:            clk,
		log:            log.Named("router"),
	}
}

// Route dispatches one trigger to its pipeline.
func (r *Router) Route(ctx context.Context, trigger Trigger) (Result, error) {
	kind := Classify(trigger)
	triggersTotal.WithLabelValues(string(kind)).Inc()
	switch kind {
	case KindQueue:
		return r.routeQueue(ctx, trigger.Records)
	case KindChangeStream:
		return r.routeChangeStream(ctx, trigger.Records)
	case KindSync:
		summary, err := r.dispatcher.Sync(ctx, trigger.LookbackDays)
		if err != nil {
			return Result{Kind: KindSync}, err
		}
		return Result{Kind: KindSync, DispatchSummary: &summary}, nil
	case KindRecalculate:
		summary, err := r.materializer.Recalculate(ctx, r.clk.Now())
		if err != nil {
			return Result{Kind: KindRecalculate}, err
		}
		return Result{Kind: KindRecalculate, RecalcSummary: &summary}, nil
	case KindSingleEvent:
		return Result{Kind: KindSingleEvent}, r.routeSingleEvent(ctx, trigger.EventARN)
	}
	return Result{Kind: KindUnknown}, fmt.Errorf("unrecognized trigger shape")
}

// routeQueue processes each message independently so one poisoned body does not hold the rest
// of the batch hostage. Failed message IDs are reported for redelivery.
func (r *Router) routeQueue(ctx context.Context, records []TriggerRecord) (Result, error) {
	result := Result{Kind: KindQueue}
	for _, record := range records {
		if err := r.work.ProcessBody(ctx, record.Body); err != nil {
			r.log.Errorw("processing queue message", "message-id", record.MessageID, "error", err)
			result.FailedMessageIDs = append(result.FailedMessageIDs, record.MessageID)
		}
	}
	return result, nil
}

func (r *Router) routeChangeStream(ctx context.Context, records []TriggerRecord) (Result, error) {
	changes := lo.Map(records, func(record TriggerRecord, _ int) store.ChangeRecord {
		change := store.ChangeRecord{
			EventName:    record.EventName,
			UserIdentity: record.UserIdentity,
		}
		change.Change.Keys = record.Change.Keys
		change.Change.NewImage = record.Change.NewImage
		change.Change.OldImage = record.Change.OldImage
		return change
	})
	summary, err := r.reactor.HandleChanges(ctx, changes)
	if err != nil {
		return Result{Kind: KindChangeStream, StreamSummary: &summary}, err
	}
	return Result{Kind: KindChangeStream, StreamSummary: &summary}, nil
}

// routeSingleEvent synthesizes an event from the ARN, enriches it from the feed when the event
// is still listed, and runs the worker's inner path on it. Accounts are left for the worker to
// resolve.
func (r *Router) routeSingleEvent(ctx context.Context, eventARN string) error {
	event, err := r.synthesizeEvent(ctx, eventARN)
	if err != nil {
		return err
	}
	unit := messages.WorkUnit{
		Event:        messages.FromEvent(event),
		BatchNumber:  1,
		TotalBatches: 1,
	}
	return r.work.ProcessUnit(ctx, unit)
}

// synthesizeEvent builds an event skeleton from the ARN's path segments
// (arn:...:event/SERVICE/EVENT_TYPE_CODE/ID) and replaces it with the listed event when the
// feed still carries it.
func (r *Router) synthesizeEvent(ctx context.Context, eventARN string) (health.Event, error) {
	now := r.clk.Now()
	event := health.Event{
		ARN:               eventARN,
		Service:           "UNKNOWN",
		EventTypeCode:     "UNKNOWN",
		EventTypeCategory: health.CategoryIssue,
		Region:            arnRegion(eventARN),
		StatusCode:        store.StatusOpen,
		StartTime:         now,
		LastUpdatedTime:   now,
	}
	if parts := strings.Split(eventARN, "/"); len(parts) > 2 {
		event.Service = parts[1]
		event.EventTypeCode = parts[2]
	}
	result, err := r.healthProvider.ListEvents(ctx, health.Window{From: now.Add(-probeWindow), To: now}, nil)
	if err != nil {
		r.log.Warnw("probing feed for single event", "event-arn", eventARN, "error", err)
		return event, nil
	}
	if listed, found := lo.Find(result.Events, func(e health.Event) bool { return e.ARN == eventARN }); found {
		return listed, nil
	}
	return event, nil
}

// probeWindow bounds the feed probe for single-event hand-offs.
const probeWindow = 7 * 24 * time.Hour

func arnRegion(eventARN string) string {
	// arn:aws:health:REGION::event/...
	if parts := strings.SplitN(eventARN, ":", 5); len(parts) >= 4 && parts[3] != "" {
		return parts[3]
	}
	return health.GlobalRegion
}
