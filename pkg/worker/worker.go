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

// Package worker consumes work units: it resolves per-account statuses, completes any missing
// assessment, and writes one row per (event, account).
package worker

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"k8s.io/utils/clock"

	"github.com/mannylee/cloudops-command-center/pkg/analysis"
	"github.com/mannylee/cloudops-command-center/pkg/messages"
	"github.com/mannylee/cloudops-command-center/pkg/providers/account"
	"github.com/mannylee/cloudops-command-center/pkg/providers/health"
	"github.com/mannylee/cloudops-command-center/pkg/store"
)

// Options configures record composition.
type Options struct {
	RetentionDays int
}

type Worker struct {
	healthProvider  health.Provider
	accountProvider account.Provider
	analyzer        analysis.Analyzer
	eventStore      *store.Store
	opts            Options
	clk             clock.Clock
	log             *zap.SugaredLogger
}

func NewWorker(healthProvider health.Provider, accountProvider account.Provider, analyzer analysis.Analyzer,
	eventStore *store.Store, opts Options, clk clock.Clock, log *zap.SugaredLogger) *Worker {
	return &Worker{
		healthProvider:  healthProvider,
		accountProvider: accountProvider,
		analyzer:        analyzer,
		eventStore:      eventStore,
		opts:            opts,
		clk:             clk,
		log:             log.Named("worker"),
	}
}

// ProcessBody parses and processes one raw queue message body.
func (w *Worker) ProcessBody(ctx context.Context, body string) error {
	unit, err := messages.Parse(body)
	if err != nil {
		return fmt.Errorf("parsing message, %w", err)
	}
	return w.ProcessUnit(ctx, unit)
}

// ProcessUnit processes one work unit end to end. Processing is idempotent: rows are keyed by
// (event, account), so a redelivered unit overwrites its own rows with identical content.
func (w *Worker) ProcessUnit(ctx context.Context, unit messages.WorkUnit) error {
	if unit.Event.EventARN == "" {
		return fmt.Errorf("work unit missing event ARN")
	}
	event := unit.Event.ToEvent()

	accounts := unit.Accounts
	if len(accounts) == 0 && unit.Event.AccountID != "" {
		accounts = []string{unit.Event.AccountID}
	}
	if len(accounts) == 0 {
		resolved, err := w.healthProvider.ListAffectedAccounts(ctx, event.ARN, 0)
		if err != nil {
			return fmt.Errorf("resolving affected accounts, %w", err)
		}
		accounts = resolved
	}
	if len(accounts) == 0 {
		w.log.Debugw("no affected accounts, nothing to store", "event-arn", event.ARN)
		return nil
	}

	description := unit.Event.Description
	assessment, err := w.completeAssessment(ctx, unit, event, accounts[0], &description)
	if err != nil {
		return err
	}
	if description == "" {
		details, err := w.healthProvider.DescribeEvent(ctx, event.ARN, accounts[0])
		if err != nil {
			w.log.Warnw("fetching event description", "event-arn", event.ARN, "error", err)
		} else {
			description = details.LatestDescription
			mergeEventDetails(&event, details.Event)
		}
	}

	res, err := resolveStatuses(ctx, w.healthProvider, event, accounts)
	if err != nil {
		return fmt.Errorf("resolving statuses, %w", err)
	}

	now := w.clk.Now()
	records := make([]store.Record, 0, len(accounts))
	for _, accountID := range accounts {
		records = append(records, store.NewRecord(store.RecordInput{
			Event:         event,
			AccountID:     accountID,
			AccountName:   w.accountProvider.Name(ctx, accountID),
			StatusCode:    res.Statuses[accountID],
			Description:   description,
			Entities:      res.Entities[accountID],
			Assessment:    assessment,
			AnalyzedAt:    now,
			RetentionDays: w.opts.RetentionDays,
		}))
	}
	if err := w.eventStore.BatchUpsert(ctx, records); err != nil {
		return fmt.Errorf("storing records, %w", err)
	}
	recordsStored.Add(float64(len(records)))
	w.log.Infow("work unit processed",
		"event-arn", event.ARN, "accounts", len(accounts),
		"batch", fmt.Sprintf("%d/%d", unit.BatchNumber, unit.TotalBatches))
	return nil
}

// completeAssessment returns the unit's shipped assessment, or produces one when the unit is
// deferred or predates batching. Producing one needs the event details, so the description is
// captured as a side effect when fetched.
func (w *Worker) completeAssessment(ctx context.Context, unit messages.WorkUnit, event health.Event, firstAccount string, description *string) (analysis.Analysis, error) {
	if unit.Categories != nil && !unit.DeferredAnalysis {
		assessment := *unit.Categories
		// The raw model text travels on the unit's analysis field, not inside the structured
		// block, so restore it before the record is composed.
		if assessment.Raw == "" {
			assessment.Raw = unit.Analysis
		}
		return assessment, nil
	}
	if unit.DeferredAnalysis {
		deferredCompletions.Inc()
	}
	details, err := w.healthProvider.DescribeEvent(ctx, event.ARN, firstAccount)
	if err != nil {
		return analysis.Analysis{}, fmt.Errorf("describing event for assessment, %w", err)
	}
	if *description == "" {
		*description = details.LatestDescription
	}
	assessment, err := w.analyzer.Analyze(ctx, details)
	if err != nil {
		return analysis.Analysis{}, fmt.Errorf("analyzing event, %w", err)
	}
	return assessment, nil
}

// mergeEventDetails fills header gaps from the authoritative detail response.
func mergeEventDetails(event *health.Event, detailed health.Event) {
	if event.Service == "" {
		event.Service = detailed.Service
	}
	if event.EventTypeCode == "" {
		event.EventTypeCode = detailed.EventTypeCode
	}
	if event.EventTypeCategory == "" {
		event.EventTypeCategory = detailed.EventTypeCategory
	}
	if event.StatusCode == "" {
		event.StatusCode = detailed.StatusCode
	}
	if event.StartTime.IsZero() {
		event.StartTime = detailed.StartTime
	}
	if event.LastUpdatedTime.IsZero() {
		event.LastUpdatedTime = detailed.LastUpdatedTime
	}
}
