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

// Package dispatch runs the scheduled synchronization pass: it pulls the event feed, expands
// events across their affected accounts, assesses each event once, and hands account batches
// to the workers.
package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/samber/lo"
	"go.uber.org/zap"
	"k8s.io/utils/clock"

	"github.com/mannylee/cloudops-command-center/pkg/analysis"
	"github.com/mannylee/cloudops-command-center/pkg/messages"
	"github.com/mannylee/cloudops-command-center/pkg/providers/health"
	"github.com/mannylee/cloudops-command-center/pkg/providers/sqs"
	"github.com/mannylee/cloudops-command-center/pkg/store"
)

const (
	// accountBatchSize caps accounts per work unit, matching the entity filter limit the
	// worker faces downstream.
	accountBatchSize = 10
	// inlineThreshold is the expanded (event, account) pair count up to which the pass is
	// processed in place instead of through the queue.
	inlineThreshold = 10
)

// UnitProcessor processes one work unit in place. The worker satisfies this for the inline
// path of small passes.
type UnitProcessor interface {
	ProcessUnit(ctx context.Context, unit messages.WorkUnit) error
}

// Options configures a synchronization pass.
type Options struct {
	AnalysisWindowDays int
	ExcludedServices   []string
	EventCategories    []string
	RetentionDays      int
}

// Summary reports what one pass did.
type Summary struct {
	EventsFetched  int  `json:"eventsFetched"`
	EventsSkipped  int  `json:"eventsSkipped"`
	PairsExpanded  int  `json:"pairsExpanded"`
	UnitsQueued    int  `json:"unitsQueued"`
	UnitsInline    int  `json:"unitsInline"`
	UnitsFailed    int  `json:"unitsFailed"`
	AssessedEvents int  `json:"assessedEvents"`
	ReusedEvents   int  `json:"reusedEvents"`
	Truncated      bool `json:"truncated"`
}

type Dispatcher struct {
	healthProvider health.Provider
	analyzer       analysis.Analyzer
	eventStore     *store.Store
	queue          *sqs.Provider
	inline         UnitProcessor
	opts           Options
	clk            clock.Clock
	log            *zap.SugaredLogger
}

func NewDispatcher(healthProvider health.Provider, analyzer analysis.Analyzer, eventStore *store.Store,
	queue *sqs.Provider, inline UnitProcessor, opts Options, clk clock.Clock, log *zap.SugaredLogger) *Dispatcher {
	return &Dispatcher{
		healthProvider: healthProvider,
		analyzer:       analyzer,
		eventStore:     eventStore,
		queue:          queue,
		inline:         inline,
		opts:           opts,
		clk:            clk,
		log:            log.Named("dispatch"),
	}
}

// Sync runs one synchronization pass over the configured window. A non-positive lookback falls
// back to the configured analysis window. Events with no affected accounts are skipped; the
// rest are expanded per account, assessed once per event, and processed inline or queued
// depending on the expanded size of the pass.
func (d *Dispatcher) Sync(ctx context.Context, lookbackDays int) (Summary, error) {
	if lookbackDays <= 0 {
		lookbackDays = d.opts.AnalysisWindowDays
	}
	now := d.clk.Now()
	result, err := d.healthProvider.ListEvents(ctx, health.Window{
		From: now.Add(-time.Duration(lookbackDays) * 24 * time.Hour),
		To:   now,
	}, d.opts.EventCategories)
	if err != nil {
		return Summary{}, fmt.Errorf("listing events, %w", err)
	}
	summary := Summary{EventsFetched: len(result.Events), Truncated: result.Truncated}

	type expanded struct {
		event    health.Event
		accounts []string
	}
	var pass []expanded
	for _, event := range result.Events {
		if event.ARN == "" || d.excluded(event.Service) {
			summary.EventsSkipped++
			continue
		}
		accounts, err := d.healthProvider.ListAffectedAccounts(ctx, event.ARN, 0)
		if err != nil {
			d.log.Errorw("listing affected accounts", "event-arn", event.ARN, "error", err)
			summary.EventsSkipped++
			continue
		}
		accounts = lo.Filter(accounts, func(a string, _ int) bool { return a != "" })
		if len(accounts) == 0 {
			summary.EventsSkipped++
			continue
		}
		pass = append(pass, expanded{event: event, accounts: accounts})
		summary.PairsExpanded += len(accounts)
	}

	runInline := summary.PairsExpanded <= inlineThreshold && d.inline != nil
	for _, item := range pass {
		units, assessed, err := d.buildUnits(ctx, item.event, item.accounts)
		if err != nil {
			d.log.Errorw("building work units", "event-arn", item.event.ARN, "error", err)
			summary.UnitsFailed++
			continue
		}
		if assessed {
			summary.AssessedEvents++
		} else {
			summary.ReusedEvents++
		}
		for _, unit := range units {
			if runInline {
				if err := d.inline.ProcessUnit(ctx, unit); err != nil {
					d.log.Errorw("processing unit inline", "event-arn", unit.Event.EventARN, "error", err)
					summary.UnitsFailed++
					continue
				}
				summary.UnitsInline++
				continue
			}
			if err := d.send(ctx, unit); err != nil {
				d.log.Errorw("queueing unit", "event-arn", unit.Event.EventARN, "error", err)
				summary.UnitsFailed++
				continue
			}
			summary.UnitsQueued++
		}
	}
	unitsDispatched.WithLabelValues(modeLabel(runInline)).Add(float64(summary.UnitsQueued + summary.UnitsInline))
	d.log.Infow("synchronization pass complete",
		"events", summary.EventsFetched, "skipped", summary.EventsSkipped,
		"pairs", summary.PairsExpanded, "queued", summary.UnitsQueued, "inline", summary.UnitsInline,
		"assessed", summary.AssessedEvents, "reused", summary.ReusedEvents, "truncated", summary.Truncated)
	return summary, nil
}

// buildUnits assesses the event (or reuses a stored assessment for the same update time) and
// splits its accounts into work units. assessed reports whether a fresh model call was made.
func (d *Dispatcher) buildUnits(ctx context.Context, event health.Event, accounts []string) (units []messages.WorkUnit, assessed bool, err error) {
	assessment, analysisText, reused, err := d.assess(ctx, event, accounts[0])
	if err != nil {
		return nil, false, err
	}
	batches := lo.Chunk(accounts, accountBatchSize)
	for i, batch := range batches {
		a := assessment
		units = append(units, messages.WorkUnit{
			Event:        messages.FromEvent(event),
			Accounts:     batch,
			Analysis:     analysisText,
			Categories:   &a,
			BatchNumber:  i + 1,
			TotalBatches: len(batches),
		})
	}
	return units, !reused, nil
}

// assess returns the assessment for the event and the raw model text behind it, reusing a
// stored one when a row for this event already carries an assessment at the same update time.
func (d *Dispatcher) assess(ctx context.Context, event health.Event, firstAccount string) (analysis.Analysis, string, bool, error) {
	stored, err := d.eventStore.FindAssessed(ctx, event.ARN)
	if err != nil {
		d.log.Warnw("checking for stored assessment", "event-arn", event.ARN, "error", err)
	}
	if stored != nil && stored.LastUpdateTime == formatUpdateTime(event.LastUpdatedTime) {
		reusable := analysis.Analysis{
			Critical:              stored.Critical,
			RiskLevel:             stored.RiskLevel,
			TimeSensitivity:       stored.TimeSensitivity,
			RiskCategory:          stored.RiskCategory,
			ImpactAnalysis:        stored.ImpactAnalysis,
			RequiredActions:       stored.RequiredActions,
			ConsequencesIfIgnored: stored.ConsequencesIfIgnored,
			EventImpactType:       stored.EventImpactType,
			Raw:                   stored.AnalysisText,
		}
		// Fallback assessments stay eligible for a fresh model call on later passes.
		if !reusable.IsFallback() {
			assessmentsReused.Inc()
			return reusable, stored.AnalysisText, true, nil
		}
	}
	details, err := d.healthProvider.DescribeEvent(ctx, event.ARN, firstAccount)
	if err != nil {
		return analysis.Analysis{}, "", false, fmt.Errorf("describing event, %w", err)
	}
	assessment, err := d.analyzer.Analyze(ctx, details)
	if err != nil {
		return analysis.Analysis{}, "", false, fmt.Errorf("analyzing event, %w", err)
	}
	return assessment, assessment.Raw, false, nil
}

// send queues one unit, shedding the assessment into deferred form when the marshaled unit
// would exceed the queue size guard.
func (d *Dispatcher) send(ctx context.Context, unit messages.WorkUnit) error {
	body, err := json.Marshal(unit)
	if err != nil {
		return fmt.Errorf("marshaling unit, %w", err)
	}
	if !d.queue.Fits(string(body)) {
		unit.Analysis = ""
		unit.Categories = nil
		unit.DeferredAnalysis = true
		if body, err = json.Marshal(unit); err != nil {
			return fmt.Errorf("marshaling deferred unit, %w", err)
		}
		deferredUnits.Inc()
	}
	if _, err := d.queue.SendMessage(ctx, string(body)); err != nil {
		return err
	}
	return nil
}

func (d *Dispatcher) excluded(service string) bool {
	return lo.ContainsBy(d.opts.ExcludedServices, func(s string) bool {
		return s != "" && s == service
	})
}

func formatUpdateTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(store.DateTimeLayout)
}

func modeLabel(inline bool) string {
	if inline {
		return "inline"
	}
	return "queue"
}
