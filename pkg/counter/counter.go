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

// Package counter maintains the per-account dashboard count rows. A counter is the number of
// unique event ARNs in its category that touch the account and are not fully closed: an ARN
// stops counting only once every account row under it is closed. The full recomputation is
// authoritative; the incremental change-feed path derives per-account deltas from the same
// rule so the two stay consistent.
package counter

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/samber/lo"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/mannylee/cloudops-command-center/pkg/providers/health"
	"github.com/mannylee/cloudops-command-center/pkg/store"
)

// CategoryFor maps a record onto its counter category. Billing events count as billing
// changes regardless of their feed category. Records that fit no counter return "".
func CategoryFor(service string, eventTypeCategory string) string {
	if strings.EqualFold(service, "BILLING") {
		return store.CounterBillingChanges
	}
	switch eventTypeCategory {
	case health.CategoryIssue:
		return store.CounterActiveIssues
	case health.CategoryAccountNotification:
		return store.CounterNotifications
	case health.CategoryScheduledChange:
		return store.CounterScheduled
	}
	return ""
}

// Summary reports what one incremental pass did.
type Summary struct {
	Processed      int `json:"processed"`
	CounterUpdates int `json:"countUpdates"`
	EventsUpdated  int `json:"arnsUpdated"`
}

// RecalcSummary reports what one full recomputation did.
type RecalcSummary struct {
	TotalEvents     int `json:"totalUniqueArns"`
	OpenEvents      int `json:"openArns"`
	ClosedEvents    int `json:"closedArns"`
	AccountsUpdated int `json:"accountsUpdated"`
}

type Materializer struct {
	eventStore   *store.Store
	counterStore *store.CounterStore
	log          *zap.SugaredLogger
}

func NewMaterializer(eventStore *store.Store, counterStore *store.CounterStore, log *zap.SugaredLogger) *Materializer {
	return &Materializer{
		eventStore:   eventStore,
		counterStore: counterStore,
		log:          log.Named("counter"),
	}
}

// ApplyChanges folds a batch of change records into per-account counter deltas and applies
// them. Changes are grouped by event; for each dirty event the rows currently stored are
// compared against the pre-batch state reconstructed from the change images, and every
// affected account receives the difference in that event's contribution. Expired rows are
// visible only through their old images, so removals decrement without re-reading them.
func (m *Materializer) ApplyChanges(ctx context.Context, changes []store.ChangeRecord, now time.Time) (Summary, error) {
	summary := Summary{Processed: len(changes)}
	var errs error
	byEvent := lo.GroupBy(changes, func(c store.ChangeRecord) string { return c.EventARN() })
	for eventARN, eventChanges := range byEvent {
		if eventARN == "" {
			continue
		}
		deltas, err := m.eventDeltas(ctx, eventARN, eventChanges)
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		if len(deltas) == 0 {
			continue
		}
		summary.EventsUpdated++
		for accountID, categoryDeltas := range deltas {
			for category, delta := range categoryDeltas {
				if delta == 0 {
					continue
				}
				if err := m.counterStore.Add(ctx, accountID, category, delta, now); err != nil {
					errs = multierr.Append(errs, err)
					continue
				}
				summary.CounterUpdates++
			}
		}
	}
	return summary, errs
}

// eventDeltas computes, per account, the change in one event's counter contribution across a
// batch of its change records. An account's contribution is 1 while it has a row under the
// event and any row under the event is not closed.
func (m *Materializer) eventDeltas(ctx context.Context, eventARN string, changes []store.ChangeRecord) (map[string]map[string]int64, error) {
	rows, err := m.eventStore.ListByEvent(ctx, eventARN)
	if err != nil {
		return nil, fmt.Errorf("listing rows for %q, %w", eventARN, err)
	}
	after := map[string]string{}
	category := ""
	for _, row := range rows {
		after[row.AccountID] = row.StatusCode
		category = CategoryFor(row.Service, row.EventTypeCategory)
	}

	// Rewind the batch, newest first, to reconstruct the pre-batch rows. Inserts had no row
	// before; modifications and removals had their old image.
	before := map[string]string{}
	for account, status := range after {
		before[account] = status
	}
	for i := len(changes) - 1; i >= 0; i-- {
		change := changes[i]
		accountID := change.AccountID()
		if accountID == "" {
			continue
		}
		switch change.EventName {
		case store.ChangeInsert:
			delete(before, accountID)
		case store.ChangeModify, store.ChangeRemove:
			before[accountID] = change.OldStatus()
		}
		if category == "" {
			service, eventTypeCategory := change.RecordFields()
			category = CategoryFor(service, eventTypeCategory)
		}
	}
	if category == "" {
		return nil, nil
	}

	activeBefore := lo.SomeBy(lo.Values(before), func(s string) bool { return s != store.StatusClosed })
	activeAfter := lo.SomeBy(lo.Values(after), func(s string) bool { return s != store.StatusClosed })

	deltas := map[string]map[string]int64{}
	for _, accountID := range lo.Uniq(append(lo.Keys(before), lo.Keys(after)...)) {
		_, hadRow := before[accountID]
		_, hasRow := after[accountID]
		contributionBefore := int64(0)
		if hadRow && activeBefore {
			contributionBefore = 1
		}
		contributionAfter := int64(0)
		if hasRow && activeAfter {
			contributionAfter = 1
		}
		if delta := contributionAfter - contributionBefore; delta != 0 {
			deltas[accountID] = map[string]int64{category: delta}
		}
	}
	return deltas, nil
}

// Recalculate rebuilds every account's counters from a full table scan and overwrites the
// stored rows. Each event that is not fully closed contributes once to each of its accounts'
// category counters; accounts present in the counts table but no longer on any active event
// are overwritten with zeros. The result is authoritative: drift accumulated by the
// incremental path is corrected here.
func (m *Materializer) Recalculate(ctx context.Context, now time.Time) (RecalcSummary, error) {
	records, err := m.eventStore.ListAll(ctx)
	if err != nil {
		return RecalcSummary{}, fmt.Errorf("listing records for recalculation, %w", err)
	}
	byEvent := lo.GroupBy(records, func(r store.Record) string { return r.EventARN })
	summary := RecalcSummary{TotalEvents: len(byEvent)}

	counts := map[string]map[string]int64{}
	for _, rows := range byEvent {
		if lo.EveryBy(rows, func(r store.Record) bool { return r.StatusCode == store.StatusClosed }) {
			summary.ClosedEvents++
			continue
		}
		summary.OpenEvents++
		category := CategoryFor(rows[0].Service, rows[0].EventTypeCategory)
		if category == "" {
			continue
		}
		for _, row := range lo.UniqBy(rows, func(r store.Record) string { return r.AccountID }) {
			if row.AccountID == "" {
				continue
			}
			if counts[row.AccountID] == nil {
				counts[row.AccountID] = map[string]int64{}
			}
			counts[row.AccountID][category]++
		}
	}

	// Existing rows are overwritten even when the account has dropped to zero everywhere.
	existing, err := m.counterStore.ListAll(ctx)
	if err != nil {
		return summary, fmt.Errorf("listing counts rows, %w", err)
	}
	accounts := lo.Uniq(append(lo.Keys(counts), lo.Map(existing, func(r store.CounterRow, _ int) string { return r.AccountID })...))

	var errs error
	for _, accountID := range accounts {
		if accountID == "" {
			continue
		}
		if err := m.counterStore.Set(ctx, accountID, counts[accountID], now); err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		summary.AccountsUpdated++
	}
	if errs != nil {
		return summary, errs
	}
	m.log.Infow("counters recalculated",
		"records", len(records), "events", summary.TotalEvents, "open", summary.OpenEvents,
		"accounts-updated", summary.AccountsUpdated)
	return summary, nil
}
