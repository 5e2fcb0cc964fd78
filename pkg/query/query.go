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

// Package query serves the consolidated read model: per-account rows merged back into one
// event each for the dashboard, plus the summed dashboard counts.
package query

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/samber/lo"
	"go.uber.org/zap"
	"k8s.io/utils/clock"

	"github.com/mannylee/cloudops-command-center/pkg/providers/health"
	"github.com/mannylee/cloudops-command-center/pkg/store"
)

// CategoryBilling selects billing events, which are carved out of the feed categories by
// service rather than carrying a category of their own.
const CategoryBilling = "billing"

const defaultLimit = 50

// ConsolidatedEvent is one event merged across its account rows. AccountIDs maps each account
// to its display name.
type ConsolidatedEvent struct {
	EventARN              string            `json:"eventArn"`
	EventType             string            `json:"eventType"`
	Service               string            `json:"service"`
	Region                string            `json:"region"`
	RiskLevel             string            `json:"riskLevel"`
	LastUpdateTime        string            `json:"lastUpdateTime"`
	Description           string            `json:"description"`
	SimplifiedDescription string            `json:"simplifiedDescription"`
	ImpactAnalysis        string            `json:"impactAnalysis"`
	RequiredActions       string            `json:"requiredActions"`
	ConsequencesIfIgnored string            `json:"consequencesIfIgnored"`
	RiskCategory          string            `json:"riskCategory"`
	AffectedResources     []string          `json:"affectedResources"`
	AccountIDs            map[string]string `json:"accountIds"`
}

// Pagination describes the page cut out of the consolidated result set.
type Pagination struct {
	Limit       int  `json:"limit"`
	Offset      int  `json:"offset"`
	Total       int  `json:"total"`
	HasMore     bool `json:"has_more"`
	CurrentPage int  `json:"current_page"`
	TotalPages  int  `json:"total_pages"`
}

// Page is one page of consolidated events.
type Page struct {
	Events     []ConsolidatedEvent `json:"data"`
	Pagination Pagination          `json:"pagination"`
}

// Counts is the dashboard summary, summed over the requested accounts.
type Counts struct {
	Notifications   int64 `json:"notifications"`
	ActiveIssues    int64 `json:"active_issues"`
	ScheduledEvents int64 `json:"scheduled_events"`
	BillingChanges  int64 `json:"billing_changes"`
}

// Options configures the read model window.
type Options struct {
	// WindowDays bounds how far back listed events may have been updated.
	WindowDays int
}

type Service struct {
	eventStore   *store.Store
	counterStore *store.CounterStore
	opts         Options
	clk          clock.Clock
	log          *zap.SugaredLogger
}

func NewService(eventStore *store.Store, counterStore *store.CounterStore, opts Options,
	clk clock.Clock, log *zap.SugaredLogger) *Service {
	return &Service{
		eventStore:   eventStore,
		counterStore: counterStore,
		opts:         opts,
		clk:          clk,
		log:          log.Named("query"),
	}
}

// ListByCategory returns one page of consolidated events in a category, newest first. The
// whole category is fetched before paging: consolidation changes the total, so a page cannot
// be cut from raw rows. An account filter keeps only events touching one of the accounts.
func (s *Service) ListByCategory(ctx context.Context, category string, limit, offset int, accountFilter []string) (Page, error) {
	if limit <= 0 {
		limit = defaultLimit
	}
	if offset < 0 {
		offset = 0
	}
	since := s.clk.Now().AddDate(0, 0, -s.opts.WindowDays).UTC().Format(store.DateLayout)

	var records []store.Record
	var err error
	if category == CategoryBilling {
		records, err = s.eventStore.ListBilling(ctx, since)
	} else {
		records, err = s.eventStore.ListByCategory(ctx, category, since)
	}
	if err != nil {
		return Page{}, fmt.Errorf("listing category %q, %w", category, err)
	}
	if len(accountFilter) > 0 {
		wanted := lo.SliceToMap(accountFilter, func(a string) (string, struct{}) { return a, struct{}{} })
		records = lo.Filter(records, func(r store.Record, _ int) bool {
			_, ok := wanted[r.AccountID]
			return ok
		})
	}

	events := Consolidate(records)
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].LastUpdateTime > events[j].LastUpdateTime
	})

	return paginate(events, limit, offset), nil
}

func paginate(events []ConsolidatedEvent, limit, offset int) Page {
	total := len(events)
	start := offset
	if start > total {
		start = total
	}
	end := start + limit
	if end > total {
		end = total
	}
	totalPages := 0
	if total > 0 {
		totalPages = (total + limit - 1) / limit
	}
	return Page{
		Events: events[start:end],
		Pagination: Pagination{
			Limit:       limit,
			Offset:      offset,
			Total:       total,
			HasMore:     end < total,
			CurrentPage: offset/limit + 1,
			TotalPages:  totalPages,
		},
	}
}

// ListByAccount returns one page of an account's events across every category, newest first.
// Closed rows are dropped here rather than upstream since the account scan is unfiltered by
// status.
func (s *Service) ListByAccount(ctx context.Context, accountID string, limit, offset int) (Page, error) {
	if limit <= 0 {
		limit = defaultLimit
	}
	if offset < 0 {
		offset = 0
	}
	records, err := s.eventStore.ListByAccount(ctx, accountID)
	if err != nil {
		return Page{}, fmt.Errorf("listing account %q, %w", accountID, err)
	}
	since := s.clk.Now().AddDate(0, 0, -s.opts.WindowDays).UTC().Format(store.DateLayout)
	records = lo.Filter(records, func(r store.Record, _ int) bool {
		return r.Active() && r.LastUpdateTime >= since
	})
	events := Consolidate(records)
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].LastUpdateTime > events[j].LastUpdateTime
	})
	return paginate(events, limit, offset), nil
}

// Consolidate merges per-account rows sharing an eventArn into one event each. Account names
// collapse into the accountIds map, affected resources union across rows, and the freshest
// row's update time and simplified description win.
func Consolidate(records []store.Record) []ConsolidatedEvent {
	merged := map[string]*ConsolidatedEvent{}
	var order []string
	for _, record := range records {
		event, seen := merged[record.EventARN]
		if !seen {
			event = &ConsolidatedEvent{
				EventARN:              record.EventARN,
				EventType:             record.EventType,
				Service:               record.Service,
				Region:                record.Region,
				RiskLevel:             record.RiskLevel,
				LastUpdateTime:        record.LastUpdateTime,
				Description:           record.Description,
				SimplifiedDescription: record.SimplifiedDescription,
				ImpactAnalysis:        record.ImpactAnalysis,
				RequiredActions:       record.RequiredActions,
				ConsequencesIfIgnored: record.ConsequencesIfIgnored,
				RiskCategory:          record.RiskCategory,
				AffectedResources:     splitResources(record.AffectedResources),
				AccountIDs:            map[string]string{},
			}
			merged[record.EventARN] = event
			order = append(order, record.EventARN)
		} else {
			for _, resource := range splitResources(record.AffectedResources) {
				if !lo.Contains(event.AffectedResources, resource) {
					event.AffectedResources = append(event.AffectedResources, resource)
				}
			}
			if record.LastUpdateTime > event.LastUpdateTime {
				event.LastUpdateTime = record.LastUpdateTime
				event.SimplifiedDescription = record.SimplifiedDescription
			}
		}
		if record.AccountID != "" {
			name := record.AccountName
			if name == "" {
				name = record.AccountID
			}
			event.AccountIDs[record.AccountID] = name
		}
	}
	return lo.Map(order, func(arn string, _ int) ConsolidatedEvent { return *merged[arn] })
}

// GetCounts sums the counter rows for the requested accounts, or every row when no filter is
// given.
func (s *Service) GetCounts(ctx context.Context, accountFilter []string) (Counts, error) {
	totals := Counts{}
	add := func(counts map[string]int64) {
		totals.Notifications += counts[store.CounterNotifications]
		totals.ActiveIssues += counts[store.CounterActiveIssues]
		totals.ScheduledEvents += counts[store.CounterScheduled]
		totals.BillingChanges += counts[store.CounterBillingChanges]
	}
	if len(accountFilter) > 0 {
		for _, accountID := range accountFilter {
			counts, err := s.counterStore.Get(ctx, accountID)
			if err != nil {
				return Counts{}, err
			}
			add(counts)
		}
		return totals, nil
	}
	rows, err := s.counterStore.ListAll(ctx)
	if err != nil {
		return Counts{}, err
	}
	for _, row := range rows {
		add(row.Counts())
	}
	return totals, nil
}

// ValidCategories lists the category selectors the read model accepts.
func ValidCategories() []string {
	return []string{health.CategoryIssue, health.CategoryAccountNotification, health.CategoryScheduledChange, CategoryBilling}
}

func splitResources(joined string) []string {
	if joined == "" || joined == "None specified" {
		return nil
	}
	var resources []string
	for _, part := range strings.Split(joined, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			resources = append(resources, trimmed)
		}
	}
	return resources
}
