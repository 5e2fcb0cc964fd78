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
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/health"
	"github.com/aws/aws-sdk-go-v2/service/health/types"
	"github.com/samber/lo"
	"go.uber.org/zap"
	"k8s.io/utils/clock"

	sdk "github.com/mannylee/cloudops-command-center/pkg/aws/sdk"
	awserrors "github.com/mannylee/cloudops-command-center/pkg/errors"
)

const (
	// pageSize is the maxResults passed on every paginated feed call.
	pageSize = 100
	// entityFilterLimit is the upstream cap on account filters per affected-entities call.
	entityFilterLimit = 10
	// paginationSafetyMargin is how much time must remain before the context deadline for
	// another page fetch to be attempted.
	paginationSafetyMargin = 15 * time.Second
	// entityPageCap bounds pagination per account batch so a single pathological event cannot
	// hold a worker indefinitely.
	entityPageCap = 10
)

// Provider is the organization health feed. It normalizes both statuses and shapes so the rest
// of the pipeline never sees raw upstream types.
type Provider interface {
	ListEvents(ctx context.Context, window Window, categories []string) (ListResult, error)
	DescribeEvent(ctx context.Context, eventARN string, accountID string) (EventDetails, error)
	ListAffectedAccounts(ctx context.Context, eventARN string, maxAccounts int) ([]string, error)
	EntityPager(eventARN string, accountIDs []string) *EntityPager
	ListAccountEntities(ctx context.Context, eventARN string) ([]Entity, error)
}

type DefaultProvider struct {
	healthAPI sdk.HealthAPI
	clk       clock.Clock
	log       *zap.SugaredLogger
}

func NewDefaultProvider(healthAPI sdk.HealthAPI, clk clock.Clock, log *zap.SugaredLogger) *DefaultProvider {
	return &DefaultProvider{
		healthAPI: healthAPI,
		clk:       clk,
		log:       log.Named("health"),
	}
}

// ListEvents fetches the organization feed in two passes: closed and upcoming events bounded by
// the window on both sides, then open events bounded only on the left so long-running incidents
// are never aged out. Results are merged and deduplicated by ARN, preferring the open-pass copy.
func (p *DefaultProvider) ListEvents(ctx context.Context, window Window, categories []string) (ListResult, error) {
	openEvents, truncated, err := p.listEventsPass(ctx, &types.OrganizationEventFilter{
		EventStatusCodes: []types.EventStatusCode{types.EventStatusCodeOpen},
		LastUpdatedTime:  &types.DateTimeRange{From: aws.Time(window.From)},
		EventTypeCategories: toEventTypeCategories(categories),
	})
	if err != nil {
		return ListResult{}, fmt.Errorf("listing open events, %w", err)
	}
	events := openEvents
	if !truncated {
		var closedEvents []Event
		closedEvents, truncated, err = p.listEventsPass(ctx, &types.OrganizationEventFilter{
			EventStatusCodes: []types.EventStatusCode{types.EventStatusCodeClosed, types.EventStatusCodeUpcoming},
			LastUpdatedTime:  &types.DateTimeRange{From: aws.Time(window.From), To: aws.Time(window.To)},
			EventTypeCategories: toEventTypeCategories(categories),
		})
		if err != nil {
			return ListResult{}, fmt.Errorf("listing closed and upcoming events, %w", err)
		}
		events = append(events, closedEvents...)
	}
	// Open pass is listed first, so UniqBy keeps the fresher open-status copy on conflict.
	events = lo.UniqBy(events, func(e Event) string { return e.ARN })
	eventsFetchedTotal.Add(float64(len(events)))
	if truncated {
		fetchTruncatedTotal.Inc()
		p.log.Warnw("event fetch truncated by time budget", "events", len(events))
	}
	return ListResult{Events: events, Truncated: truncated}, nil
}

func (p *DefaultProvider) listEventsPass(ctx context.Context, filter *types.OrganizationEventFilter) ([]Event, bool, error) {
	var events []Event
	var nextToken *string
	for {
		out, err := p.healthAPI.DescribeEventsForOrganization(ctx, &health.DescribeEventsForOrganizationInput{
			Filter:     filter,
			MaxResults: aws.Int32(pageSize),
			NextToken:  nextToken,
		})
		if err != nil {
			if awserrors.IsSubscriptionRequired(err) {
				return nil, false, &awserrors.SubscriptionRequiredError{Err: err}
			}
			return nil, false, err
		}
		apiPagesTotal.WithLabelValues("DescribeEventsForOrganization").Inc()
		for _, e := range out.Events {
			events = append(events, normalizeOrganizationEvent(e))
		}
		nextToken = out.NextToken
		if nextToken == nil {
			return events, false, nil
		}
		if p.budgetExceeded(ctx) {
			return events, true, nil
		}
	}
}

// DescribeEvent resolves the full description for one event. The organization detail API can
// return an empty successful set for events it nominally knows about, so an empty response
// falls back to the account-scoped detail API.
func (p *DefaultProvider) DescribeEvent(ctx context.Context, eventARN string, accountID string) (EventDetails, error) {
	filter := types.EventAccountFilter{EventArn: aws.String(eventARN)}
	if accountID != "" {
		filter.AwsAccountId = aws.String(accountID)
	}
	out, err := p.healthAPI.DescribeEventDetailsForOrganization(ctx, &health.DescribeEventDetailsForOrganizationInput{
		OrganizationEventDetailFilters: []types.EventAccountFilter{filter},
	})
	if err != nil {
		return EventDetails{}, fmt.Errorf("describing organization event details for %q, %w", eventARN, err)
	}
	apiPagesTotal.WithLabelValues("DescribeEventDetailsForOrganization").Inc()
	if len(out.SuccessfulSet) > 0 {
		d := out.SuccessfulSet[0]
		return EventDetails{
			Event:             normalizeEvent(d.Event),
			LatestDescription: descriptionOf(d.EventDescription),
		}, nil
	}
	p.log.Debugw("organization event details empty, falling back to account scope", "event-arn", eventARN)
	return p.describeAccountEvent(ctx, eventARN)
}

func (p *DefaultProvider) describeAccountEvent(ctx context.Context, eventARN string) (EventDetails, error) {
	out, err := p.healthAPI.DescribeEventDetails(ctx, &health.DescribeEventDetailsInput{
		EventArns: []string{eventARN},
	})
	if err != nil {
		return EventDetails{}, fmt.Errorf("describing account event details for %q, %w", eventARN, err)
	}
	apiPagesTotal.WithLabelValues("DescribeEventDetails").Inc()
	if len(out.SuccessfulSet) == 0 {
		return EventDetails{}, fmt.Errorf("no details available for event %q", eventARN)
	}
	d := out.SuccessfulSet[0]
	return EventDetails{
		Event:             normalizeEvent(d.Event),
		LatestDescription: descriptionOf(d.EventDescription),
	}, nil
}

// ListAffectedAccounts pages through the accounts the organization reports for the event. A
// positive maxAccounts bounds the expansion and stops paging once reached.
func (p *DefaultProvider) ListAffectedAccounts(ctx context.Context, eventARN string, maxAccounts int) ([]string, error) {
	var accounts []string
	var nextToken *string
	for {
		out, err := p.healthAPI.DescribeAffectedAccountsForOrganization(ctx, &health.DescribeAffectedAccountsForOrganizationInput{
			EventArn:   aws.String(eventARN),
			MaxResults: aws.Int32(pageSize),
			NextToken:  nextToken,
		})
		if err != nil {
			return nil, fmt.Errorf("listing affected accounts for %q, %w", eventARN, err)
		}
		apiPagesTotal.WithLabelValues("DescribeAffectedAccountsForOrganization").Inc()
		accounts = append(accounts, out.AffectedAccounts...)
		if maxAccounts > 0 && len(accounts) >= maxAccounts {
			return accounts[:maxAccounts], nil
		}
		nextToken = out.NextToken
		if nextToken == nil {
			return accounts, nil
		}
	}
}

// EntityPager returns a lazy pager over the affected entities of an event for the supplied
// accounts. Account filters are batched up to the upstream limit per call.
func (p *DefaultProvider) EntityPager(eventARN string, accountIDs []string) *EntityPager {
	return &EntityPager{
		provider: p,
		eventARN: eventARN,
		batches:  lo.Chunk(accountIDs, entityFilterLimit),
	}
}

// ListAccountEntities fetches affected entities through the account-scoped API, used when the
// event is only visible outside the organization view.
func (p *DefaultProvider) ListAccountEntities(ctx context.Context, eventARN string) ([]Entity, error) {
	var entities []Entity
	var nextToken *string
	for {
		out, err := p.healthAPI.DescribeAffectedEntities(ctx, &health.DescribeAffectedEntitiesInput{
			Filter:     &types.EntityFilter{EventArns: []string{eventARN}},
			MaxResults: aws.Int32(pageSize),
			NextToken:  nextToken,
		})
		if err != nil {
			return nil, fmt.Errorf("listing account entities for %q, %w", eventARN, err)
		}
		apiPagesTotal.WithLabelValues("DescribeAffectedEntities").Inc()
		for _, e := range out.Entities {
			entities = append(entities, normalizeEntity(e))
		}
		nextToken = out.NextToken
		if nextToken == nil {
			return entities, nil
		}
	}
}

func (p *DefaultProvider) budgetExceeded(ctx context.Context) bool {
	deadline, ok := ctx.Deadline()
	if !ok {
		return false
	}
	return p.clk.Now().After(deadline.Add(-paginationSafetyMargin))
}

// EntityPager walks affected entities one upstream page at a time, so callers that only need
// the first few entities (or that short-circuit on an open status) never fetch the rest.
type EntityPager struct {
	provider  *DefaultProvider
	eventARN  string
	batches   [][]string
	batchIdx  int
	nextToken *string
	pages     int
}

// Next returns the next page of entities. ok is false once every batch is exhausted or the
// per-batch page cap is reached.
func (p *EntityPager) Next(ctx context.Context) (entities []Entity, ok bool, err error) {
	for p.batchIdx < len(p.batches) {
		if p.pages >= entityPageCap {
			p.provider.log.Warnw("entity paging truncated at page cap",
				"event-arn", p.eventARN, "batch", p.batchIdx+1, "pages", p.pages)
			p.advanceBatch()
			continue
		}
		filters := lo.Map(p.batches[p.batchIdx], func(accountID string, _ int) types.EventAccountFilter {
			return types.EventAccountFilter{
				EventArn:     aws.String(p.eventARN),
				AwsAccountId: aws.String(accountID),
			}
		})
		out, err := p.provider.healthAPI.DescribeAffectedEntitiesForOrganization(ctx, &health.DescribeAffectedEntitiesForOrganizationInput{
			OrganizationEntityFilters: filters,
			MaxResults:                aws.Int32(pageSize),
			NextToken:                 p.nextToken,
		})
		if err != nil {
			return nil, false, fmt.Errorf("listing organization entities for %q, %w", p.eventARN, err)
		}
		apiPagesTotal.WithLabelValues("DescribeAffectedEntitiesForOrganization").Inc()
		p.pages++
		p.nextToken = out.NextToken
		if p.nextToken == nil {
			p.advanceBatch()
		}
		if len(out.Entities) == 0 {
			continue
		}
		return lo.Map(out.Entities, func(e types.AffectedEntity, _ int) Entity { return normalizeEntity(e) }), true, nil
	}
	return nil, false, nil
}

func (p *EntityPager) advanceBatch() {
	p.batchIdx++
	p.nextToken = nil
	p.pages = 0
}

func descriptionOf(d *types.EventDescription) string {
	if d == nil {
		return ""
	}
	return aws.ToString(d.LatestDescription)
}

func toEventTypeCategories(categories []string) []types.EventTypeCategory {
	return lo.Map(categories, func(c string, _ int) types.EventTypeCategory { return types.EventTypeCategory(c) })
}
