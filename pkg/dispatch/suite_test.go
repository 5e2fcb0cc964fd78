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

package dispatch_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	dynamodbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	awshealth "github.com/aws/aws-sdk-go-v2/service/health"
	healthtypes "github.com/aws/aws-sdk-go-v2/service/health/types"
	awssqs "github.com/aws/aws-sdk-go-v2/service/sqs"
	"go.uber.org/zap"
	clocktesting "k8s.io/utils/clock/testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/mannylee/cloudops-command-center/pkg/analysis"
	"github.com/mannylee/cloudops-command-center/pkg/dispatch"
	"github.com/mannylee/cloudops-command-center/pkg/fake"
	"github.com/mannylee/cloudops-command-center/pkg/messages"
	"github.com/mannylee/cloudops-command-center/pkg/providers/health"
	"github.com/mannylee/cloudops-command-center/pkg/providers/sqs"
	"github.com/mannylee/cloudops-command-center/pkg/store"
)

var ctx context.Context
var healthAPI *fake.HealthAPI
var bedrockAPI *fake.BedrockRuntimeAPI
var dynamodbAPI *fake.DynamoDBAPI
var sqsAPI *fake.SQSAPI
var inline *inlineRecorder
var dispatcher *dispatch.Dispatcher

type inlineRecorder struct {
	units []messages.WorkUnit
}

func (r *inlineRecorder) ProcessUnit(_ context.Context, unit messages.WorkUnit) error {
	r.units = append(r.units, unit)
	return nil
}

func TestDispatch(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Dispatch")
}

var _ = BeforeEach(func() {
	ctx = context.Background()
	healthAPI = &fake.HealthAPI{}
	bedrockAPI = &fake.BedrockRuntimeAPI{}
	dynamodbAPI = &fake.DynamoDBAPI{}
	sqsAPI = &fake.SQSAPI{}
	inline = &inlineRecorder{}
	fakeClock := clocktesting.NewFakeClock(time.Date(2025, 3, 2, 11, 0, 0, 0, time.UTC))
	log := zap.NewNop().Sugar()

	healthProvider := health.NewDefaultProvider(healthAPI, fakeClock, log)
	analyzer := analysis.NewBedrockAnalyzer(bedrockAPI, analysis.Config{ModelID: "model", MaxTokens: 4000}, log)
	analyzer.Sleep = func(context.Context, time.Duration) error { return nil }
	eventStore := store.NewStore(dynamodbAPI, "health-events", log)
	queue := sqs.NewProviderWithURL(sqsAPI, "https://sqs.us-east-1.amazonaws.com/000000000000/work-queue")
	dispatcher = dispatch.NewDispatcher(healthProvider, analyzer, eventStore, queue, inline, dispatch.Options{
		AnalysisWindowDays: 7,
		ExcludedServices:   []string{"HEALTH"},
		RetentionDays:      180,
	}, fakeClock, log)

	// details served for every event, so assessment always has a description to work from
	healthAPI.DescribeEventDetailsForOrganizationBehavior.Output.Set(&awshealth.DescribeEventDetailsForOrganizationOutput{
		SuccessfulSet: []healthtypes.OrganizationEventDetails{{
			Event:            &healthtypes.Event{Arn: aws.String("arn:details"), StatusCode: healthtypes.EventStatusCodeOpen},
			EventDescription: &healthtypes.EventDescription{LatestDescription: aws.String("details")},
		}},
	})
})

func feedEvents(events ...healthtypes.OrganizationEvent) {
	// open pass first, then the closed/upcoming pass
	healthAPI.DescribeEventsForOrganizationBehavior.OutputSequence.Add(&awshealth.DescribeEventsForOrganizationOutput{Events: events})
	healthAPI.DescribeEventsForOrganizationBehavior.OutputSequence.Add(&awshealth.DescribeEventsForOrganizationOutput{})
}

func orgEvent(arn, service string) healthtypes.OrganizationEvent {
	return healthtypes.OrganizationEvent{
		Arn:               aws.String(arn),
		Service:           aws.String(service),
		EventTypeCode:     aws.String("AWS_" + service + "_OPERATIONAL_ISSUE"),
		EventTypeCategory: healthtypes.EventTypeCategoryIssue,
		Region:            aws.String("us-east-1"),
		StatusCode:        healthtypes.EventStatusCodeOpen,
		StartTime:         aws.Time(time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)),
		LastUpdatedTime:   aws.Time(time.Date(2025, 3, 2, 10, 0, 0, 0, time.UTC)),
	}
}

func affectedAccounts(accounts ...string) {
	healthAPI.DescribeAffectedAccountsForOrganizationBehavior.Output.Set(&awshealth.DescribeAffectedAccountsForOrganizationOutput{
		AffectedAccounts: accounts,
	})
}

func manyAccounts(n int) []string {
	accounts := make([]string, n)
	for i := range accounts {
		accounts[i] = fmt.Sprintf("%012d", i)
	}
	return accounts
}

func queuedUnits() []messages.WorkUnit {
	var units []messages.WorkUnit
	sqsAPI.SendMessageBehavior.CalledWithInput.ForEach(func(input *awssqs.SendMessageInput) {
		unit, err := messages.Parse(aws.ToString(input.MessageBody))
		Expect(err).ToNot(HaveOccurred())
		units = append(units, unit)
	})
	return units
}

var _ = Describe("Sync", func() {
	It("should queue account batches when the pass expands past the inline threshold", func() {
		feedEvents(orgEvent("arn:a", "EC2"))
		affectedAccounts(manyAccounts(25)...)

		summary, err := dispatcher.Sync(ctx, 0)
		Expect(err).ToNot(HaveOccurred())
		Expect(summary.PairsExpanded).To(Equal(25))
		Expect(summary.UnitsQueued).To(Equal(3))
		Expect(summary.UnitsInline).To(BeZero())
		Expect(inline.units).To(BeEmpty())

		units := queuedUnits()
		Expect(units).To(HaveLen(3))
		Expect(units[0].Accounts).To(HaveLen(10))
		Expect(units[2].Accounts).To(HaveLen(5))
		Expect(units[0].BatchNumber).To(Equal(1))
		Expect(units[2].TotalBatches).To(Equal(3))
		Expect(units[0].Categories).ToNot(BeNil())
	})

	It("should assess each event exactly once regardless of batch count", func() {
		feedEvents(orgEvent("arn:a", "EC2"))
		affectedAccounts(manyAccounts(25)...)

		_, err := dispatcher.Sync(ctx, 0)
		Expect(err).ToNot(HaveOccurred())
		Expect(bedrockAPI.InvokeModelBehavior.Calls()).To(Equal(1))
	})

	It("should process small passes inline without touching the queue", func() {
		feedEvents(orgEvent("arn:a", "EC2"))
		affectedAccounts("111111111111", "222222222222")

		summary, err := dispatcher.Sync(ctx, 0)
		Expect(err).ToNot(HaveOccurred())
		Expect(summary.UnitsInline).To(Equal(1))
		Expect(summary.UnitsQueued).To(BeZero())
		Expect(sqsAPI.SendMessageBehavior.Calls()).To(BeZero())
		Expect(inline.units).To(HaveLen(1))
		Expect(inline.units[0].Accounts).To(Equal([]string{"111111111111", "222222222222"}))
	})

	It("should skip events from excluded services", func() {
		feedEvents(orgEvent("arn:a", "HEALTH"))

		summary, err := dispatcher.Sync(ctx, 0)
		Expect(err).ToNot(HaveOccurred())
		Expect(summary.EventsSkipped).To(Equal(1))
		Expect(healthAPI.DescribeAffectedAccountsForOrganizationBehavior.Calls()).To(BeZero())
	})

	It("should skip events with no affected accounts", func() {
		feedEvents(orgEvent("arn:a", "EC2"))
		affectedAccounts()

		summary, err := dispatcher.Sync(ctx, 0)
		Expect(err).ToNot(HaveOccurred())
		Expect(summary.EventsSkipped).To(Equal(1))
		Expect(summary.PairsExpanded).To(BeZero())
		Expect(bedrockAPI.InvokeModelBehavior.Calls()).To(BeZero())
	})

	It("should reuse a stored assessment for an unchanged event", func() {
		feedEvents(orgEvent("arn:a", "EC2"))
		affectedAccounts("111111111111", "222222222222")
		item, err := attributevalue.MarshalMap(store.Record{
			EventARN:       "arn:a",
			AccountID:      "111111111111",
			LastUpdateTime: "2025-03-02 10:00:00",
			ImpactAnalysis: "stored assessment",
			AnalysisText:   `{"impact_analysis": "stored assessment"}`,
			RiskLevel:      "HIGH",
		})
		Expect(err).ToNot(HaveOccurred())
		dynamodbAPI.QueryBehavior.Output.Set(&dynamodb.QueryOutput{
			Items: []map[string]dynamodbtypes.AttributeValue{item},
		})

		summary, err := dispatcher.Sync(ctx, 0)
		Expect(err).ToNot(HaveOccurred())
		Expect(summary.ReusedEvents).To(Equal(1))
		Expect(summary.AssessedEvents).To(BeZero())
		Expect(bedrockAPI.InvokeModelBehavior.Calls()).To(BeZero())
		Expect(inline.units[0].Analysis).To(Equal(`{"impact_analysis": "stored assessment"}`))
		Expect(inline.units[0].Categories.ImpactAnalysis).To(Equal("stored assessment"))
	})

	It("should ship the raw model text alongside the structured assessment", func() {
		feedEvents(orgEvent("arn:a", "EC2"))
		affectedAccounts("111111111111")
		bedrockAPI.InvokeModelBehavior.Output.Set(&bedrockruntime.InvokeModelOutput{
			Body: fake.ClaudeTextResponse(`{"critical": "NO", "risk_level": "MEDIUM", "impact_analysis": "fresh text"}`),
		})

		_, err := dispatcher.Sync(ctx, 0)
		Expect(err).ToNot(HaveOccurred())
		Expect(inline.units).To(HaveLen(1))
		Expect(inline.units[0].Analysis).To(ContainSubstring(`"impact_analysis": "fresh text"`))
		Expect(inline.units[0].Categories.ImpactAnalysis).To(Equal("fresh text"))
	})

	It("should re-assess when the stored assessment is stale", func() {
		feedEvents(orgEvent("arn:a", "EC2"))
		affectedAccounts("111111111111")
		item, err := attributevalue.MarshalMap(store.Record{
			EventARN:       "arn:a",
			AccountID:      "111111111111",
			LastUpdateTime: "2025-03-01 08:00:00",
			ImpactAnalysis: "stale assessment",
		})
		Expect(err).ToNot(HaveOccurred())
		dynamodbAPI.QueryBehavior.Output.Set(&dynamodb.QueryOutput{
			Items: []map[string]dynamodbtypes.AttributeValue{item},
		})

		summary, err := dispatcher.Sync(ctx, 0)
		Expect(err).ToNot(HaveOccurred())
		Expect(summary.AssessedEvents).To(Equal(1))
		Expect(bedrockAPI.InvokeModelBehavior.Calls()).To(Equal(1))
	})

	It("should re-assess a stored fallback assessment even when the event is unchanged", func() {
		feedEvents(orgEvent("arn:a", "EC2"))
		affectedAccounts("111111111111")
		item, err := attributevalue.MarshalMap(store.Record{
			EventARN:       "arn:a",
			AccountID:      "111111111111",
			LastUpdateTime: "2025-03-02 10:00:00",
			ImpactAnalysis: analysis.Fallback("AWS_EC2_OPERATIONAL_ISSUE").ImpactAnalysis,
			RiskLevel:      "HIGH",
		})
		Expect(err).ToNot(HaveOccurred())
		dynamodbAPI.QueryBehavior.Output.Set(&dynamodb.QueryOutput{
			Items: []map[string]dynamodbtypes.AttributeValue{item},
		})

		summary, err := dispatcher.Sync(ctx, 0)
		Expect(err).ToNot(HaveOccurred())
		Expect(summary.AssessedEvents).To(Equal(1))
		Expect(summary.ReusedEvents).To(BeZero())
		Expect(bedrockAPI.InvokeModelBehavior.Calls()).To(Equal(1))
	})

	It("should carry the truncation marker through the summary", func() {
		deadlineCtx, cancel := context.WithDeadline(ctx, time.Now().Add(5*time.Second))
		defer cancel()
		healthAPI.DescribeEventsForOrganizationBehavior.OutputSequence.Add(&awshealth.DescribeEventsForOrganizationOutput{
			Events:    []healthtypes.OrganizationEvent{orgEvent("arn:a", "EC2")},
			NextToken: aws.String("more"),
		})
		affectedAccounts("111111111111")

		summary, err := dispatcher.Sync(deadlineCtx, 0)
		Expect(err).ToNot(HaveOccurred())
		Expect(summary.Truncated).To(BeTrue())
	})
})
