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

package worker_test

import (
	"context"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	dynamodbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	awshealth "github.com/aws/aws-sdk-go-v2/service/health"
	healthtypes "github.com/aws/aws-sdk-go-v2/service/health/types"
	"github.com/patrickmn/go-cache"
	"go.uber.org/zap"
	clocktesting "k8s.io/utils/clock/testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/mannylee/cloudops-command-center/pkg/analysis"
	"github.com/mannylee/cloudops-command-center/pkg/fake"
	"github.com/mannylee/cloudops-command-center/pkg/messages"
	"github.com/mannylee/cloudops-command-center/pkg/providers/account"
	"github.com/mannylee/cloudops-command-center/pkg/providers/health"
	"github.com/mannylee/cloudops-command-center/pkg/store"
	"github.com/mannylee/cloudops-command-center/pkg/worker"
)

const eventARN = "arn:aws:health:us-east-1::event/EC2/ISSUE/abc"

var ctx context.Context
var healthAPI *fake.HealthAPI
var organizationsAPI *fake.OrganizationsAPI
var bedrockAPI *fake.BedrockRuntimeAPI
var dynamodbAPI *fake.DynamoDBAPI
var processor *worker.Worker

func TestWorker(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Worker")
}

var _ = BeforeEach(func() {
	ctx = context.Background()
	healthAPI = &fake.HealthAPI{}
	organizationsAPI = &fake.OrganizationsAPI{}
	bedrockAPI = &fake.BedrockRuntimeAPI{}
	dynamodbAPI = &fake.DynamoDBAPI{}
	fakeClock := clocktesting.NewFakeClock(time.Date(2025, 3, 2, 11, 0, 0, 0, time.UTC))
	log := zap.NewNop().Sugar()

	healthProvider := health.NewDefaultProvider(healthAPI, fakeClock, log)
	accountProvider := account.NewDefaultProvider(organizationsAPI, cache.New(time.Minute, time.Minute), log)
	analyzer := analysis.NewBedrockAnalyzer(bedrockAPI, analysis.Config{ModelID: "model", MaxTokens: 4000}, log)
	analyzer.Sleep = func(context.Context, time.Duration) error { return nil }
	eventStore := store.NewStore(dynamodbAPI, "health-events", log)
	processor = worker.NewWorker(healthProvider, accountProvider, analyzer, eventStore,
		worker.Options{RetentionDays: 180}, fakeClock, log)
})

func unit(accounts ...string) messages.WorkUnit {
	return messages.WorkUnit{
		Event: messages.EventHeader{
			EventARN:          eventARN,
			Service:           "EC2",
			EventTypeCode:     "AWS_EC2_OPERATIONAL_ISSUE",
			EventTypeCategory: "issue",
			Region:            "us-east-1",
			StatusCode:        "open",
			StartTime:         time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC),
			LastUpdatedTime:   time.Date(2025, 3, 2, 10, 0, 0, 0, time.UTC),
			Description:       "instances impaired",
		},
		Accounts:     accounts,
		Analysis:     "degraded instances",
		Categories:   &analysis.Analysis{Critical: "NO", RiskLevel: "HIGH", ImpactAnalysis: "degraded instances"},
		BatchNumber:  1,
		TotalBatches: 1,
	}
}

func entitiesPage(entities ...healthtypes.AffectedEntity) *awshealth.DescribeAffectedEntitiesForOrganizationOutput {
	return &awshealth.DescribeAffectedEntitiesForOrganizationOutput{Entities: entities}
}

func entity(account, value, status string) healthtypes.AffectedEntity {
	return healthtypes.AffectedEntity{
		AwsAccountId: aws.String(account),
		EntityValue:  aws.String(value),
		StatusCode:   healthtypes.EntityStatusCode(status),
	}
}

func storedRecords() []map[string]dynamodbtypes.AttributeValue {
	var items []map[string]dynamodbtypes.AttributeValue
	dynamodbAPI.BatchWriteItemBehavior.CalledWithInput.ForEach(func(input *dynamodb.BatchWriteItemInput) {
		for _, req := range input.RequestItems["health-events"] {
			items = append(items, req.PutRequest.Item)
		}
	})
	return items
}

func stringAttr(item map[string]dynamodbtypes.AttributeValue, key string) string {
	if v, ok := item[key].(*dynamodbtypes.AttributeValueMemberS); ok {
		return v.Value
	}
	return ""
}

var _ = Describe("ProcessUnit", func() {
	It("should store one row per account with the shipped assessment", func() {
		healthAPI.DescribeAffectedEntitiesForOrganizationBehavior.Output.Set(entitiesPage(
			entity("111111111111", "i-abc", "IMPAIRED"),
			entity("222222222222", "i-def", "RESOLVED"),
		))

		Expect(processor.ProcessUnit(ctx, unit("111111111111", "222222222222"))).To(Succeed())
		Expect(bedrockAPI.InvokeModelBehavior.Calls()).To(BeZero())

		items := storedRecords()
		Expect(items).To(HaveLen(2))
		byAccount := map[string]map[string]dynamodbtypes.AttributeValue{}
		for _, item := range items {
			byAccount[stringAttr(item, "accountId")] = item
		}
		Expect(stringAttr(byAccount["111111111111"], "statusCode")).To(Equal("open"))
		Expect(stringAttr(byAccount["222222222222"], "statusCode")).To(Equal("closed"))
		Expect(stringAttr(byAccount["111111111111"], "riskLevel")).To(Equal("HIGH"))
		Expect(stringAttr(byAccount["111111111111"], "affectedResources")).To(Equal("i-abc"))
		Expect(stringAttr(byAccount["222222222222"], "affectedResources")).To(Equal("i-def"))
		Expect(stringAttr(byAccount["111111111111"], "accountName")).To(Equal("account-111111111111"))
	})

	It("should persist the raw analysis text shipped on the unit", func() {
		u := unit("111111111111")
		u.Event.StatusCode = "closed"
		Expect(processor.ProcessUnit(ctx, u)).To(Succeed())
		items := storedRecords()
		Expect(stringAttr(items[0], "analysisText")).To(Equal("degraded instances"))
	})

	It("should short-circuit entity resolution for closed events", func() {
		u := unit("111111111111")
		u.Event.StatusCode = "closed"
		Expect(processor.ProcessUnit(ctx, u)).To(Succeed())
		Expect(healthAPI.DescribeAffectedEntitiesForOrganizationBehavior.Calls()).To(BeZero())
		items := storedRecords()
		Expect(items).To(HaveLen(1))
		Expect(stringAttr(items[0], "statusCode")).To(Equal("closed"))
	})

	It("should take the worst status across an account's entities", func() {
		healthAPI.DescribeAffectedEntitiesForOrganizationBehavior.Output.Set(entitiesPage(
			entity("111111111111", "i-abc", "RESOLVED"),
			entity("111111111111", "i-def", "IMPAIRED"),
		))
		Expect(processor.ProcessUnit(ctx, unit("111111111111"))).To(Succeed())
		items := storedRecords()
		Expect(stringAttr(items[0], "statusCode")).To(Equal("open"))
	})

	It("should fall back to the event status for accounts with no entities", func() {
		healthAPI.DescribeAffectedEntitiesForOrganizationBehavior.Output.Set(entitiesPage(
			entity("111111111111", "i-abc", "IMPAIRED"),
		))
		Expect(processor.ProcessUnit(ctx, unit("111111111111", "222222222222"))).To(Succeed())
		items := storedRecords()
		byAccount := map[string]string{}
		for _, item := range items {
			byAccount[stringAttr(item, "accountId")] = stringAttr(item, "statusCode")
		}
		Expect(byAccount["222222222222"]).To(Equal("open"))
	})

	It("should keep a resolved account closed when a later entity status is unrecognized", func() {
		healthAPI.DescribeAffectedEntitiesForOrganizationBehavior.OutputSequence.Add(&awshealth.DescribeAffectedEntitiesForOrganizationOutput{
			Entities:  []healthtypes.AffectedEntity{entity("111111111111", "i-abc", "RESOLVED")},
			NextToken: aws.String("page-2"),
		})
		healthAPI.DescribeAffectedEntitiesForOrganizationBehavior.OutputSequence.Add(entitiesPage(
			entity("111111111111", "i-def", "SOMETHING_NEW"),
		))
		Expect(processor.ProcessUnit(ctx, unit("111111111111"))).To(Succeed())
		items := storedRecords()
		Expect(stringAttr(items[0], "statusCode")).To(Equal("closed"))
	})

	It("should map unrecognized entity statuses to unknown", func() {
		healthAPI.DescribeAffectedEntitiesForOrganizationBehavior.Output.Set(entitiesPage(
			entity("111111111111", "i-abc", "SOMETHING_NEW"),
		))
		Expect(processor.ProcessUnit(ctx, unit("111111111111"))).To(Succeed())
		items := storedRecords()
		Expect(stringAttr(items[0], "statusCode")).To(Equal("unknown"))
	})

	It("should produce the assessment on the worker for deferred units", func() {
		u := unit("111111111111")
		u.Analysis = ""
		u.Categories = nil
		u.DeferredAnalysis = true
		healthAPI.DescribeEventDetailsForOrganizationBehavior.Output.Set(&awshealth.DescribeEventDetailsForOrganizationOutput{
			SuccessfulSet: []healthtypes.OrganizationEventDetails{{
				Event:            &healthtypes.Event{Arn: aws.String(eventARN), StatusCode: healthtypes.EventStatusCodeOpen},
				EventDescription: &healthtypes.EventDescription{LatestDescription: aws.String("from details")},
			}},
		})
		bedrockAPI.InvokeModelBehavior.Output.Set(&bedrockruntime.InvokeModelOutput{
			Body: fake.ClaudeTextResponse(`{"critical": "NO", "risk_level": "MEDIUM", "impact_analysis": "fresh assessment"}`),
		})

		Expect(processor.ProcessUnit(ctx, u)).To(Succeed())
		Expect(bedrockAPI.InvokeModelBehavior.Calls()).To(Equal(1))
		items := storedRecords()
		Expect(stringAttr(items[0], "impactAnalysis")).To(Equal("fresh assessment"))
		Expect(stringAttr(items[0], "analysisText")).To(ContainSubstring("fresh assessment"))
	})

	It("should resolve accounts for legacy messages without them", func() {
		u := unit()
		healthAPI.DescribeAffectedAccountsForOrganizationBehavior.Output.Set(&awshealth.DescribeAffectedAccountsForOrganizationOutput{
			AffectedAccounts: []string{"333333333333"},
		})
		Expect(processor.ProcessUnit(ctx, u)).To(Succeed())
		items := storedRecords()
		Expect(items).To(HaveLen(1))
		Expect(stringAttr(items[0], "accountId")).To(Equal("333333333333"))
	})

	It("should use the embedded account for pre-batching per-account messages", func() {
		u := unit()
		u.Event.AccountID = "444444444444"
		Expect(processor.ProcessUnit(ctx, u)).To(Succeed())
		Expect(healthAPI.DescribeAffectedAccountsForOrganizationBehavior.Calls()).To(BeZero())
		items := storedRecords()
		Expect(stringAttr(items[0], "accountId")).To(Equal("444444444444"))
	})

	It("should be idempotent across redeliveries", func() {
		healthAPI.DescribeAffectedEntitiesForOrganizationBehavior.Output.Set(entitiesPage(
			entity("111111111111", "i-abc", "IMPAIRED"),
		))
		Expect(processor.ProcessUnit(ctx, unit("111111111111"))).To(Succeed())
		first := storedRecords()

		Expect(processor.ProcessUnit(ctx, unit("111111111111"))).To(Succeed())
		second := storedRecords()

		Expect(second).To(HaveLen(2))
		Expect(second[1]).To(Equal(first[0]))
	})

	It("should fail on units without an event ARN", func() {
		u := unit("111111111111")
		u.Event.EventARN = ""
		Expect(processor.ProcessUnit(ctx, u)).ToNot(Succeed())
	})

	It("should surface storage failures for redelivery", func() {
		dynamodbAPI.BatchWriteItemBehavior.Error.Set(&dynamodbtypes.InternalServerError{})
		u := unit("111111111111")
		u.Event.StatusCode = "closed"
		Expect(processor.ProcessUnit(ctx, u)).ToNot(Succeed())
	})
})
