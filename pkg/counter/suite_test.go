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

package counter_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	dynamodbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"go.uber.org/zap"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/mannylee/cloudops-command-center/pkg/counter"
	"github.com/mannylee/cloudops-command-center/pkg/fake"
	"github.com/mannylee/cloudops-command-center/pkg/store"
)

var ctx context.Context
var dynamodbAPI *fake.DynamoDBAPI
var materializer *counter.Materializer
var now time.Time

func TestCounter(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Counter")
}

var _ = BeforeEach(func() {
	ctx = context.Background()
	dynamodbAPI = &fake.DynamoDBAPI{}
	eventStore := store.NewStore(dynamodbAPI, "health-events", zap.NewNop().Sugar())
	counterStore := store.NewCounterStore(dynamodbAPI, "health-counts", zap.NewNop().Sugar())
	materializer = counter.NewMaterializer(eventStore, counterStore, zap.NewNop().Sugar())
	now = time.Date(2025, 3, 2, 11, 0, 0, 0, time.UTC)
})

func change(eventName, arn, account, service, category, oldStatus, newStatus string) store.ChangeRecord {
	attr := func(s string) store.StreamAttribute { v := s; return store.StreamAttribute{S: &v} }
	var c store.ChangeRecord
	c.EventName = eventName
	c.Change.Keys = map[string]store.StreamAttribute{
		"eventArn":  attr(arn),
		"accountId": attr(account),
	}
	image := func(status string) map[string]store.StreamAttribute {
		return map[string]store.StreamAttribute{
			"eventArn":          attr(arn),
			"accountId":         attr(account),
			"service":           attr(service),
			"eventTypeCategory": attr(category),
			"statusCode":        attr(status),
		}
	}
	if oldStatus != "" {
		c.Change.OldImage = image(oldStatus)
	}
	if newStatus != "" {
		c.Change.NewImage = image(newStatus)
	}
	return c
}

func storedRow(arn, account, service, category, status string) map[string]dynamodbtypes.AttributeValue {
	item, err := attributevalue.MarshalMap(store.Record{
		EventARN:          arn,
		AccountID:         account,
		Service:           service,
		EventTypeCategory: category,
		StatusCode:        status,
	})
	Expect(err).ToNot(HaveOccurred())
	return item
}

// seedRows sets the rows the events table currently holds for the event under change.
func seedRows(rows ...map[string]dynamodbtypes.AttributeValue) {
	dynamodbAPI.QueryBehavior.Output.Set(&dynamodb.QueryOutput{Items: rows})
}

// appliedDeltas reads the counter updates as "account/category" -> delta.
func appliedDeltas() map[string]string {
	deltas := map[string]string{}
	dynamodbAPI.UpdateItemBehavior.CalledWithInput.ForEach(func(input *dynamodb.UpdateItemInput) {
		account := input.Key["accountId"].(*dynamodbtypes.AttributeValueMemberS).Value
		category := input.ExpressionAttributeNames["#category"]
		deltas[account+"/"+category] = input.ExpressionAttributeValues[":delta"].(*dynamodbtypes.AttributeValueMemberN).Value
	})
	return deltas
}

var _ = Describe("ApplyChanges", func() {
	It("should increment the account's counter on inserts of active rows", func() {
		seedRows(storedRow("arn:a", "111111111111", "EC2", "issue", "open"))
		summary, err := materializer.ApplyChanges(ctx, []store.ChangeRecord{
			change(store.ChangeInsert, "arn:a", "111111111111", "EC2", "issue", "", "open"),
		}, now)
		Expect(err).ToNot(HaveOccurred())
		Expect(summary.CounterUpdates).To(Equal(1))
		Expect(summary.EventsUpdated).To(Equal(1))
		Expect(appliedDeltas()).To(HaveKeyWithValue("111111111111/"+store.CounterActiveIssues, "1"))
	})

	It("should not count inserts of closed rows", func() {
		seedRows(storedRow("arn:a", "111111111111", "EC2", "issue", "closed"))
		summary, err := materializer.ApplyChanges(ctx, []store.ChangeRecord{
			change(store.ChangeInsert, "arn:a", "111111111111", "EC2", "issue", "", "closed"),
		}, now)
		Expect(err).ToNot(HaveOccurred())
		Expect(summary.CounterUpdates).To(BeZero())
		Expect(dynamodbAPI.UpdateItemBehavior.Calls()).To(BeZero())
	})

	It("should decrement every account when the last open row closes", func() {
		seedRows(
			storedRow("arn:a", "111111111111", "EC2", "issue", "closed"),
			storedRow("arn:a", "222222222222", "EC2", "issue", "closed"),
		)
		summary, err := materializer.ApplyChanges(ctx, []store.ChangeRecord{
			change(store.ChangeModify, "arn:a", "111111111111", "EC2", "issue", "open", "closed"),
		}, now)
		Expect(err).ToNot(HaveOccurred())
		Expect(summary.CounterUpdates).To(Equal(2))
		Expect(appliedDeltas()).To(HaveKeyWithValue("111111111111/"+store.CounterActiveIssues, "-1"))
		Expect(appliedDeltas()).To(HaveKeyWithValue("222222222222/"+store.CounterActiveIssues, "-1"))
	})

	It("should leave counters alone while another account keeps the event open", func() {
		seedRows(
			storedRow("arn:a", "111111111111", "EC2", "issue", "closed"),
			storedRow("arn:a", "222222222222", "EC2", "issue", "open"),
		)
		summary, err := materializer.ApplyChanges(ctx, []store.ChangeRecord{
			change(store.ChangeModify, "arn:a", "111111111111", "EC2", "issue", "open", "closed"),
		}, now)
		Expect(err).ToNot(HaveOccurred())
		Expect(summary.CounterUpdates).To(BeZero())
		Expect(dynamodbAPI.UpdateItemBehavior.Calls()).To(BeZero())
	})

	It("should increment every account when a fully closed event reopens", func() {
		seedRows(
			storedRow("arn:a", "111111111111", "EC2", "issue", "open"),
			storedRow("arn:a", "222222222222", "EC2", "issue", "closed"),
		)
		_, err := materializer.ApplyChanges(ctx, []store.ChangeRecord{
			change(store.ChangeModify, "arn:a", "111111111111", "EC2", "issue", "closed", "open"),
		}, now)
		Expect(err).ToNot(HaveOccurred())
		Expect(appliedDeltas()).To(HaveKeyWithValue("111111111111/"+store.CounterActiveIssues, "1"))
		Expect(appliedDeltas()).To(HaveKeyWithValue("222222222222/"+store.CounterActiveIssues, "1"))
	})

	It("should ignore modifications that do not flip status", func() {
		seedRows(storedRow("arn:a", "111111111111", "EC2", "issue", "open"))
		summary, err := materializer.ApplyChanges(ctx, []store.ChangeRecord{
			change(store.ChangeModify, "arn:a", "111111111111", "EC2", "issue", "open", "open"),
		}, now)
		Expect(err).ToNot(HaveOccurred())
		Expect(summary.CounterUpdates).To(BeZero())
	})

	It("should decrement the expired account when its row leaves the table", func() {
		// the row is gone from the table; only the old image remains
		ttlRemoval := change(store.ChangeRemove, "arn:a", "111111111111", "EC2", "issue", "open", "")
		ttlRemoval.UserIdentity = &store.StreamUserIdentity{Type: "Service", PrincipalID: "dynamodb.amazonaws.com"}
		_, err := materializer.ApplyChanges(ctx, []store.ChangeRecord{ttlRemoval}, now)
		Expect(err).ToNot(HaveOccurred())
		Expect(appliedDeltas()).To(HaveKeyWithValue("111111111111/"+store.CounterActiveIssues, "-1"))

		var guarded bool
		dynamodbAPI.UpdateItemBehavior.CalledWithInput.ForEach(func(input *dynamodb.UpdateItemInput) {
			guarded = input.ConditionExpression != nil
		})
		Expect(guarded).To(BeTrue())
	})

	It("should net a burst of changes for one event into one delta per account", func() {
		seedRows(
			storedRow("arn:a", "111111111111", "EC2", "issue", "closed"),
			storedRow("arn:a", "222222222222", "EC2", "issue", "open"),
		)
		summary, err := materializer.ApplyChanges(ctx, []store.ChangeRecord{
			change(store.ChangeInsert, "arn:a", "111111111111", "EC2", "issue", "", "open"),
			change(store.ChangeInsert, "arn:a", "222222222222", "EC2", "issue", "", "open"),
			change(store.ChangeModify, "arn:a", "111111111111", "EC2", "issue", "open", "closed"),
		}, now)
		Expect(err).ToNot(HaveOccurred())
		Expect(summary.EventsUpdated).To(Equal(1))
		Expect(dynamodbAPI.UpdateItemBehavior.Calls()).To(Equal(2))
		Expect(appliedDeltas()).To(HaveKeyWithValue("111111111111/"+store.CounterActiveIssues, "1"))
		Expect(appliedDeltas()).To(HaveKeyWithValue("222222222222/"+store.CounterActiveIssues, "1"))
	})

	It("should route billing events to the billing counter regardless of category", func() {
		seedRows(storedRow("arn:b", "111111111111", "BILLING", "accountNotification", "open"))
		_, err := materializer.ApplyChanges(ctx, []store.ChangeRecord{
			change(store.ChangeInsert, "arn:b", "111111111111", "BILLING", "accountNotification", "", "open"),
		}, now)
		Expect(err).ToNot(HaveOccurred())
		Expect(appliedDeltas()).To(HaveKeyWithValue("111111111111/"+store.CounterBillingChanges, "1"))
	})
})

var _ = Describe("Recalculate", func() {
	countsRow := func(account string) map[string]dynamodbtypes.AttributeValue {
		item, err := attributevalue.MarshalMap(store.CounterRow{AccountID: account, ActiveIssues: 7})
		Expect(err).ToNot(HaveOccurred())
		return item
	}

	writtenRows := func() map[string]store.CounterRow {
		rows := map[string]store.CounterRow{}
		dynamodbAPI.PutItemBehavior.CalledWithInput.ForEach(func(input *dynamodb.PutItemInput) {
			row := store.CounterRow{}
			Expect(attributevalue.UnmarshalMap(input.Item, &row)).To(Succeed())
			rows[row.AccountID] = row
		})
		return rows
	}

	It("should count each event once per account and skip fully closed events", func() {
		dynamodbAPI.ScanBehavior.OutputSequence.Add(&dynamodb.ScanOutput{
			Items: []map[string]dynamodbtypes.AttributeValue{
				// one account open keeps the event counting for both accounts
				storedRow("arn:a", "111111111111", "EC2", "issue", "open"),
				storedRow("arn:a", "222222222222", "EC2", "issue", "closed"),
				// fully closed event counts for nobody
				storedRow("arn:b", "111111111111", "RDS", "scheduledChange", "closed"),
				storedRow("arn:c", "333333333333", "IAM", "accountNotification", "open"),
			},
		})
		dynamodbAPI.ScanBehavior.OutputSequence.Add(&dynamodb.ScanOutput{})

		summary, err := materializer.Recalculate(ctx, now)
		Expect(err).ToNot(HaveOccurred())
		Expect(summary.TotalEvents).To(Equal(3))
		Expect(summary.OpenEvents).To(Equal(2))
		Expect(summary.ClosedEvents).To(Equal(1))
		Expect(summary.AccountsUpdated).To(Equal(3))

		rows := writtenRows()
		Expect(rows["111111111111"].ActiveIssues).To(Equal(int64(1)))
		Expect(rows["111111111111"].Scheduled).To(BeZero())
		Expect(rows["222222222222"].ActiveIssues).To(Equal(int64(1)))
		Expect(rows["333333333333"].Notifications).To(Equal(int64(1)))
	})

	It("should overwrite stale counts rows with zeros", func() {
		dynamodbAPI.ScanBehavior.OutputSequence.Add(&dynamodb.ScanOutput{})
		dynamodbAPI.ScanBehavior.OutputSequence.Add(&dynamodb.ScanOutput{
			Items: []map[string]dynamodbtypes.AttributeValue{countsRow("444444444444")},
		})

		summary, err := materializer.Recalculate(ctx, now)
		Expect(err).ToNot(HaveOccurred())
		Expect(summary.AccountsUpdated).To(Equal(1))

		rows := writtenRows()
		Expect(rows).To(HaveLen(1))
		for _, category := range store.CounterTypes {
			Expect(rows["444444444444"].Counts()[category]).To(BeZero(), fmt.Sprintf("category %s", category))
		}
	})
})
