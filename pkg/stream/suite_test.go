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

package stream_test

import (
	"context"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	dynamodbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"go.uber.org/zap"
	clocktesting "k8s.io/utils/clock/testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/mannylee/cloudops-command-center/pkg/counter"
	"github.com/mannylee/cloudops-command-center/pkg/fake"
	"github.com/mannylee/cloudops-command-center/pkg/store"
	"github.com/mannylee/cloudops-command-center/pkg/stream"
)

var ctx context.Context
var dynamodbAPI *fake.DynamoDBAPI
var reactor *stream.Reactor

func TestStream(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Stream")
}

var _ = BeforeEach(func() {
	ctx = context.Background()
	dynamodbAPI = &fake.DynamoDBAPI{}
	eventStore := store.NewStore(dynamodbAPI, "health-events", zap.NewNop().Sugar())
	counterStore := store.NewCounterStore(dynamodbAPI, "health-counts", zap.NewNop().Sugar())
	materializer := counter.NewMaterializer(eventStore, counterStore, zap.NewNop().Sugar())
	fakeClock := clocktesting.NewFakeClock(time.Date(2025, 3, 2, 11, 0, 0, 0, time.UTC))
	reactor = stream.NewReactor(materializer, fakeClock, zap.NewNop().Sugar())
})

func changeRecord(eventName, arn, account, oldStatus, newStatus string) store.ChangeRecord {
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
			"service":           attr("EC2"),
			"eventTypeCategory": attr("issue"),
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

var _ = Describe("Relevant", func() {
	It("should keep inserts", func() {
		Expect(stream.Relevant(changeRecord(store.ChangeInsert, "arn:a", "111111111111", "", "open"))).To(BeTrue())
	})
	It("should keep only status-flipping modifications", func() {
		Expect(stream.Relevant(changeRecord(store.ChangeModify, "arn:a", "111111111111", "open", "closed"))).To(BeTrue())
		Expect(stream.Relevant(changeRecord(store.ChangeModify, "arn:a", "111111111111", "open", "open"))).To(BeFalse())
	})
	It("should keep only expiry removals", func() {
		ttl := changeRecord(store.ChangeRemove, "arn:a", "111111111111", "open", "")
		ttl.UserIdentity = &store.StreamUserIdentity{PrincipalID: "dynamodb.amazonaws.com"}
		Expect(stream.Relevant(ttl)).To(BeTrue())
		Expect(stream.Relevant(changeRecord(store.ChangeRemove, "arn:a", "111111111111", "open", ""))).To(BeFalse())
	})
})

var _ = Describe("HandleChanges", func() {
	It("should report the full batch size while updating from the relevant subset", func() {
		row, err := attributevalue.MarshalMap(store.Record{
			EventARN:          "arn:a",
			AccountID:         "111111111111",
			Service:           "EC2",
			EventTypeCategory: "issue",
			StatusCode:        "open",
		})
		Expect(err).ToNot(HaveOccurred())
		dynamodbAPI.QueryBehavior.Output.Set(&dynamodb.QueryOutput{
			Items: []map[string]dynamodbtypes.AttributeValue{row},
		})

		ttl := changeRecord(store.ChangeRemove, "arn:b", "222222222222", "open", "")
		ttl.UserIdentity = &store.StreamUserIdentity{PrincipalID: "dynamodb.amazonaws.com"}
		summary, err := reactor.HandleChanges(ctx, []store.ChangeRecord{
			changeRecord(store.ChangeInsert, "arn:a", "111111111111", "", "open"),
			changeRecord(store.ChangeModify, "arn:a", "111111111111", "open", "open"), // irrelevant
			ttl,
		})
		Expect(err).ToNot(HaveOccurred())
		Expect(summary.Processed).To(Equal(3))
		Expect(summary.EventsUpdated).To(Equal(2))
		Expect(summary.CounterUpdates).To(Equal(2))
	})

	It("should apply nothing for an irrelevant batch", func() {
		summary, err := reactor.HandleChanges(ctx, []store.ChangeRecord{
			changeRecord(store.ChangeModify, "arn:a", "111111111111", "open", "open"),
		})
		Expect(err).ToNot(HaveOccurred())
		Expect(summary.Processed).To(Equal(1))
		Expect(summary.CounterUpdates).To(BeZero())
	})
})
