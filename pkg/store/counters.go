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

package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	dynamodbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"go.uber.org/zap"

	sdk "github.com/mannylee/cloudops-command-center/pkg/aws/sdk"
)

const (
	CounterActiveIssues   = "active_issues"
	CounterScheduled      = "scheduled"
	CounterNotifications  = "notifications"
	CounterBillingChanges = "billing_changes"
)

// CounterTypes lists every counter category carried on a counts row.
var CounterTypes = []string{CounterActiveIssues, CounterScheduled, CounterNotifications, CounterBillingChanges}

// CounterRow is one row of the counts table, keyed by accountId and carrying all four
// category counters.
type CounterRow struct {
	AccountID      string `dynamodbav:"accountId" json:"accountId"`
	ActiveIssues   int64  `dynamodbav:"active_issues" json:"active_issues"`
	Scheduled      int64  `dynamodbav:"scheduled" json:"scheduled"`
	Notifications  int64  `dynamodbav:"notifications" json:"notifications"`
	BillingChanges int64  `dynamodbav:"billing_changes" json:"billing_changes"`
	LastUpdated    string `dynamodbav:"lastUpdated" json:"lastUpdated"`
}

// Counts returns the row's counters keyed by category.
func (r CounterRow) Counts() map[string]int64 {
	return map[string]int64{
		CounterActiveIssues:   r.ActiveIssues,
		CounterScheduled:      r.Scheduled,
		CounterNotifications:  r.Notifications,
		CounterBillingChanges: r.BillingChanges,
	}
}

func rowFromCounts(accountID string, counts map[string]int64, now time.Time) CounterRow {
	return CounterRow{
		AccountID:      accountID,
		ActiveIssues:   counts[CounterActiveIssues],
		Scheduled:      counts[CounterScheduled],
		Notifications:  counts[CounterNotifications],
		BillingChanges: counts[CounterBillingChanges],
		LastUpdated:    now.UTC().Format(DateTimeLayout),
	}
}

// CounterStore maintains the per-account dashboard count rows.
type CounterStore struct {
	dynamodbAPI sdk.DynamoDBAPI
	tableName   string
	log         *zap.SugaredLogger
}

func NewCounterStore(dynamodbAPI sdk.DynamoDBAPI, tableName string, log *zap.SugaredLogger) *CounterStore {
	return &CounterStore{
		dynamodbAPI: dynamodbAPI,
		tableName:   tableName,
		log:         log.Named("counters"),
	}
}

// Get returns one account's counters, zeros when the row is absent.
func (c *CounterStore) Get(ctx context.Context, accountID string) (map[string]int64, error) {
	out, err := c.dynamodbAPI.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(c.tableName),
		Key: map[string]dynamodbtypes.AttributeValue{
			"accountId": &dynamodbtypes.AttributeValueMemberS{Value: accountID},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("getting counts for account %q, %w", accountID, err)
	}
	if out.Item == nil {
		return map[string]int64{}, nil
	}
	row := CounterRow{}
	if err := attributevalue.UnmarshalMap(out.Item, &row); err != nil {
		return nil, fmt.Errorf("unmarshaling counts row, %w", err)
	}
	return row.Counts(), nil
}

// ListAll returns every counts row, paginating the scan.
func (c *CounterStore) ListAll(ctx context.Context) ([]CounterRow, error) {
	var rows []CounterRow
	var startKey map[string]dynamodbtypes.AttributeValue
	for {
		out, err := c.dynamodbAPI.Scan(ctx, &dynamodb.ScanInput{
			TableName:         aws.String(c.tableName),
			ExclusiveStartKey: startKey,
		})
		if err != nil {
			return nil, fmt.Errorf("scanning counts table, %w", err)
		}
		for _, item := range out.Items {
			row := CounterRow{}
			if err := attributevalue.UnmarshalMap(item, &row); err != nil {
				return nil, fmt.Errorf("unmarshaling counts row, %w", err)
			}
			rows = append(rows, row)
		}
		if out.LastEvaluatedKey == nil {
			break
		}
		startKey = out.LastEvaluatedKey
	}
	return rows, nil
}

// Set overwrites an account's row with authoritative values. Missing categories write as zero.
func (c *CounterStore) Set(ctx context.Context, accountID string, counts map[string]int64, now time.Time) error {
	item, err := attributevalue.MarshalMap(rowFromCounts(accountID, counts, now))
	if err != nil {
		return fmt.Errorf("marshaling counts row, %w", err)
	}
	if _, err := c.dynamodbAPI.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(c.tableName),
		Item:      item,
	}); err != nil {
		return fmt.Errorf("setting counts for account %q, %w", accountID, err)
	}
	return nil
}

// Add applies a delta to one account's category counter. Decrements are guarded so a counter
// can never go below zero; a decrement that would underflow clamps the counter to zero instead.
func (c *CounterStore) Add(ctx context.Context, accountID string, category string, delta int64, now time.Time) error {
	if delta == 0 {
		return nil
	}
	input := &dynamodb.UpdateItemInput{
		TableName: aws.String(c.tableName),
		Key: map[string]dynamodbtypes.AttributeValue{
			"accountId": &dynamodbtypes.AttributeValueMemberS{Value: accountID},
		},
		UpdateExpression: aws.String("SET lastUpdated = :now ADD #category :delta"),
		ExpressionAttributeNames: map[string]string{
			"#category": category,
		},
		ExpressionAttributeValues: map[string]dynamodbtypes.AttributeValue{
			":delta": &dynamodbtypes.AttributeValueMemberN{Value: strconv.FormatInt(delta, 10)},
			":now":   &dynamodbtypes.AttributeValueMemberS{Value: now.UTC().Format(DateTimeLayout)},
		},
	}
	if delta < 0 {
		input.ConditionExpression = aws.String("#category >= :abs")
		input.ExpressionAttributeValues[":abs"] = &dynamodbtypes.AttributeValueMemberN{Value: strconv.FormatInt(-delta, 10)}
	}
	if _, err := c.dynamodbAPI.UpdateItem(ctx, input); err != nil {
		if delta < 0 && isConditionalCheckFailed(err) {
			c.log.Warnw("counter decrement would underflow, clamping to zero",
				"account", accountID, "counter", category, "delta", delta)
			return c.clampZero(ctx, accountID, category, now)
		}
		return fmt.Errorf("updating counter %q for account %q, %w", category, accountID, err)
	}
	return nil
}

func (c *CounterStore) clampZero(ctx context.Context, accountID string, category string, now time.Time) error {
	if _, err := c.dynamodbAPI.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(c.tableName),
		Key: map[string]dynamodbtypes.AttributeValue{
			"accountId": &dynamodbtypes.AttributeValueMemberS{Value: accountID},
		},
		UpdateExpression: aws.String("SET #category = :zero, lastUpdated = :now"),
		ExpressionAttributeNames: map[string]string{
			"#category": category,
		},
		ExpressionAttributeValues: map[string]dynamodbtypes.AttributeValue{
			":zero": &dynamodbtypes.AttributeValueMemberN{Value: "0"},
			":now":  &dynamodbtypes.AttributeValueMemberS{Value: now.UTC().Format(DateTimeLayout)},
		},
	}); err != nil {
		return fmt.Errorf("clamping counter %q for account %q, %w", category, accountID, err)
	}
	return nil
}

func isConditionalCheckFailed(err error) bool {
	var ccf *dynamodbtypes.ConditionalCheckFailedException
	return errors.As(err, &ccf)
}
