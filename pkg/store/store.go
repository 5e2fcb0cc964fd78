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
	"fmt"

	"github.com/avast/retry-go"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	dynamodbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/samber/lo"
	"go.uber.org/zap"

	sdk "github.com/mannylee/cloudops-command-center/pkg/aws/sdk"
)

// batchWriteLimit is the upstream cap on items per BatchWriteItem call.
const batchWriteLimit = 25

// Store persists event records, keyed by (eventArn, accountId).
type Store struct {
	dynamodbAPI sdk.DynamoDBAPI
	tableName   string
	log         *zap.SugaredLogger
}

func NewStore(dynamodbAPI sdk.DynamoDBAPI, tableName string, log *zap.SugaredLogger) *Store {
	return &Store{
		dynamodbAPI: dynamodbAPI,
		tableName:   tableName,
		log:         log.Named("store"),
	}
}

func (s *Store) Upsert(ctx context.Context, record Record) error {
	item, err := attributevalue.MarshalMap(record)
	if err != nil {
		return fmt.Errorf("marshaling record, %w", err)
	}
	if _, err := s.dynamodbAPI.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.tableName),
		Item:      item,
	}); err != nil {
		return fmt.Errorf("putting record for %q/%q, %w", record.EventARN, record.AccountID, err)
	}
	return nil
}

// BatchUpsert writes records in chunks, retrying unprocessed items with backoff. A batch that
// still has unprocessed items after retries exhausts fails so the message is redelivered.
func (s *Store) BatchUpsert(ctx context.Context, records []Record) error {
	for _, chunk := range lo.Chunk(records, batchWriteLimit) {
		requests := make([]dynamodbtypes.WriteRequest, 0, len(chunk))
		for _, record := range chunk {
			item, err := attributevalue.MarshalMap(record)
			if err != nil {
				return fmt.Errorf("marshaling record, %w", err)
			}
			requests = append(requests, dynamodbtypes.WriteRequest{
				PutRequest: &dynamodbtypes.PutRequest{Item: item},
			})
		}
		pending := map[string][]dynamodbtypes.WriteRequest{s.tableName: requests}
		if err := retry.Do(func() error {
			out, err := s.dynamodbAPI.BatchWriteItem(ctx, &dynamodb.BatchWriteItemInput{
				RequestItems: pending,
			})
			if err != nil {
				return retry.Unrecoverable(err)
			}
			if len(out.UnprocessedItems[s.tableName]) > 0 {
				pending = map[string][]dynamodbtypes.WriteRequest{s.tableName: out.UnprocessedItems[s.tableName]}
				return fmt.Errorf("%d items unprocessed", len(out.UnprocessedItems[s.tableName]))
			}
			return nil
		}, retry.Attempts(4), retry.LastErrorOnly(true)); err != nil {
			return fmt.Errorf("batch writing records, %w", err)
		}
	}
	return nil
}

// Get returns the record for the key, or nil when absent.
func (s *Store) Get(ctx context.Context, eventARN string, accountID string) (*Record, error) {
	out, err := s.dynamodbAPI.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]dynamodbtypes.AttributeValue{
			"eventArn":  &dynamodbtypes.AttributeValueMemberS{Value: eventARN},
			"accountId": &dynamodbtypes.AttributeValueMemberS{Value: accountID},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("getting record for %q/%q, %w", eventARN, accountID, err)
	}
	if out.Item == nil {
		return nil, nil
	}
	record := &Record{}
	if err := attributevalue.UnmarshalMap(out.Item, record); err != nil {
		return nil, fmt.Errorf("unmarshaling record, %w", err)
	}
	return record, nil
}

// ListByEvent returns every account row stored for the event.
func (s *Store) ListByEvent(ctx context.Context, eventARN string) ([]Record, error) {
	var records []Record
	var startKey map[string]dynamodbtypes.AttributeValue
	for {
		out, err := s.dynamodbAPI.Query(ctx, &dynamodb.QueryInput{
			TableName:              aws.String(s.tableName),
			KeyConditionExpression: aws.String("eventArn = :arn"),
			ExpressionAttributeValues: map[string]dynamodbtypes.AttributeValue{
				":arn": &dynamodbtypes.AttributeValueMemberS{Value: eventARN},
			},
			ExclusiveStartKey: startKey,
		})
		if err != nil {
			return nil, fmt.Errorf("querying records for %q, %w", eventARN, err)
		}
		page := make([]Record, len(out.Items))
		if err := attributevalue.UnmarshalListOfMaps(out.Items, &page); err != nil {
			return nil, fmt.Errorf("unmarshaling records, %w", err)
		}
		records = append(records, page...)
		startKey = out.LastEvaluatedKey
		if startKey == nil {
			return records, nil
		}
	}
}

// FindAssessed returns a row for the event that already carries a model assessment, or nil.
// Used to reuse assessments across account batches of the same event.
func (s *Store) FindAssessed(ctx context.Context, eventARN string) (*Record, error) {
	records, err := s.ListByEvent(ctx, eventARN)
	if err != nil {
		return nil, err
	}
	for i := range records {
		if records[i].ImpactAnalysis != "" {
			return &records[i], nil
		}
	}
	return nil, nil
}

// categoryTimeIndex is the global secondary index keyed by (eventTypeCategory, lastUpdateTime).
const categoryTimeIndex = "CategoryTimeIndex"

// ListByCategory returns the rows of one feed category updated on or after sinceDate, newest
// first. Closed rows and billing events are excluded; billing has its own listing.
func (s *Store) ListByCategory(ctx context.Context, category string, sinceDate string) ([]Record, error) {
	var records []Record
	var startKey map[string]dynamodbtypes.AttributeValue
	for {
		out, err := s.dynamodbAPI.Query(ctx, &dynamodb.QueryInput{
			TableName:              aws.String(s.tableName),
			IndexName:              aws.String(categoryTimeIndex),
			KeyConditionExpression: aws.String("eventTypeCategory = :category AND lastUpdateTime >= :since"),
			FilterExpression:       aws.String("statusCode <> :closed AND #svc <> :billing"),
			// "service" is a DynamoDB reserved word.
			ExpressionAttributeNames: map[string]string{"#svc": "service"},
			ExpressionAttributeValues: map[string]dynamodbtypes.AttributeValue{
				":category": &dynamodbtypes.AttributeValueMemberS{Value: category},
				":since":    &dynamodbtypes.AttributeValueMemberS{Value: sinceDate},
				":closed":   &dynamodbtypes.AttributeValueMemberS{Value: StatusClosed},
				":billing":  &dynamodbtypes.AttributeValueMemberS{Value: "BILLING"},
			},
			ScanIndexForward:  aws.Bool(false),
			ExclusiveStartKey: startKey,
		})
		if err != nil {
			return nil, fmt.Errorf("querying category %q, %w", category, err)
		}
		page := make([]Record, len(out.Items))
		if err := attributevalue.UnmarshalListOfMaps(out.Items, &page); err != nil {
			return nil, fmt.Errorf("unmarshaling records, %w", err)
		}
		records = append(records, page...)
		startKey = out.LastEvaluatedKey
		if startKey == nil {
			return records, nil
		}
	}
}

// ListBilling returns billing rows updated on or after sinceDate. Billing events span feed
// categories, so this filters a scan on the service field instead of using the category index.
func (s *Store) ListBilling(ctx context.Context, sinceDate string) ([]Record, error) {
	var records []Record
	var startKey map[string]dynamodbtypes.AttributeValue
	for {
		out, err := s.dynamodbAPI.Scan(ctx, &dynamodb.ScanInput{
			TableName:        aws.String(s.tableName),
			FilterExpression: aws.String("#svc = :billing AND statusCode <> :closed AND lastUpdateTime >= :since"),
			// "service" is a DynamoDB reserved word.
			ExpressionAttributeNames: map[string]string{"#svc": "service"},
			ExpressionAttributeValues: map[string]dynamodbtypes.AttributeValue{
				":billing": &dynamodbtypes.AttributeValueMemberS{Value: "BILLING"},
				":closed":  &dynamodbtypes.AttributeValueMemberS{Value: StatusClosed},
				":since":   &dynamodbtypes.AttributeValueMemberS{Value: sinceDate},
			},
			ExclusiveStartKey: startKey,
		})
		if err != nil {
			return nil, fmt.Errorf("scanning billing records, %w", err)
		}
		page := make([]Record, len(out.Items))
		if err := attributevalue.UnmarshalListOfMaps(out.Items, &page); err != nil {
			return nil, fmt.Errorf("unmarshaling records, %w", err)
		}
		records = append(records, page...)
		startKey = out.LastEvaluatedKey
		if startKey == nil {
			return records, nil
		}
	}
}

// ListByAccount returns every row stored for one account. The table is keyed by event, so
// this filters a scan; account listings are rare enough that no index is kept for them.
func (s *Store) ListByAccount(ctx context.Context, accountID string) ([]Record, error) {
	var records []Record
	var startKey map[string]dynamodbtypes.AttributeValue
	for {
		out, err := s.dynamodbAPI.Scan(ctx, &dynamodb.ScanInput{
			TableName:        aws.String(s.tableName),
			FilterExpression: aws.String("accountId = :account"),
			ExpressionAttributeValues: map[string]dynamodbtypes.AttributeValue{
				":account": &dynamodbtypes.AttributeValueMemberS{Value: accountID},
			},
			ExclusiveStartKey: startKey,
		})
		if err != nil {
			return nil, fmt.Errorf("scanning records for account %q, %w", accountID, err)
		}
		page := make([]Record, len(out.Items))
		if err := attributevalue.UnmarshalListOfMaps(out.Items, &page); err != nil {
			return nil, fmt.Errorf("unmarshaling records, %w", err)
		}
		records = append(records, page...)
		startKey = out.LastEvaluatedKey
		if startKey == nil {
			return records, nil
		}
	}
}

// ListAll scans the full table. Only the count recomputation and the read model use it.
func (s *Store) ListAll(ctx context.Context) ([]Record, error) {
	var records []Record
	var startKey map[string]dynamodbtypes.AttributeValue
	for {
		out, err := s.dynamodbAPI.Scan(ctx, &dynamodb.ScanInput{
			TableName:         aws.String(s.tableName),
			ExclusiveStartKey: startKey,
		})
		if err != nil {
			return nil, fmt.Errorf("scanning records, %w", err)
		}
		page := make([]Record, len(out.Items))
		if err := attributevalue.UnmarshalListOfMaps(out.Items, &page); err != nil {
			return nil, fmt.Errorf("unmarshaling records, %w", err)
		}
		records = append(records, page...)
		startKey = out.LastEvaluatedKey
		if startKey == nil {
			return records, nil
		}
	}
}
