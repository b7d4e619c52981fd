package storage

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/peteski22/samaysync/internal/cursor"
)

const (
	attrBucketID            = "bucket_id"
	attrCreatedAt           = "created_at"
	attrLastError           = "last_error"
	attrLastSyncedEventID   = "last_synced_event_id"
	attrLastSyncedTimestamp = "last_synced_timestamp"
	attrStatus              = "status"
	attrTotalEventsSynced   = "total_events_synced"
	attrUpdatedAt           = "updated_at"
)

// DynamoDBAPI defines the DynamoDB operations used by the cursor backend.
type DynamoDBAPI interface {
	// DeleteItem removes an item from DynamoDB.
	DeleteItem(
		ctx context.Context,
		params *dynamodb.DeleteItemInput,
		optFns ...func(*dynamodb.Options),
	) (*dynamodb.DeleteItemOutput, error)

	// PutItem stores an item in DynamoDB.
	PutItem(
		ctx context.Context,
		params *dynamodb.PutItemInput,
		optFns ...func(*dynamodb.Options),
	) (*dynamodb.PutItemOutput, error)

	// Scan reads every item in a table, one page at a time.
	Scan(
		ctx context.Context,
		params *dynamodb.ScanInput,
		optFns ...func(*dynamodb.Options),
	) (*dynamodb.ScanOutput, error)
}

// DynamoDBCursorBackend stores one item per bucket, keyed by bucket_id.
// Every write is conditional so the stored position can never move backwards
// or be cleared, even with several writers.
type DynamoDBCursorBackend struct {
	// client is the DynamoDB API client.
	client DynamoDBAPI

	// tableName is the name of the DynamoDB table.
	tableName string
}

// NewDynamoDBCursorBackend creates a new DynamoDB-backed cursor backend.
func NewDynamoDBCursorBackend(client DynamoDBAPI, tableName string) (*DynamoDBCursorBackend, error) {
	if client == nil {
		return nil, errors.New("dynamodb client is required")
	}
	if tableName == "" {
		return nil, errors.New("table name is required")
	}

	return &DynamoDBCursorBackend{
		client:    client,
		tableName: tableName,
	}, nil
}

// Load scans the table and decodes every cursor item.
func (d *DynamoDBCursorBackend) Load(ctx context.Context) (map[string]cursor.Cursor, error) {
	cursors := make(map[string]cursor.Cursor)

	var startKey map[string]types.AttributeValue
	for {
		output, err := d.client.Scan(ctx, &dynamodb.ScanInput{
			ConsistentRead:    aws.Bool(true),
			ExclusiveStartKey: startKey,
			TableName:         aws.String(d.tableName),
		})
		if err != nil {
			return nil, fmt.Errorf("scanning DynamoDB: %w", err)
		}

		for _, item := range output.Items {
			c, err := parseCursorItem(item)
			if err != nil {
				return nil, fmt.Errorf("parsing item: %w", err)
			}
			cursors[c.BucketID] = c
		}

		if len(output.LastEvaluatedKey) == 0 {
			break
		}
		startKey = output.LastEvaluatedKey
	}

	return cursors, nil
}

// Put writes the cursor item. It returns cursor.ErrCursorRegression if the
// stored position is ahead of c's, or if c is unpositioned and a position is stored.
func (d *DynamoDBCursorBackend) Put(ctx context.Context, c cursor.Cursor) error {
	if c.BucketID == "" {
		return errors.New("bucket ID is required")
	}

	input := &dynamodb.PutItemInput{
		Item:      cursorItem(c),
		TableName: aws.String(d.tableName),
	}

	input.ExpressionAttributeNames = map[string]string{
		"#id": attrLastSyncedEventID,
	}
	if c.LastSyncedEventID != nil {
		input.ConditionExpression = aws.String("attribute_not_exists(#id) OR #id <= :id")
		input.ExpressionAttributeValues = map[string]types.AttributeValue{
			":id": &types.AttributeValueMemberN{Value: strconv.FormatInt(*c.LastSyncedEventID, 10)},
		}
	} else {
		// An unpositioned write must not erase a position stored by another writer.
		input.ConditionExpression = aws.String("attribute_not_exists(#id)")
	}

	_, err := d.client.PutItem(ctx, input)
	if err != nil {
		var condErr *types.ConditionalCheckFailedException
		if errors.As(err, &condErr) {
			return fmt.Errorf("%w: stored position is ahead for bucket %s", cursor.ErrCursorRegression, c.BucketID)
		}
		return fmt.Errorf("putting item to DynamoDB: %w", err)
	}

	return nil
}

// Delete removes the cursor item. A missing item is not an error.
func (d *DynamoDBCursorBackend) Delete(ctx context.Context, bucketID string) error {
	_, err := d.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		Key: map[string]types.AttributeValue{
			attrBucketID: &types.AttributeValueMemberS{Value: bucketID},
		},
		TableName: aws.String(d.tableName),
	})
	if err != nil {
		return fmt.Errorf("deleting item from DynamoDB: %w", err)
	}

	return nil
}

// cursorItem encodes c as a DynamoDB item.
func cursorItem(c cursor.Cursor) map[string]types.AttributeValue {
	item := map[string]types.AttributeValue{
		attrBucketID:          &types.AttributeValueMemberS{Value: c.BucketID},
		attrCreatedAt:         &types.AttributeValueMemberS{Value: c.CreatedAt.Format(time.RFC3339Nano)},
		attrStatus:            &types.AttributeValueMemberS{Value: string(c.Status)},
		attrTotalEventsSynced: &types.AttributeValueMemberN{Value: strconv.FormatInt(c.TotalEventsSynced, 10)},
		attrUpdatedAt:         &types.AttributeValueMemberS{Value: c.UpdatedAt.Format(time.RFC3339Nano)},
	}

	if c.LastError != "" {
		item[attrLastError] = &types.AttributeValueMemberS{Value: c.LastError}
	}
	if c.LastSyncedEventID != nil {
		item[attrLastSyncedEventID] = &types.AttributeValueMemberN{Value: strconv.FormatInt(*c.LastSyncedEventID, 10)}
	}
	if c.LastSyncedTimestamp != nil {
		item[attrLastSyncedTimestamp] = &types.AttributeValueMemberS{Value: c.LastSyncedTimestamp.Format(time.RFC3339Nano)}
	}

	return item
}

// parseCursorItem decodes a DynamoDB item into a cursor.
func parseCursorItem(item map[string]types.AttributeValue) (cursor.Cursor, error) {
	c := cursor.Cursor{}

	v, ok := item[attrBucketID].(*types.AttributeValueMemberS)
	if !ok || v.Value == "" {
		return c, errors.New("missing bucket_id")
	}
	c.BucketID = v.Value

	if v, ok := item[attrStatus].(*types.AttributeValueMemberS); ok {
		c.Status = cursor.Status(v.Value)
	}
	if v, ok := item[attrLastError].(*types.AttributeValueMemberS); ok {
		c.LastError = v.Value
	}
	if v, ok := item[attrTotalEventsSynced].(*types.AttributeValueMemberN); ok {
		n, err := strconv.ParseInt(v.Value, 10, 64)
		if err != nil {
			return c, fmt.Errorf("parsing total_events_synced: %w", err)
		}
		c.TotalEventsSynced = n
	}
	if v, ok := item[attrLastSyncedEventID].(*types.AttributeValueMemberN); ok {
		n, err := strconv.ParseInt(v.Value, 10, 64)
		if err != nil {
			return c, fmt.Errorf("parsing last_synced_event_id: %w", err)
		}
		c.LastSyncedEventID = &n
	}

	for name, dst := range map[string]*time.Time{
		attrCreatedAt: &c.CreatedAt,
		attrUpdatedAt: &c.UpdatedAt,
	} {
		if v, ok := item[name].(*types.AttributeValueMemberS); ok {
			t, err := time.Parse(time.RFC3339Nano, v.Value)
			if err != nil {
				return c, fmt.Errorf("parsing %s: %w", name, err)
			}
			*dst = t
		}
	}

	if v, ok := item[attrLastSyncedTimestamp].(*types.AttributeValueMemberS); ok {
		t, err := time.Parse(time.RFC3339Nano, v.Value)
		if err != nil {
			return c, fmt.Errorf("parsing last_synced_timestamp: %w", err)
		}
		c.LastSyncedTimestamp = &t
	}

	if c.Status == "" {
		c.Status = cursor.StatusNever
	}

	return c, nil
}
