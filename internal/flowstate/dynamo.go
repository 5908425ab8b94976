package flowstate

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

type dynamoAPI interface {
	PutItem(context.Context, *dynamodb.PutItemInput, ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItem(context.Context, *dynamodb.GetItemInput, ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	DeleteItem(context.Context, *dynamodb.DeleteItemInput, ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
}

type dynamoRecord struct {
	PK        string `dynamodbav:"pk"`
	ClinicID  string `dynamodbav:"clinicId"`
	Phone     string `dynamodbav:"phone"`
	Step      Step   `dynamodbav:"step"`
	Data      Data   `dynamodbav:"data"`
	UpdatedAt string `dynamodbav:"updatedAt"`
	ExpiresAt int64  `dynamodbav:"expiresAt"`
}

// DynamoStore keeps one item per key with a TTL attribute. PutItem is a
// whole-item overwrite.
type DynamoStore struct {
	client    dynamoAPI
	tableName string
	ttl       time.Duration
	now       func() time.Time
}

var _ Store = (*DynamoStore)(nil)

func NewDynamoStore(client dynamoAPI, tableName string, ttl time.Duration) *DynamoStore {
	if client == nil {
		panic("flowstate: dynamodb client cannot be nil")
	}
	if tableName == "" {
		panic("flowstate: table name cannot be empty")
	}
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &DynamoStore{client: client, tableName: tableName, ttl: ttl, now: time.Now}
}

func (s *DynamoStore) Get(ctx context.Context, key Key) (*State, error) {
	if err := key.validate(); err != nil {
		return nil, err
	}
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.tableName),
		Key:            s.itemKey(key),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("flowstate: dynamodb get %s: %w", key, err)
	}
	if len(out.Item) == 0 {
		return nil, nil
	}
	var rec dynamoRecord
	if err := attributevalue.UnmarshalMap(out.Item, &rec); err != nil {
		return nil, fmt.Errorf("flowstate: decode %s: %w", key, err)
	}
	// TTL deletion in DynamoDB is lazy.
	if rec.ExpiresAt > 0 && rec.ExpiresAt <= s.now().Unix() {
		return nil, nil
	}
	updated, _ := time.Parse(time.RFC3339Nano, rec.UpdatedAt)
	return &State{
		ClinicID:  rec.ClinicID,
		Phone:     rec.Phone,
		Step:      rec.Step,
		Data:      rec.Data,
		UpdatedAt: updated,
	}, nil
}

func (s *DynamoStore) Set(ctx context.Context, key Key, state *State) error {
	if err := validateWrite(key, state); err != nil {
		return err
	}
	now := s.now()
	rec := dynamoRecord{
		PK:        key.String(),
		ClinicID:  key.ClinicID,
		Phone:     key.Phone,
		Step:      state.Step,
		Data:      state.Data,
		UpdatedAt: state.UpdatedAt.UTC().Format(time.RFC3339Nano),
		ExpiresAt: now.Add(s.ttl).Unix(),
	}
	item, err := attributevalue.MarshalMap(rec)
	if err != nil {
		return fmt.Errorf("flowstate: marshal %s: %w", key, err)
	}
	if _, err := s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.tableName),
		Item:      item,
	}); err != nil {
		return fmt.Errorf("flowstate: dynamodb put %s: %w", key, err)
	}
	return nil
}

func (s *DynamoStore) Clear(ctx context.Context, key Key) error {
	if err := key.validate(); err != nil {
		return err
	}
	if _, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(s.tableName),
		Key:       s.itemKey(key),
	}); err != nil {
		return fmt.Errorf("flowstate: dynamodb delete %s: %w", key, err)
	}
	return nil
}

func (s *DynamoStore) itemKey(key Key) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"pk": &types.AttributeValueMemberS{Value: key.String()},
	}
}
