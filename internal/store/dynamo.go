package store

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/rs/zerolog/log"

	"github.com/cowbook/cowbook-api/internal/tracking"
)

const (
	pkPrefix = "RUN#"
	skMeta   = "META"
)

// DynamoAPI is the subset of the DynamoDB client the store uses.
type DynamoAPI interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
}

// DynamoStore implements RunStore on a single table.
type DynamoStore struct {
	client    DynamoAPI
	tableName string
	now       func() time.Time
}

var (
	_ RunStore      = (*DynamoStore)(nil)
	_ tracking.Sink = (*DynamoStore)(nil)
)

// NewDynamoStore creates a DynamoStore for the given table.
func NewDynamoStore(client DynamoAPI, tableName string) *DynamoStore {
	return &DynamoStore{client: client, tableName: tableName, now: time.Now}
}

func runPK(runID string) string {
	return pkPrefix + runID
}

func (s *DynamoStore) key(runID string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: runPK(runID)},
		"SK": &types.AttributeValueMemberS{Value: skMeta},
	}
}

// PutRun writes rec with key and TTL attributes, replacing any existing item.
func (s *DynamoStore) PutRun(ctx context.Context, rec RunRecord) error {
	item, err := attributevalue.MarshalMap(rec)
	if err != nil {
		return fmt.Errorf("marshal run %s: %w", rec.RunID, err)
	}
	for k, v := range s.key(rec.RunID) {
		item[k] = v
	}
	expires := s.now().Add(RunTTL).Unix()
	item["expiresAt"] = &types.AttributeValueMemberN{Value: strconv.FormatInt(expires, 10)}

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.tableName),
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("PutItem PK=%s SK=%s: %w", runPK(rec.RunID), skMeta, err)
	}
	log.Debug().Str("runId", rec.RunID).Str("table", s.tableName).Msg("Run record stored")
	return nil
}

// GetRun reads a run record. Items past their TTL that DynamoDB has not
// yet deleted are treated as missing.
func (s *DynamoStore) GetRun(ctx context.Context, runID string) (*RunRecord, error) {
	result, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.tableName),
		Key:       s.key(runID),
	})
	if err != nil {
		return nil, fmt.Errorf("GetItem PK=%s SK=%s: %w", runPK(runID), skMeta, err)
	}
	if result.Item == nil {
		return nil, nil
	}
	if ttl, ok := result.Item["expiresAt"].(*types.AttributeValueMemberN); ok {
		if exp, err := strconv.ParseInt(ttl.Value, 10, 64); err == nil && exp < s.now().Unix() {
			return nil, nil
		}
	}

	var rec RunRecord
	if err := attributevalue.UnmarshalMap(result.Item, &rec); err != nil {
		return nil, fmt.Errorf("unmarshal PK=%s SK=%s: %w", runPK(runID), skMeta, err)
	}
	return &rec, nil
}

// RunFinished stores the run's record.
func (s *DynamoStore) RunFinished(ctx context.Context, run *tracking.Run) error {
	return s.PutRun(ctx, RecordFromRun(run))
}
