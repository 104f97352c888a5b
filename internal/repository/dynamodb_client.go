package repository

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"chat-relay/internal/domain"
)

const (
	skPrefixUsage = "USAGE#"
	ttlDuration   = 30 * 24 * time.Hour // 30-day TTL
)

// dynamodbAPI is the minimal DynamoDB interface required by Client.
// Defined here for testability.
type dynamodbAPI interface {
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

// Client wraps a DynamoDB table holding the usage ledger.
type Client struct {
	api       dynamodbAPI
	tableName string
	now       func() time.Time
}

// New creates a new repository Client.
func New(api dynamodbAPI, tableName string) (*Client, error) {
	if api == nil {
		return nil, errors.New("repository: api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("repository: table name must not be empty")
	}
	return &Client{api: api, tableName: tableName, now: time.Now}, nil
}

// requestPK returns the partition key for a relayed request.
func requestPK(requestID string) string {
	return "REQ#" + requestID
}

func usageSK(ts time.Time) string {
	return skPrefixUsage + ts.UTC().Format(time.RFC3339Nano)
}

// RecordUsage writes one ledger item. CreatedAt and TTL are filled in when zero.
func (c *Client) RecordUsage(ctx context.Context, rec domain.UsageRecord) error {
	if strings.TrimSpace(rec.RequestID) == "" {
		return errors.New("repository: RecordUsage: request id is required")
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = c.now()
	}
	if rec.TTL == 0 {
		rec.TTL = rec.CreatedAt.Add(ttlDuration).Unix()
	}

	_, err := c.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(c.tableName),
		Item:                usageItem(rec),
		ConditionExpression: aws.String("attribute_not_exists(PK) AND attribute_not_exists(SK)"),
	})
	if err != nil {
		return fmt.Errorf("repository: RecordUsage: %w", err)
	}
	return nil
}

// GetUsage returns the ledger items for one request id, oldest first.
func (c *Client) GetUsage(ctx context.Context, requestID string) ([]domain.UsageRecord, error) {
	out, err := c.api.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(c.tableName),
		KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :prefix)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk":     &types.AttributeValueMemberS{Value: requestPK(requestID)},
			":prefix": &types.AttributeValueMemberS{Value: skPrefixUsage},
		},
		ScanIndexForward: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("repository: GetUsage query: %w", err)
	}

	recs := make([]domain.UsageRecord, 0, len(out.Items))
	for _, item := range out.Items {
		rec, err := itemToUsage(item)
		if err != nil {
			return nil, fmt.Errorf("repository: GetUsage unmarshal: %w", err)
		}
		recs = append(recs, rec)
	}
	return recs, nil
}

func usageItem(rec domain.UsageRecord) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK":           &types.AttributeValueMemberS{Value: requestPK(rec.RequestID)},
		"SK":           &types.AttributeValueMemberS{Value: usageSK(rec.CreatedAt)},
		"requestId":    &types.AttributeValueMemberS{Value: rec.RequestID},
		"model":        &types.AttributeValueMemberS{Value: rec.Model},
		"maxTokens":    numAttr(int64(rec.MaxTokens)),
		"messageCount": numAttr(int64(rec.MessageCount)),
		"inputTokens":  numAttr(rec.InputTokens),
		"outputTokens": numAttr(rec.OutputTokens),
		"outcome":      &types.AttributeValueMemberS{Value: rec.Outcome},
		"latencyMs":    numAttr(rec.LatencyMs),
		"createdAt":    &types.AttributeValueMemberS{Value: rec.CreatedAt.UTC().Format(time.RFC3339Nano)},
		"ttl":          numAttr(rec.TTL),
	}
}

func itemToUsage(item map[string]types.AttributeValue) (domain.UsageRecord, error) {
	requestID, err := strAttr(item, "requestId")
	if err != nil {
		return domain.UsageRecord{}, err
	}
	createdRaw, err := strAttr(item, "createdAt")
	if err != nil {
		return domain.UsageRecord{}, err
	}
	created, err := time.Parse(time.RFC3339Nano, createdRaw)
	if err != nil {
		return domain.UsageRecord{}, fmt.Errorf("repository: parse attribute %q: %w", "createdAt", err)
	}
	model, _ := strAttr(item, "model")     // allow empty
	outcome, _ := strAttr(item, "outcome") // allow empty

	rec := domain.UsageRecord{
		RequestID: requestID,
		Model:     model,
		Outcome:   outcome,
		CreatedAt: created,
	}
	nums := []struct {
		key string
		dst *int64
	}{
		{"inputTokens", &rec.InputTokens},
		{"outputTokens", &rec.OutputTokens},
		{"latencyMs", &rec.LatencyMs},
		{"ttl", &rec.TTL},
	}
	for _, n := range nums {
		if *n.dst, err = intAttr(item, n.key); err != nil {
			return domain.UsageRecord{}, err
		}
	}
	maxTokens, err := intAttr(item, "maxTokens")
	if err != nil {
		return domain.UsageRecord{}, err
	}
	count, err := intAttr(item, "messageCount")
	if err != nil {
		return domain.UsageRecord{}, err
	}
	rec.MaxTokens = int(maxTokens)
	rec.MessageCount = int(count)
	return rec, nil
}

func numAttr(n int64) *types.AttributeValueMemberN {
	return &types.AttributeValueMemberN{Value: strconv.FormatInt(n, 10)}
}

func strAttr(item map[string]types.AttributeValue, key string) (string, error) {
	v, ok := item[key]
	if !ok {
		return "", fmt.Errorf("repository: missing attribute %q", key)
	}
	s, ok := v.(*types.AttributeValueMemberS)
	if !ok {
		return "", fmt.Errorf("repository: attribute %q is not a string", key)
	}
	return s.Value, nil
}

func intAttr(item map[string]types.AttributeValue, key string) (int64, error) {
	v, ok := item[key]
	if !ok {
		return 0, fmt.Errorf("repository: missing attribute %q", key)
	}
	n, ok := v.(*types.AttributeValueMemberN)
	if !ok {
		return 0, fmt.Errorf("repository: attribute %q is not a number", key)
	}
	parsed, err := strconv.ParseInt(n.Value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("repository: parse attribute %q: %w", key, err)
	}
	return parsed, nil
}
