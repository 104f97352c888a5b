package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/require"

	"chat-relay/internal/domain"
)

type fakeDynamo struct {
	putErr       error
	queryOut     *dynamodb.QueryOutput
	queryErr     error
	lastPutInput *dynamodb.PutItemInput
	lastQueryIn  *dynamodb.QueryInput
}

func (f *fakeDynamo) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.lastPutInput = in
	return &dynamodb.PutItemOutput{}, f.putErr
}

func (f *fakeDynamo) Query(_ context.Context, in *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	f.lastQueryIn = in
	return f.queryOut, f.queryErr
}

var fixedNow = time.Date(2026, 10, 14, 12, 0, 0, 0, time.UTC)

func mustNewClient(t *testing.T, db *fakeDynamo) *Client {
	t.Helper()
	c, err := New(db, "test-table")
	require.NoError(t, err)
	c.now = func() time.Time { return fixedNow }
	return c
}

func sampleRecord() domain.UsageRecord {
	return domain.UsageRecord{
		RequestID:    "req-1",
		Model:        "claude-3-haiku-20240307",
		MaxTokens:    1000,
		MessageCount: 3,
		InputTokens:  42,
		OutputTokens: 7,
		Outcome:      domain.OutcomeSuccess,
		LatencyMs:    250,
	}
}

func sAttr(t *testing.T, item map[string]types.AttributeValue, key string) string {
	t.Helper()
	v, ok := item[key].(*types.AttributeValueMemberS)
	require.True(t, ok, "attribute %q must be a string", key)
	return v.Value
}

func nAttr(t *testing.T, item map[string]types.AttributeValue, key string) string {
	t.Helper()
	v, ok := item[key].(*types.AttributeValueMemberN)
	require.True(t, ok, "attribute %q must be a number", key)
	return v.Value
}

func TestNew_Validates(t *testing.T) {
	_, err := New(nil, "t")
	require.Error(t, err)
	_, err = New(&fakeDynamo{}, " ")
	require.Error(t, err)
}

func TestRecordUsage_WritesItem(t *testing.T) {
	db := &fakeDynamo{}
	c := mustNewClient(t, db)

	require.NoError(t, c.RecordUsage(context.Background(), sampleRecord()))

	in := db.lastPutInput
	require.NotNil(t, in)
	require.Equal(t, "test-table", aws.ToString(in.TableName))
	require.Contains(t, aws.ToString(in.ConditionExpression), "attribute_not_exists(PK)")

	item := in.Item
	require.Equal(t, "REQ#req-1", sAttr(t, item, "PK"))
	require.Equal(t, "USAGE#2026-10-14T12:00:00Z", sAttr(t, item, "SK"))
	require.Equal(t, "claude-3-haiku-20240307", sAttr(t, item, "model"))
	require.Equal(t, domain.OutcomeSuccess, sAttr(t, item, "outcome"))
	require.Equal(t, "1000", nAttr(t, item, "maxTokens"))
	require.Equal(t, "3", nAttr(t, item, "messageCount"))
	require.Equal(t, "42", nAttr(t, item, "inputTokens"))
	require.Equal(t, "7", nAttr(t, item, "outputTokens"))
	require.Equal(t, "250", nAttr(t, item, "latencyMs"))

	wantTTL := fixedNow.Add(ttlDuration).Unix()
	require.Equal(t, numAttr(wantTTL).Value, nAttr(t, item, "ttl"))
}

func TestRecordUsage_KeepsProvidedTimestamps(t *testing.T) {
	db := &fakeDynamo{}
	c := mustNewClient(t, db)

	rec := sampleRecord()
	rec.CreatedAt = time.Date(2025, 1, 2, 3, 4, 5, 6, time.UTC)
	rec.TTL = 99
	require.NoError(t, c.RecordUsage(context.Background(), rec))

	require.Equal(t, "USAGE#2025-01-02T03:04:05.000000006Z", sAttr(t, db.lastPutInput.Item, "SK"))
	require.Equal(t, "99", nAttr(t, db.lastPutInput.Item, "ttl"))
}

func TestRecordUsage_RequiresRequestID(t *testing.T) {
	db := &fakeDynamo{}
	c := mustNewClient(t, db)
	rec := sampleRecord()
	rec.RequestID = ""
	err := c.RecordUsage(context.Background(), rec)
	require.Error(t, err)
	require.Nil(t, db.lastPutInput)
}

func TestRecordUsage_PutError(t *testing.T) {
	db := &fakeDynamo{putErr: errors.New("throttled")}
	c := mustNewClient(t, db)
	err := c.RecordUsage(context.Background(), sampleRecord())
	require.ErrorContains(t, err, "throttled")
	require.ErrorContains(t, err, "RecordUsage")
}

func TestGetUsage_RoundTripsItems(t *testing.T) {
	putDB := &fakeDynamo{}
	require.NoError(t, mustNewClient(t, putDB).RecordUsage(context.Background(), sampleRecord()))

	db := &fakeDynamo{queryOut: &dynamodb.QueryOutput{Items: []map[string]types.AttributeValue{putDB.lastPutInput.Item}}}
	recs, err := mustNewClient(t, db).GetUsage(context.Background(), "req-1")
	require.NoError(t, err)
	require.Len(t, recs, 1)

	want := sampleRecord()
	want.CreatedAt = fixedNow
	want.TTL = fixedNow.Add(ttlDuration).Unix()
	require.Equal(t, want, recs[0])

	q := db.lastQueryIn
	require.Equal(t, "test-table", aws.ToString(q.TableName))
	require.Equal(t, "REQ#req-1", q.ExpressionAttributeValues[":pk"].(*types.AttributeValueMemberS).Value)
	require.Equal(t, skPrefixUsage, q.ExpressionAttributeValues[":prefix"].(*types.AttributeValueMemberS).Value)
}

func TestGetUsage_QueryError(t *testing.T) {
	db := &fakeDynamo{queryErr: errors.New("boom")}
	_, err := mustNewClient(t, db).GetUsage(context.Background(), "req-1")
	require.ErrorContains(t, err, "boom")
}

func TestGetUsage_MalformedItem(t *testing.T) {
	item := map[string]types.AttributeValue{
		"requestId": &types.AttributeValueMemberS{Value: "req-1"},
		"createdAt": &types.AttributeValueMemberS{Value: "2026-10-14T12:00:00Z"},
		"maxTokens": &types.AttributeValueMemberS{Value: "not-a-number"},
	}
	db := &fakeDynamo{queryOut: &dynamodb.QueryOutput{Items: []map[string]types.AttributeValue{item}}}
	_, err := mustNewClient(t, db).GetUsage(context.Background(), "req-1")
	require.Error(t, err)
	require.ErrorContains(t, err, "unmarshal")
}
