// Package notify tracks notification delivery per recipient so
// redelivered messages never re-notify recipients already served.
package notify

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/licensecompact/provider-data/internal/dynamo"
)

// Delivery statuses recorded in the ledger.
const (
	StatusSuccess = "SUCCESS"
	StatusFailed  = "FAILED"
)

// Recipient types.
const (
	RecipientJurisdiction = "jurisdiction"
	RecipientProvider     = "provider"
)

// Recipient identifies one notification target.
type Recipient struct {
	Type string
	Key  string
}

func (r Recipient) sk() string { return fmt.Sprintf("%s#%s", r.Type, r.Key) }

// DynamoDBClient defines the interface for ledger storage operations.
type DynamoDBClient interface {
	Query(ctx context.Context, input *dynamodb.QueryInput, opts ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	PutItem(ctx context.Context, input *dynamodb.PutItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
}

// Ledger stores per-recipient delivery outcomes, keyed by message id.
// Entries carry a TTL so the table does not accumulate forever.
type Ledger struct {
	client    DynamoDBClient
	tableName string
	ttl       time.Duration
	now       func() time.Time
}

// LedgerOption configures a Ledger.
type LedgerOption func(*Ledger)

// WithLedgerClock overrides the clock. Tests pin it.
func WithLedgerClock(now func() time.Time) LedgerOption {
	return func(l *Ledger) { l.now = now }
}

// NewLedger creates a new Ledger. ttl bounds how long delivery records
// are kept; it need only exceed the queue's maximum redelivery horizon.
func NewLedger(client DynamoDBClient, tableName string, ttl time.Duration, opts ...LedgerOption) *Ledger {
	l := &Ledger{
		client:    client,
		tableName: tableName,
		ttl:       ttl,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func notifyPK(messageID string) string {
	return dynamo.PrefixNotify + messageID
}

// LoadForMessage fetches every recorded outcome for one message in a
// single query. Returns recipient sort key → status.
func (l *Ledger) LoadForMessage(ctx context.Context, messageID string) (map[string]string, error) {
	input := &dynamodb.QueryInput{
		TableName:              aws.String(l.tableName),
		KeyConditionExpression: aws.String("pk = :pk"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk": &types.AttributeValueMemberS{Value: notifyPK(messageID)},
		},
	}

	statuses := make(map[string]string)
	for {
		output, err := l.client.Query(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("query notification ledger: %w", err)
		}
		for _, item := range output.Items {
			sk, ok := item[dynamo.AttrSK].(*types.AttributeValueMemberS)
			if !ok {
				continue
			}
			if status, ok := item["status"].(*types.AttributeValueMemberS); ok {
				statuses[sk.Value] = status.Value
			}
		}
		if output.LastEvaluatedKey == nil {
			return statuses, nil
		}
		input.ExclusiveStartKey = output.LastEvaluatedKey
	}
}

// Record writes one delivery outcome. Last writer wins; a FAILED entry
// overwritten by SUCCESS on retry is the intended progression.
func (l *Ledger) Record(ctx context.Context, messageID string, recipient Recipient, status string) error {
	now := l.now()
	item := map[string]types.AttributeValue{
		dynamo.AttrPK:   &types.AttributeValueMemberS{Value: notifyPK(messageID)},
		dynamo.AttrSK:   &types.AttributeValueMemberS{Value: recipient.sk()},
		"messageId":     &types.AttributeValueMemberS{Value: messageID},
		"recipientType": &types.AttributeValueMemberS{Value: recipient.Type},
		"recipientKey":  &types.AttributeValueMemberS{Value: recipient.Key},
		"status":        &types.AttributeValueMemberS{Value: status},
		"createdAt":     &types.AttributeValueMemberS{Value: now.UTC().Format(time.RFC3339)},
		dynamo.AttrTTL:  &types.AttributeValueMemberN{Value: strconv.FormatInt(now.Add(l.ttl).Unix(), 10)},
	}

	_, err := l.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(l.tableName),
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("record notification outcome: %w", err)
	}
	return nil
}
