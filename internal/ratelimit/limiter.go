// Package ratelimit implements a sliding-window rate limiter and a
// global circuit breaker over the shared table. Window entries are
// insert-only markers that expire by TTL; counting a trailing window
// needs no deletes and no coordination.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"

	"github.com/licensecompact/provider-data/internal/dynamo"
)

// Error types for rate limit checks.
var (
	ErrRateLimited = errors.New("rate limited")
	ErrDisabled    = errors.New("identity disabled")
)

// skTimeFormat keeps request marker sort keys lexicographically
// time-ordered at millisecond precision.
const skTimeFormat = "2006-01-02T15:04:05.000Z"

const disabledSK = "DISABLED"

// DynamoDBClient defines the interface for window storage operations.
type DynamoDBClient interface {
	GetItem(ctx context.Context, input *dynamodb.GetItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	Query(ctx context.Context, input *dynamodb.QueryInput, opts ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	PutItem(ctx context.Context, input *dynamodb.PutItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
}

// Limiter enforces a per-identity request budget over a trailing
// window. An identity that exceeds the budget is disabled once,
// permanently, until an operator removes the marker.
type Limiter struct {
	client    DynamoDBClient
	tableName string
	window    time.Duration
	threshold int
	now       func() time.Time
	newID     func() string
}

// LimiterOption configures a Limiter.
type LimiterOption func(*Limiter)

// WithLimiterClock overrides the clock. Tests pin it.
func WithLimiterClock(now func() time.Time) LimiterOption {
	return func(l *Limiter) { l.now = now }
}

// WithRequestIDGenerator overrides marker id generation.
func WithRequestIDGenerator(newID func() string) LimiterOption {
	return func(l *Limiter) { l.newID = newID }
}

// NewLimiter creates a new Limiter.
func NewLimiter(client DynamoDBClient, tableName string, window time.Duration, threshold int, opts ...LimiterOption) *Limiter {
	l := &Limiter{
		client:    client,
		tableName: tableName,
		window:    window,
		threshold: threshold,
		now:       time.Now,
		newID:     uuid.NewString,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func ratePK(identity string) string {
	return dynamo.PrefixRate + identity
}

// Check records one request for the identity and rejects it when the
// trailing window is over budget. Storage errors reject too; the
// limiter fails closed.
func (l *Limiter) Check(ctx context.Context, identity string) error {
	disabled, err := l.isDisabled(ctx, identity)
	if err != nil {
		return fmt.Errorf("check disabled marker: %w", err)
	}
	if disabled {
		return ErrDisabled
	}

	now := l.now()
	if err := l.insertMarker(ctx, identity, now); err != nil {
		return fmt.Errorf("insert request marker: %w", err)
	}

	count, err := l.countWindow(ctx, identity, now)
	if err != nil {
		return fmt.Errorf("count request window: %w", err)
	}
	// The count includes this request's own marker, so the budget is
	// only exceeded past threshold: with a budget of 5, requests 1-5
	// pass and the 6th is rejected.
	if count <= l.threshold {
		return nil
	}

	if err := l.disable(ctx, identity, now); err != nil {
		return fmt.Errorf("disable identity: %w", err)
	}
	return ErrRateLimited
}

func (l *Limiter) isDisabled(ctx context.Context, identity string) (bool, error) {
	output, err := l.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(l.tableName),
		Key: map[string]types.AttributeValue{
			dynamo.AttrPK: &types.AttributeValueMemberS{Value: ratePK(identity)},
			dynamo.AttrSK: &types.AttributeValueMemberS{Value: disabledSK},
		},
	})
	if err != nil {
		return false, err
	}
	return output.Item != nil, nil
}

func (l *Limiter) insertMarker(ctx context.Context, identity string, now time.Time) error {
	sk := fmt.Sprintf("REQ#%s#%s", now.UTC().Format(skTimeFormat), l.newID())
	_, err := l.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(l.tableName),
		Item: map[string]types.AttributeValue{
			dynamo.AttrPK:  &types.AttributeValueMemberS{Value: ratePK(identity)},
			dynamo.AttrSK:  &types.AttributeValueMemberS{Value: sk},
			dynamo.AttrTTL: &types.AttributeValueMemberN{Value: strconv.FormatInt(now.Add(l.window).Unix(), 10)},
		},
	})
	return err
}

// countWindow counts request markers in the trailing window. The
// DISABLED marker sorts before the REQ# range and is never counted.
func (l *Limiter) countWindow(ctx context.Context, identity string, now time.Time) (int, error) {
	start := fmt.Sprintf("REQ#%s", now.Add(-l.window).UTC().Format(skTimeFormat))
	input := &dynamodb.QueryInput{
		TableName:              aws.String(l.tableName),
		KeyConditionExpression: aws.String("pk = :pk AND sk >= :start"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk":    &types.AttributeValueMemberS{Value: ratePK(identity)},
			":start": &types.AttributeValueMemberS{Value: start},
		},
		Select: types.SelectCount,
	}

	total := 0
	for {
		output, err := l.client.Query(ctx, input)
		if err != nil {
			return 0, err
		}
		total += int(output.Count)
		if output.LastEvaluatedKey == nil {
			return total, nil
		}
		input.ExclusiveStartKey = output.LastEvaluatedKey
	}
}

// disable writes the one-time disabled marker. Losing the write race to
// another invocation is fine; the marker is already there.
func (l *Limiter) disable(ctx context.Context, identity string, now time.Time) error {
	_, err := l.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(l.tableName),
		Item: map[string]types.AttributeValue{
			dynamo.AttrPK: &types.AttributeValueMemberS{Value: ratePK(identity)},
			dynamo.AttrSK: &types.AttributeValueMemberS{Value: disabledSK},
			"disabledAt":  &types.AttributeValueMemberS{Value: now.UTC().Format(time.RFC3339)},
		},
		ConditionExpression: aws.String("attribute_not_exists(pk)"),
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return nil
		}
		return err
	}
	return nil
}
