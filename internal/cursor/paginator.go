package cursor

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"
)

// Item is a raw DynamoDB item.
type Item = map[string]types.AttributeValue

// Predicate filters items after the store has evaluated the key condition.
// Items for which it returns false are dropped from the page.
type Predicate func(Item) bool

// QueryClient is the slice of the DynamoDB API the paginator needs.
type QueryClient interface {
	Query(ctx context.Context, input *dynamodb.QueryInput, opts ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

// Paginator produces fixed-size pages from a DynamoDB query even when a
// client-side predicate drops rows. The store's Limit counts pre-filter
// rows, so a single Query may return short pages; the paginator repeats
// the query, chaining ExclusiveStartKey, until the page is full or the
// store is exhausted.
type Paginator struct {
	client     QueryClient
	clampLimit bool
}

// Option configures a Paginator.
type Option func(*Paginator)

// WithClampedLimit sets each underlying query's Limit to the remaining
// page size. Fewer items are evaluated per call, at the cost of more
// round-trips when the predicate is selective. Without it the store
// evaluates as much as it can per call.
func WithClampedLimit() Option {
	return func(p *Paginator) { p.clampLimit = true }
}

// New creates a Paginator.
func New(client QueryClient, opts ...Option) *Paginator {
	p := &Paginator{client: client}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Query runs base repeatedly until pageSize post-predicate matches are
// collected or the store reports no further pages. It returns the page and
// the continuation cursor for the next call; an empty cursor means the
// result set is exhausted. base is not modified.
func (p *Paginator) Query(ctx context.Context, base *dynamodb.QueryInput, cur string, pageSize int, pred Predicate) ([]Item, string, error) {
	if pageSize <= 0 {
		return nil, "", fmt.Errorf("page size must be positive, got %d", pageSize)
	}

	startKey, err := Decode(cur)
	if err != nil {
		return nil, "", err
	}

	matches := make([]Item, 0, pageSize)
	var lastKey map[string]types.AttributeValue
	sawMore := false

	for {
		input := *base
		input.ExclusiveStartKey = startKey
		if p.clampLimit {
			input.Limit = aws.Int32(int32(pageSize - len(matches)))
		}

		output, err := p.client.Query(ctx, &input)
		if err != nil {
			// The store rejecting the start key means the caller's
			// cursor was bad, not that the query failed.
			var apiErr smithy.APIError
			if startKey != nil && errors.As(err, &apiErr) && apiErr.ErrorCode() == "ValidationException" {
				return nil, "", fmt.Errorf("%w: %v", ErrInvalidCursor, err)
			}
			return nil, "", fmt.Errorf("query page: %w", err)
		}

		for _, item := range output.Items {
			if pred == nil || pred(item) {
				matches = append(matches, item)
			}
		}

		if output.LastEvaluatedKey != nil {
			lastKey = output.LastEvaluatedKey
		}
		sawMore = output.LastEvaluatedKey != nil
		startKey = output.LastEvaluatedKey

		if len(matches) >= pageSize || !sawMore {
			break
		}
	}

	if len(matches) > pageSize {
		// The last physical page returned more matches than needed.
		// Truncate and rebuild the cursor from the last retained item,
		// using the key attribute names the store reports for this
		// query shape.
		matches = matches[:pageSize]
		names, err := p.cursorKeyNames(ctx, base, lastKey)
		if err != nil {
			return nil, "", err
		}
		key, err := keyFromItem(matches[pageSize-1], names)
		if err != nil {
			return nil, "", err
		}
		next, err := Encode(key)
		if err != nil {
			return nil, "", err
		}
		return matches, next, nil
	}

	if !sawMore {
		return matches, "", nil
	}

	next, err := Encode(lastKey)
	if err != nil {
		return nil, "", err
	}
	return matches, next, nil
}

// cursorKeyNames determines which attributes form a continuation key for
// the query's index. DynamoDB does not fix these statically across index
// types, so they are taken from the most recent LastEvaluatedKey; when the
// very first page already overflowed and none was seen, a 1-row probe
// query learns them.
func (p *Paginator) cursorKeyNames(ctx context.Context, base *dynamodb.QueryInput, lastKey map[string]types.AttributeValue) ([]string, error) {
	if lastKey != nil {
		return keyNames(lastKey), nil
	}

	probe := *base
	probe.ExclusiveStartKey = nil
	probe.Limit = aws.Int32(1)
	output, err := p.client.Query(ctx, &probe)
	if err != nil {
		return nil, fmt.Errorf("probe cursor key shape: %w", err)
	}
	if output.LastEvaluatedKey == nil {
		return nil, errors.New("probe query returned no continuation key")
	}
	return keyNames(output.LastEvaluatedKey), nil
}

// keyFromItem extracts the named key attributes from an item.
func keyFromItem(item Item, names []string) (map[string]types.AttributeValue, error) {
	key := make(map[string]types.AttributeValue, len(names))
	for _, name := range names {
		av, ok := item[name]
		if !ok {
			return nil, fmt.Errorf("item missing key attribute %q", name)
		}
		key[name] = av
	}
	return key, nil
}
