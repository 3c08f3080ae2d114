package provider

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/licensecompact/provider-data/internal/cursor"
	"github.com/licensecompact/provider-data/internal/dynamo"
)

// Sort orders for provider queries.
const (
	SortByName    = "familyName"
	SortByUpdated = "dateOfUpdate"
)

// Query describes a provider search over the summary indexes.
type Query struct {
	// NamePrefix narrows the name-sorted index to family names with this
	// prefix. Only valid with SortByName.
	NamePrefix string
	// Jurisdiction keeps only providers licensed in, or holding a
	// privilege for, this jurisdiction. Applied as a post-query filter.
	Jurisdiction string
	SortBy       string
	Ascending    bool
	PageSize     int
	Cursor       string
}

// Page is one page of provider summaries.
type Page struct {
	Providers  []*Summary
	NextCursor string
}

// DefaultPageSize bounds queries that do not specify one.
const DefaultPageSize = 100

// QueryProviders pages through provider summaries for a compact, sorted
// by name or recency. Jurisdiction filtering drops rows after the store
// evaluates them, so the paginator refills the page to full size.
func (r *Repository) QueryProviders(ctx context.Context, compact string, q Query) (*Page, error) {
	pageSize := q.PageSize
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}

	input, err := r.buildQueryInput(compact, q)
	if err != nil {
		return nil, err
	}

	var pred cursor.Predicate
	if q.Jurisdiction != "" {
		pred = jurisdictionPredicate(q.Jurisdiction)
	}

	items, next, err := r.paginator.Query(ctx, input, q.Cursor, pageSize, pred)
	if err != nil {
		return nil, err
	}

	page := &Page{NextCursor: next, Providers: make([]*Summary, len(items))}
	for i, item := range items {
		page.Providers[i] = unmarshalSummary(item)
	}
	return page, nil
}

func (r *Repository) buildQueryInput(compact string, q Query) (*dynamodb.QueryInput, error) {
	input := &dynamodb.QueryInput{
		TableName:        aws.String(r.tableName),
		ScanIndexForward: aws.Bool(q.Ascending),
	}

	switch q.SortBy {
	case SortByName, "":
		input.IndexName = aws.String(dynamo.IndexName)
		if q.NamePrefix != "" {
			input.KeyConditionExpression = aws.String("gsi1pk = :pk AND begins_with(gsi1sk, :prefix)")
			input.ExpressionAttributeValues = map[string]types.AttributeValue{
				":pk":     s(summarySK(compact)),
				":prefix": s(strings.ToLower(q.NamePrefix)),
			}
		} else {
			input.KeyConditionExpression = aws.String("gsi1pk = :pk")
			input.ExpressionAttributeValues = map[string]types.AttributeValue{
				":pk": s(summarySK(compact)),
			}
		}
	case SortByUpdated:
		if q.NamePrefix != "" {
			return nil, fmt.Errorf("name prefix requires sorting by %s", SortByName)
		}
		input.IndexName = aws.String(dynamo.IndexUpdated)
		input.KeyConditionExpression = aws.String("gsi2pk = :pk")
		input.ExpressionAttributeValues = map[string]types.AttributeValue{
			":pk": s(summarySK(compact)),
		}
	default:
		return nil, fmt.Errorf("unsupported sort field %q", q.SortBy)
	}

	return input, nil
}

// jurisdictionPredicate matches summaries whose home license or any
// purchased privilege is in the jurisdiction.
func jurisdictionPredicate(jurisdiction string) cursor.Predicate {
	return func(item cursor.Item) bool {
		if v, ok := item[AttrLicenseJur].(*types.AttributeValueMemberS); ok && v.Value == jurisdiction {
			return true
		}
		if v, ok := item[AttrPrivilegeJurs].(*types.AttributeValueMemberSS); ok {
			for _, j := range v.Value {
				if j == jurisdiction {
					return true
				}
			}
		}
		return false
	}
}
