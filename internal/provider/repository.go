package provider

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/licensecompact/provider-data/internal/cursor"
	"github.com/licensecompact/provider-data/internal/dynamo"
)

// Error types for repository operations.
var (
	ErrProviderNotFound  = errors.New("provider not found")
	ErrIdentityNotFound  = errors.New("identity not found")
	ErrPrivilegeExists   = errors.New("privilege already exists")
	ErrTransactionFailed = errors.New("transaction failed")
)

// DynamoDBClient defines the interface for DynamoDB operations.
type DynamoDBClient interface {
	GetItem(ctx context.Context, input *dynamodb.GetItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	Query(ctx context.Context, input *dynamodb.QueryInput, opts ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	PutItem(ctx context.Context, input *dynamodb.PutItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	TransactWriteItems(ctx context.Context, input *dynamodb.TransactWriteItemsInput, opts ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
}

// Repository handles provider record storage.
type Repository struct {
	client    DynamoDBClient
	tableName string
	paginator *cursor.Paginator
	now       func() time.Time
}

// RepositoryOption configures a Repository.
type RepositoryOption func(*Repository)

// WithClock overrides the evaluation clock. Tests pin it.
func WithClock(now func() time.Time) RepositoryOption {
	return func(r *Repository) { r.now = now }
}

// NewRepository creates a new Repository.
func NewRepository(client DynamoDBClient, tableName string, opts ...RepositoryOption) *Repository {
	r := &Repository{
		client:    client,
		tableName: tableName,
		paginator: cursor.New(client),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// GetProvider reconstructs the composite provider record from its
// constituent items. tier selects how much update history is fetched.
func (r *Repository) GetProvider(ctx context.Context, compact, providerID string, tier HistoryTier) (*Provider, error) {
	input := &dynamodb.QueryInput{
		TableName:              aws.String(r.tableName),
		KeyConditionExpression: aws.String("pk = :pk"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk": s(providerPK(compact, providerID)),
		},
	}

	switch tier {
	case HistoryNone:
		input.FilterExpression = aws.String("NOT begins_with(sk, :hist)")
		input.ExpressionAttributeValues[":hist"] = s(fmt.Sprintf("%s#PROVIDER#%s", compact, segmentHistory))
	case HistoryDiffs:
		input.FilterExpression = aws.String("NOT begins_with(sk, :histfull)")
		input.ExpressionAttributeValues[":histfull"] = s(fmt.Sprintf("%s#PROVIDER#%s", compact, segmentHistoryFull))
	}

	var (
		summary    *Summary
		licenses   []*License
		privileges []*Privilege
		history    []*Update
	)

	for {
		output, err := r.client.Query(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("query provider records: %w", err)
		}

		for _, item := range output.Items {
			switch optString(item, AttrType) {
			case TypeProviderSummary:
				summary = unmarshalSummary(item)
			case TypeLicense:
				licenses = append(licenses, unmarshalLicense(item))
			case TypePrivilege:
				privileges = append(privileges, unmarshalPrivilege(item))
			case TypeUpdate:
				history = append(history, unmarshalUpdate(item))
			}
		}

		if output.LastEvaluatedKey == nil {
			break
		}
		input.ExclusiveStartKey = output.LastEvaluatedKey
	}

	if summary == nil {
		return nil, ErrProviderNotFound
	}

	return Assemble(summary, licenses, privileges, history, r.now()), nil
}

// ResolveIdentity looks up the providerId for an external identifier.
func (r *Repository) ResolveIdentity(ctx context.Context, compact, externalID string) (string, error) {
	ident := &Identity{Compact: compact, ExternalID: externalID}

	output, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(r.tableName),
		Key: map[string]types.AttributeValue{
			dynamo.AttrPK: s(ident.PK()),
			dynamo.AttrSK: s(ident.SK()),
		},
	})
	if err != nil {
		return "", fmt.Errorf("get identity: %w", err)
	}
	if output.Item == nil {
		return "", ErrIdentityNotFound
	}
	return unmarshalIdentity(output.Item).ProviderID, nil
}

// GetOrCreateIdentity returns the providerId for an external identifier,
// creating the mapping when none exists. The create is a conditional put;
// losing the race is not an error — the winner's providerId is read back,
// so every concurrent caller gets the same answer and exactly one mapping
// record exists.
func (r *Repository) GetOrCreateIdentity(ctx context.Context, compact, externalID, candidateProviderID string) (string, bool, error) {
	ident := &Identity{
		Compact:    compact,
		ExternalID: externalID,
		ProviderID: candidateProviderID,
		CreatedAt:  r.now(),
	}

	_, err := r.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(r.tableName),
		Item:                marshalIdentity(ident),
		ConditionExpression: aws.String("attribute_not_exists(pk)"),
	})
	if err == nil {
		return candidateProviderID, true, nil
	}

	var ccf *types.ConditionalCheckFailedException
	if !errors.As(err, &ccf) {
		return "", false, fmt.Errorf("create identity: %w", err)
	}

	providerID, err := r.ResolveIdentity(ctx, compact, externalID)
	if err != nil {
		return "", false, fmt.Errorf("read back identity after conflict: %w", err)
	}
	return providerID, false, nil
}

// CreatePrivilege inserts a privilege record and adds its jurisdiction to
// the provider summary's privilege set, both or neither. The store
// arbitrates the transaction; there is no lock.
func (r *Repository) CreatePrivilege(ctx context.Context, priv *Privilege) error {
	now := r.now()
	priv.DateOfUpdate = now

	update := &Update{
		Compact:      priv.Compact,
		ProviderID:   priv.ProviderID,
		UpdateID:     priv.PrivilegeID,
		UpdateType:   UpdateTypePurchase,
		Jurisdiction: priv.Jurisdiction,
		LicenseType:  priv.LicenseType,
		CreatedAt:    now,
		UpdatedValues: map[string]string{
			AttrDateOfIssuance:   priv.DateOfIssuance,
			AttrDateOfExpiration: priv.DateOfExpiration,
		},
	}

	sum := &Summary{Compact: priv.Compact, ProviderID: priv.ProviderID}
	_, err := r.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{
			{
				Update: &types.Update{
					TableName: aws.String(r.tableName),
					Key: map[string]types.AttributeValue{
						dynamo.AttrPK: s(sum.PK()),
						dynamo.AttrSK: s(sum.SK()),
					},
					UpdateExpression:    aws.String("ADD privilegeJurisdictions :jur SET dateOfUpdate = :now, gsi2sk = :gsi2sk"),
					ConditionExpression: aws.String("attribute_exists(pk)"),
					ExpressionAttributeValues: map[string]types.AttributeValue{
						":jur":    &types.AttributeValueMemberSS{Value: []string{priv.Jurisdiction}},
						":now":    s(now.UTC().Format(time.RFC3339)),
						":gsi2sk": s(fmt.Sprintf("%s#%s", now.UTC().Format(time.RFC3339), priv.ProviderID)),
					},
				},
			},
			{
				Put: &types.Put{
					TableName:           aws.String(r.tableName),
					Item:                marshalPrivilege(priv),
					ConditionExpression: aws.String("attribute_not_exists(pk)"),
				},
			},
			{
				Put: &types.Put{
					TableName: aws.String(r.tableName),
					Item:      marshalUpdate(update, false),
				},
			},
		},
	})
	if err != nil {
		return r.mapPrivilegeTransactionError(err)
	}
	return nil
}

// mapPrivilegeTransactionError converts transaction cancellation reasons
// into domain errors.
func (r *Repository) mapPrivilegeTransactionError(err error) error {
	var canceled *types.TransactionCanceledException
	if !errors.As(err, &canceled) {
		return fmt.Errorf("%w: %v", ErrTransactionFailed, err)
	}

	for i, reason := range canceled.CancellationReasons {
		if reason.Code == nil || *reason.Code != "ConditionalCheckFailed" {
			continue
		}
		switch i {
		case 0:
			return ErrProviderNotFound
		case 1:
			return ErrPrivilegeExists
		}
	}
	return fmt.Errorf("%w: %v", ErrTransactionFailed, err)
}

// LicenseCommit is one row's authoritative write: the license record, the
// rewritten summary, and the update-history records, applied atomically.
type LicenseCommit struct {
	License  *License
	Summary  *Summary
	Diff     *Update
	Snapshot *Update // full tier; nil on first issuance
}

// CommitLicense applies a license ingest atomically. The summary is owned
// by this commit step and rewritten whole.
func (r *Repository) CommitLicense(ctx context.Context, commit *LicenseCommit) error {
	items := []types.TransactWriteItem{
		{Put: &types.Put{
			TableName: aws.String(r.tableName),
			Item:      marshalLicense(commit.License),
		}},
		{Put: &types.Put{
			TableName: aws.String(r.tableName),
			Item:      marshalSummary(commit.Summary),
		}},
	}
	if commit.Diff != nil {
		items = append(items, types.TransactWriteItem{Put: &types.Put{
			TableName: aws.String(r.tableName),
			Item:      marshalUpdate(commit.Diff, false),
		}})
	}
	if commit.Snapshot != nil {
		items = append(items, types.TransactWriteItem{Put: &types.Put{
			TableName: aws.String(r.tableName),
			Item:      marshalUpdate(commit.Snapshot, true),
		}})
	}

	_, err := r.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: items,
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTransactionFailed, err)
	}
	return nil
}
