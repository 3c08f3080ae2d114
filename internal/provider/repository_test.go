package provider

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// mockDynamoDBClient is a test double for DynamoDB operations.
type mockDynamoDBClient struct {
	getItemFunc            func(ctx context.Context, input *dynamodb.GetItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	queryFunc              func(ctx context.Context, input *dynamodb.QueryInput, opts ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	putItemFunc            func(ctx context.Context, input *dynamodb.PutItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	transactWriteItemsFunc func(ctx context.Context, input *dynamodb.TransactWriteItemsInput, opts ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
}

func (m *mockDynamoDBClient) GetItem(ctx context.Context, input *dynamodb.GetItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	if m.getItemFunc != nil {
		return m.getItemFunc(ctx, input, opts...)
	}
	return &dynamodb.GetItemOutput{}, nil
}

func (m *mockDynamoDBClient) Query(ctx context.Context, input *dynamodb.QueryInput, opts ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	if m.queryFunc != nil {
		return m.queryFunc(ctx, input, opts...)
	}
	return &dynamodb.QueryOutput{}, nil
}

func (m *mockDynamoDBClient) PutItem(ctx context.Context, input *dynamodb.PutItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	if m.putItemFunc != nil {
		return m.putItemFunc(ctx, input, opts...)
	}
	return &dynamodb.PutItemOutput{}, nil
}

func (m *mockDynamoDBClient) TransactWriteItems(ctx context.Context, input *dynamodb.TransactWriteItemsInput, opts ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error) {
	if m.transactWriteItemsFunc != nil {
		return m.transactWriteItemsFunc(ctx, input, opts...)
	}
	return &dynamodb.TransactWriteItemsOutput{}, nil
}

func fixedClock() time.Time {
	return time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
}

func providerPartition() []map[string]types.AttributeValue {
	sum := marshalSummary(&Summary{
		Compact:             "aslp",
		ProviderID:          "p1",
		GivenName:           "Alice",
		FamilyName:          "Nguyen",
		LicenseJurisdiction: "oh",
		LicenseStatus:       "active",
		DateOfExpiration:    "2026-01-01",
		DateOfUpdate:        fixedClock(),
	})
	lic := marshalLicense(&License{
		Compact:          "aslp",
		ProviderID:       "p1",
		Jurisdiction:     "oh",
		LicenseType:      "audiologist",
		GivenName:        "Alice",
		FamilyName:       "Nguyen",
		DateOfBirth:      "1985-03-02",
		DateOfIssuance:   "2020-01-01",
		DateOfExpiration: "2026-01-01",
		LicenseStatus:    "active",
		DateOfUpdate:     fixedClock(),
	})
	priv := marshalPrivilege(&Privilege{
		Compact:             "aslp",
		ProviderID:          "p1",
		PrivilegeID:         "priv-1",
		Jurisdiction:        "ky",
		LicenseType:         "audiologist",
		LicenseJurisdiction: "oh",
		DateOfIssuance:      "2024-01-01",
		DateOfExpiration:    "2026-01-01",
		DateOfUpdate:        fixedClock(),
	})
	hist := marshalUpdate(&Update{
		Compact:    "aslp",
		ProviderID: "p1",
		UpdateID:   "u1",
		UpdateType: UpdateTypeIssuance,
		CreatedAt:  fixedClock().Add(-24 * time.Hour),
	}, false)
	return []map[string]types.AttributeValue{sum, lic, priv, hist}
}

func TestGetProviderAssemblesComposite(t *testing.T) {
	mock := &mockDynamoDBClient{
		queryFunc: func(ctx context.Context, input *dynamodb.QueryInput, opts ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
			pk := input.ExpressionAttributeValues[":pk"].(*types.AttributeValueMemberS).Value
			if pk != "aslp#PROVIDER#p1" {
				t.Errorf("unexpected pk %q", pk)
			}
			return &dynamodb.QueryOutput{Items: providerPartition()}, nil
		},
	}
	repo := NewRepository(mock, "test-table", WithClock(fixedClock))

	p, err := repo.GetProvider(context.Background(), "aslp", "p1", HistoryDiffs)
	if err != nil {
		t.Fatalf("GetProvider() error = %v", err)
	}

	if p.Summary.GivenName != "Alice" {
		t.Errorf("GivenName = %q, want Alice", p.Summary.GivenName)
	}
	if len(p.Licenses) != 1 || len(p.Privileges) != 1 || len(p.History) != 1 {
		t.Fatalf("got %d licenses, %d privileges, %d history; want 1 each",
			len(p.Licenses), len(p.Privileges), len(p.History))
	}
	if p.Status != StatusActive {
		t.Errorf("Status = %q, want active", p.Status)
	}
	if got := p.Privileges[0].ComputedStatus(p.MatchingLicense(p.Privileges[0]), p.EvaluatedAt); got != StatusActive {
		t.Errorf("privilege status = %q, want active", got)
	}
}

func TestGetProviderHistoryFilter(t *testing.T) {
	var filter string
	mock := &mockDynamoDBClient{
		queryFunc: func(ctx context.Context, input *dynamodb.QueryInput, opts ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
			if input.FilterExpression != nil {
				filter = *input.FilterExpression
			}
			return &dynamodb.QueryOutput{Items: providerPartition()[:1]}, nil
		},
	}
	repo := NewRepository(mock, "test-table", WithClock(fixedClock))

	if _, err := repo.GetProvider(context.Background(), "aslp", "p1", HistoryNone); err != nil {
		t.Fatalf("GetProvider() error = %v", err)
	}
	if !strings.Contains(filter, "NOT begins_with") {
		t.Errorf("HistoryNone filter = %q, want history exclusion", filter)
	}

	filter = ""
	if _, err := repo.GetProvider(context.Background(), "aslp", "p1", HistoryFull); err != nil {
		t.Fatalf("GetProvider() error = %v", err)
	}
	if filter != "" {
		t.Errorf("HistoryFull filter = %q, want none", filter)
	}
}

func TestGetProviderNotFound(t *testing.T) {
	mock := &mockDynamoDBClient{
		queryFunc: func(ctx context.Context, input *dynamodb.QueryInput, opts ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
			return &dynamodb.QueryOutput{}, nil
		},
	}
	repo := NewRepository(mock, "test-table")

	_, err := repo.GetProvider(context.Background(), "aslp", "missing", HistoryNone)
	if !errors.Is(err, ErrProviderNotFound) {
		t.Errorf("error = %v, want ErrProviderNotFound", err)
	}
}

func TestGetOrCreateIdentityFirstWriter(t *testing.T) {
	var putItem map[string]types.AttributeValue
	mock := &mockDynamoDBClient{
		putItemFunc: func(ctx context.Context, input *dynamodb.PutItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
			if *input.ConditionExpression != "attribute_not_exists(pk)" {
				t.Errorf("condition = %q", *input.ConditionExpression)
			}
			putItem = input.Item
			return &dynamodb.PutItemOutput{}, nil
		},
	}
	repo := NewRepository(mock, "test-table", WithClock(fixedClock))

	providerID, created, err := repo.GetOrCreateIdentity(context.Background(), "aslp", "123-45-6789", "p-new")
	if err != nil {
		t.Fatalf("GetOrCreateIdentity() error = %v", err)
	}
	if !created || providerID != "p-new" {
		t.Errorf("got (%q, %v), want (p-new, true)", providerID, created)
	}
	if pk := putItem["pk"].(*types.AttributeValueMemberS).Value; pk != "aslp#SSN#123-45-6789" {
		t.Errorf("identity pk = %q", pk)
	}
}

func TestGetOrCreateIdentityLosesRace(t *testing.T) {
	mock := &mockDynamoDBClient{
		putItemFunc: func(ctx context.Context, input *dynamodb.PutItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
			return nil, &types.ConditionalCheckFailedException{Message: aws.String("exists")}
		},
		getItemFunc: func(ctx context.Context, input *dynamodb.GetItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
			return &dynamodb.GetItemOutput{Item: marshalIdentity(&Identity{
				Compact:    "aslp",
				ExternalID: "123-45-6789",
				ProviderID: "p-winner",
			})}, nil
		},
	}
	repo := NewRepository(mock, "test-table", WithClock(fixedClock))

	providerID, created, err := repo.GetOrCreateIdentity(context.Background(), "aslp", "123-45-6789", "p-loser")
	if err != nil {
		t.Fatalf("GetOrCreateIdentity() error = %v", err)
	}
	if created {
		t.Error("created = true, want false after losing the race")
	}
	if providerID != "p-winner" {
		t.Errorf("providerID = %q, want p-winner", providerID)
	}
}

func TestGetOrCreateIdentityConcurrent(t *testing.T) {
	// Simulated store: first conditional put wins, the rest read back.
	var mu sync.Mutex
	var stored map[string]types.AttributeValue

	mock := &mockDynamoDBClient{
		putItemFunc: func(ctx context.Context, input *dynamodb.PutItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
			mu.Lock()
			defer mu.Unlock()
			if stored != nil {
				return nil, &types.ConditionalCheckFailedException{Message: aws.String("exists")}
			}
			stored = input.Item
			return &dynamodb.PutItemOutput{}, nil
		},
		getItemFunc: func(ctx context.Context, input *dynamodb.GetItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
			mu.Lock()
			defer mu.Unlock()
			return &dynamodb.GetItemOutput{Item: stored}, nil
		},
	}
	repo := NewRepository(mock, "test-table", WithClock(fixedClock))

	const callers = 8
	results := make([]string, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			providerID, _, err := repo.GetOrCreateIdentity(context.Background(), "aslp", "123-45-6789", "candidate")
			if err != nil {
				t.Errorf("caller %d: %v", i, err)
				return
			}
			results[i] = providerID
		}(i)
	}
	wg.Wait()

	for i, got := range results {
		if got != "candidate" {
			t.Errorf("caller %d got %q, want %q", i, got, "candidate")
		}
	}
}

func TestCreatePrivilegeTransaction(t *testing.T) {
	var input *dynamodb.TransactWriteItemsInput
	mock := &mockDynamoDBClient{
		transactWriteItemsFunc: func(ctx context.Context, in *dynamodb.TransactWriteItemsInput, opts ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error) {
			input = in
			return &dynamodb.TransactWriteItemsOutput{}, nil
		},
	}
	repo := NewRepository(mock, "test-table", WithClock(fixedClock))

	err := repo.CreatePrivilege(context.Background(), &Privilege{
		Compact:             "aslp",
		ProviderID:          "p1",
		PrivilegeID:         "priv-1",
		Jurisdiction:        "ky",
		LicenseType:         "audiologist",
		LicenseJurisdiction: "oh",
		DateOfIssuance:      "2025-06-15",
		DateOfExpiration:    "2027-06-15",
	})
	if err != nil {
		t.Fatalf("CreatePrivilege() error = %v", err)
	}

	if len(input.TransactItems) != 3 {
		t.Fatalf("transaction has %d items, want 3", len(input.TransactItems))
	}
	if input.TransactItems[0].Update == nil {
		t.Error("item 0 is not the summary update")
	}
	if input.TransactItems[1].Put == nil || *input.TransactItems[1].Put.ConditionExpression != "attribute_not_exists(pk)" {
		t.Error("item 1 is not a guarded privilege put")
	}
	if input.TransactItems[2].Put == nil {
		t.Error("item 2 is not the history put")
	}
}

func TestCreatePrivilegeAllOrNothing(t *testing.T) {
	mock := &mockDynamoDBClient{
		transactWriteItemsFunc: func(ctx context.Context, in *dynamodb.TransactWriteItemsInput, opts ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error) {
			return nil, &types.TransactionCanceledException{
				CancellationReasons: []types.CancellationReason{
					{Code: aws.String("None")},
					{Code: aws.String("ConditionalCheckFailed")},
					{Code: aws.String("None")},
				},
			}
		},
	}
	repo := NewRepository(mock, "test-table", WithClock(fixedClock))

	err := repo.CreatePrivilege(context.Background(), &Privilege{
		Compact: "aslp", ProviderID: "p1", PrivilegeID: "priv-1",
		Jurisdiction: "ky", LicenseType: "audiologist",
	})
	if !errors.Is(err, ErrPrivilegeExists) {
		t.Errorf("error = %v, want ErrPrivilegeExists", err)
	}
}

func TestCreatePrivilegeMissingProvider(t *testing.T) {
	mock := &mockDynamoDBClient{
		transactWriteItemsFunc: func(ctx context.Context, in *dynamodb.TransactWriteItemsInput, opts ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error) {
			return nil, &types.TransactionCanceledException{
				CancellationReasons: []types.CancellationReason{
					{Code: aws.String("ConditionalCheckFailed")},
					{Code: aws.String("None")},
					{Code: aws.String("None")},
				},
			}
		},
	}
	repo := NewRepository(mock, "test-table")

	err := repo.CreatePrivilege(context.Background(), &Privilege{
		Compact: "aslp", ProviderID: "ghost", PrivilegeID: "priv-1",
		Jurisdiction: "ky", LicenseType: "audiologist",
	})
	if !errors.Is(err, ErrProviderNotFound) {
		t.Errorf("error = %v, want ErrProviderNotFound", err)
	}
}

func TestCommitLicenseTransaction(t *testing.T) {
	var input *dynamodb.TransactWriteItemsInput
	mock := &mockDynamoDBClient{
		transactWriteItemsFunc: func(ctx context.Context, in *dynamodb.TransactWriteItemsInput, opts ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error) {
			input = in
			return &dynamodb.TransactWriteItemsOutput{}, nil
		},
	}
	repo := NewRepository(mock, "test-table", WithClock(fixedClock))

	commit := &LicenseCommit{
		License: &License{Compact: "aslp", ProviderID: "p1", Jurisdiction: "oh", LicenseType: "audiologist", LicenseStatus: "active"},
		Summary: &Summary{Compact: "aslp", ProviderID: "p1", GivenName: "Alice", FamilyName: "Nguyen"},
		Diff:    &Update{Compact: "aslp", ProviderID: "p1", UpdateID: "u1", UpdateType: UpdateTypeRenewal, CreatedAt: fixedClock()},
		Snapshot: &Update{
			Compact:    "aslp",
			ProviderID: "p1",
			UpdateID:   "u1",
			UpdateType: UpdateTypeRenewal,
			CreatedAt:  fixedClock(),
			Previous:   map[string]string{"dateOfExpiration": "2025-01-01"},
		},
	}
	if err := repo.CommitLicense(context.Background(), commit); err != nil {
		t.Fatalf("CommitLicense() error = %v", err)
	}

	if len(input.TransactItems) != 4 {
		t.Fatalf("transaction has %d items, want 4", len(input.TransactItems))
	}

	// Snapshot goes to the expensive tier.
	snapSK := input.TransactItems[3].Put.Item["sk"].(*types.AttributeValueMemberS).Value
	if !strings.Contains(snapSK, "#histfull/") {
		t.Errorf("snapshot sk = %q, want full tier", snapSK)
	}
}
