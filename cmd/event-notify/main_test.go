package main

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	lambdaevents "github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/licensecompact/provider-data/internal/notify"
)

// mockDynamoDBClient implements the notify.DynamoDBClient interface for testing.
type mockDynamoDBClient struct {
	queryFunc func(ctx context.Context, input *dynamodb.QueryInput, opts ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	putFunc   func(ctx context.Context, input *dynamodb.PutItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)

	mu   sync.Mutex
	puts []*dynamodb.PutItemInput
}

func (m *mockDynamoDBClient) Query(ctx context.Context, input *dynamodb.QueryInput, opts ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	if m.queryFunc != nil {
		return m.queryFunc(ctx, input, opts...)
	}
	return &dynamodb.QueryOutput{}, nil
}

func (m *mockDynamoDBClient) PutItem(ctx context.Context, input *dynamodb.PutItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	m.mu.Lock()
	m.puts = append(m.puts, input)
	m.mu.Unlock()
	if m.putFunc != nil {
		return m.putFunc(ctx, input, opts...)
	}
	return &dynamodb.PutItemOutput{}, nil
}

func (m *mockDynamoDBClient) recordedStatuses() map[string]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]string)
	for _, put := range m.puts {
		sk := put.Item["sk"].(*types.AttributeValueMemberS).Value
		status := put.Item["status"].(*types.AttributeValueMemberS).Value
		out[sk] = status
	}
	return out
}

// mockNotificationSender implements the NotificationSender interface for testing.
type mockNotificationSender struct {
	sendFunc func(ctx context.Context, recipient notify.Recipient, subject, body string) error

	mu   sync.Mutex
	sent []notify.Recipient
}

func (m *mockNotificationSender) Send(ctx context.Context, recipient notify.Recipient, subject, body string) error {
	m.mu.Lock()
	m.sent = append(m.sent, recipient)
	m.mu.Unlock()
	if m.sendFunc != nil {
		return m.sendFunc(ctx, recipient, subject, body)
	}
	return nil
}

func ledgerItem(sk, status string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"sk":     &types.AttributeValueMemberS{Value: sk},
		"status": &types.AttributeValueMemberS{Value: status},
	}
}

const privilegeIssuedBody = `{"detail-type":"privilege.issued","source":"provider-data","detail":{"compact":"aslp","providerId":"prov-1","jurisdiction":"ky","licenseType":"audiologist"}}`

func notifyEvent(bodies ...string) lambdaevents.SQSEvent {
	event := lambdaevents.SQSEvent{}
	for i, body := range bodies {
		event.Records = append(event.Records, lambdaevents.SQSMessage{
			MessageId: fmt.Sprintf("msg-%d", i),
			Body:      body,
		})
	}
	return event
}

func TestHandler_FanOut(t *testing.T) {
	client := &mockDynamoDBClient{}
	ledger := notify.NewLedger(client, "test-table", time.Hour)
	sender := &mockNotificationSender{}

	h := newHandler(ledger, sender)

	resp, err := h.handle(context.Background(), notifyEvent(privilegeIssuedBody))
	if err != nil {
		t.Fatalf("handle failed: %v", err)
	}
	if len(resp.BatchItemFailures) != 0 {
		t.Errorf("failures = %v, want none", resp.BatchItemFailures)
	}

	if len(sender.sent) != 2 {
		t.Fatalf("sent = %v, want jurisdiction and provider", sender.sent)
	}
	statuses := client.recordedStatuses()
	if statuses["jurisdiction#ky"] != notify.StatusSuccess {
		t.Errorf("jurisdiction outcome = %q, want SUCCESS", statuses["jurisdiction#ky"])
	}
	if statuses["provider#prov-1"] != notify.StatusSuccess {
		t.Errorf("provider outcome = %q, want SUCCESS", statuses["provider#prov-1"])
	}
}

func TestHandler_RedeliverySkipsDelivered(t *testing.T) {
	client := &mockDynamoDBClient{
		queryFunc: func(ctx context.Context, input *dynamodb.QueryInput, opts ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
			return &dynamodb.QueryOutput{
				Items: []map[string]types.AttributeValue{
					ledgerItem("jurisdiction#ky", notify.StatusSuccess),
				},
			}, nil
		},
	}
	ledger := notify.NewLedger(client, "test-table", time.Hour)
	sender := &mockNotificationSender{}

	h := newHandler(ledger, sender)

	resp, err := h.handle(context.Background(), notifyEvent(privilegeIssuedBody))
	if err != nil {
		t.Fatalf("handle failed: %v", err)
	}
	if len(resp.BatchItemFailures) != 0 {
		t.Errorf("failures = %v, want none", resp.BatchItemFailures)
	}

	if len(sender.sent) != 1 {
		t.Fatalf("sent = %v, want only the provider recipient", sender.sent)
	}
	if sender.sent[0].Type != notify.RecipientProvider || sender.sent[0].Key != "prov-1" {
		t.Errorf("recipient = %+v", sender.sent[0])
	}
}

func TestHandler_FailedRecipientFailsMessage(t *testing.T) {
	client := &mockDynamoDBClient{}
	ledger := notify.NewLedger(client, "test-table", time.Hour)
	sender := &mockNotificationSender{
		sendFunc: func(ctx context.Context, recipient notify.Recipient, subject, body string) error {
			if recipient.Type == notify.RecipientProvider {
				return errors.New("topic unavailable")
			}
			return nil
		},
	}

	h := newHandler(ledger, sender)

	resp, err := h.handle(context.Background(), notifyEvent(privilegeIssuedBody))
	if err != nil {
		t.Fatalf("handle failed: %v", err)
	}
	if len(resp.BatchItemFailures) != 1 {
		t.Fatalf("failures = %v, want one", resp.BatchItemFailures)
	}
	if resp.BatchItemFailures[0].ItemIdentifier != "msg-0" {
		t.Errorf("failed id = %q, want msg-0", resp.BatchItemFailures[0].ItemIdentifier)
	}

	// The delivered recipient is recorded so redelivery skips it.
	statuses := client.recordedStatuses()
	if statuses["jurisdiction#ky"] != notify.StatusSuccess {
		t.Errorf("jurisdiction outcome = %q, want SUCCESS", statuses["jurisdiction#ky"])
	}
	if statuses["provider#prov-1"] != notify.StatusFailed {
		t.Errorf("provider outcome = %q, want FAILED", statuses["provider#prov-1"])
	}
}

func TestHandler_UnknownEventTypeSkipped(t *testing.T) {
	client := &mockDynamoDBClient{}
	ledger := notify.NewLedger(client, "test-table", time.Hour)
	sender := &mockNotificationSender{}

	h := newHandler(ledger, sender)

	body := `{"detail-type":"something.else","detail":{"jurisdiction":"oh"}}`
	resp, err := h.handle(context.Background(), notifyEvent(body))
	if err != nil {
		t.Fatalf("handle failed: %v", err)
	}
	if len(resp.BatchItemFailures) != 0 {
		t.Errorf("failures = %v, want none", resp.BatchItemFailures)
	}
	if len(sender.sent) != 0 {
		t.Errorf("sent = %v, want none", sender.sent)
	}
}

func TestHandler_UnparseableMessageFails(t *testing.T) {
	client := &mockDynamoDBClient{}
	ledger := notify.NewLedger(client, "test-table", time.Hour)

	h := newHandler(ledger, &mockNotificationSender{})

	resp, err := h.handle(context.Background(), notifyEvent("not json"))
	if err != nil {
		t.Fatalf("handle failed: %v", err)
	}
	if len(resp.BatchItemFailures) != 1 {
		t.Fatalf("failures = %v, want one", resp.BatchItemFailures)
	}
}

func TestHandler_ValidationErrorNotifiesJurisdictionOnly(t *testing.T) {
	client := &mockDynamoDBClient{}
	ledger := notify.NewLedger(client, "test-table", time.Hour)
	sender := &mockNotificationSender{}

	h := newHandler(ledger, sender)

	body := `{"detail-type":"license.validation-error","detail":{"compact":"aslp","jurisdiction":"oh","uploadId":"upload-42","recordNumber":3}}`
	resp, err := h.handle(context.Background(), notifyEvent(body))
	if err != nil {
		t.Fatalf("handle failed: %v", err)
	}
	if len(resp.BatchItemFailures) != 0 {
		t.Errorf("failures = %v, want none", resp.BatchItemFailures)
	}

	if len(sender.sent) != 1 {
		t.Fatalf("sent = %v, want one jurisdiction recipient", sender.sent)
	}
	if sender.sent[0].Type != notify.RecipientJurisdiction || sender.sent[0].Key != "oh" {
		t.Errorf("recipient = %+v", sender.sent[0])
	}
}
