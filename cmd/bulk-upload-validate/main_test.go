package main

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	lambdaevents "github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/licensecompact/provider-data/internal/events"
	"github.com/licensecompact/provider-data/internal/ingest"
)

const sampleCSV = "ssn,givenName,familyName,jurisdiction,licenseType,dateOfBirth,dateOfIssuance,dateOfExpiration,licenseStatus\n" +
	"123-45-6789,Alice,Nguyen,oh,audiologist,1985-03-02,2020-01-15,2026-01-15,active\n" +
	"987-65-4321,Bob,Okafor,oh,audiologist,1990-07-21,2021-06-01,2027-06-01,inactive\n"

// mockS3Getter implements the S3Getter interface for testing.
type mockS3Getter struct {
	getObjectFunc func(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

func (m *mockS3Getter) GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	if m.getObjectFunc != nil {
		return m.getObjectFunc(ctx, params, optFns...)
	}
	return nil, errors.New("no object")
}

func s3GetterFor(body string) *mockS3Getter {
	return &mockS3Getter{
		getObjectFunc: func(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
			return &s3.GetObjectOutput{Body: io.NopCloser(strings.NewReader(body))}, nil
		},
	}
}

// mockCommitPublisher implements the ingest.CommitPublisher interface for testing.
type mockCommitPublisher struct {
	publishFunc func(ctx context.Context, msg *ingest.CommitMessage) error
	messages    []*ingest.CommitMessage
}

func (m *mockCommitPublisher) PublishCommit(ctx context.Context, msg *ingest.CommitMessage) error {
	m.messages = append(m.messages, msg)
	if m.publishFunc != nil {
		return m.publishFunc(ctx, msg)
	}
	return nil
}

// mockEventPublisher implements the EventPublisher interface for testing.
type mockEventPublisher struct {
	publishFunc func(ctx context.Context, detailType string, detail any) error
	published   []publishedEvent
}

type publishedEvent struct {
	detailType string
	detail     map[string]any
}

func (m *mockEventPublisher) Publish(ctx context.Context, detailType string, detail any) error {
	entry := publishedEvent{detailType: detailType}
	if d, ok := detail.(map[string]any); ok {
		entry.detail = d
	}
	m.published = append(m.published, entry)
	if m.publishFunc != nil {
		return m.publishFunc(ctx, detailType, detail)
	}
	return nil
}

func (m *mockEventPublisher) byType(detailType string) []publishedEvent {
	var out []publishedEvent
	for _, e := range m.published {
		if e.detailType == detailType {
			out = append(out, e)
		}
	}
	return out
}

func uploadEvent(key string) lambdaevents.S3Event {
	return lambdaevents.S3Event{
		Records: []lambdaevents.S3EventRecord{
			{
				S3: lambdaevents.S3Entity{
					Bucket: lambdaevents.S3Bucket{Name: "upload-bucket"},
					Object: lambdaevents.S3Object{Key: key},
				},
			},
		},
	}
}

func TestHandler_ValidUpload(t *testing.T) {
	publisher := &mockCommitPublisher{}
	eventPub := &mockEventPublisher{}

	h := newHandler(s3GetterFor(sampleCSV), publisher, eventPub, 100)

	if err := h.handle(context.Background(), uploadEvent("aslp/oh/upload-42.csv")); err != nil {
		t.Fatalf("handle failed: %v", err)
	}

	if len(publisher.messages) != 1 {
		t.Fatalf("commit messages = %d, want 1", len(publisher.messages))
	}
	msg := publisher.messages[0]
	if msg.Compact != "aslp" || msg.Jurisdiction != "oh" || msg.UploadID != "upload-42" {
		t.Errorf("message = %+v", msg)
	}
	if len(msg.Rows) != 2 {
		t.Errorf("rows = %d, want 2", len(msg.Rows))
	}
	if msg.Rows[0].FamilyName != "Nguyen" {
		t.Errorf("first row = %+v", msg.Rows[0])
	}

	if got := eventPub.byType(events.TypeIngestReceived); len(got) != 1 {
		t.Errorf("received events = %d, want 1", len(got))
	}
	queued := eventPub.byType(events.TypeIngestQueued)
	if len(queued) != 1 {
		t.Fatalf("queued events = %d, want 1", len(queued))
	}
	if queued[0].detail["queuedRows"] != 2 || queued[0].detail["rejectedRows"] != 0 {
		t.Errorf("queued detail = %v", queued[0].detail)
	}
}

func TestHandler_InvalidRowReportedAndSkipped(t *testing.T) {
	body := "ssn,givenName,familyName,jurisdiction,licenseType,dateOfBirth,dateOfIssuance,dateOfExpiration,licenseStatus\n" +
		"not-an-ssn,Alice,Nguyen,oh,audiologist,1985-03-02,2020-01-15,2026-01-15,active\n" +
		"987-65-4321,Bob,Okafor,oh,audiologist,1990-07-21,2021-06-01,2027-06-01,inactive\n"

	publisher := &mockCommitPublisher{}
	eventPub := &mockEventPublisher{}

	h := newHandler(s3GetterFor(body), publisher, eventPub, 100)

	if err := h.handle(context.Background(), uploadEvent("aslp/oh/upload-42.csv")); err != nil {
		t.Fatalf("handle failed: %v", err)
	}

	if len(publisher.messages) != 1 || len(publisher.messages[0].Rows) != 1 {
		t.Fatalf("messages = %+v, want one message with the valid row", publisher.messages)
	}
	if publisher.messages[0].Rows[0].FamilyName != "Okafor" {
		t.Errorf("queued row = %+v", publisher.messages[0].Rows[0])
	}

	rowErrors := eventPub.byType(events.TypeValidationError)
	if len(rowErrors) != 1 {
		t.Fatalf("validation events = %d, want 1", len(rowErrors))
	}
	if rowErrors[0].detail["recordNumber"] != 1 {
		t.Errorf("recordNumber = %v, want 1", rowErrors[0].detail["recordNumber"])
	}
	// The rejected row's sensitive values never ride on the event.
	if fields, ok := rowErrors[0].detail["fields"].(map[string]any); ok {
		if _, has := fields["ssn"]; has {
			t.Error("validation event carries ssn")
		}
	}
}

func TestHandler_MalformedKeyDropped(t *testing.T) {
	publisher := &mockCommitPublisher{}
	eventPub := &mockEventPublisher{}

	h := newHandler(s3GetterFor(sampleCSV), publisher, eventPub, 100)

	if err := h.handle(context.Background(), uploadEvent("stray-file.csv")); err != nil {
		t.Fatalf("handle failed: %v", err)
	}
	if len(publisher.messages) != 0 {
		t.Errorf("messages = %d, want 0", len(publisher.messages))
	}
	if len(eventPub.published) != 0 {
		t.Errorf("published = %v, want none", eventPub.published)
	}
}

func TestHandler_EmptyUpload(t *testing.T) {
	publisher := &mockCommitPublisher{}
	eventPub := &mockEventPublisher{}

	h := newHandler(s3GetterFor(""), publisher, eventPub, 100)

	if err := h.handle(context.Background(), uploadEvent("aslp/oh/upload-42.csv")); err != nil {
		t.Fatalf("handle failed: %v", err)
	}

	queued := eventPub.byType(events.TypeIngestQueued)
	if len(queued) != 1 {
		t.Fatalf("queued events = %d, want 1", len(queued))
	}
	if queued[0].detail["queuedRows"] != 0 {
		t.Errorf("queued detail = %v", queued[0].detail)
	}
}

func TestHandler_S3FailureRetries(t *testing.T) {
	s3Client := &mockS3Getter{
		getObjectFunc: func(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
			return nil, errors.New("access denied")
		},
	}

	h := newHandler(s3Client, &mockCommitPublisher{}, &mockEventPublisher{}, 100)

	if err := h.handle(context.Background(), uploadEvent("aslp/oh/upload-42.csv")); err == nil {
		t.Fatal("handle succeeded, want error so the notification is retried")
	}
}

func TestHandler_QueueFailureFailsUpload(t *testing.T) {
	publisher := &mockCommitPublisher{
		publishFunc: func(ctx context.Context, msg *ingest.CommitMessage) error {
			return errors.New("queue unavailable")
		},
	}
	eventPub := &mockEventPublisher{}

	h := newHandler(s3GetterFor(sampleCSV), publisher, eventPub, 1)

	if err := h.handle(context.Background(), uploadEvent("aslp/oh/upload-42.csv")); err == nil {
		t.Fatal("handle succeeded, want error")
	}
	if got := eventPub.byType(events.TypeIngestFailed); len(got) != 1 {
		t.Errorf("failed events = %d, want 1", len(got))
	}
}
