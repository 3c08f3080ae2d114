// Package main implements the event-notify SQS consumer Lambda handler.
// Bus events routed onto the notification queue fan out to jurisdiction
// and provider topics; a delivery ledger keeps redelivered messages
// from re-notifying recipients already served.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	lambdaevents "github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/sns"

	"github.com/licensecompact/provider-data/internal/awsinit"
	"github.com/licensecompact/provider-data/internal/events"
	"github.com/licensecompact/provider-data/internal/logging"
	"github.com/licensecompact/provider-data/internal/notify"
	"github.com/licensecompact/provider-data/internal/tracing"
)

var logger = logging.New()

// defaultLedgerTTL bounds how long delivery records are kept. It only
// needs to outlive the queue's redelivery horizon.
const defaultLedgerTTL = 14 * 24 * time.Hour

// busEvent is the EventBridge envelope as delivered through SQS.
type busEvent struct {
	DetailType string          `json:"detail-type"`
	Source     string          `json:"source"`
	Detail     json.RawMessage `json:"detail"`
}

// TrackerLoader loads the delivery ledger for one message.
type TrackerLoader interface {
	TrackerFor(ctx context.Context, messageID string, logger *slog.Logger) (*notify.Tracker, error)
}

// NotificationSender delivers one notification.
type NotificationSender interface {
	Send(ctx context.Context, recipient notify.Recipient, subject, body string) error
}

// handler implements the event-notify SQS consumer logic.
type handler struct {
	ledger TrackerLoader
	sender NotificationSender
}

// newHandler creates a new handler.
func newHandler(ledger TrackerLoader, sender NotificationSender) *handler {
	return &handler{
		ledger: ledger,
		sender: sender,
	}
}

// handle processes an SQS event of bus events.
func (h *handler) handle(ctx context.Context, event lambdaevents.SQSEvent) (lambdaevents.SQSEventResponse, error) {
	tracer := tracing.Tracer("event-notify")
	ctx, span := tracer.Start(ctx, "EventNotifyHandler")
	defer span.End()

	var failures []lambdaevents.SQSBatchItemFailure

	for _, record := range event.Records {
		if err := h.processMessage(ctx, record.MessageId, record.Body); err != nil {
			logger.ErrorContext(ctx, "Failed to process notification message",
				slog.String("message_id", record.MessageId),
				slog.String("error", err.Error()),
			)
			failures = append(failures, lambdaevents.SQSBatchItemFailure{
				ItemIdentifier: record.MessageId,
			})
		}
	}

	logger.InfoContext(ctx, "Notification batch completed",
		slog.Int("total", len(event.Records)),
		slog.Int("failures", len(failures)),
	)

	return lambdaevents.SQSEventResponse{
		BatchItemFailures: failures,
	}, nil
}

// processMessage fans one bus event out to its recipients. Any failed
// recipient fails the message; already-delivered recipients are skipped
// on redelivery.
func (h *handler) processMessage(ctx context.Context, messageID, body string) error {
	var evt busEvent
	if err := json.Unmarshal([]byte(body), &evt); err != nil {
		return fmt.Errorf("parse bus event: %w", err)
	}

	var detail map[string]any
	if err := json.Unmarshal(evt.Detail, &detail); err != nil {
		return fmt.Errorf("parse event detail: %w", err)
	}

	recipients := recipientsFor(evt.DetailType, detail)
	if len(recipients) == 0 {
		logger.InfoContext(ctx, "No recipients for event, skipping",
			slog.String("detail_type", evt.DetailType),
		)
		return nil
	}

	tracker, err := h.ledger.TrackerFor(ctx, messageID, logger)
	if err != nil {
		return fmt.Errorf("load delivery ledger: %w", err)
	}

	subject := subjectFor(evt.DetailType)
	msgBody := string(evt.Detail)

	var failed int
	for _, recipient := range recipients {
		if !tracker.ShouldSend(recipient) {
			continue
		}
		if err := h.sender.Send(ctx, recipient, subject, msgBody); err != nil {
			logger.WarnContext(ctx, "Notification delivery failed",
				slog.String("message_id", messageID),
				slog.String("recipient", recipient.Type+"#"+recipient.Key),
				slog.String("error", err.Error()),
			)
			if err := tracker.RecordFailure(ctx, recipient); err != nil {
				return fmt.Errorf("record delivery failure: %w", err)
			}
			failed++
			continue
		}
		tracker.RecordSuccess(ctx, recipient)
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d recipients failed", failed, len(recipients))
	}
	return nil
}

// recipientsFor maps an event type to its notification targets.
func recipientsFor(detailType string, detail map[string]any) []notify.Recipient {
	jurisdiction, _ := detail["jurisdiction"].(string)
	providerID, _ := detail["providerId"].(string)

	var recipients []notify.Recipient
	switch detailType {
	case events.TypeValidationError, events.TypeIngestFailed:
		if jurisdiction != "" {
			recipients = append(recipients, notify.Recipient{Type: notify.RecipientJurisdiction, Key: jurisdiction})
		}
	case events.TypeLicenseUpdated:
		if jurisdiction != "" {
			recipients = append(recipients, notify.Recipient{Type: notify.RecipientJurisdiction, Key: jurisdiction})
		}
		if providerID != "" {
			recipients = append(recipients, notify.Recipient{Type: notify.RecipientProvider, Key: providerID})
		}
	case events.TypePrivilegeIssued:
		if jurisdiction != "" {
			recipients = append(recipients, notify.Recipient{Type: notify.RecipientJurisdiction, Key: jurisdiction})
		}
		if providerID != "" {
			recipients = append(recipients, notify.Recipient{Type: notify.RecipientProvider, Key: providerID})
		}
	}
	return recipients
}

func subjectFor(detailType string) string {
	switch detailType {
	case events.TypeValidationError:
		return "License upload rows were rejected"
	case events.TypeIngestFailed:
		return "License upload processing failed"
	case events.TypeLicenseUpdated:
		return "A license record was updated"
	case events.TypePrivilegeIssued:
		return "A compact privilege was issued"
	default:
		return detailType
	}
}

func main() {
	ctx := context.Background()

	result, err := awsinit.Init(ctx, logger)
	if err != nil {
		logger.Error("FATAL: Failed to initialize", slog.String("error", err.Error()))
		panic(err)
	}

	tableName := os.Getenv("PROVIDER_TABLE_NAME")
	jurisdictionTopicARN := os.Getenv("JURISDICTION_TOPIC_ARN")
	providerTopicARN := os.Getenv("PROVIDER_TOPIC_ARN")

	dynamoClient := dynamodb.NewFromConfig(result.Config)
	ledger := notify.NewLedger(dynamoClient, tableName, defaultLedgerTTL)
	sender := notify.NewSender(sns.NewFromConfig(result.Config), jurisdictionTopicARN, providerTopicARN)

	h := newHandler(ledger, sender)
	result.Start(h.handle)
}
