// Package events publishes domain events to the compact event bus.
// Delivery is fire-and-forget, at-least-once to subscribers; callers on
// side paths log failures and continue.
package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge/types"
)

// Detail types carried on the bus.
const (
	TypeValidationError = "license.validation-error"
	TypeIngestReceived  = "license.ingest-received"
	TypeIngestQueued    = "license.ingest-queued"
	TypeIngestFailed    = "license.ingest-failed"
	TypeIngestCommitted = "license.ingest-committed"
	TypeLicenseUpdated  = "license.updated"
	TypePrivilegeIssued = "privilege.issued"
)

// EventBridgeClient abstracts event bus writes for dependency inversion.
type EventBridgeClient interface {
	PutEvents(ctx context.Context, params *eventbridge.PutEventsInput, optFns ...func(*eventbridge.Options)) (*eventbridge.PutEventsOutput, error)
}

// Publisher publishes events to an EventBridge bus.
type Publisher struct {
	client  EventBridgeClient
	busName string
	source  string
}

// NewPublisher creates a new Publisher.
func NewPublisher(client EventBridgeClient, busName, source string) *Publisher {
	return &Publisher{
		client:  client,
		busName: busName,
		source:  source,
	}
}

// Publish sends one event. detail must marshal to JSON.
func (p *Publisher) Publish(ctx context.Context, detailType string, detail any) error {
	body, err := json.Marshal(detail)
	if err != nil {
		return fmt.Errorf("marshal event detail: %w", err)
	}

	output, err := p.client.PutEvents(ctx, &eventbridge.PutEventsInput{
		Entries: []types.PutEventsRequestEntry{
			{
				EventBusName: aws.String(p.busName),
				Source:       aws.String(p.source),
				DetailType:   aws.String(detailType),
				Detail:       aws.String(string(body)),
			},
		},
	})
	if err != nil {
		return fmt.Errorf("put event %s: %w", detailType, err)
	}
	if output.FailedEntryCount > 0 {
		entry := output.Entries[0]
		return fmt.Errorf("put event %s rejected: %s", detailType, aws.ToString(entry.ErrorMessage))
	}
	return nil
}
