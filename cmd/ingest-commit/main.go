// Package main implements the ingest-commit SQS consumer Lambda handler.
package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"time"

	lambdaevents "github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge"

	"github.com/licensecompact/provider-data/internal/awsinit"
	"github.com/licensecompact/provider-data/internal/events"
	"github.com/licensecompact/provider-data/internal/ingest"
	"github.com/licensecompact/provider-data/internal/logging"
	"github.com/licensecompact/provider-data/internal/provider"
	"github.com/licensecompact/provider-data/internal/tracing"
)

var logger = logging.New()

// BatchCommitter applies one commit message.
type BatchCommitter interface {
	CommitBatch(ctx context.Context, msg *ingest.CommitMessage) error
}

// handler implements the ingest-commit SQS consumer logic.
type handler struct {
	committer BatchCommitter
}

// newHandler creates a new handler.
func newHandler(committer BatchCommitter) *handler {
	return &handler{committer: committer}
}

// handle processes an SQS event of commit messages. Failed messages are
// reported individually so the rest of the batch is not redelivered.
func (h *handler) handle(ctx context.Context, event lambdaevents.SQSEvent) (lambdaevents.SQSEventResponse, error) {
	tracer := tracing.Tracer("ingest-commit")
	ctx, span := tracer.Start(ctx, "IngestCommitHandler")
	defer span.End()

	var failures []lambdaevents.SQSBatchItemFailure

	for _, record := range event.Records {
		var msg ingest.CommitMessage
		if err := json.Unmarshal([]byte(record.Body), &msg); err != nil {
			logger.ErrorContext(ctx, "Failed to parse SQS message",
				slog.String("message_id", record.MessageId),
				slog.String("error", err.Error()),
			)
			failures = append(failures, lambdaevents.SQSBatchItemFailure{
				ItemIdentifier: record.MessageId,
			})
			continue
		}

		if err := h.committer.CommitBatch(ctx, &msg); err != nil {
			logger.ErrorContext(ctx, "Failed to commit batch",
				slog.String("message_id", record.MessageId),
				slog.String("upload_id", msg.UploadID),
				slog.String("error", err.Error()),
			)
			failures = append(failures, lambdaevents.SQSBatchItemFailure{
				ItemIdentifier: record.MessageId,
			})
		}
	}

	logger.InfoContext(ctx, "Commit batch completed",
		slog.Int("total", len(event.Records)),
		slog.Int("failures", len(failures)),
	)

	return lambdaevents.SQSEventResponse{
		BatchItemFailures: failures,
	}, nil
}

func main() {
	ctx := context.Background()

	result, err := awsinit.Init(ctx, logger)
	if err != nil {
		logger.Error("FATAL: Failed to initialize", slog.String("error", err.Error()))
		panic(err)
	}

	tableName := os.Getenv("PROVIDER_TABLE_NAME")
	busName := os.Getenv("EVENT_BUS_NAME")

	dynamoClient := dynamodb.NewFromConfig(result.Config)

	// Warm the DynamoDB connection during init
	warmCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	_, _ = dynamoClient.GetItem(warmCtx, &dynamodb.GetItemInput{
		TableName: aws.String(tableName),
		Key: map[string]types.AttributeValue{
			"pk": &types.AttributeValueMemberS{Value: "WARMUP"},
			"sk": &types.AttributeValueMemberS{Value: "WARMUP"},
		},
	})
	cancel()

	repo := provider.NewRepository(dynamoClient, tableName)
	publisher := events.NewPublisher(eventbridge.NewFromConfig(result.Config), busName, "provider-data")
	committer := ingest.NewCommitter(repo, publisher, logger)

	h := newHandler(committer)
	result.Start(h.handle)
}
