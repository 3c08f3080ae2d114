// Package main implements the bulk-upload-validate Lambda handler. It
// streams uploaded license files out of S3, validates every row, and
// queues valid rows for the commit consumer in fixed-size batches.
package main

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	lambdaevents "github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"github.com/licensecompact/provider-data/internal/awsinit"
	"github.com/licensecompact/provider-data/internal/events"
	"github.com/licensecompact/provider-data/internal/ingest"
	"github.com/licensecompact/provider-data/internal/logging"
	"github.com/licensecompact/provider-data/internal/tracing"
)

var logger = logging.New()

// S3Getter abstracts object retrieval for dependency inversion.
type S3Getter interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// EventPublisher publishes domain events.
type EventPublisher interface {
	Publish(ctx context.Context, detailType string, detail any) error
}

// handler implements the bulk-upload-validate logic.
type handler struct {
	s3Client  S3Getter
	publisher ingest.CommitPublisher
	events    EventPublisher
	batchSize int
}

// newHandler creates a new handler.
func newHandler(s3Client S3Getter, publisher ingest.CommitPublisher, events EventPublisher, batchSize int) *handler {
	return &handler{
		s3Client:  s3Client,
		publisher: publisher,
		events:    events,
		batchSize: batchSize,
	}
}

// handle processes an S3 upload notification.
func (h *handler) handle(ctx context.Context, event lambdaevents.S3Event) error {
	tracer := tracing.Tracer("bulk-upload-validate")
	ctx, span := tracer.Start(ctx, "BulkUploadValidateHandler")
	defer span.End()

	for _, record := range event.Records {
		bucket := record.S3.Bucket.Name
		key := record.S3.Object.Key
		if err := h.processUpload(ctx, bucket, key); err != nil {
			logger.ErrorContext(ctx, "Failed to process upload",
				slog.String("bucket", bucket),
				slog.String("key", key),
				slog.String("error", err.Error()),
			)
			return err
		}
	}
	return nil
}

// processUpload validates one uploaded file. Invalid rows are reported
// as events and do not stop the stream; infrastructure failures abort
// the upload so the notification is retried.
func (h *handler) processUpload(ctx context.Context, bucket, key string) error {
	compact, jurisdiction, uploadID, err := parseUploadKey(key)
	if err != nil {
		// A malformed key can never succeed on retry. Report and drop.
		logger.ErrorContext(ctx, "Ignoring upload with malformed key",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
		return nil
	}

	h.publishLifecycle(ctx, events.TypeIngestReceived, compact, jurisdiction, uploadID, nil)

	object, err := h.s3Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("get upload object: %w", err)
	}
	defer object.Body.Close()

	queued, rejected, err := h.validateStream(ctx, object.Body, compact, jurisdiction, uploadID)
	if err != nil {
		h.publishLifecycle(ctx, events.TypeIngestFailed, compact, jurisdiction, uploadID, map[string]any{
			"reason": err.Error(),
		})
		return err
	}

	h.publishLifecycle(ctx, events.TypeIngestQueued, compact, jurisdiction, uploadID, map[string]any{
		"queuedRows":   queued,
		"rejectedRows": rejected,
	})

	logger.InfoContext(ctx, "Upload validated",
		slog.String("upload_id", uploadID),
		slog.Int("queued", queued),
		slog.Int("rejected", rejected),
	)
	return nil
}

func (h *handler) validateStream(ctx context.Context, body io.Reader, compact, jurisdiction, uploadID string) (queued, rejected int, err error) {
	reader, err := ingest.NewRowReader(body)
	if err != nil {
		if errors.Is(err, ingest.ErrEmptyUpload) {
			return 0, 0, nil
		}
		return 0, 0, fmt.Errorf("open upload stream: %w", err)
	}

	batcher := ingest.NewBatcher(h.publisher, compact, jurisdiction, uploadID, h.batchSize)
	for {
		raw, err := reader.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		var parseErr *csv.ParseError
		if errors.As(err, &parseErr) {
			rejected++
			h.publishRowError(ctx, compact, jurisdiction, uploadID, &ingest.RowError{
				RowNumber: parseErr.Line - 1, // csv counts the header
				Errors:    map[string]string{"(record)": "row is not parseable as CSV"},
			})
			continue
		}
		if err != nil {
			return queued, rejected, fmt.Errorf("read upload row: %w", err)
		}

		row, rowErr := ingest.ValidateRow(raw)
		if rowErr != nil {
			rejected++
			h.publishRowError(ctx, compact, jurisdiction, uploadID, rowErr)
			continue
		}

		if err := batcher.Add(ctx, row); err != nil {
			return queued, rejected, fmt.Errorf("queue commit batch: %w", err)
		}
		queued++
	}

	if err := batcher.Flush(ctx); err != nil {
		return queued, rejected, fmt.Errorf("flush commit batch: %w", err)
	}
	return queued, rejected, nil
}

// publishRowError reports one rejected row. The RowError carries only
// redacted field values.
func (h *handler) publishRowError(ctx context.Context, compact, jurisdiction, uploadID string, rowErr *ingest.RowError) {
	detail := map[string]any{
		"compact":      compact,
		"jurisdiction": jurisdiction,
		"uploadId":     uploadID,
		"recordNumber": rowErr.RowNumber,
		"errors":       rowErr.Errors,
	}
	if len(rowErr.Fields) > 0 {
		detail["fields"] = rowErr.Fields
	}
	if err := h.events.Publish(ctx, events.TypeValidationError, detail); err != nil {
		logger.WarnContext(ctx, "Failed to publish validation event",
			slog.String("upload_id", uploadID),
			slog.Int("record_number", rowErr.RowNumber),
			slog.String("error", err.Error()),
		)
	}
}

func (h *handler) publishLifecycle(ctx context.Context, detailType, compact, jurisdiction, uploadID string, extra map[string]any) {
	detail := map[string]any{
		"compact":      compact,
		"jurisdiction": jurisdiction,
		"uploadId":     uploadID,
	}
	for k, v := range extra {
		detail[k] = v
	}
	if err := h.events.Publish(ctx, detailType, detail); err != nil {
		logger.WarnContext(ctx, "Failed to publish lifecycle event",
			slog.String("detail_type", detailType),
			slog.String("upload_id", uploadID),
			slog.String("error", err.Error()),
		)
	}
}

// parseUploadKey splits an object key of the form
// {compact}/{jurisdiction}/{uploadId}.csv.
func parseUploadKey(key string) (compact, jurisdiction, uploadID string, err error) {
	parts := strings.Split(key, "/")
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
		return "", "", "", fmt.Errorf("key %q is not compact/jurisdiction/file", key)
	}
	return parts[0], parts[1], strings.TrimSuffix(parts[2], ".csv"), nil
}

func main() {
	ctx := context.Background()

	result, err := awsinit.Init(ctx, logger)
	if err != nil {
		logger.Error("FATAL: Failed to initialize", slog.String("error", err.Error()))
		panic(err)
	}

	queueURL := os.Getenv("COMMIT_QUEUE_URL")
	busName := os.Getenv("EVENT_BUS_NAME")

	s3Client := s3.NewFromConfig(result.Config)
	sqsClient := sqs.NewFromConfig(result.Config)
	publisher := ingest.NewSQSPublisher(sqsClient, queueURL)
	eventPublisher := events.NewPublisher(eventbridge.NewFromConfig(result.Config), busName, "provider-data")

	h := newHandler(s3Client, publisher, eventPublisher, ingest.DefaultBatchSize)
	result.Start(h.handle)
}
