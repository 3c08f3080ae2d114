// Package main implements the index-sync DynamoDB stream consumer
// Lambda handler.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"

	lambdaevents "github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/licensecompact/provider-data/internal/awsinit"
	"github.com/licensecompact/provider-data/internal/indexsync"
	"github.com/licensecompact/provider-data/internal/logging"
	"github.com/licensecompact/provider-data/internal/provider"
	"github.com/licensecompact/provider-data/internal/search"
	"github.com/licensecompact/provider-data/internal/tracing"
)

var logger = logging.New()

// Syncer applies one stream batch to the search index.
type Syncer interface {
	SyncBatch(ctx context.Context, records []indexsync.ChangeRecord) []string
}

// handler implements the index-sync stream consumer logic.
type handler struct {
	syncer Syncer
}

// newHandler creates a new handler.
func newHandler(syncer Syncer) *handler {
	return &handler{syncer: syncer}
}

// handle processes a table stream batch. Failed records are reported by
// sequence number so the stream checkpoint does not pass over them.
func (h *handler) handle(ctx context.Context, event lambdaevents.DynamoDBEvent) (lambdaevents.DynamoDBEventResponse, error) {
	tracer := tracing.Tracer("index-sync")
	ctx, span := tracer.Start(ctx, "IndexSyncHandler")
	defer span.End()

	records := make([]indexsync.ChangeRecord, 0, len(event.Records))
	for _, rec := range event.Records {
		pk := rec.Change.Keys["pk"].String()
		sk := rec.Change.Keys["sk"].String()
		records = append(records, indexsync.ChangeRecord{
			MessageID: rec.Change.SequenceNumber,
			PK:        pk,
			SK:        sk,
		})
	}

	failed := h.syncer.SyncBatch(ctx, records)

	failures := make([]lambdaevents.DynamoDBBatchItemFailure, len(failed))
	for i, id := range failed {
		failures[i] = lambdaevents.DynamoDBBatchItemFailure{ItemIdentifier: id}
	}

	logger.InfoContext(ctx, "Index sync batch completed",
		slog.Int("total", len(event.Records)),
		slog.Int("failures", len(failures)),
	)

	return lambdaevents.DynamoDBEventResponse{
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
	searchEndpoint := os.Getenv("SEARCH_ENDPOINT")
	indexPrefix := os.Getenv("SEARCH_INDEX_PREFIX")
	if indexPrefix == "" {
		indexPrefix = "providers"
	}

	dynamoClient := dynamodb.NewFromConfig(result.Config)
	repo := provider.NewRepository(dynamoClient, tableName)

	// Search client with OTel instrumentation and SigV4 signing
	baseTransport := otelhttp.NewTransport(http.DefaultTransport)
	transport := search.NewSigV4Transport(baseTransport, result.Config.Credentials, result.Config.Region,
		search.SigningServiceOpenSearch)
	searchClient := search.NewClient(&http.Client{Transport: transport}, searchEndpoint)

	syncer := indexsync.NewSynchronizer(repo, searchClient, indexPrefix, logger)

	h := newHandler(syncer)
	result.Start(h.handle)
}
