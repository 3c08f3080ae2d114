// Package main implements the provider-get Lambda handler.
package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/licensecompact/provider-data/internal/awsinit"
	"github.com/licensecompact/provider-data/internal/logging"
	"github.com/licensecompact/provider-data/internal/provider"
	"github.com/licensecompact/provider-data/internal/tracing"
)

var logger = logging.New()

// request is the provider-get invocation payload.
type request struct {
	Compact    string `json:"compact"`
	ProviderID string `json:"providerId"`
	// IncludeHistory selects the update-history tier: "", "diffs", "full".
	IncludeHistory string `json:"includeHistory,omitempty"`
}

// response is the provider-get result payload.
type response struct {
	Provider map[string]any `json:"provider,omitempty"`
	Error    *errorBody     `json:"error,omitempty"`
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ProviderRepository defines the interface for reading provider records.
type ProviderRepository interface {
	GetProvider(ctx context.Context, compact, providerID string, tier provider.HistoryTier) (*provider.Provider, error)
}

// handler implements the provider-get logic.
type handler struct {
	repo ProviderRepository
}

// newHandler creates a new handler.
func newHandler(repo ProviderRepository) *handler {
	return &handler{repo: repo}
}

// handle processes a provider-get request.
func (h *handler) handle(ctx context.Context, req request) (response, error) {
	tracer := tracing.Tracer("provider-get")
	ctx, span := tracer.Start(ctx, "ProviderGetHandler")
	defer span.End()

	if req.Compact == "" || req.ProviderID == "" {
		return errorResponse("invalidInput", "compact and providerId are required"), nil
	}

	tier, ok := historyTier(req.IncludeHistory)
	if !ok {
		return errorResponse("invalidInput", "includeHistory must be empty, diffs, or full"), nil
	}

	p, err := h.repo.GetProvider(ctx, req.Compact, req.ProviderID, tier)
	if err != nil {
		if errors.Is(err, provider.ErrProviderNotFound) {
			return errorResponse("notFound", "provider not found"), nil
		}
		logger.ErrorContext(ctx, "Failed to get provider",
			slog.String("compact", req.Compact),
			slog.String("provider_id", req.ProviderID),
			slog.String("error", err.Error()),
		)
		return errorResponse("internal", "failed to load provider"), nil
	}

	doc, err := p.Document()
	if err != nil {
		// The output schema rejected the assembled record; never let it out.
		logger.ErrorContext(ctx, "Provider document failed sanitization",
			slog.String("compact", req.Compact),
			slog.String("provider_id", req.ProviderID),
			slog.String("error", err.Error()),
		)
		return errorResponse("internal", "failed to load provider"), nil
	}

	logger.InfoContext(ctx, "provider-get completed",
		slog.String("compact", req.Compact),
		slog.String("provider_id", req.ProviderID),
	)
	return response{Provider: doc}, nil
}

func historyTier(includeHistory string) (provider.HistoryTier, bool) {
	switch includeHistory {
	case "", "none":
		return provider.HistoryNone, true
	case "diffs":
		return provider.HistoryDiffs, true
	case "full":
		return provider.HistoryFull, true
	default:
		return provider.HistoryNone, false
	}
}

func errorResponse(code, message string) response {
	return response{Error: &errorBody{Code: code, Message: message}}
}

func main() {
	ctx := context.Background()

	result, err := awsinit.Init(ctx, logger)
	if err != nil {
		logger.Error("FATAL: Failed to initialize", slog.String("error", err.Error()))
		panic(err)
	}

	tableName := os.Getenv("PROVIDER_TABLE_NAME")

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

	h := newHandler(repo)
	result.Start(h.handle)
}
