// Package main implements the provider-query Lambda handler.
package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	lambdasvc "github.com/aws/aws-sdk-go-v2/service/lambda"

	"github.com/licensecompact/provider-data/internal/awsinit"
	"github.com/licensecompact/provider-data/internal/cursor"
	"github.com/licensecompact/provider-data/internal/logging"
	"github.com/licensecompact/provider-data/internal/provider"
	"github.com/licensecompact/provider-data/internal/ratelimit"
	"github.com/licensecompact/provider-data/internal/tracing"
)

var logger = logging.New()

// Default rate limit settings, overridable by environment.
const (
	defaultWindowSeconds    = 60
	defaultCallerThreshold  = 100
	defaultBreakerThreshold = 5000
)

// request is the provider-query invocation payload.
type request struct {
	Compact      string `json:"compact"`
	CallerID     string `json:"callerId"`
	NamePrefix   string `json:"namePrefix,omitempty"`
	Jurisdiction string `json:"jurisdiction,omitempty"`
	SortBy       string `json:"sortBy,omitempty"`
	Ascending    bool   `json:"ascending,omitempty"`
	PageSize     int    `json:"pageSize,omitempty"`
	Cursor       string `json:"cursor,omitempty"`
}

// response is the provider-query result payload.
type response struct {
	Providers  []map[string]any `json:"providers,omitempty"`
	NextCursor string           `json:"nextCursor,omitempty"`
	Error      *errorBody       `json:"error,omitempty"`
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ProviderQuerier defines the interface for querying provider summaries.
type ProviderQuerier interface {
	QueryProviders(ctx context.Context, compact string, q provider.Query) (*provider.Page, error)
}

// RateChecker checks one caller against the request budget.
type RateChecker interface {
	Check(ctx context.Context, identity string) error
}

// BreakerChecker checks the global request volume.
type BreakerChecker interface {
	Check(ctx context.Context) error
}

// handler implements the provider-query logic.
type handler struct {
	repo    ProviderQuerier
	limiter RateChecker
	breaker BreakerChecker
}

// newHandler creates a new handler.
func newHandler(repo ProviderQuerier, limiter RateChecker, breaker BreakerChecker) *handler {
	return &handler{
		repo:    repo,
		limiter: limiter,
		breaker: breaker,
	}
}

// handle processes a provider-query request.
func (h *handler) handle(ctx context.Context, req request) (response, error) {
	tracer := tracing.Tracer("provider-query")
	ctx, span := tracer.Start(ctx, "ProviderQueryHandler")
	defer span.End()

	if req.Compact == "" || req.CallerID == "" {
		return errorResponse("invalidInput", "compact and callerId are required"), nil
	}

	if err := h.breaker.Check(ctx); err != nil {
		logger.WarnContext(ctx, "Request rejected by circuit breaker",
			slog.String("caller_id", req.CallerID),
			slog.String("error", err.Error()),
		)
		return errorResponse("rateLimited", "service is over capacity"), nil
	}
	if err := h.limiter.Check(ctx, req.CallerID); err != nil {
		logger.WarnContext(ctx, "Request rejected by rate limiter",
			slog.String("caller_id", req.CallerID),
			slog.String("error", err.Error()),
		)
		return errorResponse("rateLimited", "request budget exceeded"), nil
	}

	page, err := h.repo.QueryProviders(ctx, req.Compact, provider.Query{
		NamePrefix:   req.NamePrefix,
		Jurisdiction: req.Jurisdiction,
		SortBy:       req.SortBy,
		Ascending:    req.Ascending,
		PageSize:     req.PageSize,
		Cursor:       req.Cursor,
	})
	if err != nil {
		if errors.Is(err, cursor.ErrInvalidCursor) {
			return errorResponse("invalidInput", "cursor is not valid"), nil
		}
		logger.ErrorContext(ctx, "Failed to query providers",
			slog.String("compact", req.Compact),
			slog.String("error", err.Error()),
		)
		return errorResponse("internal", "failed to query providers"), nil
	}

	providers := make([]map[string]any, len(page.Providers))
	for i, sum := range page.Providers {
		providers[i] = transformSummary(sum)
	}

	logger.InfoContext(ctx, "provider-query completed",
		slog.String("compact", req.Compact),
		slog.Int("count", len(providers)),
	)
	return response{Providers: providers, NextCursor: page.NextCursor}, nil
}

// transformSummary converts a summary to the response format. Only
// public searchable fields appear; identifiers never do.
func transformSummary(s *provider.Summary) map[string]any {
	out := map[string]any{
		"providerId":          s.ProviderID,
		"compact":             s.Compact,
		"givenName":           s.GivenName,
		"familyName":          s.FamilyName,
		"licenseJurisdiction": s.LicenseJurisdiction,
		"dateOfUpdate":        s.DateOfUpdate.UTC().Format(time.RFC3339),
	}
	if s.MiddleName != "" {
		out["middleName"] = s.MiddleName
	}
	if len(s.PrivilegeJurisdictions) > 0 {
		out["privilegeJurisdictions"] = s.PrivilegeJurisdictions
	}
	if s.DateOfExpiration != "" {
		out["dateOfExpiration"] = s.DateOfExpiration
	}
	return out
}

func errorResponse(code, message string) response {
	return response{Error: &errorBody{Code: code, Message: message}}
}

// envInt reads an integer environment variable with a fallback.
func envInt(name string, fallback int) int {
	if raw := os.Getenv(name); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			return parsed
		}
	}
	return fallback
}

func main() {
	ctx := context.Background()

	result, err := awsinit.Init(ctx, logger)
	if err != nil {
		logger.Error("FATAL: Failed to initialize", slog.String("error", err.Error()))
		panic(err)
	}

	tableName := os.Getenv("PROVIDER_TABLE_NAME")
	functionName := os.Getenv("AWS_LAMBDA_FUNCTION_NAME")
	window := time.Duration(envInt("RATE_WINDOW_SECONDS", defaultWindowSeconds)) * time.Second
	callerThreshold := envInt("RATE_CALLER_THRESHOLD", defaultCallerThreshold)
	breakerThreshold := envInt("RATE_BREAKER_THRESHOLD", defaultBreakerThreshold)

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
	limiter := ratelimit.NewLimiter(dynamoClient, tableName, window, callerThreshold)
	breaker := ratelimit.NewBreaker(dynamoClient, lambdasvc.NewFromConfig(result.Config),
		tableName, functionName, window, breakerThreshold, logger)

	h := newHandler(repo, limiter, breaker)
	result.Start(h.handle)
}
