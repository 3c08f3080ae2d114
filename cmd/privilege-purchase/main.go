// Package main implements the privilege-purchase Lambda handler.
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
	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	"github.com/google/uuid"

	"github.com/licensecompact/provider-data/internal/awsinit"
	"github.com/licensecompact/provider-data/internal/events"
	"github.com/licensecompact/provider-data/internal/logging"
	"github.com/licensecompact/provider-data/internal/provider"
	"github.com/licensecompact/provider-data/internal/tracing"
)

var logger = logging.New()

// request is the privilege-purchase invocation payload.
type request struct {
	Compact      string `json:"compact"`
	ProviderID   string `json:"providerId"`
	Jurisdiction string `json:"jurisdiction"`
	LicenseType  string `json:"licenseType"`
}

// response is the privilege-purchase result payload.
type response struct {
	PrivilegeID      string     `json:"privilegeId,omitempty"`
	DateOfExpiration string     `json:"dateOfExpiration,omitempty"`
	Error            *errorBody `json:"error,omitempty"`
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ProviderRepository defines the interface for privilege creation.
type ProviderRepository interface {
	GetProvider(ctx context.Context, compact, providerID string, tier provider.HistoryTier) (*provider.Provider, error)
	CreatePrivilege(ctx context.Context, priv *provider.Privilege) error
}

// EventPublisher publishes domain events.
type EventPublisher interface {
	Publish(ctx context.Context, detailType string, detail any) error
}

// handler implements the privilege-purchase logic.
type handler struct {
	repo   ProviderRepository
	events EventPublisher
	now    func() time.Time
	newID  func() string
}

// newHandler creates a new handler.
func newHandler(repo ProviderRepository, publisher EventPublisher) *handler {
	return &handler{
		repo:   repo,
		events: publisher,
		now:    time.Now,
		newID:  uuid.NewString,
	}
}

// handle processes a privilege purchase. The privilege is backed by the
// provider's active home-jurisdiction license of the same type and
// expires with it.
func (h *handler) handle(ctx context.Context, req request) (response, error) {
	tracer := tracing.Tracer("privilege-purchase")
	ctx, span := tracer.Start(ctx, "PrivilegePurchaseHandler")
	defer span.End()

	if req.Compact == "" || req.ProviderID == "" || req.Jurisdiction == "" || req.LicenseType == "" {
		return errorResponse("invalidInput", "compact, providerId, jurisdiction, and licenseType are required"), nil
	}

	p, err := h.repo.GetProvider(ctx, req.Compact, req.ProviderID, provider.HistoryNone)
	if err != nil {
		if errors.Is(err, provider.ErrProviderNotFound) {
			return errorResponse("notFound", "provider not found"), nil
		}
		logger.ErrorContext(ctx, "Failed to load provider for purchase",
			slog.String("compact", req.Compact),
			slog.String("provider_id", req.ProviderID),
			slog.String("error", err.Error()),
		)
		return errorResponse("internal", "failed to load provider"), nil
	}

	backing := activeLicense(p, req.LicenseType, h.now())
	if backing == nil {
		return errorResponse("invalidInput", "no active license of this type backs the privilege"), nil
	}
	if backing.Jurisdiction == req.Jurisdiction {
		return errorResponse("invalidInput", "privilege jurisdiction cannot be the home jurisdiction"), nil
	}

	priv := &provider.Privilege{
		Compact:             req.Compact,
		ProviderID:          req.ProviderID,
		PrivilegeID:         h.newID(),
		Jurisdiction:        req.Jurisdiction,
		LicenseType:         req.LicenseType,
		LicenseJurisdiction: backing.Jurisdiction,
		DateOfIssuance:      h.now().UTC().Format("2006-01-02"),
		DateOfExpiration:    backing.DateOfExpiration,
	}

	if err := h.repo.CreatePrivilege(ctx, priv); err != nil {
		switch {
		case errors.Is(err, provider.ErrProviderNotFound):
			return errorResponse("notFound", "provider not found"), nil
		case errors.Is(err, provider.ErrPrivilegeExists):
			return errorResponse("conflict", "privilege already exists for this jurisdiction and license type"), nil
		}
		logger.ErrorContext(ctx, "Failed to create privilege",
			slog.String("compact", req.Compact),
			slog.String("provider_id", req.ProviderID),
			slog.String("error", err.Error()),
		)
		return errorResponse("internal", "failed to create privilege"), nil
	}

	if err := h.events.Publish(ctx, events.TypePrivilegeIssued, map[string]any{
		"compact":      req.Compact,
		"providerId":   req.ProviderID,
		"privilegeId":  priv.PrivilegeID,
		"jurisdiction": req.Jurisdiction,
		"licenseType":  req.LicenseType,
	}); err != nil {
		logger.WarnContext(ctx, "Failed to publish purchase event",
			slog.String("privilege_id", priv.PrivilegeID),
			slog.String("error", err.Error()),
		)
	}

	logger.InfoContext(ctx, "privilege-purchase completed",
		slog.String("compact", req.Compact),
		slog.String("provider_id", req.ProviderID),
		slog.String("privilege_id", priv.PrivilegeID),
	)
	return response{PrivilegeID: priv.PrivilegeID, DateOfExpiration: priv.DateOfExpiration}, nil
}

// activeLicense finds a license of the requested type that is active at
// the evaluation instant.
func activeLicense(p *provider.Provider, licenseType string, at time.Time) *provider.License {
	for _, lic := range p.Licenses {
		if lic.LicenseType == licenseType && lic.ComputedStatus(at) == provider.StatusActive {
			return lic
		}
	}
	return nil
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

	h := newHandler(repo, publisher)
	result.Start(h.handle)
}
