package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/lambda"
)

// ErrCircuitOpen indicates the global request volume tripped the
// breaker. Reset is a manual operator action.
var ErrCircuitOpen = errors.New("circuit breaker open")

// globalIdentity is the shared window partition the breaker counts.
const globalIdentity = "GLOBAL"

// LambdaClient abstracts the concurrency control call for dependency
// inversion.
type LambdaClient interface {
	PutFunctionConcurrency(ctx context.Context, params *lambda.PutFunctionConcurrencyInput, optFns ...func(*lambda.Options)) (*lambda.PutFunctionConcurrencyOutput, error)
}

// Breaker watches aggregate request volume across all identities and,
// past the threshold, zeroes the protected function's reserved
// concurrency so the platform stops invoking it entirely.
type Breaker struct {
	limiter      *Limiter
	lambdaClient LambdaClient
	functionName string
	logger       *slog.Logger
}

// NewBreaker creates a Breaker sharing the Limiter's table and clock.
// threshold is the global budget over the limiter's window.
func NewBreaker(client DynamoDBClient, lambdaClient LambdaClient, tableName, functionName string, window time.Duration, threshold int, logger *slog.Logger, opts ...LimiterOption) *Breaker {
	return &Breaker{
		limiter:      NewLimiter(client, tableName, window, threshold, opts...),
		lambdaClient: lambdaClient,
		functionName: functionName,
		logger:       logger,
	}
}

// Check records one request against the global window and trips the
// breaker when over budget. Storage errors reject; the breaker fails
// closed.
func (b *Breaker) Check(ctx context.Context) error {
	err := b.limiter.Check(ctx, globalIdentity)
	if err == nil {
		return nil
	}
	if !errors.Is(err, ErrRateLimited) && !errors.Is(err, ErrDisabled) {
		return fmt.Errorf("global window check: %w", err)
	}

	b.logger.ErrorContext(ctx, "circuit breaker tripped, zeroing reserved concurrency",
		"functionName", b.functionName)

	_, concErr := b.lambdaClient.PutFunctionConcurrency(ctx, &lambda.PutFunctionConcurrencyInput{
		FunctionName:                 aws.String(b.functionName),
		ReservedConcurrentExecutions: aws.Int32(0),
	})
	if concErr != nil {
		// Still reject; the next invocation retries the shutoff.
		b.logger.ErrorContext(ctx, "zero reserved concurrency failed", "error", concErr)
	}
	return ErrCircuitOpen
}
