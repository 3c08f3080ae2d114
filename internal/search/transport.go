package search

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
)

// SigningServiceOpenSearch is the SigV4 service name for OpenSearch
// domain endpoints.
const SigningServiceOpenSearch = "es"

// SigV4Transport signs outgoing requests with AWS SigV4 before handing
// them to the wrapped transport. The index backend sits behind IAM, so
// every bulk call must carry a signature for the domain's service name.
type SigV4Transport struct {
	wrapped     http.RoundTripper
	credentials aws.CredentialsProvider
	region      string
	service     string
	signer      *v4.Signer
}

// NewSigV4Transport creates a transport signing for the given service
// name in the given region.
func NewSigV4Transport(wrapped http.RoundTripper, credentials aws.CredentialsProvider, region, service string) *SigV4Transport {
	return &SigV4Transport{
		wrapped:     wrapped,
		credentials: credentials,
		region:      region,
		service:     service,
		signer:      v4.NewSigner(),
	}
}

// RoundTrip implements http.RoundTripper. The original request is never
// modified; signing happens on a clone with a replayable body.
func (t *SigV4Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx := req.Context()

	creds, err := t.credentials.Retrieve(ctx)
	if err != nil {
		return nil, err
	}

	signed := req.Clone(ctx)
	hash, err := hashAndRestoreBody(signed)
	if err != nil {
		return nil, err
	}

	if err := t.signer.SignHTTP(ctx, creds, signed, hash, t.service, t.region, time.Now()); err != nil {
		return nil, err
	}
	return t.wrapped.RoundTrip(signed)
}

// hashAndRestoreBody computes the hex SHA-256 the signature covers and
// leaves the request body readable for the wrapped transport.
func hashAndRestoreBody(req *http.Request) (string, error) {
	if req.Body == nil || req.Body == http.NoBody {
		empty := sha256.Sum256(nil)
		return hex.EncodeToString(empty[:]), nil
	}

	payload, err := io.ReadAll(req.Body)
	if err != nil {
		return "", err
	}
	req.Body.Close()

	req.Body = io.NopCloser(bytes.NewReader(payload))
	req.ContentLength = int64(len(payload))

	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:]), nil
}
