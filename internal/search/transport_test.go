package search

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
)

func staticCredentials() aws.CredentialsProvider {
	return aws.CredentialsProviderFunc(func(ctx context.Context) (aws.Credentials, error) {
		return aws.Credentials{
			AccessKeyID:     "AKIDEXAMPLE",
			SecretAccessKey: "secret",
		}, nil
	})
}

func TestSigV4TransportSignsForService(t *testing.T) {
	var authorization string
	var body string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authorization = r.Header.Get("Authorization")
		payload, _ := io.ReadAll(r.Body)
		body = string(payload)
	}))
	defer server.Close()

	transport := NewSigV4Transport(http.DefaultTransport, staticCredentials(), "us-east-1", SigningServiceOpenSearch)
	client := &http.Client{Transport: transport}

	req, err := http.NewRequestWithContext(context.Background(), http.MethodPost, server.URL+"/_bulk",
		strings.NewReader(`{"index":{}}`+"\n"))
	if err != nil {
		t.Fatalf("NewRequest() error = %v", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	resp.Body.Close()

	if !strings.HasPrefix(authorization, "AWS4-HMAC-SHA256") {
		t.Errorf("authorization = %q, want SigV4", authorization)
	}
	if !strings.Contains(authorization, "/us-east-1/es/aws4_request") {
		t.Errorf("authorization = %q, want es service scope", authorization)
	}
	if body != `{"index":{}}`+"\n" {
		t.Errorf("body = %q, want the payload intact after hashing", body)
	}
}
