// Package indexsync keeps the provider search index in step with the
// store by replaying change records from the table stream. The store
// stays authoritative: every change triggers a re-fetch of the whole
// composite record, never a patch from the stream image.
package indexsync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/licensecompact/provider-data/internal/provider"
	"github.com/licensecompact/provider-data/internal/search"
)

// ChangeRecord is one table stream record, reduced to what the
// synchronizer needs. MessageID identifies the stream record for
// partial batch failure reporting.
type ChangeRecord struct {
	MessageID string
	PK        string
	SK        string
}

// ProviderStore re-fetches authoritative provider state.
type ProviderStore interface {
	GetProvider(ctx context.Context, compact, providerID string, tier provider.HistoryTier) (*provider.Provider, error)
}

// BulkIndexer applies index changes in bulk.
type BulkIndexer interface {
	BulkUpsert(ctx context.Context, index string, docs []search.Document) ([]search.ItemResult, error)
	BulkDelete(ctx context.Context, index string, ids []string) ([]search.ItemResult, error)
}

// Synchronizer applies stream batches to the search index.
type Synchronizer struct {
	store       ProviderStore
	indexer     BulkIndexer
	indexPrefix string
	logger      *slog.Logger
}

// NewSynchronizer creates a new Synchronizer. Indexes are named
// {indexPrefix}-{compact}.
func NewSynchronizer(store ProviderStore, indexer BulkIndexer, indexPrefix string, logger *slog.Logger) *Synchronizer {
	return &Synchronizer{
		store:       store,
		indexer:     indexer,
		indexPrefix: indexPrefix,
		logger:      logger,
	}
}

// pendingKey is one deduplicated logical provider with every stream
// record that touched it. If the provider fails to sync, all of its
// records are reported failed so none is lost to the checkpoint.
type pendingKey struct {
	compact    string
	providerID string
	messageIDs []string
}

func (k *pendingKey) docID() string {
	return fmt.Sprintf("%s#%s", k.compact, k.providerID)
}

// SyncBatch applies one stream batch and returns the message ids that
// must be redelivered. Records outside provider partitions are skipped.
func (s *Synchronizer) SyncBatch(ctx context.Context, records []ChangeRecord) []string {
	byProvider := make(map[string]*pendingKey)
	byCompact := make(map[string][]*pendingKey)
	for _, rec := range records {
		compact, providerID, ok := parseProviderPK(rec.PK)
		if !ok {
			continue
		}
		key, seen := byProvider[rec.PK]
		if !seen {
			key = &pendingKey{compact: compact, providerID: providerID}
			byProvider[rec.PK] = key
			byCompact[compact] = append(byCompact[compact], key)
		}
		key.messageIDs = append(key.messageIDs, rec.MessageID)
	}

	var (
		mu     sync.Mutex
		failed []string
	)
	fail := func(keys ...*pendingKey) {
		mu.Lock()
		defer mu.Unlock()
		for _, key := range keys {
			failed = append(failed, key.messageIDs...)
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	for compact, keys := range byCompact {
		g.Go(func() error {
			s.syncCompact(gctx, compact, keys, fail)
			return nil
		})
	}
	_ = g.Wait()

	return failed
}

// syncCompact flushes one compact's keys as bulk upserts and deletes.
func (s *Synchronizer) syncCompact(ctx context.Context, compact string, keys []*pendingKey, fail func(...*pendingKey)) {
	index := fmt.Sprintf("%s-%s", s.indexPrefix, compact)

	var (
		docs       []search.Document
		upsertKeys []*pendingKey
		deleteIDs  []string
		deleteKeys []*pendingKey
	)
	for _, key := range keys {
		p, err := s.store.GetProvider(ctx, compact, key.providerID, provider.HistoryNone)
		if errors.Is(err, provider.ErrProviderNotFound) {
			deleteIDs = append(deleteIDs, key.docID())
			deleteKeys = append(deleteKeys, key)
			continue
		}
		if err != nil {
			s.logger.WarnContext(ctx, "fetch provider for indexing failed",
				"compact", compact, "providerId", key.providerID, "error", err)
			fail(key)
			continue
		}

		doc, err := p.Document()
		if err != nil {
			s.logger.ErrorContext(ctx, "provider document rejected by output schema",
				"compact", compact, "providerId", key.providerID, "error", err)
			fail(key)
			continue
		}
		docs = append(docs, search.Document{ID: key.docID(), Body: doc})
		upsertKeys = append(upsertKeys, key)
	}

	s.flush(ctx, index, upsertKeys, fail, func() ([]search.ItemResult, error) {
		return s.indexer.BulkUpsert(ctx, index, docs)
	})
	s.flush(ctx, index, deleteKeys, fail, func() ([]search.ItemResult, error) {
		return s.indexer.BulkDelete(ctx, index, deleteIDs)
	})
}

// flush runs one bulk call. A whole-call failure fails every key in the
// call; otherwise only keys whose item result carries an error fail.
func (s *Synchronizer) flush(ctx context.Context, index string, keys []*pendingKey, fail func(...*pendingKey), call func() ([]search.ItemResult, error)) {
	if len(keys) == 0 {
		return
	}

	results, err := call()
	if err != nil {
		s.logger.ErrorContext(ctx, "bulk index call failed", "index", index, "error", err)
		fail(keys...)
		return
	}
	for i, res := range results {
		if res.Err != nil {
			s.logger.WarnContext(ctx, "bulk index item failed",
				"index", index, "docId", res.ID, "error", res.Err)
			fail(keys[i])
		}
	}
}

// parseProviderPK extracts (compact, providerId) from a provider
// partition key. Identity, ledger, and rate partitions do not match.
func parseProviderPK(pk string) (compact, providerID string, ok bool) {
	parts := strings.SplitN(pk, "#", 3)
	if len(parts) != 3 || parts[1] != "PROVIDER" || parts[0] == "" || parts[2] == "" {
		return "", "", false
	}
	return parts[0], parts[2], true
}
