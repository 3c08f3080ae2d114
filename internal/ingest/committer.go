package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/licensecompact/provider-data/internal/events"
	"github.com/licensecompact/provider-data/internal/provider"
)

// Store is the subset of provider repository operations the commit
// consumer needs.
type Store interface {
	GetOrCreateIdentity(ctx context.Context, compact, externalID, candidateProviderID string) (string, bool, error)
	GetProvider(ctx context.Context, compact, providerID string, tier provider.HistoryTier) (*provider.Provider, error)
	CommitLicense(ctx context.Context, commit *provider.LicenseCommit) error
}

// EventPublisher publishes domain events on side paths.
type EventPublisher interface {
	Publish(ctx context.Context, detailType string, detail any) error
}

// Committer applies validated row batches to the provider store. It is
// the sole writer of summary records.
type Committer struct {
	store  Store
	events EventPublisher
	logger *slog.Logger
	now    func() time.Time
	newID  func() string
}

// CommitterOption configures a Committer.
type CommitterOption func(*Committer)

// WithCommitClock overrides the commit timestamp clock. Tests pin it.
func WithCommitClock(now func() time.Time) CommitterOption {
	return func(c *Committer) { c.now = now }
}

// WithIDGenerator overrides provider and update id generation.
func WithIDGenerator(newID func() string) CommitterOption {
	return func(c *Committer) { c.newID = newID }
}

// NewCommitter creates a new Committer.
func NewCommitter(store Store, publisher EventPublisher, logger *slog.Logger, opts ...CommitterOption) *Committer {
	c := &Committer{
		store:  store,
		events: publisher,
		logger: logger,
		now:    time.Now,
		newID:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// CommitBatch applies every row in one queue message. Rows the business
// rules reject are reported and skipped so redelivery cannot fix them;
// infrastructure failures abort the batch so the message is redelivered
// whole. Commits are idempotent, so replaying already-applied rows is
// harmless.
func (c *Committer) CommitBatch(ctx context.Context, msg *CommitMessage) error {
	var committed, skipped int
	for i := range msg.Rows {
		row := &msg.Rows[i]
		if row.Jurisdiction != msg.Jurisdiction {
			c.reportUnprocessable(ctx, msg, row, "row jurisdiction does not match upload jurisdiction")
			skipped++
			continue
		}
		applied, err := c.commitRow(ctx, msg.Compact, row)
		if err != nil {
			return fmt.Errorf("commit record %d of upload %s: %w", row.RecordNumber, msg.UploadID, err)
		}
		if applied {
			committed++
		} else {
			skipped++
		}
	}

	if err := c.events.Publish(ctx, events.TypeIngestCommitted, map[string]any{
		"compact":       msg.Compact,
		"jurisdiction":  msg.Jurisdiction,
		"uploadId":      msg.UploadID,
		"committedRows": committed,
		"skippedRows":   skipped,
	}); err != nil {
		c.logger.WarnContext(ctx, "publish commit lifecycle event failed", "error", err)
	}
	return nil
}

func (c *Committer) commitRow(ctx context.Context, compact string, row *LicenseRow) (bool, error) {
	providerID, created, err := c.store.GetOrCreateIdentity(ctx, compact, row.SSN, c.newID())
	if err != nil {
		return false, err
	}

	var current *provider.Provider
	if !created {
		current, err = c.store.GetProvider(ctx, compact, providerID, provider.HistoryNone)
		if err != nil && !errors.Is(err, provider.ErrProviderNotFound) {
			return false, err
		}
	}

	now := c.now()
	lic := &provider.License{
		Compact:          compact,
		ProviderID:       providerID,
		Jurisdiction:     row.Jurisdiction,
		LicenseType:      row.LicenseType,
		LicenseNumber:    row.LicenseNumber,
		GivenName:        row.GivenName,
		MiddleName:       row.MiddleName,
		FamilyName:       row.FamilyName,
		DateOfBirth:      row.DateOfBirth,
		DateOfIssuance:   row.DateOfIssuance,
		DateOfRenewal:    row.DateOfRenewal,
		DateOfExpiration: row.DateOfExpiration,
		LicenseStatus:    row.LicenseStatus,
		DateOfUpdate:     now,
	}

	var prior *provider.License
	if current != nil {
		for _, existing := range current.Licenses {
			if existing.Jurisdiction == lic.Jurisdiction && existing.LicenseType == lic.LicenseType {
				prior = existing
				break
			}
		}
	}

	changed := changedValues(prior, lic)
	if prior != nil && len(changed) == 0 {
		c.logger.DebugContext(ctx, "license unchanged, skipping commit",
			"compact", compact, "providerId", providerID,
			"jurisdiction", lic.Jurisdiction, "licenseType", lic.LicenseType)
		return false, nil
	}

	diff := &provider.Update{
		Compact:       compact,
		ProviderID:    providerID,
		UpdateID:      c.newID(),
		UpdateType:    classifyUpdate(prior, lic),
		Jurisdiction:  lic.Jurisdiction,
		LicenseType:   lic.LicenseType,
		CreatedAt:     now,
		UpdatedValues: changed,
	}

	var snapshot *provider.Update
	if prior != nil {
		snapshot = &provider.Update{
			Compact:       compact,
			ProviderID:    providerID,
			UpdateID:      diff.UpdateID,
			UpdateType:    diff.UpdateType,
			Jurisdiction:  lic.Jurisdiction,
			LicenseType:   lic.LicenseType,
			CreatedAt:     now,
			UpdatedValues: changed,
			Previous:      licenseValues(prior),
		}
	}

	commit := &provider.LicenseCommit{
		License:  lic,
		Summary:  rebuildSummary(current, lic, row, now),
		Diff:     diff,
		Snapshot: snapshot,
	}
	if err := c.store.CommitLicense(ctx, commit); err != nil {
		return false, err
	}

	if err := c.events.Publish(ctx, events.TypeLicenseUpdated, map[string]any{
		"compact":      compact,
		"providerId":   providerID,
		"jurisdiction": lic.Jurisdiction,
		"licenseType":  lic.LicenseType,
		"updateType":   diff.UpdateType,
	}); err != nil {
		c.logger.WarnContext(ctx, "publish license update event failed", "error", err)
	}
	return true, nil
}

// reportUnprocessable reports one business-rejected row, identified by
// its record number in the uploaded file rather than its position in
// this batch.
func (c *Committer) reportUnprocessable(ctx context.Context, msg *CommitMessage, row *LicenseRow, reason string) {
	c.logger.WarnContext(ctx, "skipping unprocessable row",
		"uploadId", msg.UploadID, "recordNumber", row.RecordNumber, "reason", reason)

	if err := c.events.Publish(ctx, events.TypeValidationError, map[string]any{
		"compact":      msg.Compact,
		"jurisdiction": msg.Jurisdiction,
		"uploadId":     msg.UploadID,
		"recordNumber": row.RecordNumber,
		"errors":       map[string]string{"jurisdiction": reason},
	}); err != nil {
		c.logger.WarnContext(ctx, "publish validation event failed", "error", err)
	}
}

// rebuildSummary recomputes the denormalized summary from the merged
// license set. The best license, by latest expiration, supplies the
// searchable name and home-jurisdiction fields.
func rebuildSummary(current *provider.Provider, lic *provider.License, row *LicenseRow, now time.Time) *provider.Summary {
	licenses := []*provider.License{lic}
	var sum provider.Summary
	if current != nil {
		sum = *current.Summary
		for _, existing := range current.Licenses {
			if existing.Jurisdiction == lic.Jurisdiction && existing.LicenseType == lic.LicenseType {
				continue
			}
			licenses = append(licenses, existing)
		}
	}

	best := licenses[0]
	for _, l := range licenses[1:] {
		// ISO dates order lexicographically.
		if l.DateOfExpiration > best.DateOfExpiration {
			best = l
		}
	}

	sum.Compact = lic.Compact
	sum.ProviderID = lic.ProviderID
	sum.GivenName = best.GivenName
	sum.MiddleName = best.MiddleName
	sum.FamilyName = best.FamilyName
	if row.NPI != "" {
		sum.NPI = row.NPI
	}
	sum.LicenseJurisdiction = best.Jurisdiction
	sum.LicenseStatus = best.LicenseStatus
	sum.DateOfExpiration = best.DateOfExpiration
	sum.DateOfUpdate = now
	return &sum
}

// licenseValues flattens a license into attribute name → value, empty
// values omitted.
func licenseValues(l *provider.License) map[string]string {
	values := map[string]string{
		provider.AttrGivenName:        l.GivenName,
		provider.AttrMiddleName:       l.MiddleName,
		provider.AttrFamilyName:       l.FamilyName,
		provider.AttrLicenseNumber:    l.LicenseNumber,
		provider.AttrDateOfBirth:      l.DateOfBirth,
		provider.AttrDateOfIssuance:   l.DateOfIssuance,
		provider.AttrDateOfRenewal:    l.DateOfRenewal,
		provider.AttrDateOfExpiration: l.DateOfExpiration,
		provider.AttrLicenseStatus:    l.LicenseStatus,
	}
	for k, v := range values {
		if v == "" {
			delete(values, k)
		}
	}
	return values
}

// changedValues returns the attributes of next that differ from prior.
// A nil prior means first issuance; every value counts as changed.
func changedValues(prior, next *provider.License) map[string]string {
	nextValues := licenseValues(next)
	if prior == nil {
		return nextValues
	}

	priorValues := licenseValues(prior)
	changed := make(map[string]string)
	for k, v := range nextValues {
		if priorValues[k] != v {
			changed[k] = v
		}
	}
	for k := range priorValues {
		if _, ok := nextValues[k]; !ok {
			changed[k] = ""
		}
	}
	return changed
}

// classifyUpdate picks the update-history record type for this commit.
func classifyUpdate(prior, next *provider.License) string {
	switch {
	case prior == nil:
		return provider.UpdateTypeIssuance
	case next.LicenseStatus != provider.StatusActive && prior.LicenseStatus == provider.StatusActive:
		return provider.UpdateTypeDeactivate
	case next.DateOfRenewal != "" && next.DateOfRenewal != prior.DateOfRenewal:
		return provider.UpdateTypeRenewal
	default:
		return provider.UpdateTypeUpdate
	}
}
