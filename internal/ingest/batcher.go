package ingest

import "context"

// DefaultBatchSize caps rows per queue message, keeping the serialized
// batch well under the SQS message size limit.
const DefaultBatchSize = 100

// Batcher accumulates validated rows and publishes them in fixed-size
// batches. Callers must Flush after the last Add.
type Batcher struct {
	publisher    CommitPublisher
	compact      string
	jurisdiction string
	uploadID     string
	size         int
	rows         []LicenseRow
	queued       int
}

// NewBatcher creates a Batcher for one upload. size <= 0 selects
// DefaultBatchSize.
func NewBatcher(publisher CommitPublisher, compact, jurisdiction, uploadID string, size int) *Batcher {
	if size <= 0 {
		size = DefaultBatchSize
	}
	return &Batcher{
		publisher:    publisher,
		compact:      compact,
		jurisdiction: jurisdiction,
		uploadID:     uploadID,
		size:         size,
	}
}

// Add queues one row, publishing a batch when full.
func (b *Batcher) Add(ctx context.Context, row LicenseRow) error {
	b.rows = append(b.rows, row)
	if len(b.rows) >= b.size {
		return b.Flush(ctx)
	}
	return nil
}

// Flush publishes any pending rows. A no-op when nothing is pending.
func (b *Batcher) Flush(ctx context.Context) error {
	if len(b.rows) == 0 {
		return nil
	}

	msg := &CommitMessage{
		Compact:      b.compact,
		Jurisdiction: b.jurisdiction,
		UploadID:     b.uploadID,
		Rows:         b.rows,
	}
	if err := b.publisher.PublishCommit(ctx, msg); err != nil {
		return err
	}

	b.queued += len(b.rows)
	b.rows = nil
	return nil
}

// Queued returns the number of rows published so far.
func (b *Batcher) Queued() int { return b.queued }
