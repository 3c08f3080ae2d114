package notify

import (
	"context"
	"log/slog"
)

// Tracker holds the delivery state of one message, loaded once up
// front. ShouldSend answers from memory, so a message with many
// recipients costs a single ledger read.
type Tracker struct {
	ledger    *Ledger
	messageID string
	statuses  map[string]string
	logger    *slog.Logger
}

// TrackerFor loads the delivery ledger for one message.
func (l *Ledger) TrackerFor(ctx context.Context, messageID string, logger *slog.Logger) (*Tracker, error) {
	statuses, err := l.LoadForMessage(ctx, messageID)
	if err != nil {
		return nil, err
	}
	return &Tracker{
		ledger:    l,
		messageID: messageID,
		statuses:  statuses,
		logger:    logger,
	}, nil
}

// ShouldSend reports whether the recipient still needs this
// notification. Previously failed recipients are retried.
func (t *Tracker) ShouldSend(recipient Recipient) bool {
	return t.statuses[recipient.sk()] != StatusSuccess
}

// RecordSuccess marks a delivered recipient. A ledger-write failure
// here is logged and swallowed: the send already happened, and the
// worst case on redelivery is one duplicate notification.
func (t *Tracker) RecordSuccess(ctx context.Context, recipient Recipient) {
	t.statuses[recipient.sk()] = StatusSuccess
	if err := t.ledger.Record(ctx, t.messageID, recipient, StatusSuccess); err != nil {
		t.logger.WarnContext(ctx, "record notification success failed",
			"messageId", t.messageID,
			"recipient", recipient.sk(),
			"error", err)
	}
}

// RecordFailure marks a failed recipient. Ledger-write failures
// propagate; the caller fails the message so it is redelivered.
func (t *Tracker) RecordFailure(ctx context.Context, recipient Recipient) error {
	t.statuses[recipient.sk()] = StatusFailed
	return t.ledger.Record(ctx, t.messageID, recipient, StatusFailed)
}
