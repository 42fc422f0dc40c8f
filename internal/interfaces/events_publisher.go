package interfaces

import "context"

// EventPublisher delivers post-commit ledger events to interested
// consumers. Publishing is best-effort: a failed publish is logged by the
// caller, never rolled into the ledger transaction.
type EventPublisher interface {
	Publish(ctx context.Context, topic string, event any) error
}
