// Package notify delivers best-effort SMS confirmations. Delivery failures
// are logged and counted, never propagated to the reconciliation path.
package notify

import "context"

// Message is one outbound notification.
type Message struct {
	To   string
	Body string
}

// Sender delivers a single message.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}
