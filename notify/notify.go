// Package notify is the outbound notification boundary. The engine treats
// senders as external collaborators behind a one-method interface; a failed
// send never fails the lifecycle transition that triggered it.
package notify

import "context"

// Message is one outbound notification.
type Message struct {
	To      string
	Subject string
	Body    string
}

// Sender delivers messages. Implementations must be safe for concurrent use.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// Noop discards every message. Used when no sender is configured and in tests.
type Noop struct{}

func (Noop) Send(context.Context, Message) error { return nil }
