package domain

import "context"

// Channel is a user-facing chat front end (Telegram, Discord, Slack, CLI).
// Start blocks until ctx is cancelled or the transport fails.
type Channel interface {
	Name() string
	Start(ctx context.Context) error
}
