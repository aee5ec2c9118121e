package eventstream

import "context"

// Publisher delivers a TurnPersistedEvent after a turn has been stored.
// Publish failures never roll back the stored turn; callers log and move on.
type Publisher interface {
	PublishTurn(ctx context.Context, event *TurnPersistedEvent) error
	Close() error
}
