package checkpoint

import (
	"context"
	"errors"
	"time"

	"github.com/hupe1980/agentcore/core"
)

// ErrNotFound is returned when a checkpoint id is unknown.
var ErrNotFound = errors.New("checkpoint not found")

// Checkpoint is a restored snapshot of a conversation between two turns.
type Checkpoint struct {
	ID             string
	ConversationID string
	// ParentID is the previous checkpoint of the same conversation.
	ParentID  string
	State     *core.ExecutionState
	// Entries are the history entries added since ParentID.
	Entries   []core.Content
	CreatedAt time.Time
}

// Store persists execution state between turns. It is called by a
// conversation manager, never by the loop itself.
type Store interface {
	// Save stores state plus the entries added by the last turn and returns
	// the new checkpoint id.
	Save(ctx context.Context, conversationID string, state *core.ExecutionState, entries []core.Content) (string, error)
	// Load restores a checkpoint.
	Load(ctx context.Context, checkpointID string) (*Checkpoint, error)
}
