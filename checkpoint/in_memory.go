package checkpoint

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hupe1980/agentcore/core"
)

type record struct {
	ConversationID string          `json:"conversation_id"`
	ParentID       string          `json:"parent_id,omitempty"`
	State          json.RawMessage `json:"state"`
	Entries        []core.Content  `json:"entries,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
}

// InMemoryStore is a volatile Store keeping JSON snapshots in a process
// local map. It is safe for concurrent access and best suited for tests and
// demos. Snapshots are serialized on Save, so later changes to the caller's
// values never leak into stored checkpoints.
type InMemoryStore struct {
	mu      sync.RWMutex
	records map[string][]byte
	chains  map[string][]string // conversation id -> checkpoint ids, oldest first
}

// NewInMemoryStore constructs an empty in-memory checkpoint store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		records: make(map[string][]byte),
		chains:  make(map[string][]string),
	}
}

// Save implements Store.
func (s *InMemoryStore) Save(ctx context.Context, conversationID string, state *core.ExecutionState, entries []core.Content) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if state == nil {
		return "", fmt.Errorf("save checkpoint for %s: nil state", conversationID)
	}

	stateJSON, err := json.Marshal(state)
	if err != nil {
		return "", fmt.Errorf("save checkpoint for %s: %w", conversationID, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec := record{
		ConversationID: conversationID,
		State:          stateJSON,
		Entries:        entries,
		CreatedAt:      time.Now().UTC(),
	}
	if chain := s.chains[conversationID]; len(chain) > 0 {
		rec.ParentID = chain[len(chain)-1]
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return "", fmt.Errorf("save checkpoint for %s: %w", conversationID, err)
	}

	id := uuid.NewString()
	s.records[id] = data
	s.chains[conversationID] = append(s.chains[conversationID], id)
	return id, nil
}

// Load implements Store.
func (s *InMemoryStore) Load(ctx context.Context, checkpointID string) (*Checkpoint, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	data, ok := s.records[checkpointID]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, checkpointID)
	}

	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("load checkpoint %s: %w", checkpointID, err)
	}
	state := &core.ExecutionState{}
	if err := json.Unmarshal(rec.State, state); err != nil {
		return nil, fmt.Errorf("load checkpoint %s: %w", checkpointID, err)
	}

	return &Checkpoint{
		ID:             checkpointID,
		ConversationID: rec.ConversationID,
		ParentID:       rec.ParentID,
		State:          state,
		Entries:        rec.Entries,
		CreatedAt:      rec.CreatedAt,
	}, nil
}

// List returns the checkpoint ids of a conversation, oldest first.
func (s *InMemoryStore) List(conversationID string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.chains[conversationID])
}

var _ Store = (*InMemoryStore)(nil)
