package engine

import (
	"context"
	"errors"
	"slices"
	"sync"

	"github.com/hupe1980/agentcore/checkpoint"
	"github.com/hupe1980/agentcore/core"
	"github.com/hupe1980/agentcore/logging"
)

// ErrTurnInProgress is returned when a turn starts before the previous one
// finished.
var ErrTurnInProgress = errors.New("conversation turn in progress")

// ErrNoConversationState is returned when restoring a checkpoint whose
// state holds no history.
var ErrNoConversationState = errors.New("checkpoint holds no conversation history")

// Conversation manages multi-turn use of an Engine. Every turn is a fresh
// run seeded with the conversation history; after a turn finishes its state
// is saved to the checkpoint store. The loop itself never touches the store.
type Conversation struct {
	engine *Engine
	store  checkpoint.Store
	id     string

	mu           sync.Mutex
	history      []core.Content
	checkpointID string
	active       bool
}

// NewConversation creates a conversation with the given id (a uuid when
// empty). A nil store keeps history in memory only.
func NewConversation(e *Engine, store checkpoint.Store, id string) *Conversation {
	if id == "" {
		id = core.NewID()
	}
	return &Conversation{engine: e, store: store, id: id}
}

// ID returns the conversation id.
func (c *Conversation) ID() string { return c.id }

// CheckpointID returns the id of the last saved checkpoint.
func (c *Conversation) CheckpointID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.checkpointID
}

// History returns a copy of the conversation history.
func (c *Conversation) History() []core.Content {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.history)
}

// Start begins the next turn with message. The caller consumes the run's
// events and answers its requests.
func (c *Conversation) Start(ctx context.Context, message core.Content) (*Run, error) {
	c.mu.Lock()
	if c.active {
		c.mu.Unlock()
		return nil, ErrTurnInProgress
	}
	c.active = true
	seed := core.NewExecutionState(c.history)
	base := len(c.history)
	c.mu.Unlock()

	run, err := c.engine.Run(ctx, []core.Content{message}, func(o *RunOptions) {
		o.State = seed
		o.OnFinish = func(ctx context.Context, res *Result) {
			c.commit(ctx, res, base)
		}
	})
	if err != nil {
		c.mu.Lock()
		c.active = false
		c.mu.Unlock()
		return nil, err
	}
	return run, nil
}

// Send runs one turn to completion. Events are passed to handle, which may
// be nil when the turn cannot raise requests.
func (c *Conversation) Send(ctx context.Context, text string, handle func(r *Run, ev core.Event)) (*Result, error) {
	run, err := c.Start(ctx, core.NewTextContent(core.RoleUser, text))
	if err != nil {
		return nil, err
	}
	for ev := range run.Events() {
		if handle != nil {
			handle(run, ev)
		}
	}
	return run.Wait()
}

// Restore replaces the conversation history with a saved checkpoint.
func (c *Conversation) Restore(ctx context.Context, checkpointID string) error {
	if c.store == nil {
		return errors.New("conversation has no checkpoint store")
	}
	cp, err := c.store.Load(ctx, checkpointID)
	if err != nil {
		return err
	}

	if cp.State == nil || cp.State.HistoryLen() == 0 {
		return ErrNoConversationState
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active {
		return ErrTurnInProgress
	}
	c.history = cp.State.History()
	c.checkpointID = cp.ID
	return nil
}

// commit records a finished turn. Cancelled turns leave the history as it
// was before the turn.
func (c *Conversation) commit(ctx context.Context, res *Result, base int) {
	defer func() {
		c.mu.Lock()
		c.active = false
		c.mu.Unlock()
	}()

	if res.Termination.IsCancelled() {
		return
	}

	history := res.State.History()
	var added []core.Content
	if base < len(history) {
		added = history[base:]
	}

	var id string
	if c.store != nil {
		stop := logging.StartTimer(c.engine.logger, "engine.conversation.checkpoint")
		var err error
		if id, err = c.store.Save(ctx, c.id, res.State, added); err != nil {
			c.engine.logger.Error("engine.conversation.checkpoint.failed", "conversation_id", c.id, "error", err)
		}
		stop()
	}

	c.mu.Lock()
	c.history = history
	if id != "" {
		c.checkpointID = id
	}
	c.mu.Unlock()
}
