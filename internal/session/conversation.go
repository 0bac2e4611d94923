package session

import (
	"context"
	"sync"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/memory"

	"docchat/internal/models"
)

// Conversation is the transcript of one browser session. Reads and writes
// are safe for concurrent use; whole question/answer turns are serialized
// with LockTurn/UnlockTurn.
type Conversation struct {
	turn    sync.Mutex
	mu      sync.RWMutex
	history *memory.ChatMessageHistory
}

func NewConversation() *Conversation {
	return &Conversation{history: memory.NewChatMessageHistory()}
}

// LockTurn blocks until no other turn is in progress on this conversation.
func (c *Conversation) LockTurn()   { c.turn.Lock() }
func (c *Conversation) UnlockTurn() { c.turn.Unlock() }

// Messages returns a copy of the prior turns as chat messages.
func (c *Conversation) Messages(ctx context.Context) []llms.ChatMessage {
	c.mu.RLock()
	defer c.mu.RUnlock()
	msgs, _ := c.history.Messages(ctx)
	return append([]llms.ChatMessage(nil), msgs...)
}

// Turns returns the transcript for rendering.
func (c *Conversation) Turns(ctx context.Context) []models.Turn {
	msgs := c.Messages(ctx)
	turns := make([]models.Turn, 0, len(msgs))
	for _, m := range msgs {
		role := models.RoleUser
		if m.GetType() == llms.ChatMessageTypeAI {
			role = models.RoleAssistant
		}
		turns = append(turns, models.Turn{Role: role, Content: m.GetContent()})
	}
	return turns
}

// Len returns the number of stored turns.
func (c *Conversation) Len(ctx context.Context) int {
	return len(c.Messages(ctx))
}

// Append records a completed exchange.
func (c *Conversation) Append(ctx context.Context, question, answer string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.history.AddUserMessage(ctx, question); err != nil {
		return err
	}
	return c.history.AddAIMessage(ctx, answer)
}

// Reset clears the transcript.
func (c *Conversation) Reset(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.history.Clear(ctx)
}
