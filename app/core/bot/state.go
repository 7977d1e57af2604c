package bot

import "sync"

type pendingAction int

const (
	pendingNone pendingAction = iota
	pendingTaskText
	pendingDeleteNumber
	pendingReminder
)

// conversations tracks what input, if any, each chat is expected to send
// next. Keyed by chat id so concurrent channels never mix prompts up.
type conversations struct {
	mu      sync.Mutex
	pending map[string]pendingAction
}

func newConversations() *conversations {
	return &conversations{pending: make(map[string]pendingAction)}
}

func (c *conversations) set(chatID string, action pendingAction) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if action == pendingNone {
		delete(c.pending, chatID)
		return
	}
	c.pending[chatID] = action
}

// take returns the pending action for a chat and clears it. A prompt is
// consumed by exactly one follow-up message.
func (c *conversations) take(chatID string) pendingAction {
	c.mu.Lock()
	defer c.mu.Unlock()
	action, ok := c.pending[chatID]
	if !ok {
		return pendingNone
	}
	delete(c.pending, chatID)
	return action
}
