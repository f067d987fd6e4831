package auth

import "sync"

// Authorizer restricts which Telegram chats may register. An empty allowlist
// admits everyone.
type Authorizer struct {
	allowed map[int64]struct{}
	mu      sync.RWMutex
}

// New returns Authorizer with provided chat IDs.
func New(ids []int64) *Authorizer {
	a := &Authorizer{allowed: make(map[int64]struct{}, len(ids))}
	for _, id := range ids {
		a.allowed[id] = struct{}{}
	}
	return a
}

// IsAllowed returns true when chatID may register.
func (a *Authorizer) IsAllowed(chatID int64) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if len(a.allowed) == 0 {
		return true
	}
	_, ok := a.allowed[chatID]
	return ok
}

// Add admits another chat.
func (a *Authorizer) Add(id int64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.allowed[id] = struct{}{}
}
