package directory

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// User is a registered chat and the token that addresses it.
type User struct {
	Token    string `json:"-"`
	ChatID   int64  `json:"chatId"`
	Username string `json:"username"`
}

// Directory maps recipient tokens to chat ids.
type Directory struct {
	store  Store
	mu     sync.RWMutex
	tokens map[string]User
	chats  map[int64]string
}

// New returns an empty directory backed by store. A nil store keeps users in
// memory only.
func New(store Store) *Directory {
	return &Directory{
		store:  store,
		tokens: make(map[string]User),
		chats:  make(map[int64]string),
	}
}

// Load replaces the in-memory view with the store contents.
func (d *Directory) Load(ctx context.Context) error {
	if d.store == nil {
		return nil
	}
	users, err := d.store.Load(ctx)
	if err != nil {
		return fmt.Errorf("load users: %w", err)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.tokens = make(map[string]User, len(users))
	d.chats = make(map[int64]string, len(users))
	for _, u := range users {
		d.tokens[u.Token] = u
		d.chats[u.ChatID] = u.Token
	}
	return nil
}

// Lookup returns the chat id for token.
func (d *Directory) Lookup(token string) (int64, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	u, ok := d.tokens[token]
	return u.ChatID, ok
}

// Register returns the token for chatID, minting and persisting a new one if
// the chat is not yet known. created reports whether a token was minted.
func (d *Directory) Register(ctx context.Context, chatID int64, username string) (string, bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if tok, ok := d.chats[chatID]; ok {
		return tok, false, nil
	}
	u := User{Token: newToken(), ChatID: chatID, Username: username}
	if d.store != nil {
		if err := d.store.Save(ctx, u); err != nil {
			return "", false, fmt.Errorf("save user: %w", err)
		}
	}
	d.tokens[u.Token] = u
	d.chats[chatID] = u.Token
	return u.Token, true, nil
}

// Len returns the number of registered users.
func (d *Directory) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.tokens)
}

func newToken() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}
