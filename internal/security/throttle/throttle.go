package throttle

import (
	"sync"
	"time"
)

// Retention is how long a delivered message keeps influencing decisions.
const Retention = 3600 * time.Second

// SentRecord is a single confirmed delivery.
type SentRecord struct {
	Text   string
	SentAt time.Time
}

type history struct {
	// send serializes Allow -> send -> Record for one address.
	send sync.Mutex

	mu      sync.Mutex
	records []SentRecord // oldest first
}

// Throttle gates deliveries per chat: one message per second, and no exact
// repeats within the retention window.
type Throttle struct {
	retention time.Duration
	mu        sync.Mutex
	chats     map[int64]*history
}

// New creates a throttle. A non-positive retention falls back to Retention.
func New(retention time.Duration) *Throttle {
	if retention <= 0 {
		retention = Retention
	}
	return &Throttle{
		retention: retention,
		chats:     make(map[int64]*history),
	}
}

func (t *Throttle) get(chatID int64) *history {
	t.mu.Lock()
	defer t.mu.Unlock()
	h, ok := t.chats[chatID]
	if !ok {
		h = &history{}
		t.chats[chatID] = h
	}
	return h
}

// Acquire locks chatID for a full Allow/send/Record sequence and returns the
// matching release.
func (t *Throttle) Acquire(chatID int64) func() {
	for {
		h := t.get(chatID)
		h.send.Lock()
		t.mu.Lock()
		current := t.chats[chatID] == h
		t.mu.Unlock()
		if current {
			return h.send.Unlock
		}
		// swept between get and Lock
		h.send.Unlock()
	}
}

// lock returns chatID's history with h.mu held. The map lock is kept until
// h.mu is taken so Sweep cannot orphan the history in between.
func (t *Throttle) lock(chatID int64) *history {
	t.mu.Lock()
	h, ok := t.chats[chatID]
	if !ok {
		h = &history{}
		t.chats[chatID] = h
	}
	h.mu.Lock()
	t.mu.Unlock()
	return h
}

// Allow reports whether text may be delivered to chatID at now. Expired
// records are purged first; nothing else is changed.
func (t *Throttle) Allow(chatID int64, text string, now time.Time) bool {
	h := t.lock(chatID)
	defer h.mu.Unlock()

	h.records = t.evict(h.records, now)

	for i := len(h.records) - 1; i >= 0; i-- {
		r := h.records[i]
		// whole seconds, truncated toward zero
		if int64(now.Sub(r.SentAt)/time.Second) == 0 {
			return false
		}
		if r.Text == text {
			return false
		}
	}
	return true
}

// Record stores a confirmed delivery.
func (t *Throttle) Record(chatID int64, text string, now time.Time) {
	h := t.lock(chatID)
	defer h.mu.Unlock()
	h.records = append(h.records, SentRecord{Text: text, SentAt: now})
}

// Sweep drops chats whose whole history has expired.
func (t *Throttle) Sweep(now time.Time) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	dropped := 0
	for id, h := range t.chats {
		if !h.send.TryLock() {
			continue
		}
		h.mu.Lock()
		h.records = t.evict(h.records, now)
		empty := len(h.records) == 0
		h.mu.Unlock()
		if empty {
			delete(t.chats, id)
			dropped++
		}
		h.send.Unlock()
	}
	return dropped
}

// History returns a copy of chatID's records, oldest first.
func (t *Throttle) History(chatID int64) []SentRecord {
	t.mu.Lock()
	h, ok := t.chats[chatID]
	t.mu.Unlock()
	if !ok {
		return nil
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]SentRecord, len(h.records))
	copy(out, h.records)
	return out
}

func (t *Throttle) evict(records []SentRecord, now time.Time) []SentRecord {
	kept := records[:0]
	for _, r := range records {
		if now.Sub(r.SentAt) <= t.retention {
			kept = append(kept, r)
		}
	}
	return kept
}
