package audit

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// Logger writes an append-only delivery log.
type Logger struct {
	path string
	mu   sync.Mutex
	now  func() time.Time
}

// New creates audit logger. An empty path disables writing.
func New(path string) *Logger {
	return &Logger{path: path, now: time.Now}
}

// Write records one event for chatID.
func (l *Logger) Write(chatID int64, event string, status string, meta map[string]string) {
	if l == nil || l.path == "" {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	_ = os.MkdirAll(filepath.Dir(l.path), 0o755)
	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o640)
	if err != nil {
		return
	}
	defer f.Close()
	_, _ = f.WriteString(formatLine(l.now().UTC(), chatID, event, status, meta))
}

func formatLine(ts time.Time, chatID int64, event, status string, meta map[string]string) string {
	keys := make([]string, 0, len(meta))
	for k := range meta {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	fmt.Fprintf(&b, "%s chat=%d event=%s status=%s", ts.Format(time.RFC3339), chatID, event, status)
	for _, k := range keys {
		fmt.Fprintf(&b, " %s=%q", k, meta[k])
	}
	b.WriteByte('\n')
	return b.String()
}
