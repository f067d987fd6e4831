package dispatch

import (
	"context"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"zckyachmd/notifyrelay/internal/security/throttle"
)

// Directory resolves recipient tokens to chat ids.
type Directory interface {
	Lookup(token string) (int64, bool)
}

// Sender delivers a message to a chat.
type Sender interface {
	Send(ctx context.Context, chatID int64, text string, opts SendOptions) error
}

// Auditor receives delivery events.
type Auditor interface {
	Write(chatID int64, event string, status string, meta map[string]string)
}

// Clock returns the current time.
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a function to Clock.
type ClockFunc func() time.Time

func (f ClockFunc) Now() time.Time { return f() }

// Result summarizes one Dispatch call.
type Result struct {
	Requested int
	Resolved  int
	Delivered int
	Throttled int
	Failed    int
}

// Dispatcher fans a payload out to every resolved recipient.
type Dispatcher struct {
	dir      Directory
	sender   Sender
	throttle *throttle.Throttle
	clock    Clock
	audit    Auditor
	logger   zerolog.Logger
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithClock overrides the wall clock.
func WithClock(c Clock) Option {
	return func(d *Dispatcher) { d.clock = c }
}

// WithAuditor records delivery events.
func WithAuditor(a Auditor) Option {
	return func(d *Dispatcher) { d.audit = a }
}

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(d *Dispatcher) { d.logger = l }
}

// New constructs a dispatcher.
func New(dir Directory, sender Sender, th *throttle.Throttle, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		dir:      dir,
		sender:   sender,
		throttle: th,
		clock:    ClockFunc(time.Now),
		logger:   zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dispatch delivers p to every chat the tokens resolve to. Unknown tokens and
// throttled chats are skipped. Sends run concurrently; Dispatch returns once
// all of them finished, with the first send failure if any occurred.
func (d *Dispatcher) Dispatch(ctx context.Context, p Payload, tokens []string) (Result, error) {
	now := d.clock.Now()
	res := Result{Requested: len(tokens)}

	chats := make([]int64, 0, len(tokens))
	for _, tok := range tokens {
		if id, ok := d.dir.Lookup(tok); ok {
			chats = append(chats, id)
		}
	}
	res.Resolved = len(chats)
	if len(chats) == 0 {
		return res, nil
	}

	var delivered, throttled, failed atomic.Int64
	var g errgroup.Group
	for _, chatID := range chats {
		g.Go(func() error {
			release := d.throttle.Acquire(chatID)
			defer release()

			if !d.throttle.Allow(chatID, p.Text, now) {
				throttled.Add(1)
				d.logger.Debug().Int64("chat", chatID).Msg("delivery throttled")
				d.record(chatID, "throttle", "deny", nil)
				return nil
			}
			if err := d.sender.Send(ctx, chatID, p.Text, p.Options); err != nil {
				failed.Add(1)
				d.logger.Warn().Err(err).Int64("chat", chatID).Msg("delivery failed")
				d.record(chatID, "send", "error", map[string]string{"err": err.Error()})
				return fmt.Errorf("send to %d: %w", chatID, err)
			}
			d.throttle.Record(chatID, p.Text, now)
			delivered.Add(1)
			d.record(chatID, "send", "ok", map[string]string{"bytes": strconv.Itoa(len(p.Text))})
			return nil
		})
	}
	err := g.Wait()

	res.Delivered = int(delivered.Load())
	res.Throttled = int(throttled.Load())
	res.Failed = int(failed.Load())
	return res, err
}

func (d *Dispatcher) record(chatID int64, event, status string, meta map[string]string) {
	if d.audit == nil {
		return
	}
	d.audit.Write(chatID, event, status, meta)
}
