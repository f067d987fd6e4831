package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zckyachmd/notifyrelay/internal/security/throttle"
)

type mapDirectory map[string]int64

func (m mapDirectory) Lookup(token string) (int64, bool) {
	id, ok := m[token]
	return id, ok
}

type sendCall struct {
	chatID int64
	text   string
	opts   SendOptions
}

type fakeSender struct {
	mu    sync.Mutex
	calls []sendCall
	fail  map[int64]error
}

func (f *fakeSender) Send(_ context.Context, chatID int64, text string, opts SendOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, sendCall{chatID, text, opts})
	if err, ok := f.fail[chatID]; ok {
		return err
	}
	return nil
}

type fakeAudit struct {
	mu     sync.Mutex
	events []string
}

func (a *fakeAudit) Write(_ int64, event, status string, _ map[string]string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, event+":"+status)
}

var fixedNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func newTestDispatcher(dir Directory, s Sender, th *throttle.Throttle, opts ...Option) *Dispatcher {
	opts = append([]Option{WithClock(ClockFunc(func() time.Time { return fixedNow }))}, opts...)
	return New(dir, s, th, opts...)
}

func TestDispatchSkipsUnknownTokens(t *testing.T) {
	dir := mapDirectory{"a": 1, "b": 2}
	sender := &fakeSender{}
	th := throttle.New(0)
	d := newTestDispatcher(dir, sender, th)

	res, err := d.Dispatch(context.Background(), Payload{Text: "hi"}, []string{"a", "nope", "b"})
	require.NoError(t, err)
	assert.Equal(t, Result{Requested: 3, Resolved: 2, Delivered: 2}, res)
	assert.Len(t, sender.calls, 2)
	assert.Len(t, th.History(1), 1)
	assert.Len(t, th.History(2), 1)
}

func TestDispatchSameChatTwiceSendsOnce(t *testing.T) {
	dir := mapDirectory{"a": 1, "alias": 1}
	sender := &fakeSender{}
	d := newTestDispatcher(dir, sender, throttle.New(0))

	res, err := d.Dispatch(context.Background(), Payload{Text: "hi"}, []string{"a", "alias"})
	require.NoError(t, err)
	assert.Len(t, sender.calls, 1)
	assert.Equal(t, 2, res.Resolved)
	assert.Equal(t, 1, res.Delivered)
	assert.Equal(t, 1, res.Throttled)
}

func TestDispatchNothingResolved(t *testing.T) {
	sender := &fakeSender{}
	d := newTestDispatcher(mapDirectory{}, sender, throttle.New(0))

	res, err := d.Dispatch(context.Background(), Payload{Text: "hi"}, []string{"x"})
	require.NoError(t, err)
	assert.Zero(t, res.Resolved)
	assert.Empty(t, sender.calls)
}

func TestDispatchFailureNotRecorded(t *testing.T) {
	boom := errors.New("chat not found")
	dir := mapDirectory{"a": 1, "b": 2}
	sender := &fakeSender{fail: map[int64]error{2: boom}}
	th := throttle.New(0)
	audit := &fakeAudit{}
	d := newTestDispatcher(dir, sender, th, WithAuditor(audit))

	res, err := d.Dispatch(context.Background(), Payload{Text: "hi"}, []string{"a", "b"})
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, res.Delivered)
	assert.Equal(t, 1, res.Failed)
	assert.Len(t, sender.calls, 2, "all attempts complete before returning")
	assert.Len(t, th.History(1), 1)
	assert.Empty(t, th.History(2))
	assert.ElementsMatch(t, []string{"send:ok", "send:error"}, audit.events)

	// the failed chat can be retried immediately
	assert.True(t, th.Allow(2, "hi", fixedNow))
}

func TestDispatchThrottledRepeat(t *testing.T) {
	dir := mapDirectory{"a": 1}
	sender := &fakeSender{}
	th := throttle.New(0)
	now := fixedNow
	d := New(dir, sender, th, WithClock(ClockFunc(func() time.Time { return now })))

	_, err := d.Dispatch(context.Background(), Payload{Text: "hi"}, []string{"a"})
	require.NoError(t, err)

	now = now.Add(10 * time.Minute)
	res, err := d.Dispatch(context.Background(), Payload{Text: "hi"}, []string{"a"})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Throttled)

	res, err = d.Dispatch(context.Background(), Payload{Text: "other"}, []string{"a"})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Delivered)
	assert.Len(t, sender.calls, 2)
}

func TestDispatchPassesOptions(t *testing.T) {
	sender := &fakeSender{}
	d := newTestDispatcher(mapDirectory{"a": 1}, sender, throttle.New(0))
	p := BuildMessage(Fields{Title: "T"}, true)

	_, err := d.Dispatch(context.Background(), p, []string{"a"})
	require.NoError(t, err)
	require.Len(t, sender.calls, 1)
	assert.Equal(t, "*T*", sender.calls[0].text)
	assert.True(t, sender.calls[0].opts.DisableNotification)
}

// barrierSender blocks every Send until n sends are in flight at once.
type barrierSender struct {
	n       int
	mu      sync.Mutex
	waiting int
	release chan struct{}
}

func (b *barrierSender) Send(ctx context.Context, _ int64, _ string, _ SendOptions) error {
	b.mu.Lock()
	b.waiting++
	if b.waiting == b.n {
		close(b.release)
	}
	b.mu.Unlock()
	select {
	case <-b.release:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func TestDispatchSendsConcurrently(t *testing.T) {
	dir := mapDirectory{"a": 1, "b": 2, "c": 3}
	sender := &barrierSender{n: 3, release: make(chan struct{})}
	d := newTestDispatcher(dir, sender, throttle.New(0))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	res, err := d.Dispatch(ctx, Payload{Text: "hi"}, []string{"a", "b", "c"})
	require.NoError(t, err, "sends did not overlap")
	assert.Equal(t, 3, res.Delivered)
}
