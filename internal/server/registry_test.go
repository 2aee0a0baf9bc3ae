package server

import (
	"fmt"
	"sync"
	"testing"

	"github.com/npezzotti/go-chatfanout/internal/stats"
	"github.com/npezzotti/go-chatfanout/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type fakeTransport struct {
	mu     sync.Mutex
	msgs   []*ServerMessage
	err    error
	closed bool
}

func (f *fakeTransport) Send(msg *ServerMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.err != nil {
		return f.err
	}
	if f.closed {
		return ErrTransportClosed
	}
	f.msgs = append(f.msgs, msg)
	return nil
}

func (f *fakeTransport) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.closed = true
}

func (f *fakeTransport) failWith(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.err = err
}

func (f *fakeTransport) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.closed
}

func (f *fakeTransport) messages() []*ServerMessage {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]*ServerMessage(nil), f.msgs...)
}

func (f *fakeTransport) ofType(typ string) []*ServerMessage {
	var res []*ServerMessage
	for _, m := range f.messages() {
		if m.Type == typ {
			res = append(res, m)
		}
	}
	return res
}

func (f *fakeTransport) reset() {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.msgs = nil
}

func newStatsMock() *stats.MockStatsUpdater {
	su := &stats.MockStatsUpdater{}
	su.On("RegisterMetric", mock.Anything).Maybe()
	su.On("Incr", mock.Anything).Maybe()
	su.On("Decr", mock.Anything).Maybe()
	return su
}

func TestRegistry_RegisterAndSend(t *testing.T) {
	su := newStatsMock()
	r := NewRegistry(testutil.TestLogger(t), su)
	tr := &fakeTransport{}

	r.Register("alice", tr)

	assert.True(t, r.Connected("alice"))
	assert.Equal(t, 1, r.Len())
	_, ok := r.ConnectedAt("alice")
	assert.True(t, ok)

	msg := NewTyping("c1", "bob")
	assert.True(t, r.Send("alice", msg))
	assert.Equal(t, []*ServerMessage{msg}, tr.messages())

	assert.False(t, r.Send("bob", msg), "expected send to unregistered user to fail")
	su.AssertCalled(t, "Incr", stats.NumActiveConnections)
}

func TestRegistry_LastConnectWins(t *testing.T) {
	su := newStatsMock()
	r := NewRegistry(testutil.TestLogger(t), su)
	first := &fakeTransport{}
	second := &fakeTransport{}

	r.Register("alice", first)
	r.Register("alice", second)

	assert.Equal(t, 1, r.Len(), "expected one entry per user")
	assert.True(t, first.isClosed(), "expected replaced transport to be closed")
	assert.False(t, second.isClosed())

	require.True(t, r.Send("alice", NewTyping("c1", "bob")))
	assert.Empty(t, first.messages())
	assert.Len(t, second.messages(), 1)

	su.AssertNumberOfCalls(t, "Incr", 1)
}

func TestRegistry_RegisterSameTransportTwice(t *testing.T) {
	r := NewRegistry(testutil.TestLogger(t), newStatsMock())
	tr := &fakeTransport{}

	r.Register("alice", tr)
	r.Register("alice", tr)

	assert.False(t, tr.isClosed())
	assert.Equal(t, 1, r.Len())
}

func TestRegistry_SendFailureEvicts(t *testing.T) {
	su := newStatsMock()
	r := NewRegistry(testutil.TestLogger(t), su)
	tr := &fakeTransport{}
	r.Register("alice", tr)
	tr.failWith(ErrSendQueueFull)

	assert.False(t, r.Send("alice", NewTyping("c1", "bob")))

	assert.False(t, r.Connected("alice"), "expected failed connection to be evicted")
	assert.True(t, tr.isClosed())
	su.AssertCalled(t, "Incr", stats.DeliveryFailures)
	su.AssertCalled(t, "Decr", stats.NumActiveConnections)
}

func TestRegistry_Unregister(t *testing.T) {
	su := newStatsMock()
	r := NewRegistry(testutil.TestLogger(t), su)
	r.Register("alice", &fakeTransport{})

	r.Unregister("alice")
	r.Unregister("alice")

	assert.False(t, r.Connected("alice"))
	su.AssertNumberOfCalls(t, "Decr", 1)
}

func TestRegistry_Release(t *testing.T) {
	r := NewRegistry(testutil.TestLogger(t), newStatsMock())
	old := &fakeTransport{}
	current := &fakeTransport{}

	r.Register("alice", old)
	r.Register("alice", current)

	assert.True(t, r.Release("alice", old), "expected stale transport to be superseded")
	assert.True(t, r.Connected("alice"), "expected newer entry to survive")

	assert.False(t, r.Release("alice", current))
	assert.False(t, r.Connected("alice"))

	assert.False(t, r.Release("alice", current), "expected release of missing entry not to be superseded")
}

func TestRegistry_SendAll(t *testing.T) {
	r := NewRegistry(testutil.TestLogger(t), newStatsMock())
	alice := &fakeTransport{}
	bob := &fakeTransport{}
	broken := &fakeTransport{err: ErrTransportClosed}

	r.Register("alice", alice)
	r.Register("bob", bob)
	r.Register("carol", broken)

	n := r.SendAll(NewPresence("dave", "online", Now()))

	assert.Equal(t, 2, n)
	assert.Len(t, alice.messages(), 1)
	assert.Len(t, bob.messages(), 1)
	assert.False(t, r.Connected("carol"))
	assert.ElementsMatch(t, []string{"alice", "bob"}, r.UserIds())
}

func TestRegistry_CloseAll(t *testing.T) {
	r := NewRegistry(testutil.TestLogger(t), newStatsMock())
	alice := &fakeTransport{}
	bob := &fakeTransport{}
	r.Register("alice", alice)
	r.Register("bob", bob)

	r.CloseAll()

	assert.True(t, alice.isClosed())
	assert.True(t, bob.isClosed())
}

func TestRegistry_ConcurrentAccess(t *testing.T) {
	r := NewRegistry(testutil.TestLogger(t), newStatsMock())

	var wg sync.WaitGroup
	for i := range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			userId := fmt.Sprintf("user-%d", i%5)
			tr := &fakeTransport{}
			r.Register(userId, tr)
			r.SendAll(NewTyping("c1", userId))
			r.Release(userId, tr)
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, r.Len(), 5)
}
