package server

import (
	"errors"
	"log"
	"sync"
	"time"

	"github.com/npezzotti/go-chatfanout/internal/stats"
)

var (
	ErrSendQueueFull   = errors.New("send queue full")
	ErrTransportClosed = errors.New("transport closed")
)

// Transport is one client's outbound channel. Send must not block on
// network I/O; Close must be safe to call more than once.
type Transport interface {
	Send(msg *ServerMessage) error
	Close()
}

type connection struct {
	transport   Transport
	connectedAt time.Time
}

// Registry maps user ids to their live transport, at most one per user.
// The lock only guards the map; transports are never called while it is
// held.
type Registry struct {
	log   *log.Logger
	stats stats.StatsProvider
	mu    sync.Mutex
	conns map[string]connection
}

func NewRegistry(logger *log.Logger, su stats.StatsProvider) *Registry {
	return &Registry{
		log:   logger,
		stats: su,
		conns: make(map[string]connection),
	}
}

// Register makes t the user's connection. A previous connection for the
// same user is closed.
func (r *Registry) Register(userId string, t Transport) {
	r.mu.Lock()
	prev, replaced := r.conns[userId]
	r.conns[userId] = connection{transport: t, connectedAt: time.Now()}
	r.mu.Unlock()

	if !replaced {
		r.stats.Incr(stats.NumActiveConnections)
		return
	}

	if prev.transport != t {
		r.log.Printf("replacing connection for %q", userId)
		prev.transport.Close()
	}
}

// Unregister removes the user's connection if there is one.
func (r *Registry) Unregister(userId string) {
	r.mu.Lock()
	_, ok := r.conns[userId]
	delete(r.conns, userId)
	r.mu.Unlock()

	if ok {
		r.stats.Decr(stats.NumActiveConnections)
	}
}

// Release removes the user's entry only if it still belongs to t. It
// reports whether another transport has taken the user id over.
func (r *Registry) Release(userId string, t Transport) (superseded bool) {
	r.mu.Lock()
	c, ok := r.conns[userId]
	owned := ok && c.transport == t
	if owned {
		delete(r.conns, userId)
	}
	r.mu.Unlock()

	if owned {
		r.stats.Decr(stats.NumActiveConnections)
	}
	return ok && !owned
}

// Send delivers msg to the user's connection. It returns false when the
// user has none or the write fails; a failed connection is evicted.
func (r *Registry) Send(userId string, msg *ServerMessage) bool {
	r.mu.Lock()
	c, ok := r.conns[userId]
	r.mu.Unlock()
	if !ok {
		return false
	}

	if err := c.transport.Send(msg); err != nil {
		r.log.Printf("evicting connection for %q: %v", userId, err)
		r.stats.Incr(stats.DeliveryFailures)
		r.Release(userId, c.transport)
		c.transport.Close()
		return false
	}

	return true
}

// SendAll delivers msg to every registered connection and returns how many
// accepted it.
func (r *Registry) SendAll(msg *ServerMessage) int {
	delivered := 0
	for _, userId := range r.UserIds() {
		if r.Send(userId, msg) {
			delivered++
		}
	}
	return delivered
}

func (r *Registry) UserIds() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	ids := make([]string, 0, len(r.conns))
	for id := range r.conns {
		ids = append(ids, id)
	}
	return ids
}

func (r *Registry) Connected(userId string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, ok := r.conns[userId]
	return ok
}

func (r *Registry) ConnectedAt(userId string) (time.Time, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.conns[userId]
	return c.connectedAt, ok
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.conns)
}

// CloseAll closes every registered transport. Entries are removed by the
// owning sessions as they shut down.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	transports := make([]Transport, 0, len(r.conns))
	for _, c := range r.conns {
		transports = append(transports, c.transport)
	}
	r.mu.Unlock()

	for _, t := range transports {
		t.Close()
	}
}
