package server

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/npezzotti/go-chatfanout/internal/stats"
	"github.com/npezzotti/go-chatfanout/internal/store"
)

const defaultRetryDelay = 200 * time.Millisecond

var ErrServerClosed = errors.New("chat server closed")

type Options struct {
	// SendBuffer is the per-connection outbound queue length.
	SendBuffer int
	// RetryDelay is the wait before retrying a store call once.
	RetryDelay time.Duration
	// TouchPresence refreshes last-seen on every pong.
	TouchPresence bool
}

// ChatServer owns the connection registry and creates a session for every
// accepted connection.
type ChatServer struct {
	log      *log.Logger
	presence store.PresenceStore
	gate     Admitter
	stats    stats.StatsProvider
	registry *Registry
	router   *Router
	opts     Options
	ctx      context.Context
	cancel   context.CancelFunc
	sessions sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

func NewChatServer(logger *log.Logger, presence store.PresenceStore, gate Admitter, su stats.StatsProvider, opts Options) (*ChatServer, error) {
	for _, name := range stats.Metrics {
		su.RegisterMetric(name)
	}

	if opts.RetryDelay <= 0 {
		opts.RetryDelay = defaultRetryDelay
	}

	registry := NewRegistry(logger, su)
	ctx, cancel := context.WithCancel(context.Background())

	return &ChatServer{
		log:      logger,
		presence: presence,
		gate:     gate,
		stats:    su,
		registry: registry,
		router:   NewRouter(logger, presence, registry),
		opts:     opts,
		ctx:      ctx,
		cancel:   cancel,
	}, nil
}

func (cs *ChatServer) Registry() *Registry {
	return cs.registry
}

func (cs *ChatServer) Router() *Router {
	return cs.router
}

// NewSession returns a session in the Connecting state for t.
func (cs *ChatServer) NewSession(userId string, t Transport) *Session {
	return &Session{
		id:         newSessionId(),
		userId:     userId,
		transport:  t,
		registry:   cs.registry,
		router:     cs.router,
		gate:       cs.gate,
		presence:   cs.presence,
		stats:      cs.stats,
		log:        cs.log,
		retryDelay: cs.opts.RetryDelay,
	}
}

// Serve runs a session for an upgraded websocket connection. It returns
// once the pumps are started, or ErrServerClosed after Shutdown.
func (cs *ChatServer) Serve(userId string, conn *websocket.Conn) error {
	cs.mu.Lock()
	if cs.closed {
		cs.mu.Unlock()
		conn.Close()
		return ErrServerClosed
	}
	cs.sessions.Add(1)
	cs.mu.Unlock()

	client := NewClient(conn, cs.log, cs.opts.SendBuffer)
	s := cs.NewSession(userId, client)

	if err := s.Open(cs.ctx); err != nil {
		cs.sessions.Done()
		client.Close()
		conn.Close()
		return err
	}

	var onPong func()
	if cs.opts.TouchPresence {
		onPong = func() { s.Touch(cs.ctx) }
	}

	go client.Write()
	go func() {
		defer cs.sessions.Done()
		client.Read(cs.ctx, s, onPong)
	}()

	// Shutdown may have run CloseAll while this session was opening.
	if cs.isClosed() {
		client.Close()
	}

	return nil
}

func (cs *ChatServer) isClosed() bool {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return cs.closed
}

// Shutdown closes every connection and waits for their sessions to finish.
func (cs *ChatServer) Shutdown(ctx context.Context) error {
	cs.mu.Lock()
	cs.closed = true
	cs.mu.Unlock()

	cs.log.Println("closing connections")
	cs.registry.CloseAll()

	done := make(chan struct{})
	go func() {
		cs.sessions.Wait()
		close(done)
	}()

	defer cs.cancel()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
