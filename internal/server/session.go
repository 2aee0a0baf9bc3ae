package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/npezzotti/go-chatfanout/internal/admission"
	"github.com/npezzotti/go-chatfanout/internal/stats"
	"github.com/npezzotti/go-chatfanout/internal/store"
	"github.com/npezzotti/go-chatfanout/internal/types"
	"github.com/teris-io/shortid"
)

type State int

const (
	Connecting State = iota
	Open
	Closed
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Open:
		return "open"
	case Closed:
		return "closed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

var ErrSessionState = errors.New("invalid session state")

// Admitter decides whether a chat message may be broadcast.
type Admitter interface {
	Admit(ctx context.Context, userId, content string) (admission.Result, error)
	Limits() admission.Limits
}

// Session drives one connection from handshake to disconnect. It is not
// safe for concurrent use: Open, Handle, Touch and Close are called from
// the connection's read goroutine.
type Session struct {
	id         string
	userId     string
	transport  Transport
	registry   *Registry
	router     *Router
	gate       Admitter
	presence   store.PresenceStore
	stats      stats.StatsProvider
	log        *log.Logger
	retryDelay time.Duration
	state      State
}

func newSessionId() string {
	id, err := shortid.Generate()
	if err != nil {
		return fmt.Sprintf("%d", time.Now().UnixNano())
	}
	return id
}

func (s *Session) Id() string {
	return s.id
}

func (s *Session) UserId() string {
	return s.userId
}

func (s *Session) State() State {
	return s.state
}

// Open registers the connection, marks the user online and announces it to
// every connected user.
func (s *Session) Open(ctx context.Context) error {
	if s.state != Connecting {
		return fmt.Errorf("open session %s: %w: %s", s.id, ErrSessionState, s.state)
	}

	s.registry.Register(s.userId, s.transport)
	s.state = Open
	s.log.Printf("session %s opened for %q", s.id, s.userId)

	s.setStatus(ctx, types.StatusOnline)
	s.router.BroadcastPresence(s.userId, types.StatusOnline)
	return nil
}

// Close tears the session down. If a newer connection has already taken
// over the user id, presence is left alone.
func (s *Session) Close(ctx context.Context) {
	if s.state == Closed {
		return
	}
	prev := s.state
	s.state = Closed
	defer s.transport.Close()

	if prev != Open {
		return
	}

	if superseded := s.registry.Release(s.userId, s.transport); superseded {
		s.log.Printf("session %s closed for %q, superseded by a newer connection", s.id, s.userId)
		return
	}

	s.log.Printf("session %s closed for %q", s.id, s.userId)
	s.setStatus(ctx, types.StatusOffline)
	s.router.BroadcastPresence(s.userId, types.StatusOffline)
}

// Touch refreshes the user's last-seen time.
func (s *Session) Touch(ctx context.Context) {
	if s.state != Open {
		return
	}
	if err := s.presence.Touch(ctx, s.userId, time.Now()); err != nil {
		s.log.Printf("touch presence for %q: %v", s.userId, err)
	}
}

// Handle processes one raw inbound event.
func (s *Session) Handle(ctx context.Context, raw []byte) {
	if s.state != Open {
		return
	}

	var msg ClientMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		s.log.Printf("error parsing message from %q: %v", s.userId, err)
		s.reply(ErrInvalidMessage("malformed json"))
		return
	}

	if msg.Type != "" && !msg.Known() {
		// newer clients may send event types this server doesn't know
		return
	}

	if err := msg.Validate(); err != nil {
		s.reply(ErrInvalidMessage(err.Error()))
		return
	}

	switch msg.Type {
	case TypeMessage:
		s.handleChat(ctx, &msg)
	case TypeTyping:
		s.broadcast(ctx, msg.ChannelId, NewTyping(msg.ChannelId, s.userId), s.userId)
	case TypeReadReceipt:
		s.broadcast(ctx, msg.ChannelId, NewReadReceipt(msg.ChannelId, s.userId, msg.MessageId), "")
	case TypePresence:
		s.handlePresence(ctx, &msg)
	}
}

func (s *Session) handleChat(ctx context.Context, msg *ClientMessage) {
	var res admission.Result
	err := s.retry(ctx, func() error {
		var err error
		res, err = s.gate.Admit(ctx, s.userId, msg.Content)
		return err
	})
	if err != nil {
		s.log.Printf("admission for %q failed: %v", s.userId, err)
		s.reply(ErrServiceUnavailable())
		return
	}

	switch res.Kind {
	case admission.Accepted:
		s.stats.Incr(stats.MessagesAccepted)
		s.broadcast(ctx, msg.ChannelId, NewChatMessage(msg.ChannelId, s.userId, res.Content, Now()), "")
	case admission.RateLimited:
		s.stats.Incr(stats.MessagesRateLimited)
		limits := s.gate.Limits()
		s.reply(ErrRateLimited(limits.MaxMessages, limits.Window))
	case admission.Moderated:
		s.stats.Incr(stats.MessagesModerated)
		s.reply(NewModerationWarning(res.Categories))
	}
}

func (s *Session) handlePresence(ctx context.Context, msg *ClientMessage) {
	status := types.Status(msg.Status)
	s.setStatus(ctx, status)
	s.router.BroadcastPresence(s.userId, status)
}

func (s *Session) broadcast(ctx context.Context, channelId string, msg *ServerMessage, exclude string) {
	var delivered int
	err := s.retry(ctx, func() error {
		var err error
		delivered, err = s.router.BroadcastToChannel(ctx, channelId, msg, exclude)
		return err
	})
	if err != nil {
		s.log.Printf("broadcast %s to %q failed: %v", msg.Type, channelId, err)
		s.reply(ErrServiceUnavailable())
		return
	}

	s.log.Printf("broadcast %s from %q to %q reached %d connections", msg.Type, s.userId, channelId, delivered)
}

func (s *Session) setStatus(ctx context.Context, status types.Status) {
	err := s.retry(ctx, func() error {
		return s.presence.SetStatus(ctx, s.userId, status, time.Now())
	})
	if err != nil {
		s.log.Printf("set status %s for %q: %v", status, s.userId, err)
	}
}

// reply goes to this session's own connection only.
func (s *Session) reply(msg *ServerMessage) {
	if err := s.transport.Send(msg); err != nil {
		s.log.Printf("reply %s to %q: %v", msg.Type, s.userId, err)
	}
}

// retry runs op a second time after a short backoff when the store was
// unavailable. Any other error is returned as is.
func (s *Session) retry(ctx context.Context, op func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.retryDelay

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		err := op()
		if err != nil && !errors.Is(err, store.ErrUnavailable) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	}, backoff.WithBackOff(b), backoff.WithMaxTries(2))

	return err
}
