package server

import (
	"context"
	"fmt"
	"log"

	"github.com/npezzotti/go-chatfanout/internal/types"
	"github.com/samber/lo"
)

// MemberResolver looks up the user ids belonging to a channel.
type MemberResolver interface {
	ChannelMembers(ctx context.Context, channelId string) ([]string, error)
}

// Reachability delivers to users connected to this process. Fanning out
// across instances means swapping this, not the Router.
type Reachability interface {
	Send(userId string, msg *ServerMessage) bool
	SendAll(msg *ServerMessage) int
}

type Router struct {
	log     *log.Logger
	members MemberResolver
	reach   Reachability
}

func NewRouter(logger *log.Logger, members MemberResolver, reach Reachability) *Router {
	return &Router{
		log:     logger,
		members: members,
		reach:   reach,
	}
}

// BroadcastToChannel sends msg to every reachable channel member except
// exclude and returns the number of successful deliveries. Unreachable
// members are skipped. The only error is a failed member lookup, in which
// case nothing was sent.
func (r *Router) BroadcastToChannel(ctx context.Context, channelId string, msg *ServerMessage, exclude string) (int, error) {
	members, err := r.members.ChannelMembers(ctx, channelId)
	if err != nil {
		return 0, fmt.Errorf("members of %q: %w", channelId, err)
	}

	recipients := lo.Uniq(members)
	if exclude != "" {
		recipients = lo.Without(recipients, exclude)
	}

	delivered := 0
	for _, userId := range recipients {
		if r.reach.Send(userId, msg) {
			delivered++
		}
	}

	return delivered, nil
}

// BroadcastPresence announces a status change to every connected user,
// regardless of channel membership.
func (r *Router) BroadcastPresence(userId string, status types.Status) int {
	n := r.reach.SendAll(NewPresence(userId, status, Now()))
	r.log.Printf("presence %q is %s, notified %d connections", userId, status, n)
	return n
}
