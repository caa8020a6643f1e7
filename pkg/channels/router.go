package channels

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/dotsetgreg/mindful/pkg/bus"
	"github.com/dotsetgreg/mindful/pkg/chat"
)

const routerWorkers = 4

// TurnHandler runs one chat turn and returns the reply.
type TurnHandler interface {
	HandleTurn(ctx context.Context, userID, message string) (string, error)
}

// Router consumes inbound channel messages, runs each through the turn
// pipeline under a channel-scoped identity, and publishes the reply.
type Router struct {
	bus   *bus.MessageBus
	turns TurnHandler
}

func NewRouter(messageBus *bus.MessageBus, turns TurnHandler) *Router {
	return &Router{bus: messageBus, turns: turns}
}

// Run consumes until ctx is cancelled. A fixed worker pool keeps one
// slow completion from stalling every other conversation.
func (r *Router) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := 0; i < routerWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				msg, ok := r.bus.ConsumeInbound(ctx)
				if !ok {
					return
				}
				r.handle(ctx, msg)
			}
		}()
	}
	wg.Wait()
}

func (r *Router) handle(ctx context.Context, msg bus.InboundMessage) {
	// The channel-qualified sender is the anonymous identity, so memory
	// follows the person rather than the chat.
	userID := msg.Channel + ":" + msg.SenderID

	reply, err := r.turns.HandleTurn(ctx, userID, msg.Content)
	if err != nil {
		if errors.Is(err, chat.ErrEmptyMessage) {
			return
		}
		log.Error().Err(err).Str("channel", msg.Channel).Str("user_id", userID).Msg("channel turn failed")
		reply = "Something went wrong"
	}

	r.bus.PublishOutbound(bus.OutboundMessage{
		Channel: msg.Channel,
		ChatID:  msg.ChatID,
		Content: reply,
	})
}
