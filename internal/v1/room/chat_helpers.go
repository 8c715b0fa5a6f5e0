package room

import (
	"context"
	"fmt"
	"time"

	"github.com/dicee-dev/dicee-server/internal/v1/protocol"
)

// HandleChat appends a user chat message to the log and broadcasts it.
func (r *Room) HandleChat(caller protocol.PlayerIdType, content string) *protocol.Error {
	return r.emitChat(caller, content, "user")
}

// HandleQuickChat broadcasts one of the client's canned phrases, identified
// by key, as chat content — quick-chats are not separately persisted beyond
// the normal chat log.
func (r *Room) HandleQuickChat(caller protocol.PlayerIdType, key string) *protocol.Error {
	return r.emitChat(caller, key, "quick")
}

func (r *Room) emitChat(caller protocol.PlayerIdType, content string, kind string) *protocol.Error {
	resultCh := make(chan *protocol.Error, 1)
	r.Submit(func(ctx context.Context, now time.Time) {
		seat, ok := r.seats[caller]
		displayName := protocol.DisplayNameType("")
		if ok {
			displayName = seat.DisplayName
		}
		msg := protocol.ChatMessageEvent{
			Id: fmt.Sprintf("%s-%d", caller, now.UnixNano()), PlayerId: caller, DisplayName: displayName,
			Content: content, Timestamp: now.UnixMilli(), Type: kind,
		}
		r.chat.Append(msg)
		if err := r.persist(ctx); err != nil {
			resultCh <- protocol.NewError(protocol.CodeInternal, "persist failed: "+err.Error())
			return
		}
		r.broadcast(protocol.EventChatMessage, msg, now)
		resultCh <- nil
	})
	return <-resultCh
}

// systemMessage inserts a server-authored chat entry (join/leave/timeout/
// forfeit narration) — called by the owning actor, never by a client
// command.
func (r *Room) systemMessage(ctx context.Context, content string, now time.Time) {
	msg := protocol.ChatMessageEvent{Id: fmt.Sprintf("sys-%d", now.UnixNano()), Content: content, Timestamp: now.UnixMilli(), Type: "system"}
	r.chat.Append(msg)
	_ = r.persist(ctx)
	r.broadcast(protocol.EventChatMessage, msg, now)
}

// HandleReaction broadcasts an ephemeral emoji reaction; reactions are not
// persisted to the chat log.
func (r *Room) HandleReaction(caller protocol.PlayerIdType, emoji string) {
	r.Submit(func(ctx context.Context, now time.Time) {
		r.broadcast(protocol.EventReaction, protocol.ReactionEvent{PlayerId: caller, Emoji: emoji}, now)
	})
}
