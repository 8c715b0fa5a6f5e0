package lobby

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/dicee-dev/dicee-server/internal/v1/bus"
	"github.com/dicee-dev/dicee-server/internal/v1/protocol"
)

const (
	busEventChatMessage      = "chat_message"
	busEventDirectoryChanged = "directory_changed"
)

// StartBusSync subscribes this instance to bus.LobbyChannel so it can react
// to global chat and directory mutations published by other instances. The
// conns map and the directory cache are both local to this process
// (spec.md §4.3/§4.7's presence, chat, and directory are deployment-wide
// concepts, but this Lobby struct and its Directory are one per instance),
// so without this a chat message or a room-status change handled by one
// instance would never reach players or directory reads on another.
func (l *Lobby) StartBusSync(ctx context.Context, wg *sync.WaitGroup) {
	if l.bus == nil {
		return
	}
	l.bus.SubscribeLobby(ctx, wg, l.handleBusMessage)
}

func (l *Lobby) handleBusMessage(msg bus.PubSubPayload) {
	if msg.SenderID == l.instanceId {
		return // this instance published it; already applied locally
	}
	switch msg.Event {
	case busEventChatMessage:
		var chatMsg protocol.ChatMessageEvent
		if err := json.Unmarshal(msg.Payload, &chatMsg); err != nil {
			return
		}
		l.Submit(func(ctx context.Context, now time.Time) {
			l.applyRemoteChat(chatMsg, now)
		})
	case busEventDirectoryChanged:
		l.Submit(func(ctx context.Context, now time.Time) {
			l.directory.Invalidate()
		})
	}
}

// applyRemoteChat folds a chat message another instance already persisted
// into this process's local log and pushes it to this instance's own
// connections, since a remote instance's broadcast never reaches sockets
// terminated here.
func (l *Lobby) applyRemoteChat(msg protocol.ChatMessageEvent, now time.Time) {
	for _, existing := range l.chat.Snapshot() {
		if existing.Id == msg.Id {
			return // already applied
		}
	}
	l.chat.Append(msg)
	l.broadcast(protocol.EventChatMessage, msg, now)
}

// publishChatFanout tells every other instance about a chat message this
// instance just persisted and broadcast locally.
func (l *Lobby) publishChatFanout(ctx context.Context, msg protocol.ChatMessageEvent) {
	if l.bus == nil {
		return
	}
	_ = l.bus.PublishLobby(ctx, busEventChatMessage, msg, l.instanceId)
}

// publishDirectoryChanged tells every other instance to drop its directory
// cache after this instance upserted or removed an entry, so the next read
// on that instance re-hydrates from the shared store instead of serving a
// stale in-memory copy.
func (l *Lobby) publishDirectoryChanged(ctx context.Context) {
	if l.bus == nil {
		return
	}
	_ = l.bus.PublishLobby(ctx, busEventDirectoryChanged, struct{}{}, l.instanceId)
}
