package lobby

import (
	"context"
	"fmt"
	"time"

	"github.com/dicee-dev/dicee-server/internal/v1/protocol"
)

// HandleChat appends a global chat message and broadcasts it to every
// connected player, mirroring room.Room.HandleChat.
func (l *Lobby) HandleChat(caller protocol.PlayerIdType, content string) *protocol.Error {
	resultCh := make(chan *protocol.Error, 1)
	l.Submit(func(ctx context.Context, now time.Time) {
		displayName := protocol.DisplayNameType("")
		if conns, ok := l.conns[caller]; ok && len(conns) > 0 {
			displayName = conns[0].displayName
		}
		msg := protocol.ChatMessageEvent{
			Id: fmt.Sprintf("%s-%d", caller, now.UnixNano()), PlayerId: caller, DisplayName: displayName,
			Content: content, Timestamp: now.UnixMilli(), Type: "user",
		}
		l.chat.Append(msg)
		if err := l.persist(ctx); err != nil {
			resultCh <- protocol.NewError(protocol.CodeInternal, "persist failed: "+err.Error())
			return
		}
		l.broadcast(protocol.EventChatMessage, msg, now)
		l.publishChatFanout(ctx, msg)
		resultCh <- nil
	})
	return <-resultCh
}
