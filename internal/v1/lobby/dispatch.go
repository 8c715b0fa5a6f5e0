package lobby

import (
	"github.com/dicee-dev/dicee-server/internal/v1/protocol"
)

// Dispatch routes one decoded wire command to its lobby handler. lobby.join
// and lobby.leave are not handled here — those are gateway-level
// attach/detach, same as room.join/room.leave for the room actor.
func (l *Lobby) Dispatch(caller protocol.PlayerIdType, data []byte) *protocol.Error {
	env, payload, err := protocol.Decode(data)
	if err != nil {
		return err
	}

	switch cmd := payload.(type) {
	case *protocol.ChatCommand:
		return l.HandleChat(caller, cmd.Content)
	case *protocol.InviteCommand:
		roomCode, rcErr := protocol.NormalizeRoomCode(cmd.RoomCode)
		if rcErr != nil {
			return protocol.NewError(protocol.CodeInvalidPayload, rcErr.Error())
		}
		return l.HandleInvite(caller, protocol.PlayerIdType(cmd.InviteeId), roomCode)
	case *protocol.InviteResponseCommand:
		l.HandleInviteResponse(caller, cmd.InviteId, cmd.Accept)
		return nil
	case *protocol.RequestJoinCommand:
		roomCode, rcErr := protocol.NormalizeRoomCode(cmd.RoomCode)
		if rcErr != nil {
			return protocol.NewError(protocol.CodeInvalidPayload, rcErr.Error())
		}
		return l.HandleRequestJoin(caller, roomCode)
	case *protocol.CancelJoinRequestCommand:
		l.HandleCancelJoinRequest(caller, cmd.RequestId)
		return nil
	case *protocol.ApproveJoinRequestCommand:
		return l.HandleApproveJoinRequest(caller, cmd.RequestId)
	case *protocol.DeclineJoinRequestCommand:
		return l.HandleDeclineJoinRequest(caller, cmd.RequestId)
	default:
		return protocol.NewError(protocol.CodeUnknownType, "command not valid for the lobby: "+env.Type)
	}
}
