package room

import (
	"github.com/dicee-dev/dicee-server/internal/v1/engine"
	"github.com/dicee-dev/dicee-server/internal/v1/protocol"
)

// Dispatch decodes an inbound frame and routes it to the matching Handle*
// method, returning the frame's response-worthy error (if any) or nil on
// success/ack. room.join and room.leave are not handled here — those are
// the gateway's job, since they decide which room a connection attaches to
// in the first place.
func (r *Room) Dispatch(caller protocol.PlayerIdType, data []byte, rng engine.Rng) *protocol.Error {
	env, payload, err := protocol.Decode(data)
	if err != nil {
		return err
	}

	switch cmd := payload.(type) {
	case *protocol.GameStartCommand:
		return r.HandleGameStart(caller)
	case *protocol.GameRematchCommand:
		return r.HandleGameRematch(caller)
	case *protocol.DiceRollCommand:
		return r.HandleDiceRoll(caller, cmd.Kept, rng)
	case *protocol.DiceKeepCommand:
		return r.HandleDiceKeep(caller, cmd.Indices)
	case *protocol.CategoryScoreCommand:
		return r.HandleCategoryScore(caller, cmd.Category)
	case *protocol.ChatCommand:
		return r.HandleChat(caller, cmd.Content)
	case *protocol.QuickChatCommand:
		return r.HandleQuickChat(caller, cmd.Key)
	case *protocol.ReactionCommand:
		r.HandleReaction(caller, cmd.Emoji)
		return nil
	case *protocol.QueueJoinCommand:
		return r.HandleQueueJoin(caller)
	case *protocol.QueueLeaveCommand:
		r.HandleQueueLeave(caller)
		return nil
	case *protocol.SpectatorPredictionCommand:
		r.HandleSpectatorPrediction(caller, cmd.PlayerId)
		return nil
	case *protocol.SpectatorRootingCommand:
		r.HandleSpectatorRooting(caller, cmd.PlayerId)
		return nil
	case *protocol.SpectatorKibitzCommand:
		r.HandleSpectatorKibitz(caller, cmd.Topic, cmd.Value)
		return nil
	case *protocol.TypingStartCommand, *protocol.TypingStopCommand:
		// Typing indicators are not room state. The room accepts and drops
		// them; no other connection is told about them.
		return nil
	default:
		return protocol.NewError(protocol.CodeUnknownType, "command not valid for a room: "+env.Type)
	}
}
