package lobby

import (
	"context"
	"fmt"
	"time"

	"github.com/dicee-dev/dicee-server/internal/v1/alarmqueue"
	"github.com/dicee-dev/dicee-server/internal/v1/protocol"
)

// HandleInvite issues an invite from caller to inviteeId for roomCode. Any
// prior unresolved invite from the same inviter to the same invitee for the
// same room is replaced rather than stacked.
func (l *Lobby) HandleInvite(caller protocol.PlayerIdType, inviteeId protocol.PlayerIdType, roomCode protocol.RoomIdType) *protocol.Error {
	resultCh := make(chan *protocol.Error, 1)
	l.Submit(func(ctx context.Context, now time.Time) {
		for id, inv := range l.invites {
			if !inv.Resolved && inv.InviterId == caller && inv.InviteeId == inviteeId && inv.RoomCode == roomCode {
				delete(l.invites, id)
				l.alarms.Cancel(alarmqueue.KindInviteExpiration, id)
			}
		}

		id := fmt.Sprintf("inv-%s-%d", caller, now.UnixNano())
		expiresAt := now.Add(InviteTTL)
		l.invites[id] = Invite{
			Id: id, InviterId: caller, InviteeId: inviteeId, RoomCode: roomCode,
			CreatedAt: now, ExpiresAt: expiresAt,
		}
		l.alarms.Schedule(alarmqueue.KindInviteExpiration, id, expiresAt, now)

		if err := l.persist(ctx); err != nil {
			resultCh <- protocol.NewError(protocol.CodeInternal, "persist failed: "+err.Error())
			return
		}
		l.sendTo(inviteeId, protocol.EventInviteReceived, protocol.InviteReceivedEvent{
			InviteId: id, RoomCode: roomCode, InviterId: caller, ExpiresAt: expiresAt.UnixMilli(),
		}, now)
		resultCh <- nil
	})
	return <-resultCh
}

// HandleInviteResponse resolves a pending invite. Responding to an invite
// that is unknown, already resolved, or expired is a no-op rather than an
// error — the invite's expiry alarm will already have (or is about to)
// notify the inviter that it lapsed, and a duplicate accept/decline from a racing
// second tab should not surface as a user-visible failure.
func (l *Lobby) HandleInviteResponse(caller protocol.PlayerIdType, inviteId string, accept bool) {
	l.Submit(func(ctx context.Context, now time.Time) {
		inv, ok := l.invites[inviteId]
		if !ok || inv.Resolved || inv.InviteeId != caller {
			return
		}
		inv.Resolved = true
		l.invites[inviteId] = inv
		l.alarms.Cancel(alarmqueue.KindInviteExpiration, inviteId)
		_ = l.persist(ctx)

		status := "declined"
		if accept {
			status = "approved"
		}
		l.sendTo(inv.InviterId, protocol.EventJoinRequestResolved, protocol.JoinRequestResolvedEvent{
			RequestId: inviteId, Status: status,
		}, now)
	})
}

func (l *Lobby) fireInviteExpiration(ctx context.Context, inviteId string, now time.Time) {
	inv, ok := l.invites[inviteId]
	if !ok {
		return
	}
	delete(l.invites, inviteId)
	if inv.Resolved {
		return
	}
	l.sendTo(inv.InviterId, protocol.EventJoinRequestResolved, protocol.JoinRequestResolvedEvent{
		RequestId: inviteId, Status: "expired",
	}, now)
}
