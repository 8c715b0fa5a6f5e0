package lobby

import (
	"context"
	"fmt"
	"time"

	"github.com/dicee-dev/dicee-server/internal/v1/alarmqueue"
	"github.com/dicee-dev/dicee-server/internal/v1/protocol"
)

// HandleRequestJoin brokers a join request for a private room into the host's
// inbox. spec.md §4.7 caps a requester to at most one active request at a
// time; a second request.join call while one is pending is rejected rather
// than replacing the first, so a host can't be spammed by a single impatient
// requester re-clicking.
func (l *Lobby) HandleRequestJoin(caller protocol.PlayerIdType, roomCode protocol.RoomIdType) *protocol.Error {
	resultCh := make(chan *protocol.Error, 1)
	l.Submit(func(ctx context.Context, now time.Time) {
		for _, jr := range l.joinRequests {
			if jr.RequesterId == caller {
				resultCh <- protocol.NewError(protocol.CodeAlreadyRequested, "a join request is already pending")
				return
			}
		}

		entry, ok, err := l.directory.Get(ctx, roomCode)
		if err != nil {
			resultCh <- protocol.NewError(protocol.CodeInternal, "directory lookup failed: "+err.Error())
			return
		}
		if !ok {
			resultCh <- protocol.NewError(protocol.CodeInvalidAction, "room not found")
			return
		}

		id := fmt.Sprintf("jr-%s-%d", caller, now.UnixNano())
		expiresAt := now.Add(JoinRequestTTL)
		l.joinRequests[id] = JoinRequest{
			Id: id, RequesterId: caller, RoomCode: roomCode, CreatedAt: now, ExpiresAt: expiresAt,
		}
		l.alarms.Schedule(alarmqueue.KindJoinRequestExpiration, id, expiresAt, now)

		if err := l.persist(ctx); err != nil {
			resultCh <- protocol.NewError(protocol.CodeInternal, "persist failed: "+err.Error())
			return
		}
		l.sendTo(caller, protocol.EventJoinRequestSent, protocol.JoinRequestSentEvent{
			RequestId: id, ExpiresAt: expiresAt.UnixMilli(),
		}, now)
		l.sendTo(entry.HostId, protocol.EventJoinRequestReceived, protocol.JoinRequestReceivedEvent{
			RequestId: id, RoomCode: roomCode, RequesterId: caller,
		}, now)
		resultCh <- nil
	})
	return <-resultCh
}

// HandleCancelJoinRequest withdraws a pending request. Cancelling a request
// that is already gone (resolved, expired, or never existed) is a no-op.
func (l *Lobby) HandleCancelJoinRequest(caller protocol.PlayerIdType, requestId string) {
	l.Submit(func(ctx context.Context, now time.Time) {
		jr, ok := l.joinRequests[requestId]
		if !ok || jr.RequesterId != caller {
			return
		}
		delete(l.joinRequests, requestId)
		l.alarms.Cancel(alarmqueue.KindJoinRequestExpiration, requestId)
		_ = l.persist(ctx)
		l.sendTo(caller, protocol.EventJoinRequestResolved, protocol.JoinRequestResolvedEvent{
			RequestId: requestId, Status: "cancelled",
		}, now)
	})
}

// HandleApproveJoinRequest and HandleDeclineJoinRequest are called by the
// room's host. Resolving the join request here only notifies the requester
// that they're cleared (or not) to attach — the requester performs the
// actual room attach through the normal gateway path, the same as any other
// room join, so the lobby never needs an RPC back into a live room actor for
// this.
func (l *Lobby) HandleApproveJoinRequest(caller protocol.PlayerIdType, requestId string) *protocol.Error {
	return l.resolveJoinRequest(caller, requestId, "approved")
}

func (l *Lobby) HandleDeclineJoinRequest(caller protocol.PlayerIdType, requestId string) *protocol.Error {
	return l.resolveJoinRequest(caller, requestId, "declined")
}

func (l *Lobby) resolveJoinRequest(caller protocol.PlayerIdType, requestId string, status string) *protocol.Error {
	resultCh := make(chan *protocol.Error, 1)
	l.Submit(func(ctx context.Context, now time.Time) {
		jr, ok := l.joinRequests[requestId]
		if !ok {
			resultCh <- protocol.NewError(protocol.CodeExpired, "join request no longer pending")
			return
		}
		entry, dirOk, err := l.directory.Get(ctx, jr.RoomCode)
		if err != nil || !dirOk || entry.HostId != caller {
			resultCh <- protocol.NewError(protocol.CodeNotHost, "only the room host may resolve this request")
			return
		}
		delete(l.joinRequests, requestId)
		l.alarms.Cancel(alarmqueue.KindJoinRequestExpiration, requestId)
		if err := l.persist(ctx); err != nil {
			resultCh <- protocol.NewError(protocol.CodeInternal, "persist failed: "+err.Error())
			return
		}
		l.sendTo(jr.RequesterId, protocol.EventJoinRequestResolved, protocol.JoinRequestResolvedEvent{
			RequestId: requestId, Status: status,
		}, now)
		resultCh <- nil
	})
	return <-resultCh
}

func (l *Lobby) fireJoinRequestExpiration(ctx context.Context, requestId string, now time.Time) {
	jr, ok := l.joinRequests[requestId]
	if !ok {
		return
	}
	delete(l.joinRequests, requestId)
	l.sendTo(jr.RequesterId, protocol.EventJoinRequestResolved, protocol.JoinRequestResolvedEvent{
		RequestId: requestId, Status: "expired",
	}, now)
}
