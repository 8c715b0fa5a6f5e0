package lobby

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dicee-dev/dicee-server/internal/v1/alarmqueue"
)

func TestHandleInviteDeliversToInvitee(t *testing.T) {
	l, _, closeFn := newTestLobby(t)
	defer closeFn()

	attachPlayer(t, l, "alice")
	bobCh := attachPlayer(t, l, "bob")

	err := l.HandleInvite("alice", "bob", "ABCDEF")
	assert.Nil(t, err)

	select {
	case <-bobCh:
	case <-time.After(time.Second):
		t.Fatal("expected bob to receive an invite_received event")
	}
}

func firstInviteId(t *testing.T, l *Lobby) string {
	t.Helper()
	var id string
	done := make(chan struct{})
	l.Submit(func(ctx context.Context, now time.Time) {
		for k := range l.invites {
			id = k
		}
		close(done)
	})
	<-done
	require.NotEmpty(t, id)
	return id
}

func TestHandleInviteResponseAcceptIsIdempotent(t *testing.T) {
	l, _, closeFn := newTestLobby(t)
	defer closeFn()

	attachPlayer(t, l, "alice")
	attachPlayer(t, l, "bob")
	require.Nil(t, l.HandleInvite("alice", "bob", "ABCDEF"))
	inviteId := firstInviteId(t, l)

	l.HandleInviteResponse("bob", inviteId, true)
	// A second response to the now-resolved invite is a silent no-op, not a
	// second resolution or an error.
	l.HandleInviteResponse("bob", inviteId, false)

	done := make(chan struct{})
	var resolved bool
	l.Submit(func(ctx context.Context, now time.Time) {
		resolved = l.invites[inviteId].Resolved
		close(done)
	})
	<-done
	assert.True(t, resolved)
}

func TestFireInviteExpirationNotifiesInviter(t *testing.T) {
	l, _, closeFn := newTestLobby(t)
	defer closeFn()

	aliceCh := attachPlayer(t, l, "alice")
	attachPlayer(t, l, "bob")
	<-aliceCh // drain bob's presence broadcast
	require.Nil(t, l.HandleInvite("alice", "bob", "ABCDEF"))
	inviteId := firstInviteId(t, l)

	done := make(chan struct{})
	l.Submit(func(ctx context.Context, now time.Time) {
		future := now.Add(InviteTTL + time.Second)
		for _, a := range l.alarms.ProcessDue(future) {
			if a.Kind == alarmqueue.KindInviteExpiration && a.TargetId == inviteId {
				l.fireInviteExpiration(ctx, a.TargetId, future)
			}
		}
		close(done)
	})
	<-done

	select {
	case <-aliceCh:
	case <-time.After(time.Second):
		t.Fatal("expected alice to be told her invite expired")
	}
}
