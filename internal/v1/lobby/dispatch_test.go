package lobby

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func envelope(t *testing.T, typ string, payload any) []byte {
	t.Helper()
	raw, err := json.Marshal(struct {
		Type    string `json:"type"`
		Payload any    `json:"payload"`
	}{Type: typ, Payload: payload})
	require.NoError(t, err)
	return raw
}

func TestDispatchUnknownTypeReturnsError(t *testing.T) {
	l, _, closeFn := newTestLobby(t)
	defer closeFn()

	err := l.Dispatch("alice", envelope(t, "not_a_real_command", map[string]any{}))
	require.NotNil(t, err)
}

func TestDispatchChatRoutesToHandleChat(t *testing.T) {
	l, _, closeFn := newTestLobby(t)
	defer closeFn()

	aliceCh := attachPlayer(t, l, "alice")

	err := l.Dispatch("alice", envelope(t, "chat", map[string]any{"content": "hi"}))
	assert.Nil(t, err)

	select {
	case <-aliceCh:
	case <-time.After(time.Second):
		t.Fatal("expected the chat broadcast to reach alice")
	}
}
