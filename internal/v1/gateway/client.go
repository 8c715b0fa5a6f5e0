package gateway

import (
	"log/slog"
	"time"

	"github.com/dicee-dev/dicee-server/internal/v1/engine"
	"github.com/dicee-dev/dicee-server/internal/v1/protocol"
	"github.com/dicee-dev/dicee-server/internal/v1/room"
	"github.com/gorilla/websocket"
)

// wsConnection is the subset of *websocket.Conn the client pumps need,
// mirroring transport.wsConnection so a fake can stand in for tests.
type wsConnection interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
	SetWriteDeadline(t time.Time) error
}

const writeWait = 10 * time.Second

// dispatcher is satisfied by both *room.Room and *lobby.Lobby: decode one
// inbound frame, route it to the matching handler, and return any
// response-worthy error.
type dispatcher interface {
	Dispatch(caller protocol.PlayerIdType, data []byte) *protocol.Error
}

// roomDispatcher adapts room.Room.Dispatch (which additionally takes an
// engine.Rng for dice rolls) to the dispatcher interface above.
type roomDispatcher struct {
	room *room.Room
	rng  engine.Rng
}

func (d roomDispatcher) Dispatch(caller protocol.PlayerIdType, data []byte) *protocol.Error {
	return d.room.Dispatch(caller, data, d.rng)
}

// client pumps frames between one WebSocket connection and the actor
// (room or lobby) it is attached to. Unlike the teacher's transport.Client,
// there is a single outbound channel, not a send/prioritySend pair: the
// JSON protocol.Envelope wire format has no equivalent of the teacher's
// binary fast-path messages, and the actor's own per-connection channel
// already provides backpressure handling (see room/broadcast.go's send).
type client struct {
	conn       wsConnection
	playerId   protocol.PlayerIdType
	outbound   <-chan []byte // from the actor's Attach call
	local      chan []byte   // gateway-originated frames (decode/dispatch errors)
	dispatcher dispatcher
	detach     func()
}

func newClient(conn wsConnection, playerId protocol.PlayerIdType, outbound <-chan []byte, d dispatcher, detach func()) *client {
	return &client{
		conn:       conn,
		playerId:   playerId,
		outbound:   outbound,
		local:      make(chan []byte, 8),
		dispatcher: d,
		detach:     detach,
	}
}

// readPump decodes inbound frames and routes them to the actor until the
// connection closes, then runs detach (which tells the actor to release
// this connection's seat/slot).
func (c *client) readPump() {
	defer func() {
		c.detach()
		c.conn.Close()
	}()

	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		if messageType != websocket.TextMessage && messageType != websocket.BinaryMessage {
			continue
		}

		if protoErr := c.dispatcher.Dispatch(c.playerId, data); protoErr != nil {
			frame, encodeErr := protocol.Encode(protocol.EventError, protoErr, time.Now())
			if encodeErr != nil {
				slog.Error("failed to encode error frame", "error", encodeErr)
				continue
			}
			select {
			case c.local <- frame:
			default:
				slog.Warn("client local error channel full, dropping error frame", "playerId", c.playerId)
			}
		}
	}
}

// writePump is the connection's single writer goroutine: every outgoing
// frame, whether produced by the actor or by readPump's own error
// responses, is funneled through here so gorilla/websocket never sees two
// concurrent writers on the same connection.
func (c *client) writePump() {
	defer c.conn.Close()

	for {
		select {
		case frame, ok := <-c.local:
			if !ok {
				return
			}
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case frame, ok := <-c.outbound:
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		}
	}
}
