package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/arcsolve/relay/internal/service/models/event"
	"github.com/arcsolve/relay/internal/service/models/outbox"
	"github.com/gorilla/websocket"
)

// conn is one client connection. The read loop runs on its own goroutine; all
// writes go through writeJSON/deliver behind writeMu with a deadline, so a
// stalled consumer is closed rather than allowed to block a room's fan-out.
type conn struct {
	sock *websocket.Conn
	gw   *WSTransport

	writeMu sync.Mutex

	mu        sync.Mutex
	principal string
	rooms     map[string]struct{}

	closeOnce sync.Once
}

func newConn(sock *websocket.Conn, gw *WSTransport) *conn {
	return &conn{
		sock:  sock,
		gw:    gw,
		rooms: map[string]struct{}{},
	}
}

func (c *conn) authenticated() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.principal != ""
}

func (c *conn) setPrincipal(subject string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.principal = subject
}

func (c *conn) getPrincipal() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.principal
}

// addRoom reports whether the room was newly added for this connection.
func (c *conn) addRoom(roomID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.rooms[roomID]; ok {
		return false
	}
	c.rooms[roomID] = struct{}{}
	return true
}

func (c *conn) hasRoom(roomID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.rooms[roomID]
	return ok
}

func (c *conn) snapshotRooms() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	rooms := make([]string, 0, len(c.rooms))
	for roomID := range c.rooms {
		rooms = append(rooms, roomID)
	}
	return rooms
}

func (c *conn) run() {
	defer c.close()

	c.sock.SetReadLimit(c.gw.maxBodyBytes)

	authTimer := time.AfterFunc(c.gw.authWindow, func() {
		if !c.authenticated() {
			c.writeJSON(authReply{Op: opAuth, Error: "authentication window expired"})
			c.close()
		}
	})
	defer authTimer.Stop()

	limiter := c.gw.newLimiter()

	for {
		_, raw, err := c.sock.ReadMessage()
		if err != nil {
			return
		}

		if !limiter.Allow() {
			c.writeJSON(errorReply{Op: opError, Error: "rate limit exceeded"})
			continue
		}

		op, err := decodeOp(raw)
		if err != nil {
			c.writeJSON(errorReply{Op: opError, Error: err.Error()})
			continue
		}

		if op.Op == opAuth {
			if !c.handleAuth(op) {
				return
			}
			continue
		}

		if !c.authenticated() {
			c.writeJSON(errorReply{Op: opError, Error: "not authenticated"})
			continue
		}

		switch op.Op {
		case opJoin:
			c.handleJoin(op)
		case opSend:
			c.handleSend(op)
		case opAck:
			c.handleAck(op)
		}
	}
}

// handleAuth reports whether the connection survives the attempt. A failed or
// repeated auth closes it.
func (c *conn) handleAuth(op clientOp) bool {
	if c.authenticated() {
		c.writeJSON(authReply{Op: opAuth, Error: "already authenticated"})
		return false
	}

	req, err := op.asAuth()
	if err != nil {
		c.writeJSON(authReply{Op: opAuth, Error: err.Error()})
		return false
	}

	subject, err := c.gw.verifier.Verify(req.Token)
	if err != nil {
		c.writeJSON(authReply{Op: opAuth, Error: "invalid token"})
		return false
	}

	c.setPrincipal(subject)
	c.writeJSON(authReply{Op: opAuth, Success: true})

	return true
}

func (c *conn) handleJoin(op clientOp) {
	req, err := op.asJoin()
	if err != nil {
		c.writeJSON(joinReply{Op: opJoin, RoomID: op.RoomID, Error: err.Error()})
		return
	}

	ctx, cancel := c.opContext()
	defer cancel()

	ok, err := c.gw.service.IsMember(ctx, req.RoomID, c.getPrincipal())
	if err != nil {
		slog.Error("membership check failed", "room_id", req.RoomID, "error", err)
		c.writeJSON(joinReply{Op: opJoin, RoomID: req.RoomID, Error: "internal error"})
		return
	}
	if !ok {
		c.writeJSON(joinReply{Op: opJoin, RoomID: req.RoomID, Error: "not a member"})
		return
	}

	if c.addRoom(req.RoomID) {
		if first := c.gw.registry.Join(req.RoomID, c); first {
			c.gw.subscribeRoom(ctx, req.RoomID)
		}
	}

	c.writeJSON(joinReply{Op: opJoin, RoomID: req.RoomID, Success: true})
	c.backfill(ctx, req.RoomID)
}

// backfill replays messages past the caller's read cursor, marked so the
// client can tell them from live fan-out.
func (c *conn) backfill(ctx context.Context, roomID string) {
	messages, err := c.gw.service.Backfill(ctx, roomID, c.getPrincipal(), c.gw.backfillLimit)
	if err != nil {
		slog.Error("backfill failed", "room_id", roomID, "error", err)
		return
	}

	for _, msg := range messages {
		c.writeJSON(event.Event{
			Op:     opEvent,
			Type:   outbox.TypeMessageCreated,
			RoomID: roomID,
			Message: &event.MessageBody{
				ID:        msg.ID,
				SenderID:  msg.SenderID,
				Body:      msg.Body,
				CreatedAt: msg.CreatedAt,
			},
			Timestamp: msg.CreatedAt.UTC().Format(time.RFC3339Nano),
			Source:    event.SourceBackfill,
		})
	}
}

func (c *conn) handleSend(op clientOp) {
	req, err := op.asSend()
	if err != nil {
		c.writeJSON(sendReply{Op: opSend, RoomID: op.RoomID, TempID: op.TempID, Error: err.Error()})
		return
	}

	if !c.hasRoom(req.RoomID) {
		c.writeJSON(sendReply{Op: opSend, RoomID: req.RoomID, TempID: req.TempID, Error: "not joined"})
		return
	}

	ctx, cancel := c.opContext()
	defer cancel()

	msg, err := c.gw.service.SendMessage(ctx, req.RoomID, c.getPrincipal(), req.Content, req.TempID)
	if err != nil {
		slog.Error("send failed", "room_id", req.RoomID, "error", err)
		c.writeJSON(sendReply{Op: opSend, RoomID: req.RoomID, TempID: req.TempID, Error: "internal error"})
		return
	}

	c.writeJSON(sendReply{
		Op:        opSend,
		RoomID:    req.RoomID,
		Success:   true,
		MessageID: msg.ID,
		TempID:    req.TempID,
	})
}

func (c *conn) handleAck(op clientOp) {
	req, err := op.asAck()
	if err != nil {
		c.writeJSON(ackReply{Op: opAck, RoomID: op.RoomID, Error: err.Error()})
		return
	}

	ctx, cancel := c.opContext()
	defer cancel()

	if err := c.gw.service.Ack(ctx, req.RoomID, c.getPrincipal(), req.LastReadID); err != nil {
		slog.Error("ack failed", "room_id", req.RoomID, "error", err)
		c.writeJSON(ackReply{Op: opAck, RoomID: req.RoomID, Error: "internal error"})
		return
	}

	c.writeJSON(ackReply{Op: opAck, RoomID: req.RoomID, Success: true})
}

func (c *conn) opContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), c.gw.opTimeout)
}

// deliver implements the registry's sink.
func (c *conn) deliver(payload []byte) {
	c.writeRaw(payload)
}

func (c *conn) writeJSON(v any) {
	raw, err := json.Marshal(v)
	if err != nil {
		slog.Error("failed to encode reply", "error", err)
		return
	}
	c.writeRaw(raw)
}

func (c *conn) writeRaw(payload []byte) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	_ = c.sock.SetWriteDeadline(time.Now().Add(c.gw.writeTimeout))
	if err := c.sock.WriteMessage(websocket.TextMessage, payload); err != nil {
		c.close()
	}
}

func (c *conn) close() {
	c.closeOnce.Do(func() {
		_ = c.sock.Close()

		for _, roomID := range c.gw.registry.Drop(c, c.snapshotRooms()) {
			c.gw.unsubscribeRoom(context.Background(), roomID)
		}
	})
}
