package ws

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeOp(t *testing.T) {
	op, err := decodeOp([]byte(`{"op":"send","room_id":"room-1","content":{"text":"hi"},"temp_id":"t1"}`))
	require.NoError(t, err)
	assert.Equal(t, opSend, op.Op)
	assert.Equal(t, "room-1", op.RoomID)
	assert.Equal(t, "t1", op.TempID)
	assert.JSONEq(t, `{"text":"hi"}`, string(op.Content))
}

func TestDecodeOpRejectsMalformedFrame(t *testing.T) {
	_, err := decodeOp([]byte(`{not json`))
	assert.Error(t, err)
}

func TestDecodeOpRejectsUnknownOp(t *testing.T) {
	_, err := decodeOp([]byte(`{"op":"shout"}`))
	assert.Error(t, err)

	_, err = decodeOp([]byte(`{"room_id":"room-1"}`))
	assert.Error(t, err)
}

func TestAsAuthRequiresToken(t *testing.T) {
	op := clientOp{Op: opAuth}
	_, err := op.asAuth()
	assert.Error(t, err)

	op.Token = "abc"
	req, err := op.asAuth()
	require.NoError(t, err)
	assert.Equal(t, "abc", req.Token)
}

func TestAsJoinRequiresRoomID(t *testing.T) {
	_, err := clientOp{Op: opJoin}.asJoin()
	assert.Error(t, err)
}

func TestAsSendRequiresContent(t *testing.T) {
	_, err := clientOp{Op: opSend, RoomID: "room-1"}.asSend()
	assert.Error(t, err)

	_, err = clientOp{Op: opSend, Content: json.RawMessage(`{}`)}.asSend()
	assert.Error(t, err)

	req, err := clientOp{Op: opSend, RoomID: "room-1", Content: json.RawMessage(`{}`)}.asSend()
	require.NoError(t, err)
	assert.Equal(t, "room-1", req.RoomID)
}

func TestAsAckRejectsNegativeCursor(t *testing.T) {
	_, err := clientOp{Op: opAck, RoomID: "room-1", LastReadID: -1}.asAck()
	assert.Error(t, err)

	_, err = clientOp{Op: opAck, RoomID: "room-1", LastReadID: 3}.asAck()
	assert.NoError(t, err)
}
