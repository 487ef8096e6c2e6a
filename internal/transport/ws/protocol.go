package ws

import (
	"encoding/json"
	"fmt"

	"github.com/go-playground/validator/v10"
)

const (
	opAuth  = "auth"
	opJoin  = "join"
	opSend  = "send"
	opAck   = "ack"
	opEvent = "event"
	opError = "error"
)

var validate = validator.New()

// clientOp is the single inbound envelope; op discriminates which fields apply.
type clientOp struct {
	Op         string          `json:"op" validate:"required,oneof=auth join send ack"`
	Token      string          `json:"token,omitempty"`
	RoomID     string          `json:"room_id,omitempty"`
	Content    json.RawMessage `json:"content,omitempty"`
	TempID     string          `json:"temp_id,omitempty"`
	LastReadID int64           `json:"last_read_id,omitempty"`
}

type authRequest struct {
	Token string `validate:"required"`
}

type joinRequest struct {
	RoomID string `validate:"required,max=128"`
}

type sendRequest struct {
	RoomID  string          `validate:"required,max=128"`
	Content json.RawMessage `validate:"required,min=1"`
	TempID  string          `validate:"max=128"`
}

type ackRequest struct {
	RoomID     string `validate:"required,max=128"`
	LastReadID int64  `validate:"gte=0"`
}

type authReply struct {
	Op      string `json:"op"`
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

type joinReply struct {
	Op      string `json:"op"`
	RoomID  string `json:"room_id"`
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

type sendReply struct {
	Op        string `json:"op"`
	RoomID    string `json:"room_id"`
	Success   bool   `json:"success"`
	MessageID int64  `json:"message_id,omitempty"`
	TempID    string `json:"temp_id,omitempty"`
	Error     string `json:"error,omitempty"`
}

type ackReply struct {
	Op      string `json:"op"`
	RoomID  string `json:"room_id"`
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

type errorReply struct {
	Op    string `json:"op"`
	Error string `json:"error"`
}

func decodeOp(raw []byte) (clientOp, error) {
	var op clientOp
	if err := json.Unmarshal(raw, &op); err != nil {
		return clientOp{}, fmt.Errorf("malformed frame: %w", err)
	}
	if err := validate.Struct(op); err != nil {
		return clientOp{}, fmt.Errorf("unknown or missing op")
	}

	return op, nil
}

func (op clientOp) asAuth() (authRequest, error) {
	req := authRequest{Token: op.Token}
	if err := validate.Struct(req); err != nil {
		return authRequest{}, fmt.Errorf("auth requires token")
	}
	return req, nil
}

func (op clientOp) asJoin() (joinRequest, error) {
	req := joinRequest{RoomID: op.RoomID}
	if err := validate.Struct(req); err != nil {
		return joinRequest{}, fmt.Errorf("join requires room_id")
	}
	return req, nil
}

func (op clientOp) asSend() (sendRequest, error) {
	req := sendRequest{RoomID: op.RoomID, Content: op.Content, TempID: op.TempID}
	if err := validate.Struct(req); err != nil {
		return sendRequest{}, fmt.Errorf("send requires room_id and non-empty content")
	}
	return req, nil
}

func (op clientOp) asAck() (ackRequest, error) {
	req := ackRequest{RoomID: op.RoomID, LastReadID: op.LastReadID}
	if err := validate.Struct(req); err != nil {
		return ackRequest{}, fmt.Errorf("ack requires room_id and non-negative last_read_id")
	}
	return req, nil
}
