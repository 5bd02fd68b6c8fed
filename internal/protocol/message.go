// Package protocol defines the wire contract shared by the chatroom
// instances, the discovery service, and the search gateway: the JSON
// websocket frames, the term hash, and the HTTP request/response shapes.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Tag values carried in the "type" field of every websocket frame.
const (
	TypeJoin                   = "Join"
	TypeNewMessage             = "NewMessage"
	TypeChatsFromTodayRequest  = "ChatsFromTodayRequest"
	TypeJoined                 = "Joined"
	TypeNewUser                = "NewUser"
	TypeUserDisconnected       = "UserDisconnected"
	TypeChatsFromTodayResponse = "ChatsFromTodayResponse"
)

// ClientMessage is a frame sent by a chat client to an instance.
type ClientMessage interface {
	clientTag() string
}

// ServerMessage is a frame sent by an instance to its clients.
type ServerMessage interface {
	serverTag() string
}

// Join attaches the connection to a chatroom. It must be the first
// frame on every connection; later Joins are ignored.
type Join struct {
	ChatroomID int32 `json:"chatroom_id"`
}

// NewMessage carries one chat line. Clients send it to post; the room
// broadcasts the same shape to every member, including the sender.
type NewMessage struct {
	Content string `json:"content"`
}

// ChatsFromTodayRequest asks for the room's messages since local midnight.
type ChatsFromTodayRequest struct{}

// Joined confirms the connection is attached to a chatroom.
type Joined struct {
	ChatroomID int32 `json:"chatroom_id"`
}

// NewUser announces a user joining the room.
type NewUser struct {
	UserID int32 `json:"user_id"`
}

// UserDisconnected announces a user leaving the room.
type UserDisconnected struct {
	UserID int32 `json:"user_id"`
}

// ChatsFromTodayResponse carries the room's messages since local midnight.
type ChatsFromTodayResponse struct {
	Messages []string `json:"messages"`
}

func (Join) clientTag() string                  { return TypeJoin }
func (NewMessage) clientTag() string            { return TypeNewMessage }
func (ChatsFromTodayRequest) clientTag() string { return TypeChatsFromTodayRequest }

func (Joined) serverTag() string                 { return TypeJoined }
func (NewUser) serverTag() string                { return TypeNewUser }
func (NewMessage) serverTag() string             { return TypeNewMessage }
func (UserDisconnected) serverTag() string       { return TypeUserDisconnected }
func (ChatsFromTodayResponse) serverTag() string { return TypeChatsFromTodayResponse }

// MarshalClient encodes a client frame with its "type" tag first.
func MarshalClient(m ClientMessage) ([]byte, error) {
	switch v := m.(type) {
	case Join:
		return json.Marshal(struct {
			Type string `json:"type"`
			Join
		}{TypeJoin, v})
	case NewMessage:
		return json.Marshal(struct {
			Type string `json:"type"`
			NewMessage
		}{TypeNewMessage, v})
	case ChatsFromTodayRequest:
		return json.Marshal(struct {
			Type string `json:"type"`
		}{TypeChatsFromTodayRequest})
	default:
		return nil, fmt.Errorf("unknown client message %T", m)
	}
}

// MarshalServer encodes a server frame with its "type" tag first.
func MarshalServer(m ServerMessage) ([]byte, error) {
	switch v := m.(type) {
	case Joined:
		return json.Marshal(struct {
			Type string `json:"type"`
			Joined
		}{TypeJoined, v})
	case NewUser:
		return json.Marshal(struct {
			Type string `json:"type"`
			NewUser
		}{TypeNewUser, v})
	case NewMessage:
		return json.Marshal(struct {
			Type string `json:"type"`
			NewMessage
		}{TypeNewMessage, v})
	case UserDisconnected:
		return json.Marshal(struct {
			Type string `json:"type"`
			UserDisconnected
		}{TypeUserDisconnected, v})
	case ChatsFromTodayResponse:
		return json.Marshal(struct {
			Type string `json:"type"`
			ChatsFromTodayResponse
		}{TypeChatsFromTodayResponse, v})
	default:
		return nil, fmt.Errorf("unknown server message %T", m)
	}
}

// ParseClient decodes a client frame by its "type" tag.
func ParseClient(data []byte) (ClientMessage, error) {
	tag, err := frameTag(data)
	if err != nil {
		return nil, err
	}
	switch tag {
	case TypeJoin:
		var m Join
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("decode %s: %w", tag, err)
		}
		return m, nil
	case TypeNewMessage:
		var m NewMessage
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("decode %s: %w", tag, err)
		}
		return m, nil
	case TypeChatsFromTodayRequest:
		return ChatsFromTodayRequest{}, nil
	default:
		return nil, fmt.Errorf("unknown client message type %q", tag)
	}
}

// ParseServer decodes a server frame by its "type" tag.
func ParseServer(data []byte) (ServerMessage, error) {
	tag, err := frameTag(data)
	if err != nil {
		return nil, err
	}
	switch tag {
	case TypeJoined:
		var m Joined
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("decode %s: %w", tag, err)
		}
		return m, nil
	case TypeNewUser:
		var m NewUser
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("decode %s: %w", tag, err)
		}
		return m, nil
	case TypeNewMessage:
		var m NewMessage
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("decode %s: %w", tag, err)
		}
		return m, nil
	case TypeUserDisconnected:
		var m UserDisconnected
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("decode %s: %w", tag, err)
		}
		return m, nil
	case TypeChatsFromTodayResponse:
		var m ChatsFromTodayResponse
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("decode %s: %w", tag, err)
		}
		return m, nil
	default:
		return nil, fmt.Errorf("unknown server message type %q", tag)
	}
}

func frameTag(data []byte) (string, error) {
	var peek struct {
		Type *string `json:"type"`
	}
	if err := json.Unmarshal(data, &peek); err != nil {
		return "", fmt.Errorf("decode frame: %w", err)
	}
	if peek.Type == nil {
		return "", errors.New("frame has no type field")
	}
	return *peek.Type, nil
}
