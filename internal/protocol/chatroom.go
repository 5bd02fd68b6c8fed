package protocol

import (
	"encoding/json"
	"fmt"
)

// RoomStatus is the per-term element of an instance /chatrooms
// response, encoded as the two-element array [chatroom_id, user_count].
type RoomStatus struct {
	ChatroomID int32
	UserCount  uint32
}

// MarshalJSON encodes the status as [chatroom_id, user_count].
func (s RoomStatus) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]int64{int64(s.ChatroomID), int64(s.UserCount)})
}

// UnmarshalJSON decodes [chatroom_id, user_count], rejecting arrays of
// any other length.
func (s *RoomStatus) UnmarshalJSON(data []byte) error {
	var raw []int64
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("decode room status: %w", err)
	}
	if len(raw) != 2 {
		return fmt.Errorf("decode room status: want 2 elements, got %d", len(raw))
	}
	s.ChatroomID = int32(raw[0])
	s.UserCount = uint32(raw[1])
	return nil
}

// ChatroomInfo is one search result assembled by the gateway.
type ChatroomInfo struct {
	ChatroomID int32  `json:"chatroom_id"`
	NumUsers   uint32 `json:"num_users"`
	Online     bool   `json:"online"`
	Term       string `json:"term"`
	URL        string `json:"url"`
}
