package protocol

import (
	"encoding/binary"
	"fmt"

	"github.com/goccy/go-json"
)

// Defaults of the latest protocol revision.
const (
	DefaultProtocolVersion = 2
	DefaultPlatform        = "web"
	DefaultClientVersion   = "1.5.15"
)

// HeartbeatBody is the placeholder payload every heartbeat frame carries.
var HeartbeatBody = []byte("[object Object]")

// JoinPayload is the JSON body of the join frame.
type JoinPayload struct {
	UID             int64  `json:"uid"`
	RoomID          int64  `json:"roomid"`
	ProtocolVersion int    `json:"protover"`
	Platform        string `json:"platform"`
	ClientVersion   string `json:"clientver"`
}

// NewJoinPayload returns the join payload for roomID with the latest revision's defaults.
func NewJoinPayload(roomID int64) JoinPayload {
	return JoinPayload{
		UID:             0,
		RoomID:          roomID,
		ProtocolVersion: DefaultProtocolVersion,
		Platform:        DefaultPlatform,
		ClientVersion:   DefaultClientVersion,
	}
}

// EncodeJoin encodes p as a join frame.
func EncodeJoin(p JoinPayload) ([]byte, error) {
	body, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("failed to encode join payload: %w", err)
	}
	return Encode(body, OpJoin)
}

// DecodeJoin parses the body of a join frame.
func DecodeJoin(body []byte) (JoinPayload, error) {
	var p JoinPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return JoinPayload{}, fmt.Errorf("failed to decode join payload: %w", err)
	}
	return p, nil
}

// EncodeHeartbeat returns a ready-to-send heartbeat frame.
func EncodeHeartbeat() []byte {
	data, _ := Encode(HeartbeatBody, OpHeartbeat)
	return data
}

// Popularity reads the viewer count carried by a heartbeat acknowledgement.
// The body must be exactly the 4-byte count.
func Popularity(body []byte) (uint32, bool) {
	if len(body) != 4 {
		return 0, false
	}
	return binary.BigEndian.Uint32(body), true
}

// EncodePopularity builds a heartbeat acknowledgement frame for n viewers.
func EncodePopularity(n uint32) []byte {
	body := make([]byte, 4)
	binary.BigEndian.PutUint32(body, n)
	data, _ := Encode(body, OpHeartbeatAck)
	return data
}
