package types

import "encoding/json"

// Linker control actions. They never reach a player's socket.
const (
	LinkerActionIdentify     = "identify"
	LinkerActionIdentified   = "identified"
	LinkerActionCloseSession = "closeSession"
)

// RelayEnvelope is a client message forwarded by an instance to the linker
// host, tagged with the player it came from.
type RelayEnvelope struct {
	Linker     bool            `json:"linker"`
	PlayerID   string          `json:"playerId"`
	PlayerInfo *PlayerInfo     `json:"playerInfo,omitempty"`
	PlayResult *PlayResult     `json:"playResult,omitempty"`
	Action     string          `json:"action"`
	Timestamp  int64           `json:"timestamp,omitempty"`
	Data       json.RawMessage `json:"data"`

	// Identify fields, only set on the handshake frame.
	InstanceID string `json:"instanceId,omitempty"`
	Token      string `json:"token,omitempty"`
}

// RelayDelivery is a server message sent by the linker host to the instance
// holding TargetPlayerID's socket.
type RelayDelivery struct {
	Linker         bool            `json:"linker"`
	TargetPlayerID string          `json:"targetPlayerId,omitempty"`
	Action         string          `json:"action"`
	Status         string          `json:"status,omitempty"`
	Nonce          string          `json:"nonce,omitempty"`
	Data           json.RawMessage `json:"data,omitempty"`
}
