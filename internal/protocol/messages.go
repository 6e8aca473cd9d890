package protocol

// HELLO (client -> server)
type HelloMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	WorldID         string `json:"world_id"`
	Token           string `json:"token,omitempty"`
}

// WELCOME (server -> client)
type WelcomeMsg struct {
	Type            string            `json:"type"`
	ProtocolVersion string            `json:"protocol_version"`
	PlayerID        int32             `json:"player_id"`
	Width           int               `json:"width"`
	Height          int               `json:"height"`
	Mappings        map[string]uint32 `json:"mappings,omitempty"`
}

// BLOCK_PLACED (both directions). Outbound messages leave PlayerID zero; the
// server echoes every applied placement with the placing player's id.
type BlockPlacedMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Packet
}

// BLOCK_FILLED (client -> server)
type BlockFilledMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	FillPacket
}

// ERROR (server -> client)
type ErrorMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Code            string `json:"code"`
	Message         string `json:"message,omitempty"`
}

func NewBlockPlacedMsg(p Packet) BlockPlacedMsg {
	return BlockPlacedMsg{Type: TypeBlockPlaced, ProtocolVersion: Version, Packet: p}
}

func NewBlockFilledMsg(p FillPacket) BlockFilledMsg {
	return BlockFilledMsg{Type: TypeBlockFilled, ProtocolVersion: Version, FillPacket: p}
}
