package main

// Position is a point in render-space.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// ClientMessage covers every command a client may send.
type ClientMessage struct {
	Type     string    `json:"type"`               // "move", "mode_change", "click", "set_name", "switch_player"
	Position *Position `json:"position,omitempty"` // move
	Mode     string    `json:"mode,omitempty"`     // mode_change
	X        *float64  `json:"x,omitempty"`        // click
	Y        *float64  `json:"y,omitempty"`        // click
	Name     string    `json:"name,omitempty"`     // set_name
}

// PlayerState is the per-slot portion of the room state.
type PlayerState struct {
	Mode     string   `json:"mode"`
	Position Position `json:"position"`
	Score    int      `json:"score"`
	Active   bool     `json:"active"`
}

// GameState is the full room state as broadcast to clients.
type GameState struct {
	Player1       *PlayerState `json:"player1"`
	Player2       *PlayerState `json:"player2"`
	CurrentPlayer int          `json:"current_player"`
	GameStarted   bool         `json:"game_started"`
}

// GameStateMessage carries the full state plus a freshly composited frame.
// Sent to a single client on connect and after mode changes.
type GameStateMessage struct {
	Type        string    `json:"type"` // "game_state"
	PlayerID    int       `json:"player_id"`
	GameState   GameState `json:"game_state"`
	ImageData   string    `json:"image_data"`
	GameStarted bool      `json:"game_started"`
}

// FrameMessage is the per-sender reply to a move.
type FrameMessage struct {
	Type      string   `json:"type"` // "frame"
	PlayerID  int      `json:"player_id"`
	Position  Position `json:"position"`
	ImageData string   `json:"image_data"`
}

// DroneDetectedMessage is broadcast to the whole room on a successful click.
type DroneDetectedMessage struct {
	Type     string   `json:"type"` // "drone_detected"
	PlayerID int      `json:"player_id"`
	Position Position `json:"position"`
	NewScore int      `json:"new_score"`
}

// NameStatusMessage acknowledges a set_name attempt to the sender only.
type NameStatusMessage struct {
	Type   string `json:"type"` // "name_status"
	OK     bool   `json:"ok"`
	Name   string `json:"name,omitempty"`
	Reason string `json:"reason,omitempty"` // "empty" or "duplicate"
}

// PlayerSwitchedMessage is broadcast when the cosmetic current-player pointer
// is toggled.
type PlayerSwitchedMessage struct {
	Type          string `json:"type"` // "player_switched"
	CurrentPlayer int    `json:"current_player"`
}

// ErrorMessage acknowledges a malformed command to the sender; the connection
// stays open.
type ErrorMessage struct {
	Type    string `json:"type"`              // "error"
	Command string `json:"command,omitempty"` // offending command type
	Message string `json:"message"`
}
