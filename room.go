package main

import (
	"crypto/rand"
	"errors"
	"strings"
	"sync"
	"time"
)

const maxNameLength = 32

var (
	errRoomFull     = errors.New("room is full")
	errRoomOccupied = errors.New("room is occupied")
)

// Room is one isolated game session: two player slots, the set of live
// connections, and the visibility secret. All mutation happens under mu, so
// two players' interleaved commands cannot lose updates; rooms never share
// locks, so one room can never stall another.
type Room struct {
	id        string
	private   bool
	solo      bool
	variant   string
	createdAt time.Time

	compositor *Compositor
	detector   *DroneDetector

	mu          sync.Mutex
	clients     map[*Client]bool
	players     map[int]*Client
	names       map[int]string
	state       GameState
	canSeeDrone map[int]bool

	// One-shot guards for visibility-secret assignment; once secretAssigned
	// is set the mapping is frozen for the life of the room.
	firstAssigned  bool
	secretAssigned bool
}

func newRoom(id string, private, solo bool, variant string, compositor *Compositor, detector *DroneDetector) *Room {
	return &Room{
		id:         id,
		private:    private,
		solo:       solo,
		variant:    variant,
		createdAt:  time.Now(),
		compositor: compositor,
		detector:   detector,

		clients:     make(map[*Client]bool),
		players:     make(map[int]*Client),
		names:       make(map[int]string),
		canSeeDrone: make(map[int]bool),
		state: GameState{
			Player1:       defaultPlayerState(),
			Player2:       defaultPlayerState(),
			CurrentPlayer: 1,
		},
	}
}

func defaultPlayerState() *PlayerState {
	return &PlayerState{
		Mode:     modeNVG,
		Position: Position{X: 400, Y: 300},
		Score:    0,
		Active:   true,
	}
}

func (r *Room) player(id int) *PlayerState {
	if id == 1 {
		return r.state.Player1
	}
	return r.state.Player2
}

// canSee defaults to true for unassigned slots, matching the pre-assignment
// behavior clients observed historically.
func (r *Room) canSee(id int) bool {
	if v, ok := r.canSeeDrone[id]; ok {
		return v
	}
	return true
}

func coinFlip() bool {
	var b [1]byte
	if _, err := rand.Read(b[:]); err != nil {
		return false
	}
	return b[0]&1 == 1
}

// admit assigns the connection a player slot, or rejects it. Slot 1 goes to
// the first connection; slot 2 only exists in public multiplayer rooms and
// flips game_started. Visibility secrets are assigned incrementally here and
// frozen once both slots are set.
func (r *Room) admit(cfg *Config, c *Client) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var playerID int
	switch len(r.players) {
	case 0:
		playerID = 1
	case 1:
		if r.private || r.solo {
			return 0, errRoomOccupied
		}
		playerID = 2
		r.state.GameStarted = true
	default:
		return 0, errRoomFull
	}

	c.playerID = playerID
	r.players[playerID] = c
	r.clients[c] = true

	if len(r.players) == 1 && !r.firstAssigned && !r.secretAssigned {
		if r.solo {
			r.canSeeDrone[playerID] = true
		} else {
			r.canSeeDrone[playerID] = coinFlip()
		}
		r.firstAssigned = true
	}

	if len(r.players) == 2 && !r.secretAssigned {
		_, has1 := r.canSeeDrone[1]
		_, has2 := r.canSeeDrone[2]
		switch {
		case has1 && !has2:
			r.canSeeDrone[2] = !r.canSeeDrone[1]
		case has2 && !has1:
			r.canSeeDrone[1] = !r.canSeeDrone[2]
		case !has1 && !has2:
			chosen := 1
			if coinFlip() {
				chosen = 2
			}
			r.canSeeDrone[chosen] = true
			r.canSeeDrone[3-chosen] = false
		}
		r.secretAssigned = true
	}

	logf(cfg, "GAMES: Player %d admitted to %s", playerID, r.id)

	return playerID, nil
}

// removeClient drops the connection from both the slot map and the broadcast
// set; when the last player leaves, the registry is asked to delete the room
// after the configured linger.
func (r *Room) removeClient(cfg *Config, reg *Registry, c *Client) {
	r.mu.Lock()

	if _, ok := r.clients[c]; ok {
		delete(r.clients, c)
		close(c.send)
	}
	if c.playerID != 0 && r.players[c.playerID] == c {
		delete(r.players, c.playerID)
		logf(cfg, "GAMES: Player %d left %s", c.playerID, r.id)
	}
	empty := len(r.players) == 0

	r.mu.Unlock()

	if empty && reg != nil {
		reg.ScheduleDeletion(cfg, r.id, cfg.roomLinger)
	}
}

func (r *Room) playerCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.players)
}

func (r *Room) started() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.state.GameStarted
}

func (r *Room) playerNames() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	names := make([]string, 0, len(r.names))
	for _, id := range []int{1, 2} {
		if name, ok := r.names[id]; ok {
			names = append(names, name)
		}
	}
	return names
}

// snapshotLocked copies the room state so outbound messages cannot race with
// later mutations while being marshaled.
func (r *Room) snapshotLocked() GameState {
	p1 := *r.state.Player1
	p2 := *r.state.Player2

	state := r.state
	state.Player1 = &p1
	state.Player2 = &p2

	return state
}

// sendTo queues a message for one connection, best-effort: a slow consumer
// just misses this message.
func (r *Room) sendTo(cfg *Config, c *Client, msg any) {
	select {
	case c.send <- msg:
	default:
		logf(cfg, "GAMES: Dropped %T for player %d in %s", msg, c.playerID, r.id)
	}
}

// broadcastLocked fans a message out to every connection in the room. A
// failed or slow peer never aborts delivery to the rest, and never mutates
// room state.
func (r *Room) broadcastLocked(cfg *Config, msg any) {
	for client := range r.clients {
		select {
		case client.send <- msg:
		default:
			logf(cfg, "GAMES: Dropped %T for player %d in %s", msg, client.playerID, r.id)
		}
	}
}

// sendInitialState pushes the full game state to a newly admitted connection.
func (r *Room) sendInitialState(cfg *Config, c *Client) {
	r.mu.Lock()

	p := r.player(c.playerID)
	msg := GameStateMessage{
		Type:        "game_state",
		PlayerID:    c.playerID,
		GameState:   r.snapshotLocked(),
		ImageData:   r.compositor.Composite(p.Mode, r.canSee(c.playerID), r.solo, p.Position),
		GameStarted: r.state.GameStarted,
	}

	r.mu.Unlock()

	r.sendTo(cfg, c, msg)
}

// dispatch routes one inbound command. Unknown types are ignored without
// disconnecting; malformed payloads are acked with an error message.
func (r *Room) dispatch(cfg *Config, c *Client, msg ClientMessage) {
	switch msg.Type {
	case "move":
		r.handleMove(cfg, c, msg)
	case "mode_change":
		r.handleModeChange(cfg, c, msg)
	case "click":
		r.handleClick(cfg, c, msg)
	case "set_name":
		r.handleSetName(cfg, c, msg)
	case "switch_player":
		r.handleSwitchPlayer(cfg, c)
	default:
		logf(cfg, "GAMES: Ignoring unknown command %q in %s", msg.Type, r.id)
	}
}

func (r *Room) handleMove(cfg *Config, c *Client, msg ClientMessage) {
	if msg.Position == nil {
		r.sendTo(cfg, c, ErrorMessage{Type: "error", Command: "move", Message: "missing position"})
		return
	}

	r.mu.Lock()

	p := r.player(c.playerID)
	p.Position = *msg.Position

	reply := FrameMessage{
		Type:      "frame",
		PlayerID:  c.playerID,
		Position:  p.Position,
		ImageData: r.compositor.Composite(p.Mode, r.canSee(c.playerID), r.solo, p.Position),
	}

	r.mu.Unlock()

	r.sendTo(cfg, c, reply)
}

func (r *Room) handleModeChange(cfg *Config, c *Client, msg ClientMessage) {
	switch msg.Mode {
	case modeBase, modeNVG, modeThermal:
	default:
		r.sendTo(cfg, c, ErrorMessage{Type: "error", Command: "mode_change", Message: "unknown mode"})
		return
	}

	r.mu.Lock()

	p := r.player(c.playerID)
	p.Mode = msg.Mode

	reply := GameStateMessage{
		Type:        "game_state",
		PlayerID:    c.playerID,
		GameState:   r.snapshotLocked(),
		ImageData:   r.compositor.Composite(p.Mode, r.canSee(c.playerID), r.solo, p.Position),
		GameStarted: r.state.GameStarted,
	}

	r.mu.Unlock()

	r.sendTo(cfg, c, reply)
}

func (r *Room) handleClick(cfg *Config, c *Client, msg ClientMessage) {
	if msg.X == nil || msg.Y == nil {
		r.sendTo(cfg, c, ErrorMessage{Type: "error", Command: "click", Message: "missing coordinates"})
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	p := r.player(c.playerID)
	if !r.detector.IsHit(p.Mode, r.canSee(c.playerID), *msg.X, *msg.Y) {
		// A miss changes nothing and sends nothing.
		return
	}

	p.Score++
	logf(cfg, "GAMES: Player %d detected the drone in %s (score %d)", c.playerID, r.id, p.Score)

	r.broadcastLocked(cfg, DroneDetectedMessage{
		Type:     "drone_detected",
		PlayerID: c.playerID,
		Position: Position{X: *msg.X, Y: *msg.Y},
		NewScore: p.Score,
	})
}

func (r *Room) handleSetName(cfg *Config, c *Client, msg ClientMessage) {
	name := strings.TrimSpace(msg.Name)
	if name == "" {
		r.sendTo(cfg, c, NameStatusMessage{Type: "name_status", OK: false, Reason: "empty"})
		return
	}

	if runes := []rune(name); len(runes) > maxNameLength {
		name = string(runes[:maxNameLength])
	}

	r.mu.Lock()

	for id, existing := range r.names {
		if id != c.playerID && strings.EqualFold(existing, name) {
			r.mu.Unlock()
			r.sendTo(cfg, c, NameStatusMessage{Type: "name_status", OK: false, Reason: "duplicate"})
			return
		}
	}
	r.names[c.playerID] = name

	r.mu.Unlock()

	logf(cfg, "GAMES: Player %d in %s is now %q", c.playerID, r.id, name)

	r.sendTo(cfg, c, NameStatusMessage{Type: "name_status", OK: true, Name: name})
}

// handleSwitchPlayer toggles the cosmetic current-player pointer. It does not
// gate command acceptance; both players can always act.
func (r *Room) handleSwitchPlayer(cfg *Config, c *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state.CurrentPlayer == 1 {
		r.state.CurrentPlayer = 2
	} else {
		r.state.CurrentPlayer = 1
	}

	r.broadcastLocked(cfg, PlayerSwitchedMessage{
		Type:          "player_switched",
		CurrentPlayer: r.state.CurrentPlayer,
	})
}
