package main

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// RoomSummary is the public listing entry for one room.
type RoomSummary struct {
	Players     int    `json:"players"`
	GameStarted bool   `json:"game_started"`
	Variant     string `json:"variant,omitempty"`
}

// RoomDetail is the per-room summary returned by the room info endpoint.
type RoomDetail struct {
	Exists      bool     `json:"exists"`
	Players     int      `json:"players"`
	GameStarted bool     `json:"game_started"`
	Names       []string `json:"names"`
	Variant     string   `json:"variant,omitempty"`
}

// Registry is the process-wide room map. It owns at most one pending
// deletion timer per room id; connecting to a room always cancels its timer
// before admission runs, and an expiring timer re-checks the player count
// before removing anything.
type Registry struct {
	mu      sync.Mutex
	rooms   map[string]*Room
	pending map[string]*time.Timer

	compositor *Compositor
	detector   *DroneDetector
}

func newRegistry(compositor *Compositor, detector *DroneDetector) *Registry {
	return &Registry{
		rooms:      make(map[string]*Room),
		pending:    make(map[string]*time.Timer),
		compositor: compositor,
		detector:   detector,
	}
}

// newRoomIDLocked generates a short random room id (8 hex chars, "solo-"
// prefix for solo rooms), retrying on the off chance of a collision.
func (reg *Registry) newRoomIDLocked(solo bool) string {
	for {
		id := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
		if solo {
			id = "solo-" + id
		}

		if _, exists := reg.rooms[id]; !exists {
			return id
		}
	}
}

func (reg *Registry) CreateRoom(cfg *Config, private, solo bool, variant string) *Room {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	id := reg.newRoomIDLocked(solo)
	room := newRoom(id, private, solo, variant, reg.compositor, reg.detector)
	reg.rooms[id] = room

	logf(cfg, "ROOMS: Created room %s (private=%t solo=%t variant=%q)", id, private, solo, variant)

	return room
}

func (reg *Registry) Lookup(id string) (*Room, bool) {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	room, ok := reg.rooms[id]
	return room, ok
}

// Connect resolves a room for a new connection, cancelling any pending
// deletion in the same critical section so the timer can never fire between
// lookup and admission.
func (reg *Registry) Connect(cfg *Config, id string) (*Room, bool) {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	room, ok := reg.rooms[id]
	if !ok {
		return nil, false
	}

	reg.cancelDeletionLocked(cfg, id)

	return room, true
}

// ListPublicRooms excludes private rooms.
func (reg *Registry) ListPublicRooms() map[string]RoomSummary {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	listing := make(map[string]RoomSummary)
	for id, room := range reg.rooms {
		if room.private {
			continue
		}
		listing[id] = RoomSummary{
			Players:     room.playerCount(),
			GameStarted: room.started(),
			Variant:     room.variant,
		}
	}

	return listing
}

func (reg *Registry) RoomInfo(id string) (RoomDetail, bool) {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	room, ok := reg.rooms[id]
	if !ok {
		return RoomDetail{}, false
	}

	return RoomDetail{
		Exists:      true,
		Players:     room.playerCount(),
		GameStarted: room.started(),
		Names:       room.playerNames(),
		Variant:     room.variant,
	}, true
}

// ScheduleDeletion arms the room's deletion timer. A room with a timer
// already pending keeps the original deadline.
func (reg *Registry) ScheduleDeletion(cfg *Config, id string, delay time.Duration) {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	if _, ok := reg.rooms[id]; !ok {
		return
	}
	if _, pending := reg.pending[id]; pending {
		return
	}

	reg.pending[id] = time.AfterFunc(delay, func() {
		reg.expire(cfg, id)
	})

	logf(cfg, "ROOMS: Scheduled deletion of %s in %s", id, delay)
}

// CancelDeletion is an idempotent no-op when no timer is pending.
func (reg *Registry) CancelDeletion(cfg *Config, id string) {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	reg.cancelDeletionLocked(cfg, id)
}

func (reg *Registry) cancelDeletionLocked(cfg *Config, id string) {
	timer, ok := reg.pending[id]
	if !ok {
		return
	}

	timer.Stop()
	delete(reg.pending, id)

	logf(cfg, "ROOMS: Cancelled deletion of %s", id)
}

// expire runs when a deletion timer fires. Cancellation races are resolved
// here: a timer whose pending entry is gone was cancelled, and a room that
// has picked up players in the meantime survives.
func (reg *Registry) expire(cfg *Config, id string) {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	if _, ok := reg.pending[id]; !ok {
		return
	}
	delete(reg.pending, id)

	room, ok := reg.rooms[id]
	if !ok {
		return
	}
	if room.playerCount() > 0 {
		return
	}

	delete(reg.rooms, id)

	logf(cfg, "ROOMS: Deleted empty room %s", id)
}
