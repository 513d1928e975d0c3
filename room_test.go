package main

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient() *Client {
	return &Client{send: make(chan any, 16)}
}

func receiveMessage(t *testing.T, c *Client) any {
	t.Helper()

	select {
	case msg, ok := <-c.send:
		require.True(t, ok, "send channel closed")
		return msg
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for message")
		return nil
	}
}

func assertNoMessage(t *testing.T, c *Client) {
	t.Helper()

	select {
	case msg := <-c.send:
		t.Fatalf("unexpected message %T", msg)
	default:
	}
}

func drain(t *testing.T, c *Client) {
	t.Helper()

	for {
		select {
		case <-c.send:
		default:
			return
		}
	}
}

// clusterRegistry builds a registry whose thermal raster has a drone cluster
// at (100, 100) in a 512x512 source, so render clicks map 1:1.
func clusterRegistry() (*Config, *Registry) {
	cfg := &Config{roomLinger: time.Minute}

	thermal := makeThermal(renderSize, renderSize)
	paintDrone(thermal, droneCluster(100, 100)...)

	compositor := newCompositor(
		uniformImage(renderSize, renderSize, baseColor),
		uniformImage(renderSize, renderSize, nvgColor),
		thermal,
		uniformImage(renderSize, renderSize, noDroneColor),
	)

	return cfg, newRegistry(compositor, newDroneDetector(compositor.thermalSource))
}

func TestAdmissionSequence(t *testing.T) {
	cfg, reg := clusterRegistry()
	room := reg.CreateRoom(cfg, false, false, "")

	first := newTestClient()
	id, err := room.admit(cfg, first)
	require.NoError(t, err)
	assert.Equal(t, 1, id)
	assert.False(t, room.started())

	second := newTestClient()
	id, err = room.admit(cfg, second)
	require.NoError(t, err)
	assert.Equal(t, 2, id)
	assert.True(t, room.started())

	_, err = room.admit(cfg, newTestClient())
	assert.ErrorIs(t, err, errRoomFull)
	assert.Equal(t, 2, room.playerCount())
}

func TestSoloRoomRefusesSecondPlayer(t *testing.T) {
	cfg, reg := clusterRegistry()
	room := reg.CreateRoom(cfg, true, true, "")

	id, err := room.admit(cfg, newTestClient())
	require.NoError(t, err)
	assert.Equal(t, 1, id)
	assert.True(t, room.canSee(1))

	_, err = room.admit(cfg, newTestClient())
	assert.ErrorIs(t, err, errRoomOccupied)
	assert.Equal(t, 1, room.playerCount())
	assert.False(t, room.started())
}

func TestVisibilitySecretInvariant(t *testing.T) {
	cfg, reg := clusterRegistry()

	for i := 0; i < 40; i++ {
		room := reg.CreateRoom(cfg, false, false, "")

		_, err := room.admit(cfg, newTestClient())
		require.NoError(t, err)
		_, err = room.admit(cfg, newTestClient())
		require.NoError(t, err)

		room.mu.Lock()
		see1, see2 := room.canSeeDrone[1], room.canSeeDrone[2]
		frozen := room.secretAssigned
		room.mu.Unlock()

		assert.True(t, frozen)
		assert.NotEqual(t, see1, see2, "exactly one player must see the drone")
	}
}

func TestVisibilitySecretFrozenAcrossCommands(t *testing.T) {
	cfg, reg := clusterRegistry()
	room := reg.CreateRoom(cfg, false, false, "")

	first := newTestClient()
	second := newTestClient()
	_, err := room.admit(cfg, first)
	require.NoError(t, err)
	_, err = room.admit(cfg, second)
	require.NoError(t, err)

	room.mu.Lock()
	see1, see2 := room.canSeeDrone[1], room.canSeeDrone[2]
	room.mu.Unlock()

	room.dispatch(cfg, first, ClientMessage{Type: "mode_change", Mode: modeThermal})
	room.dispatch(cfg, second, ClientMessage{Type: "switch_player"})

	room.mu.Lock()
	defer room.mu.Unlock()
	assert.Equal(t, see1, room.canSeeDrone[1])
	assert.Equal(t, see2, room.canSeeDrone[2])
}

func TestInitialGameState(t *testing.T) {
	cfg, reg := clusterRegistry()
	room := reg.CreateRoom(cfg, false, false, "")

	client := newTestClient()
	_, err := room.admit(cfg, client)
	require.NoError(t, err)

	room.sendInitialState(cfg, client)

	msg, ok := receiveMessage(t, client).(GameStateMessage)
	require.True(t, ok)
	assert.Equal(t, "game_state", msg.Type)
	assert.Equal(t, 1, msg.PlayerID)
	assert.False(t, msg.GameStarted)
	assert.Equal(t, modeNVG, msg.GameState.Player1.Mode)
	assert.Equal(t, Position{X: 400, Y: 300}, msg.GameState.Player1.Position)
	assert.Equal(t, 1, msg.GameState.CurrentPlayer)
	assert.True(t, strings.HasPrefix(msg.ImageData, dataURIPrefix))
}

func TestSetNameValidation(t *testing.T) {
	cfg, reg := clusterRegistry()
	room := reg.CreateRoom(cfg, false, false, "")

	first := newTestClient()
	second := newTestClient()
	_, err := room.admit(cfg, first)
	require.NoError(t, err)
	_, err = room.admit(cfg, second)
	require.NoError(t, err)
	drain(t, first)
	drain(t, second)

	room.dispatch(cfg, first, ClientMessage{Type: "set_name", Name: "   "})
	status := receiveMessage(t, first).(NameStatusMessage)
	assert.False(t, status.OK)
	assert.Equal(t, "empty", status.Reason)

	room.dispatch(cfg, first, ClientMessage{Type: "set_name", Name: strings.Repeat("x", 40)})
	status = receiveMessage(t, first).(NameStatusMessage)
	assert.True(t, status.OK)
	assert.Equal(t, strings.Repeat("x", 32), status.Name)

	room.dispatch(cfg, second, ClientMessage{Type: "set_name", Name: strings.Repeat("X", 32)})
	status = receiveMessage(t, second).(NameStatusMessage)
	assert.False(t, status.OK)
	assert.Equal(t, "duplicate", status.Reason)

	// A player may re-set their own name, including a case change.
	room.dispatch(cfg, first, ClientMessage{Type: "set_name", Name: strings.Repeat("X", 32)})
	status = receiveMessage(t, first).(NameStatusMessage)
	assert.True(t, status.OK)

	room.dispatch(cfg, second, ClientMessage{Type: "set_name", Name: "spotter"})
	status = receiveMessage(t, second).(NameStatusMessage)
	assert.True(t, status.OK)
	assert.Equal(t, "spotter", status.Name)
}

func TestSwitchPlayerBroadcasts(t *testing.T) {
	cfg, reg := clusterRegistry()
	room := reg.CreateRoom(cfg, false, false, "")

	first := newTestClient()
	second := newTestClient()
	_, err := room.admit(cfg, first)
	require.NoError(t, err)
	_, err = room.admit(cfg, second)
	require.NoError(t, err)

	room.dispatch(cfg, first, ClientMessage{Type: "switch_player"})

	for _, client := range []*Client{first, second} {
		msg := receiveMessage(t, client).(PlayerSwitchedMessage)
		assert.Equal(t, "player_switched", msg.Type)
		assert.Equal(t, 2, msg.CurrentPlayer)
	}

	room.dispatch(cfg, second, ClientMessage{Type: "switch_player"})

	for _, client := range []*Client{first, second} {
		msg := receiveMessage(t, client).(PlayerSwitchedMessage)
		assert.Equal(t, 1, msg.CurrentPlayer)
	}
}

func TestMoveReturnsFrameToSenderOnly(t *testing.T) {
	cfg, reg := clusterRegistry()
	room := reg.CreateRoom(cfg, false, false, "")

	first := newTestClient()
	second := newTestClient()
	_, err := room.admit(cfg, first)
	require.NoError(t, err)
	_, err = room.admit(cfg, second)
	require.NoError(t, err)

	room.dispatch(cfg, first, ClientMessage{Type: "move", Position: &Position{X: 10, Y: 20}})

	frame := receiveMessage(t, first).(FrameMessage)
	assert.Equal(t, "frame", frame.Type)
	assert.Equal(t, 1, frame.PlayerID)
	assert.Equal(t, Position{X: 10, Y: 20}, frame.Position)
	assert.True(t, strings.HasPrefix(frame.ImageData, dataURIPrefix))

	assertNoMessage(t, second)
}

func TestModeChange(t *testing.T) {
	cfg, reg := clusterRegistry()
	room := reg.CreateRoom(cfg, false, false, "")

	client := newTestClient()
	_, err := room.admit(cfg, client)
	require.NoError(t, err)

	room.dispatch(cfg, client, ClientMessage{Type: "mode_change", Mode: modeThermal})

	msg := receiveMessage(t, client).(GameStateMessage)
	assert.Equal(t, "game_state", msg.Type)
	assert.Equal(t, modeThermal, msg.GameState.Player1.Mode)

	room.dispatch(cfg, client, ClientMessage{Type: "mode_change", Mode: "XRAY"})

	errMsg := receiveMessage(t, client).(ErrorMessage)
	assert.Equal(t, "mode_change", errMsg.Command)
}

func TestClickScoringAndBroadcast(t *testing.T) {
	cfg, reg := clusterRegistry()
	room := reg.CreateRoom(cfg, false, false, "")

	first := newTestClient()
	second := newTestClient()
	_, err := room.admit(cfg, first)
	require.NoError(t, err)
	_, err = room.admit(cfg, second)
	require.NoError(t, err)

	// Pin the secret so the scenario is deterministic.
	room.mu.Lock()
	room.canSeeDrone[1] = true
	room.canSeeDrone[2] = false
	room.mu.Unlock()

	room.dispatch(cfg, first, ClientMessage{Type: "mode_change", Mode: modeThermal})
	room.dispatch(cfg, second, ClientMessage{Type: "mode_change", Mode: modeThermal})
	drain(t, first)
	drain(t, second)

	x, y := 100.0, 100.0

	room.dispatch(cfg, first, ClientMessage{Type: "click", X: &x, Y: &y})

	for _, client := range []*Client{first, second} {
		msg := receiveMessage(t, client).(DroneDetectedMessage)
		assert.Equal(t, "drone_detected", msg.Type)
		assert.Equal(t, 1, msg.PlayerID)
		assert.Equal(t, Position{X: 100, Y: 100}, msg.Position)
		assert.Equal(t, 1, msg.NewScore)
	}

	// A miss changes nothing and sends nothing.
	mx, my := 400.0, 400.0
	room.dispatch(cfg, first, ClientMessage{Type: "click", X: &mx, Y: &my})
	assertNoMessage(t, first)
	assertNoMessage(t, second)

	// The player without visibility cannot score even on the drone.
	room.dispatch(cfg, second, ClientMessage{Type: "click", X: &x, Y: &y})
	assertNoMessage(t, first)
	assertNoMessage(t, second)

	room.mu.Lock()
	defer room.mu.Unlock()
	assert.Equal(t, 1, room.state.Player1.Score)
	assert.Equal(t, 0, room.state.Player2.Score)
}

func TestMalformedCommands(t *testing.T) {
	cfg, reg := clusterRegistry()
	room := reg.CreateRoom(cfg, false, false, "")

	client := newTestClient()
	_, err := room.admit(cfg, client)
	require.NoError(t, err)

	room.dispatch(cfg, client, ClientMessage{Type: "move"})
	errMsg := receiveMessage(t, client).(ErrorMessage)
	assert.Equal(t, "move", errMsg.Command)

	room.dispatch(cfg, client, ClientMessage{Type: "click"})
	errMsg = receiveMessage(t, client).(ErrorMessage)
	assert.Equal(t, "click", errMsg.Command)

	// Unknown command types are ignored without disconnecting.
	room.dispatch(cfg, client, ClientMessage{Type: "teleport"})
	assertNoMessage(t, client)
	assert.Equal(t, 1, room.playerCount())
}

func TestDisconnectSchedulesDeletionAndReconnectRevives(t *testing.T) {
	cfg, reg := clusterRegistry()
	room := reg.CreateRoom(cfg, false, false, "")

	client := newTestClient()
	_, err := room.admit(cfg, client)
	require.NoError(t, err)

	room.removeClient(cfg, reg, client)

	assert.Equal(t, 0, room.playerCount())
	assert.Equal(t, 1, pendingTimers(reg))

	_, ok := <-client.send
	assert.False(t, ok, "send channel should be closed on removal")

	// A reconnect resolves the room, cancels the timer, and takes slot 1.
	revived, ok := reg.Connect(cfg, room.id)
	require.True(t, ok)
	assert.Zero(t, pendingTimers(reg))

	id, err := revived.admit(cfg, newTestClient())
	require.NoError(t, err)
	assert.Equal(t, 1, id)
}
