package main

import (
	"net/http"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Client is one live websocket connection, bound to a player slot once
// admitted to a room.
type Client struct {
	conn     *websocket.Conn
	send     chan any
	playerID int
}

func newClient(conn *websocket.Conn) *Client {
	return &Client{
		conn: conn,
		send: make(chan any, 8),
	}
}

// readPump consumes commands from this connection in arrival order. Any read
// error, clean close or protocol fault alike, releases the player slot.
func (c *Client) readPump(cfg *Config, reg *Registry, room *Room) {
	defer func() {
		room.removeClient(cfg, reg, c)
		_ = c.conn.Close()
	}()

	for {
		var msg ClientMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			return
		}

		room.dispatch(cfg, c, msg)
	}
}

func (c *Client) writePump() {
	defer c.conn.Close()

	for msg := range c.send {
		if err := c.conn.WriteJSON(msg); err != nil {
			return
		}
	}
}
