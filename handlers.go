package main

import (
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
	"github.com/skip2/go-qrcode"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func listRooms(cfg *Config, reg *Registry) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		securityHeaders(cfg, w)
		writeJSON(w, http.StatusOK, reg.ListPublicRooms())
	}
}

func createRoom(cfg *Config, reg *Registry, private, solo bool) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		variant := r.URL.Query().Get("variant")

		room := reg.CreateRoom(cfg, private, solo, variant)

		securityHeaders(cfg, w)
		writeJSON(w, http.StatusOK, map[string]string{
			"room_id": room.id,
			"message": "room created",
		})
	}
}

func roomInfo(cfg *Config, reg *Registry) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		securityHeaders(cfg, w)

		detail, ok := reg.RoomInfo(ps.ByName("roomid"))
		if !ok {
			writeJSON(w, http.StatusNotFound, map[string]string{"detail": "Room not found"})
			return
		}

		writeJSON(w, http.StatusOK, detail)
	}
}

// roomQR renders a PNG QR code for the room's URL, for sharing a session
// with the second player.
func roomQR(cfg *Config, reg *Registry) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		roomID := ps.ByName("roomid")
		if _, ok := reg.Lookup(roomID); !ok {
			http.Error(w, "room not found", http.StatusNotFound)
			return
		}

		scheme := "http"
		if r.TLS != nil {
			scheme = "https"
		}
		if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
			scheme = proto
		}

		// We are at .../rooms/:roomid/qr; strip the "/qr" to get the room URL.
		url := scheme + "://" + r.Host + strings.TrimSuffix(r.URL.Path, "/qr")

		const qrSize = 320
		png, err := qrcode.Encode(url, qrcode.Medium, qrSize)
		if err != nil {
			http.Error(w, "qr generation failed", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(png)
	}
}

// serveImages serves the raster files from the configured images directory.
func serveImages(cfg *Config, errs chan<- error) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		startTime := time.Now()

		fname := filepath.Clean(strings.TrimPrefix(ps.ByName("filepath"), "/"))
		if fname == ".." || strings.HasPrefix(fname, "../") {
			http.Error(w, "invalid path", http.StatusBadRequest)
			return
		}

		data, err := os.ReadFile(filepath.Join(cfg.images, fname))
		if err != nil {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}

		switch strings.ToLower(filepath.Ext(fname)) {
		case ".png":
			w.Header().Set("Content-Type", "image/png")
		case ".jpg", ".jpeg":
			w.Header().Set("Content-Type", "image/jpeg")
		case ".webp":
			w.Header().Set("Content-Type", "image/webp")
		}
		w.Header().Set("Cache-Control", "public, max-age=3600")
		securityHeaders(cfg, w)

		written, err := w.Write(data)
		if err != nil {
			errs <- err

			return
		}

		logf(cfg, "SERVE: Image %s (%s) to %s in %s",
			fname,
			humanReadableSize(int64(written)),
			realIP(r),
			time.Since(startTime).Round(time.Microsecond),
		)
	}
}

// serveWS is the per-room websocket endpoint: resolve the room (cancelling
// any pending deletion), upgrade, admit, push the initial game state, then
// pump commands until the connection dies.
func serveWS(cfg *Config, reg *Registry) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		roomID := ps.ByName("roomid")

		room, ok := reg.Connect(cfg, roomID)
		if !ok {
			http.Error(w, "room not found", http.StatusNotFound)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logf(cfg, "ERROR: Websocket upgrade for %s: %v", roomID, err)
			return
		}

		client := newClient(conn)

		playerID, err := room.admit(cfg, client)
		if err != nil {
			logf(cfg, "GAMES: Refused connection to %s from %s: %v", roomID, realIP(r), err)
			_ = conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.ClosePolicyViolation, err.Error()))
			_ = conn.Close()
			return
		}

		logf(cfg, "GAMES: Player %d connected to %s from %s", playerID, roomID, realIP(r))

		go client.writePump()

		room.sendInitialState(cfg, client)

		client.readPump(cfg, reg, room)
	}
}

// registerGameRoutes wires the room CRUD surface, the websocket endpoint and
// the image directory onto the mux.
func registerGameRoutes(cfg *Config, reg *Registry, mux *httprouter.Router, errs chan<- error) {
	mux.GET(cfg.prefix+"/rooms", listRooms(cfg, reg))

	mux.POST(cfg.prefix+"/rooms", createRoom(cfg, reg, false, false))

	mux.POST(cfg.prefix+"/rooms/private", createRoom(cfg, reg, true, true))

	mux.GET(cfg.prefix+"/rooms/:roomid", roomInfo(cfg, reg))

	mux.GET(cfg.prefix+"/rooms/:roomid/qr", roomQR(cfg, reg))

	mux.GET(cfg.prefix+"/ws/:roomid", serveWS(cfg, reg))

	mux.GET(cfg.prefix+"/images/*filepath", serveImages(cfg, errs))
}
