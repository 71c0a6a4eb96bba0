package relay

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Default identities used when the connect URL omits them.
const (
	DefaultRoom = "default"
	DefaultUser = "anon"
)

// Configure the websocket upgrader
var upgrader = websocket.Upgrader{
	ReadBufferSize:  64 * 1024, // 64 KB
	WriteBufferSize: 64 * 1024, // 64 KB

	// Any origin: payloads between participants are end-to-end encrypted.
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// ServeWs returns an http.HandlerFunc that upgrades /ws?room=R&user=U
// requests and attaches them to the hub.
func ServeWs(hub *Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		roomID := q.Get("room")
		if roomID == "" {
			roomID = DefaultRoom
		}
		user := q.Get("user")
		if user == "" {
			user = DefaultUser
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			hub.log.Warn("Failed to upgrade connection", "remote", r.RemoteAddr, "error", err)
			return
		}

		client := &Client{
			Hub:    hub,
			Conn:   conn,
			ID:     uuid.NewString(),
			RoomID: roomID,
			User:   user,
			Send:   make(chan []byte, sendBuffer),
		}

		if !hub.Register(client) {
			conn.Close()
			return
		}

		// Start the client's read and write pumps in separate goroutines
		go client.WritePump()
		go client.ReadPump()
	}
}

// HealthCheck reports liveness and the number of active rooms.
func HealthCheck(hub *Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		members, _ := hub.Rooms()
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"status": "ok",
			"rooms":  len(members),
		})
	}
}

// NewMux wires the relay endpoints.
func NewMux(hub *Hub) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", HealthCheck(hub))
	mux.HandleFunc("/ws", ServeWs(hub))
	return mux
}
