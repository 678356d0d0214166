package relay

import (
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// WSPath is where clients built from config.Load connect by default.
const WSPath = "/_/signal/ws"

var upgrader = websocket.Upgrader{
	ReadBufferSize:  64 * 1024,
	WriteBufferSize: 64 * 1024,

	// Swarm clients run from browsers on any origin and from the CLI.
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// ServeWs returns an http.HandlerFunc that upgrades requests and hands the
// connection to hub.
func ServeWs(hub *Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			hub.log.Warn("failed to upgrade connection", "remote", r.RemoteAddr, "error", err)
			return
		}

		client := NewClient(hub, conn)
		if !hub.Register(client) {
			conn.Close()
			return
		}

		go client.WritePump()
		go client.ReadPump()
	}
}

// Routes wires the relay's HTTP surface: the websocket endpoint (also at
// /ws), a health check and, when gatherer is non-nil, Prometheus metrics.
func Routes(hub *Hub, gatherer prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()

	ws := ServeWs(hub)
	mux.HandleFunc(WSPath, ws)
	mux.HandleFunc("/ws", ws)

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	if gatherer != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}

	return mux
}
