package bridge

import (
	"encoding/json"
	"net/http"
	"time"

	"rfid-bridge/pkg/logger"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
)

type healthResponse struct {
	Status           string `json:"status"`
	ConnectedClients int    `json:"connected_clients"`
	SerialPort       string `json:"serial_port"`
	SerialConnected  bool   `json:"serial_connected"`
	ScansSent        int64  `json:"scans_sent"`
	ScansFailed      int64  `json:"scans_failed"`
}

// Handler routes the live feed: /ws for the websocket, /health for probes.
func (bm *BridgeManager) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(requestLogger(bm.log))
	r.Use(chimiddleware.Recoverer)

	r.Get("/ws", bm.wsServer.ServeWS)
	r.Get("/health", bm.handleHealth)
	return r
}

func (bm *BridgeManager) handleHealth(w http.ResponseWriter, _ *http.Request) {
	status := "ok"
	connected := bm.serial.IsConnected()
	if !connected {
		status = "degraded"
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(healthResponse{
		Status:           status,
		ConnectedClients: bm.wsServer.GetConnectedClientsCount(),
		SerialPort:       bm.serial.GetPortName(),
		SerialConnected:  connected,
		ScansSent:        bm.sent.Load(),
		ScansFailed:      bm.failed.Load(),
	})
}

// requestLogger logs one line per request at debug level. Hijacked websocket
// upgrades report status 0.
func requestLogger(log *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			log.Debug("request method=%s path=%s status=%d duration_ms=%d request_id=%s",
				r.Method, r.URL.Path, ww.Status(), time.Since(start).Milliseconds(),
				chimiddleware.GetReqID(r.Context()))
		})
	}
}
