package hub

import (
	"context"
	"net/http"
	"time"

	"nhooyr.io/websocket"
)

// ServeHTTP upgrades the request to a WebSocket connection and relays events to it until either side closes it.
// Messages sent by the client are not expected; receiving one closes the connection.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, h.opts.AcceptOptions)
	if err != nil {
		log.Errorf("unable to accept a WebSocket connection from %s: %s", r.RemoteAddr, err)
		return
	}

	sub := h.NewSubscriber()
	logger := log.WithField("subscriber", sub.id)
	logger.Infof("WebSocket client connected from %s", r.RemoteAddr)

	// CloseRead reads in the background so that pings and close frames are processed.
	ctx := conn.CloseRead(r.Context())
	h.OnClientConnect(ctx, sub)

	code, reason := h.pump(ctx, conn, sub)
	h.Disconnect(sub, code, reason)
	if err := conn.Close(code, reason); err != nil {
		logger.Debugf("error closing the connection: %s", err)
	}
	logger.Info("WebSocket client disconnected")
}

// pump writes queued frames and keepalive pings to the connection. It returns the status to close the connection with.
func (h *Hub) pump(ctx context.Context, conn *websocket.Conn, sub *Subscriber) (websocket.StatusCode, string) {
	var ping <-chan time.Time
	if h.opts.PingInterval > 0 {
		ticker := time.NewTicker(h.opts.PingInterval)
		defer ticker.Stop()
		ping = ticker.C
	}

	for {
		select {
		case <-sub.done:
			return sub.CloseStatus()

		case <-ctx.Done():
			return websocket.StatusNormalClosure, ""

		case frame := <-sub.send:
			if err := h.write(ctx, conn, frame); err != nil {
				log.WithField("subscriber", sub.id).Debugf("unable to write a frame: %s", err)
				return websocket.StatusInternalError, "write failed"
			}

		case <-ping:
			pingCtx, cancel := context.WithTimeout(ctx, h.opts.WriteTimeout)
			err := conn.Ping(pingCtx)
			cancel()
			if err != nil {
				log.WithField("subscriber", sub.id).Debugf("keepalive ping failed: %s", err)
				return websocket.StatusGoingAway, "keepalive ping failed"
			}
		}
	}
}

func (h *Hub) write(ctx context.Context, conn *websocket.Conn, frame []byte) error {
	writeCtx, cancel := context.WithTimeout(ctx, h.opts.WriteTimeout)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, frame)
}
