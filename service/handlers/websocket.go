package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pitabwire/util"

	"github.com/antinvestor/service-messaging/config"
	"github.com/antinvestor/service-messaging/service/business"
)

// WebSocketHandler upgrades HTTP requests onto the messaging and presence
// channels and adapts the raw connections to the gateway stream interface.
type WebSocketHandler struct {
	gateway       *business.SessionGateway
	presence      *business.PresenceGateway
	upgrader      websocket.Upgrader
	writeDeadline time.Duration
}

func NewWebSocketHandler(
	cfg *config.MessagingConfig,
	gateway *business.SessionGateway,
	presence *business.PresenceGateway,
) *WebSocketHandler {
	return &WebSocketHandler{
		gateway:  gateway,
		presence: presence,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(_ *http.Request) bool { return true },
		},
		writeDeadline: time.Duration(cfg.WriteDeadlineSeconds) * time.Second,
	}
}

// Messages serves the messaging channel. Clients authenticate in band via
// the auth event after the upgrade.
func (wh *WebSocketHandler) Messages(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	conn, err := wh.upgrader.Upgrade(w, r, nil)
	if err != nil {
		util.Log(ctx).WithError(err).Debug("websocket upgrade failed")
		return
	}
	defer conn.Close()

	_ = wh.gateway.HandleConnection(ctx, newWireStream(conn, wh.writeDeadline))
}

// Presence serves the presence channel. The profile identifies itself with
// the userId query parameter; requests without one are rejected before the
// upgrade.
func (wh *WebSocketHandler) Presence(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	profileID := r.URL.Query().Get("userId")
	if profileID == "" {
		http.Error(w, "userId is required", http.StatusBadRequest)
		return
	}

	conn, err := wh.upgrader.Upgrade(w, r, nil)
	if err != nil {
		util.Log(ctx).WithError(err).Debug("websocket upgrade failed")
		return
	}
	defer conn.Close()

	_ = wh.presence.HandleConnection(ctx, profileID, newWireStream(conn, wh.writeDeadline))
}

// wireStream adapts a websocket connection to business.ClientStream. Writes
// are already serialized upstream by the session, so only the deadline is
// managed here.
type wireStream struct {
	conn          *websocket.Conn
	writeDeadline time.Duration
}

func newWireStream(conn *websocket.Conn, writeDeadline time.Duration) *wireStream {
	return &wireStream{conn: conn, writeDeadline: writeDeadline}
}

func (ws *wireStream) Receive() (*business.ClientFrame, error) {
	_, data, err := ws.conn.ReadMessage()
	if err != nil {
		return nil, err
	}

	frame := &business.ClientFrame{}
	if err = json.Unmarshal(data, frame); err != nil {
		return nil, err
	}
	return frame, nil
}

func (ws *wireStream) Send(event *business.ServerEvent) error {
	if ws.writeDeadline > 0 {
		_ = ws.conn.SetWriteDeadline(time.Now().Add(ws.writeDeadline))
	}
	return ws.conn.WriteJSON(event)
}

var _ business.ClientStream = (*wireStream)(nil)
