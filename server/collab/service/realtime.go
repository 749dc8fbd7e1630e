package service

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"taskhub/server/collab/repository"
	commonlog "taskhub/server/common/log"
)

type RealtimeService struct {
	hub   *Hub
	users repository.UserStore
}

func NewRealtimeService(hub *Hub, users repository.UserStore) *RealtimeService {
	return &RealtimeService{hub: hub, users: users}
}

var upgrader = websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}

// HandleWS runs the connection's read loop. The caller has already
// authenticated the handshake and set auth_user_id on the context; the
// identity tag is fixed here for the life of the connection.
func (s *RealtimeService) HandleWS(c *gin.Context) {
	userID := strings.TrimSpace(c.GetString("auth_user_id"))
	if userID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}
	client := NewClient(userID, conn)
	s.hub.Register(client)
	go client.WritePump()
	defer s.hub.Disconnect(client)

	// Last-seen is advisory; a failed update never tears down the
	// connection.
	go func() {
		if err := s.users.TouchLastSeen(context.Background(), userID); err != nil {
			commonlog.Warnf("event=realtime action=touch_last_seen status=failed user_id=%s error=%v", userID, err)
		}
	}()

	commonlog.Infof("event=realtime action=connect user_id=%s conn_id=%s", userID, client.ID)

	ctx := c.Request.Context()
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			commonlog.Infof("event=realtime action=disconnect user_id=%s conn_id=%s", userID, client.ID)
			return
		}
		var frame inboundFrame
		if err := json.Unmarshal(raw, &frame); err != nil {
			client.SendEnvelope(Envelope{Type: EventError, Error: "invalid frame"})
			continue
		}
		s.handleFrame(ctx, client, frame)
	}
}

type inboundFrame struct {
	Type        string          `json:"type"`
	WorkspaceID string          `json:"workspace_id"`
	UserID      string          `json:"user_id,omitempty"`
	Payload     json.RawMessage `json:"payload,omitempty"`
}

func (s *RealtimeService) handleFrame(ctx context.Context, client *Client, frame inboundFrame) {
	workspaceID := strings.TrimSpace(frame.WorkspaceID)
	if workspaceID == "" {
		client.SendEnvelope(Envelope{Type: EventError, Error: "workspace_id required"})
		return
	}
	asUser := strings.TrimSpace(frame.UserID)
	if asUser == "" {
		asUser = client.UserID
	}

	switch frame.Type {
	case "join":
		ok, err := s.users.IsWorkspaceMember(ctx, client.UserID, workspaceID)
		if err != nil {
			commonlog.Errorf("event=realtime action=join status=failed workspace_id=%s user_id=%s error=%v", workspaceID, client.UserID, err)
			client.SendEnvelope(Envelope{Type: EventError, WorkspaceID: workspaceID, Error: "authorization check failed"})
			return
		}
		if !ok {
			client.SendEnvelope(Envelope{Type: EventError, WorkspaceID: workspaceID, Error: "workspace access denied"})
			return
		}
		members, err := s.hub.Join(workspaceID, client, asUser)
		if err != nil {
			client.SendEnvelope(Envelope{Type: EventError, WorkspaceID: workspaceID, Error: err.Error()})
			return
		}
		client.SendEnvelope(Envelope{Type: EventPresenceState, WorkspaceID: workspaceID, Members: members})
	case "leave":
		if err := s.hub.Leave(workspaceID, client, asUser); err != nil {
			client.SendEnvelope(Envelope{Type: EventError, WorkspaceID: workspaceID, Error: err.Error()})
		}
	default:
		if !RelayKind(frame.Type) {
			client.SendEnvelope(Envelope{Type: EventError, WorkspaceID: workspaceID, Error: ErrUnknownEvent.Error()})
			return
		}
		if err := s.hub.Relay(workspaceID, client, frame.Type, frame.Payload); err != nil {
			client.SendEnvelope(Envelope{Type: EventError, WorkspaceID: workspaceID, Error: err.Error()})
		}
	}
}
