package service

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/redis/go-redis/v9"

	commonlog "taskhub/server/common/log"
)

const (
	EventPresenceState   = "presence.state"
	EventPresenceOnline  = "presence.online"
	EventPresenceOffline = "presence.offline"
	EventNotificationNew = "notification.new"
	EventMarkedRead      = "notifications.marked_read"
	EventAllMarkedRead   = "notifications.all_marked_read"
	EventError           = "error"
)

var (
	ErrUnauthorized  = errors.New("unauthorized action")
	ErrNotSubscribed = errors.New("not subscribed to workspace")
	ErrUnknownEvent  = errors.New("unknown event kind")
)

// relayKinds are the mutation events a connection may rebroadcast into a
// workspace room.
var relayKinds = map[string]struct{}{
	"task.created":    {},
	"task.updated":    {},
	"task.deleted":    {},
	"task.moved":      {},
	"comment.added":   {},
	"project.updated": {},
}

func RelayKind(kind string) bool {
	_, ok := relayKinds[kind]
	return ok
}

// Envelope is the wire frame for every event exchanged with a connection.
type Envelope struct {
	Type        string   `json:"type"`
	WorkspaceID string   `json:"workspace_id,omitempty"`
	UserID      string   `json:"user_id,omitempty"`
	Payload     any      `json:"payload,omitempty"`
	Members     []string `json:"members,omitempty"`
	Error       string   `json:"error,omitempty"`
}

const hubEventsChannel = "collab:events"

type hubEvent struct {
	Kind        string          `json:"kind"`
	WorkspaceID string          `json:"workspace_id,omitempty"`
	UserID      string          `json:"user_id,omitempty"`
	SenderConn  string          `json:"sender_conn,omitempty"`
	Payload     json.RawMessage `json:"payload,omitempty"`
}

// Hub owns all presence state for the process: which identities hold live
// connections, and which connections subscribe to which workspace rooms.
// The hub mutex owns the maps; each room additionally carries its own mutex
// so fan-out within one workspace is serialized (FIFO) while distinct
// workspaces fan out in parallel.
type Hub struct {
	mu    sync.RWMutex
	rooms map[string]*room
	conns map[string]map[string]*Client

	redis     *redis.Client
	redisSub  *redis.PubSub
	subCancel context.CancelFunc
}

type room struct {
	mu      sync.Mutex
	members map[string]map[string]*Client
}

func NewHub() *Hub {
	return &Hub{
		rooms: map[string]*room{},
		conns: map[string]map[string]*Client{},
	}
}

// Register admits an authenticated connection into the hub. Required before
// any join; the dispatch engine's real-time channel reaches the connection
// through this registration even when it has joined no room.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.conns[c.UserID]; !ok {
		h.conns[c.UserID] = map[string]*Client{}
	}
	h.conns[c.UserID][c.ID] = c
}

// Join subscribes the connection to a workspace room. The caller's tagged
// identity must match asUserID; a connection cannot join on behalf of
// another identity. Returns the workspace's full presence set. Re-joining is
// idempotent for the presence set but still subscribes the new connection.
func (h *Hub) Join(workspaceID string, c *Client, asUserID string) ([]string, error) {
	if asUserID != c.UserID {
		return nil, ErrUnauthorized
	}

	h.mu.Lock()
	r, ok := h.rooms[workspaceID]
	if !ok {
		r = &room{members: map[string]map[string]*Client{}}
		h.rooms[workspaceID] = r
	}
	r.mu.Lock()
	userConns, ok := r.members[c.UserID]
	newlyOnline := !ok || len(userConns) == 0
	if userConns == nil {
		userConns = map[string]*Client{}
		r.members[c.UserID] = userConns
	}
	userConns[c.ID] = c
	c.joined[workspaceID] = struct{}{}

	members := make([]string, 0, len(r.members))
	for userID := range r.members {
		members = append(members, userID)
	}
	var others []*Client
	if newlyOnline {
		others = r.othersOf(c)
	}
	r.mu.Unlock()
	h.mu.Unlock()

	if newlyOnline {
		broadcast(others, Envelope{Type: EventPresenceOnline, WorkspaceID: workspaceID, UserID: c.UserID})
	}
	return members, nil
}

// Leave unsubscribes the connection. The identity drops out of the presence
// set only when this was its last joined connection; an empty room is
// discarded.
func (h *Hub) Leave(workspaceID string, c *Client, asUserID string) error {
	if asUserID != c.UserID {
		return ErrUnauthorized
	}
	h.mu.Lock()
	wentOffline, remaining := h.leaveLocked(workspaceID, c)
	h.mu.Unlock()

	if wentOffline {
		broadcast(remaining, Envelope{Type: EventPresenceOffline, WorkspaceID: workspaceID, UserID: c.UserID})
	}
	return nil
}

// Disconnect tears the connection out of every room it joined and out of the
// connection registry. Safe to call more than once and with partial joins.
func (h *Hub) Disconnect(c *Client) {
	type offlineEvent struct {
		workspaceID string
		remaining   []*Client
	}

	h.mu.Lock()
	var events []offlineEvent
	for workspaceID := range c.joined {
		wentOffline, remaining := h.leaveLocked(workspaceID, c)
		if wentOffline {
			events = append(events, offlineEvent{workspaceID: workspaceID, remaining: remaining})
		}
	}
	if userConns, ok := h.conns[c.UserID]; ok {
		delete(userConns, c.ID)
		if len(userConns) == 0 {
			delete(h.conns, c.UserID)
		}
	}
	h.mu.Unlock()

	for _, ev := range events {
		broadcast(ev.remaining, Envelope{Type: EventPresenceOffline, WorkspaceID: ev.workspaceID, UserID: c.UserID})
	}
	c.Close()
}

// leaveLocked requires h.mu held for writing.
func (h *Hub) leaveLocked(workspaceID string, c *Client) (wentOffline bool, remaining []*Client) {
	r, ok := h.rooms[workspaceID]
	if !ok {
		delete(c.joined, workspaceID)
		return false, nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(c.joined, workspaceID)
	userConns, ok := r.members[c.UserID]
	if !ok {
		return false, nil
	}
	delete(userConns, c.ID)
	if len(userConns) > 0 {
		return false, nil
	}
	delete(r.members, c.UserID)
	if len(r.members) == 0 {
		delete(h.rooms, workspaceID)
		return true, nil
	}
	return true, r.othersOf(c)
}

// Relay rebroadcasts a mutation event to every other subscriber of the
// workspace. The sender must currently be joined; delivery is best-effort
// per connection and FIFO within the workspace.
func (h *Hub) Relay(workspaceID string, c *Client, eventType string, payload json.RawMessage) error {
	h.mu.RLock()
	_, joined := c.joined[workspaceID]
	h.mu.RUnlock()
	if !joined {
		return ErrNotSubscribed
	}

	env := Envelope{Type: eventType, WorkspaceID: workspaceID, UserID: c.UserID, Payload: payload}
	b, err := json.Marshal(env)
	if err != nil {
		return err
	}
	if h.publishEvent(hubEvent{Kind: "broadcast_room", WorkspaceID: workspaceID, SenderConn: c.ID, Payload: b}) {
		return nil
	}
	h.broadcastRoomLocal(workspaceID, c.ID, b)
	return nil
}

// IsOnline reports whether the identity holds at least one live connection,
// joined to a room or not.
func (h *Hub) IsOnline(userID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns[userID]) > 0
}

// Presence returns the current presence set of a workspace.
func (h *Hub) Presence(workspaceID string) []string {
	h.mu.RLock()
	r := h.rooms[workspaceID]
	h.mu.RUnlock()
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	members := make([]string, 0, len(r.members))
	for userID := range r.members {
		members = append(members, userID)
	}
	return members
}

// NotifyUser delivers an event to every connection of an identity. Returns
// the local fan-out count; when bridged through redis the count reflects the
// publish, not per-node delivery.
func (h *Hub) NotifyUser(userID string, env Envelope) int {
	b, err := json.Marshal(env)
	if err != nil {
		return 0
	}
	if h.publishEvent(hubEvent{Kind: "notify_user", UserID: userID, Payload: b}) {
		return 1
	}
	return h.notifyUserLocal(userID, b)
}

func (h *Hub) notifyUserLocal(userID string, payload []byte) int {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.conns[userID]))
	for _, c := range h.conns[userID] {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	count := 0
	for _, c := range clients {
		if c.TrySend(payload) {
			count++
		} else {
			commonlog.Warnf("event=hub action=notify_user status=dropped user_id=%s conn_id=%s", userID, c.ID)
		}
	}
	return count
}

func (h *Hub) broadcastRoomLocal(workspaceID, excludeConn string, payload []byte) int {
	h.mu.RLock()
	r := h.rooms[workspaceID]
	h.mu.RUnlock()
	if r == nil {
		return 0
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	count := 0
	for _, userConns := range r.members {
		for connID, c := range userConns {
			if connID == excludeConn {
				continue
			}
			if c.TrySend(payload) {
				count++
			} else {
				commonlog.Warnf("event=hub action=broadcast_room status=dropped workspace_id=%s conn_id=%s", workspaceID, connID)
			}
		}
	}
	return count
}

// othersOf requires r.mu held.
func (r *room) othersOf(c *Client) []*Client {
	others := make([]*Client, 0)
	for _, userConns := range r.members {
		for connID, other := range userConns {
			if connID == c.ID {
				continue
			}
			others = append(others, other)
		}
	}
	return others
}

func broadcast(clients []*Client, env Envelope) {
	b, err := json.Marshal(env)
	if err != nil {
		return
	}
	for _, c := range clients {
		if !c.TrySend(b) {
			commonlog.Warnf("event=hub action=broadcast status=dropped type=%s conn_id=%s", env.Type, c.ID)
		}
	}
}

// UseRedis attaches a redis client so delivery fans out across every node
// subscribed to the bridge channel. Presence state itself stays local to the
// process; only event delivery is bridged.
func (h *Hub) UseRedis(client *redis.Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.redis = client
}

func (h *Hub) StartBridge(ctx context.Context) error {
	h.mu.Lock()
	if h.redis == nil {
		h.mu.Unlock()
		return errors.New("redis client is nil")
	}
	if h.redisSub != nil {
		h.mu.Unlock()
		return nil
	}
	subCtx, cancel := context.WithCancel(ctx)
	sub := h.redis.Subscribe(subCtx, hubEventsChannel)
	h.redisSub = sub
	h.subCancel = cancel
	h.mu.Unlock()

	go h.consumeEvents(subCtx, sub)
	return nil
}

func (h *Hub) StopBridge() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.subCancel != nil {
		h.subCancel()
		h.subCancel = nil
	}
	if h.redisSub != nil {
		_ = h.redisSub.Close()
		h.redisSub = nil
	}
}

func (h *Hub) publishEvent(event hubEvent) bool {
	h.mu.RLock()
	redisClient := h.redis
	h.mu.RUnlock()
	if redisClient == nil {
		return false
	}
	b, err := json.Marshal(event)
	if err != nil {
		commonlog.Errorf("event=hub action=publish status=failed kind=%s error=%v", event.Kind, err)
		return false
	}
	if err := redisClient.Publish(context.Background(), hubEventsChannel, b).Err(); err != nil {
		commonlog.Errorf("event=hub action=publish status=failed kind=%s error=%v", event.Kind, err)
		return false
	}
	return true
}

func (h *Hub) consumeEvents(ctx context.Context, sub *redis.PubSub) {
	for {
		msg, err := sub.ReceiveMessage(ctx)
		if err != nil {
			return
		}
		var event hubEvent
		if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
			continue
		}
		switch event.Kind {
		case "notify_user":
			count := h.notifyUserLocal(event.UserID, event.Payload)
			commonlog.Debugf("event=hub action=consume kind=%s user_id=%s fanout_count=%d", event.Kind, event.UserID, count)
		case "broadcast_room":
			count := h.broadcastRoomLocal(event.WorkspaceID, event.SenderConn, event.Payload)
			commonlog.Debugf("event=hub action=consume kind=%s workspace_id=%s fanout_count=%d", event.Kind, event.WorkspaceID, count)
		}
	}
}
