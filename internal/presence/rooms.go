package presence

import (
	"fmt"
	"time"

	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/observability"
)

// ReasonDisconnect is the endedBy value used when a member drops.
const ReasonDisconnect = "disconnect"

// Room is a live two-party chat between one user-side and one admin-side
// connection.
type Room struct {
	ID        string
	UserID    string
	AdminID   string
	UserConn  string
	AdminConn string
	State     RequestState
	CreatedAt time.Time
}

func (r *Room) members() [2]string { return [2]string{r.UserConn, r.AdminConn} }

// RoomManager owns the room table and the reverse index of which rooms each
// connection is subscribed to.
type RoomManager struct {
	registry *Registry
	rooms    map[string]*Room
	byConn   map[string]map[string]struct{}
	counter  uint64
	now      func() time.Time
}

func NewRoomManager(registry *Registry, now func() time.Time) *RoomManager {
	if now == nil {
		now = time.Now
	}
	return &RoomManager{
		registry: registry,
		rooms:    make(map[string]*Room),
		byConn:   make(map[string]map[string]struct{}),
		now:      now,
	}
}

// Create opens a room for an accepted request and subscribes both
// connections to it. The id embeds a timestamp and a process-wide counter,
// so the same pair reconnecting never reuses an id.
func (m *RoomManager) Create(userID, adminID, userConn, adminConn string) *Room {
	m.counter++
	created := m.now()
	state, _ := Accepted.Next(Open)
	room := &Room{
		ID:        fmt.Sprintf("%s-%s-%d-%d", userID, adminID, created.UnixMilli(), m.counter),
		UserID:    userID,
		AdminID:   adminID,
		UserConn:  userConn,
		AdminConn: adminConn,
		State:     state,
		CreatedAt: created,
	}
	m.rooms[room.ID] = room
	for _, conn := range room.members() {
		m.subscribe(conn, room.ID)
	}
	observability.RequestTransitions.WithLabelValues(state.String()).Inc()
	observability.ActiveRooms.Set(float64(len(m.rooms)))
	return room
}

func (m *RoomManager) Get(roomID string) (*Room, bool) {
	r, ok := m.rooms[roomID]
	return r, ok
}

// Broadcast sends an event to every live member of a room.
func (m *RoomManager) Broadcast(roomID, event string, data any) bool {
	room, ok := m.rooms[roomID]
	if !ok {
		return false
	}
	m.deliver(room, event, data)
	return true
}

// Relay delivers a chat message to every member of the room. Unknown rooms
// are ignored.
func (m *RoomManager) Relay(roomID, sender, text string) bool {
	return m.Broadcast(roomID, models.EventReceiveMessage, models.ReceiveMessage{
		Sender: sender,
		Text:   text,
		TS:     m.now().UnixMilli(),
	})
}

// End notifies the members, unsubscribes them and forgets the room. Ending
// a room that is already gone does nothing.
func (m *RoomManager) End(roomID, endedBy string) bool {
	room, ok := m.rooms[roomID]
	if !ok {
		return false
	}
	next, err := room.State.Next(Close)
	if err != nil {
		return false
	}
	room.State = next
	m.deliver(room, models.EventChatEnded, models.ChatEnded{RoomID: roomID, By: endedBy})
	for _, conn := range room.members() {
		m.unsubscribe(conn, roomID)
	}
	delete(m.rooms, roomID)
	observability.RequestTransitions.WithLabelValues(next.String()).Inc()
	observability.ActiveRooms.Set(float64(len(m.rooms)))
	return true
}

// EndAllFor ends every room connID is a member of and returns their ids.
func (m *RoomManager) EndAllFor(connID, reason string) []string {
	subs := m.byConn[connID]
	if len(subs) == 0 {
		return nil
	}
	ended := make([]string, 0, len(subs))
	for roomID := range subs {
		ended = append(ended, roomID)
	}
	for _, roomID := range ended {
		m.End(roomID, reason)
	}
	return ended
}

// RoomsOf returns the rooms a connection is currently subscribed to.
func (m *RoomManager) RoomsOf(connID string) []string {
	out := make([]string, 0, len(m.byConn[connID]))
	for roomID := range m.byConn[connID] {
		out = append(out, roomID)
	}
	return out
}

func (m *RoomManager) Len() int { return len(m.rooms) }

func (m *RoomManager) deliver(room *Room, event string, data any) {
	members := room.members()
	for i, conn := range members {
		// A user talking to itself as admin still gets one copy.
		if i == 1 && conn == members[0] {
			break
		}
		m.registry.Get(conn).Send(event, data)
	}
}

func (m *RoomManager) subscribe(connID, roomID string) {
	if m.byConn[connID] == nil {
		m.byConn[connID] = make(map[string]struct{})
	}
	m.byConn[connID][roomID] = struct{}{}
}

func (m *RoomManager) unsubscribe(connID, roomID string) {
	subs, ok := m.byConn[connID]
	if !ok {
		return
	}
	delete(subs, roomID)
	if len(subs) == 0 {
		delete(m.byConn, connID)
	}
}
