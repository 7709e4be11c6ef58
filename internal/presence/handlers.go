package presence

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/observability"
	"github.com/example/ride-dispatch/internal/storage"
)

const (
	defaultAdminName = "Admin"

	reasonNotAvailable     = "Request not available (maybe already accepted)."
	reasonUserDisconnected = "User disconnected."
)

func (b *Broker) dispatch(connID, event string, data json.RawMessage) {
	if !b.registry.IsLive(connID) {
		return
	}
	var err error
	switch event {
	case models.EventRegisterAsAdmin:
		var p models.RegisterAsAdmin
		if err = decode(data, &p); err == nil {
			b.registerAsAdmin(connID, p)
		}
	case models.EventChatRequest:
		var p models.ChatRequest
		if err = decode(data, &p); err == nil {
			b.chatRequest(connID, p)
		}
	case models.EventAcceptChat:
		var p models.AcceptChat
		if err = decode(data, &p); err == nil {
			b.acceptChat(connID, p)
		}
	case models.EventSendMessage:
		var p models.SendMessage
		if err = decode(data, &p); err == nil {
			b.sendMessage(p)
		}
	case models.EventEndChat:
		var p models.EndChat
		if err = decode(data, &p); err == nil {
			b.endChat(p)
		}
	case models.EventDriverLocation:
		var p models.DriverLocationReport
		if err = decode(data, &p); err == nil {
			b.relay.ReportRaw(p)
		}
	default:
		observability.EventsDropped.WithLabelValues("unknown").Inc()
		b.log.Debug("unknown event", "conn_id", connID, "event", event)
		return
	}
	if err != nil {
		observability.EventsDropped.WithLabelValues(event).Inc()
		b.log.Debug("malformed event dropped", "conn_id", connID, "event", event, "error", err)
		return
	}
	observability.EventsTotal.WithLabelValues(event).Inc()
}

// decode treats a missing payload as an empty object.
func decode(data json.RawMessage, v any) error {
	if len(data) == 0 || string(data) == "null" {
		return nil
	}
	return json.Unmarshal(data, v)
}

func (b *Broker) registerAsAdmin(connID string, p models.RegisterAsAdmin) {
	adminID := p.AdminID
	if adminID == "" {
		adminID = "admin-" + connID
	}
	adminName := p.AdminName
	if adminName == "" {
		adminName = defaultAdminName
	}
	if !b.registry.MarkAdmin(connID, adminID, adminName) {
		b.log.Debug("connection already registered as admin", "conn_id", connID)
	}
	admin, _ := b.registry.Get(connID).Admin()
	b.log.Info("admin registered", "conn_id", connID, "admin_id", admin.ID)

	trackingIDs := b.pending.TrackingIDs()
	if len(trackingIDs) == 0 {
		b.registry.Get(connID).Send(models.EventPendingList, []models.PendingSummary{})
		return
	}
	suspend(b, "rides_owned_by", func(ctx context.Context) ([]string, error) {
		return b.cfg.Rides.RidesOwnedBy(ctx, admin.ID, trackingIDs)
	}, func(owned []string, err error) {
		conn := b.registry.Get(connID)
		if conn == nil {
			return
		}
		if err != nil {
			b.log.Error("filtering pending chats for admin", "conn_id", connID, "admin_id", admin.ID, "error", err)
			conn.Send(models.EventPendingList, []models.PendingSummary{})
			return
		}
		authorized := make(map[string]struct{}, len(owned))
		for _, id := range owned {
			authorized[id] = struct{}{}
		}
		conn.Send(models.EventPendingList, b.pending.ListFor(authorized))
	})
}

func (b *Broker) chatRequest(connID string, p models.ChatRequest) {
	trackingID := strings.TrimSpace(p.TrackingID)
	if p.UserID == "" || trackingID == "" {
		return
	}
	entry := b.pending.Enqueue(p.UserID, connID, p.UserName, trackingID)
	userID, seq := entry.UserID, entry.Seq
	b.log.Info("chat requested", "conn_id", connID, "user_id", userID, "tracking_id", trackingID)

	suspend(b, "find_ride", func(ctx context.Context) (models.Ride, error) {
		return b.cfg.Rides.FindRide(ctx, trackingID)
	}, func(ride models.Ride, err error) {
		defer b.registry.Get(connID).Send(models.EventWaitingForAdmin, nil)

		current, ok := b.pending.Current(userID, seq)
		if !ok {
			// Accepted, cancelled or replaced while the lookup ran.
			return
		}
		if err != nil {
			if !errors.Is(err, storage.ErrNotFound) {
				b.log.Error("ride lookup failed", "user_id", userID, "tracking_id", trackingID, "error", err)
			} else {
				b.log.Info("chat request for unknown ride", "user_id", userID, "tracking_id", trackingID)
			}
			b.pending.MarkUnrouted(userID, seq)
			return
		}
		notified := 0
		note := current.summary()
		b.registry.ForEachAdmin(func(c *Connection, a Admin) {
			if a.ID == ride.AdminID && c.Send(models.EventNewChatRequest, note) {
				notified++
			}
		})
		if notified == 0 {
			b.pending.MarkUnrouted(userID, seq)
		}
		b.log.Debug("chat request routed", "user_id", userID, "admin_id", ride.AdminID, "admins_notified", notified)
	})
}

func (b *Broker) acceptChat(connID string, p models.AcceptChat) {
	if p.UserID == "" {
		return
	}
	caller := b.registry.Get(connID)
	entry, ok := b.pending.Take(p.UserID)
	if !ok {
		caller.Send(models.EventAcceptFailed, models.AcceptFailed{Reason: reasonNotAvailable})
		return
	}
	if !b.registry.IsLive(entry.OriginConn) {
		if next, err := entry.State.Next(Withdraw); err == nil {
			entry.State = next
			observability.RequestTransitions.WithLabelValues(next.String()).Inc()
		}
		caller.Send(models.EventAcceptFailed, models.AcceptFailed{Reason: reasonUserDisconnected})
		b.broadcastRemovePending(entry.UserID)
		return
	}

	adminID, adminName := p.AdminID, p.AdminName
	if a, isAdmin := caller.Admin(); isAdmin {
		if adminID == "" {
			adminID = a.ID
		}
		if adminName == "" {
			adminName = a.Name
		}
	}
	if adminID == "" {
		adminID = "admin-" + connID
	}
	if adminName == "" {
		adminName = defaultAdminName
	}

	room := b.rooms.Create(entry.UserID, adminID, entry.OriginConn, connID)
	b.rooms.Broadcast(room.ID, models.EventChatStarted, models.ChatStarted{
		RoomID:    room.ID,
		UserID:    entry.UserID,
		AdminID:   adminID,
		AdminName: adminName,
	})
	b.broadcastRemovePending(entry.UserID)
	b.log.Info("chat started", "room_id", room.ID, "user_id", entry.UserID, "admin_id", adminID)
}

func (b *Broker) sendMessage(p models.SendMessage) {
	if p.RoomID == "" {
		return
	}
	b.rooms.Relay(p.RoomID, p.Sender, p.Text)
}

func (b *Broker) endChat(p models.EndChat) {
	if p.RoomID == "" {
		return
	}
	if b.rooms.End(p.RoomID, p.By) {
		b.log.Info("chat ended", "room_id", p.RoomID, "by", p.By)
	}
}

// cleanupConnection runs after a connection leaves the registry.
func (b *Broker) cleanupConnection(connID string) {
	for _, userID := range b.pending.RemoveByOrigin(connID) {
		b.broadcastRemovePending(userID)
		b.log.Info("pending chat cancelled by disconnect", "conn_id", connID, "user_id", userID)
	}
	for _, roomID := range b.rooms.EndAllFor(connID, ReasonDisconnect) {
		b.log.Info("chat ended by disconnect", "conn_id", connID, "room_id", roomID)
	}
}

func (b *Broker) broadcastRemovePending(userID string) {
	msg := models.RemovePending{UserID: userID}
	b.registry.ForEachAdmin(func(c *Connection, _ Admin) {
		c.Send(models.EventRemovePending, msg)
	})
}
