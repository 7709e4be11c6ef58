package models

import "encoding/json"

// Inbound event names.
const (
	EventRegisterAsAdmin = "registerAsAdmin"
	EventChatRequest     = "chatRequest"
	EventAcceptChat      = "acceptChat"
	EventSendMessage     = "sendMessage"
	EventEndChat         = "endChat"
	EventDriverLocation  = "driver:location"
)

// Outbound event names.
const (
	EventPendingList     = "pendingList"
	EventNewChatRequest  = "newChatRequest"
	EventWaitingForAdmin = "waitingForAdmin"
	EventAcceptFailed    = "acceptFailed"
	EventChatStarted     = "chatStarted"
	EventRemovePending   = "removePending"
	EventReceiveMessage  = "receiveMessage"
	EventChatEnded       = "chatEnded"
)

// Envelope is the frame a client writes on the socket.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Outbound is the frame the server writes to a client.
type Outbound struct {
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
}

type RegisterAsAdmin struct {
	AdminID   string `json:"adminId"`
	AdminName string `json:"adminName"`
}

type ChatRequest struct {
	UserID     string `json:"userId"`
	UserName   string `json:"userName"`
	TrackingID string `json:"trackingId"`
}

type AcceptChat struct {
	UserID    string `json:"userId"`
	AdminID   string `json:"adminId"`
	AdminName string `json:"adminName"`
}

type SendMessage struct {
	RoomID string `json:"roomId"`
	Sender string `json:"sender"`
	Text   string `json:"text"`
}

type EndChat struct {
	RoomID string `json:"roomId"`
	By     string `json:"by"`
}

// DriverLocationReport keeps lat, lng and ts untyped so a non-numeric value
// can be told apart from a missing frame and dropped on its own.
type DriverLocationReport struct {
	DriverID string `json:"driverId"`
	Lat      any    `json:"lat"`
	Lng      any    `json:"lng"`
	TS       any    `json:"ts"`
}

// PendingSummary is one row of an admin's pending list and the body of
// newChatRequest.
type PendingSummary struct {
	UserID     string `json:"userId"`
	UserName   string `json:"userName"`
	TrackingID string `json:"trackingId"`
}

type AcceptFailed struct {
	Reason string `json:"reason"`
}

type ChatStarted struct {
	RoomID    string `json:"roomId"`
	UserID    string `json:"userId"`
	AdminID   string `json:"adminId"`
	AdminName string `json:"adminName"`
}

type RemovePending struct {
	UserID string `json:"userId"`
}

type ReceiveMessage struct {
	Sender string `json:"sender"`
	Text   string `json:"text"`
	TS     int64  `json:"ts"`
}

type ChatEnded struct {
	RoomID string `json:"roomId"`
	By     string `json:"by,omitempty"`
}
