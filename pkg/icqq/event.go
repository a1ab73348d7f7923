// Copyright 2024-2026 Aiku AI

package icqq

import "encoding/json"

// Event names emitted by the client.
const (
	EventLoginQRCode = "system.login.qrcode"
	EventLoginSlider = "system.login.slider"
	EventLoginDevice = "system.login.device"
	EventLoginAuth   = "system.login.auth"
	EventLoginError  = "system.login.error"
	EventOffline     = "system.offline"
	EventOnline      = "system.online"

	EventPrivateMessage = "message.private"
	EventGroupMessage   = "message.group"
	EventFriendRequest  = "request.friend"
	EventGroupRequest   = "request.group"
)

// Event is a raw event as received from the client. Payload is decoded by
// the subscriber that handles the event name.
type Event struct {
	Name    string          `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// QR code polling result codes.
const (
	QRCodeConfirmed = 0
	QRCodeExpired   = 17
	QRCodeCancelled = 54
)

type QRCodeEvent struct {
	Image []byte `json:"image"`
}

type QRCodeResult struct {
	Retcode int    `json:"retcode"`
	UIN     int64  `json:"uin,omitempty"`
	Token   string `json:"t106,omitempty"`
}

type SliderEvent struct {
	URL string `json:"url"`
}

type DeviceEvent struct {
	URL   string `json:"url"`
	Phone string `json:"phone,omitempty"`
}

type AuthEvent struct {
	URL   string `json:"url"`
	Phone string `json:"phone,omitempty"`
}

type LoginErrorEvent struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type OfflineEvent struct {
	Message string `json:"message"`
}

type OnlineEvent struct{}

type Sender struct {
	UserID   int64  `json:"user_id"`
	Nickname string `json:"nickname"`
	Card     string `json:"card,omitempty"`
	Sex      string `json:"sex,omitempty"`
	Age      int    `json:"age,omitempty"`
	Role     string `json:"role,omitempty"`
	Title    string `json:"title,omitempty"`
	Level    int    `json:"level,omitempty"`
}

// Quote is the reply metadata attached to a message that quotes another.
type Quote struct {
	UserID  int64  `json:"user_id"`
	Time    int64  `json:"time"`
	Seq     int64  `json:"seq"`
	Rand    int64  `json:"rand"`
	Message string `json:"message,omitempty"`
}

// Message types.
const (
	MessagePrivate = "private"
	MessageGroup   = "group"
)

// Message is a private or group message event.
type Message struct {
	MessageType string    `json:"message_type"`
	SubType     string    `json:"sub_type,omitempty"`
	MessageID   string    `json:"message_id"`
	Time        int64     `json:"time"`
	Seq         int64     `json:"seq"`
	Rand        int64     `json:"rand"`
	FromID      int64     `json:"from_id,omitempty"`
	ToID        int64     `json:"to_id,omitempty"`
	GroupID     int64     `json:"group_id,omitempty"`
	GroupName   string    `json:"group_name,omitempty"`
	Sender      Sender    `json:"sender"`
	Elements    []Element `json:"message"`
	RawMessage  string    `json:"raw_message,omitempty"`
	Source      *Quote    `json:"source,omitempty"`
}

func (m *Message) IsGroup() bool {
	return m.MessageType == MessageGroup
}

// Chat returns the conversation the message belongs to, from the point of
// view of the logged-in account.
func (m *Message) Chat() Chat {
	if m.IsGroup() {
		return GroupChat(m.GroupID)
	}
	return PrivateChat(m.Sender.UserID)
}

// ForwardMessage is one node of an expanded forward bundle.
type ForwardMessage struct {
	UserID     int64     `json:"user_id"`
	Nickname   string    `json:"nickname"`
	GroupID    int64     `json:"group_id,omitempty"`
	Time       int64     `json:"time"`
	Seq        int64     `json:"seq,omitempty"`
	Elements   []Element `json:"message"`
	RawMessage string    `json:"raw_message,omitempty"`
}

// Request types and sub-types.
const (
	RequestFriend = "friend"
	RequestGroup  = "group"

	RequestSubAdd    = "add"
	RequestSubSingle = "single"
	RequestSubInvite = "invite"
)

// Request is a friend or group request event. The same shape is returned by
// the system message list.
type Request struct {
	RequestType string `json:"request_type"`
	SubType     string `json:"sub_type"`
	UserID      int64  `json:"user_id"`
	Nickname    string `json:"nickname,omitempty"`
	Comment     string `json:"comment,omitempty"`
	Source      string `json:"source,omitempty"`
	Flag        string `json:"flag"`
	Time        int64  `json:"time"`
	GroupID     int64  `json:"group_id,omitempty"`
	GroupName   string `json:"group_name,omitempty"`
	InviterID   int64  `json:"inviter_id,omitempty"`
	Role        string `json:"role,omitempty"`
}
