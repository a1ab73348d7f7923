// Copyright 2024-2026 Aiku AI

package philia

import (
	"encoding/json"

	"go.mau.fi/util/jsontime"
)

type User struct {
	ID     string          `json:"id"`
	Name   string          `json:"name"`
	Avatar string          `json:"avatar,omitempty"`
	Remark string          `json:"remark,omitempty"`
	Raw    json.RawMessage `json:"raw,omitempty"`
}

type Group struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Avatar    string          `json:"avatar,omitempty"`
	WholeMute bool            `json:"whole_mute"`
	Raw       json.RawMessage `json:"raw,omitempty"`
}

type GroupMember struct {
	ID       string          `json:"id"`
	Name     string          `json:"name"`
	Avatar   string          `json:"avatar,omitempty"`
	Card     string          `json:"card,omitempty"`
	Role     string          `json:"role,omitempty"`
	Title    string          `json:"title,omitempty"`
	MuteTime int64           `json:"mute_time,omitempty"`
	Raw      json.RawMessage `json:"raw,omitempty"`
}

// Scene is the conversation kind of a message, or the kind of a request.
type Scene string

const (
	SceneUser  Scene = "user"
	SceneGroup Scene = "group"

	SceneUserAdd     Scene = "user_add"
	SceneGroupAdd    Scene = "group_add"
	SceneGroupInvite Scene = "group_invite"
)

// EventType discriminates event records.
type EventType string

const (
	EventMessage EventType = "message"
	EventRequest EventType = "request"
)

// Request states.
const (
	RequestPending  = "pending"
	RequestAccepted = "accepted"
	RequestRejected = "rejected"
)

// Event is a record delivered to the distribution sink.
type Event interface {
	Header() *EventHeader
}

type EventHeader struct {
	ID    string          `json:"id"`
	Type  EventType       `json:"type"`
	Time  jsontime.Unix   `json:"time"`
	Scene Scene           `json:"scene"`
	Raw   json.RawMessage `json:"raw,omitempty"`
}

func (h *EventHeader) Header() *EventHeader { return h }

type UserMessage struct {
	EventHeader
	User    User    `json:"user"`
	Message Message `json:"message"`
	Summary string  `json:"summary"`
	IsSelf  *bool   `json:"is_self,omitempty"`
}

type GroupMessage struct {
	EventHeader
	User    GroupMember `json:"user"`
	Group   Group       `json:"group"`
	Message Message     `json:"message"`
	Summary string      `json:"summary"`
}

type UserRequest struct {
	EventHeader
	User   User   `json:"user"`
	State  string `json:"state"`
	Reason string `json:"reason,omitempty"`
}

type GroupRequest struct {
	EventHeader
	User   User   `json:"user"`
	Group  Group  `json:"group"`
	Target *User  `json:"target,omitempty"`
	State  string `json:"state"`
	Reason string `json:"reason,omitempty"`
}

// Forward is one node of a forwarded message bundle.
type Forward struct {
	Message Message       `json:"message"`
	Summary string        `json:"summary,omitempty"`
	Time    jsontime.Unix `json:"time"`
	User    *User         `json:"user,omitempty"`
}

// SendResult is returned by send commands.
type SendResult struct {
	ID     string          `json:"id"`
	Time   jsontime.Unix   `json:"time"`
	FileID []string        `json:"file_id,omitempty"`
	Raw    json.RawMessage `json:"raw,omitempty"`
}
