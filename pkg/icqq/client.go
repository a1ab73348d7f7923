// Copyright 2024-2026 Aiku AI

// Package icqq describes the ICQQ client as the bridge sees it: message
// elements, events, contact records and the command surface. The client runs
// in a separate process; package sidecar implements Client on top of it.
package icqq

import (
	"context"
	"strconv"
)

// ChatType distinguishes private conversations from groups.
type ChatType string

const (
	ChatPrivate ChatType = "private"
	ChatGroup   ChatType = "group"
)

// Chat addresses a conversation.
type Chat struct {
	Type ChatType `json:"type"`
	ID   int64    `json:"id"`
}

func PrivateChat(userID int64) Chat { return Chat{Type: ChatPrivate, ID: userID} }
func GroupChat(groupID int64) Chat  { return Chat{Type: ChatGroup, ID: groupID} }

func (c Chat) String() string {
	return string(c.Type) + ":" + strconv.FormatInt(c.ID, 10)
}

type UserInfo struct {
	UserID   int64  `json:"user_id"`
	Nickname string `json:"nickname"`
	Sex      string `json:"sex,omitempty"`
	Age      int    `json:"age,omitempty"`
	Remark   string `json:"remark,omitempty"`
}

type GroupInfo struct {
	GroupID         int64  `json:"group_id"`
	GroupName       string `json:"group_name"`
	MemberCount     int    `json:"member_count,omitempty"`
	MaxMemberCount  int    `json:"max_member_count,omitempty"`
	OwnerID         int64  `json:"owner_id,omitempty"`
	ShutupTimeWhole int64  `json:"shutup_time_whole,omitempty"`
}

type MemberInfo struct {
	GroupID    int64  `json:"group_id"`
	UserID     int64  `json:"user_id"`
	Nickname   string `json:"nickname"`
	Card       string `json:"card,omitempty"`
	Sex        string `json:"sex,omitempty"`
	Age        int    `json:"age,omitempty"`
	Role       string `json:"role,omitempty"`
	Title      string `json:"title,omitempty"`
	ShutupTime int64  `json:"shutup_time,omitempty"`
	JoinTime   int64  `json:"join_time,omitempty"`
}

type SendResult struct {
	MessageID string `json:"message_id"`
	Seq       int64  `json:"seq,omitempty"`
	Rand      int64  `json:"rand,omitempty"`
	Time      int64  `json:"time,omitempty"`
}

// Forwardable is one node of a forward bundle being built.
type Forwardable struct {
	UserID   int64     `json:"user_id"`
	Nickname string    `json:"nickname"`
	Message  []Element `json:"message"`
	Time     int64     `json:"time,omitempty"`
}

// Client is the command surface of an ICQQ client. All calls are remote and
// fallible. Lookups that find nothing return a nil result and a nil error.
type Client interface {
	// Events returns the channel of raw client events. It is closed when the
	// client disconnects.
	Events() <-chan *Event
	// UIN returns the account id the client logs in as.
	UIN() int64

	Login(ctx context.Context) error
	Logout(ctx context.Context) error
	QueryQRCodeResult(ctx context.Context) (*QRCodeResult, error)
	QRCodeLogin(ctx context.Context) error
	SubmitSlider(ctx context.Context, ticket string) error
	SendSMSCode(ctx context.Context) error
	SubmitSMSCode(ctx context.Context, code string) error

	GetSelfInfo(ctx context.Context) (*UserInfo, error)
	GetUserInfo(ctx context.Context, userID int64) (*UserInfo, error)
	GetGroupInfo(ctx context.Context, groupID int64, refresh bool) (*GroupInfo, error)
	GetGroupMemberInfo(ctx context.Context, groupID, userID int64, refresh bool) (*MemberInfo, error)
	GetGroupChatHistory(ctx context.Context, groupID, seq int64, count int) ([]*Message, error)
	GetFriendChatHistory(ctx context.Context, userID, time int64, count int) ([]*Message, error)
	GetChatHistory(ctx context.Context, messageID string, count int) ([]*Message, error)
	GetMsg(ctx context.Context, messageID string) (*Message, error)
	GetForwardMsg(ctx context.Context, resID string) ([]*ForwardMessage, error)
	GetSystemMsg(ctx context.Context) ([]*Request, error)
	GetFileURL(ctx context.Context, chat Chat, fid string) (string, error)

	SendMsg(ctx context.Context, chat Chat, elements []Element) (*SendResult, error)
	MakeForwardMsg(ctx context.Context, chat Chat, nodes []Forwardable) (*Element, error)
	SendFile(ctx context.Context, chat Chat, file, name string) (string, error)
	DeleteMsg(ctx context.Context, messageID string) (bool, error)
	SetFriendAddRequest(ctx context.Context, flag string, approve bool) (bool, error)
	SetGroupAddRequest(ctx context.Context, flag string, approve bool, reason string) (bool, error)
	DeleteFriend(ctx context.Context, userID int64, block bool) (bool, error)
	KickGroupMember(ctx context.Context, groupID, userID int64, block bool) (bool, error)
}
