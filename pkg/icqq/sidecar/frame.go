// Copyright 2024-2026 Aiku AI

package sidecar

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Frame types on the sidecar socket.
const (
	frameRequest  = "request"
	frameResponse = "response"
	frameEvent    = "event"
)

// Actions understood by the sidecar.
const (
	actionInit                 = "init"
	actionLogin                = "login"
	actionLogout               = "logout"
	actionQueryQRCodeResult    = "queryQrcodeResult"
	actionQRCodeLogin          = "qrcodeLogin"
	actionSubmitSlider         = "submitSlider"
	actionSendSMSCode          = "sendSmsCode"
	actionSubmitSMSCode        = "submitSmsCode"
	actionGetSelfInfo          = "getSelfInfo"
	actionGetUserInfo          = "getUserInfo"
	actionGetGroupInfo         = "getGroupInfo"
	actionGetGroupMemberInfo   = "getGroupMemberInfo"
	actionGetGroupChatHistory  = "getGroupChatHistory"
	actionGetFriendChatHistory = "getFriendChatHistory"
	actionGetChatHistory       = "getChatHistory"
	actionGetMsg               = "getMsg"
	actionGetForwardMsg        = "getForwardMsg"
	actionGetSystemMsg         = "getSystemMsg"
	actionGetFileURL           = "getFileUrl"
	actionSendMsg              = "sendMsg"
	actionMakeForwardMsg       = "makeForwardMsg"
	actionSendFile             = "sendFile"
	actionDeleteMsg            = "deleteMsg"
	actionSetFriendAddRequest  = "setFriendAddRequest"
	actionSetGroupAddRequest   = "setGroupAddRequest"
	actionDeleteFriend         = "deleteFriend"
	actionKickGroupMember      = "kickGroupMember"
)

// ErrClosed is returned by calls made on, or pending when, the connection
// closes.
var ErrClosed = errors.New("sidecar connection closed")

// RPCError is a failure reported by the sidecar for one call.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("sidecar error %d: %s", e.Code, e.Message)
}

type request struct {
	Type   string `json:"type"`
	ID     string `json:"id"`
	Action string `json:"action"`
	Params any    `json:"params,omitempty"`
}

// frame is any frame received from the sidecar.
type frame struct {
	Type string `json:"type"`

	ID    string          `json:"id,omitempty"`
	OK    bool            `json:"ok"`
	Data  json.RawMessage `json:"data,omitempty"`
	Error *RPCError       `json:"error,omitempty"`

	Event   string          `json:"event,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

func (f *frame) err() error {
	if f.OK {
		return nil
	}
	if f.Error != nil {
		return f.Error
	}
	return &RPCError{Message: "call failed without an error"}
}
