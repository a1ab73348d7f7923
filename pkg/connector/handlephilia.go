// Copyright 2024-2026 Aiku AI

package connector

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"
	"go.mau.fi/util/jsontime"

	"github.com/aiku/philia-icqq/pkg/connector/philiafmt"
	"github.com/aiku/philia-icqq/pkg/icqq"
	"github.com/aiku/philia-icqq/pkg/philia"
)

// Defaults for forward nodes that do not name their sender.
const (
	anonymousUserID   = 80000000
	anonymousNickname = "Anonymous"
)

// History lookup kinds accepted by GetChatHistory.
const (
	HistoryByMessage = "message"
	HistoryByUser    = "user"
	HistoryByGroup   = "group"
)

var _ philiafmt.Files = (*Bridge)(nil)

func chatFor(scene philia.Scene, id string) (icqq.Chat, error) {
	target, err := ParseID(id)
	if err != nil {
		return icqq.Chat{}, err
	}
	switch scene {
	case philia.SceneUser:
		return icqq.PrivateChat(target), nil
	case philia.SceneGroup:
		return icqq.GroupChat(target), nil
	}
	return icqq.Chat{}, fmt.Errorf("unsupported scene %q", scene)
}

// ResolveFile looks up the download URL of a file id in the given chat.
func (b *Bridge) ResolveFile(ctx context.Context, chat icqq.Chat, id string) (*philia.File, error) {
	url, err := b.Client.GetFileURL(ctx, chat, id)
	if err != nil {
		return nil, err
	}
	if url == "" {
		return nil, fmt.Errorf("file %s: %w", id, ErrNotFound)
	}
	return &philia.File{Type: philia.SegmentFile, Data: philia.PayloadURL, URL: url}, nil
}

// UploadFile sends a concrete file payload to the chat out of band.
func (b *Bridge) UploadFile(ctx context.Context, chat icqq.Chat, file *philia.File) (string, error) {
	return b.Client.SendFile(ctx, chat, philiafmt.Source(file), file.Name)
}

// SendMsg converts and sends a message. A message that converts to nothing
// but still has a summary, such as a lone file upload, succeeds with an
// empty id.
func (b *Bridge) SendMsg(ctx context.Context, scene philia.Scene, id string, msg philia.Message) (*philia.SendResult, error) {
	chat, err := chatFor(scene, id)
	if err != nil {
		return nil, err
	}
	return b.sendTo(ctx, chat, msg)
}

func (b *Bridge) sendTo(ctx context.Context, chat icqq.Chat, msg philia.Message) (*philia.SendResult, error) {
	out, err := philiafmt.Convert(ctx, b, chat, msg)
	if err != nil {
		return nil, fmt.Errorf("failed to convert message: %w", err)
	}
	if len(out.Elements) == 0 {
		if out.Summary == "" {
			return nil, ErrEmptyMessage
		}
		return &philia.SendResult{Time: jsontime.UnixNow(), FileID: out.FileIDs}, nil
	}
	res, err := b.Client.SendMsg(ctx, chat, out.Elements)
	if err != nil {
		return nil, fmt.Errorf("failed to send message: %w", err)
	}
	sent := &philia.SendResult{
		ID:     res.MessageID,
		Time:   jsontime.UnixNow(),
		FileID: out.FileIDs,
		Raw:    rawJSON(res),
	}
	if res.Time != 0 {
		sent.Time = unixTime(res.Time)
	}
	zerolog.Ctx(ctx).Debug().
		Str("chat", chat.String()).
		Str("message_id", res.MessageID).
		Str("summary", out.Summary).
		Msg("Sent message")
	return sent, nil
}

// platformMessage wraps an ICQQ payload so that only this implementation
// acts on it.
func platformMessage(data json.RawMessage) philia.Message {
	return philia.Message{&philia.Platform{
		Type: philia.SegmentPlatform,
		List: philia.PlatformList{icqq.PlatformName},
		Mode: philia.ModeInclude,
		Data: data,
	}}
}

// SendMultiMsg bundles the nodes into a single forward message. Nodes that
// convert to no elements are skipped.
func (b *Bridge) SendMultiMsg(ctx context.Context, scene philia.Scene, id string, nodes []*philia.Forward) ([]*philia.SendResult, error) {
	chat, err := chatFor(scene, id)
	if err != nil {
		return nil, err
	}
	forwardables := make([]icqq.Forwardable, 0, len(nodes))
	for i, node := range nodes {
		out, err := philiafmt.Convert(ctx, b, chat, node.Message)
		if err != nil {
			return nil, fmt.Errorf("failed to convert forward node %d: %w", i, err)
		}
		if len(out.Elements) == 0 {
			continue
		}
		fwd := icqq.Forwardable{
			UserID:   anonymousUserID,
			Nickname: anonymousNickname,
			Message:  out.Elements,
		}
		if !node.Time.IsZero() {
			fwd.Time = node.Time.Unix()
		}
		if node.User != nil {
			if uid, err := ParseID(node.User.ID); err == nil && uid != 0 {
				fwd.UserID = uid
			}
			if node.User.Name != "" {
				fwd.Nickname = node.User.Name
			}
		}
		forwardables = append(forwardables, fwd)
	}
	if len(forwardables) == 0 {
		return []*philia.SendResult{{Time: jsontime.UnixNow()}}, nil
	}
	el, err := b.Client.MakeForwardMsg(ctx, chat, forwardables)
	if err != nil {
		return nil, fmt.Errorf("failed to make forward message: %w", err)
	}
	data, err := json.Marshal(el)
	if err != nil {
		return nil, fmt.Errorf("failed to encode forward message: %w", err)
	}
	res, err := b.sendTo(ctx, chat, platformMessage(data))
	if err != nil {
		return nil, err
	}
	return []*philia.SendResult{res}, nil
}

// SendMsgForward re-sends an existing message to another chat.
func (b *Bridge) SendMsgForward(ctx context.Context, scene philia.Scene, id, messageID string) (*philia.SendResult, error) {
	chat, err := chatFor(scene, id)
	if err != nil {
		return nil, err
	}
	msg, err := b.Client.GetMsg(ctx, messageID)
	if err != nil {
		return nil, fmt.Errorf("failed to get message %s: %w", messageID, err)
	}
	if msg == nil || len(msg.Elements) == 0 {
		return nil, fmt.Errorf("message %s: %w", messageID, ErrNotFound)
	}
	data, err := json.Marshal(msg.Elements)
	if err != nil {
		return nil, fmt.Errorf("failed to encode message elements: %w", err)
	}
	return b.sendTo(ctx, chat, platformMessage(data))
}

// SendFile sends a file out of band and returns its id.
func (b *Bridge) SendFile(ctx context.Context, scene philia.Scene, id string, file *philia.File) (string, error) {
	chat, err := chatFor(scene, id)
	if err != nil {
		return "", err
	}
	if file.Data == philia.PayloadID {
		resolved, err := b.ResolveFile(ctx, chat, file.ID)
		if err != nil {
			return "", fmt.Errorf("failed to resolve file %s: %w", file.ID, err)
		}
		resolved.Name = file.Name
		file = resolved
	} else if err := file.Validate(); err != nil {
		return "", err
	}
	fid, err := b.UploadFile(ctx, chat, file)
	if err != nil {
		return "", fmt.Errorf("failed to send file: %w", err)
	}
	return fid, nil
}

func (b *Bridge) GetMsg(ctx context.Context, id string) (philia.Event, error) {
	msg, err := b.Client.GetMsg(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get message %s: %w", id, err)
	}
	if msg == nil {
		return nil, fmt.Errorf("message %s: %w", id, ErrNotFound)
	}
	return b.ConvertMessage(ctx, msg)
}

func (b *Bridge) DelMsg(ctx context.Context, id string) error {
	ok, err := b.Client.DeleteMsg(ctx, id)
	return checkBool("recall message", ok, err)
}

func (b *Bridge) GetForwardMsg(ctx context.Context, id string) ([]*philia.Forward, error) {
	nodes, err := b.Client.GetForwardMsg(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get forward message %s: %w", id, err)
	}
	out := make([]*philia.Forward, 0, len(nodes))
	for _, node := range nodes {
		out = append(out, b.convertForward(ctx, node))
	}
	return out, nil
}

// GetChatHistory returns messages before a message id, or the latest
// messages of a user or group chat.
func (b *Bridge) GetChatHistory(ctx context.Context, kind, id string, count int) ([]philia.Event, error) {
	var msgs []*icqq.Message
	var err error
	switch kind {
	case HistoryByMessage:
		msgs, err = b.Client.GetChatHistory(ctx, id, count)
	case HistoryByUser, HistoryByGroup:
		var target int64
		if target, err = ParseID(id); err != nil {
			return nil, err
		}
		if kind == HistoryByUser {
			msgs, err = b.Client.GetFriendChatHistory(ctx, target, 0, count)
		} else {
			msgs, err = b.Client.GetGroupChatHistory(ctx, target, 0, count)
		}
	default:
		return nil, fmt.Errorf("unsupported history kind %q", kind)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get chat history: %w", err)
	}
	out := make([]philia.Event, 0, len(msgs))
	for _, msg := range msgs {
		if msg == nil {
			continue
		}
		evt, err := b.ConvertMessage(ctx, msg)
		if err != nil {
			return nil, err
		}
		out = append(out, evt)
	}
	return out, nil
}

// GetRequestArray lists pending requests, optionally filtered by scene and
// limited to count entries.
func (b *Bridge) GetRequestArray(ctx context.Context, scene philia.Scene, count int) ([]philia.Event, error) {
	reqs, err := b.Client.GetSystemMsg(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get system messages: %w", err)
	}
	var out []philia.Event
	for _, req := range reqs {
		var reqScene philia.Scene
		switch {
		case req.RequestType == icqq.RequestFriend:
			reqScene = philia.SceneUserAdd
		case req.SubType == icqq.RequestSubAdd:
			reqScene = philia.SceneGroupAdd
		default:
			reqScene = philia.SceneGroupInvite
		}
		if scene != "" && scene != reqScene {
			continue
		}
		var evt philia.Event
		if reqScene == philia.SceneUserAdd {
			evt, err = b.convertFriendRequest(ctx, req)
		} else {
			evt, err = b.convertGroupRequest(ctx, req)
		}
		if err != nil {
			return nil, err
		}
		out = append(out, evt)
		if count > 0 && len(out) == count {
			break
		}
	}
	return out, nil
}

// SetRequest accepts or rejects a request by its Philia id.
func (b *Bridge) SetRequest(ctx context.Context, id string, accept bool, reason string) error {
	kind, flag, err := ParseRequestID(id)
	if err != nil {
		return err
	}
	if kind == RequestKindFriend {
		ok, err := b.Client.SetFriendAddRequest(ctx, flag, accept)
		return checkBool("handle friend request", ok, err)
	}
	ok, err := b.Client.SetGroupAddRequest(ctx, flag, accept, reason)
	return checkBool("handle group request", ok, err)
}

func (b *Bridge) DelUser(ctx context.Context, id string, block bool) error {
	uid, err := ParseID(id)
	if err != nil {
		return err
	}
	ok, err := b.Client.DeleteFriend(ctx, uid, block)
	return checkBool("delete friend", ok, err)
}

func (b *Bridge) DelGroupMember(ctx context.Context, groupID, userID string, block bool) error {
	gid, err := ParseID(groupID)
	if err != nil {
		return err
	}
	uid, err := ParseID(userID)
	if err != nil {
		return err
	}
	ok, err := b.Client.KickGroupMember(ctx, gid, uid, block)
	return checkBool("remove group member", ok, err)
}

func (b *Bridge) GetSelfInfo(ctx context.Context) (*philia.User, error) {
	info, err := b.Client.GetSelfInfo(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get self info: %w", err)
	}
	if info == nil {
		info = &icqq.UserInfo{UserID: b.Client.UIN()}
	}
	return convertUser(info), nil
}

func (b *Bridge) GetUserInfo(ctx context.Context, id string) (*philia.User, error) {
	uid, err := ParseID(id)
	if err != nil {
		return nil, err
	}
	info, err := b.Client.GetUserInfo(ctx, uid)
	if err != nil {
		return nil, fmt.Errorf("failed to get user info: %w", err)
	}
	if info == nil {
		return nil, fmt.Errorf("user %s: %w", id, ErrNotFound)
	}
	return convertUser(info), nil
}

func (b *Bridge) GetGroupInfo(ctx context.Context, id string, refresh bool) (*philia.Group, error) {
	gid, err := ParseID(id)
	if err != nil {
		return nil, err
	}
	info, err := b.Client.GetGroupInfo(ctx, gid, refresh)
	if err != nil {
		return nil, fmt.Errorf("failed to get group info: %w", err)
	}
	if info == nil {
		return nil, fmt.Errorf("group %s: %w", id, ErrNotFound)
	}
	return convertGroup(info), nil
}

func (b *Bridge) GetGroupMemberInfo(ctx context.Context, groupID, userID string, refresh bool) (*philia.GroupMember, error) {
	gid, err := ParseID(groupID)
	if err != nil {
		return nil, err
	}
	uid, err := ParseID(userID)
	if err != nil {
		return nil, err
	}
	info, err := b.Client.GetGroupMemberInfo(ctx, gid, uid, refresh)
	if err != nil {
		return nil, fmt.Errorf("failed to get group member info: %w", err)
	}
	if info == nil {
		return nil, fmt.Errorf("member %s of group %s: %w", userID, groupID, ErrNotFound)
	}
	return convertMember(info), nil
}
