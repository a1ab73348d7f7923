// Copyright 2024-2026 Aiku AI

package connector

import (
	"context"
	"fmt"
	"time"

	"go.mau.fi/util/jsontime"
	"go.mau.fi/util/ptr"
	"golang.org/x/sync/errgroup"

	"github.com/aiku/philia-icqq/pkg/connector/icqqfmt"
	"github.com/aiku/philia-icqq/pkg/icqq"
	"github.com/aiku/philia-icqq/pkg/philia"
)

func unixTime(sec int64) jsontime.Unix {
	return jsontime.U(time.Unix(sec, 0))
}

func (b *Bridge) convertContent(ctx context.Context, elements []icqq.Element, chat icqq.Chat, quote *icqq.Quote) *icqqfmt.Result {
	return icqqfmt.Convert(ctx, b.Client, &icqqfmt.Input{Elements: elements, Chat: chat, Quote: quote})
}

// ConvertMessage converts a private or group message to its event record.
func (b *Bridge) ConvertMessage(ctx context.Context, msg *icqq.Message) (philia.Event, error) {
	if msg.IsGroup() {
		return b.convertGroupMessage(ctx, msg)
	}
	return b.convertPrivateMessage(ctx, msg), nil
}

func (b *Bridge) convertPrivateMessage(ctx context.Context, msg *icqq.Message) *philia.UserMessage {
	content := b.convertContent(ctx, msg.Elements, msg.Chat(), msg.Source)
	evt := &philia.UserMessage{
		EventHeader: philia.EventHeader{
			ID:    msg.MessageID,
			Type:  philia.EventMessage,
			Time:  unixTime(msg.Time),
			Scene: philia.SceneUser,
			Raw:   rawJSON(msg),
		},
		User:    *convertSender(&msg.Sender),
		Message: content.Message,
		Summary: content.Summary,
	}
	if msg.FromID == b.Client.UIN() {
		evt.IsSelf = ptr.Ptr(true)
	}
	return evt
}

func (b *Bridge) convertGroupMessage(ctx context.Context, msg *icqq.Message) (*philia.GroupMessage, error) {
	var member *icqq.MemberInfo
	var group *icqq.GroupInfo
	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() (err error) {
		member, err = b.Client.GetGroupMemberInfo(egCtx, msg.GroupID, msg.Sender.UserID, false)
		if err != nil {
			return fmt.Errorf("failed to get sender member info: %w", err)
		}
		return nil
	})
	eg.Go(func() (err error) {
		group, err = b.Client.GetGroupInfo(egCtx, msg.GroupID, false)
		if err != nil {
			return fmt.Errorf("failed to get group info: %w", err)
		}
		return nil
	})
	var content *icqqfmt.Result
	eg.Go(func() error {
		content = b.convertContent(egCtx, msg.Elements, msg.Chat(), msg.Source)
		return nil
	})
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	if member == nil {
		member = &icqq.MemberInfo{
			GroupID:  msg.GroupID,
			UserID:   msg.Sender.UserID,
			Nickname: msg.Sender.Nickname,
			Card:     msg.Sender.Card,
			Role:     msg.Sender.Role,
			Title:    msg.Sender.Title,
		}
	}
	if group == nil {
		group = &icqq.GroupInfo{GroupID: msg.GroupID, GroupName: msg.GroupName}
	}
	return &philia.GroupMessage{
		EventHeader: philia.EventHeader{
			ID:    msg.MessageID,
			Type:  philia.EventMessage,
			Time:  unixTime(msg.Time),
			Scene: philia.SceneGroup,
			Raw:   rawJSON(msg),
		},
		User:    *convertMember(member),
		Group:   *convertGroup(group),
		Message: content.Message,
		Summary: content.Summary,
	}, nil
}

// convertForward converts one node of an expanded forward bundle. Nodes have
// no chat scope, so mentions are named from profiles only.
func (b *Bridge) convertForward(ctx context.Context, fm *icqq.ForwardMessage) *philia.Forward {
	content := b.convertContent(ctx, fm.Elements, icqq.Chat{}, nil)
	return &philia.Forward{
		Message: content.Message,
		Summary: content.Summary,
		Time:    unixTime(fm.Time),
		User:    &philia.User{ID: MakeID(fm.UserID), Name: fm.Nickname},
	}
}

// lookupUser fetches a user profile, falling back to what the event carried
// when the client knows nothing about the user.
func (b *Bridge) lookupUser(ctx context.Context, userID int64, nickname string) (*philia.User, error) {
	info, err := b.Client.GetUserInfo(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get user info for %d: %w", userID, err)
	}
	if info == nil {
		info = &icqq.UserInfo{UserID: userID, Nickname: nickname}
	}
	return convertUser(info), nil
}

func (b *Bridge) lookupGroup(ctx context.Context, groupID int64, name string) (*philia.Group, error) {
	info, err := b.Client.GetGroupInfo(ctx, groupID, false)
	if err != nil {
		return nil, fmt.Errorf("failed to get group info for %d: %w", groupID, err)
	}
	if info == nil {
		info = &icqq.GroupInfo{GroupID: groupID, GroupName: name}
	}
	return convertGroup(info), nil
}

func (b *Bridge) convertFriendRequest(ctx context.Context, req *icqq.Request) (*philia.UserRequest, error) {
	user, err := b.lookupUser(ctx, req.UserID, req.Nickname)
	if err != nil {
		return nil, err
	}
	return &philia.UserRequest{
		EventHeader: philia.EventHeader{
			ID:    MakeRequestID(RequestKindFriend, req.Flag),
			Type:  philia.EventRequest,
			Time:  unixTime(req.Time),
			Scene: philia.Scene("user_" + req.SubType),
			Raw:   rawJSON(req),
		},
		User:   *user,
		State:  philia.RequestPending,
		Reason: req.Comment,
	}, nil
}

func (b *Bridge) convertGroupRequest(ctx context.Context, req *icqq.Request) (*philia.GroupRequest, error) {
	user, err := b.lookupUser(ctx, req.UserID, req.Nickname)
	if err != nil {
		return nil, err
	}
	group, err := b.lookupGroup(ctx, req.GroupID, req.GroupName)
	if err != nil {
		return nil, err
	}
	evt := &philia.GroupRequest{
		EventHeader: philia.EventHeader{
			ID:    MakeRequestID(RequestKindGroup, req.Flag),
			Type:  philia.EventRequest,
			Time:  unixTime(req.Time),
			Scene: philia.Scene("group_" + req.SubType),
			Raw:   rawJSON(req),
		},
		User:  *user,
		Group: *group,
		State: philia.RequestPending,
	}
	if req.SubType == icqq.RequestSubAdd {
		evt.Reason = req.Comment
		if req.InviterID != 0 {
			// Someone invited the applicant: the applicant is the target and
			// the inviter is the acting user.
			inviter, err := b.lookupUser(ctx, req.InviterID, "")
			if err != nil {
				return nil, err
			}
			evt.Target = user
			evt.User = *inviter
		}
	}
	return evt, nil
}

func (b *Bridge) handlePrivateMessage(ctx context.Context, msg *icqq.Message) error {
	b.Endpoint.Handle(ctx, b.convertPrivateMessage(ctx, msg))
	return nil
}

func (b *Bridge) handleGroupMessage(ctx context.Context, msg *icqq.Message) error {
	evt, err := b.convertGroupMessage(ctx, msg)
	if err != nil {
		return err
	}
	b.Endpoint.Handle(ctx, evt)
	return nil
}

func (b *Bridge) handleFriendRequest(ctx context.Context, req *icqq.Request) error {
	evt, err := b.convertFriendRequest(ctx, req)
	if err != nil {
		return err
	}
	b.Endpoint.Handle(ctx, evt)
	return nil
}

func (b *Bridge) handleGroupRequest(ctx context.Context, req *icqq.Request) error {
	evt, err := b.convertGroupRequest(ctx, req)
	if err != nil {
		return err
	}
	b.Endpoint.Handle(ctx, evt)
	return nil
}
